package silero

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
)

// Downloader fetches the Silero model file.
type Downloader struct {
	URL    string
	Path   string
	client *http.Client
}

// NewDownloader returns a downloader for path; empty uses DefaultModelPath.
func NewDownloader(path string) *Downloader {
	if path == "" {
		path = DefaultModelPath()
	}
	return &Downloader{URL: ModelURL, Path: path, client: &http.Client{}}
}

// Download fetches the model unless a non-empty file is already in place.
func (d *Downloader) Download(ctx context.Context) error {
	if info, err := os.Stat(d.Path); err == nil && info.Size() > 0 {
		slog.Debug("Silero VAD model present", slog.String("model_path", d.Path))
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(d.Path), 0o755); err != nil {
		return fmt.Errorf("silero: create model directory: %w", err)
	}

	slog.Info("Downloading Silero VAD model", slog.String("url", d.URL), slog.String("model_path", d.Path))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.URL, nil)
	if err != nil {
		return err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("silero: download: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("silero: download: HTTP %s", resp.Status)
	}

	tmp, err := os.CreateTemp(filepath.Dir(d.Path), ".silero-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		return fmt.Errorf("silero: download: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), d.Path)
}
