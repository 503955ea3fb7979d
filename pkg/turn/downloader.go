package turn

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/chriscow/french-tutor-agent/pkg/turn/internal"
)

// HuggingFaceURL is the default file host.
const HuggingFaceURL = "https://huggingface.co"

// Downloader fetches model revisions into a local model directory.
type Downloader struct {
	modelPath string
	baseURL   string
	client    *http.Client
	logger    *slog.Logger
}

// NewDownloader creates a downloader; an empty modelPath uses DefaultModelPath.
func NewDownloader(modelPath string) *Downloader {
	if modelPath == "" {
		modelPath = DefaultModelPath()
	}
	return &Downloader{
		modelPath: modelPath,
		baseURL:   HuggingFaceURL,
		client:    &http.Client{},
		logger:    slog.Default().With("component", "turn.downloader"),
	}
}

// WithBaseURL points the downloader at a mirror.
func (d *Downloader) WithBaseURL(u string) *Downloader {
	d.baseURL = u
	return d
}

// DownloadAll downloads every known model.
func (d *Downloader) DownloadAll(ctx context.Context) error {
	for _, model := range internal.AllModels {
		if err := d.DownloadModel(ctx, model.Name); err != nil {
			return err
		}
	}
	return nil
}

// DownloadModel downloads the files of one model, skipping valid ones.
func (d *Downloader) DownloadModel(ctx context.Context, name string) error {
	model, ok := internal.Lookup(name)
	if !ok {
		return fmt.Errorf("turn: unknown model %q", name)
	}

	for _, file := range model.Files {
		dst := internal.GetModelFilePath(d.modelPath, model.Revision, file)
		if d.valid(model.Revision, file, dst) {
			d.logger.Debug("model file up to date", "file", file, "revision", model.Revision)
			continue
		}

		d.logger.Info("downloading model file", "file", file, "revision", model.Revision)
		if err := d.fetch(ctx, model, file, dst); err != nil {
			return fmt.Errorf("turn: download %s/%s: %w", model.Name, file, err)
		}
	}
	d.logger.Info("model ready", "model", model.Name, "path", internal.GetModelPath(d.modelPath, model.Revision))
	return nil
}

// Status reports, per model name, whether all files are present and valid.
func (d *Downloader) Status() map[string]bool {
	status := make(map[string]bool, len(internal.AllModels))
	for _, model := range internal.AllModels {
		complete := true
		for _, file := range model.Files {
			if !d.valid(model.Revision, file, internal.GetModelFilePath(d.modelPath, model.Revision, file)) {
				complete = false
				break
			}
		}
		status[model.Name] = complete
	}
	return status
}

// fetch writes to a temp file and renames it into place once the hash checks out.
func (d *Downloader) fetch(ctx context.Context, model internal.ModelInfo, file, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}

	url := fmt.Sprintf("%s/%s/resolve/%s/%s", d.baseURL, model.Repo, model.Revision, file)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP %s", resp.Status)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".download-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	h := sha256.New()
	if _, err := io.Copy(io.MultiWriter(tmp, h), resp.Body); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if want := internal.Hash(model.Revision, file); want != "" {
		if got := hex.EncodeToString(h.Sum(nil)); got != want {
			return fmt.Errorf("sha256 mismatch: got %s, want %s", got, want)
		}
	}
	return os.Rename(tmp.Name(), dst)
}

func (d *Downloader) valid(revision, file, path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.Size() == 0 {
		return false
	}
	want := internal.Hash(revision, file)
	if want == "" {
		return true
	}
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return false
	}
	return hex.EncodeToString(h.Sum(nil)) == want
}
