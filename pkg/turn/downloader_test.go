package turn

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/chriscow/french-tutor-agent/pkg/turn/internal"
	"github.com/matryer/is"
)

func TestDownloaderFetchesAndSkips(t *testing.T) {
	is := is.New(t)

	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if !strings.HasPrefix(r.URL.Path, "/livekit/turn-detector/resolve/v0.3.0-intl/") {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte("content of " + r.URL.Path))
	}))
	defer server.Close()

	dir := t.TempDir()
	d := NewDownloader(dir).WithBaseURL(server.URL)

	is.NoErr(d.DownloadModel(context.Background(), "multilingual"))
	is.Equal(int(hits.Load()), len(internal.MultilingualModel.Files))

	data, err := os.ReadFile(internal.GetModelFilePath(dir, "v0.3.0-intl", "languages.json"))
	is.NoErr(err)
	is.True(strings.HasSuffix(string(data), "/languages.json"))

	is.NoErr(d.DownloadModel(context.Background(), "multilingual"))
	is.Equal(int(hits.Load()), len(internal.MultilingualModel.Files)) // second run downloads nothing

	status := d.Status()
	is.True(status["multilingual"])
	is.True(!status["english"])
}

func TestDownloaderRejectsHashMismatch(t *testing.T) {
	is := is.New(t)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("tampered"))
	}))
	defer server.Close()

	dir := t.TempDir()
	err := NewDownloader(dir).WithBaseURL(server.URL).DownloadModel(context.Background(), "english")
	is.True(err != nil)
	is.True(strings.Contains(err.Error(), "sha256 mismatch"))

	_, statErr := os.Stat(internal.GetModelFilePath(dir, "v1.2.2-en", "onnx/model_q8.onnx"))
	is.True(os.IsNotExist(statErr)) // nothing left behind
}

func TestDownloaderUnknownModel(t *testing.T) {
	is := is.New(t)
	err := NewDownloader(t.TempDir()).DownloadModel(context.Background(), "nope")
	is.True(err != nil)
}
