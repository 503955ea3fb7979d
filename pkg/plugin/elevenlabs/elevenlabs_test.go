package elevenlabs

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/matryer/is"

	"github.com/chriscow/french-tutor-agent/pkg/ai"
	"github.com/chriscow/french-tutor-agent/pkg/ai/tts"
)

func newTestTTS(t *testing.T, h http.HandlerFunc) *TTS {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	e, err := New(Options{APIKey: "xi-test", BaseURL: srv.URL})
	if err != nil {
		t.Fatal(err)
	}
	e.retry = ai.RetryConfig{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, BackoffFactor: 2}
	return e
}

func TestSynthesizeStreamsPCM(t *testing.T) {
	is := is.New(t)
	var got synthesisRequest
	e := newTestTTS(t, func(w http.ResponseWriter, r *http.Request) {
		is.Equal(r.Method, http.MethodPost)
		is.Equal(r.URL.Path, "/v1/text-to-speech/"+DefaultVoice+"/stream")
		is.Equal(r.URL.Query().Get("output_format"), "pcm_24000")
		is.Equal(r.Header.Get("xi-api-key"), "xi-test")
		is.NoErr(json.NewDecoder(r.Body).Decode(&got))
		w.Write(make([]byte, SampleRate/100*2*3)) // three frames
	})

	frames, err := e.Synthesize(context.Background(), tts.SynthesizeRequest{Text: "Bonjour !"})
	is.NoErr(err)
	var n int
	for f := range frames {
		is.Equal(f.SampleRate, SampleRate)
		n++
	}
	is.Equal(n, 3)
	is.Equal(got.Text, "Bonjour !")
	is.Equal(got.ModelID, DefaultModel)
}

func TestSynthesizeRetriesServerErrors(t *testing.T) {
	is := is.New(t)
	var calls atomic.Int32
	e := newTestTTS(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		w.Write(make([]byte, SampleRate/100*2))
	})

	frames, err := e.Synthesize(context.Background(), tts.SynthesizeRequest{Text: "Salut"})
	is.NoErr(err)
	for range frames {
	}
	is.Equal(calls.Load(), int32(2))
}

func TestSynthesizeAuthErrorIsFatal(t *testing.T) {
	is := is.New(t)
	var calls atomic.Int32
	e := newTestTTS(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, `{"detail":"invalid key"}`, http.StatusUnauthorized)
	})

	_, err := e.Synthesize(context.Background(), tts.SynthesizeRequest{Text: "Salut"})
	is.True(ai.IsFatal(err))
	is.Equal(calls.Load(), int32(1))
}

func TestNewRequiresKey(t *testing.T) {
	is := is.New(t)
	_, err := New(Options{APIKey: " "})
	is.True(ai.IsFatal(err))
}

func TestEmptyTextIsFatal(t *testing.T) {
	is := is.New(t)
	e, err := New(Options{APIKey: "k"})
	is.NoErr(err)
	_, err = e.Synthesize(context.Background(), tts.SynthesizeRequest{})
	is.True(ai.IsFatal(err))
}
