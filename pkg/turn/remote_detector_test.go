package turn

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/chriscow/french-tutor-agent/pkg/ai/llm"
	"github.com/matryer/is"
)

func TestRemoteDetectorPredict(t *testing.T) {
	is := is.New(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.Header.Get("Content-Type") != "application/json" {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		var req RemoteRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Messages) != 2 || req.Language != "fr" {
			http.Error(w, "unexpected body", http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(RemoteResponse{Probability: 0.92})
	}))
	defer server.Close()

	d := NewRemoteDetector(server.URL, nil)
	prob, err := d.PredictEndOfTurn(context.Background(), ChatContext{
		Messages: []llm.Message{
			{Role: llm.RoleAssistant, Content: "Salut!"},
			{Role: llm.RoleUser, Content: "Bonjour"},
		},
		Language: "fr",
	})
	is.NoErr(err)
	is.Equal(prob, 0.92)

	th, err := d.UnlikelyThreshold("fr")
	is.NoErr(err)
	is.Equal(th, DefaultUnlikelyThreshold) // no fallback to ask
}

func TestRemoteDetectorFallsBack(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{name: "server error", handler: func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "boom", http.StatusInternalServerError)
		}},
		{name: "remote error", handler: func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(RemoteResponse{Error: "model not loaded"})
		}},
		{name: "out of range", handler: func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(RemoteResponse{Probability: 1.5})
		}},
		{name: "garbage", handler: func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("not json"))
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			is := is.New(t)
			server := httptest.NewServer(tt.handler)
			defer server.Close()

			fallback := &stubDetector{probability: 0.75, threshold: 0.2, supported: true}
			d := NewRemoteDetector(server.URL, fallback)

			prob, err := d.PredictEndOfTurn(context.Background(), ChatContext{})
			is.NoErr(err)
			is.Equal(prob, 0.75)        // answered locally
			is.Equal(fallback.calls, 1) // exactly one fallback call
		})
	}
}

func TestRemoteDetectorNoFallback(t *testing.T) {
	is := is.New(t)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	_, err := NewRemoteDetector(server.URL, nil).PredictEndOfTurn(context.Background(), ChatContext{})
	is.True(err != nil)
}
