package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sashabaranov/go-openai"
)

type capturedRequest struct {
	Model     string `json:"model"`
	MaxTokens int    `json:"max_tokens"`
	Messages  []struct {
		Role    string `json:"role"`
		Content []struct {
			Type     string `json:"type"`
			Text     string `json:"text"`
			ImageURL *struct {
				URL string `json:"url"`
			} `json:"image_url"`
		} `json:"content"`
	} `json:"messages"`
}

func newBackend(t *testing.T, status int, body string, got *capturedRequest, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls != nil {
			calls.Add(1)
		}
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("authorization = %q", auth)
		}
		if got != nil {
			if err := json.NewDecoder(r.Body).Decode(got); err != nil {
				t.Errorf("decode request: %v", err)
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestAnalyzeSendsTextAndImages(t *testing.T) {
	var req capturedRequest
	srv := newBackend(t, http.StatusOK, `{
		"id": "chatcmpl-1",
		"object": "chat.completion",
		"model": "gpt-4o",
		"choices": [{"index": 0, "message": {"role": "assistant", "content": "  Dust on the shelf.  "}, "finish_reason": "stop"}],
		"usage": {"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15}
	}`, &req, nil)

	gw := New(Options{APIKey: "test-key", BaseURL: srv.URL + "/v1/", MaxTokens: 321})
	verdict, err := gw.Analyze(context.Background(), "Location: Location 1", []string{"https://img/1", "https://img/2"})
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if verdict != "Dust on the shelf." {
		t.Fatalf("verdict = %q", verdict)
	}
	if req.Model != DefaultModel || req.MaxTokens != 321 {
		t.Fatalf("model/max tokens = %q/%d", req.Model, req.MaxTokens)
	}
	if len(req.Messages) != 1 || req.Messages[0].Role != openai.ChatMessageRoleUser {
		t.Fatalf("messages = %+v", req.Messages)
	}
	parts := req.Messages[0].Content
	if len(parts) != 3 {
		t.Fatalf("parts = %d, want 3", len(parts))
	}
	if parts[0].Type != "text" || parts[0].Text != "Location: Location 1" {
		t.Fatalf("text part = %+v", parts[0])
	}
	for i, want := range []string{"https://img/1", "https://img/2"} {
		p := parts[i+1]
		if p.Type != "image_url" || p.ImageURL == nil || p.ImageURL.URL != want {
			t.Fatalf("image part %d = %+v", i, p)
		}
	}
}

func TestAnalyzeEmptyChoices(t *testing.T) {
	srv := newBackend(t, http.StatusOK, `{"id":"x","object":"chat.completion","choices":[]}`, nil, nil)
	gw := New(Options{APIKey: "test-key", BaseURL: srv.URL + "/v1"})
	if _, err := gw.Analyze(context.Background(), "r", nil); !errors.Is(err, ErrNoResult) {
		t.Fatalf("expected ErrNoResult, got %v", err)
	}
}

func TestAnalyzeBackendErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := newBackend(t, http.StatusInternalServerError,
		`{"error":{"message":"boom","type":"server_error"}}`, nil, &calls)
	gw := New(Options{APIKey: "test-key", BaseURL: srv.URL + "/v1"})
	_, err := gw.Analyze(context.Background(), "r", nil)
	if err == nil {
		t.Fatal("expected error")
	}
	var apiErr *openai.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected wrapped APIError, got %T %v", err, err)
	}
	if calls.Load() != 1 {
		t.Fatalf("backend called %d times, want 1", calls.Load())
	}
}

func TestAnalyzeTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	t.Cleanup(srv.Close)

	gw := New(Options{APIKey: "test-key", BaseURL: srv.URL + "/v1", Timeout: 50 * time.Millisecond})
	if _, err := gw.Analyze(context.Background(), "r", nil); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestBuildRequestWithoutPhotos(t *testing.T) {
	req := BuildRequest("m", 10, "text", nil)
	if len(req.Messages) != 1 || len(req.Messages[0].MultiContent) != 1 {
		t.Fatalf("unexpected request: %+v", req)
	}
	if req.Messages[0].Content != "" {
		t.Fatal("plain content must stay empty when multi content is used")
	}
}
