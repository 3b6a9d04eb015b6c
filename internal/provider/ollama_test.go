package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestOllamaCompleter_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			t.Errorf("expected path /api/generate, got %s", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}

		var req ollamaCompletionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("failed to decode request: %v", err)
		}
		if req.Model != "codellama" {
			t.Errorf("expected model codellama, got %s", req.Model)
		}
		if req.System != "return only code" {
			t.Errorf("unexpected system prompt %q", req.System)
		}
		if req.Stream {
			t.Error("expected stream=false")
		}
		if req.Options.Temperature != 0.7 || req.Options.NumPredict != 2000 {
			t.Errorf("unexpected options %+v", req.Options)
		}

		json.NewEncoder(w).Encode(ollamaCompletionResponse{Response: "def f():\n    return 1\n"})
	}))
	defer srv.Close()

	c := NewOllamaCompleter(srv.URL+"/", "codellama")
	got, err := c.Complete(context.Background(), Request{
		System:      "return only code",
		Prompt:      "fix it",
		Temperature: 0.7,
		MaxTokens:   2000,
	})
	if err != nil {
		t.Fatalf("Complete returned error: %v", err)
	}
	if got != "def f():\n    return 1\n" {
		t.Errorf("unexpected completion %q", got)
	}
}

func TestOllamaCompleter_Defaults(t *testing.T) {
	c := NewOllamaCompleter("", "")
	if c.url != defaultOllamaURL {
		t.Errorf("expected default url, got %s", c.url)
	}
	if c.model != defaultOllamaModel {
		t.Errorf("expected default model, got %s", c.model)
	}
}

func TestOllamaCompleter_StatusMapping(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusTooManyRequests, ErrRateLimit},
		{http.StatusRequestTimeout, ErrTimeout},
		{http.StatusGatewayTimeout, ErrTimeout},
	}
	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
		}))
		c := NewOllamaCompleter(srv.URL, "m")
		_, err := c.Complete(context.Background(), Request{Prompt: "x"})
		srv.Close()
		if !errors.Is(err, tt.want) {
			t.Errorf("status %d: expected %v, got %v", tt.status, tt.want, err)
		}
	}
}

func TestOllamaCompleter_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("model not loaded"))
	}))
	defer srv.Close()

	c := NewOllamaCompleter(srv.URL, "m")
	_, err := c.Complete(context.Background(), Request{Prompt: "x"})
	if err == nil {
		t.Fatal("expected error for 500 response")
	}
	if errors.Is(err, ErrRateLimit) || errors.Is(err, ErrTimeout) {
		t.Errorf("500 should not map to a sentinel: %v", err)
	}
}

func TestOllamaCompleter_InvalidJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer srv.Close()

	c := NewOllamaCompleter(srv.URL, "m")
	_, err := c.Complete(context.Background(), Request{Prompt: "x"})
	if !errors.Is(err, ErrInvalidResponse) {
		t.Errorf("expected ErrInvalidResponse, got %v", err)
	}
}

func TestOllamaCompleter_ErrorField(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ollamaCompletionResponse{Error: "context length exceeded"})
	}))
	defer srv.Close()

	c := NewOllamaCompleter(srv.URL, "m")
	if _, err := c.Complete(context.Background(), Request{Prompt: "x"}); err == nil {
		t.Fatal("expected error from error field")
	}
}

func TestOllamaCompleter_ContextDeadline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	c := NewOllamaCompleter(srv.URL, "m")
	_, err := c.Complete(ctx, Request{Prompt: "x"})
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("expected ErrTimeout, got %v", err)
	}
}
