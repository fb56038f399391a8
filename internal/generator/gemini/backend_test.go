package gemini

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestGenerateUsesKeyQueryAndCleans(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1beta/models/gemini-1.5-flash:generateContent" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.URL.Query().Get("key") != "AIza-test" {
			t.Errorf("key = %q", r.URL.Query().Get("key"))
		}
		_, _ = io.WriteString(w, `{"candidates":[{"content":{"parts":[{"text":"\"Question: What makes rainbows?\""}]}}]}`)
	}))
	defer srv.Close()

	b := NewBackend("AIza-test", Options{BaseURL: srv.URL})
	got, err := b.Generate(context.Background(), "Ask something.")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if got != "What makes rainbows?" {
		t.Fatalf("got %q", got)
	}
}

func TestGenerateRetries(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = io.WriteString(w, `{"candidates":[{"content":{"parts":[{"text":"ok"}]}}]}`)
	}))
	defer srv.Close()

	b := NewBackend("k", Options{BaseURL: srv.URL, RetryCount: 2})
	var slept []time.Duration
	b.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	got, err := b.Generate(context.Background(), "p")
	if err != nil || got != "ok" {
		t.Fatalf("got %q err %v", got, err)
	}
	if calls != 3 || len(slept) != 2 || slept[0] != 5*time.Second {
		t.Fatalf("calls=%d slept=%v", calls, slept)
	}
}

func TestGenerateGivesUpAfterRetries(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		_, _ = io.WriteString(w, `{"candidates":[]}`)
	}))
	defer srv.Close()

	b := NewBackend("k", Options{BaseURL: srv.URL, RetryCount: 1})
	b.sleep = func(context.Context, time.Duration) error { return nil }
	if _, err := b.Generate(context.Background(), "p"); err == nil {
		t.Fatal("expected error")
	}
	if calls != 2 {
		t.Fatalf("calls = %d", calls)
	}
}

func TestClean(t *testing.T) {
	tests := map[string]string{
		`"Hello?"`:             "Hello?",
		"Prompt: tell me more": "tell me more",
		"question：why":         "why",
		"  plain  ":            "plain",
	}
	for in, want := range tests {
		if got := Clean(in); got != want {
			t.Errorf("Clean(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRedactHidesKey(t *testing.T) {
	b := NewBackend("secret-key", Options{BaseURL: "http://127.0.0.1:1", RetryCount: 0})
	_, err := b.Generate(context.Background(), "p")
	if err == nil || strings.Contains(err.Error(), "secret-key") {
		t.Fatalf("err = %v", err)
	}
}
