package google

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Corphon/ManimStudio/internal/llm"
)

func TestInitializeRequiresKey(t *testing.T) {
	p := &Provider{}
	if err := p.Initialize(map[string]string{}); err == nil {
		t.Fatal("expected error without api_key")
	}
}

func TestCompleteTextUninitialized(t *testing.T) {
	p := &Provider{}
	if _, err := p.CompleteText(context.Background(), llm.CompletionRequest{Prompt: "x"}); err == nil {
		t.Fatal("expected error from uninitialized provider")
	}
}

func TestCompleteText(t *testing.T) {
	var path string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"candidates": [{"content": {"role": "model", "parts": [{"text": "from manim import *\n"}]}, "finishReason": "STOP"}],
			"usageMetadata": {"promptTokenCount": 7, "candidatesTokenCount": 3, "totalTokenCount": 10}
		}`))
	}))
	defer server.Close()

	p := &Provider{}
	if err := p.Initialize(map[string]string{"api_key": "k", "base_url": server.URL + "/"}); err != nil {
		t.Fatalf("Initialize err=%v", err)
	}

	resp, err := p.CompleteText(context.Background(), llm.CompletionRequest{Prompt: "draw a square", Temperature: 0.2})
	if err != nil {
		t.Fatalf("CompleteText err=%v", err)
	}
	if resp.Text != "from manim import *\n" {
		t.Fatalf("unexpected text %q", resp.Text)
	}
	if resp.TokensUsed != 10 || resp.ModelName != defaultModel {
		t.Fatalf("unexpected response %+v", resp)
	}
	if !strings.Contains(path, defaultModel+":generateContent") {
		t.Fatalf("unexpected request path %q", path)
	}
}

func TestInitializeRejectsBadTimeout(t *testing.T) {
	for _, raw := range []string{"soon", "0s", "-5s"} {
		p := &Provider{}
		if err := p.Initialize(map[string]string{"api_key": "k", "timeout": raw}); err == nil {
			t.Fatalf("timeout %q should be rejected", raw)
		}
	}
}

func TestCompleteTextTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"candidates": [{"content": {"role": "model", "parts": [{"text": "late"}]}}]}`))
	}))
	defer server.Close()

	p := &Provider{}
	if err := p.Initialize(map[string]string{"api_key": "k", "base_url": server.URL + "/", "timeout": "50ms"}); err != nil {
		t.Fatalf("Initialize err=%v", err)
	}

	start := time.Now()
	if _, err := p.CompleteText(context.Background(), llm.CompletionRequest{Prompt: "draw a square"}); err == nil {
		t.Fatal("expected timeout error")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("request was not cut short, took %v", elapsed)
	}
}
