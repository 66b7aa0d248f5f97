package domain

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestTranslationTranslateCallsOllama(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"response": "Hallo Welt"}`))
	}))
	defer srv.Close()

	d := NewTranslationDomain(nil)
	d.baseURL = srv.URL

	result := d.ExecuteTask(context.Background(), "translation_translate", map[string]any{
		"text": "Hello world", "target_language": "German",
	})
	if !result.Success {
		t.Fatalf("expected success, got error=%q", result.Error)
	}
	if v, _ := result.Get("translation"); v != "Hallo Welt" {
		t.Fatalf("translation = %v, want %q", v, "Hallo Welt")
	}
	if v, _ := result.Get("target_language"); v != "German" {
		t.Fatalf("target_language = %v", v)
	}
}

func TestTranslationRequiresText(t *testing.T) {
	d := NewTranslationDomain(nil)
	result := d.ExecuteTask(context.Background(), "translation_translate", map[string]any{"text": ""})
	if result.Success {
		t.Fatalf("expected failure for empty text")
	}
}

func TestTranslationDefaultsTargetLanguage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"response": "hi"}`))
	}))
	defer srv.Close()

	d := NewTranslationDomain(nil)
	d.baseURL = srv.URL
	result := d.ExecuteTask(context.Background(), "translation_translate", map[string]any{"text": "hi"})
	if !result.Success {
		t.Fatalf("expected success, got %q", result.Error)
	}
	if v, _ := result.Get("target_language"); v != "English" {
		t.Fatalf("target_language = %v, want English", v)
	}
}

func TestTranslationUpstreamUnreachable(t *testing.T) {
	d := NewTranslationDomain(nil)
	d.baseURL = "http://127.0.0.1:1" // nothing listens here
	result := d.ExecuteTask(context.Background(), "translation_translate", map[string]any{"text": "hi"})
	if result.Success {
		t.Fatalf("expected failure when Ollama is unreachable")
	}
}

func TestTranslationPolicyDeniesCapability(t *testing.T) {
	d := NewTranslationDomain(denyAllPolicy{})
	result := d.ExecuteTask(context.Background(), "translation_translate", map[string]any{"text": "hi"})
	if result.Success {
		t.Fatalf("expected policy denial to fail the task")
	}
}

func TestTranslationUnknownTaskType(t *testing.T) {
	d := NewTranslationDomain(nil)
	result := d.ExecuteTask(context.Background(), "translation_detect", nil)
	if result.Success {
		t.Fatalf("expected failure for unhandled task type")
	}
}
