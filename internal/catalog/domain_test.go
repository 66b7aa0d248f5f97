package catalog

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestManifestDomain_ExecuteTask_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req manifestRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.TaskType != "echo.say" {
			t.Errorf("unexpected task_type forwarded: %s", req.TaskType)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"success": true, "text": req.TaskData["text"]})
	}))
	defer srv.Close()

	m := Manifest{DomainID: "echo", TaskTypes: []string{"echo.say"}, Endpoint: srv.URL}
	d := NewManifestDomain(m, time.Second)

	result := d.ExecuteTask(context.Background(), "echo.say", map[string]any{"text": "hi"})
	if !result.Success {
		t.Fatalf("expected success, got error: %s", result.Error)
	}
	if v, _ := result.Get("text"); v != "hi" {
		t.Fatalf("expected echoed text field, got: %v", v)
	}
}

func TestManifestDomain_ExecuteTask_EndpointReportsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"success": false, "error": "boom"})
	}))
	defer srv.Close()

	d := NewManifestDomain(Manifest{DomainID: "echo", Endpoint: srv.URL}, time.Second)
	result := d.ExecuteTask(context.Background(), "echo.say", nil)
	if result.Success || result.Error != "boom" {
		t.Fatalf("expected failure with message %q, got success=%v error=%q", "boom", result.Success, result.Error)
	}
}

func TestManifestDomain_ExecuteTask_UnreachableEndpoint(t *testing.T) {
	d := NewManifestDomain(Manifest{DomainID: "echo", Endpoint: "http://127.0.0.1:1"}, 50*time.Millisecond)
	result := d.ExecuteTask(context.Background(), "echo.say", nil)
	if result.Success {
		t.Fatal("expected failure for unreachable endpoint")
	}
}

func TestManifestDomain_DisplayConfigs(t *testing.T) {
	m := Manifest{
		DomainID: "echo",
		Display: map[string]ManifestDisplay{
			"echo.say": {CardType: "text", Icon: "bolt", TitleTemplate: "{{text}}", Color: "#fff"},
		},
	}
	d := NewManifestDomain(m, time.Second)
	cfgs := d.DisplayConfigs()
	cfg, ok := cfgs["echo.say"]
	if !ok || cfg.CardType != "text" || cfg.Color != "#fff" {
		t.Fatalf("expected display config to round-trip, got %+v", cfgs)
	}
}
