package persistence_test

import (
	"context"
	"testing"
	"time"

	"github.com/opencli/daemon/internal/persistence"
	"github.com/opencli/daemon/internal/pipeline"
)

func TestPipelines_CreateGetListDelete(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	row := persistence.PipelineRow{
		ID:          "pipe-1",
		Name:        "Test Pipeline",
		Description: "a small diamond",
		Nodes: []pipeline.Node{
			{ID: "A", Type: "calculator_eval", Params: map[string]any{"expression": "2+2"}},
		},
		Edges:     []pipeline.Edge{},
		CreatedAt: now,
		UpdatedAt: now,
	}

	if _, err := store.CreatePipeline(ctx, row); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := store.GetPipeline(ctx, "pipe-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != "Test Pipeline" || len(got.Nodes) != 1 {
		t.Fatalf("unexpected row: %+v", got)
	}

	row.Name = "Renamed Pipeline"
	if _, err := store.CreatePipeline(ctx, row); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	got, err = store.GetPipeline(ctx, "pipe-1")
	if err != nil {
		t.Fatalf("get after upsert: %v", err)
	}
	if got.Name != "Renamed Pipeline" {
		t.Fatalf("expected upsert to rename, got %q", got.Name)
	}

	list, err := store.ListPipelines(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 pipeline, got %d", len(list))
	}

	if err := store.DeletePipeline(ctx, "pipe-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.GetPipeline(ctx, "pipe-1"); err != persistence.ErrNotFound {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestPipelines_GetMissingReturnsNotFound(t *testing.T) {
	store := openTestStore(t)
	if _, err := store.GetPipeline(context.Background(), "nonexistent"); err != persistence.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPipelines_DeleteMissingReturnsNotFound(t *testing.T) {
	store := openTestStore(t)
	if err := store.DeletePipeline(context.Background(), "nonexistent"); err != persistence.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
