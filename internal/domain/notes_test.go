package domain

import (
	"context"
	"testing"
)

func TestNotesAddThenList(t *testing.T) {
	d := NewNotesDomain()
	ctx := context.Background()

	addResult := d.ExecuteTask(ctx, "notes_add", map[string]any{"text": "buy milk"})
	if !addResult.Success {
		t.Fatalf("expected success, got %q", addResult.Error)
	}
	id, _ := addResult.Get("id")
	if id == "" || id == nil {
		t.Fatalf("expected generated note id")
	}

	listResult := d.ExecuteTask(ctx, "notes_list", nil)
	if !listResult.Success {
		t.Fatalf("expected success, got %q", listResult.Error)
	}
	notes, _ := listResult.Get("notes")
	list, ok := notes.([]map[string]any)
	if !ok || len(list) != 1 {
		t.Fatalf("expected exactly one note, got %v", notes)
	}
	if list[0]["text"] != "buy milk" {
		t.Fatalf("unexpected note text: %v", list[0])
	}
}

func TestNotesAddRequiresText(t *testing.T) {
	d := NewNotesDomain()
	result := d.ExecuteTask(context.Background(), "notes_add", map[string]any{"text": ""})
	if result.Success {
		t.Fatalf("expected failure for empty text")
	}
}

func TestNotesUnknownTaskType(t *testing.T) {
	d := NewNotesDomain()
	result := d.ExecuteTask(context.Background(), "notes_delete", nil)
	if result.Success {
		t.Fatalf("expected failure for unhandled task type")
	}
}
