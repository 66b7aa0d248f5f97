package domain

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// NotesDomain keeps short free-text notes in memory for the life of the
// process. Like everything else in the daemon, notes do not survive a
// restart — there is no durable task queue and no persisted note store;
// this mirrors the in-flight-state-dies-with-the-daemon non-goal.
type NotesDomain struct {
	mu    sync.Mutex
	notes map[string]noteEntry
}

type noteEntry struct {
	Text      string
	CreatedAt time.Time
}

func NewNotesDomain() *NotesDomain {
	return &NotesDomain{notes: make(map[string]noteEntry)}
}

func (d *NotesDomain) ID() string { return "notes" }

func (d *NotesDomain) TaskTypes() []string {
	return []string{"notes_add", "notes_list"}
}

func (d *NotesDomain) DisplayConfigs() map[string]DisplayConfig {
	return map[string]DisplayConfig{
		"notes_add":  {CardType: "notes", Icon: "sticky-note", TitleTemplate: "Add note", Color: "#f59f00"},
		"notes_list": {CardType: "notes", Icon: "list", TitleTemplate: "List notes", Color: "#f59f00"},
	}
}

func (d *NotesDomain) ExecuteTask(ctx context.Context, taskType string, taskData map[string]any) TaskResult {
	switch taskType {
	case "notes_add":
		text, _ := taskData["text"].(string)
		if text == "" {
			return Fail("notes_add requires a non-empty \"text\" field")
		}
		id := uuid.NewString()
		d.mu.Lock()
		d.notes[id] = noteEntry{Text: text, CreatedAt: time.Now()}
		d.mu.Unlock()
		return Ok(map[string]any{"id": id, "text": text})

	case "notes_list":
		d.mu.Lock()
		out := make([]map[string]any, 0, len(d.notes))
		for id, n := range d.notes {
			out = append(out, map[string]any{"id": id, "text": n.Text, "created_at": n.CreatedAt.UTC().Format(time.RFC3339)})
		}
		d.mu.Unlock()
		return Ok(map[string]any{"notes": out})

	default:
		return Fail(fmt.Sprintf("notes domain does not handle %s", taskType))
	}
}
