package domain

import (
	"context"
	"testing"
)

func TestRemindersUnknownTaskType(t *testing.T) {
	d := NewRemindersDomain(nil)
	result := d.ExecuteTask(context.Background(), "reminders_snooze", nil)
	if result.Success {
		t.Fatalf("expected failure for unhandled task type")
	}
}

func TestRemindersPolicyDeniesCapability(t *testing.T) {
	d := NewRemindersDomain(denyAllPolicy{})
	result := d.ExecuteTask(context.Background(), "reminders_add", map[string]any{"title": "Buy milk"})
	if result.Success {
		t.Fatalf("expected policy denial to fail the task")
	}
}

func TestSplitNonEmptyLines(t *testing.T) {
	got := splitNonEmptyLines("a\n\n  b  \n")
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("unexpected split result: %#v", got)
	}
}
