package domain

import (
	"context"
	"testing"
)

func TestContactsUnknownTaskType(t *testing.T) {
	d := NewContactsDomain(nil)
	result := d.ExecuteTask(context.Background(), "contacts_delete", nil)
	if result.Success {
		t.Fatalf("expected failure for unhandled task type")
	}
}

func TestContactsPolicyDeniesCapability(t *testing.T) {
	d := NewContactsDomain(denyAllPolicy{})
	result := d.ExecuteTask(context.Background(), "contacts_find", map[string]any{"name": "Ada"})
	if result.Success {
		t.Fatalf("expected policy denial to fail the task")
	}
}
