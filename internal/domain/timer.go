package domain

import (
	"context"
	"fmt"
	"time"
)

// TimerDomain computes a fire time offset from now. It does not itself
// sleep or schedule anything — the daemon has no durable task queue across
// restarts, so "timer" is a pure calculation task a client polls or
// re-submits, not a background scheduler.
type TimerDomain struct{}

func NewTimerDomain() *TimerDomain { return &TimerDomain{} }

func (d *TimerDomain) ID() string { return "timer" }

func (d *TimerDomain) TaskTypes() []string { return []string{"timer_set"} }

func (d *TimerDomain) DisplayConfigs() map[string]DisplayConfig {
	return map[string]DisplayConfig{
		"timer_set": {CardType: "timer", Icon: "clock", TitleTemplate: "Timer for {{duration_seconds}}s", Color: "#f08c00"},
	}
}

func (d *TimerDomain) ExecuteTask(ctx context.Context, taskType string, taskData map[string]any) TaskResult {
	if taskType != "timer_set" {
		return Fail(fmt.Sprintf("timer domain does not handle %s", taskType))
	}
	seconds := intField(taskData, "duration_seconds", 0)
	if seconds <= 0 {
		return Fail("timer_set requires a positive \"duration_seconds\" field")
	}
	fireAt := time.Now().Add(time.Duration(seconds) * time.Second)
	return Ok(map[string]any{
		"duration_seconds": seconds,
		"fires_at":         fireAt.UTC().Format(time.RFC3339),
	})
}
