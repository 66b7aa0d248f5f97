// Package domain implements the task dispatch registry: a pluggable
// polymorphic index from task_type strings to the Domain instance that
// owns them.
package domain

import (
	"context"
	"encoding/json"
)

// TaskResult is the opaque outcome of executing a task. Callers rely only
// on Success and on whatever domain-specific fields downstream pipeline
// nodes reference by name.
type TaskResult struct {
	Success bool           `json:"success"`
	Error   string         `json:"error,omitempty"`
	Fields  map[string]any `json:"-"`
}

// MarshalJSON flattens Fields alongside success/error so that a TaskResult
// serializes as a single JSON object, matching the "opaque mapping"
// contract clients observe.
func (r TaskResult) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r.Fields)+2)
	for k, v := range r.Fields {
		out[k] = v
	}
	out["success"] = r.Success
	if r.Error != "" {
		out["error"] = r.Error
	}
	return json.Marshal(out)
}

// Get looks up a field by name, matching the "any key in a domain's
// returned TaskResult mapping" addressing scheme used by the template
// resolver.
func (r TaskResult) Get(field string) (any, bool) {
	if r.Fields == nil {
		return nil, false
	}
	v, ok := r.Fields[field]
	return v, ok
}

// Ok builds a successful result from a field map.
func Ok(fields map[string]any) TaskResult {
	return TaskResult{Success: true, Fields: fields}
}

// Fail builds a failed result carrying an error message.
func Fail(err string) TaskResult {
	return TaskResult{Success: false, Error: err}
}

// ProgressFunc reports incremental progress for a long-running task. The
// payload is domain-specific and forwarded verbatim to the client.
type ProgressFunc func(payload map[string]any)

// DisplayConfig is UI metadata describing how a task_type should be
// rendered by a client, keyed by domain-declared card type.
type DisplayConfig struct {
	CardType      string `json:"card_type"`
	Icon          string `json:"icon"`
	TitleTemplate string `json:"title_template"`
	Color         string `json:"color"`
}

// Domain is the capability set every task plugin must satisfy: stable
// identity, a disjoint claim over a set of task_types, the dispatch
// operations, and the optional lifecycle hooks.
type Domain interface {
	ID() string
	TaskTypes() []string
	DisplayConfigs() map[string]DisplayConfig
	ExecuteTask(ctx context.Context, taskType string, taskData map[string]any) TaskResult
}

// ProgressCapable is implemented by domains that can stream progress for
// at least some of their task types. Domains that don't implement it fall
// through to plain ExecuteTask and emit no progress, per the dispatch
// contract.
type ProgressCapable interface {
	ExecuteTaskWithProgress(ctx context.Context, taskType string, taskData map[string]any, onProgress ProgressFunc) TaskResult
}

// Initializer is implemented by domains needing startup-time setup. A
// failure here is logged but non-fatal: the rest of the registry stays
// usable.
type Initializer interface {
	Initialize(ctx context.Context) error
}

// Disposer is implemented by domains holding resources that must be
// released at shutdown.
type Disposer interface {
	Dispose(ctx context.Context) error
}
