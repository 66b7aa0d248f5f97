// Package pipeline implements the DAG execution engine: it validates a
// pipeline definition for acyclicity, executes nodes in topological waves
// with intra-wave parallelism, resolves {{node.field}} / {{params.name}}
// template references between nodes, and propagates skip-on-failure and
// cancellation semantics.
package pipeline

import "time"

// Param declares one overridable pipeline parameter.
type Param struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Default     any    `json:"default"`
	Description string `json:"description,omitempty"`
}

// Node is one task in the DAG. Type is a task_type routed by the domain
// registry. Params values may be literals or template strings containing
// {{source_id.field}} / {{params.name}} references.
type Node struct {
	ID       string         `json:"id"`
	Type     string         `json:"type"`
	Domain   string         `json:"domain,omitempty"`
	Label    string         `json:"label,omitempty"`
	Position map[string]any `json:"position,omitempty"`
	Params   map[string]any `json:"params"`
}

// Edge establishes a dependency: target_node depends on source_node.
// Ports exist for UI layout only and do not gate execution.
type Edge struct {
	ID         string `json:"id"`
	SourceNode string `json:"source_node"`
	SourcePort string `json:"source_port,omitempty"`
	TargetNode string `json:"target_node"`
	TargetPort string `json:"target_port,omitempty"`
}

// Pipeline is the persisted DAG definition.
type Pipeline struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Nodes       []Node    `json:"nodes"`
	Edges       []Edge    `json:"edges"`
	Parameters  []Param   `json:"parameters,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// NodeStatus is one of the five states a node passes through during a run.
type NodeStatus string

const (
	StatusPending   NodeStatus = "pending"
	StatusRunning   NodeStatus = "running"
	StatusCompleted NodeStatus = "completed"
	StatusFailed    NodeStatus = "failed"
	StatusSkipped   NodeStatus = "skipped"
)

// Result is the terminal output of one Run invocation.
type Result struct {
	Success      bool                      `json:"success"`
	Error        string                    `json:"error,omitempty"`
	PipelineID   string                    `json:"pipeline_id"`
	NodeResults  map[string]map[string]any `json:"node_results"`
	NodeStatuses map[string]NodeStatus     `json:"node_statuses"`
	FailedNodes  []string                  `json:"failed_nodes"`
	SkippedNodes []string                  `json:"skipped_nodes"`
	DurationMS   int64                     `json:"duration_ms"`
}

// ProgressEvent is emitted after each node settles during a run.
type ProgressEvent struct {
	PipelineID string     `json:"pipeline_id"`
	NodeID     string     `json:"node_id"`
	NodeStatus NodeStatus `json:"node_status"`
	Progress   float64    `json:"progress"`
}

// ProgressFunc receives one ProgressEvent per settled node.
type ProgressFunc func(ProgressEvent)

// CancelPredicate reports whether a task_id (here, a pipeline run's own
// identity is irrelevant; callers pass a predicate bound to the specific
// run's cancellation flag) should stop the run.
type CancelPredicate func() bool
