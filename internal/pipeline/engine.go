package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/opencli/daemon/internal/domain"
)

// Registry is the subset of domain.Registry the engine needs. Defined
// here (rather than depending on the concrete type everywhere) so tests
// can substitute a stub executor.
type Registry interface {
	ExecuteTask(ctx context.Context, taskType string, taskData map[string]any) domain.TaskResult
	ExecuteTaskWithProgress(ctx context.Context, taskType string, taskData map[string]any, onProgress domain.ProgressFunc) domain.TaskResult
}

// RunOptions configures one pipeline run.
type RunOptions struct {
	OverrideParams map[string]any

	// StartFromNode + PreviousResults enable partial re-execution: every
	// ancestor of StartFromNode is pre-populated from PreviousResults
	// (or marked skipped when PreviousResults has no entry for it) and
	// excluded from execution.
	StartFromNode   string
	PreviousResults map[string]map[string]any

	OnProgress ProgressFunc
	Cancelled  CancelPredicate
}

// Engine executes pipelines against a Registry.
type Engine struct {
	registry Registry
}

func NewEngine(registry Registry) *Engine {
	return &Engine{registry: registry}
}

// Run executes the pipeline per §4.D: parameter resolution, graph
// construction, cycle check, skip-set computation, then layered execution
// with intra-wave parallelism and skip-on-upstream-failure propagation.
func (e *Engine) Run(ctx context.Context, p Pipeline, opts RunOptions) Result {
	start := time.Now()

	nodesByID := make(map[string]Node, len(p.Nodes))
	for _, n := range p.Nodes {
		nodesByID[n.ID] = n
	}

	if err := validateEdges(p, nodesByID); err != nil {
		return Result{Success: false, Error: err.Error(), PipelineID: p.ID, NodeResults: map[string]map[string]any{}, NodeStatuses: map[string]NodeStatus{}}
	}

	inDegree, dependents, incoming := buildGraph(p)

	if hasCycle(p, dependents) {
		return Result{
			Success:      false,
			Error:        "Pipeline contains a cycle",
			PipelineID:   p.ID,
			NodeResults:  map[string]map[string]any{},
			NodeStatuses: map[string]NodeStatus{},
		}
	}

	params := mergeParams(p.Parameters, opts.OverrideParams)

	nodeResults := make(map[string]map[string]any)
	statuses := make(map[string]NodeStatus, len(p.Nodes))
	for _, n := range p.Nodes {
		statuses[n.ID] = StatusPending
	}

	skipSet := make(map[string]bool)
	if opts.StartFromNode != "" {
		skipSet = ancestorSet(opts.StartFromNode, incoming)
		for nid := range skipSet {
			if prev, ok := opts.PreviousResults[nid]; ok {
				nodeResults[nid] = prev
				statuses[nid] = StatusCompleted
			} else {
				nodeResults[nid] = map[string]any{"success": true, "skipped": true}
				statuses[nid] = StatusSkipped
			}
			for _, d := range dependents[nid] {
				inDegree[d]--
			}
		}
	}

	total := 0
	for _, n := range p.Nodes {
		if !skipSet[n.ID] {
			total++
		}
	}

	queue := make([]string, 0)
	for _, n := range p.Nodes {
		if !skipSet[n.ID] && inDegree[n.ID] == 0 {
			queue = append(queue, n.ID)
		}
	}

	completed := 0
	cancelled := false

	for len(queue) > 0 {
		currentLevel := queue
		queue = nil

		if opts.Cancelled != nil && opts.Cancelled() {
			cancelled = true
			for _, nid := range currentLevel {
				statuses[nid] = StatusSkipped
				nodeResults[nid] = map[string]any{"success": false, "skipped": true}
			}
			break
		}

		var toSkip, toExecute []string
		for _, nid := range currentLevel {
			if shouldSkipOnUpstream(nid, p, statuses) {
				toSkip = append(toSkip, nid)
			} else {
				toExecute = append(toExecute, nid)
			}
		}

		for _, nid := range toSkip {
			statuses[nid] = StatusSkipped
			nodeResults[nid] = map[string]any{"success": false, "skipped": true}
			completed++
			emitProgress(opts.OnProgress, p.ID, nid, StatusSkipped, completed, total)
			for _, d := range dependents[nid] {
				inDegree[d]--
				if inDegree[d] == 0 {
					queue = append(queue, d)
				}
			}
		}

		if len(toExecute) > 0 {
			var wg sync.WaitGroup
			var mu sync.Mutex
			for _, nid := range toExecute {
				statuses[nid] = StatusRunning
			}
			for _, nid := range toExecute {
				wg.Add(1)
				go func(nid string) {
					defer wg.Done()
					n := nodesByID[nid]
					status, result := e.executeNode(ctx, n, params, nodeResults, &mu, opts.OnProgress, p.ID)
					mu.Lock()
					statuses[nid] = status
					nodeResults[nid] = result
					completed++
					emitProgress(opts.OnProgress, p.ID, nid, status, completed, total)
					mu.Unlock()
				}(nid)
			}
			wg.Wait()

			for _, nid := range toExecute {
				for _, d := range dependents[nid] {
					inDegree[d]--
					if inDegree[d] == 0 {
						queue = append(queue, d)
					}
				}
			}
		}
	}

	var failedNodes, skippedNodes []string
	for _, n := range p.Nodes {
		switch statuses[n.ID] {
		case StatusFailed:
			failedNodes = append(failedNodes, n.ID)
		case StatusSkipped:
			skippedNodes = append(skippedNodes, n.ID)
		}
	}

	result := Result{
		Success:      len(failedNodes) == 0 && !cancelled,
		PipelineID:   p.ID,
		NodeResults:  nodeResults,
		NodeStatuses: statuses,
		FailedNodes:  failedNodes,
		SkippedNodes: skippedNodes,
		DurationMS:   time.Since(start).Milliseconds(),
	}
	if cancelled {
		result.Error = "Cancelled"
	}
	return result
}

// executeNode resolves the node's params and dispatches to the registry.
// mu guards nodeResults reads during template resolution against
// concurrent writes from sibling goroutines in the same wave — siblings
// in the same wave never depend on each other's output (else they
// wouldn't be in the same wave), so this only prevents a data race, not a
// correctness issue.
func (e *Engine) executeNode(ctx context.Context, n Node, params map[string]any, nodeResults map[string]map[string]any, mu *sync.Mutex, onProgress ProgressFunc, pipelineID string) (NodeStatus, map[string]any) {
	mu.Lock()
	snapshot := make(map[string]map[string]any, len(nodeResults))
	for k, v := range nodeResults {
		snapshot[k] = v
	}
	mu.Unlock()

	r := newResolver(params, snapshot)
	resolved := r.resolveParams(n.Params)

	result := e.safeExecute(ctx, n.Type, resolved)

	fields := make(map[string]any, len(result.Fields)+2)
	for k, v := range result.Fields {
		fields[k] = v
	}
	fields["success"] = result.Success
	if result.Error != "" {
		fields["error"] = result.Error
	}

	if !result.Success {
		return StatusFailed, fields
	}
	return StatusCompleted, fields
}

func (e *Engine) safeExecute(ctx context.Context, taskType string, taskData map[string]any) (result domain.TaskResult) {
	defer func() {
		if r := recover(); r != nil {
			result = domain.Fail(fmt.Sprintf("node execution panicked: %v", r))
		}
	}()
	return e.registry.ExecuteTask(ctx, taskType, taskData)
}

func emitProgress(onProgress ProgressFunc, pipelineID, nodeID string, status NodeStatus, completed, total int) {
	if onProgress == nil {
		return
	}
	progress := 100.0
	if total > 0 {
		progress = float64(completed) / float64(total) * 100.0
	}
	onProgress(ProgressEvent{PipelineID: pipelineID, NodeID: nodeID, NodeStatus: status, Progress: progress})
}

// shouldSkipOnUpstream inspects every edge-source of n, not just the node
// that most recently finished, so transitive skip propagation is correct
// even when a node has multiple incoming edges that settle in different
// waves.
func shouldSkipOnUpstream(nodeID string, p Pipeline, statuses map[string]NodeStatus) bool {
	for _, e := range p.Edges {
		if e.TargetNode != nodeID {
			continue
		}
		if statuses[e.SourceNode] == StatusFailed || statuses[e.SourceNode] == StatusSkipped {
			return true
		}
	}
	return false
}

func validateEdges(p Pipeline, nodesByID map[string]Node) error {
	seen := make(map[string]bool, len(p.Nodes))
	for _, n := range p.Nodes {
		if seen[n.ID] {
			return fmt.Errorf("duplicate node id: %s", n.ID)
		}
		seen[n.ID] = true
	}
	for _, e := range p.Edges {
		if _, ok := nodesByID[e.SourceNode]; !ok {
			return fmt.Errorf("edge references unknown source node: %s", e.SourceNode)
		}
		if _, ok := nodesByID[e.TargetNode]; !ok {
			return fmt.Errorf("edge references unknown target node: %s", e.TargetNode)
		}
	}
	return nil
}

func buildGraph(p Pipeline) (inDegree map[string]int, dependents map[string][]string, incoming map[string][]string) {
	inDegree = make(map[string]int, len(p.Nodes))
	dependents = make(map[string][]string, len(p.Nodes))
	incoming = make(map[string][]string, len(p.Nodes))
	for _, n := range p.Nodes {
		inDegree[n.ID] = 0
	}
	for _, e := range p.Edges {
		inDegree[e.TargetNode]++
		dependents[e.SourceNode] = append(dependents[e.SourceNode], e.TargetNode)
		incoming[e.TargetNode] = append(incoming[e.TargetNode], e.SourceNode)
	}
	return
}

// hasCycle runs a DFS-colour cycle check: each node is unvisited, on the
// current recursion stack, or done. Encountering an on-stack node signals
// a cycle.
func hasCycle(p Pipeline, dependents map[string][]string) bool {
	const (
		unvisited = 0
		onStack   = 1
		done      = 2
	)
	color := make(map[string]int, len(p.Nodes))
	for _, n := range p.Nodes {
		color[n.ID] = unvisited
	}

	var visit func(id string) bool
	visit = func(id string) bool {
		color[id] = onStack
		for _, next := range dependents[id] {
			switch color[next] {
			case onStack:
				return true
			case unvisited:
				if visit(next) {
					return true
				}
			}
		}
		color[id] = done
		return false
	}

	for _, n := range p.Nodes {
		if color[n.ID] == unvisited {
			if visit(n.ID) {
				return true
			}
		}
	}
	return false
}

// ancestorSet computes every node reachable from nodeID by walking
// incoming edges backwards (reverse-BFS) — the set of nodes that must
// have already run before nodeID for a partial re-execution to be valid.
func ancestorSet(nodeID string, incoming map[string][]string) map[string]bool {
	visited := make(map[string]bool)
	queue := []string{nodeID}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, parent := range incoming[cur] {
			if !visited[parent] {
				visited[parent] = true
				queue = append(queue, parent)
			}
		}
	}
	return visited
}

func mergeParams(declared []Param, overrides map[string]any) map[string]any {
	merged := make(map[string]any, len(declared))
	for _, p := range declared {
		merged[p.Name] = p.Default
	}
	for k, v := range overrides {
		merged[k] = v
	}
	return merged
}
