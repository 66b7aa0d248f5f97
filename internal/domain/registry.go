package domain

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Registry indexes installed domains by the task_type strings they claim.
// It is built once at startup by repeated calls to Register and is
// read-only for the remainder of the process; readers take no lock once
// the registry handle has been published (see SetGlobal).
type Registry struct {
	mu        sync.RWMutex
	domains   map[string]Domain   // domain id -> domain
	ownerOf   map[string]string   // task_type -> domain id
	displays  map[string]DisplayConfig
	logger    *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		domains:  make(map[string]Domain),
		ownerOf:  make(map[string]string),
		displays: make(map[string]DisplayConfig),
		logger:   logger,
	}
}

// Register adds a domain to the registry. Registration fails loudly if
// the domain's id is already taken, or if any of its task_types is
// already claimed by another domain — duplicate claims are a startup bug,
// never a silent last-registered-wins.
func (r *Registry) Register(ctx context.Context, d Domain) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := d.ID()
	if _, exists := r.domains[id]; exists {
		return fmt.Errorf("domain registry: domain id %q already registered", id)
	}
	for _, t := range d.TaskTypes() {
		if owner, claimed := r.ownerOf[t]; claimed {
			return fmt.Errorf("domain registry: task_type %q already claimed by domain %q, cannot register for %q", t, owner, id)
		}
	}

	if init, ok := d.(Initializer); ok {
		if err := init.Initialize(ctx); err != nil {
			r.logger.Error("domain initialize failed, registering anyway", "domain", id, "error", err)
		}
	}

	r.domains[id] = d
	for _, t := range d.TaskTypes() {
		r.ownerOf[t] = id
	}
	for t, dc := range d.DisplayConfigs() {
		r.displays[t] = dc
	}
	return nil
}

// GetDomain returns the domain with the given id.
func (r *Registry) GetDomain(id string) (Domain, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.domains[id]
	return d, ok
}

// GetDomainForTaskType returns the domain claiming taskType, if any.
func (r *Registry) GetDomainForTaskType(taskType string) (Domain, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.ownerOf[taskType]
	if !ok {
		return nil, false
	}
	return r.domains[id], true
}

// HandlesTaskType reports whether any domain claims taskType.
func (r *Registry) HandlesTaskType(taskType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.ownerOf[taskType]
	return ok
}

// AllTaskTypes lists every claimed task_type across all domains.
func (r *Registry) AllTaskTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.ownerOf))
	for t := range r.ownerOf {
		out = append(out, t)
	}
	return out
}

// Domains lists every registered domain.
func (r *Registry) Domains() []Domain {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Domain, 0, len(r.domains))
	for _, d := range r.domains {
		out = append(out, d)
	}
	return out
}

// DisplayConfig returns the display metadata for a task_type, if declared.
func (r *Registry) DisplayConfig(taskType string) (DisplayConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	dc, ok := r.displays[taskType]
	return dc, ok
}

// ExecuteTask delegates to the unique domain claiming taskType. A claim
// miss is a normal, non-error result: {success:false, error:"No domain
// handles task type: <t>"}.
func (r *Registry) ExecuteTask(ctx context.Context, taskType string, taskData map[string]any) TaskResult {
	d, ok := r.GetDomainForTaskType(taskType)
	if !ok {
		return Fail(fmt.Sprintf("No domain handles task type: %s", taskType))
	}
	return safeExecute(d, ctx, taskType, taskData)
}

// ExecuteTaskWithProgress invokes the domain's progress-aware variant when
// available, falling through to ExecuteTask (emitting no progress)
// otherwise.
func (r *Registry) ExecuteTaskWithProgress(ctx context.Context, taskType string, taskData map[string]any, onProgress ProgressFunc) TaskResult {
	d, ok := r.GetDomainForTaskType(taskType)
	if !ok {
		return Fail(fmt.Sprintf("No domain handles task type: %s", taskType))
	}
	if pc, ok := d.(ProgressCapable); ok {
		return safeExecuteProgress(pc, ctx, taskType, taskData, onProgress)
	}
	return safeExecute(d, ctx, taskType, taskData)
}

// Dispose calls Dispose on every registered domain that implements it.
func (r *Registry) Dispose(ctx context.Context) {
	r.mu.RLock()
	domains := make([]Domain, 0, len(r.domains))
	for _, d := range r.domains {
		domains = append(domains, d)
	}
	r.mu.RUnlock()

	for _, d := range domains {
		if disp, ok := d.(Disposer); ok {
			if err := disp.Dispose(ctx); err != nil {
				r.logger.Error("domain dispose failed", "domain", d.ID(), "error", err)
			}
		}
	}
}

// safeExecute recovers a panicking domain into a failed TaskResult so that
// one misbehaving plugin cannot take down the pipeline engine or the
// session manager.
func safeExecute(d Domain, ctx context.Context, taskType string, taskData map[string]any) (result TaskResult) {
	defer func() {
		if r := recover(); r != nil {
			result = Fail(fmt.Sprintf("domain %s panicked executing %s: %v", d.ID(), taskType, r))
		}
	}()
	return d.ExecuteTask(ctx, taskType, taskData)
}

func safeExecuteProgress(d ProgressCapable, ctx context.Context, taskType string, taskData map[string]any, onProgress ProgressFunc) (result TaskResult) {
	defer func() {
		if r := recover(); r != nil {
			result = Fail(fmt.Sprintf("domain panicked executing %s: %v", taskType, r))
		}
	}()
	return d.ExecuteTaskWithProgress(ctx, taskType, taskData, onProgress)
}

// global is the process-wide registry handle (§4.B): published exactly
// once at startup via SetGlobal, read thereafter with Global. Readers
// never block on a lock; the atomic.Pointer gives safe publication
// without requiring every read site to synchronize against writers that
// no longer exist after startup.
var global atomic.Pointer[Registry]

// SetGlobal publishes the process-wide registry handle. Must be called
// exactly once, before any reader calls Global.
func SetGlobal(r *Registry) {
	global.Store(r)
}

// Global returns the process-wide registry handle set by SetGlobal.
func Global() *Registry {
	return global.Load()
}
