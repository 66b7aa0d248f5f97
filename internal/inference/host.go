// Package inference runs the local machine-learning inference subprocess
// referenced in the daemon's design notes (§9): a collaborator that
// receives a JSON request, may emit interleaved progress JSON lines, and
// terminates with one final JSON line carrying the result. Here the
// "subprocess" is a WASM/WASI module run in-process by wazero — this lets
// the daemon exercise the exact stdout-parsing contract a real subprocess
// or its HTTP-remote variant would use, without requiring a model runtime
// or GPU to be present.
package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
)

// Host owns a compiled inference module and runs it once per Run call.
type Host struct {
	runtime  wazero.Runtime
	compiled wazero.CompiledModule
}

// NewHost compiles wasmBytes and instantiates the WASI preview1 host
// imports the module needs to run as a normal program (stdin/stdout/args).
func NewHost(ctx context.Context, wasmBytes []byte) (*Host, error) {
	runtimeCfg := wazero.NewRuntimeConfig().WithCloseOnContextDone(true)
	runtime := wazero.NewRuntimeWithConfig(ctx, runtimeCfg)

	if _, err := wasi_snapshot_preview1.Instantiate(ctx, runtime); err != nil {
		_ = runtime.Close(ctx)
		return nil, fmt.Errorf("instantiate wasi imports: %w", err)
	}

	compiled, err := runtime.CompileModule(ctx, wasmBytes)
	if err != nil {
		_ = runtime.Close(ctx)
		return nil, fmt.Errorf("compile inference module: %w", err)
	}
	return &Host{runtime: runtime, compiled: compiled}, nil
}

func (h *Host) Close(ctx context.Context) error {
	return h.runtime.Close(ctx)
}

// ProgressFunc receives each progress line the module writes to stdout
// ahead of its final result line.
type ProgressFunc func(line string)

// Run feeds request (marshaled to JSON) to the module's stdin and parses
// the last line of its stdout as the JSON result, matching the "read
// stdout/stderr concurrently, parse only the final line" design note —
// wazero buffers a completed module's output rather than streaming it, but
// the line-oriented contract the module must honor is identical to talking
// to a real subprocess. Cancelling ctx terminates the module immediately
// (WithCloseOnContextDone above) rather than leaving it to run to
// completion.
func (h *Host) Run(ctx context.Context, request map[string]any, onProgress ProgressFunc) (map[string]any, error) {
	reqBytes, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("marshal inference request: %w", err)
	}

	var stdout, stderr bytes.Buffer
	modCfg := wazero.NewModuleConfig().
		WithStdin(bytes.NewReader(reqBytes)).
		WithStdout(&stdout).
		WithStderr(&stderr)

	mod, err := h.runtime.InstantiateModule(ctx, h.compiled, modCfg)
	if err != nil {
		return nil, fmt.Errorf("inference module failed: %w (stderr: %s)", err, strings.TrimSpace(stderr.String()))
	}
	defer func() { _ = mod.Close(ctx) }()

	lines := splitNonEmptyLines(stdout.String())
	if len(lines) == 0 {
		return nil, fmt.Errorf("inference module produced no output")
	}
	for _, line := range lines[:len(lines)-1] {
		if onProgress != nil {
			onProgress(line)
		}
	}

	final := lines[len(lines)-1]
	var result map[string]any
	if err := json.Unmarshal([]byte(final), &result); err != nil {
		return nil, fmt.Errorf("inference module final line is not JSON: %w", err)
	}
	return result, nil
}

func splitNonEmptyLines(s string) []string {
	var out []string
	for _, line := range strings.Split(strings.TrimRight(s, "\n"), "\n") {
		if strings.TrimSpace(line) != "" {
			out = append(out, line)
		}
	}
	return out
}
