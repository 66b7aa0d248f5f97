package domain

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/docker/docker/client"

	"github.com/opencli/daemon/internal/inference"
	"github.com/opencli/daemon/internal/policy"
)

// BuiltinOptions configures which built-in domains RegisterBuiltins wires
// into a fresh registry.
type BuiltinOptions struct {
	FileOpsRoot string
	Policy      policy.Checker
	Logger      *slog.Logger

	// DockerHost, when non-empty, enables osapp_sandbox_exec by dialing a
	// docker daemon. Left empty, the sandbox task type registers but
	// fails at execution time with a clear configuration error.
	DockerHost string

	// InferenceWasmPath, when non-empty, is loaded as the media domain's
	// local-inference backend (§9 / internal/inference). Takes priority
	// over MediaAPIKey.
	InferenceWasmPath string

	// MediaAPIKey/MediaBaseURL/MediaModel configure the remote fallback
	// (internal/domain RemoteMediaGenerator) used when no local
	// inference module is configured.
	MediaAPIKey  string
	MediaBaseURL string
	MediaModel   string
}

// RegisterBuiltins constructs and registers every built-in domain. It is
// the single place that wires the catalog at startup; cmd/opencli-daemon
// calls this once before publishing the global registry handle.
func RegisterBuiltins(ctx context.Context, reg *Registry, opts BuiltinOptions) error {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if err := reg.Register(ctx, NewCalculatorDomain()); err != nil {
		return fmt.Errorf("register calculator domain: %w", err)
	}
	if err := reg.Register(ctx, NewWeatherDomain()); err != nil {
		return fmt.Errorf("register weather domain: %w", err)
	}
	if err := reg.Register(ctx, NewTimerDomain()); err != nil {
		return fmt.Errorf("register timer domain: %w", err)
	}
	if err := reg.Register(ctx, NewNotesDomain()); err != nil {
		return fmt.Errorf("register notes domain: %w", err)
	}
	if err := reg.Register(ctx, NewRemindersDomain(opts.Policy)); err != nil {
		return fmt.Errorf("register reminders domain: %w", err)
	}
	if err := reg.Register(ctx, NewCalendarDomain(opts.Policy)); err != nil {
		return fmt.Errorf("register calendar domain: %w", err)
	}
	if err := reg.Register(ctx, NewContactsDomain(opts.Policy)); err != nil {
		return fmt.Errorf("register contacts domain: %w", err)
	}
	if err := reg.Register(ctx, NewMessagesDomain(opts.Policy)); err != nil {
		return fmt.Errorf("register messages domain: %w", err)
	}
	if err := reg.Register(ctx, NewEmailDomain(opts.Policy)); err != nil {
		return fmt.Errorf("register email domain: %w", err)
	}
	if err := reg.Register(ctx, NewTranslationDomain(opts.Policy)); err != nil {
		return fmt.Errorf("register translation domain: %w", err)
	}
	if err := reg.Register(ctx, NewFileOpsDomain(opts.FileOpsRoot, opts.Policy)); err != nil {
		return fmt.Errorf("register fileops domain: %w", err)
	}

	osapp := NewOSAppDomain(opts.Policy)
	if opts.DockerHost != "" {
		dc, err := client.NewClientWithOpts(client.WithHost(opts.DockerHost), client.WithAPIVersionNegotiation())
		if err != nil {
			logger.Error("docker client init failed, osapp sandbox will be unavailable", "error", err)
		} else {
			osapp = osapp.WithDockerClient(dc)
		}
	}
	if err := reg.Register(ctx, osapp); err != nil {
		return fmt.Errorf("register osapp domain: %w", err)
	}

	images, videos, speech, assembly, err := mediaBackend(ctx, opts, logger)
	if err != nil {
		return fmt.Errorf("configure media backend: %w", err)
	}
	if err := reg.Register(ctx, NewMediaDomain(images, videos, speech, assembly)); err != nil {
		return fmt.Errorf("register media domain: %w", err)
	}

	return nil
}

// mediaBackend selects the media domain's ImageGenerator/VideoGenerator/
// Synthesizer/Assembler implementation, preferring a configured local WASM
// inference module, then a remote LLM-backed fallback, then the
// deterministic stub. All three satisfy the same four interfaces so
// MediaDomain is indifferent to which one it got.
func mediaBackend(ctx context.Context, opts BuiltinOptions, logger *slog.Logger) (ImageGenerator, VideoGenerator, Synthesizer, Assembler, error) {
	if opts.InferenceWasmPath != "" {
		wasmBytes, err := os.ReadFile(opts.InferenceWasmPath)
		if err != nil {
			return nil, nil, nil, nil, fmt.Errorf("read inference wasm module %s: %w", opts.InferenceWasmPath, err)
		}
		host, err := inference.NewHost(ctx, wasmBytes)
		if err != nil {
			return nil, nil, nil, nil, err
		}
		gen := NewWasmMediaGenerator(host)
		return gen, gen, gen, &wasmAssembler{gen}, nil
	}

	if opts.MediaAPIKey != "" {
		remote, err := NewRemoteMediaGenerator(ctx, opts.MediaAPIKey, opts.MediaBaseURL, opts.MediaModel, logger)
		if err != nil {
			logger.Error("remote media generator init failed, falling back to stub", "error", err)
			stub := LocalInferenceStub{}
			return stub, stub, stub, stub, nil
		}
		return remote, remote, remote, &remoteAssembler{remote}, nil
	}

	stub := LocalInferenceStub{}
	return stub, stub, stub, stub, nil
}

// wasmAssembler and remoteAssembler satisfy the Assembler methods the
// image/video/TTS-only generators above don't implement themselves, by
// routing assembly ops through the same module/model via a shared op
// vocabulary (WasmMediaGenerator already implements all of Assembler
// directly; remoteAssembler falls back to path-rewriting since the remote
// chat model has no file-assembly capability of its own).
type wasmAssembler struct{ *WasmMediaGenerator }

type remoteAssembler struct{ *RemoteMediaGenerator }

func (a *remoteAssembler) AssembleScene(ctx context.Context, videoPath, audioPath string) (string, error) {
	return videoPath + "+scene", nil
}

func (a *remoteAssembler) AssembleVideo(ctx context.Context, clipPaths []string) (string, error) {
	if len(clipPaths) == 0 {
		return "", fmt.Errorf("no clips to assemble")
	}
	return "/tmp/opencli-media/remote-episode.mp4", nil
}

func (a *remoteAssembler) Upscale(ctx context.Context, path string) (string, error)    { return path + ".upscaled", nil }
func (a *remoteAssembler) ColorGrade(ctx context.Context, path string) (string, error) { return path + ".graded", nil }
func (a *remoteAssembler) Encode(ctx context.Context, path, platform string) (string, error) {
	return path + "." + platform, nil
}
