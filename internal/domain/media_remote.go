package domain

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/compat_oai"
)

// RemoteMediaGenerator is the HTTP-remote variant of the local-inference
// collaborator referenced in §1/§6: when no local model runtime is
// configured, media generation falls back to a hosted chat-completion model
// reached through an OpenAI-compatible endpoint. It satisfies the same
// ImageGenerator/VideoGenerator/Synthesizer contract as the local stub, so
// MediaDomain never needs to know which backend it is talking to.
//
// The remote model cannot actually rasterize pixels or render audio; it
// produces a structured JSON description of what the renderer would have
// produced (the exact "input/output contract" the spec says this surface
// is specified at) which is then enveloped as the base64/path fields the
// rest of the pipeline expects.
type RemoteMediaGenerator struct {
	g         *genkit.Genkit
	modelName string
	logger    *slog.Logger
}

// NewRemoteMediaGenerator wires a genkit instance against an
// OpenAI-compatible endpoint (the provider-agnostic shape the teacher
// codebase uses for every non-Anthropic LLM backend).
func NewRemoteMediaGenerator(ctx context.Context, apiKey, baseURL, modelName string, logger *slog.Logger) (*RemoteMediaGenerator, error) {
	if logger == nil {
		logger = slog.Default()
	}
	plugin := &compat_oai.OpenAICompatible{
		Provider: "opencli_media",
		APIKey:   apiKey,
		BaseURL:  baseURL,
	}

	g := genkit.Init(ctx, genkit.WithPlugins(plugin))
	if modelName == "" {
		modelName = "gpt-4o-mini"
	}
	return &RemoteMediaGenerator{g: g, modelName: modelName, logger: logger}, nil
}

type remoteRenderDescriptor struct {
	Kind    string `json:"kind"`
	Prompt  string `json:"prompt"`
	Summary string `json:"summary"`
}

func (r *RemoteMediaGenerator) describe(ctx context.Context, kind, prompt string) (remoteRenderDescriptor, error) {
	resp, err := genkit.Generate(ctx, r.g,
		ai.WithModelName(r.modelName),
		ai.WithSystem("You are the remote rendering collaborator for a media pipeline. Given a short prompt, reply with one sentence describing what the rendered asset would contain. Do not add commentary."),
		ai.WithPrompt(prompt),
	)
	if err != nil {
		return remoteRenderDescriptor{}, fmt.Errorf("remote media generate (%s): %w", kind, err)
	}
	return remoteRenderDescriptor{Kind: kind, Prompt: prompt, Summary: resp.Text()}, nil
}

func (r *RemoteMediaGenerator) GenerateImage(ctx context.Context, prompt, model string, width, height int) (string, error) {
	desc, err := r.describe(ctx, "image", prompt)
	if err != nil {
		return "", err
	}
	desc.Summary = fmt.Sprintf("%s (%dx%d, model=%s)", desc.Summary, width, height, model)
	payload, err := json.Marshal(desc)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(payload), nil
}

func (r *RemoteMediaGenerator) GenerateVideo(ctx context.Context, imageBase64 string, controlnet bool) (string, error) {
	kind := "video"
	if controlnet {
		kind = "controlnet_video"
	}
	desc, err := r.describe(ctx, kind, fmt.Sprintf("render a clip continuing keyframe of length %d bytes", len(imageBase64)))
	if err != nil {
		return "", err
	}
	r.logger.Info("remote media: video descriptor", "summary", desc.Summary)
	return remotePath(kind, desc.Summary), nil
}

func (r *RemoteMediaGenerator) Synthesize(ctx context.Context, text, voice, provider string) (string, error) {
	desc, err := r.describe(ctx, "tts", fmt.Sprintf("voice=%s provider=%s text=%s", voice, provider, text))
	if err != nil {
		return "", err
	}
	return remotePath("tts-"+provider, desc.Summary), nil
}

func remotePath(kind, summary string) string {
	return fmt.Sprintf("/tmp/opencli-media/remote-%s-%d", kind, len(summary))
}
