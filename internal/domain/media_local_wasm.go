package domain

import (
	"context"
	"fmt"

	"github.com/opencli/daemon/internal/inference"
)

// WasmMediaGenerator adapts an inference.Host — a WASM/WASI module
// implementing the local-inference subprocess contract — to the
// ImageGenerator/VideoGenerator/Synthesizer/Assembler interfaces MediaDomain
// expects. Every call shapes a small {op, ...} request, runs it through the
// module, and reads the field the caller needs back out of the result map.
type WasmMediaGenerator struct {
	host *inference.Host
}

func NewWasmMediaGenerator(host *inference.Host) *WasmMediaGenerator {
	return &WasmMediaGenerator{host: host}
}

func (w *WasmMediaGenerator) run(ctx context.Context, req map[string]any, field string) (string, error) {
	result, err := w.host.Run(ctx, req, nil)
	if err != nil {
		return "", err
	}
	ok, _ := result["success"].(bool)
	if !ok {
		errMsg, _ := result["error"].(string)
		if errMsg == "" {
			errMsg = "inference module reported failure"
		}
		return "", fmt.Errorf("%s", errMsg)
	}
	v, ok := result[field].(string)
	if !ok {
		return "", fmt.Errorf("inference module response missing string field %q", field)
	}
	return v, nil
}

func (w *WasmMediaGenerator) GenerateImage(ctx context.Context, prompt, model string, width, height int) (string, error) {
	return w.run(ctx, map[string]any{
		"op": "generate_image", "prompt": prompt, "model": model, "width": width, "height": height,
	}, "image_base64")
}

func (w *WasmMediaGenerator) GenerateVideo(ctx context.Context, imageBase64 string, controlnet bool) (string, error) {
	return w.run(ctx, map[string]any{
		"op": "generate_video", "image_base64": imageBase64, "controlnet": controlnet,
	}, "path")
}

func (w *WasmMediaGenerator) Synthesize(ctx context.Context, text, voice, provider string) (string, error) {
	return w.run(ctx, map[string]any{
		"op": "synthesize", "text": text, "voice": voice, "provider": provider,
	}, "path")
}

func (w *WasmMediaGenerator) AssembleScene(ctx context.Context, videoPath, audioPath string) (string, error) {
	return w.run(ctx, map[string]any{
		"op": "assemble_scene", "video_path": videoPath, "audio_path": audioPath,
	}, "path")
}

func (w *WasmMediaGenerator) AssembleVideo(ctx context.Context, clipPaths []string) (string, error) {
	clips := make([]any, len(clipPaths))
	for i, c := range clipPaths {
		clips[i] = c
	}
	return w.run(ctx, map[string]any{"op": "assemble_video", "clips": clips}, "path")
}

func (w *WasmMediaGenerator) Upscale(ctx context.Context, path string) (string, error) {
	return w.run(ctx, map[string]any{"op": "upscale", "path": path}, "path")
}

func (w *WasmMediaGenerator) ColorGrade(ctx context.Context, path string) (string, error) {
	return w.run(ctx, map[string]any{"op": "colorgrade", "path": path}, "path")
}

func (w *WasmMediaGenerator) Encode(ctx context.Context, path, platform string) (string, error) {
	return w.run(ctx, map[string]any{"op": "encode", "path": path, "platform": platform}, "path")
}
