package domain

import (
	"context"
	"testing"
)

func TestMediaDomainKeyframeThenVideo(t *testing.T) {
	stub := LocalInferenceStub{}
	d := NewMediaDomain(stub, stub, stub, stub)
	ctx := context.Background()

	img := d.ExecuteTask(ctx, "media_local_generate_image", map[string]any{
		"prompt": "a lighthouse at dusk", "model": "sdxl", "width": 512, "height": 512,
	})
	if !img.Success {
		t.Fatalf("image generation failed: %s", img.Error)
	}
	imgB64, _ := img.Get("image_base64")

	video := d.ExecuteTask(ctx, "media_local_generate_video", map[string]any{"image_base64": imgB64})
	if !video.Success {
		t.Fatalf("video generation failed: %s", video.Error)
	}
	if _, ok := video.Get("path"); !ok {
		t.Fatalf("expected a path field in video result")
	}
}

func TestMediaDomainUnknownTaskType(t *testing.T) {
	stub := LocalInferenceStub{}
	d := NewMediaDomain(stub, stub, stub, stub)
	result := d.ExecuteTask(context.Background(), "media_nonexistent", nil)
	if result.Success {
		t.Fatalf("expected unknown task type to fail")
	}
}

func TestRegisterBuiltinsNoDuplicateClaims(t *testing.T) {
	reg := NewRegistry(nil)
	if err := RegisterBuiltins(context.Background(), reg, BuiltinOptions{FileOpsRoot: t.TempDir()}); err != nil {
		t.Fatalf("RegisterBuiltins: %v", err)
	}
	if !reg.HandlesTaskType("calculator_eval") {
		t.Fatalf("expected calculator_eval to be registered")
	}
	if !reg.HandlesTaskType("media_local_generate_image") {
		t.Fatalf("expected media domain to be registered")
	}
}
