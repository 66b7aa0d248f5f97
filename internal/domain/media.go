package domain

import (
	"context"
	"encoding/base64"
	"fmt"
	"path/filepath"
	"strings"
)

// MediaDomain owns every node type the episode compiler emits: keyframe
// generation, video generation (plain or controlnet-guided), speech
// synthesis, and the two assembly stages. The actual model inference and
// FFmpeg invocations are external collaborators specified only by their
// input/output contract; ImageGenerator/VideoGenerator/Synthesizer/
// Assembler below are the seams where a real local-inference subprocess
// or HTTP-remote variant plugs in.
type MediaDomain struct {
	images   ImageGenerator
	videos   VideoGenerator
	speech   Synthesizer
	assembly Assembler
}

// ImageGenerator renders a single keyframe.
type ImageGenerator interface {
	GenerateImage(ctx context.Context, prompt, model string, width, height int) (imageBase64 string, err error)
}

// VideoGenerator renders a clip from a keyframe, optionally guided by a
// controlnet pass.
type VideoGenerator interface {
	GenerateVideo(ctx context.Context, imageBase64 string, controlnet bool) (path string, err error)
}

// Synthesizer turns text into speech audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voice, provider string) (path string, err error)
}

// Assembler composes clips and audio tracks into a single output file.
type Assembler interface {
	AssembleScene(ctx context.Context, videoPath, audioPath string) (path string, err error)
	AssembleVideo(ctx context.Context, clipPaths []string) (path string, err error)
	Upscale(ctx context.Context, path string) (string, error)
	ColorGrade(ctx context.Context, path string) (string, error)
	Encode(ctx context.Context, path, platform string) (string, error)
}

func NewMediaDomain(images ImageGenerator, videos VideoGenerator, speech Synthesizer, assembly Assembler) *MediaDomain {
	return &MediaDomain{images: images, videos: videos, speech: speech, assembly: assembly}
}

func (d *MediaDomain) ID() string { return "media" }

func (d *MediaDomain) TaskTypes() []string {
	return []string{
		"media_local_generate_image",
		"media_local_generate_video",
		"media_local_controlnet_video",
		"media_tts_synthesize",
		"media_scene_assembly",
		"media_video_assembly",
		"media_upscale",
		"media_colorgrade",
		"media_encode",
	}
}

func (d *MediaDomain) DisplayConfigs() map[string]DisplayConfig {
	return map[string]DisplayConfig{
		"media_local_generate_image":  {CardType: "media", Icon: "image", TitleTemplate: "Generate keyframe", Color: "#ae3ec9"},
		"media_local_generate_video":  {CardType: "media", Icon: "video", TitleTemplate: "Generate video", Color: "#ae3ec9"},
		"media_local_controlnet_video": {CardType: "media", Icon: "video", TitleTemplate: "Generate guided video", Color: "#ae3ec9"},
		"media_tts_synthesize":        {CardType: "media", Icon: "mic", TitleTemplate: "Synthesize speech", Color: "#ae3ec9"},
		"media_scene_assembly":        {CardType: "media", Icon: "layers", TitleTemplate: "Assemble scene", Color: "#ae3ec9"},
		"media_video_assembly":        {CardType: "media", Icon: "film", TitleTemplate: "Assemble episode", Color: "#ae3ec9"},
		"media_upscale":               {CardType: "media", Icon: "maximize", TitleTemplate: "Upscale", Color: "#ae3ec9"},
		"media_colorgrade":            {CardType: "media", Icon: "droplet", TitleTemplate: "Color grade", Color: "#ae3ec9"},
		"media_encode":                {CardType: "media", Icon: "package", TitleTemplate: "Encode for {{platform}}", Color: "#ae3ec9"},
	}
}

func (d *MediaDomain) ExecuteTask(ctx context.Context, taskType string, taskData map[string]any) TaskResult {
	switch taskType {
	case "media_local_generate_image":
		prompt, _ := taskData["prompt"].(string)
		model, _ := taskData["model"].(string)
		width := intField(taskData, "width", 1024)
		height := intField(taskData, "height", 1024)
		img, err := d.images.GenerateImage(ctx, prompt, model, width, height)
		if err != nil {
			return Fail(err.Error())
		}
		return Ok(map[string]any{"image_base64": img})

	case "media_local_generate_video", "media_local_controlnet_video":
		img, _ := taskData["image_base64"].(string)
		path, err := d.videos.GenerateVideo(ctx, img, taskType == "media_local_controlnet_video")
		if err != nil {
			return Fail(err.Error())
		}
		return Ok(map[string]any{"path": path})

	case "media_tts_synthesize":
		text, _ := taskData["text"].(string)
		voice, _ := taskData["voice"].(string)
		provider, _ := taskData["provider"].(string)
		path, err := d.speech.Synthesize(ctx, text, voice, provider)
		if err != nil {
			return Fail(err.Error())
		}
		return Ok(map[string]any{"path": path})

	case "media_scene_assembly":
		video, _ := taskData["video_path"].(string)
		audio, _ := taskData["audio_path"].(string)
		path, err := d.assembly.AssembleScene(ctx, video, audio)
		if err != nil {
			return Fail(err.Error())
		}
		return Ok(map[string]any{"path": path})

	case "media_video_assembly":
		clips := stringSliceField(taskData, "clips")
		path, err := d.assembly.AssembleVideo(ctx, clips)
		if err != nil {
			return Fail(err.Error())
		}
		return Ok(map[string]any{"path": path})

	case "media_upscale":
		path, _ := taskData["path"].(string)
		out, err := d.assembly.Upscale(ctx, path)
		if err != nil {
			return Fail(err.Error())
		}
		return Ok(map[string]any{"path": out})

	case "media_colorgrade":
		path, _ := taskData["path"].(string)
		out, err := d.assembly.ColorGrade(ctx, path)
		if err != nil {
			return Fail(err.Error())
		}
		return Ok(map[string]any{"path": out})

	case "media_encode":
		path, _ := taskData["path"].(string)
		platform, _ := taskData["platform"].(string)
		out, err := d.assembly.Encode(ctx, path, platform)
		if err != nil {
			return Fail(err.Error())
		}
		return Ok(map[string]any{"path": out})

	default:
		return Fail(fmt.Sprintf("media domain does not handle %s", taskType))
	}
}

func intField(data map[string]any, key string, fallback int) int {
	switch v := data[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return fallback
}

func stringSliceField(data map[string]any, key string) []string {
	raw, ok := data[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// LocalInferenceStub is a placeholder ImageGenerator/VideoGenerator/
// Synthesizer/Assembler suitable for wiring the media domain before a real
// local-inference subprocess (or its HTTP-remote variant) is plugged in.
// It produces deterministic, structurally valid outputs so pipelines built
// against it exercise the full DAG without requiring a GPU or FFmpeg.
type LocalInferenceStub struct{}

func (LocalInferenceStub) GenerateImage(ctx context.Context, prompt, model string, width, height int) (string, error) {
	payload := fmt.Sprintf("stub-image:%s:%s:%dx%d", model, prompt, width, height)
	return base64.StdEncoding.EncodeToString([]byte(payload)), nil
}

func (LocalInferenceStub) GenerateVideo(ctx context.Context, imageBase64 string, controlnet bool) (string, error) {
	suffix := "video"
	if controlnet {
		suffix = "controlnet-video"
	}
	return filepath.Join("/tmp", "opencli-media", fmt.Sprintf("%s-%d.mp4", suffix, len(imageBase64))), nil
}

func (LocalInferenceStub) Synthesize(ctx context.Context, text, voice, provider string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("tts synthesis requires non-empty text")
	}
	return filepath.Join("/tmp", "opencli-media", fmt.Sprintf("tts-%s-%d.wav", provider, len(text))), nil
}

func (LocalInferenceStub) AssembleScene(ctx context.Context, videoPath, audioPath string) (string, error) {
	return filepath.Join("/tmp", "opencli-media", "scene-"+filepath.Base(videoPath)), nil
}

func (LocalInferenceStub) AssembleVideo(ctx context.Context, clipPaths []string) (string, error) {
	if len(clipPaths) == 0 {
		return "", fmt.Errorf("no clips to assemble")
	}
	return filepath.Join("/tmp", "opencli-media", "episode.mp4"), nil
}

func (LocalInferenceStub) Upscale(ctx context.Context, path string) (string, error) {
	return path + ".upscaled", nil
}

func (LocalInferenceStub) ColorGrade(ctx context.Context, path string) (string, error) {
	return path + ".graded", nil
}

func (LocalInferenceStub) Encode(ctx context.Context, path, platform string) (string, error) {
	return path + "." + platform, nil
}
