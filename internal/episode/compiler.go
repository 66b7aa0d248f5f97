package episode

import (
	"fmt"
	"strings"

	"github.com/opencli/daemon/internal/pipeline"
)

// PipelineID derives a stable pipeline id from an episode id so a caller can
// persist at most one pipeline per episode and reuse it across recompiles.
func PipelineID(episodeID string) string {
	return "pipeline_for_" + episodeID
}

// Compile lowers a Script + Settings into a runnable pipeline.Pipeline: one
// keyframe/video(/tts) triplet per scene feeding a scene assembly node, then
// a single post-processing tail chained off the concatenation of every
// scene assembly.
func Compile(episodeID string, script Script, settings Settings) pipeline.Pipeline {
	var nodes []pipeline.Node
	var edges []pipeline.Edge
	edgeSeq := 0
	addEdge := func(source, target string) {
		edgeSeq++
		edges = append(edges, pipeline.Edge{
			ID:         fmt.Sprintf("e%d", edgeSeq),
			SourceNode: source,
			TargetNode: target,
		})
	}

	width, height := settings.resolution()
	assemblyIDs := make([]string, 0, len(script.Scenes))

	for i, scene := range script.Scenes {
		keyframeID := fmt.Sprintf("scene_%d_keyframe", i)
		videoID := fmt.Sprintf("scene_%d_video", i)
		assemblyID := fmt.Sprintf("assembly_%d", i)

		prompt := scene.VisualPrompt
		if prompt == "" {
			prompt = scene.Description
		}

		nodes = append(nodes, pipeline.Node{
			ID:   keyframeID,
			Type: "media_local_generate_image",
			Params: map[string]any{
				"prompt": prompt,
				"model":  settings.ImageModel,
				"width":  width,
				"height": height,
			},
		})

		videoType := "media_local_generate_video"
		if settings.wantsControlnet() {
			videoType = "media_local_controlnet_video"
		}
		nodes = append(nodes, pipeline.Node{
			ID:   videoID,
			Type: videoType,
			Params: map[string]any{
				"image_base64": fmt.Sprintf("{{%s.image_base64}}", keyframeID),
				"duration":     scene.DurationSeconds,
				"shot_type":    scene.ShotType,
			},
		})
		addEdge(keyframeID, videoID)

		hasDialogue := len(scene.Dialogue) > 0
		ttsID := fmt.Sprintf("scene_%d_tts", i)
		if hasDialogue {
			nodes = append(nodes, pipeline.Node{
				ID:   ttsID,
				Type: "media_tts_synthesize",
				Params: map[string]any{
					"text":     concatDialogue(scene.Dialogue),
					"voice":    firstVoice(scene.Dialogue),
					"provider": "edge_tts",
				},
			})
			// TTS has no dependency on the keyframe/video chain — it runs
			// in the same wave as the video node.
		}

		assemblyParams := map[string]any{
			"video_path":  fmt.Sprintf("{{%s.path}}", videoID),
			"transition":  scene.Transition,
		}
		if hasDialogue {
			assemblyParams["audio_path"] = fmt.Sprintf("{{%s.path}}", ttsID)
		}
		nodes = append(nodes, pipeline.Node{
			ID:     assemblyID,
			Type:   "media_scene_assembly",
			Params: assemblyParams,
		})
		addEdge(videoID, assemblyID)
		if hasDialogue {
			addEdge(ttsID, assemblyID)
		}

		assemblyIDs = append(assemblyIDs, assemblyID)
	}

	concatPaths := make([]string, len(assemblyIDs))
	for i, id := range assemblyIDs {
		concatPaths[i] = fmt.Sprintf("{{%s.path}}", id)
	}
	nodes = append(nodes, pipeline.Node{
		ID:   "post_concat",
		Type: "media_video_assembly",
		Params: map[string]any{
			"clips": concatPaths,
		},
	})
	for _, id := range assemblyIDs {
		addEdge(id, "post_concat")
	}

	tail := "post_concat"
	if !settings.isDraft() {
		nodes = append(nodes, pipeline.Node{
			ID:   "post_upscale",
			Type: "media_upscale",
			Params: map[string]any{
				"path": fmt.Sprintf("{{%s.path}}", tail),
			},
		})
		addEdge(tail, "post_upscale")
		tail = "post_upscale"
	}
	if settings.ColorGrade != "" {
		nodes = append(nodes, pipeline.Node{
			ID:   "post_colorgrade",
			Type: "media_colorgrade",
			Params: map[string]any{
				"path":    fmt.Sprintf("{{%s.path}}", tail),
				"profile": settings.ColorGrade,
			},
		})
		addEdge(tail, "post_colorgrade")
		tail = "post_colorgrade"
	}
	if settings.ExportPlatform != "" {
		nodes = append(nodes, pipeline.Node{
			ID:   "post_encode",
			Type: "media_encode",
			Params: map[string]any{
				"path":     fmt.Sprintf("{{%s.path}}", tail),
				"platform": settings.ExportPlatform,
			},
		})
		addEdge(tail, "post_encode")
		tail = "post_encode"
	}

	return pipeline.Pipeline{
		ID:     PipelineID(episodeID),
		Name:   "Episode: " + script.Title,
		Nodes:  nodes,
		Edges:  edges,
	}
}

func concatDialogue(lines []DialogueLine) string {
	parts := make([]string, 0, len(lines))
	for _, l := range lines {
		parts = append(parts, l.Text)
	}
	return strings.Join(parts, " ")
}

// defaultVoice is used when no dialogue line in a scene names a voice,
// matching the original compiler's fallback.
const defaultVoice = "zh-CN-XiaoxiaoNeural"

func firstVoice(lines []DialogueLine) string {
	for _, l := range lines {
		if l.Voice != "" {
			return l.Voice
		}
	}
	return defaultVoice
}
