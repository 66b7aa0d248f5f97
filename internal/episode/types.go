// Package episode holds the structured "episode script" data model and the
// compiler that lowers one into a concrete pipeline.Pipeline: a chain of
// per-scene generation nodes feeding a single post-processing tail. The
// compiler never executes anything itself — its output is handed to the
// pipeline engine exactly like any hand-authored pipeline.
package episode

// Character is a persisted cast member referenced by DialogueLine.CharacterID.
type Character struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	VoiceID     string `json:"voice_id,omitempty"`
}

// DialogueLine is one spoken line within a Scene.
type DialogueLine struct {
	CharacterID string `json:"character_id"`
	Text        string `json:"text"`
	Emotion     string `json:"emotion,omitempty"`
	Voice       string `json:"voice,omitempty"`
}

// Scene is one shot in the episode: a visual prompt, optional dialogue, and
// framing metadata the compiler threads into the generated pipeline nodes.
type Scene struct {
	ID               string         `json:"id"`
	Description      string         `json:"description"`
	VisualPrompt     string         `json:"visual_prompt,omitempty"`
	Dialogue         []DialogueLine `json:"dialogue,omitempty"`
	DurationSeconds  float64        `json:"duration_seconds,omitempty"`
	ShotType         string         `json:"shot_type,omitempty"`
	Transition       string         `json:"transition,omitempty"`
}

// Script is the compiler's input. It is persisted but never executed
// directly — only the pipeline Compile produces from it runs.
type Script struct {
	ID         string      `json:"id"`
	Title      string      `json:"title"`
	Synopsis   string      `json:"synopsis,omitempty"`
	Characters []Character `json:"characters,omitempty"`
	Scenes     []Scene     `json:"scenes"`
}

// Settings configures a single compilation: media quality, the generation
// backend, and which optional tail stages to wire in.
type Settings struct {
	ImageModel     string `json:"image_model,omitempty"`
	Quality        string `json:"quality,omitempty"` // "draft" drops resolution and skips controlnet/upscale
	UseControlnet  *bool  `json:"use_controlnet,omitempty"`
	ColorGrade     string `json:"color_grade,omitempty"`
	ExportPlatform string `json:"export_platform,omitempty"`
}

func (s Settings) isDraft() bool { return s.Quality == "draft" }

func (s Settings) wantsControlnet() bool {
	if s.UseControlnet != nil {
		return *s.UseControlnet
	}
	return !s.isDraft()
}

func (s Settings) resolution() (width, height int) {
	if s.isDraft() {
		return 512, 288
	}
	return 1024, 576
}
