package episode

import "testing"

func TestCompile_SingleSceneNoDialogue(t *testing.T) {
	script := Script{
		ID:    "ep-1",
		Title: "Pilot",
		Scenes: []Scene{
			{ID: "s0", Description: "a quiet room", VisualPrompt: "a quiet room, wide shot"},
		},
	}

	p := Compile("ep-1", script, Settings{Quality: "draft"})

	if p.ID != "pipeline_for_ep-1" {
		t.Fatalf("expected deterministic id, got %q", p.ID)
	}
	if p.Name != "Episode: Pilot" {
		t.Fatalf("unexpected name: %q", p.Name)
	}

	ids := make(map[string]bool)
	for _, n := range p.Nodes {
		ids[n.ID] = true
	}
	for _, want := range []string{"scene_0_keyframe", "scene_0_video", "assembly_0", "post_concat"} {
		if !ids[want] {
			t.Errorf("expected node %q in compiled pipeline", want)
		}
	}
	if ids["scene_0_tts"] {
		t.Errorf("did not expect a tts node for a dialogue-free scene")
	}
	// draft quality skips controlnet and upscale
	if ids["post_upscale"] {
		t.Errorf("draft quality should skip post_upscale")
	}
}

func TestCompile_SceneWithDialogueAddsTTS(t *testing.T) {
	script := Script{
		ID:    "ep-2",
		Title: "Dialogue Scene",
		Scenes: []Scene{
			{
				ID:          "s0",
				Description: "two characters talk",
				Dialogue: []DialogueLine{
					{CharacterID: "c1", Text: "Hello there."},
					{CharacterID: "c2", Text: "General greetings.", Voice: "en-US-Guy"},
				},
			},
		},
	}

	p := Compile("ep-2", script, Settings{})

	hasTTS, hasAssemblyAudioEdge := false, false
	for _, n := range p.Nodes {
		if n.ID == "scene_0_tts" {
			hasTTS = true
			if n.Params["voice"] != "en-US-Guy" {
				t.Errorf("expected first non-empty voice, got %v", n.Params["voice"])
			}
		}
	}
	for _, e := range p.Edges {
		if e.SourceNode == "scene_0_tts" && e.TargetNode == "assembly_0" {
			hasAssemblyAudioEdge = true
		}
	}
	if !hasTTS {
		t.Fatal("expected a tts node when dialogue is present")
	}
	if !hasAssemblyAudioEdge {
		t.Fatal("expected an edge from tts to the scene assembly")
	}

	// non-draft quality wires controlnet video generation by default
	for _, n := range p.Nodes {
		if n.ID == "scene_0_video" && n.Type != "media_local_controlnet_video" {
			t.Errorf("expected controlnet video type by default, got %q", n.Type)
		}
	}
}

func TestCompile_DialogueWithoutVoiceUsesDefault(t *testing.T) {
	script := Script{
		ID:    "ep-2b",
		Title: "No Named Voice",
		Scenes: []Scene{
			{
				ID:          "s0",
				Description: "one character talks",
				Dialogue: []DialogueLine{
					{CharacterID: "c1", Text: "Hello there."},
				},
			},
		},
	}

	p := Compile("ep-2b", script, Settings{})

	for _, n := range p.Nodes {
		if n.ID == "scene_0_tts" {
			if n.Params["voice"] != defaultVoice {
				t.Errorf("expected default voice %q, got %v", defaultVoice, n.Params["voice"])
			}
		}
	}
}

func TestCompile_PostProcessingTailRespectsSettings(t *testing.T) {
	script := Script{
		ID:    "ep-3",
		Title: "Tail",
		Scenes: []Scene{{ID: "s0", Description: "one scene"}},
	}

	p := Compile("ep-3", script, Settings{
		Quality:        "hd",
		ColorGrade:     "cinematic",
		ExportPlatform: "youtube",
	})

	order := []string{"post_concat", "post_upscale", "post_colorgrade", "post_encode"}
	present := make(map[string]bool)
	for _, n := range p.Nodes {
		present[n.ID] = true
	}
	for _, id := range order {
		if !present[id] {
			t.Errorf("expected tail node %q to be present", id)
		}
	}

	// Verify the chain is linear: each stage has exactly one outgoing edge to the next.
	next := map[string]string{}
	for _, e := range p.Edges {
		if e.SourceNode == "post_concat" || e.SourceNode == "post_upscale" || e.SourceNode == "post_colorgrade" {
			next[e.SourceNode] = e.TargetNode
		}
	}
	if next["post_concat"] != "post_upscale" {
		t.Errorf("expected post_concat -> post_upscale, got %q", next["post_concat"])
	}
	if next["post_upscale"] != "post_colorgrade" {
		t.Errorf("expected post_upscale -> post_colorgrade, got %q", next["post_upscale"])
	}
	if next["post_colorgrade"] != "post_encode" {
		t.Errorf("expected post_colorgrade -> post_encode, got %q", next["post_colorgrade"])
	}
}

func TestCompile_MultiSceneConcatFeedsAllAssemblies(t *testing.T) {
	script := Script{
		ID:    "ep-4",
		Title: "Multi",
		Scenes: []Scene{
			{ID: "s0", Description: "first"},
			{ID: "s1", Description: "second"},
			{ID: "s2", Description: "third"},
		},
	}

	p := Compile("ep-4", script, Settings{Quality: "draft"})

	concatSources := 0
	for _, e := range p.Edges {
		if e.TargetNode == "post_concat" {
			concatSources++
		}
	}
	if concatSources != 3 {
		t.Fatalf("expected 3 edges into post_concat, got %d", concatSources)
	}
}
