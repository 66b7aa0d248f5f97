package domain

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/opencli/daemon/internal/policy"
)

// TranslationDomain translates text via a local Ollama server, mirroring
// original_source's translation.py (ported from the Dart translation
// domain in turn). The request targets http://localhost:11434; gated by
// the tools.translation capability the same way the other supplemented
// domains are gated.
type TranslationDomain struct {
	httpClient *http.Client
	baseURL    string // overridable in tests
	model      string
	policy     policy.Checker
}

func NewTranslationDomain(p policy.Checker) *TranslationDomain {
	return &TranslationDomain{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    "http://localhost:11434",
		model:      "qwen2.5:latest",
		policy:     p,
	}
}

func (d *TranslationDomain) ID() string { return "translation" }

func (d *TranslationDomain) TaskTypes() []string { return []string{"translation_translate"} }

func (d *TranslationDomain) DisplayConfigs() map[string]DisplayConfig {
	return map[string]DisplayConfig{
		"translation_translate": {CardType: "translation", Icon: "translate", TitleTemplate: "Translation", Color: "#673ab7"},
	}
}

type ollamaGenerateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type ollamaGenerateResponse struct {
	Response string `json:"response"`
}

func (d *TranslationDomain) ExecuteTask(ctx context.Context, taskType string, taskData map[string]any) TaskResult {
	if taskType != "translation_translate" {
		return Fail(fmt.Sprintf("translation domain does not handle %s", taskType))
	}
	if d.policy != nil && !d.policy.AllowCapability("tools.translation") {
		return Fail("capability tools.translation is not permitted by policy")
	}

	text, _ := taskData["text"].(string)
	if text == "" {
		return Fail("translation_translate requires a non-empty \"text\" field")
	}
	targetLang, _ := taskData["target_language"].(string)
	if targetLang == "" {
		targetLang, _ = taskData["language"].(string)
	}
	if targetLang == "" {
		targetLang = "English"
	}

	genURL := d.baseURL + "/api/generate"

	prompt := fmt.Sprintf("Translate the following text to %s. Return ONLY the translation, nothing else:\n\n%s", targetLang, text)
	body, err := json.Marshal(ollamaGenerateRequest{Model: d.model, Prompt: prompt, Stream: false})
	if err != nil {
		return Fail(err.Error())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, genURL, strings.NewReader(string(body)))
	if err != nil {
		return Fail(err.Error())
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return Fail("Ollama not running (start with: ollama serve)")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Fail(fmt.Sprintf("Ollama error: %d", resp.StatusCode))
	}

	var parsed ollamaGenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return Fail(fmt.Sprintf("translation response parse failed: %v", err))
	}

	return Ok(map[string]any{
		"original":        text,
		"translation":     strings.TrimSpace(parsed.Response),
		"target_language": targetLang,
	})
}
