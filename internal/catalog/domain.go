package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/opencli/daemon/internal/domain"
)

// ManifestDomain dispatches every task_type a manifest claims to a single
// HTTP endpoint as a POST of {"task_type": ..., "task_data": ...},
// expecting back the same {success, error, ...fields} shape a Go-native
// domain's TaskResult serializes to. This is the "thin binding" the
// manifest format exists for: integrating a script or service in another
// language without writing a domain.Domain implementation for it.
type ManifestDomain struct {
	manifest Manifest
	client   *http.Client
}

// NewManifestDomain builds the HTTP-dispatch domain for one parsed
// manifest. defaultTimeout is used when the manifest does not set one.
func NewManifestDomain(m Manifest, defaultTimeout time.Duration) *ManifestDomain {
	timeout := defaultTimeout
	if m.TimeoutMS > 0 {
		timeout = time.Duration(m.TimeoutMS) * time.Millisecond
	}
	return &ManifestDomain{
		manifest: m,
		client:   &http.Client{Timeout: timeout},
	}
}

func (d *ManifestDomain) ID() string { return d.manifest.DomainID }

func (d *ManifestDomain) TaskTypes() []string { return d.manifest.TaskTypes }

func (d *ManifestDomain) DisplayConfigs() map[string]domain.DisplayConfig {
	out := make(map[string]domain.DisplayConfig, len(d.manifest.Display))
	for taskType, disp := range d.manifest.Display {
		out[taskType] = domain.DisplayConfig{
			CardType:      disp.CardType,
			Icon:          disp.Icon,
			TitleTemplate: disp.TitleTemplate,
			Color:         disp.Color,
		}
	}
	return out
}

type manifestRequest struct {
	TaskType string         `json:"task_type"`
	TaskData map[string]any `json:"task_data"`
}

type manifestResponse struct {
	Success bool           `json:"success"`
	Error   string         `json:"error,omitempty"`
	Fields  map[string]any `json:"-"`
}

func (r *manifestResponse) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if v, ok := raw["success"].(bool); ok {
		r.Success = v
	}
	if v, ok := raw["error"].(string); ok {
		r.Error = v
	}
	delete(raw, "success")
	delete(raw, "error")
	r.Fields = raw
	return nil
}

func (d *ManifestDomain) ExecuteTask(ctx context.Context, taskType string, taskData map[string]any) domain.TaskResult {
	body, err := json.Marshal(manifestRequest{TaskType: taskType, TaskData: taskData})
	if err != nil {
		return domain.Fail(fmt.Sprintf("encode manifest request: %v", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.manifest.Endpoint, bytes.NewReader(body))
	if err != nil {
		return domain.Fail(fmt.Sprintf("build manifest request: %v", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return domain.Fail(fmt.Sprintf("manifest endpoint unreachable: %v", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.Fail(fmt.Sprintf("manifest endpoint returned status %d", resp.StatusCode))
	}

	var out manifestResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return domain.Fail(fmt.Sprintf("decode manifest response: %v", err))
	}
	if !out.Success {
		if out.Error == "" {
			out.Error = "manifest endpoint reported failure"
		}
		return domain.Fail(out.Error)
	}
	return domain.Ok(out.Fields)
}
