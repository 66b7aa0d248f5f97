package domain

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// WeatherDomain looks up current conditions for a place name via wttr.in's
// JSON output (https://wttr.in/:help), mirroring the "external HTTP
// collaborator returning a structured payload" shape used elsewhere in the
// catalog for media generation. The parsing algorithm itself is
// deliberately a replaceable plugin detail, per the purpose statement.
type WeatherDomain struct {
	httpClient *http.Client
	baseURL    string // overridable in tests
}

func NewWeatherDomain() *WeatherDomain {
	return &WeatherDomain{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    "https://wttr.in",
	}
}

func (d *WeatherDomain) ID() string { return "weather" }

func (d *WeatherDomain) TaskTypes() []string {
	return []string{"weather_lookup"}
}

func (d *WeatherDomain) DisplayConfigs() map[string]DisplayConfig {
	return map[string]DisplayConfig{
		"weather_lookup": {
			CardType:      "weather",
			Icon:          "cloud-sun",
			TitleTemplate: "Weather in {{location}}",
			Color:         "#1c7ed6",
		},
	}
}

type wttrResponse struct {
	CurrentCondition []struct {
		TempC       string `json:"temp_C"`
		WeatherDesc []struct {
			Value string `json:"value"`
		} `json:"weatherDesc"`
		Humidity string `json:"humidity"`
	} `json:"current_condition"`
}

func (d *WeatherDomain) ExecuteTask(ctx context.Context, taskType string, taskData map[string]any) TaskResult {
	if taskType != "weather_lookup" {
		return Fail(fmt.Sprintf("weather domain does not handle %s", taskType))
	}
	location, _ := taskData["location"].(string)
	if location == "" {
		return Fail("weather_lookup requires a string \"location\" field")
	}

	reqURL := fmt.Sprintf("%s/%s?format=j1", d.baseURL, url.PathEscape(location))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return Fail(err.Error())
	}
	resp, err := d.httpClient.Do(req)
	if err != nil {
		return Fail(fmt.Sprintf("weather lookup failed: %v", err))
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Fail(fmt.Sprintf("weather lookup returned status %d", resp.StatusCode))
	}

	var parsed wttrResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return Fail(fmt.Sprintf("weather response parse failed: %v", err))
	}
	if len(parsed.CurrentCondition) == 0 {
		return Fail("weather response had no current conditions")
	}
	cur := parsed.CurrentCondition[0]
	desc := ""
	if len(cur.WeatherDesc) > 0 {
		desc = cur.WeatherDesc[0].Value
	}
	return Ok(map[string]any{
		"location":    location,
		"temp_c":      cur.TempC,
		"humidity":    cur.Humidity,
		"description": desc,
	})
}
