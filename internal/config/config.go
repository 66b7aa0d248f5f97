// Package config loads the daemon's config.yaml: bind ports, CORS policy,
// provider API keys for domain plugins (weather/media), the auth shared
// secret, and telemetry settings.
package config

import (
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	otelPkg "github.com/opencli/daemon/internal/otel"
)

// CORSConfig controls the HTTP gateway's CORS middleware.
type CORSConfig struct {
	Enabled        bool     `yaml:"enabled"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
	MaxAge         int      `yaml:"max_age"`
}

// Ports bundles the three listeners the daemon binds (§6): the combined
// HTTP+WebSocket gateway, the standalone plain-WS mirror, and the
// lightweight status endpoint.
type Ports struct {
	HTTP     int `yaml:"http"`
	PlainWS  int `yaml:"plain_ws"`
	Status   int `yaml:"status"`
}

// Config is the daemon's root configuration, loaded from
// ~/.opencli/config.yaml (override via OPENCLI_HOME).
type Config struct {
	HomeDir string `yaml:"-"`

	Ports    Ports      `yaml:"ports"`
	LogLevel string     `yaml:"log_level"`
	CORS     CORSConfig `yaml:"cors"`

	// FileOpsRoot bounds the fileops/file-serving domains to a directory
	// subtree (§6 file serving: rooted at ~/.opencli/ by default).
	FileOpsRoot string `yaml:"fileops_root"`

	// DockerHost, when set, enables the osapp sandbox-exec task type.
	DockerHost string `yaml:"docker_host"`

	// AuthSharedSecret is the HMAC secret §4.A verifies WebSocket auth
	// tokens against. Required for any non-loopback deployment.
	AuthSharedSecret string `yaml:"auth_shared_secret"`

	// APIKeys holds provider credentials for domain plugins, e.g.
	// "openweather", "stability", "elevenlabs". Env var overrides follow
	// the PROVIDER_API_KEY convention (see applyEnvOverrides).
	APIKeys map[string]string `yaml:"api_keys"`

	Telemetry otelPkg.Config `yaml:"telemetry"`

	// InferenceWasmPath, when set, points at a WASM/WASI module
	// implementing the local-inference subprocess contract (§9): the
	// media domain loads it at startup and prefers it over the remote
	// fallback and the deterministic stub.
	InferenceWasmPath string `yaml:"inference_wasm_path"`

	// MediaModel selects the remote fallback's chat-completion model name
	// when no local inference module is configured.
	MediaModel string `yaml:"media_model"`

	// DomainManifestDir, when set, is hot-watched for additional domain
	// manifests describing thin task_type -> HTTP dispatch bindings,
	// validated against a JSON Schema before being admitted to the
	// registry (see internal/catalog).
	DomainManifestDir string `yaml:"domain_manifest_dir"`

	NeedsGenesis bool `yaml:"-"`
}

func defaultConfig() Config {
	return Config{
		Ports: Ports{HTTP: 9529, PlainWS: 9876, Status: 9875},
		LogLevel: "info",
		CORS: CORSConfig{
			Enabled:        true,
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Content-Type", "Authorization", "X-API-Key"},
			MaxAge:         3600,
		},
	}
}

// HomeDir resolves the daemon's data directory: OPENCLI_HOME if set,
// otherwise ~/.opencli.
func HomeDir() string {
	if override := os.Getenv("OPENCLI_HOME"); override != "" {
		return override
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".opencli")
}

// ConfigPath returns the path to config.yaml within the given home directory.
func ConfigPath(homeDir string) string {
	return filepath.Join(homeDir, "config.yaml")
}

// Load reads config.yaml, applying defaults, env overrides, and
// normalization, creating the home directory if absent.
func Load() (Config, error) {
	cfg := defaultConfig()
	cfg.HomeDir = HomeDir()

	if err := os.MkdirAll(cfg.HomeDir, 0o755); err != nil {
		return cfg, fmt.Errorf("create opencli home: %w", err)
	}
	if cfg.FileOpsRoot == "" {
		cfg.FileOpsRoot = cfg.HomeDir
	}

	configPath := ConfigPath(cfg.HomeDir)
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.NeedsGenesis = true
		} else {
			return cfg, fmt.Errorf("read config.yaml: %w", err)
		}
	} else if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config.yaml: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	normalize(&cfg)
	return cfg, nil
}

func normalize(cfg *Config) {
	if cfg.Ports.HTTP <= 0 {
		cfg.Ports.HTTP = 9529
	}
	if cfg.Ports.PlainWS <= 0 {
		cfg.Ports.PlainWS = 9876
	}
	if cfg.Ports.Status <= 0 {
		cfg.Ports.Status = 9875
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if strings.TrimSpace(cfg.FileOpsRoot) == "" {
		cfg.FileOpsRoot = cfg.HomeDir
	}
}

func applyEnvOverrides(cfg *Config) {
	if raw := os.Getenv("OPENCLI_HTTP_PORT"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.Ports.HTTP = v
		}
	}
	if raw := os.Getenv("OPENCLI_PLAIN_WS_PORT"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.Ports.PlainWS = v
		}
	}
	if raw := os.Getenv("OPENCLI_STATUS_PORT"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.Ports.Status = v
		}
	}
	if raw := os.Getenv("OPENCLI_LOG_LEVEL"); raw != "" {
		cfg.LogLevel = raw
	}
	if raw := os.Getenv("OPENCLI_AUTH_SHARED_SECRET"); raw != "" {
		cfg.AuthSharedSecret = raw
	}
	if raw := os.Getenv("OPENCLI_DOCKER_HOST"); raw != "" {
		cfg.DockerHost = raw
	}
	if raw := os.Getenv("OPENWEATHER_API_KEY"); raw != "" {
		cfg.setAPIKey("openweather", raw)
	}
	if raw := os.Getenv("STABILITY_API_KEY"); raw != "" {
		cfg.setAPIKey("stability", raw)
	}
	if raw := os.Getenv("ELEVENLABS_API_KEY"); raw != "" {
		cfg.setAPIKey("elevenlabs", raw)
	}
}

func (c *Config) setAPIKey(name, value string) {
	if c.APIKeys == nil {
		c.APIKeys = make(map[string]string)
	}
	c.APIKeys[name] = value
}

// APIKey returns the configured credential for a named provider.
func (c Config) APIKey(name string) string {
	if c.APIKeys == nil {
		return ""
	}
	return c.APIKeys[name]
}

// Fingerprint returns a stable hash of the active config, surfaced at
// GET /api/v1/status so clients can detect a config change across polls.
func (c Config) Fingerprint() string {
	h := fnv.New64a()
	fmt.Fprintf(h, "http=%d|plainws=%d|status=%d|log=%s|cors=%v",
		c.Ports.HTTP, c.Ports.PlainWS, c.Ports.Status, c.LogLevel, c.CORS.AllowedOrigins)
	return fmt.Sprintf("cfg-%x", h.Sum64())
}

// MaskedAPIKeys implements the GET /api/v1/config masking rule: keys
// longer than 8 characters and not starting with "${" (an unexpanded
// secret reference) show only a "****"+last-4 suffix; everything else is
// hidden entirely behind "****".
func (c Config) MaskedAPIKeys() map[string]string {
	out := make(map[string]string, len(c.APIKeys))
	for k, v := range c.APIKeys {
		out[k] = maskSecret(v)
	}
	return out
}

func maskSecret(v string) string {
	if v == "" {
		return ""
	}
	if strings.HasPrefix(v, "${") {
		return v
	}
	if len(v) > 8 {
		return "****" + v[len(v)-4:]
	}
	return "****"
}

// AsYAMLMap renders the config as a generic map suitable for the
// GET/POST /api/v1/config endpoint, with API keys masked.
func (c Config) AsYAMLMap() (map[string]any, error) {
	b, err := yaml.Marshal(c)
	if err != nil {
		return nil, err
	}
	out := make(map[string]any)
	if err := yaml.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	out["api_keys"] = c.MaskedAPIKeys()
	return out, nil
}
