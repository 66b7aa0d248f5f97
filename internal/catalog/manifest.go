// Package catalog loads domain manifests — small JSON/YAML descriptors
// that bind a task_type to an HTTP endpoint without requiring a compiled
// Go plugin — and watches the manifest directory for changes so the
// operator can add integrations without a daemon restart.
//
// A manifest-defined domain is registered into the registry once, at
// startup, alongside the built-in domains: the registry's "published
// once, read thereafter" discipline (internal/domain) means nothing after
// SetGlobal may add or remove task_types. The post-startup fsnotify
// watcher therefore only re-validates manifests and announces
// bus.TopicCatalogUpdated; picking up an added or edited manifest still
// requires a restart, which the announcement is meant to prompt.
package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Manifest describes one externally-defined domain: a stable identity, the
// task_types it claims, the HTTP endpoint task execution is forwarded to,
// and the display metadata clients need to render its task cards.
type Manifest struct {
	DomainID  string                     `json:"domain_id"`
	TaskTypes []string                   `json:"task_types"`
	Endpoint  string                     `json:"endpoint"`
	TimeoutMS int                        `json:"timeout_ms,omitempty"`
	Display   map[string]ManifestDisplay `json:"display,omitempty"`
}

// ManifestDisplay mirrors domain.DisplayConfig's JSON shape so manifest
// authors use the same field names clients already expect.
type ManifestDisplay struct {
	CardType      string `json:"card_type"`
	Icon          string `json:"icon"`
	TitleTemplate string `json:"title_template"`
	Color         string `json:"color"`
}

// manifestSchemaJSON is the JSON Schema every manifest file is validated
// against before it is admitted to the registry. Kept inline rather than
// an embedded asset: it is small, and a manifest author reading this file
// should see their contract in one place.
const manifestSchemaJSON = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["domain_id", "task_types", "endpoint"],
	"properties": {
		"domain_id": {"type": "string", "minLength": 1},
		"task_types": {
			"type": "array",
			"minItems": 1,
			"items": {"type": "string", "minLength": 1}
		},
		"endpoint": {"type": "string", "minLength": 1},
		"timeout_ms": {"type": "integer", "minimum": 1},
		"display": {
			"type": "object",
			"additionalProperties": {
				"type": "object",
				"properties": {
					"card_type": {"type": "string"},
					"icon": {"type": "string"},
					"title_template": {"type": "string"},
					"color": {"type": "string"}
				}
			}
		}
	}
}`

// compileManifestSchema compiles manifestSchemaJSON once; callers share the
// result since jsonschema.Schema is safe for concurrent Validate calls.
func compileManifestSchema() (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(manifestSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal manifest schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("manifest.json", doc); err != nil {
		return nil, fmt.Errorf("add manifest schema resource: %w", err)
	}
	schema, err := c.Compile("manifest.json")
	if err != nil {
		return nil, fmt.Errorf("compile manifest schema: %w", err)
	}
	return schema, nil
}

// ParseManifest validates raw against the manifest schema and decodes it.
// Validation failures name the offending path, matching how
// internal/engine callers report jsonschema errors upstream.
func ParseManifest(schema *jsonschema.Schema, raw []byte) (Manifest, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(raw)))
	if err != nil {
		return Manifest{}, fmt.Errorf("invalid JSON: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return Manifest{}, fmt.Errorf("manifest schema validation failed: %w", err)
	}

	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return Manifest{}, fmt.Errorf("decode manifest: %w", err)
	}
	return m, nil
}

// LoadDir reads every *.json file directly under dir, validates it, and
// returns the parsed manifests sorted by domain_id for deterministic
// registration order. A directory that does not exist yields an empty
// result rather than an error: manifest support is optional.
func LoadDir(dir string) ([]Manifest, error) {
	if dir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read manifest dir %s: %w", dir, err)
	}

	schema, err := compileManifestSchema()
	if err != nil {
		return nil, err
	}

	var manifests []Manifest
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read manifest %s: %w", path, err)
		}
		m, err := ParseManifest(schema, raw)
		if err != nil {
			return nil, fmt.Errorf("manifest %s: %w", path, err)
		}
		manifests = append(manifests, m)
	}

	sort.Slice(manifests, func(i, j int) bool { return manifests[i].DomainID < manifests[j].DomainID })
	return manifests, nil
}
