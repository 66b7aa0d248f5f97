package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/opencli/daemon/internal/config"
	"github.com/opencli/daemon/internal/domain"
	"github.com/opencli/daemon/internal/episode"
	"github.com/opencli/daemon/internal/persistence"
	"github.com/opencli/daemon/internal/pipeline"
)

// HTTPConfig bundles every collaborator the REST surface needs. The
// gateway package never constructs these itself — main wires them once at
// startup and hands them in, matching the registry's "published once,
// read thereafter" discipline.
type HTTPConfig struct {
	Cfg      *config.Config
	Store    *persistence.Store
	Registry *domain.Registry
	Engine   *pipeline.Engine
	Sessions *Sessions
	Version  string
	StartedAt time.Time
}

// NewHandler builds the HTTP+WS mux served on the primary gateway port
// (§6: port 9529). CORS and request-size middleware wrap every route.
func NewHandler(h HTTPConfig) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/ws", h.Sessions.ServeHTTP)
	mux.HandleFunc("/health", h.handleHealth)
	mux.HandleFunc("/api/v1/status", h.handleStatus)
	mux.HandleFunc("/api/v1/config", h.handleConfig)
	mux.HandleFunc("/api/v1/nodes/catalog", h.handleCatalog)
	mux.HandleFunc("/api/v1/pipelines", h.handlePipelinesCollection)
	mux.HandleFunc("/api/v1/pipelines/", h.handlePipelinesItem)
	mux.HandleFunc("/api/v1/episodes", h.handleEpisodesCollection)
	mux.HandleFunc("/api/v1/episodes/", h.handleEpisodesItem)
	mux.HandleFunc("/api/v1/execute", h.handleExecute)
	mux.HandleFunc("/api/v1/files/", h.handleFiles)

	cors := NewCORSMiddleware(h.Cfg.CORS)
	sizeLimit := RequestSizeLimitMiddleware(10 * 1024 * 1024)
	return cors(sizeLimit(mux))
}

func (h HTTPConfig) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (h HTTPConfig) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"version":   h.Version,
		"timestamp": time.Now().UTC(),
	})
}

func (h HTTPConfig) handleConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		out, err := h.Cfg.AsYAMLMap()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, out)
	case http.MethodPost:
		var patch map[string]any
		if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		// The daemon reloads config.yaml from disk via its fsnotify
		// watcher; POST here only persists the requested fields.
		if err := mergeConfigPatch(h.Cfg, patch); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		out, _ := h.Cfg.AsYAMLMap()
		writeJSON(w, http.StatusOK, out)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func mergeConfigPatch(cfg *config.Config, patch map[string]any) error {
	if v, ok := patch["log_level"].(string); ok {
		cfg.LogLevel = v
	}
	if keys, ok := patch["api_keys"].(map[string]any); ok {
		for k, v := range keys {
			s, ok := v.(string)
			if !ok {
				continue
			}
			if strings.HasPrefix(s, "****") {
				continue // masked placeholder echoed back unchanged
			}
			if cfg.APIKeys == nil {
				cfg.APIKeys = make(map[string]string)
			}
			cfg.APIKeys[k] = s
		}
	}
	return nil
}

func (h HTTPConfig) handleCatalog(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.Registry.Catalog())
}

// --- pipelines ---

func (h HTTPConfig) handlePipelinesCollection(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	switch r.Method {
	case http.MethodGet:
		rows, err := h.Store.ListPipelines(ctx)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, rows)
	case http.MethodPost:
		var row persistence.PipelineRow
		if err := json.NewDecoder(r.Body).Decode(&row); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if row.ID == "" {
			row.ID = uuid.NewString()
		}
		now := time.Now().UTC()
		row.CreatedAt, row.UpdatedAt = now, now
		saved, err := h.Store.CreatePipeline(ctx, row)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusCreated, saved)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (h HTTPConfig) handlePipelinesItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/pipelines/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	id := parts[0]
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing pipeline id")
		return
	}

	if len(parts) == 2 && parts[1] == "run" && r.Method == http.MethodPost {
		h.runPipeline(w, r, id, "", nil)
		return
	}
	if len(parts) == 3 && parts[1] == "run-from" && r.Method == http.MethodPost {
		h.runPipeline(w, r, id, parts[2], nil)
		return
	}

	switch r.Method {
	case http.MethodGet:
		row, err := h.Store.GetPipeline(ctx, id)
		if err != nil {
			writeNotFoundOr500(w, err)
			return
		}
		writeJSON(w, http.StatusOK, row)
	case http.MethodPut:
		var row persistence.PipelineRow
		if err := json.NewDecoder(r.Body).Decode(&row); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		row.ID = id
		existing, err := h.Store.GetPipeline(ctx, id)
		if err == nil {
			row.CreatedAt = existing.CreatedAt
		} else {
			row.CreatedAt = time.Now().UTC()
		}
		row.UpdatedAt = time.Now().UTC()
		saved, err := h.Store.CreatePipeline(ctx, row)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, saved)
	case http.MethodDelete:
		if err := h.Store.DeletePipeline(ctx, id); err != nil {
			writeNotFoundOr500(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"deleted": id})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

type runRequest struct {
	Parameters      map[string]any            `json:"parameters"`
	PreviousResults map[string]map[string]any `json:"previous_results"`
}

func (h HTTPConfig) runPipeline(w http.ResponseWriter, r *http.Request, id, startFromNode string, _ any) {
	ctx := r.Context()
	row, err := h.Store.GetPipeline(ctx, id)
	if err != nil {
		writeNotFoundOr500(w, err)
		return
	}

	var body runRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&body)
	}

	result := h.Engine.Run(ctx, row.ToPipeline(), pipeline.RunOptions{
		OverrideParams:  body.Parameters,
		StartFromNode:   startFromNode,
		PreviousResults: body.PreviousResults,
		Cancelled:       func() bool { return false },
	})
	writeJSON(w, http.StatusOK, result)
}

// --- episodes ---

func (h HTTPConfig) handleEpisodesCollection(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	switch r.Method {
	case http.MethodGet:
		rows, err := h.Store.ListEpisodes(ctx)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, rows)
	case http.MethodPost:
		var row persistence.EpisodeRow
		if err := json.NewDecoder(r.Body).Decode(&row); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if row.ID == "" {
			row.ID = uuid.NewString()
		}
		now := time.Now().UTC()
		row.CreatedAt, row.UpdatedAt = now, now
		saved, err := h.Store.CreateEpisode(ctx, row)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusCreated, saved)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (h HTTPConfig) handleEpisodesItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/episodes/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	id := parts[0]
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing episode id")
		return
	}

	if len(parts) == 2 && parts[1] == "generate" && r.Method == http.MethodPost {
		h.generateEpisode(w, r, id)
		return
	}
	if len(parts) == 2 && parts[1] == "build-pipeline" && r.Method == http.MethodPost {
		h.buildPipeline(w, r, id)
		return
	}

	switch r.Method {
	case http.MethodGet:
		row, err := h.Store.GetEpisode(ctx, id)
		if err != nil {
			writeNotFoundOr500(w, err)
			return
		}
		writeJSON(w, http.StatusOK, row)
	case http.MethodPut:
		var row persistence.EpisodeRow
		if err := json.NewDecoder(r.Body).Decode(&row); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		row.ID = id
		existing, err := h.Store.GetEpisode(ctx, id)
		if err == nil {
			row.CreatedAt = existing.CreatedAt
		} else {
			row.CreatedAt = time.Now().UTC()
		}
		row.UpdatedAt = time.Now().UTC()
		saved, err := h.Store.CreateEpisode(ctx, row)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, saved)
	case http.MethodDelete:
		if err := h.Store.DeleteEpisode(ctx, id); err != nil {
			writeNotFoundOr500(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"deleted": id})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (h HTTPConfig) compileSettings(r *http.Request) episode.Settings {
	var settings episode.Settings
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&settings)
	}
	return settings
}

// generateEpisode compiles the episode into a pipeline and runs it in the
// background; per §6, progress for the run streams over WebSocket, not in
// this response.
func (h HTTPConfig) generateEpisode(w http.ResponseWriter, r *http.Request, id string) {
	ctx := r.Context()
	row, err := h.Store.GetEpisode(ctx, id)
	if err != nil {
		writeNotFoundOr500(w, err)
		return
	}
	settings := h.compileSettings(r)
	p := episode.Compile(id, row.ToScript(), settings)

	now := time.Now().UTC()
	if _, err := h.Store.CreatePipeline(ctx, persistence.PipelineRow{
		ID: p.ID, Name: p.Name, Description: p.Description,
		Nodes: p.Nodes, Edges: p.Edges, Parameters: p.Parameters,
		EpisodeID: id, CreatedAt: now, UpdatedAt: now,
	}); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := h.Store.LinkEpisodePipeline(ctx, id, p.ID); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	go func() {
		bgCtx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
		defer cancel()
		h.Engine.Run(bgCtx, p, pipeline.RunOptions{
			Cancelled: func() bool { return false },
		})
	}()

	writeJSON(w, http.StatusAccepted, map[string]any{"pipeline_id": p.ID, "started": true})
}

// buildPipeline compiles and saves the pipeline without running it.
func (h HTTPConfig) buildPipeline(w http.ResponseWriter, r *http.Request, id string) {
	ctx := r.Context()
	row, err := h.Store.GetEpisode(ctx, id)
	if err != nil {
		writeNotFoundOr500(w, err)
		return
	}
	settings := h.compileSettings(r)
	p := episode.Compile(id, row.ToScript(), settings)

	now := time.Now().UTC()
	saved, err := h.Store.CreatePipeline(ctx, persistence.PipelineRow{
		ID: p.ID, Name: p.Name, Description: p.Description,
		Nodes: p.Nodes, Edges: p.Edges, Parameters: p.Parameters,
		EpisodeID: id, CreatedAt: now, UpdatedAt: now,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := h.Store.LinkEpisodePipeline(ctx, id, p.ID); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

// --- execute router ---

type executeRequest struct {
	Method string         `json:"method"`
	Params map[string]any `json:"params"`
}

func (h HTTPConfig) handleExecute(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	switch req.Method {
	case "system.info":
		writeJSON(w, http.StatusOK, map[string]any{
			"version":    h.Version,
			"started_at": h.StartedAt,
		})
		return
	case "system.ping":
		writeJSON(w, http.StatusOK, map[string]any{"pong": true})
		return
	case "domains.list":
		domains := h.Registry.Domains()
		ids := make([]string, 0, len(domains))
		for _, d := range domains {
			ids = append(ids, d.ID())
		}
		writeJSON(w, http.StatusOK, map[string]any{"domains": ids})
		return
	case "domains.task_types":
		writeJSON(w, http.StatusOK, map[string]any{"task_types": h.Registry.AllTaskTypes()})
		return
	}

	taskType := req.Method
	if idx := strings.LastIndex(req.Method, "."); idx != -1 {
		if h.Registry.HandlesTaskType(req.Method) {
			taskType = req.Method
		} else {
			taskType = req.Method[idx+1:]
		}
	}
	if !h.Registry.HandlesTaskType(taskType) {
		writeJSON(w, http.StatusOK, domain.TaskResult{
			Success: false,
			Error:   fmt.Sprintf("No domain handles task type: %s", taskType),
		})
		return
	}
	result := h.Registry.ExecuteTask(r.Context(), taskType, req.Params)
	writeJSON(w, http.StatusOK, result)
}

// --- file serving ---

func (h HTTPConfig) handleFiles(w http.ResponseWriter, r *http.Request) {
	rel := strings.TrimPrefix(r.URL.Path, "/api/v1/files/")
	root := h.Cfg.HomeDir

	requested := filepath.Join(root, rel)
	resolvedRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "cannot resolve root")
		return
	}
	resolved, err := filepath.EvalSymlinks(requested)
	if err != nil {
		if os.IsNotExist(err) {
			writeError(w, http.StatusNotFound, "not found")
			return
		}
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	if !strings.HasPrefix(resolved, resolvedRoot+string(filepath.Separator)) && resolved != resolvedRoot {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	http.ServeFile(w, r, resolved)
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}

func writeNotFoundOr500(w http.ResponseWriter, err error) {
	if errors.Is(err, persistence.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}
