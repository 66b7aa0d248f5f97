package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/opencli/daemon/internal/pipeline"
)

// ErrNotFound is returned by Get/Update/Delete when no row matches the id.
var ErrNotFound = errors.New("not found")

// PipelineRow is the persisted shape described for the external SQLite
// collaborator: the engine never reads rows directly, only the materialized
// pipeline.Pipeline the HTTP layer builds from one.
type PipelineRow struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Nodes       []pipeline.Node `json:"nodes"`
	Edges       []pipeline.Edge `json:"edges"`
	Parameters  []pipeline.Param `json:"parameters"`
	EpisodeID   string    `json:"episode_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ToPipeline materializes the row into the in-memory type the engine consumes.
func (r PipelineRow) ToPipeline() pipeline.Pipeline {
	return pipeline.Pipeline{
		ID:          r.ID,
		Name:        r.Name,
		Description: r.Description,
		Nodes:       r.Nodes,
		Edges:       r.Edges,
		Parameters:  r.Parameters,
	}
}

func (s *Store) CreatePipeline(ctx context.Context, row PipelineRow) (PipelineRow, error) {
	nodesJSON, err := json.Marshal(row.Nodes)
	if err != nil {
		return PipelineRow{}, fmt.Errorf("marshal nodes: %w", err)
	}
	edgesJSON, err := json.Marshal(row.Edges)
	if err != nil {
		return PipelineRow{}, fmt.Errorf("marshal edges: %w", err)
	}
	paramsJSON, err := json.Marshal(row.Parameters)
	if err != nil {
		return PipelineRow{}, fmt.Errorf("marshal parameters: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO pipelines (id, name, description, nodes, edges, parameters, episode_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name=excluded.name, description=excluded.description,
			nodes=excluded.nodes, edges=excluded.edges, parameters=excluded.parameters,
			episode_id=excluded.episode_id, updated_at=excluded.updated_at
	`, row.ID, row.Name, row.Description, string(nodesJSON), string(edgesJSON), string(paramsJSON),
		nullableString(row.EpisodeID), row.CreatedAt, row.UpdatedAt)
	if err != nil {
		return PipelineRow{}, fmt.Errorf("insert pipeline: %w", err)
	}
	return row, nil
}

func (s *Store) GetPipeline(ctx context.Context, id string) (PipelineRow, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, nodes, edges, parameters, episode_id, created_at, updated_at
		FROM pipelines WHERE id = ?`, id)
	return scanPipelineRow(row)
}

func (s *Store) ListPipelines(ctx context.Context) ([]PipelineRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description, nodes, edges, parameters, episode_id, created_at, updated_at
		FROM pipelines ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list pipelines: %w", err)
	}
	defer rows.Close()

	var out []PipelineRow
	for rows.Next() {
		r, err := scanPipelineRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) DeletePipeline(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM pipelines WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete pipeline: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPipelineRow(r rowScanner) (PipelineRow, error) {
	var row PipelineRow
	var nodesJSON, edgesJSON, paramsJSON string
	var episodeID sql.NullString
	err := r.Scan(&row.ID, &row.Name, &row.Description, &nodesJSON, &edgesJSON, &paramsJSON,
		&episodeID, &row.CreatedAt, &row.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return PipelineRow{}, ErrNotFound
	}
	if err != nil {
		return PipelineRow{}, fmt.Errorf("scan pipeline row: %w", err)
	}
	if episodeID.Valid {
		row.EpisodeID = episodeID.String
	}
	if err := json.Unmarshal([]byte(nodesJSON), &row.Nodes); err != nil {
		return PipelineRow{}, fmt.Errorf("unmarshal nodes: %w", err)
	}
	if err := json.Unmarshal([]byte(edgesJSON), &row.Edges); err != nil {
		return PipelineRow{}, fmt.Errorf("unmarshal edges: %w", err)
	}
	if err := json.Unmarshal([]byte(paramsJSON), &row.Parameters); err != nil {
		return PipelineRow{}, fmt.Errorf("unmarshal parameters: %w", err)
	}
	return row, nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
