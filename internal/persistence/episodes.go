package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/opencli/daemon/internal/episode"
)

// EpisodeRow is the persisted shape of an episode.Script plus linkage to the
// pipeline it was last compiled into.
type EpisodeRow struct {
	ID         string             `json:"id"`
	Title      string             `json:"title"`
	Synopsis   string             `json:"synopsis"`
	Characters []episode.Character `json:"characters"`
	Scenes     []episode.Scene     `json:"scenes"`
	PipelineID string             `json:"pipeline_id,omitempty"`
	CreatedAt  time.Time          `json:"created_at"`
	UpdatedAt  time.Time          `json:"updated_at"`
}

func (r EpisodeRow) ToScript() episode.Script {
	return episode.Script{
		ID:         r.ID,
		Title:      r.Title,
		Synopsis:   r.Synopsis,
		Characters: r.Characters,
		Scenes:     r.Scenes,
	}
}

func (s *Store) CreateEpisode(ctx context.Context, row EpisodeRow) (EpisodeRow, error) {
	charsJSON, err := json.Marshal(row.Characters)
	if err != nil {
		return EpisodeRow{}, fmt.Errorf("marshal characters: %w", err)
	}
	scenesJSON, err := json.Marshal(row.Scenes)
	if err != nil {
		return EpisodeRow{}, fmt.Errorf("marshal scenes: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO episodes (id, title, synopsis, characters, scenes, pipeline_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title=excluded.title, synopsis=excluded.synopsis,
			characters=excluded.characters, scenes=excluded.scenes,
			pipeline_id=excluded.pipeline_id, updated_at=excluded.updated_at
	`, row.ID, row.Title, row.Synopsis, string(charsJSON), string(scenesJSON),
		nullableString(row.PipelineID), row.CreatedAt, row.UpdatedAt)
	if err != nil {
		return EpisodeRow{}, fmt.Errorf("insert episode: %w", err)
	}
	return row, nil
}

func (s *Store) GetEpisode(ctx context.Context, id string) (EpisodeRow, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, title, synopsis, characters, scenes, pipeline_id, created_at, updated_at
		FROM episodes WHERE id = ?`, id)
	return scanEpisodeRow(row)
}

func (s *Store) ListEpisodes(ctx context.Context) ([]EpisodeRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, synopsis, characters, scenes, pipeline_id, created_at, updated_at
		FROM episodes ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list episodes: %w", err)
	}
	defer rows.Close()

	var out []EpisodeRow
	for rows.Next() {
		r, err := scanEpisodeRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) DeleteEpisode(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM episodes WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete episode: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// LinkEpisodePipeline records which pipeline an episode last compiled to,
// so repeated /build-pipeline calls for the same episode update one row
// instead of accumulating duplicates.
func (s *Store) LinkEpisodePipeline(ctx context.Context, episodeID, pipelineID string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE episodes SET pipeline_id = ?, updated_at = ? WHERE id = ?`,
		pipelineID, time.Now().UTC(), episodeID)
	if err != nil {
		return fmt.Errorf("link episode pipeline: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanEpisodeRow(r rowScanner) (EpisodeRow, error) {
	var row EpisodeRow
	var charsJSON, scenesJSON string
	var pipelineID sql.NullString
	err := r.Scan(&row.ID, &row.Title, &row.Synopsis, &charsJSON, &scenesJSON,
		&pipelineID, &row.CreatedAt, &row.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return EpisodeRow{}, ErrNotFound
	}
	if err != nil {
		return EpisodeRow{}, fmt.Errorf("scan episode row: %w", err)
	}
	if pipelineID.Valid {
		row.PipelineID = pipelineID.String
	}
	if err := json.Unmarshal([]byte(charsJSON), &row.Characters); err != nil {
		return EpisodeRow{}, fmt.Errorf("unmarshal characters: %w", err)
	}
	if err := json.Unmarshal([]byte(scenesJSON), &row.Scenes); err != nil {
		return EpisodeRow{}, fmt.Errorf("unmarshal scenes: %w", err)
	}
	return row, nil
}
