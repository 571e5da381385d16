// Package repo provides PostgreSQL-backed persistence adapters.
package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"acestudio/internal/domain"
)

// Schema statements for the generations table. Applied one at a time at
// startup (pgx's extended protocol takes a single statement per Exec); every
// statement is idempotent.
var schemaStatements = []string{`
CREATE TABLE IF NOT EXISTS generations (
    id                   TEXT PRIMARY KEY,
    title                TEXT NOT NULL,
    task_type            TEXT NOT NULL,
    mode                 TEXT NOT NULL,
    model_variant        TEXT NOT NULL,
    status               TEXT NOT NULL,
    prompt               TEXT NOT NULL DEFAULT '',
    lyrics               TEXT NOT NULL DEFAULT '',
    instrumental         BOOLEAN NOT NULL DEFAULT FALSE,
    bpm                  INTEGER,
    duration_seconds     DOUBLE PRECISION,
    key_scale            TEXT NOT NULL DEFAULT '',
    time_signature       TEXT NOT NULL DEFAULT '',
    cover_strength       INTEGER,
    source_audio_path    TEXT NOT NULL DEFAULT '',
    reference_audio_path TEXT NOT NULL DEFAULT '',
    metadata_json        JSONB NOT NULL DEFAULT '{}'::jsonb,
    error_message        TEXT NOT NULL DEFAULT '',
    output_audio_path    TEXT NOT NULL DEFAULT '',
    cover_image_path     TEXT NOT NULL DEFAULT '',
    cover_color          TEXT NOT NULL DEFAULT '',
    cover_icon           TEXT NOT NULL DEFAULT '',
    created_at           TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at           TIMESTAMPTZ NOT NULL DEFAULT NOW()
);`,
	`CREATE INDEX IF NOT EXISTS idx_generations_created_at ON generations (created_at DESC);`,
}

// EnsureSchema creates the generations table if it does not exist.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range schemaStatements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// GenerationRepositoryPG implements domain.GenerationRepository.
type GenerationRepositoryPG struct {
	pool *pgxpool.Pool
}

var _ domain.GenerationRepository = (*GenerationRepositoryPG)(nil)

// NewGenerationRepository creates a generation repository backed by PostgreSQL.
func NewGenerationRepository(pool *pgxpool.Pool) *GenerationRepositoryPG {
	return &GenerationRepositoryPG{pool: pool}
}

const generationColumns = `id, title, task_type, mode, model_variant, status, prompt, lyrics,
instrumental, bpm, duration_seconds, key_scale, time_signature, cover_strength,
source_audio_path, reference_audio_path, metadata_json, error_message,
output_audio_path, cover_image_path, cover_color, cover_icon, created_at, updated_at`

// Create inserts a new generation record.
func (r *GenerationRepositoryPG) Create(ctx context.Context, g *domain.Generation) error {
	meta, err := marshalMetadata(g.Metadata)
	if err != nil {
		return err
	}
	query := `
INSERT INTO generations (` + generationColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24);
`
	_, err = r.pool.Exec(ctx, query,
		g.ID, g.Title, g.TaskType, g.Mode, g.ModelVariant, g.Status, g.Prompt, g.Lyrics,
		g.Instrumental, g.BPM, g.DurationSeconds, g.Key, g.TimeSignature, g.CoverStrength,
		g.SourceAudioPath, g.ReferenceAudioPath, meta, g.ErrorMessage,
		g.OutputAudioPath, g.CoverImagePath, g.CoverColor, g.CoverIcon, g.CreatedAt, g.UpdatedAt,
	)
	return err
}

// GetByID fetches one record.
func (r *GenerationRepositoryPG) GetByID(ctx context.Context, id string) (*domain.Generation, error) {
	query := `SELECT ` + generationColumns + ` FROM generations WHERE id = $1;`
	g, err := scanGeneration(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return g, nil
}

// ListRecent returns the newest records first.
func (r *GenerationRepositoryPG) ListRecent(ctx context.Context, limit int) ([]domain.Generation, error) {
	query := `SELECT ` + generationColumns + ` FROM generations ORDER BY created_at DESC LIMIT $1;`
	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Generation
	for rows.Next() {
		g, err := scanGeneration(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *g)
	}
	return out, rows.Err()
}

// Update rewrites the full record.
func (r *GenerationRepositoryPG) Update(ctx context.Context, g *domain.Generation) error {
	meta, err := marshalMetadata(g.Metadata)
	if err != nil {
		return err
	}
	query := `
UPDATE generations
SET title = $2, task_type = $3, mode = $4, model_variant = $5, status = $6,
    prompt = $7, lyrics = $8, instrumental = $9, bpm = $10, duration_seconds = $11,
    key_scale = $12, time_signature = $13, cover_strength = $14,
    source_audio_path = $15, reference_audio_path = $16, metadata_json = $17,
    error_message = $18, output_audio_path = $19, cover_image_path = $20,
    cover_color = $21, cover_icon = $22, updated_at = $23
WHERE id = $1;
`
	tag, err := r.pool.Exec(ctx, query,
		g.ID, g.Title, g.TaskType, g.Mode, g.ModelVariant, g.Status,
		g.Prompt, g.Lyrics, g.Instrumental, g.BPM, g.DurationSeconds,
		g.Key, g.TimeSignature, g.CoverStrength,
		g.SourceAudioPath, g.ReferenceAudioPath, meta,
		g.ErrorMessage, g.OutputAudioPath, g.CoverImagePath,
		g.CoverColor, g.CoverIcon, g.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Delete removes one record.
func (r *GenerationRepositoryPG) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM generations WHERE id = $1;`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanGeneration(row rowScanner) (*domain.Generation, error) {
	var g domain.Generation
	var meta []byte
	if err := row.Scan(
		&g.ID, &g.Title, &g.TaskType, &g.Mode, &g.ModelVariant, &g.Status, &g.Prompt, &g.Lyrics,
		&g.Instrumental, &g.BPM, &g.DurationSeconds, &g.Key, &g.TimeSignature, &g.CoverStrength,
		&g.SourceAudioPath, &g.ReferenceAudioPath, &meta, &g.ErrorMessage,
		&g.OutputAudioPath, &g.CoverImagePath, &g.CoverColor, &g.CoverIcon, &g.CreatedAt, &g.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &g.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata for %s: %w", g.ID, err)
		}
	}
	return &g, nil
}

func marshalMetadata(m domain.Metadata) ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	return data, nil
}
