package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"acestudio/internal/domain"
	"acestudio/internal/llm"
)

// Get returns one record.
func (o *Orchestrator) Get(ctx context.Context, id string) (*domain.Generation, error) {
	return o.repo.GetByID(ctx, id)
}

// List returns the most recent records, newest first.
func (o *Orchestrator) List(ctx context.Context, limit int) ([]domain.Generation, error) {
	if limit <= 0 {
		limit = 50
	}
	return o.repo.ListRecent(ctx, limit)
}

// UpdateRequest carries the user-editable fields of a record.
type UpdateRequest struct {
	Title      *string         `json:"title"`
	Prompt     *string         `json:"prompt"`
	Lyrics     *string         `json:"lyrics"`
	CoverColor *string         `json:"cover_color"`
	CoverIcon  *string         `json:"cover_icon"`
	Meta       domain.Metadata `json:"metadata"`
}

// Update applies a partial edit to a record's descriptive fields. Pipeline
// state (status, output paths) is not editable through this path.
func (o *Orchestrator) Update(ctx context.Context, id string, req UpdateRequest) (*domain.Generation, error) {
	rec, err := o.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Title != nil {
		title := strings.TrimSpace(*req.Title)
		if title == "" {
			return nil, fmt.Errorf("%w: title cannot be empty", domain.ErrInvalidInput)
		}
		rec.Title = title
	}
	if req.Prompt != nil {
		rec.Prompt = *req.Prompt
	}
	if req.Lyrics != nil {
		rec.Lyrics = *req.Lyrics
	}
	if req.CoverColor != nil {
		rec.CoverColor = *req.CoverColor
	}
	if req.CoverIcon != nil {
		rec.CoverIcon = *req.CoverIcon
	}
	if len(req.Meta) > 0 {
		rec.Metadata = rec.Metadata.Merge(req.Meta)
	}
	rec.UpdatedAt = time.Now().UTC()
	if err := o.repo.Update(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Delete removes the record and its output directory. A pipeline still
// running for the record is cancelled first.
func (o *Orchestrator) Delete(ctx context.Context, id string) error {
	o.mu.Lock()
	if p, ok := o.pipelines[id]; ok {
		p.cancel()
	}
	o.mu.Unlock()

	rec, err := o.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := o.repo.Delete(ctx, id); err != nil {
		return err
	}

	// Output cleanup is best effort; the record is already gone.
	dir := filepath.Join(o.generationsDir, id)
	if err := os.RemoveAll(dir); err != nil {
		o.logger.Warn().Err(err).Str("generation_id", id).Msg("delete: removing output dir failed")
	}
	if rec.OutputAudioPath != "" && !strings.HasPrefix(rec.OutputAudioPath, dir) {
		if err := os.Remove(rec.OutputAudioPath); err != nil && !os.IsNotExist(err) {
			o.logger.Warn().Err(err).Str("generation_id", id).Msg("delete: removing audio failed")
		}
	}
	return nil
}

// UploadCover replaces the record's artwork with user-supplied image bytes.
func (o *Orchestrator) UploadCover(ctx context.Context, id string, data []byte) (*domain.Generation, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty image", domain.ErrInvalidInput)
	}
	rec, err := o.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	dir := filepath.Join(o.generationsDir, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("cover_upload_%d.png", time.Now().Unix()))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return nil, fmt.Errorf("write cover: %w", err)
	}

	o.removeCoverFile(rec)
	rec.CoverImagePath = path
	rec.UpdatedAt = time.Now().UTC()
	if err := o.repo.Update(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// DeleteCover removes the record's artwork, falling back to the derived
// color/icon theme.
func (o *Orchestrator) DeleteCover(ctx context.Context, id string) (*domain.Generation, error) {
	rec, err := o.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	o.removeCoverFile(rec)
	rec.CoverImagePath = ""
	rec.UpdatedAt = time.Now().UTC()
	if err := o.repo.Update(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// RegenerateCover derives a fresh image prompt for the record and renders new
// artwork synchronously. The gateway runs on every call, seeded with the
// previously cached image prompt when one exists, so repeated regeneration
// produces new art instead of replaying the same prompt. It fails fast when
// no image backend is configured.
func (o *Orchestrator) RegenerateCover(ctx context.Context, id string) (*domain.Generation, error) {
	if !o.covers.Enabled() {
		return nil, domain.ErrImageDisabled
	}
	rec, err := o.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	seed := rec.Metadata.String(domain.MetaImagePrompt)
	if seed == "" {
		seed = rec.Prompt
	}
	if seed == "" {
		seed = rec.Title
	}
	resp := o.gateway.Run(ctx, llm.Request{
		Task:         llm.TaskImage,
		SeedPrompt:   seed,
		Instrumental: rec.Instrumental,
	})
	prompt := resp.Output
	if prompt == "" {
		prompt = seed
	}

	cover := o.covers.GenerateCover(ctx, id, prompt)
	if cover == "" {
		return nil, domain.ErrNoCoverProduced
	}

	rec.CoverImagePath = cover
	if rec.Metadata == nil {
		rec.Metadata = domain.Metadata{}
	}
	rec.Metadata[domain.MetaImagePrompt] = prompt
	rec.UpdatedAt = time.Now().UTC()
	if err := o.repo.Update(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func (o *Orchestrator) removeCoverFile(rec *domain.Generation) {
	if rec.CoverImagePath == "" {
		return
	}
	if err := os.Remove(rec.CoverImagePath); err != nil && !os.IsNotExist(err) {
		o.logger.Debug().Err(err).Str("generation_id", rec.ID).Msg("cover: removing previous file failed")
	}
}
