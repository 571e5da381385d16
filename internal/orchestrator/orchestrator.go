// Package orchestrator owns the generation lifecycle: it validates requests,
// creates queued records, and runs each record's synthesis pipeline in a
// detached background goroutine. The create call returns as soon as the
// record exists; clients observe progress by polling the record's status.
package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"acestudio/internal/covertheme"
	"acestudio/internal/domain"
	"acestudio/internal/engine"
	"acestudio/internal/llm"
	"acestudio/internal/settings"
)

// CoverGenerator produces album art for a record. Implementations return ""
// when no cover could be made; cover failures never fail the pipeline.
type CoverGenerator interface {
	Enabled() bool
	GenerateCover(ctx context.Context, generationID, prompt string) string
}

// PromptGateway runs text-generation tasks. It degrades instead of failing.
type PromptGateway interface {
	Run(ctx context.Context, req llm.Request) llm.Response
}

// Options wires an Orchestrator.
type Options struct {
	Repo           domain.GenerationRepository
	Engine         engine.Synthesizer
	Covers         CoverGenerator
	Gateway        PromptGateway
	Settings       *settings.Store
	GenerationsDir string
	Logger         zerolog.Logger
}

// Orchestrator coordinates record persistence, the audio engine, and cover
// generation. Pipelines are tracked so covers can be cancelled the moment
// their audio job fails and so tests can wait for completion.
type Orchestrator struct {
	repo           domain.GenerationRepository
	engine         engine.Synthesizer
	covers         CoverGenerator
	gateway        PromptGateway
	settings       *settings.Store
	generationsDir string
	logger         zerolog.Logger

	mu        sync.Mutex
	pipelines map[string]*pipeline
}

type pipeline struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates an orchestrator.
func New(opts Options) *Orchestrator {
	return &Orchestrator{
		repo:           opts.Repo,
		engine:         opts.Engine,
		covers:         opts.Covers,
		gateway:        opts.Gateway,
		settings:       opts.Settings,
		generationsDir: opts.GenerationsDir,
		logger:         opts.Logger,
		pipelines:      make(map[string]*pipeline),
	}
}

// CreateRequest is the payload for a new generation.
type CreateRequest struct {
	Title              string          `json:"title"`
	TaskType           domain.TaskType `json:"task_type"`
	Mode               domain.Mode     `json:"mode"`
	ModelVariant       domain.Variant  `json:"model_variant"`
	Prompt             string          `json:"prompt"`
	Lyrics             string          `json:"lyrics"`
	Instrumental       bool            `json:"instrumental"`
	BPM                *int            `json:"bpm"`
	DurationSeconds    *float64        `json:"duration_seconds"`
	Key                string          `json:"key"`
	TimeSignature      string          `json:"time_signature"`
	CoverStrength      *int            `json:"cover_strength"`
	SourceAudioPath    string          `json:"source_audio_path"`
	ReferenceAudioPath string          `json:"reference_audio_path"`
	Metadata           domain.Metadata `json:"metadata"`
}

func (r *CreateRequest) validate() error {
	switch r.TaskType {
	case "", domain.TaskText2Music, domain.TaskCover, domain.TaskRepaint:
	default:
		return fmt.Errorf("%w: unknown task type %q", domain.ErrInvalidInput, r.TaskType)
	}
	switch r.Mode {
	case "", domain.ModeSimple, domain.ModeCustom:
	default:
		return fmt.Errorf("%w: unknown mode %q", domain.ErrInvalidInput, r.Mode)
	}
	switch r.ModelVariant {
	case "", domain.VariantBase, domain.VariantTurbo, domain.VariantShift:
	default:
		return fmt.Errorf("%w: unknown model variant %q", domain.ErrInvalidInput, r.ModelVariant)
	}
	if r.BPM != nil && (*r.BPM < 30 || *r.BPM > 300) {
		return fmt.Errorf("%w: bpm must be between 30 and 300", domain.ErrInvalidInput)
	}
	if r.DurationSeconds != nil && (*r.DurationSeconds < 10 || *r.DurationSeconds > 600) {
		return fmt.Errorf("%w: duration must be between 10 and 600 seconds", domain.ErrInvalidInput)
	}
	if r.CoverStrength != nil && (*r.CoverStrength < 0 || *r.CoverStrength > 100) {
		return fmt.Errorf("%w: cover strength must be between 0 and 100", domain.ErrInvalidInput)
	}
	if (r.TaskType == domain.TaskCover || r.TaskType == domain.TaskRepaint) && r.SourceAudioPath == "" {
		return fmt.Errorf("%w: %s requires a source audio file", domain.ErrInvalidInput, r.TaskType)
	}
	if strings.TrimSpace(r.Prompt) == "" && strings.TrimSpace(r.Lyrics) == "" && r.TaskType != domain.TaskRepaint {
		return fmt.Errorf("%w: prompt or lyrics required", domain.ErrInvalidInput)
	}
	return nil
}

// Create validates the request, persists a queued record, and starts its
// pipeline. The returned record reflects the queued state.
func (o *Orchestrator) Create(ctx context.Context, req CreateRequest) (*domain.Generation, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	cfg := o.settings.Get()

	taskType := req.TaskType
	if taskType == "" {
		taskType = domain.TaskText2Music
	}
	mode := req.Mode
	if mode == "" {
		mode = domain.ModeSimple
	}
	variant := req.ModelVariant
	if variant == "" {
		variant = domain.Variant(cfg.DefaultModelVariant)
	}

	now := time.Now().UTC()
	g := &domain.Generation{
		ID:                 uuid.NewString(),
		Title:              strings.TrimSpace(req.Title),
		TaskType:           taskType,
		Mode:               mode,
		ModelVariant:       variant,
		Status:             domain.StatusQueued,
		Prompt:             strings.TrimSpace(req.Prompt),
		Lyrics:             req.Lyrics,
		Instrumental:       req.Instrumental,
		BPM:                req.BPM,
		DurationSeconds:    req.DurationSeconds,
		Key:                req.Key,
		TimeSignature:      req.TimeSignature,
		CoverStrength:      req.CoverStrength,
		SourceAudioPath:    req.SourceAudioPath,
		ReferenceAudioPath: req.ReferenceAudioPath,
		Metadata:           req.Metadata.Clone(),
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if g.Title == "" {
		g.Title = "Untitled"
	}
	g.CoverColor, g.CoverIcon = covertheme.Derive(g.ID)

	if err := o.repo.Create(ctx, g); err != nil {
		return nil, fmt.Errorf("create generation: %w", err)
	}

	o.start(g.ID)
	return g, nil
}

// start registers and launches the record's pipeline goroutine. The pipeline
// runs detached from the request context: the creating request finishing, or
// even failing, must not cancel the synthesis.
func (o *Orchestrator) start(id string) {
	ctx, cancel := context.WithCancel(context.Background())
	p := &pipeline{cancel: cancel, done: make(chan struct{})}

	o.mu.Lock()
	o.pipelines[id] = p
	o.mu.Unlock()

	go func() {
		defer func() {
			close(p.done)
			o.mu.Lock()
			delete(o.pipelines, id)
			o.mu.Unlock()
			cancel()
		}()
		o.run(ctx, id)
	}()
}

// Wait blocks until the record's pipeline finishes. Records without a running
// pipeline return immediately.
func (o *Orchestrator) Wait(id string) {
	o.mu.Lock()
	p := o.pipelines[id]
	o.mu.Unlock()
	if p != nil {
		<-p.done
	}
}

// run drives one record through synthesis. The cover render starts
// concurrently with the audio job; its commit is strictly ordered after the
// audio commit, and it is abandoned when the audio job fails.
func (o *Orchestrator) run(ctx context.Context, id string) {
	g, err := o.repo.GetByID(ctx, id)
	if err != nil {
		o.logger.Error().Err(err).Str("generation_id", id).Msg("pipeline: record vanished before start")
		return
	}
	logger := o.logger.With().Str("generation_id", id).Logger()

	imgCtx, imgCancel := context.WithCancel(ctx)
	defer imgCancel()
	coverCh := make(chan string, 1)
	go func() {
		coverCh <- o.covers.GenerateCover(imgCtx, id, o.coverPrompt(g))
	}()

	outputDir := filepath.Join(o.generationsDir, id)
	result, err := o.synthesize(ctx, g, outputDir)
	if err != nil {
		logger.Error().Err(err).Msg("pipeline: synthesis failed")
		imgCancel()
		o.commit(id, func(rec *domain.Generation) {
			rec.Status = domain.StatusFailed
			rec.ErrorMessage = err.Error()
		})
		<-coverCh
		return
	}

	o.commit(id, func(rec *domain.Generation) {
		rec.Status = domain.StatusReady
		rec.OutputAudioPath = result.FirstAudioPath()
		if result.Prompt != "" {
			rec.Prompt = result.Prompt
		}
		if result.Lyrics != "" {
			rec.Lyrics = result.Lyrics
		}
		if result.BPM != nil {
			rec.BPM = result.BPM
		}
		if result.DurationSeconds != nil {
			rec.DurationSeconds = result.DurationSeconds
		}
		if result.Key != "" {
			rec.Key = result.Key
		}
		if result.TimeSignature != "" {
			rec.TimeSignature = result.TimeSignature
		}
		rec.Metadata = rec.Metadata.Merge(result.Metadata)
	})
	logger.Info().Msg("pipeline: audio ready")

	// Cover commit happens only after the audio commit, so a reader never
	// sees artwork on a record that is still queued.
	if cover := <-coverCh; cover != "" {
		o.commit(id, func(rec *domain.Generation) {
			rec.CoverImagePath = cover
		})
		logger.Info().Str("cover", cover).Msg("pipeline: cover ready")
	}
}

func (o *Orchestrator) synthesize(ctx context.Context, g *domain.Generation, outputDir string) (*engine.Result, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	if err := o.engine.EnsureVariant(ctx, g.ModelVariant); err != nil {
		return nil, err
	}
	return o.engine.Generate(ctx, g, outputDir)
}

// coverPrompt picks the text fed to the image backend: an explicit image
// prompt wins, then the song prompt, then the title.
func (o *Orchestrator) coverPrompt(g *domain.Generation) string {
	if p := g.Metadata.String(domain.MetaImagePrompt); p != "" {
		return p
	}
	if g.Prompt != "" {
		return g.Prompt
	}
	return g.Title
}

// commit re-reads the record, applies the mutation, and writes it back.
// Terminal statuses never revert: a mutation that would move a finished
// record back to queued is dropped.
func (o *Orchestrator) commit(id string, mutate func(*domain.Generation)) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	rec, err := o.repo.GetByID(ctx, id)
	if err != nil {
		o.logger.Error().Err(err).Str("generation_id", id).Msg("pipeline: commit read failed")
		return
	}
	prev := rec.Status
	mutate(rec)
	if prev.Terminal() && rec.Status != prev {
		rec.Status = prev
	}
	rec.UpdatedAt = time.Now().UTC()
	if err := o.repo.Update(ctx, rec); err != nil {
		o.logger.Error().Err(err).Str("generation_id", id).Msg("pipeline: commit write failed")
	}
}
