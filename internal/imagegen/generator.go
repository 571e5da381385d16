// Package imagegen produces album cover images through one of three
// interchangeable backends: a hosted queue API, a node-graph workflow server,
// or a local txt2img HTTP API. Cover generation is strictly best effort; every
// failure path collapses to "no cover" and the audio pipeline never waits on
// an error from here.
package imagegen

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"acestudio/internal/settings"
)

// CoverSize is the square pixel dimension requested from every backend.
const CoverSize = 1152

const (
	defaultPollInterval = 2 * time.Second
	defaultPollBudget   = 180 * time.Second
	defaultMaxPolls     = 90
)

// coverProvider is one backend. Implementations return raw PNG bytes.
type coverProvider interface {
	generate(ctx context.Context, prompt string) ([]byte, error)
}

// Options configures a Generator.
type Options struct {
	Settings       *settings.Store
	GenerationsDir string
	HTTPClient     *http.Client
	Logger         zerolog.Logger

	// QueueEndpoint overrides the hosted queue submit URL. Tests point this
	// at a local server; production uses the built-in default.
	QueueEndpoint string
	PollInterval  time.Duration
	PollBudget    time.Duration
	MaxPolls      int
}

// Generator resolves the configured backend per call, so a settings update
// takes effect on the next cover without a restart.
type Generator struct {
	settings       *settings.Store
	generationsDir string
	client         *http.Client
	logger         zerolog.Logger

	queueEndpoint string
	pollInterval  time.Duration
	pollBudget    time.Duration
	maxPolls      int
}

// NewGenerator wires a cover generator.
func NewGenerator(opts Options) *Generator {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	interval := opts.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	budget := opts.PollBudget
	if budget <= 0 {
		budget = defaultPollBudget
	}
	maxPolls := opts.MaxPolls
	if maxPolls <= 0 {
		maxPolls = defaultMaxPolls
	}
	return &Generator{
		settings:       opts.Settings,
		generationsDir: opts.GenerationsDir,
		client:         client,
		logger:         opts.Logger,
		queueEndpoint:  opts.QueueEndpoint,
		pollInterval:   interval,
		pollBudget:     budget,
		maxPolls:       maxPolls,
	}
}

// Enabled reports whether a cover backend is currently configured.
func (g *Generator) Enabled() bool {
	return g.settings.Get().ImageProvider != settings.ProviderNone
}

// GenerateCover renders a cover for the given record and persists it under
// the record's output directory. It returns the stored file path, or "" when
// covers are disabled, the prompt is empty, or the backend fails.
func (g *Generator) GenerateCover(ctx context.Context, generationID, prompt string) string {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return ""
	}
	cfg := g.settings.Get()
	provider := g.provider(cfg)
	if provider == nil {
		return ""
	}

	data, err := provider.generate(ctx, prompt)
	if err != nil {
		g.logger.Warn().Err(err).
			Str("provider", cfg.ImageProvider).
			Str("generation_id", generationID).
			Msg("imagegen: cover generation failed")
		return ""
	}
	if len(data) == 0 {
		return ""
	}

	path, err := g.persist(generationID, cfg.ImageProvider, data)
	if err != nil {
		g.logger.Warn().Err(err).Str("generation_id", generationID).Msg("imagegen: persisting cover failed")
		return ""
	}
	return path
}

func (g *Generator) provider(cfg settings.Snapshot) coverProvider {
	switch cfg.ImageProvider {
	case settings.ProviderRemoteQueue:
		return &remoteQueueProvider{
			client:       g.client,
			apiKey:       cfg.RemoteQueueAPIKey,
			endpoint:     g.queueEndpoint,
			pollInterval: g.pollInterval,
			pollBudget:   g.pollBudget,
		}
	case settings.ProviderNodeGraph:
		return &nodeGraphProvider{
			client:       g.client,
			baseURL:      strings.TrimRight(cfg.NodeGraphBaseURL, "/"),
			workflowJSON: cfg.NodeGraphWorkflowJSON,
			pollInterval: g.pollInterval,
			maxPolls:     g.maxPolls,
		}
	case settings.ProviderLocalAPI:
		return &localAPIProvider{
			client:  g.client,
			baseURL: strings.TrimRight(cfg.LocalAPIBaseURL, "/"),
			budget:  g.pollBudget,
		}
	default:
		return nil
	}
}

// persist writes the cover into the record's directory. Filenames are keyed
// by the backend that produced them, and regeneration replaces earlier covers
// from the same backend only, so switching providers never deletes another
// backend's artifact out from under a record that still references it.
func (g *Generator) persist(generationID, provider string, data []byte) (string, error) {
	dir := filepath.Join(g.generationsDir, generationID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}

	if provider == "" {
		provider = "cover"
	}
	stale, _ := filepath.Glob(filepath.Join(dir, "cover_"+provider+"_*.png"))
	for _, old := range stale {
		if err := os.Remove(old); err != nil {
			g.logger.Debug().Err(err).Str("path", old).Msg("imagegen: removing stale cover failed")
		}
	}

	name := fmt.Sprintf("cover_%s_%d.png", provider, time.Now().Unix())
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write cover: %w", err)
	}
	return path, nil
}
