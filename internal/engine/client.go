package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"acestudio/internal/domain"
	"acestudio/internal/llm"
	"acestudio/internal/settings"
)

const (
	defaultGenerateTimeout = 10 * time.Minute
	defaultLoadTimeout     = 5 * time.Minute
	invalidateTimeout      = 5 * time.Second
)

// ClientOptions configures the sidecar client.
type ClientOptions struct {
	BaseURL    string
	Settings   *settings.Store
	HTTPClient *http.Client
	Logger     zerolog.Logger
}

// Client drives the synthesis sidecar over HTTP. Model loads are serialized
// through a weighted semaphore so only one checkpoint swap is in flight at a
// time, and the loaded variant/LM checkpoint are cached so repeat requests
// skip the load round trip.
type Client struct {
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
	settings *settings.Store

	loadSem *semaphore.Weighted

	// guarded by loadSem: only the holder reads or writes these.
	activeVariant domain.Variant
	lmCheckpoint  string
}

var _ Synthesizer = (*Client)(nil)
var _ llm.LocalModel = (*Client)(nil)

// NewClient wires a sidecar client.
func NewClient(opts ClientOptions) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultGenerateTimeout}
	}
	return &Client{
		baseURL:  strings.TrimRight(opts.BaseURL, "/"),
		client:   httpClient,
		logger:   opts.Logger,
		settings: opts.Settings,
		loadSem:  semaphore.NewWeighted(1),
	}
}

type loadModelRequest struct {
	Variant        string `json:"variant"`
	InferenceSteps int    `json:"inference_steps"`
}

type loadLMRequest struct {
	Checkpoint   string `json:"checkpoint"`
	Backend      string `json:"backend"`
	Device       string `json:"device"`
	OffloadToCPU bool   `json:"offload_to_cpu"`
}

type generateRequest struct {
	Params    Params    `json:"params"`
	Config    RunConfig `json:"config"`
	OutputDir string    `json:"output_dir"`
}

type generateResponse struct {
	AudioFiles  []AudioFile    `json:"audio_files"`
	Prompt      string         `json:"prompt"`
	Lyrics      string         `json:"lyrics"`
	Metas       map[string]any `json:"metas"`
	LMMetadata  map[string]any `json:"lm_metadata"`
	TimeCosts   map[string]any `json:"time_costs"`
	SeedValue   string         `json:"seed_value"`
	Success     bool           `json:"success"`
	ErrorDetail string         `json:"error"`
}

type sampleRequest struct {
	Query        string `json:"query"`
	Instrumental bool   `json:"instrumental"`
	Language     string `json:"language,omitempty"`
}

type sampleResponse struct {
	Caption       string `json:"caption"`
	Lyrics        string `json:"lyrics"`
	BPM           int    `json:"bpm"`
	Duration      int    `json:"duration"`
	Keyscale      string `json:"keyscale"`
	Language      string `json:"language"`
	TimeSignature string `json:"timesignature"`
}

// EnsureVariant loads the requested engine variant if it is not already the
// active one. Concurrent callers serialize; the winner pays the load cost and
// the rest observe the cached variant.
func (c *Client) EnsureVariant(ctx context.Context, variant domain.Variant) error {
	if err := c.loadSem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer c.loadSem.Release(1)

	if c.activeVariant == variant {
		return nil
	}
	cfg := c.settings.Get()
	c.logger.Info().Str("variant", string(variant)).Msg("engine: loading model variant")
	err := c.post(ctx, "/v1/models/load", loadModelRequest{
		Variant:        string(variant),
		InferenceSteps: cfg.InferenceSteps(variant),
	}, nil, defaultLoadTimeout)
	if err != nil {
		return fmt.Errorf("load variant %s: %w", variant, err)
	}
	c.activeVariant = variant
	return nil
}

// Generate runs one synthesis job and shapes the sidecar's report into a
// Result. The engine may refine the prompt and lyrics and derive musical
// attributes the caller left blank.
func (c *Client) Generate(ctx context.Context, g *domain.Generation, outputDir string) (*Result, error) {
	cfg := c.settings.Get()
	params, runCfg := BuildParams(g, cfg)

	var resp generateResponse
	err := c.post(ctx, "/v1/generate", generateRequest{
		Params:    params,
		Config:    runCfg,
		OutputDir: outputDir,
	}, &resp, defaultGenerateTimeout)
	if err != nil {
		return nil, fmt.Errorf("generate: %w", err)
	}
	if !resp.Success && resp.ErrorDetail != "" {
		return nil, fmt.Errorf("generate: %s: %w", resp.ErrorDetail, domain.ErrProviderFailure)
	}
	if len(resp.AudioFiles) == 0 {
		return nil, fmt.Errorf("generate: engine returned no audio: %w", domain.ErrProviderFailure)
	}

	metas := normalizeMetas(resp.Metas)
	if _, ok := metas["prompt"]; !ok {
		metas["prompt"] = resp.Prompt
	}
	if _, ok := metas["lyrics"]; !ok {
		metas["lyrics"] = resp.Lyrics
	}

	result := &Result{
		AudioFiles:    resp.AudioFiles,
		Prompt:        resp.Prompt,
		Lyrics:        resp.Lyrics,
		Key:           metas.String("keyscale"),
		TimeSignature: metas.String("timesignature"),
		SeedValue:     resp.SeedValue,
	}
	if v, ok := metas.Int("bpm"); ok {
		result.BPM = &v
	}
	if v, ok := metas.Float("duration"); ok {
		result.DurationSeconds = &v
	}

	merged := domain.Metadata{
		"metas":              map[string]any(metas),
		"final_prompt":       resp.Prompt,
		"final_lyrics":       resp.Lyrics,
		domain.MetaSeedValue: resp.SeedValue,
	}
	if resp.LMMetadata != nil {
		merged["lm_metadata"] = resp.LMMetadata
	}
	if resp.TimeCosts != nil {
		merged["time_costs"] = resp.TimeCosts
	}
	files := make([]any, 0, len(resp.AudioFiles))
	for _, f := range resp.AudioFiles {
		files = append(files, map[string]any{"path": f.Path, "seed": f.Seed})
	}
	merged[domain.MetaAudioFiles] = files
	result.Metadata = merged

	return result, nil
}

// Sample asks the sidecar's embedded language model for a structured track
// plan. The LM checkpoint is loaded lazily on first use and reloaded when the
// configured checkpoint changes.
func (c *Client) Sample(ctx context.Context, query string, instrumental bool, language string) (*llm.Sample, error) {
	cfg := c.settings.Get()
	if err := c.ensureLM(ctx, cfg); err != nil {
		return nil, err
	}

	var resp sampleResponse
	err := c.post(ctx, "/v1/lm/sample", sampleRequest{
		Query:        query,
		Instrumental: instrumental,
		Language:     language,
	}, &resp, defaultGenerateTimeout)
	if err != nil {
		return nil, fmt.Errorf("lm sample: %w", err)
	}
	return &llm.Sample{
		Caption:       resp.Caption,
		Lyrics:        resp.Lyrics,
		BPM:           resp.BPM,
		Duration:      resp.Duration,
		Keyscale:      resp.Keyscale,
		Language:      resp.Language,
		TimeSignature: resp.TimeSignature,
	}, nil
}

func (c *Client) ensureLM(ctx context.Context, cfg settings.Snapshot) error {
	if err := c.loadSem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer c.loadSem.Release(1)

	if c.lmCheckpoint == cfg.LMCheckpoint {
		return nil
	}
	c.logger.Info().Str("checkpoint", cfg.LMCheckpoint).Msg("engine: loading language model")
	err := c.post(ctx, "/v1/lm/load", loadLMRequest{
		Checkpoint:   cfg.LMCheckpoint,
		Backend:      cfg.LMBackend,
		Device:       cfg.LMDevice,
		OffloadToCPU: cfg.LMOffloadToCPU,
	}, nil, defaultLoadTimeout)
	if err != nil {
		return fmt.Errorf("load lm %s: %w", cfg.LMCheckpoint, err)
	}
	c.lmCheckpoint = cfg.LMCheckpoint
	return nil
}

// DownloadModel asks the sidecar to fetch a checkpoint into its local cache.
func (c *Client) DownloadModel(ctx context.Context, name string) error {
	err := c.post(ctx, "/v1/models/download", map[string]string{"name": name}, nil, 0)
	if err != nil {
		return fmt.Errorf("download model %s: %w", name, err)
	}
	return nil
}

// InvalidateModelState drops the load caches so the next request reloads
// against the current settings. The sidecar notification is best effort;
// settings updates must not fail because the engine is down.
func (c *Client) InvalidateModelState() {
	if c.loadSem.TryAcquire(1) {
		c.activeVariant = ""
		c.lmCheckpoint = ""
		c.loadSem.Release(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), invalidateTimeout)
	defer cancel()
	if err := c.post(ctx, "/v1/models/invalidate", struct{}{}, nil, invalidateTimeout); err != nil {
		c.logger.Debug().Err(err).Msg("engine: invalidate notification failed")
	}
}

func (c *Client) post(ctx context.Context, path string, payload any, out any, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		preview := strings.TrimSpace(strings.ReplaceAll(string(raw), "\n", " "))
		if len(preview) > 400 {
			preview = preview[:400]
		}
		return fmt.Errorf("engine status %d: %s", resp.StatusCode, preview)
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
