// Package llm routes text-generation tasks across providers: a remote
// OpenAI-compatible chat endpoint with bounded retry, then the local
// embedded language model, then an identity passthrough. The gateway never
// returns an error to its caller; it degrades instead.
package llm

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/rs/zerolog"

	"acestudio/internal/settings"
)

// Task selects the system prompt and user-prompt assembly.
type Task string

const (
	TaskPrompt Task = "prompt"
	TaskLyrics Task = "lyrics"
	TaskTitle  Task = "title"
	TaskImage  Task = "image"
)

// Provider names reported in responses.
const (
	ProviderChat  = "chat"
	ProviderLocal = "local"
)

const (
	defaultAttempts = 3
	defaultBackoff  = 2 * time.Second
	defaultTimeout  = 30 * time.Second
	chatMaxTokens   = 512
	chatTemperature = 0.8
)

// Request is one text-generation task.
type Request struct {
	Task         Task     `json:"task"`
	SeedPrompt   string   `json:"seed_prompt"`
	StyleTags    []string `json:"style_tags"`
	Instrumental bool     `json:"instrumental"`
	Language     string   `json:"language,omitempty"`
}

// Response carries the generated text and which provider produced it.
type Response struct {
	Task     Task              `json:"task"`
	Output   string            `json:"output"`
	Provider string            `json:"provider"`
	Metadata map[string]string `json:"metadata"`
}

// Sample is the local language model's structured plan for a track.
type Sample struct {
	Caption       string
	Lyrics        string
	BPM           int
	Duration      int
	Keyscale      string
	Language      string
	TimeSignature string
}

// LocalModel is the embedded language model used when the remote chat
// provider is unavailable. Implementations initialize lazily on first use.
type LocalModel interface {
	Sample(ctx context.Context, query string, instrumental bool, language string) (*Sample, error)
}

// Options configures a Gateway.
type Options struct {
	Settings   *settings.Store
	Local      LocalModel
	HTTPClient *http.Client
	Logger     zerolog.Logger
	Attempts   int
	Backoff    time.Duration
}

// Gateway fans a task out across the configured providers.
type Gateway struct {
	settings *settings.Store
	local    LocalModel
	client   *http.Client
	logger   zerolog.Logger
	attempts int
	backoff  time.Duration
}

// NewGateway wires a gateway with sane defaults for retry and transport.
func NewGateway(opts Options) *Gateway {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	attempts := opts.Attempts
	if attempts <= 0 {
		attempts = defaultAttempts
	}
	backoff := opts.Backoff
	if backoff <= 0 {
		backoff = defaultBackoff
	}
	return &Gateway{
		settings: opts.Settings,
		local:    opts.Local,
		client:   client,
		logger:   opts.Logger,
		attempts: attempts,
		backoff:  backoff,
	}
}

// Run executes the task against the first provider that succeeds. It never
// returns an error: when every provider fails, the seed prompt is echoed
// back with a metadata note summarizing the failures.
func (g *Gateway) Run(ctx context.Context, req Request) Response {
	cfg := g.settings.Get()
	var failures []string

	if cfg.ChatEnabled && strings.TrimSpace(cfg.ChatEndpoint) != "" {
		out, err := g.runChat(ctx, cfg, req)
		if err == nil {
			return out
		}
		failures = append(failures, err.Error())
		g.logger.Warn().Err(err).Str("task", string(req.Task)).Msg("llm: chat provider failed, falling back")
	}

	if cfg.LMEnabled && g.local != nil {
		out, err := g.runLocal(ctx, req)
		if err == nil {
			return out
		}
		failures = append(failures, err.Error())
		g.logger.Warn().Err(err).Str("task", string(req.Task)).Msg("llm: local model failed, falling back")
	}

	note := "LM disabled"
	if len(failures) > 0 {
		note = strings.Join(failures, "; ")
	}
	return Response{
		Task:     req.Task,
		Output:   req.SeedPrompt,
		Provider: ProviderLocal,
		Metadata: map[string]string{"note": note},
	}
}

func (g *Gateway) systemPrompt(cfg settings.Snapshot, task Task) string {
	switch task {
	case TaskLyrics:
		return cfg.LyricsSystemPrompt
	case TaskTitle:
		return cfg.TitleSystemPrompt
	case TaskImage:
		return cfg.ImagePromptSystemPrompt
	default:
		return cfg.PromptSystemPrompt
	}
}

func (g *Gateway) runChat(ctx context.Context, cfg settings.Snapshot, req Request) (Response, error) {
	var lastErr error
	for attempt := 1; attempt <= g.attempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return Response{}, ctx.Err()
			case <-time.After(g.backoff):
			}
		}
		out, err := g.chatOnce(ctx, cfg, req)
		if err == nil {
			return out, nil
		}
		lastErr = err
		g.logger.Warn().Err(err).Int("attempt", attempt).Msg("llm: chat call failed")
	}
	return Response{}, fmt.Errorf("chat provider failed after %d attempts: %w", g.attempts, lastErr)
}

func (g *Gateway) runLocal(ctx context.Context, req Request) (Response, error) {
	description := req.SeedPrompt
	if len(req.StyleTags) > 0 {
		description += " | Styles: " + strings.Join(req.StyleTags, ", ")
	}
	sample, err := g.local.Sample(ctx, description, req.Instrumental, req.Language)
	if err != nil {
		return Response{}, err
	}

	var output string
	switch req.Task {
	case TaskLyrics:
		output = sample.Lyrics
		if output == "" {
			output = sample.Caption
		}
	case TaskTitle:
		seed := sample.Caption
		if seed == "" {
			seed = req.SeedPrompt
		}
		output = formatTitle(seed)
	default:
		output = sample.Caption
		if output == "" {
			output = req.SeedPrompt
		}
	}

	metadata := map[string]string{}
	if sample.BPM > 0 {
		metadata["bpm"] = strconv.Itoa(sample.BPM)
	}
	if sample.Duration > 0 {
		metadata["duration"] = strconv.Itoa(sample.Duration)
	}
	if sample.Keyscale != "" {
		metadata["keyscale"] = sample.Keyscale
	}
	if sample.Language != "" {
		metadata["language"] = sample.Language
	}
	if sample.TimeSignature != "" {
		metadata["timesignature"] = sample.TimeSignature
	}
	return Response{Task: req.Task, Output: output, Provider: ProviderLocal, Metadata: metadata}, nil
}

func buildUserPrompt(req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Instruction: %s\n", req.SeedPrompt)
	if len(req.StyleTags) > 0 {
		fmt.Fprintf(&b, "Style tags: %s.\n", strings.Join(req.StyleTags, ", "))
	}
	fmt.Fprintf(&b, "Instrumental: %t.", req.Instrumental)
	if req.Language != "" {
		fmt.Fprintf(&b, " Language: %s.", req.Language)
	}
	switch req.Task {
	case TaskLyrics:
		b.WriteString("\nWrite structured lyrics with [Verse]/[Chorus] tags.")
	case TaskTitle:
		b.WriteString("\nReturn only a short, catchy song title (max 6 words).")
	case TaskImage:
		b.WriteString("\nDescribe a cinematic album cover concept in one paragraph.")
	default:
		b.WriteString("\nReturn a vivid style caption.")
	}
	return b.String()
}

// formatTitle reduces local-model output to a single alphanumeric/space line.
func formatTitle(text string) string {
	line := strings.TrimSpace(text)
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	var b strings.Builder
	for _, r := range line {
		if isTitleRune(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune(' ')
		}
	}
	cleaned := strings.Join(strings.Fields(b.String()), " ")
	if cleaned == "" {
		return "Untitled"
	}
	return cleaned
}

func isTitleRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r)
}
