// Package engine talks to the diffusion-transformer audio-synthesis sidecar.
// The sidecar's numerical behavior is a black box; this package owns the
// typed parameter assembly, the wire contract, and model lifecycle caching.
package engine

import (
	"context"
	"strings"

	"acestudio/internal/domain"
)

// Synthesizer is the orchestrator's view of the audio engine.
type Synthesizer interface {
	EnsureVariant(ctx context.Context, variant domain.Variant) error
	Generate(ctx context.Context, g *domain.Generation, outputDir string) (*Result, error)
}

// AudioFile is one produced track with the seed that generated it.
type AudioFile struct {
	Path string `json:"path"`
	Seed int64  `json:"seed"`
}

// Result is the engine's report for one generation run.
type Result struct {
	AudioFiles      []AudioFile
	Prompt          string
	Lyrics          string
	Metadata        domain.Metadata
	BPM             *int
	DurationSeconds *float64
	Key             string
	TimeSignature   string
	SeedValue       string
}

// FirstAudioPath returns the primary output file, or "" when none exist.
func (r *Result) FirstAudioPath() string {
	if r == nil || len(r.AudioFiles) == 0 {
		return ""
	}
	return r.AudioFiles[0].Path
}

// metaScalarKeys are the engine-reported fields normalized with the "N/A"
// sentinel when the model could not derive them.
var metaScalarKeys = []string{"bpm", "duration", "genres", "keyscale", "timesignature"}

// normalizeMetas canonicalizes the LM-reported attribute map: snake_case
// aliases fold onto the short names and missing scalars become "N/A".
func normalizeMetas(in map[string]any) domain.Metadata {
	out := domain.Metadata{}
	for k, v := range in {
		out[k] = v
	}
	if _, ok := out["keyscale"]; !ok {
		if v, ok := out["key_scale"]; ok {
			out["keyscale"] = v
		}
	}
	if _, ok := out["timesignature"]; !ok {
		if v, ok := out["time_signature"]; ok {
			out["timesignature"] = v
		}
	}
	for _, key := range metaScalarKeys {
		v, ok := out[key]
		if !ok || v == nil {
			out[key] = "N/A"
			continue
		}
		if s, isStr := v.(string); isStr && strings.TrimSpace(s) == "" {
			out[key] = "N/A"
		}
	}
	return out
}
