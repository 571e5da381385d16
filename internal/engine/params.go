package engine

import (
	"strconv"
	"strings"

	"acestudio/internal/domain"
	"acestudio/internal/settings"
)

// Params is the full, typed parameter set handed to the synthesis sidecar.
// Every knob the record's metadata map may carry is coerced here once, with
// its documented default; downstream code never reads the raw map again.
type Params struct {
	TaskType           string    `json:"task_type"`
	Caption            string    `json:"caption"`
	Lyrics             string    `json:"lyrics"`
	Instrumental       bool      `json:"instrumental"`
	BPM                *int      `json:"bpm,omitempty"`
	Keyscale           string    `json:"keyscale"`
	TimeSignature      string    `json:"timesignature"`
	Duration           float64   `json:"duration"`
	InferenceSteps     int       `json:"inference_steps"`
	GuidanceScale      float64   `json:"guidance_scale"`
	Seed               int       `json:"seed"`
	UseADG             bool      `json:"use_adg"`
	CFGIntervalStart   float64   `json:"cfg_interval_start"`
	CFGIntervalEnd     float64   `json:"cfg_interval_end"`
	Shift              float64   `json:"shift"`
	InferMethod        string    `json:"infer_method"`
	Timesteps          []float64 `json:"timesteps,omitempty"`
	RepaintingStart    float64   `json:"repainting_start"`
	RepaintingEnd      float64   `json:"repainting_end"`
	AudioCoverStrength float64   `json:"audio_cover_strength"`
	Thinking           bool      `json:"thinking"`
	UseCoTCaption      bool      `json:"use_cot_caption"`
	UseCoTLanguage     bool      `json:"use_cot_language"`
	UseCoTMetas        bool      `json:"use_cot_metas"`
	LMTemperature      float64   `json:"lm_temperature"`
	LMCFGScale         float64   `json:"lm_cfg_scale"`
	LMTopK             int       `json:"lm_top_k"`
	LMTopP             float64   `json:"lm_top_p"`
	LMNegativePrompt   string    `json:"lm_negative_prompt"`
	ReferenceAudio     string    `json:"reference_audio,omitempty"`
	SourceAudio        string    `json:"src_audio,omitempty"`
	AudioCodes         string    `json:"audio_codes,omitempty"`
	VocalLanguage      string    `json:"vocal_language"`
	Instruction        string    `json:"instruction"`
}

// RunConfig controls batching and seeding for one run.
type RunConfig struct {
	BatchSize                int    `json:"batch_size"`
	AllowLMBatch             bool   `json:"allow_lm_batch"`
	UseRandomSeed            bool   `json:"use_random_seed"`
	Seeds                    []int  `json:"seeds,omitempty"`
	AudioFormat              string `json:"audio_format"`
	ConstrainedDecodingDebug bool   `json:"constrained_decoding_debug"`
}

const defaultInstruction = "Fill the audio semantic mask based on the given conditions:"

// BuildParams resolves the record and its metadata against the current
// settings snapshot into the engine's typed parameter set.
func BuildParams(g *domain.Generation, cfg settings.Snapshot) (Params, RunConfig) {
	meta := g.Metadata
	if meta == nil {
		meta = domain.Metadata{}
	}

	caption := g.Prompt
	if caption == "" {
		caption = meta.String("caption")
	}
	lyrics := g.Lyrics
	if lyrics == "" {
		lyrics = meta.String("lyrics")
	}

	bpm := g.BPM
	if bpm == nil {
		if v, ok := meta.Int("bpm"); ok {
			bpm = &v
		}
	}

	duration := -1.0
	if g.DurationSeconds != nil {
		duration = *g.DurationSeconds
	} else if v, ok := meta.Float("duration"); ok {
		duration = v
	} else if v, ok := meta.Float("audio_duration"); ok {
		duration = v
	}

	keyscale := g.Key
	if keyscale == "" {
		keyscale = meta.String("keyscale")
	}
	if keyscale == "" {
		keyscale = meta.String("key_scale")
	}
	timesig := g.TimeSignature
	if timesig == "" {
		timesig = meta.String("time_signature")
	}
	if timesig == "" {
		timesig = meta.String("timesignature")
	}

	coverStrength := 1.0
	if g.CoverStrength != nil {
		coverStrength = float64(*g.CoverStrength) / 100.0
	}
	if v, ok := meta.Float("audio_cover_strength"); ok {
		coverStrength = v
	}

	inferMethod := meta.String("infer_method")
	if inferMethod == "" {
		inferMethod = cfg.InferMethod
	}

	params := Params{
		TaskType:           string(g.TaskType),
		Caption:            caption,
		Lyrics:             lyrics,
		Instrumental:       g.Instrumental,
		BPM:                bpm,
		Keyscale:           keyscale,
		TimeSignature:      timesig,
		Duration:           duration,
		InferenceSteps:     metaInt(meta, "inference_steps", cfg.InferenceSteps(g.ModelVariant)),
		GuidanceScale:      metaFloat(meta, "guidance_scale", 7.0),
		Seed:               metaInt(meta, "seed", -1),
		UseADG:             metaBool(meta, "use_adg", cfg.UseADG),
		CFGIntervalStart:   metaFloat(meta, "cfg_interval_start", cfg.CFGIntervalStart),
		CFGIntervalEnd:     metaFloat(meta, "cfg_interval_end", cfg.CFGIntervalEnd),
		Shift:              metaFloat(meta, "shift", 1.0),
		InferMethod:        inferMethod,
		Timesteps:          floatList(meta["timesteps"]),
		RepaintingStart:    metaFloat(meta, "repainting_start", 0.0),
		RepaintingEnd:      metaFloat(meta, "repainting_end", -1.0),
		AudioCoverStrength: coverStrength,
		Thinking:           metaBool(meta, "thinking", cfg.ThinkingDefault(g.Mode)),
		UseCoTCaption:      metaBool(meta, "use_cot_caption", cfg.UseCoTCaption),
		UseCoTLanguage:     metaBool(meta, "use_cot_language", cfg.UseCoTLanguage),
		UseCoTMetas:        metaBool(meta, "use_cot_metas", cfg.UseCoTMetas),
		LMTemperature:      metaFloat(meta, "lm_temperature", 0.85),
		LMCFGScale:         metaFloat(meta, "lm_cfg_scale", 2.0),
		LMTopK:             metaInt(meta, "lm_top_k", 0),
		LMTopP:             metaFloat(meta, "lm_top_p", 0.9),
		LMNegativePrompt:   metaStringDefault(meta, "lm_negative_prompt", "NO USER INPUT"),
		ReferenceAudio:     g.ReferenceAudioPath,
		SourceAudio:        g.SourceAudioPath,
		AudioCodes:         meta.String("audio_codes"),
		VocalLanguage:      metaStringDefault(meta, "vocal_language", "unknown"),
		Instruction:        metaStringDefault(meta, "instruction", defaultInstruction),
	}

	config := RunConfig{
		BatchSize:                metaInt(meta, "batch_size", 2),
		AllowLMBatch:             metaBool(meta, "allow_lm_batch", cfg.AllowLMBatch),
		UseRandomSeed:            metaBool(meta, "use_random_seed", true),
		Seeds:                    intList(meta["seeds"]),
		AudioFormat:              metaStringDefault(meta, "audio_format", "mp3"),
		ConstrainedDecodingDebug: metaBool(meta, "constrained_decoding_debug", false),
	}

	return params, config
}

func metaInt(m domain.Metadata, key string, fallback int) int {
	if v, ok := m.Int(key); ok {
		return v
	}
	return fallback
}

func metaFloat(m domain.Metadata, key string, fallback float64) float64 {
	if v, ok := m.Float(key); ok {
		return v
	}
	return fallback
}

func metaBool(m domain.Metadata, key string, fallback bool) bool {
	if v, ok := m.Bool(key); ok {
		return v
	}
	return fallback
}

func metaStringDefault(m domain.Metadata, key, fallback string) string {
	if v := m.String(key); v != "" {
		return v
	}
	return fallback
}

// floatList accepts either a JSON array or a comma-separated string.
func floatList(v any) []float64 {
	switch t := v.(type) {
	case []float64:
		return t
	case []any:
		out := make([]float64, 0, len(t))
		for _, item := range t {
			if f, ok := item.(float64); ok {
				out = append(out, f)
			}
		}
		return out
	case string:
		var out []float64
		for _, part := range strings.Split(t, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			f, err := strconv.ParseFloat(part, 64)
			if err != nil {
				return nil
			}
			out = append(out, f)
		}
		return out
	}
	return nil
}

func intList(v any) []int {
	switch t := v.(type) {
	case []int:
		return t
	case []any:
		out := make([]int, 0, len(t))
		for _, item := range t {
			if f, ok := item.(float64); ok {
				out = append(out, int(f))
			}
		}
		return out
	case string:
		var out []int
		for _, part := range strings.Split(t, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			n, err := strconv.Atoi(part)
			if err != nil {
				continue
			}
			out = append(out, n)
		}
		return out
	}
	return nil
}
