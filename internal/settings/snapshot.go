package settings

import (
	"acestudio/internal/domain"
)

// Image provider identifiers. The zero value for a fresh install is none,
// which turns cover generation off entirely.
const (
	ProviderNone        = "none"
	ProviderRemoteQueue = "remote-queue"
	ProviderNodeGraph   = "node-graph"
	ProviderLocalAPI    = "local-api"
)

const (
	defaultPromptSystemPrompt = "You are a music creative director writing a concise but vivid one-paragraph song description for an AI music model. " +
		"Expand the user's short idea into a single paragraph (3-5 sentences) that covers genre, mood, instrumentation, vocal character, " +
		"and arrangement arc. Keep it under 120 words, write in plain English, and avoid bullet lists, rhyme schemes, or lyric formatting. " +
		"Mention only elements relevant to the prompt. Return ONLY the song concept in plain text."

	defaultLyricsSystemPrompt = "You are a professional songwriter. Given a song description, write polished English lyrics in a standard pop structure " +
		"(Verse/Chorus/Bridge etc.). Use clear section labels in square brackets (e.g. [Chorus]), optionally with a brief style note " +
		"(e.g. [Chorus - building]). Keep total length under ~200 words and stay on topic. If the user requests instrumental, reply exactly " +
		"with [Instrumental]. Return ONLY the song lyrics in plain text with no markup other than section tags."

	defaultTitleSystemPrompt = "You are a professional songwriter. Given a song description, write a creative but relevant English title for the song " +
		"concept, no more than 6 words long. Return ONLY the title in plain text."

	defaultImagePromptSystemPrompt = "You are a professional photographer. Given a song description, write a prompt for an AI image generator to become " +
		"the cover image for the song concept. Aim for a stock-photo feel: unassuming but aesthetically pleasing. Return ONLY the image " +
		"prompt in plain text."
)

// Snapshot is one immutable runtime configuration. It is replaced wholesale
// on update and mirrors the on-disk JSON document field for field.
type Snapshot struct {
	LMEnabled      bool   `json:"lm_enabled"`
	LMCheckpoint   string `json:"lm_checkpoint"`
	LMBackend      string `json:"lm_backend"`
	LMDevice       string `json:"lm_device"`
	LMOffloadToCPU bool   `json:"lm_offload_to_cpu"`

	ChatEnabled        bool   `json:"chat_enabled"`
	ChatEndpoint       string `json:"chat_endpoint"`
	ChatAPIKey         string `json:"chat_api_key"`
	ChatModel          string `json:"chat_model"`
	PromptSystemPrompt string `json:"chat_prompt_system_prompt"`
	LyricsSystemPrompt string `json:"chat_lyrics_system_prompt"`
	TitleSystemPrompt  string `json:"chat_title_system_prompt"`

	ImageProvider           string `json:"image_generation_provider"`
	ImagePromptSystemPrompt string `json:"image_prompt_system_prompt"`
	RemoteQueueAPIKey       string `json:"remote_queue_api_key"`
	NodeGraphBaseURL        string `json:"node_graph_base_url"`
	NodeGraphWorkflowJSON   string `json:"node_graph_workflow_json"`
	LocalAPIBaseURL         string `json:"local_api_base_url"`

	ThinkingSimpleMode bool `json:"thinking_simple_mode"`
	ThinkingCustomMode bool `json:"thinking_custom_mode"`
	UseCoTCaption      bool `json:"use_cot_caption"`
	UseCoTLanguage     bool `json:"use_cot_language"`
	UseCoTMetas        bool `json:"use_cot_metas"`
	AllowLMBatch       bool `json:"allow_lm_batch"`

	DefaultModelVariant string  `json:"default_model_variant"`
	BaseInferenceSteps  int     `json:"base_inference_steps"`
	TurboInferenceSteps int     `json:"turbo_inference_steps"`
	ShiftInferenceSteps int     `json:"shift_inference_steps"`
	UseADG              bool    `json:"use_adg"`
	CFGIntervalStart    float64 `json:"cfg_interval_start"`
	CFGIntervalEnd      float64 `json:"cfg_interval_end"`
	InferMethod         string  `json:"infer_method"`
}

// Defaults returns the built-in configuration used when no document exists
// on disk or the stored one cannot be parsed.
func Defaults() Snapshot {
	return Snapshot{
		LMEnabled:      true,
		LMCheckpoint:   "acestep-5Hz-lm-0.6B",
		LMBackend:      "pt",
		LMDevice:       "auto",
		LMOffloadToCPU: false,

		ChatEnabled:        false,
		ChatModel:          "gpt-4o-mini",
		PromptSystemPrompt: defaultPromptSystemPrompt,
		LyricsSystemPrompt: defaultLyricsSystemPrompt,
		TitleSystemPrompt:  defaultTitleSystemPrompt,

		ImageProvider:           ProviderNone,
		ImagePromptSystemPrompt: defaultImagePromptSystemPrompt,
		NodeGraphBaseURL:        "http://127.0.0.1:8188",
		LocalAPIBaseURL:         "http://127.0.0.1:7860",

		ThinkingSimpleMode: true,
		ThinkingCustomMode: false,
		UseCoTCaption:      true,
		UseCoTLanguage:     true,
		UseCoTMetas:        true,
		AllowLMBatch:       true,

		DefaultModelVariant: string(domain.VariantTurbo),
		BaseInferenceSteps:  32,
		TurboInferenceSteps: 8,
		ShiftInferenceSteps: 8,
		UseADG:              false,
		CFGIntervalStart:    0.0,
		CFGIntervalEnd:      1.0,
		InferMethod:         "ode",
	}
}

// InferenceSteps returns the default step count for the given engine variant.
func (s Snapshot) InferenceSteps(v domain.Variant) int {
	switch v {
	case domain.VariantBase:
		return s.BaseInferenceSteps
	case domain.VariantShift:
		return s.ShiftInferenceSteps
	default:
		return s.TurboInferenceSteps
	}
}

// ThinkingDefault returns whether chain-of-thought planning is on by default
// for the given request mode.
func (s Snapshot) ThinkingDefault(m domain.Mode) bool {
	if m == domain.ModeCustom {
		return s.ThinkingCustomMode
	}
	return s.ThinkingSimpleMode
}
