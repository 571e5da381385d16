package domain

import "time"

// TaskType enumerates supported generation tasks.
type TaskType string

const (
	TaskText2Music TaskType = "text2music"
	TaskCover      TaskType = "cover"
	TaskRepaint    TaskType = "repaint"
)

// Mode selects how much of the request the language model is allowed to fill in.
type Mode string

const (
	ModeSimple Mode = "simple"
	ModeCustom Mode = "custom"
)

// Variant enumerates the audio-engine presets. Each variant carries its own
// default inference-step count in the runtime settings.
type Variant string

const (
	VariantBase  Variant = "base"
	VariantTurbo Variant = "turbo"
	VariantShift Variant = "shift"
)

// Status enumerates generation lifecycle states. A record stays queued while
// its background pipeline runs; ready and failed are terminal and never
// revert.
type Status string

const (
	StatusQueued Status = "queued"
	StatusReady  Status = "ready"
	StatusFailed Status = "failed"
)

// Terminal reports whether the status can no longer change.
func (s Status) Terminal() bool {
	return s == StatusReady || s == StatusFailed
}

// Generation is one track request and its eventual result. Optional numeric
// inputs are pointers so "not supplied" survives the round trip to the
// engine, which may fill them in from its own analysis.
type Generation struct {
	ID                 string
	Title              string
	TaskType           TaskType
	Mode               Mode
	ModelVariant       Variant
	Status             Status
	Prompt             string
	Lyrics             string
	Instrumental       bool
	BPM                *int
	DurationSeconds    *float64
	Key                string
	TimeSignature      string
	CoverStrength      *int // 0-100, cover/repaint only
	SourceAudioPath    string
	ReferenceAudioPath string
	Metadata           Metadata
	ErrorMessage       string
	OutputAudioPath    string
	CoverImagePath     string
	CoverColor         string
	CoverIcon          string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}
