// Package modelhub tracks the downloadable model catalog and each model's
// local download state. The actual fetching is delegated to the synthesis
// sidecar, which owns the checkpoint cache.
package modelhub

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"acestudio/internal/domain"
)

// Download states. A model moves idle -> downloading -> {available|error};
// an errored download can be retried.
const (
	StateIdle        = "idle"
	StateDownloading = "downloading"
	StateAvailable   = "available"
	StateError       = "error"
)

// Spec describes one catalog entry.
type Spec struct {
	ID          string `json:"id"`
	Kind        string `json:"kind"` // "lm" or "dit"
	DisplayName string `json:"display_name"`
	SizeHint    string `json:"size_hint"`
}

// Model is a catalog entry plus its current download state.
type Model struct {
	Spec
	State string `json:"state"`
	Error string `json:"error,omitempty"`
}

var catalog = []Spec{
	{ID: "lm-0.6b", Kind: "lm", DisplayName: "Language model 0.6B", SizeHint: "1.2 GB"},
	{ID: "lm-1.7b", Kind: "lm", DisplayName: "Language model 1.7B", SizeHint: "3.4 GB"},
	{ID: "lm-4b", Kind: "lm", DisplayName: "Language model 4B", SizeHint: "8.0 GB"},
	{ID: "dit-base", Kind: "dit", DisplayName: "Audio engine base", SizeHint: "6.2 GB"},
	{ID: "dit-turbo", Kind: "dit", DisplayName: "Audio engine turbo", SizeHint: "6.2 GB"},
	{ID: "dit-shift", Kind: "dit", DisplayName: "Audio engine shift", SizeHint: "6.2 GB"},
}

// Downloader fetches a model checkpoint into the sidecar's cache.
type Downloader interface {
	DownloadModel(ctx context.Context, name string) error
}

// Hub serves the catalog and runs downloads in the background, one goroutine
// per model; repeated requests while a download is in flight are no-ops.
type Hub struct {
	downloader Downloader
	logger     zerolog.Logger

	mu     sync.Mutex
	states map[string]*Model
}

// New builds a hub over the given downloader.
func New(downloader Downloader, logger zerolog.Logger) *Hub {
	states := make(map[string]*Model, len(catalog))
	for _, spec := range catalog {
		states[spec.ID] = &Model{Spec: spec, State: StateIdle}
	}
	return &Hub{downloader: downloader, logger: logger, states: states}
}

// List returns the catalog with current states, sorted by id.
func (h *Hub) List() []Model {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Model, 0, len(h.states))
	for _, m := range h.states {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Download starts fetching the model in the background. It returns the state
// at the moment of the call; poll List to observe completion.
func (h *Hub) Download(id string) (Model, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	m, ok := h.states[id]
	if !ok {
		return Model{}, fmt.Errorf("%w: %s", domain.ErrUnknownModel, id)
	}
	if m.State == StateDownloading || m.State == StateAvailable {
		return *m, nil
	}
	m.State = StateDownloading
	m.Error = ""

	go h.fetch(id)
	return *m, nil
}

func (h *Hub) fetch(id string) {
	err := h.downloader.DownloadModel(context.Background(), id)

	h.mu.Lock()
	defer h.mu.Unlock()
	m := h.states[id]
	if err != nil {
		m.State = StateError
		m.Error = err.Error()
		h.logger.Error().Err(err).Str("model", id).Msg("modelhub: download failed")
		return
	}
	m.State = StateAvailable
	h.logger.Info().Str("model", id).Msg("modelhub: download complete")
}
