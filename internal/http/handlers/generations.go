package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/go-chi/chi/v5"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"acestudio/internal/domain"
	"acestudio/internal/orchestrator"
)

const maxUploadBytes = 25 << 20

type generationResponse struct {
	ID              string          `json:"id"`
	Title           string          `json:"title"`
	TaskType        string          `json:"task_type"`
	Mode            string          `json:"mode"`
	ModelVariant    string          `json:"model_variant"`
	Status          string          `json:"status"`
	Prompt          string          `json:"prompt"`
	Lyrics          string          `json:"lyrics"`
	Instrumental    bool            `json:"instrumental"`
	BPM             *int            `json:"bpm,omitempty"`
	DurationSeconds *float64        `json:"duration_seconds,omitempty"`
	Key             string          `json:"key,omitempty"`
	TimeSignature   string          `json:"time_signature,omitempty"`
	ErrorMessage    string          `json:"error_message,omitempty"`
	HasAudio        bool            `json:"has_audio"`
	HasCover        bool            `json:"has_cover"`
	CoverColor      string          `json:"cover_color"`
	CoverIcon       string          `json:"cover_icon"`
	Metadata        domain.Metadata `json:"metadata,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

func toResponse(g *domain.Generation) generationResponse {
	return generationResponse{
		ID:              g.ID,
		Title:           g.Title,
		TaskType:        string(g.TaskType),
		Mode:            string(g.Mode),
		ModelVariant:    string(g.ModelVariant),
		Status:          string(g.Status),
		Prompt:          g.Prompt,
		Lyrics:          g.Lyrics,
		Instrumental:    g.Instrumental,
		BPM:             g.BPM,
		DurationSeconds: g.DurationSeconds,
		Key:             g.Key,
		TimeSignature:   g.TimeSignature,
		ErrorMessage:    g.ErrorMessage,
		HasAudio:        g.OutputAudioPath != "",
		HasCover:        g.CoverImagePath != "",
		CoverColor:      g.CoverColor,
		CoverIcon:       g.CoverIcon,
		Metadata:        g.Metadata,
		CreatedAt:       g.CreatedAt,
		UpdatedAt:       g.UpdatedAt,
	}
}

// GenerationCreate queues a new generation and returns immediately.
func (a *App) GenerationCreate(w http.ResponseWriter, r *http.Request) {
	var req orchestrator.CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	g, err := a.Orchestrator.Create(r.Context(), req)
	if err != nil {
		a.fail(w, err)
		return
	}
	a.json(w, http.StatusAccepted, toResponse(g))
}

// GenerationGet returns one record; clients poll this while status is queued.
func (a *App) GenerationGet(w http.ResponseWriter, r *http.Request) {
	g, err := a.Orchestrator.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, err)
		return
	}
	a.json(w, http.StatusOK, toResponse(g))
}

// History lists recent generations, newest first.
func (a *App) History(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 500 {
			a.error(w, http.StatusBadRequest, "bad_request", "limit must be between 1 and 500")
			return
		}
		limit = n
	}
	items, err := a.Orchestrator.List(r.Context(), limit)
	if err != nil {
		a.fail(w, err)
		return
	}
	out := make([]generationResponse, 0, len(items))
	for i := range items {
		out = append(out, toResponse(&items[i]))
	}
	a.json(w, http.StatusOK, map[string]any{"items": out})
}

// GenerationUpdate edits the record's descriptive fields.
func (a *App) GenerationUpdate(w http.ResponseWriter, r *http.Request) {
	var req orchestrator.UpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	g, err := a.Orchestrator.Update(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		a.fail(w, err)
		return
	}
	a.json(w, http.StatusOK, toResponse(g))
}

// GenerationDelete removes the record and its files.
func (a *App) GenerationDelete(w http.ResponseWriter, r *http.Request) {
	if err := a.Orchestrator.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		a.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AudioDownload streams the finished track with a download filename derived
// from the title.
func (a *App) AudioDownload(w http.ResponseWriter, r *http.Request) {
	g, err := a.Orchestrator.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, err)
		return
	}
	if g.OutputAudioPath == "" {
		a.error(w, http.StatusNotFound, "no_audio", "generation has no audio yet")
		return
	}
	name := downloadName(g.Title) + filepath.Ext(g.OutputAudioPath)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	http.ServeFile(w, r, g.OutputAudioPath)
}

// CoverGet serves the record's artwork file.
func (a *App) CoverGet(w http.ResponseWriter, r *http.Request) {
	g, err := a.Orchestrator.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, err)
		return
	}
	if g.CoverImagePath == "" {
		a.error(w, http.StatusNotFound, "no_cover", "generation has no cover image")
		return
	}
	http.ServeFile(w, r, g.CoverImagePath)
}

// CoverUpload replaces the artwork with a user-supplied image.
func (a *App) CoverUpload(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxUploadBytes+1))
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "could not read body")
		return
	}
	if len(data) > maxUploadBytes {
		a.error(w, http.StatusRequestEntityTooLarge, "too_large", "image exceeds upload limit")
		return
	}
	g, err := a.Orchestrator.UploadCover(r.Context(), chi.URLParam(r, "id"), data)
	if err != nil {
		a.fail(w, err)
		return
	}
	a.json(w, http.StatusOK, toResponse(g))
}

// CoverDelete removes the artwork; the record keeps its derived theme.
func (a *App) CoverDelete(w http.ResponseWriter, r *http.Request) {
	g, err := a.Orchestrator.DeleteCover(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, err)
		return
	}
	a.json(w, http.StatusOK, toResponse(g))
}

// CoverRegenerate renders new artwork for the record synchronously.
func (a *App) CoverRegenerate(w http.ResponseWriter, r *http.Request) {
	g, err := a.Orchestrator.RegenerateCover(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, err)
		return
	}
	a.json(w, http.StatusOK, toResponse(g))
}

// downloadName folds the title to a safe ASCII filename stem: diacritics are
// stripped, anything else non-alphanumeric becomes an underscore.
func downloadName(title string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, title)
	if err != nil {
		folded = title
	}
	var b strings.Builder
	for _, r := range folded {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '_':
			b.WriteRune('_')
		}
	}
	name := strings.Trim(b.String(), "_")
	if name == "" {
		return "track"
	}
	return name
}
