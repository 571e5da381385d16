package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"acestudio/internal/llm"
)

type llmRunRequest struct {
	Prompt       string   `json:"prompt"`
	StyleTags    []string `json:"style_tags"`
	Instrumental bool     `json:"instrumental"`
	Language     string   `json:"language"`
}

// LLMRun executes one text-generation task (prompt, lyrics, title, image).
// The response always carries usable text; provider failures degrade to an
// echo of the input with a note in the metadata.
func (a *App) LLMRun(w http.ResponseWriter, r *http.Request) {
	task := llm.Task(chi.URLParam(r, "task"))
	switch task {
	case llm.TaskPrompt, llm.TaskLyrics, llm.TaskTitle, llm.TaskImage:
	default:
		a.error(w, http.StatusBadRequest, "bad_request", "unknown task")
		return
	}
	var req llmRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	resp := a.Gateway.Run(r.Context(), llm.Request{
		Task:         task,
		SeedPrompt:   req.Prompt,
		StyleTags:    req.StyleTags,
		Instrumental: req.Instrumental,
		Language:     req.Language,
	})
	a.json(w, http.StatusOK, resp)
}

// LLMModels lists the model ids exposed by a chat endpoint. Query parameters
// override the stored configuration for connection testing from the UI.
func (a *App) LLMModels(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	models, err := a.Gateway.ListModels(r.Context(), q.Get("endpoint"), q.Get("api_key"), q.Get("endpoint") == "")
	if err != nil {
		a.error(w, http.StatusBadGateway, "chat_unavailable", err.Error())
		return
	}
	a.json(w, http.StatusOK, map[string]any{"models": models})
}
