package handlers

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/dhowden/tag"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type uploadResponse struct {
	Key    string `json:"key"`
	Path   string `json:"path"`
	Format string `json:"format,omitempty"`
	Title  string `json:"title,omitempty"`
	Artist string `json:"artist,omitempty"`
}

// Upload stores an audio file for later use as cover/repaint source material
// or as a reference track. The file's tags are probed to surface format and
// title back to the UI; files without readable tags are stored anyway.
func (a *App) Upload(w http.ResponseWriter, r *http.Request) {
	kind := chi.URLParam(r, "kind")
	if kind != "source" && kind != "reference" {
		a.error(w, http.StatusBadRequest, "bad_request", "kind must be source or reference")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "multipart field 'file' required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxUploadBytes+1))
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "could not read file")
		return
	}
	if len(data) > maxUploadBytes {
		a.error(w, http.StatusRequestEntityTooLarge, "too_large", "file exceeds upload limit")
		return
	}

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if ext == "" {
		ext = ".bin"
	}
	key := fmt.Sprintf("%s/%d_%s%s", kind, time.Now().Unix(), uuid.NewString()[:8], ext)
	storedKey, err := a.Uploads.Write(r.Context(), key, data)
	if err != nil {
		a.fail(w, err)
		return
	}
	path, err := a.Uploads.FullPath(storedKey)
	if err != nil {
		a.fail(w, err)
		return
	}

	resp := uploadResponse{Key: storedKey, Path: path}
	if meta, err := tag.ReadFrom(bytes.NewReader(data)); err == nil {
		resp.Format = string(meta.FileType())
		resp.Title = meta.Title()
		resp.Artist = meta.Artist()
	}
	a.json(w, http.StatusCreated, resp)
}
