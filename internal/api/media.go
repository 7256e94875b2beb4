package api

import (
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/starford/postsync/internal/media"
	"github.com/starford/postsync/internal/storage"
)

const (
	uploadDir      = "uploads"
	maxUploadBytes = media.MaxSize + 1<<20
)

// MediaHandler accepts and serves images that drafts reference before they
// are published.
type MediaHandler struct {
	files storage.Provider
}

// NewMediaHandler creates a handler over the media storage.
func NewMediaHandler(files storage.Provider) *MediaHandler {
	return &MediaHandler{files: files}
}

// ServeFile handles GET /media/*.
func (h *MediaHandler) ServeFile(w http.ResponseWriter, r *http.Request) {
	rel := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
	if rel == "" {
		http.Error(w, "path is required", http.StatusBadRequest)
		return
	}
	data, err := h.files.Read(rel)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", http.DetectContentType(data))
	if strings.EqualFold(path.Ext(rel), ".svg") {
		w.Header().Set("Content-Type", "image/svg+xml")
	}
	_, _ = w.Write(data)
}

// Upload handles POST /media (multipart/form-data, field "file"). The stored
// name is sanitized and never overwrites an existing file.
//
//	@Summary		Upload an image for use in drafts
//	@Tags			media
//	@Accept			multipart/form-data
//	@Produce		json
//	@Param			file	formData	file	true	"Image"
//	@Success		201		{object}	MediaUploadResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/media [post]
func (h *MediaHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("file too large or invalid multipart"))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("missing 'file' field in multipart form"))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("failed to read file"))
		return
	}
	if err := media.Validate(header.Filename, data); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}

	rel, err := h.freeName(header.Filename)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorBody("failed to check media storage"))
		return
	}
	if err := h.files.Write(rel, data); err != nil {
		writeJSON(w, http.StatusInternalServerError, errorBody("failed to write file"))
		return
	}

	writeJSON(w, http.StatusCreated, MediaUploadResponse{
		Path:          rel,
		Size:          int64(len(data)),
		MarkdownImage: fmt.Sprintf("![%s](%s)", media.SanitizeBase(header.Filename), rel),
	})
}

// freeName returns uploads/<base><ext>, adding a counter when the name is taken.
func (h *MediaHandler) freeName(filename string) (string, error) {
	base := media.SanitizeBase(filename)
	ext := strings.ToLower(path.Ext(filename))
	for n := 1; ; n++ {
		name := base + ext
		if n > 1 {
			name = fmt.Sprintf("%s-%d%s", base, n, ext)
		}
		rel := path.Join(uploadDir, name)
		ok, err := h.files.Exists(rel)
		if err != nil {
			return "", err
		}
		if !ok {
			return rel, nil
		}
	}
}
