package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/starford/postsync/internal/postservice"
	"github.com/starford/postsync/internal/sync"
)

const maxBodyBytes = 10 << 20

// Handler holds API route handlers.
type Handler struct {
	svc *postservice.Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *postservice.Service) *Handler {
	return &Handler{svc: svc}
}

func decodeDocument(w http.ResponseWriter, r *http.Request) (postservice.DraftInput, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req DocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return postservice.DraftInput{}, false
	}
	return postservice.DraftInput{
		Title:    req.Title,
		Summary:  req.Summary,
		Date:     req.Date,
		Tags:     req.Tags,
		Body:     req.Body,
		Archived: req.Archived,
	}, true
}

func boolParam(r *http.Request, name string) bool {
	v, _ := strconv.ParseBool(r.URL.Query().Get(name))
	return v
}

// ListDocuments handles GET /documents.
//
//	@Summary		List documents, most recently updated first
//	@Tags			documents
//	@Produce		json
//	@Param			kind	query		string	false	"Filter"	Enums(all, draft, published)
//	@Success		200		{object}	DocumentListResponse
//	@Security		BearerAuth
//	@Router			/documents [get]
func (h *Handler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := h.svc.List(r.Context(), r.URL.Query().Get("kind"))
	if err != nil {
		writeError(w, "list documents", err)
		return
	}
	writeJSON(w, http.StatusOK, DocumentListResponse{
		Documents: listItems(docs),
		Total:     len(docs),
	})
}

// GetDocument handles GET /documents/{id}.
//
//	@Summary		Get a document
//	@Tags			documents
//	@Produce		json
//	@Param			id	path		string	true	"Document id"
//	@Success		200	{object}	DocumentDetail
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/documents/{id} [get]
func (h *Handler) GetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := h.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, "get document", err)
		return
	}
	writeJSON(w, http.StatusOK, detail(*doc))
}

// CreateDocument handles POST /documents.
//
//	@Summary		Create a local draft
//	@Tags			documents
//	@Accept			json
//	@Produce		json
//	@Param			body	body		DocumentRequest	true	"Draft"
//	@Success		201		{object}	DocumentDetail
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/documents [post]
func (h *Handler) CreateDocument(w http.ResponseWriter, r *http.Request) {
	in, ok := decodeDocument(w, r)
	if !ok {
		return
	}
	doc, err := h.svc.CreateDraft(r.Context(), in)
	if err != nil {
		writeError(w, "create document", err)
		return
	}
	writeJSON(w, http.StatusCreated, detail(*doc))
}

// UpdateDocument handles PUT /documents/{id}.
//
//	@Summary		Replace the editable fields of a document
//	@Tags			documents
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string			true	"Document id"
//	@Param			body	body		DocumentRequest	true	"Fields"
//	@Success		200		{object}	DocumentDetail
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/documents/{id} [put]
func (h *Handler) UpdateDocument(w http.ResponseWriter, r *http.Request) {
	in, ok := decodeDocument(w, r)
	if !ok {
		return
	}
	doc, err := h.svc.Update(r.Context(), chi.URLParam(r, "id"), in)
	if err != nil {
		writeError(w, "update document", err)
		return
	}
	writeJSON(w, http.StatusOK, detail(*doc))
}

// DeleteDocument handles DELETE /documents/{id}.
//
//	@Summary		Delete a document locally
//	@Tags			documents
//	@Param			id	path	string	true	"Document id"
//	@Success		204	"Document deleted"
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/documents/{id} [delete]
func (h *Handler) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, "delete document", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// PublishDocument handles POST /documents/{id}/publish.
//
//	@Summary		Publish a document and its local images in one commit
//	@Tags			documents
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string			true	"Document id"
//	@Param			body	body		PublishRequest	false	"Commit message"
//	@Success		200		{object}	PublishResponse
//	@Failure		404		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Failure		502		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/documents/{id}/publish [post]
func (h *Handler) PublishDocument(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req PublishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	res, err := h.svc.Publish(r.Context(), chi.URLParam(r, "id"), req.Message)
	if err != nil {
		writeError(w, "publish document", err)
		return
	}
	writeJSON(w, http.StatusOK, publishResponse(res))
}

// Sync handles POST /sync.
//
//	@Summary		Reconcile local posts with the remote
//	@Tags			sync
//	@Produce		json
//	@Param			force_delete	query		bool	false	"Delete missing posts even inside the protection window"
//	@Param			dry_run			query		bool	false	"Report decisions without applying them"
//	@Success		200				{object}	SyncResponse
//	@Failure		409				{object}	errResponse
//	@Failure		502				{object}	errResponse
//	@Security		BearerAuth
//	@Router			/sync [post]
func (h *Handler) Sync(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.Sync(r.Context(), sync.Options{
		Force:  boolParam(r, "force_delete"),
		DryRun: boolParam(r, "dry_run"),
	})
	if err != nil {
		writeError(w, "sync", err)
		return
	}
	writeJSON(w, http.StatusOK, syncResponse(res))
}

// FullSync handles POST /sync/full.
//
//	@Summary		Drop published posts and download the remote again
//	@Tags			sync
//	@Produce		json
//	@Success		200	{object}	SyncResponse
//	@Failure		409	{object}	errResponse
//	@Failure		502	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/sync/full [post]
func (h *Handler) FullSync(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.ForceResync(r.Context(), sync.Options{DryRun: boolParam(r, "dry_run")})
	if err != nil {
		writeError(w, "full sync", err)
		return
	}
	writeJSON(w, http.StatusOK, syncResponse(res))
}

// Search handles GET /search.
//
//	@Summary		Full-text search across documents
//	@Tags			search
//	@Produce		json
//	@Param			q		query		string	true	"Search query"
//	@Param			limit	query		int		false	"Max results"
//	@Success		200		{object}	map[string][]SearchResult
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/search [get]
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'q' is required"))
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	hits, err := h.svc.Search(r.Context(), q, limit)
	if err != nil {
		writeError(w, "search", err)
		return
	}
	results := make([]SearchResult, len(hits))
	for i, hit := range hits {
		results[i] = SearchResult{ID: hit.ID, Title: hit.Title, Snippet: hit.Snippet}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"results": results,
	})
}
