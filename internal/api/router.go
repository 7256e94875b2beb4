package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/postsync/internal/postservice"
	"github.com/starford/postsync/internal/storage"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
// mediaFiles, if non-nil, backs /media uploads and downloads.
func NewRouter(svc *postservice.Service, authEnabled bool, token string, sseHandler http.Handler, mediaFiles storage.Provider) chi.Router {
	h := NewHandler(svc)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	r.Get("/documents", h.ListDocuments)
	r.Post("/documents", h.CreateDocument)
	r.Get("/documents/{id}", h.GetDocument)
	r.Put("/documents/{id}", h.UpdateDocument)
	r.Delete("/documents/{id}", h.DeleteDocument)
	r.Post("/documents/{id}/publish", h.PublishDocument)

	r.Post("/sync", h.Sync)
	r.Post("/sync/full", h.FullSync)

	r.Get("/search", h.Search)

	if mediaFiles != nil {
		mh := NewMediaHandler(mediaFiles)
		r.Post("/media", mh.Upload)
		r.Get("/media/*", mh.ServeFile)
	}

	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
