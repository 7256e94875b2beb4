package api

import (
	"time"

	"github.com/starford/postsync/internal/models"
)

// DocumentRequest is the request body for creating or updating a document.
type DocumentRequest struct {
	Title   string   `json:"title" example:"SF Trip"`
	Summary string   `json:"summary" example:"A weekend in the city"`
	Date    string   `json:"date" example:"2024-06-01"`
	Tags    []string `json:"tags" example:"travel,photos"`
	Body    string   `json:"body" example:"Day one..."`

	// Archived hides the post from the site; omitted keeps the current value.
	Archived *bool `json:"archived,omitempty" example:"false"`
}

// PublishRequest is the optional request body of a publish call.
type PublishRequest struct {
	Message string `json:"message" example:"Publish SF Trip"`
}

// DocumentListItem is a document without its body.
type DocumentListItem struct {
	ID             string    `json:"id" validate:"required"`
	Title          string    `json:"title"`
	Summary        string    `json:"summary"`
	Date           string    `json:"date"`
	Tags           []string  `json:"tags"`
	Archived       bool      `json:"archived"`
	Draft          bool      `json:"draft"`
	OriginFilename *string   `json:"origin_filename"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// DocumentDetail is the full document.
type DocumentDetail struct {
	DocumentListItem
	Body      string    `json:"body"`
	LocalPath string    `json:"local_path"`
	CreatedAt time.Time `json:"created_at"`
}

// DocumentListResponse wraps document listings.
type DocumentListResponse struct {
	Documents []DocumentListItem `json:"documents" validate:"required"`
	Total     int                `json:"total" example:"42"`
}

// SyncResponse reports the outcome of a sync pass.
type SyncResponse struct {
	Summary   string                 `json:"summary"`
	Counts    models.SyncCounts      `json:"counts"`
	New       []DocumentListItem     `json:"new"`
	Updated   []DocumentListItem     `json:"updated"`
	Deleted   []DocumentListItem     `json:"deleted"`
	Protected []string               `json:"protected"`
	Errors    []string               `json:"errors"`
	Warnings  []string               `json:"warnings"`
	Planned   []models.PlannedAction `json:"planned,omitempty"`
}

// PublishResponse reports the outcome of a publish.
type PublishResponse struct {
	Document      DocumentDetail `json:"document"`
	Path          string         `json:"path"`
	CommitSHA     string         `json:"commit_sha"`
	Images        []string       `json:"images"`
	Disambiguated bool           `json:"disambiguated"`
	Warnings      []string       `json:"warnings"`
	ImageErrors   []string       `json:"image_errors"`
}

// SearchResult is a single search hit in the API response.
type SearchResult struct {
	ID      string `json:"id" validate:"required"`
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
}

// MediaUploadResponse is returned after a successful media upload.
type MediaUploadResponse struct {
	Path          string `json:"path" example:"uploads/cat.png"`
	Size          int64  `json:"size" example:"12345"`
	MarkdownImage string `json:"markdown_image" example:"![cat](uploads/cat.png)"`
}

func listItem(d models.Document) DocumentListItem {
	return DocumentListItem{
		ID:             d.ID,
		Title:          d.Title,
		Summary:        d.Summary,
		Date:           d.Date,
		Tags:           nonNil(d.Tags),
		Archived:       d.Archived,
		Draft:          d.IsDraftLocal,
		OriginFilename: d.OriginFilename,
		UpdatedAt:      d.UpdatedAt,
	}
}

func detail(d models.Document) DocumentDetail {
	return DocumentDetail{
		DocumentListItem: listItem(d),
		Body:             d.Body,
		LocalPath:        d.LocalPath,
		CreatedAt:        d.CreatedAt,
	}
}

func listItems(docs []models.Document) []DocumentListItem {
	out := make([]DocumentListItem, len(docs))
	for i, d := range docs {
		out[i] = listItem(d)
	}
	return out
}

func syncResponse(r models.SyncResult) SyncResponse {
	return SyncResponse{
		Summary:   r.Summary(),
		Counts:    r.Counts(),
		New:       listItems(r.NewPosts()),
		Updated:   listItems(r.UpdatedPosts()),
		Deleted:   listItems(r.DeletedPosts()),
		Protected: nonNil(r.Protected()),
		Errors:    nonNil(r.Errors()),
		Warnings:  nonNil(r.Warnings()),
		Planned:   r.Planned(),
	}
}

func publishResponse(r models.PublishResult) PublishResponse {
	return PublishResponse{
		Document:      detail(r.Document),
		Path:          r.Path,
		CommitSHA:     r.CommitSHA,
		Images:        nonNil(r.Images),
		Disambiguated: r.Disambiguated,
		Warnings:      nonNil(r.Warnings),
		ImageErrors:   nonNil(r.ImageErrors),
	}
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
