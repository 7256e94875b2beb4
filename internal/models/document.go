// Package models defines the value types exchanged by the postsync core.
package models

import "time"

// Metadata is the front matter of a post.
type Metadata struct {
	Title   string   `json:"title"`
	Summary string   `json:"summary"`
	Date    string   `json:"date"`
	Tags    []string `json:"tags"`
	// Archived maps to the front matter "draft" flag: hidden from the published
	// site. It is unrelated to Document.IsDraftLocal.
	Archived bool `json:"archived"`
}

// Document is a blog post or draft, local or remote-origin.
type Document struct {
	// ID is the remote blob sha for remote-origin documents and a local
	// token for drafts that were never published.
	ID string `json:"id"`
	Metadata
	IsDraftLocal bool   `json:"is_draft_local"`
	Body         string `json:"body"`
	// OriginFilename is the remote file name the document was pulled from
	// or published to. Nil for brand-new drafts.
	OriginFilename *string   `json:"origin_filename,omitempty"`
	LocalPath      string    `json:"local_path"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	// EditedAt is the last local edit (create, update, publish, out-of-band
	// file change). Zero for documents only ever written by sync. The
	// recency protection window is measured from it.
	EditedAt time.Time `json:"edited_at,omitzero"`
}

// HasOrigin reports whether the document is bound to a remote file.
func (d Document) HasOrigin() bool {
	return d.OriginFilename != nil && *d.OriginFilename != ""
}

// Origin returns the remote file name or "".
func (d Document) Origin() string {
	if d.OriginFilename == nil {
		return ""
	}
	return *d.OriginFilename
}

// StringPtr returns a pointer to s, or nil for the empty string.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// RemoteFile is one entry of a remote directory listing, optionally with
// decoded content. It only lives for the duration of a sync pass.
type RemoteFile struct {
	Name        string `json:"name"`
	Path        string `json:"path"`
	SHA         string `json:"sha"`
	Type        string `json:"type"`
	DownloadURL string `json:"download_url,omitempty"`
	Content     string `json:"-"`
}
