package models

import "fmt"

// SyncResult is the outcome of one sync pass. It is built once by the
// engine and never mutated afterwards; accessors return copies.
type SyncResult struct {
	newPosts     []Document
	updatedPosts []Document
	deletedPosts []Document
	protected    []string
	errors       []string
	warnings     []string
	planned      []PlannedAction
}

// PlannedAction describes one decision of a dry-run pass.
type PlannedAction struct {
	Action string `json:"action"`
	Slug   string `json:"slug"`
	ID     string `json:"id,omitempty"`
}

// SyncCounts is a serializable summary of a SyncResult.
type SyncCounts struct {
	New       int `json:"new"`
	Updated   int `json:"updated"`
	Deleted   int `json:"deleted"`
	Protected int `json:"protected"`
	Errors    int `json:"errors"`
}

// SyncResultBuilder accumulates the outcome of a pass.
type SyncResultBuilder struct {
	r SyncResult
}

func (b *SyncResultBuilder) AddNew(d Document)          { b.r.newPosts = append(b.r.newPosts, d) }
func (b *SyncResultBuilder) AddUpdated(d Document)      { b.r.updatedPosts = append(b.r.updatedPosts, d) }
func (b *SyncResultBuilder) AddDeleted(d Document)      { b.r.deletedPosts = append(b.r.deletedPosts, d) }
func (b *SyncResultBuilder) AddProtected(slug string)   { b.r.protected = append(b.r.protected, slug) }
func (b *SyncResultBuilder) AddError(msg string)        { b.r.errors = append(b.r.errors, msg) }
func (b *SyncResultBuilder) AddWarning(msg string)      { b.r.warnings = append(b.r.warnings, msg) }
func (b *SyncResultBuilder) AddPlanned(a PlannedAction) { b.r.planned = append(b.r.planned, a) }

// Build returns the finished result. The builder must not be used afterwards.
func (b *SyncResultBuilder) Build() SyncResult {
	r := b.r
	b.r = SyncResult{}
	return r
}

func (r SyncResult) NewPosts() []Document     { return append([]Document(nil), r.newPosts...) }
func (r SyncResult) UpdatedPosts() []Document { return append([]Document(nil), r.updatedPosts...) }
func (r SyncResult) DeletedPosts() []Document { return append([]Document(nil), r.deletedPosts...) }
func (r SyncResult) Protected() []string      { return append([]string(nil), r.protected...) }
func (r SyncResult) Errors() []string         { return append([]string(nil), r.errors...) }
func (r SyncResult) Warnings() []string       { return append([]string(nil), r.warnings...) }
func (r SyncResult) Planned() []PlannedAction { return append([]PlannedAction(nil), r.planned...) }

// Counts summarizes the result.
func (r SyncResult) Counts() SyncCounts {
	return SyncCounts{
		New:       len(r.newPosts),
		Updated:   len(r.updatedPosts),
		Deleted:   len(r.deletedPosts),
		Protected: len(r.protected),
		Errors:    len(r.errors),
	}
}

// Summary renders the counts for humans.
func (r SyncResult) Summary() string {
	c := r.Counts()
	return fmt.Sprintf("%d new, %d updated, %d deleted, %d protected, %d errors",
		c.New, c.Updated, c.Deleted, c.Protected, c.Errors)
}

// Changed reports whether the pass mutated the local store.
func (r SyncResult) Changed() bool {
	return len(r.newPosts)+len(r.updatedPosts)+len(r.deletedPosts) > 0
}

// PublishResult is the outcome of a successful publish.
type PublishResult struct {
	Document      Document `json:"document"`
	Path          string   `json:"path"`
	CommitSHA     string   `json:"commit_sha"`
	Images        []string `json:"images"`
	Disambiguated bool     `json:"disambiguated"`
	Warnings      []string `json:"warnings,omitempty"`
	ImageErrors   []string `json:"image_errors,omitempty"`
}
