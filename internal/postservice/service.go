// Package postservice is the entry point collaborators (HTTP API, CLI, MCP)
// use to work with posts. It wraps the store, the sync engine and the
// publish pipeline, retries transient remote failures and emits change
// events.
package postservice

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"

	"github.com/starford/postsync/internal/apperr"
	"github.com/starford/postsync/internal/models"
	"github.com/starford/postsync/internal/sse"
	"github.com/starford/postsync/internal/store"
	"github.com/starford/postsync/internal/sync"
)

// Store is the content store as seen by the service.
type Store interface {
	Save(ctx context.Context, doc *models.Document) error
	Get(ctx context.Context, id string) (*models.Document, error)
	Delete(ctx context.Context, id string) error
	ListAll(ctx context.Context) ([]models.Document, error)
	ListDrafts(ctx context.Context) ([]models.Document, error)
	ListPublished(ctx context.Context) ([]models.Document, error)
	Search(ctx context.Context, query string, limit int) ([]store.SearchResult, error)
}

// Syncer runs sync passes.
type Syncer interface {
	Sync(ctx context.Context, opts sync.Options) (models.SyncResult, error)
	ForceResync(ctx context.Context, opts sync.Options) (models.SyncResult, error)
}

// Publisher commits documents to the remote.
type Publisher interface {
	Publish(ctx context.Context, docID, message string) (models.PublishResult, error)
}

// Notifier receives change events.
type Notifier interface {
	PublishPost(eventType string, ref sse.PostRef)
	PublishSync(data any)
}

// RetryConfig bounds retries of transient remote failures.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// DefaultRetry is used when no RetryConfig is given.
var DefaultRetry = RetryConfig{MaxAttempts: 3, BaseDelay: 500 * time.Millisecond}

// DraftInput carries user-editable fields of a document.
type DraftInput struct {
	Title   string   `json:"title"`
	Summary string   `json:"summary"`
	Date    string   `json:"date"`
	Tags    []string `json:"tags"`
	Body    string   `json:"body"`

	// Archived sets the front matter draft flag (hidden from the site).
	// Nil leaves the current value unchanged.
	Archived *bool `json:"archived,omitempty"`
}

// SyncReport is the payload of a sync.completed event.
type SyncReport struct {
	Full     bool              `json:"full"`
	Counts   models.SyncCounts `json:"counts"`
	Summary  string            `json:"summary"`
	Warnings int               `json:"warnings"`
}

// Service coordinates posts.
type Service struct {
	store     Store
	syncer    Syncer
	publisher Publisher
	notifier  Notifier
	retry     RetryConfig
	logger    *slog.Logger
	newID     func() string
	now       func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithNotifier sends change events to n.
func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithRetry sets the retry policy for sync and publish.
func WithRetry(rc RetryConfig) Option {
	return func(s *Service) { s.retry = rc }
}

// WithIDFunc overrides draft id generation.
func WithIDFunc(fn func() string) Option {
	return func(s *Service) { s.newID = fn }
}

// WithClock sets the time source for local edit times.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New creates a service.
func New(st Store, syncer Syncer, publisher Publisher, opts ...Option) *Service {
	s := &Service{
		store:     st,
		syncer:    syncer,
		publisher: publisher,
		retry:     DefaultRetry,
		logger:    slog.Default(),
		newID:     uuid.NewString,
		now:       time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	if s.retry.MaxAttempts < 1 {
		s.retry.MaxAttempts = 1
	}
	if s.retry.BaseDelay <= 0 {
		s.retry.BaseDelay = DefaultRetry.BaseDelay
	}
	return s
}

// withRetry runs fn until it succeeds, fails permanently or the attempts run
// out. Only transient remote failures are retried.
func (s *Service) withRetry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	backoff := retry.NewExponential(s.retry.BaseDelay)
	backoff = retry.WithMaxRetries(uint64(s.retry.MaxAttempts-1), backoff)
	attempt := 0
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		err := fn(ctx)
		if err != nil && apperr.IsRetryable(err) {
			s.logger.Warn(op+": transient failure",
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()))
			return retry.RetryableError(err)
		}
		return err
	})
}

// Sync runs a sync pass against the remote.
func (s *Service) Sync(ctx context.Context, opts sync.Options) (models.SyncResult, error) {
	var res models.SyncResult
	err := s.withRetry(ctx, "sync", func(ctx context.Context) error {
		var err error
		res, err = s.syncer.Sync(ctx, opts)
		return err
	})
	if err != nil {
		return res, &apperr.UserError{Message: "Failed to sync with remote", Err: err}
	}
	if !opts.DryRun {
		s.notifySync(res, false)
	}
	return res, nil
}

// ForceResync drops every published document and downloads the remote again.
func (s *Service) ForceResync(ctx context.Context, opts sync.Options) (models.SyncResult, error) {
	var res models.SyncResult
	err := s.withRetry(ctx, "resync", func(ctx context.Context) error {
		var err error
		res, err = s.syncer.ForceResync(ctx, opts)
		return err
	})
	if err != nil {
		return res, &apperr.UserError{Message: "Failed to sync with remote", Err: err}
	}
	if !opts.DryRun {
		s.notifySync(res, true)
	}
	return res, nil
}

func (s *Service) notifySync(res models.SyncResult, full bool) {
	if s.notifier == nil {
		return
	}
	for _, d := range res.NewPosts() {
		s.notifier.PublishPost(sse.PostCreated, sse.PostRef{ID: d.ID, Title: d.Title})
	}
	for _, d := range res.UpdatedPosts() {
		s.notifier.PublishPost(sse.PostUpdated, sse.PostRef{ID: d.ID, Title: d.Title})
	}
	for _, d := range res.DeletedPosts() {
		s.notifier.PublishPost(sse.PostDeleted, sse.PostRef{ID: d.ID, Title: d.Title})
	}
	s.notifier.PublishSync(SyncReport{
		Full:     full,
		Counts:   res.Counts(),
		Summary:  res.Summary(),
		Warnings: len(res.Warnings()),
	})
}

// Publish commits a document and its images to the remote branch.
func (s *Service) Publish(ctx context.Context, id, message string) (models.PublishResult, error) {
	doc, err := s.store.Get(ctx, id)
	if err != nil {
		return models.PublishResult{}, err
	}
	var res models.PublishResult
	err = s.withRetry(ctx, "publish", func(ctx context.Context) error {
		var err error
		res, err = s.publisher.Publish(ctx, id, message)
		return err
	})
	if err != nil {
		return res, &apperr.UserError{Message: "Failed to publish " + displayTitle(doc), Err: err}
	}
	if s.notifier != nil {
		s.notifier.PublishPost(sse.PostPublished, sse.PostRef{ID: res.Document.ID, Title: res.Document.Title, PreviousID: id})
	}
	return res, nil
}

func displayTitle(doc *models.Document) string {
	if t := strings.TrimSpace(doc.Title); t != "" {
		return t
	}
	return doc.ID
}

// CreateDraft stores a new local draft.
func (s *Service) CreateDraft(ctx context.Context, in DraftInput) (*models.Document, error) {
	doc := &models.Document{ID: s.newID(), IsDraftLocal: true}
	applyInput(doc, in)
	doc.EditedAt = s.now().UTC()
	if err := s.store.Save(ctx, doc); err != nil {
		return nil, fmt.Errorf("postservice: create draft: %w", err)
	}
	s.notifyPost(sse.PostCreated, doc)
	return doc, nil
}

// Update replaces the editable fields of a document. A published document
// keeps its identity until it is published again.
func (s *Service) Update(ctx context.Context, id string, in DraftInput) (*models.Document, error) {
	doc, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	applyInput(doc, in)
	doc.EditedAt = s.now().UTC()
	if err := s.store.Save(ctx, doc); err != nil {
		return nil, fmt.Errorf("postservice: update %s: %w", id, err)
	}
	s.notifyPost(sse.PostUpdated, doc)
	return doc, nil
}

// Delete removes a document locally. Published posts stay on the remote and
// come back with the next sync.
func (s *Service) Delete(ctx context.Context, id string) error {
	doc, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	s.notifyPost(sse.PostDeleted, doc)
	return nil
}

// Get returns one document.
func (s *Service) Get(ctx context.Context, id string) (*models.Document, error) {
	return s.store.Get(ctx, id)
}

// List returns documents filtered by kind: "draft", "published" or "" for all.
func (s *Service) List(ctx context.Context, kind string) ([]models.Document, error) {
	switch kind {
	case "", "all":
		return s.store.ListAll(ctx)
	case "draft", "drafts":
		return s.store.ListDrafts(ctx)
	case "published":
		return s.store.ListPublished(ctx)
	default:
		return nil, fmt.Errorf("%w: unknown list filter %q", apperr.ErrInvalidInput, kind)
	}
}

// ListAll returns every document, most recently updated first.
func (s *Service) ListAll(ctx context.Context) ([]models.Document, error) {
	return s.store.ListAll(ctx)
}

// Search runs a full-text query over titles, bodies and tags.
func (s *Service) Search(ctx context.Context, query string, limit int) ([]store.SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: empty query", apperr.ErrInvalidInput)
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.store.Search(ctx, query, limit)
}

func (s *Service) notifyPost(eventType string, doc *models.Document) {
	if s.notifier != nil {
		s.notifier.PublishPost(eventType, sse.PostRef{ID: doc.ID, Title: doc.Title})
	}
}

func applyInput(doc *models.Document, in DraftInput) {
	doc.Title = strings.TrimSpace(in.Title)
	doc.Summary = in.Summary
	doc.Date = in.Date
	doc.Tags = normalizeTags(in.Tags)
	doc.Body = in.Body
	if in.Archived != nil {
		doc.Archived = *in.Archived
	}
}

func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := map[string]struct{}{}
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
