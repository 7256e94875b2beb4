// Package sync reconciles the local content store with the remote content
// directory. The remote is the source of truth for published posts; local
// drafts are never touched.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"time"

	"github.com/starford/postsync/internal/apperr"
	"github.com/starford/postsync/internal/models"
	"github.com/starford/postsync/internal/passlock"
)

const (
	DefaultProtectionWindow = 24 * time.Hour
	DefaultConcurrency      = 4
)

// Remote is the read side of the remote repository.
type Remote interface {
	ListDirectory(ctx context.Context, dir string) ([]models.RemoteFile, error)
	FetchFile(ctx context.Context, path string) (models.RemoteFile, error)
}

// Store is the part of the content store a pass mutates.
type Store interface {
	Save(ctx context.Context, doc *models.Document) error
	Replace(ctx context.Context, oldID string, doc *models.Document) error
	Delete(ctx context.Context, id string) error
	ListPublished(ctx context.Context) ([]models.Document, error)
}

// Config tunes a pass.
type Config struct {
	ContentDir       string
	ProtectionWindow time.Duration
	Concurrency      int
}

// Options select the behaviour of one pass.
type Options struct {
	// Force deletes documents missing remotely even inside the protection window.
	Force bool
	// DryRun computes decisions without mutating the store.
	DryRun bool
	// Wait blocks for a running pass instead of failing with apperr.ErrBusy.
	Wait bool
}

// Engine runs sync passes.
type Engine struct {
	remote Remote
	store  Store
	lock   passlock.Locker
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithClock overrides the time source for the protection window.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithLocker serializes passes through l.
func WithLocker(l passlock.Locker) Option {
	return func(e *Engine) { e.lock = l }
}

// NewEngine creates an engine. Without WithLocker passes are guarded by a
// process-local lock.
func NewEngine(remote Remote, store Store, cfg Config, opts ...Option) *Engine {
	if cfg.ProtectionWindow <= 0 {
		cfg.ProtectionWindow = DefaultProtectionWindow
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	e := &Engine{
		remote: remote,
		store:  store,
		cfg:    cfg,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	if e.lock == nil {
		e.lock = passlock.NewLocal()
	}
	return e
}

// Sync runs one pass. Only a failure to list the remote directory (or to
// read the local store) aborts the pass; every per-document failure is
// reported in the result.
func (e *Engine) Sync(ctx context.Context, opts Options) (models.SyncResult, error) {
	release, err := e.lock.Acquire(ctx, opts.Wait)
	if err != nil {
		return models.SyncResult{}, err
	}
	defer release()

	start := e.now()
	e.logger.Info("sync: starting",
		slog.String("dir", e.cfg.ContentDir),
		slog.Bool("force", opts.Force),
		slog.Bool("dry_run", opts.DryRun))

	listing, err := e.listRemote(ctx)
	if err != nil {
		return models.SyncResult{}, err
	}
	locals, err := e.store.ListPublished(ctx)
	if err != nil {
		return models.SyncResult{}, fmt.Errorf("sync: list local documents: %w", err)
	}

	var b models.SyncResultBuilder
	p := e.buildPlan(listing, locals, opts.Force, &b)
	e.resolve(ctx, p, &b)

	e.logger.Info("sync: plan",
		slog.Int("new", len(p.downloads)),
		slog.Int("update", len(p.updates)),
		slog.Int("rename", len(p.renames)),
		slog.Int("delete", len(p.deletes)),
		slog.Int("protected", len(p.protected)))

	if opts.DryRun {
		p.record(&b)
		e.logger.Info("sync: dry-run complete, no changes applied")
		return b.Build(), nil
	}

	err = e.apply(ctx, p, &b)
	result := b.Build()
	e.logger.Info("sync: finished",
		slog.String("summary", result.Summary()),
		slog.Duration("elapsed", e.now().Sub(start)))
	return result, err
}

// ForceResync deletes every non-draft local document and downloads the
// whole remote directory again. The remote is listed first so a failed
// listing leaves the store untouched.
func (e *Engine) ForceResync(ctx context.Context, opts Options) (models.SyncResult, error) {
	release, err := e.lock.Acquire(ctx, opts.Wait)
	if err != nil {
		return models.SyncResult{}, err
	}
	defer release()

	listing, err := e.listRemote(ctx)
	if err != nil {
		return models.SyncResult{}, err
	}
	locals, err := e.store.ListPublished(ctx)
	if err != nil {
		return models.SyncResult{}, fmt.Errorf("sync: list local documents: %w", err)
	}

	var b models.SyncResultBuilder
	p := &plan{}
	for i := range locals {
		p.deletes = append(p.deletes, localItem{slug: localSlugHint(&locals[i]), doc: &locals[i]})
	}
	for _, slugName := range sortedKeys(listing) {
		p.downloads = append(p.downloads, &remoteItem{slug: slugName, file: listing[slugName]})
	}

	if opts.DryRun {
		p.record(&b)
		return b.Build(), nil
	}

	e.logger.Info("sync: full resync", slog.Int("local", len(locals)), slog.Int("remote", len(listing)))
	for _, d := range p.deletes {
		if err := ctx.Err(); err != nil {
			return b.Build(), err
		}
		e.deleteLocal(ctx, d, &b)
	}
	e.fetchAll(ctx, p.downloads)
	for _, it := range p.downloads {
		if err := ctx.Err(); err != nil {
			return b.Build(), err
		}
		e.saveNew(ctx, it, &b)
	}
	return b.Build(), nil
}

// listRemote returns the post files of the content directory keyed by slug.
func (e *Engine) listRemote(ctx context.Context) (map[string]models.RemoteFile, error) {
	files, err := e.remote.ListDirectory(ctx, e.cfg.ContentDir)
	if err != nil {
		return nil, fmt.Errorf("sync: list remote %s: %w", e.cfg.ContentDir, err)
	}
	out := make(map[string]models.RemoteFile, len(files))
	for _, f := range files {
		if f.Type != "" && f.Type != "file" {
			continue
		}
		if !isPost(f.Name) {
			continue
		}
		if f.Path == "" {
			f.Path = path.Join(e.cfg.ContentDir, f.Name)
		}
		out[slugOf(f.Name)] = f
	}
	return out, nil
}

func itemError(name string, err error) string {
	return fmt.Sprintf("Failed to sync %s with remote: %v", name, err)
}

// IsBusy reports whether err means another pass holds the lock.
func IsBusy(err error) bool {
	return errors.Is(err, apperr.ErrBusy)
}
