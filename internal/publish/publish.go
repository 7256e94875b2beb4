// Package publish turns a local document and the images it references into
// one commit on the remote branch.
package publish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/starford/postsync/internal/apperr"
	"github.com/starford/postsync/internal/checksum"
	"github.com/starford/postsync/internal/models"
	"github.com/starford/postsync/internal/parser"
	"github.com/starford/postsync/internal/passlock"
	"github.com/starford/postsync/internal/remote"
	"github.com/starford/postsync/internal/slug"
	"github.com/starford/postsync/internal/storage"
)

const (
	DefaultContentDir = "content/posts"
	DefaultImageDir   = "static/images"
	// DefaultImageURLPrefix is where the site serves ImageDir from.
	DefaultImageURLPrefix = "/images"
)

// Remote is the slice of the remote client a publish needs.
type Remote interface {
	ListDirectory(ctx context.Context, dir string) ([]models.RemoteFile, error)
	GetBranchHeadCommit(ctx context.Context) (string, error)
	GetCommitTree(ctx context.Context, commit string) (string, error)
	CreateBlob(ctx context.Context, content []byte) (string, error)
	CreateTree(ctx context.Context, baseTree string, entries []remote.TreeEntry) (string, error)
	CreateCommit(ctx context.Context, tree, parent, message string) (string, error)
	UpdateBranchHead(ctx context.Context, commit string) error
}

// Store is the slice of the content store a publish needs.
type Store interface {
	Get(ctx context.Context, id string) (*models.Document, error)
	Replace(ctx context.Context, oldID string, doc *models.Document) error
}

// Config locates posts and images in the remote repository.
type Config struct {
	ContentDir string
	ImageDir   string

	// ImageURLPrefix is the site path rewritten image references point at.
	ImageURLPrefix string
}

// Pipeline publishes documents.
type Pipeline struct {
	remote Remote
	store  Store
	media  storage.Provider
	lock   passlock.Locker
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// WithClock sets the time source used to date undated posts and stamp the
// local edit time.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// WithLocker shares the pass lock with the sync engine.
func WithLocker(l passlock.Locker) Option {
	return func(p *Pipeline) { p.lock = l }
}

// New creates a pipeline reading local images from media.
func New(r Remote, s Store, media storage.Provider, cfg Config, opts ...Option) *Pipeline {
	if cfg.ContentDir == "" {
		cfg.ContentDir = DefaultContentDir
	}
	if cfg.ImageDir == "" {
		cfg.ImageDir = DefaultImageDir
	}
	if cfg.ImageURLPrefix == "" {
		cfg.ImageURLPrefix = DefaultImageURLPrefix
	}
	cfg.ImageURLPrefix = "/" + strings.Trim(cfg.ImageURLPrefix, "/")
	p := &Pipeline{
		remote: r,
		store:  s,
		media:  media,
		cfg:    cfg,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, o := range opts {
		o(p)
	}
	if p.lock == nil {
		p.lock = passlock.NewLocal()
	}
	return p
}

// Publish commits the document docID and its local images to the branch.
// An empty message defaults to "Publish <title>". Remote calls run in a fixed
// order and the branch only moves once the commit exists; on any failure the
// local store is left untouched.
func (p *Pipeline) Publish(ctx context.Context, docID, message string) (models.PublishResult, error) {
	release, err := p.lock.Acquire(ctx, false)
	if err != nil {
		return models.PublishResult{}, err
	}
	defer release()

	doc, err := p.store.Get(ctx, docID)
	if err != nil {
		return models.PublishResult{}, err
	}

	var res models.PublishResult
	body, images := p.extractImages(doc.Body, &res)

	meta := doc.Metadata
	meta.Date = parser.NormalizeDate(meta.Date)
	if meta.Date == "" {
		meta.Date = p.now().Format(parser.DateLayout)
	}
	content := parser.Serialize(meta, body)
	if !doc.IsDraftLocal && doc.HasOrigin() && len(images) == 0 && checksum.GitBlob(content) == doc.ID {
		return models.PublishResult{}, apperr.ErrAlreadyPublished
	}

	name, err := p.resolveName(ctx, doc, &res)
	if err != nil {
		return models.PublishResult{}, err
	}
	res.Path = path.Join(p.cfg.ContentDir, name)
	if message == "" {
		message = "Publish " + doc.Title
	}

	logger := p.logger.With(slog.String("id", doc.ID), slog.String("path", res.Path))
	logger.Info("publish: starting", slog.Int("images", len(images)))

	docSHA, commit, err := p.commit(ctx, res.Path, content, images, message)
	if err != nil {
		logger.Error("publish: failed", slog.String("error", err.Error()))
		return models.PublishResult{}, err
	}
	res.CommitSHA = commit
	for _, img := range images {
		res.Images = append(res.Images, img.remotePath)
	}

	published := *doc
	published.ID = docSHA
	published.Metadata = meta
	published.Body = body
	published.IsDraftLocal = false
	published.OriginFilename = models.StringPtr(name)
	published.EditedAt = p.now().UTC()
	if err := p.store.Replace(ctx, doc.ID, &published); err != nil {
		return models.PublishResult{}, fmt.Errorf("publish: commit %s created but local update failed: %w", commit, err)
	}
	res.Document = published

	logger.Info("publish: done", slog.String("commit", commit), slog.String("new_id", docSHA))
	return res, nil
}

// resolveName picks the remote file name: the tracked one for a document
// that already has a remote file, otherwise a fresh slug that does not clash
// with existing posts.
func (p *Pipeline) resolveName(ctx context.Context, doc *models.Document, res *models.PublishResult) (string, error) {
	if doc.HasOrigin() {
		return doc.Origin(), nil
	}
	files, err := p.remote.ListDirectory(ctx, p.cfg.ContentDir)
	if err != nil {
		return "", fmt.Errorf("publish: list %s: %w", p.cfg.ContentDir, err)
	}
	existing := make([]string, 0, len(files))
	for _, f := range files {
		if slug.IsPostFile(f.Name) {
			existing = append(existing, slug.FromFilename(f.Name))
		}
	}
	base := slug.Slugify(doc.Title)
	s, changed := slug.Disambiguate(base, existing)
	if changed {
		res.Disambiguated = true
		res.Warnings = append(res.Warnings, fmt.Sprintf("%s already exists remotely; published as %s", slug.Filename(base), slug.Filename(s)))
	}
	return slug.Filename(s), nil
}

// commit runs blob, tree, commit and ref update in that order and returns the
// document blob sha and the new commit sha.
func (p *Pipeline) commit(ctx context.Context, docPath string, content []byte, images []image, message string) (string, string, error) {
	head, err := p.remote.GetBranchHeadCommit(ctx)
	if err != nil {
		return "", "", err
	}
	baseTree, err := p.remote.GetCommitTree(ctx, head)
	if err != nil {
		return "", "", err
	}

	docSHA, err := p.remote.CreateBlob(ctx, content)
	if err != nil {
		return "", "", err
	}
	entries := []remote.TreeEntry{remote.BlobEntry(docPath, docSHA)}
	for _, img := range images {
		sha, err := p.remote.CreateBlob(ctx, img.data)
		if err != nil {
			return "", "", fmt.Errorf("upload %s: %w", img.source, err)
		}
		entries = append(entries, remote.BlobEntry(img.remotePath, sha))
	}

	tree, err := p.remote.CreateTree(ctx, baseTree, entries)
	if err != nil {
		return "", "", err
	}
	commit, err := p.remote.CreateCommit(ctx, tree, head, message)
	if err != nil {
		return "", "", err
	}
	if err := p.remote.UpdateBranchHead(ctx, commit); err != nil {
		if errors.Is(err, apperr.ErrRequestFailed) && apperr.StatusOf(err) == http.StatusUnprocessableEntity {
			return "", "", fmt.Errorf("branch moved during publish, retry: %w", err)
		}
		return "", "", err
	}
	return docSHA, commit, nil
}
