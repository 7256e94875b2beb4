package sync

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/starford/postsync/internal/models"
	"github.com/starford/postsync/internal/parser"
	"github.com/starford/postsync/internal/slug"
)

// remoteItem is a remote file whose content a pass needs.
type remoteItem struct {
	slug    string
	file    models.RemoteFile // listing entry
	fetched models.RemoteFile
	parsed  *parser.Result
	err     error
}

func (it *remoteItem) sha() string {
	if it.fetched.SHA != "" {
		return it.fetched.SHA
	}
	return it.file.SHA
}

type localItem struct {
	slug string
	doc  *models.Document
}

// rebind pairs a local document with the remote file it now tracks.
type rebind struct {
	local  localItem
	remote *remoteItem
}

type missingItem struct {
	localItem
	state State
}

type plan struct {
	downloads []*remoteItem
	updates   []rebind
	renames   []rebind
	missing   []missingItem
	deletes   []localItem
	protected []localItem
	unchanged int
}

func slugOf(name string) string { return slug.FromFilename(name) }

func isPost(name string) bool { return slug.IsPostFile(name) }

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// localSlugHint is the slug a local document is tracked under: its remote
// file name when known, its title otherwise.
func localSlugHint(doc *models.Document) string {
	if doc.HasOrigin() {
		return slugOf(doc.Origin())
	}
	s := slug.Slugify(doc.Title)
	if s == slug.Placeholder {
		return slug.Unnamed(doc.ID)
	}
	return s
}

// buildPlan classifies every slug seen locally or remotely.
func (e *Engine) buildPlan(listing map[string]models.RemoteFile, locals []models.Document, force bool, b *models.SyncResultBuilder) *plan {
	localBySlug := make(map[string]*models.Document, len(locals))
	for i := range locals {
		doc := &locals[i]
		key := localSlugHint(doc)
		if !doc.HasOrigin() && key == slug.Unnamed(doc.ID) {
			msg := fmt.Sprintf("Document %s has no title and no remote file; tracked as %s", doc.ID, key)
			e.logger.Warn("sync: untitled document", slog.String("id", doc.ID), slog.String("slug", key))
			b.AddWarning(msg)
		}
		if other, dup := localBySlug[key]; dup {
			alt := slug.Unnamed(doc.ID)
			b.AddWarning(fmt.Sprintf("Documents %s and %s both map to %s; %s tracked as %s", other.ID, doc.ID, key, doc.ID, alt))
			e.logger.Warn("sync: duplicate local slug", slog.String("slug", key), slog.String("id", doc.ID))
			key = alt
		}
		localBySlug[key] = doc
	}

	slugs := map[string]struct{}{}
	for k := range listing {
		slugs[k] = struct{}{}
	}
	for k := range localBySlug {
		slugs[k] = struct{}{}
	}

	now := e.now()
	p := &plan{}
	for _, s := range sortedKeys(slugs) {
		var local *LocalEntry
		var remote *RemoteEntry
		doc, hasLocal := localBySlug[s]
		file, hasRemote := listing[s]
		if hasLocal {
			local = &LocalEntry{ID: doc.ID, EditedAt: doc.EditedAt}
		}
		if hasRemote {
			remote = &RemoteEntry{SHA: file.SHA}
		}

		switch st := Classify(local, remote, now, e.cfg.ProtectionWindow, force); st {
		case StateNewFromRemote:
			p.downloads = append(p.downloads, &remoteItem{slug: s, file: file})
		case StateUpdatedFromRemote:
			p.updates = append(p.updates, rebind{
				local:  localItem{slug: s, doc: doc},
				remote: &remoteItem{slug: s, file: file},
			})
		case StateMissingRemote, StateProtected:
			p.missing = append(p.missing, missingItem{localItem: localItem{slug: s, doc: doc}, state: st})
		default:
			p.unchanged++
		}
	}
	return p
}

// resolve fetches the remote files the plan needs, then settles every
// missing document: a title match against a new remote file makes it a
// rename, otherwise it is deleted or protected.
func (e *Engine) resolve(ctx context.Context, p *plan, b *models.SyncResultBuilder) {
	fetch := make([]*remoteItem, 0, len(p.downloads)+len(p.updates))
	fetch = append(fetch, p.downloads...)
	for _, u := range p.updates {
		fetch = append(fetch, u.remote)
	}
	e.fetchAll(ctx, fetch)

	titles := map[string]string{}
	bySlug := map[string]*remoteItem{}
	for _, it := range p.downloads {
		if it.err == nil {
			titles[it.slug] = it.parsed.Metadata.Title
			bySlug[it.slug] = it
		}
	}

	matched := map[string]struct{}{}
	for _, m := range p.missing {
		if target, ok := slug.MatchTitle(m.doc.Title, titles); ok {
			delete(titles, target)
			matched[target] = struct{}{}
			p.renames = append(p.renames, rebind{local: m.localItem, remote: bySlug[target]})
			continue
		}
		if m.state == StateProtected {
			p.protected = append(p.protected, m.localItem)
		} else {
			p.deletes = append(p.deletes, m.localItem)
		}
	}
	p.missing = nil

	if len(matched) > 0 {
		kept := p.downloads[:0]
		for _, it := range p.downloads {
			if _, ok := matched[it.slug]; !ok {
				kept = append(kept, it)
			}
		}
		p.downloads = kept
	}
}

// fetchAll downloads and parses items with bounded concurrency. Failures
// are stored on the item.
func (e *Engine) fetchAll(ctx context.Context, items []*remoteItem) {
	var g errgroup.Group
	g.SetLimit(e.cfg.Concurrency)
	for _, it := range items {
		g.Go(func() error {
			f, err := e.remote.FetchFile(ctx, it.file.Path)
			if err != nil {
				it.err = err
				return nil
			}
			res, err := parser.Parse([]byte(f.Content))
			if err != nil {
				it.err = err
				return nil
			}
			it.fetched = f
			it.parsed = res
			return nil
		})
	}
	_ = g.Wait()
}

// record turns the plan into dry-run output.
func (p *plan) record(b *models.SyncResultBuilder) {
	for _, u := range p.updates {
		if u.remote.err != nil {
			b.AddError(itemError(u.remote.file.Name, u.remote.err))
			continue
		}
		b.AddPlanned(models.PlannedAction{Action: StateUpdatedFromRemote.String(), Slug: u.local.slug, ID: u.remote.sha()})
	}
	for _, r := range p.renames {
		b.AddPlanned(models.PlannedAction{Action: StateRenamed.String(), Slug: r.remote.slug, ID: r.local.doc.ID})
	}
	for _, it := range p.downloads {
		if it.err != nil {
			b.AddError(itemError(it.file.Name, it.err))
			continue
		}
		b.AddPlanned(models.PlannedAction{Action: StateNewFromRemote.String(), Slug: it.slug, ID: it.sha()})
	}
	for _, d := range p.deletes {
		b.AddPlanned(models.PlannedAction{Action: StateMissingRemote.String(), Slug: d.slug, ID: d.doc.ID})
	}
	for _, d := range p.protected {
		b.AddPlanned(models.PlannedAction{Action: StateProtected.String(), Slug: d.slug, ID: d.doc.ID})
	}
}

// apply mutates the store one document at a time. Cancellation is checked
// between documents.
func (e *Engine) apply(ctx context.Context, p *plan, b *models.SyncResultBuilder) error {
	for _, u := range p.updates {
		if err := ctx.Err(); err != nil {
			return err
		}
		e.rebindLocal(ctx, u, b, "sync: updated")
	}
	for _, r := range p.renames {
		if err := ctx.Err(); err != nil {
			return err
		}
		e.rebindLocal(ctx, r, b, "sync: renamed")
	}
	for _, it := range p.downloads {
		if err := ctx.Err(); err != nil {
			return err
		}
		e.saveNew(ctx, it, b)
	}
	for _, d := range p.deletes {
		if err := ctx.Err(); err != nil {
			return err
		}
		e.deleteLocal(ctx, d, b)
	}
	for _, d := range p.protected {
		e.logger.Info("sync: protected recent document",
			slog.String("slug", d.slug),
			slog.String("id", d.doc.ID),
			slog.Time("edited_at", d.doc.EditedAt))
		b.AddProtected(d.slug)
	}
	return nil
}

// rebindLocal overwrites a local document in place with remote content. The
// record keeps its identity and local path; its ID advances to the new sha.
func (e *Engine) rebindLocal(ctx context.Context, r rebind, b *models.SyncResultBuilder, msg string) {
	it := r.remote
	if it.err != nil {
		b.AddError(itemError(it.file.Name, it.err))
		return
	}
	doc := *r.local.doc
	doc.ID = it.sha()
	doc.Metadata = it.parsed.Metadata
	doc.Body = it.parsed.Body
	doc.IsDraftLocal = false
	doc.OriginFilename = models.StringPtr(it.file.Name)

	if err := e.store.Replace(ctx, r.local.doc.ID, &doc); err != nil {
		b.AddError(itemError(it.file.Name, err))
		return
	}
	e.logger.Info(msg,
		slog.String("file", it.file.Name),
		slog.String("old_id", r.local.doc.ID),
		slog.String("id", doc.ID))
	b.AddUpdated(doc)
}

func (e *Engine) saveNew(ctx context.Context, it *remoteItem, b *models.SyncResultBuilder) {
	if it.err != nil {
		b.AddError(itemError(it.file.Name, it.err))
		return
	}
	doc := &models.Document{
		ID:             it.sha(),
		Metadata:       it.parsed.Metadata,
		Body:           it.parsed.Body,
		OriginFilename: models.StringPtr(it.file.Name),
	}
	if err := e.store.Save(ctx, doc); err != nil {
		b.AddError(itemError(it.file.Name, err))
		return
	}
	e.logger.Info("sync: downloaded", slog.String("file", it.file.Name), slog.String("id", doc.ID))
	b.AddNew(*doc)
}

func (e *Engine) deleteLocal(ctx context.Context, d localItem, b *models.SyncResultBuilder) {
	if err := e.store.Delete(ctx, d.doc.ID); err != nil {
		b.AddError(itemError(slug.Filename(d.slug), err))
		return
	}
	e.logger.Info("sync: deleted", slog.String("slug", d.slug), slog.String("id", d.doc.ID))
	b.AddDeleted(*d.doc)
}
