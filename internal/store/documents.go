package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"unicode/utf8"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/postsync/internal/apperr"
	"github.com/starford/postsync/internal/checksum"
	"github.com/starford/postsync/internal/models"
	"github.com/starford/postsync/internal/parser"
	"github.com/starford/postsync/internal/slug"
)

const selectColumns = `id, local_path, title, summary, date, tags, archived, is_draft_local,
	origin_filename, body, checksum, created_at, updated_at, edited_at`

// PathFor returns the backing file path the store uses for doc.
func PathFor(doc *models.Document) string {
	switch {
	case doc.IsDraftLocal:
		return path.Join(draftsDir, slug.Filename(doc.ID))
	case doc.HasOrigin():
		return path.Join(postsDir, path.Base(doc.Origin()))
	default:
		return path.Join(postsDir, slug.Filename(doc.ID))
	}
}

var validUTF8 = validation.By(func(v any) error {
	if s, ok := v.(string); ok && !utf8.ValidString(s) {
		return errors.New("must be valid UTF-8")
	}
	return nil
})

func validateDocument(doc *models.Document) error {
	return validation.ValidateStruct(doc,
		validation.Field(&doc.ID, validation.Required),
		validation.Field(&doc.Title, validUTF8),
		validation.Field(&doc.Summary, validUTF8),
		validation.Field(&doc.Date, validUTF8),
		validation.Field(&doc.Tags, validation.Each(validUTF8)),
		validation.Field(&doc.Body, validUTF8),
		validation.Field(&doc.OriginFilename, validation.When(!doc.IsDraftLocal && doc.OriginFilename != nil,
			validation.Required, validation.By(func(v any) error {
				if p, ok := v.(*string); ok && p != nil && !slug.IsPostFile(*p) {
					return errors.New("must be a .md file name")
				}
				return nil
			}))),
	)
}

// Save writes doc's backing file and record. LocalPath, CreatedAt and
// UpdatedAt are assigned by the store; EditedAt is stored as given.
func (s *Store) Save(ctx context.Context, doc *models.Document) error {
	return s.Replace(ctx, doc.ID, doc)
}

// Replace stores doc in place of the record identified by oldID, which may
// differ from doc.ID when an identity advances (a new remote sha, or a draft
// becoming published). The old record and its backing file are removed once
// the new record is committed. A different record already holding doc.ID or
// doc's backing path is treated as an identity collision: it is superseded,
// never duplicated.
func (s *Store) Replace(ctx context.Context, oldID string, doc *models.Document) error {
	if err := validateDocument(doc); err != nil {
		return fmt.Errorf("store: invalid document: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	newPath := PathFor(doc)
	now := s.now().UTC()

	prev, err := s.get(ctx, oldID)
	if err != nil && !errors.Is(err, apperr.ErrNotFound) {
		return err
	}
	stale := map[string]struct{}{}
	if prev != nil {
		doc.CreatedAt = prev.CreatedAt
		stale[prev.LocalPath] = struct{}{}
	} else {
		doc.CreatedAt = now
	}
	if oldID != doc.ID {
		if clash, err := s.get(ctx, doc.ID); err == nil {
			s.logger.Warn("store: identity collision",
				slog.String("id", doc.ID),
				slog.String("superseded_path", clash.LocalPath),
				slog.String("error", apperr.ErrIdentityCollision.Error()))
			stale[clash.LocalPath] = struct{}{}
		} else if !errors.Is(err, apperr.ErrNotFound) {
			return err
		}
	}
	delete(stale, newPath)

	doc.LocalPath = newPath
	doc.UpdatedAt = now
	if doc.Tags == nil {
		doc.Tags = []string{}
	}

	content := parser.Serialize(doc.Metadata, doc.Body)
	restore, err := s.writeFile(newPath, content)
	if err != nil {
		return err
	}
	if err := s.commit(ctx, oldID, doc, checksum.Sum(content)); err != nil {
		restore()
		return err
	}

	for p := range stale {
		s.removeFile(p)
	}
	return nil
}

// writeFile writes content and returns a func that undoes the write.
func (s *Store) writeFile(p string, content []byte) (func(), error) {
	previous, readErr := s.files.Read(p)
	existed := readErr == nil
	if err := s.files.Write(p, content); err != nil {
		return nil, fmt.Errorf("store: write %s: %w", p, err)
	}
	return func() {
		var err error
		if existed {
			err = s.files.Write(p, previous)
		} else {
			err = s.files.Delete(p)
		}
		if err != nil {
			s.logger.Warn("store: rollback file failed", slog.String("path", p), slog.String("error", err.Error()))
		}
	}, nil
}

func (s *Store) commit(ctx context.Context, oldID string, doc *models.Document, sum string) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if oldID != doc.ID {
		if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, oldID); err != nil {
			return fmt.Errorf("store: drop previous record: %w", err)
		}
		ftsDelete(tx, oldID)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE local_path = ? AND id <> ?`, doc.LocalPath, doc.ID)
	if err != nil {
		return fmt.Errorf("store: drop path collision: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		s.logger.Warn("store: identity collision",
			slog.String("path", doc.LocalPath),
			slog.String("error", apperr.ErrIdentityCollision.Error()))
	}

	tagsJSON, _ := json.Marshal(doc.Tags)
	var origin any
	if doc.HasOrigin() {
		origin = doc.Origin()
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO documents (id, local_path, title, summary, date, tags, archived, is_draft_local,
			origin_filename, body, checksum, created_at, updated_at, edited_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			local_path      = excluded.local_path,
			title           = excluded.title,
			summary         = excluded.summary,
			date            = excluded.date,
			tags            = excluded.tags,
			archived        = excluded.archived,
			is_draft_local  = excluded.is_draft_local,
			origin_filename = excluded.origin_filename,
			body            = excluded.body,
			checksum        = excluded.checksum,
			created_at      = excluded.created_at,
			updated_at      = excluded.updated_at,
			edited_at       = excluded.edited_at
	`, doc.ID, doc.LocalPath, doc.Title, doc.Summary, doc.Date, string(tagsJSON), doc.Archived, doc.IsDraftLocal,
		origin, doc.Body, sum, doc.CreatedAt, doc.UpdatedAt, sql.NullTime{Time: doc.EditedAt.UTC(), Valid: !doc.EditedAt.IsZero()})
	if err != nil {
		return fmt.Errorf("store: upsert document: %w", err)
	}
	if err := ftsUpsert(tx, doc.ID, doc.Title, doc.Body, doc.Tags); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}

// removeFile deletes a backing file. Failures are logged, not returned.
func (s *Store) removeFile(p string) {
	if err := s.files.Delete(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		s.logger.Warn("store: remove backing file failed", slog.String("path", p), slog.String("error", err.Error()))
	}
}

// Delete removes the record and then its backing file.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.deleteRecord(ctx, id); err != nil {
		return err
	}
	s.removeFile(doc.LocalPath)
	return nil
}

func (s *Store) deleteRecord(ctx context.Context, id string) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	ftsDelete(tx, id)
	if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id); err != nil {
		return fmt.Errorf("store: delete %s: %w", id, err)
	}
	return tx.Commit()
}

// Get returns the document with the given ID or apperr.ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (*models.Document, error) {
	return s.get(ctx, id)
}

func (s *Store) get(ctx context.Context, id string) (*models.Document, error) {
	row := s.conn.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM documents WHERE id = ?`, id)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("store: document %s: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("store: get %s: %w", id, err)
	}
	return doc, nil
}

// ListAll returns every document, most recently updated first.
func (s *Store) ListAll(ctx context.Context) ([]models.Document, error) {
	return s.list(ctx, `SELECT `+selectColumns+` FROM documents ORDER BY updated_at DESC, id`)
}

// ListPublished returns documents that are not local drafts.
func (s *Store) ListPublished(ctx context.Context) ([]models.Document, error) {
	return s.list(ctx, `SELECT `+selectColumns+` FROM documents WHERE is_draft_local = 0 ORDER BY updated_at DESC, id`)
}

// ListDrafts returns local drafts only.
func (s *Store) ListDrafts(ctx context.Context) ([]models.Document, error) {
	return s.list(ctx, `SELECT `+selectColumns+` FROM documents WHERE is_draft_local = 1 ORDER BY updated_at DESC, id`)
}

func (s *Store) list(ctx context.Context, query string, args ...any) ([]models.Document, error) {
	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list: %w", err)
	}
	defer rows.Close()

	out := []models.Document{}
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan: %w", err)
		}
		out = append(out, *doc)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDocument(sc scanner) (*models.Document, error) {
	var (
		d        models.Document
		tagsJSON string
		origin   sql.NullString
		sum      string
		edited   sql.NullTime
	)
	err := sc.Scan(&d.ID, &d.LocalPath, &d.Title, &d.Summary, &d.Date, &tagsJSON, &d.Archived,
		&d.IsDraftLocal, &origin, &d.Body, &sum, &d.CreatedAt, &d.UpdatedAt, &edited)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(tagsJSON), &d.Tags); err != nil || d.Tags == nil {
		d.Tags = []string{}
	}
	if origin.Valid {
		d.OriginFilename = models.StringPtr(origin.String)
	}
	if edited.Valid {
		d.EditedAt = edited.Time
	}
	return &d, nil
}
