package store

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/starford/postsync/internal/checksum"
	"github.com/starford/postsync/internal/parser"
	"github.com/starford/postsync/internal/slug"
)

// ReconcileReport lists what a Reconcile pass changed.
type ReconcileReport struct {
	Dropped   []string // ids whose backing file was gone
	Purged    []string // backing files without a record
	Refreshed []string // ids re-read after an out-of-band edit
}

// Empty reports whether the pass changed nothing.
func (r ReconcileReport) Empty() bool {
	return len(r.Dropped) == 0 && len(r.Purged) == 0 && len(r.Refreshed) == 0
}

type recordState struct {
	id       string
	checksum string
}

// Reconcile brings records and backing files back into agreement:
//   - records whose file is missing are dropped
//   - files with no record are removed
//   - files edited outside the store are parsed back into their record
func (s *Store) Reconcile(ctx context.Context) (ReconcileReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var report ReconcileReport

	records, err := s.recordStates(ctx)
	if err != nil {
		return report, err
	}
	files, err := s.files.List("", slug.Ext)
	if err != nil {
		return report, fmt.Errorf("store: reconcile list: %w", err)
	}

	disk := make(map[string]string, len(files))
	for _, f := range files {
		if !managedPath(f.Path) {
			continue
		}
		disk[f.Path] = f.Checksum
	}

	for p, rec := range records {
		sum, ok := disk[p]
		switch {
		case !ok:
			if err := s.deleteRecord(ctx, rec.id); err != nil {
				s.logger.Warn("reconcile: drop record failed", slog.String("id", rec.id), slog.String("error", err.Error()))
				continue
			}
			s.logger.Info("reconcile: dropped record without file", slog.String("id", rec.id), slog.String("path", p))
			report.Dropped = append(report.Dropped, rec.id)
		case sum != rec.checksum:
			if err := s.refresh(ctx, rec.id, p); err != nil {
				s.logger.Warn("reconcile: refresh failed", slog.String("path", p), slog.String("error", err.Error()))
				continue
			}
			s.logger.Debug("reconcile: refreshed", slog.String("id", rec.id), slog.String("path", p))
			report.Refreshed = append(report.Refreshed, rec.id)
		}
	}

	for p := range disk {
		if _, ok := records[p]; ok {
			continue
		}
		if err := s.files.Delete(p); err != nil {
			s.logger.Warn("reconcile: purge failed", slog.String("path", p), slog.String("error", err.Error()))
			continue
		}
		s.logger.Info("reconcile: purged orphan file", slog.String("path", p))
		report.Purged = append(report.Purged, p)
	}

	return report, nil
}

func managedPath(p string) bool {
	return strings.HasPrefix(p, draftsDir+"/") || strings.HasPrefix(p, postsDir+"/")
}

func (s *Store) recordStates(ctx context.Context) (map[string]recordState, error) {
	rows, err := s.conn.QueryContext(ctx, `SELECT id, local_path, checksum FROM documents`)
	if err != nil {
		return nil, fmt.Errorf("store: record states: %w", err)
	}
	defer rows.Close()

	out := make(map[string]recordState)
	for rows.Next() {
		var id, p, sum string
		if err := rows.Scan(&id, &p, &sum); err != nil {
			return nil, err
		}
		out[p] = recordState{id: id, checksum: sum}
	}
	return out, rows.Err()
}

// refresh re-parses an edited backing file into its record. Identity fields
// are left alone.
func (s *Store) refresh(ctx context.Context, id, p string) error {
	data, err := s.files.Read(p)
	if err != nil {
		return err
	}
	res, err := parser.Parse(data)
	if err != nil {
		return err
	}
	doc, err := s.get(ctx, id)
	if err != nil {
		return err
	}
	doc.Metadata = res.Metadata
	doc.Body = res.Body
	doc.UpdatedAt = s.now().UTC()
	doc.EditedAt = doc.UpdatedAt
	return s.commit(ctx, id, doc, checksum.Sum(data))
}
