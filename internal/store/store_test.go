package store

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/postsync/internal/apperr"
	"github.com/starford/postsync/internal/models"
	"github.com/starford/postsync/internal/parser"
	"github.com/starford/postsync/internal/storage"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestStore(t *testing.T) (*Store, *storage.FS, *fakeClock) {
	t.Helper()
	files, err := storage.NewFS(t.TempDir())
	require.NoError(t, err)

	dbFile, err := os.CreateTemp("", "postsync-store-test-*.db")
	require.NoError(t, err)
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	clock := &fakeClock{t: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	s, err := Open(dbFile.Name(), files, WithLogger(logger), WithClock(clock.Now))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, files, clock
}

func draft(id, title string) *models.Document {
	return &models.Document{
		ID:           id,
		Metadata:     models.Metadata{Title: title, Tags: []string{"a"}},
		IsDraftLocal: true,
		Body:         "draft body\n",
	}
}

func published(id, origin, title string) *models.Document {
	return &models.Document{
		ID:             id,
		Metadata:       models.Metadata{Title: title, Date: "2024-01-01", Tags: []string{}},
		Body:           "published body\n",
		OriginFilename: models.StringPtr(origin),
	}
}

func TestSaveDraftWritesFileAndRecord(t *testing.T) {
	s, files, _ := newTestStore(t)
	ctx := context.Background()

	doc := draft("d1", "My Draft")
	require.NoError(t, s.Save(ctx, doc))
	assert.Equal(t, "drafts/d1.md", doc.LocalPath)

	raw, err := files.Read("drafts/d1.md")
	require.NoError(t, err)
	parsed, err := parser.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "My Draft", parsed.Metadata.Title)
	assert.Equal(t, "draft body\n", parsed.Body)

	got, err := s.Get(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, "My Draft", got.Title)
	assert.True(t, got.IsDraftLocal)
	assert.Nil(t, got.OriginFilename)
	assert.Equal(t, []string{"a"}, got.Tags)
	assert.False(t, got.CreatedAt.IsZero())
}

func TestSavePublishedUsesOriginPath(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()

	doc := published("sha1", "b.md", "B")
	require.NoError(t, s.Save(ctx, doc))
	assert.Equal(t, "posts/b.md", doc.LocalPath)

	got, err := s.Get(ctx, "sha1")
	require.NoError(t, err)
	require.NotNil(t, got.OriginFilename)
	assert.Equal(t, "b.md", *got.OriginFilename)
	assert.False(t, got.IsDraftLocal)
}

func TestEditedAtStoredAsGiven(t *testing.T) {
	s, _, clock := newTestStore(t)
	ctx := context.Background()

	synced := published("sha1", "b.md", "B")
	require.NoError(t, s.Save(ctx, synced))
	got, err := s.Get(ctx, "sha1")
	require.NoError(t, err)
	assert.True(t, got.EditedAt.IsZero())
	assert.False(t, got.UpdatedAt.IsZero())

	edited := clock.Now().Add(-time.Hour)
	got.EditedAt = edited
	clock.Advance(time.Hour)
	require.NoError(t, s.Save(ctx, got))

	again, err := s.Get(ctx, "sha1")
	require.NoError(t, err)
	assert.True(t, again.EditedAt.Equal(edited))
	assert.True(t, again.UpdatedAt.Equal(clock.Now()))
}

func TestOpenAddsEditedAtColumn(t *testing.T) {
	files, err := storage.NewFS(t.TempDir())
	require.NoError(t, err)
	dbPath := filepath.Join(t.TempDir(), "old.db")

	s, err := Open(dbPath, files)
	require.NoError(t, err)
	_, err = s.conn.Exec(`ALTER TABLE documents DROP COLUMN edited_at`)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(dbPath, files)
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.Save(context.Background(), draft("d1", "D")))
}

func TestSaveRejectsMissingID(t *testing.T) {
	s, _, _ := newTestStore(t)
	err := s.Save(context.Background(), &models.Document{IsDraftLocal: true})
	assert.Error(t, err)
}

func TestSaveRejectsInvalidUTF8(t *testing.T) {
	s, files, _ := newTestStore(t)
	ctx := context.Background()

	for name, doc := range map[string]*models.Document{
		"title": {ID: "d1", IsDraftLocal: true, Metadata: models.Metadata{Title: "bad\xffbyte"}},
		"tag":   {ID: "d2", IsDraftLocal: true, Metadata: models.Metadata{Title: "ok", Tags: []string{"fine", "bad\xffbyte"}}},
		"body":  {ID: "d3", IsDraftLocal: true, Metadata: models.Metadata{Title: "ok"}, Body: "bad\xffbyte"},
	} {
		err := s.Save(ctx, doc)
		assert.Error(t, err, name)
		_, err = s.Get(ctx, doc.ID)
		assert.ErrorIs(t, err, apperr.ErrNotFound, name)
		exists, err := files.Exists(PathFor(doc))
		require.NoError(t, err)
		assert.False(t, exists, name)
	}
}

func TestReplaceAdvancesIdentityInPlace(t *testing.T) {
	s, files, clock := newTestStore(t)
	ctx := context.Background()

	doc := published("old-sha", "b.md", "B")
	require.NoError(t, s.Save(ctx, doc))
	created := doc.CreatedAt

	clock.Advance(time.Hour)
	updated := published("new-sha", "b.md", "B v2")
	require.NoError(t, s.Replace(ctx, "old-sha", updated))

	_, err := s.Get(ctx, "old-sha")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	got, err := s.Get(ctx, "new-sha")
	require.NoError(t, err)
	assert.Equal(t, "posts/b.md", got.LocalPath)
	assert.Equal(t, "B v2", got.Title)
	assert.True(t, got.CreatedAt.Equal(created))
	assert.True(t, got.UpdatedAt.Equal(created.Add(time.Hour)))

	ok, err := files.Exists("posts/b.md")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestReplaceDraftWithPublishedMovesFile(t *testing.T) {
	s, files, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, draft("local-1", "Fresh")))
	require.NoError(t, s.Replace(ctx, "local-1", published("blob-sha", "fresh.md", "Fresh")))

	ok, _ := files.Exists("drafts/local-1.md")
	assert.False(t, ok, "draft backing file should be removed")
	ok, _ = files.Exists("posts/fresh.md")
	assert.True(t, ok)

	all, err := s.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "blob-sha", all[0].ID)
}

func TestReplaceSupersedesCollidingRecord(t *testing.T) {
	s, files, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, draft("same-id", "Stale copy")))
	require.NoError(t, s.Save(ctx, draft("other", "Other")))

	incoming := published("same-id", "c.md", "Incoming")
	require.NoError(t, s.Replace(ctx, "other", incoming))

	all, err := s.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "Incoming", all[0].Title)
	assert.Equal(t, "posts/c.md", all[0].LocalPath)

	for _, p := range []string{"drafts/same-id.md", "drafts/other.md"} {
		ok, _ := files.Exists(p)
		assert.False(t, ok, "%s should be removed", p)
	}
}

func TestRecordFailureRemovesNewFile(t *testing.T) {
	s, files, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.conn.Exec(`CREATE TRIGGER fail_insert BEFORE INSERT ON documents BEGIN SELECT RAISE(ABORT, 'boom'); END;`)
	require.NoError(t, err)

	err = s.Save(ctx, draft("doomed", "Doomed"))
	require.Error(t, err)

	ok, _ := files.Exists("drafts/doomed.md")
	assert.False(t, ok, "file must not outlive a failed record write")
	_, err = s.Get(ctx, "doomed")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestRecordFailureRestoresPreviousFile(t *testing.T) {
	s, files, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, published("sha", "keep.md", "Original")))
	before, err := files.Read("posts/keep.md")
	require.NoError(t, err)

	_, err = s.conn.Exec(`
		CREATE TRIGGER fail_insert BEFORE INSERT ON documents BEGIN SELECT RAISE(ABORT, 'boom'); END;
		CREATE TRIGGER fail_update BEFORE UPDATE ON documents BEGIN SELECT RAISE(ABORT, 'boom'); END;`)
	require.NoError(t, err)

	changed := published("sha", "keep.md", "Changed")
	require.Error(t, s.Save(ctx, changed))

	after, err := files.Read("posts/keep.md")
	require.NoError(t, err)
	assert.Equal(t, string(before), string(after))
}

func TestDelete(t *testing.T) {
	s, files, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, draft("gone", "Gone")))
	require.NoError(t, s.Delete(ctx, "gone"))

	_, err := s.Get(ctx, "gone")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	ok, _ := files.Exists("drafts/gone.md")
	assert.False(t, ok)

	assert.ErrorIs(t, s.Delete(ctx, "gone"), apperr.ErrNotFound)
}

func TestDeleteToleratesMissingFile(t *testing.T) {
	s, files, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, draft("x", "X")))
	require.NoError(t, files.Delete("drafts/x.md"))
	assert.NoError(t, s.Delete(ctx, "x"))
}

func TestListings(t *testing.T) {
	s, _, clock := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, draft("d", "Draft")))
	clock.Advance(time.Minute)
	require.NoError(t, s.Save(ctx, published("p1", "p1.md", "P1")))
	clock.Advance(time.Minute)
	require.NoError(t, s.Save(ctx, published("p2", "p2.md", "P2")))

	all, err := s.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "p2", all[0].ID, "most recent first")

	pub, err := s.ListPublished(ctx)
	require.NoError(t, err)
	assert.Len(t, pub, 2)
	for _, d := range pub {
		assert.False(t, d.IsDraftLocal)
	}

	drafts, err := s.ListDrafts(ctx)
	require.NoError(t, err)
	require.Len(t, drafts, 1)
	assert.Equal(t, "d", drafts[0].ID)
}

func TestSearch(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()

	doc := published("s1", "fog.md", "Fog City")
	doc.Body = "Karl the fog rolled in over the bay.\n"
	require.NoError(t, s.Save(ctx, doc))
	require.NoError(t, s.Save(ctx, draft("s2", "Unrelated")))

	hits, err := s.Search(ctx, "fog", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "s1", hits[0].ID)
}

func TestReconcile(t *testing.T) {
	s, files, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, draft("lost", "Lost")))
	require.NoError(t, s.Save(ctx, published("edited", "edited.md", "Before")))
	require.NoError(t, s.Save(ctx, published("fine", "fine.md", "Fine")))

	require.NoError(t, files.Delete("drafts/lost.md"))
	require.NoError(t, files.Write("posts/orphan.md", []byte("---\ntitle: \"Orphan\"\n---\n\nx")))
	require.NoError(t, files.Write("posts/edited.md", parser.Serialize(models.Metadata{Title: "After"}, "new body")))
	require.NoError(t, files.Write("notes/unmanaged.md", []byte("leave me")))

	report, err := s.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"lost"}, report.Dropped)
	assert.Equal(t, []string{"posts/orphan.md"}, report.Purged)
	assert.Equal(t, []string{"edited"}, report.Refreshed)

	got, err := s.Get(ctx, "edited")
	require.NoError(t, err)
	assert.Equal(t, "After", got.Title)
	assert.Equal(t, "new body", got.Body)
	require.NotNil(t, got.OriginFilename)
	assert.Equal(t, "edited.md", *got.OriginFilename)
	assert.False(t, got.EditedAt.IsZero(), "out-of-band edit counts as a local edit")

	ok, _ := files.Exists("notes/unmanaged.md")
	assert.True(t, ok)

	again, err := s.Reconcile(ctx)
	require.NoError(t, err)
	assert.True(t, again.Empty())
}

// eventually polls fn every tick until it returns true or timeout elapses.
func eventually(t *testing.T, timeout, tick time.Duration, fn func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(tick)
	}
	t.Error(msg)
}

func TestWatchDropsRecordWhenFileRemoved(t *testing.T) {
	s, files, _ := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, s.Save(ctx, draft("w1", "Watched")))

	var mu sync.Mutex
	var reports []ReconcileReport
	go s.Watch(ctx, files.Root(), func(r ReconcileReport) {
		mu.Lock()
		reports = append(reports, r)
		mu.Unlock()
	})
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, os.Remove(filepath.Join(files.Root(), "drafts", "w1.md")))

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		_, err := s.Get(context.Background(), "w1")
		return err != nil
	}, "record still present after backing file removal")

	eventually(t, 2*time.Second, 50*time.Millisecond, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(reports) > 0 && len(reports[0].Dropped) == 1
	}, "expected a reconcile report with the dropped record")
}
