// Package testutil provides shared helpers for building stores, clocks and
// loggers in tests.
package testutil

import (
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/starford/postsync/internal/storage"
	"github.com/starford/postsync/internal/store"
)

// Logger returns a logger that only reports errors.
func Logger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// Clock is a manually advanced time source.
type Clock struct {
	mu sync.Mutex
	t  time.Time
}

// NewClock returns a clock set to a fixed instant.
func NewClock() *Clock {
	return &Clock{t: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// Files creates a storage root in a temp dir.
func Files(t *testing.T) *storage.FS {
	t.Helper()
	fs, err := storage.NewFS(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return fs
}

// Store creates a content store on a temporary SQLite file and backing
// directory, both removed when the test ends.
func Store(t *testing.T, clock *Clock) (*store.Store, *storage.FS) {
	t.Helper()
	files := Files(t)

	dbFile, err := os.CreateTemp("", "postsync-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	opts := []store.Option{store.WithLogger(Logger())}
	if clock != nil {
		opts = append(opts, store.WithClock(clock.Now))
	}
	s, err := store.Open(dbFile.Name(), files, opts...)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s, files
}

// Post renders a canonical post file.
func Post(title, body string) string {
	return "---\n" +
		"title: \"" + title + "\"\n" +
		"summary: \"\"\n" +
		"date: \"2024-01-01\"\n" +
		"draft: false\n" +
		"tools: []\n" +
		"---\n\n" + body
}
