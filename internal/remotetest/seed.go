package remotetest

import (
	"errors"
	"fmt"
	"testing"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
)

var errNotFound = errors.New("remotetest: path not found")

func (s *Server) blobChanges(t testing.TB, files map[string]string) map[string]change {
	t.Helper()
	changes := make(map[string]change, len(files))
	for p, content := range files {
		h, err := s.repo.writeBlob([]byte(content))
		if err != nil {
			t.Fatalf("remotetest: write blob %s: %v", p, err)
		}
		changes[p] = change{mode: filemode.Regular, hash: h}
	}
	return changes
}

// PutFiles commits files (repository path -> content) directly to the
// branch, as another client pushing would. It returns the blob sha of each path.
func (s *Server) PutFiles(t testing.TB, files map[string]string) map[string]string {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()

	changes := s.blobChanges(t, files)
	if _, err := s.repo.commitChanges(changes, "external push"); err != nil {
		t.Fatalf("remotetest: put files: %v", err)
	}
	shas := make(map[string]string, len(changes))
	for p, c := range changes {
		shas[p] = c.hash.String()
	}
	return shas
}

// PutFile commits a single file and returns its blob sha.
func (s *Server) PutFile(t testing.TB, p, content string) string {
	t.Helper()
	return s.PutFiles(t, map[string]string{p: content})[p]
}

// DeleteFiles removes paths from the branch in one commit.
func (s *Server) DeleteFiles(t testing.TB, paths ...string) {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()

	changes := make(map[string]change, len(paths))
	for _, p := range paths {
		changes[p] = change{delete: true}
	}
	if _, err := s.repo.commitChanges(changes, "external delete"); err != nil {
		t.Fatalf("remotetest: delete files: %v", err)
	}
}

// File returns the content of path at the branch head.
func (s *Server) File(p string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tree, err := s.repo.headTree()
	if err != nil {
		return "", err
	}
	f, err := tree.File(p)
	if errors.Is(err, object.ErrFileNotFound) {
		return "", fmt.Errorf("%w: %s", errNotFound, p)
	}
	if err != nil {
		return "", err
	}
	return f.Contents()
}

// HasFile reports whether path exists at the branch head.
func (s *Server) HasFile(p string) bool {
	_, err := s.File(p)
	return err == nil
}

// Paths lists every file path at the branch head.
func (s *Server) Paths() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	tree, err := s.repo.headTree()
	if err != nil {
		return nil
	}
	var out []string
	_ = tree.Files().ForEach(func(f *object.File) error {
		out = append(out, f.Name)
		return nil
	})
	return out
}

// Head returns the branch head commit sha.
func (s *Server) Head() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, err := s.repo.head()
	if err != nil {
		return ""
	}
	return h.String()
}

// HeadMessage returns the message of the branch head commit.
func (s *Server) HeadMessage() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, err := s.repo.head()
	if err != nil {
		return ""
	}
	c, err := object.GetCommit(s.repo.st, h)
	if err != nil {
		return ""
	}
	return c.Message
}

// HeadParent returns the first parent of the branch head commit.
func (s *Server) HeadParent() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, err := s.repo.head()
	if err != nil {
		return ""
	}
	c, err := object.GetCommit(s.repo.st, h)
	if err != nil || len(c.ParentHashes) == 0 {
		return ""
	}
	return c.ParentHashes[0].String()
}

// BlobSHA returns the git blob sha of content without storing it.
func BlobSHA(content []byte) string {
	return plumbing.ComputeHash(plumbing.BlobObject, content).String()
}
