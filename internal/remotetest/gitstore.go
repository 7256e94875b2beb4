package remotetest

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/storage/memory"
)

// change is one path edit applied on top of a base tree.
type change struct {
	mode   filemode.FileMode
	hash   plumbing.Hash
	delete bool
}

type repo struct {
	st     *memory.Storage
	branch plumbing.ReferenceName
}

func newRepo(branch string) *repo {
	return &repo{st: memory.NewStorage(), branch: plumbing.NewBranchReferenceName(branch)}
}

func (r *repo) writeBlob(data []byte) (plumbing.Hash, error) {
	obj := r.st.NewEncodedObject()
	obj.SetType(plumbing.BlobObject)
	w, err := obj.Writer()
	if err != nil {
		return plumbing.ZeroHash, err
	}
	if _, err := w.Write(data); err != nil {
		return plumbing.ZeroHash, err
	}
	if err := w.Close(); err != nil {
		return plumbing.ZeroHash, err
	}
	return r.st.SetEncodedObject(obj)
}

func (r *repo) readBlob(h plumbing.Hash) ([]byte, error) {
	b, err := object.GetBlob(r.st, h)
	if err != nil {
		return nil, err
	}
	rd, err := b.Reader()
	if err != nil {
		return nil, err
	}
	defer rd.Close()
	return io.ReadAll(rd)
}

// writeTree applies changes (keyed by slash path) on top of base, which may
// be the zero hash, and returns the new root tree hash. A tree left with no
// entries yields the zero hash so empty directories disappear.
func (r *repo) writeTree(base plumbing.Hash, changes map[string]change) (plumbing.Hash, error) {
	entries := map[string]object.TreeEntry{}
	if !base.IsZero() {
		t, err := object.GetTree(r.st, base)
		if err != nil {
			return plumbing.ZeroHash, fmt.Errorf("base tree %s: %w", base, err)
		}
		for _, e := range t.Entries {
			entries[e.Name] = e
		}
	}

	nested := map[string]map[string]change{}
	for p, c := range changes {
		dir, rest, isNested := strings.Cut(p, "/")
		if !isNested {
			if c.delete {
				delete(entries, p)
				continue
			}
			entries[p] = object.TreeEntry{Name: p, Mode: c.mode, Hash: c.hash}
			continue
		}
		if nested[dir] == nil {
			nested[dir] = map[string]change{}
		}
		nested[dir][rest] = c
	}

	for dir, sub := range nested {
		subBase := plumbing.ZeroHash
		if e, ok := entries[dir]; ok && e.Mode == filemode.Dir {
			subBase = e.Hash
		}
		h, err := r.writeTree(subBase, sub)
		if err != nil {
			return plumbing.ZeroHash, err
		}
		if h.IsZero() {
			delete(entries, dir)
			continue
		}
		entries[dir] = object.TreeEntry{Name: dir, Mode: filemode.Dir, Hash: h}
	}

	if len(entries) == 0 {
		return plumbing.ZeroHash, nil
	}
	return r.encodeTree(entries)
}

func (r *repo) encodeTree(entries map[string]object.TreeEntry) (plumbing.Hash, error) {
	t := &object.Tree{}
	for _, e := range entries {
		t.Entries = append(t.Entries, e)
	}
	// git orders directories as if their names ended in "/".
	sortKey := func(e object.TreeEntry) string {
		if e.Mode == filemode.Dir {
			return e.Name + "/"
		}
		return e.Name
	}
	sort.Slice(t.Entries, func(i, j int) bool { return sortKey(t.Entries[i]) < sortKey(t.Entries[j]) })

	obj := r.st.NewEncodedObject()
	if err := t.Encode(obj); err != nil {
		return plumbing.ZeroHash, err
	}
	return r.st.SetEncodedObject(obj)
}

func (r *repo) writeCommit(tree plumbing.Hash, parents []plumbing.Hash, message string) (plumbing.Hash, error) {
	sig := object.Signature{Name: "postsync-test", Email: "test@postsync.invalid", When: time.Now()}
	c := &object.Commit{
		Author:       sig,
		Committer:    sig,
		Message:      message,
		TreeHash:     tree,
		ParentHashes: parents,
	}
	obj := r.st.NewEncodedObject()
	if err := c.Encode(obj); err != nil {
		return plumbing.ZeroHash, err
	}
	return r.st.SetEncodedObject(obj)
}

func (r *repo) head() (plumbing.Hash, error) {
	ref, err := r.st.Reference(r.branch)
	if err != nil {
		return plumbing.ZeroHash, err
	}
	return ref.Hash(), nil
}

func (r *repo) setHead(h plumbing.Hash) error {
	return r.st.SetReference(plumbing.NewHashReference(r.branch, h))
}

func (r *repo) headTree() (*object.Tree, error) {
	h, err := r.head()
	if err != nil {
		return nil, err
	}
	c, err := object.GetCommit(r.st, h)
	if err != nil {
		return nil, err
	}
	return c.Tree()
}

// commitChanges writes changes on top of the branch head and advances it,
// the way a direct push would.
func (r *repo) commitChanges(changes map[string]change, message string) (plumbing.Hash, error) {
	var parents []plumbing.Hash
	base := plumbing.ZeroHash
	if h, err := r.head(); err == nil {
		parents = []plumbing.Hash{h}
		c, err := object.GetCommit(r.st, h)
		if err != nil {
			return plumbing.ZeroHash, err
		}
		base = c.TreeHash
	}
	tree, err := r.writeTree(base, changes)
	if err != nil {
		return plumbing.ZeroHash, err
	}
	if tree.IsZero() {
		if tree, err = r.encodeTree(nil); err != nil {
			return plumbing.ZeroHash, err
		}
	}
	commit, err := r.writeCommit(tree, parents, message)
	if err != nil {
		return plumbing.ZeroHash, err
	}
	return commit, r.setHead(commit)
}
