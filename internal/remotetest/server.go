// Package remotetest runs an in-process fake of the GitHub contents and git
// data APIs backed by an in-memory git object store. Blob, tree and commit
// shas are real git hashes.
package remotetest

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/starford/postsync/internal/remote"
)

// Op names a recorded API operation.
type Op string

const (
	OpListDirectory Op = "list_directory"
	OpFetchFile     Op = "fetch_file"
	OpCreateBlob    Op = "create_blob"
	OpCreateTree    Op = "create_tree"
	OpCreateCommit  Op = "create_commit"
	OpUpdateRef     Op = "update_ref"
	OpGetRef        Op = "get_ref"
	OpGetCommit     Op = "get_commit"
)

const (
	Owner  = "octo"
	Repo   = "blog"
	Branch = "main"
	Token  = "test-token"
)

// Call is one recorded request.
type Call struct {
	Op     Op
	Method string
	Path   string // repository path for contents calls, tree entry paths for trees
}

type failure struct {
	op     Op
	nth    int    // 1-based occurrence of op; 0 matches every call
	path   string // optional repository path filter
	status int
}

// Server is the fake. All methods are safe for concurrent use.
type Server struct {
	URL string

	mu       sync.Mutex
	repo     *repo
	calls    []Call
	counts   map[Op]int
	failures []failure
}

// New starts a fake seeded with a single commit holding README.md and
// registers its shutdown with t.
func New(t testing.TB) *Server {
	t.Helper()
	s := &Server{repo: newRepo(Branch), counts: map[Op]int{}}
	if _, err := s.repo.commitChanges(s.blobChanges(t, map[string]string{"README.md": "# blog\n"}), "initial"); err != nil {
		t.Fatalf("remotetest: seed: %v", err)
	}

	srv := httptest.NewServer(s.routes())
	t.Cleanup(srv.Close)
	s.URL = srv.URL
	return s
}

// Config returns a client configuration pointing at the fake.
func (s *Server) Config() remote.Config {
	return remote.Config{
		BaseURL: s.URL,
		Owner:   Owner,
		Repo:    Repo,
		Branch:  Branch,
		Token:   Token,
	}
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(s.authenticate)
	r.Route("/repos/"+Owner+"/"+Repo, func(r chi.Router) {
		r.Get("/contents", s.handleContents)
		r.Get("/contents/*", s.handleContents)
		r.Post("/git/blobs", s.handleCreateBlob)
		r.Post("/git/trees", s.handleCreateTree)
		r.Post("/git/commits", s.handleCreateCommit)
		r.Get("/git/commits/{sha}", s.handleGetCommit)
		r.Get("/git/ref/heads/{branch}", s.handleGetRef)
		r.Patch("/git/refs/heads/{branch}", s.handleUpdateRef)
	})
	return r
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+Token {
			writeError(w, http.StatusUnauthorized, "Bad credentials")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// FailNth makes the nth call (1-based) of op answer with status.
func (s *Server) FailNth(op Op, nth, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, failure{op: op, nth: nth, status: status})
}

// FailAlways makes every call of op answer with status.
func (s *Server) FailAlways(op Op, status int) {
	s.FailNth(op, 0, status)
}

// FailPath makes every fetch of the file at repository path p answer with status.
func (s *Server) FailPath(p string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, failure{op: OpFetchFile, path: p, status: status})
}

// record logs a call and reports an injected failure status, or 0.
func (s *Server) record(op Op, r *http.Request, p string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts[op]++
	s.calls = append(s.calls, Call{Op: op, Method: r.Method, Path: p})
	for _, f := range s.failures {
		if f.op != op {
			continue
		}
		if f.path != "" && f.path != p {
			continue
		}
		if f.nth == 0 || f.nth == s.counts[op] {
			return f.status
		}
	}
	return 0
}

// Calls returns every recorded call in order.
func (s *Server) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// Count returns how many times op was called.
func (s *Server) Count(op Op) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[op]
}

// ResetCalls clears recorded calls and counters but keeps failures.
func (s *Server) ResetCalls() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = nil
	s.counts = map[Op]int{}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"message": msg})
}

type contentEntry struct {
	Name        string `json:"name"`
	Path        string `json:"path"`
	SHA         string `json:"sha"`
	Type        string `json:"type"`
	DownloadURL string `json:"download_url,omitempty"`
	Content     string `json:"content,omitempty"`
	Encoding    string `json:"encoding,omitempty"`
}

func (s *Server) handleContents(w http.ResponseWriter, r *http.Request) {
	p := strings.Trim(chi.URLParam(r, "*"), "/")
	if ref := r.URL.Query().Get("ref"); ref != "" && ref != Branch {
		writeError(w, http.StatusNotFound, "No commit found for the ref "+ref)
		return
	}

	s.mu.Lock()
	tree, err := s.repo.headTree()
	var dir *object.Tree
	var file *object.File
	var content string
	if err == nil {
		if p == "" {
			dir = tree
		} else if d, derr := tree.Tree(p); derr == nil {
			dir = d
		} else if f, ferr := tree.File(p); ferr == nil {
			file = f
			content, err = f.Contents()
		}
	}
	s.mu.Unlock()

	op := OpFetchFile
	if dir != nil {
		op = OpListDirectory
	}
	if status := s.record(op, r, p); status != 0 {
		writeError(w, status, "injected failure")
		return
	}

	switch {
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	case dir != nil:
		out := make([]contentEntry, 0, len(dir.Entries))
		for _, e := range dir.Entries {
			typ := "file"
			if e.Mode == filemode.Dir {
				typ = "dir"
			}
			out = append(out, contentEntry{
				Name: e.Name,
				Path: path.Join(p, e.Name),
				SHA:  e.Hash.String(),
				Type: typ,
			})
		}
		writeJSON(w, http.StatusOK, out)
	case file != nil:
		writeJSON(w, http.StatusOK, contentEntry{
			Name:     path.Base(p),
			Path:     p,
			SHA:      file.Hash.String(),
			Type:     "file",
			Content:  wrap(base64.StdEncoding.EncodeToString([]byte(content)), 60),
			Encoding: "base64",
		})
	default:
		writeError(w, http.StatusNotFound, "Not Found")
	}
}

// wrap splits s into lines of n characters like the real contents API.
func wrap(s string, n int) string {
	var b strings.Builder
	for len(s) > n {
		b.WriteString(s[:n])
		b.WriteByte('\n')
		s = s[n:]
	}
	b.WriteString(s)
	return b.String()
}

func (s *Server) handleCreateBlob(w http.ResponseWriter, r *http.Request) {
	if status := s.record(OpCreateBlob, r, ""); status != 0 {
		writeError(w, status, "injected failure")
		return
	}
	var in struct {
		Content  string `json:"content"`
		Encoding string `json:"encoding"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "Problems parsing JSON")
		return
	}
	data := []byte(in.Content)
	if in.Encoding == "base64" {
		decoded, err := base64.StdEncoding.DecodeString(in.Content)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "invalid base64")
			return
		}
		data = decoded
	}

	s.mu.Lock()
	h, err := s.repo.writeBlob(data)
	s.mu.Unlock()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"sha": h.String()})
}

func (s *Server) handleCreateTree(w http.ResponseWriter, r *http.Request) {
	var in struct {
		BaseTree string             `json:"base_tree"`
		Tree     []remote.TreeEntry `json:"tree"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "Problems parsing JSON")
		return
	}
	paths := make([]string, len(in.Tree))
	for i, e := range in.Tree {
		paths[i] = e.Path
	}
	if status := s.record(OpCreateTree, r, strings.Join(paths, ",")); status != 0 {
		writeError(w, status, "injected failure")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	changes := make(map[string]change, len(in.Tree))
	for _, e := range in.Tree {
		mode, err := filemode.New(e.Mode)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "invalid mode "+e.Mode)
			return
		}
		h := plumbing.NewHash(e.SHA)
		if _, err := s.repo.st.EncodedObject(plumbing.BlobObject, h); err != nil {
			writeError(w, http.StatusUnprocessableEntity, "tree.sha "+e.SHA+" is not a valid blob")
			return
		}
		changes[strings.Trim(e.Path, "/")] = change{mode: mode, hash: h}
	}

	base := plumbing.ZeroHash
	if in.BaseTree != "" {
		base = plumbing.NewHash(in.BaseTree)
		if _, err := object.GetTree(s.repo.st, base); err != nil {
			writeError(w, http.StatusUnprocessableEntity, "base_tree is not a valid tree")
			return
		}
	}
	h, err := s.repo.writeTree(base, changes)
	if err == nil && h.IsZero() {
		h, err = s.repo.encodeTree(nil)
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"sha": h.String()})
}

func (s *Server) handleCreateCommit(w http.ResponseWriter, r *http.Request) {
	if status := s.record(OpCreateCommit, r, ""); status != 0 {
		writeError(w, status, "injected failure")
		return
	}
	var in struct {
		Message string   `json:"message"`
		Tree    string   `json:"tree"`
		Parents []string `json:"parents"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "Problems parsing JSON")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tree := plumbing.NewHash(in.Tree)
	if _, err := object.GetTree(s.repo.st, tree); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "Tree SHA does not exist")
		return
	}
	parents := make([]plumbing.Hash, 0, len(in.Parents))
	for _, p := range in.Parents {
		h := plumbing.NewHash(p)
		if _, err := object.GetCommit(s.repo.st, h); err != nil {
			writeError(w, http.StatusUnprocessableEntity, "Parent SHA does not exist or is not a commit object")
			return
		}
		parents = append(parents, h)
	}
	h, err := s.repo.writeCommit(tree, parents, in.Message)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"sha":  h.String(),
		"tree": map[string]string{"sha": tree.String()},
	})
}

func (s *Server) handleGetCommit(w http.ResponseWriter, r *http.Request) {
	sha := chi.URLParam(r, "sha")
	if status := s.record(OpGetCommit, r, ""); status != 0 {
		writeError(w, status, "injected failure")
		return
	}
	s.mu.Lock()
	c, err := object.GetCommit(s.repo.st, plumbing.NewHash(sha))
	s.mu.Unlock()
	if err != nil {
		writeError(w, http.StatusNotFound, "Not Found")
		return
	}
	parents := make([]map[string]string, 0, len(c.ParentHashes))
	for _, p := range c.ParentHashes {
		parents = append(parents, map[string]string{"sha": p.String()})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sha":     c.Hash.String(),
		"message": c.Message,
		"tree":    map[string]string{"sha": c.TreeHash.String()},
		"parents": parents,
	})
}

func (s *Server) handleGetRef(w http.ResponseWriter, r *http.Request) {
	if status := s.record(OpGetRef, r, ""); status != 0 {
		writeError(w, status, "injected failure")
		return
	}
	if chi.URLParam(r, "branch") != Branch {
		writeError(w, http.StatusNotFound, "Not Found")
		return
	}
	s.mu.Lock()
	h, err := s.repo.head()
	s.mu.Unlock()
	if err != nil {
		writeError(w, http.StatusConflict, "Git Repository is empty.")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ref":    "refs/heads/" + Branch,
		"object": map[string]string{"sha": h.String(), "type": "commit"},
	})
}

func (s *Server) handleUpdateRef(w http.ResponseWriter, r *http.Request) {
	if status := s.record(OpUpdateRef, r, ""); status != 0 {
		writeError(w, status, "injected failure")
		return
	}
	var in struct {
		SHA   string `json:"sha"`
		Force bool   `json:"force"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "Problems parsing JSON")
		return
	}
	if chi.URLParam(r, "branch") != Branch {
		writeError(w, http.StatusUnprocessableEntity, "Reference does not exist")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next, err := object.GetCommit(s.repo.st, plumbing.NewHash(in.SHA))
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "Object does not exist")
		return
	}
	if !in.Force {
		current, err := s.repo.head()
		if err != nil || !containsHash(next.ParentHashes, current) {
			writeError(w, http.StatusUnprocessableEntity, "Update is not a fast forward")
			return
		}
	}
	if err := s.repo.setHead(next.Hash); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ref":    "refs/heads/" + Branch,
		"object": map[string]string{"sha": next.Hash.String(), "type": "commit"},
	})
}

func containsHash(hs []plumbing.Hash, h plumbing.Hash) bool {
	for _, x := range hs {
		if x == h {
			return true
		}
	}
	return false
}
