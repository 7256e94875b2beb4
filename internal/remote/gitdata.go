package remote

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"

	"github.com/starford/postsync/internal/apperr"
)

// TreeEntry is one path written by CreateTree.
type TreeEntry struct {
	Path string `json:"path"`
	Mode string `json:"mode"`
	Type string `json:"type"`
	SHA  string `json:"sha"`
}

// BlobEntry returns a regular-file tree entry for a blob.
func BlobEntry(path, sha string) TreeEntry {
	return TreeEntry{Path: path, Mode: "100644", Type: "blob", SHA: sha}
}

type shaResponse struct {
	SHA string `json:"sha"`
}

func requireSHA(op, sha string) (string, error) {
	if sha == "" {
		return "", fmt.Errorf("remote: %s: %w: missing sha", op, apperr.ErrInvalidResponse)
	}
	return sha, nil
}

// CreateBlob uploads content and returns the blob sha.
func (c *Client) CreateBlob(ctx context.Context, content []byte) (string, error) {
	in := map[string]string{
		"content":  base64.StdEncoding.EncodeToString(content),
		"encoding": "base64",
	}
	var out shaResponse
	if err := c.do(ctx, "create blob", http.MethodPost, []string{"git", "blobs"}, nil, in, &out); err != nil {
		return "", err
	}
	return requireSHA("create blob", out.SHA)
}

// CreateTree creates a tree from baseTree plus entries and returns its sha.
func (c *Client) CreateTree(ctx context.Context, baseTree string, entries []TreeEntry) (string, error) {
	in := struct {
		BaseTree string      `json:"base_tree,omitempty"`
		Tree     []TreeEntry `json:"tree"`
	}{BaseTree: baseTree, Tree: entries}
	var out shaResponse
	if err := c.do(ctx, "create tree", http.MethodPost, []string{"git", "trees"}, nil, in, &out); err != nil {
		return "", err
	}
	return requireSHA("create tree", out.SHA)
}

// CreateCommit creates a commit of tree on top of parent.
func (c *Client) CreateCommit(ctx context.Context, tree, parent, message string) (string, error) {
	in := struct {
		Message string   `json:"message"`
		Tree    string   `json:"tree"`
		Parents []string `json:"parents"`
	}{Message: message, Tree: tree, Parents: []string{}}
	if parent != "" {
		in.Parents = []string{parent}
	}
	var out shaResponse
	if err := c.do(ctx, "create commit", http.MethodPost, []string{"git", "commits"}, nil, in, &out); err != nil {
		return "", err
	}
	return requireSHA("create commit", out.SHA)
}

// UpdateBranchHead moves the configured branch to commit. The update is not
// forced, so it fails if the branch moved since its head was read.
func (c *Client) UpdateBranchHead(ctx context.Context, commit string) error {
	in := struct {
		SHA   string `json:"sha"`
		Force bool   `json:"force"`
	}{SHA: commit}
	return c.do(ctx, "update branch", http.MethodPatch, []string{"git", "refs", "heads", c.cfg.Branch}, nil, in, nil)
}

// GetBranchHeadCommit returns the commit sha the configured branch points at.
func (c *Client) GetBranchHeadCommit(ctx context.Context) (string, error) {
	var out struct {
		Object shaResponse `json:"object"`
	}
	if err := c.do(ctx, "get branch", http.MethodGet, []string{"git", "ref", "heads", c.cfg.Branch}, nil, nil, &out); err != nil {
		return "", err
	}
	return requireSHA("get branch", out.Object.SHA)
}

// GetCommitTree returns the root tree sha of commit.
func (c *Client) GetCommitTree(ctx context.Context, commit string) (string, error) {
	var out struct {
		Tree shaResponse `json:"tree"`
	}
	if err := c.do(ctx, "get commit", http.MethodGet, []string{"git", "commits", commit}, nil, nil, &out); err != nil {
		return "", err
	}
	return requireSHA("get commit", out.Tree.SHA)
}
