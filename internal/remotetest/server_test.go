package remotetest

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/postsync/internal/apperr"
	"github.com/starford/postsync/internal/checksum"
	"github.com/starford/postsync/internal/remote"
)

func TestListAndFetchThroughClient(t *testing.T) {
	fake := New(t)
	shas := fake.PutFiles(t, map[string]string{
		"content/posts/a.md": "alpha",
		"content/posts/b.md": "beta",
	})
	c := remote.New(fake.Config())
	ctx := context.Background()

	files, err := c.ListDirectory(ctx, "content/posts")
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "a.md", files[0].Name)
	assert.Equal(t, shas["content/posts/a.md"], files[0].SHA)
	assert.Equal(t, checksum.GitBlob([]byte("alpha")), files[0].SHA)

	content, err := c.FetchFileContent(ctx, "content/posts/b.md")
	require.NoError(t, err)
	assert.Equal(t, "beta", content)

	missing, err := c.ListDirectory(ctx, "content/drafts")
	require.NoError(t, err)
	assert.Empty(t, missing)

	// a missing path cannot be told apart from a missing file
	assert.Equal(t, 1, fake.Count(OpListDirectory))
	assert.Equal(t, 2, fake.Count(OpFetchFile))
}

func TestCommitFlowThroughClient(t *testing.T) {
	fake := New(t)
	c := remote.New(fake.Config())
	ctx := context.Background()

	head, err := c.GetBranchHeadCommit(ctx)
	require.NoError(t, err)
	assert.Equal(t, fake.Head(), head)

	baseTree, err := c.GetCommitTree(ctx, head)
	require.NoError(t, err)

	blob, err := c.CreateBlob(ctx, []byte("post"))
	require.NoError(t, err)
	assert.Equal(t, BlobSHA([]byte("post")), blob)

	tree, err := c.CreateTree(ctx, baseTree, []remote.TreeEntry{remote.BlobEntry("content/posts/new.md", blob)})
	require.NoError(t, err)
	commit, err := c.CreateCommit(ctx, tree, head, "Publish New")
	require.NoError(t, err)
	require.NoError(t, c.UpdateBranchHead(ctx, commit))

	assert.Equal(t, commit, fake.Head())
	assert.Equal(t, head, fake.HeadParent())
	assert.Equal(t, "Publish New", fake.HeadMessage())
	assert.ElementsMatch(t, []string{"README.md", "content/posts/new.md"}, fake.Paths())
}

func TestNonFastForwardRejected(t *testing.T) {
	fake := New(t)
	c := remote.New(fake.Config())
	ctx := context.Background()

	head, err := c.GetBranchHeadCommit(ctx)
	require.NoError(t, err)
	baseTree, err := c.GetCommitTree(ctx, head)
	require.NoError(t, err)
	commit, err := c.CreateCommit(ctx, baseTree, head, "stale")
	require.NoError(t, err)

	fake.PutFile(t, "content/posts/race.md", "someone else")

	err = c.UpdateBranchHead(ctx, commit)
	assert.Equal(t, http.StatusUnprocessableEntity, apperr.StatusOf(err))
}

func TestInjectedFailures(t *testing.T) {
	fake := New(t)
	fake.FailNth(OpCreateBlob, 2, http.StatusInternalServerError)
	c := remote.New(fake.Config())
	ctx := context.Background()

	_, err := c.CreateBlob(ctx, []byte("one"))
	require.NoError(t, err)
	_, err = c.CreateBlob(ctx, []byte("two"))
	assert.Equal(t, http.StatusInternalServerError, apperr.StatusOf(err))
	_, err = c.CreateBlob(ctx, []byte("three"))
	require.NoError(t, err)

	fake.PutFile(t, "content/posts/x.md", "x")
	fake.FailPath("content/posts/x.md", http.StatusBadGateway)
	_, err = c.FetchFile(ctx, "content/posts/x.md")
	assert.Equal(t, http.StatusBadGateway, apperr.StatusOf(err))
}

func TestBadTokenRejected(t *testing.T) {
	fake := New(t)
	cfg := fake.Config()
	cfg.Token = "wrong"
	_, err := remote.New(cfg).GetBranchHeadCommit(context.Background())
	assert.Equal(t, http.StatusUnauthorized, apperr.StatusOf(err))
}

func TestDeleteFilesPrunesEmptyDirs(t *testing.T) {
	fake := New(t)
	fake.PutFile(t, "content/posts/only.md", "x")
	fake.DeleteFiles(t, "content/posts/only.md")
	assert.Equal(t, []string{"README.md"}, fake.Paths())
	assert.False(t, fake.HasFile("content/posts/only.md"))
}
