package api

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/starford/postsync/internal/passlock"
	"github.com/starford/postsync/internal/postservice"
	"github.com/starford/postsync/internal/publish"
	"github.com/starford/postsync/internal/remote"
	"github.com/starford/postsync/internal/remotetest"
	"github.com/starford/postsync/internal/storage"
	"github.com/starford/postsync/internal/sync"
	"github.com/starford/postsync/internal/testutil"
)

const contentDir = "content/posts"

type testEnv struct {
	router http.Handler
	fake   *remotetest.Server
	media  *storage.FS
	lock   *passlock.Local
}

func newTestEnv(t *testing.T, authToken string, sseHandler http.Handler) *testEnv {
	t.Helper()
	clock := testutil.NewClock()
	st, _ := testutil.Store(t, clock)
	mediaFS := testutil.Files(t)
	fake := remotetest.New(t)
	client := remote.New(fake.Config())
	lock := passlock.NewLocal()

	engine := sync.NewEngine(client, st, sync.Config{ContentDir: contentDir},
		sync.WithClock(clock.Now), sync.WithLogger(testutil.Logger()), sync.WithLocker(lock))
	pipeline := publish.New(client, st, mediaFS, publish.Config{ContentDir: contentDir},
		publish.WithClock(clock.Now), publish.WithLogger(testutil.Logger()), publish.WithLocker(lock))
	svc := postservice.New(st, engine, pipeline,
		postservice.WithLogger(testutil.Logger()),
		postservice.WithRetry(postservice.RetryConfig{MaxAttempts: 1}))

	router := NewRouter(svc, authToken != "", authToken, sseHandler, mediaFS)
	return &testEnv{router: router, fake: fake, media: mediaFS, lock: lock}
}

func (e *testEnv) do(t *testing.T, method, target string, body any, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, target, &buf)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %s: %v", w.Body.String(), err)
	}
	return v
}

func TestCreateAndGetDocument(t *testing.T) {
	e := newTestEnv(t, "", nil)

	w := e.do(t, http.MethodPost, "/documents", DocumentRequest{Title: "Hello", Tags: []string{"go"}, Body: "World"})
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body = %s", w.Code, w.Body.String())
	}
	created := decode[DocumentDetail](t, w)
	if !created.Draft || created.ID == "" {
		t.Fatalf("unexpected draft %+v", created)
	}

	w = e.do(t, http.MethodGet, "/documents/"+created.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d", w.Code)
	}
	got := decode[DocumentDetail](t, w)
	if got.Title != "Hello" || got.Body != "World" || len(got.Tags) != 1 {
		t.Errorf("got %+v", got)
	}
	if got.OriginFilename != nil {
		t.Errorf("draft should have no origin, got %q", *got.OriginFilename)
	}
}

func TestArchivedFlag(t *testing.T) {
	e := newTestEnv(t, "", nil)
	yes, no := true, false

	created := decode[DocumentDetail](t, e.do(t, http.MethodPost, "/documents", DocumentRequest{Title: "A", Archived: &yes}))
	if !created.Archived {
		t.Fatalf("archived not set on create: %+v", created)
	}
	got := decode[DocumentDetail](t, e.do(t, http.MethodPut, "/documents/"+created.ID, DocumentRequest{Title: "A", Body: "b"}))
	if !got.Archived {
		t.Errorf("omitted archived should keep the current value")
	}
	got = decode[DocumentDetail](t, e.do(t, http.MethodPut, "/documents/"+created.ID, DocumentRequest{Title: "A", Archived: &no}))
	if got.Archived {
		t.Errorf("archived not cleared: %+v", got)
	}
}

func TestUpdateAndDeleteDocument(t *testing.T) {
	e := newTestEnv(t, "", nil)
	created := decode[DocumentDetail](t, e.do(t, http.MethodPost, "/documents", DocumentRequest{Title: "A"}))

	w := e.do(t, http.MethodPut, "/documents/"+created.ID, DocumentRequest{Title: "B", Body: "new"})
	if w.Code != http.StatusOK {
		t.Fatalf("update status = %d, body = %s", w.Code, w.Body.String())
	}
	if got := decode[DocumentDetail](t, w); got.Title != "B" || got.ID != created.ID {
		t.Errorf("update result %+v", got)
	}

	w = e.do(t, http.MethodDelete, "/documents/"+created.ID, nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", w.Code)
	}
	w = e.do(t, http.MethodGet, "/documents/"+created.ID, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("get after delete = %d, want 404", w.Code)
	}
}

func TestDocumentNotFound(t *testing.T) {
	e := newTestEnv(t, "", nil)
	for _, tc := range []struct{ method, target string }{
		{http.MethodGet, "/documents/missing"},
		{http.MethodPut, "/documents/missing"},
		{http.MethodDelete, "/documents/missing"},
		{http.MethodPost, "/documents/missing/publish"},
	} {
		w := e.do(t, tc.method, tc.target, DocumentRequest{Title: "x"})
		if w.Code != http.StatusNotFound {
			t.Errorf("%s %s = %d, want 404", tc.method, tc.target, w.Code)
		}
	}
}

func TestCreateDocument_InvalidJSON(t *testing.T) {
	e := newTestEnv(t, "", nil)
	req := httptest.NewRequest(http.MethodPost, "/documents", strings.NewReader("{"))
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestListDocuments(t *testing.T) {
	e := newTestEnv(t, "", nil)
	e.fake.PutFile(t, contentDir+"/remote.md", testutil.Post("Remote", "r"))
	e.do(t, http.MethodPost, "/documents", DocumentRequest{Title: "Local"})
	if w := e.do(t, http.MethodPost, "/sync", nil); w.Code != http.StatusOK {
		t.Fatalf("sync status = %d, body = %s", w.Code, w.Body.String())
	}

	cases := map[string]int{"": 2, "?kind=draft": 1, "?kind=published": 1}
	for query, want := range cases {
		w := e.do(t, http.MethodGet, "/documents"+query, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("list%s status = %d", query, w.Code)
		}
		if got := decode[DocumentListResponse](t, w); got.Total != want || len(got.Documents) != want {
			t.Errorf("list%s total = %d, want %d", query, got.Total, want)
		}
	}

	if w := e.do(t, http.MethodGet, "/documents?kind=bogus", nil); w.Code != http.StatusBadRequest {
		t.Errorf("bogus filter = %d, want 400", w.Code)
	}
}

func TestSyncEndpoint(t *testing.T) {
	e := newTestEnv(t, "", nil)
	e.fake.PutFile(t, contentDir+"/b.md", testutil.Post("B", "body"))

	w := e.do(t, http.MethodPost, "/sync?dry_run=true", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("dry run status = %d", w.Code)
	}
	dry := decode[SyncResponse](t, w)
	if len(dry.Planned) != 1 || dry.Counts.New != 0 {
		t.Errorf("dry run = %+v", dry)
	}

	w = e.do(t, http.MethodPost, "/sync", nil)
	res := decode[SyncResponse](t, w)
	if res.Counts.New != 1 || len(res.New) != 1 || res.New[0].Title != "B" {
		t.Errorf("sync = %+v", res)
	}
	if res.Errors == nil || res.Protected == nil {
		t.Errorf("empty lists must encode as [] not null: %s", w.Body.String())
	}

	w = e.do(t, http.MethodPost, "/sync/full", nil)
	full := decode[SyncResponse](t, w)
	if full.Counts.New != 1 || full.Counts.Deleted != 1 {
		t.Errorf("full sync = %+v", full.Counts)
	}
}

func TestSyncEndpoint_RemoteFailure(t *testing.T) {
	e := newTestEnv(t, "", nil)
	e.fake.PutFile(t, contentDir+"/b.md", testutil.Post("B", "body"))
	e.fake.FailAlways(remotetest.OpListDirectory, http.StatusInternalServerError)

	w := e.do(t, http.MethodPost, "/sync", nil)
	if w.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", w.Code)
	}
	if body := decode[errResponse](t, w); !strings.HasPrefix(body.Error, "Failed to sync with remote: ") {
		t.Errorf("error = %q", body.Error)
	}
}

func TestSyncEndpoint_Busy(t *testing.T) {
	e := newTestEnv(t, "", nil)
	release, err := e.lock.Acquire(t.Context(), false)
	if err != nil {
		t.Fatal(err)
	}
	defer release()

	if w := e.do(t, http.MethodPost, "/sync", nil); w.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", w.Code)
	}
}

func TestPublishEndpoint(t *testing.T) {
	e := newTestEnv(t, "", nil)
	created := decode[DocumentDetail](t, e.do(t, http.MethodPost, "/documents", DocumentRequest{Title: "SF Trip", Body: "hi"}))

	w := e.do(t, http.MethodPost, "/documents/"+created.ID+"/publish", PublishRequest{Message: "ship it"})
	if w.Code != http.StatusOK {
		t.Fatalf("publish status = %d, body = %s", w.Code, w.Body.String())
	}
	res := decode[PublishResponse](t, w)
	if res.Path != contentDir+"/sf-trip.md" || res.Document.Draft || res.CommitSHA != e.fake.Head() {
		t.Errorf("publish = %+v", res)
	}
	if !e.fake.HasFile(res.Path) {
		t.Errorf("remote file %s missing", res.Path)
	}

	w = e.do(t, http.MethodPost, "/documents/"+res.Document.ID+"/publish", nil)
	if w.Code != http.StatusConflict {
		t.Errorf("republish unchanged = %d, want 409", w.Code)
	}
}

func TestSearchEndpoint(t *testing.T) {
	e := newTestEnv(t, "", nil)
	e.do(t, http.MethodPost, "/documents", DocumentRequest{Title: "Golang", Body: "concurrency"})

	w := e.do(t, http.MethodGet, "/search?q=Golang", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("search status = %d", w.Code)
	}
	got := decode[map[string][]SearchResult](t, w)
	if len(got["results"]) != 1 {
		t.Errorf("results = %+v", got)
	}

	if w := e.do(t, http.MethodGet, "/search", nil); w.Code != http.StatusBadRequest {
		t.Errorf("missing q = %d, want 400", w.Code)
	}
}

func TestAuthMiddleware(t *testing.T) {
	e := newTestEnv(t, "secret", nil)

	if w := e.do(t, http.MethodGet, "/documents", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("missing token = %d, want 401", w.Code)
	}
	if w := e.do(t, http.MethodGet, "/documents", nil, "Authorization", "Bearer wrong"); w.Code != http.StatusUnauthorized {
		t.Errorf("wrong token = %d, want 401", w.Code)
	}
	if w := e.do(t, http.MethodGet, "/documents", nil, "Authorization", "Bearer secret"); w.Code != http.StatusOK {
		t.Errorf("valid token = %d, want 200", w.Code)
	}
}

func TestSSEEvents_AuthProtected(t *testing.T) {
	dummy := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	e := newTestEnv(t, "secret", dummy)

	if w := e.do(t, http.MethodGet, "/events", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("SSE no auth = %d, want 401", w.Code)
	}
	if w := e.do(t, http.MethodGet, "/events", nil, "Authorization", "Bearer secret"); w.Code != http.StatusOK {
		t.Errorf("SSE with token = %d, want 200", w.Code)
	}
	if w := e.do(t, http.MethodGet, "/events?access_token=secret", nil); w.Code != http.StatusOK {
		t.Errorf("SSE with query token = %d, want 200", w.Code)
	}
}

func TestAuthMiddleware_QueryTokenOnlyForGet(t *testing.T) {
	e := newTestEnv(t, "secret", nil)

	if w := e.do(t, http.MethodPost, "/sync?access_token=secret", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("POST with query token = %d, want 401", w.Code)
	}
	if w := e.do(t, http.MethodGet, "/documents?access_token=wrong", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("wrong query token = %d, want 401", w.Code)
	}
	if w := e.do(t, http.MethodGet, "/documents?access_token=secret", nil); w.Code != http.StatusOK {
		t.Errorf("GET with query token = %d, want 200", w.Code)
	}
}

func uploadFile(t *testing.T, router http.Handler, filename string, content []byte) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatal(err)
	}
	_, _ = fw.Write(content)
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/media", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

var png = append([]byte("\x89PNG\r\n\x1a\n"), []byte("payload")...)

func TestUploadAndServeMedia(t *testing.T) {
	e := newTestEnv(t, "", nil)

	w := uploadFile(t, e.router, "Cat Photo.png", png)
	if w.Code != http.StatusCreated {
		t.Fatalf("upload status = %d, body = %s", w.Code, w.Body.String())
	}
	first := decode[MediaUploadResponse](t, w)
	if first.Path != "uploads/cat-photo.png" || first.MarkdownImage != "![cat-photo](uploads/cat-photo.png)" {
		t.Errorf("upload = %+v", first)
	}

	second := decode[MediaUploadResponse](t, uploadFile(t, e.router, "Cat Photo.png", png))
	if second.Path != "uploads/cat-photo-2.png" {
		t.Errorf("second upload path = %s", second.Path)
	}

	w = e.do(t, http.MethodGet, "/media/"+first.Path, nil)
	if w.Code != http.StatusOK || !bytes.Equal(w.Body.Bytes(), png) {
		t.Errorf("serve = %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("content type = %s", ct)
	}
	if w := e.do(t, http.MethodGet, "/media/uploads/none.png", nil); w.Code != http.StatusNotFound {
		t.Errorf("missing media = %d, want 404", w.Code)
	}
}

func TestUploadMedia_Rejected(t *testing.T) {
	e := newTestEnv(t, "", nil)
	if w := uploadFile(t, e.router, "notes.txt", []byte("hello")); w.Code != http.StatusBadRequest {
		t.Errorf("txt upload = %d, want 400", w.Code)
	}
	if w := uploadFile(t, e.router, "fake.png", []byte("hello")); w.Code != http.StatusBadRequest {
		t.Errorf("mismatched content = %d, want 400", w.Code)
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("other", "x")
	mw.Close()
	req := httptest.NewRequest(http.MethodPost, "/media", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing field = %d, want 400", w.Code)
	}
}

func TestPublishWithUploadedImage(t *testing.T) {
	e := newTestEnv(t, "", nil)
	up := decode[MediaUploadResponse](t, uploadFile(t, e.router, "dog.png", png))
	created := decode[DocumentDetail](t, e.do(t, http.MethodPost, "/documents",
		DocumentRequest{Title: "Dog", Body: "Look: " + up.MarkdownImage}))

	w := e.do(t, http.MethodPost, "/documents/"+created.ID+"/publish", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("publish status = %d, body = %s", w.Code, w.Body.String())
	}
	res := decode[PublishResponse](t, w)
	if len(res.Images) != 1 || !e.fake.HasFile(res.Images[0]) {
		t.Fatalf("images = %v", res.Images)
	}
	if !strings.Contains(res.Document.Body, "(/images/"+strings.TrimPrefix(res.Images[0], "static/images/")+")") {
		t.Errorf("body not rewritten: %q", res.Document.Body)
	}
}
