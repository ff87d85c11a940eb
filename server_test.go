package quilld

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"pkt.systems/pslog"

	"github.com/quillcms/quilld/internal/content"
	"github.com/quillcms/quilld/internal/registry"
)

func newTestServer(t *testing.T, workerCommand ...string) (*server, *content.Store) {
	t.Helper()
	sitesDir := t.TempDir()
	store := content.NewStore(sitesDir)
	if err := store.CreateSite("blog", content.SiteConfig{Name: "blog"}); err != nil {
		t.Fatalf("CreateSite: %v", err)
	}
	srv, err := NewServer(NewServerRequest{
		Config: Config{
			SitesDir:      sitesDir,
			DataDir:       filepath.Join(sitesDir, ".quilld"),
			ClientName:    "test-client",
			WorkerCommand: workerCommand,
		},
		Logger: pslog.NewStructured(io.Discard),
	})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	return srv.(*server), store
}

func connectClientSession(t *testing.T, s *server) (*mcpsdk.ClientSession, func()) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "test-client", Version: "0.0.1"}, nil)
	mcpSrv := s.buildMCPServer()
	t1, t2 := mcpsdk.NewInMemoryTransports()
	ss, err := mcpSrv.Connect(ctx, t1, nil)
	if err != nil {
		cancel()
		t.Fatalf("server connect: %v", err)
	}
	cs, err := client.Connect(ctx, t2, nil)
	if err != nil {
		_ = ss.Close()
		cancel()
		t.Fatalf("client connect: %v", err)
	}
	return cs, func() {
		_ = cs.Close()
		_ = ss.Close()
		cancel()
	}
}

func callTool(t *testing.T, cs *mcpsdk.ClientSession, name string, args map[string]any) *mcpsdk.CallToolResult {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	res, err := cs.CallTool(ctx, &mcpsdk.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		t.Fatalf("CallTool(%s): %v", name, err)
	}
	return res
}

func decodeResult(t *testing.T, res *mcpsdk.CallToolResult, out any) {
	t.Helper()
	if res.StructuredContent != nil {
		data, err := json.Marshal(res.StructuredContent)
		if err != nil {
			t.Fatalf("marshal structured content: %v", err)
		}
		if err := json.Unmarshal(data, out); err != nil {
			t.Fatalf("decode structured content: %v", err)
		}
		return
	}
	for _, c := range res.Content {
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			if err := json.Unmarshal([]byte(tc.Text), out); err != nil {
				t.Fatalf("decode text content %q: %v", tc.Text, err)
			}
			return
		}
	}
	t.Fatal("result has no decodable content")
}

func errorText(t *testing.T, res *mcpsdk.CallToolResult) string {
	t.Helper()
	if !res.IsError {
		t.Fatalf("expected isError result, got %+v", res)
	}
	if len(res.Content) == 0 {
		t.Fatal("expected error content")
	}
	tc, ok := res.Content[0].(*mcpsdk.TextContent)
	if !ok {
		t.Fatalf("expected text content, got %T", res.Content[0])
	}
	if !strings.HasPrefix(tc.Text, "Error: ") {
		t.Fatalf("error text %q lacks Error: prefix", tc.Text)
	}
	return tc.Text
}

func TestListSitesRoundTrip(t *testing.T) {
	s, _ := newTestServer(t)
	cs, closeFn := connectClientSession(t, s)
	defer closeFn()

	res := callTool(t, cs, toolListSites, map[string]any{})
	if res.IsError {
		t.Fatalf("unexpected error result: %+v", res)
	}
	var out struct {
		Sites []string `json:"sites"`
	}
	decodeResult(t, res, &out)
	if len(out.Sites) != 1 || out.Sites[0] != "blog" {
		t.Fatalf("sites = %v, want [blog]", out.Sites)
	}
}

func TestUnknownSiteReturnsErrorEnvelope(t *testing.T) {
	s, _ := newTestServer(t)
	cs, closeFn := connectClientSession(t, s)
	defer closeFn()

	res := callTool(t, cs, toolListPosts, map[string]any{"site": "nope"})
	text := errorText(t, res)
	if !strings.Contains(text, "unknown site") {
		t.Fatalf("error text = %q, want unknown site", text)
	}
}

func TestMissingSiteReturnsErrorEnvelope(t *testing.T) {
	s, _ := newTestServer(t)
	cs, closeFn := connectClientSession(t, s)
	defer closeFn()

	res := callTool(t, cs, toolListPosts, map[string]any{"site": "  "})
	text := errorText(t, res)
	if !strings.Contains(text, "site is required") {
		t.Fatalf("error text = %q, want site is required", text)
	}
}

func TestCreatePostPersistsAndRecordsActivity(t *testing.T) {
	s, store := newTestServer(t)
	cs, closeFn := connectClientSession(t, s)
	defer closeFn()

	res := callTool(t, cs, toolCreatePost, map[string]any{
		"site":  "blog",
		"title": "Hello World",
		"text":  "# Hi",
	})
	if res.IsError {
		t.Fatalf("unexpected error result: %+v", res)
	}
	var out struct {
		Post content.Post `json:"post"`
	}
	decodeResult(t, res, &out)
	if out.Post.ID == 0 || out.Post.Slug != "hello-world" {
		t.Fatalf("post = %+v", out.Post)
	}

	posts, err := store.ListPosts("blog", false)
	if err != nil {
		t.Fatalf("ListPosts: %v", err)
	}
	if len(posts) != 1 || posts[0].Title != "Hello World" {
		t.Fatalf("persisted posts = %+v", posts)
	}

	activityDoc, err := s.activity.Read()
	if err != nil {
		t.Fatalf("activity read: %v", err)
	}
	found := false
	for _, entry := range activityDoc.Entries {
		if entry.Tool == toolCreatePost && entry.Site == "blog" && entry.Summary == "ok" {
			found = true
		}
	}
	if !found {
		t.Fatalf("no ok activity entry for create_post: %+v", activityDoc.Entries)
	}
}

func TestLockReleasedAfterFailingWrite(t *testing.T) {
	s, _ := newTestServer(t)
	cs, closeFn := connectClientSession(t, s)
	defer closeFn()

	res := callTool(t, cs, toolDeletePost, map[string]any{"site": "blog", "id": 999})
	errorText(t, res)

	doc, err := s.registry.Read()
	if err != nil {
		t.Fatalf("registry read: %v", err)
	}
	if doc.ActiveLock != nil {
		t.Fatalf("lock still held after failing write: %+v", doc.ActiveLock)
	}
	if doc.LastLock == nil || doc.LastLock.Operation != toolDeletePost {
		t.Fatalf("expected lastLock from the failed write, got %+v", doc.LastLock)
	}
}

func TestConcurrentWritesBothSucceed(t *testing.T) {
	s, store := newTestServer(t)
	cs, closeFn := connectClientSession(t, s)
	defer closeFn()

	var wg sync.WaitGroup
	results := make([]*mcpsdk.CallToolResult, 2)
	for i, title := range []string{"First", "Second"} {
		wg.Add(1)
		go func(i int, title string) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			res, err := cs.CallTool(ctx, &mcpsdk.CallToolParams{
				Name:      toolCreatePost,
				Arguments: map[string]any{"site": "blog", "title": title, "text": "body"},
			})
			if err != nil {
				t.Errorf("CallTool: %v", err)
				return
			}
			results[i] = res
		}(i, title)
	}
	wg.Wait()

	for i, res := range results {
		if res == nil || res.IsError {
			t.Fatalf("write %d failed: %+v", i, res)
		}
	}
	posts, err := store.ListPosts("blog", false)
	if err != nil {
		t.Fatalf("ListPosts: %v", err)
	}
	if len(posts) != 2 {
		t.Fatalf("persisted %d posts, want 2", len(posts))
	}
}

func TestReadWaitsForQueuedWork(t *testing.T) {
	s, _ := newTestServer(t)
	cs, closeFn := connectClientSession(t, s)
	defer closeFn()

	release := make(chan struct{})
	running := make(chan struct{})
	queueDone := make(chan error, 1)
	go func() {
		queueDone <- s.queue.Do(context.Background(), "hold", func(context.Context) error {
			close(running)
			<-release
			return nil
		})
	}()
	<-running

	readDone := make(chan *mcpsdk.CallToolResult, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		res, err := cs.CallTool(ctx, &mcpsdk.CallToolParams{
			Name:      toolListPosts,
			Arguments: map[string]any{"site": "blog"},
		})
		if err != nil {
			t.Errorf("CallTool: %v", err)
			return
		}
		readDone <- res
	}()

	select {
	case <-readDone:
		t.Fatal("list_posts completed while earlier queued work was still running")
	case <-time.After(250 * time.Millisecond):
	}

	close(release)
	select {
	case res := <-readDone:
		if res.IsError {
			t.Fatalf("list_posts failed: %+v", res)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("list_posts did not complete after the queue drained")
	}
	if err := <-queueDone; err != nil {
		t.Fatalf("queued task: %v", err)
	}
}

func TestWriteAndConcurrentReadBothSucceed(t *testing.T) {
	s, store := newTestServer(t)
	cs, closeFn := connectClientSession(t, s)
	defer closeFn()

	var before struct {
		State string `json:"state"`
	}
	decodeResult(t, callTool(t, cs, toolGetSyncStatus, map[string]any{"site": "blog"}), &before)

	var wg sync.WaitGroup
	var writeRes, readRes *mcpsdk.CallToolResult
	wg.Add(2)
	go func() {
		defer wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		res, err := cs.CallTool(ctx, &mcpsdk.CallToolParams{
			Name:      toolCreatePost,
			Arguments: map[string]any{"site": "blog", "title": "Hello", "text": "body"},
		})
		if err != nil {
			t.Errorf("create_post: %v", err)
			return
		}
		writeRes = res
	}()
	go func() {
		defer wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		res, err := cs.CallTool(ctx, &mcpsdk.CallToolParams{
			Name:      toolListPosts,
			Arguments: map[string]any{"site": "blog"},
		})
		if err != nil {
			t.Errorf("list_posts: %v", err)
			return
		}
		readRes = res
	}()
	wg.Wait()

	if writeRes == nil || writeRes.IsError {
		t.Fatalf("create_post failed: %+v", writeRes)
	}
	if readRes == nil || readRes.IsError {
		t.Fatalf("list_posts failed: %+v", readRes)
	}
	posts, err := store.ListPosts("blog", false)
	if err != nil {
		t.Fatalf("ListPosts: %v", err)
	}
	if len(posts) != 1 {
		t.Fatalf("persisted %d posts, want 1", len(posts))
	}

	var after struct {
		State string `json:"state"`
	}
	decodeResult(t, callTool(t, cs, toolGetSyncStatus, map[string]any{"site": "blog"}), &after)
	if after.State != before.State {
		t.Fatalf("sync state changed from %q to %q", before.State, after.State)
	}
}

func TestRenderSiteViaWorker(t *testing.T) {
	s, _ := newTestServer(t, "/bin/sh", "testdata/fake_worker.sh")
	cs, closeFn := connectClientSession(t, s)
	defer closeFn()

	res := callTool(t, cs, toolRenderSite, map[string]any{"site": "blog"})
	if res.IsError {
		t.Fatalf("unexpected error result: %+v", res)
	}
	var out struct {
		Rendered bool            `json:"rendered"`
		Stats    json.RawMessage `json:"stats"`
	}
	decodeResult(t, res, &out)
	if !out.Rendered {
		t.Fatal("expected rendered=true")
	}
	if !strings.Contains(string(out.Stats), `"posts":1`) {
		t.Fatalf("stats = %s", out.Stats)
	}
}

func TestRenderSiteWorkerFailureSurfacesLogDetail(t *testing.T) {
	s, _ := newTestServer(t, "/bin/sh", "testdata/fake_worker_fail.sh")
	cs, closeFn := connectClientSession(t, s)
	defer closeFn()

	res := callTool(t, cs, toolRenderSite, map[string]any{"site": "blog"})
	text := errorText(t, res)
	if !strings.Contains(text, "render failed: boom") {
		t.Fatalf("error text = %q, want render failure detail", text)
	}
	if !strings.Contains(text, "something went wrong in the child") {
		t.Fatalf("error text = %q, want captured log tail", text)
	}
}

func TestRenderSiteRecordsAttemptStatus(t *testing.T) {
	s, _ := newTestServer(t, "/bin/sh", "testdata/fake_worker.sh")
	cs, closeFn := connectClientSession(t, s)
	defer closeFn()

	res := callTool(t, cs, toolRenderSite, map[string]any{"site": "blog"})
	if res.IsError {
		t.Fatalf("unexpected error result: %+v", res)
	}
	rec, found, err := s.deployStatus.Get("blog")
	if err != nil || !found {
		t.Fatalf("status record after render: found=%v err=%v", found, err)
	}
	if rec.Operation != registry.OperationRender || rec.Result != registry.DeploySuccess {
		t.Fatalf("record = %+v, want a successful render attempt", rec)
	}
	if rec.Timestamp.IsZero() {
		t.Fatal("record timestamp not stamped")
	}
}

func TestFailedRenderRecordsAttemptStatus(t *testing.T) {
	s, _ := newTestServer(t, "/bin/sh", "testdata/fake_worker_fail.sh")
	cs, closeFn := connectClientSession(t, s)
	defer closeFn()

	res := callTool(t, cs, toolRenderSite, map[string]any{"site": "blog"})
	errorText(t, res)
	rec, found, err := s.deployStatus.Get("blog")
	if err != nil || !found {
		t.Fatalf("status record after failed render: found=%v err=%v", found, err)
	}
	if rec.Operation != registry.OperationRender || rec.Result != registry.DeployFailed {
		t.Fatalf("record = %+v, want a failed render attempt", rec)
	}
	if rec.Error != "boom" {
		t.Fatalf("record error = %q, want boom", rec.Error)
	}
}

func TestGetSyncStatusAfterRenderAttempts(t *testing.T) {
	s, store := newTestServer(t)
	cs, closeFn := connectClientSession(t, s)
	defer closeFn()

	index := filepath.Join(store.OutputDir("blog"), "index.html")
	if err := os.WriteFile(index, []byte("<html></html>"), 0o644); err != nil {
		t.Fatalf("write output: %v", err)
	}
	if err := s.deployStatus.Set("blog", registry.DeployStatusRecord{
		Operation: registry.OperationRender,
		Result:    registry.DeploySuccess,
	}); err != nil {
		t.Fatalf("Set: %v", err)
	}

	var out struct {
		State string `json:"state"`
	}
	decodeResult(t, callTool(t, cs, toolGetSyncStatus, map[string]any{"site": "blog"}), &out)
	if out.State != "deploy-pending" {
		t.Fatalf("state = %q, want deploy-pending after a successful render", out.State)
	}

	if err := s.deployStatus.Set("blog", registry.DeployStatusRecord{
		Operation: registry.OperationRender,
		Result:    registry.DeployFailed,
		Error:     "template parse failed",
	}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	decodeResult(t, callTool(t, cs, toolGetSyncStatus, map[string]any{"site": "blog"}), &out)
	if out.State != "render-pending" {
		t.Fatalf("state = %q, want render-pending after a failed render", out.State)
	}
}

func TestDeploySiteRequiresRenderedOutput(t *testing.T) {
	s, store := newTestServer(t, "/bin/sh", "testdata/fake_worker.sh")
	if err := store.WriteSiteConfig("blog", content.SiteConfig{
		Name: "blog",
		Deployment: content.DeploymentConfig{
			Protocol: "local",
			Local:    content.LocalDeployConfig{Path: t.TempDir()},
		},
	}); err != nil {
		t.Fatalf("WriteSiteConfig: %v", err)
	}
	cs, closeFn := connectClientSession(t, s)
	defer closeFn()

	res := callTool(t, cs, toolDeploySite, map[string]any{"site": "blog"})
	text := errorText(t, res)
	if !strings.Contains(text, "run render_site first") {
		t.Fatalf("error text = %q, want render-first rejection", text)
	}
	if _, found, err := s.deployStatus.Get("blog"); err != nil || found {
		t.Fatalf("deploy status should be untouched, found=%v err=%v", found, err)
	}
}

func TestDeploySiteWithoutProtocolRejected(t *testing.T) {
	s, _ := newTestServer(t, "/bin/sh", "testdata/fake_worker.sh")
	cs, closeFn := connectClientSession(t, s)
	defer closeFn()

	res := callTool(t, cs, toolDeploySite, map[string]any{"site": "blog"})
	text := errorText(t, res)
	if !strings.Contains(text, "no deployment protocol") {
		t.Fatalf("error text = %q, want protocol rejection", text)
	}
}

func TestGetSyncStatusNeverRendered(t *testing.T) {
	s, _ := newTestServer(t)
	cs, closeFn := connectClientSession(t, s)
	defer closeFn()

	res := callTool(t, cs, toolGetSyncStatus, map[string]any{"site": "blog"})
	if res.IsError {
		t.Fatalf("unexpected error result: %+v", res)
	}
	var out struct {
		State string `json:"state"`
	}
	decodeResult(t, res, &out)
	if out.State != "render-pending" {
		t.Fatalf("state = %q, want render-pending for a fresh site", out.State)
	}
}

func TestSessionRegisteredOnToolCall(t *testing.T) {
	s, _ := newTestServer(t)
	cs, closeFn := connectClientSession(t, s)
	defer closeFn()

	callTool(t, cs, toolListSites, map[string]any{})

	doc, err := s.registry.Read()
	if err != nil {
		t.Fatalf("registry read: %v", err)
	}
	if len(doc.Clients) != 1 {
		t.Fatalf("clients = %+v, want one session", doc.Clients)
	}
	if doc.Clients[0].ClientName != "test-client" {
		t.Fatalf("client name = %q", doc.Clients[0].ClientName)
	}
}
