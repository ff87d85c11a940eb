package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/quillcms/quilld/internal/content"
	"github.com/quillcms/quilld/internal/deployer"
	"github.com/quillcms/quilld/internal/renderer"
	"github.com/quillcms/quilld/internal/worker"
	"pkt.systems/pslog"
)

func encodeEnvelope(t *testing.T, env worker.Envelope) []byte {
	t.Helper()
	data, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return append(data, '\n')
}

func decodeEnvelopes(t *testing.T, data []byte) []worker.Envelope {
	t.Helper()
	var out []worker.Envelope
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var env worker.Envelope
		if err := json.Unmarshal(scanner.Bytes(), &env); err != nil {
			t.Fatalf("decode %q: %v", scanner.Text(), err)
		}
		out = append(out, env)
	}
	return out
}

func newTestSite(t *testing.T) (*content.Store, string) {
	t.Helper()
	root := t.TempDir()
	store := content.NewStore(root)
	if err := store.CreateSite("blog", content.SiteConfig{Name: "blog"}); err != nil {
		t.Fatalf("CreateSite: %v", err)
	}
	return store, root
}

func TestRenderWorkerEmitsProgressAndResults(t *testing.T) {
	store, _ := newTestSite(t)
	if _, err := store.CreatePost("blog", content.Post{Title: "Hello", Text: "# Hi"}); err != nil {
		t.Fatalf("CreatePost: %v", err)
	}

	deps := worker.Dependencies{
		Kind:      worker.KindRender,
		Site:      "blog",
		InputDir:  store.InputDir("blog"),
		OutputDir: store.OutputDir("blog"),
	}
	in := bytes.NewReader(encodeEnvelope(t, worker.Envelope{Type: worker.MsgDependencies, Deps: &deps}))
	var out bytes.Buffer
	if err := runWorker(context.Background(), worker.KindRender, in, &out, pslog.NoopLogger()); err != nil {
		t.Fatalf("runWorker: %v", err)
	}

	msgs := decodeEnvelopes(t, out.Bytes())
	if len(msgs) == 0 {
		t.Fatal("expected messages on stdout")
	}
	sawProgress := false
	for _, m := range msgs[:len(msgs)-1] {
		if m.Type == worker.MsgProgress {
			sawProgress = true
		}
	}
	if !sawProgress {
		t.Fatal("expected at least one progress message before results")
	}
	final := msgs[len(msgs)-1]
	if final.Type != worker.MsgResults || !final.Success {
		t.Fatalf("final message = %+v, want successful results", final)
	}
	var stats renderer.Stats
	if err := json.Unmarshal(final.Payload, &stats); err != nil {
		t.Fatalf("decode stats payload: %v", err)
	}
	if stats.Posts != 1 {
		t.Fatalf("stats.Posts = %d, want 1", stats.Posts)
	}
	if _, err := os.Stat(filepath.Join(store.OutputDir("blog"), "index.html")); err != nil {
		t.Fatalf("expected rendered index: %v", err)
	}
}

func TestRenderWorkerRejectsMissingDependencies(t *testing.T) {
	in := bytes.NewReader(encodeEnvelope(t, worker.Envelope{Type: worker.MsgProgress, Progress: 50}))
	var out bytes.Buffer
	err := runWorker(context.Background(), worker.KindRender, in, &out, pslog.NoopLogger())
	if err == nil || !strings.Contains(err.Error(), "dependencies") {
		t.Fatalf("err = %v, want dependencies complaint", err)
	}
}

func deployDeps(t *testing.T, store *content.Store, destDir string) worker.Dependencies {
	t.Helper()
	cfg := content.DeploymentConfig{
		Protocol: "local",
		Local:    content.LocalDeployConfig{Path: destDir},
	}
	target, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal target: %v", err)
	}
	return worker.Dependencies{
		Kind:      worker.KindDeploy,
		Site:      "blog",
		InputDir:  store.InputDir("blog"),
		OutputDir: store.OutputDir("blog"),
		Protocol:  "local",
		Target:    target,
	}
}

// runDeployExchange drives a deploy worker over pipes, answering
// no-remote-files with the given reply type, and returns every message the
// worker produced.
func runDeployExchange(t *testing.T, deps worker.Dependencies, reply string) []worker.Envelope {
	t.Helper()
	inR, inW := io.Pipe()
	outR, outW := io.Pipe()

	done := make(chan error, 1)
	go func() {
		err := runWorker(context.Background(), worker.KindDeploy, inR, outW, pslog.NoopLogger())
		outW.Close()
		done <- err
	}()

	if _, err := inW.Write(encodeEnvelope(t, worker.Envelope{Type: worker.MsgDependencies, Deps: &deps})); err != nil {
		t.Fatalf("send dependencies: %v", err)
	}

	var msgs []worker.Envelope
	scanner := bufio.NewScanner(outR)
	for scanner.Scan() {
		var env worker.Envelope
		if err := json.Unmarshal(scanner.Bytes(), &env); err != nil {
			t.Fatalf("decode %q: %v", scanner.Text(), err)
		}
		msgs = append(msgs, env)
		if env.Type == worker.MsgNoRemoteFiles {
			if _, err := inW.Write(encodeEnvelope(t, worker.Envelope{Type: reply})); err != nil {
				t.Fatalf("send reply: %v", err)
			}
		}
	}
	inW.Close()
	if err := <-done; err != nil {
		t.Fatalf("runWorker: %v", err)
	}
	return msgs
}

func TestDeployWorkerFirstSyncNegotiation(t *testing.T) {
	store, _ := newTestSite(t)
	outDir := store.OutputDir("blog")
	if err := os.WriteFile(filepath.Join(outDir, "index.html"), []byte("<html>ok</html>"), 0o644); err != nil {
		t.Fatalf("write output: %v", err)
	}
	destDir := t.TempDir()

	msgs := runDeployExchange(t, deployDeps(t, store, destDir), worker.MsgContinueSync)

	sawNegotiation := false
	for _, m := range msgs {
		if m.Type == worker.MsgNoRemoteFiles {
			sawNegotiation = true
		}
	}
	if !sawNegotiation {
		t.Fatal("expected no-remote-files negotiation on empty remote")
	}
	final := msgs[len(msgs)-1]
	if final.Type != worker.MsgUploaded || !final.Success {
		t.Fatalf("final message = %+v, want successful uploaded", final)
	}
	var stats deployer.SyncStats
	if err := json.Unmarshal(final.Payload, &stats); err != nil {
		t.Fatalf("decode sync stats: %v", err)
	}
	if stats.Uploaded != 1 {
		t.Fatalf("stats.Uploaded = %d, want 1", stats.Uploaded)
	}
	if _, err := os.Stat(filepath.Join(destDir, "index.html")); err != nil {
		t.Fatalf("expected deployed file: %v", err)
	}
	if _, err := os.Stat(filepath.Join(destDir, deployer.ManifestName)); err != nil {
		t.Fatalf("expected remote manifest: %v", err)
	}
}

func TestDeployWorkerDeclinedSyncFails(t *testing.T) {
	store, _ := newTestSite(t)
	if err := os.WriteFile(filepath.Join(store.OutputDir("blog"), "index.html"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write output: %v", err)
	}
	destDir := t.TempDir()

	msgs := runDeployExchange(t, deployDeps(t, store, destDir), "abort")

	final := msgs[len(msgs)-1]
	if final.Type != worker.MsgUploaded || final.Success || final.Error == "" {
		t.Fatalf("final message = %+v, want failed uploaded", final)
	}
	if _, err := os.Stat(filepath.Join(destDir, "index.html")); !os.IsNotExist(err) {
		t.Fatalf("expected nothing deployed, stat err = %v", err)
	}
}

func TestDeployWorkerSkipsNegotiationWhenManifestExists(t *testing.T) {
	store, _ := newTestSite(t)
	if err := os.WriteFile(filepath.Join(store.OutputDir("blog"), "index.html"), []byte("v2"), 0o644); err != nil {
		t.Fatalf("write output: %v", err)
	}
	destDir := t.TempDir()
	manifest := []byte(`{"index.html":"deadbeef"}`)
	if err := os.WriteFile(filepath.Join(destDir, deployer.ManifestName), manifest, 0o644); err != nil {
		t.Fatalf("seed manifest: %v", err)
	}

	msgs := runDeployExchange(t, deployDeps(t, store, destDir), worker.MsgContinueSync)

	for _, m := range msgs {
		if m.Type == worker.MsgNoRemoteFiles {
			t.Fatal("unexpected negotiation with existing manifest")
		}
	}
	final := msgs[len(msgs)-1]
	if final.Type != worker.MsgUploaded || !final.Success {
		t.Fatalf("final message = %+v, want successful uploaded", final)
	}
}
