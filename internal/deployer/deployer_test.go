package deployer

import (
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/johannesboyne/gofakes3"
	"github.com/johannesboyne/gofakes3/backend/s3mem"

	"github.com/quillcms/quilld/internal/content"
)

func writeTree(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for rel, body := range files {
		path := filepath.Join(dir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			t.Fatalf("write %s: %v", rel, err)
		}
	}
}

func TestLocalTargetFullSyncWritesManifest(t *testing.T) {
	ctx := context.Background()
	src := t.TempDir()
	dst := t.TempDir()
	writeTree(t, src, map[string]string{
		"index.html":            "<html>home</html>",
		"hello-world/index.html": "<html>hello</html>",
		"media/photo.jpg":       "jpegbytes",
	})

	target, err := NewLocalTarget(content.LocalDeployConfig{Path: dst})
	if err != nil {
		t.Fatalf("new target: %v", err)
	}
	d := New(target)

	if _, found, err := d.RemoteManifest(ctx); err != nil || found {
		t.Fatalf("expected no manifest on fresh target, found=%v err=%v", found, err)
	}

	var calls [][2]int64
	stats, err := d.Sync(ctx, src, nil, func(cur, total int64) {
		calls = append(calls, [2]int64{cur, total})
	})
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if stats.Uploaded != 3 || stats.Deleted != 0 {
		t.Fatalf("expected 3 uploads, got %+v", stats)
	}
	if len(calls) != 3 || calls[2] != [2]int64{3, 3} {
		t.Fatalf("unexpected progress calls %v", calls)
	}
	body, err := os.ReadFile(filepath.Join(dst, "hello-world", "index.html"))
	if err != nil || string(body) != "<html>hello</html>" {
		t.Fatalf("deployed file wrong: %q err=%v", body, err)
	}
	if _, err := os.Stat(filepath.Join(dst, ManifestName)); err != nil {
		t.Fatalf("manifest not written: %v", err)
	}
}

func TestLocalTargetIncrementalSyncSkipsUnchangedAndDeletesStale(t *testing.T) {
	ctx := context.Background()
	src := t.TempDir()
	dst := t.TempDir()
	writeTree(t, src, map[string]string{
		"index.html":       "v1",
		"about/index.html": "about",
		"old/index.html":   "old",
	})
	target, err := NewLocalTarget(content.LocalDeployConfig{Path: dst})
	if err != nil {
		t.Fatalf("new target: %v", err)
	}
	d := New(target)
	if _, err := d.Sync(ctx, src, nil, nil); err != nil {
		t.Fatalf("initial sync: %v", err)
	}

	if err := os.WriteFile(filepath.Join(src, "index.html"), []byte("v2"), 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	if err := os.RemoveAll(filepath.Join(src, "old")); err != nil {
		t.Fatalf("remove: %v", err)
	}

	remote, found, err := d.RemoteManifest(ctx)
	if err != nil || !found {
		t.Fatalf("expected manifest after first sync, found=%v err=%v", found, err)
	}
	stats, err := d.Sync(ctx, src, remote, nil)
	if err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if stats.Uploaded != 1 || stats.Deleted != 1 || stats.Skipped != 1 {
		t.Fatalf("expected 1 upload, 1 delete, 1 skip, got %+v", stats)
	}
	if _, err := os.Stat(filepath.Join(dst, "old", "index.html")); !os.IsNotExist(err) {
		t.Fatalf("stale file still deployed: %v", err)
	}
	body, _ := os.ReadFile(filepath.Join(dst, "index.html"))
	if string(body) != "v2" {
		t.Fatalf("expected updated body, got %q", body)
	}
}

func TestLocalTargetRejectsEscapingKeys(t *testing.T) {
	target, err := NewLocalTarget(content.LocalDeployConfig{Path: t.TempDir()})
	if err != nil {
		t.Fatalf("new target: %v", err)
	}
	if err := target.Put(context.Background(), "../outside.html", []byte("x")); err == nil {
		t.Fatal("expected escaping key to be rejected")
	}
}

func setupFakeS3(t *testing.T, bucket string) content.S3DeployConfig {
	t.Helper()
	backend := s3mem.New()
	fake := gofakes3.New(backend)
	server := httptest.NewServer(fake.Server())
	t.Cleanup(server.Close)
	if err := backend.CreateBucket(bucket); err != nil {
		t.Fatalf("create bucket: %v", err)
	}
	t.Setenv("QUILLD_TEST_S3_ACCESS", "quilltest")
	t.Setenv("QUILLD_TEST_S3_SECRET", "quillsecret")
	return content.S3DeployConfig{
		Endpoint:     strings.TrimPrefix(server.URL, "http://"),
		Region:       "us-east-1",
		Bucket:       bucket,
		Prefix:       "site",
		AccessKeyEnv: "QUILLD_TEST_S3_ACCESS",
		SecretKeyEnv: "QUILLD_TEST_S3_SECRET",
	}
}

func TestS3TargetSyncRoundTrip(t *testing.T) {
	ctx := context.Background()
	cfg := setupFakeS3(t, "quill-deploy")
	target, err := NewS3Target(cfg)
	if err != nil {
		t.Fatalf("new target: %v", err)
	}
	d := New(target)

	if _, found, err := d.RemoteManifest(ctx); err != nil || found {
		t.Fatalf("expected empty bucket, found=%v err=%v", found, err)
	}

	src := t.TempDir()
	writeTree(t, src, map[string]string{
		"index.html":      "<html>s3</html>",
		"media/photo.jpg": "jpegbytes",
	})
	stats, err := d.Sync(ctx, src, nil, nil)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if stats.Uploaded != 2 {
		t.Fatalf("expected 2 uploads, got %+v", stats)
	}

	data, found, err := target.Fetch(ctx, "index.html")
	if err != nil || !found {
		t.Fatalf("fetch: found=%v err=%v", found, err)
	}
	if string(data) != "<html>s3</html>" {
		t.Fatalf("unexpected body %q", data)
	}

	remote, found, err := d.RemoteManifest(ctx)
	if err != nil || !found {
		t.Fatalf("expected manifest, found=%v err=%v", found, err)
	}
	if len(remote) != 2 {
		t.Fatalf("expected 2 manifest entries, got %v", remote)
	}

	// Second run against the fetched manifest uploads nothing.
	stats, err = d.Sync(ctx, src, remote, nil)
	if err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if stats.Uploaded != 0 || stats.Skipped != 2 {
		t.Fatalf("expected no-op sync, got %+v", stats)
	}
}

func TestS3TargetMissingObjectIsNotAnError(t *testing.T) {
	cfg := setupFakeS3(t, "quill-deploy")
	target, err := NewS3Target(cfg)
	if err != nil {
		t.Fatalf("new target: %v", err)
	}
	_, found, err := target.Fetch(context.Background(), "nope.html")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if found {
		t.Fatal("expected found=false for missing object")
	}
	if err := target.Delete(context.Background(), "nope.html"); err != nil {
		t.Fatalf("delete missing: %v", err)
	}
}

func TestNewTargetSelectsProtocol(t *testing.T) {
	if _, err := NewTarget(content.DeploymentConfig{}); err == nil {
		t.Fatal("expected error for empty protocol")
	}
	if _, err := NewTarget(content.DeploymentConfig{Protocol: "ftp"}); err == nil {
		t.Fatal("expected error for unknown protocol")
	}
	tgt, err := NewTarget(content.DeploymentConfig{
		Protocol: "local",
		Local:    content.LocalDeployConfig{Path: t.TempDir()},
	})
	if err != nil {
		t.Fatalf("local target: %v", err)
	}
	if !strings.HasPrefix(tgt.Description(), "local:") {
		t.Fatalf("unexpected description %q", tgt.Description())
	}
}
