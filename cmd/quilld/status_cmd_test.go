package main

import (
	"bytes"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/quillcms/quilld/internal/registry"
	"pkt.systems/pslog"
)

func statusFixtures(t *testing.T) (*registry.Store, *registry.ActivityLog, *registry.DeployStatus) {
	t.Helper()
	dir := t.TempDir()
	logger := pslog.NoopLogger()
	return registry.NewStore(dir, logger),
		registry.NewActivityLog(dir, logger, 0),
		registry.NewDeployStatus(dir, logger)
}

func renderStatus(t *testing.T, status *registry.Store, activity *registry.ActivityLog, deploys *registry.DeployStatus) string {
	t.Helper()
	var buf bytes.Buffer
	if err := printStatus(&buf, status, activity, deploys); err != nil {
		t.Fatalf("printStatus: %v", err)
	}
	return buf.String()
}

func TestPrintStatusEmpty(t *testing.T) {
	status, activity, deploys := statusFixtures(t)
	out := renderStatus(t, status, activity, deploys)
	for _, want := range []string{"Sessions:", "Write lock:", "  free", "Recent activity:", "Deploy status:", "(none)"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
}

func TestPrintStatusPopulated(t *testing.T) {
	status, activity, deploys := statusFixtures(t)
	now := time.Now()

	err := status.RegisterOrRefresh(registry.Session{
		SessionID:     "sess-1",
		ClientName:    "claude-desktop",
		PID:           int32(os.Getpid()),
		StartedAt:     now.Add(-time.Hour),
		LastActivity:  now,
		ToolCallCount: 7,
		Active:        true,
	})
	if err != nil {
		t.Fatalf("RegisterOrRefresh: %v", err)
	}
	err = status.SetLock(registry.Lock{
		SessionID:  "sess-1",
		ClientName: "claude-desktop",
		PID:        int32(os.Getpid()),
		Site:       "blog",
		Operation:  "update_post",
		StartedAt:  now.Add(-time.Minute),
	})
	if err != nil {
		t.Fatalf("SetLock: %v", err)
	}
	err = activity.Append(registry.ActivityEntry{
		Timestamp:  now,
		ClientName: "claude-desktop",
		SessionID:  "sess-1",
		Tool:       "update_post",
		Site:       "blog",
		Summary:    "ok",
	})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	err = deploys.Set("blog", registry.DeployStatusRecord{
		Operation:  registry.OperationDeploy,
		Result:     registry.DeploySuccess,
		Protocol:   "s3",
		Path:       "bucket/site",
		DurationMS: 1500,
		Timestamp:  now,
	})
	if err != nil {
		t.Fatalf("Set: %v", err)
	}

	out := renderStatus(t, status, activity, deploys)
	for _, want := range []string{
		"claude-desktop", "7 calls",
		`update_post on "blog"`,
		"update_post", "ok",
		"blog: deploy success", "via s3", "(bucket/site)", "took 1.5s",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "[possibly stale]") {
		t.Fatalf("fresh lock flagged stale:\n%s", out)
	}
}

func TestPrintStatusFlagsStaleLock(t *testing.T) {
	status, activity, deploys := statusFixtures(t)
	err := status.SetLock(registry.Lock{
		SessionID:  "sess-1",
		ClientName: "claude-desktop",
		PID:        int32(os.Getpid()),
		Site:       "blog",
		Operation:  "deploy_site",
		StartedAt:  time.Now().Add(-staleLockThreshold - time.Minute),
	})
	if err != nil {
		t.Fatalf("SetLock: %v", err)
	}
	out := renderStatus(t, status, activity, deploys)
	if !strings.Contains(out, "[possibly stale]") {
		t.Fatalf("expected stale annotation:\n%s", out)
	}
}

func TestPrintStatusShowsLastLockAfterRelease(t *testing.T) {
	status, activity, deploys := statusFixtures(t)
	err := status.SetLock(registry.Lock{
		SessionID: "sess-1",
		Site:      "blog",
		Operation: "create_post",
	})
	if err != nil {
		t.Fatalf("SetLock: %v", err)
	}
	if err := status.ClearLock("sess-1"); err != nil {
		t.Fatalf("ClearLock: %v", err)
	}
	out := renderStatus(t, status, activity, deploys)
	if !strings.Contains(out, "free; last held") {
		t.Fatalf("expected released lock line:\n%s", out)
	}
	if !strings.Contains(out, `create_post on "blog"`) {
		t.Fatalf("expected last lock detail:\n%s", out)
	}
}
