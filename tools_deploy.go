package quilld

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/quillcms/quilld/internal/content"
	"github.com/quillcms/quilld/internal/registry"
	"github.com/quillcms/quilld/internal/worker"
)

type renderSiteInput struct {
	siteInput
}

type renderSiteOutput struct {
	Rendered bool            `json:"rendered"`
	Stats    json.RawMessage `json:"stats,omitempty"`
}

func (s *server) handleRenderSite(ctx context.Context, req *mcpsdk.CallToolRequest, input renderSiteInput) (*mcpsdk.CallToolResult, renderSiteOutput, error) {
	deps := worker.Dependencies{
		Kind:      worker.KindRender,
		Site:      input.Site,
		InputDir:  s.content.InputDir(input.Site),
		OutputDir: s.content.OutputDir(input.Site),
	}
	start := time.Now()
	result, err := s.bridge.Run(ctx, worker.KindRender, deps, s.progressRelay(ctx, req, worker.KindRender, input.Site))
	if err != nil {
		return nil, renderSiteOutput{}, err
	}

	record := registry.DeployStatusRecord{
		Operation:  registry.OperationRender,
		Result:     registry.DeploySuccess,
		LogFiles:   result.LogFiles,
		DurationMS: time.Since(start).Milliseconds(),
	}
	if !result.Success {
		record.Result = registry.DeployFailed
		record.Error = result.Error
		record.ErrorLog = result.ErrorLog
	}
	if err := s.deployStatus.Set(input.Site, record); err != nil {
		s.dispatchLog.Warn("render.status.write_failed", "site", input.Site, "error", err)
	}

	if !result.Success {
		return nil, renderSiteOutput{}, fmt.Errorf("%s", workerErrorMessage("render", result.Error, result.ErrorLog, result.LogFiles))
	}
	return nil, renderSiteOutput{Rendered: true, Stats: result.Payload}, nil
}

type deploySiteInput struct {
	siteInput
}

type deploySiteOutput struct {
	Deployed bool            `json:"deployed"`
	Protocol string          `json:"protocol"`
	Path     string          `json:"path"`
	Duration string          `json:"duration"`
	Stats    json.RawMessage `json:"stats,omitempty"`
}

func (s *server) handleDeploySite(ctx context.Context, req *mcpsdk.CallToolRequest, input deploySiteInput) (*mcpsdk.CallToolResult, deploySiteOutput, error) {
	cfg, err := s.content.ReadSiteConfig(input.Site)
	if err != nil {
		return nil, deploySiteOutput{}, err
	}
	protocol := strings.TrimSpace(cfg.Deployment.Protocol)
	if protocol == "" {
		return nil, deploySiteOutput{}, fmt.Errorf("site %q has no deployment protocol configured", input.Site)
	}
	outputDir := s.content.OutputDir(input.Site)
	if !hasRenderedOutput(outputDir) {
		// Rejected before any deploy attempt; the deployment status
		// record keeps its previous value.
		return nil, deploySiteOutput{}, fmt.Errorf("site %q has no rendered output; run render_site first", input.Site)
	}

	target, err := json.Marshal(cfg.Deployment)
	if err != nil {
		return nil, deploySiteOutput{}, fmt.Errorf("encode deployment target: %w", err)
	}
	deps := worker.Dependencies{
		Kind:      worker.KindDeploy,
		Site:      input.Site,
		InputDir:  s.content.InputDir(input.Site),
		OutputDir: outputDir,
		Protocol:  protocol,
		Target:    target,
	}

	start := time.Now()
	result, err := s.bridge.Run(ctx, worker.KindDeploy, deps, s.progressRelay(ctx, req, worker.KindDeploy, input.Site))
	if err != nil {
		return nil, deploySiteOutput{}, err
	}
	elapsed := time.Since(start)

	record := registry.DeployStatusRecord{
		Operation:  registry.OperationDeploy,
		Result:     registry.DeploySuccess,
		Protocol:   protocol,
		Path:       deployTargetPath(cfg.Deployment),
		LogFiles:   result.LogFiles,
		DurationMS: elapsed.Milliseconds(),
	}
	if !result.Success {
		record.Result = registry.DeployFailed
		record.Error = result.Error
		record.ErrorLog = result.ErrorLog
	}
	if err := s.deployStatus.Set(input.Site, record); err != nil {
		s.dispatchLog.Warn("deploy.status.write_failed", "site", input.Site, "error", err)
	}

	if !result.Success {
		return nil, deploySiteOutput{}, fmt.Errorf("%s", workerErrorMessage("deploy", result.Error, result.ErrorLog, result.LogFiles))
	}
	return nil, deploySiteOutput{
		Deployed: true,
		Protocol: protocol,
		Path:     record.Path,
		Duration: humanize.RelTime(start, start.Add(elapsed), "", ""),
		Stats:    result.Payload,
	}, nil
}

type getSyncStatusInput struct {
	siteInput
}

type getSyncStatusOutput struct {
	State         string     `json:"state"`
	Detail        string     `json:"detail"`
	LastOperation string     `json:"lastOperation,omitempty"`
	LastResult    string     `json:"lastResult,omitempty"`
	LastError     string     `json:"lastError,omitempty"`
	LastProtocol  string     `json:"lastProtocol,omitempty"`
	LastAttemptAt *time.Time `json:"lastAttemptAt,omitempty"`
}

// Sync states reported by get_sync_status.
const (
	syncStateNeverDeployed = "never-deployed"
	syncStateRenderPending = "render-pending"
	syncStateDeployPending = "deploy-pending"
	syncStateDeployFailed  = "deploy-failed"
	syncStateInSync        = "in-sync"
)

func (s *server) handleGetSyncStatus(ctx context.Context, _ *mcpsdk.CallToolRequest, input getSyncStatusInput) (*mcpsdk.CallToolResult, getSyncStatusOutput, error) {
	rec, recorded, err := s.deployStatus.Get(input.Site)
	if err != nil {
		return nil, getSyncStatusOutput{}, err
	}

	out := getSyncStatusOutput{}
	if recorded {
		out.LastOperation = rec.Operation
		out.LastResult = string(rec.Result)
		out.LastError = rec.Error
		out.LastProtocol = rec.Protocol
		ts := rec.Timestamp
		out.LastAttemptAt = &ts
	}

	renderedAt, rendered := newestModTime(s.content.OutputDir(input.Site))
	contentAt, _ := newestModTime(s.content.InputDir(input.Site))
	lastWasRender := recorded && rec.Operation == registry.OperationRender

	switch {
	case !rendered:
		out.State = syncStateRenderPending
		out.Detail = "the site has never been rendered; run render_site"
	case lastWasRender && rec.Result == registry.DeployFailed:
		out.State = syncStateRenderPending
		out.Detail = fmt.Sprintf("the last render %s failed: %s; run render_site", humanize.Time(rec.Timestamp), firstLine(rec.Error))
	case contentAt.After(renderedAt):
		out.State = syncStateRenderPending
		out.Detail = fmt.Sprintf("content changed %s, after the last render; run render_site", humanize.Time(contentAt))
	case !recorded:
		out.State = syncStateNeverDeployed
		out.Detail = "rendered output exists but the site has never been deployed"
	case lastWasRender:
		// A render attempt overwrote whatever deploy record existed, so
		// the rendered output has not been synced since.
		out.State = syncStateDeployPending
		out.Detail = fmt.Sprintf("rendered %s; run deploy_site", humanize.Time(rec.Timestamp))
	case rec.Result == registry.DeployFailed:
		out.State = syncStateDeployFailed
		out.Detail = fmt.Sprintf("the last deploy %s failed: %s", humanize.Time(rec.Timestamp), firstLine(rec.Error))
	case renderedAt.After(rec.Timestamp):
		out.State = syncStateDeployPending
		out.Detail = fmt.Sprintf("rendered %s, after the last deploy; run deploy_site", humanize.Time(renderedAt))
	default:
		out.State = syncStateInSync
		out.Detail = fmt.Sprintf("deployed %s via %s", humanize.Time(rec.Timestamp), rec.Protocol)
	}
	return nil, out, nil
}

// progressRelay forwards worker progress to the calling session as MCP
// progress notifications and mirrors it to the log. Notification failures
// are logged and dropped; progress is advisory.
func (s *server) progressRelay(ctx context.Context, req *mcpsdk.CallToolRequest, kind worker.Kind, site string) func(worker.Progress) {
	token := fmt.Sprintf("quilld.%s/%s", kind, site)
	return func(p worker.Progress) {
		s.workerLog.Debug("worker.progress",
			"kind", string(kind), "site", site,
			"percent", p.Percent, "message", p.Message)
		if req == nil || req.Session == nil {
			return
		}
		notifyCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := req.Session.NotifyProgress(notifyCtx, &mcpsdk.ProgressNotificationParams{
			ProgressToken: token,
			Progress:      p.Percent,
			Total:         p.Total,
			Message:       p.Message,
		}); err != nil {
			s.workerLog.Debug("worker.progress.notify_failed", "error", err)
		}
	}
}

func hasRenderedOutput(dir string) bool {
	if _, err := os.Stat(filepath.Join(dir, "index.html")); err == nil {
		return true
	}
	entries, err := os.ReadDir(dir)
	return err == nil && len(entries) > 0
}

// newestModTime walks dir and returns the most recent file modification
// time. ok is false when dir is missing or holds no files.
func newestModTime(dir string) (time.Time, bool) {
	var newest time.Time
	found := false
	_ = filepath.WalkDir(dir, func(path string, entry os.DirEntry, err error) error {
		if err != nil || entry.IsDir() {
			return nil
		}
		info, err := entry.Info()
		if err != nil {
			return nil
		}
		if info.ModTime().After(newest) {
			newest = info.ModTime()
			found = true
		}
		return nil
	})
	return newest, found
}

func deployTargetPath(cfg content.DeploymentConfig) string {
	switch cfg.Protocol {
	case "local":
		return cfg.Local.Path
	case "s3":
		if cfg.S3.Prefix != "" {
			return cfg.S3.Bucket + "/" + strings.Trim(cfg.S3.Prefix, "/")
		}
		return cfg.S3.Bucket
	case "azure":
		if cfg.Azure.Prefix != "" {
			return cfg.Azure.Container + "/" + strings.Trim(cfg.Azure.Prefix, "/")
		}
		return cfg.Azure.Container
	default:
		return ""
	}
}
