package quilld

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path"
	"strings"
	"sync/atomic"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/xid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"pkt.systems/pslog"

	"github.com/quillcms/quilld/internal/clientname"
	"github.com/quillcms/quilld/internal/content"
	"github.com/quillcms/quilld/internal/execqueue"
	"github.com/quillcms/quilld/internal/registry"
	"github.com/quillcms/quilld/internal/svcfields"
	"github.com/quillcms/quilld/internal/worker"
)

// Server is the quilld MCP service contract.
type Server interface {
	Run(context.Context) error
}

// NewServerRequest wraps constructor inputs.
type NewServerRequest struct {
	Config Config
	Logger pslog.Logger
}

type server struct {
	cfg          Config
	logger       pslog.Logger
	lifecycleLog pslog.Logger
	dispatchLog  pslog.Logger
	workerLog    pslog.Logger

	content      *content.Store
	registry     *registry.Store
	activity     *registry.ActivityLog
	deployStatus *registry.DeployStatus
	queue        *execqueue.Queue
	bridge       *worker.Bridge

	sessionID  string
	clientName string
	pid        int32
	startedAt  time.Time
	requestSeq atomic.Int64
	toolCalls  atomic.Int64

	metrics    *serverMetrics
	httpServer *http.Server
	mcpPath    string
}

// NewServer constructs the quilld MCP dispatcher.
func NewServer(req NewServerRequest) (Server, error) {
	cfg := req.Config
	if err := applyDefaults(&cfg); err != nil {
		return nil, err
	}
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	logger := req.Logger
	if logger == nil {
		logger = pslog.NewStructured(os.Stderr).With("app", "quilld")
	}

	s := &server{
		cfg:          cfg,
		logger:       logger,
		lifecycleLog: svcfields.WithSubsystem(logger, "server.lifecycle"),
		dispatchLog:  svcfields.WithSubsystem(logger, "server.dispatch"),
		workerLog:    svcfields.WithSubsystem(logger, "server.worker"),
		content:      content.NewStore(cfg.SitesDir),
		registry:     registry.NewStore(cfg.DataDir, svcfields.WithSubsystem(logger, "registry")),
		queue:        execqueue.New(svcfields.WithSubsystem(logger, "execqueue")),
		sessionID:    xid.New().String(),
		clientName:   clientname.Detect(cfg.ClientName),
		pid:          int32(os.Getpid()),
		startedAt:    time.Now(),
		mcpPath:      cleanHTTPPath(cfg.MCPPath),
	}
	s.activity = registry.NewActivityLog(cfg.DataDir, svcfields.WithSubsystem(logger, "registry.activity"), registry.DefaultActivityLogCapacity)
	s.deployStatus = registry.NewDeployStatus(cfg.DataDir, svcfields.WithSubsystem(logger, "registry.deploy"))
	s.bridge = worker.New(worker.Config{
		Command:       cfg.WorkerCommand,
		LogDir:        cfg.DataDir,
		RenderTimeout: cfg.RenderTimeout,
		DeployTimeout: cfg.DeployTimeout,
	}, s.workerLog)
	s.metrics = newServerMetrics(s.queue)

	if cfg.Listen != "" {
		s.httpServer = &http.Server{Addr: cfg.Listen, Handler: s.buildMux()}
	}
	return s, nil
}

func (s *server) Run(ctx context.Context) error {
	s.lifecycleLog.Info("starting quilld",
		"session_id", s.sessionID,
		"client", s.clientName,
		"sites_dir", s.cfg.SitesDir,
		"transport", s.transportName(),
	)

	telemetry, err := setupTelemetry(ctx, s.cfg, s.logger)
	if err != nil {
		return err
	}
	if telemetry != nil {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = telemetry.Shutdown(shutdownCtx)
		}()
	}

	if err := s.refreshSession(); err != nil {
		s.lifecycleLog.Warn("server.session.register_failed", "error", err)
	}
	defer func() {
		if err := s.registry.Remove(s.sessionID); err != nil {
			s.lifecycleLog.Warn("server.session.remove_failed", "error", err)
		}
	}()

	if s.httpServer != nil {
		return s.runHTTP(ctx)
	}
	return s.runStdio(ctx)
}

func (s *server) transportName() string {
	if s.cfg.Listen != "" {
		return "http " + s.cfg.Listen
	}
	return "stdio"
}

func (s *server) runStdio(ctx context.Context) error {
	srv := s.buildMCPServer()
	err := srv.Run(ctx, &mcpsdk.StdioTransport{})
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (s *server) runHTTP(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		ln, err := net.Listen("tcp", s.cfg.Listen)
		if err != nil {
			errCh <- fmt.Errorf("listen %s: %w", s.cfg.Listen, err)
			return
		}
		errCh <- s.httpServer.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *server) buildMux() *http.ServeMux {
	mcpSrv := s.buildMCPServer()
	streamable := mcpsdk.NewStreamableHTTPHandler(func(_ *http.Request) *mcpsdk.Server {
		return mcpSrv
	}, nil)
	mux := http.NewServeMux()
	mux.Handle(s.mcpPath, streamable)
	return mux
}

func (s *server) buildMCPServer() *mcpsdk.Server {
	srv := mcpsdk.NewServer(&mcpsdk.Implementation{
		Name:    "quilld",
		Version: Version,
	}, &mcpsdk.ServerOptions{
		Instructions: serverInstructions,
	})
	s.registerTools(srv)
	return srv
}

const serverInstructions = `quilld manages Quill static sites: posts, pages, tags, menus, media,
rendering, and deployment. Call list_sites first to discover site names.
Write tools are serialized through one queue and publish an advisory write
lock other Quill processes can observe; long render_site and deploy_site
runs stream progress notifications.`

func (s *server) registerTools(srv *mcpsdk.Server) {
	descriptions := buildToolDescriptions()
	desc := func(name string) string {
		description, ok := descriptions[name]
		if !ok {
			panic(fmt.Sprintf("missing tool description for %q", name))
		}
		return description
	}

	mcpsdk.AddTool(srv, &mcpsdk.Tool{Name: toolListSites, Description: desc(toolListSites)}, dispatch(s, toolListSites, s.handleListSites))
	mcpsdk.AddTool(srv, &mcpsdk.Tool{Name: toolGetSiteConfig, Description: desc(toolGetSiteConfig)}, dispatch(s, toolGetSiteConfig, s.handleGetSiteConfig))

	mcpsdk.AddTool(srv, &mcpsdk.Tool{Name: toolListPosts, Description: desc(toolListPosts)}, dispatch(s, toolListPosts, s.handleListPosts))
	mcpsdk.AddTool(srv, &mcpsdk.Tool{Name: toolGetPost, Description: desc(toolGetPost)}, dispatch(s, toolGetPost, s.handleGetPost))
	mcpsdk.AddTool(srv, &mcpsdk.Tool{Name: toolCreatePost, Description: desc(toolCreatePost)}, dispatch(s, toolCreatePost, s.handleCreatePost))
	mcpsdk.AddTool(srv, &mcpsdk.Tool{Name: toolUpdatePost, Description: desc(toolUpdatePost)}, dispatch(s, toolUpdatePost, s.handleUpdatePost))
	mcpsdk.AddTool(srv, &mcpsdk.Tool{Name: toolDeletePost, Description: desc(toolDeletePost)}, dispatch(s, toolDeletePost, s.handleDeletePost))

	mcpsdk.AddTool(srv, &mcpsdk.Tool{Name: toolListPages, Description: desc(toolListPages)}, dispatch(s, toolListPages, s.handleListPages))
	mcpsdk.AddTool(srv, &mcpsdk.Tool{Name: toolGetPage, Description: desc(toolGetPage)}, dispatch(s, toolGetPage, s.handleGetPage))
	mcpsdk.AddTool(srv, &mcpsdk.Tool{Name: toolCreatePage, Description: desc(toolCreatePage)}, dispatch(s, toolCreatePage, s.handleCreatePage))
	mcpsdk.AddTool(srv, &mcpsdk.Tool{Name: toolUpdatePage, Description: desc(toolUpdatePage)}, dispatch(s, toolUpdatePage, s.handleUpdatePage))
	mcpsdk.AddTool(srv, &mcpsdk.Tool{Name: toolDeletePage, Description: desc(toolDeletePage)}, dispatch(s, toolDeletePage, s.handleDeletePage))

	mcpsdk.AddTool(srv, &mcpsdk.Tool{Name: toolListTags, Description: desc(toolListTags)}, dispatch(s, toolListTags, s.handleListTags))
	mcpsdk.AddTool(srv, &mcpsdk.Tool{Name: toolGetTag, Description: desc(toolGetTag)}, dispatch(s, toolGetTag, s.handleGetTag))
	mcpsdk.AddTool(srv, &mcpsdk.Tool{Name: toolCreateTag, Description: desc(toolCreateTag)}, dispatch(s, toolCreateTag, s.handleCreateTag))
	mcpsdk.AddTool(srv, &mcpsdk.Tool{Name: toolUpdateTag, Description: desc(toolUpdateTag)}, dispatch(s, toolUpdateTag, s.handleUpdateTag))
	mcpsdk.AddTool(srv, &mcpsdk.Tool{Name: toolDeleteTag, Description: desc(toolDeleteTag)}, dispatch(s, toolDeleteTag, s.handleDeleteTag))

	mcpsdk.AddTool(srv, &mcpsdk.Tool{Name: toolGetMenu, Description: desc(toolGetMenu)}, dispatch(s, toolGetMenu, s.handleGetMenu))
	mcpsdk.AddTool(srv, &mcpsdk.Tool{Name: toolSetMenu, Description: desc(toolSetMenu)}, dispatch(s, toolSetMenu, s.handleSetMenu))
	mcpsdk.AddTool(srv, &mcpsdk.Tool{Name: toolAddMenuItem, Description: desc(toolAddMenuItem)}, dispatch(s, toolAddMenuItem, s.handleAddMenuItem))
	mcpsdk.AddTool(srv, &mcpsdk.Tool{Name: toolRemoveMenuItem, Description: desc(toolRemoveMenuItem)}, dispatch(s, toolRemoveMenuItem, s.handleRemoveMenuItem))
	mcpsdk.AddTool(srv, &mcpsdk.Tool{Name: toolClearMenu, Description: desc(toolClearMenu)}, dispatch(s, toolClearMenu, s.handleClearMenu))

	mcpsdk.AddTool(srv, &mcpsdk.Tool{Name: toolListMedia, Description: desc(toolListMedia)}, dispatch(s, toolListMedia, s.handleListMedia))
	mcpsdk.AddTool(srv, &mcpsdk.Tool{Name: toolUploadImage, Description: desc(toolUploadImage)}, dispatch(s, toolUploadImage, s.handleUploadImage))
	mcpsdk.AddTool(srv, &mcpsdk.Tool{Name: toolUploadFile, Description: desc(toolUploadFile)}, dispatch(s, toolUploadFile, s.handleUploadFile))
	mcpsdk.AddTool(srv, &mcpsdk.Tool{Name: toolDeleteMedia, Description: desc(toolDeleteMedia)}, dispatch(s, toolDeleteMedia, s.handleDeleteMedia))
	mcpsdk.AddTool(srv, &mcpsdk.Tool{Name: toolGetMediaInfo, Description: desc(toolGetMediaInfo)}, dispatch(s, toolGetMediaInfo, s.handleGetMediaInfo))

	mcpsdk.AddTool(srv, &mcpsdk.Tool{Name: toolRenderSite, Description: desc(toolRenderSite)}, dispatch(s, toolRenderSite, s.handleRenderSite))
	mcpsdk.AddTool(srv, &mcpsdk.Tool{Name: toolDeploySite, Description: desc(toolDeploySite)}, dispatch(s, toolDeploySite, s.handleDeploySite))
	mcpsdk.AddTool(srv, &mcpsdk.Tool{Name: toolGetSyncStatus, Description: desc(toolGetSyncStatus)}, dispatch(s, toolGetSyncStatus, s.handleGetSyncStatus))
}

// siteInput is embedded by every site-scoped tool input.
type siteInput struct {
	Site string `json:"site" jsonschema:"Site name as returned by list_sites"`
}

func (in siteInput) siteName() string {
	return in.Site
}

type siteCarrier interface {
	siteName() string
}

// dispatch wraps a tool handler with the per-call pipeline: session refresh,
// site validation, serialized execution on the queue (writes additionally
// hold the advisory lock), activity logging, and the uniform error envelope.
// Handler errors never surface as protocol errors; they become isError
// results.
func dispatch[In, Out any](s *server, tool string, h mcpsdk.ToolHandlerFor[In, Out]) mcpsdk.ToolHandlerFor[In, Out] {
	return func(ctx context.Context, req *mcpsdk.CallToolRequest, input In) (*mcpsdk.CallToolResult, Out, error) {
		var zero Out
		requestID := s.requestSeq.Add(1)
		start := time.Now()
		log := s.dispatchLog.With("request_id", requestID, "tool", tool)

		if err := s.refreshSession(); err != nil {
			log.Warn("dispatch.session.refresh_failed", "error", err)
		}

		site := ""
		if carrier, ok := any(input).(siteCarrier); ok {
			site = strings.TrimSpace(carrier.siteName())
			if site == "" {
				s.recordCall(ctx, tool, site, "failed: site is required", start)
				return toolErrorResult("site is required"), zero, nil
			}
			if err := s.content.CheckSite(site); err != nil {
				s.recordCall(ctx, tool, site, "failed: "+err.Error(), start)
				return toolErrorResult(err.Error()), zero, nil
			}
		}

		var (
			res *mcpsdk.CallToolResult
			out Out
			err error
		)
		log.Debug("dispatch.enqueue", "site", site, "depth", s.queue.Depth())
		err = s.queue.Do(ctx, tool, func(taskCtx context.Context) error {
			if IsWriteOperation(tool) {
				if lockErr := s.registry.SetLock(registry.Lock{
					SessionID:  s.sessionID,
					ClientName: s.clientName,
					PID:        s.pid,
					Site:       site,
					Operation:  tool,
				}); lockErr != nil {
					log.Warn("dispatch.lock.set_failed", "error", lockErr)
				}
				defer func() {
					if clearErr := s.registry.ClearLock(s.sessionID); clearErr != nil {
						log.Warn("dispatch.lock.clear_failed", "error", clearErr)
					}
				}()
			}
			var herr error
			res, out, herr = h(taskCtx, req, input)
			return herr
		})

		if err != nil {
			log.Warn("dispatch.failed", "site", site, "error", err, "elapsed", time.Since(start).String())
			s.recordCall(ctx, tool, site, "failed: "+firstLine(err.Error()), start)
			return toolErrorResult(err.Error()), zero, nil
		}
		if res != nil && res.IsError {
			log.Warn("dispatch.rejected", "site", site, "elapsed", time.Since(start).String())
			s.recordCall(ctx, tool, site, "failed: "+firstLine(resultText(res)), start)
			return res, zero, nil
		}
		log.Debug("dispatch.completed", "site", site, "elapsed", time.Since(start).String())
		s.recordCall(ctx, tool, site, "ok", start)
		return res, out, nil
	}
}

func (s *server) refreshSession() error {
	return s.registry.RegisterOrRefresh(registry.Session{
		SessionID:     s.sessionID,
		ClientName:    s.clientName,
		PID:           s.pid,
		StartedAt:     s.startedAt,
		LastActivity:  time.Now(),
		ToolCallCount: int(s.toolCalls.Load()),
		Active:        true,
	})
}

func (s *server) recordCall(ctx context.Context, tool, site, summary string, start time.Time) {
	s.toolCalls.Add(1)
	s.metrics.recordToolCall(ctx, tool, summary == "ok", time.Since(start))
	if err := s.activity.Append(registry.ActivityEntry{
		Timestamp:  time.Now(),
		ClientName: s.clientName,
		SessionID:  s.sessionID,
		Tool:       tool,
		Site:       site,
		Summary:    summary,
	}); err != nil {
		s.dispatchLog.Warn("dispatch.activity.append_failed", "error", err)
	}
}

func firstLine(text string) string {
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		return text[:i]
	}
	return text
}

func resultText(res *mcpsdk.CallToolResult) string {
	if res == nil {
		return ""
	}
	for _, c := range res.Content {
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			return strings.TrimPrefix(tc.Text, "Error: ")
		}
	}
	return ""
}

// serverMetrics carries the dispatcher's OpenTelemetry instruments. They
// record into the global meter provider, which is a no-op unless telemetry
// is configured.
type serverMetrics struct {
	toolCalls    metric.Int64Counter
	toolDuration metric.Float64Histogram
}

func newServerMetrics(queue *execqueue.Queue) *serverMetrics {
	meter := otelMeter()
	m := &serverMetrics{}
	m.toolCalls, _ = meter.Int64Counter("quilld.tool.calls",
		metric.WithDescription("Tool calls dispatched, by tool and outcome"))
	m.toolDuration, _ = meter.Float64Histogram("quilld.tool.duration",
		metric.WithDescription("Tool call wall time in seconds"),
		metric.WithUnit("s"))
	depth, err := meter.Int64ObservableGauge("quilld.queue.depth",
		metric.WithDescription("Tasks enqueued or executing on the write queue"))
	if err == nil {
		_, _ = meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
			o.ObserveInt64(depth, queue.Depth())
			return nil
		}, depth)
	}
	return m
}

func (m *serverMetrics) recordToolCall(ctx context.Context, tool string, ok bool, elapsed time.Duration) {
	if m == nil || m.toolCalls == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("tool", tool),
		attribute.Bool("ok", ok),
	)
	m.toolCalls.Add(ctx, 1, attrs)
	m.toolDuration.Record(ctx, elapsed.Seconds(), attrs)
}

func cleanHTTPPath(raw string) string {
	p := strings.TrimSpace(raw)
	if p == "" {
		return DefaultMCPPath
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p)
}
