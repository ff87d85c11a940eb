package quilld

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	// DefaultSitesDir is resolved under the user home directory when no
	// sites directory is configured.
	DefaultSitesDir = "Quill"
	// DefaultMCPPath is the HTTP path serving the streamable MCP endpoint
	// when an HTTP listen address is configured.
	DefaultMCPPath = "/mcp"
	// DefaultRenderTimeout bounds one render worker run.
	DefaultRenderTimeout = 5 * time.Minute
	// DefaultDeployTimeout bounds one deploy worker run.
	DefaultDeployTimeout = 10 * time.Minute
	// DefaultMetricsListen is the Prometheus scrape endpoint. Empty
	// disables metrics unless explicitly configured.
	DefaultMetricsListen = ""
	// DefaultPprofListen is the pprof debug listener (empty disables).
	DefaultPprofListen = ""
)

// Config controls quilld server runtime behavior. The zero value plus
// applyDefaults yields a working stdio server over ~/Quill.
type Config struct {
	// SitesDir is the root directory holding one subdirectory per site.
	SitesDir string
	// DataDir holds the shared status, activity, deploy-status and worker
	// log files. Defaults to <SitesDir>/.quilld.
	DataDir string
	// Listen enables the streamable HTTP transport on this address in
	// addition to nothing else; empty means stdio transport.
	Listen string
	// MCPPath is the HTTP path for the MCP endpoint when Listen is set.
	MCPPath string
	// ClientName overrides process-ancestry client detection.
	ClientName string
	// WorkerCommand overrides the child process command line for render
	// and deploy runs. Empty means re-exec this binary's worker subcommand.
	WorkerCommand []string
	// RenderTimeout and DeployTimeout bound worker runs.
	RenderTimeout time.Duration
	DeployTimeout time.Duration
	// OTLPEndpoint enables trace export when non-empty, for example
	// "grpc://collector:4317" or "https://collector:4318/v1/traces".
	OTLPEndpoint string
	// MetricsListen enables the Prometheus endpoint when non-empty.
	MetricsListen string
	// PprofListen enables the pprof endpoint when non-empty.
	PprofListen string
	// EnableProfilingMetrics adds Go runtime metrics to the metrics
	// endpoint. Requires MetricsListen.
	EnableProfilingMetrics bool
}

func applyDefaults(cfg *Config) error {
	cfg.SitesDir = strings.TrimSpace(cfg.SitesDir)
	if cfg.SitesDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("resolve home directory: %w", err)
		}
		cfg.SitesDir = filepath.Join(home, DefaultSitesDir)
	}
	cfg.DataDir = strings.TrimSpace(cfg.DataDir)
	if cfg.DataDir == "" {
		cfg.DataDir = filepath.Join(cfg.SitesDir, ".quilld")
	}
	if strings.TrimSpace(cfg.MCPPath) == "" {
		cfg.MCPPath = DefaultMCPPath
	}
	if cfg.RenderTimeout <= 0 {
		cfg.RenderTimeout = DefaultRenderTimeout
	}
	if cfg.DeployTimeout <= 0 {
		cfg.DeployTimeout = DefaultDeployTimeout
	}
	return nil
}

func validateConfig(cfg Config) error {
	if strings.TrimSpace(cfg.SitesDir) == "" {
		return fmt.Errorf("sites directory required")
	}
	if cfg.EnableProfilingMetrics && strings.TrimSpace(cfg.MetricsListen) == "" {
		return fmt.Errorf("profiling metrics require a metrics listen address")
	}
	if !strings.HasPrefix(cfg.MCPPath, "/") {
		return fmt.Errorf("mcp path must start with /")
	}
	return nil
}
