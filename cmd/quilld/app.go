package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/quillcms/quilld"
	"github.com/quillcms/quilld/internal/svcfields"
	"pkt.systems/pslog"
)

// DefaultConfigFileName is the config file looked up under the default
// config directory when --config is not given.
const DefaultConfigFileName = "quilld.yaml"

func submain(ctx context.Context) int {
	baseLogger := pslog.LoggerFromEnv(
		pslog.WithEnvPrefix("QUILLD_LOG_"),
		pslog.WithEnvOptions(pslog.Options{Mode: pslog.ModeStructured, MinLevel: pslog.InfoLevel}),
		pslog.WithEnvWriter(os.Stderr),
	).With("app", "quilld")
	cmd := newRootCommand(baseLogger)
	rootInvocation := invocationTargetsRootCommand(cmd, os.Args[1:])
	ctx = withSignalCancel(ctx)
	if err := cmd.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, context.Canceled) {
			if rootInvocation {
				svcfields.WithSubsystem(baseLogger, "cli.root").Error("command failed", "error", err)
			} else {
				fmt.Fprintf(os.Stderr, "%s\n", err)
			}
		}
		return 1
	}
	return 0
}

// invocationTargetsRootCommand reports whether args resolve to the root
// command itself rather than a subcommand, skipping over flags and their
// values so "quilld --listen :8080" counts as a root invocation.
func invocationTargetsRootCommand(root *cobra.Command, args []string) bool {
	if len(args) == 0 {
		return true
	}
	lookupLong := func(name string) *pflag.Flag {
		flag := root.Flags().Lookup(name)
		if flag == nil {
			flag = root.PersistentFlags().Lookup(name)
		}
		return flag
	}
	lookupShort := func(shorthand string) *pflag.Flag {
		flag := root.Flags().ShorthandLookup(shorthand)
		if flag == nil {
			flag = root.PersistentFlags().ShorthandLookup(shorthand)
		}
		return flag
	}
	remainingHasSubcommand := func(rest []string) bool {
		for _, tok := range rest {
			if isSubcommandToken(root, tok) {
				return true
			}
		}
		return false
	}
	for i := 0; i < len(args); {
		arg := args[i]
		if arg == "--" {
			return true
		}
		if strings.HasPrefix(arg, "--") {
			if eq := strings.IndexByte(arg, '='); eq >= 0 {
				i++
				continue
			}
			name := strings.TrimPrefix(arg, "--")
			flag := lookupLong(name)
			if flag == nil {
				return !remainingHasSubcommand(args[i+1:])
			}
			i++
			if flag.NoOptDefVal == "" && i < len(args) {
				i++
			}
			continue
		}
		if strings.HasPrefix(arg, "-") && arg != "-" {
			sh := strings.TrimPrefix(arg, "-")
			consumeNext := false
			for idx, ch := range sh {
				flag := lookupShort(string(ch))
				if flag == nil {
					return !remainingHasSubcommand(args[i+1:])
				}
				if flag.NoOptDefVal == "" {
					if idx == len(sh)-1 {
						consumeNext = true
					}
					break
				}
			}
			i++
			if consumeNext && i < len(args) {
				i++
			}
			continue
		}
		return !isSubcommandToken(root, arg)
	}
	return true
}

func isSubcommandToken(root *cobra.Command, token string) bool {
	for _, sub := range root.Commands() {
		if token == sub.Name() {
			return true
		}
		for _, alias := range sub.Aliases {
			if token == alias {
				return true
			}
		}
	}
	return false
}

func defaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "quilld", DefaultConfigFileName), nil
}

func loadConfigFile() (string, error) {
	cfgPath := strings.TrimSpace(viper.GetString("config"))
	explicit := cfgPath != ""

	if cfgPath == "" {
		if candidate, err := defaultConfigPath(); err == nil {
			if _, err := os.Stat(candidate); err == nil {
				cfgPath = candidate
			}
		}
	}

	if cfgPath == "" {
		return "", nil
	}

	expanded, err := expandPath(cfgPath)
	if err != nil {
		return "", fmt.Errorf("expand config path %q: %w", cfgPath, err)
	}
	info, err := os.Stat(expanded)
	if err != nil {
		if os.IsNotExist(err) && !explicit {
			return "", nil
		}
		return "", fmt.Errorf("config file %q: %w", expanded, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("config file %q is a directory", expanded)
	}

	viper.SetConfigFile(expanded)
	if err := viper.ReadInConfig(); err != nil {
		return "", fmt.Errorf("read config file %q: %w", expanded, err)
	}
	return expanded, nil
}

func expandPath(p string) (string, error) {
	if p == "" {
		return "", nil
	}
	if strings.HasPrefix(p, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		if len(p) == 1 {
			p = home
		} else if p[1] == '/' || p[1] == '\\' {
			p = filepath.Join(home, p[2:])
		}
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", err
	}
	return abs, nil
}

func newRootCommand(baseLogger pslog.Logger) *cobra.Command {
	runServe := func(cmd *cobra.Command, args []string) error {
		logger := baseLogger
		cliLogger := svcfields.WithSubsystem(logger, "cli.root")
		ctx := cmd.Context()
		cmd.SilenceUsage = true

		configFile, err := loadConfigFile()
		if err != nil {
			return err
		}
		if configFile != "" {
			cliLogger.Info("loaded config file", "path", configFile)
		}

		logLevel := strings.TrimSpace(viper.GetString("log-level"))
		if logLevel == "" {
			logLevel = "info"
		}
		if level, ok := pslog.ParseLevel(logLevel); ok {
			logger = logger.LogLevel(level)
			cliLogger = svcfields.WithSubsystem(logger, "cli.root")
		}

		cfg, err := bindConfig()
		if err != nil {
			return err
		}

		server, err := quilld.NewServer(quilld.NewServerRequest{
			Config: cfg,
			Logger: logger,
		})
		if err != nil {
			return err
		}
		return server.Run(ctx)
	}

	cmd := &cobra.Command{
		Use:           "quilld",
		Short:         "quilld is the MCP tool-call server for Quill static sites",
		SilenceErrors: true,
		Example: `
  # stdio transport over the default ~/Quill sites directory
  quilld

  # streamable HTTP transport
  quilld --listen 127.0.0.1:8411 --mcp-path /mcp

  # custom sites root with Prometheus metrics
  quilld --sites-dir /srv/quill --metrics-listen 127.0.0.1:9464
`,
		RunE: runServe,
	}

	persistentFlags := cmd.PersistentFlags()
	persistentFlags.StringP("config", "c", "", "path to YAML config file (defaults to ~/.config/quilld/"+DefaultConfigFileName+")")

	flags := cmd.Flags()
	flags.StringP("sites-dir", "d", "", "sites root directory (defaults to ~/"+quilld.DefaultSitesDir+")")
	flags.String("data-dir", "", "shared status/activity/worker-log directory (defaults to <sites-dir>/.quilld)")
	flags.StringP("listen", "l", "", "HTTP listen address for the streamable MCP transport (empty serves stdio)")
	flags.String("mcp-path", quilld.DefaultMCPPath, "HTTP path for the MCP endpoint when --listen is set")
	flags.String("client-name", "", "client name override (skips process-ancestry detection)")
	flags.StringSlice("worker-command", nil, "worker child command override (defaults to re-executing this binary)")
	flags.Duration("render-timeout", quilld.DefaultRenderTimeout, "hard timeout for one render worker run")
	flags.Duration("deploy-timeout", quilld.DefaultDeployTimeout, "hard timeout for one deploy worker run")
	flags.String("otlp-endpoint", "", "OTLP collector endpoint (e.g. grpc://localhost:4317)")
	flags.String("metrics-listen", quilld.DefaultMetricsListen, "metrics listen address (Prometheus scrape endpoint; empty disables)")
	flags.String("pprof-listen", quilld.DefaultPprofListen, "pprof listen address (debug/pprof endpoints; empty disables)")
	flags.Bool("enable-profiling-metrics", false, "enable Go runtime profiling metrics on the Prometheus endpoint")
	flags.String("log-level", "info", "log level (trace, debug, info, warn, error)")

	bindFlag := func(name string) {
		flag := flags.Lookup(name)
		if flag == nil {
			flag = persistentFlags.Lookup(name)
		}
		if flag == nil {
			panic(fmt.Sprintf("flag %q not found", name))
		}
		if err := viper.BindPFlag(name, flag); err != nil {
			panic(err)
		}
	}

	viper.SetEnvPrefix("QUILLD")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	names := []string{
		"config",
		"sites-dir", "data-dir", "listen", "mcp-path", "client-name", "worker-command",
		"render-timeout", "deploy-timeout",
		"otlp-endpoint", "metrics-listen", "pprof-listen", "enable-profiling-metrics",
		"log-level",
	}
	for _, name := range names {
		bindFlag(name)
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the MCP server (same as invoking quilld with no subcommand)",
		RunE:  runServe,
	})
	cmd.AddCommand(newWorkerCommand(baseLogger))
	cmd.AddCommand(newStatusCommand())
	cmd.AddCommand(newVersionCommand())

	return cmd
}

func bindConfig() (quilld.Config, error) {
	cfg := quilld.Config{
		SitesDir:               viper.GetString("sites-dir"),
		DataDir:                viper.GetString("data-dir"),
		Listen:                 viper.GetString("listen"),
		MCPPath:                viper.GetString("mcp-path"),
		ClientName:             viper.GetString("client-name"),
		WorkerCommand:          viper.GetStringSlice("worker-command"),
		RenderTimeout:          viper.GetDuration("render-timeout"),
		DeployTimeout:          viper.GetDuration("deploy-timeout"),
		OTLPEndpoint:           viper.GetString("otlp-endpoint"),
		MetricsListen:          viper.GetString("metrics-listen"),
		PprofListen:            viper.GetString("pprof-listen"),
		EnableProfilingMetrics: viper.GetBool("enable-profiling-metrics"),
	}
	if cfg.SitesDir != "" {
		expanded, err := expandPath(cfg.SitesDir)
		if err != nil {
			return quilld.Config{}, fmt.Errorf("expand sites dir: %w", err)
		}
		cfg.SitesDir = expanded
	}
	if cfg.DataDir != "" {
		expanded, err := expandPath(cfg.DataDir)
		if err != nil {
			return quilld.Config{}, fmt.Errorf("expand data dir: %w", err)
		}
		cfg.DataDir = expanded
	}
	return cfg, nil
}

func withSignalCancel(ctx context.Context) context.Context {
	ctx, cancel := context.WithCancel(ctx)
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(signals)
	}()
	return ctx
}
