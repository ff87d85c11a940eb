package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/quillcms/quilld/internal/content"
	"github.com/quillcms/quilld/internal/deployer"
	"github.com/quillcms/quilld/internal/renderer"
	"github.com/quillcms/quilld/internal/svcfields"
	"github.com/quillcms/quilld/internal/worker"
	"pkt.systems/pslog"
)

// newWorkerCommand is the hidden child-process entrypoint spawned by the
// server's worker bridge. It speaks the one-JSON-document-per-line protocol
// on stdin/stdout and logs to stderr, which the parent captures.
func newWorkerCommand(baseLogger pslog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:    "worker <render|deploy>",
		Short:  "Run one render or deploy operation as a supervised child process",
		Hidden: true,
		Args:   cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind := worker.Kind(args[0])
			logger := svcfields.WithSubsystem(baseLogger, "worker."+args[0])
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			return runWorker(ctx, kind, os.Stdin, os.Stdout, logger)
		},
	}
}

// workerChannel wraps the stdio pair. All outbound writes go through one
// goroutine (the run loop), so no locking is needed.
type workerChannel struct {
	in  *bufio.Scanner
	out io.Writer
}

func newWorkerChannel(in io.Reader, out io.Writer) *workerChannel {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	return &workerChannel{in: scanner, out: out}
}

func (c *workerChannel) send(env worker.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode %s message: %w", env.Type, err)
	}
	data = append(data, '\n')
	_, err = c.out.Write(data)
	return err
}

// receive returns the next inbound message, or io.EOF when the parent has
// closed our stdin.
func (c *workerChannel) receive() (worker.Envelope, error) {
	for c.in.Scan() {
		line := c.in.Bytes()
		if len(line) == 0 {
			continue
		}
		var env worker.Envelope
		if err := json.Unmarshal(line, &env); err != nil {
			return worker.Envelope{}, fmt.Errorf("decode message: %w", err)
		}
		return env, nil
	}
	if err := c.in.Err(); err != nil {
		return worker.Envelope{}, err
	}
	return worker.Envelope{}, io.EOF
}

func runWorker(ctx context.Context, kind worker.Kind, in io.Reader, out io.Writer, logger pslog.Logger) error {
	ch := newWorkerChannel(in, out)

	first, err := ch.receive()
	if err != nil {
		return fmt.Errorf("read dependencies: %w", err)
	}
	if first.Type != worker.MsgDependencies || first.Deps == nil {
		return fmt.Errorf("expected %s message, got %q", worker.MsgDependencies, first.Type)
	}
	deps := *first.Deps
	logger.Debug("worker.dependencies", "kind", string(kind), "site", deps.Site)

	switch kind {
	case worker.KindRender:
		return runRenderWorker(ctx, ch, deps, logger)
	case worker.KindDeploy:
		return runDeployWorker(ctx, ch, deps, logger)
	default:
		return fmt.Errorf("unknown worker kind %q", kind)
	}
}

func runRenderWorker(ctx context.Context, ch *workerChannel, deps worker.Dependencies, logger pslog.Logger) error {
	if deps.Site == "" || deps.InputDir == "" {
		return fmt.Errorf("render dependencies incomplete")
	}
	// InputDir is <root>/<site>/input; walk back up to the sites root.
	root := filepath.Dir(filepath.Dir(deps.InputDir))
	store := content.NewStore(root)

	stats, err := renderer.New(store, deps.Site).Render(ctx, func(percent float64, message string) {
		if sendErr := ch.send(worker.Envelope{Type: worker.MsgProgress, Progress: percent, Message: message}); sendErr != nil {
			logger.Warn("worker.progress_send_failed", "error", sendErr)
		}
	})
	if err != nil {
		logger.Error("render failed", "site", deps.Site, "error", err)
		return ch.send(worker.Envelope{Type: worker.MsgResults, Error: err.Error()})
	}

	payload, err := json.Marshal(stats)
	if err != nil {
		return ch.send(worker.Envelope{Type: worker.MsgResults, Error: fmt.Sprintf("encode render stats: %v", err)})
	}
	logger.Info("render complete", "site", deps.Site, "posts", stats.Posts, "pages", stats.Pages, "media", stats.Media)
	return ch.send(worker.Envelope{Type: worker.MsgResults, Success: true, Payload: payload})
}

func runDeployWorker(ctx context.Context, ch *workerChannel, deps worker.Dependencies, logger pslog.Logger) error {
	if deps.Site == "" || deps.OutputDir == "" {
		return fmt.Errorf("deploy dependencies incomplete")
	}
	var deployCfg content.DeploymentConfig
	if len(deps.Target) > 0 {
		if err := json.Unmarshal(deps.Target, &deployCfg); err != nil {
			return ch.send(worker.Envelope{Type: worker.MsgUploaded, Error: fmt.Sprintf("decode deployment target: %v", err)})
		}
	}
	if deployCfg.Protocol == "" {
		deployCfg.Protocol = deps.Protocol
	}

	target, err := deployer.NewTarget(deployCfg)
	if err != nil {
		return ch.send(worker.Envelope{Type: worker.MsgUploaded, Error: err.Error()})
	}
	d := deployer.New(target)
	logger.Info("deploying", "site", deps.Site, "target", target.Description())

	remote, found, err := d.RemoteManifest(ctx)
	if err != nil {
		logger.Error("remote manifest fetch failed", "site", deps.Site, "error", err)
		return ch.send(worker.Envelope{Type: worker.MsgConnectionError, Message: err.Error()})
	}
	if !found {
		// Empty remote: could be a fresh target or the wrong one. Ask the
		// parent before syncing everything from scratch.
		if err := ch.send(worker.Envelope{Type: worker.MsgNoRemoteFiles}); err != nil {
			return err
		}
		reply, err := ch.receive()
		if err != nil {
			return fmt.Errorf("await sync confirmation: %w", err)
		}
		if reply.Type != worker.MsgContinueSync {
			return ch.send(worker.Envelope{Type: worker.MsgUploaded, Error: fmt.Sprintf("sync not confirmed (got %q)", reply.Type)})
		}
		remote = deployer.Manifest{}
	}

	stats, err := d.Sync(ctx, deps.OutputDir, remote, func(current, total int64) {
		if sendErr := ch.send(worker.Envelope{Type: worker.MsgUploadingProgress, Current: current, Total: total}); sendErr != nil {
			logger.Warn("worker.progress_send_failed", "error", sendErr)
		}
	})
	if err != nil {
		logger.Error("sync failed", "site", deps.Site, "error", err)
		return ch.send(worker.Envelope{Type: worker.MsgUploaded, Error: err.Error()})
	}

	payload, err := json.Marshal(stats)
	if err != nil {
		return ch.send(worker.Envelope{Type: worker.MsgUploaded, Error: fmt.Sprintf("encode sync stats: %v", err)})
	}
	logger.Info("deploy complete", "site", deps.Site,
		"uploaded", stats.Uploaded, "deleted", stats.Deleted, "skipped", stats.Skipped)
	return ch.send(worker.Envelope{Type: worker.MsgUploaded, Success: true, Payload: payload})
}
