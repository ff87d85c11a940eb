// Package worker supervises the render and deploy child processes. The
// bridge spawns the worker, feeds it one dependencies message, relays its
// progress stream upstream, enforces a hard per-kind timeout, and captures
// stderr to a per-kind log file for postmortem. Failures are returned as
// values, not errors: the caller needs the structured detail (log tail, log
// paths, last progress) to build a useful error message, and an error return
// would lose it.
package worker

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"pkt.systems/pslog"
)

// Kind selects the worker operation.
type Kind string

// Worker kinds.
const (
	KindRender Kind = "render"
	KindDeploy Kind = "deploy"
)

// Default hard timeouts per kind.
const (
	DefaultRenderTimeout = 5 * time.Minute
	DefaultDeployTimeout = 10 * time.Minute
)

// DefaultLogTailBytes bounds how much captured stderr is copied into a
// failure result.
const DefaultLogTailBytes = 4096

// Config controls bridge behavior.
type Config struct {
	// Command is the argv prefix used to spawn the worker; the kind is
	// appended as the final argument. Defaults to re-executing the current
	// binary with its worker subcommand.
	Command []string
	// LogDir receives per-kind worker log files.
	LogDir string
	// RenderTimeout / DeployTimeout override the hard per-kind timeouts.
	RenderTimeout time.Duration
	DeployTimeout time.Duration
	// LogTailBytes overrides DefaultLogTailBytes.
	LogTailBytes int
}

// Progress is one normalized progress report.
type Progress struct {
	Percent float64
	Total   float64
	Message string
}

// Result is the settled outcome of one worker run.
type Result struct {
	Success  bool
	Error    string
	ErrorLog string
	LogFiles []string
	// Percent is the last progress seen before settlement; meaningful on
	// timeout failures.
	Percent float64
	// Payload carries the terminal message's payload, if any.
	Payload json.RawMessage
}

// Bridge runs worker child processes.
type Bridge struct {
	cfg    Config
	logger pslog.Logger
}

// New returns a Bridge. A nil logger disables bridge logging.
func New(cfg Config, logger pslog.Logger) *Bridge {
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	if len(cfg.Command) == 0 {
		if exe, err := os.Executable(); err == nil {
			cfg.Command = []string{exe, "worker"}
		}
	}
	if cfg.RenderTimeout <= 0 {
		cfg.RenderTimeout = DefaultRenderTimeout
	}
	if cfg.DeployTimeout <= 0 {
		cfg.DeployTimeout = DefaultDeployTimeout
	}
	if cfg.LogTailBytes <= 0 {
		cfg.LogTailBytes = DefaultLogTailBytes
	}
	return &Bridge{cfg: cfg, logger: logger}
}

func (b *Bridge) timeoutFor(kind Kind) time.Duration {
	if kind == KindDeploy {
		return b.cfg.DeployTimeout
	}
	return b.cfg.RenderTimeout
}

// LogPath returns the stderr capture file for kind.
func (b *Bridge) LogPath(kind Kind) string {
	return filepath.Join(b.cfg.LogDir, string(kind)+".log")
}

// Run executes one worker operation to settlement. onProgress may be nil;
// when set, it is invoked for every progress message, and a panicking
// callback is swallowed: progress reporting must never take the operation
// down. The returned error is reserved for spawn-level problems (bad
// command, unwritable log dir); everything after a successful spawn settles
// through Result.
func (b *Bridge) Run(ctx context.Context, kind Kind, deps Dependencies, onProgress func(Progress)) (Result, error) {
	if len(b.cfg.Command) == 0 {
		return Result{}, fmt.Errorf("worker command not configured")
	}
	logPath, err := b.rotateLog(kind)
	if err != nil {
		return Result{}, err
	}
	logFile, err := os.Create(logPath)
	if err != nil {
		return Result{}, fmt.Errorf("create worker log: %w", err)
	}
	defer logFile.Close()

	argv := append(append([]string{}, b.cfg.Command...), string(kind))
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Stderr = logFile

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return Result{}, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Result{}, fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return Result{}, fmt.Errorf("start worker: %w", err)
	}
	b.logger.Debug("worker.started", "kind", string(kind), "site", deps.Site, "pid", cmd.Process.Pid)

	deps.Kind = kind
	if err := writeMessage(stdin, Envelope{Type: MsgDependencies, Deps: &deps}); err != nil {
		b.logger.Warn("worker.dependencies_send_failed", "kind", string(kind), "error", err)
	}

	messages := make(chan Envelope)
	go readMessages(stdout, messages)
	// The reader goroutine must never stay blocked on a send once the
	// bridge has returned.
	defer func() { go drain(messages) }()

	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	timeout := b.timeoutFor(kind)
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	started := time.Now()

	var (
		settled     bool
		settledRes  Result
		lastPercent float64
	)
	settle := func(r Result) {
		// First terminal message wins; later ones are ignored.
		if settled {
			return
		}
		settled = true
		r.Percent = lastPercent
		r.LogFiles = []string{logPath}
		settledRes = r
	}

	msgCh := messages
	for {
		select {
		case msg, ok := <-msgCh:
			if !ok {
				msgCh = nil
				continue
			}
			switch msg.Type {
			case MsgProgress:
				lastPercent = msg.Progress
				b.reportProgress(onProgress, Progress{Percent: msg.Progress, Total: 100, Message: msg.Message})
			case MsgUploadingProgress:
				if msg.Total > 0 {
					lastPercent = float64(msg.Current) / float64(msg.Total) * 100
				}
				b.reportProgress(onProgress, Progress{
					Percent: lastPercent,
					Total:   float64(msg.Total),
					Message: fmt.Sprintf("uploading %d/%d", msg.Current, msg.Total),
				})
			case MsgNoRemoteFiles:
				// First sync against an empty remote: tell the worker to
				// continue rather than treating the ambiguity as failure.
				b.logger.Info("worker.first_sync", "kind", string(kind), "site", deps.Site)
				if err := writeMessage(stdin, Envelope{Type: MsgContinueSync}); err != nil {
					b.logger.Warn("worker.continue_sync_failed", "kind", string(kind), "error", err)
				}
			case MsgResults, MsgUploaded:
				if msg.Error != "" {
					settle(Result{Success: false, Error: msg.Error, ErrorLog: b.logTail(logPath), Payload: msg.Payload})
					continue
				}
				// A bare results message counts as success; the success
				// flag is advisory.
				settle(Result{Success: true, Payload: msg.Payload})
			case MsgConnectionError:
				settle(Result{
					Success:  false,
					Error:    nonEmpty(msg.Message, msg.Error, "connection error"),
					ErrorLog: b.logTail(logPath),
					Payload:  msg.Payload,
				})
			default:
				b.logger.Trace("worker.message.unknown", "kind", string(kind), "type", msg.Type)
			}

		case err := <-waitCh:
			stdin.Close()
			if settled {
				return settledRes, nil
			}
			if err == nil {
				// Clean exit without a terminal message is treated as
				// implicit success, matching the worker's historical
				// behavior; a worker dying silently after partial work
				// would be indistinguishable here.
				b.logger.Debug("worker.implicit_success", "kind", string(kind), "site", deps.Site)
				settle(Result{Success: true})
				return settledRes, nil
			}
			settle(Result{
				Success:  false,
				Error:    fmt.Sprintf("worker exited abnormally: %v", err),
				ErrorLog: b.logTail(logPath),
			})
			return settledRes, nil

		case <-timer.C:
			elapsed := time.Since(started).Round(time.Second)
			b.logger.Warn("worker.timeout", "kind", string(kind), "site", deps.Site, "elapsed", elapsed.String())
			_ = cmd.Process.Kill()
			stdin.Close()
			<-waitCh
			settle(Result{
				Success:  false,
				Error:    fmt.Sprintf("%s timed out after %s", kind, elapsed),
				ErrorLog: b.logTail(logPath),
			})
			return settledRes, nil
		}

		// Both pipes drained and settled: wait for exit via waitCh branch.
		if msgCh == nil && settled {
			stdin.Close()
			err := <-waitCh
			_ = err
			return settledRes, nil
		}
	}
}

func (b *Bridge) reportProgress(onProgress func(Progress), p Progress) {
	if onProgress == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			b.logger.Warn("worker.progress_callback_panic", "panic", fmt.Sprint(r))
		}
	}()
	onProgress(p)
}

// rotateLog keeps one previous log per kind.
func (b *Bridge) rotateLog(kind Kind) (string, error) {
	if err := os.MkdirAll(b.cfg.LogDir, 0o755); err != nil {
		return "", fmt.Errorf("create log dir: %w", err)
	}
	path := b.LogPath(kind)
	if _, err := os.Stat(path); err == nil {
		_ = os.Rename(path, path+".old")
	}
	return path, nil
}

func (b *Bridge) logTail(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return ""
	}
	n := int64(b.cfg.LogTailBytes)
	offset := int64(0)
	if info.Size() > n {
		offset = info.Size() - n
	}
	buf := make([]byte, info.Size()-offset)
	if _, err := f.ReadAt(buf, offset); err != nil && err != io.EOF {
		return ""
	}
	return string(buf)
}

func writeMessage(w io.Writer, msg Envelope) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	_, err = w.Write(append(raw, '\n'))
	return err
}

func readMessages(r io.Reader, out chan<- Envelope) {
	defer close(out)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var msg Envelope
		if err := json.Unmarshal(line, &msg); err != nil {
			// Workers occasionally print stray diagnostics to stdout;
			// skip anything that is not a channel message.
			continue
		}
		out <- msg
	}
}

func drain(ch <-chan Envelope) {
	for range ch {
	}
}

func nonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
