package worker

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"
)

// helperBridge builds a Bridge whose worker command re-executes this test
// binary into TestHelperProcess, with the scenario selected via environment.
func helperBridge(t *testing.T, scenario string, opts ...func(*Config)) *Bridge {
	t.Helper()
	t.Setenv("WORKER_HELPER_SCENARIO", scenario)
	cfg := Config{
		Command:       []string{os.Args[0], "-test.run=TestHelperProcess", "--"},
		LogDir:        t.TempDir(),
		RenderTimeout: 5 * time.Second,
		DeployTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return New(cfg, nil)
}

func TestHelperProcess(t *testing.T) {
	if os.Getenv("WORKER_HELPER_SCENARIO") == "" {
		return
	}
	defer os.Exit(0)

	in := bufio.NewScanner(os.Stdin)
	out := json.NewEncoder(os.Stdout)
	emit := func(e Envelope) {
		_ = out.Encode(e)
	}
	readEnvelope := func() (Envelope, bool) {
		for in.Scan() {
			var e Envelope
			if json.Unmarshal(in.Bytes(), &e) == nil {
				return e, true
			}
		}
		return Envelope{}, false
	}

	// Every scenario starts by consuming the dependencies message.
	deps, ok := readEnvelope()
	if !ok || deps.Type != MsgDependencies || deps.Deps == nil {
		fmt.Fprintln(os.Stderr, "helper: missing dependencies message")
		os.Exit(3)
	}

	switch os.Getenv("WORKER_HELPER_SCENARIO") {
	case "success":
		emit(Envelope{Type: MsgProgress, Progress: 40, Message: "rendering"})
		emit(Envelope{Type: MsgProgress, Progress: 90, Message: "almost"})
		emit(Envelope{Type: MsgResults, Success: true, Payload: json.RawMessage(`{"pages":3}`)})
	case "double-terminal":
		emit(Envelope{Type: MsgResults, Success: true, Payload: json.RawMessage(`{"first":true}`)})
		emit(Envelope{Type: MsgConnectionError, Message: "late failure"})
	case "connection-error":
		emit(Envelope{Type: MsgUploadingProgress, Current: 2, Total: 10})
		fmt.Fprintln(os.Stderr, "dial tcp: connection refused")
		emit(Envelope{Type: MsgConnectionError, Message: "could not reach deployment target"})
	case "silent-exit":
		fmt.Fprintln(os.Stderr, "worker finished quietly")
	case "crash":
		fmt.Fprintln(os.Stderr, "fatal: disk on fire")
		os.Exit(2)
	case "hang":
		emit(Envelope{Type: MsgProgress, Progress: 25, Message: "stuck"})
		time.Sleep(time.Minute)
	case "first-sync":
		emit(Envelope{Type: MsgNoRemoteFiles})
		reply, ok := readEnvelope()
		if !ok || reply.Type != MsgContinueSync {
			emit(Envelope{Type: MsgConnectionError, Message: "no continue-sync reply"})
			return
		}
		emit(Envelope{Type: MsgUploadingProgress, Current: 5, Total: 5})
		emit(Envelope{Type: MsgUploaded, Payload: json.RawMessage(`{"files":5}`)})
	}
}

func TestRunRelaysProgressAndResults(t *testing.T) {
	b := helperBridge(t, "success")
	var progress []Progress
	res, err := b.Run(context.Background(), KindRender, Dependencies{Site: "demo"}, func(p Progress) {
		progress = append(progress, p)
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}
	if string(res.Payload) != `{"pages":3}` {
		t.Fatalf("expected payload from results message, got %s", res.Payload)
	}
	if len(progress) != 2 || progress[0].Percent != 40 || progress[1].Percent != 90 {
		t.Fatalf("expected two progress reports (40, 90), got %+v", progress)
	}
}

func TestRunIdempotentSettlement(t *testing.T) {
	b := helperBridge(t, "double-terminal")
	res, err := b.Run(context.Background(), KindDeploy, Dependencies{Site: "demo"}, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !res.Success {
		t.Fatalf("expected first terminal message to win, got %+v", res)
	}
	if string(res.Payload) != `{"first":true}` {
		t.Fatalf("expected first message payload, got %s", res.Payload)
	}
}

func TestRunConnectionErrorCapturesLogTail(t *testing.T) {
	b := helperBridge(t, "connection-error")
	res, err := b.Run(context.Background(), KindDeploy, Dependencies{Site: "demo"}, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Success {
		t.Fatalf("expected failure, got %+v", res)
	}
	if res.Error != "could not reach deployment target" {
		t.Fatalf("unexpected error: %q", res.Error)
	}
	if !strings.Contains(res.ErrorLog, "connection refused") {
		t.Fatalf("expected stderr tail in error log, got %q", res.ErrorLog)
	}
	if len(res.LogFiles) != 1 {
		t.Fatalf("expected one log file, got %v", res.LogFiles)
	}
}

func TestRunSilentCleanExitIsImplicitSuccess(t *testing.T) {
	b := helperBridge(t, "silent-exit")
	res, err := b.Run(context.Background(), KindRender, Dependencies{Site: "demo"}, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !res.Success {
		t.Fatalf("expected implicit success on clean silent exit, got %+v", res)
	}
}

func TestRunNonzeroExitIsFailure(t *testing.T) {
	b := helperBridge(t, "crash")
	res, err := b.Run(context.Background(), KindRender, Dependencies{Site: "demo"}, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Success {
		t.Fatalf("expected failure on nonzero exit, got %+v", res)
	}
	if !strings.Contains(res.Error, "exited abnormally") {
		t.Fatalf("unexpected error: %q", res.Error)
	}
	if !strings.Contains(res.ErrorLog, "disk on fire") {
		t.Fatalf("expected stderr tail, got %q", res.ErrorLog)
	}
}

func TestRunTimeoutKillsWorker(t *testing.T) {
	b := helperBridge(t, "hang", func(c *Config) {
		c.DeployTimeout = 500 * time.Millisecond
	})
	started := time.Now()
	res, err := b.Run(context.Background(), KindDeploy, Dependencies{Site: "demo"}, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Success {
		t.Fatalf("expected timeout failure, got %+v", res)
	}
	if !strings.Contains(res.Error, "timed out") {
		t.Fatalf("expected timeout message, got %q", res.Error)
	}
	if res.Percent != 25 {
		t.Fatalf("expected last known progress 25, got %v", res.Percent)
	}
	if elapsed := time.Since(started); elapsed > 5*time.Second {
		t.Fatalf("timeout enforcement took too long: %v", elapsed)
	}
}

func TestRunFirstSyncNegotiation(t *testing.T) {
	b := helperBridge(t, "first-sync")
	var progress []Progress
	res, err := b.Run(context.Background(), KindDeploy, Dependencies{Site: "demo"}, func(p Progress) {
		progress = append(progress, p)
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !res.Success {
		t.Fatalf("expected first sync to continue and succeed, got %+v", res)
	}
	if len(progress) != 1 || progress[0].Percent != 100 {
		t.Fatalf("expected uploading progress 5/5 => 100%%, got %+v", progress)
	}
}

func TestRunProgressCallbackPanicIsSwallowed(t *testing.T) {
	b := helperBridge(t, "success")
	res, err := b.Run(context.Background(), KindRender, Dependencies{Site: "demo"}, func(Progress) {
		panic("observer bug")
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !res.Success {
		t.Fatalf("expected operation to survive panicking progress callback, got %+v", res)
	}
}
