// Package clientname classifies the connecting client by inspecting the
// process ancestry of the server. MCP servers are spawned directly by the
// assistant client, so walking a few parents and matching executable names
// is usually enough. The whole strategy is best-effort: anything unmatched,
// and any platform where process metadata is unavailable, falls back to
// Unknown.
package clientname

import (
	"os"
	"strings"

	"github.com/shirou/gopsutil/v4/process"
)

// Known client labels.
const (
	ClaudeDesktop = "claude-desktop"
	ClaudeCode    = "claude-code"
	Cursor        = "cursor"
	VSCode        = "vscode"
	Windsurf      = "windsurf"
	Zed           = "zed"
	Unknown       = "unknown"
)

// maxAncestors caps how far up the process tree the walk goes. Clients
// usually sit one or two levels up; deeper matches are coincidence.
const maxAncestors = 6

// Detect returns a client label. override (typically an environment-supplied
// value) wins when non-empty.
func Detect(override string) string {
	if v := strings.TrimSpace(override); v != "" {
		return v
	}
	return classifyAncestry(int32(os.Getppid()))
}

func classifyAncestry(pid int32) string {
	for depth := 0; depth < maxAncestors && pid > 1; depth++ {
		proc, err := process.NewProcess(pid)
		if err != nil {
			return Unknown
		}
		name, err := proc.Name()
		if err == nil {
			if label, ok := ClassifyProcessName(name); ok {
				return label
			}
		}
		ppid, err := proc.Ppid()
		if err != nil || ppid == pid {
			break
		}
		pid = ppid
	}
	return Unknown
}

// ClassifyProcessName maps one executable name to a client label. The match
// is case-insensitive and substring-based because clients ship under
// platform-decorated names (Claude.exe, cursor-helper, Code - Insiders).
func ClassifyProcessName(name string) (string, bool) {
	n := strings.ToLower(strings.TrimSpace(name))
	switch {
	case n == "":
		return "", false
	case strings.Contains(n, "claude-code") || n == "claude":
		// The claude CLI runs as "claude"; the desktop app as "Claude".
		// Indistinguishable by name alone on some platforms, so the CLI
		// label wins for the bare name.
		return ClaudeCode, true
	case strings.Contains(n, "claude"):
		return ClaudeDesktop, true
	case strings.Contains(n, "cursor"):
		return Cursor, true
	case strings.Contains(n, "windsurf"):
		return Windsurf, true
	case strings.Contains(n, "code"):
		return VSCode, true
	case strings.Contains(n, "zed"):
		return Zed, true
	default:
		return "", false
	}
}
