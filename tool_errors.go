package quilld

import (
	"fmt"
	"strings"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// toolErrorResult renders a failure as the catalog's uniform error envelope:
// a single text content block "Error: <message>" with isError set. Handlers
// return it with a nil Go error so the SDK transmits the envelope verbatim
// instead of substituting its own error rendering.
func toolErrorResult(message string) *mcpsdk.CallToolResult {
	message = strings.TrimSpace(message)
	if message == "" {
		message = "unknown error"
	}
	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: "Error: " + message}},
		IsError: true,
	}
}

func toolErrorResultf(format string, args ...any) *mcpsdk.CallToolResult {
	return toolErrorResult(fmt.Sprintf(format, args...))
}

// workerErrorMessage builds the failure message for render/deploy runs:
// the worker's own error, a bounded tail of the captured log when one was
// recorded, and the absolute log paths for follow-up inspection.
func workerErrorMessage(action, detail, errorLog string, logFiles []string) string {
	var b strings.Builder
	b.WriteString(action)
	b.WriteString(" failed")
	if detail = strings.TrimSpace(detail); detail != "" {
		b.WriteString(": ")
		b.WriteString(detail)
	}
	if errorLog = strings.TrimSpace(errorLog); errorLog != "" {
		b.WriteString("\n\nLog tail:\n")
		b.WriteString(errorLog)
	}
	if len(logFiles) > 0 {
		b.WriteString("\n\nLog files: ")
		b.WriteString(strings.Join(logFiles, ", "))
	}
	return b.String()
}
