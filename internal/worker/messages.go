package worker

import "encoding/json"

// Message types exchanged with the worker child over its stdio channel, one
// JSON document per line.
//
// Parent to child: a single "dependencies" message up front carrying
// everything the worker needs, and "continue-sync" replying to a
// "no-remote-files" negotiation.
//
// Child to parent: "progress" and "uploading-progress" while working, then
// exactly one terminal message: "results", "uploaded", or
// "connection-error". "no-remote-files" is the one non-terminal negotiation
// message (first sync against an empty remote).
const (
	MsgDependencies      = "dependencies"
	MsgContinueSync      = "continue-sync"
	MsgProgress          = "progress"
	MsgUploadingProgress = "uploading-progress"
	MsgResults           = "results"
	MsgUploaded          = "uploaded"
	MsgConnectionError   = "connection-error"
	MsgNoRemoteFiles     = "no-remote-files"
)

// Envelope is the wire shape of every channel message. Unused fields stay
// empty; Type selects which ones carry meaning.
type Envelope struct {
	Type string `json:"type"`

	// dependencies
	Deps *Dependencies `json:"deps,omitempty"`

	// progress
	Progress float64 `json:"progress,omitempty"`
	Message  string  `json:"message,omitempty"`

	// uploading-progress
	Current int64 `json:"current,omitempty"`
	Total   int64 `json:"total,omitempty"`

	// results / uploaded / connection-error
	Success bool            `json:"success,omitempty"`
	Error   string          `json:"error,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Dependencies is the single up-front context message for a worker run. No
// further input is streamed after it (continue-sync excepted).
type Dependencies struct {
	Kind      Kind   `json:"kind"`
	Site      string `json:"site"`
	InputDir  string `json:"inputDir"`
	OutputDir string `json:"outputDir"`

	// Deployment target; interpreted by the deploy worker only.
	Protocol string          `json:"protocol,omitempty"`
	Target   json.RawMessage `json:"target,omitempty"`
}
