// Package quilld is the MCP server for Quill, a file-system static-site CMS.
// It exposes a fixed catalog of content-management tools (sites, posts,
// pages, tags, menus, media, render, deploy) to AI-assistant clients over
// stdio or streamable HTTP.
//
// Concurrent tool calls arrive on independent goroutines; every write tool
// is funneled through one in-process FIFO queue so at most one mutation runs
// at a time, with an advisory lock published to a shared status file that a
// companion GUI process can observe. Render and deploy run as supervised
// child processes with progress relay, per-kind timeouts, and log capture.
package quilld
