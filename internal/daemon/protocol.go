package daemon

import "encoding/json"

// Wire format: one JSON object per line in both directions. The field
// names below are pinned to the beads daemon's socket protocol; changing
// them is a protocol-version bump, not a tuning knob.

type request struct {
	Operation string      `json:"operation"`
	Args      interface{} `json:"args,omitempty"`
	RequestID string      `json:"request_id"`
}

type response struct {
	RequestID string          `json:"request_id"`
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// Operation names understood by the daemon.
const (
	opListIssues   = "list_issues"
	opGetIssue     = "get_issue"
	opGetStats     = "get_stats"
	opGetReady     = "get_ready"
	opGetMutations = "get_mutations"
)
