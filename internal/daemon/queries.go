package daemon

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/lacrioque/beads-web-ui/internal/issue"
)

// Typed query surface over the multiplexer. Each operation decodes the
// response payload into its expected schema; a payload that does not fit
// is rejected as a MalformedMessageError instead of being passed through.

func (c *Client) ListIssues(ctx context.Context, filter issue.Filter) ([]issue.Issue, error) {
	data, err := c.Call(ctx, opListIssues, filter)
	if err != nil {
		return nil, err
	}
	var issues []issue.Issue
	if err := decode(opListIssues, data, &issues); err != nil {
		return nil, err
	}
	return issues, nil
}

// GetIssue returns nil without error when the daemon reports no issue
// with the given id.
func (c *Client) GetIssue(ctx context.Context, id string) (*issue.Issue, error) {
	data, err := c.Call(ctx, opGetIssue, map[string]string{"id": id})
	if err != nil {
		return nil, err
	}
	if isNull(data) {
		return nil, nil
	}
	var is issue.Issue
	if err := decode(opGetIssue, data, &is); err != nil {
		return nil, err
	}
	return &is, nil
}

func (c *Client) GetStats(ctx context.Context) (*issue.Stats, error) {
	data, err := c.Call(ctx, opGetStats, nil)
	if err != nil {
		return nil, err
	}
	var stats issue.Stats
	if err := decode(opGetStats, data, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// GetReady lists issues whose dependencies are all resolved.
func (c *Client) GetReady(ctx context.Context) ([]issue.Issue, error) {
	data, err := c.Call(ctx, opGetReady, nil)
	if err != nil {
		return nil, err
	}
	var issues []issue.Issue
	if err := decode(opGetReady, data, &issues); err != nil {
		return nil, err
	}
	return issues, nil
}

// GetMutations returns all mutations strictly after the cursor, oldest
// first. A nil slice means nothing new.
func (c *Client) GetMutations(ctx context.Context, since issue.Cursor) ([]issue.MutationRecord, error) {
	data, err := c.Call(ctx, opGetMutations, map[string]issue.Cursor{"since": since})
	if err != nil {
		return nil, err
	}
	if isNull(data) {
		return nil, nil
	}
	var records []issue.MutationRecord
	if err := decode(opGetMutations, data, &records); err != nil {
		return nil, err
	}
	return records, nil
}

func decode(op string, data json.RawMessage, v interface{}) error {
	if isNull(data) {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return &MalformedMessageError{Op: op, Cause: err}
	}
	return nil
}

func isNull(data json.RawMessage) bool {
	return len(data) == 0 || bytes.Equal(bytes.TrimSpace(data), []byte("null"))
}
