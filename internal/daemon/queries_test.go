package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/lacrioque/beads-web-ui/internal/issue"
)

// scriptedDaemon answers each operation with a fixed raw payload.
func scriptedDaemon(t *testing.T, payloads map[string]string) *fakeDaemon {
	return newFakeDaemon(t, func(req request, respond func(resp response)) {
		payload, ok := payloads[req.Operation]
		if !ok {
			respond(response{RequestID: req.RequestID, Success: false, Error: "unknown operation"})
			return
		}
		respond(response{RequestID: req.RequestID, Success: true, Data: json.RawMessage(payload)})
	})
}

func TestListIssues(t *testing.T) {
	d := scriptedDaemon(t, map[string]string{
		"list_issues": `[
			{"id":"bd-1","title":"first","status":"open","priority":1,
			 "created_at":"2026-08-01T10:00:00Z","updated_at":"2026-08-02T09:00:00Z"},
			{"id":"bd-2","title":"second","status":"closed","priority":2,
			 "created_at":"2026-08-01T11:00:00Z","updated_at":"2026-08-03T12:00:00Z"}
		]`,
	})
	c := newTestClient(t, d, time.Second)

	issues, err := c.ListIssues(context.Background(), issue.Filter{})
	if err != nil {
		t.Fatalf("ListIssues: %v", err)
	}
	if len(issues) != 2 {
		t.Fatalf("got %d issues, want 2", len(issues))
	}
	if issues[0].ID != "bd-1" || issues[0].Status != issue.StatusOpen {
		t.Errorf("issues[0] = %+v", issues[0])
	}
	if issues[1].ID != "bd-2" || issues[1].Status != issue.StatusClosed {
		t.Errorf("issues[1] = %+v", issues[1])
	}
}

func TestGetIssueNull(t *testing.T) {
	d := scriptedDaemon(t, map[string]string{"get_issue": `null`})
	c := newTestClient(t, d, time.Second)

	is, err := c.GetIssue(context.Background(), "bd-404")
	if err != nil {
		t.Fatalf("GetIssue: %v", err)
	}
	if is != nil {
		t.Errorf("GetIssue on missing id = %+v, want nil", is)
	}
}

func TestGetStats(t *testing.T) {
	d := scriptedDaemon(t, map[string]string{
		"get_stats": `{"total":10,"open":4,"in_progress":2,"blocked":1,"closed":3,"ready":3,
		              "by_priority":{"0":1,"1":5,"2":4}}`,
	})
	c := newTestClient(t, d, time.Second)

	stats, err := c.GetStats(context.Background())
	if err != nil {
		t.Fatalf("GetStats: %v", err)
	}
	if stats.Total != 10 || stats.Ready != 3 {
		t.Errorf("stats = %+v", stats)
	}
	if stats.ByPriority[1] != 5 {
		t.Errorf("ByPriority = %v", stats.ByPriority)
	}
}

func TestGetMutations(t *testing.T) {
	d := scriptedDaemon(t, map[string]string{
		"get_mutations": `[
			{"seq":5,"kind":"created","issue_id":"bd-7","timestamp":"2026-08-04T08:00:00Z"},
			{"seq":6,"kind":"updated","issue_id":"bd-7","timestamp":"2026-08-04T08:01:00Z"}
		]`,
	})
	c := newTestClient(t, d, time.Second)

	records, err := c.GetMutations(context.Background(), 0)
	if err != nil {
		t.Fatalf("GetMutations: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
	if records[0].Seq != 5 || records[0].Kind != issue.MutationCreated {
		t.Errorf("records[0] = %+v", records[0])
	}
	if records[1].Seq != 6 || records[1].IssueID != "bd-7" {
		t.Errorf("records[1] = %+v", records[1])
	}
}

func TestGetMutationsEmpty(t *testing.T) {
	d := scriptedDaemon(t, map[string]string{"get_mutations": `null`})
	c := newTestClient(t, d, time.Second)

	records, err := c.GetMutations(context.Background(), 42)
	if err != nil {
		t.Fatalf("GetMutations: %v", err)
	}
	if records != nil {
		t.Errorf("records = %v, want nil", records)
	}
}

// TestDecodeMismatch feeds a payload of the wrong shape; the typed layer
// must reject it as MalformedMessageError instead of passing it through.
func TestDecodeMismatch(t *testing.T) {
	d := scriptedDaemon(t, map[string]string{
		"list_issues":   `{"not":"an array"}`,
		"get_stats":     `[1,2,3]`,
		"get_mutations": `"zap"`,
	})
	c := newTestClient(t, d, time.Second)

	var malformed *MalformedMessageError

	if _, err := c.ListIssues(context.Background(), issue.Filter{}); !errors.As(err, &malformed) {
		t.Errorf("ListIssues = %v, want MalformedMessageError", err)
	}
	if _, err := c.GetStats(context.Background()); !errors.As(err, &malformed) {
		t.Errorf("GetStats = %v, want MalformedMessageError", err)
	}
	if _, err := c.GetMutations(context.Background(), 0); !errors.As(err, &malformed) {
		t.Errorf("GetMutations = %v, want MalformedMessageError", err)
	}
}
