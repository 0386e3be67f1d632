package issue

import (
	"net/url"
	"strconv"
	"time"
)

type Status string

const (
	StatusOpen       Status = "open"
	StatusInProgress Status = "in_progress"
	StatusBlocked    Status = "blocked"
	StatusClosed     Status = "closed"
)

// Issue is one tracked work item as reported by the beads daemon.
type Issue struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Status      Status    `json:"status"`
	Priority    int       `json:"priority"`
	IssueType   string    `json:"issue_type,omitempty"`
	Assignee    string    `json:"assignee,omitempty"`
	Labels      []string  `json:"labels,omitempty"`
	BlockedBy   []string  `json:"blocked_by,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Filter narrows a list_issues query. Zero values mean "no constraint";
// Priority is a pointer so priority 0 remains expressible.
type Filter struct {
	Status    Status `json:"status,omitempty"`
	Assignee  string `json:"assignee,omitempty"`
	IssueType string `json:"issue_type,omitempty"`
	Priority  *int   `json:"priority,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}

// Matches reports whether is satisfies every constraint set on f.
// Limit is a result-size cap, not a per-issue predicate, and is ignored here.
func (f Filter) Matches(is Issue) bool {
	if f.Status != "" && is.Status != f.Status {
		return false
	}
	if f.Assignee != "" && is.Assignee != f.Assignee {
		return false
	}
	if f.IssueType != "" && is.IssueType != f.IssueType {
		return false
	}
	if f.Priority != nil && is.Priority != *f.Priority {
		return false
	}
	return true
}

// FilterFromQuery builds a Filter from HTTP query parameters. Unknown
// params are ignored; a non-numeric priority or limit is ignored too.
func FilterFromQuery(q url.Values) Filter {
	f := Filter{
		Status:    Status(q.Get("status")),
		Assignee:  q.Get("assignee"),
		IssueType: q.Get("type"),
	}
	if v := q.Get("priority"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			f.Priority = &p
		}
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			f.Limit = n
		}
	}
	return f
}

// Stats is the daemon's aggregate view of the tracker.
type Stats struct {
	Total      int         `json:"total"`
	Open       int         `json:"open"`
	InProgress int         `json:"in_progress"`
	Blocked    int         `json:"blocked"`
	Closed     int         `json:"closed"`
	Ready      int         `json:"ready"`
	ByPriority map[int]int `json:"by_priority,omitempty"`
}
