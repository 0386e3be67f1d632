package issue

import "time"

// Cursor is the watermark used to ask the daemon for "everything after
// here". The daemon assigns each mutation a monotonically increasing
// sequence id; a cursor of 0 means "from the beginning".
type Cursor int64

type MutationKind string

const (
	MutationCreated    MutationKind = "created"
	MutationUpdated    MutationKind = "updated"
	MutationClosed     MutationKind = "closed"
	MutationDeleted    MutationKind = "deleted"
	MutationDepAdded   MutationKind = "dep_added"
	MutationDepRemoved MutationKind = "dep_removed"
)

// MutationRecord is one recorded change in the daemon. Records are
// immutable facts; the relay never rewrites them, only forwards them.
type MutationRecord struct {
	Seq       Cursor       `json:"seq"`
	Kind      MutationKind `json:"kind"`
	IssueID   string       `json:"issue_id"`
	Timestamp time.Time    `json:"timestamp"`
}

// MaxSeq returns the highest sequence id in records, or cur when records
// is empty. Used to advance the poll cursor after a successful batch.
func MaxSeq(cur Cursor, records []MutationRecord) Cursor {
	for _, r := range records {
		if r.Seq > cur {
			cur = r.Seq
		}
	}
	return cur
}
