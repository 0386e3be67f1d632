package poller

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/lacrioque/beads-web-ui/internal/issue"
)

// Querier is the slice of the daemon client the poller needs. Narrowed to
// an interface so tests can script mutation batches without a socket.
type Querier interface {
	IsConnected() bool
	GetMutations(ctx context.Context, since issue.Cursor) ([]issue.MutationRecord, error)
}

// BatchListener receives each non-empty poll result as one batch.
type BatchListener func(records []issue.MutationRecord)

// RecordListener receives every mutation record individually, in batch order.
type RecordListener func(record issue.MutationRecord)

// Poller periodically asks the daemon for mutations after its cursor and
// fans non-empty results out to listeners. Polls never overlap: the single
// loop goroutine only waits for the next tick after the previous call has
// settled. Poll failures are logged and retried on the next tick; the
// daemon restarting underneath us is an expected condition, not a reason
// to stop.
type Poller struct {
	client   Querier
	interval time.Duration

	mu       sync.Mutex
	cursor   issue.Cursor
	running  bool
	stop     chan struct{}
	done     chan struct{}
	nudge    chan struct{}
	onBatch  []BatchListener
	onRecord []RecordListener
}

func New(client Querier, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Poller{
		client:   client,
		interval: interval,
	}
}

// OnBatch registers a whole-batch listener. Register before Start.
func (p *Poller) OnBatch(fn BatchListener) {
	p.mu.Lock()
	p.onBatch = append(p.onBatch, fn)
	p.mu.Unlock()
}

// OnRecord registers a per-record listener. Register before Start.
func (p *Poller) OnRecord(fn RecordListener) {
	p.mu.Lock()
	p.onRecord = append(p.onRecord, fn)
	p.mu.Unlock()
}

// Cursor returns the current watermark.
func (p *Poller) Cursor() issue.Cursor {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cursor
}

// SetCursor resets the watermark. Intended for tests and explicit replay.
func (p *Poller) SetCursor(c issue.Cursor) {
	p.mu.Lock()
	p.cursor = c
	p.mu.Unlock()
}

// Start launches the poll loop: one immediate poll, then one per interval.
// Calling Start while running is a no-op with a warning.
func (p *Poller) Start() {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		log.Printf("[poller] already running, ignoring Start")
		return
	}
	p.running = true
	p.stop = make(chan struct{})
	p.done = make(chan struct{})
	p.nudge = make(chan struct{}, 1)
	stop, done, nudge := p.stop, p.done, p.nudge
	p.mu.Unlock()

	go p.loop(stop, done, nudge)
}

// Stop cancels the poll schedule and waits for the loop to exit. Safe to
// call when already stopped.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	stop, done := p.stop, p.done
	p.mu.Unlock()

	close(stop)
	<-done
}

// Nudge requests an immediate poll ahead of the next tick, used when the
// transport reconnects. Coalesces: at most one pending nudge.
func (p *Poller) Nudge() {
	p.mu.Lock()
	nudge := p.nudge
	p.mu.Unlock()
	if nudge == nil {
		return
	}
	select {
	case nudge <- struct{}{}:
	default:
	}
}

func (p *Poller) loop(stop <-chan struct{}, done chan<- struct{}, nudge <-chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.poll()

	for {
		select {
		case <-stop:
			return
		case <-nudge:
			p.poll()
		case <-ticker.C:
			p.poll()
		}
	}
}

// poll performs one cursor-based mutation query. Skipped entirely while
// the transport is down; that is a cheap no-op, not an error.
func (p *Poller) poll() {
	if !p.client.IsConnected() {
		return
	}

	since := p.Cursor()
	records, err := p.client.GetMutations(context.Background(), since)
	if err != nil {
		log.Printf("[poller] poll failed (cursor=%d): %v", since, err)
		return
	}
	if len(records) == 0 {
		return
	}

	p.mu.Lock()
	p.cursor = issue.MaxSeq(p.cursor, records)
	batchFns := make([]BatchListener, len(p.onBatch))
	copy(batchFns, p.onBatch)
	recordFns := make([]RecordListener, len(p.onRecord))
	copy(recordFns, p.onRecord)
	p.mu.Unlock()

	log.Printf("[poller] %d mutations, cursor %d -> %d", len(records), since, p.Cursor())

	for _, fn := range batchFns {
		fn(records)
	}
	for _, r := range records {
		for _, fn := range recordFns {
			fn(r)
		}
	}
}
