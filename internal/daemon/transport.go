package daemon

import (
	"bufio"
	"bytes"
	"fmt"
	"log"
	"net"
	"sync"
	"time"
)

type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// StateListener observes transport lifecycle transitions. err is non-nil
// only for Disconnected transitions caused by a stream failure.
type StateListener func(state State, err error)

// FrameHandler receives one complete newline-delimited frame, without the
// trailing newline. The slice is only valid for the duration of the call.
type FrameHandler func(frame []byte)

// Transport owns the single persistent unix-socket stream to the beads
// daemon. It reads newline-delimited frames and hands them to the frame
// handler, and redials with exponential backoff after an unexpected close.
type Transport struct {
	socketPath  string
	base        time.Duration
	max         time.Duration
	maxAttempts int

	writeMu sync.Mutex // serializes frame writes onto the stream

	mu        sync.Mutex
	conn      net.Conn
	state     State
	attempts  int
	redialer  *time.Timer
	closed    bool
	onFrame   FrameHandler
	listeners []StateListener
}

func NewTransport(socketPath string, base, max time.Duration, maxAttempts int) *Transport {
	if base <= 0 {
		base = time.Second
	}
	if max <= 0 {
		max = 30 * time.Second
	}
	return &Transport{
		socketPath:  socketPath,
		base:        base,
		max:         max,
		maxAttempts: maxAttempts,
	}
}

// SetFrameHandler must be called before Connect.
func (t *Transport) SetFrameHandler(fn FrameHandler) {
	t.mu.Lock()
	t.onFrame = fn
	t.mu.Unlock()
}

// OnStateChange registers a lifecycle listener. Listeners are invoked
// outside the transport lock, in registration order.
func (t *Transport) OnStateChange(fn StateListener) {
	t.mu.Lock()
	t.listeners = append(t.listeners, fn)
	t.mu.Unlock()
}

func (t *Transport) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Transport) IsConnected() bool {
	return t.State() == StateConnected
}

// Connect dials the daemon socket. Calling while already connected is a
// no-op success. An explicit Connect also resumes retrying after the
// backoff attempts were exhausted: the attempt counter starts fresh.
func (t *Transport) Connect() error {
	t.mu.Lock()
	if t.state == StateConnected {
		t.mu.Unlock()
		return nil
	}
	// An explicit connect supersedes any pending redial.
	if t.redialer != nil {
		t.redialer.Stop()
		t.redialer = nil
	}
	t.closed = false
	t.attempts = 0
	t.state = StateConnecting
	t.mu.Unlock()
	t.notify(StateConnecting, nil)

	conn, err := net.DialTimeout("unix", t.socketPath, 5*time.Second)
	if err != nil {
		// Keep retrying in the background on the same backoff schedule
		// used after an unexpected close; the caller still learns the
		// first dial failed.
		t.mu.Lock()
		if !t.closed {
			t.scheduleRedialLocked()
		}
		armed := t.redialer != nil
		if !armed {
			t.state = StateDisconnected
		}
		t.mu.Unlock()
		if !armed {
			t.notify(StateDisconnected, err)
		}
		return fmt.Errorf("%w: %s: %v", ErrConnectionFailed, t.socketPath, err)
	}

	if !t.install(conn) {
		return fmt.Errorf("%w: %s: closed while dialing", ErrConnectionFailed, t.socketPath)
	}
	return nil
}

// install records conn as the live stream and starts its read loop. A
// dial that completes after Close must not resurrect the transport: the
// conn is discarded, the transport stays down, and install reports false.
func (t *Transport) install(conn net.Conn) bool {
	t.mu.Lock()
	if t.closed {
		t.state = StateDisconnected
		t.mu.Unlock()
		conn.Close()
		return false
	}
	if t.conn != nil {
		t.conn.Close()
	}
	t.conn = conn
	t.state = StateConnected
	t.attempts = 0
	t.mu.Unlock()
	t.notify(StateConnected, nil)
	go t.readLoop(conn)
	return true
}

// WriteFrame writes one frame followed by the line delimiter. Concurrent
// writers are serialized so frames never interleave on the stream.
func (t *Transport) WriteFrame(frame []byte) error {
	t.mu.Lock()
	conn := t.conn
	connected := t.state == StateConnected
	t.mu.Unlock()
	if !connected || conn == nil {
		return ErrNotConnected
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if _, err := conn.Write(append(frame, '\n')); err != nil {
		return fmt.Errorf("daemon: write: %w", err)
	}
	return nil
}

// Close shuts the stream down and cancels any pending redial. Safe to call
// multiple times. The read loop observes the closed socket and performs the
// normal disconnect sweep without scheduling a reconnect.
func (t *Transport) Close() {
	t.mu.Lock()
	if t.closed && t.conn == nil {
		t.mu.Unlock()
		return
	}
	t.closed = true
	if t.redialer != nil {
		t.redialer.Stop()
		t.redialer = nil
	}
	conn := t.conn
	wasIdle := conn == nil && t.state != StateDisconnected
	if wasIdle {
		t.state = StateDisconnected
	}
	t.mu.Unlock()

	if conn != nil {
		conn.Close() // readLoop exits and fires the Disconnected sweep
	} else if wasIdle {
		t.notify(StateDisconnected, nil)
	}
}

func (t *Transport) readLoop(conn net.Conn) {
	reader := bufio.NewReader(conn)
	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			frame := bytes.TrimRight(line, "\r\n")
			if len(frame) > 0 {
				t.mu.Lock()
				handler := t.onFrame
				t.mu.Unlock()
				if handler != nil {
					handler(frame)
				}
			}
		}
		if err != nil {
			t.handleDisconnect(conn, err)
			return
		}
	}
}

// handleDisconnect runs the disconnect transition for conn. A stale call
// (conn already replaced by a redial) is ignored.
func (t *Transport) handleDisconnect(conn net.Conn, cause error) {
	t.mu.Lock()
	if t.conn != conn {
		t.mu.Unlock()
		return
	}
	t.conn = nil
	t.state = StateDisconnected
	conn.Close()
	explicit := t.closed
	if !explicit {
		t.scheduleRedialLocked()
	}
	t.mu.Unlock()

	if explicit {
		cause = nil
	} else {
		log.Printf("[daemon] stream lost: %v", cause)
	}
	t.notify(StateDisconnected, cause)
}

// scheduleRedialLocked arms the next reconnect attempt. Caller holds t.mu.
func (t *Transport) scheduleRedialLocked() {
	if t.maxAttempts > 0 && t.attempts >= t.maxAttempts {
		log.Printf("[daemon] giving up after %d reconnect attempts; call Connect to retry", t.attempts)
		return
	}
	delay := t.backoffDelay(t.attempts)
	t.attempts++
	t.state = StateConnecting
	t.redialer = time.AfterFunc(delay, t.redial)
	log.Printf("[daemon] reconnect attempt %d in %v", t.attempts, delay)
}

// backoffDelay returns the redial delay for the given attempt count.
// The shift is clamped so an unlimited-retry configuration cannot
// overflow the duration and collapse into a hot redial loop.
func (t *Transport) backoffDelay(attempts int) time.Duration {
	delay := t.base << min(attempts, 16)
	if delay > t.max || delay <= 0 {
		delay = t.max
	}
	return delay
}

func (t *Transport) redial() {
	t.mu.Lock()
	if t.closed || t.state != StateConnecting {
		t.mu.Unlock()
		return
	}
	t.redialer = nil
	t.mu.Unlock()

	conn, err := net.DialTimeout("unix", t.socketPath, 5*time.Second)
	if err != nil {
		log.Printf("[daemon] redial failed: %v", err)
		t.mu.Lock()
		if !t.closed {
			t.scheduleRedialLocked()
			armed := t.redialer != nil
			if !armed {
				t.state = StateDisconnected
			}
			t.mu.Unlock()
			if !armed {
				t.notify(StateDisconnected, err)
			}
			return
		}
		t.state = StateDisconnected
		t.mu.Unlock()
		return
	}

	t.install(conn)
}

func (t *Transport) notify(state State, err error) {
	t.mu.Lock()
	listeners := make([]StateListener, len(t.listeners))
	copy(listeners, t.listeners)
	t.mu.Unlock()
	for _, fn := range listeners {
		fn(state, err)
	}
}
