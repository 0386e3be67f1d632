package daemon

import (
	"errors"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestConnectIdempotent(t *testing.T) {
	d := newFakeDaemon(t, nil)
	tr := connectedTransport(t, d)

	if err := tr.Connect(); err != nil {
		t.Fatalf("second Connect should be a no-op success, got %v", err)
	}
	if got := tr.State(); got != StateConnected {
		t.Errorf("state = %v, want connected", got)
	}
}

func TestConnectUnreachable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.sock")
	tr := NewTransport(path, 10*time.Millisecond, 50*time.Millisecond, 1)
	defer tr.Close()

	err := tr.Connect()
	if err == nil {
		t.Fatal("Connect to a missing socket should fail")
	}
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect = %v, want ErrConnectionFailed", err)
	}
	if tr.IsConnected() {
		t.Error("transport should not report connected")
	}
}

// TestLateDialAfterClose covers a dial that completes after Close: the
// conn must be discarded, not installed as a live stream.
func TestLateDialAfterClose(t *testing.T) {
	d := newFakeDaemon(t, nil)
	tr := NewTransport(d.path, 10*time.Millisecond, 100*time.Millisecond, 5)
	tr.Close()

	conn, err := net.Dial("unix", d.path)
	if err != nil {
		t.Fatal(err)
	}
	tr.install(conn)

	if tr.IsConnected() {
		t.Fatal("closed transport came back connected")
	}
	if tr.State() != StateDisconnected {
		t.Errorf("state = %v, want disconnected", tr.State())
	}

	// The discarded conn was closed; a write on it must fail.
	waitFor(t, time.Second, func() bool {
		_, err := conn.Write([]byte("x\n"))
		return err != nil
	}, "late conn was not closed")
}

func TestBackoffDelayClamped(t *testing.T) {
	tr := NewTransport(filepath.Join(t.TempDir(), "x.sock"), time.Second, 30*time.Second, 0)

	if got := tr.backoffDelay(0); got != time.Second {
		t.Errorf("delay(0) = %v, want 1s", got)
	}
	if got := tr.backoffDelay(3); got != 8*time.Second {
		t.Errorf("delay(3) = %v, want 8s", got)
	}
	// Beyond the cap the delay pins to max, including attempt counts
	// that would overflow the shift under unlimited retries.
	for _, attempts := range []int{5, 33, 64, 1000} {
		if got := tr.backoffDelay(attempts); got != 30*time.Second {
			t.Errorf("delay(%d) = %v, want 30s cap", attempts, got)
		}
	}
}

func TestWriteFrameNotConnected(t *testing.T) {
	tr := NewTransport(filepath.Join(t.TempDir(), "x.sock"), 0, 0, 1)
	if err := tr.WriteFrame([]byte(`{}`)); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("WriteFrame while disconnected = %v, want ErrNotConnected", err)
	}
}

func TestReconnectAfterDrop(t *testing.T) {
	d := newFakeDaemon(t, nil)

	var mu sync.Mutex
	var transitions []State
	tr := NewTransport(d.path, 10*time.Millisecond, 100*time.Millisecond, 5)
	tr.OnStateChange(func(s State, err error) {
		mu.Lock()
		transitions = append(transitions, s)
		mu.Unlock()
	})
	if err := tr.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer tr.Close()

	d.waitConns(1)
	d.dropConns()

	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		// connecting, connected, disconnected, then connected again
		return len(transitions) >= 4 && transitions[len(transitions)-1] == StateConnected
	}, "transport did not reconnect after drop")

	if !tr.IsConnected() {
		t.Error("transport should be connected after redial")
	}
}

func TestNoReconnectAfterClose(t *testing.T) {
	d := newFakeDaemon(t, nil)
	tr := connectedTransport(t, d)

	tr.Close()
	waitFor(t, time.Second, func() bool {
		return tr.State() == StateDisconnected
	}, "transport did not settle disconnected after Close")

	// Give a would-be redial time to fire, then confirm it never did.
	time.Sleep(100 * time.Millisecond)
	if tr.State() != StateDisconnected {
		t.Errorf("state after Close = %v, want disconnected", tr.State())
	}

	// Close is safe to repeat.
	tr.Close()
}

func TestGiveUpAfterMaxAttempts(t *testing.T) {
	d := newFakeDaemon(t, nil)
	tr := NewTransport(d.path, 5*time.Millisecond, 20*time.Millisecond, 2)
	if err := tr.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer tr.Close()

	// Take the daemon away entirely so every redial fails.
	d.Close()
	d.dropConns()

	waitFor(t, 2*time.Second, func() bool {
		return tr.State() == StateDisconnected
	}, "transport did not give up")

	time.Sleep(100 * time.Millisecond)
	if tr.State() != StateDisconnected {
		t.Errorf("state after give-up = %v, want disconnected", tr.State())
	}

	// An explicit Connect resumes attempts; with the socket gone it fails
	// but must not panic or wedge.
	if err := tr.Connect(); err == nil {
		t.Error("Connect with daemon gone should fail")
	}
}

func TestFrameDelivery(t *testing.T) {
	d := newFakeDaemon(t, nil)

	var mu sync.Mutex
	var frames []string
	tr := NewTransport(d.path, 10*time.Millisecond, 100*time.Millisecond, 5)
	tr.SetFrameHandler(func(frame []byte) {
		mu.Lock()
		frames = append(frames, string(frame))
		mu.Unlock()
	})
	if err := tr.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer tr.Close()

	d.waitConns(1)
	d.sendRaw([]byte(`{"a":1}`))
	d.sendRaw([]byte(`not json at all`))
	d.sendRaw([]byte(`{"b":2}`))

	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(frames) == 3
	}, "frames not delivered")

	mu.Lock()
	defer mu.Unlock()
	// The transport frames lines; parsing (and rejecting) is the
	// handler's business. A garbage line must not break later frames.
	if frames[0] != `{"a":1}` || frames[1] != `not json at all` || frames[2] != `{"b":2}` {
		t.Errorf("frames = %q", frames)
	}
}

func TestPartialFrameBuffering(t *testing.T) {
	// Write one frame in two raw chunks with no delimiter between them;
	// the reader must coalesce and deliver a single frame.
	path := filepath.Join(t.TempDir(), "beads.sock")
	ln, err := net.Listen("unix", path)
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	connCh := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			connCh <- conn
		}
	}()

	var mu sync.Mutex
	var frames []string
	tr := NewTransport(path, 10*time.Millisecond, 100*time.Millisecond, 5)
	tr.SetFrameHandler(func(frame []byte) {
		mu.Lock()
		frames = append(frames, string(frame))
		mu.Unlock()
	})
	if err := tr.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer tr.Close()

	conn := <-connCh
	defer conn.Close()

	conn.Write([]byte(`{"hal`))
	time.Sleep(20 * time.Millisecond)
	conn.Write([]byte("f\":true}\n"))

	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(frames) == 1
	}, "split frame not delivered")

	mu.Lock()
	defer mu.Unlock()
	if frames[0] != `{"half":true}` {
		t.Errorf("frame = %q", frames[0])
	}
}
