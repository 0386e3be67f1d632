package daemon

import (
	"bufio"
	"encoding/json"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

// fakeDaemon is a scripted beads daemon on a temp-dir unix socket. The
// handler receives each decoded request together with a respond function,
// so tests can reply out of order, late, or not at all.
type fakeDaemon struct {
	t       *testing.T
	path    string
	ln      net.Listener
	handler func(req request, respond func(resp response))

	mu    sync.Mutex
	conns []net.Conn
}

func newFakeDaemon(t *testing.T, handler func(req request, respond func(resp response))) *fakeDaemon {
	t.Helper()

	path := filepath.Join(t.TempDir(), "beads.sock")
	ln, err := net.Listen("unix", path)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	d := &fakeDaemon{t: t, path: path, ln: ln, handler: handler}
	go d.acceptLoop()
	t.Cleanup(d.Close)
	return d
}

func (d *fakeDaemon) acceptLoop() {
	for {
		conn, err := d.ln.Accept()
		if err != nil {
			return
		}
		d.mu.Lock()
		d.conns = append(d.conns, conn)
		d.mu.Unlock()
		go d.serve(conn)
	}
}

func (d *fakeDaemon) serve(conn net.Conn) {
	var writeMu sync.Mutex
	respond := func(resp response) {
		data, err := json.Marshal(resp)
		if err != nil {
			d.t.Errorf("fake daemon marshal: %v", err)
			return
		}
		writeMu.Lock()
		defer writeMu.Unlock()
		conn.Write(append(data, '\n'))
	}

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var req request
		if err := json.Unmarshal(line, &req); err != nil {
			d.t.Errorf("fake daemon got malformed request: %v", err)
			continue
		}
		if d.handler != nil {
			d.handler(req, respond)
		}
	}
}

// waitConns blocks until at least n connections are registered. The
// accept loop registers asynchronously, so a test that writes raw bytes
// right after Connect must wait for the conn to land first.
func (d *fakeDaemon) waitConns(n int) {
	d.t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		d.mu.Lock()
		got := len(d.conns)
		d.mu.Unlock()
		if got >= n {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	d.t.Fatalf("fake daemon: %d connections never arrived", n)
}

// sendRaw writes arbitrary bytes (plus newline) on every live connection.
// Used to exercise malformed-frame handling.
func (d *fakeDaemon) sendRaw(data []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, conn := range d.conns {
		conn.Write(append(data, '\n'))
	}
}

// dropConns severs every live connection without stopping the listener,
// simulating a daemon restart.
func (d *fakeDaemon) dropConns() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, conn := range d.conns {
		conn.Close()
	}
	d.conns = nil
}

func (d *fakeDaemon) Close() {
	d.ln.Close()
	d.dropConns()
}

// okHandler replies success with the given data for every request.
func okHandler(data string) func(req request, respond func(resp response)) {
	return func(req request, respond func(resp response)) {
		respond(response{RequestID: req.RequestID, Success: true, Data: json.RawMessage(data)})
	}
}

// connectedTransport dials the fake daemon and fails the test if it cannot.
func connectedTransport(t *testing.T, d *fakeDaemon) *Transport {
	t.Helper()
	tr := NewTransport(d.path, 10*time.Millisecond, 100*time.Millisecond, 5)
	if err := tr.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(tr.Close)
	return tr
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}
