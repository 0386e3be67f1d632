// Package relay wires the daemon client, mutation poller, and observer
// hub into one explicitly-constructed unit with an init/teardown
// lifecycle. Nothing here is a singleton; tests build as many relays as
// they like.
package relay

import (
	"context"
	"log"
	"sync"

	"github.com/lacrioque/beads-web-ui/internal/config"
	"github.com/lacrioque/beads-web-ui/internal/daemon"
	"github.com/lacrioque/beads-web-ui/internal/issue"
	"github.com/lacrioque/beads-web-ui/internal/poller"
	"github.com/lacrioque/beads-web-ui/internal/ws"
)

type Relay struct {
	cfg       *config.Config
	transport *daemon.Transport
	client    *daemon.Client
	poller    *poller.Poller
	hub       *ws.Hub

	closeOnce sync.Once
}

// New constructs a relay from cfg. The daemon is not dialed until Start.
func New(cfg *config.Config) *Relay {
	transport := daemon.NewTransport(
		cfg.Daemon.SocketPath,
		cfg.Daemon.ReconnectBase,
		cfg.Daemon.ReconnectMax,
		cfg.Daemon.MaxReconnectAttempts,
	)
	client := daemon.NewClient(transport, cfg.Daemon.RequestTimeout)
	hub := ws.NewHub(cfg.WS.PingInterval, cfg.WS.PongTimeout, cfg.WS.MaxConnections)
	p := poller.New(client, cfg.Poll.Interval)

	r := &Relay{
		cfg:       cfg,
		transport: transport,
		client:    client,
		poller:    p,
		hub:       hub,
	}

	// Mutation batches fan out to every observer as one envelope.
	p.OnBatch(func(records []issue.MutationRecord) {
		delivered := hub.Broadcast(ws.NewMutationEnvelope(records))
		log.Printf("[relay] broadcast %d mutations to %d observers", len(records), delivered)
	})

	transport.OnStateChange(func(state daemon.State, err error) {
		switch state {
		case daemon.StateConnected:
			log.Printf("[relay] daemon connected (%s)", cfg.Daemon.SocketPath)
			p.Nudge()
		case daemon.StateDisconnected:
			if err != nil {
				log.Printf("[relay] daemon disconnected: %v", err)
			}
		}
	})

	return r
}

// Hub exposes the observer hub for the HTTP server's /ws handler.
func (r *Relay) Hub() *ws.Hub { return r.hub }

// Start dials the daemon and starts the poll loop. A failed initial dial
// is reported but not fatal: polling simply no-ops until a later Connect
// succeeds.
func (r *Relay) Start() error {
	err := r.transport.Connect()
	r.poller.Start()
	return err
}

// Connect retries the daemon dial, resuming reconnect attempts after the
// backoff budget was exhausted.
func (r *Relay) Connect() error {
	return r.transport.Connect()
}

// Close tears the relay down: poller first so no new calls are issued,
// then the hub, then the transport (which fails any in-flight calls).
// Idempotent.
func (r *Relay) Close() {
	r.closeOnce.Do(func() {
		r.poller.Stop()
		r.hub.Close()
		r.transport.Close()
	})
}

// Read-side query surface, delegated to the multiplexer.

func (r *Relay) ListIssues(ctx context.Context, filter issue.Filter) ([]issue.Issue, error) {
	return r.client.ListIssues(ctx, filter)
}

func (r *Relay) GetIssue(ctx context.Context, id string) (*issue.Issue, error) {
	return r.client.GetIssue(ctx, id)
}

func (r *Relay) GetStats(ctx context.Context) (*issue.Stats, error) {
	return r.client.GetStats(ctx)
}

func (r *Relay) GetReady(ctx context.Context) ([]issue.Issue, error) {
	return r.client.GetReady(ctx)
}

func (r *Relay) GetMutations(ctx context.Context, since issue.Cursor) ([]issue.MutationRecord, error) {
	return r.client.GetMutations(ctx, since)
}

func (r *Relay) IsConnected() bool {
	return r.client.IsConnected()
}

func (r *Relay) Status() ws.StatusInfo {
	return ws.StatusInfo{
		Connected: r.client.IsConnected(),
		State:     r.transport.State().String(),
		Cursor:    r.poller.Cursor(),
		Observers: r.hub.ObserverCount(),
		Daemon:    daemon.FindDaemonProcess(r.cfg.Daemon.ProcessName),
	}
}
