package main

import (
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/lacrioque/beads-web-ui/internal/config"
	"github.com/lacrioque/beads-web-ui/internal/relay"
	"github.com/lacrioque/beads-web-ui/internal/ws"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to config file")
	port := flag.Int("port", 0, "Override server port")
	socket := flag.String("socket", "", "Override daemon socket path")
	flag.Parse()

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if *port > 0 {
		cfg.Server.Port = *port
	}
	if *socket != "" {
		cfg.Daemon.SocketPath = *socket
	}

	r := relay.New(cfg)
	defer r.Close()

	if err := r.Start(); err != nil {
		// The daemon may simply not be up yet; polling stays quiet and
		// the transport reconnects once it appears.
		log.Printf("Daemon not reachable yet: %v", err)
	}

	server := ws.NewServer(r, r.Hub(), cfg.Server.AllowedOrigins, cfg.Server.AuthToken)
	mux := http.NewServeMux()
	server.SetupRoutes(mux)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("Shutting down...")
		r.Close()
		os.Exit(0)
	}()

	if err := ws.ListenAndServe(cfg.Server.Host, cfg.Server.Port, mux); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}
