package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/lacrioque/beads-web-ui/internal/daemon"
	"github.com/lacrioque/beads-web-ui/internal/issue"
)

// Queries is the read-side surface consumed by the API handlers. It is
// implemented by the relay orchestrator; every call is routed through the
// daemon multiplexer, so a down daemon surfaces as a typed error here
// rather than stale data.
type Queries interface {
	ListIssues(ctx context.Context, filter issue.Filter) ([]issue.Issue, error)
	GetIssue(ctx context.Context, id string) (*issue.Issue, error)
	GetStats(ctx context.Context) (*issue.Stats, error)
	GetReady(ctx context.Context) ([]issue.Issue, error)
	GetMutations(ctx context.Context, since issue.Cursor) ([]issue.MutationRecord, error)
	IsConnected() bool
	Status() StatusInfo
}

// StatusInfo is the /api/status payload.
type StatusInfo struct {
	Connected bool               `json:"connected"`
	State     string             `json:"state"`
	Cursor    issue.Cursor       `json:"cursor"`
	Observers int                `json:"observers"`
	Daemon    daemon.ProcessInfo `json:"daemon"`
}

type Server struct {
	queries        Queries
	hub            *Hub
	allowedOrigins map[string]bool
	allowedHosts   map[string]bool
	authToken      string
}

func NewServer(queries Queries, hub *Hub, allowedOrigins []string, authToken string) *Server {
	s := &Server{
		queries:        queries,
		hub:            hub,
		allowedOrigins: make(map[string]bool),
		allowedHosts:   make(map[string]bool),
		authToken:      authToken,
	}

	for _, origin := range allowedOrigins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		s.allowedOrigins[trimmed] = true
		if parsed, err := url.Parse(trimmed); err == nil && parsed.Host != "" {
			s.allowedHosts[parsed.Host] = true
		}
	}

	return s
}

func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/api/issues", s.handleIssues)
	mux.HandleFunc("/api/issues/", s.handleIssueByID)
	mux.HandleFunc("/api/stats", s.handleStats)
	mux.HandleFunc("/api/ready", s.handleReady)
	mux.HandleFunc("/api/mutations", s.handleMutations)
	mux.HandleFunc("/api/status", s.handleStatus)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: s.checkOrigin,
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ws] upgrade error: %v", err)
		return
	}

	if _, err := s.hub.AddObserver(conn); err != nil {
		log.Printf("[ws] rejecting %s: %v", r.RemoteAddr, err)
		conn.Close()
		return
	}
	log.Printf("[ws] observer connected: %s", r.RemoteAddr)
}

func (s *Server) handleIssues(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	filter := issue.FilterFromQuery(r.URL.Query())
	issues, err := s.queries.ListIssues(r.Context(), filter)
	if err != nil {
		writeQueryError(w, err)
		return
	}
	if issues == nil {
		issues = []issue.Issue{}
	}
	writeJSON(w, issues)
}

func (s *Server) handleIssueByID(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	id, err := url.PathUnescape(strings.TrimPrefix(r.URL.Path, "/api/issues/"))
	if err != nil || id == "" {
		http.Error(w, "invalid issue id", http.StatusBadRequest)
		return
	}

	is, err := s.queries.GetIssue(r.Context(), id)
	if err != nil {
		writeQueryError(w, err)
		return
	}
	if is == nil {
		http.Error(w, "issue not found", http.StatusNotFound)
		return
	}
	writeJSON(w, is)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	stats, err := s.queries.GetStats(r.Context())
	if err != nil {
		writeQueryError(w, err)
		return
	}
	writeJSON(w, stats)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	issues, err := s.queries.GetReady(r.Context())
	if err != nil {
		writeQueryError(w, err)
		return
	}
	if issues == nil {
		issues = []issue.Issue{}
	}
	writeJSON(w, issues)
}

func (s *Server) handleMutations(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var since issue.Cursor
	if v := r.URL.Query().Get("since"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			http.Error(w, "invalid cursor", http.StatusBadRequest)
			return
		}
		since = issue.Cursor(n)
	}

	records, err := s.queries.GetMutations(r.Context(), since)
	if err != nil {
		writeQueryError(w, err)
		return
	}
	if records == nil {
		records = []issue.MutationRecord{}
	}
	writeJSON(w, records)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	writeJSON(w, s.queries.Status())
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// writeQueryError maps daemon-side failures to HTTP statuses. While the
// daemon is unreachable the API reports that, never stale data.
func writeQueryError(w http.ResponseWriter, err error) {
	status := http.StatusBadGateway
	switch {
	case errors.Is(err, daemon.ErrNotConnected), errors.Is(err, daemon.ErrClientDisconnected):
		status = http.StatusServiceUnavailable
	case errors.Is(err, daemon.ErrRequestTimeout):
		status = http.StatusGatewayTimeout
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

func (s *Server) authorize(r *http.Request) bool {
	if s.authToken == "" {
		return true
	}

	if r.URL.Query().Get("token") == s.authToken {
		return true
	}

	if r.Header.Get("X-Beads-Web-Token") == s.authToken {
		return true
	}

	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == s.authToken {
		return true
	}

	return false
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	if len(s.allowedOrigins) > 0 {
		if s.allowedOrigins[origin] {
			return true
		}
		if parsed, err := url.Parse(origin); err == nil && parsed.Host != "" {
			return s.allowedHosts[parsed.Host]
		}
		return false
	}

	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}

	host := parsed.Host
	if host == "" {
		return false
	}

	if host == r.Host {
		return true
	}

	if strings.HasPrefix(host, "localhost:") || host == "localhost" {
		return true
	}
	if strings.HasPrefix(host, "127.0.0.1:") || host == "127.0.0.1" {
		return true
	}
	if strings.HasPrefix(host, "[::1]:") || host == "::1" {
		return true
	}

	return false
}

// securityHeaders wraps h with standard response hardening headers.
func securityHeaders(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-XSS-Protection", "1; mode=block")
		w.Header().Set("Content-Security-Policy", "default-src 'self'")
		h.ServeHTTP(w, r)
	})
}

func ListenAndServe(host string, port int, mux *http.ServeMux) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	log.Printf("Server listening on %s", addr)
	return http.ListenAndServe(addr, securityHeaders(mux))
}
