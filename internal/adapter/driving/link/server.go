package link

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/ericfisherdev/mytotp/internal/domain/port/driven"
)

// Registry tracks the active outbox; *application.OutboxProvider implements it.
type Registry interface {
	Replace(outbox driven.Outbox) driven.Outbox
	Detach(outbox driven.Outbox) bool
}

// Config holds the link limits and the pairing token.
type Config struct {
	Token         string
	MaxFrameBytes int64
	InboundRate   float64
	InboundBurst  int
}

// Server accepts controller connections on a websocket endpoint. At most one
// link is active; a newly authenticated link replaces the previous one.
type Server struct {
	cfg      Config
	device   Submitter
	registry Registry
	upgrader websocket.Upgrader
	logger   *slog.Logger

	mu      sync.Mutex
	current *Link
	wg      sync.WaitGroup
}

// NewServer creates a link Server.
func NewServer(device Submitter, registry Registry, cfg Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:      cfg,
		device:   device,
		registry: registry,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		logger: logger,
	}
}

// ServeHTTP authenticates the request, upgrades it, and serves the link until
// it closes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		s.logger.Warn("link rejected: invalid or missing token", "remote", r.RemoteAddr)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("link upgrade failed", "error", err)
		return
	}

	l := newLink(uuid.New().String(), conn,
		rate.NewLimiter(rate.Limit(s.cfg.InboundRate), s.cfg.InboundBurst), s.logger)

	s.mu.Lock()
	prev := s.current
	s.current = l
	s.registry.Replace(l)
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	if prev != nil {
		s.logger.Info("controller link replaced", "previous_link_id", prev.ID())
		prev.Close()
	}
	s.logger.Info("controller linked", "link_id", l.ID(), "remote", r.RemoteAddr)

	go l.writePump()
	l.readPump(r.Context(), s.device, s.cfg.MaxFrameBytes)

	s.registry.Detach(l)
	s.mu.Lock()
	if s.current == l {
		s.current = nil
	}
	s.mu.Unlock()
	s.logger.Info("controller unlinked", "link_id", l.ID())
}

// Connected reports whether a controller link is active.
func (s *Server) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current != nil
}

// Close closes the active link and waits for its handler to return.
// http.Server.Shutdown does not track hijacked connections, so callers
// invoke Close during shutdown.
func (s *Server) Close() {
	s.mu.Lock()
	current := s.current
	s.mu.Unlock()

	if current != nil {
		current.Close()
	}
	s.wg.Wait()
}

func (s *Server) authorized(r *http.Request) bool {
	if s.cfg.Token == "" {
		return false
	}
	token := extractBearerToken(r)
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.Token)) == 1
}

// extractBearerToken returns the token from an "Authorization: Bearer <token>"
// header, or "" when absent.
func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(auth) < len(prefix) || !strings.EqualFold(auth[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(auth[len(prefix):])
}
