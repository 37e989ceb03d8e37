package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/padlink/backend/internal/controller"
	"github.com/padlink/backend/internal/device"
	"github.com/padlink/backend/internal/metrics"
	"github.com/padlink/backend/internal/monitor"
	"github.com/padlink/backend/internal/router"
	"github.com/padlink/backend/internal/session"
)

// maxFrameSize bounds one inbound frame. Input frames are tiny.
const maxFrameSize = 4096

type Options struct {
	Mode           device.Mode
	AllowedOrigins []string
	// FrontendDir is served from disk when Dev is set; otherwise Static is
	// used when non-nil.
	FrontendDir string
	Dev         bool
	Static      http.Handler
}

// Server bridges WebSocket clients to the session registry, the controllers
// and the event router.
type Server struct {
	opts           Options
	registry       *session.Registry
	factory        controller.Factory
	router         *router.Router
	broadcaster    *Broadcaster
	guard          *monitor.ResourceGuard
	log            zerolog.Logger
	allowedOrigins map[string]bool
	allowedHosts   map[string]bool
	sessions       sync.WaitGroup
}

// NewServer wires the transport. guard may be nil, in which case the health
// endpoint reports no resource data.
func NewServer(opts Options, registry *session.Registry, factory controller.Factory, rt *router.Router, broadcaster *Broadcaster, guard *monitor.ResourceGuard, log zerolog.Logger) *Server {
	s := &Server{
		opts:           opts,
		registry:       registry,
		factory:        factory,
		router:         rt,
		broadcaster:    broadcaster,
		guard:          guard,
		log:            log,
		allowedOrigins: make(map[string]bool),
		allowedHosts:   make(map[string]bool),
	}

	for _, origin := range opts.AllowedOrigins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		s.allowedOrigins[trimmed] = true
		if parsed, err := url.Parse(trimmed); err == nil && parsed.Host != "" {
			s.allowedHosts[parsed.Host] = true
		}
	}

	registry.OnChange(s.onSessionCount)
	return s
}

func (s *Server) onSessionCount(total, max int) {
	metrics.SessionsActive.Set(float64(total))
	s.broadcaster.Broadcast(WSMessage{
		Type:    MsgSessionCount,
		Payload: SessionCountPayload{Total: total, Max: max},
	})
}

func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/api/sessions", s.handleSessions)
	mux.HandleFunc("/api/health", s.handleHealth)
	mux.Handle("/metrics", metrics.Handler())

	if s.opts.Dev && s.opts.FrontendDir != "" {
		s.log.Info().Str("dir", s.opts.FrontendDir).Msg("serving frontend from filesystem")
		mux.Handle("/", http.FileServer(http.Dir(s.opts.FrontendDir)))
	} else if s.opts.Static != nil {
		s.log.Info().Msg("serving embedded frontend")
		mux.Handle("/", s.opts.Static)
	}
}

// Handler returns every route behind the security headers.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.SetupRoutes(mux)
	return securityHeaders(mux)
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-XSS-Protection", "1; mode=block")
		h.Set("Content-Security-Policy", "default-src 'self'")
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		CheckOrigin: s.checkOrigin,
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug().Err(err).Str("remote", r.RemoteAddr).Msg("ws upgrade failed")
		return
	}

	sess, err := s.registry.Admit(r.RemoteAddr)
	if err != nil {
		reason, result := ReasonCapacity, metrics.ResultCapacity
		if errors.Is(err, session.ErrResourcesExhausted) {
			reason, result = ReasonResources, metrics.ResultResources
		}
		metrics.Admissions.WithLabelValues(result).Inc()
		s.log.Info().Err(err).Str("remote", r.RemoteAddr).Msg("connection rejected")
		s.reject(conn, reason)
		return
	}

	log := s.log.With().Str("session", sess.ID).Int("slot", sess.Slot).Logger()
	ctrl, err := s.factory(log)
	if err != nil {
		s.registry.Release(sess.ID)
		metrics.Admissions.WithLabelValues(metrics.ResultDevice).Inc()
		log.Error().Err(err).Msg("device attach failed")
		s.reject(conn, ReasonDevice)
		return
	}
	metrics.Admissions.WithLabelValues(metrics.ResultAdmitted).Inc()
	s.sessions.Add(1)

	c := s.broadcaster.AddClient(conn)
	ack := func(v controller.Vibration) {
		s.broadcaster.SendTo(c, vibrateMessage(v.Intensity, v.Duration))
	}
	if err := s.router.Attach(sess.ID, ctrl, ack); err != nil {
		log.Error().Err(err).Msg("router attach failed")
		ctrl.Close()
		s.broadcaster.RemoveClient(c)
		s.registry.Release(sess.ID)
		s.sessions.Done()
		return
	}

	s.broadcaster.SendTo(c, WSMessage{
		Type: MsgConnected,
		Payload: ConnectedPayload{
			SessionID:     sess.ID,
			Slot:          sess.Slot,
			TotalSessions: s.registry.Count(),
			MaxSessions:   s.registry.Max(),
			Mode:          string(s.opts.Mode),
		},
	})
	log.Info().Str("remote", r.RemoteAddr).Msg("session connected")

	go s.serve(conn, c, sess, ctrl, log)
}

// serve reads frames until the connection drops or the device is lost, then
// tears the session down: stop routing, force the controller neutral and
// detach it, drop the client, free the slot.
func (s *Server) serve(conn *websocket.Conn, c *client, sess *session.Session, ctrl controller.Controller, log zerolog.Logger) {
	defer s.sessions.Done()

	done := make(chan struct{})
	go func() {
		select {
		case <-ctrl.Lost():
			log.Warn().Msg("virtual device lost, closing session")
			conn.Close()
		case <-done:
		}
	}()

	defer func() {
		close(done)
		s.router.Detach(sess.ID)
		ctrl.Close()
		s.broadcaster.RemoveClient(c)
		s.registry.Release(sess.ID)
		log.Info().Msg("session disconnected")
	}()

	conn.SetReadLimit(maxFrameSize)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		ev, err := DecodeEvent(data)
		if err != nil {
			metrics.EventsDropped.WithLabelValues(metrics.DropInvalid).Inc()
			log.Debug().Err(err).Msg("ignoring frame")
			continue
		}
		if err := s.router.Dispatch(sess.ID, ev); err != nil {
			log.Debug().Err(err).Str("event", ev.Kind.String()).Msg("event dropped")
		}
	}
}

// reject tells the client why it was refused and closes the connection. It
// runs before any writer goroutine exists for conn.
func (s *Server) reject(conn *websocket.Conn, reason string) {
	defer conn.Close()
	conn.SetWriteDeadline(time.Now().Add(closeTimeout))
	err := conn.WriteJSON(WSMessage{
		Type: MsgConnectionRejected,
		Payload: ConnectionRejectedPayload{
			Reason:        reason,
			TotalSessions: s.registry.Count(),
			MaxSessions:   s.registry.Max(),
		},
	})
	if err != nil {
		return
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason),
		time.Now().Add(closeTimeout))
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.registry.Snapshot())
}

type healthResponse struct {
	Mode        string          `json:"mode"`
	Sessions    int             `json:"sessions"`
	MaxSessions int             `json:"maxSessions"`
	Clients     int             `json:"clients"`
	Goroutines  int             `json:"goroutines"`
	Resources   *monitor.Health `json:"resources,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Mode:        string(s.opts.Mode),
		Sessions:    s.registry.Count(),
		MaxSessions: s.registry.Max(),
		Clients:     s.broadcaster.ClientCount(),
		Goroutines:  runtime.NumGoroutine(),
	}
	status := http.StatusOK
	if s.guard != nil {
		h := s.guard.Health()
		resp.Resources = &h
		if h.Status == monitor.StatusFailed {
			status = http.StatusServiceUnavailable
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
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

// Shutdown disconnects every client and waits until their sessions are torn
// down, so every virtual device is back at neutral.
func (s *Server) Shutdown(ctx context.Context) error {
	s.broadcaster.CloseAll()
	done := make(chan struct{})
	go func() {
		s.sessions.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
