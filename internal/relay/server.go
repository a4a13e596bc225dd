// Package relay bridges client websocket connections onto upstream
// streaming AI sessions, one upstream session per client.
package relay

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"liverelay/internal/logging"
	"liverelay/internal/metrics"
	"liverelay/internal/ports"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  16 * 1024,
	WriteBufferSize: 16 * 1024,
	// the relay fronts a local browser client; origin policy is not
	// enforced here
	CheckOrigin: func(*http.Request) bool { return true },
}

// Server accepts client connections and runs one relay session each.
type Server struct {
	provider       ports.UpstreamProvider
	conversational bool
	metrics        *metrics.Metrics
	analysis       http.Handler
}

// NewServer builds a relay server. The analysis handler is mounted under
// /api and may be nil.
func NewServer(provider ports.UpstreamProvider, conversational bool, m *metrics.Metrics, analysis http.Handler) *Server {
	if m == nil {
		m = metrics.Default
	}
	return &Server{
		provider:       provider,
		conversational: conversational,
		metrics:        m,
		analysis:       analysis,
	}
}

// Router constructs the relay's HTTP surface: the websocket endpoint, the
// stateless analysis API, health and Prometheus endpoints.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/ws", s.handleWebSocket)

	if s.analysis != nil {
		r.Mount("/api", s.analysis)
	}

	return r
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log := logging.WithComponent("relay")
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	connectionID := r.URL.Query().Get("connection_id")
	if connectionID == "" {
		connectionID = ulid.Make().String()
	}
	log := logging.WithSession("relay", connectionID)

	s.metrics.ConnectionsTotal.Inc()
	s.metrics.ConnectionsActive.Inc()
	defer s.metrics.ConnectionsActive.Dec()

	log.Info().Msg("client connected")
	sess := newSession(conn, s.provider, s.conversational, log, s.metrics)
	sess.run(r.Context())
	log.Info().Msg("client disconnected")
}
