package signaling

import (
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/roomwire/roomwire/internal/config"
	"github.com/roomwire/roomwire/internal/metrics"
	"github.com/roomwire/roomwire/internal/origin"
	"github.com/roomwire/roomwire/internal/rooms"
)

// maxIDBytes bounds room and client identifiers taken from the URL path.
// They are opaque strings to the relay, but unbounded ones are a cheap way
// to bloat the registry and every announcement fan-out.
const maxIDBytes = 128

// Server owns the websocket upgrade endpoints and the shared room registry.
type Server struct {
	log    *slog.Logger
	cfg    config.Config
	m      *metrics.Metrics
	reg    *rooms.Registry
	router *Router
}

func NewServer(cfg config.Config, logger *slog.Logger, m *metrics.Metrics) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.New()
	}
	reg := rooms.NewRegistry(logger, m)
	return &Server{
		log:    logger,
		cfg:    cfg,
		m:      m,
		reg:    reg,
		router: NewRouter(reg, logger, m, cfg.MaxMessagesPerSecond),
	}
}

// Registry exposes the room registry for readiness/introspection.
func (s *Server) Registry() *rooms.Registry { return s.reg }

func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws/{room}/{client}", s.handleConnect)
	mux.HandleFunc("GET /ws/{room}", s.handleConnect)
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("room")
	clientID := r.PathValue("client")
	if clientID == "" {
		// Clients that don't pick their own ID get a generated one; they learn
		// it from the peers' user-joined announcements referencing it, and from
		// envelopes forwarded with sender set.
		clientID = uuid.NewString()
	}
	if len(roomID) > maxIDBytes || len(clientID) > maxIDBytes {
		http.Error(w, "identifier too long", http.StatusBadRequest)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: s.checkOrigin,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote an HTTP error response.
		return
	}

	ch := newWSChannel(conn, s.cfg.MaxMessageBytes, s.cfg.WSIdleTimeout, s.cfg.WSPingInterval)
	s.router.HandleConnection(ch, roomID, clientID)
}

// checkOrigin applies the relay-wide origin policy to websocket upgrades.
// Requests without an Origin header (non-browser clients) are allowed.
func (s *Server) checkOrigin(r *http.Request) bool {
	originHeader := r.Header.Get("Origin")
	if originHeader == "" {
		return true
	}
	normalized, host, ok := origin.NormalizeHeader(originHeader)
	if !ok {
		return false
	}
	return origin.IsAllowed(normalized, host, r.Host, s.cfg.AllowedOrigins)
}
