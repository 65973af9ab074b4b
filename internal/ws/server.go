package ws

import (
	"context"
	"log"
	"log/slog"
	"net/http"

	"studiodesk/internal/auth"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

type Server struct {
	ctx      context.Context
	hub      *Hub
	registry presenceRegistry
	sessions SessionFactory
	recorder Recorder
	log      *slog.Logger
	upgrader *websocket.Upgrader
}

// NewServer serves the realtime channel. Connections live until the client
// goes away or ctx is cancelled.
func NewServer(ctx context.Context, hub *Hub, registry presenceRegistry, sessions SessionFactory, recorder Recorder, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		ctx:      ctx,
		hub:      hub,
		registry: registry,
		sessions: sessions,
		recorder: recorder,
		log:      logger,
		// Nil CheckOrigin rejects cross-origin handshakes.
		upgrader: &websocket.Upgrader{},
	}
}

func (s *Server) HandleConnections(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// A missing or bad cookie is not an error: the connection stays anonymous.
	var token string
	if cookie, err := r.Cookie(auth.SessionCookie); err == nil {
		token = cookie.Value
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("error upgrading to websocket: %v", err)
		return
	}

	c := NewConnection(uuid.NewString(), token, conn, s.hub, s.registry, s.sessions, s.recorder, s.log)
	if err := c.Handle(s.ctx); err != nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		s.log.Debug("connection closed", "error", err)
	}
}
