// Package presence tracks which identities currently hold a live realtime connection.
//
// State is process-local. Several server instances behind a load balancer each
// see only their own connections; sharing presence across instances needs an
// external registry and is not attempted here.
package presence

import (
	"log/slog"
	"slices"
	"sync"

	"studiodesk/internal/auth"
)

// Broadcaster delivers the full online-identity set. Implementations must not block.
type Broadcaster interface {
	Send(connID string, users []string)
	Broadcast(users []string)
}

type TokenVerifier interface {
	Verify(token string) (auth.Claims, error)
}

// Recorder receives presence statistics. It may be nil.
type Recorder interface {
	SetOnline(n int)
	PresenceEvent(event string)
}

// Registry maps an identity to the connection that most recently proved it.
// Every mutation runs under one lock and enqueues its broadcast before
// releasing it, so clients observe sets in the order mutations were applied.
type Registry struct {
	verifier TokenVerifier
	out      Broadcaster
	recorder Recorder
	log      *slog.Logger

	mu sync.Mutex
	// identity -> latest connection id
	online map[string]string
	// connection id -> identity it proved
	conns map[string]string
}

func NewRegistry(verifier TokenVerifier, out Broadcaster, recorder Recorder, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		verifier: verifier,
		out:      out,
		recorder: recorder,
		log:      logger.With("component", "presence"),
		online:   make(map[string]string),
		conns:    make(map[string]string),
	}
}

// Connect handles the handshake of a new connection. A valid session token
// registers its identity and the online set is sent to this connection only.
// A missing or invalid token leaves the connection anonymous.
func (r *Registry) Connect(connID, token string) (auth.Claims, bool) {
	if token == "" {
		r.log.Debug("anonymous connection", "conn_id", connID)
		return auth.Claims{}, false
	}
	claims, err := r.verifier.Verify(token)
	if err != nil {
		r.log.Debug("handshake token rejected, staying anonymous", "conn_id", connID, "error", err)
		return auth.Claims{}, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.register(connID, claims.UserID)
	r.event("connect")
	r.log.Info("auto-logged in", "conn_id", connID, "user_id", claims.UserID)
	r.out.Send(connID, r.snapshot())
	return claims, true
}

// Login is the message-driven variant of Connect. On success the online set is
// broadcast to all connections; an invalid token is logged and ignored.
func (r *Registry) Login(connID, token string) (auth.Claims, bool) {
	claims, err := r.verifier.Verify(token)
	if err != nil {
		r.log.Warn("login failed", "conn_id", connID, "error", err)
		return auth.Claims{}, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.register(connID, claims.UserID)
	r.event("login")
	r.log.Info("manual login", "conn_id", connID, "user_id", claims.UserID)
	r.out.Broadcast(r.snapshot())
	return claims, true
}

// Logout removes the entry owned by this connection and broadcasts the new set.
func (r *Registry) Logout(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	uid, ok := r.unregister(connID)
	if !ok {
		return
	}
	r.event("logout")
	r.log.Info("logged out", "conn_id", connID, "user_id", uid)
	r.out.Broadcast(r.snapshot())
}

// Disconnect forgets the connection. Removal of an online entry is broadcast
// like an explicit logout.
func (r *Registry) Disconnect(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	uid, ok := r.unregister(connID)
	if !ok {
		r.log.Debug("disconnected", "conn_id", connID)
		return
	}
	r.event("disconnect")
	r.log.Info("disconnected", "conn_id", connID, "user_id", uid)
	r.out.Broadcast(r.snapshot())
}

// Seek resends the online set to the requesting connection only.
func (r *Registry) Seek(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.out.Send(connID, r.snapshot())
}

// Online returns the sorted online identities.
func (r *Registry) Online() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshot()
}

// IsOnline reports whether identity has an online entry.
func (r *Registry) IsOnline(identity string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.online[identity]
	return ok
}

func (r *Registry) register(connID, uid string) {
	if prev, ok := r.conns[connID]; ok && prev != uid && r.online[prev] == connID {
		delete(r.online, prev)
	}
	r.conns[connID] = uid
	r.online[uid] = connID
}

// unregister must be called with mu held. It reports whether an online entry was removed.
func (r *Registry) unregister(connID string) (string, bool) {
	uid, ok := r.conns[connID]
	if !ok {
		return "", false
	}
	delete(r.conns, connID)
	// A newer connection of the same identity owns the entry now.
	if r.online[uid] != connID {
		return uid, false
	}
	delete(r.online, uid)
	return uid, true
}

func (r *Registry) snapshot() []string {
	users := make([]string, 0, len(r.online))
	for uid := range r.online {
		users = append(users, uid)
	}
	slices.Sort(users)
	if r.recorder != nil {
		r.recorder.SetOnline(len(users))
	}
	return users
}

func (r *Registry) event(name string) {
	if r.recorder != nil {
		r.recorder.PresenceEvent(name)
	}
}
