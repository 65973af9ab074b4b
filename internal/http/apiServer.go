package http

import (
	"context"
	"log"
	"net/http"
	"sync"

	"studiodesk/internal/api"
)

type APIServer struct {
	server *http.Server
	wg     sync.WaitGroup
}

// NewAPIServer mounts the request API, object storage and the realtime channel.
func NewAPIServer(apiHandlers *api.API, realtime http.HandlerFunc, addr string) *APIServer {
	mux := http.NewServeMux()

	// Session
	mux.HandleFunc("POST /api/session", api.RequireSameOrigin(apiHandlers.SessionHandler))
	mux.HandleFunc("DELETE /api/session", api.RequireSameOrigin(apiHandlers.DeleteSessionHandler))
	mux.HandleFunc("GET /api/me", apiHandlers.RequireAuth(apiHandlers.MeHandler))

	// Requests
	mux.HandleFunc("GET /api/requests", apiHandlers.RequireAuth(apiHandlers.ListRequestsHandler))
	mux.HandleFunc("POST /api/requests/{kind}", api.RequireSameOrigin(apiHandlers.RequireAuth(apiHandlers.CreateRequestHandler)))
	mux.HandleFunc("POST /api/requests/{kind}/{id}/accept", api.RequireSameOrigin(apiHandlers.RequireAuth(api.RequireAdmin(apiHandlers.AcceptHandler))))
	mux.HandleFunc("POST /api/requests/{kind}/{id}/status", api.RequireSameOrigin(apiHandlers.RequireAuth(apiHandlers.StatusHandler)))
	mux.HandleFunc("POST /api/requests/{kind}/{id}/messages", api.RequireSameOrigin(apiHandlers.RequireAuth(apiHandlers.SendMessageHandler)))
	mux.HandleFunc("POST /api/requests/{kind}/{id}/read", api.RequireSameOrigin(apiHandlers.RequireAuth(apiHandlers.MarkReadHandler)))
	mux.HandleFunc("GET /api/requests/{kind}/{id}/completions", apiHandlers.RequireAuth(apiHandlers.ListCompletionsHandler))
	mux.HandleFunc("POST /api/requests/{kind}/{id}/completions", api.RequireSameOrigin(apiHandlers.RequireAuth(apiHandlers.CompletionHandler)))
	mux.HandleFunc("POST /api/requests/{kind}/{id}/completions/{cid}/accept", api.RequireSameOrigin(apiHandlers.RequireAuth(apiHandlers.ConfirmCompletionHandler)))
	mux.HandleFunc("POST /api/requests/{kind}/{id}/completions/{cid}/revision", api.RequireSameOrigin(apiHandlers.RequireAuth(apiHandlers.RevisionHandler)))

	// Files
	mux.HandleFunc("POST /api/uploads", api.RequireSameOrigin(apiHandlers.RequireAuth(apiHandlers.UploadHandler)))
	mux.HandleFunc("GET /storage/{key...}", apiHandlers.StorageHandler)

	// WebSocket endpoint
	mux.HandleFunc("/api/realtime", realtime)

	if addr == "" {
		addr = ":3000"
	}

	return &APIServer{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

func (s *APIServer) Start() error {
	log.Printf("Server started on %s", s.server.Addr)
	s.wg.Add(1)
	defer s.wg.Done()

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *APIServer) Shutdown(ctx context.Context) error {
	defer s.wg.Wait()
	return s.server.Shutdown(ctx)
}
