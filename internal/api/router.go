package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/arnventures/InosentAnlageAufbauTool/internal/bus/transport"
	"github.com/arnventures/InosentAnlageAufbauTool/internal/enroll"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(echoRequestID)
	r.Use(s.accessLog)
	r.Use(s.recoverPanic)
	r.Use(s.cors)
	r.Use(middleware.RequestSize(maxRequestBodySize))

	r.Route("/api/v1", func(r chi.Router) {
		// Health and token issue stay open.
		r.Get("/health", s.handleHealth)
		r.Post("/auth/token", s.handleToken)

		r.Group(func(r chi.Router) {
			r.Use(s.requireToken)

			r.Get("/ports", s.handleListPorts)

			r.Route("/bus", func(r chi.Router) {
				r.Get("/", s.handleBusStatus)
				r.Post("/connect", s.handleBusConnect)
				r.Post("/disconnect", s.handleBusDisconnect)
			})

			r.Route("/targets", func(r chi.Router) {
				r.Get("/", s.handleListTargets)
				r.Post("/reload", s.handleReloadTargets)
				r.Put("/{class}/{index}/selected", s.handleSetSelected)
			})

			r.Route("/run", func(r chi.Router) {
				r.Get("/", s.handleRunStatus)
				r.Post("/", s.handleStartRun)
				r.Post("/skip", s.handleSkip)
				r.Post("/cancel", s.handleCancel)
			})

			r.Route("/runs", func(r chi.Router) {
				r.Get("/", s.handleListRuns)
				r.Get("/{id}", s.handleGetRun)
				r.Get("/{id}/events", s.handleListRunEvents)
			})

			r.Get("/ws", s.handleWebSocket)
		})
	})

	return r
}

// healthResponse is the body of GET /health.
type healthResponse struct {
	Status   string           `json:"status"`
	Version  string           `json:"version"`
	Bus      transport.Health `json:"bus"`
	Run      enroll.RunState  `json:"run"`
	Clients  int              `json:"ws_clients"`
	AuthMode string           `json:"auth"`
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	auth := "open"
	if s.authEnabled() {
		auth = "jwt"
	}
	writeJSON(w, http.StatusOK, healthResponse{
		Status:   "ok",
		Version:  s.version,
		Bus:      s.bus.Health(),
		Run:      s.controller.Status().State,
		Clients:  s.hub.ClientCount(),
		AuthMode: auth,
	})
}
