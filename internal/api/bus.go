package api

import (
	"encoding/json"
	"net/http"

	"github.com/arnventures/InosentAnlageAufbauTool/internal/enroll"
)

// connectRequest is the body of POST /bus/connect.
type connectRequest struct {
	Port string `json:"port"`
}

// handleListPorts lists the serial ports of the host.
func (s *Server) handleListPorts(w http.ResponseWriter, _ *http.Request) {
	ports, err := s.listPorts()
	if err != nil {
		writeInternalError(w, err.Error())
		return
	}
	if ports == nil {
		ports = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"ports": ports})
}

// handleBusStatus returns the transport health snapshot.
func (s *Server) handleBusStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.bus.Health())
}

// handleBusConnect opens the named port. The bus cannot be switched while
// a run holds it.
func (s *Server) handleBusConnect(w http.ResponseWriter, r *http.Request) {
	var req connectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Port == "" {
		writeBadRequest(w, "port is required")
		return
	}
	if s.controller.Status().State == enroll.RunRunning {
		writeDomainError(w, enroll.ErrRunActive)
		return
	}

	if err := s.bus.Connect(r.Context(), req.Port); err != nil {
		s.logger.Warn("bus connect failed", "port", req.Port, "error", err)
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.bus.Health())
}

// handleBusDisconnect closes the port.
func (s *Server) handleBusDisconnect(w http.ResponseWriter, _ *http.Request) {
	if s.controller.Status().State == enroll.RunRunning {
		writeDomainError(w, enroll.ErrRunActive)
		return
	}
	if err := s.bus.Disconnect(); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.bus.Health())
}
