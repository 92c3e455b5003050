package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/arnventures/InosentAnlageAufbauTool/internal/enroll"
)

// targetsResponse is the body of GET /targets.
type targetsResponse struct {
	Sensors []enroll.SensorTarget `json:"sensors"`
	Lights  []enroll.LightTarget  `json:"lights"`
}

// selectRequest is the body of PUT /targets/{class}/{index}/selected.
type selectRequest struct {
	Selected bool `json:"selected"`
}

// startRequest is the optional body of POST /run.
type startRequest struct {
	Reload bool `json:"reload"`
}

func (s *Server) writeTargets(w http.ResponseWriter) {
	sensors, lights := s.controller.Targets()
	if sensors == nil {
		sensors = []enroll.SensorTarget{}
	}
	if lights == nil {
		lights = []enroll.LightTarget{}
	}
	writeJSON(w, http.StatusOK, targetsResponse{Sensors: sensors, Lights: lights})
}

// handleListTargets returns the loaded targets with their last status.
func (s *Server) handleListTargets(w http.ResponseWriter, _ *http.Request) {
	s.writeTargets(w)
}

// handleReloadTargets reads the data source again.
func (s *Server) handleReloadTargets(w http.ResponseWriter, r *http.Request) {
	if err := s.controller.Load(r.Context()); err != nil {
		writeDomainError(w, err)
		return
	}
	s.writeTargets(w)
}

// handleSetSelected changes the selection of one target, or of a whole
// class with index 0.
func (s *Server) handleSetSelected(w http.ResponseWriter, r *http.Request) {
	class := enroll.Class(chi.URLParam(r, "class"))
	if class != enroll.ClassSensor && class != enroll.ClassLight {
		writeBadRequest(w, "class must be sensor or light")
		return
	}
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil || index < 0 {
		writeBadRequest(w, "index must be a non-negative integer")
		return
	}

	var req selectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if err := s.controller.SetSelected(class, index, req.Selected); err != nil {
		writeDomainError(w, err)
		return
	}
	s.writeTargets(w)
}

// handleRunStatus returns the snapshot of the current or last run.
func (s *Server) handleRunStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.controller.Status())
}

// handleStartRun starts a run. The body is optional.
func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	runID, err := s.controller.Start(r.Context(), enroll.StartOptions{Reload: req.Reload})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	s.logger.Info("run started via API", "run_id", runID, "operator", r.Context().Value(ctxKeyOperator))
	writeJSON(w, http.StatusAccepted, map[string]string{"run_id": runID})
}

// handleSkip skips the current item.
func (s *Server) handleSkip(w http.ResponseWriter, _ *http.Request) {
	if err := s.controller.Skip(); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "skip requested"})
}

// handleCancel cancels the run.
func (s *Server) handleCancel(w http.ResponseWriter, _ *http.Request) {
	if err := s.controller.Cancel(); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancel requested"})
}
