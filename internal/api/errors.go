package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/arnventures/InosentAnlageAufbauTool/internal/bus/transport"
	"github.com/arnventures/InosentAnlageAufbauTool/internal/enroll"
	"github.com/arnventures/InosentAnlageAufbauTool/internal/journal"
)

// Error is the body of every non-2xx response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Machine-readable error codes.
const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeNotFound     = "not_found"
	ErrCodeUnauthorized = "unauthorised"
	ErrCodeConflict     = "conflict"
	ErrCodeInternal     = "internal_error"
	ErrCodeUnavailable  = "unavailable"
)

// domainErrors maps sentinels of the enrollment stack to a status. The
// first match wins.
var domainErrors = []struct {
	target error
	status int
	code   string
}{
	{enroll.ErrRunActive, http.StatusConflict, ErrCodeConflict},
	{enroll.ErrNoActiveRun, http.StatusConflict, ErrCodeConflict},
	{enroll.ErrNoTargets, http.StatusConflict, ErrCodeConflict},
	{transport.ErrNotConnected, http.StatusConflict, ErrCodeConflict},
	{enroll.ErrUnknownTarget, http.StatusNotFound, ErrCodeNotFound},
	{journal.ErrRunNotFound, http.StatusNotFound, ErrCodeNotFound},
	{transport.ErrOpenFailed, http.StatusBadGateway, ErrCodeUnavailable},
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	//nolint:errcheck // the client may already be gone
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{Status: status, Code: code, Message: message})
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeDomainError answers with the status mapped to err, or 500.
func writeDomainError(w http.ResponseWriter, err error) {
	for _, m := range domainErrors {
		if errors.Is(err, m.target) {
			writeError(w, m.status, m.code, err.Error())
			return
		}
	}
	writeInternalError(w, err.Error())
}
