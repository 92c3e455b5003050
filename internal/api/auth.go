package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/arnventures/InosentAnlageAufbauTool/internal/auth"
)

// defaultTokenTTL applies when security.jwt.access_token_ttl is unset, in minutes.
const defaultTokenTTL = 480

// tokenRequest is the request body for POST /auth/token.
type tokenRequest struct {
	Operator string `json:"operator"`
	Password string `json:"password"`
}

// tokenResponse is the response body for POST /auth/token.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

func (s *Server) authEnabled() bool {
	return s.secCfg.JWT.Secret != ""
}

// handleToken exchanges the configured operator credentials for a JWT.
func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if !s.authEnabled() {
		writeNotFound(w, "authentication is disabled")
		return
	}

	var req tokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	jwtCfg := s.secCfg.JWT
	operatorOK := jwtCfg.Operator == "" || req.Operator == jwtCfg.Operator
	passwordOK := auth.CheckPassword(req.Password, jwtCfg.Password)
	if !operatorOK || !passwordOK {
		s.logger.Warn("token request rejected", "operator", req.Operator)
		writeUnauthorized(w, "invalid credentials")
		return
	}

	ttl := jwtCfg.AccessTokenTTL
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	signed, err := s.issueToken(req.Operator, time.Duration(ttl)*time.Minute)
	if err != nil {
		writeInternalError(w, "failed to generate token")
		return
	}

	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken: signed,
		TokenType:   "Bearer",
		ExpiresIn:   ttl * 60,
	})
}

// issueToken signs a token for operator with the configured secret.
func (s *Server) issueToken(operator string, ttl time.Duration) (string, error) {
	return auth.IssueToken(s.secCfg.JWT.Secret, operator, ttl)
}

// validateToken returns the operator a token was issued to.
func (s *Server) validateToken(raw string) (string, error) {
	return auth.ParseToken(raw, s.secCfg.JWT.Secret)
}
