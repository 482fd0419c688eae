package api

import (
	"encoding/json"
	"net/http"

	"github.com/emberhaus/emberlink/internal/audit"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token    string `json:"token"`
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}

// handleLogin exchanges admin credentials for a signed access token.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	if req.Username == "" || req.Password == "" {
		writeBadRequest(w, "username and password are required")
		return
	}

	token, user, err := s.auth.Login(req.Username, req.Password)
	if err != nil {
		s.audit.Record(audit.Entry{
			ActorType: audit.ActorAdmin,
			Action:    audit.ActionLoginFailed,
			Detail:    req.Username,
			SourceIP:  clientIP(r),
		})
		writeUnauthorized(w, "invalid credentials")
		return
	}

	s.audit.Record(audit.Entry{
		ActorType: audit.ActorAdmin,
		ActorID:   user.ID,
		Action:    audit.ActionLogin,
		SourceIP:  clientIP(r),
	})

	writeJSON(w, http.StatusOK, loginResponse{
		Token:    token,
		UserID:   user.ID,
		Username: user.Username,
	})
}

type healthResponse struct {
	Status     string          `json:"status"`
	Components map[string]bool `json:"components"`
}

// handleHealth reports component liveness. Degraded components flip the
// status but the endpoint always answers 200 so probes can read the body.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	components := map[string]bool{
		"database": s.db.HealthCheck() == nil,
	}

	status := "ok"
	for _, healthy := range components {
		if !healthy {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, healthResponse{Status: status, Components: components})
}
