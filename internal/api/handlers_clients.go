package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/emberhaus/emberlink/internal/area"
	"github.com/emberhaus/emberlink/internal/audit"
	"github.com/emberhaus/emberlink/internal/auth"
)

// clientView is the API shape of a paired client.
type clientView struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	DeviceInfo    string     `json:"device_info,omitempty"`
	Status        string     `json:"status"`
	PairedAt      time.Time  `json:"paired_at"`
	LastSeenAt    *time.Time `json:"last_seen_at,omitempty"`
	RevokedAt     *time.Time `json:"revoked_at,omitempty"`
	RevokedReason string     `json:"revoked_reason,omitempty"`
	Areas         []string   `json:"areas"`
	Connected     bool       `json:"connected"`
}

func newClientView(c *auth.Client) *clientView {
	areas := c.Areas
	if areas == nil {
		areas = []string{}
	}
	return &clientView{
		ID:            c.ID,
		Name:          c.Name,
		DeviceInfo:    c.DeviceInfo,
		Status:        string(c.Status),
		PairedAt:      c.PairedAt,
		LastSeenAt:    c.LastSeenAt,
		RevokedAt:     c.RevokedAt,
		RevokedReason: c.RevokedReason,
		Areas:         areas,
	}
}

// handleClientList returns all paired clients.
func (s *Server) handleClientList(w http.ResponseWriter, r *http.Request) {
	clients, err := s.auth.ListClients()
	if err != nil {
		s.logger.Error("listing clients", "error", err)
		writeInternalError(w)
		return
	}

	views := make([]*clientView, 0, len(clients))
	for _, c := range clients {
		v := newClientView(c)
		v.Connected = s.hub.IsConnected(c.ID)
		views = append(views, v)
	}
	writeJSON(w, http.StatusOK, map[string]any{"clients": views})
}

// handleClientGet returns one client.
func (s *Server) handleClientGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	c, err := s.auth.GetClient(id)
	if err != nil {
		if errors.Is(err, auth.ErrClientNotFound) {
			writeNotFound(w, "client not found")
			return
		}
		s.logger.Error("getting client", "client_id", id, "error", err)
		writeInternalError(w)
		return
	}

	v := newClientView(c)
	v.Connected = s.hub.IsConnected(c.ID)
	writeJSON(w, http.StatusOK, v)
}

type revokeRequest struct {
	Reason string `json:"reason"`
}

// handleClientRevoke revokes a client's credential and drops its live
// connections. Idempotent.
func (s *Server) handleClientRevoke(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req revokeRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	if req.Reason == "" {
		req.Reason = "revoked by administrator"
	}

	count, err := s.auth.Revoke(id, req.Reason)
	if err != nil {
		if errors.Is(err, auth.ErrClientNotFound) {
			writeNotFound(w, "client not found")
			return
		}
		s.logger.Error("revoking client", "client_id", id, "error", err)
		writeInternalError(w)
		return
	}

	identity := identityFrom(r)
	s.audit.Record(audit.Entry{
		ActorType:   audit.ActorAdmin,
		ActorID:     identity.SubjectID,
		Action:      audit.ActionClientRevoked,
		SubjectType: "client",
		SubjectID:   id,
		Detail:      req.Reason,
		SourceIP:    clientIP(r),
	})
	s.telemetry.RecordRevocation(id, req.Reason)

	writeJSON(w, http.StatusOK, map[string]int{"revoked_count": count})
}

// handleClientDelete removes a client entirely.
func (s *Server) handleClientDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := s.auth.DeleteClient(id); err != nil {
		if errors.Is(err, auth.ErrClientNotFound) {
			writeNotFound(w, "client not found")
			return
		}
		s.logger.Error("deleting client", "client_id", id, "error", err)
		writeInternalError(w)
		return
	}

	identity := identityFrom(r)
	s.audit.Record(audit.Entry{
		ActorType:   audit.ActorAdmin,
		ActorID:     identity.SubjectID,
		Action:      audit.ActionClientDeleted,
		SubjectType: "client",
		SubjectID:   id,
		SourceIP:    clientIP(r),
	})

	w.WriteHeader(http.StatusNoContent)
}

type rescopeRequest struct {
	Areas []string `json:"areas"`
}

type rescopeResponse struct {
	// Token replaces the client's previous credential, disclosed once.
	Token string   `json:"token"`
	Areas []string `json:"areas"`
}

// handleClientRescope reissues a client's credential with a new area
// scope. The old token stops working immediately.
func (s *Server) handleClientRescope(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req rescopeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}

	if err := s.areas.ExistAll(req.Areas); err != nil {
		if errors.Is(err, area.ErrAreaNotFound) {
			writeBadRequest(w, err.Error())
			return
		}
		s.logger.Error("validating areas", "error", err)
		writeInternalError(w)
		return
	}

	token, cred, err := s.auth.Reissue(id, req.Areas)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrClientNotFound):
			writeNotFound(w, "client not found")
		case errors.Is(err, auth.ErrClientRevoked):
			writeConflict(w, "client is revoked")
		default:
			s.logger.Error("reissuing credential", "client_id", id, "error", err)
			writeInternalError(w)
		}
		return
	}

	identity := identityFrom(r)
	s.audit.Record(audit.Entry{
		ActorType:   audit.ActorAdmin,
		ActorID:     identity.SubjectID,
		Action:      audit.ActionClientRescoped,
		SubjectType: "client",
		SubjectID:   id,
		SourceIP:    clientIP(r),
	})

	writeJSON(w, http.StatusOK, rescopeResponse{Token: token, Areas: cred.Areas})
}
