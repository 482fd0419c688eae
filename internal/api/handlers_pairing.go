package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/emberhaus/emberlink/internal/area"
	"github.com/emberhaus/emberlink/internal/audit"
	"github.com/emberhaus/emberlink/internal/pairing"
)

type pairingStartRequest struct {
	DeviceName string   `json:"device_name"`
	Areas      []string `json:"areas"`
}

type pairingStartResponse struct {
	Session *pairing.Session `json:"session"`

	// PIN is disclosed exactly once, in this response.
	PIN string `json:"pin"`
}

// handlePairingStart opens a pairing session. Admin only.
func (s *Server) handlePairingStart(w http.ResponseWriter, r *http.Request) {
	var req pairingStartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
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

	identity := identityFrom(r)
	session, pin, err := s.pairing.Start(req.DeviceName, req.Areas, identity.SubjectID)
	if err != nil {
		s.logger.Error("starting pairing session", "error", err)
		writeInternalError(w)
		return
	}

	s.audit.Record(audit.Entry{
		ActorType:   audit.ActorAdmin,
		ActorID:     identity.SubjectID,
		Action:      audit.ActionPairingStarted,
		SubjectType: "pairing_session",
		SubjectID:   session.ID,
		Detail:      req.DeviceName,
		SourceIP:    clientIP(r),
	})

	writeJSON(w, http.StatusCreated, pairingStartResponse{Session: session, PIN: pin})
}

type pairingVerifyRequest struct {
	PIN        string `json:"pin"`
	DeviceName string `json:"device_name"`
	DeviceType string `json:"device_type"`
}

type pairingVerifyResponse struct {
	SessionID  string `json:"session_id"`
	DeviceName string `json:"device_name"`
	Status     string `json:"status"`
}

type pairingVerifyError struct {
	Status            int    `json:"status"`
	Code              string `json:"code"`
	Message           string `json:"message"`
	AttemptsRemaining *int   `json:"attempts_remaining,omitempty"`
}

// handlePairingVerify is the public PIN submission endpoint. Every
// failure mode that would reveal session existence collapses into the
// same generic response; only a live session that absorbed the wrong PIN
// discloses its remaining attempts.
func (s *Server) handlePairingVerify(w http.ResponseWriter, r *http.Request) {
	ip := clientIP(r)

	if s.verifyLimit != nil && !s.verifyLimit.allow(ip) {
		writeError(w, http.StatusTooManyRequests, CodeTooManyReqs, "too many verification attempts")
		return
	}

	var req pairingVerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	if len(req.PIN) != 6 {
		writeBadRequest(w, "pin must be six digits")
		return
	}

	res, err := s.pairing.Verify(req.PIN, req.DeviceName, req.DeviceType)
	if err != nil {
		s.audit.Record(audit.Entry{
			ActorType: audit.ActorClient,
			Action:    audit.ActionPairingFailed,
			SourceIP:  ip,
		})
		s.telemetry.RecordPairingAttempt(false, ip)
		s.writeVerifyFailure(w, res, err)
		return
	}

	s.audit.Record(audit.Entry{
		ActorType:   audit.ActorClient,
		Action:      audit.ActionPairingVerified,
		SubjectType: "pairing_session",
		SubjectID:   res.Session.ID,
		SourceIP:    ip,
	})
	s.telemetry.RecordPairingAttempt(true, ip)

	writeJSON(w, http.StatusOK, pairingVerifyResponse{
		SessionID:  res.Session.ID,
		DeviceName: res.Session.DeviceName,
		Status:     string(res.Session.Status),
	})
}

// writeVerifyFailure renders a verification failure. Expired, locked and
// mismatched PINs all answer 401 with code pairing_failed so a caller
// cannot enumerate sessions by probing.
func (s *Server) writeVerifyFailure(w http.ResponseWriter, res *pairing.VerifyResult, err error) {
	resp := pairingVerifyError{
		Status:  http.StatusUnauthorized,
		Code:    CodePairingFailed,
		Message: "invalid or expired pin",
	}

	if errors.Is(err, pairing.ErrPINMismatch) && res != nil && res.AttemptsRemaining >= 0 {
		remaining := res.AttemptsRemaining
		resp.AttemptsRemaining = &remaining
	}

	writeJSON(w, http.StatusUnauthorized, resp)
}

type pairingCompleteRequest struct {
	ClientName string   `json:"client_name"`
	Areas      []string `json:"areas"`
}

type pairingCompleteResponse struct {
	Client *clientView `json:"client"`

	// Token is the device's credential, disclosed exactly once.
	Token string   `json:"token"`
	Areas []string `json:"areas"`
}

// handlePairingComplete finishes a verified session. Admin only. The body
// is optional: client_name overrides the device-announced name and areas
// narrows or widens the scopes requested at session start.
func (s *Server) handlePairingComplete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req pairingCompleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeBadRequest(w, "invalid request body")
		return
	}

	if len(req.Areas) > 0 {
		if err := s.areas.ExistAll(req.Areas); err != nil {
			if errors.Is(err, area.ErrAreaNotFound) {
				writeBadRequest(w, err.Error())
				return
			}
			s.logger.Error("validating areas", "error", err)
			writeInternalError(w)
			return
		}
	}

	res, err := s.pairing.Complete(id, req.ClientName, req.Areas)
	if err != nil {
		switch {
		case errors.Is(err, pairing.ErrSessionNotFound):
			writeNotFound(w, "pairing session not found")
		case errors.Is(err, pairing.ErrSessionExpired):
			writeError(w, http.StatusConflict, CodeSessionExpired, "pairing session expired")
		case errors.Is(err, pairing.ErrSessionNotVerified):
			writeConflict(w, "pairing session is not in the verified state")
		default:
			s.logger.Error("completing pairing session", "session_id", id, "error", err)
			writeInternalError(w)
		}
		return
	}

	identity := identityFrom(r)
	s.audit.Record(audit.Entry{
		ActorType:   audit.ActorAdmin,
		ActorID:     identity.SubjectID,
		Action:      audit.ActionPairingCompleted,
		SubjectType: "client",
		SubjectID:   res.Client.ID,
		SourceIP:    clientIP(r),
	})

	writeJSON(w, http.StatusOK, pairingCompleteResponse{
		Client: newClientView(res.Client),
		Token:  res.Token,
		Areas:  res.Areas,
	})
}

// handlePairingCancel withdraws a pending session. Admin only.
func (s *Server) handlePairingCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := s.pairing.Cancel(id); err != nil {
		switch {
		case errors.Is(err, pairing.ErrSessionNotFound):
			writeNotFound(w, "pairing session not found")
		case errors.Is(err, pairing.ErrSessionNotPending):
			writeConflict(w, "pairing session is not pending")
		default:
			s.logger.Error("cancelling pairing session", "session_id", id, "error", err)
			writeInternalError(w)
		}
		return
	}

	identity := identityFrom(r)
	s.audit.Record(audit.Entry{
		ActorType:   audit.ActorAdmin,
		ActorID:     identity.SubjectID,
		Action:      audit.ActionPairingCancelled,
		SubjectType: "pairing_session",
		SubjectID:   id,
		SourceIP:    clientIP(r),
	})

	w.WriteHeader(http.StatusNoContent)
}

// handlePairingList returns all sessions. Admin only.
func (s *Server) handlePairingList(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.pairing.List()
	if err != nil {
		s.logger.Error("listing pairing sessions", "error", err)
		writeInternalError(w)
		return
	}
	if sessions == nil {
		sessions = []*pairing.Session{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}
