package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/emberhaus/emberlink/internal/area"
	"github.com/emberhaus/emberlink/internal/audit"
)

// handleAreaList returns all registered areas.
func (s *Server) handleAreaList(w http.ResponseWriter, r *http.Request) {
	areas, err := s.areas.List()
	if err != nil {
		s.logger.Error("listing areas", "error", err)
		writeInternalError(w)
		return
	}
	if areas == nil {
		areas = []*area.Area{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"areas": areas})
}

type areaCreateRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// handleAreaCreate registers a new area.
func (s *Server) handleAreaCreate(w http.ResponseWriter, r *http.Request) {
	var req areaCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	if req.Name == "" {
		writeBadRequest(w, "name is required")
		return
	}

	a := &area.Area{Name: req.Name, Description: req.Description}
	if err := s.areas.Create(a); err != nil {
		if errors.Is(err, area.ErrAreaExists) {
			writeConflict(w, "an area with this name already exists")
			return
		}
		s.logger.Error("creating area", "error", err)
		writeInternalError(w)
		return
	}

	identity := identityFrom(r)
	s.audit.Record(audit.Entry{
		ActorType:   audit.ActorAdmin,
		ActorID:     identity.SubjectID,
		Action:      audit.ActionAreaCreated,
		SubjectType: "area",
		SubjectID:   a.ID,
		Detail:      a.Name,
		SourceIP:    clientIP(r),
	})

	writeJSON(w, http.StatusCreated, a)
}

// handleAuditList returns the audit trail, newest first.
func (s *Server) handleAuditList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	entries, err := s.audit.List(audit.Filter{
		Action: q.Get("action"),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		s.logger.Error("listing audit trail", "error", err)
		writeInternalError(w)
		return
	}
	if entries == nil {
		entries = []*audit.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}
