package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/nerrad567/gray-logic-pdu/internal/audit"
)

// AuditLog records and lists audit entries.
// *audit.SQLiteRepository satisfies it.
type AuditLog interface {
	Create(ctx context.Context, e *audit.Entry) error
	List(ctx context.Context, filter audit.Filter) (*audit.ListResult, error)
}

// handleListAudit returns a page of audit entries, newest first.
//
// Query parameters: action, entity_id, source, limit, offset.
func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "audit log not available")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		Action:   q.Get("action"),
		EntityID: q.Get("entity_id"),
		Source:   q.Get("source"),
	}
	for name, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeBadRequest(w, name+" must be a non-negative integer")
			return
		}
		*dst = n
	}

	result, err := s.audit.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("listing audit entries failed", "error", err)
		writeInternalError(w, "failed to list audit entries")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// recordAudit stores an entry attributed to the caller. Recording
// failures are logged and never change the response.
func (s *Server) recordAudit(r *http.Request, e audit.Entry) {
	if s.audit == nil {
		return
	}
	if claims := claimsFrom(r.Context()); claims != nil {
		e.Actor = claims.Subject
	}
	e.Source = audit.SourceAPI
	if e.Details == nil {
		e.Details = map[string]any{}
	}
	if id := requestIDFrom(r.Context()); id != "" {
		e.Details["request_id"] = id
	}

	// The request context may already be cancelled by a client disconnect.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), auditTimeout)
	defer cancel()

	if err := s.audit.Create(ctx, &e); err != nil {
		s.logger.Error("recording audit entry failed", "action", e.Action, "error", err)
	}
}
