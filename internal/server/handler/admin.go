package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/klashbet/wagerpool/internal/domain"
)

// AdminHandler serves the audit trail and settlement export endpoints.
type AdminHandler struct {
	audit    domain.AuditStore // may be nil
	archiver domain.Archiver   // may be nil
	logger   *slog.Logger
}

// NewAdminHandler creates an AdminHandler. Both collaborators may be nil;
// the corresponding endpoints then report 501.
func NewAdminHandler(audit domain.AuditStore, archiver domain.Archiver, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		audit:    audit,
		archiver: archiver,
		logger:   logger,
	}
}

// ListAudit returns audit entries, newest first.
// GET /api/admin/audit?limit=50&offset=0
func (h *AdminHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	if h.audit == nil {
		writeError(w, http.StatusNotImplemented, "audit log not configured")
		return
	}

	entries, err := h.audit.List(r.Context(), parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list audit failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list audit entries")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// Export dumps markets resolved before the cutoff to blob storage as JSONL.
// The cutoff defaults to now.
// POST /api/admin/export?before=2026-08-01T00:00:00Z
func (h *AdminHandler) Export(w http.ResponseWriter, r *http.Request) {
	if h.archiver == nil {
		writeError(w, http.StatusNotImplemented, "blob export not configured")
		return
	}

	before := time.Now().UTC()
	if v := r.URL.Query().Get("before"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "before must be RFC 3339")
			return
		}
		before = t
	}

	count, err := h.archiver.ArchiveResolved(r.Context(), before)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: export failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "export failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"exported": count,
		"before":   before.Format(time.RFC3339),
	})
}
