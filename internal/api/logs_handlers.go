package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/AdamLaszab/zadanie-skuska/internal/audit"
	"github.com/AdamLaszab/zadanie-skuska/internal/pipeline"
)

// handleListLogs handles GET /logs?page=&per_page=.
func (s *Server) handleListLogs(w http.ResponseWriter, r *http.Request) {
	page, err := queryInt(r, "page", 1)
	if err != nil || page < 1 {
		s.writeError(w, http.StatusBadRequest, CodeBadRequest, "page must be a positive integer")
		return
	}
	perPage, err := queryInt(r, "per_page", audit.DefaultPerPage)
	if err != nil || perPage < 1 {
		s.writeError(w, http.StatusBadRequest, CodeBadRequest, "per_page must be a positive integer")
		return
	}

	result, err := s.deps.Trail.List(r.Context(), page, perPage)
	if err != nil {
		s.logger.Error("listing audit log failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, pipeline.CodeInternal, "failed to list audit log")
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// handleExportLogs handles GET /logs/export and streams CSV.
func (s *Server) handleExportLogs(w http.ResponseWriter, r *http.Request) {
	name := fmt.Sprintf("audit-log-%s.csv", time.Now().UTC().Format("2006-01-02"))
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.Header().Set("Cache-Control", "no-store")

	// Headers are already out once rows start flowing.
	if err := s.deps.Trail.ExportCSV(r.Context(), w); err != nil {
		s.logger.Error("exporting audit log failed", "error", err)
	}
}

// handlePurgeLogs handles DELETE /logs.
func (s *Server) handlePurgeLogs(w http.ResponseWriter, r *http.Request) {
	n, err := s.deps.Trail.Purge(r.Context())
	if err != nil {
		s.logger.Error("purging audit log failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, pipeline.CodeInternal, "failed to purge audit log")
		return
	}
	s.logger.Warn("audit log purged", "deleted", n)
	respondJSON(w, http.StatusOK, PurgeResponse{Deleted: n})
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}
