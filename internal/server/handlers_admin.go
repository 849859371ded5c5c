package server

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/voyagen/guidevault/internal/models"
	"github.com/voyagen/guidevault/internal/service"
)

const recentImportsLimit = 10

func (s *Server) handleTriggerImport(w http.ResponseWriter, r *http.Request) {
	queued := s.deps.Scheduler.TriggerNow()
	msg := "Import job triggered"
	if !queued {
		msg = "Import job already pending"
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"message":               msg,
		"queued":                queued,
		"next_scheduled_import": s.deps.Scheduler.NextRunTime(),
	})
}

func (s *Server) handleImportStatus(w http.ResponseWriter, r *http.Request) {
	logs, err := s.deps.Query.RecentImports(r.Context(), recentImportsLimit)
	if err != nil {
		fail(w, r, err)
		return
	}
	if logs == nil {
		logs = []models.ImportLog{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"next_scheduled_import": s.deps.Scheduler.NextRunTime(),
		"running":               s.deps.Scheduler.Running(),
		"last_run":              s.deps.Scheduler.LastRun(),
		"recent_imports":        logs,
	})
}

func (s *Server) handleStatistics(w http.ResponseWriter, r *http.Request) {
	st, err := s.deps.Query.Statistics(r.Context())
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// minutesParam reads a non-negative whole number of minutes, defaulting to def.
func minutesParam(r *http.Request, name string, def time.Duration) (time.Duration, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s: %s", name, v)
	}
	return time.Duration(n) * time.Minute, nil
}

func (s *Server) handleRemoveDuplicates(w http.ResponseWriter, r *http.Request) {
	tolerance, err := minutesParam(r, "time_tolerance", s.cfg.DedupTolerance)
	if err != nil {
		writeErr(w, r, http.StatusBadRequest, err)
		return
	}
	stats, err := s.deps.Maintenance.DeduplicatePrograms(r.Context(), tolerance, s.cfg.DedupThreshold)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Duplicate programs removed successfully",
		"stats":   stats,
	})
}

func (s *Server) handlePreviewDuplicates(w http.ResponseWriter, r *http.Request) {
	tolerance, err := minutesParam(r, "time_tolerance", s.cfg.DedupTolerance)
	if err != nil {
		writeErr(w, r, http.StatusBadRequest, err)
		return
	}
	preview, err := s.deps.Maintenance.PreviewDuplicates(r.Context(), tolerance, service.PreviewLimit)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, preview)
}

func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	days := s.cfg.RetentionDays
	if v := r.URL.Query().Get("retention_days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeErr(w, r, http.StatusBadRequest, fmt.Errorf("invalid retention_days: %s", v))
			return
		}
		days = n
	}
	res, err := s.deps.Maintenance.CleanupOldPrograms(r.Context(), days)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":        true,
		"retention_days": days,
		"result":         res,
	})
}
