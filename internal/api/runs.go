package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/docket-scraper/internal/records"
)

const (
	defaultRunLimit = 50
	maxRunLimit     = 500
)

// listRuns handles GET /v1/runs?limit=&status=&source=. It returns
// {"runs": [...]} newest first, 400 for invalid filters or 500 if the store
// fails.
func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r, defaultRunLimit, maxRunLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var status records.RunStatus
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		if status, err = parseStatus(raw); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	source := strings.TrimSpace(r.URL.Query().Get("source"))

	ctx, cancel := context.WithTimeout(r.Context(), storeTimeout)
	defer cancel()
	runs, err := s.deps.Store.ListRuns(ctx, limit)
	if err != nil {
		s.logger.Error("list runs failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	out := make([]records.ScrapeRun, 0, len(runs))
	for _, run := range runs {
		if status != "" && run.Status != status {
			continue
		}
		if source != "" && run.Source != source {
			continue
		}
		out = append(out, run)
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": out})
}

// latestRun handles GET /v1/runs/latest?status=. It defaults to the latest
// successful summary row and answers 404 when there is none.
func (s *Server) latestRun(w http.ResponseWriter, r *http.Request) {
	status := records.RunSuccess
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		var err error
		if status, err = parseStatus(raw); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	ctx, cancel := context.WithTimeout(r.Context(), storeTimeout)
	defer cancel()
	run, err := s.deps.Store.LatestRun(ctx, status)
	if err != nil {
		if errors.Is(err, records.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no runs recorded")
			return
		}
		s.logger.Error("latest run failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load latest run")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"run_time": run.RunTime,
		"count":    run.Count,
		"run":      run,
	})
}

func parseLimit(r *http.Request, def, maxLimit int) (int, error) {
	limStr := r.URL.Query().Get("limit")
	if limStr == "" {
		return def, nil
	}
	val, err := strconv.Atoi(limStr)
	if err != nil || val <= 0 {
		return 0, errors.New("invalid limit")
	}
	return min(val, maxLimit), nil
}

func parseStatus(input string) (records.RunStatus, error) {
	switch strings.ToLower(input) {
	case "success":
		return records.RunSuccess, nil
	case "error", "failed", "failure":
		return records.RunError, nil
	default:
		return "", errors.New("invalid status")
	}
}
