package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sells-group/trend-curator/internal/curation"
	"github.com/sells-group/trend-curator/internal/model"
	"github.com/sells-group/trend-curator/internal/store"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.store.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap, err := s.collector.Collect(r.Context(), store.ConfigFilter{UserID: userID(r)})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleGetProjectConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.orch.GetByProject(r.Context(), userID(r), chi.URLParam(r, "projectID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) handleCreateConfig(w http.ResponseWriter, r *http.Request) {
	var patch curation.ConfigPatch
	if err := decodeBody(r, &patch); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body"})
		return
	}
	cfg, err := s.orch.Create(r.Context(), userID(r), chi.URLParam(r, "projectID"), patch)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, cfg)
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.orch.Get(r.Context(), userID(r), chi.URLParam(r, "configID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	var patch curation.ConfigPatch
	if err := decodeBody(r, &patch); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body"})
		return
	}
	cfg, err := s.orch.Update(r.Context(), userID(r), chi.URLParam(r, "configID"), patch)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) handleDeleteConfig(w http.ResponseWriter, r *http.Request) {
	if err := s.orch.Delete(r.Context(), userID(r), chi.URLParam(r, "configID")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleActivate(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, s.orch.Activate)
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, s.orch.Pause)
}

func (s *Server) transition(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, userID, configID string) (*model.ScanConfig, error)) {
	cfg, err := fn(r.Context(), userID(r), chi.URLParam(r, "configID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	configID := chi.URLParam(r, "configID")
	if _, err := s.orch.Get(r.Context(), userID(r), configID); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.orch.TriggerAsync(r.Context(), configID); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted", "config_id": configID})
}

type resultsPage struct {
	Results []model.ScanResult `json:"results"`
	Total   int                `json:"total"`
	Limit   int                `json:"limit"`
	Offset  int                `json:"offset"`
}

func (s *Server) handleListResults(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset = max(offset, 0)
	includeDismissed, _ := strconv.ParseBool(q.Get("include_dismissed"))

	results, total, err := s.store.ListResults(r.Context(), store.ResultFilter{
		ProjectID:        chi.URLParam(r, "projectID"),
		UserID:           userID(r),
		Sort:             store.ParseResultSort(q.Get("sort")),
		IncludeDismissed: includeDismissed,
		Limit:            limit,
		Offset:           offset,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	if results == nil {
		results = []model.ScanResult{}
	}
	writeJSON(w, http.StatusOK, resultsPage{Results: results, Total: total, Limit: limit, Offset: offset})
}

func (s *Server) handleClearResults(w http.ResponseWriter, r *http.Request) {
	n, err := s.store.ClearResults(r.Context(), userID(r), chi.URLParam(r, "projectID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"cleared": n})
}

func (s *Server) handleDismiss(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DismissResult(r.Context(), userID(r), chi.URLParam(r, "resultID")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	if err := s.store.SaveResult(r.Context(), userID(r), chi.URLParam(r, "resultID")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
