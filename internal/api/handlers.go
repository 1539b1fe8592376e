package api

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/embedview/server/internal/filter"
	"github.com/embedview/server/internal/ingest"
	"github.com/embedview/server/internal/jobstore"
	"github.com/embedview/server/internal/store"
)

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func contextStatsHandler(w http.ResponseWriter, r *http.Request) {
	svc := getViewService(r)
	if svc == nil {
		http.Error(w, "view service not available", http.StatusInternalServerError)
		return
	}
	writeJSON(w, svc.Stats())
}

// Filter handlers

func contextFiltersHandler(w http.ResponseWriter, r *http.Request) {
	svc := getViewService(r)
	if svc == nil {
		http.Error(w, "view service not available", http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]interface{}{
		"filters":  svc.Filters(),
		"color_by": svc.ColorBy(),
	})
}

func contextFilterHandler(w http.ResponseWriter, r *http.Request) {
	svc := getViewService(r)
	if svc == nil {
		http.Error(w, "view service not available", http.StatusInternalServerError)
		return
	}
	name := chi.URLParam(r, "filter")
	f := svc.Filter(name)
	if f == nil {
		http.Error(w, "filter not found: "+name, http.StatusNotFound)
		return
	}
	writeJSON(w, f)
}

type optionToggleRequest struct {
	Visible bool `json:"visible"`
}

func contextFilterOptionHandler(w http.ResponseWriter, r *http.Request) {
	svc := getViewService(r)
	if svc == nil {
		http.Error(w, "view service not available", http.StatusInternalServerError)
		return
	}
	name := chi.URLParam(r, "filter")
	entityID, err := strconv.ParseInt(chi.URLParam(r, "entity_id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid entity_id", http.StatusBadRequest)
		return
	}

	var req optionToggleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	if err := svc.SetOptionVisible(name, entityID, req.Visible); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, filter.ErrNotFound) {
			status = http.StatusNotFound
		}
		http.Error(w, err.Error(), status)
		return
	}

	writeJSON(w, map[string]interface{}{
		"filter":  svc.Filter(name),
		"visible": svc.VisibleCount(),
	})
}

type rangeRequest struct {
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Commit bool    `json:"commit"`
}

func contextFilterRangeHandler(w http.ResponseWriter, r *http.Request) {
	svc := getViewService(r)
	if svc == nil {
		http.Error(w, "view service not available", http.StatusInternalServerError)
		return
	}
	name := chi.URLParam(r, "filter")

	var req rangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if math.IsNaN(req.Min) || math.IsNaN(req.Max) ||
		math.IsInf(req.Min, 0) || math.IsInf(req.Max, 0) {
		http.Error(w, "min and max must be finite", http.StatusBadRequest)
		return
	}

	if err := svc.SetContinuousRange(name, req.Min, req.Max, req.Commit); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, filter.ErrNotFound) {
			status = http.StatusNotFound
		}
		http.Error(w, err.Error(), status)
		return
	}

	writeJSON(w, map[string]interface{}{
		"filter":    svc.Filter(name),
		"committed": req.Commit,
		"visible":   svc.VisibleCount(),
	})
}

type colorByRequest struct {
	Filter string `json:"filter"`
}

func contextColorByHandler(w http.ResponseWriter, r *http.Request) {
	svc := getViewService(r)
	if svc == nil {
		http.Error(w, "view service not available", http.StatusInternalServerError)
		return
	}

	var req colorByRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Filter) == "" {
		http.Error(w, "filter is required", http.StatusBadRequest)
		return
	}

	if err := svc.SetColorBy(req.Filter); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, filter.ErrNotFound) {
			status = http.StatusNotFound
		}
		http.Error(w, err.Error(), status)
		return
	}

	writeJSON(w, map[string]interface{}{"color_by": svc.ColorBy()})
}

// Visible / points handlers

func contextVisibleHandler(w http.ResponseWriter, r *http.Request) {
	svc := getViewService(r)
	if svc == nil {
		http.Error(w, "view service not available", http.StatusInternalServerError)
		return
	}

	response := map[string]interface{}{
		"count": svc.VisibleCount(),
		"total": svc.Store().Len(),
	}
	// Id lists get large; skip them with ?ids=false.
	if r.URL.Query().Get("ids") != "false" {
		response["record_ids"] = svc.VisibleIDs()
	}
	writeJSON(w, response)
}

func contextPointsHandler(w http.ResponseWriter, r *http.Request) {
	svc := getViewService(r)
	if svc == nil {
		http.Error(w, "view service not available", http.StatusInternalServerError)
		return
	}

	data, err := svc.PointsJSON()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

// Record handlers

func contextRecordHandler(w http.ResponseWriter, r *http.Request) {
	svc := getViewService(r)
	if svc == nil {
		http.Error(w, "view service not available", http.StatusInternalServerError)
		return
	}

	id, err := strconv.ParseInt(chi.URLParam(r, "record_id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid record_id", http.StatusBadRequest)
		return
	}

	detail := svc.RecordDetail(id)
	if detail == nil {
		http.Error(w, "record not found", http.StatusNotFound)
		return
	}
	writeJSON(w, detail)
}

// contextRecordListHandler pages through the effective record set (selection
// when non-empty, otherwise the visible set); this backs the grid view.
func contextRecordListHandler(w http.ResponseWriter, r *http.Request) {
	svc := getViewService(r)
	if svc == nil {
		http.Error(w, "view service not available", http.StatusInternalServerError)
		return
	}

	offset, limit := parsePagination(r.URL.Query(), 100, 1000)

	ids := svc.EffectiveIDs()
	total := len(ids)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	pageIDs := ids[offset:end]

	items := make([]*store.Record, 0, len(pageIDs))
	for _, id := range pageIDs {
		if rec := svc.Store().Record(id); rec != nil {
			items = append(items, rec)
		}
	}

	writeJSON(w, map[string]interface{}{
		"total":  total,
		"offset": offset,
		"limit":  limit,
		"items":  items,
	})
}

func parsePagination(query url.Values, defaultLimit, maxLimit int) (offset, limit int) {
	limit = defaultLimit
	if offsetStr := query.Get("offset"); offsetStr != "" {
		if v, err := strconv.Atoi(offsetStr); err == nil && v >= 0 {
			offset = v
		}
	}
	if limitStr := query.Get("limit"); limitStr != "" {
		if v, err := strconv.Atoi(limitStr); err == nil && v > 0 {
			limit = v
			if limit > maxLimit {
				limit = maxLimit
			}
		}
	}
	return offset, limit
}

// Selection handlers

func contextSelectionHandler(w http.ResponseWriter, r *http.Request) {
	svc := getViewService(r)
	if svc == nil {
		http.Error(w, "view service not available", http.StatusInternalServerError)
		return
	}
	writeJSON(w, svc.Selection())
}

type selectIndicesRequest struct {
	Indices []int `json:"indices"`
}

func contextSelectIndicesHandler(w http.ResponseWriter, r *http.Request) {
	svc := getViewService(r)
	if svc == nil {
		http.Error(w, "view service not available", http.StatusInternalServerError)
		return
	}

	var req selectIndicesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	svc.SelectIndices(req.Indices)
	writeJSON(w, svc.Selection())
}

type selectOptionRequest struct {
	Filter   string `json:"filter"`
	EntityID int64  `json:"entity_id"`
}

func contextSelectOptionHandler(w http.ResponseWriter, r *http.Request) {
	svc := getViewService(r)
	if svc == nil {
		http.Error(w, "view service not available", http.StatusInternalServerError)
		return
	}

	var req selectOptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Filter) == "" {
		http.Error(w, "filter is required", http.StatusBadRequest)
		return
	}

	if err := svc.SelectByOption(req.Filter, req.EntityID); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, filter.ErrNotFound) {
			status = http.StatusNotFound
		}
		http.Error(w, err.Error(), status)
		return
	}
	writeJSON(w, svc.Selection())
}

func contextClearSelectionHandler(w http.ResponseWriter, r *http.Request) {
	svc := getViewService(r)
	if svc == nil {
		http.Error(w, "view service not available", http.StatusInternalServerError)
		return
	}
	svc.ClearSelection()
	writeJSON(w, svc.Selection())
}

// Preview handler

func contextPreviewHandler(w http.ResponseWriter, r *http.Request) {
	svc := getViewService(r)
	if svc == nil {
		http.Error(w, "view service not available", http.StatusInternalServerError)
		return
	}

	pointSize := 0.0
	if raw := strings.TrimSpace(r.URL.Query().Get("point_size")); raw != "" {
		if v, err := strconv.ParseFloat(raw, 64); err == nil {
			pointSize = v
		}
	}

	data, err := svc.Preview(pointSize)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	// The preview reflects mutable filter state; revalidate on every request.
	w.Header().Set("Cache-Control", "no-cache")
	w.Write(data)
}

// Ingestion job handlers

type ingestSubmitRequest struct {
	Page        *ingest.RawPage        `json:"page"`
	Projections []ingest.RawProjection `json:"projections,omitempty"`
	RemapIDs    bool                   `json:"remap_ids,omitempty"`
}

func ingestJobSubmitHandler(im *ingest.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if im == nil {
			http.Error(w, "ingest manager not configured", http.StatusNotImplemented)
			return
		}

		var req ingestSubmitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
			return
		}
		if req.Page == nil && len(req.Projections) == 0 {
			http.Error(w, "page or projections is required", http.StatusBadRequest)
			return
		}

		ctx := store.Context(chi.URLParam(r, "context"))
		job, err := im.Submit(ctx, req.Page, req.Projections, ingest.Options{RemapIDs: req.RemapIDs})
		if err != nil {
			if errors.Is(err, ingest.ErrPageInFlight) {
				http.Error(w, err.Error(), http.StatusConflict)
				return
			}
			http.Error(w, "failed to submit job: "+err.Error(), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"job_id": job.ID,
			"status": job.Status,
		})
	}
}

func ingestJobStatusHandler(im *ingest.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if im == nil {
			http.Error(w, "ingest manager not configured", http.StatusNotImplemented)
			return
		}

		jobID := chi.URLParam(r, "job_id")
		job := im.Job(jobID)
		if job == nil {
			http.Error(w, "job not found", http.StatusNotFound)
			return
		}

		// Check context matches
		if job.Context != chi.URLParam(r, "context") {
			http.Error(w, "job not found", http.StatusNotFound)
			return
		}

		writeJSON(w, map[string]interface{}{
			"job_id":      job.ID,
			"status":      job.Status,
			"page":        job.Page,
			"created_at":  job.CreatedAt,
			"started_at":  job.StartedAt,
			"finished_at": job.FinishedAt,
			"records":     job.Records,
			"projections": job.Projections,
			"stubs":       job.Stubs,
			"error":       job.Error,
			"done":        job.Status == jobstore.JobStatusCompleted || job.Status == jobstore.JobStatusFailed,
		})
	}
}
