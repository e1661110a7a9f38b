package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/joblisting-crawler/internal/crawler"
)

const (
	defaultJobLimit = 50
	maxJobLimit     = 500
	sinkTimeout     = 3 * time.Second
)

// JobsHandler exposes the persisted job records.
type JobsHandler struct {
	sink    crawler.PersistenceSink
	timeout time.Duration
	logger  *zap.Logger
}

// NewJobsHandler wires the sink and logger.
func NewJobsHandler(sink crawler.PersistenceSink, logger *zap.Logger) *JobsHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JobsHandler{
		sink:    sink,
		timeout: sinkTimeout,
		logger:  logger,
	}
}

// ListJobs handles GET /v1/jobs?status=&source=&keyword=&since=&limit=. It
// returns {"jobs": [...]} on success, 400 for invalid filters, 503 when no sink
// is configured, or 500 if the sink fails.
func (h *JobsHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	if h.sink == nil {
		writeError(w, http.StatusServiceUnavailable, "job store unavailable")
		return
	}
	filter, err := parseJobFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	jobs, err := h.sink.GetJobs(ctx, filter)
	if err != nil {
		h.logger.Error("list jobs failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	if jobs == nil {
		jobs = []crawler.JobRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

// UpdateJob handles PATCH /v1/jobs/{job_id}. Only the fields present in the
// body change. It returns 404 for unknown ids and 409 when the new URL belongs
// to another record.
func (h *JobsHandler) UpdateJob(w http.ResponseWriter, r *http.Request) {
	if h.sink == nil {
		writeError(w, http.StatusServiceUnavailable, "job store unavailable")
		return
	}
	jobID := strings.TrimSpace(chi.URLParam(r, "job_id"))
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "job_id is required")
		return
	}
	var req jobUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	update, err := req.toUpdate()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	if err := h.sink.UpdateJob(ctx, jobID, update); err != nil {
		switch {
		case errors.Is(err, crawler.ErrJobNotFound):
			writeError(w, http.StatusNotFound, "job not found")
		case errors.Is(err, crawler.ErrDuplicateJob):
			writeError(w, http.StatusConflict, "url already stored for another job")
		default:
			h.logger.Error("update job failed", zap.String("job_id", jobID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to update job")
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"job_id": jobID, "status": "updated"})
}

type jobUpdateRequest struct {
	Status      *string `json:"status"`
	Description *string `json:"description"`
	Salary      *string `json:"salary"`
	Location    *string `json:"location"`
	URL         *string `json:"url"`
}

func (req jobUpdateRequest) toUpdate() (crawler.JobUpdate, error) {
	update := crawler.JobUpdate{
		Description: req.Description,
		Salary:      req.Salary,
		Location:    req.Location,
		URL:         req.URL,
	}
	if req.Status != nil {
		status := crawler.JobStatus(strings.ToLower(strings.TrimSpace(*req.Status)))
		if !status.Valid() {
			return crawler.JobUpdate{}, errors.New("invalid status")
		}
		update.Status = &status
	}
	if update == (crawler.JobUpdate{}) {
		return crawler.JobUpdate{}, errors.New("no fields to update")
	}
	return update, nil
}

func parseJobFilter(r *http.Request) (crawler.JobFilter, error) {
	q := r.URL.Query()
	limit, err := parseLimit(q.Get("limit"), defaultJobLimit, maxJobLimit)
	if err != nil {
		return crawler.JobFilter{}, err
	}
	filter := crawler.JobFilter{
		SourceSite: strings.TrimSpace(q.Get("source")),
		Keyword:    strings.TrimSpace(q.Get("keyword")),
		Limit:      limit,
	}
	if raw := strings.TrimSpace(q.Get("status")); raw != "" {
		status := crawler.JobStatus(strings.ToLower(raw))
		if !status.Valid() {
			return crawler.JobFilter{}, errors.New("invalid status")
		}
		filter.Status = status
	}
	if raw := strings.TrimSpace(q.Get("since")); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return crawler.JobFilter{}, errors.New("invalid since, want RFC3339")
		}
		filter.Since = since
	}
	return filter, nil
}

func parseLimit(raw string, def, maxLimit int) (int, error) {
	if raw == "" {
		return def, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil || val <= 0 {
		return 0, errors.New("invalid limit")
	}
	return min(val, maxLimit), nil
}
