package handlers

import (
	"io"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/mafutapass/receipts/internal/api/middleware"
	"github.com/mafutapass/receipts/internal/archive"
	"github.com/mafutapass/receipts/internal/jobs"
	"github.com/mafutapass/receipts/internal/processor"
)

// maxImageBytes caps a single receipt upload.
const maxImageBytes = 20 << 20

// defaultListLimit bounds list endpoints when the caller gives no limit.
const defaultListLimit = 50

// ReceiptsHandler handles receipt capture and retrieval endpoints.
type ReceiptsHandler struct {
	proc *processor.Processor
	repo archive.Repository
	log  zerolog.Logger
}

// NewReceiptsHandler creates a new receipts handler.
func NewReceiptsHandler(proc *processor.Processor, repo archive.Repository, log zerolog.Logger) *ReceiptsHandler {
	return &ReceiptsHandler{
		proc: proc,
		repo: repo,
		log:  log,
	}
}

// ProcessReceipt handles POST /api/receipts. The body is the image; capture
// context arrives in query parameters so mobile clients can stream the photo
// without a multipart envelope.
func (h *ReceiptsHandler) ProcessReceipt(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userEmail := middleware.UserEmail(ctx)
	if userEmail == "" {
		middleware.WriteError(w, http.StatusUnauthorized, "Caller identity is required")
		return
	}

	image, err := io.ReadAll(io.LimitReader(r.Body, maxImageBytes+1))
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Failed to read image")
		return
	}
	if len(image) == 0 {
		middleware.WriteError(w, http.StatusBadRequest, "Image body is required")
		return
	}
	if len(image) > maxImageBytes {
		middleware.WriteError(w, http.StatusRequestEntityTooLarge, "Image exceeds the upload limit")
		return
	}

	query := r.URL.Query()
	opts := processor.Options{
		UserEmail:   userEmail,
		UserID:      userEmail,
		WorkspaceID: query.Get("workspace_id"),
		Filename:    query.Get("filename"),
		ContentType: r.Header.Get("Content-Type"),
		TemplateID:  query.Get("template_id"),
		StoreID:     query.Get("store_id"),
		ReportID:    query.Get("report_id"),
		SkipAI:      query.Get("skip_ai") == "true",
		ForceAI:     query.Get("force_ai") == "true",
	}
	if lat, err := strconv.ParseFloat(query.Get("lat"), 64); err == nil {
		opts.Latitude = &lat
	}
	if lng, err := strconv.ParseFloat(query.Get("lng"), 64); err == nil {
		opts.Longitude = &lng
	}
	if acc, err := strconv.ParseFloat(query.Get("accuracy"), 64); err == nil {
		opts.LocationAccuracy = &acc
	}

	res := h.proc.Process(ctx, image, opts)

	status := http.StatusOK
	if res.Status == archive.StatusFailed {
		status = http.StatusUnprocessableEntity
	}
	middleware.WriteJSON(w, status, res)
}

// ListReceipts handles GET /api/receipts. By default it lists the caller's
// receipts; a store_id query parameter lists a store's receipts instead.
func (h *ReceiptsHandler) ListReceipts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userEmail := middleware.UserEmail(ctx)
	if userEmail == "" {
		middleware.WriteError(w, http.StatusUnauthorized, "Caller identity is required")
		return
	}

	limit := defaultListLimit
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	var (
		records []*archive.RawReceiptRecord
		err     error
	)
	if storeID := r.URL.Query().Get("store_id"); storeID != "" {
		records, err = h.repo.ListByStore(ctx, storeID, limit)
	} else {
		records, err = h.repo.ListByUser(ctx, userEmail, limit)
	}
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list receipts")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list receipts")
		return
	}
	if records == nil {
		records = []*archive.RawReceiptRecord{}
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"receipts": records,
		"count":    len(records),
	})
}

// GetReceipt handles GET /api/receipts/{id}
func (h *ReceiptsHandler) GetReceipt(w http.ResponseWriter, r *http.Request, receiptID string) {
	ctx := r.Context()

	rec, err := h.repo.GetByID(ctx, receiptID)
	if err != nil {
		h.log.Error().Err(err).Str("receipt_id", receiptID).Msg("Failed to get receipt")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to get receipt")
		return
	}
	if rec == nil {
		middleware.WriteError(w, http.StatusNotFound, "Receipt not found")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, rec)
}

// LinkStore handles PUT /api/receipts/{id}/store. Review tooling uses it to
// supply or correct the store link when recognition got it wrong.
func (h *ReceiptsHandler) LinkStore(w http.ResponseWriter, r *http.Request, receiptID string) {
	ctx := r.Context()

	storeID := r.URL.Query().Get("store_id")
	if storeID == "" {
		middleware.WriteError(w, http.StatusBadRequest, "store_id is required")
		return
	}

	rec, err := h.repo.GetByID(ctx, receiptID)
	if err != nil {
		h.log.Error().Err(err).Str("receipt_id", receiptID).Msg("Failed to get receipt")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to get receipt")
		return
	}
	if rec == nil {
		middleware.WriteError(w, http.StatusNotFound, "Receipt not found")
		return
	}

	if err := h.repo.UpdateStoreID(ctx, receiptID, storeID); err != nil {
		h.log.Error().Err(err).Str("receipt_id", receiptID).Msg("Failed to link store")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to link store")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]string{
		"receiptId": receiptID,
		"storeId":   storeID,
	})
}

// ExportReceipt handles GET /api/receipts/{id}/export. It returns the
// archived evidence as deterministic plain text for audits.
func (h *ReceiptsHandler) ExportReceipt(w http.ResponseWriter, r *http.Request, receiptID string) {
	ctx := r.Context()

	rec, err := h.repo.GetByID(ctx, receiptID)
	if err != nil {
		h.log.Error().Err(err).Str("receipt_id", receiptID).Msg("Failed to get receipt")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to get receipt")
		return
	}
	if rec == nil {
		middleware.WriteError(w, http.StatusNotFound, "Receipt not found")
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, archive.ExportText(rec))
}

// JobsHandler handles job-related endpoints.
type JobsHandler struct {
	store jobs.JobStore
	log   zerolog.Logger
}

// NewJobsHandler creates a new jobs handler.
func NewJobsHandler(store jobs.JobStore, log zerolog.Logger) *JobsHandler {
	return &JobsHandler{
		store: store,
		log:   log,
	}
}

// GetJob handles GET /api/jobs/{id}
func (h *JobsHandler) GetJob(w http.ResponseWriter, r *http.Request, jobID string) {
	ctx := r.Context()

	job, err := h.store.GetJob(ctx, jobID)
	if err != nil {
		h.log.Error().Err(err).Str("job_id", jobID).Msg("Failed to get job")
		middleware.WriteError(w, http.StatusNotFound, "Job not found")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, job)
}

// ListJobs handles GET /api/jobs
func (h *JobsHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	query := r.URL.Query()
	filter := jobs.JobFilter{
		ReceiptID: query.Get("receipt_id"),
		Status:    jobs.JobStatus(query.Get("status")),
	}

	if limitStr := query.Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil {
			filter.Limit = limit
		}
	}

	if offsetStr := query.Get("offset"); offsetStr != "" {
		if offset, err := strconv.Atoi(offsetStr); err == nil {
			filter.Offset = offset
		}
	}

	jobsList, err := h.store.ListJobs(ctx, filter)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list jobs")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list jobs")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobsList,
		"count": len(jobsList),
	})
}
