// Package http contains the chi handlers for the insightpulse REST
// and WebSocket endpoints.
package http

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"insightpulse/internal/config"
	"insightpulse/internal/datasets"
	apierrors "insightpulse/internal/errors"
	"insightpulse/internal/jobs"
)

// JobService is the orchestration surface the handlers depend on
type JobService interface {
	EnsureStarted(ctx context.Context, jobID, domain string) error
	JobStatus(jobID string) (jobs.Job, bool)
	Cancel(jobID string)
}

// JobLister exposes read access to all tracked jobs
type JobLister interface {
	List() []jobs.Job
}

// JobHandler handles dataset uploads and job queries
type JobHandler struct {
	service  JobService
	registry JobLister
	store    *datasets.Store
	cfg      config.UploadConfig
	logger   *slog.Logger
	validate *validator.Validate
}

// NewJobHandler creates a new job handler
func NewJobHandler(service JobService, registry JobLister, store *datasets.Store, cfg config.UploadConfig, logger *slog.Logger) *JobHandler {
	return &JobHandler{
		service:  service,
		registry: registry,
		store:    store,
		cfg:      cfg,
		logger:   logger.With(slog.String("handler", "jobs")),
		validate: validator.New(),
	}
}

// Routes returns the job and dataset routes
func (h *JobHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(render.SetContentType(render.ContentTypeJSON))

	r.Post("/datasets", h.UploadDataset)
	r.Get("/jobs", h.ListJobs)
	r.Route("/jobs/{jobID}", func(r chi.Router) {
		r.Get("/", h.GetJob)
		r.Post("/cancel", h.CancelJob)
	})

	return r
}

// uploadForm carries the validated non-file fields of an upload
type uploadForm struct {
	Domain string `validate:"required,alphanum,max=32"`
}

// uploadResponse is the body returned for a stored dataset
type uploadResponse struct {
	JobID        string `json:"job_id"`
	Filename     string `json:"filename"`
	Size         int    `json:"size"`
	Domain       string `json:"domain"`
	Status       string `json:"status"`
	WebSocketURL string `json:"websocket_url"`
}

// UploadDataset handles POST /api/datasets. It stores the file and
// creates the job record; the analysis run itself starts when the
// first WebSocket subscriber attaches.
func (h *JobHandler) UploadDataset(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxFileSize)

	if err := r.ParseMultipartForm(h.cfg.MaxFileSize); err != nil {
		render.Render(w, r, apierrors.ErrPayloadTooLarge)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		render.Render(w, r, apierrors.ErrValidation("file", "dataset file is required"))
		return
	}
	defer file.Close()

	if ext := strings.ToLower(filepath.Ext(header.Filename)); ext != ".csv" {
		render.Render(w, r, apierrors.ErrValidation("file", "only .csv files are accepted"))
		return
	}

	form := uploadForm{Domain: r.FormValue("domain")}
	if form.Domain == "" {
		form.Domain = "generic"
	}
	if err := h.validate.Struct(form); err != nil {
		render.Render(w, r, apierrors.ErrValidation("domain", "domain must be a short alphanumeric identifier"))
		return
	}
	if !h.cfg.DomainAllowed(form.Domain) {
		msg := fmt.Sprintf("domain must be one of: %s", strings.Join(h.cfg.AllowedDomains, ", "))
		render.Render(w, r, apierrors.ErrValidation("domain", msg))
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		render.Render(w, r, apierrors.UploadError(err))
		return
	}
	if len(data) == 0 {
		render.Render(w, r, apierrors.ErrValidation("file", "dataset file is empty"))
		return
	}

	jobID := uuid.New().String()
	h.store.Put(jobID, datasets.Dataset{
		Filename: header.Filename,
		Domain:   form.Domain,
		Data:     data,
	})

	h.logger.InfoContext(r.Context(), "dataset uploaded",
		"job_id", jobID,
		"filename", header.Filename,
		"domain", form.Domain,
		"size", len(data))

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, uploadResponse{
		JobID:        jobID,
		Filename:     header.Filename,
		Size:         len(data),
		Domain:       form.Domain,
		Status:       "pending",
		WebSocketURL: "/ws/jobs/" + jobID,
	})
}

// ListJobs handles GET /api/jobs
func (h *JobHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	list := h.registry.List()
	render.JSON(w, r, map[string]interface{}{
		"jobs":  list,
		"count": len(list),
	})
}

// GetJob handles GET /api/jobs/{jobID}
func (h *JobHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	job, ok := h.service.JobStatus(jobID)
	if !ok {
		render.Render(w, r, apierrors.JobNotFoundError(jobID))
		return
	}

	render.JSON(w, r, job)
}

// CancelJob handles POST /api/jobs/{jobID}/cancel
func (h *JobHandler) CancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	if _, ok := h.service.JobStatus(jobID); !ok {
		render.Render(w, r, apierrors.JobNotFoundError(jobID))
		return
	}

	h.service.Cancel(jobID)
	h.logger.InfoContext(r.Context(), "job cancellation requested", "job_id", jobID)

	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, map[string]string{
		"job_id": jobID,
		"status": "cancelling",
	})
}
