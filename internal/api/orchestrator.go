package api

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/rvhonorato/orchestrator/internal/artifact"
	"github.com/rvhonorato/orchestrator/internal/config"
	"github.com/rvhonorato/orchestrator/internal/db"
	"github.com/rvhonorato/orchestrator/internal/repositories"
)

// maxUploadBytes caps the multipart request body on /upload.
const maxUploadBytes = 400 << 20 // 400 MiB

// OrchestratorHandler groups the ingest and download handlers.
type OrchestratorHandler struct {
	jobs   repositories.JobRepository
	store  *artifact.Store
	cfg    *config.Config
	logger *zap.Logger
}

// NewOrchestratorHandler creates the handler set for the orchestrator surface.
func NewOrchestratorHandler(jobs repositories.JobRepository, store *artifact.Store, cfg *config.Config, logger *zap.Logger) *OrchestratorHandler {
	return &OrchestratorHandler{
		jobs:   jobs,
		store:  store,
		cfg:    cfg,
		logger: logger.Named("orchestrator_handler"),
	}
}

// Upload handles POST /upload: multipart/form-data with any number of file
// parts plus the text parts user_id and service. Files stream to the job
// directory as they arrive; validation failures remove the directory and no
// job row is ever written for them.
func (h *OrchestratorHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	mr, err := r.MultipartReader()
	if err != nil {
		Err(w, http.StatusBadRequest, "expected multipart/form-data: "+err.Error())
		return
	}

	loc, err := h.store.NewJobDir()
	if err != nil {
		h.logger.Error("failed to create job directory", zap.Error(err))
		Err(w, http.StatusInternalServerError, "could not stage upload")
		return
	}

	var (
		userIDRaw string
		service   string
		sawFile   bool
	)

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			h.discard(loc)
			Err(w, http.StatusBadRequest, "unreadable multipart body: "+err.Error())
			return
		}

		if part.FileName() == "" {
			value, err := readTextPart(part)
			if err != nil {
				h.discard(loc)
				Err(w, http.StatusBadRequest, "unreadable form field: "+err.Error())
				return
			}
			switch part.FormName() {
			case "user_id":
				userIDRaw = value
			case "service":
				service = value
			}
			continue
		}

		name := artifact.SanitizeFilename(part.FileName())
		if err := artifact.SaveFile(filepath.Join(loc, name), part); err != nil {
			part.Close()
			h.discard(loc)
			h.logger.Error("failed to save uploaded file", zap.String("file", name), zap.Error(err))
			Err(w, http.StatusInternalServerError, "could not save file")
			return
		}
		part.Close()
		sawFile = true
	}

	userID, err := strconv.ParseInt(userIDRaw, 10, 64)
	if err != nil {
		h.discard(loc)
		Err(w, http.StatusBadRequest, "user_id must be an integer")
		return
	}
	if service == "" {
		h.discard(loc)
		Err(w, http.StatusBadRequest, "service is required")
		return
	}
	svc, ok := h.cfg.Service(service)
	if !ok {
		h.discard(loc)
		Err(w, http.StatusServiceUnavailable, "service not configured: "+service)
		return
	}
	if !sawFile {
		h.discard(loc)
		Err(w, http.StatusBadRequest, "at least one file part is required")
		return
	}

	job := &db.Job{
		UserID:  userID,
		Service: svc.Name,
		Status:  db.StatusUnknown,
		Loc:     loc,
	}
	if err := h.jobs.Create(r.Context(), job); err != nil {
		h.discard(loc)
		h.logger.Error("failed to persist job", zap.Error(err))
		Err(w, http.StatusInternalServerError, "could not persist job")
		return
	}
	if err := h.jobs.UpdateStatus(r.Context(), job.ID, db.StatusQueued); err != nil {
		h.logger.Error("failed to queue job", zap.Int64("job_id", job.ID), zap.Error(err))
		Err(w, http.StatusInternalServerError, "could not queue job")
		return
	}
	job.Status = db.StatusQueued

	h.logger.Info("job queued",
		zap.Int64("job_id", job.ID),
		zap.Int64("user_id", job.UserID),
		zap.String("service", job.Service),
	)
	JSON(w, http.StatusOK, job)
}

// Download handles GET /download/{id}: the output archive for Completed
// jobs, 202 while the job is still moving, 204 once it terminally has no
// output, 404 for ids never issued.
func (h *OrchestratorHandler) Download(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		Err(w, http.StatusNotFound, "no such job")
		return
	}

	job, err := h.jobs.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			Err(w, http.StatusNotFound, "no such job")
			return
		}
		h.logger.Error("job lookup failed", zap.Int64("job_id", id), zap.Error(err))
		Err(w, http.StatusInternalServerError, "lookup failed")
		return
	}

	switch job.Status {
	case db.StatusCompleted:
		h.serveArchive(w, job)
	case db.StatusFailed, db.StatusCleaned, db.StatusUnknown:
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusAccepted)
	}
}

// serveArchive streams the job's output archive. Which name exists depends
// on the adapter that fetched it: jobd decodes to output.zip, the streaming
// adapter saves download.zip.
func (h *OrchestratorHandler) serveArchive(w http.ResponseWriter, job *db.Job) {
	for _, name := range []string{"output.zip", "download.zip"} {
		path := filepath.Join(job.Loc, name)
		f, err := os.Open(path)
		if err != nil {
			continue
		}
		defer f.Close()

		w.Header().Set("Content-Type", "application/zip")
		w.WriteHeader(http.StatusOK)
		if _, err := io.Copy(w, f); err != nil {
			h.logger.Warn("interrupted archive download",
				zap.Int64("job_id", job.ID),
				zap.Error(err),
			)
		}
		return
	}

	h.logger.Error("completed job has no output archive",
		zap.Int64("job_id", job.ID),
		zap.String("loc", job.Loc),
	)
	Err(w, http.StatusInternalServerError, "output archive missing")
}

// discard removes a half-staged upload directory.
func (h *OrchestratorHandler) discard(loc string) {
	if err := artifact.RemoveDir(loc); err != nil {
		h.logger.Warn("failed to remove staging directory", zap.String("loc", loc), zap.Error(err))
	}
}

// readTextPart drains a text field, capped at 4 KiB.
func readTextPart(part *multipart.Part) (string, error) {
	defer part.Close()
	raw, err := io.ReadAll(io.LimitReader(part, 4096))
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
