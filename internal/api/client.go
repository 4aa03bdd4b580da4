package api

import (
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/rvhonorato/orchestrator/internal/artifact"
	"github.com/rvhonorato/orchestrator/internal/db"
	"github.com/rvhonorato/orchestrator/internal/repositories"
)

// ClientHandler groups the submit and retrieve handlers of the client
// process.
type ClientHandler struct {
	payloads repositories.PayloadRepository
	store    *artifact.Store
	logger   *zap.Logger
}

// NewClientHandler creates the handler set for the client surface.
func NewClientHandler(payloads repositories.PayloadRepository, store *artifact.Store, logger *zap.Logger) *ClientHandler {
	return &ClientHandler{
		payloads: payloads,
		store:    store,
		logger:   logger.Named("client_handler"),
	}
}

// Submit handles POST /submit: each multipart file part becomes one input
// file in the payload's staging directory. Inputs stream straight to disk;
// once everything has landed the payload turns Prepared and the runner will
// pick it up.
func (h *ClientHandler) Submit(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	mr, err := r.MultipartReader()
	if err != nil {
		Err(w, http.StatusBadRequest, "expected multipart/form-data: "+err.Error())
		return
	}

	payload := &db.Payload{Status: db.StatusUnknown}
	if err := h.payloads.Create(r.Context(), payload); err != nil {
		h.logger.Error("failed to persist payload", zap.Error(err))
		Err(w, http.StatusInternalServerError, "could not persist payload")
		return
	}

	loc, err := h.store.PayloadDir(payload.ID)
	if err != nil {
		h.logger.Error("failed to create payload directory",
			zap.Int64("payload_id", payload.ID),
			zap.Error(err),
		)
		Err(w, http.StatusInternalServerError, "could not stage payload")
		return
	}

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
			part.Close()
			continue
		}

		name := artifact.SanitizeFilename(part.FileName())
		if err := artifact.SaveFile(filepath.Join(loc, name), part); err != nil {
			part.Close()
			h.discard(loc)
			h.logger.Error("failed to save input file",
				zap.Int64("payload_id", payload.ID),
				zap.String("file", name),
				zap.Error(err),
			)
			Err(w, http.StatusInternalServerError, "could not save file")
			return
		}
		part.Close()
	}

	if err := h.payloads.UpdateLoc(r.Context(), payload.ID, loc); err != nil {
		h.logger.Error("failed to record payload loc",
			zap.Int64("payload_id", payload.ID),
			zap.Error(err),
		)
		Err(w, http.StatusInternalServerError, "could not record payload")
		return
	}
	payload.Loc = loc

	if err := h.payloads.UpdateStatus(r.Context(), payload.ID, db.StatusPrepared); err != nil {
		h.logger.Error("failed to mark payload prepared",
			zap.Int64("payload_id", payload.ID),
			zap.Error(err),
		)
		Err(w, http.StatusInternalServerError, "could not prepare payload")
		return
	}
	payload.Status = db.StatusPrepared

	h.logger.Info("payload prepared", zap.Int64("payload_id", payload.ID))
	JSON(w, http.StatusOK, payload)
}

// Retrieve handles GET /retrieve/{id}: the zipped outputs of a Completed
// payload, 202 while it is still moving, 204 once terminally failed or
// cleaned, 404 for ids never issued. The bundle is produced lazily on first
// request and cached at {loc}/output.zip.
func (h *ClientHandler) Retrieve(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		Err(w, http.StatusNotFound, "no such payload")
		return
	}

	payload, err := h.payloads.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			Err(w, http.StatusNotFound, "no such payload")
			return
		}
		h.logger.Error("payload lookup failed", zap.Int64("payload_id", id), zap.Error(err))
		Err(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	if payload.Loc == "" {
		payload.Loc = filepath.Join(h.store.Root(), strconv.FormatInt(payload.ID, 10))
	}

	switch payload.Status {
	case db.StatusCompleted:
		h.serveBundle(w, payload)
	case db.StatusFailed, db.StatusCleaned:
		w.WriteHeader(http.StatusNoContent)
	default:
		// Unknown and Prepared are both pre-terminal for a payload.
		w.WriteHeader(http.StatusAccepted)
	}
}

// serveBundle zips the payload directory once, caches the archive inside it,
// and streams it.
func (h *ClientHandler) serveBundle(w http.ResponseWriter, payload *db.Payload) {
	archive := filepath.Join(payload.Loc, "output.zip")
	if _, err := os.Stat(archive); err != nil {
		if err := artifact.ZipDir(payload.Loc, archive); err != nil {
			h.logger.Error("failed to bundle payload outputs",
				zap.Int64("payload_id", payload.ID),
				zap.Error(err),
			)
			Err(w, http.StatusInternalServerError, "could not bundle outputs")
			return
		}
	}

	f, err := os.Open(archive)
	if err != nil {
		h.logger.Error("failed to open output bundle",
			zap.Int64("payload_id", payload.ID),
			zap.Error(err),
		)
		Err(w, http.StatusInternalServerError, "could not open bundle")
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "application/zip")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, f); err != nil {
		h.logger.Warn("interrupted bundle download",
			zap.Int64("payload_id", payload.ID),
			zap.Error(err),
		)
	}
}

// discard removes a half-staged payload directory.
func (h *ClientHandler) discard(loc string) {
	if err := artifact.RemoveDir(loc); err != nil {
		h.logger.Warn("failed to remove staging directory", zap.String("loc", loc), zap.Error(err))
	}
}
