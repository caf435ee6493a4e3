package server

import (
	"errors"
	"net/http"

	"github.com/reconic/backend/auth"
	"github.com/reconic/backend/publish"
	"github.com/reconic/backend/store"
)

// maxMultipartMemory is held in memory before multipart parts spill to disk.
const maxMultipartMemory = 32 << 20

// HandlePublish queues a video upload for the project. The multipart body
// carries file, title, description, privacy and an optional categoryId.
func (h *Handlers) HandlePublish(w http.ResponseWriter, r *http.Request) {
	if h.publisher == nil {
		writeError(w, http.StatusServiceUnavailable, "Publishing disabled")
		return
	}
	ctx := r.Context()
	userID := auth.UserID(ctx)
	if _, err := h.store.GetAccount(ctx, userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusBadRequest, "No YouTube account connected")
			return
		}
		h.internalError(w, r, "get account failed", err)
		return
	}

	if limit := h.cfg.MaxUploadBytes; limit > 0 {
		if r.ContentLength > limit {
			writeError(w, http.StatusRequestEntityTooLarge, "Video file too large")
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, limit)
	}
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "Video file too large")
			return
		}
		writeError(w, http.StatusBadRequest, "Invalid multipart body")
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()
	file, _, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Missing video file")
		return
	}
	defer file.Close()

	job, err := h.publisher.Enqueue(ctx, publish.Request{
		UserID:      userID,
		ProjectID:   r.PathValue("id"),
		Title:       r.FormValue("title"),
		Description: r.FormValue("description"),
		Privacy:     r.FormValue("privacy"),
		CategoryID:  r.FormValue("categoryId"),
	}, file)
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, map[string]string{"jobId": job.ID})
	case errors.Is(err, publish.ErrInvalid), errors.Is(err, publish.ErrEmptyFile):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		h.storeError(w, r, "Project", err)
	}
}

// HandleUploadStatus reports an upload job's progress.
func (h *Handlers) HandleUploadStatus(w http.ResponseWriter, r *http.Request) {
	if h.publisher == nil {
		writeError(w, http.StatusServiceUnavailable, "Publishing disabled")
		return
	}
	st, err := h.publisher.Status(r.Context(), auth.UserID(r.Context()), r.PathValue("id"))
	if err != nil {
		h.storeError(w, r, "Upload", err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}
