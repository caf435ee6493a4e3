package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/reconic/backend/ai"
	"github.com/reconic/backend/auth"
	"github.com/reconic/backend/project"
	"github.com/reconic/backend/store"
	"github.com/reconic/backend/telemetry"
)

// aiError maps generation failures to status codes.
func (h *Handlers) aiError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ai.ErrMissingVision):
		writeError(w, http.StatusBadRequest, "Missing vision")
	case errors.Is(err, ai.ErrMissingTopic):
		writeError(w, http.StatusBadRequest, "Missing topic")
	case errors.Is(err, ai.ErrNoTitles):
		writeError(w, http.StatusNotFound, "No videos found on channel")
	case errors.Is(err, ai.ErrNotConfigured):
		writeError(w, http.StatusServiceUnavailable, "AI not configured")
	default:
		h.logger.Error("ai request failed", slog.String("path", r.URL.Path), slog.Any("err", err))
		writeError(w, http.StatusBadGateway, "AI request failed")
	}
}

// HandleParseProject turns a free-form idea into project fields.
func (h *Handlers) HandleParseProject(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Vision string `json:"vision"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	draft, err := h.ai.ParseProject(r.Context(), body.Vision)
	if !errors.Is(err, ai.ErrMissingVision) {
		telemetry.RecordAI("parse-project", err)
	}
	if err != nil {
		h.aiError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, draft)
}

type suggestionsBody struct {
	Topic       string `json:"topic"`
	Description string `json:"description"`
	Duration    int    `json:"duration"`
	ProjectID   string `json:"projectId"`
}

// HandleSuggestions streams generated titles, thumbnail concepts, outline,
// hooks and chapters as plain text. With a projectId the decoded result is
// saved on the project once the stream completes.
func (h *Handlers) HandleSuggestions(w http.ResponseWriter, r *http.Request) {
	var body suggestionsBody
	if !decodeJSON(w, r, &body) {
		return
	}
	if strings.TrimSpace(body.Topic) == "" {
		writeError(w, http.StatusBadRequest, "Missing topic")
		return
	}
	if !h.ai.Ready() {
		writeError(w, http.StatusServiceUnavailable, "AI not configured")
		return
	}
	ctx := r.Context()
	userID := auth.UserID(ctx)
	if body.ProjectID != "" {
		if _, err := h.store.GetProject(ctx, userID, body.ProjectID); err != nil {
			h.storeError(w, r, "Project", err)
			return
		}
	}

	var channelCtx string
	acct, err := h.store.GetAccount(ctx, userID)
	switch {
	case err == nil:
		channelCtx = ai.ChannelContext(acct)
	case !errors.Is(err, store.ErrNotFound):
		h.logger.Warn("channel context unavailable", slog.String("user_id", userID), slog.Any("err", err))
	}

	flusher, _ := w.(http.Flusher)
	started := false
	emit := func(chunk string) error {
		if !started {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.Header().Set("Cache-Control", "no-cache")
			w.Header().Set("X-Accel-Buffering", "no")
			w.WriteHeader(http.StatusOK)
			started = true
		}
		if _, err := w.Write([]byte(chunk)); err != nil {
			return err
		}
		if flusher != nil {
			flusher.Flush()
		}
		return nil
	}

	out, err := h.ai.StreamSuggestions(ctx, ai.SuggestionsRequest{
		Topic:          body.Topic,
		Description:    body.Description,
		Duration:       body.Duration,
		ChannelContext: channelCtx,
	}, emit)
	telemetry.RecordAI("suggestions", err)
	if err != nil {
		if !started {
			h.aiError(w, r, err)
			return
		}
		// Headers are gone; the client sees a truncated body.
		h.logger.Error("suggestions stream failed", slog.String("user_id", userID), slog.Any("err", err))
		return
	}

	if body.ProjectID == "" {
		return
	}
	if _, err := h.store.PatchProject(ctx, userID, body.ProjectID, project.Patch{AISuggestions: project.Set(*out)}); err != nil {
		h.logger.Error("save suggestions failed", slog.String("project_id", body.ProjectID), slog.Any("err", err))
		return
	}
	if raw, err := json.Marshal(out); err == nil {
		if err := h.store.PutDraft(ctx, userID, body.ProjectID, store.DraftSuggestions, string(raw)); err != nil {
			h.logger.Warn("save suggestions draft failed", slog.String("project_id", body.ProjectID), slog.Any("err", err))
		}
	}
}
