package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/reconic/backend/auth"
	"github.com/reconic/backend/autosave"
	"github.com/reconic/backend/project"
	"github.com/reconic/backend/store"
	"github.com/reconic/backend/thumbnails"
)

// editableDrafts are the draft slots the client may write directly.
var editableDrafts = []string{store.DraftScript, store.DraftNotes, store.DraftEditorNotes, store.DraftBrollChecks}

// projectView is a project with its derived lifecycle phase.
type projectView struct {
	*project.Project
	Phase      project.Status `json:"phase"`
	PhaseLabel string         `json:"phaseLabel"`
}

func (h *Handlers) view(ctx context.Context, userID string, p *project.Project) projectView {
	phase := project.ComputeStatus(p, h.draft(ctx, userID, p.ID, store.DraftScript))
	return projectView{Project: p, Phase: phase, PhaseLabel: phase.Label()}
}

// draft reads a draft slot, treating read failures as an empty slot.
func (h *Handlers) draft(ctx context.Context, userID, projectID, field string) string {
	v, err := h.store.GetDraft(ctx, userID, projectID, field)
	if err != nil {
		h.logger.Warn("draft read failed", slog.String("project_id", projectID), slog.String("field", field), slog.Any("err", err))
		return ""
	}
	return v
}

// effectiveScript prefers the unsaved draft over the stored script.
func (h *Handlers) effectiveScript(ctx context.Context, userID string, p *project.Project) string {
	if d := h.draft(ctx, userID, p.ID, store.DraftScript); d != "" {
		return d
	}
	if p.Script != nil {
		return *p.Script
	}
	return ""
}

func (h *Handlers) effectiveChecks(ctx context.Context, userID string, p *project.Project) map[string]bool {
	if d := h.draft(ctx, userID, p.ID, store.DraftBrollChecks); d != "" {
		var checks map[string]bool
		if err := json.Unmarshal([]byte(d), &checks); err == nil {
			return checks
		}
	}
	if p.BrollChecks == nil {
		return map[string]bool{}
	}
	return p.BrollChecks
}

// loadProject fetches the {id} project for the caller, writing 404 when it is
// missing or belongs to someone else.
func (h *Handlers) loadProject(w http.ResponseWriter, r *http.Request) (*project.Project, bool) {
	p, err := h.store.GetProject(r.Context(), auth.UserID(r.Context()), r.PathValue("id"))
	if err != nil {
		h.storeError(w, r, "Project", err)
		return nil, false
	}
	return p, true
}

// scheduleDraftPatch debounces writing a draft slot back to its project column.
func (h *Handlers) scheduleDraftPatch(userID, projectID, field string, patch project.Patch) {
	h.autosave.Schedule(autosave.Key(userID, projectID, field), h.delays.For(field), func(ctx context.Context) error {
		_, err := h.store.PatchProject(ctx, userID, projectID, patch)
		return err
	})
}

func (h *Handlers) cancelDrafts(userID, projectID string, fields ...string) {
	for _, f := range fields {
		h.autosave.Cancel(autosave.Key(userID, projectID, f))
	}
}

// HandleListProjects returns the caller's projects, newest first.
func (h *Handlers) HandleListProjects(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := auth.UserID(ctx)
	ps, err := h.store.ListProjects(ctx, userID)
	if err != nil {
		h.internalError(w, r, "list projects failed", err)
		return
	}
	out := make([]projectView, 0, len(ps))
	for i := range ps {
		out = append(out, h.view(ctx, userID, &ps[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"projects": out})
}

// HandleCreateProject creates a project from {title, topic, description, targetDuration}.
func (h *Handlers) HandleCreateProject(w http.ResponseWriter, r *http.Request) {
	var in project.NewProject
	if !decodeJSON(w, r, &in) {
		return
	}
	if err := in.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx := r.Context()
	userID := auth.UserID(ctx)
	p, err := h.store.CreateProject(ctx, userID, in)
	if err != nil {
		h.internalError(w, r, "create project failed", err)
		return
	}
	writeJSON(w, http.StatusCreated, h.view(ctx, userID, p))
}

// HandleGetProject returns one project.
func (h *Handlers) HandleGetProject(w http.ResponseWriter, r *http.Request) {
	p, ok := h.loadProject(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, h.view(r.Context(), auth.UserID(r.Context()), p))
}

// HandlePatchProject applies a partial update. Keys present with null clear
// the stored value. Drafted fields written here replace their draft slot and
// drop any pending debounced write.
func (h *Handlers) HandlePatchProject(w http.ResponseWriter, r *http.Request) {
	var patch project.Patch
	if !decodeJSON(w, r, &patch) {
		return
	}
	if err := patch.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx := r.Context()
	userID := auth.UserID(ctx)
	id := r.PathValue("id")
	if patch.Empty() {
		h.HandleGetProject(w, r)
		return
	}

	p, err := h.store.PatchProject(ctx, userID, id, patch)
	if err != nil {
		h.storeError(w, r, "Project", err)
		return
	}
	syncDraft := func(field string, set bool, value string) {
		if !set {
			return
		}
		h.cancelDrafts(userID, id, field)
		if err := h.store.PutDraft(ctx, userID, id, field, value); err != nil {
			h.logger.Warn("draft sync failed", slog.String("project_id", id), slog.String("field", field), slog.Any("err", err))
		}
	}
	syncDraft(store.DraftScript, patch.Script.Set, deref(patch.Script.Value))
	syncDraft(store.DraftNotes, patch.Notes.Set, deref(patch.Notes.Value))
	syncDraft(store.DraftEditorNotes, patch.EditorNotes.Set, deref(patch.EditorNotes.Value))
	if patch.BrollChecks.Set {
		raw := ""
		if patch.BrollChecks.Value != nil {
			b, _ := json.Marshal(*patch.BrollChecks.Value)
			raw = string(b)
		}
		syncDraft(store.DraftBrollChecks, true, raw)
	}
	writeJSON(w, http.StatusOK, h.view(ctx, userID, p))
}

func deref[T any](v *T) T {
	var zero T
	if v == nil {
		return zero
	}
	return *v
}

// HandleDeleteProject removes a project with its drafts, inspirations and thumbnail.
func (h *Handlers) HandleDeleteProject(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := auth.UserID(ctx)
	id := r.PathValue("id")
	if _, ok := h.loadProject(w, r); !ok {
		return
	}
	h.cancelDrafts(userID, id, editableDrafts...)
	if err := h.thumbs.Delete(ctx, userID, id); err != nil {
		h.logger.Warn("thumbnail cleanup failed", slog.String("project_id", id), slog.Any("err", err))
	}
	if err := h.store.DeleteProject(ctx, userID, id); err != nil {
		h.storeError(w, r, "Project", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleListInspirations returns the project's saved reference videos.
func (h *Handlers) HandleListInspirations(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.loadProject(w, r); !ok {
		return
	}
	items, err := h.store.ListInspirations(r.Context(), auth.UserID(r.Context()), r.PathValue("id"))
	if err != nil {
		h.storeError(w, r, "Project", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"inspirations": nonNil(items)})
}

// HandleSaveInspiration saves a reference video. Saving the same video again
// replaces the earlier entry and moves it to the front.
func (h *Handlers) HandleSaveInspiration(w http.ResponseWriter, r *http.Request) {
	var in store.Inspiration
	if !decodeJSON(w, r, &in) {
		return
	}
	in.VideoID = strings.TrimSpace(in.VideoID)
	if in.VideoID == "" {
		writeError(w, http.StatusBadRequest, "Missing videoId")
		return
	}
	saved, err := h.store.SaveInspiration(r.Context(), auth.UserID(r.Context()), r.PathValue("id"), in)
	if err != nil {
		h.storeError(w, r, "Project", err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

// HandleRemoveInspiration removes ?videoId= from the project.
func (h *Handlers) HandleRemoveInspiration(w http.ResponseWriter, r *http.Request) {
	videoID := strings.TrimSpace(r.URL.Query().Get("videoId"))
	if videoID == "" {
		writeError(w, http.StatusBadRequest, "Missing videoId")
		return
	}
	if err := h.store.RemoveInspiration(r.Context(), auth.UserID(r.Context()), r.PathValue("id"), videoID); err != nil {
		h.storeError(w, r, "Inspiration", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleGetThumbnail returns {dataUrl}, null when no thumbnail is set.
func (h *Handlers) HandleGetThumbnail(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.loadProject(w, r); !ok {
		return
	}
	dataURL, err := h.thumbs.Get(r.Context(), auth.UserID(r.Context()), r.PathValue("id"))
	if err != nil {
		h.internalError(w, r, "get thumbnail failed", err)
		return
	}
	var v any
	if dataURL != "" {
		v = dataURL
	}
	writeJSON(w, http.StatusOK, map[string]any{"dataUrl": v})
}

// HandlePutThumbnail stores {dataUrl} as the project thumbnail.
func (h *Handlers) HandlePutThumbnail(w http.ResponseWriter, r *http.Request) {
	var body struct {
		DataURL string `json:"dataUrl"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	if _, ok := h.loadProject(w, r); !ok {
		return
	}
	err := h.thumbs.Put(r.Context(), auth.UserID(r.Context()), r.PathValue("id"), body.DataURL)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	case errors.Is(err, thumbnails.ErrTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, err.Error())
	case errors.Is(err, thumbnails.ErrInvalidDataURL), errors.Is(err, thumbnails.ErrNotImage):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		h.storeError(w, r, "Project", err)
	}
}

// HandleDeleteThumbnail clears the project thumbnail.
func (h *Handlers) HandleDeleteThumbnail(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.loadProject(w, r); !ok {
		return
	}
	if err := h.thumbs.Delete(r.Context(), auth.UserID(r.Context()), r.PathValue("id")); err != nil {
		h.storeError(w, r, "Thumbnail", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleGetDraft returns {value} for a draft slot. JSON slots are decoded.
func (h *Handlers) HandleGetDraft(w http.ResponseWriter, r *http.Request) {
	field := r.PathValue("field")
	if !store.ValidDraftField(field) {
		writeError(w, http.StatusBadRequest, "Unknown draft field")
		return
	}
	if _, ok := h.loadProject(w, r); !ok {
		return
	}
	raw, err := h.store.GetDraft(r.Context(), auth.UserID(r.Context()), r.PathValue("id"), field)
	if err != nil {
		h.internalError(w, r, "get draft failed", err)
		return
	}
	var value any
	switch {
	case raw == "":
	case field == store.DraftBrollChecks || field == store.DraftSuggestions:
		value = json.RawMessage(raw)
	default:
		value = raw
	}
	writeJSON(w, http.StatusOK, map[string]any{"value": value})
}

// HandlePutDraft writes {value} to a draft slot now and to the project after
// the field's debounce delay. Repeated writes within the delay coalesce.
func (h *Handlers) HandlePutDraft(w http.ResponseWriter, r *http.Request) {
	field := r.PathValue("field")
	if !store.ValidDraftField(field) || field == store.DraftSuggestions {
		writeError(w, http.StatusBadRequest, "Unknown draft field")
		return
	}
	var body struct {
		Value json.RawMessage `json:"value"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	stored, patch, err := draftPatch(field, body.Value)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx := r.Context()
	userID := auth.UserID(ctx)
	id := r.PathValue("id")
	if _, ok := h.loadProject(w, r); !ok {
		return
	}
	if err := h.store.PutDraft(ctx, userID, id, field, stored); err != nil {
		h.storeError(w, r, "Project", err)
		return
	}
	h.scheduleDraftPatch(userID, id, field, patch)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "scheduled"})
}

var errDraftValue = errors.New("invalid draft value")

// draftPatch converts a raw draft value into its slot text and project patch.
func draftPatch(field string, raw json.RawMessage) (string, project.Patch, error) {
	if field == store.DraftBrollChecks {
		var checks map[string]bool
		if len(raw) > 0 && string(raw) != "null" {
			if err := json.Unmarshal(raw, &checks); err != nil {
				return "", project.Patch{}, errDraftValue
			}
		}
		if checks == nil {
			checks = map[string]bool{}
		}
		b, _ := json.Marshal(checks)
		return string(b), project.Patch{BrollChecks: project.Set(checks)}, nil
	}

	var s string
	if len(raw) > 0 && string(raw) != "null" {
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", project.Patch{}, errDraftValue
		}
	}
	switch field {
	case store.DraftScript:
		return s, project.Patch{Script: project.Set(s)}, nil
	case store.DraftNotes:
		return s, project.Patch{Notes: project.Set(s)}, nil
	default:
		return s, project.Patch{EditorNotes: project.Set(s)}, nil
	}
}

func outline(p *project.Project) []string {
	if p.AISuggestions == nil {
		return nil
	}
	return p.AISuggestions.ScriptOutline
}

// HandleGetScript returns the working script with its stats and, when an AI
// outline exists, the outline template.
func (h *Handlers) HandleGetScript(w http.ResponseWriter, r *http.Request) {
	p, ok := h.loadProject(w, r)
	if !ok {
		return
	}
	script := h.effectiveScript(r.Context(), auth.UserID(r.Context()), p)
	ol := outline(p)
	out := map[string]any{
		"script": script,
		"stats":  project.Stats(script, p.TargetDuration, ol),
	}
	if len(ol) > 0 {
		out["template"] = project.BuildScriptTemplate(ol)
	}
	writeJSON(w, http.StatusOK, out)
}

// HandleApplyScriptTemplate replaces the script with the outline template.
// A script of substantial length is only replaced with {"force": true}.
func (h *Handlers) HandleApplyScriptTemplate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Force bool `json:"force"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	p, ok := h.loadProject(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	userID := auth.UserID(ctx)
	ol := outline(p)
	if len(ol) == 0 {
		writeError(w, http.StatusBadRequest, "No script outline available")
		return
	}
	current := h.effectiveScript(ctx, userID, p)
	if project.NeedsReplaceConfirm(current) && !body.Force {
		writeJSON(w, http.StatusConflict, map[string]any{
			"error": "Script already has content; resend with force to replace it",
			"words": project.WordCount(current),
		})
		return
	}

	script := project.BuildScriptTemplate(ol)
	h.cancelDrafts(userID, p.ID, store.DraftScript)
	if err := h.store.PutDraft(ctx, userID, p.ID, store.DraftScript, script); err != nil {
		h.storeError(w, r, "Project", err)
		return
	}
	if _, err := h.store.PatchProject(ctx, userID, p.ID, project.Patch{Script: project.Set(script)}); err != nil {
		h.storeError(w, r, "Project", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"script": script,
		"stats":  project.Stats(script, p.TargetDuration, ol),
	})
}

// HandleGetProduction returns the filming checklists parsed from the script.
func (h *Handlers) HandleGetProduction(w http.ResponseWriter, r *http.Request) {
	p, ok := h.loadProject(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	userID := auth.UserID(ctx)
	writeJSON(w, http.StatusOK, project.BuildProduction(h.effectiveScript(ctx, userID, p), h.effectiveChecks(ctx, userID, p)))
}

// HandleToggleBroll flips one B-roll shot's checked state.
func (h *Handlers) HandleToggleBroll(w http.ResponseWriter, r *http.Request) {
	p, ok := h.loadProject(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	userID := auth.UserID(ctx)
	hash := r.PathValue("hash")
	next := project.ToggleCheck(h.effectiveChecks(ctx, userID, p), hash)
	raw, err := json.Marshal(next)
	if err != nil {
		h.internalError(w, r, "encode checks failed", err)
		return
	}
	if err := h.store.PutDraft(ctx, userID, p.ID, store.DraftBrollChecks, string(raw)); err != nil {
		h.storeError(w, r, "Project", err)
		return
	}
	h.scheduleDraftPatch(userID, p.ID, store.DraftBrollChecks, project.Patch{BrollChecks: project.Set(next)})
	writeJSON(w, http.StatusOK, map[string]any{"checked": next[hash], "brollChecks": next})
}

// HandleSetPhase toggles a manual phase: selecting the current one clears it.
func (h *Handlers) HandleSetPhase(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Phase project.Status `json:"phase"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	p, ok := h.loadProject(w, r)
	if !ok {
		return
	}
	patch, err := project.TogglePhase(p.Status, body.Phase)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx := r.Context()
	userID := auth.UserID(ctx)
	updated, err := h.store.PatchProject(ctx, userID, p.ID, patch)
	if err != nil {
		h.storeError(w, r, "Project", err)
		return
	}
	writeJSON(w, http.StatusOK, h.view(ctx, userID, updated))
}
