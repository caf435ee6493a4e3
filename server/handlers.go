package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/reconic/backend/ai"
	"github.com/reconic/backend/auth"
	"github.com/reconic/backend/autosave"
	"github.com/reconic/backend/config"
	"github.com/reconic/backend/publish"
	"github.com/reconic/backend/searchcache"
	"github.com/reconic/backend/store"
	"github.com/reconic/backend/thumbnails"
	"github.com/reconic/backend/youtubeapi"
)

// maxJSONBody bounds JSON request bodies; thumbnails arrive as data URLs.
const maxJSONBody = 4 << 20

// Deps are the services the handlers call into.
type Deps struct {
	Config     *config.Config
	Store      store.Store
	YouTube    *youtubeapi.Service
	AI         *ai.Service
	Cache      *searchcache.Cache
	Thumbnails *thumbnails.Service
	Publisher  *publish.Worker
	Autosave   *autosave.Debouncer
	Signer     *auth.Signer
}

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	cfg       *config.Config
	store     store.Store
	yt        *youtubeapi.Service
	ai        *ai.Service
	cache     *searchcache.Cache
	thumbs    *thumbnails.Service
	publisher *publish.Worker
	autosave  *autosave.Debouncer
	delays    autosave.Delays
	signer    *auth.Signer
	logger    *slog.Logger
}

// NewHandlers creates a new Handlers instance with the given dependencies.
func NewHandlers(d Deps) *Handlers {
	h := &Handlers{
		cfg:       d.Config,
		store:     d.Store,
		yt:        d.YouTube,
		ai:        d.AI,
		cache:     d.Cache,
		thumbs:    d.Thumbnails,
		publisher: d.Publisher,
		autosave:  d.Autosave,
		signer:    d.Signer,
		logger:    slog.Default().With(slog.String("component", "http")),
	}
	if h.cfg == nil {
		h.cfg = &config.Config{}
	}
	h.delays = autosave.Delays{
		Notes:  h.cfg.AutosaveNotesDelay,
		Checks: h.cfg.AutosaveChecksDelay,
		Script: h.cfg.AutosaveScriptDelay,
	}
	if h.autosave == nil {
		h.autosave = autosave.NewDebouncer()
	}
	if h.thumbs == nil && d.Store != nil {
		h.thumbs = thumbnails.NewService(d.Store, nil)
	}
	return h
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode JSON response", slog.Any("err", err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// decodeJSON reads a bounded JSON body into v. An empty body leaves v untouched.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody)).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeError(w, http.StatusRequestEntityTooLarge, "Request body too large")
		return false
	}
	writeError(w, http.StatusBadRequest, "Invalid JSON body")
	return false
}

// internalError logs err and writes a generic 500.
func (h *Handlers) internalError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	h.logger.Error(msg, slog.String("path", r.URL.Path), slog.String("user_id", auth.UserID(r.Context())), slog.Any("err", err))
	writeError(w, http.StatusInternalServerError, "Internal server error")
}

// storeError maps ErrNotFound to 404 and anything else to 500.
func (h *Handlers) storeError(w http.ResponseWriter, r *http.Request, what string, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, what+" not found")
		return
	}
	h.internalError(w, r, "store operation failed", err)
}
