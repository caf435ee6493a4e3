package server

import (
	"log/slog"
	"net/http"
)

// HandleAdminMonitor returns background work counters.
func (h *Handlers) HandleAdminMonitor(w http.ResponseWriter, r *http.Request) {
	stats := map[string]any{
		"pendingSaves": h.autosave.Pending(),
	}
	if h.publisher != nil {
		stats["activeUploads"] = h.publisher.Active()
	}
	if h.cache != nil {
		hits, misses := h.cache.Stats()
		stats["searchCache"] = map[string]any{"hits": hits, "misses": misses, "entries": h.cache.Len()}
	}
	writeJSON(w, http.StatusOK, stats)
}

// HandleAdminResumeUploads restarts queued or interrupted upload jobs.
func (h *Handlers) HandleAdminResumeUploads(w http.ResponseWriter, r *http.Request) {
	if h.publisher == nil {
		writeError(w, http.StatusServiceUnavailable, "Publishing disabled")
		return
	}
	n, err := h.publisher.Resume(r.Context())
	if err != nil {
		h.internalError(w, r, "resume uploads failed", err)
		return
	}
	slog.Info("admin resumed uploads", slog.Int("started", n), slog.String("component", "admin"))
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "started": n})
}

// HandleAdminFlushAutosave writes every pending debounced draft now.
func (h *Handlers) HandleAdminFlushAutosave(w http.ResponseWriter, r *http.Request) {
	pending := h.autosave.Pending()
	if err := h.autosave.Flush(r.Context()); err != nil {
		h.internalError(w, r, "autosave flush failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "flushed": pending})
}
