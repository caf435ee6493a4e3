package server

import (
	"net/http"
)

// HandleHealthz responds to liveness probe requests by checking store connectivity.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		http.Error(w, "unhealthy", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// HandleReadyz reports not-ready only when the store is unreachable; missing
// optional integrations are listed but do not fail the probe.
func (h *Handlers) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status":       "not_ready",
			"failed_check": "store",
			"error":        err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ready",
		"features": h.features(),
	})
}

func (h *Handlers) features() map[string]bool {
	return map[string]bool{
		"youtubeOAuth":  h.cfg.OAuthReady(),
		"youtubeSearch": h.cfg.SearchReady(),
		"ai":            h.ai.Ready(),
		"s3Thumbnails":  h.cfg.ThumbnailBucket != "",
		"redisCache":    h.cfg.RedisURL != "",
	}
}

// HandleStatus returns a summary of background work.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	out := map[string]any{
		"storeBackend": h.cfg.StoreBackend,
		"features":     h.features(),
		"pendingSaves": h.autosave.Pending(),
	}
	if h.publisher != nil {
		out["activeUploads"] = h.publisher.Active()
	}
	writeJSON(w, http.StatusOK, out)
}
