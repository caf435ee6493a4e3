package server

import (
	"net/http"
	"strings"

	"github.com/reconic/backend/auth"
	"github.com/reconic/backend/store"
)

// HandleListFavorites returns the caller's favorited channels.
func (h *Handlers) HandleListFavorites(w http.ResponseWriter, r *http.Request) {
	items, err := h.store.ListFavorites(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		h.internalError(w, r, "list favorites failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"channels": nonNil(items)})
}

// HandleSaveFavorite bookmarks a channel. Saving an already favorited channel
// returns the existing record unchanged.
func (h *Handlers) HandleSaveFavorite(w http.ResponseWriter, r *http.Request) {
	var ch store.FavoriteChannel
	if !decodeJSON(w, r, &ch) {
		return
	}
	ch.ChannelID = strings.TrimSpace(ch.ChannelID)
	if ch.ChannelID == "" {
		writeError(w, http.StatusBadRequest, "Missing channelId")
		return
	}
	saved, err := h.store.SaveFavorite(r.Context(), auth.UserID(r.Context()), ch)
	if err != nil {
		h.internalError(w, r, "save favorite failed", err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

// HandleRemoveFavorite removes ?channelId= from the caller's favorites.
func (h *Handlers) HandleRemoveFavorite(w http.ResponseWriter, r *http.Request) {
	channelID := strings.TrimSpace(r.URL.Query().Get("channelId"))
	if channelID == "" {
		writeError(w, http.StatusBadRequest, "Missing channelId")
		return
	}
	if err := h.store.RemoveFavorite(r.Context(), auth.UserID(r.Context()), channelID); err != nil {
		h.storeError(w, r, "Channel", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
