package server

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/reconic/backend/auth"
	"github.com/reconic/backend/store"
	"github.com/reconic/backend/youtubeapi"
)

const (
	oauthStateCookie = "yt_oauth_state"
	oauthStateTTL    = auth.StateTTL
)

// HandleYouTubeConnect starts the Google consent flow for the signed-in user.
func (h *Handlers) HandleYouTubeConnect(w http.ResponseWriter, r *http.Request) {
	if !h.cfg.OAuthReady() {
		writeError(w, http.StatusInternalServerError, "YouTube OAuth not configured")
		return
	}
	state, err := h.signer.NewState(auth.UserID(r.Context()))
	if err != nil {
		h.internalError(w, r, "oauth state generation failed", err)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		Path:     "/api/youtube",
		MaxAge:   int(oauthStateTTL.Seconds()),
		HttpOnly: true,
		Secure:   h.cfg.IsProduction(),
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, h.yt.AuthCodeURL(state), http.StatusFound)
}

// HandleYouTubeCallback completes the consent flow and links the channel. It
// always redirects back to the settings page, with an error code on failure.
func (h *Handlers) HandleYouTubeCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	// The state cookie is single use.
	http.SetCookie(w, &http.Cookie{Name: oauthStateCookie, Value: "", Path: "/api/youtube", MaxAge: -1, HttpOnly: true})

	if q.Get("error") != "" {
		h.settingsRedirect(w, r, "youtube_denied")
		return
	}
	code, state := q.Get("code"), q.Get("state")
	if code == "" || state == "" {
		h.settingsRedirect(w, r, "missing_params")
		return
	}
	c, err := r.Cookie(oauthStateCookie)
	if err != nil || c.Value != state {
		h.settingsRedirect(w, r, "invalid_state")
		return
	}
	userID, err := h.signer.VerifyState(state)
	if err != nil {
		h.settingsRedirect(w, r, "invalid_state")
		return
	}

	if _, err := h.yt.Connect(r.Context(), userID, code); err != nil {
		if errors.Is(err, youtubeapi.ErrNoChannel) {
			h.settingsRedirect(w, r, "no_channel")
			return
		}
		h.logger.Error("youtube connect failed", slog.String("user_id", userID), slog.Any("err", err))
		h.settingsRedirect(w, r, "token_exchange")
		return
	}
	h.settingsRedirect(w, r, "")
}

func (h *Handlers) settingsRedirect(w http.ResponseWriter, r *http.Request, errCode string) {
	target := h.cfg.SiteURL + "/settings"
	if errCode != "" {
		target += "?error=" + url.QueryEscape(errCode)
	}
	http.Redirect(w, r, target, http.StatusFound)
}

// HandleRefreshToken returns a usable access token, refreshing it when close to expiry.
func (h *Handlers) HandleRefreshToken(w http.ResponseWriter, r *http.Request) {
	tok, err := h.yt.AccessToken(r.Context(), auth.UserID(r.Context()))
	if errors.Is(err, youtubeapi.ErrNoAccount) {
		writeError(w, http.StatusNotFound, "No YouTube account connected")
		return
	}
	if err != nil {
		h.internalError(w, r, "access token lookup failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"access_token": tok})
}

// HandleGetAccount returns the linked channel, or null when none is linked.
func (h *Handlers) HandleGetAccount(w http.ResponseWriter, r *http.Request) {
	a, err := h.store.GetAccount(r.Context(), auth.UserID(r.Context()))
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusOK, map[string]any{"account": nil})
		return
	}
	if err != nil {
		h.internalError(w, r, "get account failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"account": a})
}

// HandleDeleteAccount unlinks a channel.
func (h *Handlers) HandleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	if err := h.store.RemoveAccount(r.Context(), auth.UserID(r.Context()), r.PathValue("channelId")); err != nil {
		h.storeError(w, r, "Account", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
