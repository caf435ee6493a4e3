package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/reconic/backend/ai"
	"github.com/reconic/backend/auth"
	"github.com/reconic/backend/insights"
	"github.com/reconic/backend/searchcache"
	"github.com/reconic/backend/store"
	"github.com/reconic/backend/telemetry"
	"github.com/reconic/backend/youtubeapi"
)

const (
	channelGridSize   = 8
	analyzeVideoCount = 20
)

type channelHit struct {
	youtubeapi.ChannelResult
	Favorited bool `json:"favorited"`
}

// HandleSearch searches YouTube for videos or channels.
func (h *Handlers) HandleSearch(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		writeError(w, http.StatusBadRequest, "Missing query")
		return
	}
	typ := r.URL.Query().Get("type")
	if typ == "" {
		typ = "video"
	}
	if typ != "video" && typ != "channel" {
		writeError(w, http.StatusBadRequest, "Invalid type, expected video or channel")
		return
	}
	if !h.cfg.SearchReady() {
		writeError(w, http.StatusServiceUnavailable, "API key not configured")
		return
	}
	ctx := r.Context()
	key := searchcache.Key("search", typ, strings.ToLower(q))

	if typ == "video" {
		videos, err := searchcache.Fetch(ctx, h.cache, key, func(ctx context.Context) ([]youtubeapi.Video, error) {
			return h.yt.SearchVideos(ctx, q)
		})
		if err != nil {
			h.upstreamError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": nonNil(videos)})
		return
	}

	channels, err := searchcache.Fetch(ctx, h.cache, key, func(ctx context.Context) ([]youtubeapi.ChannelResult, error) {
		return h.yt.SearchChannels(ctx, q)
	})
	if err != nil {
		h.upstreamError(w, r, err)
		return
	}
	userID := auth.UserID(ctx)
	hits := make([]channelHit, 0, len(channels))
	for _, c := range channels {
		fav, err := h.store.IsFavorite(ctx, userID, c.ID)
		if err != nil {
			h.internalError(w, r, "favorite lookup failed", err)
			return
		}
		hits = append(hits, channelHit{ChannelResult: c, Favorited: fav})
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": hits})
}

// HandleChannelVideos returns a channel's latest uploads.
func (h *Handlers) HandleChannelVideos(w http.ResponseWriter, r *http.Request) {
	channelID := strings.TrimSpace(r.URL.Query().Get("channelId"))
	if channelID == "" {
		writeError(w, http.StatusBadRequest, "Missing channelId")
		return
	}
	if !h.cfg.SearchReady() {
		writeError(w, http.StatusServiceUnavailable, "API key not configured")
		return
	}
	key := searchcache.Key("channel-videos", channelID)
	videos, err := searchcache.Fetch(r.Context(), h.cache, key, func(ctx context.Context) ([]youtubeapi.Video, error) {
		return h.yt.ChannelVideos(ctx, channelID, channelGridSize)
	})
	if err != nil {
		h.upstreamError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": nonNil(videos)})
}

type channelAnalysis struct {
	Niche                   string   `json:"niche"`
	SubNiches               []string `json:"subNiches"`
	ContentStyle            string   `json:"contentStyle"`
	TargetAudience          string   `json:"targetAudience"`
	AvgVideoDurationSeconds *int     `json:"avgVideoDurationSeconds"`
	UploadFrequency         string   `json:"uploadFrequency"`
	TopTags                 []string `json:"topTags"`
	RecentVideoTitles       []string `json:"recentVideoTitles"`
	VideosAnalyzed          int      `json:"videosAnalyzed"`
}

// HandleAnalyzeChannel profiles the linked channel from its recent uploads and
// stores the result on the account for prompt personalization.
func (h *Handlers) HandleAnalyzeChannel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := auth.UserID(ctx)
	acct, err := h.store.GetAccount(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "No YouTube account connected")
		return
	}
	if err != nil {
		h.internalError(w, r, "get account failed", err)
		return
	}
	if !h.cfg.SearchReady() {
		writeError(w, http.StatusServiceUnavailable, "API key not configured")
		return
	}
	if !h.ai.Ready() {
		writeError(w, http.StatusServiceUnavailable, "AI not configured")
		return
	}

	videos, err := h.yt.ChannelVideos(ctx, acct.ChannelID, analyzeVideoCount)
	if err != nil {
		h.upstreamError(w, r, err)
		return
	}
	if len(videos) == 0 {
		writeError(w, http.StatusNotFound, "No videos found on channel")
		return
	}

	titles := make([]string, 0, len(videos))
	durations := make([]int, 0, len(videos))
	dates := make([]time.Time, 0, len(videos))
	for _, v := range videos {
		titles = append(titles, v.Title)
		durations = append(durations, v.DurationSeconds)
		if t, ok := v.PublishedTime(); ok {
			dates = append(dates, t)
		}
	}
	var avg *int
	if secs, ok := insights.AverageDuration(durations); ok {
		avg = &secs
	}
	freq := insights.UploadFrequency(dates)
	tags := insights.TopTags(titles)

	profile, err := h.ai.AnalyzeChannel(ctx, ai.ChannelSummary{
		Name:            acct.ChannelName,
		SubscriberCount: acct.SubscriberCount,
		Titles:          titles,
		TopTags:         tags,
	})
	telemetry.RecordAI("analyze-channel", err)
	if err != nil {
		h.aiError(w, r, err)
		return
	}

	err = h.store.UpdateChannelProfile(ctx, userID, acct.ChannelID, store.ChannelProfile{
		Niche:                   profile.Niche,
		AvgVideoDurationSeconds: avg,
		UploadFrequency:         freq,
		TopTags:                 tags,
		RecentVideoTitles:       titles,
		SyncedAt:                time.Now().UTC(),
	})
	if err != nil {
		h.storeError(w, r, "Account", err)
		return
	}

	writeJSON(w, http.StatusOK, channelAnalysis{
		Niche:                   profile.Niche,
		SubNiches:               profile.SubNiches,
		ContentStyle:            profile.ContentStyle,
		TargetAudience:          profile.TargetAudience,
		AvgVideoDurationSeconds: avg,
		UploadFrequency:         freq,
		TopTags:                 tags,
		RecentVideoTitles:       titles,
		VideosAnalyzed:          len(videos),
	})
}

// upstreamError maps YouTube Data API failures.
func (h *Handlers) upstreamError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, youtubeapi.ErrNotConfigured) {
		writeError(w, http.StatusServiceUnavailable, "API key not configured")
		return
	}
	h.logger.Warn("youtube data api failed", slog.String("path", r.URL.Path), slog.Any("err", err))
	writeError(w, http.StatusBadGateway, "YouTube request failed")
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
