package youtubeapi

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"google.golang.org/api/option"
	yt "google.golang.org/api/youtube/v3"
)

// SearchLimit is the number of results returned by SearchVideos and SearchChannels.
const SearchLimit = 12

// Video is a public video as shown in search results and channel grids.
type Video struct {
	ID              string `json:"id"`
	Title           string `json:"title"`
	Description     string `json:"description"`
	ChannelID       string `json:"channelId"`
	ChannelTitle    string `json:"channelTitle"`
	PublishedAt     string `json:"publishedAt"`
	Thumbnail       string `json:"thumbnail"`
	Duration        string `json:"duration,omitempty"`
	DurationSeconds int    `json:"durationSeconds,omitempty"`
	ViewCount       string `json:"viewCount,omitempty"`
	IsLongform      bool   `json:"isLongform"`
}

// ChannelResult is a public channel returned by search.
type ChannelResult struct {
	ID              string `json:"id"`
	Title           string `json:"title"`
	Description     string `json:"description"`
	Thumbnail       string `json:"thumbnail"`
	SubscriberCount string `json:"subscriberCount"`
}

func (s *Service) dataService(ctx context.Context) (*yt.Service, error) {
	if !s.cfg.SearchReady() {
		return nil, ErrNotConfigured
	}
	svc, err := yt.NewService(ctx, option.WithAPIKey(s.cfg.YTDataAPIKey), option.WithEndpoint(s.apiBase))
	if err != nil {
		return nil, fmt.Errorf("youtube data client: %w", err)
	}
	return svc, nil
}

// SearchVideos runs a keyword search and enriches hits with duration and views.
func (s *Service) SearchVideos(ctx context.Context, q string) ([]Video, error) {
	svc, err := s.dataService(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := svc.Search.List([]string{"snippet"}).Q(q).Type("video").MaxResults(SearchLimit).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("search videos: %w", err)
	}
	ids := make([]string, 0, len(resp.Items))
	for _, item := range resp.Items {
		if item.Id != nil && item.Id.VideoId != "" {
			ids = append(ids, item.Id.VideoId)
		}
	}
	return s.videosByID(ctx, svc, ids)
}

// SearchChannels runs a keyword search over channels and attaches subscriber counts.
func (s *Service) SearchChannels(ctx context.Context, q string) ([]ChannelResult, error) {
	svc, err := s.dataService(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := svc.Search.List([]string{"snippet"}).Q(q).Type("channel").MaxResults(SearchLimit).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("search channels: %w", err)
	}
	out := make([]ChannelResult, 0, len(resp.Items))
	ids := make([]string, 0, len(resp.Items))
	for _, item := range resp.Items {
		if item.Id == nil || item.Id.ChannelId == "" || item.Snippet == nil {
			continue
		}
		ids = append(ids, item.Id.ChannelId)
		out = append(out, ChannelResult{
			ID:              item.Id.ChannelId,
			Title:           item.Snippet.Title,
			Description:     item.Snippet.Description,
			Thumbnail:       bestThumbnail(item.Snippet.Thumbnails),
			SubscriberCount: "0",
		})
	}
	if len(ids) == 0 {
		return out, nil
	}
	stats, err := svc.Channels.List([]string{"statistics"}).Id(ids...).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("channel statistics: %w", err)
	}
	counts := make(map[string]string, len(stats.Items))
	for _, ch := range stats.Items {
		if ch.Statistics != nil {
			counts[ch.Id] = strconv.FormatUint(ch.Statistics.SubscriberCount, 10)
		}
	}
	for i := range out {
		if c, ok := counts[out[i].ID]; ok {
			out[i].SubscriberCount = c
		}
	}
	return out, nil
}

// ChannelVideos returns up to n of a channel's most recent uploads, newest first.
func (s *Service) ChannelVideos(ctx context.Context, channelID string, n int) ([]Video, error) {
	svc, err := s.dataService(ctx)
	if err != nil {
		return nil, err
	}
	chResp, err := svc.Channels.List([]string{"contentDetails"}).Id(channelID).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("channel lookup: %w", err)
	}
	if len(chResp.Items) == 0 || chResp.Items[0].ContentDetails == nil || chResp.Items[0].ContentDetails.RelatedPlaylists == nil {
		return []Video{}, nil
	}
	uploads := chResp.Items[0].ContentDetails.RelatedPlaylists.Uploads
	if uploads == "" {
		return []Video{}, nil
	}
	pl, err := svc.PlaylistItems.List([]string{"contentDetails"}).PlaylistId(uploads).MaxResults(int64(n)).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("uploads playlist: %w", err)
	}
	ids := make([]string, 0, len(pl.Items))
	for _, item := range pl.Items {
		if item.ContentDetails != nil && item.ContentDetails.VideoId != "" {
			ids = append(ids, item.ContentDetails.VideoId)
		}
	}
	return s.videosByID(ctx, svc, ids)
}

// videosByID fetches full video records, preserving the order of ids.
func (s *Service) videosByID(ctx context.Context, svc *yt.Service, ids []string) ([]Video, error) {
	out := make([]Video, 0, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	resp, err := svc.Videos.List([]string{"snippet", "contentDetails", "statistics"}).Id(ids...).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("videos.list: %w", err)
	}
	byID := make(map[string]*yt.Video, len(resp.Items))
	for _, v := range resp.Items {
		byID[v.Id] = v
	}
	for _, id := range ids {
		v, ok := byID[id]
		if !ok {
			continue
		}
		out = append(out, toVideo(v))
	}
	return out, nil
}

func toVideo(v *yt.Video) Video {
	out := Video{ID: v.Id}
	if v.Snippet != nil {
		out.Title = v.Snippet.Title
		out.Description = v.Snippet.Description
		out.ChannelID = v.Snippet.ChannelId
		out.ChannelTitle = v.Snippet.ChannelTitle
		out.PublishedAt = v.Snippet.PublishedAt
		out.Thumbnail = bestThumbnail(v.Snippet.Thumbnails)
	}
	if v.ContentDetails != nil {
		if secs, ok := ParseISODuration(v.ContentDetails.Duration); ok {
			out.DurationSeconds = secs
			out.Duration = FormatDuration(secs)
			out.IsLongform = secs >= 60
		}
	}
	if v.Statistics != nil {
		out.ViewCount = strconv.FormatUint(v.Statistics.ViewCount, 10)
	}
	return out
}

// PublishedTime parses the video's publish timestamp.
func (v Video) PublishedTime() (time.Time, bool) {
	t, err := time.Parse(time.RFC3339, v.PublishedAt)
	return t, err == nil
}

var isoDuration = regexp.MustCompile(`^P(?:(\d+)D)?(?:T(?:(\d+)H)?(?:(\d+)M)?(?:(\d+)S)?)?$`)

// ParseISODuration converts an ISO-8601 duration such as PT1H2M3S to seconds.
func ParseISODuration(s string) (int, bool) {
	m := isoDuration.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil || s == "P" || s == "PT" {
		return 0, false
	}
	mult := []int{86400, 3600, 60, 1}
	total := 0
	for i, part := range m[1:] {
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return 0, false
		}
		total += n * mult[i]
	}
	return total, true
}

// FormatDuration renders seconds as h:mm:ss or m:ss.
func FormatDuration(secs int) string {
	if secs < 0 {
		secs = 0
	}
	h, m, sec := secs/3600, (secs%3600)/60, secs%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, sec)
	}
	return fmt.Sprintf("%d:%02d", m, sec)
}
