package youtubeapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/reconic/backend/telemetry"
	"github.com/reconic/backend/thumbnails"
)

// DefaultCategoryID is People & Blogs.
const DefaultCategoryID = "22"

var (
	// ErrMissingVideoID means YouTube finished an upload without returning a video id.
	ErrMissingVideoID = errors.New("no video ID in upload response")
	// ErrSessionExpired means a stored resumable session can no longer be continued.
	ErrSessionExpired = errors.New("upload session expired")
)

// VideoMetadata is the snippet and status sent when an upload starts.
type VideoMetadata struct {
	Title         string
	Description   string
	PrivacyStatus string
	CategoryID    string
}

// ProgressFunc receives the upload progress as a whole percentage.
type ProgressFunc func(pct int)

// InitiateUpload opens a resumable upload session and returns its URL.
func (s *Service) InitiateUpload(ctx context.Context, accessToken string, meta VideoMetadata, size int64) (string, error) {
	if size <= 0 {
		return "", fmt.Errorf("initiate upload: invalid file size %d", size)
	}
	category := meta.CategoryID
	if category == "" {
		category = DefaultCategoryID
	}
	body, err := json.Marshal(map[string]any{
		"snippet": map[string]string{
			"title":       meta.Title,
			"description": meta.Description,
			"categoryId":  category,
		},
		"status": map[string]string{
			"privacyStatus": meta.PrivacyStatus,
		},
	})
	if err != nil {
		return "", err
	}
	u := s.uploadBase + "videos?uploadType=resumable&part=snippet,status"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json; charset=UTF-8")
	req.Header.Set("X-Upload-Content-Type", "video/*")
	req.Header.Set("X-Upload-Content-Length", strconv.FormatInt(size, 10))
	resp, err := s.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("initiate upload: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", &APIError{Op: "initiate upload", Status: resp.StatusCode, Body: string(b)}
	}
	loc := resp.Header.Get("Location")
	if loc == "" {
		return "", errors.New("initiate upload: no upload URL returned")
	}
	return loc, nil
}

// UploadFile sends the file to a resumable session in chunks and returns the
// new video id. A 308 response continues from the acknowledged byte; server and
// network failures query the session for its offset and resume with
// exponential backoff, up to the configured number of attempts.
func (s *Service) UploadFile(ctx context.Context, sessionURL string, r io.ReaderAt, size int64, progress ProgressFunc) (string, error) {
	return s.upload(ctx, sessionURL, r, size, 0, progress)
}

// ResumeUpload continues a session started by an earlier process. It asks
// the session for its offset first, retrying server and network failures with
// backoff; a session YouTube no longer knows about (404/410) yields
// ErrSessionExpired so the caller can start over.
func (s *Service) ResumeUpload(ctx context.Context, sessionURL string, r io.ReaderAt, size int64, progress ProgressFunc) (string, error) {
	if size <= 0 {
		return "", fmt.Errorf("upload: invalid file size %d", size)
	}
	attempts := 0
	offset, id, err := s.queryOffset(ctx, sessionURL, size)
	if err != nil && IsRetryableError(err) {
		offset, id, err = s.requery(ctx, sessionURL, size, 0, &attempts, err)
	}
	if err != nil {
		if sessionGone(err) {
			return "", fmt.Errorf("%w: %v", ErrSessionExpired, err)
		}
		return "", err
	}
	if id != "" {
		if progress != nil {
			progress(100)
		}
		return id, nil
	}
	return s.upload(ctx, sessionURL, r, size, offset, progress)
}

func sessionGone(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && (apiErr.Status == http.StatusNotFound || apiErr.Status == http.StatusGone)
}

func (s *Service) upload(ctx context.Context, sessionURL string, r io.ReaderAt, size, offset int64, progress ProgressFunc) (string, error) {
	if size <= 0 {
		return "", fmt.Errorf("upload: invalid file size %d", size)
	}
	last := -1
	report := func(sent int64) {
		pct := int(math.Round(float64(sent) * 100 / float64(size)))
		if pct != last && progress != nil {
			last = pct
			progress(pct)
		}
	}

	attempts := 0
	report(offset)
	for {
		end := offset + s.chunkSize
		if end > size {
			end = size
		}
		next, id, err := s.putChunk(ctx, sessionURL, r, offset, end, size)
		if err == nil {
			if id != "" {
				report(size)
				return id, nil
			}
			if next > offset {
				attempts = 0
				offset = next
				report(offset)
				continue
			}
			err = fmt.Errorf("upload chunk: session stalled at byte %d", offset)
		}
		if !IsRetryableError(err) {
			return "", err
		}
		var qid string
		offset, qid, err = s.requery(ctx, sessionURL, size, offset, &attempts, err)
		if err != nil {
			return "", err
		}
		if qid != "" {
			report(size)
			return qid, nil
		}
		report(offset)
	}
}

// requery asks the session how much it has persisted after cause, backing
// off between attempts. attempts is shared with the caller so retries are
// bounded per offset.
func (s *Service) requery(ctx context.Context, sessionURL string, size, offset int64, attempts *int, cause error) (int64, string, error) {
	err := cause
	for {
		*attempts++
		if *attempts >= s.maxTries {
			return 0, "", fmt.Errorf("upload failed after %d attempts: %w", *attempts, err)
		}
		telemetry.IncUploadRetry()
		s.logger.Warn("upload session request failed, resuming",
			slog.Int("attempt", *attempts), slog.Int64("offset", offset), slog.Any("err", err))
		if werr := s.wait(ctx, *attempts); werr != nil {
			return 0, "", werr
		}
		qoff, qid, qerr := s.queryOffset(ctx, sessionURL, size)
		if qerr == nil {
			return qoff, qid, nil
		}
		if !IsRetryableError(qerr) {
			return 0, "", qerr
		}
		err = qerr
	}
}

// putChunk uploads bytes [start,end). It returns the next offset on 308, or
// the video id once the upload is complete.
func (s *Service) putChunk(ctx context.Context, sessionURL string, r io.ReaderAt, start, end, size int64) (int64, string, error) {
	body := io.NewSectionReader(r, start, end-start)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, sessionURL, body)
	if err != nil {
		return 0, "", err
	}
	req.ContentLength = end - start
	req.Header.Set("Content-Type", "video/*")
	req.Header.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end-1, size))
	return s.doSession(req, "upload chunk")
}

// queryOffset asks an interrupted session how many bytes it has persisted.
func (s *Service) queryOffset(ctx context.Context, sessionURL string, size int64) (int64, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, sessionURL, http.NoBody)
	if err != nil {
		return 0, "", err
	}
	req.ContentLength = 0
	req.Header.Set("Content-Range", fmt.Sprintf("bytes */%d", size))
	return s.doSession(req, "query upload status")
}

func (s *Service) doSession(req *http.Request, op string) (int64, string, error) {
	resp, err := s.http.Do(req)
	if err != nil {
		return 0, "", fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusPermanentRedirect:
		_, _ = io.Copy(io.Discard, resp.Body)
		return parseRangeEnd(resp.Header.Get("Range")), "", nil
	case resp.StatusCode >= 200 && resp.StatusCode <= 299:
		var v struct {
			ID string `json:"id"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
			return 0, "", fmt.Errorf("%s: decode response: %w", op, err)
		}
		if v.ID == "" {
			return 0, "", ErrMissingVideoID
		}
		return 0, v.ID, nil
	default:
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return 0, "", &APIError{Op: op, Status: resp.StatusCode, Body: string(b)}
	}
}

// parseRangeEnd turns "bytes=0-N" into the next offset N+1. A missing header means nothing was stored.
func parseRangeEnd(h string) int64 {
	h = strings.TrimPrefix(strings.TrimSpace(h), "bytes=")
	_, last, ok := strings.Cut(h, "-")
	if !ok {
		return 0
	}
	n, err := strconv.ParseInt(last, 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n + 1
}

// maxBackoffShift bounds the exponent so the delay cannot overflow before the cap applies.
const maxBackoffShift = 16

// backoff returns the delay before retry attempt, doubling from retryDelay up to 30s.
func (s *Service) backoff(attempt int) time.Duration {
	shift := min(max(attempt-1, 0), maxBackoffShift)
	d := s.retryDelay * time.Duration(1<<uint(shift))
	if d < 0 || d > 30*time.Second {
		d = 30 * time.Second
	}
	return d
}

func (s *Service) wait(ctx context.Context, attempt int) error {
	t := time.NewTimer(s.backoff(attempt))
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// SetThumbnail attaches a data-URL image to an uploaded video.
func (s *Service) SetThumbnail(ctx context.Context, accessToken, videoID, dataURL string) error {
	mime, data, err := thumbnails.Decode(dataURL)
	if err != nil {
		return err
	}
	u := s.uploadBase + "thumbnails/set?videoId=" + url.QueryEscape(videoID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", mime)
	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("set thumbnail: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{Op: "set thumbnail", Status: resp.StatusCode, Body: string(b)}
	}
	return nil
}

// WatchURL returns the public URL of a video.
func WatchURL(videoID string) string {
	return "https://www.youtube.com/watch?v=" + videoID
}
