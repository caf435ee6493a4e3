package youtubeapi

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/reconic/backend/testutil"
	"github.com/reconic/backend/thumbnails"
)

// fakeSession emulates a resumable upload session endpoint.
type fakeSession struct {
	mu        sync.Mutex
	size      int64
	received  []byte
	failPuts  int // number of chunk PUTs answered with 503
	failQuery int // number of status queries answered with 503
	fatal     bool
	noID      bool
	queries   int
	chunkPuts int
}

func (f *fakeSession) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		cr := r.Header.Get("Content-Range")
		if strings.HasPrefix(cr, "bytes */") {
			f.queries++
			if f.failQuery > 0 {
				f.failQuery--
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			f.writeProgress(w)
			return
		}
		f.chunkPuts++
		body, _ := io.ReadAll(r.Body)
		if f.fatal {
			http.Error(w, `{"error":"forbidden"}`, http.StatusForbidden)
			return
		}
		if f.failPuts > 0 {
			f.failPuts--
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		var start, end, total int64
		if _, err := fmt.Sscanf(cr, "bytes %d-%d/%d", &start, &end, &total); err != nil {
			t.Errorf("bad Content-Range %q: %v", cr, err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if start != int64(len(f.received)) || end-start+1 != int64(len(body)) || total != f.size {
			t.Errorf("range %q does not match state (have %d bytes, body %d)", cr, len(f.received), len(body))
		}
		f.received = append(f.received[:start], body...)
		f.writeProgress(w)
	}
}

func (f *fakeSession) writeProgress(w http.ResponseWriter) {
	if int64(len(f.received)) == f.size {
		w.Header().Set("Content-Type", "application/json")
		if f.noID {
			_, _ = w.Write([]byte(`{}`))
			return
		}
		_, _ = w.Write([]byte(`{"id":"video-123"}`))
		return
	}
	if len(f.received) > 0 {
		w.Header().Set("Range", "bytes=0-"+strconv.Itoa(len(f.received)-1))
	}
	w.WriteHeader(http.StatusPermanentRedirect)
}

func setupSession(t *testing.T, data []byte) (*Service, *testutil.MockGoogleServer, *fakeSession) {
	t.Helper()
	svc, mock := newTestService(t, newMockAccounts())
	sess := &fakeSession{size: int64(len(data))}
	mock.Handle("PUT /session/1", sess.handler(t))
	return svc, mock, sess
}

func TestInitiateUpload(t *testing.T) {
	svc, mock := newTestService(t, newMockAccounts())
	mock.Handle("POST /upload/youtube/v3/videos", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("Authorization = %q", got)
		}
		if got := r.Header.Get("X-Upload-Content-Length"); got != "1024" {
			t.Errorf("X-Upload-Content-Length = %q", got)
		}
		if got := r.Header.Get("X-Upload-Content-Type"); got != "video/*" {
			t.Errorf("X-Upload-Content-Type = %q", got)
		}
		if r.URL.Query().Get("uploadType") != "resumable" {
			t.Errorf("uploadType = %q", r.URL.Query().Get("uploadType"))
		}
		body, _ := io.ReadAll(r.Body)
		for _, want := range []string{`"categoryId":"22"`, `"privacyStatus":"unlisted"`, `"title":"My video"`} {
			if !bytes.Contains(body, []byte(want)) {
				t.Errorf("body %s missing %s", body, want)
			}
		}
		w.Header().Set("Location", "https://upload.example/session/abc")
		w.WriteHeader(http.StatusOK)
	})

	loc, err := svc.InitiateUpload(context.Background(), "tok", VideoMetadata{Title: "My video", PrivacyStatus: "unlisted"}, 1024)
	if err != nil {
		t.Fatalf("InitiateUpload() error: %v", err)
	}
	if loc != "https://upload.example/session/abc" {
		t.Errorf("session URL = %q", loc)
	}
}

func TestInitiateUploadFailures(t *testing.T) {
	svc, mock := newTestService(t, newMockAccounts())
	mock.Handle("POST /upload/youtube/v3/videos", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	if _, err := svc.InitiateUpload(context.Background(), "tok", VideoMetadata{Title: "x"}, 10); err == nil {
		t.Error("expected error when Location header is missing")
	}

	mock.Handle("POST /upload/youtube/v3/videos", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quotaExceeded", http.StatusForbidden)
	})
	_, err := svc.InitiateUpload(context.Background(), "tok", VideoMetadata{Title: "x"}, 10)
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusForbidden {
		t.Fatalf("err = %v, want APIError 403", err)
	}
	if !strings.Contains(err.Error(), "quotaExceeded") {
		t.Errorf("error %q should include response body", err)
	}

	if _, err := svc.InitiateUpload(context.Background(), "tok", VideoMetadata{}, 0); err == nil {
		t.Error("expected error for empty file")
	}
}

func TestUploadFileChunked(t *testing.T) {
	data := []byte("0123456789")
	svc, mock, sess := setupSession(t, data)

	var progress []int
	id, err := svc.UploadFile(context.Background(), mock.URL+"/session/1", bytes.NewReader(data), int64(len(data)), func(p int) {
		progress = append(progress, p)
	})
	if err != nil {
		t.Fatalf("UploadFile() error: %v", err)
	}
	if id != "video-123" {
		t.Errorf("video id = %q", id)
	}
	if string(sess.received) != string(data) {
		t.Errorf("server received %q", sess.received)
	}
	if sess.chunkPuts != 3 {
		t.Errorf("chunk PUTs = %d, want 3 for 10 bytes in chunks of 4", sess.chunkPuts)
	}
	want := []int{0, 40, 80, 100}
	if fmt.Sprint(progress) != fmt.Sprint(want) {
		t.Errorf("progress = %v, want %v", progress, want)
	}
}

func TestUploadFileResumesAfterServerError(t *testing.T) {
	data := []byte("abcdefghij")
	svc, mock, sess := setupSession(t, data)
	sess.failPuts = 1

	id, err := svc.UploadFile(context.Background(), mock.URL+"/session/1", bytes.NewReader(data), int64(len(data)), nil)
	if err != nil {
		t.Fatalf("UploadFile() error: %v", err)
	}
	if id != "video-123" || string(sess.received) != string(data) {
		t.Errorf("id=%q received=%q", id, sess.received)
	}
	if sess.queries != 1 {
		t.Errorf("status queries = %d, want 1", sess.queries)
	}
}

func TestUploadFileGivesUp(t *testing.T) {
	data := []byte("abcdefghij")
	svc, mock, sess := setupSession(t, data)
	sess.failPuts = 100

	_, err := svc.UploadFile(context.Background(), mock.URL+"/session/1", bytes.NewReader(data), int64(len(data)), nil)
	if err == nil || !strings.Contains(err.Error(), "after 3 attempts") {
		t.Fatalf("err = %v, want give-up after 3 attempts", err)
	}
}

func TestUploadFileFatalClientError(t *testing.T) {
	data := []byte("abcdefghij")
	svc, mock, sess := setupSession(t, data)
	sess.fatal = true

	_, err := svc.UploadFile(context.Background(), mock.URL+"/session/1", bytes.NewReader(data), int64(len(data)), nil)
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusForbidden {
		t.Fatalf("err = %v, want APIError 403", err)
	}
	if sess.chunkPuts != 1 || sess.queries != 0 {
		t.Errorf("fatal error retried: puts=%d queries=%d", sess.chunkPuts, sess.queries)
	}
}

func TestUploadFileMissingVideoID(t *testing.T) {
	data := []byte("abc")
	svc, mock, sess := setupSession(t, data)
	sess.noID = true

	_, err := svc.UploadFile(context.Background(), mock.URL+"/session/1", bytes.NewReader(data), int64(len(data)), nil)
	if !errors.Is(err, ErrMissingVideoID) {
		t.Fatalf("err = %v, want ErrMissingVideoID", err)
	}
}

func TestResumeUploadContinuesFromOffset(t *testing.T) {
	data := []byte("abcdefghij")
	svc, mock, sess := setupSession(t, data)
	sess.received = append([]byte(nil), data[:4]...)

	var progress []int
	id, err := svc.ResumeUpload(context.Background(), mock.URL+"/session/1", bytes.NewReader(data), int64(len(data)), func(p int) {
		progress = append(progress, p)
	})
	if err != nil {
		t.Fatalf("ResumeUpload() error: %v", err)
	}
	if id != "video-123" || string(sess.received) != string(data) {
		t.Errorf("id=%q received=%q", id, sess.received)
	}
	if sess.queries != 1 || sess.chunkPuts != 2 {
		t.Errorf("queries=%d puts=%d, want 1 and 2", sess.queries, sess.chunkPuts)
	}
	if progress[0] != 40 {
		t.Errorf("first progress = %d, want 40", progress[0])
	}
}

func TestResumeUploadAlreadyComplete(t *testing.T) {
	data := []byte("abc")
	svc, mock, sess := setupSession(t, data)
	sess.received = append([]byte(nil), data...)

	id, err := svc.ResumeUpload(context.Background(), mock.URL+"/session/1", bytes.NewReader(data), int64(len(data)), nil)
	if err != nil || id != "video-123" {
		t.Fatalf("ResumeUpload() = %q, %v", id, err)
	}
	if sess.chunkPuts != 0 {
		t.Errorf("chunk PUTs = %d, want 0", sess.chunkPuts)
	}
}

func TestResumeUploadExpiredSession(t *testing.T) {
	data := []byte("abc")
	svc, mock := newTestService(t, newMockAccounts())
	mock.Handle("PUT /session/gone", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	_, err := svc.ResumeUpload(context.Background(), mock.URL+"/session/gone", bytes.NewReader(data), int64(len(data)), nil)
	if !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("err = %v, want ErrSessionExpired", err)
	}
	if IsRetryableError(err) {
		t.Error("expired session should not be retryable")
	}
}

func TestResumeUploadRetriesStatusQuery(t *testing.T) {
	data := []byte("abcdefghij")
	svc, mock, sess := setupSession(t, data)
	sess.received = append([]byte(nil), data[:4]...)
	sess.failQuery = 1

	id, err := svc.ResumeUpload(context.Background(), mock.URL+"/session/1", bytes.NewReader(data), int64(len(data)), nil)
	if err != nil {
		t.Fatalf("ResumeUpload() error: %v", err)
	}
	if id != "video-123" || string(sess.received) != string(data) {
		t.Errorf("id=%q received=%q", id, sess.received)
	}
	if sess.queries != 2 {
		t.Errorf("status queries = %d, want 2", sess.queries)
	}
}

func TestResumeUploadStatusQueryGivesUp(t *testing.T) {
	data := []byte("abc")
	svc, mock, sess := setupSession(t, data)
	sess.failQuery = 100

	_, err := svc.ResumeUpload(context.Background(), mock.URL+"/session/1", bytes.NewReader(data), int64(len(data)), nil)
	if err == nil || !strings.Contains(err.Error(), "after 3 attempts") {
		t.Fatalf("err = %v, want give-up after 3 attempts", err)
	}
	if errors.Is(err, ErrSessionExpired) {
		t.Error("unreachable session is not an expired session")
	}
	if sess.queries != 3 || sess.chunkPuts != 0 {
		t.Errorf("queries=%d puts=%d, want 3 and 0", sess.queries, sess.chunkPuts)
	}
}

func TestBackoffIsCapped(t *testing.T) {
	svc, _ := newTestService(t, newMockAccounts())
	svc.retryDelay = time.Second
	tests := map[int]time.Duration{
		0:   time.Second,
		1:   time.Second,
		2:   2 * time.Second,
		5:   16 * time.Second,
		6:   30 * time.Second,
		35:  30 * time.Second,
		200: 30 * time.Second,
	}
	for attempt, want := range tests {
		if got := svc.backoff(attempt); got != want {
			t.Errorf("backoff(%d) = %v, want %v", attempt, got, want)
		}
	}
}

func TestParseRangeEnd(t *testing.T) {
	tests := map[string]int64{"": 0, "bytes=0-3": 4, "bytes=0-1048575": 1048576, "garbage": 0}
	for in, want := range tests {
		if got := parseRangeEnd(in); got != want {
			t.Errorf("parseRangeEnd(%q) = %d, want %d", in, got, want)
		}
	}
}

func TestSetThumbnail(t *testing.T) {
	svc, mock := newTestService(t, newMockAccounts())
	var gotType, gotVideo string
	var gotBody []byte
	mock.Handle("POST /upload/youtube/v3/thumbnails/set", func(w http.ResponseWriter, r *http.Request) {
		gotType = r.Header.Get("Content-Type")
		gotVideo = r.URL.Query().Get("videoId")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	})

	err := svc.SetThumbnail(context.Background(), "tok", "vid-1", thumbnails.Encode("image/png", []byte("png")))
	if err != nil {
		t.Fatalf("SetThumbnail() error: %v", err)
	}
	if gotType != "image/png" || gotVideo != "vid-1" || string(gotBody) != "png" {
		t.Errorf("request = %q %q %q", gotType, gotVideo, gotBody)
	}

	if err := svc.SetThumbnail(context.Background(), "tok", "vid-1", "nope"); err == nil {
		t.Error("expected error for invalid data URL")
	}
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func TestClassifyUploadError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorClass
	}{
		{"server error", &APIError{Status: 503}, ErrorClassRetryable},
		{"rate limited", &APIError{Status: 429}, ErrorClassRetryable},
		{"forbidden", &APIError{Status: 403}, ErrorClassFatal},
		{"bad request", fmt.Errorf("wrapped: %w", &APIError{Status: 400}), ErrorClassFatal},
		{"network timeout", timeoutErr{}, ErrorClassRetryable},
		{"canceled", context.Canceled, ErrorClassFatal},
		{"missing id", ErrMissingVideoID, ErrorClassFatal},
		{"connection reset", errors.New("read: connection reset by peer"), ErrorClassRetryable},
		{"unknown", errors.New("something odd"), ErrorClassRetryable},
		{"expired session", fmt.Errorf("%w: gone", ErrSessionExpired), ErrorClassFatal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyUploadError(tt.err); got != tt.want {
				t.Errorf("ClassifyUploadError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
