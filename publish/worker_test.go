package publish

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reconic/backend/project"
	"github.com/reconic/backend/store"
	"github.com/reconic/backend/youtubeapi"
)

type fakeYouTube struct {
	mu          sync.Mutex
	tokenErr    error
	initErr     error
	uploadErr   error
	thumbErr    error
	resumeErr   error
	initiated   []youtubeapi.VideoMetadata
	uploaded    []byte
	resumed     []string
	thumbVideos []string
	thumbTokens []string
	// expired is set once an upload finishes, standing in for the clock
	// passing the access token's expiry while bytes were transferring.
	expired bool
}

func (f *fakeYouTube) AccessToken(ctx context.Context, userID string) (string, error) {
	if f.tokenErr != nil {
		return "", f.tokenErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.expired {
		return "tok-" + userID + "-refreshed", nil
	}
	return "tok-" + userID, nil
}

func (f *fakeYouTube) InitiateUpload(ctx context.Context, token string, meta youtubeapi.VideoMetadata, size int64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.initErr != nil {
		return "", f.initErr
	}
	f.initiated = append(f.initiated, meta)
	return "https://upload.example/session/new", nil
}

func (f *fakeYouTube) UploadFile(ctx context.Context, sessionURL string, r io.ReaderAt, size int64, progress youtubeapi.ProgressFunc) (string, error) {
	if f.uploadErr != nil {
		return "", f.uploadErr
	}
	buf := make([]byte, size)
	if _, err := r.ReadAt(buf, 0); err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	f.mu.Lock()
	f.uploaded = buf
	f.expired = true
	f.mu.Unlock()
	progress(0)
	progress(50)
	progress(100)
	return "vid-1", nil
}

func (f *fakeYouTube) ResumeUpload(ctx context.Context, sessionURL string, r io.ReaderAt, size int64, progress youtubeapi.ProgressFunc) (string, error) {
	f.mu.Lock()
	f.resumed = append(f.resumed, sessionURL)
	f.mu.Unlock()
	if f.resumeErr != nil {
		return "", f.resumeErr
	}
	progress(100)
	return "vid-resumed", nil
}

func (f *fakeYouTube) SetThumbnail(ctx context.Context, token, videoID, dataURL string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.thumbVideos = append(f.thumbVideos, videoID)
	f.thumbTokens = append(f.thumbTokens, token)
	return f.thumbErr
}

type fakeThumbs map[string]string

func (f fakeThumbs) Get(ctx context.Context, userID, projectID string) (string, error) {
	return f[userID+"/"+projectID], nil
}

type fixture struct {
	store  *store.Local
	yt     *fakeYouTube
	worker *Worker
	dir    string
	proj   *project.Project
}

func newFixture(t *testing.T, thumbs fakeThumbs) *fixture {
	t.Helper()
	ctx := context.Background()
	s, err := store.OpenLocal(ctx, filepath.Join(t.TempDir(), "reconic.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	p, err := s.CreateProject(ctx, "u1", project.NewProject{Title: "Desk tour", Topic: "setup"})
	require.NoError(t, err)

	yt := &fakeYouTube{}
	dir := filepath.Join(t.TempDir(), "uploads")
	w := NewWorker(s, s, thumbs, yt, Options{Dir: dir, MaxConcurrent: 2})
	t.Cleanup(func() { _ = w.Shutdown(context.Background()) })
	return &fixture{store: s, yt: yt, worker: w, dir: dir, proj: p}
}

func TestRequestNormalize(t *testing.T) {
	tests := []struct {
		name    string
		req     Request
		wantErr bool
		privacy string
	}{
		{name: "defaults to unlisted", req: Request{Title: " My video "}, privacy: "unlisted"},
		{name: "keeps private", req: Request{Title: "x", Privacy: "Private"}, privacy: "private"},
		{name: "missing title", req: Request{Title: "  "}, wantErr: true},
		{name: "long title", req: Request{Title: strings.Repeat("a", 101)}, wantErr: true},
		{name: "long description", req: Request{Title: "x", Description: strings.Repeat("d", 5001)}, wantErr: true},
		{name: "bad privacy", req: Request{Title: "x", Privacy: "friends"}, wantErr: true},
		{name: "bad category", req: Request{Title: "x", CategoryID: "music"}, wantErr: true},
		{name: "numeric category", req: Request{Title: "x", CategoryID: "10"}, privacy: "unlisted"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := tt.req
			err := req.Normalize()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalid)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.privacy, req.Privacy)
			assert.Equal(t, strings.TrimSpace(tt.req.Title), req.Title)
		})
	}
}

func TestEnqueueUploadsAndPublishes(t *testing.T) {
	f := newFixture(t, fakeThumbs{})
	ctx := context.Background()
	f.worker.thumbs = fakeThumbs{"u1/" + f.proj.ID: "data:image/png;base64,iVBORw0KGgo="}

	job, err := f.worker.Enqueue(ctx, Request{UserID: "u1", ProjectID: f.proj.ID, Title: "Desk tour"}, strings.NewReader("video-bytes"))
	require.NoError(t, err)
	assert.Equal(t, store.JobQueued, job.State)
	f.worker.Wait()

	st, err := f.worker.Status(ctx, "u1", job.ID)
	require.NoError(t, err)
	assert.Equal(t, store.JobSuccess, st.State)
	assert.Equal(t, 100, st.Progress)
	assert.Equal(t, "vid-1", st.VideoID)
	assert.Equal(t, "https://www.youtube.com/watch?v=vid-1", st.URL)
	assert.Empty(t, st.Error)

	assert.Equal(t, "video-bytes", string(f.yt.uploaded))
	require.Len(t, f.yt.initiated, 1)
	assert.Equal(t, "unlisted", f.yt.initiated[0].PrivacyStatus)
	assert.Equal(t, []string{"vid-1"}, f.yt.thumbVideos)

	p, err := f.store.GetProject(ctx, "u1", f.proj.ID)
	require.NoError(t, err)
	require.NotNil(t, p.Status)
	assert.Equal(t, project.StatusPublished, *p.Status)
	require.NotNil(t, p.YouTubeVideoID)
	assert.Equal(t, "vid-1", *p.YouTubeVideoID)

	_, err = os.Stat(job.FilePath)
	assert.True(t, os.IsNotExist(err), "spooled file should be removed")
}

func TestEnqueueRejects(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.worker.Enqueue(ctx, Request{UserID: "u1", ProjectID: f.proj.ID}, strings.NewReader("x"))
	assert.ErrorIs(t, err, ErrInvalid)

	_, err = f.worker.Enqueue(ctx, Request{UserID: "u2", ProjectID: f.proj.ID, Title: "x"}, strings.NewReader("x"))
	assert.ErrorIs(t, err, store.ErrNotFound, "another user's project must not be publishable")

	_, err = f.worker.Enqueue(ctx, Request{UserID: "u1", ProjectID: f.proj.ID, Title: "x"}, strings.NewReader(""))
	assert.ErrorIs(t, err, ErrEmptyFile)
	entries, _ := os.ReadDir(f.dir)
	assert.Empty(t, entries, "rejected uploads must not leave spooled files")
}

func TestUploadFailureMarksJob(t *testing.T) {
	f := newFixture(t, nil)
	f.yt.uploadErr = &youtubeapi.APIError{Op: "upload chunk", Status: 403, Body: "forbidden"}
	ctx := context.Background()

	job, err := f.worker.Enqueue(ctx, Request{UserID: "u1", ProjectID: f.proj.ID, Title: "x"}, strings.NewReader("abc"))
	require.NoError(t, err)
	f.worker.Wait()

	st, err := f.worker.Status(ctx, "u1", job.ID)
	require.NoError(t, err)
	assert.Equal(t, store.JobError, st.State)
	assert.Contains(t, st.Error, "403")
	assert.Empty(t, st.URL)

	p, _ := f.store.GetProject(ctx, "u1", f.proj.ID)
	assert.Nil(t, p.YouTubeVideoID)
	_, err = os.Stat(job.FilePath)
	assert.True(t, os.IsNotExist(err))
}

func TestNoAccountFailsJob(t *testing.T) {
	f := newFixture(t, nil)
	f.yt.tokenErr = youtubeapi.ErrNoAccount
	ctx := context.Background()

	job, err := f.worker.Enqueue(ctx, Request{UserID: "u1", ProjectID: f.proj.ID, Title: "x"}, strings.NewReader("abc"))
	require.NoError(t, err)
	f.worker.Wait()

	st, err := f.worker.Status(ctx, "u1", job.ID)
	require.NoError(t, err)
	assert.Equal(t, store.JobError, st.State)
	assert.Empty(t, f.yt.initiated)
}

func TestThumbnailFailureIsNotFatal(t *testing.T) {
	f := newFixture(t, nil)
	f.worker.thumbs = fakeThumbs{"u1/" + f.proj.ID: "data:image/jpeg;base64,/9j/"}
	f.yt.thumbErr = errors.New("thumbnail rejected")
	ctx := context.Background()

	job, err := f.worker.Enqueue(ctx, Request{UserID: "u1", ProjectID: f.proj.ID, Title: "x"}, strings.NewReader("abc"))
	require.NoError(t, err)
	f.worker.Wait()

	st, err := f.worker.Status(ctx, "u1", job.ID)
	require.NoError(t, err)
	assert.Equal(t, store.JobSuccess, st.State)
	assert.Equal(t, "thumbnail rejected", st.ThumbnailError)
}

func TestThumbnailUsesTokenFetchedAfterUpload(t *testing.T) {
	f := newFixture(t, nil)
	f.worker.thumbs = fakeThumbs{"u1/" + f.proj.ID: "data:image/png;base64,iVBORw0KGgo="}
	ctx := context.Background()

	job, err := f.worker.Enqueue(ctx, Request{UserID: "u1", ProjectID: f.proj.ID, Title: "x"}, strings.NewReader("abc"))
	require.NoError(t, err)
	f.worker.Wait()

	st, err := f.worker.Status(ctx, "u1", job.ID)
	require.NoError(t, err)
	assert.Equal(t, store.JobSuccess, st.State)
	assert.Equal(t, []string{"tok-u1-refreshed"}, f.yt.thumbTokens)
}

func TestStatusIsUserScoped(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	job, err := f.worker.Enqueue(ctx, Request{UserID: "u1", ProjectID: f.proj.ID, Title: "x"}, strings.NewReader("abc"))
	require.NoError(t, err)
	f.worker.Wait()

	_, err = f.worker.Status(ctx, "u2", job.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func seedJob(t *testing.T, f *fixture, id, session string, withFile bool) *store.UploadJob {
	t.Helper()
	require.NoError(t, os.MkdirAll(f.dir, 0o750))
	path := filepath.Join(f.dir, id)
	if withFile {
		require.NoError(t, os.WriteFile(path, []byte("resumable"), 0o600))
	}
	j := &store.UploadJob{
		ID: id, UserID: "u1", ProjectID: f.proj.ID, FilePath: path, FileSize: 9,
		Title: "Resumed", Privacy: "private", State: store.JobUploading, Progress: 40, SessionURL: session,
	}
	require.NoError(t, f.store.CreateUploadJob(context.Background(), j))
	return j
}

func TestResumeContinuesSession(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	seedJob(t, f, "job-a", "https://upload.example/session/old", true)

	n, err := f.worker.Resume(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	f.worker.Wait()

	assert.Equal(t, []string{"https://upload.example/session/old"}, f.yt.resumed)
	assert.Empty(t, f.yt.initiated)
	st, err := f.worker.Status(ctx, "u1", "job-a")
	require.NoError(t, err)
	assert.Equal(t, store.JobSuccess, st.State)
	assert.Equal(t, "vid-resumed", st.VideoID)
}

func TestResumeExpiredSessionStartsOver(t *testing.T) {
	f := newFixture(t, nil)
	f.yt.resumeErr = youtubeapi.ErrSessionExpired
	ctx := context.Background()
	seedJob(t, f, "job-b", "https://upload.example/session/old", true)

	_, err := f.worker.Resume(ctx)
	require.NoError(t, err)
	f.worker.Wait()

	require.Len(t, f.yt.initiated, 1)
	assert.Equal(t, "private", f.yt.initiated[0].PrivacyStatus)
	st, _ := f.worker.Status(ctx, "u1", "job-b")
	assert.Equal(t, store.JobSuccess, st.State)
	assert.Equal(t, "vid-1", st.VideoID)
}

func TestResumeMissingFileFailsJob(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	seedJob(t, f, "job-c", "", false)

	n, err := f.worker.Resume(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	st, err := f.worker.Status(ctx, "u1", "job-c")
	require.NoError(t, err)
	assert.Equal(t, store.JobError, st.State)
	assert.Contains(t, st.Error, "spooled file missing")
}

func TestSlotsBoundConcurrency(t *testing.T) {
	s := newSlots(2)
	ctx, cancel := context.WithCancel(context.Background())
	require.True(t, s.acquire(ctx))
	require.True(t, s.acquire(ctx))
	assert.Equal(t, 2, s.active())
	cancel()
	assert.False(t, s.acquire(ctx), "acquire must give up when the context is canceled")
	s.release()
	assert.Equal(t, 1, s.active())
	s.release()
	s.release()
	assert.Equal(t, 0, s.active())
}
