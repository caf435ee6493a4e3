// Package publish runs video upload jobs. A request is validated, its file is
// spooled to disk and an upload job row is recorded; a bounded pool of
// goroutines then pushes the file through the YouTube resumable protocol,
// persisting progress so interrupted jobs resume on the next start.
package publish

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/reconic/backend/project"
	"github.com/reconic/backend/store"
	"github.com/reconic/backend/telemetry"
	"github.com/reconic/backend/youtubeapi"
)

// DefaultPrivacy applies when a request names no privacy status.
const DefaultPrivacy = "unlisted"

var (
	// ErrInvalid wraps every request validation failure.
	ErrInvalid = errors.New("invalid upload")
	// ErrEmptyFile means the uploaded video had no bytes.
	ErrEmptyFile = errors.New("video file is empty")
)

var privacyStatuses = map[string]bool{"public": true, "unlisted": true, "private": true}

// Request describes one publish.
type Request struct {
	UserID      string
	ProjectID   string
	Title       string
	Description string
	Privacy     string
	CategoryID  string
}

// Normalize trims fields, applies defaults and validates limits.
func (r *Request) Normalize() error {
	r.Title = strings.TrimSpace(r.Title)
	r.Privacy = strings.ToLower(strings.TrimSpace(r.Privacy))
	r.CategoryID = strings.TrimSpace(r.CategoryID)
	if r.Title == "" {
		return fmt.Errorf("%w: title is required", ErrInvalid)
	}
	if utf8.RuneCountInString(r.Title) > project.MaxTitleLen {
		return fmt.Errorf("%w: title exceeds %d characters", ErrInvalid, project.MaxTitleLen)
	}
	if utf8.RuneCountInString(r.Description) > project.MaxDescriptionLen {
		return fmt.Errorf("%w: description exceeds %d characters", ErrInvalid, project.MaxDescriptionLen)
	}
	if r.Privacy == "" {
		r.Privacy = DefaultPrivacy
	}
	if !privacyStatuses[r.Privacy] {
		return fmt.Errorf("%w: privacy must be public, unlisted or private", ErrInvalid)
	}
	for _, c := range r.CategoryID {
		if c < '0' || c > '9' {
			return fmt.Errorf("%w: categoryId must be numeric", ErrInvalid)
		}
	}
	return nil
}

// YouTube is the subset of youtubeapi.Service the worker drives.
type YouTube interface {
	AccessToken(ctx context.Context, userID string) (string, error)
	InitiateUpload(ctx context.Context, accessToken string, meta youtubeapi.VideoMetadata, size int64) (string, error)
	UploadFile(ctx context.Context, sessionURL string, r io.ReaderAt, size int64, progress youtubeapi.ProgressFunc) (string, error)
	ResumeUpload(ctx context.Context, sessionURL string, r io.ReaderAt, size int64, progress youtubeapi.ProgressFunc) (string, error)
	SetThumbnail(ctx context.Context, accessToken, videoID, dataURL string) error
}

type Projects interface {
	GetProject(ctx context.Context, userID, id string) (*project.Project, error)
	PatchProject(ctx context.Context, userID, id string, p project.Patch) (*project.Project, error)
}

// Thumbnails resolves a project's cover image as a data URL ("" when unset).
type Thumbnails interface {
	Get(ctx context.Context, userID, projectID string) (string, error)
}

type Options struct {
	Dir           string
	MaxConcurrent int
}

// Worker owns the upload pool.
type Worker struct {
	jobs     store.JobStore
	projects Projects
	thumbs   Thumbnails
	yt       YouTube
	dir      string
	slots    slots
	waiting  atomic.Int32
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
	logger   *slog.Logger
}

func NewWorker(jobs store.JobStore, projects Projects, thumbs Thumbnails, yt YouTube, opts Options) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		jobs:     jobs,
		projects: projects,
		thumbs:   thumbs,
		yt:       yt,
		dir:      opts.Dir,
		slots:    newSlots(opts.MaxConcurrent),
		ctx:      ctx,
		cancel:   cancel,
		logger:   slog.Default().With(slog.String("component", "publish")),
	}
}

// Enqueue validates req, spools file and starts the job. The project must
// belong to req.UserID.
func (w *Worker) Enqueue(ctx context.Context, req Request, file io.Reader) (*store.UploadJob, error) {
	if err := req.Normalize(); err != nil {
		return nil, err
	}
	if _, err := w.projects.GetProject(ctx, req.UserID, req.ProjectID); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(w.dir, 0o750); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	id := uuid.NewString()
	path := filepath.Join(w.dir, id)
	size, err := spool(path, file)
	if err != nil {
		_ = os.Remove(path)
		return nil, err
	}
	if size == 0 {
		_ = os.Remove(path)
		return nil, ErrEmptyFile
	}
	job := &store.UploadJob{
		ID:          id,
		UserID:      req.UserID,
		ProjectID:   req.ProjectID,
		FilePath:    path,
		FileSize:    size,
		Title:       req.Title,
		Description: req.Description,
		Privacy:     req.Privacy,
		CategoryID:  req.CategoryID,
		State:       store.JobQueued,
	}
	if err := w.jobs.CreateUploadJob(ctx, job); err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("create upload job: %w", err)
	}
	telemetry.IncUploadJob(telemetry.UploadQueued)
	w.logger.Info("upload queued", slog.String("job_id", id), slog.String("project_id", req.ProjectID), slog.Int64("bytes", size))
	w.start(*job)
	return job, nil
}

func spool(path string, r io.Reader) (int64, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return 0, fmt.Errorf("spool upload: %w", err)
	}
	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return 0, fmt.Errorf("spool upload: %w", err)
	}
	return n, nil
}

// Resume restarts jobs left queued or uploading by a previous process and
// returns how many were started. Jobs whose spooled file is gone are failed.
func (w *Worker) Resume(ctx context.Context) (int, error) {
	jobs, err := w.jobs.ResumableJobs(ctx)
	if err != nil {
		return 0, fmt.Errorf("list resumable jobs: %w", err)
	}
	started := 0
	for _, j := range jobs {
		if _, err := os.Stat(j.FilePath); err != nil {
			w.fail(ctx, &j, fmt.Errorf("spooled file missing: %w", err))
			continue
		}
		telemetry.IncUploadJob(telemetry.UploadResumed)
		w.logger.Info("resuming upload", slog.String("job_id", j.ID), slog.Int("progress", j.Progress))
		w.start(j)
		started++
	}
	return started, nil
}

func (w *Worker) start(job store.UploadJob) {
	w.wg.Add(1)
	telemetry.SetQueueDepth(int(w.waiting.Add(1)))
	go func() {
		defer w.wg.Done()
		ok := w.slots.acquire(w.ctx)
		telemetry.SetQueueDepth(int(w.waiting.Add(-1)))
		if !ok {
			return
		}
		telemetry.SetActiveUploads(w.slots.active())
		defer func() {
			w.slots.release()
			telemetry.SetActiveUploads(w.slots.active())
		}()
		w.run(w.ctx, &job)
	}()
}

func (w *Worker) run(ctx context.Context, job *store.UploadJob) {
	logger := w.logger.With(slog.String("job_id", job.ID), slog.String("user_id", job.UserID))
	ctx, span := telemetry.StartSpan(ctx, "publish", "upload", telemetry.JobAttr(job.ID), telemetry.UserAttr(job.UserID))
	defer span.End()
	start := time.Now()

	token, err := w.yt.AccessToken(ctx, job.UserID)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		w.fail(ctx, job, err)
		telemetry.RecordError(span, err)
		return
	}
	videoID, err := w.upload(ctx, token, job, logger)
	if err != nil {
		if ctx.Err() != nil {
			logger.Info("upload interrupted, will resume on restart", slog.Int("progress", job.Progress))
			return
		}
		w.fail(ctx, job, err)
		telemetry.RecordError(span, err)
		return
	}
	if telemetry.UploadDuration != nil {
		telemetry.UploadDuration.Observe(time.Since(start).Seconds())
	}

	job.VideoID = videoID
	job.Progress = 100
	w.attachThumbnail(ctx, job, logger)

	patch := project.Patch{
		Status:         project.Set(project.StatusPublished),
		YouTubeVideoID: project.Set(videoID),
	}
	if _, err := w.projects.PatchProject(ctx, job.UserID, job.ProjectID, patch); err != nil {
		logger.Warn("mark project published failed", slog.String("project_id", job.ProjectID), slog.Any("err", err))
	}

	job.State = store.JobSuccess
	job.Error = ""
	w.save(ctx, job)
	w.removeFile(job)
	telemetry.IncUploadJob(telemetry.UploadSucceeded)
	telemetry.SetSpanSuccess(span)
	logger.Info("upload complete", slog.String("video_id", videoID), slog.Duration("took", time.Since(start)))
}

func (w *Worker) upload(ctx context.Context, token string, job *store.UploadJob, logger *slog.Logger) (string, error) {
	f, err := os.Open(job.FilePath)
	if err != nil {
		return "", fmt.Errorf("open spooled file: %w", err)
	}
	defer f.Close()

	job.State = store.JobUploading
	job.Attempts++
	w.save(ctx, job)
	progress := func(pct int) {
		job.Progress = pct
		w.save(ctx, job)
	}

	if job.SessionURL != "" {
		id, err := w.yt.ResumeUpload(ctx, job.SessionURL, f, job.FileSize, progress)
		if !errors.Is(err, youtubeapi.ErrSessionExpired) {
			return id, err
		}
		logger.Info("upload session expired, starting over")
		job.SessionURL = ""
		job.Progress = 0
	}

	meta := youtubeapi.VideoMetadata{
		Title:         job.Title,
		Description:   job.Description,
		PrivacyStatus: job.Privacy,
		CategoryID:    job.CategoryID,
	}
	session, err := w.yt.InitiateUpload(ctx, token, meta, job.FileSize)
	if err != nil {
		return "", err
	}
	job.SessionURL = session
	w.save(ctx, job)
	return w.yt.UploadFile(ctx, session, f, job.FileSize, progress)
}

// attachThumbnail is best-effort; failures are recorded on the job only.
// The token is fetched again because a long upload can outlive the one it started with.
func (w *Worker) attachThumbnail(ctx context.Context, job *store.UploadJob, logger *slog.Logger) {
	if w.thumbs == nil {
		return
	}
	dataURL, err := w.thumbs.Get(ctx, job.UserID, job.ProjectID)
	if err == nil && dataURL != "" {
		var token string
		if token, err = w.yt.AccessToken(ctx, job.UserID); err == nil {
			err = w.yt.SetThumbnail(ctx, token, job.VideoID, dataURL)
		}
	}
	if err != nil {
		job.ThumbnailError = err.Error()
		logger.Warn("thumbnail attach failed", slog.String("video_id", job.VideoID), slog.Any("err", err))
	}
}

func (w *Worker) fail(ctx context.Context, job *store.UploadJob, err error) {
	job.State = store.JobError
	job.Error = err.Error()
	w.save(ctx, job)
	w.removeFile(job)
	telemetry.IncUploadJob(telemetry.UploadFailed)
	w.logger.Error("upload failed", slog.String("job_id", job.ID), slog.String("user_id", job.UserID), slog.Any("err", err))
}

// save persists job state even after ctx is canceled.
func (w *Worker) save(ctx context.Context, job *store.UploadJob) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := w.jobs.UpdateUploadJob(ctx, job); err != nil {
		w.logger.Warn("persist upload job failed", slog.String("job_id", job.ID), slog.Any("err", err))
	}
}

func (w *Worker) removeFile(job *store.UploadJob) {
	if err := os.Remove(job.FilePath); err != nil && !errors.Is(err, os.ErrNotExist) {
		w.logger.Warn("remove spooled file failed", slog.String("path", job.FilePath), slog.Any("err", err))
	}
}

// Active returns the number of uploads currently transferring.
func (w *Worker) Active() int { return w.slots.active() }

// Wait blocks until every started job has finished.
func (w *Worker) Wait() { w.wg.Wait() }

// Shutdown interrupts running uploads and waits for them to stop. Interrupted
// jobs keep their session and are picked up by Resume.
func (w *Worker) Shutdown(ctx context.Context) error {
	w.cancel()
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Status is the client view of an upload job.
type Status struct {
	State          store.JobState `json:"state"`
	Progress       int            `json:"progress"`
	VideoID        string         `json:"videoId,omitempty"`
	URL            string         `json:"url,omitempty"`
	Error          string         `json:"error,omitempty"`
	ThumbnailError string         `json:"thumbnailError,omitempty"`
}

func StatusOf(j *store.UploadJob) Status {
	s := Status{
		State:          j.State,
		Progress:       j.Progress,
		VideoID:        j.VideoID,
		Error:          j.Error,
		ThumbnailError: j.ThumbnailError,
	}
	if j.VideoID != "" {
		s.URL = youtubeapi.WatchURL(j.VideoID)
	}
	return s
}

// Status loads a job owned by userID.
func (w *Worker) Status(ctx context.Context, userID, id string) (*Status, error) {
	j, err := w.jobs.GetUploadJob(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	s := StatusOf(j)
	return &s, nil
}
