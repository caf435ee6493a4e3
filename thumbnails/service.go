package thumbnails

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/reconic/backend/store"
)

// ProjectThumbnails is the slice of the project store used here.
type ProjectThumbnails interface {
	GetThumbnail(ctx context.Context, userID, projectID string) (*store.Thumbnail, error)
	SetThumbnail(ctx context.Context, userID, projectID string, t store.Thumbnail) error
	DeleteThumbnail(ctx context.Context, userID, projectID string) error
}

// Service reads and writes project thumbnails. With a nil Blobs the image is
// kept inline as its data URL.
type Service struct {
	projects ProjectThumbnails
	blobs    Blobs
	logger   *slog.Logger
}

func NewService(projects ProjectThumbnails, blobs Blobs) *Service {
	return &Service{
		projects: projects,
		blobs:    blobs,
		logger:   slog.Default().With(slog.String("component", "thumbnails")),
	}
}

// ObjectKey is the blob key for a project's thumbnail.
func ObjectKey(userID, projectID string) string {
	return "thumbnails/" + userID + "/" + projectID
}

// Put validates and stores dataURL as the project's thumbnail.
func (s *Service) Put(ctx context.Context, userID, projectID, dataURL string) error {
	if err := Validate(dataURL); err != nil {
		return err
	}
	if s.blobs == nil {
		return s.projects.SetThumbnail(ctx, userID, projectID, store.Thumbnail{DataURL: dataURL})
	}
	mime, data, _ := Decode(dataURL)
	key := ObjectKey(userID, projectID)
	if err := s.blobs.Put(ctx, key, mime, data); err != nil {
		return err
	}
	if err := s.projects.SetThumbnail(ctx, userID, projectID, store.Thumbnail{ObjectKey: key}); err != nil {
		if derr := s.blobs.Delete(ctx, key); derr != nil {
			s.logger.Warn("orphaned thumbnail object", slog.String("key", key), slog.Any("err", derr))
		}
		return err
	}
	return nil
}

// Get returns the project's thumbnail as a data URL, or "" when none is set.
func (s *Service) Get(ctx context.Context, userID, projectID string) (string, error) {
	t, err := s.projects.GetThumbnail(ctx, userID, projectID)
	if errors.Is(err, store.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if t.ObjectKey == "" {
		return t.DataURL, nil
	}
	if s.blobs == nil {
		return "", fmt.Errorf("thumbnail %s stored in a bucket but none is configured", t.ObjectKey)
	}
	mime, data, err := s.blobs.Get(ctx, t.ObjectKey)
	if errors.Is(err, ErrBlobNotFound) {
		s.logger.Warn("thumbnail object missing", slog.String("key", t.ObjectKey))
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return Encode(mime, data), nil
}

// Delete removes the thumbnail record and its object, if any.
func (s *Service) Delete(ctx context.Context, userID, projectID string) error {
	t, err := s.projects.GetThumbnail(ctx, userID, projectID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	if err := s.projects.DeleteThumbnail(ctx, userID, projectID); err != nil {
		return err
	}
	if t != nil && t.ObjectKey != "" && s.blobs != nil {
		if err := s.blobs.Delete(ctx, t.ObjectKey); err != nil {
			s.logger.Warn("delete thumbnail object failed", slog.String("key", t.ObjectKey), slog.Any("err", err))
		}
	}
	return nil
}
