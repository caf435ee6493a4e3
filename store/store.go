// Package store persists projects, favorited channels, linked YouTube
// accounts and upload jobs. Two backends implement Store: Postgres for hosted
// deployments and a SQLite key/value file that mirrors the browser-local
// layout (one namespaced key per record set) for single-user installs.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/reconic/backend/project"
)

// ErrNotFound is returned when a record does not exist for the requesting user.
var ErrNotFound = errors.New("not found")

// FavoriteChannel is a bookmarked YouTube channel.
type FavoriteChannel struct {
	ChannelID       string    `json:"channelId"`
	Title           string    `json:"title"`
	Thumbnail       string    `json:"thumbnail"`
	SubscriberCount string    `json:"subscriberCount"`
	SavedAt         time.Time `json:"savedAt"`
}

// Inspiration is a reference video saved against a project.
type Inspiration struct {
	VideoID      string    `json:"videoId"`
	Title        string    `json:"title"`
	ThumbnailURL string    `json:"thumbnailUrl"`
	SavedAt      time.Time `json:"savedAt"`
}

// Thumbnail is a project's cover image, held inline or as an object key.
type Thumbnail struct {
	DataURL   string
	ObjectKey string
}

// Account is a creator's linked YouTube channel with its OAuth tokens.
type Account struct {
	UserID          string    `json:"-"`
	ChannelID       string    `json:"channelId"`
	ChannelName     string    `json:"channelName"`
	ChannelAvatar   string    `json:"channelAvatar"`
	SubscriberCount int64     `json:"subscriberCount"`
	VideoCount      int64     `json:"videoCount"`
	AccessToken     string    `json:"-"`
	RefreshToken    string    `json:"-"`
	TokenExpiresAt  time.Time `json:"tokenExpiresAt"`
	Scope           string    `json:"-"`

	Niche                   *string    `json:"niche,omitempty"`
	AvgVideoDurationSeconds *int       `json:"avgVideoDurationSeconds,omitempty"`
	UploadFrequency         *string    `json:"uploadFrequency,omitempty"`
	TopTags                 []string   `json:"topTags,omitempty"`
	RecentVideoTitles       []string   `json:"recentVideoTitles,omitempty"`
	LastSyncedAt            *time.Time `json:"lastSyncedAt,omitempty"`
	ConnectedAt             time.Time  `json:"connectedAt"`
}

// ChannelProfile is the result of a channel analysis.
type ChannelProfile struct {
	Niche string
	// AvgVideoDurationSeconds is nil when no video reported a positive duration.
	AvgVideoDurationSeconds *int
	UploadFrequency         string
	TopTags                 []string
	RecentVideoTitles       []string
	SyncedAt                time.Time
}

// JobState is the lifecycle of an upload job.
type JobState string

const (
	JobQueued    JobState = "queued"
	JobUploading JobState = "uploading"
	JobSuccess   JobState = "success"
	JobError     JobState = "error"
)

// UploadJob tracks one video publish.
type UploadJob struct {
	ID             string
	UserID         string
	ProjectID      string
	FilePath       string
	FileSize       int64
	Title          string
	Description    string
	Privacy        string
	CategoryID     string
	State          JobState
	Progress       int
	SessionURL     string
	VideoID        string
	Error          string
	ThumbnailError string
	Attempts       int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Draft fields accepted by GetDraft/PutDraft.
const (
	DraftScript      = "script"
	DraftNotes       = "notes"
	DraftEditorNotes = "editorNotes"
	DraftBrollChecks = "brollChecks"
	DraftSuggestions = "suggestions"
)

// ValidDraftField reports whether field names a draft slot.
func ValidDraftField(field string) bool {
	switch field {
	case DraftScript, DraftNotes, DraftEditorNotes, DraftBrollChecks, DraftSuggestions:
		return true
	}
	return false
}

type ProjectStore interface {
	ListProjects(ctx context.Context, userID string) ([]project.Project, error)
	GetProject(ctx context.Context, userID, id string) (*project.Project, error)
	CreateProject(ctx context.Context, userID string, in project.NewProject) (*project.Project, error)
	PatchProject(ctx context.Context, userID, id string, p project.Patch) (*project.Project, error)
	// DeleteProject also removes the project's thumbnail, drafts and inspirations.
	DeleteProject(ctx context.Context, userID, id string) error

	ListInspirations(ctx context.Context, userID, projectID string) ([]Inspiration, error)
	SaveInspiration(ctx context.Context, userID, projectID string, in Inspiration) (*Inspiration, error)
	RemoveInspiration(ctx context.Context, userID, projectID, videoID string) error

	GetThumbnail(ctx context.Context, userID, projectID string) (*Thumbnail, error)
	SetThumbnail(ctx context.Context, userID, projectID string, t Thumbnail) error
	DeleteThumbnail(ctx context.Context, userID, projectID string) error

	// GetDraft returns "" with no error when the slot is empty.
	GetDraft(ctx context.Context, userID, projectID, field string) (string, error)
	PutDraft(ctx context.Context, userID, projectID, field, value string) error
}

type ChannelStore interface {
	ListFavorites(ctx context.Context, userID string) ([]FavoriteChannel, error)
	// SaveFavorite is a no-op returning the existing record when the channel is already saved.
	SaveFavorite(ctx context.Context, userID string, ch FavoriteChannel) (*FavoriteChannel, error)
	// RemoveFavorite succeeds when the channel was never saved.
	RemoveFavorite(ctx context.Context, userID, channelID string) error
	IsFavorite(ctx context.Context, userID, channelID string) (bool, error)
}

type AccountStore interface {
	// GetAccount returns the user's most recently updated linked channel.
	GetAccount(ctx context.Context, userID string) (*Account, error)
	UpsertAccount(ctx context.Context, a Account) error
	UpdateAccountTokens(ctx context.Context, userID, channelID, access, refresh string, expiry time.Time) error
	UpdateChannelProfile(ctx context.Context, userID, channelID string, p ChannelProfile) error
	RemoveAccount(ctx context.Context, userID, channelID string) error
	AccountsExpiringBefore(ctx context.Context, t time.Time) ([]Account, error)
}

type JobStore interface {
	CreateUploadJob(ctx context.Context, j *UploadJob) error
	GetUploadJob(ctx context.Context, userID, id string) (*UploadJob, error)
	UpdateUploadJob(ctx context.Context, j *UploadJob) error
	// ResumableJobs lists jobs left queued or uploading, oldest first.
	ResumableJobs(ctx context.Context) ([]UploadJob, error)
}

// Store is the full persistence surface used by the server.
type Store interface {
	ProjectStore
	ChannelStore
	AccountStore
	JobStore
	Ping(ctx context.Context) error
	Close() error
}
