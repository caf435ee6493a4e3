package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reconic/backend/project"
)

// runStoreSuite exercises behaviour both backends must share.
func runStoreSuite(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("project lifecycle", func(t *testing.T) {
		s := newStore(t)
		first, err := s.CreateProject(ctx, "u1", project.NewProject{Title: "First", Topic: "t"})
		require.NoError(t, err)
		time.Sleep(5 * time.Millisecond)
		second, err := s.CreateProject(ctx, "u1", project.NewProject{Title: "Second"})
		require.NoError(t, err)

		list, err := s.ListProjects(ctx, "u1")
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, second.ID, list[0].ID, "newest project first")

		notes := "bring tripod"
		patched, err := s.PatchProject(ctx, "u1", first.ID, project.Patch{
			Notes:       project.Set(notes),
			BrollChecks: project.Set(map[string]bool{"123": true}),
			Status:      project.Set(project.StatusFilming),
		})
		require.NoError(t, err)
		require.NotNil(t, patched.Notes)
		assert.Equal(t, notes, *patched.Notes)
		assert.True(t, patched.BrollChecks["123"])
		assert.Equal(t, "First", patched.Title, "absent fields untouched")

		cleared, err := s.PatchProject(ctx, "u1", first.ID, project.Patch{Status: project.Clear[project.Status]()})
		require.NoError(t, err)
		assert.Nil(t, cleared.Status)
		assert.NotNil(t, cleared.Notes)

		_, err = s.GetProject(ctx, "u2", first.ID)
		assert.ErrorIs(t, err, ErrNotFound, "other users cannot read the project")
		_, err = s.PatchProject(ctx, "u2", first.ID, project.Patch{Notes: project.Set("x")})
		assert.ErrorIs(t, err, ErrNotFound)

		require.NoError(t, s.PutDraft(ctx, "u1", first.ID, DraftScript, "## Hook"))
		require.NoError(t, s.SetThumbnail(ctx, "u1", first.ID, Thumbnail{DataURL: "data:image/png;base64,AAAA"}))
		require.NoError(t, s.DeleteProject(ctx, "u1", first.ID))
		_, err = s.GetProject(ctx, "u1", first.ID)
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = s.GetThumbnail(ctx, "u1", first.ID)
		assert.ErrorIs(t, err, ErrNotFound, "thumbnail removed with project")
		assert.ErrorIs(t, s.DeleteProject(ctx, "u1", first.ID), ErrNotFound)
	})

	t.Run("drafts and thumbnails", func(t *testing.T) {
		s := newStore(t)
		p, err := s.CreateProject(ctx, "u1", project.NewProject{Title: "P"})
		require.NoError(t, err)

		v, err := s.GetDraft(ctx, "u1", p.ID, DraftScript)
		require.NoError(t, err)
		assert.Empty(t, v)
		require.NoError(t, s.PutDraft(ctx, "u1", p.ID, DraftScript, "one"))
		require.NoError(t, s.PutDraft(ctx, "u1", p.ID, DraftScript, "two"))
		v, err = s.GetDraft(ctx, "u1", p.ID, DraftScript)
		require.NoError(t, err)
		assert.Equal(t, "two", v)
		assert.ErrorIs(t, s.PutDraft(ctx, "u2", p.ID, DraftScript, "x"), ErrNotFound)

		require.NoError(t, s.SetThumbnail(ctx, "u1", p.ID, Thumbnail{ObjectKey: "thumbnails/u1/" + p.ID}))
		th, err := s.GetThumbnail(ctx, "u1", p.ID)
		require.NoError(t, err)
		assert.Equal(t, "thumbnails/u1/"+p.ID, th.ObjectKey)
		require.NoError(t, s.DeleteThumbnail(ctx, "u1", p.ID))
		_, err = s.GetThumbnail(ctx, "u1", p.ID)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("inspirations", func(t *testing.T) {
		s := newStore(t)
		p, err := s.CreateProject(ctx, "u1", project.NewProject{Title: "P"})
		require.NoError(t, err)

		_, err = s.SaveInspiration(ctx, "u1", p.ID, Inspiration{VideoID: "v1", Title: "Old"})
		require.NoError(t, err)
		time.Sleep(5 * time.Millisecond)
		_, err = s.SaveInspiration(ctx, "u1", p.ID, Inspiration{VideoID: "v2", Title: "Other"})
		require.NoError(t, err)
		time.Sleep(5 * time.Millisecond)
		_, err = s.SaveInspiration(ctx, "u1", p.ID, Inspiration{VideoID: "v1", Title: "New"})
		require.NoError(t, err)

		list, err := s.ListInspirations(ctx, "u1", p.ID)
		require.NoError(t, err)
		require.Len(t, list, 2, "upsert on video id")
		assert.Equal(t, "v1", list[0].VideoID)
		assert.Equal(t, "New", list[0].Title)

		require.NoError(t, s.RemoveInspiration(ctx, "u1", p.ID, "v1"))
		assert.ErrorIs(t, s.RemoveInspiration(ctx, "u1", p.ID, "v1"), ErrNotFound)

		_, err = s.SaveInspiration(ctx, "u2", p.ID, Inspiration{VideoID: "v3"})
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("favorites", func(t *testing.T) {
		s := newStore(t)
		a, err := s.SaveFavorite(ctx, "u1", FavoriteChannel{ChannelID: "c1", Title: "One", SubscriberCount: "1200"})
		require.NoError(t, err)
		assert.False(t, a.SavedAt.IsZero())
		time.Sleep(5 * time.Millisecond)
		_, err = s.SaveFavorite(ctx, "u1", FavoriteChannel{ChannelID: "c2", Title: "Two"})
		require.NoError(t, err)
		again, err := s.SaveFavorite(ctx, "u1", FavoriteChannel{ChannelID: "c1", Title: "Renamed"})
		require.NoError(t, err)
		assert.Equal(t, "One", again.Title, "saving twice keeps the first record")

		list, err := s.ListFavorites(ctx, "u1")
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, "c2", list[0].ChannelID, "newest first")

		ok, err := s.IsFavorite(ctx, "u1", "c1")
		require.NoError(t, err)
		assert.True(t, ok)
		ok, err = s.IsFavorite(ctx, "u2", "c1")
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, s.RemoveFavorite(ctx, "u1", "c1"))
		assert.NoError(t, s.RemoveFavorite(ctx, "u1", "c1"), "removing twice is not an error")
		assert.NoError(t, s.RemoveFavorite(ctx, "u3", "never-saved"))
		ok, err = s.IsFavorite(ctx, "u1", "c1")
		require.NoError(t, err)
		assert.False(t, ok)
		list, err = s.ListFavorites(ctx, "u1")
		require.NoError(t, err)
		assert.Len(t, list, 1)
	})

	t.Run("accounts", func(t *testing.T) {
		s := newStore(t)
		_, err := s.GetAccount(ctx, "u1")
		assert.ErrorIs(t, err, ErrNotFound)

		exp := time.Now().Add(30 * time.Second).UTC().Truncate(time.Second)
		require.NoError(t, s.UpsertAccount(ctx, Account{
			UserID: "u1", ChannelID: "UC1", ChannelName: "Chan", AccessToken: "a1", RefreshToken: "r1",
			TokenExpiresAt: exp, SubscriberCount: 42,
		}))
		acct, err := s.GetAccount(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, "a1", acct.AccessToken)
		assert.Equal(t, "r1", acct.RefreshToken)
		assert.EqualValues(t, 42, acct.SubscriberCount)

		expiring, err := s.AccountsExpiringBefore(ctx, time.Now().Add(5*time.Minute))
		require.NoError(t, err)
		require.Len(t, expiring, 1)
		assert.Equal(t, "u1", expiring[0].UserID)

		newExp := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
		require.NoError(t, s.UpdateAccountTokens(ctx, "u1", "UC1", "a2", "", newExp))
		acct, err = s.GetAccount(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, "a2", acct.AccessToken)
		assert.Equal(t, "r1", acct.RefreshToken, "empty refresh keeps the stored one")
		assert.True(t, acct.TokenExpiresAt.Equal(newExp))

		require.NoError(t, s.UpdateChannelProfile(ctx, "u1", "UC1", ChannelProfile{
			Niche: "woodworking", AvgVideoDurationSeconds: ptr(610), UploadFrequency: "weekly",
			TopTags: []string{"oak"}, RecentVideoTitles: []string{"Oak table"}, SyncedAt: time.Now(),
		}))
		acct, err = s.GetAccount(ctx, "u1")
		require.NoError(t, err)
		require.NotNil(t, acct.Niche)
		assert.Equal(t, "woodworking", *acct.Niche)
		assert.Equal(t, []string{"oak"}, acct.TopTags)
		require.NotNil(t, acct.AvgVideoDurationSeconds)
		assert.Equal(t, 610, *acct.AvgVideoDurationSeconds)

		require.NoError(t, s.UpdateChannelProfile(ctx, "u1", "UC1", ChannelProfile{
			Niche: "woodworking", UploadFrequency: "weekly", SyncedAt: time.Now(),
		}))
		acct, err = s.GetAccount(ctx, "u1")
		require.NoError(t, err)
		assert.Nil(t, acct.AvgVideoDurationSeconds, "unknown average is stored as null")

		assert.ErrorIs(t, s.UpdateAccountTokens(ctx, "u1", "UC-missing", "a", "", newExp), ErrNotFound)
		require.NoError(t, s.RemoveAccount(ctx, "u1", "UC1"))
		_, err = s.GetAccount(ctx, "u1")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("upload jobs", func(t *testing.T) {
		s := newStore(t)
		p, err := s.CreateProject(ctx, "u1", project.NewProject{Title: "P"})
		require.NoError(t, err)
		j := &UploadJob{ID: "job-1", UserID: "u1", ProjectID: p.ID, FilePath: "/tmp/v.mp4", FileSize: 10, Privacy: "unlisted", CategoryID: "22"}
		require.NoError(t, s.CreateUploadJob(ctx, j))
		assert.Equal(t, JobQueued, j.State)

		j.State, j.Progress, j.SessionURL = JobUploading, 40, "https://upload.example/session"
		require.NoError(t, s.UpdateUploadJob(ctx, j))
		got, err := s.GetUploadJob(ctx, "u1", "job-1")
		require.NoError(t, err)
		assert.Equal(t, 40, got.Progress)
		assert.Equal(t, "https://upload.example/session", got.SessionURL)

		resumable, err := s.ResumableJobs(ctx)
		require.NoError(t, err)
		require.Len(t, resumable, 1)

		j.State, j.Progress, j.VideoID = JobSuccess, 100, "vid"
		require.NoError(t, s.UpdateUploadJob(ctx, j))
		resumable, err = s.ResumableJobs(ctx)
		require.NoError(t, err)
		assert.Empty(t, resumable)

		_, err = s.GetUploadJob(ctx, "u2", "job-1")
		assert.True(t, errors.Is(err, ErrNotFound))
	})
}

func ptr[T any](v T) *T { return &v }
