package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const accountColumns = `user_id, channel_id, channel_name, channel_avatar, subscriber_count, video_count,
	access_token, refresh_token, token_expires_at, scope, niche, avg_video_duration_seconds,
	upload_frequency, top_tags, recent_video_titles, last_synced_at, created_at`

func (s *Postgres) scanAccount(r rowScanner) (*Account, error) {
	var a Account
	var expires, synced sql.NullTime
	var niche, freq sql.NullString
	var avg sql.NullInt64
	var tags, titles []byte
	if err := r.Scan(&a.UserID, &a.ChannelID, &a.ChannelName, &a.ChannelAvatar, &a.SubscriberCount, &a.VideoCount,
		&a.AccessToken, &a.RefreshToken, &expires, &a.Scope, &niche, &avg,
		&freq, &tags, &titles, &synced, &a.ConnectedAt); err != nil {
		return nil, err
	}
	if expires.Valid {
		a.TokenExpiresAt = expires.Time
	}
	if synced.Valid {
		t := synced.Time
		a.LastSyncedAt = &t
	}
	a.Niche = nullString(niche)
	a.UploadFrequency = nullString(freq)
	if avg.Valid {
		v := int(avg.Int64)
		a.AvgVideoDurationSeconds = &v
	}
	if len(tags) > 0 {
		if err := json.Unmarshal(tags, &a.TopTags); err != nil {
			return nil, fmt.Errorf("decode top_tags: %w", err)
		}
	}
	if len(titles) > 0 {
		if err := json.Unmarshal(titles, &a.RecentVideoTitles); err != nil {
			return nil, fmt.Errorf("decode recent_video_titles: %w", err)
		}
	}
	var err error
	if a.AccessToken, err = s.cipher.OpenFor(a.UserID, a.AccessToken); err != nil {
		return nil, fmt.Errorf("decrypt access token: %w", err)
	}
	if a.RefreshToken, err = s.cipher.OpenFor(a.UserID, a.RefreshToken); err != nil {
		return nil, fmt.Errorf("decrypt refresh token: %w", err)
	}
	return &a, nil
}

func (s *Postgres) sealTokens(userID, access, refresh string) (string, string, int, error) {
	a, err := s.cipher.SealFor(userID, access)
	if err != nil {
		return "", "", 0, fmt.Errorf("encrypt access token: %w", err)
	}
	r, err := s.cipher.SealFor(userID, refresh)
	if err != nil {
		return "", "", 0, fmt.Errorf("encrypt refresh token: %w", err)
	}
	version := 0
	if s.cipher.Enabled() {
		version = 1
	}
	return a, r, version, nil
}

func (s *Postgres) GetAccount(ctx context.Context, userID string) (*Account, error) {
	a, err := s.scanAccount(s.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM youtube_accounts WHERE user_id = $1 ORDER BY updated_at DESC LIMIT 1`, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return a, err
}

func (s *Postgres) UpsertAccount(ctx context.Context, a Account) error {
	access, refresh, version, err := s.sealTokens(a.UserID, a.AccessToken, a.RefreshToken)
	if err != nil {
		return err
	}
	// An empty refresh token keeps the stored one; Google omits it on re-consent at times.
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO youtube_accounts (user_id, channel_id, channel_name, channel_avatar, subscriber_count, video_count,
		   access_token, refresh_token, token_expires_at, scope, encryption_version, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12)
		 ON CONFLICT (user_id, channel_id) DO UPDATE SET
		   channel_name = EXCLUDED.channel_name,
		   channel_avatar = EXCLUDED.channel_avatar,
		   subscriber_count = EXCLUDED.subscriber_count,
		   video_count = EXCLUDED.video_count,
		   access_token = EXCLUDED.access_token,
		   refresh_token = CASE WHEN EXCLUDED.refresh_token = '' THEN youtube_accounts.refresh_token ELSE EXCLUDED.refresh_token END,
		   token_expires_at = EXCLUDED.token_expires_at,
		   scope = EXCLUDED.scope,
		   encryption_version = EXCLUDED.encryption_version,
		   updated_at = EXCLUDED.updated_at`,
		a.UserID, a.ChannelID, a.ChannelName, a.ChannelAvatar, a.SubscriberCount, a.VideoCount,
		access, refresh, a.TokenExpiresAt, a.Scope, version, s.now())
	if err != nil {
		return fmt.Errorf("upsert youtube account: %w", err)
	}
	return nil
}

func (s *Postgres) UpdateAccountTokens(ctx context.Context, userID, channelID, access, refresh string, expiry time.Time) error {
	a, r, version, err := s.sealTokens(userID, access, refresh)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE youtube_accounts SET
		   access_token = $3,
		   refresh_token = CASE WHEN $4::text = '' THEN refresh_token ELSE $4::text END,
		   token_expires_at = $5,
		   encryption_version = $6,
		   updated_at = $7
		 WHERE user_id = $1 AND channel_id = $2`,
		userID, channelID, a, r, expiry, version, s.now())
	if err != nil {
		return fmt.Errorf("update tokens: %w", err)
	}
	return affectedOrNotFound(res)
}

func (s *Postgres) UpdateChannelProfile(ctx context.Context, userID, channelID string, p ChannelProfile) error {
	tags, err := json.Marshal(nonNil(p.TopTags))
	if err != nil {
		return err
	}
	titles, err := json.Marshal(nonNil(p.RecentVideoTitles))
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE youtube_accounts SET
		   niche = $3,
		   avg_video_duration_seconds = $4,
		   upload_frequency = $5,
		   top_tags = $6,
		   recent_video_titles = $7,
		   last_synced_at = $8,
		   updated_at = $9
		 WHERE user_id = $1 AND channel_id = $2`,
		userID, channelID, p.Niche, p.AvgVideoDurationSeconds, p.UploadFrequency,
		string(tags), string(titles), p.SyncedAt, s.now())
	if err != nil {
		return fmt.Errorf("update channel profile: %w", err)
	}
	return affectedOrNotFound(res)
}

func nonNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}

func (s *Postgres) RemoveAccount(ctx context.Context, userID, channelID string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM youtube_accounts WHERE user_id = $1 AND channel_id = $2`, userID, channelID)
	if err != nil {
		return fmt.Errorf("remove youtube account: %w", err)
	}
	return affectedOrNotFound(res)
}

func (s *Postgres) AccountsExpiringBefore(ctx context.Context, t time.Time) ([]Account, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+accountColumns+` FROM youtube_accounts
		 WHERE refresh_token <> '' AND token_expires_at IS NOT NULL AND token_expires_at < $1
		 ORDER BY token_expires_at`, t)
	if err != nil {
		return nil, fmt.Errorf("list expiring accounts: %w", err)
	}
	defer rows.Close()
	var out []Account
	for rows.Next() {
		a, err := s.scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

const jobColumns = `id, user_id, project_id, file_path, file_size, title, description, privacy, category_id,
	state, progress, session_url, video_id, error, thumbnail_error, attempts, created_at, updated_at`

func scanJob(r rowScanner) (*UploadJob, error) {
	var j UploadJob
	var state string
	if err := r.Scan(&j.ID, &j.UserID, &j.ProjectID, &j.FilePath, &j.FileSize, &j.Title, &j.Description,
		&j.Privacy, &j.CategoryID, &state, &j.Progress, &j.SessionURL, &j.VideoID, &j.Error,
		&j.ThumbnailError, &j.Attempts, &j.CreatedAt, &j.UpdatedAt); err != nil {
		return nil, err
	}
	j.State = JobState(state)
	return &j, nil
}

func (s *Postgres) CreateUploadJob(ctx context.Context, j *UploadJob) error {
	now := s.now()
	j.CreatedAt, j.UpdatedAt = now, now
	if j.State == "" {
		j.State = JobQueued
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO upload_jobs (id, user_id, project_id, file_path, file_size, title, description, privacy,
		   category_id, state, progress, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12)`,
		j.ID, j.UserID, j.ProjectID, j.FilePath, j.FileSize, j.Title, j.Description, j.Privacy,
		j.CategoryID, string(j.State), j.Progress, now)
	if err != nil {
		return fmt.Errorf("create upload job: %w", err)
	}
	return nil
}

func (s *Postgres) GetUploadJob(ctx context.Context, userID, id string) (*UploadJob, error) {
	j, err := scanJob(s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM upload_jobs WHERE id = $1 AND user_id = $2`, id, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return j, err
}

func (s *Postgres) UpdateUploadJob(ctx context.Context, j *UploadJob) error {
	j.UpdatedAt = s.now()
	res, err := s.db.ExecContext(ctx,
		`UPDATE upload_jobs SET state = $3, progress = $4, session_url = $5, video_id = $6, error = $7,
		   thumbnail_error = $8, attempts = $9, updated_at = $10
		 WHERE id = $1 AND user_id = $2`,
		j.ID, j.UserID, string(j.State), j.Progress, j.SessionURL, j.VideoID, j.Error,
		j.ThumbnailError, j.Attempts, j.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update upload job: %w", err)
	}
	return affectedOrNotFound(res)
}

func (s *Postgres) ResumableJobs(ctx context.Context) ([]UploadJob, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM upload_jobs WHERE state IN ('queued', 'uploading') ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list resumable jobs: %w", err)
	}
	defer rows.Close()
	var out []UploadJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *j)
	}
	return out, rows.Err()
}
