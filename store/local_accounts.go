package store

import (
	"context"
	"fmt"
	"time"
)

// localAccount carries the fields Account hides from API JSON.
type localAccount struct {
	Account
	UserID       string    `json:"userId"`
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken"`
	Scope        string    `json:"scope"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

func (s *Local) loadAccounts(ctx context.Context, key string) ([]localAccount, error) {
	return loadJSON[[]localAccount](ctx, s, key)
}

func (s *Local) openAccount(la localAccount) (*Account, error) {
	a := la.Account
	a.UserID = la.UserID
	a.Scope = la.Scope
	var err error
	if a.AccessToken, err = s.cipher.OpenFor(la.UserID, la.AccessToken); err != nil {
		return nil, fmt.Errorf("decrypt access token: %w", err)
	}
	if a.RefreshToken, err = s.cipher.OpenFor(la.UserID, la.RefreshToken); err != nil {
		return nil, fmt.Errorf("decrypt refresh token: %w", err)
	}
	return &a, nil
}

func (s *Local) GetAccount(ctx context.Context, userID string) (*Account, error) {
	list, err := s.loadAccounts(ctx, Keys{User: userID}.Account())
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, ErrNotFound
	}
	latest := 0
	for i := range list {
		if list[i].UpdatedAt.After(list[latest].UpdatedAt) {
			latest = i
		}
	}
	return s.openAccount(list[latest])
}

func (s *Local) UpsertAccount(ctx context.Context, a Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := Keys{User: a.UserID}.Account()
	list, err := s.loadAccounts(ctx, key)
	if err != nil {
		return err
	}
	access, err := s.cipher.SealFor(a.UserID, a.AccessToken)
	if err != nil {
		return fmt.Errorf("encrypt access token: %w", err)
	}
	refresh, err := s.cipher.SealFor(a.UserID, a.RefreshToken)
	if err != nil {
		return fmt.Errorf("encrypt refresh token: %w", err)
	}
	now := s.now()
	rec := localAccount{Account: a, UserID: a.UserID, AccessToken: access, RefreshToken: refresh, Scope: a.Scope, UpdatedAt: now}
	for i := range list {
		if list[i].ChannelID != a.ChannelID {
			continue
		}
		// Analysis results and the original connect time survive a reconnect.
		prev := list[i]
		rec.Niche, rec.AvgVideoDurationSeconds, rec.UploadFrequency = prev.Niche, prev.AvgVideoDurationSeconds, prev.UploadFrequency
		rec.TopTags, rec.RecentVideoTitles, rec.LastSyncedAt = prev.TopTags, prev.RecentVideoTitles, prev.LastSyncedAt
		rec.ConnectedAt = prev.ConnectedAt
		if refresh == "" {
			rec.RefreshToken = prev.RefreshToken
		}
		list[i] = rec
		return s.saveJSON(ctx, key, list)
	}
	rec.ConnectedAt = now
	return s.saveJSON(ctx, key, append([]localAccount{rec}, list...))
}

func (s *Local) mutateAccount(ctx context.Context, userID, channelID string, fn func(*localAccount) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := Keys{User: userID}.Account()
	list, err := s.loadAccounts(ctx, key)
	if err != nil {
		return err
	}
	for i := range list {
		if list[i].ChannelID == channelID {
			if err := fn(&list[i]); err != nil {
				return err
			}
			list[i].UpdatedAt = s.now()
			return s.saveJSON(ctx, key, list)
		}
	}
	return ErrNotFound
}

func (s *Local) UpdateAccountTokens(ctx context.Context, userID, channelID, access, refresh string, expiry time.Time) error {
	return s.mutateAccount(ctx, userID, channelID, func(la *localAccount) error {
		a, err := s.cipher.SealFor(userID, access)
		if err != nil {
			return fmt.Errorf("encrypt access token: %w", err)
		}
		la.AccessToken = a
		if refresh != "" {
			r, err := s.cipher.SealFor(userID, refresh)
			if err != nil {
				return fmt.Errorf("encrypt refresh token: %w", err)
			}
			la.RefreshToken = r
		}
		la.TokenExpiresAt = expiry
		return nil
	})
}

func (s *Local) UpdateChannelProfile(ctx context.Context, userID, channelID string, p ChannelProfile) error {
	return s.mutateAccount(ctx, userID, channelID, func(la *localAccount) error {
		niche, freq, synced := p.Niche, p.UploadFrequency, p.SyncedAt
		la.Niche = &niche
		la.UploadFrequency = &freq
		la.AvgVideoDurationSeconds = nil
		if p.AvgVideoDurationSeconds != nil {
			avg := *p.AvgVideoDurationSeconds
			la.AvgVideoDurationSeconds = &avg
		}
		la.TopTags = nonNil(p.TopTags)
		la.RecentVideoTitles = nonNil(p.RecentVideoTitles)
		la.LastSyncedAt = &synced
		return nil
	})
}

func (s *Local) RemoveAccount(ctx context.Context, userID, channelID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := Keys{User: userID}.Account()
	list, err := s.loadAccounts(ctx, key)
	if err != nil {
		return err
	}
	kept := list[:0]
	for _, a := range list {
		if a.ChannelID != channelID {
			kept = append(kept, a)
		}
	}
	if len(kept) == len(list) {
		return ErrNotFound
	}
	if len(kept) == 0 {
		return s.del(ctx, key)
	}
	return s.saveJSON(ctx, key, kept)
}

func (s *Local) AccountsExpiringBefore(ctx context.Context, t time.Time) ([]Account, error) {
	keys, err := s.keysLike(ctx, keyPrefix+":%youtube-account")
	if err != nil {
		return nil, err
	}
	var out []Account
	for _, k := range keys {
		list, err := s.loadAccounts(ctx, k)
		if err != nil {
			return nil, err
		}
		for _, la := range list {
			if la.RefreshToken == "" || la.TokenExpiresAt.IsZero() || !la.TokenExpiresAt.Before(t) {
				continue
			}
			a, err := s.openAccount(la)
			if err != nil {
				return nil, err
			}
			out = append(out, *a)
		}
	}
	return out, nil
}

func (s *Local) CreateUploadJob(ctx context.Context, j *UploadJob) error {
	now := s.now()
	j.CreatedAt, j.UpdatedAt = now, now
	if j.State == "" {
		j.State = JobQueued
	}
	return s.saveJSON(ctx, Keys{User: j.UserID}.UploadJob(j.ID), j)
}

func (s *Local) GetUploadJob(ctx context.Context, userID, id string) (*UploadJob, error) {
	j, err := loadJSON[*UploadJob](ctx, s, Keys{User: userID}.UploadJob(id))
	if err != nil {
		return nil, err
	}
	if j == nil {
		return nil, ErrNotFound
	}
	return j, nil
}

func (s *Local) UpdateUploadJob(ctx context.Context, j *UploadJob) error {
	key := Keys{User: j.UserID}.UploadJob(j.ID)
	if _, ok, err := s.get(ctx, key); err != nil {
		return err
	} else if !ok {
		return ErrNotFound
	}
	j.UpdatedAt = s.now()
	return s.saveJSON(ctx, key, j)
}

func (s *Local) ResumableJobs(ctx context.Context) ([]UploadJob, error) {
	keys, err := s.keysLike(ctx, keyPrefix+":%upload-job:%")
	if err != nil {
		return nil, err
	}
	var out []UploadJob
	for _, k := range keys {
		j, err := loadJSON[*UploadJob](ctx, s, k)
		if err != nil {
			return nil, err
		}
		if j != nil && (j.State == JobQueued || j.State == JobUploading) {
			out = append(out, *j)
		}
	}
	sortJobs(out)
	return out, nil
}
