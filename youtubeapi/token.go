package youtubeapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/oauth2"

	"github.com/reconic/backend/store"
)

// expiryBuffer is how close to expiry a stored token is treated as expired.
const expiryBuffer = 5 * time.Minute

// Refresh exchanges a refresh token for a new access token. The returned
// refresh token is empty unless Google rotated it.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (string, string, time.Time, error) {
	if !s.cfg.OAuthReady() {
		return "", "", time.Time{}, ErrNotConfigured
	}
	ts := s.oauth.TokenSource(s.clientCtx(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := ts.Token()
	if err != nil {
		return "", "", time.Time{}, fmt.Errorf("refresh token: %w", err)
	}
	rotated := ""
	if tok.RefreshToken != refreshToken {
		rotated = tok.RefreshToken
	}
	return tok.AccessToken, rotated, tok.Expiry, nil
}

// AccessToken returns a usable access token for the user's linked channel.
// A stored token expiring more than five minutes from now is returned as-is.
// Otherwise it is refreshed and persisted; when there is no refresh token or
// the refresh fails, the existing token is returned so callers can still try.
func (s *Service) AccessToken(ctx context.Context, userID string) (string, error) {
	a, err := s.accounts.GetAccount(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return "", ErrNoAccount
	}
	if err != nil {
		return "", err
	}
	if a.TokenExpiresAt.After(s.now().Add(expiryBuffer)) {
		return a.AccessToken, nil
	}
	if a.RefreshToken == "" {
		return a.AccessToken, nil
	}
	access, refresh, expiry, err := s.Refresh(ctx, a.RefreshToken)
	if err != nil {
		s.logger.Warn("token refresh failed, using stored token", slog.String("user_id", userID), slog.Any("err", err))
		return a.AccessToken, nil
	}
	if err := s.accounts.UpdateAccountTokens(ctx, userID, a.ChannelID, access, refresh, expiry); err != nil {
		s.logger.Warn("token persist failed", slog.String("user_id", userID), slog.Any("err", err))
	}
	return access, nil
}
