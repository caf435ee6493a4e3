// Package oauth schedules background refreshes of linked YouTube account
// tokens. It performs jittered sweeps and refreshes every account whose access
// token expires within a configured window.
package oauth

import (
	"context"
	"log/slog"
	"math/rand"
	"time"

	"github.com/reconic/backend/store"
	"github.com/reconic/backend/telemetry"
)

// RefreshFunc performs provider-specific refresh and returns (access, refresh, expiry).
// An empty refresh token in the result keeps the stored one.
type RefreshFunc func(ctx context.Context, refreshToken string) (string, string, time.Time, error)

// AccountSource is the subset of the account store the refresher needs.
type AccountSource interface {
	AccountsExpiringBefore(ctx context.Context, t time.Time) ([]store.Account, error)
	UpdateAccountTokens(ctx context.Context, userID, channelID, access, refresh string, expiry time.Time) error
}

// StartRefresher launches a goroutine that periodically sweeps linked accounts and refreshes their tokens.
// interval: how often to wake up and check.
// window: refresh when remaining lifetime <= window.
func StartRefresher(ctx context.Context, src AccountSource, interval, window time.Duration, fn RefreshFunc) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if window <= 0 {
		window = 15 * time.Minute
	}
	// Randomize initial delay to spread load across instances.
	//nolint:gosec // G404: math/rand is sufficient for scheduling jitter, not used for security
	initialJitter := time.Duration(rand.Int63n(int64(interval/2) + 1))
	go func() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(initialJitter):
		}
		for {
			RefreshDue(ctx, src, window, fn)

			// Per-iteration jitter (+/-20% of interval).
			jitterRange := int64(interval/5) + 1
			//nolint:gosec // G404: math/rand is sufficient for scheduling jitter, not used for security
			jitter := time.Duration(rand.Int63n(jitterRange*2) - jitterRange)
			nextSleep := interval + jitter
			if nextSleep < interval/2 {
				nextSleep = interval / 2
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(nextSleep):
			}
		}
	}()
}

// RefreshDue runs one sweep and returns how many accounts were refreshed.
// Accounts without a refresh token are skipped; failures are logged and left for the next sweep.
func RefreshDue(ctx context.Context, src AccountSource, window time.Duration, fn RefreshFunc) int {
	logger := slog.Default().With(slog.String("component", "oauth_refresher"))
	accounts, err := src.AccountsExpiringBefore(ctx, time.Now().Add(window))
	if err != nil {
		logger.Warn("list expiring accounts failed", slog.Any("err", err))
		return 0
	}
	refreshed := 0
	for _, a := range accounts {
		if ctx.Err() != nil {
			return refreshed
		}
		if a.RefreshToken == "" {
			continue
		}
		ctx2, cancel := context.WithTimeout(ctx, 15*time.Second)
		newAT, newRT, newExp, err := fn(ctx2, a.RefreshToken)
		cancel()
		telemetry.RecordTokenRefresh(err)
		if err != nil {
			logger.Warn("token refresh failed", slog.String("user_id", a.UserID), slog.String("channel_id", a.ChannelID), slog.Any("err", err))
			continue
		}
		if err := src.UpdateAccountTokens(ctx, a.UserID, a.ChannelID, newAT, newRT, newExp); err != nil {
			logger.Warn("token persist failed", slog.String("user_id", a.UserID), slog.Any("err", err))
			continue
		}
		refreshed++
		logger.Info("token refreshed", slog.String("user_id", a.UserID), slog.String("channel_id", a.ChannelID))
	}
	return refreshed
}
