// Package youtubeapi wraps Google OAuth2 and the YouTube Data API for linking a
// creator's channel, searching public videos and channels, and publishing
// videos through the resumable upload protocol. Linked-account tokens are
// persisted via the AccountStore interface so they can be refreshed and reused
// by upload workers.
package youtubeapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	yt "google.golang.org/api/youtube/v3"

	"github.com/reconic/backend/config"
	"github.com/reconic/backend/store"
)

const (
	defaultAPIBase    = "https://youtube.googleapis.com/"
	defaultUploadBase = "https://www.googleapis.com/upload/youtube/v3/"
)

var (
	// ErrNotConfigured means the OAuth client or Data API key is missing.
	ErrNotConfigured = errors.New("youtube integration not configured")
	// ErrNoAccount means the user has not linked a channel.
	ErrNoAccount = errors.New("no YouTube account linked")
	// ErrNoChannel means the authorized Google account owns no YouTube channel.
	ErrNoChannel = errors.New("no YouTube channel on this Google account")
	// ErrExchange wraps authorization code exchange failures.
	ErrExchange = errors.New("token exchange failed")
)

// AccountStore is the slice of the store the service needs.
type AccountStore interface {
	GetAccount(ctx context.Context, userID string) (*store.Account, error)
	UpsertAccount(ctx context.Context, a store.Account) error
	UpdateAccountTokens(ctx context.Context, userID, channelID, access, refresh string, expiry time.Time) error
}

type Service struct {
	cfg      *config.Config
	accounts AccountStore
	oauth    *oauth2.Config
	http     *http.Client
	logger   *slog.Logger

	apiBase    string
	uploadBase string
	chunkSize  int64
	maxTries   int
	retryDelay time.Duration
	now        func() time.Time
}

// Option customizes a Service.
type Option func(*Service)

// WithEndpoints points the service at alternative Data API, upload and token
// endpoints. Empty values keep the defaults.
func WithEndpoints(apiBase, uploadBase, tokenURL string) Option {
	return func(s *Service) {
		if apiBase != "" {
			s.apiBase = strings.TrimRight(apiBase, "/") + "/"
		}
		if uploadBase != "" {
			s.uploadBase = strings.TrimRight(uploadBase, "/") + "/"
		}
		if tokenURL != "" {
			s.oauth.Endpoint.TokenURL = tokenURL
		}
	}
}

// WithHTTPClient sets the client used for token, upload and thumbnail requests.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Service) { s.http = c }
}

// WithRetryDelay sets the base delay between upload retries.
func WithRetryDelay(d time.Duration) Option {
	return func(s *Service) { s.retryDelay = d }
}

func New(cfg *config.Config, accounts AccountStore, opts ...Option) *Service {
	scopes := []string{"https://www.googleapis.com/auth/youtube.upload"}
	if cfg.YTScopes != "" {
		// allow comma or space separated
		s := strings.ReplaceAll(cfg.YTScopes, ",", " ")
		fields := strings.Fields(s)
		if len(fields) > 0 {
			scopes = fields
		}
	}
	svc := &Service{
		cfg:      cfg,
		accounts: accounts,
		oauth: &oauth2.Config{
			ClientID:     cfg.YTClientID,
			ClientSecret: cfg.YTClientSecret,
			Endpoint:     google.Endpoint,
			RedirectURL:  cfg.YTRedirectURI,
			Scopes:       scopes,
		},
		http:       &http.Client{CheckRedirect: noRedirect},
		logger:     slog.Default().With(slog.String("component", "youtubeapi")),
		apiBase:    defaultAPIBase,
		uploadBase: defaultUploadBase,
		chunkSize:  cfg.UploadChunkSize,
		maxTries:   cfg.UploadMaxAttempts,
		retryDelay: time.Second,
		now:        time.Now,
	}
	if svc.chunkSize <= 0 {
		svc.chunkSize = 8 << 20
	}
	if svc.maxTries <= 0 {
		svc.maxTries = 5
	}
	for _, o := range opts {
		o(svc)
	}
	return svc
}

// noRedirect keeps 308 Resume Incomplete responses from being followed.
func noRedirect(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }

// Scopes returns the OAuth scopes requested on connect.
func (s *Service) Scopes() []string { return s.oauth.Scopes }

// AuthCodeURL returns the Google consent URL. Offline access with forced
// consent makes Google issue a refresh token on every link.
func (s *Service) AuthCodeURL(state string) string {
	return s.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

func (s *Service) clientCtx(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, s.http)
}

// Exchange trades an authorization code for tokens.
func (s *Service) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	if !s.cfg.OAuthReady() {
		return nil, ErrNotConfigured
	}
	tok, err := s.oauth.Exchange(s.clientCtx(ctx), code)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExchange, err)
	}
	return tok, nil
}

// Channel is the authorized user's own channel.
type Channel struct {
	ID              string
	Title           string
	Avatar          string
	SubscriberCount int64
	VideoCount      int64
}

// FetchMyChannel returns the channel owned by the token's Google account, or
// ErrNoChannel when it has none.
func (s *Service) FetchMyChannel(ctx context.Context, tok *oauth2.Token) (*Channel, error) {
	svc, err := yt.NewService(ctx,
		option.WithTokenSource(oauth2.StaticTokenSource(tok)),
		option.WithEndpoint(s.apiBase),
	)
	if err != nil {
		return nil, fmt.Errorf("youtube client: %w", err)
	}
	resp, err := svc.Channels.List([]string{"snippet", "statistics"}).Mine(true).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("channels.list mine: %w", err)
	}
	if len(resp.Items) == 0 {
		return nil, ErrNoChannel
	}
	item := resp.Items[0]
	ch := &Channel{ID: item.Id}
	if item.Snippet != nil {
		ch.Title = item.Snippet.Title
		ch.Avatar = bestThumbnail(item.Snippet.Thumbnails)
	}
	if item.Statistics != nil {
		ch.SubscriberCount = int64(item.Statistics.SubscriberCount)
		ch.VideoCount = int64(item.Statistics.VideoCount)
	}
	return ch, nil
}

// Connect completes the OAuth callback: it exchanges code, looks up the
// user's channel and stores the linked account.
func (s *Service) Connect(ctx context.Context, userID, code string) (*store.Account, error) {
	tok, err := s.Exchange(ctx, code)
	if err != nil {
		return nil, err
	}
	ch, err := s.FetchMyChannel(ctx, tok)
	if err != nil {
		return nil, err
	}
	scope, _ := tok.Extra("scope").(string)
	acct := store.Account{
		UserID:          userID,
		ChannelID:       ch.ID,
		ChannelName:     ch.Title,
		ChannelAvatar:   ch.Avatar,
		SubscriberCount: ch.SubscriberCount,
		VideoCount:      ch.VideoCount,
		AccessToken:     tok.AccessToken,
		RefreshToken:    tok.RefreshToken,
		TokenExpiresAt:  tok.Expiry,
		Scope:           scope,
	}
	if err := s.accounts.UpsertAccount(ctx, acct); err != nil {
		return nil, fmt.Errorf("save account: %w", err)
	}
	s.logger.Info("youtube channel linked", slog.String("user_id", userID), slog.String("channel_id", ch.ID))
	return &acct, nil
}

func bestThumbnail(t *yt.ThumbnailDetails) string {
	if t == nil {
		return ""
	}
	for _, th := range []*yt.Thumbnail{t.High, t.Medium, t.Default} {
		if th != nil && th.Url != "" {
			return th.Url
		}
	}
	return ""
}
