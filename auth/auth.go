// Package auth identifies the creator behind a request. Sessions are HS256
// JWT bearer tokens (subject = user id) signed with SESSION_SECRET and bounded
// by an expiry. The same key signs short-lived OAuth state values so the
// unauthenticated callback can recover which user started the flow.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// CookieName carries the session token for browser requests without an Authorization header.
const CookieName = "reconic_session"

const (
	issuer = "reconic"
	// Audiences keep a session token from passing as an OAuth state and vice versa.
	audienceSession = "session"
	audienceState   = "oauth-state"

	// DefaultSessionTTL applies when Mint is given no lifetime.
	DefaultSessionTTL = 7 * 24 * time.Hour
	// StateTTL matches the lifetime of the OAuth state cookie.
	StateTTL = 10 * time.Minute
)

var (
	ErrInvalidToken = errors.New("invalid session token")
	ErrInvalidState = errors.New("invalid oauth state")
)

type Signer struct {
	key []byte
	now func() time.Time
}

// Option configures a Signer.
type Option func(*Signer)

// WithClock overrides the time source used to issue and validate tokens.
func WithClock(now func() time.Time) Option {
	return func(s *Signer) { s.now = now }
}

// NewSigner returns a Signer for secret, which must be at least 16 bytes.
func NewSigner(secret string, opts ...Option) (*Signer, error) {
	if len(secret) < 16 {
		return nil, fmt.Errorf("session secret must be at least 16 characters")
	}
	s := &Signer{key: []byte(secret), now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

func (s *Signer) sign(subject, audience, id string, ttl time.Duration) (string, error) {
	now := s.now()
	claims := jwt.RegisteredClaims{
		Issuer:    issuer,
		Subject:   subject,
		Audience:  jwt.ClaimStrings{audience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		ID:        id,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
}

func (s *Signer) parse(token, audience string) (*jwt.RegisteredClaims, error) {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(token, &claims,
		func(*jwt.Token) (any, error) { return s.key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithAudience(audience),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, err
	}
	if claims.Subject == "" {
		return nil, errors.New("token has no subject")
	}
	return &claims, nil
}

// Mint issues a session token for userID valid for ttl (DefaultSessionTTL when ttl <= 0).
func (s *Signer) Mint(userID string, ttl time.Duration) (string, error) {
	if userID == "" {
		return "", errors.New("user id is empty")
	}
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return s.sign(userID, audienceSession, "", ttl)
}

// Verify returns the user id a token was minted for. Expired tokens fail
// with an error matching both ErrInvalidToken and jwt.ErrTokenExpired.
func (s *Signer) Verify(token string) (string, error) {
	claims, err := s.parse(token, audienceSession)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	return claims.Subject, nil
}

// NewState returns a signed OAuth state binding a random nonce to userID.
func (s *Signer) NewState(userID string) (string, error) {
	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	return s.sign(userID, audienceState, base64.RawURLEncoding.EncodeToString(nonce), StateTTL)
}

// VerifyState checks a state produced by NewState and returns its user id.
func (s *Signer) VerifyState(state string) (string, error) {
	claims, err := s.parse(state, audienceState)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidState, err)
	}
	return claims.Subject, nil
}

type ctxKey struct{}

// WithUser returns a context carrying userID.
func WithUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, ctxKey{}, userID)
}

// UserID returns the authenticated user, or "" when none.
func UserID(ctx context.Context) string {
	s, _ := ctx.Value(ctxKey{}).(string)
	return s
}

// TokenFromRequest extracts a bearer token from the Authorization header or session cookie.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if v, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(v)
		}
		return ""
	}
	if c, err := r.Cookie(CookieName); err == nil {
		return c.Value
	}
	return ""
}

// Require rejects requests without a valid session with 401.
func (s *Signer) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := s.Verify(TokenFromRequest(r))
		if err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "Unauthorized"})
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), userID)))
	})
}
