package session

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/caseconnect/casa-cli/pkg/core/model"
)

// TokenState is the lifecycle position of the session's auth token.
type TokenState string

const (
	TokenAbsent     TokenState = "absent"
	TokenValid      TokenState = "valid"
	TokenExpired    TokenState = "expired"
	TokenRefreshing TokenState = "refreshing"
)

// Credentials are the inputs to a password login.
type Credentials struct {
	Email          string
	Password       string
	OrganizationID string
}

// Grant is what the backend hands back when a session is established or
// renewed: a token pair plus the identity it belongs to. Identity fields may
// be nil on refresh responses, in which case the existing ones are kept.
type Grant struct {
	AccessToken   string               `json:"access_token"`
	RefreshToken  string               `json:"refresh_token"`
	ExpiresIn     int64                `json:"expires_in"`
	User          *model.User          `json:"user"`
	Organization  *model.Organization  `json:"organization"`
	Organizations []model.Organization `json:"organizations"`
}

// TwoFactorChallenge is the backend's answer when a login needs a second
// factor. The challenge token is short-lived and is never written to the
// token cache.
type TwoFactorChallenge struct {
	ChallengeToken string `json:"challenge_token"`
	ExpiresIn      int64  `json:"expires_in"`
}

// LoginResult reports the outcome of a successful login call. When
// Challenge is non-nil the session is not yet established and
// VerifyTwoFactor must follow.
type LoginResult struct {
	Challenge *TwoFactorChallenge
}

// Snapshot is a read-only copy of the session handed to other components.
type Snapshot struct {
	User          *model.User
	Organization  *model.Organization
	Organizations []model.Organization
	TokenState    TokenState
	Epoch         int
}

// AuthClient is the backend surface the store drives.
type AuthClient interface {
	Login(ctx context.Context, creds Credentials) (*Grant, *TwoFactorChallenge, error)
	VerifyTwoFactor(ctx context.Context, challengeToken, code string) (*Grant, error)
	Refresh(ctx context.Context, refreshToken string) (*Grant, error)
	Logout(ctx context.Context, accessToken string) error
	SwitchOrganization(ctx context.Context, organizationID string) (*Grant, error)
}

// Store holds the authenticated identity and the token lifecycle. It is the
// single writer over its own state; every other component reads through
// Snapshot or the token accessors.
type Store struct {
	client    AuthClient
	cachePath string
	logger    *zap.Logger

	user          *model.User
	organization  *model.Organization
	organizations []model.Organization
	token         *oauth2.Token
	refreshing    bool
	challenge     *TwoFactorChallenge
	epoch         int
}

// NewStore builds a session store. cachePath may be empty to disable the
// on-disk token cache.
func NewStore(client AuthClient, cachePath string, logger *zap.Logger) *Store {
	return &Store{client: client, cachePath: cachePath, logger: logger}
}

// SetClient installs the auth client after construction. The store and the
// HTTP client reference each other (the client draws tokens from the store),
// so one of the two is bound late.
func (s *Store) SetClient(client AuthClient) {
	s.client = client
}

// Login authenticates with the backend. It returns a challenge result when
// the account requires a second factor, ErrInvalidCredentials or
// ErrOrganizationMismatch on rejection, and an established session
// otherwise.
func (s *Store) Login(ctx context.Context, creds Credentials) (*LoginResult, error) {
	s.logger.Info("Logging in", zap.String("email", creds.Email))

	grant, challenge, err := s.client.Login(ctx, creds)
	if err != nil {
		return nil, fmt.Errorf("login failed: %w", err)
	}

	if challenge != nil {
		s.logger.Info("Two-factor challenge issued")
		s.challenge = challenge
		return &LoginResult{Challenge: challenge}, nil
	}

	if err := s.establish(grant); err != nil {
		return nil, err
	}
	s.logger.Info("Session established",
		zap.String("user_id", s.user.ID),
		zap.String("organization_id", s.organization.ID))
	return &LoginResult{}, nil
}

// VerifyTwoFactor completes a pending login challenge with the user's code.
func (s *Store) VerifyTwoFactor(ctx context.Context, code string) error {
	if s.challenge == nil {
		return ErrNoPendingChallenge
	}

	grant, err := s.client.VerifyTwoFactor(ctx, s.challenge.ChallengeToken, code)
	if err != nil {
		return fmt.Errorf("two-factor verification failed: %w", err)
	}
	s.challenge = nil

	if err := s.establish(grant); err != nil {
		return err
	}
	s.logger.Info("Session established after two-factor",
		zap.String("user_id", s.user.ID))
	return nil
}

// Refresh renews the token pair. A failed refresh clears the session rather
// than leaving a half-valid one; the caller must re-authenticate.
func (s *Store) Refresh(ctx context.Context) error {
	if s.token == nil || s.token.RefreshToken == "" {
		s.clear()
		return ErrNotAuthenticated
	}

	s.refreshing = true
	grant, err := s.client.Refresh(ctx, s.token.RefreshToken)
	s.refreshing = false
	if err != nil {
		s.logger.Warn("Token refresh failed, clearing session", zap.Error(err))
		s.clear()
		return fmt.Errorf("%w: %v", ErrRefreshFailed, err)
	}

	if err := s.establish(grant); err != nil {
		return err
	}
	s.logger.Debug("Token refreshed", zap.Time("expiry", s.token.Expiry))
	return nil
}

// Logout revokes the session. The remote revoke is best effort: local state
// is cleared even when the backend call fails.
func (s *Store) Logout(ctx context.Context) {
	if s.token != nil && s.token.AccessToken != "" {
		if err := s.client.Logout(ctx, s.token.AccessToken); err != nil {
			s.logger.Warn("Remote logout failed, clearing local session anyway", zap.Error(err))
		}
	}
	s.clear()
	s.logger.Info("Logged out")
}

// SwitchOrganization moves the session to another accessible organization.
// On success the epoch is bumped; holders of data loaded under the old
// organization must discard it.
func (s *Store) SwitchOrganization(ctx context.Context, organizationID string) error {
	if s.user == nil {
		return ErrNotAuthenticated
	}

	accessible := false
	for _, org := range s.organizations {
		if org.ID == organizationID {
			accessible = true
			break
		}
	}
	if !accessible {
		return fmt.Errorf("%w: organization %s is not in the accessible set", ErrUnauthorized, organizationID)
	}

	grant, err := s.client.SwitchOrganization(ctx, organizationID)
	if err != nil {
		return fmt.Errorf("failed to switch organization: %w", err)
	}

	if err := s.establish(grant); err != nil {
		return err
	}
	s.epoch++
	s.logger.Info("Switched organization",
		zap.String("organization_id", s.organization.ID),
		zap.Int("epoch", s.epoch))
	return nil
}

// EnsureValid makes sure a mutating call may proceed: a valid token passes,
// an expired one is refreshed transparently, anything else fails.
func (s *Store) EnsureValid(ctx context.Context) error {
	switch s.TokenState() {
	case TokenValid:
		return nil
	case TokenExpired:
		return s.Refresh(ctx)
	default:
		return ErrNotAuthenticated
	}
}

// AccessToken returns a token fit to authenticate a request, refreshing
// first when needed.
func (s *Store) AccessToken(ctx context.Context) (string, error) {
	if err := s.EnsureValid(ctx); err != nil {
		return "", err
	}
	return s.token.AccessToken, nil
}

// ForceRefresh renews the token regardless of its apparent validity. The
// HTTP layer calls this once after a 401 before giving up.
func (s *Store) ForceRefresh(ctx context.Context) error {
	return s.Refresh(ctx)
}

// TokenState reports the current lifecycle state.
func (s *Store) TokenState() TokenState {
	if s.refreshing {
		return TokenRefreshing
	}
	if s.token == nil || s.token.AccessToken == "" {
		return TokenAbsent
	}
	if !s.token.Expiry.IsZero() && time.Now().After(s.token.Expiry) {
		return TokenExpired
	}
	return TokenValid
}

// Snapshot returns a read-only copy of the session.
func (s *Store) Snapshot() Snapshot {
	orgs := make([]model.Organization, len(s.organizations))
	copy(orgs, s.organizations)
	return Snapshot{
		User:          s.user,
		Organization:  s.organization,
		Organizations: orgs,
		TokenState:    s.TokenState(),
		Epoch:         s.epoch,
	}
}

// Principal returns the acting identity for authorization checks. An
// unauthenticated store yields a principal that fails every check.
func (s *Store) Principal() model.Principal {
	return model.PrincipalOf(s.user)
}

// Epoch identifies the current organization context. It changes on every
// successful organization switch.
func (s *Store) Epoch() int {
	return s.epoch
}

// establish installs a grant as the current session state. Identity fields
// absent from the grant (e.g. on refresh) keep their current values; a grant
// that leaves the session without a user and organization is rejected.
func (s *Store) establish(grant *Grant) error {
	if grant == nil || grant.AccessToken == "" {
		return fmt.Errorf("backend returned no access token")
	}

	expiry := time.Time{}
	if grant.ExpiresIn > 0 {
		expiry = time.Now().Add(time.Duration(grant.ExpiresIn) * time.Second)
	} else {
		expiry = jwtExpiry(grant.AccessToken)
	}

	refreshToken := grant.RefreshToken
	if refreshToken == "" && s.token != nil {
		refreshToken = s.token.RefreshToken
	}

	s.token = &oauth2.Token{
		AccessToken:  grant.AccessToken,
		RefreshToken: refreshToken,
		TokenType:    "Bearer",
		Expiry:       expiry,
	}
	if grant.User != nil {
		s.user = grant.User
	}
	if grant.Organization != nil {
		s.organization = grant.Organization
	}
	if len(grant.Organizations) > 0 {
		s.organizations = grant.Organizations
	}

	if s.user == nil {
		s.clear()
		return fmt.Errorf("backend returned a session without a user")
	}
	if s.organization == nil {
		s.clear()
		return fmt.Errorf("backend returned a user without an organization")
	}

	s.saveCache()
	return nil
}

func (s *Store) clear() {
	s.user = nil
	s.organization = nil
	s.organizations = nil
	s.token = nil
	s.challenge = nil
	s.refreshing = false
	if s.cachePath != "" {
		os.Remove(s.cachePath)
	}
}

// cacheFile is the on-disk session cache: the oauth2 token pair plus the
// identity it belongs to.
type cacheFile struct {
	Token         *oauth2.Token        `json:"token"`
	User          *model.User          `json:"user"`
	Organization  *model.Organization  `json:"organization"`
	Organizations []model.Organization `json:"organizations"`
}

func (s *Store) saveCache() {
	if s.cachePath == "" {
		return
	}
	data, err := json.MarshalIndent(cacheFile{
		Token:         s.token,
		User:          s.user,
		Organization:  s.organization,
		Organizations: s.organizations,
	}, "", "  ")
	if err != nil {
		s.logger.Warn("Failed to encode session cache", zap.Error(err))
		return
	}
	if err := os.WriteFile(s.cachePath, data, 0600); err != nil {
		s.logger.Warn("Failed to write session cache", zap.String("path", s.cachePath), zap.Error(err))
	}
}

// LoadCache restores a previously cached session from disk. A missing or
// unreadable cache is not an error; the store just stays unauthenticated.
func (s *Store) LoadCache() bool {
	if s.cachePath == "" {
		return false
	}
	data, err := os.ReadFile(s.cachePath)
	if err != nil {
		return false
	}
	var cached cacheFile
	if err := json.Unmarshal(data, &cached); err != nil {
		s.logger.Warn("Ignoring unreadable session cache", zap.String("path", s.cachePath), zap.Error(err))
		return false
	}
	if cached.Token == nil || cached.Token.AccessToken == "" || cached.User == nil {
		return false
	}
	s.token = cached.Token
	s.user = cached.User
	s.organization = cached.Organization
	s.organizations = cached.Organizations
	s.logger.Debug("Restored session from cache",
		zap.String("user_id", s.user.ID),
		zap.String("state", string(s.TokenState())))
	return true
}

// jwtExpiry reads the expiry claim off a backend JWT without verifying the
// signature (the backend is the authority; this is only a local hint for
// scheduling refresh). Returns the zero time when the token has no usable
// expiry.
func jwtExpiry(raw string) time.Time {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, &claims); err != nil {
		return time.Time{}
	}
	if claims.ExpiresAt == nil {
		return time.Time{}
	}
	return claims.ExpiresAt.Time
}
