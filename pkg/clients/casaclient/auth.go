package casaclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/caseconnect/casa-cli/pkg/core/session"
)

// loginData is the payload of a successful login call: either a two-factor
// challenge or a full grant.
type loginData struct {
	TwoFactorRequired bool   `json:"two_factor_required"`
	ChallengeToken    string `json:"challenge_token"`
	ExpiresIn         int64  `json:"expires_in"`
}

// Login authenticates with email and password. The backend may answer with
// a two-factor challenge instead of a grant.
func (c *Client) Login(ctx context.Context, creds session.Credentials) (*session.Grant, *session.TwoFactorChallenge, error) {
	body := map[string]string{
		"email":           creds.Email,
		"password":        creds.Password,
		"organization_id": creds.OrganizationID,
	}

	status, env, err := c.roundTrip(ctx, http.MethodPost, "auth/login", nil, body, "", "")
	if err != nil {
		return nil, nil, err
	}

	switch {
	case status == http.StatusUnauthorized:
		return nil, nil, session.ErrInvalidCredentials
	case status == http.StatusForbidden:
		return nil, nil, session.ErrOrganizationMismatch
	case status < 200 || status >= 300 || !env.Success:
		return nil, nil, backendMessage("login", env.Error)
	}

	var data loginData
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return nil, nil, fmt.Errorf("failed to decode login response: %w", err)
		}
	}
	if data.TwoFactorRequired {
		return nil, &session.TwoFactorChallenge{
			ChallengeToken: data.ChallengeToken,
			ExpiresIn:      data.ExpiresIn,
		}, nil
	}

	grant, err := decodeGrant(env.Data, "login")
	if err != nil {
		return nil, nil, err
	}
	return grant, nil, nil
}

// VerifyTwoFactor completes a challenged login with the user's code.
func (c *Client) VerifyTwoFactor(ctx context.Context, challengeToken, code string) (*session.Grant, error) {
	body := map[string]string{
		"challenge_token": challengeToken,
		"code":            code,
	}

	status, env, err := c.roundTrip(ctx, http.MethodPost, "auth/verify-2fa", nil, body, "", "")
	if err != nil {
		return nil, err
	}
	if status == http.StatusUnauthorized {
		return nil, session.ErrInvalidCredentials
	}
	if status < 200 || status >= 300 || !env.Success {
		return nil, backendMessage("two-factor verification", env.Error)
	}
	return decodeGrant(env.Data, "two-factor verification")
}

// Refresh exchanges a refresh token for a new grant.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*session.Grant, error) {
	body := map[string]string{"refresh_token": refreshToken}

	status, env, err := c.roundTrip(ctx, http.MethodPost, "auth/refresh", nil, body, "", "")
	if err != nil {
		return nil, err
	}
	if status == http.StatusUnauthorized {
		return nil, session.ErrInvalidCredentials
	}
	if status < 200 || status >= 300 || !env.Success {
		return nil, backendMessage("token refresh", env.Error)
	}
	return decodeGrant(env.Data, "token refresh")
}

// Logout asks the backend to revoke the token. Callers treat failure as
// best effort.
func (c *Client) Logout(ctx context.Context, accessToken string) error {
	status, env, err := c.roundTrip(ctx, http.MethodPost, "auth/logout", nil, nil, accessToken, "")
	if err != nil {
		return err
	}
	if status < 200 || status >= 300 || !env.Success {
		return backendMessage("logout", env.Error)
	}
	return nil
}

// SwitchOrganization moves the session to another organization the account
// can access.
func (c *Client) SwitchOrganization(ctx context.Context, organizationID string) (*session.Grant, error) {
	body := map[string]string{"organization_id": organizationID}

	var grant session.Grant
	if err := c.authed(ctx, http.MethodPost, "auth/switch-organization", nil, body, "", &grant); err != nil {
		return nil, err
	}
	if grant.AccessToken == "" {
		return nil, fmt.Errorf("organization switch returned no access token")
	}
	return &grant, nil
}

func decodeGrant(data json.RawMessage, op string) (*session.Grant, error) {
	var grant session.Grant
	if len(data) > 0 {
		if err := json.Unmarshal(data, &grant); err != nil {
			return nil, fmt.Errorf("failed to decode %s response: %w", op, err)
		}
	}
	if grant.AccessToken == "" {
		return nil, fmt.Errorf("%s returned no access token", op)
	}
	return &grant, nil
}

func backendMessage(op, message string) error {
	if message == "" {
		return fmt.Errorf("%s failed", op)
	}
	return fmt.Errorf("%s failed: %s", op, message)
}
