// Package api implements the HTTP transport the session manager talks
// through. Every endpoint answers the same envelope shape:
// {result, message, data[], totalRecords?}, where result == 1 is the only
// success value regardless of HTTP status.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/jrsteele09/go-erp-session/permissions"
	"github.com/jrsteele09/go-erp-session/settings"
	"github.com/jrsteele09/go-erp-session/tenants"
	"github.com/jrsteele09/go-erp-session/users"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

const (
	headerCompanyID = "X-Company-ID"
	headerRequestID = "X-Request-ID"

	defaultTimeout = 30 * time.Second
)

// LoginResult is the payload of a successful login or refresh call.
type LoginResult struct {
	User         users.User `json:"user"`
	Token        string     `json:"token"`
	RefreshToken string     `json:"refreshToken"`
}

// Client talks to the ERP backend. Login goes to a same-origin endpoint so
// credentials travel exactly one hop; everything else goes to the backend
// base URL with a bearer token.
type Client struct {
	backendURL string
	loginURL   string
	http       *http.Client
	log        zerolog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying http.Client (primarily for tests).
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.http = hc
	}
}

// WithLogger sets the request logger.
func WithLogger(log zerolog.Logger) ClientOption {
	return func(c *Client) {
		c.log = log
	}
}

// NewClient creates a Client for the given backend and same-origin login URL.
func NewClient(backendURL, loginURL string, options ...ClientOption) (*Client, error) {
	if backendURL == "" {
		return nil, errors.New("[NewClient] backendURL is required")
	}
	if loginURL == "" {
		return nil, errors.New("[NewClient] loginURL is required")
	}

	c := &Client{
		backendURL: backendURL,
		loginURL:   loginURL,
		http:       &http.Client{Timeout: defaultTimeout},
		log:        zerolog.Nop(),
	}

	for _, opt := range options {
		opt(c)
	}

	return c, nil
}

type loginEnvelope struct {
	Envelope
	User         users.User `json:"user"`
	Token        string     `json:"token"`
	RefreshToken string     `json:"refreshToken"`
}

// Login posts credentials to the same-origin login endpoint. HTTP 401 maps
// to ErrUnauthorized; an envelope with a non-success result becomes a
// BackendError carrying the backend's message.
func (c *Client) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	body := map[string]string{"username": username, "password": password}

	resp, err := c.do(ctx, http.MethodPost, c.loginURL, "", "", body)
	if err != nil {
		return nil, errors.Wrap(err, "[Login] post credentials")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, errors.Wrap(ErrUnauthorized, "[Login]")
	}

	var env loginEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, errors.Wrap(err, "[Login] decode response")
	}
	if !env.OK() {
		return nil, &BackendError{Message: env.Message}
	}

	return &LoginResult{User: env.User, Token: env.Token, RefreshToken: env.RefreshToken}, nil
}

// RefreshToken exchanges the refresh token for a new token pair.
func (c *Client) RefreshToken(ctx context.Context, bearer, refreshToken string) (*LoginResult, error) {
	body := map[string]string{"refreshToken": refreshToken}

	resp, err := c.do(ctx, http.MethodPost, c.backendURL+"/auth/refresh", bearer, "", body)
	if err != nil {
		return nil, errors.Wrap(err, "[RefreshToken] post")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, errors.Wrap(ErrUnauthorized, "[RefreshToken]")
	}

	var env loginEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, errors.Wrap(err, "[RefreshToken] decode response")
	}
	if !env.OK() || env.Token == "" {
		return nil, &BackendError{Message: env.Message}
	}

	return &LoginResult{User: env.User, Token: env.Token, RefreshToken: env.RefreshToken}, nil
}

// RevokeToken asks the backend to revoke the refresh token. The response body
// is ignored; only transport-level failures are reported.
func (c *Client) RevokeToken(ctx context.Context, bearer, refreshToken string) error {
	body := map[string]string{"refreshToken": refreshToken}

	resp, err := c.do(ctx, http.MethodPost, c.backendURL+"/auth/revoke", bearer, "", body)
	if err != nil {
		return errors.Wrap(err, "[RevokeToken] post")
	}
	resp.Body.Close()

	return nil
}

// Companies fetches the list of companies the user may act as. The call is
// company-agnostic: no company header is sent. An empty list is an
// authorization error, not a valid state.
func (c *Client) Companies(ctx context.Context, bearer string) ([]tenants.Tenant, error) {
	env, err := c.get(ctx, c.backendURL+"/admin/companies", bearer, "")
	if err != nil {
		return nil, errors.Wrap(err, "[Companies]")
	}

	list, err := decodeData[tenants.Tenant](env)
	if err != nil {
		return nil, errors.Wrap(err, "[Companies] decode data")
	}
	if len(list) == 0 {
		return nil, ErrNoCompanies
	}

	return list, nil
}

// Permissions fetches the flat list of transaction-rights records for the
// authenticated user under the given company.
func (c *Client) Permissions(ctx context.Context, bearer, companyID string) ([]permissions.Record, error) {
	env, err := c.get(ctx, c.backendURL+"/admin/permissions", bearer, companyID)
	if err != nil {
		return nil, errors.Wrap(err, "[Permissions]")
	}

	records, err := decodeData[permissions.Record](env)
	if err != nil {
		return nil, errors.Wrap(err, "[Permissions] decode data")
	}

	return records, nil
}

// DisplaySettings fetches the zero-or-one display settings record for the
// given company. Normalization to a single record is the caller's concern.
func (c *Client) DisplaySettings(ctx context.Context, bearer, companyID string) ([]settings.Display, error) {
	env, err := c.get(ctx, c.backendURL+"/admin/display-settings", bearer, companyID)
	if err != nil {
		return nil, errors.Wrap(err, "[DisplaySettings]")
	}

	records, err := decodeData[settings.Display](env)
	if err != nil {
		return nil, errors.Wrap(err, "[DisplaySettings] decode data")
	}

	return records, nil
}

func (c *Client) get(ctx context.Context, url, bearer, companyID string) (Envelope, error) {
	resp, err := c.do(ctx, http.MethodGet, url, bearer, companyID, nil)
	if err != nil {
		return Envelope{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return Envelope{}, ErrUnauthorized
	}

	var env Envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return Envelope{}, errors.Wrap(err, "decode envelope")
	}
	if !env.OK() {
		return Envelope{}, &BackendError{Message: env.Message}
	}

	return env, nil
}

func (c *Client) do(ctx context.Context, method, url, bearer, companyID string, body interface{}) (*http.Response, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, errors.Wrap(err, "encode body")
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}

	requestID := uuid.New().String()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(headerRequestID, requestID)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	if companyID != "" {
		req.Header.Set(headerCompanyID, companyID)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Warn().Err(err).Str("method", method).Str("url", url).Str("request_id", requestID).Msg("request failed")
		return nil, err
	}

	c.log.Debug().
		Str("method", method).
		Str("url", url).
		Str("request_id", requestID).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(start)).
		Msg("request complete")

	return resp, nil
}
