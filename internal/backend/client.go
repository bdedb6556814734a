// Package backend is the HTTP client for the GearShare API. It implements
// the RPC contracts the guards depend on.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Wikid82/gearshare/backend/internal/audit"
	"github.com/Wikid82/gearshare/backend/internal/payment"
	"github.com/Wikid82/gearshare/backend/internal/risk"
	"github.com/Wikid82/gearshare/backend/internal/secevent"
	"github.com/Wikid82/gearshare/backend/internal/session"
	"github.com/Wikid82/gearshare/backend/internal/version"
)

const apiPrefix = "/api/v1"

var (
	// ErrUnauthorized is returned for 401 and 403 responses.
	ErrUnauthorized = errors.New("backend rejected credentials")
	// ErrTooManyRequests is returned for 429 responses.
	ErrTooManyRequests = errors.New("backend rate limit exceeded")
)

// StatusError is returned for any other non-2xx response.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("backend returned %d: %s", e.Code, e.Message)
}

// HeaderSource decorates outgoing state-changing requests, typically with
// the anti-forgery token.
type HeaderSource interface {
	Headers(existing http.Header) http.Header
}

// Client talks to one backend. It carries the bearer token of the signed-in
// user and is safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
	headers    HeaderSource

	mu    sync.RWMutex
	token string
}

// NewClient creates a client for baseURL. headers may be nil.
func NewClient(baseURL string, headers HeaderSource) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
		headers:    headers,
	}
}

// BaseURL returns the configured backend URL.
func (c *Client) BaseURL() string { return c.baseURL }

// SetToken replaces the bearer token.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// Token returns the bearer token.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+apiPrefix+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if method != http.MethodGet && c.headers != nil {
		req.Header = c.headers.Headers(req.Header)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())
	if tok := c.Token(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		msg := strings.TrimSpace(string(raw))
		if json.Unmarshal(raw, &e) == nil && e.Error != "" {
			msg = e.Error
		}
		switch resp.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Errorf("%w: %s", ErrUnauthorized, msg)
		case http.StatusTooManyRequests:
			return fmt.Errorf("%w: %s", ErrTooManyRequests, msg)
		}
		return &StatusError{Code: resp.StatusCode, Message: msg}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// AuthResult is returned by SignIn and Register.
type AuthResult struct {
	UserID    string    `json:"user_id"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// SignIn authenticates and keeps the returned token.
func (c *Client) SignIn(ctx context.Context, email, password string) (*AuthResult, error) {
	var res AuthResult
	in := map[string]string{"email": email, "password": password}
	if err := c.do(ctx, http.MethodPost, "/auth/login", in, &res); err != nil {
		return nil, err
	}
	c.SetToken(res.Token)
	return &res, nil
}

// Register creates an account and keeps the returned token.
func (c *Client) Register(ctx context.Context, email, password, name string) (*AuthResult, error) {
	var res AuthResult
	in := map[string]string{"email": email, "password": password, "name": name}
	if err := c.do(ctx, http.MethodPost, "/auth/register", in, &res); err != nil {
		return nil, err
	}
	c.SetToken(res.Token)
	return &res, nil
}

// CurrentSession implements session.Provider. A token whose exp has already
// passed is reported without a round-trip so the watchdog can act on it;
// otherwise the backend confirms the session.
func (c *Client) CurrentSession(ctx context.Context) (*session.Descriptor, error) {
	tok := c.Token()
	if tok == "" {
		return nil, session.ErrNoSession
	}

	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(tok, &claims); err != nil {
		return nil, fmt.Errorf("parse session token: %w", err)
	}
	local := &session.Descriptor{UserID: claims.Subject}
	if claims.IssuedAt != nil {
		local.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		local.ExpiresAt = claims.ExpiresAt.Time
	}
	if !local.ExpiresAt.IsZero() && !local.ExpiresAt.After(time.Now()) {
		return local, nil
	}

	var remote session.Descriptor
	if err := c.do(ctx, http.MethodGet, "/auth/session", nil, &remote); err != nil {
		return nil, err
	}
	return &remote, nil
}

// SignOut implements session.Provider. The local token is dropped even when
// the backend cannot be reached.
func (c *Client) SignOut(ctx context.Context) error {
	if c.Token() == "" {
		return nil
	}
	err := c.do(ctx, http.MethodPost, "/auth/logout", nil, nil)
	c.SetToken("")
	return err
}

// UserRoles calls get_user_roles.
func (c *Client) UserRoles(ctx context.Context, userID string) ([]string, error) {
	var out struct {
		Roles []string `json:"roles"`
	}
	if err := c.do(ctx, http.MethodPost, "/rpc/get_user_roles", map[string]string{"user_id": userID}, &out); err != nil {
		return nil, err
	}
	return out.Roles, nil
}

// AdminRequest is the body of the admin endpoint.
type AdminRequest struct {
	Action       string `json:"action"`
	TargetUserID string `json:"target_user_id,omitempty"`
	Role         string `json:"role,omitempty"`
	Reason       string `json:"reason,omitempty"`
}

// VerifyAdmin asks the admin endpoint to confirm the caller independently of
// the role list.
func (c *Client) VerifyAdmin(ctx context.Context) (bool, error) {
	var out struct {
		Admin bool `json:"admin"`
	}
	if err := c.do(ctx, http.MethodPost, "/rpc/admin", AdminRequest{Action: "verify"}, &out); err != nil {
		return false, err
	}
	return out.Admin, nil
}

// AdminAction performs a role or suspension change through the admin endpoint.
func (c *Client) AdminAction(ctx context.Context, req AdminRequest) error {
	return c.do(ctx, http.MethodPost, "/rpc/admin", req, nil)
}

// LogSecurityEvent implements secevent.Sink.
func (c *Client) LogSecurityEvent(ctx context.Context, userID, eventType, details string, level risk.Level) error {
	in := map[string]string{
		"user_id":       userID,
		"event_type":    eventType,
		"event_details": details,
		"risk_level":    level.String(),
	}
	return c.do(ctx, http.MethodPost, "/rpc/log_security_event", in, nil)
}

type paymentActionRequest struct {
	UserID string `json:"user_id"`
	secevent.PaymentAction
}

// LogPaymentAction implements secevent.Sink.
func (c *Client) LogPaymentAction(ctx context.Context, userID string, action secevent.PaymentAction) error {
	return c.do(ctx, http.MethodPost, "/rpc/log_payment_action", paymentActionRequest{UserID: userID, PaymentAction: action}, nil)
}

// ValidatePaymentOperation implements payment.Authorizer.
func (c *Client) ValidatePaymentOperation(ctx context.Context, userID, operation string, amount int64) (bool, error) {
	in := map[string]interface{}{"user_id": userID, "operation": operation, "amount": amount}
	var out struct {
		Allowed bool `json:"allowed"`
	}
	if err := c.do(ctx, http.MethodPost, "/rpc/validate_payment_operation", in, &out); err != nil {
		return false, err
	}
	return out.Allowed, nil
}

// CreateCheckoutSession implements payment.SessionCreator.
func (c *Client) CreateCheckoutSession(ctx context.Context, userID string, p payment.Params) (string, string, error) {
	in := struct {
		UserID string `json:"user_id"`
		payment.Params
	}{userID, p}
	var out struct {
		SessionID string `json:"session_id"`
		URL       string `json:"url"`
	}
	if err := c.do(ctx, http.MethodPost, "/rpc/create_checkout_session", in, &out); err != nil {
		return "", "", err
	}
	return out.SessionID, out.URL, nil
}

// AuditStatus implements audit.RemoteStatusSource.
func (c *Client) AuditStatus(ctx context.Context) (audit.RemoteStatus, error) {
	var out audit.RemoteStatus
	err := c.do(ctx, http.MethodGet, "/rpc/security_audit_status", nil, &out)
	return out, err
}

// Health pings the backend.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil)
}
