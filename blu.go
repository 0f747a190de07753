// Package blu provides the official Go SDK for the Blu social API.
//
// Covers phone+OTP authentication, profile sync with a local key-value
// cache, and location submission.
//
// Example:
//
//	client := blu.NewClient(blu.WithBaseURL("https://api.blusocial.in/social"))
//	mgr := blu.NewSyncManager(client, blu.NewMemoryStore())
//
//	mgr.RequestOTP(ctx, "+919876543210")
//	mgr.VerifyOTP(ctx, "1234")
//	profile, _ := mgr.LoadProfile(ctx)
package blu

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// Environment
// ============================================================================

type Environment string

const (
	Production Environment = "production"
	Staging    Environment = "staging"
)

var environments = map[Environment]string{
	Production: "https://api.blusocial.in/social",
	Staging:    "https://staging.blusocial.in/social",
}

const (
	DefaultBaseURL = "https://api.blusocial.in/social"
	DefaultTimeout = 10 * time.Second
)

// Endpoint paths, relative to the configured base URL.
const (
	epGenerateOTP  = "/otp/generateOtp"
	epVerifyOTP    = "/otp/verifyOTP"
	epCheckPhone   = "/user/checkPhoneNumber"
	epRegister     = "/user/register"
	epUpdateUser   = "/user/updateUser"
	epSaveLocation = "/location/saveUserLocation"
)

// Success messages the server sends alongside bluValue. Matched once at the
// transport boundary; nothing downstream re-parses these strings.
const (
	msgOTPSent     = "OTP sent successfully"
	msgOTPVerified = "OTP verified successfully"
	msgUserFound   = "User Found"
	msgUserSaved   = "User Saved Successfully"
)

// ============================================================================
// Client
// ============================================================================

type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
}

type ClientOption func(*Client)

func WithBaseURL(url string) ClientOption {
	return func(c *Client) { c.baseURL = strings.TrimRight(url, "/") }
}

func WithEnvironment(env Environment) ClientOption {
	return func(c *Client) {
		if u, ok := environments[env]; ok {
			c.baseURL = u
		}
	}
}

func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = timeout }
}

func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = client }
}

// WithLogger attaches a structured logger. Requests are logged at debug,
// failures at warn. The default logger discards everything.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient creates a new Blu API client.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// SetToken sets or updates the auth token sent as a bearer header.
func (c *Client) SetToken(token string) {
	c.token = token
}

// BaseURL returns the configured API root.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// ============================================================================
// Internal request helper
// ============================================================================

// doRequest performs one HTTP round trip and decodes the response into a
// Result. It never retries. Transport-level failures (DNS, reset, the fixed
// timeout) come back as *GeneralError.
func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}, query map[string]string) (*Result, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		params := url.Values{}
		for k, v := range query {
			params.Set(k, v)
		}
		u += "?" + params.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	c.logger.Debug("api request", "method", method, "path", path)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("api request failed", "method", method, "path", path, "error", err)
		return nil, &GeneralError{Message: fmt.Sprintf("%s %s failed: %v", method, path, err)}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &GeneralError{Message: fmt.Sprintf("%s %s: read response: %v", method, path, err)}
	}

	result := decodeResult(resp.StatusCode, data)
	c.logger.Debug("api response", "method", method, "path", path, "code", result.Code, "status", result.Status)
	return result, nil
}

// decodeResult classifies a raw response exactly once. Non-2xx bodies with a
// field-keyed data map become StatusValidation; other non-2xx become
// StatusServerError. 2xx responses stay StatusPending until an endpoint
// predicate finalizes them — status code alone is never trusted.
func decodeResult(code int, body []byte) *Result {
	r := &Result{Code: code, Status: StatusPending}

	var env envelope
	if err := json.Unmarshal(body, &env); err == nil {
		r.Message = env.Message
		r.BluValue = env.BluValue
		r.Data = env.Data
	} else {
		// Degrade to a string message: either a bare JSON string or the
		// raw body text.
		var s string
		if json.Unmarshal(body, &s) == nil {
			r.Message = s
		} else {
			r.Message = strings.TrimSpace(string(body))
		}
	}

	if code >= 200 && code < 300 {
		return r
	}

	if fields, ok := fieldErrorsFrom(r.Data); ok {
		r.Status = StatusValidation
		r.Fields = fields
		return r
	}

	r.Status = StatusServerError
	if r.Message == "" {
		r.Message = fmt.Sprintf("server returned HTTP %d", code)
	}
	return r
}

// ============================================================================
// API methods
// ============================================================================

// GenerateOTP asks the server to send an OTP to the given E.164 phone number.
func (c *Client) GenerateOTP(ctx context.Context, phoneNumber string) (*Result, error) {
	r, err := c.doRequest(ctx, http.MethodGet, epGenerateOTP, nil, map[string]string{"phoneNumber": phoneNumber})
	if err != nil {
		return nil, err
	}
	return r.finalize(msgOTPSent), nil
}

// VerifyOTP checks the OTP the user entered. The server answers this endpoint
// with a bare string body rather than the usual envelope.
func (c *Client) VerifyOTP(ctx context.Context, phoneNumber, otp string) (*Result, error) {
	r, err := c.doRequest(ctx, http.MethodGet, epVerifyOTP, nil, map[string]string{"phoneNumber": phoneNumber, "otp": otp})
	if err != nil {
		return nil, err
	}
	return r.finalizeText(msgOTPVerified), nil
}

// CheckPhone fetches the profile registered for a phone number. A 2xx answer
// without the "User Found" signal means the number is unregistered.
func (c *Client) CheckPhone(ctx context.Context, phoneNumber string) (*Result, error) {
	r, err := c.doRequest(ctx, http.MethodGet, epCheckPhone, nil, map[string]string{"phoneNumber": phoneNumber})
	if err != nil {
		return nil, err
	}
	return r.finalize(msgUserFound), nil
}

// Register creates a new user record.
func (c *Client) Register(ctx context.Context, payload *RegisterPayload) (*Result, error) {
	r, err := c.doRequest(ctx, http.MethodPost, epRegister, payload, nil)
	if err != nil {
		return nil, err
	}
	return r.finalize(msgUserSaved), nil
}

// UpdateUser replaces the user's profile wholesale. There is no partial
// patch; callers send the full record every time.
func (c *Client) UpdateUser(ctx context.Context, profile *Profile) (*Result, error) {
	r, err := c.doRequest(ctx, http.MethodPut, epUpdateUser, profile, nil)
	if err != nil {
		return nil, err
	}
	return r.finalize(msgUserSaved), nil
}

// SaveLocation submits the user's resolved location. Success is any 2xx.
func (c *Client) SaveLocation(ctx context.Context, phoneNumber string, loc *Location) (*Result, error) {
	path := epSaveLocation + "/" + url.PathEscape(phoneNumber)
	r, err := c.doRequest(ctx, http.MethodPost, path, loc, nil)
	if err != nil {
		return nil, err
	}
	return r.finalizeAny(), nil
}

// Realtime creates a realtime event client against this client's base URL.
// Call Connect on the returned client to establish the connection.
func (c *Client) Realtime(config *RealtimeConfig) *RealtimeClient {
	cfg := RealtimeConfig{}
	if config != nil {
		cfg = *config
	}
	cfg.defaults()
	return &RealtimeClient{
		baseURL:    c.baseURL,
		config:     &cfg,
		state:      StateDisconnected,
		dispatcher: newEventDispatcher(),
		recon:      newReconnector(&cfg),
		logger:     c.logger,
	}
}
