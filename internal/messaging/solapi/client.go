// Package solapi is a minimal client for the Solapi SMS REST API.
package solapi

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const defaultBaseURL = "https://api.solapi.com"

var tracer = otel.Tracer("creatus/solapi")

// Delivery states reported by GetStatus.
const (
	StatusComplete = "COMPLETE"
	StatusSending  = "SENDING"
	StatusFailed   = "FAILED"
	StatusPending  = "PENDING"
)

// ErrNotConfigured is returned when credentials or the sender number are missing.
var ErrNotConfigured = errors.New("solapi: credentials not configured")

// Config controls how the Solapi client behaves.
type Config struct {
	BaseURL    string
	APIKey     string
	APISecret  string
	Sender     string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *slog.Logger
	Now        func() time.Time
}

// Client sends single SMS messages and polls their delivery state.
type Client struct {
	apiKey     string
	apiSecret  string
	sender     string
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	now        func() time.Time
}

// New returns a client. A client without credentials is valid but every
// call returns ErrNotConfigured.
func New(cfg Config) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Client{
		apiKey:     strings.TrimSpace(cfg.APIKey),
		apiSecret:  strings.TrimSpace(cfg.APISecret),
		sender:     strings.TrimSpace(cfg.Sender),
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
		now:        now,
	}
}

// Configured reports whether the client can talk to the API.
func (c *Client) Configured() bool {
	return c != nil && c.apiKey != "" && c.apiSecret != "" && c.sender != ""
}

// SendResult is the outcome of one send.
type SendResult struct {
	GroupID string
}

// APIError carries the provider's error message.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("solapi: http %d", e.StatusCode)
	}
	return e.Message
}

type sendResponse struct {
	GroupID      string `json:"groupId"`
	ErrorMessage string `json:"errorMessage"`
	Message      string `json:"message"`
}

// Send delivers text to a domestic number.
func (c *Client) Send(ctx context.Context, to, text string) (*SendResult, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}
	ctx, span := tracer.Start(ctx, "solapi.send")
	defer span.End()

	body, err := json.Marshal(map[string]any{
		"message": map[string]string{"to": to, "from": c.sender, "text": text},
	})
	if err != nil {
		return nil, fmt.Errorf("solapi: marshal send body: %w", err)
	}
	status, data, err := c.invoke(ctx, http.MethodPost, "/messages/v4/send", body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "send failed")
		return nil, err
	}
	var resp sendResponse
	_ = json.Unmarshal(data, &resp)
	if status < 200 || status >= 300 || resp.GroupID == "" {
		apiErr := &APIError{StatusCode: status, Message: firstNonEmpty(resp.ErrorMessage, resp.Message)}
		span.RecordError(apiErr)
		span.SetStatus(codes.Error, "send rejected")
		return nil, apiErr
	}
	span.SetAttributes(attribute.String("solapi.group_id", resp.GroupID))
	return &SendResult{GroupID: resp.GroupID}, nil
}

type groupMessagesResponse struct {
	MessageList map[string]struct {
		StatusCode    string `json:"statusCode"`
		StatusMessage string `json:"statusMessage"`
	} `json:"messageList"`
}

// Status is the delivery state of one group.
type Status struct {
	State   string
	Code    string
	Message string
}

// GetStatus returns the delivery state of the first message in a group.
func (c *Client) GetStatus(ctx context.Context, groupID string) (*Status, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}
	if strings.TrimSpace(groupID) == "" {
		return nil, errors.New("solapi: group id required")
	}
	ctx, span := tracer.Start(ctx, "solapi.status")
	defer span.End()

	status, data, err := c.invoke(ctx, http.MethodGet, "/messages/v4/groups/"+groupID+"/messages", nil)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if status < 200 || status >= 300 {
		var resp sendResponse
		_ = json.Unmarshal(data, &resp)
		return nil, &APIError{StatusCode: status, Message: firstNonEmpty(resp.ErrorMessage, resp.Message)}
	}
	var resp groupMessagesResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("solapi: decode status: %w", err)
	}
	for _, m := range resp.MessageList {
		return &Status{State: stateForCode(m.StatusCode), Code: m.StatusCode, Message: m.StatusMessage}, nil
	}
	return &Status{State: StatusPending}, nil
}

func stateForCode(code string) string {
	switch {
	case code == "4000":
		return StatusComplete
	case code == "2000" || code == "3000":
		return StatusSending
	case strings.HasPrefix(code, "5") || strings.HasPrefix(code, "6"):
		return StatusFailed
	default:
		return StatusPending
	}
}

func (c *Client) invoke(ctx context.Context, method, path string, body []byte) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("solapi: build request: %w", err)
	}
	auth, err := c.authorization()
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Authorization", auth)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return 0, nil, ctx.Err()
		}
		return 0, nil, fmt.Errorf("solapi: http error: %w", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("solapi: read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		c.logger.Warn("solapi request rejected", "path", path, "status", resp.StatusCode)
	}
	return resp.StatusCode, data, nil
}

// authorization builds the HMAC-SHA256 header: signature = hex(hmac(secret, date+salt)).
func (c *Client) authorization() (string, error) {
	date := c.now().UTC().Format(time.RFC3339)
	saltBytes := make([]byte, 16)
	if _, err := rand.Read(saltBytes); err != nil {
		return "", fmt.Errorf("solapi: salt: %w", err)
	}
	salt := hex.EncodeToString(saltBytes)
	return fmt.Sprintf("HMAC-SHA256 apiKey=%s, date=%s, salt=%s, signature=%s",
		c.apiKey, date, salt, Sign(c.apiSecret, date, salt)), nil
}

// Sign computes the request signature for date and salt.
func Sign(secret, date, salt string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(date + salt))
	return hex.EncodeToString(mac.Sum(nil))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
