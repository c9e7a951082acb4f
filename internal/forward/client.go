package forward

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
)

// ErrForward marks a failed delivery to the downstream backend
var ErrForward = errors.New("forward error")

// Reading is the copy of a reading sent downstream
type Reading struct {
	UserID   int
	DeviceID int
	RawValue int
}

// Result describes what the downstream backend answered. StatusCode is 0
// when no response was received.
type Result struct {
	Forwarded  bool
	StatusCode int
	Response   any
}

// Sink receives a copy of every stored reading
type Sink interface {
	Send(ctx context.Context, reading Reading) (Result, error)
}

// Config holds forwarding client settings
type Config struct {
	URL          string
	ValueField   string
	Timeout      time.Duration
	RetryMax     int
	RetryWaitMin time.Duration
	Logger       *zap.Logger
}

// Client posts readings to the Node backend
type Client struct {
	url        string
	valueField string
	timeout    time.Duration
	http       *retryablehttp.Client
	logger     *zap.Logger
}

// NewClient creates a forwarding client. Connection errors and 5xx answers
// are retried up to RetryMax times inside the overall Timeout.
func NewClient(cfg Config) *Client {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	rc := retryablehttp.NewClient()
	rc.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	rc.RetryMax = cfg.RetryMax
	rc.RetryWaitMin = cfg.RetryWaitMin
	rc.RetryWaitMax = 4 * cfg.RetryWaitMin
	rc.Logger = zapLeveledLogger{logger: logger.Sugar()}
	rc.CheckRetry = retryablehttp.DefaultRetryPolicy
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &Client{
		url:        cfg.URL,
		valueField: cfg.ValueField,
		timeout:    cfg.Timeout,
		http:       rc,
		logger:     logger,
	}
}

// URL returns the downstream endpoint
func (c *Client) URL() string {
	return c.url
}

// Send posts {user_id, device_id, <value field>} to the backend
func (c *Client) Send(ctx context.Context, reading Reading) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body := map[string]int{
		"user_id":    reading.UserID,
		"device_id":  reading.DeviceID,
		c.valueField: reading.RawValue,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return Result{}, fmt.Errorf("%w: failed to marshal payload: %w", ErrForward, err)
	}

	req, err := retryablehttp.NewRequest(http.MethodPost, c.url, payload)
	if err != nil {
		return Result{}, fmt.Errorf("%w: failed to build request: %w", ErrForward, err)
	}
	req = req.WithContext(ctx)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("%w: failed to reach backend: %w", ErrForward, err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	result := Result{StatusCode: resp.StatusCode, Response: decodeResponse(raw)}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return result, fmt.Errorf("%w: backend answered with status %d", ErrForward, resp.StatusCode)
	}

	result.Forwarded = true
	return result, nil
}

func decodeResponse(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	return v
}

type zapLeveledLogger struct {
	logger *zap.SugaredLogger
}

func (l zapLeveledLogger) Error(msg string, keysAndValues ...interface{}) {
	l.logger.Errorw(msg, keysAndValues...)
}

func (l zapLeveledLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Infow(msg, keysAndValues...)
}

func (l zapLeveledLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.logger.Debugw(msg, keysAndValues...)
}

func (l zapLeveledLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.logger.Warnw(msg, keysAndValues...)
}
