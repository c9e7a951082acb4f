package push

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/septivank/water-meter-bridge/internal/metrics"
	"go.uber.org/zap"
)

// Outcome classifies a delivery attempt
type Outcome string

const (
	OutcomeSuccess         Outcome = "success"
	OutcomeSkipped         Outcome = "skipped"
	OutcomeInvalidToken    Outcome = "invalid_token"
	OutcomeRetryFailed     Outcome = "retry_failed"
	OutcomeError           Outcome = "error"
	OutcomeNetworkError    Outcome = "network_error"
	OutcomeCredentialError Outcome = "credential_error"
)

// DetailMissingToken is reported with OutcomeSkipped when there is no target
const DetailMissingToken = "missing_token"

// Result is the classified outcome of Send. InvalidToken tells the caller
// the device token is stale; nothing is removed from storage here.
type Result struct {
	Outcome    Outcome        `json:"outcome"`
	StatusCode int            `json:"status_code,omitempty"`
	Detail     string         `json:"detail,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// Sender delivers a titled notification to a single device token
type Sender interface {
	Send(ctx context.Context, token, title, body string) (Result, error)
}

// ClientConfig holds push client settings
type ClientConfig struct {
	BaseURL     string
	ProjectID   string
	Timeout     time.Duration
	Credentials *CredentialCache
	HTTPClient  *http.Client
	Logger      *zap.Logger
}

// Client sends notifications through the FCM HTTP v1 API
type Client struct {
	endpoint    string
	credentials *CredentialCache
	httpClient  *http.Client
	logger      *zap.Logger
}

// NewClient creates a new push client
func NewClient(cfg ClientConfig) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		endpoint:    fmt.Sprintf("%s/v1/projects/%s/messages:send", strings.TrimRight(cfg.BaseURL, "/"), cfg.ProjectID),
		credentials: cfg.Credentials,
		httpClient:  httpClient,
		logger:      logger,
	}
}

type message struct {
	Message messageBody `json:"message"`
}

type messageBody struct {
	Token        string       `json:"token"`
	Notification notification `json:"notification"`
}

type notification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// Send delivers one notification. A 401 triggers exactly one retry with a
// forcibly refreshed credential. The returned error is non-nil only when no
// credential could be obtained.
func (c *Client) Send(ctx context.Context, token, title, body string) (Result, error) {
	if token == "" {
		c.logger.Warn("missing push token, skipping notification")
		return c.record(Result{Outcome: OutcomeSkipped, Detail: DetailMissingToken}), nil
	}

	payload, err := json.Marshal(message{
		Message: messageBody{
			Token:        token,
			Notification: notification{Title: title, Body: body},
		},
	})
	if err != nil {
		return c.record(Result{Outcome: OutcomeError, Detail: err.Error()}), nil
	}

	status, respBody, err := c.post(ctx, payload, false)
	if err != nil {
		return c.failure(err)
	}

	if status == http.StatusUnauthorized {
		c.logger.Info("push gateway rejected credential, retrying with refreshed credential")

		status, respBody, err = c.post(ctx, payload, true)
		if err != nil {
			return c.failure(err)
		}
		if status == http.StatusOK {
			return c.record(Result{Outcome: OutcomeSuccess, StatusCode: status, Payload: decodePayload(respBody)}), nil
		}
		return c.record(Result{Outcome: OutcomeRetryFailed, StatusCode: status, Detail: detail(respBody)}), nil
	}

	return c.record(classify(status, respBody)), nil
}

func (c *Client) post(ctx context.Context, payload []byte, forceRefresh bool) (int, []byte, error) {
	accessToken, err := c.credentials.AccessToken(ctx, forceRefresh)
	if err != nil {
		return 0, nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json; UTF-8")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return 0, nil, err
	}

	return resp.StatusCode, respBody, nil
}

func (c *Client) failure(err error) (Result, error) {
	if errors.Is(err, ErrCredential) {
		return c.record(Result{Outcome: OutcomeCredentialError, Detail: err.Error()}), err
	}
	return c.record(Result{Outcome: OutcomeNetworkError, Detail: err.Error()}), nil
}

func (c *Client) record(res Result) Result {
	metrics.NotificationsTotal.WithLabelValues(string(res.Outcome)).Inc()
	c.logger.Info("push notification attempted",
		zap.String("outcome", string(res.Outcome)),
		zap.Int("status_code", res.StatusCode),
		zap.String("detail", res.Detail),
	)
	return res
}

func classify(status int, body []byte) Result {
	switch {
	case status == http.StatusOK:
		return Result{Outcome: OutcomeSuccess, StatusCode: status, Payload: decodePayload(body)}
	case status == http.StatusNotFound, indicatesInvalidToken(body):
		return Result{Outcome: OutcomeInvalidToken, StatusCode: status, Detail: detail(body)}
	default:
		return Result{Outcome: OutcomeError, StatusCode: status, Detail: detail(body)}
	}
}

type gatewayError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
		Details []struct {
			ErrorCode string `json:"errorCode"`
		} `json:"details"`
	} `json:"error"`
}

// indicatesInvalidToken recognises FCM errors that mean the target token is
// unknown or malformed.
func indicatesInvalidToken(body []byte) bool {
	var ge gatewayError
	if err := json.Unmarshal(body, &ge); err != nil {
		return false
	}

	for _, d := range ge.Error.Details {
		if d.ErrorCode == "UNREGISTERED" {
			return true
		}
		if d.ErrorCode == "INVALID_ARGUMENT" && mentionsToken(ge.Error.Message) {
			return true
		}
	}

	return ge.Error.Status == "INVALID_ARGUMENT" && mentionsToken(ge.Error.Message)
}

func mentionsToken(msg string) bool {
	return strings.Contains(strings.ToLower(msg), "registration token")
}

func decodePayload(body []byte) map[string]any {
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil
	}
	return payload
}

func detail(body []byte) string {
	const limit = 512
	s := strings.TrimSpace(string(body))
	if len(s) > limit {
		return s[:limit]
	}
	return s
}
