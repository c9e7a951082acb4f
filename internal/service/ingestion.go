package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/septivank/water-meter-bridge/internal/anomaly"
	"github.com/septivank/water-meter-bridge/internal/db"
	"github.com/septivank/water-meter-bridge/internal/dispatch"
	"github.com/septivank/water-meter-bridge/internal/forward"
	"github.com/septivank/water-meter-bridge/internal/logging"
	"github.com/septivank/water-meter-bridge/internal/metrics"
	"github.com/septivank/water-meter-bridge/internal/mq"
	"github.com/septivank/water-meter-bridge/internal/push"
	"github.com/septivank/water-meter-bridge/internal/validator"
	"go.uber.org/zap"
)

const (
	StatusSuccess = "success"
	StatusError   = "error"

	increaseTitle = "Water usage increased"
	abnormalTitle = "Abnormal water consumption"
)

// ErrInvalidReading is returned when a submission fails validation
var ErrInvalidReading = errors.New("invalid reading")

// ReadingStore is the append-only reading log
type ReadingStore interface {
	AppendReading(ctx context.Context, userID, deviceID, rawValue int) (*db.Reading, error)
	LastReadingForDevice(ctx context.Context, deviceID int) (*db.Reading, error)
	ListConsumption(ctx context.Context) ([]db.ConsumptionRow, error)
}

// TokenStore maps users to their push tokens
type TokenStore interface {
	UpsertDeviceToken(ctx context.Context, userID int, expoToken, fcmToken *string) error
	GetDeviceToken(ctx context.Context, userID int) (*db.DeviceToken, error)
}

// Scheduler runs jobs in the background without blocking the caller
type Scheduler interface {
	Submit(name string, job dispatch.Job) error
}

// EventPublisher announces stored readings to other services
type EventPublisher interface {
	PublishReading(ctx context.Context, event mq.ReadingEvent) error
}

// NopPublisher is used when the message bus is disabled
type NopPublisher struct{}

// PublishReading does nothing
func (NopPublisher) PublishReading(context.Context, mq.ReadingEvent) error { return nil }

// IngestionResult is returned to the caller of a reading submission. Partial
// failures (forwarding) are reported through fields, not errors.
type IngestionResult struct {
	Status          string `json:"status"`
	Message         string `json:"message,omitempty"`
	LocalID         int64  `json:"local_id,omitempty"`
	PreviousValue   int    `json:"previous_value"`
	Increased       bool   `json:"increased"`
	Notified        bool   `json:"notified"`
	Forwarded       bool   `json:"forwarded"`
	ForwardStatus   int    `json:"forward_status,omitempty"`
	BackendResponse any    `json:"backend_response,omitempty"`
}

// SweepResult summarises an abnormal consumption check
type SweepResult struct {
	Status          string  `json:"status"`
	AlertsSent      int     `json:"alerts_sent"`
	Matched         int     `json:"matched"`
	MeanConsumption float64 `json:"mean_consumption"`
}

// IngestionService compares, stores, forwards and notifies
type IngestionService struct {
	readings  ReadingStore
	tokens    TokenStore
	sink      forward.Sink
	sender    push.Sender
	scheduler Scheduler
	events    EventPublisher
	detector  *anomaly.Detector
	validator *validator.Validator
	logger    *zap.Logger
}

// Deps groups the collaborators of IngestionService
type Deps struct {
	Readings  ReadingStore
	Tokens    TokenStore
	Sink      forward.Sink
	Sender    push.Sender
	Scheduler Scheduler
	Events    EventPublisher
	Detector  *anomaly.Detector
	Validator *validator.Validator
	Logger    *zap.Logger
}

// NewIngestionService creates a new ingestion service
func NewIngestionService(d Deps) *IngestionService {
	events := d.Events
	if events == nil {
		events = NopPublisher{}
	}
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &IngestionService{
		readings:  d.Readings,
		tokens:    d.Tokens,
		sink:      d.Sink,
		sender:    d.Sender,
		scheduler: d.Scheduler,
		events:    events,
		detector:  d.Detector,
		validator: d.Validator,
		logger:    logger,
	}
}

// Submit records a reading. The local write always happens before the
// forward attempt and the notify decision, and is never undone by their
// failure. A storage failure yields a result with status "error" together
// with the error.
func (s *IngestionService) Submit(ctx context.Context, userID, deviceID, rawValue int) (*IngestionResult, error) {
	logger := logging.FromContext(ctx, s.logger).With(
		zap.Int("user_id", userID),
		zap.Int("device_id", deviceID),
	)

	if v := s.validator.ValidateReading(userID, deviceID, rawValue); !v.IsValid {
		return nil, fmt.Errorf("%w: %s", ErrInvalidReading, v.AnomalyReason)
	}

	previous, err := s.readings.LastReadingForDevice(ctx, deviceID)
	if err != nil {
		return s.storageFailure(logger, "failed to read previous reading", err)
	}

	previousValue := 0
	if previous != nil {
		previousValue = previous.RawValue
	}
	increased := rawValue > previousValue

	reading, err := s.readings.AppendReading(ctx, userID, deviceID, rawValue)
	if err != nil {
		return s.storageFailure(logger, "failed to store reading", err)
	}
	metrics.ReadingsIngestedTotal.WithLabelValues("success").Inc()

	logger = logger.With(zap.Int64("reading_id", reading.ID))
	logger.Info("reading stored",
		zap.Int("previous_value", previousValue),
		zap.Int("raw_value", rawValue),
		zap.Bool("increased", increased),
	)

	result := &IngestionResult{
		Status:        StatusSuccess,
		LocalID:       reading.ID,
		PreviousValue: previousValue,
		Increased:     increased,
	}

	fwd, err := s.sink.Send(ctx, forward.Reading{UserID: userID, DeviceID: deviceID, RawValue: rawValue})
	result.Forwarded = fwd.Forwarded
	result.ForwardStatus = fwd.StatusCode
	result.BackendResponse = fwd.Response
	if err != nil {
		metrics.ForwardsTotal.WithLabelValues("failure").Inc()
		logger.Warn("failed to forward reading, kept locally",
			zap.Error(err),
			zap.Int("backend_status", fwd.StatusCode),
		)
	} else {
		metrics.ForwardsTotal.WithLabelValues("success").Inc()
	}

	event := mq.ReadingEvent{
		ReadingID:     reading.ID,
		UserID:        userID,
		DeviceID:      deviceID,
		RawValue:      rawValue,
		PreviousValue: previousValue,
		Increased:     increased,
		Forwarded:     result.Forwarded,
		CreatedAt:     reading.CreatedAt,
	}
	if err := s.events.PublishReading(ctx, event); err != nil {
		logger.Error("failed to publish reading event", zap.Error(err))
	}

	if increased {
		result.Notified = s.notifyIncrease(ctx, logger, userID, deviceID, previousValue, rawValue)
	}

	return result, nil
}

func (s *IngestionService) storageFailure(logger *zap.Logger, msg string, err error) (*IngestionResult, error) {
	metrics.ReadingsIngestedTotal.WithLabelValues("storage_error").Inc()
	logger.Error(msg, zap.Error(err))
	return &IngestionResult{Status: StatusError, Message: err.Error()}, fmt.Errorf("%s: %w", msg, err)
}

// notifyIncrease schedules the increase alert and reports whether a token
// was found. Lookup and scheduling failures are logged only.
func (s *IngestionService) notifyIncrease(ctx context.Context, logger *zap.Logger, userID, deviceID, previousValue, rawValue int) bool {
	record, err := s.tokens.GetDeviceToken(ctx, userID)
	if err != nil {
		logger.Error("failed to look up push token", zap.Error(err))
		return false
	}

	token := strings.TrimSpace(record.PushToken())
	if token == "" {
		logger.Debug("no push token registered, skipping notification")
		return false
	}

	body := fmt.Sprintf("Meter %d reading went from %d to %d.", deviceID, previousValue, rawValue)
	s.schedule(logger, "increase-alert", token, increaseTitle, body)

	return true
}

func (s *IngestionService) schedule(logger *zap.Logger, name, token, title, body string) bool {
	err := s.scheduler.Submit(name, func(ctx context.Context) {
		res, err := s.sender.Send(ctx, token, title, body)
		if err != nil {
			logger.Error("notification not sent", zap.String("job", name), zap.Error(err))
			return
		}
		if res.Outcome == push.OutcomeInvalidToken {
			logger.Warn("push token rejected by gateway, it may be stale",
				zap.String("job", name),
				zap.String("detail", res.Detail),
			)
		}
	})
	if err != nil {
		logger.Error("failed to schedule notification", zap.String("job", name), zap.Error(err))
		return false
	}
	return true
}
