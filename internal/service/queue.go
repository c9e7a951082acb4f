package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/septivank/water-meter-bridge/internal/logging"
	"go.uber.org/zap"
)

// QueuedReading is a reading delivered over the message bus
type QueuedReading struct {
	RequestID string `json:"request_id"`
	UserID    *int   `json:"user_id" validate:"required,gte=0"`
	DeviceID  *int   `json:"device_id" validate:"required,gte=0"`
	RawValue  *int   `json:"reading_5digit" validate:"required"`
}

// HandleMessage ingests a reading received from the queue. Malformed bodies
// and storage failures are returned so the message is dead-lettered.
func (s *IngestionService) HandleMessage(ctx context.Context, body []byte) error {
	var msg QueuedReading
	if err := json.Unmarshal(body, &msg); err != nil {
		return fmt.Errorf("failed to decode queued reading: %w", err)
	}
	if err := s.validator.Struct(msg); err != nil {
		return err
	}

	logger := s.logger
	if msg.RequestID != "" {
		logger = logging.WithRequestID(logger, msg.RequestID)
	}
	ctx = logging.WithLogger(ctx, logger)

	result, err := s.Submit(ctx, *msg.UserID, *msg.DeviceID, *msg.RawValue)
	if err != nil {
		if errors.Is(err, ErrInvalidReading) {
			logger.Warn("queued reading rejected", zap.Error(err))
		}
		return err
	}

	logger.Debug("queued reading ingested",
		zap.Int64("reading_id", result.LocalID),
		zap.Bool("forwarded", result.Forwarded),
	)
	return nil
}
