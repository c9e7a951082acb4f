package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/septivank/water-meter-bridge/internal/logging"
	"github.com/septivank/water-meter-bridge/internal/push"
	"go.uber.org/zap"
)

// Notify sends a notification to a user synchronously
func (s *IngestionService) Notify(ctx context.Context, userID int, title, message string) (push.Result, error) {
	record, err := s.tokens.GetDeviceToken(ctx, userID)
	if err != nil {
		return push.Result{}, fmt.Errorf("failed to look up push token: %w", err)
	}

	return s.sender.Send(ctx, strings.TrimSpace(record.PushToken()), title, message)
}

// SaveToken registers the push tokens of a user. Absent or blank tokens keep
// the stored value.
func (s *IngestionService) SaveToken(ctx context.Context, userID int, expoToken, fcmToken *string) error {
	if userID < 0 {
		return fmt.Errorf("%w: negative user id", ErrInvalidReading)
	}

	if err := s.tokens.UpsertDeviceToken(ctx, userID, normalizeToken(expoToken), normalizeToken(fcmToken)); err != nil {
		logging.FromContext(ctx, s.logger).Error("failed to save push token",
			zap.Int("user_id", userID),
			zap.Error(err),
		)
		return err
	}
	return nil
}

func normalizeToken(token *string) *string {
	if token == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*token)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
