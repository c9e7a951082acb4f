package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/septivank/water-meter-bridge/internal/logging"
	"go.uber.org/zap"
)

// CheckAbnormal alerts the owner of every reading whose consumption exceeds
// the configured factor times the mean. One alert is scheduled per matched
// reading.
func (s *IngestionService) CheckAbnormal(ctx context.Context) (*SweepResult, error) {
	logger := logging.FromContext(ctx, s.logger)

	rows, err := s.readings.ListConsumption(ctx)
	if err != nil {
		logger.Error("failed to load consumption", zap.Error(err))
		return nil, fmt.Errorf("failed to load consumption: %w", err)
	}

	mean, abnormal := s.detector.SelectAbnormal(rows)
	result := &SweepResult{
		Status:          StatusSuccess,
		Matched:         len(abnormal),
		MeanConsumption: mean,
	}

	tokens := make(map[int]string)
	for _, row := range abnormal {
		token, ok := tokens[row.UserID]
		if !ok {
			record, err := s.tokens.GetDeviceToken(ctx, row.UserID)
			if err != nil {
				logger.Error("failed to look up push token",
					zap.Int("user_id", row.UserID),
					zap.Error(err),
				)
				continue
			}
			token = strings.TrimSpace(record.PushToken())
			tokens[row.UserID] = token
		}
		if token == "" {
			continue
		}

		body := fmt.Sprintf("Reading #%d shows unusually high consumption (%d, average %.1f).", row.ReadingID, row.Consumption, mean)
		rowLogger := logger.With(zap.Int("user_id", row.UserID), zap.Int64("reading_id", row.ReadingID))
		if s.schedule(rowLogger, "abnormal-consumption-alert", token, abnormalTitle, body) {
			result.AlertsSent++
		}
	}

	logger.Info("abnormal consumption check finished",
		zap.Int("readings", len(rows)),
		zap.Int("matched", result.Matched),
		zap.Int("alerts_sent", result.AlertsSent),
		zap.Float64("mean", mean),
		zap.Float64("factor", s.detector.Factor()),
	)

	return result, nil
}
