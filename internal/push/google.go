package push

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/avast/retry-go"
	"go.uber.org/zap"
	"golang.org/x/oauth2/google"
	"golang.org/x/oauth2/jwt"
)

const firebaseMessagingScope = "https://www.googleapis.com/auth/firebase.messaging"

// ServiceAccountSource exchanges a Google service-account key for OAuth2
// access tokens scoped to Firebase Cloud Messaging.
type ServiceAccountSource struct {
	jwt      *jwt.Config
	attempts uint
	delay    time.Duration
	logger   *zap.Logger
}

// NewServiceAccountSource reads the service-account key file at path
func NewServiceAccountSource(path string, attempts uint, logger *zap.Logger) (*ServiceAccountSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read service account file: %w", err)
	}

	cfg, err := google.JWTConfigFromJSON(data, firebaseMessagingScope)
	if err != nil {
		return nil, fmt.Errorf("failed to parse service account file: %w", err)
	}

	if attempts == 0 {
		attempts = 1
	}

	return &ServiceAccountSource{
		jwt:      cfg,
		attempts: attempts,
		delay:    200 * time.Millisecond,
		logger:   logger,
	}, nil
}

// Fetch always performs a new token exchange; caching is the job of
// CredentialCache.
func (s *ServiceAccountSource) Fetch(ctx context.Context) (string, error) {
	var token string

	err := retry.Do(
		func() error {
			tok, err := s.jwt.TokenSource(ctx).Token()
			if err != nil {
				return err
			}
			token = tok.AccessToken
			return nil
		},
		retry.Attempts(s.attempts),
		retry.Delay(s.delay),
		retry.RetryIf(func(err error) bool {
			return ctx.Err() == nil
		}),
		retry.OnRetry(func(n uint, err error) {
			s.logger.Warn("push credential fetch failed, retrying",
				zap.Uint("attempt", n+1),
				zap.Error(err),
			)
		}),
	)
	if err != nil {
		return "", fmt.Errorf("failed to fetch access token: %w", err)
	}

	return token, nil
}
