package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/septivank/water-meter-bridge/internal/db"
)

// ErrStorage marks failures of the persistence medium
var ErrStorage = errors.New("storage error")

func storageError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStorage, op, err)
}

// Repository handles database operations
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new repository
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// AppendReading inserts a new immutable reading and returns it with the
// store-assigned id and timestamp.
func (r *Repository) AppendReading(ctx context.Context, userID, deviceID, rawValue int) (*db.Reading, error) {
	query := `
		INSERT INTO water_readings (user_id, device_id, reading_5digit)
		VALUES ($1, $2, $3)
		RETURNING reading_id, user_id, device_id, reading_5digit, timestamp
	`

	var reading db.Reading
	err := r.pool.QueryRow(ctx, query, userID, deviceID, rawValue).Scan(
		&reading.ID,
		&reading.UserID,
		&reading.DeviceID,
		&reading.RawValue,
		&reading.CreatedAt,
	)
	if err != nil {
		return nil, storageError("failed to insert reading", err)
	}

	return &reading, nil
}

// LastReadingForDevice returns the most recent reading of the device, or nil
// when the device has never reported.
func (r *Repository) LastReadingForDevice(ctx context.Context, deviceID int) (*db.Reading, error) {
	query := `
		SELECT reading_id, user_id, device_id, reading_5digit, timestamp
		FROM water_readings
		WHERE device_id = $1
		ORDER BY timestamp DESC, reading_id DESC
		LIMIT 1
	`

	var reading db.Reading
	err := r.pool.QueryRow(ctx, query, deviceID).Scan(
		&reading.ID,
		&reading.UserID,
		&reading.DeviceID,
		&reading.RawValue,
		&reading.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageError("failed to query last reading", err)
	}

	return &reading, nil
}

// ListConsumption returns the consumption of every stored reading
func (r *Repository) ListConsumption(ctx context.Context) ([]db.ConsumptionRow, error) {
	query := `
		SELECT reading_id, user_id, COALESCE(consumption, 0)
		FROM water_readings
		ORDER BY reading_id
	`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, storageError("failed to query consumption", err)
	}
	defer rows.Close()

	var result []db.ConsumptionRow
	for rows.Next() {
		var row db.ConsumptionRow
		if err := rows.Scan(&row.ReadingID, &row.UserID, &row.Consumption); err != nil {
			return nil, storageError("failed to scan consumption", err)
		}
		result = append(result, row)
	}

	if err := rows.Err(); err != nil {
		return nil, storageError("rows iteration error", err)
	}

	return result, nil
}

// UpsertDeviceToken inserts or merges the tokens of a user. A nil token
// keeps whatever value is already stored for that column.
func (r *Repository) UpsertDeviceToken(ctx context.Context, userID int, expoToken, fcmToken *string) error {
	query := `
		INSERT INTO device_tokens (user_id, expo_token, fcm_token, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (user_id) DO UPDATE
		SET expo_token = COALESCE(EXCLUDED.expo_token, device_tokens.expo_token),
		    fcm_token  = COALESCE(EXCLUDED.fcm_token, device_tokens.fcm_token),
		    updated_at = now()
	`

	if _, err := r.pool.Exec(ctx, query, userID, expoToken, fcmToken); err != nil {
		return storageError("failed to upsert device token", err)
	}

	return nil
}

// GetDeviceToken returns the token record of a user, or nil when none exists
func (r *Repository) GetDeviceToken(ctx context.Context, userID int) (*db.DeviceToken, error) {
	query := `
		SELECT user_id, expo_token, fcm_token, updated_at
		FROM device_tokens
		WHERE user_id = $1
	`

	var token db.DeviceToken
	err := r.pool.QueryRow(ctx, query, userID).Scan(
		&token.UserID,
		&token.ExpoToken,
		&token.FCMToken,
		&token.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageError("failed to query device token", err)
	}

	return &token, nil
}
