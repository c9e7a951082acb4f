package db

import (
	"time"
)

// Reading represents one immutable row of water_readings
type Reading struct {
	ID        int64
	UserID    int
	DeviceID  int
	RawValue  int
	CreatedAt time.Time
}

// ConsumptionRow is the projection of a reading used by the abnormal
// consumption sweep. Consumption is written by an external collaborator.
type ConsumptionRow struct {
	ReadingID   int64
	UserID      int
	Consumption int
}

// DeviceToken represents the push tokens registered for a user
type DeviceToken struct {
	UserID    int
	ExpoToken *string
	FCMToken  *string
	UpdatedAt time.Time
}

// PushToken returns the token used for FCM delivery, or "" when none is stored
func (t *DeviceToken) PushToken() string {
	if t == nil || t.FCMToken == nil {
		return ""
	}
	return *t.FCMToken
}
