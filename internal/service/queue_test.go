package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleMessage_IngestsReading(t *testing.T) {
	f := newFixture()

	err := f.svc.HandleMessage(context.Background(), []byte(`{"request_id":"r-1","user_id":1,"device_id":2,"reading_5digit":300}`))

	require.NoError(t, err)
	require.Len(t, f.store.readings, 1)
	assert.Equal(t, 300, f.store.readings[0].RawValue)
	assert.Len(t, f.sink.received, 1)
}

func TestHandleMessage_RejectsBadBodies(t *testing.T) {
	f := newFixture()

	for name, body := range map[string]string{
		"not json":        `{`,
		"missing device":  `{"user_id":1,"reading_5digit":3}`,
		"negative user":   `{"user_id":-1,"device_id":1,"reading_5digit":3}`,
		"value too large": `{"user_id":1,"device_id":1,"reading_5digit":100000}`,
	} {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, f.svc.HandleMessage(context.Background(), []byte(body)))
		})
	}
	assert.Empty(t, f.store.readings)
}

func TestHandleMessage_StorageFailure(t *testing.T) {
	f := newFixture()
	f.store.failAppend = errDatabaseDown

	err := f.svc.HandleMessage(context.Background(), []byte(`{"user_id":1,"device_id":2,"reading_5digit":3}`))

	assert.ErrorIs(t, err, errDatabaseDown)
}
