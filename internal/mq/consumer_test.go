package mq

import (
	"context"
	"errors"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

type recordingAcknowledger struct {
	acks    []uint64
	nacks   []uint64
	requeue []bool
}

func (a *recordingAcknowledger) Ack(tag uint64, multiple bool) error {
	a.acks = append(a.acks, tag)
	return nil
}

func (a *recordingAcknowledger) Nack(tag uint64, multiple, requeue bool) error {
	a.nacks = append(a.nacks, tag)
	a.requeue = append(a.requeue, requeue)
	return nil
}

func (a *recordingAcknowledger) Reject(tag uint64, requeue bool) error {
	return a.Nack(tag, false, requeue)
}

func TestProcessMessage_AcksHandledReadings(t *testing.T) {
	var got []byte
	c := &Consumer{
		queue:  "water-meter.ingest.queue",
		logger: zap.NewNop(),
		handler: func(ctx context.Context, body []byte) error {
			got = body
			return nil
		},
	}
	ack := &recordingAcknowledger{}

	c.processMessage(context.Background(), amqp.Delivery{Acknowledger: ack, DeliveryTag: 7, Body: []byte(`{"user_id":1}`)})

	assert.Equal(t, []byte(`{"user_id":1}`), got)
	assert.Equal(t, []uint64{7}, ack.acks)
	assert.Empty(t, ack.nacks)
}

func TestProcessMessage_DeadLettersFailures(t *testing.T) {
	c := &Consumer{
		queue:  "water-meter.ingest.queue",
		logger: zap.NewNop(),
		handler: func(ctx context.Context, body []byte) error {
			return errors.New("storage error")
		},
	}
	ack := &recordingAcknowledger{}

	c.processMessage(context.Background(), amqp.Delivery{Acknowledger: ack, DeliveryTag: 3})

	assert.Empty(t, ack.acks)
	assert.Equal(t, []uint64{3}, ack.nacks)
	assert.Equal(t, []bool{false}, ack.requeue)
}
