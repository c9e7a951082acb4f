package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/septivank/water-meter-bridge/internal/config"
	"github.com/septivank/water-meter-bridge/internal/service"
	"github.com/spf13/cobra"
)

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Publish test readings to the ingest exchange",
	Long: `Publishes a series of increasing readings for one meter to the ingest
exchange, for exercising the queue consumer against a local RabbitMQ.`,
	RunE: runPublish,
}

func init() {
	publishCmd.Flags().Int("count", 1, "Number of readings to send")
	publishCmd.Flags().Int("user-id", 1, "User owning the meter")
	publishCmd.Flags().Int("device-id", 101, "Meter id")
	publishCmd.Flags().Int("start", 100, "First reading value")
	publishCmd.Flags().Int("step", 5, "Increase between readings")

	rootCmd.AddCommand(publishCmd)
}

func runPublish(cmd *cobra.Command, args []string) error {
	count, _ := cmd.Flags().GetInt("count")
	userID, _ := cmd.Flags().GetInt("user-id")
	deviceID, _ := cmd.Flags().GetInt("device-id")
	start, _ := cmd.Flags().GetInt("start")
	step, _ := cmd.Flags().GetInt("step")

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if !cfg.RabbitMQ.Enabled() {
		return fmt.Errorf("RABBITMQ_URL is not set")
	}

	conn, err := amqp.Dial(cfg.RabbitMQ.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open channel: %w", err)
	}
	defer ch.Close()

	err = ch.ExchangeDeclare(
		cfg.RabbitMQ.IngestExchange,
		"topic",
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	for i := 0; i < count; i++ {
		value := start + i*step
		msg := service.QueuedReading{
			RequestID: uuid.New().String(),
			UserID:    &userID,
			DeviceID:  &deviceID,
			RawValue:  &value,
		}
		body, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("failed to marshal reading %d: %w", i, err)
		}

		err = ch.PublishWithContext(cmd.Context(),
			cfg.RabbitMQ.IngestExchange,
			cfg.RabbitMQ.IngestRoutingKey,
			false,
			false,
			amqp.Publishing{
				ContentType:  "application/json",
				Body:         body,
				DeliveryMode: amqp.Persistent,
				MessageId:    msg.RequestID,
				Timestamp:    time.Now(),
			},
		)
		if err != nil {
			return fmt.Errorf("failed to publish reading %d: %w", i, err)
		}

		fmt.Printf("Sent reading %d: request_id=%s value=%d\n", i+1, msg.RequestID, value)
		time.Sleep(100 * time.Millisecond)
	}

	fmt.Printf("Successfully sent %d readings\n", count)
	return nil
}
