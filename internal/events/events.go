// internal/events/events.go
package events

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/segmentio/kafka-go"

	"flipcut/internal/models"
)

// Event is one committed status transition of an asset.
type Event struct {
	ImageID string        `json:"image_id"`
	UserID  string        `json:"user_id"`
	Status  models.Status `json:"status"`
	At      time.Time     `json:"at"`
}

// Publisher emits lifecycle events. Publishing is best effort: a lost
// event never affects the asset's persisted state.
type Publisher interface {
	Publish(ctx context.Context, ev Event)
	Close() error
}

// NewPublisher returns a Kafka-backed publisher, or a no-op one when no
// broker is configured.
func NewPublisher(broker, topic string) Publisher {
	if broker == "" {
		return noopPublisher{}
	}
	return &kafkaPublisher{
		writer: kafka.NewWriter(kafka.WriterConfig{
			Brokers: []string{broker},
			Topic:   topic,
		}),
	}
}

type kafkaPublisher struct {
	writer *kafka.Writer
}

func (p *kafkaPublisher) Publish(ctx context.Context, ev Event) {
	const op = "events.Publish"

	value, err := json.Marshal(ev)
	if err != nil {
		log.Printf("%s: %v", op, err)
		return
	}
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.ImageID),
		Value: value,
	})
	if err != nil {
		log.Printf("%s: %v", op, err)
	}
}

func (p *kafkaPublisher) Close() error {
	return p.writer.Close()
}

type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, Event) {}
func (noopPublisher) Close() error                   { return nil }
