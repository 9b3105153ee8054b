// Package notify publishes alert hits to Kafka.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/DeafMist/legal-radar/backend/internal/models"
)

// MessageWriter is the subset of *kafka.Writer the publisher needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Hit is the payload of one alert notification.
type Hit struct {
	AlertID      string    `json:"alert_id"`
	OwnerID      string    `json:"owner_id"`
	NewRecordIDs []string  `json:"new_record_ids"`
	VerifiedAt   time.Time `json:"verified_at"`
}

// Publisher writes hits keyed by owner, so one owner's hits stay ordered
// within a partition.
type Publisher struct {
	w   MessageWriter
	now func() time.Time
}

// NewPublisher wraps a kafka writer.
func NewPublisher(w MessageWriter) *Publisher {
	return &Publisher{w: w, now: func() time.Time { return time.Now().UTC() }}
}

// NewKafkaPublisher builds a publisher for topic.
func NewKafkaPublisher(brokers []string, topic string) *Publisher {
	return NewPublisher(&kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		MaxAttempts:  3,
		RequiredAcks: kafka.RequireOne,
	})
}

// Publish sends one message per result that has new records and no error.
// It returns how many messages were written.
func (p *Publisher) Publish(ctx context.Context, results []models.AlertResult) (int, error) {
	msgs := make([]kafka.Message, 0, len(results))
	for _, r := range results {
		if r.Err != nil || len(r.NewRecordIDs) == 0 {
			continue
		}
		payload, err := json.Marshal(Hit{
			AlertID:      r.AlertID,
			OwnerID:      r.OwnerID,
			NewRecordIDs: r.NewRecordIDs,
			VerifiedAt:   p.now(),
		})
		if err != nil {
			return 0, fmt.Errorf("marshal hit: %w", err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(r.OwnerID),
			Value: payload,
			Headers: []kafka.Header{
				{Key: "alert_id", Value: []byte(r.AlertID)},
			},
		})
	}
	if len(msgs) == 0 {
		return 0, nil
	}
	if err := p.w.WriteMessages(ctx, msgs...); err != nil {
		return 0, fmt.Errorf("write alert hits: %w", err)
	}
	return len(msgs), nil
}

// Close flushes and closes the writer.
func (p *Publisher) Close() error {
	return p.w.Close()
}
