package sales

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

// EventSaleCreated is the type of the event published after a sale is stored.
const EventSaleCreated = "sale.created"

// SaleEvent is the payload written to the sales topic.
type SaleEvent struct {
	EventID    string    `json:"eventId"`
	Type       string    `json:"type"`
	OccurredAt time.Time `json:"occurredAt"`
	Sale       *Sale     `json:"sale"`
}

// MessageWriter is the subset of *kafka.Writer used for publishing.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// KafkaPublisher publishes sale events to a Kafka topic.
type KafkaPublisher struct {
	writer MessageWriter
	topic  string
}

// NewKafkaWriter returns a writer for the given brokers.
func NewKafkaWriter(brokers []string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
	}
}

// NewKafkaPublisher creates a publisher writing to topic.
func NewKafkaPublisher(writer MessageWriter, topic string) *KafkaPublisher {
	return &KafkaPublisher{writer: writer, topic: topic}
}

// PublishSaleCreated writes one sale.created message keyed by the sale ID.
func (p *KafkaPublisher) PublishSaleCreated(ctx context.Context, sale *Sale) error {
	ev := SaleEvent{
		EventID:    uuid.NewString(),
		Type:       EventSaleCreated,
		OccurredAt: time.Now().UTC(),
		Sale:       sale,
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	return p.writer.WriteMessages(ctx, kafka.Message{
		Topic: p.topic,
		Key:   []byte(strconv.FormatInt(sale.ID, 10)),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(EventSaleCreated)},
			{Key: "event_id", Value: []byte(ev.EventID)},
		},
	})
}
