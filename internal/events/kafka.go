// Package events publishes order lifecycle events to Kafka.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
	"github.com/vasiliy-maslov/storefront/internal/apperr"
	"github.com/vasiliy-maslov/storefront/internal/config"
)

const (
	TypeOrderPlaced        = "order.placed"
	TypeOrderStatusUpdated = "order.status_updated"
)

var ErrDisabled = errors.New("events: kafka disabled")

type Event struct {
	EventID    string    `json:"eventId"`
	Type       string    `json:"type"`
	OrderID    string    `json:"orderId"`
	OccurredAt time.Time `json:"occurredAt"`
	Payload    any       `json:"payload"`
}

// NewEvent stamps payload with a fresh id and the current time.
func NewEvent(eventType, orderID string, payload any) Event {
	return Event{
		EventID:    uuid.Must(uuid.NewV4()).String(),
		Type:       eventType,
		OrderID:    orderID,
		OccurredAt: time.Now().UTC(),
		Payload:    payload,
	}
}

type Publisher interface {
	Publish(ctx context.Context, key string, event Event) error
	Close() error
}

type Client struct {
	Brokers []string
}

func NewClient(brokersCSV string) *Client {
	brokers := []string{}
	for _, b := range strings.Split(brokersCSV, ",") {
		b = strings.TrimSpace(b)
		if b != "" {
			brokers = append(brokers, b)
		}
	}
	return &Client{Brokers: brokers}
}

func (c *Client) Enabled() bool {
	return len(c.Brokers) > 0
}

func (c *Client) NewWriter(topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(c.Brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
	}
}

// NewPublisher returns a Kafka publisher for cfg, or a disabled one when no
// brokers are configured.
func NewPublisher(cfg config.KafkaConfig) Publisher {
	client := NewClient(cfg.Brokers)
	if !client.Enabled() {
		log.Info().Msg("KAFKA_BROKERS is not set, order events are not published")
		return DisabledPublisher{}
	}
	log.Info().Strs("brokers", client.Brokers).Str("topic", cfg.Topic).Msg("Publishing order events to Kafka")
	return NewKafkaPublisher(client.NewWriter(cfg.Topic))
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaPublisher struct {
	writer messageWriter
}

func NewKafkaPublisher(writer messageWriter) *KafkaPublisher {
	return &KafkaPublisher{writer: writer}
}

// Publish writes event as JSON under key, so events of one order share a partition.
func (p *KafkaPublisher) Publish(ctx context.Context, key string, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("events: failed to encode %s: %w", event.Type, err)
	}
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: data,
		Time:  event.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(event.Type)},
		},
	})
	if err != nil {
		return fmt.Errorf("events: failed to publish %s: %w: %w", event.Type, apperr.ErrTransport, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

type DisabledPublisher struct{}

func (DisabledPublisher) Publish(context.Context, string, Event) error {
	return ErrDisabled
}

func (DisabledPublisher) Close() error {
	return nil
}
