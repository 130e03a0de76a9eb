package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// MessageWriter is the part of *kafka.Writer the sink needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes entries to a topic keyed by resource id, so one resource's
// history stays ordered within a partition.
type KafkaSink struct {
	writer MessageWriter
	topic  string
}

func NewKafkaWriter(brokers []string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
	}
}

func NewKafkaSink(writer MessageWriter, topic string) *KafkaSink {
	return &KafkaSink{writer: writer, topic: topic}
}

type kafkaEvent struct {
	ID           string         `json:"id"`
	Action       string         `json:"action"`
	Actor        string         `json:"performed_by"`
	ResourceType string         `json:"resource_type"`
	ResourceID   string         `json:"resource_id,omitempty"`
	Details      map[string]any `json:"details"`
	Timestamp    time.Time      `json:"timestamp"`
}

func (s *KafkaSink) Record(ctx context.Context, e Entry) error {
	e = normalize(e)

	ev := kafkaEvent{
		ID:           e.ID.String(),
		Action:       e.Action,
		Actor:        e.Actor.String(),
		ResourceType: string(e.ResourceType),
		Details:      e.Details,
		Timestamp:    e.Timestamp,
	}
	key := e.ID.String()
	if e.ResourceID != nil {
		ev.ResourceID = e.ResourceID.String()
		key = ev.ResourceID
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}

	msg := kafka.Message{
		Topic: s.topic,
		Key:   []byte(key),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(ev.ID)},
			{Key: "event_type", Value: []byte(e.Action)},
		},
	}
	msg.Headers = injectTraceHeaders(ctx, msg.Headers)

	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish audit event: %w", err)
	}
	return nil
}

func (s *KafkaSink) Close() error {
	return s.writer.Close()
}

func injectTraceHeaders(ctx context.Context, headers []kafka.Header) []kafka.Header {
	carrier := &headerCarrier{headers: headers}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	return carrier.headers
}

type headerCarrier struct {
	headers []kafka.Header
}

func (c *headerCarrier) Get(key string) string {
	for _, h := range c.headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func (c *headerCarrier) Keys() []string {
	keys := make([]string, 0, len(c.headers))
	for _, h := range c.headers {
		keys = append(keys, h.Key)
	}
	return keys
}

func (c *headerCarrier) Set(key, value string) {
	for i := range c.headers {
		if c.headers[i].Key == key {
			c.headers[i].Value = []byte(value)
			return
		}
	}
	c.headers = append(c.headers, kafka.Header{Key: key, Value: []byte(value)})
}

var _ propagation.TextMapCarrier = (*headerCarrier)(nil)
