// Package kafka publishes completion messages with a kafka-go writer.
package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/Sbajrac2/Reddit-explorer/internal/publisher"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher writes one message per publish. The topic is set per message so
// a single writer serves every topic.
type Publisher struct {
	writer messageWriter
	now    func() time.Time
}

// New creates a publisher for the given brokers.
func New(brokers []string) (*Publisher, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers are required")
	}
	return NewWithWriter(&kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: false,
	}), nil
}

// NewWithWriter builds a publisher using a custom writer (tests).
func NewWithWriter(writer messageWriter) *Publisher {
	return &Publisher{writer: writer, now: time.Now}
}

// Publish writes the JSON payload keyed by its session id, so every message
// of one session lands on the same partition.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	data, key, attrs, err := publisher.Encode(payload)
	if err != nil {
		return "", err
	}
	msg := kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: data,
		Time:  p.now().UTC(),
	}
	for name, value := range attrs {
		msg.Headers = append(msg.Headers, kafka.Header{Key: name, Value: []byte(value)})
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return "", fmt.Errorf("write message to %s: %w", topic, err)
	}
	return fmt.Sprintf("%s/%s/%d", topic, key, msg.Time.UnixNano()), nil
}

// Close shuts down the underlying writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}
