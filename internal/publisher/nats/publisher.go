// Package nats publishes completion messages to NATS subjects.
package nats

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"

	"github.com/nats-io/nats.go"

	"github.com/Sbajrac2/Reddit-explorer/internal/publisher"
)

type conn interface {
	PublishMsg(m *nats.Msg) error
	FlushWithContext(ctx context.Context) error
	Drain() error
}

// Publisher maps topics to NATS subjects.
type Publisher struct {
	conn conn
	seq  atomic.Uint64
}

// Dial connects to the NATS server at url.
func Dial(url string) (*Publisher, error) {
	if url == "" {
		return nil, fmt.Errorf("nats url is required")
	}
	nc, err := nats.Connect(url, nats.Name("reddit-explorer"))
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	return &Publisher{conn: nc}, nil
}

// Publish sends the JSON payload on subject topic and waits for the server
// to acknowledge the flush.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	data, key, attrs, err := publisher.Encode(payload)
	if err != nil {
		return "", err
	}
	msg := nats.NewMsg(topic)
	msg.Data = data
	for name, value := range attrs {
		msg.Header.Set(name, value)
	}
	if key != "" {
		msg.Header.Set("Session-Id", key)
	}
	if err := p.conn.PublishMsg(msg); err != nil {
		return "", fmt.Errorf("publish to %s: %w", topic, err)
	}
	if err := p.conn.FlushWithContext(ctx); err != nil {
		return "", fmt.Errorf("flush %s: %w", topic, err)
	}
	return topic + "-" + strconv.FormatUint(p.seq.Add(1), 10), nil
}

// Close drains pending messages and closes the connection.
func (p *Publisher) Close() error {
	if err := p.conn.Drain(); err != nil {
		return fmt.Errorf("drain nats: %w", err)
	}
	return nil
}
