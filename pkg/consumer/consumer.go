package consumer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"
)

type Config struct {
	Brokers []string
	Topic   string
	// GroupID is optional. Without it nothing is committed and the single
	// partition reader starts at the end of the topic unless FromStart.
	GroupID   string
	FromStart bool
}

type fetcher interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer decodes JSON messages of a topic into T.
type Consumer[T any] struct {
	reader fetcher
	commit bool
}

func NewConsumer[T any](cfg Config) *Consumer[T] {
	rc := kafka.ReaderConfig{
		Brokers: cfg.Brokers,
		GroupID: cfg.GroupID,
		Topic:   cfg.Topic,
	}
	if cfg.FromStart {
		rc.StartOffset = kafka.FirstOffset
	} else {
		rc.StartOffset = kafka.LastOffset
	}
	r := kafka.NewReader(rc)
	if cfg.GroupID == "" && !cfg.FromStart {
		// StartOffset only applies to consumer groups
		_ = r.SetOffset(kafka.LastOffset)
	}
	return &Consumer[T]{reader: r, commit: cfg.GroupID != ""}
}

func (c *Consumer[T]) Read(ctx context.Context) (T, error) {
	var zero T

	msg, err := c.reader.FetchMessage(ctx)
	if err != nil {
		return zero, err
	}

	var payload T
	if err := json.Unmarshal(msg.Value, &payload); err != nil {
		return zero, fmt.Errorf("decode message at offset %d: %w", msg.Offset, err)
	}

	if c.commit {
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			return zero, err
		}
	}

	return payload, nil
}

func (c *Consumer[T]) Close() error {
	return c.reader.Close()
}
