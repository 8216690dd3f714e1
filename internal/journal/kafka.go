package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(context.Context, ...kafka.Message) error
	Close() error
}

// recordTimeout bounds each remote journal write, so an unresponsive sink
// costs a swap at most this much per event.
const recordTimeout = 2 * time.Second

// KafkaJournal publishes events keyed by run id, so one run stays on one partition.
type KafkaJournal struct {
	writer  messageWriter
	timeout time.Duration // recordTimeout when zero
}

func NewKafkaJournal(brokers []string, topic string) *KafkaJournal {
	return &KafkaJournal{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
			BatchTimeout:           10 * time.Millisecond, // one event per write
			WriteTimeout:           recordTimeout,
			MaxAttempts:            3,
		},
		timeout: recordTimeout,
	}
}

func (k *KafkaJournal) Record(ctx context.Context, ev Event) error {
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	msg := kafka.Message{Key: []byte(ev.RunID), Value: value, Time: ev.Time}

	timeout := k.timeout
	if timeout <= 0 {
		timeout = recordTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka write: %w", err)
	}
	return nil
}

func (k *KafkaJournal) Close() error {
	return k.writer.Close()
}
