package workflowlog

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/segmentio/kafka-go"

	"github.com/ashita-ai/madoguchi/internal/model"
)

// MessageWriter is the subset of *kafka.Writer the publisher uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewKafkaWriter returns a writer for topic on brokers, keyed by ticket id so
// a ticket's entries stay on one partition in order.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}
}

// KafkaPublisher stores entries in the wrapped sink and then streams them to
// Kafka. The wrapped sink is authoritative: a publish failure is logged and
// counted but does not fail the append.
type KafkaPublisher struct {
	Sink
	writer MessageWriter
	logger *slog.Logger
	failed atomic.Int64
}

// NewKafkaPublisher wraps sink.
func NewKafkaPublisher(sink Sink, writer MessageWriter, logger *slog.Logger) *KafkaPublisher {
	return &KafkaPublisher{Sink: sink, writer: writer, logger: logger}
}

func (p *KafkaPublisher) Append(ctx context.Context, entries []model.WorkflowLogEntry) error {
	if err := p.Sink.Append(ctx, entries); err != nil {
		return err
	}
	msgs := make([]kafka.Message, 0, len(entries))
	for _, e := range entries {
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("workflowlog: encode entry %s: %w", e.ID, err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(e.TicketID),
			Value: data,
			Headers: []kafka.Header{
				{Key: "entry_type", Value: []byte(e.Type)},
				{Key: "stage", Value: []byte(e.Stage)},
			},
		})
	}
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		p.failed.Add(int64(len(msgs)))
		p.logger.Warn("workflowlog: kafka publish failed", "error", err, "batch_size", len(msgs))
	}
	return nil
}

// PublishFailures returns the number of entries that could not be published.
func (p *KafkaPublisher) PublishFailures() int64 { return p.failed.Load() }

// Close closes the Kafka writer.
func (p *KafkaPublisher) Close() error { return p.writer.Close() }
