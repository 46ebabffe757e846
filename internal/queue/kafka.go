package queue

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const writeTimeout = 5 * time.Second

// KafkaPublisher implements Publisher using segmentio/kafka-go.
type KafkaPublisher struct {
	writer *kafka.Writer
	topic  string
}

// NewKafkaPublisher creates a publisher writing to topic. It returns nil when brokers or topic are
// empty; a nil publisher drops messages. Call Close when shutting down.
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	if len(brokers) == 0 || topic == "" {
		return nil
	}
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			BatchTimeout: 50 * time.Millisecond,
			RequiredAcks: kafka.RequireOne,
		},
		topic: topic,
	}
}

// Publish serializes msgs as JSON keyed by tenant id and writes them in one batch.
// Uses the caller's context with a short timeout so slow Kafka does not block callers indefinitely.
func (p *KafkaPublisher) Publish(ctx context.Context, msgs ...Envelope) error {
	if p == nil || p.writer == nil || len(msgs) == 0 {
		return nil
	}
	out := make([]kafka.Message, 0, len(msgs))
	for _, m := range msgs {
		payload, err := json.Marshal(m)
		if err != nil {
			return err
		}
		out = append(out, kafka.Message{Key: []byte(m.TenantID), Value: payload})
	}
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return p.writer.WriteMessages(writeCtx, out...)
}

// Close closes the Kafka writer. Safe to call multiple times.
func (p *KafkaPublisher) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}

// KafkaConsumer reads envelopes from a topic as part of a consumer group.
type KafkaConsumer struct {
	reader *kafka.Reader
	log    *zap.Logger
}

// NewKafkaConsumer creates a consumer group reader. Call Close when shutting down.
func NewKafkaConsumer(brokers []string, topic, groupID string, log *zap.Logger) *KafkaConsumer {
	if log == nil {
		log = zap.NewNop()
	}
	return &KafkaConsumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokers,
			Topic:    topic,
			GroupID:  groupID,
			MinBytes: 1,
			MaxBytes: 10e6, // 10MB
			MaxWait:  1 * time.Second,
		}),
		log: log.With(zap.String("topic", topic), zap.String("group", groupID)),
	}
}

// Run fetches messages until ctx ends and passes each decoded envelope to h. Messages are committed
// after handling; undecodable messages and handler failures are logged and committed so one bad
// message cannot stall the partition.
func (c *KafkaConsumer) Run(ctx context.Context, h Handler) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, io.EOF) {
				return err
			}
			c.log.Warn("kafka fetch failed", zap.Error(err))
			continue
		}
		var e Envelope
		if err := json.Unmarshal(msg.Value, &e); err != nil {
			c.log.Error("dropping undecodable message",
				zap.Int("partition", msg.Partition), zap.Int64("offset", msg.Offset), zap.Error(err))
		} else if err := h(ctx, e); err != nil {
			c.log.Error("message handling failed",
				zap.String("message_id", e.ID), zap.String("type", string(e.Type)),
				zap.String("tenant_id", e.TenantID), zap.Error(err))
		}
		if err := c.reader.CommitMessages(context.WithoutCancel(ctx), msg); err != nil {
			c.log.Warn("kafka commit failed", zap.Int64("offset", msg.Offset), zap.Error(err))
		}
	}
}

// Close closes the reader.
func (c *KafkaConsumer) Close() error { return c.reader.Close() }
