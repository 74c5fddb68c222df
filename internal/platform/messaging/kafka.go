package messaging

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	domain "github.com/add-to-Cart/porma-marketplace/internal/domain"
	"github.com/add-to-Cart/porma-marketplace/internal/platform/observability"
)

// MessageWriter is the subset of *kafka.Writer used by KafkaSink.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink writes notification envelopes keyed by recipient, so one user's
// notifications stay ordered on a single partition.
type KafkaSink struct {
	writer   MessageWriter
	producer string
	now      func() time.Time
}

// NewKafkaWriter builds a synchronous writer that waits for all in-sync replicas.
func NewKafkaWriter(brokers []string, topic string, logger *zap.Logger) (*kafka.Writer, error) {
	if len(brokers) == 0 {
		return nil, errors.New("messaging: kafka brokers are required")
	}
	if topic == "" {
		return nil, errors.New("messaging: kafka topic is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 50 * time.Millisecond,
		Logger:       observability.NewLeveledPrintfAdapter(logger, zapcore.DebugLevel),
		ErrorLogger:  observability.NewLeveledPrintfAdapter(logger, zapcore.WarnLevel),
	}, nil
}

// NewKafkaSink wraps writer.
func NewKafkaSink(writer MessageWriter, producer string) (*KafkaSink, error) {
	if writer == nil {
		return nil, errors.New("messaging: kafka writer is required")
	}
	return &KafkaSink{writer: writer, producer: producer, now: time.Now}, nil
}

func (s *KafkaSink) Name() string { return "kafka" }

func (s *KafkaSink) Deliver(ctx context.Context, n domain.Notification) error {
	data, err := encode(s.producer, n)
	if err != nil {
		return err
	}
	msg := kafka.Message{
		Key:   []byte(n.UserID),
		Value: data,
		Time:  s.now().UTC(),
		Headers: []kafka.Header{
			{Key: "notification-id", Value: []byte(n.ID)},
			{Key: "event-type", Value: []byte(n.Type)},
		},
	}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("messaging: kafka write notification %s: %w", n.ID, err)
	}
	return nil
}

func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
