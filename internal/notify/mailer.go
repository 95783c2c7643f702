package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// KafkaMailer hands rendered emails to the delivery pipeline by publishing
// them on a topic; an outbound mail worker owns SMTP.
type KafkaMailer struct {
	writer *kafka.Writer
	topic  string
}

func NewKafkaMailer(brokers []string, topic string) (*KafkaMailer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka mailer requires at least one broker")
	}
	if topic == "" {
		return nil, fmt.Errorf("kafka mailer requires a topic")
	}
	return &KafkaMailer{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			RequiredAcks: kafka.RequireAll,
			Balancer:     &kafka.Hash{},
		},
		topic: topic,
	}, nil
}

func (m *KafkaMailer) Send(ctx context.Context, msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode email: %w", err)
	}
	// Keyed by recipient so one tasker's emails stay ordered.
	return m.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(msg.To),
		Value: payload,
		Time:  time.Now().UTC(),
	})
}

func (m *KafkaMailer) Close() error {
	return m.writer.Close()
}

// LogMailer writes emails to the log instead of delivering them. Used when
// no brokers are configured.
type LogMailer struct {
	logger *zap.Logger
}

func NewLogMailer(logger *zap.Logger) *LogMailer {
	return &LogMailer{logger: logger}
}

func (m *LogMailer) Send(_ context.Context, msg Message) error {
	m.logger.Info("email",
		zap.String("to", msg.To),
		zap.String("template", string(msg.Template)),
		zap.String("subject", msg.Subject),
	)
	return nil
}

func (m *LogMailer) Close() error { return nil }
