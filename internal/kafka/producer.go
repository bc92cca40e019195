package kafka

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"go.uber.org/zap"

	"capsule-go/internal/config"
	"capsule-go/internal/logger"
)

const flushTimeoutMs = 15 * 1000

// Message is one record handed to the producer.
type Message struct {
	Topic   string
	Key     string
	Value   []byte
	Headers map[string]string
}

// MessageProducer writes records to Kafka and reports their delivery.
type MessageProducer interface {
	Send(ctx context.Context, msg Message) error
	Close()
}

type confluentProducer struct {
	producer *kafka.Producer
}

// NewConfluentKafkaProducer 创建基于 librdkafka 的生产者，acks=all
func NewConfluentKafkaProducer(cfg config.KafkaConfig) (MessageProducer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka producer: no brokers configured")
	}

	configMap := &kafka.ConfigMap{
		"bootstrap.servers": strings.Join(cfg.Brokers, ","),
		"security.protocol": cfg.Protocol,
		"acks":              "all",
	}
	if cfg.ClientID != "" {
		_ = configMap.SetKey("client.id", cfg.ClientID)
	}
	if cfg.DeliveryTimeout > 0 {
		_ = configMap.SetKey("message.timeout.ms", int(cfg.DeliveryTimeout/time.Millisecond))
	}

	p, err := kafka.NewProducer(configMap)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	logger.Info("Kafka producer created", zap.Strings("brokers", cfg.Brokers), zap.String("clientID", cfg.ClientID))
	return &confluentProducer{producer: p}, nil
}

// Send enqueues msg and blocks until its delivery report arrives or ctx is done.
// When ctx ends first the record may still be delivered later.
func (p *confluentProducer) Send(ctx context.Context, msg Message) error {
	report := make(chan kafka.Event, 1)

	headers := make([]kafka.Header, 0, len(msg.Headers))
	for k, v := range msg.Headers {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	topic := msg.Topic
	record := &kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: kafka.PartitionAny},
		Key:            []byte(msg.Key),
		Value:          msg.Value,
		Headers:        headers,
		Timestamp:      time.Now(),
	}
	if err := p.producer.Produce(record, report); err != nil {
		// 本地队列已满等错误
		return fmt.Errorf("enqueue record for %s: %w", topic, err)
	}

	select {
	case <-ctx.Done():
		return fmt.Errorf("waiting for delivery to %s: %w", topic, ctx.Err())
	case e := <-report:
		delivered, ok := e.(*kafka.Message)
		if !ok {
			return fmt.Errorf("unexpected delivery event for %s: %v", topic, e)
		}
		if delivered.TopicPartition.Error != nil {
			return fmt.Errorf("deliver record to %s: %w", topic, delivered.TopicPartition.Error)
		}
		return nil
	}
}

// Close flushes outstanding records, then releases the producer.
func (p *confluentProducer) Close() {
	if remaining := p.producer.Flush(flushTimeoutMs); remaining > 0 {
		logger.Warn("Kafka records still outstanding at close", zap.Int("remaining", remaining))
	}
	p.producer.Close()
	logger.Info("Kafka producer closed")
}
