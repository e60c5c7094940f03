package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

const headerEventType = "event_type"

// KafkaPublisher writes outbox records keyed by file id, so every event for one file
// lands on one partition.
type KafkaPublisher struct {
	writer *kafka.Writer
	topics map[string]string
}

func NewKafkaPublisher(brokers []string, topics map[string]string) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka publisher: no brokers configured")
	}
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			BatchTimeout: 10 * time.Millisecond,
			WriteTimeout: 10 * time.Second,
		},
		topics: topics,
	}, nil
}

func (p *KafkaPublisher) topicFor(eventType string) string {
	if topic := p.topics[eventType]; topic != "" {
		return topic
	}
	return eventType
}

func (p *KafkaPublisher) Publish(ctx context.Context, eventType string, payload []byte, partitionKey string) error {
	err := p.writer.WriteMessages(ctx, kafka.Message{
		Topic: p.topicFor(eventType),
		Key:   []byte(partitionKey),
		Value: payload,
		Headers: []kafka.Header{
			{Key: headerEventType, Value: []byte(eventType)},
			{Key: "content-type", Value: []byte("application/json")},
		},
	})
	if err != nil {
		return fmt.Errorf("write %s to kafka: %w", eventType, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

type KafkaConsumerConfig struct {
	Brokers []string
	GroupID string
	Topics  []string
	// BatchWait bounds how long one Poll waits for its batch to fill.
	BatchWait time.Duration
}

// KafkaConsumer reads without auto-commit. A group reader never fetches a record
// twice, so messages handed back through Settle wait in retry and are returned by the
// next Poll ahead of new records. Offsets only advance for handled messages.
type KafkaConsumer struct {
	reader    *kafka.Reader
	batchWait time.Duration

	mu    sync.Mutex
	retry []Message
}

func NewKafkaConsumer(cfg KafkaConsumerConfig) (*KafkaConsumer, error) {
	switch {
	case len(cfg.Brokers) == 0:
		return nil, errors.New("kafka consumer: no brokers configured")
	case cfg.GroupID == "":
		return nil, errors.New("kafka consumer: group id is required")
	case len(cfg.Topics) == 0:
		return nil, errors.New("kafka consumer: no topics configured")
	}
	if cfg.BatchWait <= 0 {
		cfg.BatchWait = 250 * time.Millisecond
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		GroupID:     cfg.GroupID,
		GroupTopics: cfg.Topics,
		MinBytes:    1,
		MaxBytes:    4 << 20,
		MaxWait:     cfg.BatchWait,
		StartOffset: kafka.FirstOffset,
	})
	return &KafkaConsumer{reader: reader, batchWait: cfg.BatchWait}, nil
}

// Poll returns pending retries if there are any, otherwise fetches up to max new
// records. The fetch shares one deadline, so an idle topic costs at most batchWait.
func (c *KafkaConsumer) Poll(ctx context.Context, max int) ([]Message, error) {
	if max <= 0 {
		max = 1
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.retry) > 0 {
		return takeFront(&c.retry, max), nil
	}

	batchCtx, cancel := context.WithTimeout(ctx, c.batchWait)
	defer cancel()
	out := make([]Message, 0, max)
	for len(out) < max {
		msg, err := c.reader.FetchMessage(batchCtx)
		if err != nil {
			if ctx.Err() != nil {
				return out, ctx.Err()
			}
			if errors.Is(err, context.DeadlineExceeded) {
				return out, nil
			}
			return out, err
		}
		out = append(out, Message{
			EventType: eventTypeHeader(msg),
			Topic:     msg.Topic,
			Key:       string(msg.Key),
			Payload:   msg.Value,
			record:    msg,
		})
	}
	return out, nil
}

// Settle commits handled and keeps retry for the next Poll. handled must be a prefix of
// what Poll returned so a committed offset never passes an unhandled record.
func (c *KafkaConsumer) Settle(ctx context.Context, handled, retry []Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	requeueFront(&c.retry, retry)
	if len(handled) == 0 {
		return nil
	}
	records := make([]kafka.Message, 0, len(handled))
	for _, m := range handled {
		records = append(records, m.record)
	}
	return c.reader.CommitMessages(ctx, records...)
}

func (c *KafkaConsumer) Close() error {
	return c.reader.Close()
}

// eventTypeHeader falls back to the topic for records written by producers that do not
// set the header.
func eventTypeHeader(msg kafka.Message) string {
	for _, h := range msg.Headers {
		if h.Key == headerEventType {
			return string(h.Value)
		}
	}
	return msg.Topic
}
