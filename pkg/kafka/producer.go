package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/twmb/franz-go/pkg/kgo"
)

// DefaultTopic is the topic call-lifecycle events are published to.
const DefaultTopic = "call_events"

// Producer publishes call events to Kafka.
type Producer struct {
	client *kgo.Client
	logger *logrus.Logger
	topic  string
}

// NewProducer creates a new Kafka producer for call events.
func NewProducer(brokers []string, clientID, topic string, logger *logrus.Logger) (*Producer, error) {
	if topic == "" {
		topic = DefaultTopic
	}

	opts := []kgo.Opt{
		kgo.SeedBrokers(brokers...),
		kgo.ClientID(clientID),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
		kgo.ProducerLinger(10 * time.Millisecond),
		kgo.ProducerBatchMaxBytes(1000000),
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka client: %w", err)
	}

	return &Producer{
		client: client,
		logger: logger,
		topic:  topic,
	}, nil
}

func (p *Producer) Close() error {
	p.client.Close()
	return nil
}

// GetClient returns the underlying kgo.Client for health checks
func (p *Producer) GetClient() *kgo.Client {
	return p.client
}

// PublishCallEvent publishes a single call event, keyed by session so all
// events for one call land on the same partition in order.
func (p *Producer) PublishCallEvent(ctx context.Context, event *CallEvent) error {
	if event == nil {
		return fmt.Errorf("event cannot be nil")
	}
	if event.SchemaVersion == "" {
		event.SchemaVersion = SchemaVersion
	}

	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	record := &kgo.Record{
		Topic: p.topic,
		Key:   []byte(event.SessionID),
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: "source", Value: []byte(event.Source)},
			{Key: "event_type", Value: []byte(event.EventType)},
		},
	}

	produceCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	result := p.client.ProduceSync(produceCtx, record)
	if err := result.FirstErr(); err != nil {
		return fmt.Errorf("failed to produce message: %w", err)
	}

	return nil
}
