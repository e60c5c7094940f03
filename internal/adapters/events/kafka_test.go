package events

import (
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/viralforge/mesh/services/data-ai/M07-media-upload-service/internal/contracts"
)

func TestKafkaPublisherTopicMapping(t *testing.T) {
	t.Parallel()
	if _, err := NewKafkaPublisher(nil, nil); err == nil {
		t.Fatalf("expected publisher without brokers to be rejected")
	}
	p, err := NewKafkaPublisher([]string{"localhost:9092"}, map[string]string{
		contracts.EventFileReady:         "prod.media.file_ready",
		contracts.EventAnalysisCompleted: "",
	})
	if err != nil {
		t.Fatalf("new publisher: %v", err)
	}
	defer p.Close()
	if got := p.topicFor(contracts.EventFileReady); got != "prod.media.file_ready" {
		t.Fatalf("expected mapped topic, got %q", got)
	}
	if got := p.topicFor(contracts.EventAnalysisCompleted); got != contracts.EventAnalysisCompleted {
		t.Fatalf("expected blank mapping to fall back to the event type, got %q", got)
	}
}

func TestKafkaConsumerConfigValidation(t *testing.T) {
	t.Parallel()
	cases := []KafkaConsumerConfig{
		{GroupID: "g", Topics: []string{"t"}},
		{Brokers: []string{"localhost:9092"}, Topics: []string{"t"}},
		{Brokers: []string{"localhost:9092"}, GroupID: "g"},
	}
	for i, cfg := range cases {
		if _, err := NewKafkaConsumer(cfg); err == nil {
			t.Fatalf("case %d: expected incomplete config to be rejected", i)
		}
	}
}

func TestEventTypeHeaderFallsBackToTopic(t *testing.T) {
	t.Parallel()
	withHeader := kafka.Message{Topic: "prod.media.file_ready", Headers: []kafka.Header{{Key: headerEventType, Value: []byte(contracts.EventFileReady)}}}
	if got := eventTypeHeader(withHeader); got != contracts.EventFileReady {
		t.Fatalf("expected header event type, got %q", got)
	}
	if got := eventTypeHeader(kafka.Message{Topic: "media.file_ready"}); got != "media.file_ready" {
		t.Fatalf("expected topic fallback, got %q", got)
	}
}
