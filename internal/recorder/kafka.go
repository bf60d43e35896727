package recorder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/segmentio/kafka-go"
)

const DefaultKafkaTopic = "storops-executions"

type messageWriter interface {
	WriteMessages(context.Context, ...kafka.Message) error
	Close() error
}

// KafkaSink publishes each record as a JSON message keyed by its ID.
type KafkaSink struct {
	writer messageWriter
	topic  string
}

// NewKafkaSink writes to a comma separated broker list.
func NewKafkaSink(brokers, topic string) *KafkaSink {
	if topic == "" {
		topic = DefaultKafkaTopic
	}
	return &KafkaSink{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(strings.Split(brokers, ",")...),
			Topic:                  topic,
			Balancer:               &kafka.LeastBytes{},
			AllowAutoTopicCreation: true,
		},
		topic: topic,
	}
}

func (s *KafkaSink) Name() string { return "kafka" }

func (s *KafkaSink) Record(ctx context.Context, r Record) error {
	value, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	err = s.writer.WriteMessages(ctx, kafka.Message{
		Key:   r.ID[:],
		Value: value,
		Time:  r.RecordedAt,
	})
	if errors.Is(err, kafka.UnknownTopicOrPartition) {
		return fmt.Errorf("kafka topic %q does not exist: %w", s.topic, err)
	}
	return err
}

func (s *KafkaSink) Close(context.Context) error { return s.writer.Close() }
