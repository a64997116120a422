package rest

import (
	"context"
	"time"

	kafka "github.com/segmentio/kafka-go"

	"github.com/fatmatto/rest-toolkit/core"
	"github.com/fatmatto/rest-toolkit/core/logger"
)

// KafkaNotifier publishes change notifications to a kafka topic. The message
// key is "<resource>.<operation>", the value the response payload.
type KafkaNotifier struct {
	writer *kafka.Writer
}

// NewKafkaNotifier creates a notifier writing to the given brokers and topic.
func NewKafkaNotifier(brokers []string, topic string) *KafkaNotifier {
	return &KafkaNotifier{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			WriteTimeout: 10 * time.Second,
		},
	}
}

// Notify implements core.Notifier. Delivery failures are logged, they never
// fail the request that triggered them.
func (n *KafkaNotifier) Notify(resource string, operation core.Operation, payload []byte) {
	message := kafka.Message{
		Key:   []byte(resource + "." + string(operation)),
		Value: payload,
	}
	if err := n.writer.WriteMessages(context.Background(), message); err != nil {
		logger.Default().WithError(err).Errorf("notify %s %s", resource, operation)
	}
}

// Close flushes and closes the underlying writer.
func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}
