package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/cenkalti/backoff"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/scanq/pkg/common/logger"
)

// ClientConfig contains the settings needed to reach the Kafka cluster.
type ClientConfig struct {
	Brokers  []string
	ClientID string
	// Topic receives every job event.
	Topic string
}

// NewClient creates and configures a Kafka client for producing job events.
func NewClient(cfg *ClientConfig) (sarama.Client, error) {
	config := sarama.NewConfig()
	config.ClientID = cfg.ClientID

	// Producer settings
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Return.Successes = true
	config.Producer.Return.Errors = true
	config.Producer.Retry.Max = 3
	// Events for one job share a key and therefore a partition, preserving order.
	config.Producer.Partitioner = sarama.NewHashPartitioner

	config.Version = sarama.V3_6_0_0

	return sarama.NewClient(cfg.Brokers, config)
}

// ConnectSink dials the cluster and builds an EventSink, retrying with
// exponential backoff while the brokers are unavailable.
func ConnectSink(
	ctx context.Context,
	cfg *ClientConfig,
	maxElapsed time.Duration,
	logger *logger.Logger,
	metrics SinkMetrics,
	tracer trace.Tracer,
) (*EventSink, error) {
	var sink *EventSink

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.MaxElapsedTime = maxElapsed
	expBackoff.InitialInterval = time.Second

	operation := func() error {
		client, err := NewClient(cfg)
		if err != nil {
			logger.Warn(ctx, "Kafka not reachable yet", "brokers", cfg.Brokers, "error", err)
			return fmt.Errorf("creating kafka client: %w", err)
		}

		producer, err := sarama.NewSyncProducerFromClient(client)
		if err != nil {
			client.Close()
			return fmt.Errorf("creating producer: %w", err)
		}

		sink = NewEventSink(producer, cfg.Topic, logger, metrics, tracer)
		sink.client = client
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(expBackoff, ctx)); err != nil {
		return nil, fmt.Errorf("failed to connect event sink after retries: %w", err)
	}

	return sink, nil
}
