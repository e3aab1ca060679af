package kafka

import (
	"context"
	"errors"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/taskflow/transport"
	"github.com/drblury/taskflow/transport/transporttest"
)

func stubFactories(t *testing.T) {
	t.Helper()
	pub, sub := PublisherFactory, SubscriberFactory
	t.Cleanup(func() { PublisherFactory, SubscriberFactory = pub, sub })
}

func TestRegister(t *testing.T) {
	original := transport.DefaultRegistry
	t.Cleanup(func() { transport.DefaultRegistry = original })
	transport.DefaultRegistry = transport.NewRegistry()
	Register()

	caps := transport.GetCapabilities(TransportName)
	assert.Equal(t, "kafka", caps.Name)
	assert.True(t, caps.CompetingConsumers)
	assert.False(t, caps.SupportsNack)
	assert.Equal(t, transport.KafkaCapabilities, Capabilities())
}

func TestBuild(t *testing.T) {
	tests := []struct {
		name      string
		group     string
		wantGroup string
	}{
		{"explicit group", "reporting", "reporting"},
		{"default group", "", DefaultConsumerGroup},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stubFactories(t)

			var gotPub kafka.PublisherConfig
			var gotSub kafka.SubscriberConfig
			PublisherFactory = func(cfg kafka.PublisherConfig, _ watermill.LoggerAdapter) (message.Publisher, error) {
				gotPub = cfg
				return &transporttest.Publisher{}, nil
			}
			SubscriberFactory = func(cfg kafka.SubscriberConfig, _ watermill.LoggerAdapter) (message.Subscriber, error) {
				gotSub = cfg
				return &transporttest.Subscriber{}, nil
			}

			cfg := &transporttest.Config{KafkaBrokers: []string{"localhost:9092"}, KafkaConsumerGroup: tt.group}
			tr, err := Build(context.Background(), cfg, watermill.NopLogger{})
			require.NoError(t, err)
			assert.NotNil(t, tr.Publisher)
			assert.NotNil(t, tr.Subscriber)
			assert.Equal(t, []string{"localhost:9092"}, gotPub.Brokers)
			assert.Equal(t, []string{"localhost:9092"}, gotSub.Brokers)
			assert.Equal(t, tt.wantGroup, gotSub.ConsumerGroup)
		})
	}
}

func TestBuildErrors(t *testing.T) {
	t.Run("missing brokers", func(t *testing.T) {
		_, err := Build(context.Background(), &transporttest.Config{}, watermill.NopLogger{})
		assert.ErrorContains(t, err, "kafka: brokers are required")
	})

	t.Run("publisher failure", func(t *testing.T) {
		stubFactories(t)
		PublisherFactory = func(kafka.PublisherConfig, watermill.LoggerAdapter) (message.Publisher, error) {
			return nil, errors.New("publisher error")
		}
		_, err := Build(context.Background(), &transporttest.Config{KafkaBrokers: []string{"b:9092"}}, watermill.NopLogger{})
		assert.ErrorContains(t, err, "kafka publisher: publisher error")
	})

	t.Run("subscriber failure", func(t *testing.T) {
		stubFactories(t)
		pub := &transporttest.Publisher{}
		PublisherFactory = func(kafka.PublisherConfig, watermill.LoggerAdapter) (message.Publisher, error) {
			return pub, nil
		}
		SubscriberFactory = func(kafka.SubscriberConfig, watermill.LoggerAdapter) (message.Subscriber, error) {
			return nil, errors.New("subscriber error")
		}
		_, err := Build(context.Background(), &transporttest.Config{KafkaBrokers: []string{"b:9092"}}, watermill.NopLogger{})
		assert.ErrorContains(t, err, "kafka subscriber: subscriber error")
		assert.True(t, pub.Closed())
	})
}
