package kafka

import (
	"context"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/bsv-blockchain/tokencache/errors"
	"github.com/bsv-blockchain/tokencache/settings"
	"github.com/bsv-blockchain/tokencache/ulogger"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func memoryURL(t *testing.T) *url.URL {
	u, err := url.Parse("memory://local/feed-" + uuid.NewString())
	require.NoError(t, err)

	return u
}

func TestNewKafkaConsumerGroupFromURL(t *testing.T) {
	logger := ulogger.TestLogger{}

	t.Run("missing url", func(t *testing.T) {
		_, err := NewKafkaConsumerGroupFromURL(logger, nil, "g", false, nil)
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrConfiguration))
	})

	t.Run("missing group", func(t *testing.T) {
		_, err := NewKafkaConsumerGroupFromURL(logger, memoryURL(t), "", false, nil)
		require.Error(t, err)
	})

	t.Run("heartbeat must be below session timeout", func(t *testing.T) {
		bad, err := url.Parse("kafka://broker:9092/feed?sessionTimeout=1000&heartbeatInterval=2000")
		require.NoError(t, err)

		_, err = NewKafkaConsumerGroupFromURL(logger, bad, "g", false, nil)
		require.Error(t, err)
	})

	t.Run("memory scheme", func(t *testing.T) {
		mem, err := url.Parse("memory://local/token-feed?partitions=3&replay=0&offsetReset=earliest&channelBufferSize=64")
		require.NoError(t, err)

		client, err := NewKafkaConsumerGroupFromURL(logger, mem, "g", false, &settings.KafkaSettings{EnableDebugLogging: true})
		require.NoError(t, err)

		assert.Equal(t, "token-feed", client.Config.Topic)
		assert.Equal(t, 3, client.Config.Partitions)
		assert.False(t, client.Config.Replay)
		assert.Equal(t, "earliest", client.Config.OffsetReset)
		assert.Equal(t, 64, client.Config.ChannelBufferSize)
		assert.True(t, client.Config.EnableDebugLogging)
		assert.Equal(t, []string{"local"}, client.BrokersURL())
		assert.False(t, client.Config.AutoCommitEnabled)
		require.NoError(t, client.Close())
	})
}

func TestListenerDeliversInOrder(t *testing.T) {
	logger := ulogger.TestLogger{}
	u := memoryURL(t)

	producer, err := NewKafkaProducerFromURL(logger, u)
	require.NoError(t, err)

	var (
		mu       sync.Mutex
		received []string
	)

	done := make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err = StartKafkaListener(ctx, logger, u, "tokencache-test", false, func(msg *KafkaMessage) error {
		mu.Lock()
		defer mu.Unlock()

		received = append(received, string(msg.Value))
		if len(received) == 3 {
			close(done)
		}

		return nil
	}, nil)
	require.NoError(t, err)

	for _, v := range []string{"one", "two", "three"} {
		require.NoError(t, producer.Send(nil, []byte(v)))
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not receive the messages")
	}

	mu.Lock()
	assert.Equal(t, []string{"one", "two", "three"}, received)
	mu.Unlock()
}

func TestWrapConsumerFn(t *testing.T) {
	initPrometheusMetrics()

	k := &KafkaConsumerGroup{Config: KafkaConsumerConfig{Logger: ulogger.TestLogger{}, Topic: "feed"}}
	failing := errors.NewProcessingError("boom")

	calls := 0
	fn := func(*KafkaMessage) error {
		calls++
		return failing
	}

	msg := &KafkaMessage{sarama.ConsumerMessage{Key: []byte("k")}}

	t.Run("no option returns the error", func(t *testing.T) {
		calls = 0
		require.ErrorIs(t, k.wrapConsumerFn(context.Background(), fn)(msg), failing)
		assert.Equal(t, 1, calls)
	})

	t.Run("log and move on", func(t *testing.T) {
		calls = 0
		require.NoError(t, k.wrapConsumerFn(context.Background(), fn, WithLogErrorAndMoveOn())(msg))
		assert.Equal(t, 1, calls)
	})

	t.Run("retry and move on", func(t *testing.T) {
		calls = 0
		require.NoError(t, k.wrapConsumerFn(context.Background(), fn, WithRetryAndMoveOn(3, 1, time.Millisecond))(msg))
		assert.Equal(t, 3, calls)
	})
}

func TestConsumeClaimStopsOnError(t *testing.T) {
	initPrometheusMetrics()

	cfg := KafkaConsumerConfig{Logger: ulogger.TestLogger{}, Topic: "feed"}

	processed := 0
	consumer := NewKafkaConsumer(cfg, func(msg *KafkaMessage) error {
		processed++
		if string(msg.Value) == "bad" {
			return errors.NewProcessingError("bad message")
		}

		return nil
	})

	messages := make(chan *sarama.ConsumerMessage, 3)
	messages <- &sarama.ConsumerMessage{Topic: "feed", Offset: 0, Value: []byte("good")}
	messages <- &sarama.ConsumerMessage{Topic: "feed", Offset: 1, Value: []byte("bad")}
	messages <- &sarama.ConsumerMessage{Topic: "feed", Offset: 2, Value: []byte("never")}

	session := &fakeSession{ctx: context.Background()}

	err := consumer.ConsumeClaim(session, &fakeClaim{messages: messages})
	require.Error(t, err)
	assert.Equal(t, 2, processed)
	assert.Equal(t, []int64{0}, session.marked)
}

type fakeSession struct {
	sarama.ConsumerGroupSession
	ctx    context.Context
	marked []int64
}

func (s *fakeSession) Context() context.Context { return s.ctx }

func (s *fakeSession) MarkMessage(msg *sarama.ConsumerMessage, _ string) {
	s.marked = append(s.marked, msg.Offset)
}

type fakeClaim struct {
	sarama.ConsumerGroupClaim
	messages chan *sarama.ConsumerMessage
}

func (c *fakeClaim) Topic() string                            { return "feed" }
func (c *fakeClaim) Partition() int32                         { return 0 }
func (c *fakeClaim) HighWaterMarkOffset() int64               { return int64(len(c.messages)) }
func (c *fakeClaim) Messages() <-chan *sarama.ConsumerMessage { return c.messages }
