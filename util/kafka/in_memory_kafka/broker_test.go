package inmemorykafka

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type collectingHandler struct {
	mu       sync.Mutex
	values   []string
	want     int
	done     chan struct{}
	doneOnce sync.Once
}

func newCollectingHandler(want int) *collectingHandler {
	return &collectingHandler{want: want, done: make(chan struct{})}
}

func (h *collectingHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *collectingHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *collectingHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}

			h.mu.Lock()
			h.values = append(h.values, string(msg.Value))
			n := len(h.values)
			h.mu.Unlock()

			session.MarkMessage(msg, "")

			if n >= h.want {
				h.doneOnce.Do(func() { close(h.done) })
			}
		case <-session.Context().Done():
			return nil
		}
	}
}

func (h *collectingHandler) collected() []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	return append([]string(nil), h.values...)
}

func TestProduceAndConsume(t *testing.T) {
	broker := NewBroker()
	producer := NewSyncProducer(broker)

	_, offset, err := producer.SendMessage(&sarama.ProducerMessage{Topic: "feed", Value: sarama.StringEncoder("a")})
	require.NoError(t, err)
	assert.Equal(t, int64(0), offset)

	group := NewConsumerGroup(broker, "g1")
	handler := newCollectingHandler(3)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)

	go func() {
		errCh <- group.Consume(ctx, []string{"feed"}, handler)
	}()

	require.NoError(t, producer.SendMessages([]*sarama.ProducerMessage{
		{Topic: "feed", Value: sarama.StringEncoder("b")},
		{Topic: "feed", Value: sarama.StringEncoder("c")},
	}))

	select {
	case <-handler.done:
	case <-time.After(2 * time.Second):
		t.Fatal("messages not delivered")
	}

	assert.Equal(t, []string{"a", "b", "c"}, handler.collected())
	assert.Equal(t, int64(3), broker.Committed("g1", "feed"))

	cancel()
	require.NoError(t, <-errCh)

	// a new session of the same group resumes after the committed offset
	broker.Produce("feed", nil, []byte("d"))

	second := newCollectingHandler(1)

	ctx2, cancel2 := context.WithCancel(context.Background())
	defer cancel2()

	go func() {
		_ = group.Consume(ctx2, []string{"feed"}, second)
	}()

	select {
	case <-second.done:
	case <-time.After(2 * time.Second):
		t.Fatal("resumed session received nothing")
	}

	assert.Equal(t, []string{"d"}, second.collected())

	require.NoError(t, group.Close())
	require.ErrorIs(t, group.Consume(context.Background(), []string{"feed"}, second), sarama.ErrClosedConsumerGroup)
}

func TestConsumeRejectsMultipleTopics(t *testing.T) {
	group := NewConsumerGroup(NewBroker(), "g")
	require.Error(t, group.Consume(context.Background(), []string{"a", "b"}, newCollectingHandler(1)))
}

func TestPauseHoldsDelivery(t *testing.T) {
	broker := NewBroker()
	group := NewConsumerGroup(broker, "g")
	group.PauseAll()

	broker.Produce("feed", nil, []byte("x"))

	handler := newCollectingHandler(1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		_ = group.Consume(ctx, []string{"feed"}, handler)
	}()

	select {
	case <-handler.done:
		t.Fatal("delivered while paused")
	case <-time.After(50 * time.Millisecond):
	}

	group.ResumeAll()

	select {
	case <-handler.done:
	case <-time.After(2 * time.Second):
		t.Fatal("not delivered after resume")
	}
}

func TestTransactionsUnsupported(t *testing.T) {
	producer := NewSyncProducer(NewBroker())
	assert.False(t, producer.IsTransactional())
	assert.Error(t, producer.BeginTxn())
}
