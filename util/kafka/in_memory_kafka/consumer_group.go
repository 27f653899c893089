package inmemorykafka

import (
	"context"
	"sync"

	"github.com/IBM/sarama"
	"github.com/bsv-blockchain/tokencache/errors"
)

var errOneTopic = errors.NewInvalidArgumentError("in-memory consumer group consumes exactly one topic")

// ConsumerGroup implements sarama.ConsumerGroup with a single member and a
// single partition per topic. Marked messages are committed to the broker so
// a later Consume resumes after them.
type ConsumerGroup struct {
	broker  *Broker
	groupID string
	errors  chan error

	mu     sync.Mutex
	paused bool
	resume chan struct{}
	cancel context.CancelFunc
	closed bool
}

var _ sarama.ConsumerGroup = (*ConsumerGroup)(nil)

func NewConsumerGroup(broker *Broker, groupID string) *ConsumerGroup {
	return &ConsumerGroup{
		broker:  broker,
		groupID: groupID,
		errors:  make(chan error, 16),
		resume:  make(chan struct{}),
	}
}

// Consume runs one session: Setup, ConsumeClaim until ctx is done or the
// handler returns, then Cleanup.
func (g *ConsumerGroup) Consume(ctx context.Context, topics []string, handler sarama.ConsumerGroupHandler) error {
	if len(topics) != 1 {
		return errOneTopic
	}

	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return sarama.ErrClosedConsumerGroup
	}

	sessionCtx, cancel := context.WithCancel(ctx)
	g.cancel = cancel
	g.mu.Unlock()

	defer cancel()

	session := &session{ctx: sessionCtx, group: g, topic: topics[0]}

	claim := &claim{
		topic:    topics[0],
		initial:  g.broker.Committed(g.groupID, topics[0]),
		broker:   g.broker,
		messages: make(chan *sarama.ConsumerMessage),
	}

	if err := handler.Setup(session); err != nil {
		return err
	}

	go g.pump(sessionCtx, claim)

	err := handler.ConsumeClaim(session, claim)

	cancel()

	if cleanupErr := handler.Cleanup(session); cleanupErr != nil && err == nil {
		err = cleanupErr
	}

	if errors.Is(err, context.Canceled) {
		return nil
	}

	return err
}

// pump feeds the claim from the broker, blocking while the group is paused.
func (g *ConsumerGroup) pump(ctx context.Context, c *claim) {
	defer close(c.messages)

	next := c.initial

	for {
		msgs, notify := g.broker.read(c.topic, next)

		for _, msg := range msgs {
			if !g.waitWhilePaused(ctx) {
				return
			}

			select {
			case c.messages <- msg:
				next = msg.Offset + 1
			case <-ctx.Done():
				return
			}
		}

		if len(msgs) > 0 {
			continue
		}

		select {
		case <-notify:
		case <-ctx.Done():
			return
		}
	}
}

func (g *ConsumerGroup) waitWhilePaused(ctx context.Context) bool {
	for {
		g.mu.Lock()
		paused, resume := g.paused, g.resume
		g.mu.Unlock()

		if !paused {
			return true
		}

		select {
		case <-resume:
		case <-ctx.Done():
			return false
		}
	}
}

func (g *ConsumerGroup) Errors() <-chan error {
	return g.errors
}

func (g *ConsumerGroup) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return nil
	}

	g.closed = true

	if g.cancel != nil {
		g.cancel()
	}

	close(g.errors)

	return nil
}

func (g *ConsumerGroup) PauseAll() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.paused = true
}

func (g *ConsumerGroup) ResumeAll() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.paused {
		g.paused = false
		close(g.resume)
		g.resume = make(chan struct{})
	}
}

// Pause and Resume act on the whole group since there is one partition per topic.
func (g *ConsumerGroup) Pause(map[string][]int32) { g.PauseAll() }

func (g *ConsumerGroup) Resume(map[string][]int32) { g.ResumeAll() }

type session struct {
	ctx   context.Context
	group *ConsumerGroup
	topic string
}

func (s *session) Claims() map[string][]int32 {
	return map[string][]int32{s.topic: {0}}
}

func (s *session) MemberID() string { return "memory-" + s.group.groupID }

func (s *session) GenerationID() int32 { return 1 }

func (s *session) MarkOffset(topic string, _ int32, offset int64, _ string) {
	s.group.broker.commit(s.group.groupID, topic, offset)
}

func (s *session) ResetOffset(topic string, partition int32, offset int64, metadata string) {
	s.MarkOffset(topic, partition, offset, metadata)
}

func (s *session) MarkMessage(msg *sarama.ConsumerMessage, metadata string) {
	s.MarkOffset(msg.Topic, msg.Partition, msg.Offset+1, metadata)
}

// Commit is a no-op, marks are committed immediately.
func (s *session) Commit() {}

func (s *session) Context() context.Context { return s.ctx }

type claim struct {
	topic    string
	initial  int64
	broker   *Broker
	messages chan *sarama.ConsumerMessage
}

func (c *claim) Topic() string { return c.topic }

func (c *claim) Partition() int32 { return 0 }

func (c *claim) InitialOffset() int64 { return c.initial }

func (c *claim) HighWaterMarkOffset() int64 { return int64(c.broker.Len(c.topic)) }

func (c *claim) Messages() <-chan *sarama.ConsumerMessage { return c.messages }
