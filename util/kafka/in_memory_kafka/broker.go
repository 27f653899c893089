// Package inmemorykafka is a single process stand in for a Kafka cluster. It
// backs "memory://" feed URLs so the token feed can be produced and consumed
// without a broker, in tests and in the demo command.
package inmemorykafka

import (
	"sync"
	"time"

	"github.com/IBM/sarama"
)

// Broker keeps every produced message of every topic in memory, plus the
// committed offset of each consumer group.
type Broker struct {
	mu      sync.Mutex
	topics  map[string]*topic
	commits map[string]int64
}

type topic struct {
	messages []*sarama.ConsumerMessage
	// notify is closed and replaced whenever a message is appended.
	notify chan struct{}
}

var (
	sharedBroker *Broker
	brokerOnce   sync.Once
)

func NewBroker() *Broker {
	return &Broker{
		topics:  make(map[string]*topic),
		commits: make(map[string]int64),
	}
}

// GetSharedBroker returns the process wide broker used for memory:// URLs.
func GetSharedBroker() *Broker {
	brokerOnce.Do(func() {
		sharedBroker = NewBroker()
	})

	return sharedBroker
}

func (b *Broker) topicLocked(name string) *topic {
	t, ok := b.topics[name]
	if !ok {
		t = &topic{notify: make(chan struct{})}
		b.topics[name] = t
	}

	return t
}

// Produce appends a message to the topic's single partition and returns its offset.
func (b *Broker) Produce(topicName string, key, value []byte) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	t := b.topicLocked(topicName)

	offset := int64(len(t.messages))
	t.messages = append(t.messages, &sarama.ConsumerMessage{
		Topic:     topicName,
		Partition: 0,
		Offset:    offset,
		Key:       key,
		Value:     value,
		Timestamp: time.Now(),
	})

	close(t.notify)
	t.notify = make(chan struct{})

	return offset
}

// Len returns the number of messages ever produced to the topic.
func (b *Broker) Len(topicName string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	if t, ok := b.topics[topicName]; ok {
		return len(t.messages)
	}

	return 0
}

// read returns the messages from offset onwards and a channel closed on the next append.
func (b *Broker) read(topicName string, from int64) ([]*sarama.ConsumerMessage, <-chan struct{}) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t := b.topicLocked(topicName)

	if from >= int64(len(t.messages)) {
		return nil, t.notify
	}

	out := make([]*sarama.ConsumerMessage, len(t.messages)-int(from))
	copy(out, t.messages[from:])

	return out, t.notify
}

func commitKey(groupID, topicName string) string {
	return groupID + "/" + topicName
}

func (b *Broker) commit(groupID, topicName string, next int64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	key := commitKey(groupID, topicName)
	if next > b.commits[key] {
		b.commits[key] = next
	}
}

// Committed returns the next offset the group will read from the topic.
func (b *Broker) Committed(groupID, topicName string) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.commits[commitKey(groupID, topicName)]
}
