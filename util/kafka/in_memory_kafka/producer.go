package inmemorykafka

import (
	"github.com/IBM/sarama"
	"github.com/bsv-blockchain/tokencache/errors"
)

var errNoTransactions = errors.NewServiceError("in-memory producer does not support transactions")

// SyncProducer implements sarama.SyncProducer on top of a Broker.
// Transactions are not supported.
type SyncProducer struct {
	broker *Broker
}

var _ sarama.SyncProducer = (*SyncProducer)(nil)

func NewSyncProducer(broker *Broker) *SyncProducer {
	return &SyncProducer{broker: broker}
}

func encode(e sarama.Encoder) ([]byte, error) {
	if e == nil {
		return nil, nil
	}

	return e.Encode()
}

func (p *SyncProducer) SendMessage(msg *sarama.ProducerMessage) (int32, int64, error) {
	key, err := encode(msg.Key)
	if err != nil {
		return 0, 0, err
	}

	value, err := encode(msg.Value)
	if err != nil {
		return 0, 0, err
	}

	offset := p.broker.Produce(msg.Topic, key, value)
	msg.Partition = 0
	msg.Offset = offset

	return 0, offset, nil
}

func (p *SyncProducer) SendMessages(msgs []*sarama.ProducerMessage) error {
	for _, msg := range msgs {
		if _, _, err := p.SendMessage(msg); err != nil {
			return err
		}
	}

	return nil
}

func (p *SyncProducer) Close() error { return nil }

func (p *SyncProducer) TxnStatus() sarama.ProducerTxnStatusFlag {
	return sarama.ProducerTxnFlagReady
}

func (p *SyncProducer) IsTransactional() bool { return false }

func (p *SyncProducer) BeginTxn() error { return errNoTransactions }

func (p *SyncProducer) CommitTxn() error { return errNoTransactions }

func (p *SyncProducer) AbortTxn() error { return errNoTransactions }

func (p *SyncProducer) AddOffsetsToTxn(map[string][]*sarama.PartitionOffsetMetadata, string) error {
	return errNoTransactions
}

func (p *SyncProducer) AddMessageToTxn(*sarama.ConsumerMessage, string, *string) error {
	return errNoTransactions
}
