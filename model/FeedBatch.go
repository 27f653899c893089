package model

import (
	"github.com/bsv-blockchain/tokencache/errors"
)

// FeedBatch is one ledger update as delivered by the change feed. Produced
// records must be applied before consumed ones.
type FeedBatch struct {
	Consumed []RecordID     `json:"consumed"`
	Produced []*TokenRecord `json:"produced"`
}

func (b *FeedBatch) Bytes() ([]byte, error) {
	data, err := json.Marshal(b)
	if err != nil {
		return nil, errors.NewProcessingError("failed to encode feed batch", err)
	}

	return data, nil
}

func NewFeedBatchFromBytes(data []byte) (*FeedBatch, error) {
	batch := &FeedBatch{}

	if err := json.Unmarshal(data, batch); err != nil {
		return nil, errors.NewKafkaDecodeError("failed to decode feed batch", err)
	}

	for i, record := range batch.Produced {
		if record == nil {
			return nil, errors.NewKafkaDecodeError("feed batch produced entry %d is null", i)
		}
	}

	return batch, nil
}
