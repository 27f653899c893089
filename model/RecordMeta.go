package model

import (
	"bytes"
	"time"

	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/bsv-blockchain/tokencache/errors"
)

// RecordMeta is the ledger's sort key for a record: recorded time, then output
// index, then transaction hash. It is a total order over unspent records.
type RecordMeta struct {
	RecordedTime time.Time
	OutputIndex  uint32
	TxHash       chainhash.Hash
}

// Compare returns -1, 0 or +1.
func (m RecordMeta) Compare(other RecordMeta) int {
	if c := m.RecordedTime.Compare(other.RecordedTime); c != 0 {
		return c
	}

	switch {
	case m.OutputIndex < other.OutputIndex:
		return -1
	case m.OutputIndex > other.OutputIndex:
		return 1
	}

	return bytes.Compare(m.TxHash[:], other.TxHash[:])
}

func (m RecordMeta) Less(other RecordMeta) bool {
	return m.Compare(other) < 0
}

type recordMetaJSON struct {
	RecordedTime time.Time `json:"recordedTime"`
	OutputIndex  uint32    `json:"outputIndex"`
	TxHash       string    `json:"txHash"`
}

func (m RecordMeta) MarshalJSON() ([]byte, error) {
	return json.Marshal(recordMetaJSON{
		RecordedTime: m.RecordedTime,
		OutputIndex:  m.OutputIndex,
		TxHash:       m.TxHash.String(),
	})
}

func (m *RecordMeta) UnmarshalJSON(data []byte) error {
	var raw recordMetaJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	m.RecordedTime = raw.RecordedTime
	m.OutputIndex = raw.OutputIndex

	if raw.TxHash == "" {
		m.TxHash = chainhash.Hash{}
		return nil
	}

	hash, err := chainhash.NewHashFromStr(raw.TxHash)
	if err != nil {
		return errors.NewInvalidArgumentError("invalid meta tx hash %q", raw.TxHash, err)
	}

	m.TxHash = *hash

	return nil
}
