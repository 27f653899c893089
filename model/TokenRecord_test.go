package model

import (
	"math"
	"testing"
	"time"

	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/bsv-blockchain/tokencache/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testCurrency = ValueType{Class: "currency", Identifier: "USD", FractionDigits: 2}
	testIssuer   = "02b4632d08485ff1df2db55b9dafd23347d1c47a457072a1e87be26896549a8737"
	testHolder   = "03f028892bad7ed57d2fb57bf33081d5cfcf6f9ed3d3d7f159c2e2fff579dc341a"
)

func testHash(b byte) chainhash.Hash {
	var h chainhash.Hash
	h[0] = b

	return h
}

func TestRecordIDString(t *testing.T) {
	id := NewRecordID(testHash(7), 3)

	t.Run("round trip", func(t *testing.T) {
		parsed, err := RecordIDFromString(id.String())
		require.NoError(t, err)
		assert.Equal(t, id, parsed)
	})

	t.Run("invalid", func(t *testing.T) {
		for _, s := range []string{"", "abc", ":1", id.TxID.String() + ":", id.TxID.String() + ":x", "zz:1"} {
			_, err := RecordIDFromString(s)
			require.Error(t, err, s)
			assert.True(t, errors.Is(err, errors.ErrInvalidArgument), s)
		}
	})

	t.Run("json", func(t *testing.T) {
		data, err := json.Marshal(id)
		require.NoError(t, err)
		assert.Equal(t, `"`+id.String()+`"`, string(data))

		var decoded RecordID
		require.NoError(t, json.Unmarshal(data, &decoded))
		assert.Equal(t, id, decoded)

		require.Error(t, json.Unmarshal([]byte(`12`), &decoded))
	})
}

func TestRecordMetaCompare(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()

	base := RecordMeta{RecordedTime: now, OutputIndex: 1, TxHash: testHash(5)}

	assert.Equal(t, 0, base.Compare(base))

	later := base
	later.RecordedTime = now.Add(time.Millisecond)
	assert.Equal(t, -1, base.Compare(later))
	assert.Equal(t, 1, later.Compare(base))

	higherIndex := base
	higherIndex.OutputIndex = 2
	assert.True(t, base.Less(higherIndex))

	// time wins over output index
	assert.True(t, higherIndex.Less(later))

	higherHash := base
	higherHash.TxHash = testHash(6)
	assert.True(t, base.Less(higherHash))
	assert.False(t, higherHash.Less(base))
}

func TestNewTokenRecord(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	id := NewRecordID(testHash(1), 4)

	record := NewTokenRecord(id, IssuedValue{Type: testCurrency, Issuer: testIssuer}, 100, testHolder, now)

	assert.Equal(t, uint32(4), record.Meta.OutputIndex)
	assert.Equal(t, id.TxID, record.Meta.TxHash)
	assert.Equal(t, now, record.Meta.RecordedTime)
	assert.Contains(t, record.String(), "currency/USD")
}

func TestAmount(t *testing.T) {
	value := IssuedValue{Type: testCurrency, Issuer: testIssuer}
	record := NewTokenRecord(NewRecordID(testHash(1), 0), value, 10, testHolder, time.Now())

	t.Run("any issuer", func(t *testing.T) {
		amount := NewAmount(5, testCurrency)
		assert.False(t, amount.HasIssuer())
		assert.True(t, amount.Matches(record))
	})

	t.Run("issuer", func(t *testing.T) {
		assert.True(t, NewIssuedAmount(5, value).Matches(record))

		other := NewIssuedAmount(5, IssuedValue{Type: testCurrency, Issuer: testHolder})
		assert.False(t, other.Matches(record))
	})

	t.Run("type", func(t *testing.T) {
		eur := testCurrency
		eur.Identifier = "EUR"
		assert.False(t, NewAmount(5, eur).Matches(record))
	})

	t.Run("saturating add", func(t *testing.T) {
		assert.Equal(t, uint64(7), SaturatingAdd(3, 4))
		assert.Equal(t, uint64(math.MaxUint64), SaturatingAdd(math.MaxUint64-1, 2))
	})
}

func TestHolderKey(t *testing.T) {
	assert.True(t, TypeOnlyHolder().IsTypeOnly())
	assert.Equal(t, "type-only", TypeOnlyHolder().String())
	assert.Equal(t, "account:alice", AccountHolder("alice").String())
	assert.NotEqual(t, PublicKeyHolder(testHolder), UnmappedHolder(testHolder))
	assert.Equal(t, PublicKeyHolder(testHolder), PublicKeyHolder(testHolder))
}

func TestFeedBatchCodec(t *testing.T) {
	now := time.Unix(1700000000, 123000000).UTC()
	value := IssuedValue{Type: testCurrency, Issuer: testIssuer}

	batch := &FeedBatch{
		Consumed: []RecordID{NewRecordID(testHash(1), 0)},
		Produced: []*TokenRecord{
			NewTokenRecord(NewRecordID(testHash(2), 1), value, 42, testHolder, now),
		},
	}

	data, err := batch.Bytes()
	require.NoError(t, err)

	decoded, err := NewFeedBatchFromBytes(data)
	require.NoError(t, err)
	assert.Equal(t, batch.Consumed, decoded.Consumed)
	require.Len(t, decoded.Produced, 1)
	assert.Equal(t, batch.Produced[0].ID, decoded.Produced[0].ID)
	assert.Equal(t, batch.Produced[0].Quantity, decoded.Produced[0].Quantity)
	assert.True(t, batch.Produced[0].Meta.RecordedTime.Equal(decoded.Produced[0].Meta.RecordedTime))
	assert.Equal(t, 0, batch.Produced[0].Meta.Compare(decoded.Produced[0].Meta))

	t.Run("garbage", func(t *testing.T) {
		_, err := NewFeedBatchFromBytes([]byte("not json"))
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrKafkaDecode))
	})

	t.Run("null produced entry", func(t *testing.T) {
		_, err := NewFeedBatchFromBytes([]byte(`{"consumed":[],"produced":[null]}`))
		require.Error(t, err)
	})
}
