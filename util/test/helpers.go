// Package test holds fixtures shared by the package tests: base settings,
// holder keys and a token record factory.
package test

import (
	"encoding/binary"
	"encoding/hex"
	"sync"
	"testing"
	"time"

	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	bec "github.com/bsv-blockchain/go-sdk/primitives/ec"
	"github.com/bsv-blockchain/tokencache/model"
	"github.com/bsv-blockchain/tokencache/settings"
	"github.com/stretchr/testify/require"
)

var (
	USD = model.ValueType{Class: "currency", Identifier: "USD", FractionDigits: 2}
	GBP = model.ValueType{Class: "currency", Identifier: "GBP", FractionDigits: 2}
	// Gold is tracked under a different class than the currencies.
	Gold = model.ValueType{Class: "commodity", Identifier: "XAU", FractionDigits: 3}
)

func CreateBaseTestSettings() *settings.Settings {
	tSettings := settings.NewSettings()
	tSettings.TokenCache.PageSize = 7
	tSettings.TokenCache.LoaderRetryCount = 3
	tSettings.TokenCache.LoaderRetryBackoff = time.Millisecond
	tSettings.TokenCache.TrackedClasses = nil
	tSettings.PrettyLogs = false

	return tSettings
}

// NewHolder returns the hex encoded compressed public key of a fresh key pair.
func NewHolder(t testing.TB) string {
	privateKey, err := bec.NewPrivateKey()
	require.NoError(t, err)

	return hex.EncodeToString(privateKey.PubKey().Compressed())
}

// RecordFactory creates records with unique ids and strictly increasing
// recorded times. It is safe for concurrent use.
type RecordFactory struct {
	mu   sync.Mutex
	next uint64
	base time.Time
}

func NewRecordFactory() *RecordFactory {
	return &RecordFactory{base: time.Unix(1700000000, 0).UTC()}
}

func (f *RecordFactory) nextSeq() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.next++

	return f.next
}

// ID returns a fresh record id.
func (f *RecordFactory) ID() model.RecordID {
	seq := f.nextSeq()

	var b [8]byte

	binary.LittleEndian.PutUint64(b[:], seq)

	return model.NewRecordID(chainhash.DoubleHashH(b[:]), uint32(seq%4))
}

func (f *RecordFactory) Record(value model.IssuedValue, quantity uint64, holder string) *model.TokenRecord {
	seq := f.nextSeq()

	var b [8]byte

	binary.LittleEndian.PutUint64(b[:], seq)

	id := model.NewRecordID(chainhash.DoubleHashH(b[:]), uint32(seq%4))

	return model.NewTokenRecord(id, value, quantity, holder, f.base.Add(time.Duration(seq)*time.Millisecond))
}

// RecordAt creates a record with an explicit recorded time, used to insert
// records that sort before ones already in a ledger.
func (f *RecordFactory) RecordAt(recordedTime time.Time, value model.IssuedValue, quantity uint64, holder string) *model.TokenRecord {
	record := f.Record(value, quantity, holder)
	record.Meta.RecordedTime = recordedTime

	return record
}

// Base is the recorded time of sequence zero.
func (f *RecordFactory) Base() time.Time {
	return f.base
}
