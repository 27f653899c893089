// Package model holds the value types shared by the ledger collaborators and
// the token selection cache.
package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/bsv-blockchain/tokencache/errors"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// RecordID identifies a ledger output: the producing transaction and the output index.
type RecordID struct {
	TxID  chainhash.Hash
	Index uint32
}

func NewRecordID(txID chainhash.Hash, index uint32) RecordID {
	return RecordID{TxID: txID, Index: index}
}

// RecordIDFromString parses the "<txid>:<index>" form produced by String.
func RecordIDFromString(s string) (RecordID, error) {
	sep := strings.LastIndexByte(s, ':')
	if sep <= 0 || sep == len(s)-1 {
		return RecordID{}, errors.NewInvalidArgumentError("invalid record id %q", s)
	}

	hash, err := chainhash.NewHashFromStr(s[:sep])
	if err != nil {
		return RecordID{}, errors.NewInvalidArgumentError("invalid record id tx hash %q", s, err)
	}

	index, err := strconv.ParseUint(s[sep+1:], 10, 32)
	if err != nil {
		return RecordID{}, errors.NewInvalidArgumentError("invalid record id index %q", s, err)
	}

	return RecordID{TxID: *hash, Index: uint32(index)}, nil
}

func (r RecordID) String() string {
	return fmt.Sprintf("%s:%d", r.TxID.String(), r.Index)
}

func (r RecordID) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.String())
}

func (r *RecordID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return errors.NewInvalidArgumentError("record id must be a string", err)
	}

	id, err := RecordIDFromString(s)
	if err != nil {
		return err
	}

	*r = id

	return nil
}

// TokenRecord is an immutable reference to an unspent ledger value record.
type TokenRecord struct {
	ID       RecordID    `json:"id"`
	Value    IssuedValue `json:"value"`
	Quantity uint64      `json:"quantity"`
	// Holder is the compressed public key (hex) owning the record.
	Holder string     `json:"holder"`
	Meta   RecordMeta `json:"meta"`
}

// NewTokenRecord builds a record whose sort metadata is derived from its id.
func NewTokenRecord(id RecordID, value IssuedValue, quantity uint64, holder string, recordedTime time.Time) *TokenRecord {
	return &TokenRecord{
		ID:       id,
		Value:    value,
		Quantity: quantity,
		Holder:   holder,
		Meta: RecordMeta{
			RecordedTime: recordedTime,
			OutputIndex:  id.Index,
			TxHash:       id.TxID,
		},
	}
}

func (t *TokenRecord) String() string {
	return fmt.Sprintf("%s %d %s held by %s", t.ID, t.Quantity, t.Value, t.Holder)
}
