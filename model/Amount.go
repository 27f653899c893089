package model

import (
	"fmt"
	"math"
	"math/bits"
)

// ValueType identifies a fungible value: its class (the registered record
// variant, e.g. "currency"), its identifier within the class and the number of
// fractional digits its integer quantities are scaled by.
type ValueType struct {
	Class          string `json:"class"`
	Identifier     string `json:"identifier"`
	FractionDigits uint8  `json:"fractionDigits"`
}

func (v ValueType) String() string {
	return fmt.Sprintf("%s/%s", v.Class, v.Identifier)
}

// IssuedValue is a value type backed by a specific issuer.
type IssuedValue struct {
	Type   ValueType `json:"type"`
	Issuer string    `json:"issuer"`
}

func (i IssuedValue) String() string {
	return fmt.Sprintf("%s issued by %s", i.Type, i.Issuer)
}

// Amount is a requested quantity of a value type. An empty Issuer accepts any issuer.
type Amount struct {
	Quantity uint64
	Type     ValueType
	Issuer   string
}

func NewAmount(quantity uint64, valueType ValueType) Amount {
	return Amount{Quantity: quantity, Type: valueType}
}

func NewIssuedAmount(quantity uint64, value IssuedValue) Amount {
	return Amount{Quantity: quantity, Type: value.Type, Issuer: value.Issuer}
}

func (a Amount) HasIssuer() bool {
	return a.Issuer != ""
}

func (a Amount) String() string {
	if a.HasIssuer() {
		return fmt.Sprintf("%d %s issued by %s", a.Quantity, a.Type, a.Issuer)
	}

	return fmt.Sprintf("%d %s", a.Quantity, a.Type)
}

// Matches reports whether the record carries this amount's value type and, when
// the amount names one, its issuer.
func (a Amount) Matches(record *TokenRecord) bool {
	if record.Value.Type != a.Type {
		return false
	}

	return !a.HasIssuer() || record.Value.Issuer == a.Issuer
}

// SaturatingAdd adds quantities, clamping at math.MaxUint64 instead of wrapping.
func SaturatingAdd(a, b uint64) uint64 {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return math.MaxUint64
	}

	return sum
}
