package errors

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"
)

// ErrDataI is an interface for error data that can be set, retrieved, and encoded.
type ErrDataI interface {
	EncodeErrorData() []byte
	Error() string
	GetData(key string) interface{}
	SetData(key string, value interface{})
}

// ErrData is a generic error data structure that implements the ErrDataI interface.
type ErrData map[string]interface{}

// Error returns a string representation of the error data.
func (e *ErrData) Error() string {
	return fmt.Sprintf(" %v", *e)
}

// SetData sets a key-value pair in the error data.
func (e *ErrData) SetData(key string, value interface{}) {
	if e == nil {
		return
	}

	(*e)[key] = value
}

// GetData retrieves the value associated with a key in the error data.
func (e *ErrData) GetData(key string) interface{} {
	if e == nil {
		return nil
	}

	return (*e)[key]
}

// EncodeErrorData encodes the error data to a byte slice using JSON encoding.
func (e *ErrData) EncodeErrorData() []byte {
	data, err := jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(e)
	if err != nil {
		return []byte{}
	}

	return data
}

// ShortfallErrData describes why a selection could not be satisfied.
type ShortfallErrData struct {
	Required        uint64 `json:"required"`
	Claimed         uint64 `json:"claimed"`
	LockedElsewhere uint64 `json:"locked_elsewhere"`
}

func (s *ShortfallErrData) Error() string {
	return fmt.Sprintf("required %d, claimed %d, locked elsewhere %d", s.Required, s.Claimed, s.LockedElsewhere)
}

func (s *ShortfallErrData) EncodeErrorData() []byte {
	data, err := jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(s)
	if err != nil {
		return []byte{}
	}

	return data
}

func (s *ShortfallErrData) GetData(key string) interface{} {
	switch key {
	case "required":
		return s.Required
	case "claimed":
		return s.Claimed
	case "locked_elsewhere":
		return s.LockedElsewhere
	}

	return nil
}

func (s *ShortfallErrData) SetData(key string, value interface{}) {
	v, ok := value.(uint64)
	if !ok {
		return
	}

	switch key {
	case "required":
		s.Required = v
	case "claimed":
		s.Claimed = v
	case "locked_elsewhere":
		s.LockedElsewhere = v
	}
}

// NewShortfallError builds an insufficient balance or insufficient unlocked
// error carrying the amounts seen by the selection.
func NewShortfallError(code ERR, required, claimed, lockedElsewhere uint64, message string, params ...interface{}) *Error {
	e := New(code, message, params...)
	e.data = &ShortfallErrData{
		Required:        required,
		Claimed:         claimed,
		LockedElsewhere: lockedElsewhere,
	}

	return e
}

// GetErrorData decodes error data for the given code.
func GetErrorData(code ERR, dataBytes []byte) (ErrDataI, error) {
	var errData ErrDataI

	switch code {
	case ERR_INSUFFICIENT_BALANCE, ERR_INSUFFICIENT_UNLOCKED:
		errData = &ShortfallErrData{}
	default:
		errData = &ErrData{}
	}

	if err := jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(dataBytes, errData); err != nil {
		return errData, err
	}

	return errData, nil
}
