package errors

// ERR is the error code carried by every *Error.
//
//nolint:revive,stylecheck // upper case code names mirror the wire representation
type ERR int32

const (
	ERR_UNKNOWN               ERR = 0
	ERR_INVALID_ARGUMENT      ERR = 1
	ERR_NOT_FOUND             ERR = 3
	ERR_PROCESSING            ERR = 4
	ERR_CONFIGURATION         ERR = 5
	ERR_CONTEXT_CANCELED      ERR = 6
	ERR_SERVICE_UNAVAILABLE   ERR = 50
	ERR_SERVICE_NOT_STARTED   ERR = 51
	ERR_SERVICE_ERROR         ERR = 52
	ERR_STORAGE_UNAVAILABLE   ERR = 60
	ERR_STORAGE_ERROR         ERR = 62
	ERR_INSUFFICIENT_BALANCE  ERR = 70
	ERR_INSUFFICIENT_UNLOCKED ERR = 71
	ERR_UNKNOWN_KEY           ERR = 72
	ERR_RECORD_EXISTS         ERR = 73
	ERR_KAFKA_DECODE_ERROR    ERR = 80
)

//nolint:revive,stylecheck
var ERR_name = map[int32]string{
	0:  "UNKNOWN",
	1:  "INVALID_ARGUMENT",
	3:  "NOT_FOUND",
	4:  "PROCESSING",
	5:  "CONFIGURATION",
	6:  "CONTEXT_CANCELED",
	50: "SERVICE_UNAVAILABLE",
	51: "SERVICE_NOT_STARTED",
	52: "SERVICE_ERROR",
	60: "STORAGE_UNAVAILABLE",
	62: "STORAGE_ERROR",
	70: "INSUFFICIENT_BALANCE",
	71: "INSUFFICIENT_UNLOCKED",
	72: "UNKNOWN_KEY",
	73: "RECORD_EXISTS",
	80: "KAFKA_DECODE_ERROR",
}

func (x ERR) String() string {
	if name, ok := ERR_name[int32(x)]; ok {
		return name
	}

	return "UNKNOWN"
}

var (
	ErrInvalidArgument      = New(ERR_INVALID_ARGUMENT, "invalid argument")
	ErrNotFound             = New(ERR_NOT_FOUND, "not found")
	ErrProcessing           = New(ERR_PROCESSING, "error processing")
	ErrConfiguration        = New(ERR_CONFIGURATION, "configuration error")
	ErrContextCanceled      = New(ERR_CONTEXT_CANCELED, "context canceled")
	ErrServiceUnavailable   = New(ERR_SERVICE_UNAVAILABLE, "service unavailable")
	ErrServiceNotStarted    = New(ERR_SERVICE_NOT_STARTED, "service not started")
	ErrServiceError         = New(ERR_SERVICE_ERROR, "service error")
	ErrStorageUnavailable   = New(ERR_STORAGE_UNAVAILABLE, "storage unavailable")
	ErrStorageError         = New(ERR_STORAGE_ERROR, "storage error")
	ErrInsufficientBalance  = New(ERR_INSUFFICIENT_BALANCE, "insufficient balance")
	ErrInsufficientUnlocked = New(ERR_INSUFFICIENT_UNLOCKED, "insufficient unlocked balance")
	ErrUnknownKey           = New(ERR_UNKNOWN_KEY, "unknown key")
	ErrRecordExists         = New(ERR_RECORD_EXISTS, "record already exists")
	ErrKafkaDecode          = New(ERR_KAFKA_DECODE_ERROR, "kafka decode error")
)

// errors initialization functions

func NewInvalidArgumentError(message string, params ...interface{}) error {
	return New(ERR_INVALID_ARGUMENT, message, params...)
}
func NewNotFoundError(message string, params ...interface{}) error {
	return New(ERR_NOT_FOUND, message, params...)
}
func NewProcessingError(message string, params ...interface{}) error {
	return New(ERR_PROCESSING, message, params...)
}
func NewConfigurationError(message string, params ...interface{}) error {
	return New(ERR_CONFIGURATION, message, params...)
}
func NewContextCanceledError(message string, params ...interface{}) error {
	return New(ERR_CONTEXT_CANCELED, message, params...)
}
func NewServiceUnavailableError(message string, params ...interface{}) error {
	return New(ERR_SERVICE_UNAVAILABLE, message, params...)
}
func NewServiceNotStartedError(message string, params ...interface{}) error {
	return New(ERR_SERVICE_NOT_STARTED, message, params...)
}
func NewServiceError(message string, params ...interface{}) error {
	return New(ERR_SERVICE_ERROR, message, params...)
}
func NewStorageUnavailableError(message string, params ...interface{}) error {
	return New(ERR_STORAGE_UNAVAILABLE, message, params...)
}
func NewStorageError(message string, params ...interface{}) error {
	return New(ERR_STORAGE_ERROR, message, params...)
}
func NewInsufficientBalanceError(message string, params ...interface{}) error {
	return New(ERR_INSUFFICIENT_BALANCE, message, params...)
}
func NewInsufficientUnlockedError(message string, params ...interface{}) error {
	return New(ERR_INSUFFICIENT_UNLOCKED, message, params...)
}
func NewUnknownKeyError(message string, params ...interface{}) error {
	return New(ERR_UNKNOWN_KEY, message, params...)
}
func NewRecordExistsError(message string, params ...interface{}) error {
	return New(ERR_RECORD_EXISTS, message, params...)
}
func NewKafkaDecodeError(message string, params ...interface{}) error {
	return New(ERR_KAFKA_DECODE_ERROR, message, params...)
}
