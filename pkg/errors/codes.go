package errors

// ─────────────────────────────────────────────────────────────────────────────
// ErrorCode — typed identifiers for every failure category in syncbridge
// ─────────────────────────────────────────────────────────────────────────────

// ErrorCode is a string representation of a specific error condition.
type ErrorCode string

func (c ErrorCode) String() string {
	return string(c)
}

// Common Error Codes
const (
	ErrCodeInternal           ErrorCode = "COMMON_001"
	ErrCodeBadRequest         ErrorCode = "COMMON_002"
	ErrCodeNotFound           ErrorCode = "COMMON_003"
	ErrCodeConflict           ErrorCode = "COMMON_004"
	ErrCodeTooManyRequests    ErrorCode = "COMMON_005"
	ErrCodeServiceUnavailable ErrorCode = "COMMON_006"
	ErrCodeTimeout            ErrorCode = "COMMON_007"
	ErrCodeValidation         ErrorCode = "COMMON_008"
	ErrCodeSerialization      ErrorCode = "COMMON_009"
	ErrCodeExternalService    ErrorCode = "COMMON_010"
)

// Event-pipeline Error Codes
const (
	ErrCodeEventDuplicate     ErrorCode = "EVT_001"
	ErrCodeEventAlreadyQueued ErrorCode = "EVT_002"
	ErrCodeEventNoProcessor   ErrorCode = "EVT_003"
	ErrCodeEventExhausted     ErrorCode = "EVT_004"
	ErrCodeEventBadEnvelope   ErrorCode = "EVT_005"
)

// Batch-synchronizer Error Codes
const (
	ErrCodeSyncKeyNotFound   ErrorCode = "SYNC_001"
	ErrCodeSyncNoBaseline    ErrorCode = "SYNC_002"
	ErrCodeSyncStillFailing  ErrorCode = "SYNC_003"
	ErrCodeSyncInvalidOption ErrorCode = "SYNC_004"
)

// Short aliases used by the most common call sites.
const (
	CodeOK      ErrorCode = "OK"
	CodeUnknown ErrorCode = ""
)

var (
	CodeInternal     = ErrCodeInternal
	CodeInvalidParam = ErrCodeBadRequest
	CodeNotFound     = ErrCodeNotFound
	CodeConflict     = ErrCodeConflict
	CodeRateLimit    = ErrCodeTooManyRequests
	CodeUnavailable  = ErrCodeServiceUnavailable
	CodeValidation   = ErrCodeValidation
)

// retryableCodes is the closed set of codes that may be retried. Everything
// not listed here is terminal: the operation must not be re-driven.
var retryableCodes = map[ErrorCode]bool{
	ErrCodeTooManyRequests:    true,
	ErrCodeServiceUnavailable: true,
	ErrCodeTimeout:            true,
	ErrCodeExternalService:    true,
	ErrCodeInternal:           true, // unknown transient, conservatively retried
	CodeUnknown:               true,
}

// CodeRetryable reports whether code belongs to the recoverable class.
// Not-found, validation, conflict and serialization failures are terminal.
func CodeRetryable(code ErrorCode) bool {
	return retryableCodes[code]
}
