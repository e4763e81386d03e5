package ratelimiter

import (
	"errors"
	"fmt"
)

var (
	errUnexpectedScriptReply        = errors.New("unexpected reply shape from atomic routine")
	errUnsupportedClientForResetAll = errors.New("resetAll requires a *redis.Client or *redis.ClusterClient")
)

// ErrCode identifies a validation failure by its stable numeric code, so
// callers can switch on failure kind without string matching.
type ErrCode int

const (
	ErrCodeMissingType ErrCode = 101 + iota
	ErrCodeUnknownType
	ErrCodeMissingKey
	ErrCodeMalformedOverride
	ErrCodeMalformedCount
	ErrCodeMissingERLKey
	ErrCodeNoElevatedConfig
	ErrCodeMalformedMatch
)

// ValidationError is a synchronous, fail-fast configuration or argument
// error. It is always returned directly from the call that triggered it —
// never delivered only via a side channel.
type ValidationError struct {
	Code ErrCode
	Msg  string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("ratelimiter: %s (code %d)", e.Msg, e.Code)
}

func newValidationError(code ErrCode, format string, args ...any) *ValidationError {
	return &ValidationError{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// StoreError wraps a failure from the underlying store (transport error or
// a server-side scripting error). A non-conformant take is never a
// StoreError — only a genuine failure to execute the operation is.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("ratelimiter: %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

func newStoreError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Err: err}
}
