package wire

import (
	"errors"
	"fmt"
)

// Code is a stable numeric wire error code, per spec §6.
type Code int

const (
	InvalidArgs Code = iota + 1
	Internal
	NotImplemented

	SyncDocNotFound
	SyncEpochMismatch
	SyncSeqMismatch
	SyncFingerprintMismatch
	OwnerNeedsResync
	NotPreferredOwner
	NotDocOwner
	InvalidDelta

	HistoryUnavailable
	NothingToUndo
	NothingToRedo

	LspServerNotFound
	LspServerNotReady

	RequestCancelled
)

var codeNames = map[Code]string{
	InvalidArgs:             "InvalidArgs",
	Internal:                "Internal",
	NotImplemented:          "NotImplemented",
	SyncDocNotFound:         "SyncDocNotFound",
	SyncEpochMismatch:       "SyncEpochMismatch",
	SyncSeqMismatch:         "SyncSeqMismatch",
	SyncFingerprintMismatch: "SyncFingerprintMismatch",
	OwnerNeedsResync:        "OwnerNeedsResync",
	NotPreferredOwner:       "NotPreferredOwner",
	NotDocOwner:             "NotDocOwner",
	InvalidDelta:            "InvalidDelta",
	HistoryUnavailable:      "HistoryUnavailable",
	NothingToUndo:           "NothingToUndo",
	NothingToRedo:           "NothingToRedo",
	LspServerNotFound:       "LspServerNotFound",
	LspServerNotReady:       "LspServerNotReady",
	RequestCancelled:        "REQUEST_CANCELLED",
}

func (c Code) String() string {
	if n, ok := codeNames[c]; ok {
		return n
	}
	return fmt.Sprintf("Code(%d)", int(c))
}

// Error is the typed error carried across every wire-protocol boundary in
// this module; callers should check Code rather than matching strings.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Errorf constructs an *Error with a formatted message.
func Errorf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap constructs an *Error carrying cause as its Unwrap target.
func Wrap(code Code, cause error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// CodeOf extracts the Code from err if it is (or wraps) an *Error,
// otherwise returns Internal.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return Internal
}
