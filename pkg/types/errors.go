package types

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNoRoute            = errors.New("no viable route")
	ErrUserRejected       = errors.New("user rejected the request")
	ErrQuoteUnavailable   = errors.New("quote unavailable")
	ErrInvalidIntent      = errors.New("invalid swap intent")
	ErrSubmissionInFlight = errors.New("a submission is already in progress")
)

// NetworkError wraps a failed call to an external venue or node
type NetworkError struct {
	Op        string
	Err       error
	Retriable bool
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// IsRetriable reports whether err (or anything it wraps) is a retriable network error
func IsRetriable(err error) bool {
	var netErr *NetworkError
	if errors.As(err, &netErr) {
		return netErr.Retriable
	}
	return false
}

// codedError is implemented by provider errors that carry an EIP-1193 style code
type codedError interface {
	ErrorCode() int
}

// userRejectedCode is the EIP-1193 "user rejected request" code
const userRejectedCode = 4001

var userRejectedPhrases = []string{
	"user rejected",
	"user denied",
	"rejected by user",
	"cancelled by user",
	"canceled by user",
	"request rejected",
}

// IsUserRejected tells a signing step the user declined apart from real failures
func IsUserRejected(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrUserRejected) {
		return true
	}
	var coded codedError
	if errors.As(err, &coded) && coded.ErrorCode() == userRejectedCode {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, phrase := range userRejectedPhrases {
		if strings.Contains(msg, phrase) {
			return true
		}
	}
	return false
}
