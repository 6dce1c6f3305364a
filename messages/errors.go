package messages

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"
)

// ErrorType classifies failures surfaced to the transcript.
type ErrorType string

const (
	ErrorConnection ErrorType = "connection"
	ErrorTimeout    ErrorType = "timeout"
	ErrorServer     ErrorType = "server"
	ErrorValidation ErrorType = "validation"
)

// ChatError is the single error shape a chat turn reports to its caller.
type ChatError struct {
	Type      ErrorType
	Message   string
	Code      string
	Timestamp time.Time
	Cause     error
}

// NewChatError builds a ChatError stamped with the current time.
func NewChatError(t ErrorType, msg string, cause error) *ChatError {
	return &ChatError{Type: t, Message: msg, Timestamp: time.Now(), Cause: cause}
}

func (e *ChatError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s error (%s): %s", e.Type, e.Code, e.Message)
	}
	return fmt.Sprintf("%s error: %s", e.Type, e.Message)
}

func (e *ChatError) Unwrap() error { return e.Cause }

// AsChatError unwraps err to a *ChatError if one is in its chain.
func AsChatError(err error) (*ChatError, bool) {
	var ce *ChatError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// statusCoder is implemented by transport errors that carry an HTTP status.
type statusCoder interface {
	HTTPStatus() int
}

// ClassifyError converts an arbitrary error into a ChatError. Errors that are
// already ChatErrors are returned unchanged.
func ClassifyError(err error) *ChatError {
	if err == nil {
		return nil
	}
	if ce, ok := AsChatError(err); ok {
		return ce
	}

	var sc statusCoder
	if errors.As(err, &sc) {
		ce := NewChatError(ErrorServer, err.Error(), err)
		ce.Code = strconv.Itoa(sc.HTTPStatus())
		return ce
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return NewChatError(ErrorTimeout, "request timed out", err)
	}
	if errors.Is(err, context.Canceled) {
		return NewChatError(ErrorConnection, "request cancelled", err)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return NewChatError(ErrorTimeout, err.Error(), err)
	}
	return NewChatError(ErrorConnection, err.Error(), err)
}

// IsRetryable reports whether repeating the request that produced ce could
// succeed. Client errors are final except 408 and 429.
func IsRetryable(ce *ChatError) bool {
	if ce == nil {
		return false
	}
	switch ce.Type {
	case ErrorConnection, ErrorTimeout:
		return true
	case ErrorServer:
		code, err := strconv.Atoi(ce.Code)
		if err != nil {
			return true
		}
		if code == 408 || code == 429 {
			return true
		}
		return code < 400 || code >= 500
	}
	return false
}

// FriendlyMessage returns a short explanation suitable for an end user.
func FriendlyMessage(ce *ChatError) string {
	if ce == nil {
		return ""
	}
	switch ce.Type {
	case ErrorConnection:
		return "Could not reach the chat server. Check your connection and try again."
	case ErrorTimeout:
		return "The request timed out. Please try again."
	case ErrorServer:
		code, _ := strconv.Atoi(ce.Code)
		switch {
		case code == 429:
			return "Too many requests. Please wait a moment and try again."
		case code >= 500:
			return "The server had a problem. Please try again later."
		case code >= 400:
			return "The request was rejected: " + ce.Message
		}
		return "Server error: " + ce.Message
	case ErrorValidation:
		return "Invalid input: " + ce.Message
	}
	return ce.Message
}
