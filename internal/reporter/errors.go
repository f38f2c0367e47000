package reporter

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// ErrorType is a low-cardinality delivery failure category.
type ErrorType string

const (
	ErrorTypeNetwork     ErrorType = "network"
	ErrorTypeTimeout     ErrorType = "timeout"
	ErrorTypeServerError ErrorType = "server_error"
	ErrorTypeClientError ErrorType = "client_error"
	ErrorTypeRateLimit   ErrorType = "rate_limit"
	ErrorTypeRejected    ErrorType = "rejected"
	ErrorTypeUnknown     ErrorType = "unknown"
)

var (
	// ErrPayloadTooLarge is returned when a strategy's size cap rejects the batch.
	ErrPayloadTooLarge = errors.New("payload exceeds strategy limit")
	// ErrBusy is returned when a background strategy has no free slot.
	ErrBusy = errors.New("too many deliveries in flight")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("reporter closed")
)

// DeliveryError describes why a strategy failed to deliver a batch.
type DeliveryError struct {
	Strategy   string
	Type       ErrorType
	StatusCode int
	Err        error
}

func (e *DeliveryError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s delivery: status %d", e.Strategy, e.StatusCode)
	}
	return fmt.Sprintf("%s delivery: %v", e.Strategy, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// rejected wraps a local refusal (size cap, busy, closed).
func rejected(strategy string, err error) error {
	return &DeliveryError{Strategy: strategy, Type: ErrorTypeRejected, Err: err}
}

func transportError(strategy string, err error) error {
	return &DeliveryError{Strategy: strategy, Type: classifyError(err), Err: err}
}

func statusError(strategy string, status int) error {
	return &DeliveryError{Strategy: strategy, Type: classifyStatus(status), StatusCode: status}
}

// errorType extracts the classification of err.
func errorType(err error) ErrorType {
	var de *DeliveryError
	if errors.As(err, &de) {
		return de.Type
	}
	return classifyError(err)
}

func classifyError(err error) ErrorType {
	if err == nil {
		return ErrorTypeUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorTypeTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return ErrorTypeTimeout
		}
		return ErrorTypeNetwork
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"connection refused", "no such host", "connection reset", "broken pipe", "eof"} {
		if strings.Contains(msg, s) {
			return ErrorTypeNetwork
		}
	}
	if strings.Contains(msg, "timeout") {
		return ErrorTypeTimeout
	}
	return ErrorTypeUnknown
}

func classifyStatus(status int) ErrorType {
	switch {
	case status == 429:
		return ErrorTypeRateLimit
	case status >= 500:
		return ErrorTypeServerError
	case status >= 400:
		return ErrorTypeClientError
	default:
		return ErrorTypeUnknown
	}
}
