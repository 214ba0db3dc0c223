package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"

	"github.com/angeloszaimis/api-gateway/internal/circuitbreaker"
)

// ErrInternal marks gateway-side faults that are not the backend's doing.
var ErrInternal = errors.New("internal gateway error")

// Transport codes reported for unreachable backends.
const (
	CodeConnRefused = "ECONNREFUSED"
	CodeTimeout     = "ETIMEDOUT"
	CodeNotFound    = "ENOTFOUND"
	CodeConnReset   = "ECONNRESET"
	CodeUnreachable = "EUNREACHABLE"
)

// ServiceUnavailableError is returned when a breaker rejects the dispatch.
type ServiceUnavailableError struct {
	Service string
}

func (e *ServiceUnavailableError) Error() string {
	return fmt.Sprintf("service %q temporarily unavailable: %v", e.Service, circuitbreaker.ErrCircuitOpen)
}

func (e *ServiceUnavailableError) Unwrap() error {
	return circuitbreaker.ErrCircuitOpen
}

// UpstreamUnreachableError is returned when the backend could not be reached.
type UpstreamUnreachableError struct {
	Service string
	Code    string
	Cause   error
}

func (e *UpstreamUnreachableError) Error() string {
	return fmt.Sprintf("service %q unreachable (%s): %v", e.Service, e.Code, e.Cause)
}

func (e *UpstreamUnreachableError) Unwrap() error {
	return e.Cause
}

// classify maps a transport error to a code. It returns "" when the error
// does not look like a network failure.
func classify(err error) string {
	if err == nil {
		return ""
	}

	var dnsErr *net.DNSError
	switch {
	case errors.As(err, &dnsErr):
		return CodeNotFound
	case errors.Is(err, syscall.ECONNREFUSED):
		return CodeConnRefused
	case errors.Is(err, context.DeadlineExceeded):
		return CodeTimeout
	case errors.Is(err, syscall.ECONNRESET), errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return CodeConnReset
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return CodeTimeout
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return CodeUnreachable
	}

	return ""
}
