package rpcbridge

import (
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Kind classifies a dispatch or adapter failure.
type Kind int

const (
	// KindUnknownMethod indicates the method name is not present in the
	// service's descriptor-derived method map.
	KindUnknownMethod Kind = iota + 1

	// KindNoHandler indicates the method is known but no handler usable for
	// the requested calling convention is registered. Partial service
	// implementations are permitted at construction time, so this failure
	// surfaces only at dispatch.
	KindNoHandler

	// KindDecode indicates malformed or type-mismatched message bytes.
	KindDecode

	// KindEncode indicates a message value that cannot be serialized for its
	// declared type.
	KindEncode

	// KindInvalidState indicates an operation invoked on a terminated call or
	// an exhausted stream.
	KindInvalidState

	// KindTransport indicates an opaque failure surfaced by the transport
	// layer, e.g. a completion queue that is no longer running.
	KindTransport
)

// String returns a short identifier for the kind.
func (k Kind) String() string {
	switch k {
	case KindUnknownMethod:
		return "unknown method"
	case KindNoHandler:
		return "no handler"
	case KindDecode:
		return "decode"
	case KindEncode:
		return "encode"
	case KindInvalidState:
		return "invalid state"
	case KindTransport:
		return "transport"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// code maps the kind to the gRPC status code used when the failure is
// converted to a terminal call status.
func (k Kind) code() codes.Code {
	switch k {
	case KindUnknownMethod, KindNoHandler:
		return codes.Unimplemented
	case KindDecode:
		return codes.InvalidArgument
	case KindEncode:
		return codes.Internal
	case KindInvalidState:
		return codes.FailedPrecondition
	case KindTransport:
		return codes.Unavailable
	default:
		return codes.Unknown
	}
}

// Error is the typed failure reported by the dispatcher, the adapters, and
// the async client stream driver. It interoperates with
// [google.golang.org/grpc/status.FromError] via [Error.GRPCStatus].
type Error struct {
	// Err is the underlying cause, if any.
	Err error

	// Method is the method the failure relates to, when known. It may be a
	// bare method name or a full "pkg.Service/Method" name depending on the
	// entry point.
	Method string

	// Kind classifies the failure.
	Kind Kind
}

func (e *Error) Error() string {
	msg := "rpcbridge: " + e.Kind.String()
	if e.Method != "" {
		msg += ": " + e.Method
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// GRPCStatus converts the error to a gRPC status, allowing the transport
// layer to translate dispatch failures into terminal call statuses.
func (e *Error) GRPCStatus() *status.Status {
	return status.New(e.Kind.code(), e.Error())
}

// KindOf returns the [Kind] of err, or zero if err is not an [Error].
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}
