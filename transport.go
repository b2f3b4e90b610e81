package rpcbridge

import (
	"time"

	"google.golang.org/grpc/status"
)

// This file defines the narrow capabilities the core expects from the
// transport layer. The core never implements or mutates these; it only
// invokes them. Package inproc provides an in-process implementation.

// OpKind identifies an asynchronous operation submitted to a
// [CompletionQueue].
type OpKind int

const (
	// OpWrite sends one encoded outbound message on the call.
	OpWrite OpKind = iota + 1

	// OpCloseSend signals that no further writes will be issued on the
	// call's outbound half.
	OpCloseSend

	// OpRecvMessage waits for the next inbound message on the call.
	OpRecvMessage

	// OpRecvStatus waits for the call's terminal status. It resolves exactly
	// once, when the call terminates.
	OpRecvStatus
)

// String returns a short identifier for the operation kind.
func (k OpKind) String() string {
	switch k {
	case OpWrite:
		return "write"
	case OpCloseSend:
		return "close-send"
	case OpRecvMessage:
		return "recv-message"
	case OpRecvStatus:
		return "recv-status"
	default:
		return "op(unknown)"
	}
}

// Operation is a single asynchronous operation tied to a call. Payload is
// only meaningful for [OpWrite].
type Operation struct {
	Payload []byte
	Kind    OpKind
}

// Completion is the eventual resolution of an [Operation]. Status is never
// nil. Payload is only meaningful for [OpRecvMessage] resolutions with an
// OK status.
type Completion struct {
	Status  *status.Status
	Payload []byte
}

// CallHandle is an opaque per-call handle issued by a [Channel]. It is
// exclusively owned by the call that created it.
type CallHandle interface {
	// Cancel requests early termination of the call. The terminal status is
	// still delivered through the completion queue.
	Cancel()
}

// CompletionQueue accepts asynchronous operations tied to a call and
// eventually resolves each with a [Completion]. Enqueue is non-blocking;
// done is invoked exactly once per accepted operation, asynchronously
// relative to the caller, on whatever goroutine drives the queue.
//
// Resolution order across different calls sharing a queue is unspecified.
// [OpWrite] operations within one call resolve in the order enqueued.
type CompletionQueue interface {
	Enqueue(call CallHandle, op Operation, done func(Completion)) error
}

// Channel creates calls against a remote (or in-process) peer. A Channel is
// shared across arbitrarily many concurrent calls.
type Channel interface {
	// NewCall begins a call for the given full method name (e.g.
	// "/pkg.Service/Method"). A zero deadline means no deadline.
	NewCall(method string, deadline time.Time) (CallHandle, error)
}

// ReplyTarget is the transport handle a [Replier] forwards to: a single
// encoded response plus a terminal status.
type ReplyTarget interface {
	Reply(data []byte, st *status.Status) error
}

// WriteTarget is the transport handle a [Writer] forwards to: zero or more
// encoded responses, in order.
type WriteTarget interface {
	Write(data []byte) error
}

// StatusCallback receives a call's terminal status. It is invoked exactly
// once per call.
type StatusCallback func(st *status.Status)
