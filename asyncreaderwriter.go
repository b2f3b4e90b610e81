package rpcbridge

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	bigbuff "github.com/joeycumines/go-bigbuff"
	"github.com/joeycumines/logiface"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
)

// Async client call states.
const (
	callCreated int = iota
	callActive
	callTerminated
)

// AsyncReaderWriter drives an asynchronous bidirectional client call over a
// shared [CompletionQueue]. Writes are non-blocking: each Write enqueues the
// encoded message and returns; completion is observed asynchronously. The
// terminal status - normal completion, transport error, cancellation, or
// timeout expiry - is delivered to the status callback exactly once,
// regardless of how many completion events race.
//
// The channel and completion queue are borrowed, never owned; they may be
// shared across arbitrarily many concurrent calls. The call handle is
// exclusively owned by this driver.
//
// Inbound messages are pumped from the queue and published to subscribers
// (see [AsyncReaderWriter.Subscribe]) as raw encoded payloads; response
// decoding belongs to the application.
type AsyncReaderWriter struct {
	notifier  bigbuff.Notifier
	channel   Channel
	cq        CompletionQueue
	codec     Codec
	statusCb  StatusCallback
	logger    *logiface.Logger[logiface.Event]
	ctx       context.Context
	cancel    context.CancelFunc
	st        *status.Status
	call      CallHandle
	timer     *time.Timer
	done      chan struct{}
	method    string
	deadline  time.Time
	mu        sync.Mutex
	state     int
	closeSent atomic.Bool
}

// CallOption configures an [AsyncReaderWriter].
type CallOption interface {
	applyCallOption(*callOptions) error
}

type callOptions struct {
	codec   Codec
	logger  *logiface.Logger[logiface.Event]
	timeout time.Duration
}

type callOptionImpl struct {
	fn func(*callOptions) error
}

func (o *callOptionImpl) applyCallOption(opts *callOptions) error {
	return o.fn(opts)
}

// WithCallTimeout bounds the total call lifetime, starting from creation.
// Expiry terminates the call with [codes.DeadlineExceeded]. If not set, the
// call has no deadline.
func WithCallTimeout(timeout time.Duration) CallOption {
	return &callOptionImpl{fn: func(opts *callOptions) error {
		if timeout <= 0 {
			return fmt.Errorf("call timeout must be positive")
		}
		opts.timeout = timeout
		return nil
	}}
}

// WithCallCodec configures the [Codec] used to encode outbound messages.
// If not set, [ProtoCodec] with the global registry is used.
func WithCallCodec(codec Codec) CallOption {
	return &callOptionImpl{fn: func(opts *callOptions) error {
		if codec == nil {
			return fmt.Errorf("codec must not be nil")
		}
		opts.codec = codec
		return nil
	}}
}

// WithCallLogger configures an optional logger for call lifecycle events.
// A nil logger disables logging.
func WithCallLogger(logger *logiface.Logger[logiface.Event]) CallOption {
	return &callOptionImpl{fn: func(opts *callOptions) error {
		opts.logger = logger
		return nil
	}}
}

// NewAsyncReaderWriter creates a new async client call against the given
// channel and completion queue. The call transitions to active on first
// use ([AsyncReaderWriter.Write] or [AsyncReaderWriter.CloseWriting]);
// statusCb then fires exactly once when the call terminates.
func NewAsyncReaderWriter(ch Channel, method string, cq CompletionQueue, statusCb StatusCallback, opts ...CallOption) (*AsyncReaderWriter, error) {
	if ch == nil {
		return nil, fmt.Errorf("rpcbridge: channel must not be nil")
	}
	if method == "" {
		return nil, fmt.Errorf("rpcbridge: method must not be empty")
	}
	if cq == nil {
		return nil, fmt.Errorf("rpcbridge: completion queue must not be nil")
	}
	if statusCb == nil {
		return nil, fmt.Errorf("rpcbridge: status callback must not be nil")
	}

	cfg := &callOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyCallOption(cfg); err != nil {
			return nil, fmt.Errorf("rpcbridge: %w", err)
		}
	}
	if cfg.codec == nil {
		cfg.codec = ProtoCodec{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	x := &AsyncReaderWriter{
		channel:  ch,
		cq:       cq,
		codec:    cfg.codec,
		statusCb: statusCb,
		logger:   cfg.logger,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
		method:   method,
		state:    callCreated,
	}
	if cfg.timeout > 0 {
		// The timeout bounds the call lifetime from creation, not first use.
		x.deadline = time.Now().Add(cfg.timeout)
		x.timer = time.AfterFunc(cfg.timeout, x.onDeadline)
	}
	return x, nil
}

// Write encodes msg and enqueues it on the completion queue. It is
// non-blocking; a failed write completion terminates the call. Write on a
// terminated call fails with [KindInvalidState].
func (x *AsyncReaderWriter) Write(msg proto.Message) error {
	if isNil(msg) {
		return &Error{Kind: KindEncode, Method: x.method, Err: fmt.Errorf("nil message")}
	}
	call, err := x.ensureActive()
	if err != nil {
		return err
	}
	data, err := x.codec.Encode(msg.ProtoReflect().Descriptor().FullName(), msg)
	if err != nil {
		return err
	}
	if err := x.cq.Enqueue(call, Operation{Kind: OpWrite, Payload: data}, func(c Completion) {
		if c.Status != nil && c.Status.Code() != codes.OK {
			if x.terminate(c.Status) {
				call.Cancel()
			}
		}
	}); err != nil {
		x.terminate(status.New(codes.Unavailable, "completion queue unavailable"))
		return &Error{Kind: KindTransport, Method: x.method, Err: err}
	}
	return nil
}

// CloseWriting signals that no further writes will be issued on the call's
// outbound half. The call remains active until the completion queue reports
// its terminal status. CloseWriting is idempotent while the call is active;
// on a terminated call it fails with [KindInvalidState].
func (x *AsyncReaderWriter) CloseWriting() error {
	call, err := x.ensureActive()
	if err != nil {
		return err
	}
	if !x.closeSent.CompareAndSwap(false, true) {
		return nil
	}
	if err := x.cq.Enqueue(call, Operation{Kind: OpCloseSend}, func(c Completion) {
		if c.Status != nil && c.Status.Code() != codes.OK {
			if x.terminate(c.Status) {
				call.Cancel()
			}
		}
	}); err != nil {
		x.terminate(status.New(codes.Unavailable, "completion queue unavailable"))
		return &Error{Kind: KindTransport, Method: x.method, Err: err}
	}
	return nil
}

// Subscribe accepts any target that is a channel which can receive []byte
// values, and delivers each inbound response payload to it. The returned
// cancel func MUST be called, unless ctx is cancelled.
// WARNING: Sends to target are blocking, and callers must therefore always
// receive promptly.
func (x *AsyncReaderWriter) Subscribe(ctx context.Context, target any) context.CancelFunc {
	return x.notifier.SubscribeCancel(ctx, nil, target)
}

// Done returns a channel closed after the terminal status was delivered.
func (x *AsyncReaderWriter) Done() <-chan struct{} {
	return x.done
}

// Status returns the terminal status, or nil while the call has not
// terminated.
func (x *AsyncReaderWriter) Status() *status.Status {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.st
}

// Err returns the terminal status as an error, or nil if the call has not
// terminated or terminated OK.
func (x *AsyncReaderWriter) Err() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.st == nil {
		return nil
	}
	return x.st.Err()
}

// Cancel requests early termination of the call. The terminal status -
// [codes.Canceled], unless another resolution wins the race - is still
// delivered through the status callback.
func (x *AsyncReaderWriter) Cancel() {
	x.mu.Lock()
	call := x.call
	x.mu.Unlock()
	if x.terminate(status.New(codes.Canceled, "call cancelled")) && call != nil {
		call.Cancel()
	}
}

// ensureActive transitions Created -> Active on first use: it creates the
// call handle, registers the status-wait operation, and starts the inbound
// pump. Returns the call handle, or [KindInvalidState] once terminated.
func (x *AsyncReaderWriter) ensureActive() (CallHandle, error) {
	x.mu.Lock()
	switch x.state {
	case callTerminated:
		st := x.st
		x.mu.Unlock()
		return nil, &Error{Kind: KindInvalidState, Method: x.method,
			Err: fmt.Errorf("call terminated with %s", st.Code())}
	case callActive:
		call := x.call
		x.mu.Unlock()
		return call, nil
	}

	call, err := x.channel.NewCall(x.method, x.deadline)
	if err != nil {
		st, _ := status.FromError(err)
		x.state = callTerminated
		x.st = st
		timer := x.timer
		x.timer = nil
		x.mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		x.deliverTerminal(st)
		return nil, err
	}
	x.call = call
	x.state = callActive
	x.mu.Unlock()

	// Operations are enqueued outside the lock so a completion queue that
	// resolves synchronously cannot deadlock against terminate.
	if err := x.cq.Enqueue(call, Operation{Kind: OpRecvStatus}, func(c Completion) {
		st := c.Status
		if st == nil {
			st = status.New(codes.Unknown, "call terminated without status")
		}
		x.terminate(st)
	}); err != nil {
		x.terminate(status.New(codes.Unavailable, "completion queue unavailable"))
		return nil, &Error{Kind: KindTransport, Method: x.method, Err: err}
	}
	x.pumpRecv(call)
	return call, nil
}

// pumpRecv keeps one inbound-message operation outstanding, publishing each
// payload to subscribers. A non-OK resolution ends the pump; the terminal
// status arrives through the status-wait operation.
func (x *AsyncReaderWriter) pumpRecv(call CallHandle) {
	_ = x.cq.Enqueue(call, Operation{Kind: OpRecvMessage}, func(c Completion) {
		if c.Status == nil || c.Status.Code() != codes.OK || x.ctx.Err() != nil {
			return
		}
		x.notifier.PublishContext(x.ctx, nil, c.Payload)
		x.pumpRecv(call)
	})
}

// onDeadline fires when the call's lifetime bound expires.
func (x *AsyncReaderWriter) onDeadline() {
	x.mu.Lock()
	call := x.call
	x.mu.Unlock()
	if x.terminate(status.New(codes.DeadlineExceeded, "call deadline exceeded")) && call != nil {
		call.Cancel()
	}
}

// terminate transitions to Terminated and delivers the terminal status.
// First resolution wins; subsequent resolutions for the same call are
// suppressed. Reports whether this invocation won.
func (x *AsyncReaderWriter) terminate(st *status.Status) bool {
	x.mu.Lock()
	if x.state == callTerminated {
		x.mu.Unlock()
		return false
	}
	x.state = callTerminated
	x.st = st
	timer := x.timer
	x.timer = nil
	x.mu.Unlock()
	if timer != nil {
		timer.Stop()
	}
	x.deliverTerminal(st)
	return true
}

// deliverTerminal releases per-call resources and fires the status
// callback. Called exactly once, by whichever resolution won.
func (x *AsyncReaderWriter) deliverTerminal(st *status.Status) {
	x.cancel()
	x.logger.Debug().
		Str("method", x.method).
		Str("code", st.Code().String()).
		Log("async call terminated")
	x.statusCb(st)
	close(x.done)
}
