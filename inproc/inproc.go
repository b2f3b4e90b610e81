// Package inproc implements an in-process transport: an event-loop-driven
// [rpcbridge.Channel] and [rpcbridge.CompletionQueue] that dispatch calls
// directly into a [rpcbridge.Registry], with no sockets or serialization
// boundary beyond the encoded message payloads themselves.
//
// All call state lives on the event loop goroutine. Operations submitted via
// Enqueue become loop tasks, and their completion callbacks run on the loop;
// handlers are likewise invoked on the loop, so handler code that retains a
// [rpcbridge.Replier] or [rpcbridge.Writer] for later use must route its
// eventual sends back through the loop.
package inproc

import (
	"errors"
	"fmt"
	"time"

	rpcbridge "github.com/joeycumines/go-rpcbridge"
	"github.com/joeycumines/go-rpcbridge/internal/bytestream"
	"github.com/joeycumines/logiface"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Transport is an in-process call transport backed by an event loop and a
// service registry. It is safe for concurrent use; all per-call state is
// confined to the loop goroutine.
type Transport struct {
	loop     Loop
	registry *rpcbridge.Registry
	logger   *logiface.Logger[logiface.Event]
}

var (
	_ rpcbridge.Channel         = (*Transport)(nil)
	_ rpcbridge.CompletionQueue = (*Transport)(nil)
)

// New constructs a Transport. [WithLoop] and [WithRegistry] are required.
func New(opts ...Option) (*Transport, error) {
	cfg, err := resolveOptions(opts)
	if err != nil {
		return nil, err
	}
	return &Transport{
		loop:     cfg.loop,
		registry: cfg.registry,
		logger:   cfg.logger,
	}, nil
}

// NewCall begins a call for the given full method name. Method resolution
// and handler dispatch happen asynchronously on the loop; resolution
// failures surface as the call's terminal status, not as an error here.
//
// A zero deadline means no deadline. An already-expired deadline terminates
// the call with [codes.DeadlineExceeded] without dispatching.
func (t *Transport) NewCall(method string, deadline time.Time) (rpcbridge.CallHandle, error) {
	if method == "" {
		return nil, errors.New("inproc: method must not be empty")
	}
	c := &call{t: t, method: method}
	task := c.start
	if !deadline.IsZero() {
		d := time.Until(deadline)
		if d <= 0 {
			task = func() { c.finish(status.New(codes.DeadlineExceeded, "call deadline exceeded")) }
		} else {
			c.timer = time.AfterFunc(d, func() {
				_ = t.loop.Submit(func() {
					c.finish(status.New(codes.DeadlineExceeded, "call deadline exceeded"))
				})
			})
		}
	}
	if err := t.loop.Submit(task); err != nil {
		if c.timer != nil {
			c.timer.Stop()
		}
		return nil, fmt.Errorf("inproc: event loop unavailable: %w", err)
	}
	return c, nil
}

// Enqueue submits an operation as a loop task against a call previously
// created by this transport. The done callback runs on the loop goroutine.
func (t *Transport) Enqueue(h rpcbridge.CallHandle, op rpcbridge.Operation, done func(rpcbridge.Completion)) error {
	c, ok := h.(*call)
	if !ok || c.t != t {
		return fmt.Errorf("inproc: call handle %T does not belong to this transport", h)
	}
	if done == nil {
		return errors.New("inproc: completion callback must not be nil")
	}
	if err := t.loop.Submit(func() { c.process(op, done) }); err != nil {
		return fmt.Errorf("inproc: event loop unavailable: %w", err)
	}
	return nil
}

// statusOf converts a dispatch error into a terminal status, honoring
// GRPCStatus-aware errors such as [rpcbridge.Error].
func statusOf(err error) *status.Status {
	if st, ok := status.FromError(err); ok {
		return st
	}
	return status.New(codes.Unknown, err.Error())
}

// call is the loop-owned state machine for one in-process call. Every field
// is accessed exclusively from loop tasks, except t and method which are
// immutable after creation, and timer which is only stopped.
type call struct {
	t          *Transport
	timer      *time.Timer
	svc        *rpcbridge.Service
	reader     *rpcbridge.Reader
	stat       *status.Status
	pending    *status.Status
	statusDone func(rpcbridge.Completion)
	responses  bytestream.Stream
	method     string
	name       string
	info       rpcbridge.MethodInfo
	recvActive bool
	reqSeen    bool
	replied    bool
}

// Cancel requests early termination with [codes.Canceled]. If the call has
// already terminated the request is a no-op.
func (c *call) Cancel() {
	_ = c.t.loop.Submit(func() {
		c.finish(status.New(codes.Canceled, "call cancelled"))
	})
}

// start resolves the method and, for calls with an inbound request stream,
// dispatches the handler immediately. Unary and server-streaming calls defer
// dispatch until the request message arrives.
func (c *call) start() {
	if c.stat != nil {
		return
	}
	svc, name, err := c.t.registry.Resolve(c.method)
	if err != nil {
		c.finish(statusOf(err))
		return
	}
	info, ok := svc.Method(name)
	if !ok {
		c.finish(status.New(codes.Unimplemented, fmt.Sprintf("unknown method %s", c.method)))
		return
	}
	c.svc = svc
	c.name = name
	c.info = info
	if !info.ClientStreams {
		return
	}
	var reader *rpcbridge.Reader
	var derr error
	if info.ServerStreams {
		reader, derr = svc.CallBidiStreaming(name, writeTarget{c})
	} else {
		reader, derr = svc.CallClientStreaming(name, replyTarget{c})
	}
	if derr != nil {
		c.finish(statusOf(derr))
		return
	}
	c.reader = reader
}

// process handles one enqueued operation. Runs as a loop task; start has
// already run for this call because loop tasks execute in submission order.
func (c *call) process(op rpcbridge.Operation, done func(rpcbridge.Completion)) {
	switch op.Kind {
	case rpcbridge.OpRecvStatus:
		c.processRecvStatus(done)
		return
	case rpcbridge.OpRecvMessage:
		// Valid on a finished call: buffered responses drain first, then
		// the stream reports end via a non-OK completion. Completing with
		// the terminal status here would make an OK-terminated call look
		// like an endless supply of empty messages.
		c.processRecv(done)
		return
	}
	if c.stat != nil {
		done(rpcbridge.Completion{Status: c.stat})
		return
	}
	switch op.Kind {
	case rpcbridge.OpWrite:
		c.processWrite(op.Payload, done)
	case rpcbridge.OpCloseSend:
		c.processCloseSend(done)
	default:
		done(rpcbridge.Completion{Status: status.New(codes.Internal, fmt.Sprintf("unsupported operation %v", op.Kind))})
	}
}

func (c *call) processWrite(payload []byte, done func(rpcbridge.Completion)) {
	if c.info.ClientStreams {
		if c.reader == nil || c.reader.Ended() {
			done(rpcbridge.Completion{Status: status.New(codes.FailedPrecondition, "request stream closed")})
			return
		}
		if err := c.reader.Receive(payload); err != nil {
			st := statusOf(err)
			done(rpcbridge.Completion{Status: st})
			c.finish(st)
			return
		}
		done(rpcbridge.Completion{Status: status.New(codes.OK, "")})
		c.maybeFinish()
		return
	}

	// Non-streaming request half: the first write IS the request message,
	// and it triggers dispatch.
	if c.reqSeen {
		st := status.New(codes.Internal, "multiple request messages on non-streaming call")
		done(rpcbridge.Completion{Status: st})
		c.finish(st)
		return
	}
	c.reqSeen = true
	var derr error
	if c.info.ServerStreams {
		derr = c.svc.CallServerStreaming(c.name, payload, writeTarget{c})
		if derr == nil {
			// The handler ran to completion; its writes are buffered.
			c.serverComplete(status.New(codes.OK, ""))
		}
	} else {
		derr = c.svc.CallUnary(c.name, payload, replyTarget{c})
	}
	if derr != nil {
		st := statusOf(derr)
		done(rpcbridge.Completion{Status: st})
		c.finish(st)
		return
	}
	done(rpcbridge.Completion{Status: status.New(codes.OK, "")})
	c.maybeFinish()
}

func (c *call) processCloseSend(done func(rpcbridge.Completion)) {
	if c.info.ClientStreams {
		if c.reader != nil && !c.reader.Ended() {
			c.reader.End(nil)
		}
		if c.info.ServerStreams {
			// Bidi: the outbound half ends once the reader has observed
			// end-of-stream. Client-streaming calls instead complete via
			// the handler's terminal reply.
			c.serverComplete(status.New(codes.OK, ""))
		}
		done(rpcbridge.Completion{Status: status.New(codes.OK, "")})
		c.maybeFinish()
		return
	}
	if !c.reqSeen {
		st := status.New(codes.InvalidArgument, "missing request message")
		done(rpcbridge.Completion{Status: st})
		c.finish(st)
		return
	}
	done(rpcbridge.Completion{Status: status.New(codes.OK, "")})
}

func (c *call) processRecv(done func(rpcbridge.Completion)) {
	if c.recvActive {
		done(rpcbridge.Completion{Status: status.New(codes.Internal, "concurrent receive on call")})
		return
	}
	c.recvActive = true
	c.responses.Recv(func(data []byte, err error) {
		c.recvActive = false
		if err != nil {
			done(rpcbridge.Completion{Status: status.New(codes.OutOfRange, "end of response stream")})
		} else {
			done(rpcbridge.Completion{Status: status.New(codes.OK, ""), Payload: data})
		}
		c.maybeFinish()
	})
}

func (c *call) processRecvStatus(done func(rpcbridge.Completion)) {
	if c.stat != nil {
		done(rpcbridge.Completion{Status: c.stat})
		return
	}
	if c.statusDone != nil {
		done(rpcbridge.Completion{Status: status.New(codes.Internal, "duplicate status wait on call")})
		return
	}
	c.statusDone = done
}

// serverComplete records the server side's terminal status and closes the
// response stream. The call itself finishes once every buffered response
// has been received (see maybeFinish). First status wins.
func (c *call) serverComplete(st *status.Status) {
	if c.stat != nil || c.pending != nil {
		return
	}
	c.pending = st
	c.responses.Close(nil)
	c.maybeFinish()
}

// maybeFinish finishes the call with the server's terminal status once the
// response stream has fully drained, so buffered responses are never lost
// behind the status.
func (c *call) maybeFinish() {
	if c.stat == nil && c.pending != nil && c.responses.Drained() {
		c.finish(c.pending)
	}
}

// finish resolves the call's terminal status. First resolution wins; it
// stops the deadline timer, ends the request stream, closes the response
// stream, and fires the pending status wait if any.
func (c *call) finish(st *status.Status) {
	if c.stat != nil {
		return
	}
	c.stat = st
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if c.reader != nil && !c.reader.Ended() {
		c.reader.End(st.Err())
	}
	c.responses.Close(st.Err())
	if done := c.statusDone; done != nil {
		c.statusDone = nil
		done(rpcbridge.Completion{Status: st})
	}
	c.t.logger.Debug().
		Str("method", c.method).
		Str("code", st.Code().String()).
		Log("call finished")
}

// replyTarget adapts a call into the [rpcbridge.ReplyTarget] bound to its
// [rpcbridge.Replier]. It enforces the single-terminal-reply contract.
type replyTarget struct{ c *call }

func (t replyTarget) Reply(data []byte, st *status.Status) error {
	c := t.c
	if c.stat != nil {
		return &rpcbridge.Error{Kind: rpcbridge.KindInvalidState, Method: c.method,
			Err: errors.New("reply on terminated call")}
	}
	if c.replied {
		return &rpcbridge.Error{Kind: rpcbridge.KindInvalidState, Method: c.method,
			Err: errors.New("terminal reply already sent")}
	}
	c.replied = true
	if st == nil {
		st = status.New(codes.OK, "")
	}
	if st.Code() == codes.OK {
		_ = c.responses.Send(data)
	}
	c.serverComplete(st)
	return nil
}

// writeTarget adapts a call into the [rpcbridge.WriteTarget] bound to its
// [rpcbridge.Writer]. Writes buffer until the client receives them.
type writeTarget struct{ c *call }

func (t writeTarget) Write(data []byte) error {
	c := t.c
	if c.stat != nil {
		return &rpcbridge.Error{Kind: rpcbridge.KindInvalidState, Method: c.method,
			Err: errors.New("write on terminated call")}
	}
	if err := c.responses.Send(data); err != nil {
		return &rpcbridge.Error{Kind: rpcbridge.KindInvalidState, Method: c.method,
			Err: errors.New("write after outbound stream completed")}
	}
	return nil
}
