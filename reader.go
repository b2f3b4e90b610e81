package rpcbridge

import (
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
)

// ReaderImpl consumes the inbound stream of a client-streaming or
// bidirectional-streaming call. Handlers return an implementation from
// [ClientStreamHandler] / [BidiStreamHandler]; the dispatcher wraps it in
// a [Reader] and hands that to the transport layer, which pumps inbound
// payloads into it.
//
// Exactly one of OnError or OnEnd is invoked, after which no further
// callbacks fire.
type ReaderImpl interface {
	// OnMessage receives the next decoded request message.
	OnMessage(msg proto.Message)

	// OnError is invoked when the stream terminates with an error.
	OnError(err error)

	// OnEnd is invoked when the stream terminates cleanly.
	OnEnd()
}

// Reader adapts a handler-supplied [ReaderImpl] into the transport-facing
// inbound half of a streaming call: a lazy, finite, non-restartable
// sequence of decoded request messages. It wraps the impl together with
// the method's request type.
//
// A Reader is exclusively owned by the call that created it and must not
// be used from more than one logical flow.
type Reader struct {
	impl        ReaderImpl
	codec       Codec
	requestType protoreflect.FullName
	ended       bool
}

// RequestType returns the bound request type name.
func (r *Reader) RequestType() protoreflect.FullName {
	return r.requestType
}

// Receive decodes one inbound payload and forwards it to the consumer.
//
// A decode failure is a per-item failure: it is returned to the pumper
// without reaching the consumer and without corrupting the stream's
// position - a subsequent valid payload is still delivered in order.
// Receive after the stream has ended fails with [KindInvalidState].
func (r *Reader) Receive(data []byte) error {
	if r.ended {
		return &Error{Kind: KindInvalidState, Err: fmt.Errorf("receive on ended stream")}
	}
	msg, err := r.codec.Decode(r.requestType, data)
	if err != nil {
		return err
	}
	r.impl.OnMessage(msg)
	return nil
}

// End terminates the sequence: with OnError(err) if err is non-nil, with
// OnEnd otherwise. End is idempotent; only the first call is delivered.
func (r *Reader) End(err error) {
	if r.ended {
		return
	}
	r.ended = true
	if err != nil {
		r.impl.OnError(err)
	} else {
		r.impl.OnEnd()
	}
}

// Ended reports whether the sequence has terminated.
func (r *Reader) Ended() bool {
	return r.ended
}
