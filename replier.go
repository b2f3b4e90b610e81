package rpcbridge

import (
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
)

// Replier emits the single terminal response of a unary or client-streaming
// call. It wraps exactly one [ReplyTarget] and the call's response type.
//
// Exactly one send is expected per call. The replier itself does not count
// sends - the surrounding transport observes and rejects a second terminal
// reply - so sending more than once, or never, is an application-level
// contract violation.
//
// A Replier is exclusively owned by the call that created it and must not
// be used from more than one logical flow.
type Replier struct {
	target       ReplyTarget
	codec        Codec
	responseType protoreflect.FullName
}

// ResponseType returns the bound response type name.
func (r *Replier) ResponseType() protoreflect.FullName {
	return r.responseType
}

// Send encodes msg as the bound response type and forwards it, together
// with an OK terminal status, to the underlying reply target.
func (r *Replier) Send(msg proto.Message) error {
	data, err := r.codec.Encode(r.responseType, msg)
	if err != nil {
		return err
	}
	return r.target.Reply(data, status.New(codes.OK, ""))
}

// SendError forwards a non-OK terminal status with no response payload.
func (r *Replier) SendError(st *status.Status) error {
	if st == nil || st.Code() == codes.OK {
		return &Error{Kind: KindInvalidState, Err: fmt.Errorf("SendError requires a non-OK status")}
	}
	return r.target.Reply(nil, st)
}
