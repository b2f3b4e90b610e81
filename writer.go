package rpcbridge

import (
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
)

// Writer emits the outbound messages of a server-streaming or
// bidirectional-streaming call. Each write is independently encoded and
// forwarded to the underlying [WriteTarget]; writes complete in the order
// issued, and there is no upper bound on message count.
//
// No explicit close is required: stream termination is signaled by the
// handler completing, which the transport layer observes.
//
// A Writer is exclusively owned by the call that created it and must not
// be used from more than one logical flow.
type Writer struct {
	target       WriteTarget
	codec        Codec
	responseType protoreflect.FullName
}

// ResponseType returns the bound response type name.
func (w *Writer) ResponseType() protoreflect.FullName {
	return w.responseType
}

// Write encodes msg as the bound response type and forwards it.
func (w *Writer) Write(msg proto.Message) error {
	data, err := w.codec.Encode(w.responseType, msg)
	if err != nil {
		return err
	}
	return w.target.Write(data)
}
