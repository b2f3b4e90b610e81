package rpcbridge

import (
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
)

// Codec converts between typed messages and their wire encoding, addressed
// by fully-qualified message name. Implementations must be safe for
// concurrent use.
type Codec interface {
	// Encode serializes msg, which must be of the named type.
	Encode(name protoreflect.FullName, msg proto.Message) ([]byte, error)

	// Decode deserializes data into a new message of the named type.
	Decode(name protoreflect.FullName, data []byte) (proto.Message, error)
}

// MessageTypeResolver resolves message types by fully-qualified name.
// It is implemented by [protoregistry.Types] and [protoregistry.GlobalTypes].
type MessageTypeResolver interface {
	FindMessageByName(name protoreflect.FullName) (protoreflect.MessageType, error)
}

// ProtoCodec is the default [Codec], backed by protobuf binary encoding.
// Message types are resolved through Resolver, or [protoregistry.GlobalTypes]
// when Resolver is nil. Decoded messages are instances of whatever Go type
// the resolver produces - generated types for linked-in messages, dynamic
// messages for descriptor-only registries.
type ProtoCodec struct {
	Resolver MessageTypeResolver
}

var _ Codec = ProtoCodec{}

func (c ProtoCodec) resolver() MessageTypeResolver {
	if c.Resolver != nil {
		return c.Resolver
	}
	return protoregistry.GlobalTypes
}

// Encode serializes msg. The message's descriptor must match name; a
// mismatch is reported as a [KindEncode] failure rather than silently
// encoding the wrong type.
func (c ProtoCodec) Encode(name protoreflect.FullName, msg proto.Message) ([]byte, error) {
	if isNil(msg) {
		return nil, &Error{Kind: KindEncode, Err: fmt.Errorf("nil message for %s", name)}
	}
	if got := msg.ProtoReflect().Descriptor().FullName(); got != name {
		return nil, &Error{Kind: KindEncode, Err: fmt.Errorf("message is %s, want %s", got, name)}
	}
	data, err := proto.Marshal(msg)
	if err != nil {
		return nil, &Error{Kind: KindEncode, Err: err}
	}
	return data, nil
}

// Decode deserializes data into a new message of the named type. An
// unknown name or malformed payload is reported as a [KindDecode] failure.
func (c ProtoCodec) Decode(name protoreflect.FullName, data []byte) (proto.Message, error) {
	mt, err := c.resolver().FindMessageByName(name)
	if err != nil {
		return nil, &Error{Kind: KindDecode, Err: fmt.Errorf("resolve %s: %w", name, err)}
	}
	msg := mt.New().Interface()
	if err := proto.Unmarshal(data, msg); err != nil {
		return nil, &Error{Kind: KindDecode, Err: fmt.Errorf("unmarshal %s: %w", name, err)}
	}
	return msg, nil
}
