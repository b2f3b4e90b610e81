package rpcbridge

import (
	"testing"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/dynamicpb"
)

// The tests run against a purely dynamic schema so they exercise the same
// descriptor-driven path a bridge embedding would: no generated Go types,
// message types resolved by name at runtime.
//
//	package bridge.test;
//
//	service Greeter {
//	  rpc SayHello (HelloRequest) returns (HelloResponse);
//	  rpc SayHelloStream (HelloRequest) returns (stream HelloResponse);
//	}
//	service RouteGuide {
//	  rpc RecordRoute (stream Point) returns (RouteSummary);
//	  rpc RouteChat (stream Point) returns (stream Point);
//	}
var testFile, testTypes = buildTestSchema()

func buildTestSchema() (protoreflect.FileDescriptor, *protoregistry.Types) {
	strField := func(name string, number int32) *descriptorpb.FieldDescriptorProto {
		return &descriptorpb.FieldDescriptorProto{
			Name:     proto.String(name),
			JsonName: proto.String(name),
			Number:   proto.Int32(number),
			Label:    descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
			Type:     descriptorpb.FieldDescriptorProto_TYPE_STRING.Enum(),
		}
	}
	intField := func(name string, number int32) *descriptorpb.FieldDescriptorProto {
		return &descriptorpb.FieldDescriptorProto{
			Name:     proto.String(name),
			JsonName: proto.String(name),
			Number:   proto.Int32(number),
			Label:    descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
			Type:     descriptorpb.FieldDescriptorProto_TYPE_INT32.Enum(),
		}
	}
	fdp := &descriptorpb.FileDescriptorProto{
		Name:    proto.String("bridge_test.proto"),
		Package: proto.String("bridge.test"),
		Syntax:  proto.String("proto3"),
		MessageType: []*descriptorpb.DescriptorProto{
			{
				Name:  proto.String("HelloRequest"),
				Field: []*descriptorpb.FieldDescriptorProto{strField("name", 1)},
			},
			{
				Name:  proto.String("HelloResponse"),
				Field: []*descriptorpb.FieldDescriptorProto{strField("message", 1)},
			},
			{
				Name:  proto.String("Point"),
				Field: []*descriptorpb.FieldDescriptorProto{intField("latitude", 1), intField("longitude", 2)},
			},
			{
				Name:  proto.String("RouteSummary"),
				Field: []*descriptorpb.FieldDescriptorProto{intField("point_count", 1)},
			},
		},
		Service: []*descriptorpb.ServiceDescriptorProto{
			{
				Name: proto.String("Greeter"),
				Method: []*descriptorpb.MethodDescriptorProto{
					{
						Name:       proto.String("SayHello"),
						InputType:  proto.String(".bridge.test.HelloRequest"),
						OutputType: proto.String(".bridge.test.HelloResponse"),
					},
					{
						Name:            proto.String("SayHelloStream"),
						InputType:       proto.String(".bridge.test.HelloRequest"),
						OutputType:      proto.String(".bridge.test.HelloResponse"),
						ServerStreaming: proto.Bool(true),
					},
				},
			},
			{
				Name: proto.String("RouteGuide"),
				Method: []*descriptorpb.MethodDescriptorProto{
					{
						Name:            proto.String("RecordRoute"),
						InputType:       proto.String(".bridge.test.Point"),
						OutputType:      proto.String(".bridge.test.RouteSummary"),
						ClientStreaming: proto.Bool(true),
					},
					{
						Name:            proto.String("RouteChat"),
						InputType:       proto.String(".bridge.test.Point"),
						OutputType:      proto.String(".bridge.test.Point"),
						ClientStreaming: proto.Bool(true),
						ServerStreaming: proto.Bool(true),
					},
				},
			},
		},
	}
	fd, err := protodesc.NewFile(fdp, nil)
	if err != nil {
		panic(err)
	}
	types := &protoregistry.Types{}
	msgs := fd.Messages()
	for i := 0; i < msgs.Len(); i++ {
		if err := types.RegisterMessage(dynamicpb.NewMessageType(msgs.Get(i))); err != nil {
			panic(err)
		}
	}
	return fd, types
}

// testCodec resolves through the dynamic test registry rather than the
// global one.
func testCodec() ProtoCodec {
	return ProtoCodec{Resolver: testTypes}
}

func newTestMessage(t *testing.T, name protoreflect.FullName) *dynamicpb.Message {
	t.Helper()
	mt, err := testTypes.FindMessageByName(name)
	if err != nil {
		t.Fatalf("FindMessageByName(%s): %v", name, err)
	}
	return mt.New().Interface().(*dynamicpb.Message)
}

func setStr(t *testing.T, msg *dynamicpb.Message, field, value string) {
	t.Helper()
	fd := msg.Descriptor().Fields().ByName(protoreflect.Name(field))
	if fd == nil {
		t.Fatalf("no field %q on %s", field, msg.Descriptor().FullName())
	}
	msg.Set(fd, protoreflect.ValueOfString(value))
}

func setInt(t *testing.T, msg *dynamicpb.Message, field string, value int32) {
	t.Helper()
	fd := msg.Descriptor().Fields().ByName(protoreflect.Name(field))
	if fd == nil {
		t.Fatalf("no field %q on %s", field, msg.Descriptor().FullName())
	}
	msg.Set(fd, protoreflect.ValueOfInt32(value))
}

func getStr(t *testing.T, msg proto.Message, field string) string {
	t.Helper()
	r := msg.ProtoReflect()
	fd := r.Descriptor().Fields().ByName(protoreflect.Name(field))
	if fd == nil {
		t.Fatalf("no field %q on %s", field, r.Descriptor().FullName())
	}
	return r.Get(fd).String()
}

func getInt(t *testing.T, msg proto.Message, field string) int32 {
	t.Helper()
	r := msg.ProtoReflect()
	fd := r.Descriptor().Fields().ByName(protoreflect.Name(field))
	if fd == nil {
		t.Fatalf("no field %q on %s", field, r.Descriptor().FullName())
	}
	return int32(r.Get(fd).Int())
}

func mustEncode(t *testing.T, name protoreflect.FullName, msg proto.Message) []byte {
	t.Helper()
	data, err := testCodec().Encode(name, msg)
	if err != nil {
		t.Fatalf("Encode(%s): %v", name, err)
	}
	return data
}

// helloRequest builds an encoded bridge.test.HelloRequest.
func helloRequest(t *testing.T, name string) []byte {
	t.Helper()
	msg := newTestMessage(t, "bridge.test.HelloRequest")
	setStr(t, msg, "name", name)
	return mustEncode(t, "bridge.test.HelloRequest", msg)
}

// point builds an encoded bridge.test.Point.
func point(t *testing.T, lat, lng int32) []byte {
	t.Helper()
	msg := newTestMessage(t, "bridge.test.Point")
	setInt(t, msg, "latitude", lat)
	setInt(t, msg, "longitude", lng)
	return mustEncode(t, "bridge.test.Point", msg)
}

// greeterService constructs the Greeter test service with the given
// handlers, using the dynamic test codec.
func greeterService(t *testing.T, handlers map[string]any) *Service {
	t.Helper()
	svc, err := NewServiceFromDescriptor(testFile.Services().ByName("Greeter"), handlers, WithCodec(testCodec()))
	if err != nil {
		t.Fatalf("NewServiceFromDescriptor: %v", err)
	}
	return svc
}

// routeGuideService constructs the RouteGuide test service with the given
// handlers, using the dynamic test codec.
func routeGuideService(t *testing.T, handlers map[string]any) *Service {
	t.Helper()
	svc, err := NewServiceFromDescriptor(testFile.Services().ByName("RouteGuide"), handlers, WithCodec(testCodec()))
	if err != nil {
		t.Fatalf("NewServiceFromDescriptor: %v", err)
	}
	return svc
}
