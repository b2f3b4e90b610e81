package inproc_test

import (
	"testing"

	rpcbridge "github.com/joeycumines/go-rpcbridge"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/dynamicpb"
)

// The integration tests run against a purely dynamic schema, mirroring a
// bridge embedding where message types are known only by name at runtime.
var testFile, testTypes = buildTestSchema()

func testCodec() rpcbridge.ProtoCodec {
	return rpcbridge.ProtoCodec{Resolver: testTypes}
}

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
		Name:    proto.String("inproc_test.proto"),
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

func newMsg(t testing.TB, name protoreflect.FullName) *dynamicpb.Message {
	t.Helper()
	mt, err := testTypes.FindMessageByName(name)
	if err != nil {
		t.Fatalf("FindMessageByName(%s): %v", name, err)
	}
	return mt.New().Interface().(*dynamicpb.Message)
}

func setStr(t testing.TB, msg *dynamicpb.Message, field, value string) {
	t.Helper()
	fd := msg.Descriptor().Fields().ByName(protoreflect.Name(field))
	if fd == nil {
		t.Fatalf("no field %q on %s", field, msg.Descriptor().FullName())
	}
	msg.Set(fd, protoreflect.ValueOfString(value))
}

func setInt(t testing.TB, msg *dynamicpb.Message, field string, value int32) {
	t.Helper()
	fd := msg.Descriptor().Fields().ByName(protoreflect.Name(field))
	if fd == nil {
		t.Fatalf("no field %q on %s", field, msg.Descriptor().FullName())
	}
	msg.Set(fd, protoreflect.ValueOfInt32(value))
}

func getStr(t testing.TB, msg proto.Message, field string) string {
	t.Helper()
	r := msg.ProtoReflect()
	fd := r.Descriptor().Fields().ByName(protoreflect.Name(field))
	if fd == nil {
		t.Fatalf("no field %q on %s", field, r.Descriptor().FullName())
	}
	return r.Get(fd).String()
}

func getInt(t testing.TB, msg proto.Message, field string) int32 {
	t.Helper()
	r := msg.ProtoReflect()
	fd := r.Descriptor().Fields().ByName(protoreflect.Name(field))
	if fd == nil {
		t.Fatalf("no field %q on %s", field, r.Descriptor().FullName())
	}
	return int32(r.Get(fd).Int())
}

func helloRequest(t testing.TB, name string) *dynamicpb.Message {
	t.Helper()
	msg := newMsg(t, "bridge.test.HelloRequest")
	setStr(t, msg, "name", name)
	return msg
}

func routePoint(t testing.TB, lat, lng int32) *dynamicpb.Message {
	t.Helper()
	msg := newMsg(t, "bridge.test.Point")
	setInt(t, msg, "latitude", lat)
	setInt(t, msg, "longitude", lng)
	return msg
}
