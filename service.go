package rpcbridge

import (
	"fmt"
	"sort"

	"github.com/joeycumines/logiface"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
)

// UnaryHandler handles a unary call: one decoded request, exactly one
// response emitted through the replier (cooperative contract, see [Replier]).
type UnaryHandler func(req proto.Message, replier *Replier)

// ServerStreamHandler handles a server-streaming call: one decoded request,
// zero or more responses emitted through the writer.
type ServerStreamHandler func(req proto.Message, w *Writer)

// ClientStreamHandler handles a client-streaming call. It receives the
// replier for the single terminal response and returns the [ReaderImpl]
// that will consume the inbound request stream. It must not return nil.
type ClientStreamHandler func(replier *Replier) ReaderImpl

// BidiStreamHandler handles a bidirectional-streaming call. It receives the
// writer for the outbound stream and returns the [ReaderImpl] that will
// consume the inbound request stream. It must not return nil.
type BidiStreamHandler func(w *Writer) ReaderImpl

// MethodDesc describes a single method of a [ServiceDesc].
type MethodDesc struct {
	MethodName    string
	RequestType   protoreflect.FullName
	ResponseType  protoreflect.FullName
	ClientStreams bool
	ServerStreams bool
}

// ServiceDesc describes a service: its package-qualified name and its
// methods. It is the string-level analogue of a proto service descriptor.
type ServiceDesc struct {
	ServiceName string
	Methods     []MethodDesc
}

// MethodInfo is the immutable per-method record derived from a service
// descriptor at construction time.
type MethodInfo struct {
	RequestType   protoreflect.FullName
	ResponseType  protoreflect.FullName
	ClientStreams bool
	ServerStreams bool
}

// Service maps method names onto handler functions and the type information
// needed to decode requests and encode responses. It is immutable once
// constructed and safe for concurrent use.
//
// The method-info map and the handler map are both keyed by bare method
// name and derived from the same descriptor. A method present in the
// descriptor but absent from the handler map is NOT a construction error:
// partial service implementations are a supported configuration, and the
// gap surfaces as a [KindNoHandler] dispatch failure only when the method
// is actually invoked.
type Service struct {
	logger   *logiface.Logger[logiface.Event]
	methods  map[string]MethodInfo
	handlers map[string]any
	codec    Codec
	name     string
}

// ServiceOption configures a [Service].
type ServiceOption interface {
	applyServiceOption(*serviceOptions) error
}

type serviceOptions struct {
	codec  Codec
	logger *logiface.Logger[logiface.Event]
}

type serviceOptionImpl struct {
	fn func(*serviceOptions) error
}

func (o *serviceOptionImpl) applyServiceOption(opts *serviceOptions) error {
	return o.fn(opts)
}

// WithCodec configures the [Codec] used to decode requests and encode
// responses. If not set, [ProtoCodec] with the global registry is used.
func WithCodec(codec Codec) ServiceOption {
	return &serviceOptionImpl{fn: func(opts *serviceOptions) error {
		if codec == nil {
			return fmt.Errorf("codec must not be nil")
		}
		opts.codec = codec
		return nil
	}}
}

// WithLogger configures an optional logger. Dispatch failures are logged at
// debug level. A nil logger disables logging.
func WithLogger(logger *logiface.Logger[logiface.Event]) ServiceOption {
	return &serviceOptionImpl{fn: func(opts *serviceOptions) error {
		opts.logger = logger
		return nil
	}}
}

// NewService constructs a Service from a descriptor and a handler map.
//
// Each non-nil handler must be one of [UnaryHandler], [ServerStreamHandler],
// [ClientStreamHandler], or [BidiStreamHandler], and must be registered
// under a method name present in the descriptor. Handlers may cover any
// subset of the descriptor's methods (see [Service]).
func NewService(desc *ServiceDesc, handlers map[string]any, opts ...ServiceOption) (*Service, error) {
	if desc == nil {
		return nil, fmt.Errorf("rpcbridge: service descriptor must not be nil")
	}
	if desc.ServiceName == "" {
		return nil, fmt.Errorf("rpcbridge: service name must not be empty")
	}

	cfg, err := resolveServiceOptions(opts)
	if err != nil {
		return nil, err
	}

	methods := make(map[string]MethodInfo, len(desc.Methods))
	for i := range desc.Methods {
		md := &desc.Methods[i]
		if md.MethodName == "" || md.RequestType == "" || md.ResponseType == "" {
			return nil, fmt.Errorf("rpcbridge: service %s: incomplete method descriptor %q", desc.ServiceName, md.MethodName)
		}
		if _, ok := methods[md.MethodName]; ok {
			return nil, fmt.Errorf("rpcbridge: service %s: duplicate method %q", desc.ServiceName, md.MethodName)
		}
		methods[md.MethodName] = MethodInfo{
			RequestType:   md.RequestType,
			ResponseType:  md.ResponseType,
			ClientStreams: md.ClientStreams,
			ServerStreams: md.ServerStreams,
		}
	}

	hm := make(map[string]any, len(handlers))
	for name, h := range handlers {
		if h == nil {
			continue
		}
		if _, ok := methods[name]; !ok {
			return nil, fmt.Errorf("rpcbridge: service %s: handler for unknown method %q", desc.ServiceName, name)
		}
		switch h.(type) {
		case UnaryHandler, ServerStreamHandler, ClientStreamHandler, BidiStreamHandler:
		default:
			return nil, fmt.Errorf("rpcbridge: service %s: method %q: unsupported handler type %T", desc.ServiceName, name, h)
		}
		hm[name] = h
	}

	return &Service{
		name:     desc.ServiceName,
		methods:  methods,
		handlers: hm,
		codec:    cfg.codec,
		logger:   cfg.logger,
	}, nil
}

// NewServiceFromDescriptor constructs a Service from a proto service
// descriptor, deriving each method's request and response type names from
// the descriptor's declared input and output types.
func NewServiceFromDescriptor(sd protoreflect.ServiceDescriptor, handlers map[string]any, opts ...ServiceOption) (*Service, error) {
	if sd == nil {
		return nil, fmt.Errorf("rpcbridge: service descriptor must not be nil")
	}
	desc := ServiceDesc{ServiceName: string(sd.FullName())}
	mds := sd.Methods()
	desc.Methods = make([]MethodDesc, 0, mds.Len())
	for i := 0; i < mds.Len(); i++ {
		md := mds.Get(i)
		desc.Methods = append(desc.Methods, MethodDesc{
			MethodName:    string(md.Name()),
			RequestType:   md.Input().FullName(),
			ResponseType:  md.Output().FullName(),
			ClientStreams: md.IsStreamingClient(),
			ServerStreams: md.IsStreamingServer(),
		})
	}
	return NewService(&desc, handlers, opts...)
}

func resolveServiceOptions(opts []ServiceOption) (*serviceOptions, error) {
	cfg := &serviceOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyServiceOption(cfg); err != nil {
			return nil, fmt.Errorf("rpcbridge: %w", err)
		}
	}
	if cfg.codec == nil {
		cfg.codec = ProtoCodec{}
	}
	return cfg, nil
}

// Name returns the package-qualified service name.
func (s *Service) Name() string {
	return s.name
}

// Method returns the method info for the given bare method name.
func (s *Service) Method(name string) (MethodInfo, bool) {
	info, ok := s.methods[name]
	return info, ok
}

// MethodNames returns the descriptor's method names, sorted.
func (s *Service) MethodNames() []string {
	names := make([]string, 0, len(s.methods))
	for name := range s.methods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// resolve performs the two map lookups common to all dispatch entry points.
func (s *Service) resolve(method string) (MethodInfo, any, error) {
	info, ok := s.methods[method]
	if !ok {
		return MethodInfo{}, nil, &Error{Kind: KindUnknownMethod, Method: s.name + "/" + method}
	}
	h, ok := s.handlers[method]
	if !ok {
		return MethodInfo{}, nil, &Error{Kind: KindNoHandler, Method: s.name + "/" + method}
	}
	return info, h, nil
}
