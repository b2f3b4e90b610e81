package rpcbridge

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// The four dispatch entry points resolve a bare method name to a handler
// plus the calling-convention-appropriate adapter(s), then invoke the
// handler. All failures (unknown method, missing handler, initial request
// decode) are reported synchronously; translating them into wire-level
// statuses is the transport layer's responsibility.

// CallUnary dispatches a unary call: decodes reqData as the method's
// request type, binds a [Replier] to target, and invokes the handler.
// The handler is expected to eventually emit exactly one response through
// the replier; the dispatcher does not verify this.
func (s *Service) CallUnary(method string, reqData []byte, target ReplyTarget) error {
	info, h, err := s.resolve(method)
	if err != nil {
		return s.dispatchErr(method, err)
	}
	uh, ok := h.(UnaryHandler)
	if !ok {
		return s.dispatchErr(method, &Error{Kind: KindNoHandler, Method: s.name + "/" + method,
			Err: fmt.Errorf("handler type %T does not support unary calls", h)})
	}
	req, err := s.codec.Decode(info.RequestType, reqData)
	if err != nil {
		return s.dispatchErr(method, err)
	}
	uh(req, &Replier{target: target, codec: s.codec, responseType: info.ResponseType})
	return nil
}

// CallServerStreaming dispatches a server-streaming call: decodes reqData as
// the method's request type, binds a [Writer] to target, and invokes the
// handler. The handler may emit zero or more responses.
func (s *Service) CallServerStreaming(method string, reqData []byte, target WriteTarget) error {
	info, h, err := s.resolve(method)
	if err != nil {
		return s.dispatchErr(method, err)
	}
	sh, ok := h.(ServerStreamHandler)
	if !ok {
		return s.dispatchErr(method, &Error{Kind: KindNoHandler, Method: s.name + "/" + method,
			Err: fmt.Errorf("handler type %T does not support server-streaming calls", h)})
	}
	req, err := s.codec.Decode(info.RequestType, reqData)
	if err != nil {
		return s.dispatchErr(method, err)
	}
	sh(req, &Writer{target: target, codec: s.codec, responseType: info.ResponseType})
	return nil
}

// CallClientStreaming dispatches a client-streaming call. There is no
// initial request; the handler receives the [Replier] for its single
// terminal response and returns the [ReaderImpl] that will consume the
// inbound stream. The returned [Reader] decodes each inbound payload the
// transport pumps into it.
func (s *Service) CallClientStreaming(method string, target ReplyTarget) (*Reader, error) {
	info, h, err := s.resolve(method)
	if err != nil {
		return nil, s.dispatchErr(method, err)
	}
	ch, ok := h.(ClientStreamHandler)
	if !ok {
		return nil, s.dispatchErr(method, &Error{Kind: KindNoHandler, Method: s.name + "/" + method,
			Err: fmt.Errorf("handler type %T does not support client-streaming calls", h)})
	}
	impl := ch(&Replier{target: target, codec: s.codec, responseType: info.ResponseType})
	if impl == nil {
		return nil, s.dispatchErr(method, &Error{Kind: KindInvalidState, Method: s.name + "/" + method,
			Err: fmt.Errorf("handler returned nil reader")})
	}
	return &Reader{impl: impl, codec: s.codec, requestType: info.RequestType}, nil
}

// CallBidiStreaming dispatches a bidirectional-streaming call. The handler
// receives the [Writer] for the outbound stream and returns the
// [ReaderImpl] that will consume the inbound stream, wrapped into a
// [Reader] exactly as for [Service.CallClientStreaming].
func (s *Service) CallBidiStreaming(method string, target WriteTarget) (*Reader, error) {
	info, h, err := s.resolve(method)
	if err != nil {
		return nil, s.dispatchErr(method, err)
	}
	bh, ok := h.(BidiStreamHandler)
	if !ok {
		return nil, s.dispatchErr(method, &Error{Kind: KindNoHandler, Method: s.name + "/" + method,
			Err: fmt.Errorf("handler type %T does not support bidi-streaming calls", h)})
	}
	impl := bh(&Writer{target: target, codec: s.codec, responseType: info.ResponseType})
	if impl == nil {
		return nil, s.dispatchErr(method, &Error{Kind: KindInvalidState, Method: s.name + "/" + method,
			Err: fmt.Errorf("handler returned nil reader")})
	}
	return &Reader{impl: impl, codec: s.codec, requestType: info.RequestType}, nil
}

func (s *Service) dispatchErr(method string, err error) error {
	s.logger.Debug().
		Str("service", s.name).
		Str("method", method).
		Err(err).
		Log("dispatch failed")
	return err
}

// Registry accumulates services keyed by package-qualified name and
// dispatches calls addressed by full method name (e.g.
// "/pkg.Service/Method"). The zero value is ready to use.
//
// Register all services during setup, before dispatching calls.
type Registry struct {
	services map[string]*Service
	mu       sync.RWMutex
}

// Register adds a service. Panics if a service with the same name is
// already registered (duplicate registration is a programming error).
func (r *Registry) Register(svc *Service) {
	if svc == nil {
		panic("rpcbridge: service must not be nil")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.services == nil {
		r.services = make(map[string]*Service)
	}
	if _, ok := r.services[svc.Name()]; ok {
		panic(fmt.Sprintf("rpcbridge: service %q already registered", svc.Name()))
	}
	r.services[svc.Name()] = svc
}

// Lookup returns the named service, or nil if not registered.
func (r *Registry) Lookup(serviceName string) *Service {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.services[serviceName]
}

// ServiceNames returns the registered service names, sorted.
func (r *Registry) ServiceNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.services))
	for name := range r.services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve splits a full method name into the registered service and the
// bare method name. The leading slash is optional.
func (r *Registry) Resolve(fullMethod string) (*Service, string, error) {
	name := strings.TrimPrefix(fullMethod, "/")
	i := strings.LastIndex(name, "/")
	if i <= 0 || i == len(name)-1 {
		return nil, "", &Error{Kind: KindUnknownMethod, Method: fullMethod,
			Err: fmt.Errorf("malformed method name")}
	}
	svc := r.Lookup(name[:i])
	if svc == nil {
		return nil, "", &Error{Kind: KindUnknownMethod, Method: fullMethod,
			Err: fmt.Errorf("service %s not registered", name[:i])}
	}
	return svc, name[i+1:], nil
}

// CallUnary dispatches a unary call by full method name.
func (r *Registry) CallUnary(fullMethod string, reqData []byte, target ReplyTarget) error {
	svc, method, err := r.Resolve(fullMethod)
	if err != nil {
		return err
	}
	return svc.CallUnary(method, reqData, target)
}

// CallServerStreaming dispatches a server-streaming call by full method name.
func (r *Registry) CallServerStreaming(fullMethod string, reqData []byte, target WriteTarget) error {
	svc, method, err := r.Resolve(fullMethod)
	if err != nil {
		return err
	}
	return svc.CallServerStreaming(method, reqData, target)
}

// CallClientStreaming dispatches a client-streaming call by full method name.
func (r *Registry) CallClientStreaming(fullMethod string, target ReplyTarget) (*Reader, error) {
	svc, method, err := r.Resolve(fullMethod)
	if err != nil {
		return nil, err
	}
	return svc.CallClientStreaming(method, target)
}

// CallBidiStreaming dispatches a bidi-streaming call by full method name.
func (r *Registry) CallBidiStreaming(fullMethod string, target WriteTarget) (*Reader, error) {
	svc, method, err := r.Resolve(fullMethod)
	if err != nil {
		return nil, err
	}
	return svc.CallBidiStreaming(method, target)
}
