package inproc

import (
	"errors"

	rpcbridge "github.com/joeycumines/go-rpcbridge"
	"github.com/joeycumines/logiface"
)

// Loop is the interface required by inproc for event loop integration.
// It provides methods for submitting tasks to the event loop for execution,
// and is satisfied by [github.com/joeycumines/go-eventloop.Loop].
type Loop interface {
	// Submit submits a task to the external queue for execution on the loop.
	// Returns an error if the loop has been shut down.
	Submit(func()) error

	// SubmitInternal submits a task to the internal priority queue.
	// These tasks are processed before external tasks.
	// Returns an error if the loop has been shut down.
	SubmitInternal(func()) error
}

// transportOptions holds configuration for a [Transport] instance.
type transportOptions struct {
	loop     Loop
	registry *rpcbridge.Registry
	logger   *logiface.Logger[logiface.Event]
}

// Option configures a [Transport] instance. Options are applied during
// construction.
type Option interface {
	applyOption(*transportOptions) error
}

// optionImpl implements [Option] via a closure.
type optionImpl struct {
	fn func(*transportOptions) error
}

func (o *optionImpl) applyOption(opts *transportOptions) error {
	return o.fn(opts)
}

// WithLoop configures the event loop for the transport.
// The loop must not be nil.
func WithLoop(loop Loop) Option {
	return &optionImpl{fn: func(opts *transportOptions) error {
		if loop == nil {
			return errors.New("inproc: loop must not be nil")
		}
		opts.loop = loop
		return nil
	}}
}

// WithRegistry configures the service registry calls are dispatched into.
// The registry must not be nil.
func WithRegistry(registry *rpcbridge.Registry) Option {
	return &optionImpl{fn: func(opts *transportOptions) error {
		if registry == nil {
			return errors.New("inproc: registry must not be nil")
		}
		opts.registry = registry
		return nil
	}}
}

// WithLogger configures an optional logger for call lifecycle events.
// A nil logger disables logging.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return &optionImpl{fn: func(opts *transportOptions) error {
		opts.logger = logger
		return nil
	}}
}

// resolveOptions applies the given options to a default [transportOptions].
func resolveOptions(opts []Option) (*transportOptions, error) {
	cfg := &transportOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyOption(cfg); err != nil {
			return nil, err
		}
	}
	if cfg.loop == nil {
		return nil, errors.New("inproc: loop must be provided via WithLoop")
	}
	if cfg.registry == nil {
		return nil, errors.New("inproc: registry must be provided via WithRegistry")
	}
	return cfg, nil
}
