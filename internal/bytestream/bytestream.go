// Package bytestream provides the callback-based payload stream core used
// by the in-process transport.
//
// All types in this package assume single-threaded access on the event loop
// goroutine. No mutexes or atomic operations are used. Thread safety is
// guaranteed by the event loop's single-threaded task execution model.
package bytestream

import "io"

// Stream is a FIFO stream of encoded message payloads flowing in one
// direction of a call. It buffers payloads when no receiver is waiting,
// and delivers them via one-shot callbacks when a receiver registers
// interest.
//
// All methods assume they run on the event loop goroutine.
type Stream struct {
	err    error
	waiter func(data []byte, err error)
	buf    [][]byte
	closed bool
}

// Send buffers or delivers a payload. Returns [io.EOF] if the stream is
// closed. An empty payload is valid (an empty message encodes to zero
// bytes).
//
// If a receiver is waiting (via [Stream.Recv]), the payload is delivered
// directly to the waiting callback without buffering.
func (s *Stream) Send(data []byte) error {
	if s.closed {
		return io.EOF
	}
	if s.waiter != nil {
		w := s.waiter
		s.waiter = nil
		w(data, nil)
		return nil
	}
	s.buf = append(s.buf, data)
	return nil
}

// Recv registers a one-shot callback for the next payload.
//
// Delivery priority:
//  1. If a payload is buffered, cb is invoked immediately with the oldest
//     buffered payload (FIFO order).
//  2. If the stream is closed and the buffer is drained, cb receives the
//     close error (or [io.EOF] for a clean close).
//  3. Otherwise, cb is saved and invoked when the next payload arrives
//     (via [Stream.Send]) or the stream closes (via [Stream.Close]).
//
// Panics if called while a previous waiter is still pending.
func (s *Stream) Recv(cb func(data []byte, err error)) {
	if len(s.buf) > 0 {
		data := s.buf[0]
		s.buf[0] = nil // release reference from backing array
		s.buf = s.buf[1:]
		if len(s.buf) == 0 {
			s.buf = nil // free backing array when fully drained
		}
		cb(data, nil)
		return
	}
	if s.closed {
		if s.err != nil {
			cb(nil, s.err)
		} else {
			cb(nil, io.EOF)
		}
		return
	}
	if s.waiter != nil {
		panic("bytestream: Recv called with existing waiter")
	}
	s.waiter = cb
}

// Close closes the stream with the given error. A nil error indicates a
// clean close (waiters receive [io.EOF]). A non-nil error is delivered to
// any pending waiter.
//
// Subsequent [Stream.Send] calls return [io.EOF]. Payloads already
// buffered remain available to [Stream.Recv].
//
// Close is idempotent - subsequent calls are no-ops.
func (s *Stream) Close(err error) {
	if s.closed {
		return
	}
	s.closed = true
	s.err = err
	if s.waiter != nil {
		w := s.waiter
		s.waiter = nil
		if err != nil {
			w(nil, err)
		} else {
			w(nil, io.EOF)
		}
	}
}

// Closed reports whether the stream has been closed.
func (s *Stream) Closed() bool {
	return s.closed
}

// Drained reports whether the stream is closed and its buffer is empty:
// every payload sent before close has been received.
func (s *Stream) Drained() bool {
	return s.closed && len(s.buf) == 0
}

// Err returns the error passed to [Stream.Close], or nil for a clean
// close. The result is only meaningful if [Stream.Closed] returns true.
func (s *Stream) Err() error {
	return s.err
}
