package workflow

import (
	"errors"
	"io"
	"iter"
	"sync"
)

const defaultReadSize = 4096

// StreamOption configures a Stream.
type StreamOption func(*Stream)

// WithReadSize sets the size of each read from the body.
func WithReadSize(n int) StreamOption {
	return func(s *Stream) {
		if n > 0 {
			s.buf = make([]byte, n)
		}
	}
}

// WithWarningHandler routes skipped frames to fn instead of the default logger.
func WithWarningHandler(fn func(*DecodeWarning)) StreamOption {
	return func(s *Stream) { s.dec = NewDecoder(fn) }
}

// Stream is a single-consumer, pull-based sequence of events read from a
// response body. Nothing is read until Next is called, and the body is
// closed exactly once: on Done, on end of data, on a read error or on Close.
//
// A Stream is not restartable.
type Stream struct {
	body    io.ReadCloser
	dec     *Decoder
	buf     []byte
	pending []Event

	// err is sticky once set; io.EOF after Done.
	err error

	closeOnce sync.Once
	closeErr  error
}

// NewStream wraps an already-opened body.
func NewStream(body io.ReadCloser, opts ...StreamOption) *Stream {
	s := &Stream{
		body: body,
		buf:  make([]byte, defaultReadSize),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.dec == nil {
		s.dec = NewDecoder(nil)
	}
	return s
}

// Next returns the next event. After the done frame it returns io.EOF. A body
// that ends without a done frame yields a *TransportError wrapping
// io.ErrUnexpectedEOF; a read failure yields a *TransportError wrapping the
// cause. Events already returned stay valid either way.
func (s *Stream) Next() (Event, error) {
	for len(s.pending) == 0 {
		if s.err != nil {
			return Event{}, s.err
		}
		s.fill()
	}

	ev := s.pending[0]
	s.pending = s.pending[1:]
	if ev.Terminal() {
		// Anything after done is ignored, including a missing transport close.
		s.pending = nil
		s.err = io.EOF
		s.release()
	}
	return ev, nil
}

// fill performs one read and decodes it.
func (s *Stream) fill() {
	n, err := s.body.Read(s.buf)
	if n > 0 {
		s.pending = append(s.pending, s.dec.Feed(s.buf[:n])...)
	}
	switch {
	case err == nil:
	case errors.Is(err, io.EOF):
		s.dec.Finish()
		s.fail(&TransportError{Op: "read stream", Err: io.ErrUnexpectedEOF})
	default:
		s.dec.Finish()
		s.fail(&TransportError{Op: "read stream", Err: err})
	}
}

// fail records the terminal error and releases the body. Events decoded from
// the final chunk are still delivered before the error.
func (s *Stream) fail(err error) {
	if s.err == nil {
		s.err = err
	}
	s.release()
}

func (s *Stream) release() {
	s.closeOnce.Do(func() {
		s.closeErr = s.body.Close()
	})
}

// All returns the remaining events as a range-over-func sequence. The
// iteration stops at the first error, which is yielded once; io.EOF after
// Done is not yielded. Breaking out early closes the stream.
func (s *Stream) All() iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		defer s.Close()
		for {
			ev, err := s.Next()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(Event{}, err)
				return
			}
			if !yield(ev, nil) {
				return
			}
		}
	}
}

// Close releases the body. It is safe to call more than once; later calls
// return the first result. A closed stream returns io.ErrClosedPipe from Next
// unless it had already ended.
func (s *Stream) Close() error {
	if s.err == nil {
		s.err = io.ErrClosedPipe
	}
	s.pending = nil
	s.release()
	return s.closeErr
}
