package httpclient

import (
	"context"
	"io"
	"iter"

	"github.com/tmaxmax/go-sse"

	"github.com/looplj/reportflow/internal/pkg/streams"
)

// Image payloads arrive inline, so events can be large.
const maxEventSize = 32 * 1024 * 1024

// sseDecoder pulls events from a Server-Sent Events body. Not safe for concurrent use.
//
//nolint:containedctx // The stream is bound to the request context.
type sseDecoder struct {
	ctx     context.Context
	body    io.ReadCloser
	next    func() (sse.Event, error, bool)
	stop    func()
	current *StreamEvent
	err     error
	closed  bool
}

// NewSSEDecoder decodes body as an event stream. The context is checked before every event.
func NewSSEDecoder(ctx context.Context, body io.ReadCloser) streams.Stream[*StreamEvent] {
	next, stop := iter.Pull2(sse.Read(body, &sse.ReadConfig{MaxEventSize: maxEventSize}))

	return &sseDecoder{
		ctx:  ctx,
		body: body,
		next: next,
		stop: stop,
	}
}

func (s *sseDecoder) Next() bool {
	if s.err != nil || s.closed {
		return false
	}

	if err := s.ctx.Err(); err != nil {
		s.err = err
		_ = s.Close()

		return false
	}

	event, err, ok := s.next()
	if !ok {
		_ = s.Close()
		return false
	}

	if err != nil {
		// A read interrupted by cancellation reports the context error.
		if ctxErr := s.ctx.Err(); ctxErr != nil {
			err = ctxErr
		}

		s.err = err
		_ = s.Close()

		return false
	}

	s.current = &StreamEvent{
		LastEventID: event.LastEventID,
		Type:        event.Type,
		Data:        []byte(event.Data),
	}

	return true
}

func (s *sseDecoder) Current() *StreamEvent {
	return s.current
}

func (s *sseDecoder) Err() error {
	return s.err
}

func (s *sseDecoder) Close() error {
	if s.closed {
		return nil
	}

	s.closed = true
	s.stop()

	return s.body.Close()
}
