package shared

import (
	"bytes"
	"context"

	"github.com/looplj/reportflow/internal/pkg/httpclient"
	"github.com/looplj/reportflow/internal/pkg/streams"
)

var doneMarker = []byte("[DONE]")

// TextStream turns provider events into text chunks. extract returns the text carried by one
// event payload and whether it carried any. The [DONE] sentinel ends the stream, and every
// stream error goes through MapError.
func TextStream(
	ctx context.Context,
	provider string,
	events streams.Stream[*httpclient.StreamEvent],
	extract func(data []byte) (string, bool, error),
) streams.Stream[string] {
	done := false

	chunks := streams.FilterMap(events, func(event *httpclient.StreamEvent) (string, bool, error) {
		if done {
			return "", false, nil
		}

		data := bytes.TrimSpace(event.Data)
		if len(data) == 0 {
			return "", false, nil
		}

		if bytes.Equal(data, doneMarker) {
			done = true
			return "", false, nil
		}

		return extract(data)
	})

	return &mappedStream{Stream: chunks, ctx: ctx, provider: provider}
}

//nolint:containedctx // Bound to the request.
type mappedStream struct {
	streams.Stream[string]

	ctx      context.Context
	provider string
}

func (s *mappedStream) Next() bool {
	if s.ctx.Err() != nil {
		return false
	}

	return s.Stream.Next()
}

func (s *mappedStream) Err() error {
	if err := s.ctx.Err(); err != nil {
		return MapError(s.ctx, s.provider, err)
	}

	return MapError(s.ctx, s.provider, s.Stream.Err())
}
