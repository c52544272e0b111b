package assistant

import (
	"context"
	"io"
	"net/http"

	"github.com/finchat-io/finchat/internal/sse"
)

// Stream is the event sequence of a single chat request. It is single-pass
// and not restartable; a new request makes a new Stream. Events surface in
// the order the backend emitted them.
type Stream struct {
	ctx    context.Context
	body   io.ReadCloser
	frames *sse.Reader
	done   bool
	err    error
}

func newStream(ctx context.Context, resp *http.Response) *Stream {
	return &Stream{
		ctx:    ctx,
		body:   resp.Body,
		frames: sse.NewReader(resp.Body),
	}
}

// Next returns the next decoded event, or io.EOF once the stream is
// exhausted. After a terminal done or error event reading stops and the
// connection is released, even if the backend keeps writing. Cancelling
// the request context closes the connection and surfaces the context
// error; no event is delivered after that. Frames the decoder drops are
// skipped without surfacing.
func (s *Stream) Next() (Event, error) {
	if s.err != nil {
		return nil, s.err
	}
	if s.done {
		return nil, io.EOF
	}
	for {
		if err := s.ctx.Err(); err != nil {
			s.fail(err)
			return nil, err
		}
		frame, err := s.frames.Next()
		if err != nil {
			if err == io.EOF {
				s.done = true
				s.release()
				return nil, io.EOF
			}
			// A cancelled context surfaces through the body read as a
			// transport error; report the cancellation itself.
			if ctxErr := s.ctx.Err(); ctxErr != nil {
				err = ctxErr
			}
			s.fail(err)
			return nil, err
		}
		ev, ok := decodeFrame(frame)
		if !ok {
			continue
		}
		if IsTerminal(ev) {
			s.done = true
			s.release()
		}
		return ev, nil
	}
}

// Close releases the underlying connection. Safe to call repeatedly and
// after the stream is exhausted.
func (s *Stream) Close() error {
	s.done = true
	s.release()
	return nil
}

func (s *Stream) fail(err error) {
	s.err = err
	s.release()
}

func (s *Stream) release() {
	if s.body != nil {
		_ = s.body.Close()
		s.body = nil
	}
}
