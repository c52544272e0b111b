package sse

import (
	"bufio"
	"io"
	"strings"
)

// Frame is a single parsed server-sent event: the name set by the most
// recent "event:" line and the raw payload of the "data:" line that
// followed it. Payload decoding is left to the caller.
type Frame struct {
	Event string
	Data  string
}

// Reader incrementally parses frames out of an event stream. It buffers
// raw bytes and splits on newlines, so chunk boundaries from the wire may
// fall anywhere, including inside a multi-byte UTF-8 sequence.
type Reader struct {
	r     *bufio.Reader
	event string
}

// NewReader returns a Reader that parses frames from r.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReader(r)}
}

// Next returns the next complete frame, or io.EOF when the stream ends.
// A frame requires an "event: <name>" line followed by a "data: <payload>"
// line; the name is consumed by the frame (one data line per event) and a
// blank line also clears it. Comment lines and any other fields are
// ignored. A trailing line the stream ended in the middle of is discarded,
// never surfaced as a frame.
func (r *Reader) Next() (Frame, error) {
	for {
		line, err := r.r.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				return Frame{}, io.EOF
			}
			return Frame{}, err
		}
		line = strings.TrimSuffix(line, "\n")
		line = strings.TrimSuffix(line, "\r")

		if line == "" {
			r.event = ""
			continue
		}
		if strings.HasPrefix(line, "event: ") {
			r.event = strings.TrimSpace(strings.TrimPrefix(line, "event: "))
			continue
		}
		if strings.HasPrefix(line, "data: ") && r.event != "" {
			frame := Frame{Event: r.event, Data: strings.TrimPrefix(line, "data: ")}
			r.event = ""
			return frame, nil
		}
	}
}
