package protocol

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
)

// EncodeSSE frames an event as "event: <type>\ndata: <json>\n\n".
func EncodeSSE(e Event) ([]byte, error) {
	data, err := MarshalEvent(e)
	if err != nil {
		return nil, fmt.Errorf("encode %s event: %w", e.GetType(), err)
	}
	var buf bytes.Buffer
	buf.Grow(len(data) + 24)
	buf.WriteString("event: ")
	buf.WriteString(string(e.GetType()))
	buf.WriteString("\ndata: ")
	buf.Write(data)
	buf.WriteString("\n\n")
	return buf.Bytes(), nil
}

// SSEWriter is a Sink writing SSE frames, flushing after each one when the
// writer supports it.
type SSEWriter struct {
	mu      sync.Mutex
	w       io.Writer
	flusher http.Flusher
}

// NewSSEWriter wraps w.
func NewSSEWriter(w io.Writer) *SSEWriter {
	s := &SSEWriter{w: w}
	if f, ok := w.(http.Flusher); ok {
		s.flusher = f
	}
	return s
}

// Send implements Sink.
func (s *SSEWriter) Send(ctx context.Context, e Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	frame, err := EncodeSSE(e)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.w.Write(frame); err != nil {
		return fmt.Errorf("write sse frame: %w", err)
	}
	if s.flusher != nil {
		s.flusher.Flush()
	}
	return nil
}

// SSEReader decodes a stream written by SSEWriter.
type SSEReader struct {
	sc *bufio.Scanner
}

// NewSSEReader wraps r.
func NewSSEReader(r io.Reader) *SSEReader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	return &SSEReader{sc: sc}
}

// Next returns the next event, or io.EOF at the end of the stream.
func (r *SSEReader) Next() (Event, error) {
	var (
		kind EventType
		data []string
	)
	for r.sc.Scan() {
		line := r.sc.Text()
		switch {
		case line == "":
			if kind == "" && len(data) == 0 {
				continue
			}
			return DecodeEvent(kind, []byte(strings.Join(data, "\n")))
		case strings.HasPrefix(line, ":"):
			// comment / keep-alive
		case strings.HasPrefix(line, "event:"):
			kind = EventType(strings.TrimSpace(strings.TrimPrefix(line, "event:")))
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	if err := r.sc.Err(); err != nil {
		return nil, err
	}
	if kind != "" || len(data) > 0 {
		return DecodeEvent(kind, []byte(strings.Join(data, "\n")))
	}
	return nil, io.EOF
}

// ReadAllSSE decodes every event in r.
func ReadAllSSE(r io.Reader) ([]Event, error) {
	reader := NewSSEReader(r)
	var events []Event
	for {
		e, err := reader.Next()
		if err == io.EOF {
			return events, nil
		}
		if err != nil {
			return events, err
		}
		events = append(events, e)
	}
}
