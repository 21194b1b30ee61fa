package protocol

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const doneMarker = "[DONE]"

var (
	ErrStreamingUnsupported = errors.New("streaming unsupported")
	// ErrTruncated means the stream ended before the terminal marker.
	ErrTruncated = errors.New("stream ended before completion")
)

// Writer encodes events as server-sent events, one JSON object per data line.
type Writer struct {
	w       io.Writer
	flusher http.Flusher
}

func NewWriter(w http.ResponseWriter) (*Writer, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, ErrStreamingUnsupported
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &Writer{w: w, flusher: flusher}, nil
}

func (w *Writer) Emit(event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w.w, "data: %s\n\n", payload); err != nil {
		return err
	}
	w.flusher.Flush()
	return nil
}

// Close writes the terminal marker.
func (w *Writer) Close() error {
	if _, err := fmt.Fprintf(w.w, "data: %s\n\n", doneMarker); err != nil {
		return err
	}
	w.flusher.Flush()
	return nil
}

// Decode reads an event stream and calls fn for each event until the
// terminal marker or an error from fn. EOF before the marker is ErrTruncated.
func Decode(r io.Reader, fn func(Event) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == doneMarker {
			return nil
		}
		var event Event
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			return fmt.Errorf("decode event: %w", err)
		}
		if err := fn(event); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return ErrTruncated
}
