package protocol

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

type noFlushWriter struct {
	header http.Header
}

func (w *noFlushWriter) Header() http.Header {
	if w.header == nil {
		w.header = http.Header{}
	}
	return w.header
}

func (w *noFlushWriter) WriteHeader(status int) {}

func (w *noFlushWriter) Write(data []byte) (int, error) {
	return len(data), nil
}

func TestWriter_EmitAndClose(t *testing.T) {
	rec := httptest.NewRecorder()
	writer, err := NewWriter(rec)
	require.NoError(t, err)

	require.NoError(t, writer.Emit(Event{Type: EventStart, MessageID: "m-1"}))
	require.NoError(t, writer.Emit(Event{Type: EventTextDelta, Delta: "Par"}))
	require.NoError(t, writer.Close())

	require.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	require.Equal(t,
		"data: {\"type\":\"start\",\"messageId\":\"m-1\"}\n\n"+
			"data: {\"type\":\"text-delta\",\"delta\":\"Par\"}\n\n"+
			"data: [DONE]\n\n",
		rec.Body.String())
	require.True(t, rec.Flushed)
}

func TestNewWriter_RequiresFlusher(t *testing.T) {
	_, err := NewWriter(&noFlushWriter{})
	require.ErrorIs(t, err, ErrStreamingUnsupported)
}

func TestDecode_RoundTripsWriterOutput(t *testing.T) {
	rec := httptest.NewRecorder()
	writer, err := NewWriter(rec)
	require.NoError(t, err)
	sent := []Event{
		{Type: EventStart, MessageID: "m-1"},
		{Type: EventToolCallStart, ToolCallID: "c-1", ToolName: "webSearch", Input: map[string]any{"query": "paris"}},
		{Type: EventToolCallResult, ToolCallID: "c-1", Output: []Document{{Title: "A", URL: "https://a", Content: "x"}}},
		{Type: EventStreamEnd, FinishReason: "stop"},
	}
	for _, event := range sent {
		require.NoError(t, writer.Emit(event))
	}
	require.NoError(t, writer.Close())
	trailing := rec.Body.String() + "data: {\"type\":\"text-delta\",\"delta\":\"after done\"}\n\n"

	got := []Event{}
	require.NoError(t, Decode(strings.NewReader(trailing), func(event Event) error {
		got = append(got, event)
		return nil
	}))
	require.Equal(t, sent, got)
}

func TestDecode_SkipsCommentsAndStopsOnCallbackError(t *testing.T) {
	input := ": keep-alive\n\ndata: {\"type\":\"text-delta\",\"delta\":\"a\"}\n\ndata: {\"type\":\"text-delta\",\"delta\":\"b\"}\n\n"
	stop := errors.New("stop")
	count := 0
	err := Decode(strings.NewReader(input), func(event Event) error {
		count++
		return stop
	})
	require.ErrorIs(t, err, stop)
	require.Equal(t, 1, count)
}

func TestDecode_EOFWithoutDoneIsTruncated(t *testing.T) {
	input := "data: {\"type\":\"start\",\"messageId\":\"m-1\"}\n\ndata: {\"type\":\"text-delta\",\"delta\":\"Paris is the\"}\n\n"
	got := []Event{}
	err := Decode(strings.NewReader(input), func(event Event) error {
		got = append(got, event)
		return nil
	})
	require.ErrorIs(t, err, ErrTruncated)
	require.Len(t, got, 2)
	require.Equal(t, "Paris is the", got[1].Delta)
}

func TestEvent_ToolResultAlwaysCarriesOutput(t *testing.T) {
	payload, err := json.Marshal(Event{Type: EventToolCallResult, ToolCallID: "c-1", ToolName: "webSearch"})
	require.NoError(t, err)
	require.JSONEq(t, `{"type":"tool-call-result","toolCallId":"c-1","toolName":"webSearch","output":[]}`, string(payload))

	payload, err = json.Marshal(Event{Type: EventTextDelta, Delta: "a"})
	require.NoError(t, err)
	require.JSONEq(t, `{"type":"text-delta","delta":"a"}`, string(payload))
}

func TestDecode_InvalidJSON(t *testing.T) {
	err := Decode(strings.NewReader("data: {nope\n\n"), func(Event) error { return nil })
	require.ErrorContains(t, err, "decode event")
}

func TestUIMessage_Text(t *testing.T) {
	msg := UIMessage{Role: RoleUser, Parts: []Part{
		{Type: PartText, Text: "What is "},
		{Type: PartReasoning, Text: "ignored"},
		{Type: PartText, Text: "the capital of France?"},
	}}
	require.Equal(t, "What is the capital of France?", msg.Text())
}
