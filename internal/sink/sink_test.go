package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trafficlog/internal/message"
)

type fakeWriter struct {
	active  bool
	err     error
	records []string
}

func (w *fakeWriter) Active() bool { return w.active }

func (w *fakeWriter) Write(_ Correlation, text string) error {
	w.records = append(w.records, text)
	return w.err
}

type fakeFormatter struct {
	calls []*message.Snapshot
	err   error
}

func (f *fakeFormatter) Format(_ Correlation, m *message.Snapshot) (string, error) {
	f.calls = append(f.calls, m)
	if f.err != nil {
		return "", f.err
	}
	return m.Kind().String(), nil
}

func exchange() (*message.Snapshot, *message.Snapshot) {
	req := message.NewRequest(message.Request{
		Remote:   "127.0.0.1",
		Method:   http.MethodGet,
		URI:      "http://localhost/api/async",
		Protocol: "HTTP/1.1",
		Headers:  message.NewHeaders(nil),
	}, []byte{})
	resp := message.NewResponse(message.Response{
		Protocol: "HTTP/1.1",
		Status:   http.StatusOK,
		Headers: message.NewHeaders(http.Header{
			"Content-Type": {"application/json;charset=UTF-8"},
		}),
	}, []byte("{\n  \"value\": \"Hello, world!\"\n}"))
	return req, resp
}

var corr = Correlation{ID: "c0ffee", Start: time.Unix(0, 0), Duration: 42 * time.Millisecond}

func TestDefaultSink_SingleRecord(t *testing.T) {
	f := &fakeFormatter{}
	w := &fakeWriter{active: true}
	s := NewDefault(f, w)

	req, resp := exchange()
	require.True(t, s.Active())
	require.NoError(t, s.Write(context.Background(), corr, req, resp))

	require.Len(t, f.calls, 2)
	assert.Same(t, req, f.calls[0])
	assert.Same(t, resp, f.calls[1])
	assert.Equal(t, []string{"request\nresponse"}, w.records)
}

func TestDefaultSink_GateFollowsWriter(t *testing.T) {
	s := NewDefault(&fakeFormatter{}, &fakeWriter{active: false})
	assert.False(t, s.Active())
}

func TestDefaultSink_Errors(t *testing.T) {
	req, resp := exchange()

	boom := errors.New("boom")
	err := NewDefault(&fakeFormatter{err: boom}, &fakeWriter{active: true}).
		Write(context.Background(), corr, req, resp)
	assert.ErrorIs(t, err, boom)

	w := &fakeWriter{active: true, err: boom}
	err = NewDefault(&fakeFormatter{}, w).Write(context.Background(), corr, req, resp)
	assert.ErrorIs(t, err, boom)
	assert.Len(t, w.records, 1)
}

func TestJSONFormatter(t *testing.T) {
	req, resp := exchange()

	text, err := JSONFormatter{}.Format(corr, req)
	require.NoError(t, err)
	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(text), &got))
	assert.Equal(t, "request", got["type"])
	assert.Equal(t, "remote", got["origin"])
	assert.Equal(t, "GET", got["method"])
	assert.Equal(t, "http://localhost/api/async", got["uri"])
	assert.Equal(t, "c0ffee", got["correlation"])
	assert.NotContains(t, got, "headers")
	assert.NotContains(t, got, "body")

	text, err = JSONFormatter{}.Format(corr, resp)
	require.NoError(t, err)
	got = nil
	require.NoError(t, json.Unmarshal([]byte(text), &got))
	assert.Equal(t, float64(200), got["status"])
	assert.Equal(t, float64(42), got["duration_ms"])
	assert.Equal(t, map[string]any{"value": "Hello, world!"}, got["body"])
	assert.Contains(t, text, `"body":{"value":"Hello, world!"}`)
}

func TestJSONFormatter_TextBody(t *testing.T) {
	m := message.NewResponse(message.Response{
		Status:  http.StatusOK,
		Headers: message.NewHeaders(http.Header{"Content-Type": {"text/plain"}}),
	}, []byte(`say "hi"`))

	text, err := JSONFormatter{}.Format(corr, m)
	require.NoError(t, err)
	assert.Contains(t, text, `"body":"say \"hi\""`)
}

func TestHTTPFormatter(t *testing.T) {
	req, resp := exchange()

	text, err := HTTPFormatter{}.Format(corr, req)
	require.NoError(t, err)
	assert.Equal(t, "Incoming Request: c0ffee\nRemote: 127.0.0.1\nGET http://localhost/api/async HTTP/1.1", text)

	text, err = HTTPFormatter{}.Format(corr, resp)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(text, "Outgoing Response: c0ffee\nDuration: 42 ms\nHTTP/1.1 200 OK\n"))
	assert.Contains(t, text, "Content-Type: application/json;charset=UTF-8\n\n{")
}

func TestParseFormatter(t *testing.T) {
	f, err := ParseFormatter("http")
	require.NoError(t, err)
	assert.IsType(t, HTTPFormatter{}, f)

	_, err = ParseFormatter("xml")
	assert.Error(t, err)
}

func TestLogWriter(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf).Level(zerolog.InfoLevel)

	debug := NewLogWriter(logger, zerolog.DebugLevel)
	assert.False(t, debug.Active())

	info := NewLogWriter(logger, zerolog.InfoLevel)
	require.True(t, info.Active())
	require.NoError(t, info.Write(corr, "record"))

	var got map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, "record", got["message"])
	assert.Equal(t, "c0ffee", got["correlation"])
	assert.Equal(t, "info", got["level"])

	assert.False(t, NewLogWriter(logger, zerolog.Disabled).Active())
}

func TestFileWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "traffic.log")
	w, err := NewFileWriter(FileOptions{Path: path, MaxSizeMB: 1})
	require.NoError(t, err)

	require.True(t, w.Active())
	require.NoError(t, w.Write(corr, "first"))
	require.NoError(t, w.Write(corr, "second"))
	require.NoError(t, w.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "first\nsecond\n", string(data))

	assert.False(t, w.Active())
	assert.Error(t, w.Write(corr, "late"))

	_, err = NewFileWriter(FileOptions{})
	assert.Error(t, err)
}

func TestStructuredSink(t *testing.T) {
	var buf bytes.Buffer
	s := NewStructured(zerolog.New(&buf), zerolog.InfoLevel)
	require.True(t, s.Active())

	req, resp := exchange()
	require.NoError(t, s.Write(context.Background(), corr, req, resp))

	var got struct {
		Correlation string `json:"correlation"`
		Request     struct {
			Method string `json:"method"`
			URI    string `json:"uri"`
		} `json:"request"`
		Response struct {
			Status  int                 `json:"status"`
			Headers map[string][]string `json:"headers"`
			Body    map[string]string   `json:"body"`
		} `json:"response"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, "c0ffee", got.Correlation)
	assert.Equal(t, "GET", got.Request.Method)
	assert.Equal(t, 200, got.Response.Status)
	assert.Equal(t, []string{"application/json;charset=UTF-8"}, got.Response.Headers["Content-Type"])
	assert.Equal(t, "Hello, world!", got.Response.Body["value"])

	quiet := NewStructured(zerolog.New(&buf).Level(zerolog.WarnLevel), zerolog.InfoLevel)
	assert.False(t, quiet.Active())
}
