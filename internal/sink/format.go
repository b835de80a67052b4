package sink

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"trafficlog/internal/message"
)

// JSONFormatter renders a message as one JSON object. JSON bodies are
// embedded as-is, anything else as a string.
type JSONFormatter struct{}

type jsonMessage struct {
	Origin      message.Origin      `json:"origin"`
	Type        string              `json:"type"`
	Correlation string              `json:"correlation"`
	Protocol    string              `json:"protocol,omitempty"`
	Remote      string              `json:"remote,omitempty"`
	Method      string              `json:"method,omitempty"`
	URI         string              `json:"uri,omitempty"`
	Status      int                 `json:"status,omitempty"`
	DurationMs  *int64              `json:"duration_ms,omitempty"`
	Headers     map[string][]string `json:"headers,omitempty"`
	Body        json.RawMessage     `json:"body,omitempty"`
}

func (JSONFormatter) Format(c Correlation, m *message.Snapshot) (string, error) {
	out := jsonMessage{
		Origin:      m.Origin(),
		Type:        m.Kind().String(),
		Correlation: c.ID,
		Protocol:    m.Protocol(),
	}
	if m.IsRequest() {
		out.Remote = m.Remote()
		out.Method = m.Method()
		out.URI = m.URI()
	} else {
		out.Status = m.Status()
		ms := c.Duration.Milliseconds()
		out.DurationMs = &ms
	}
	if m.Headers().Len() > 0 {
		out.Headers = m.Headers().Map()
	}
	if m.BodyLen() > 0 {
		body, err := jsonBody(m)
		if err != nil {
			return "", err
		}
		out.Body = body
	}

	b, err := json.Marshal(out)
	if err != nil {
		return "", fmt.Errorf("marshal %s: %w", m.Kind(), err)
	}
	return string(b), nil
}

func jsonBody(m *message.Snapshot) (json.RawMessage, error) {
	raw := m.Body()
	if isJSONMediaType(m.MediaType()) && json.Valid(raw) {
		return compact(raw)
	}
	b, err := json.Marshal(string(raw))
	if err != nil {
		return nil, err
	}
	return b, nil
}

func compact(raw []byte) (json.RawMessage, error) {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func isJSONMediaType(mt string) bool {
	return mt == "application/json" || strings.HasSuffix(mt, "+json")
}

// HTTPFormatter renders a message the way it looked on the wire.
type HTTPFormatter struct{}

func (HTTPFormatter) Format(c Correlation, m *message.Snapshot) (string, error) {
	var b strings.Builder
	if m.IsRequest() {
		fmt.Fprintf(&b, "Incoming Request: %s\n", c.ID)
		fmt.Fprintf(&b, "Remote: %s\n", m.Remote())
		fmt.Fprintf(&b, "%s %s %s\n", m.Method(), m.URI(), m.Protocol())
	} else {
		fmt.Fprintf(&b, "Outgoing Response: %s\n", c.ID)
		fmt.Fprintf(&b, "Duration: %d ms\n", c.Duration.Milliseconds())
		fmt.Fprintf(&b, "%s %d %s\n", m.Protocol(), m.Status(), http.StatusText(m.Status()))
	}
	h := m.Headers()
	for _, name := range h.Names() {
		for _, v := range h.Values(name) {
			fmt.Fprintf(&b, "%s: %s\n", name, v)
		}
	}
	if m.BodyLen() > 0 {
		b.WriteString("\n")
		b.Write(m.Body())
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

// ParseFormatter maps a configured formatter name to a Formatter.
func ParseFormatter(name string) (Formatter, error) {
	switch name {
	case "", "json":
		return JSONFormatter{}, nil
	case "http":
		return HTTPFormatter{}, nil
	default:
		return nil, fmt.Errorf("unknown formatter %q", name)
	}
}
