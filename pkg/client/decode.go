package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
)

// Body is a decoded JSON response object. Values stay raw until a caller asks
// for them, so metadata of any shape can be carried opaquely.
type Body map[string]json.RawMessage

// Has reports whether key is present and not JSON null.
func (b Body) Has(key string) bool {
	raw, ok := b[key]
	return ok && !isNull(raw)
}

// Decode unmarshals the value at key into v.
func (b Body) Decode(key string, v any) error {
	raw, ok := b[key]
	if !ok {
		return fmt.Errorf("field %q missing", key)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode field %q: %w", key, err)
	}
	return nil
}

// Int returns the numeric value at key.
func (b Body) Int(key string) (int, bool) {
	var n json.Number
	if raw, ok := b[key]; !ok || json.Unmarshal(raw, &n) != nil {
		return 0, false
	}
	i, err := n.Int64()
	if err != nil {
		f, ferr := n.Float64()
		if ferr != nil {
			return 0, false
		}
		return int(f), true
	}
	return int(i), true
}

// Str returns the string value at key.
func (b Body) Str(key string) (string, bool) {
	var s string
	if raw, ok := b[key]; !ok || json.Unmarshal(raw, &s) != nil {
		return "", false
	}
	return s, true
}

// Into unmarshals the whole body into v. Fields of the wrong type are
// errors.
func (b Body) Into(v any) error {
	raw, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("encode body: %w", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode body: %w", err)
	}
	return nil
}

// Map fully decodes the body into generic values.
func (b Body) Map() (map[string]any, error) {
	out := make(map[string]any, len(b))
	for k, raw := range b {
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("decode field %q: %w", k, err)
		}
		out[k] = v
	}
	return out, nil
}

// apiError is the `error` object of a failed response.
type apiError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Details json.RawMessage `json:"details"`
}

// Decode parses one response and classifies failures. A 2xx status is only a
// success when the body is a JSON object without an `error` member.
func Decode(status int, body []byte) (Body, error) {
	parsed, parseErr := parseBody(body)

	if kind := ClassifyStatus(status); kind != "" {
		return nil, statusError(kind, status, parsed)
	}

	if parseErr != nil {
		return nil, NewError(KindProtocol, 0, "undecodable response body", parseErr)
	}

	if embedded, ok := embeddedError(parsed); ok {
		kind := ClassifyCode(embedded.Code)
		ce := NewError(kind, embedded.Code, embedded.Message, nil)
		ce.Details = details(embedded.Details)
		return nil, ce
	}

	return parsed, nil
}

// statusError builds the error for a non-2xx status. An embedded 498/499 code
// wins over the outer status.
func statusError(kind ErrorKind, status int, parsed Body) *ClassifiedError {
	message := http.StatusText(status)
	if message == "" {
		message = fmt.Sprintf("unexpected status %d", status)
	}

	embedded, ok := embeddedError(parsed)
	if !ok {
		return NewError(kind, status, message, nil)
	}

	if embedded.Message != "" {
		message = embedded.Message
	}
	code := status
	if embedded.Code == 498 || embedded.Code == 499 {
		kind = KindAuthRequired
		code = embedded.Code
	}

	ce := NewError(kind, code, message, nil)
	ce.Details = details(embedded.Details)
	return ce
}

func parseBody(body []byte) (Body, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty body")
	}
	if trimmed[0] != '{' {
		return nil, fmt.Errorf("expected JSON object, got %q", preview(trimmed))
	}
	var b Body
	if err := json.Unmarshal(trimmed, &b); err != nil {
		return nil, fmt.Errorf("parse json: %w", err)
	}
	return b, nil
}

func embeddedError(b Body) (apiError, bool) {
	var e apiError
	raw, ok := b["error"]
	if !ok || isNull(raw) {
		return e, false
	}
	if err := json.Unmarshal(raw, &e); err != nil {
		// an `error` member that is not an object still means failure
		e.Message = string(raw)
	}
	return e, true
}

func details(raw json.RawMessage) []string {
	if len(raw) == 0 || isNull(raw) {
		return nil
	}
	var items []any
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		switch v := it.(type) {
		case string:
			if v != "" {
				out = append(out, v)
			}
		default:
			out = append(out, fmt.Sprint(v))
		}
	}
	return out
}

func isNull(raw json.RawMessage) bool {
	return string(bytes.TrimSpace(raw)) == "null"
}

func preview(b []byte) string {
	const limit = 64
	if len(b) > limit {
		return string(b[:limit]) + "..."
	}
	return string(b)
}
