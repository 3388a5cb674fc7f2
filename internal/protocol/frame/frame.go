// Package frame splits raw inbound socket payloads into JSON object values.
//
// Accepted shapes:
// - one JSON object
// - several JSON values separated by newlines (or simply concatenated)
// - a JSON array of objects, with nested arrays flattened one level
//
// Trailing newline and backspace bytes are stripped first. A malformed value
// drops only the line it appears on.
package frame

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
)

var (
	ErrPayloadTooLarge = errors.New("frame: payload too large")
	ErrNotObject       = errors.New("frame: value is not an object or array")
)

// Limits constrains decode memory use.
type Limits struct {
	MaxPayloadBytes int
}

func DefaultLimits() Limits {
	return Limits{
		MaxPayloadBytes: 8 * 1024 * 1024,
	}
}

// Result holds the object values found in one payload and the number of
// fragments that could not be parsed.
type Result struct {
	Objects []json.RawMessage
	Dropped int
}

// Split tokenizes raw. It never fails: everything it cannot parse is counted
// in Result.Dropped.
func Split(raw []byte, limits Limits) Result {
	raw = trim(raw)
	if len(raw) == 0 {
		return Result{}
	}
	if limits.MaxPayloadBytes > 0 && len(raw) > limits.MaxPayloadBytes {
		return Result{Dropped: 1}
	}

	var res Result
	values, err := decodeStream(raw)
	if err == nil {
		res.expand(values)
		return res
	}

	for _, line := range bytes.Split(raw, []byte{'\n'}) {
		line = trim(line)
		if len(line) == 0 {
			continue
		}
		values, err := decodeStream(line)
		res.expand(values)
		if err != nil {
			res.Dropped++
		}
	}
	return res
}

func (r *Result) expand(values []json.RawMessage) {
	for _, v := range values {
		switch leading(v) {
		case '{':
			r.Objects = append(r.Objects, v)
		case '[':
			r.expandArray(v, true)
		default:
			r.Dropped++
		}
	}
}

func (r *Result) expandArray(v json.RawMessage, nested bool) {
	var items []json.RawMessage
	if err := json.Unmarshal(v, &items); err != nil {
		r.Dropped++
		return
	}
	for _, item := range items {
		switch leading(item) {
		case '{':
			r.Objects = append(r.Objects, item)
		case '[':
			if nested {
				r.expandArray(item, false)
				continue
			}
			r.Dropped++
		default:
			r.Dropped++
		}
	}
}

// decodeStream reads consecutive JSON values until EOF. Values decoded before
// an error are returned alongside it.
func decodeStream(b []byte) ([]json.RawMessage, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	var out []json.RawMessage
	for {
		var v json.RawMessage
		err := dec.Decode(&v)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, v)
	}
}

func leading(v json.RawMessage) byte {
	v = bytes.TrimLeft(v, " \t\r\n")
	if len(v) == 0 {
		return 0
	}
	return v[0]
}

func trim(b []byte) []byte {
	return bytes.Trim(b, " \t\r\n\b")
}
