package im

import (
	"bytes"
	"encoding/json"
	"sort"
)

// decodeRecords accepts a JSON array, a single object accepted by single, or
// an object keyed by id. Keyed objects are returned in key order.
func decodeRecords[T any](raw json.RawMessage, single func(T) bool) ([]T, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	if raw[0] == '[' {
		var out []T
		if err := json.Unmarshal(raw, &out); err != nil {
			return nil, err
		}
		return out, nil
	}
	if single != nil {
		var one T
		if err := json.Unmarshal(raw, &one); err == nil && single(one) {
			return []T{one}, nil
		}
	}
	var keyed map[string]T
	if err := json.Unmarshal(raw, &keyed); err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(keyed))
	for k := range keyed {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]T, 0, len(keys))
	for _, k := range keys {
		out = append(out, keyed[k])
	}
	return out, nil
}

// mergeJSON overlays the fields present in raw onto dst.
func mergeJSON(dst any, raw json.RawMessage) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	return json.Unmarshal(raw, dst)
}
