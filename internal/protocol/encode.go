package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Encode serializes m as a single JSON object.
func Encode(m *Message) ([]byte, error) {
	if m == nil || strings.TrimSpace(m.Module) == "" {
		return nil, ErrMissingModule
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode %s: %w", m.Pathname(), err)
	}
	return raw, nil
}
