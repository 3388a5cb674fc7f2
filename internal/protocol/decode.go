package protocol

import (
	"encoding/json"

	"github.com/danmuck/chatlink/internal/logging"
	"github.com/danmuck/chatlink/internal/protocol/frame"
)

// Decoded is the outcome of decoding one raw inbound payload.
type Decoded struct {
	Messages []*Message
	Dropped  int
}

// Decode parses raw into zero or more messages. Malformed fragments are
// logged and skipped; they never abort the surrounding payload.
func Decode(raw []byte) []*Message {
	return DecodeReport(raw).Messages
}

// DecodeReport is Decode with a count of dropped fragments.
func DecodeReport(raw []byte) Decoded {
	split := frame.Split(raw, frame.DefaultLimits())
	out := Decoded{
		Messages: make([]*Message, 0, len(split.Objects)),
		Dropped:  split.Dropped,
	}
	for _, obj := range split.Objects {
		msg, err := decodeObject(obj)
		if err != nil {
			out.Dropped++
			continue
		}
		out.Messages = append(out.Messages, msg)
	}
	if out.Dropped > 0 {
		log := logging.Component("protocol")
		log.Debug().
			Int("bytes", len(raw)).
			Int("dropped", out.Dropped).
			Int("decoded", len(out.Messages)).
			Msg("malformed inbound payload")
	}
	return out
}

func decodeObject(raw json.RawMessage) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, ErrMalformedPayload
	}
	if msg.Module == "" {
		msg.Module = DefaultModule
	}
	return &msg, nil
}
