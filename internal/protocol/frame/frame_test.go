package frame

import (
	"encoding/json"
	"strings"
	"testing"
)

func objects(t *testing.T, raw string) Result {
	t.Helper()
	return Split([]byte(raw), DefaultLimits())
}

func moduleOf(t *testing.T, v json.RawMessage) string {
	t.Helper()
	var m struct {
		Module string `json:"module"`
	}
	if err := json.Unmarshal(v, &m); err != nil {
		t.Fatalf("unmarshal object: %v", err)
	}
	return m.Module
}

func TestSplitSingleObjectWithTrailingControlBytes(t *testing.T) {
	res := objects(t, "{\"module\":\"chat\"}\n\b")
	if len(res.Objects) != 1 || res.Dropped != 0 {
		t.Fatalf("got objects=%d dropped=%d", len(res.Objects), res.Dropped)
	}
}

func TestSplitNewlineDelimited(t *testing.T) {
	res := objects(t, "{\"module\":\"a\"}\n{\"module\":\"b\"}\n")
	if len(res.Objects) != 2 {
		t.Fatalf("objects=%d", len(res.Objects))
	}
	if moduleOf(t, res.Objects[0]) != "a" || moduleOf(t, res.Objects[1]) != "b" {
		t.Fatalf("order not preserved")
	}
}

func TestSplitArrayFlattensOneLevel(t *testing.T) {
	res := objects(t, `[{"module":"a"},[{"module":"b"},{"module":"c"}],[[{"module":"deep"}]],7]`)
	if len(res.Objects) != 3 {
		t.Fatalf("objects=%d", len(res.Objects))
	}
	if res.Dropped != 2 {
		t.Fatalf("dropped=%d", res.Dropped)
	}
	for i, want := range []string{"a", "b", "c"} {
		if got := moduleOf(t, res.Objects[i]); got != want {
			t.Fatalf("object %d got=%q want=%q", i, got, want)
		}
	}
}

func TestSplitMalformedLineDoesNotPoisonOthers(t *testing.T) {
	res := objects(t, "{\"module\":\n{\"module\":\"chat\",\"method\":\"x\"}")
	if len(res.Objects) != 1 {
		t.Fatalf("objects=%d", len(res.Objects))
	}
	if res.Dropped != 1 {
		t.Fatalf("dropped=%d", res.Dropped)
	}
}

func TestSplitGarbageYieldsNothing(t *testing.T) {
	res := objects(t, "not json at all")
	if len(res.Objects) != 0 || res.Dropped == 0 {
		t.Fatalf("got objects=%d dropped=%d", len(res.Objects), res.Dropped)
	}
	if res := objects(t, "\n\b"); len(res.Objects) != 0 || res.Dropped != 0 {
		t.Fatalf("empty payload got=%+v", res)
	}
}

func TestSplitMultilineArray(t *testing.T) {
	res := objects(t, "[\n  {\"module\":\"a\"},\n  {\"module\":\"b\"}\n]\n")
	if len(res.Objects) != 2 || res.Dropped != 0 {
		t.Fatalf("got objects=%d dropped=%d", len(res.Objects), res.Dropped)
	}
}

func TestSplitPayloadLimit(t *testing.T) {
	raw := "{\"module\":\"" + strings.Repeat("x", 64) + "\"}"
	res := Split([]byte(raw), Limits{MaxPayloadBytes: 16})
	if len(res.Objects) != 0 || res.Dropped != 1 {
		t.Fatalf("got=%+v", res)
	}
}
