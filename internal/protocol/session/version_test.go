package session

import (
	"errors"
	"strings"
	"testing"

	"github.com/danmuck/chatlink/internal/testutil/testlog"
)

func TestCheckServerVersion(t *testing.T) {
	testlog.Start(t)
	cases := []struct {
		server string
		want   error
	}{
		{"1.2.0", nil},
		{"v2.5.1", nil},
		{"V1.3", nil},
		{"1.1.9", ErrVersionUnsupported},
		{"", ErrVersionUnknown},
		{"not-a-version", ErrVersionUnknown},
	}
	for _, tc := range cases {
		err := CheckServerVersion(tc.server, "")
		if tc.want == nil && err != nil {
			t.Fatalf("%q: unexpected err=%v", tc.server, err)
		}
		if tc.want != nil && !errors.Is(err, tc.want) {
			t.Fatalf("%q: got=%v want=%v", tc.server, err, tc.want)
		}
	}
	if err := CheckServerVersion("2.0.0", "2.1.0"); !errors.Is(err, ErrVersionUnsupported) {
		t.Fatalf("custom minimum ignored err=%v", err)
	}
}

func TestFeaturesFor(t *testing.T) {
	testlog.Start(t)
	old := FeaturesFor("1.3.0")
	if !old.MessageOrder || old.SecureSocket || !old.NeedSendBroadcast {
		t.Fatalf("1.3.0 features=%+v", old)
	}
	cur := FeaturesFor("2.4.0")
	if !cur.ChangePwdWithMD5 || !cur.RetractMessage || cur.NeedSendBroadcast {
		t.Fatalf("2.4.0 features=%+v", cur)
	}
	if FeaturesFor("garbage") != (Features{}) {
		t.Fatalf("unknown version should have no features")
	}
}

func TestStateTransitions(t *testing.T) {
	testlog.Start(t)
	allowed := [][2]State{
		{StateDisconnected, StateConnecting},
		{StateConnecting, StateLoggingIn},
		{StateLoggingIn, StateConnected},
		{StateConnected, StateClosing},
		{StateClosing, StateDisconnected},
		{StateLoggingIn, StateDisconnected},
		{StateConnected, StateDisconnected},
	}
	for _, tr := range allowed {
		if !CanTransition(tr[0], tr[1]) {
			t.Fatalf("%s -> %s should be allowed", tr[0], tr[1])
		}
	}
	if CanTransition(StateDisconnected, StateConnected) {
		t.Fatalf("disconnected cannot jump to connected")
	}
	if StateLoggingIn.String() == "" {
		t.Fatalf("state must have a name")
	}
}

func TestRequestIDs(t *testing.T) {
	testlog.Start(t)
	a, b := NewRequestID(), NewRequestID()
	if a == b || a != strings.ToLower(a) || len(a) != 26 {
		t.Fatalf("request ids a=%q b=%q", a, b)
	}
	if got := LoginRequestID("desktop", "alice"); got != "login_desktop_alice" {
		t.Fatalf("login rid got=%q", got)
	}
}

func TestPasswordHashing(t *testing.T) {
	testlog.Start(t)
	if got := MD5Hex("secret"); got != "5ebe2294ecd0e0f08eab7690d2a6ee69" {
		t.Fatalf("md5 got=%s", got)
	}
}
