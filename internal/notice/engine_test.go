package notice

import (
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/chatlink/internal/clock"
	"github.com/danmuck/chatlink/internal/events"
	"github.com/danmuck/chatlink/internal/testutil/testlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Unix(1700000000, 0)

type memSource struct {
	mu      sync.Mutex
	convs   map[string]*Conversation
	applies int
	cleared []string
}

func newSource(convs ...Conversation) *memSource {
	s := &memSource{convs: map[string]*Conversation{}}
	for i := range convs {
		c := convs[i]
		s.convs[c.ID] = &c
	}
	return s
}

func (s *memSource) Conversations() []Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.convs))
	for id := range s.convs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]Conversation, 0, len(ids))
	for _, id := range ids {
		out = append(out, *s.convs[id])
	}
	return out
}

func (s *memSource) ApplyPatches(p Patches) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applies++
	for id, patch := range p {
		c, ok := s.convs[id]
		if !ok {
			c = &Conversation{ID: id}
			s.convs[id] = c
		}
		patch.Apply(c)
	}
}

func (s *memSource) ClearNotice(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleared = append(s.cleared, id)
	if c, ok := s.convs[id]; ok {
		c.NoticeCount = 0
	}
}

type window struct {
	open, focused bool
	active        string
}

func (w *window) IsWindowOpen() bool         { return w.open }
func (w *window) IsWindowFocused() bool      { return w.focused }
func (w *window) ActiveConversation() string { return w.active }

func msgAt(sec int, sender, text string) *Message {
	return &Message{ID: sender + text, SenderName: sender, Text: text, Date: epoch.Add(time.Duration(sec) * time.Second)}
}

type fixture struct {
	clock  *clock.Fake
	source *memSource
	window *window
	engine *Engine
	snaps  []Snapshot
}

func newFixture(t *testing.T, cfg *Config, convs ...Conversation) *fixture {
	t.Helper()
	testlog.Start(t)
	f := &fixture{
		clock:  clock.NewFake(epoch),
		source: newSource(convs...),
		window: &window{open: false, focused: false},
	}
	f.engine = New(Options{
		Config: cfg,
		Clock:  f.clock,
		Source: f.source,
		Window: f.window,
		Sinks:  []Sink{SinkFunc(func(s Snapshot) { f.snaps = append(f.snaps, s) })},
	})
	return f
}

func (f *fixture) cycle(patches Patches) Snapshot {
	f.engine.Trigger(patches)
	f.clock.Advance(DefaultDelay)
	return f.engine.Last()
}

func TestTriggersInsideWindowCollapseIntoOneCycle(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	steps := []struct {
		at time.Duration
		id string
		n  int
	}{
		{0, "a", 1},
		{40 * time.Millisecond, "b", 1},
		{80 * time.Millisecond, "a", 1},
		{120 * time.Millisecond, "c", 2},
		{150 * time.Millisecond, "b", 1},
	}
	var now time.Duration
	for _, s := range steps {
		f.clock.Advance(s.at - now)
		now = s.at
		f.engine.Update(s.id, Patch{AddNotices: s.n, LastMessage: msgAt(int(s.at/time.Millisecond), s.id, "hi")})
	}
	f.clock.Advance(DefaultDelay - time.Millisecond)
	require.Empty(t, f.snaps, "cycle ran before the window elapsed")
	f.clock.Advance(time.Millisecond)

	require.Len(t, f.snaps, 1)
	assert.Equal(t, 1, f.source.applies)
	snap := f.snaps[0]
	assert.Equal(t, 6, snap.Total)
	assert.Equal(t, 6, snap.UnmutedCount)
	for _, c := range f.source.Conversations() {
		assert.Equal(t, 2, c.NoticeCount, "conversation %s", c.ID)
	}
	require.NotNil(t, snap.Conversation)
	assert.Equal(t, "b", snap.Conversation.ID)
}

func TestPatchMergeIsShallowPerField(t *testing.T) {
	testlog.Start(t)
	merged := mergePatches(nil, Patches{"a": {Muted: Bool(true), AddNotices: 2}})
	merged = mergePatches(merged, Patches{"a": {LastMessage: msgAt(1, "x", "y")}})
	merged = mergePatches(merged, Patches{"a": {NoticeCount: Int(5)}, "b": {Hidden: Bool(true)}})
	merged = mergePatches(merged, Patches{"a": {AddNotices: 1}})

	a := merged["a"]
	require.NotNil(t, a.Muted)
	assert.True(t, *a.Muted)
	require.NotNil(t, a.LastMessage)
	require.NotNil(t, a.NoticeCount)
	assert.Equal(t, 5, *a.NoticeCount)
	assert.Equal(t, 1, a.AddNotices)

	c := Conversation{ID: "a", NoticeCount: 9}
	a.Apply(&c)
	assert.Equal(t, 6, c.NoticeCount)
	assert.True(t, c.Muted)
}

func TestAlertsRequireMonotonicIncrease(t *testing.T) {
	f := newFixture(t, DefaultConfig(),
		Conversation{ID: "a", NoticeCount: 1, LastMessage: msgAt(1, "ann", "one")},
		Conversation{ID: "b", NoticeCount: 1, LastMessage: msgAt(2, "bob", "two")},
	)

	first := f.cycle(nil)
	assert.True(t, first.Sound)
	assert.True(t, first.Popup)
	assert.True(t, first.TrayFlash)

	muted := f.cycle(Patches{"a": {Muted: Bool(true)}})
	assert.Equal(t, 2, muted.Total)
	assert.Equal(t, 1, muted.MutedCount)
	assert.False(t, muted.Sound)
	assert.False(t, muted.Popup)
	assert.False(t, muted.TrayFlash)

	unmuted := f.cycle(Patches{"a": {Muted: Bool(false)}})
	assert.False(t, unmuted.Sound, "total stayed flat")
	assert.False(t, unmuted.Popup, "total stayed flat")
	assert.True(t, unmuted.TrayFlash, "tray flash follows the unmuted count alone")

	more := f.cycle(Patches{"b": {AddNotices: 1, LastMessage: msgAt(3, "bob", "three")}})
	assert.Equal(t, 3, more.Total)
	assert.True(t, more.Sound)
	assert.True(t, more.Popup)

	flat := f.cycle(nil)
	assert.False(t, flat.Sound)
	assert.False(t, flat.Popup)
	assert.Equal(t, uint64(5), flat.Cycle)
}

func TestMutedIncreaseDoesNotAlert(t *testing.T) {
	f := newFixture(t, DefaultConfig(),
		Conversation{ID: "a", NoticeCount: 1, LastMessage: msgAt(1, "ann", "one")},
		Conversation{ID: "m", Muted: true},
	)
	f.cycle(nil)
	snap := f.cycle(Patches{"m": {AddNotices: 4}})
	assert.Equal(t, 5, snap.Total)
	assert.False(t, snap.Sound)
	assert.False(t, snap.Popup)
}

func TestFocusedActiveConversationIsCleared(t *testing.T) {
	f := newFixture(t, DefaultConfig(),
		Conversation{ID: "a", NoticeCount: 3, LastMessage: msgAt(5, "ann", "hello")},
		Conversation{ID: "b", NoticeCount: 1, LastMessage: msgAt(1, "bob", "hey")},
	)
	f.window.open, f.window.focused, f.window.active = true, true, "a"
	snap := f.cycle(nil)
	assert.Equal(t, []string{"a"}, f.source.cleared)
	assert.Equal(t, 1, snap.Total)
	require.NotNil(t, snap.Conversation)
	assert.Equal(t, "b", snap.Conversation.ID)
	assert.False(t, snap.Sound, "focused window does not match blur condition")
	assert.False(t, snap.Popup, "open window does not match hide condition")
}

func TestMuteOnChatNotActiveSkipsOthers(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MuteOnChatNotActive = true
	f := newFixture(t, cfg,
		Conversation{ID: "a", NoticeCount: 3},
		Conversation{ID: "b", NoticeCount: 2},
	)
	f.window.active = "b"
	snap := f.cycle(nil)
	assert.Equal(t, 2, snap.Total)
	assert.Empty(t, f.source.cleared)
}

func TestRepresentativeSelection(t *testing.T) {
	f := newFixture(t, DefaultConfig(),
		Conversation{ID: "a", NoticeCount: 1, LastMessage: msgAt(10, "ann", "tie first")},
		Conversation{ID: "b", NoticeCount: 1, LastMessage: msgAt(10, "bob", "tie second")},
		Conversation{ID: "bot", NoticeCount: 1, Automated: true, LastMessage: msgAt(50, "bot", "robot")},
		Conversation{ID: "m", NoticeCount: 1, Hidden: true, LastMessage: msgAt(60, "mia", "hidden")},
		Conversation{ID: "old", NoticeCount: 1, LastMessage: msgAt(1, "oli", "old")},
	)
	snap := f.cycle(nil)
	require.NotNil(t, snap.Conversation)
	assert.Equal(t, "a", snap.Conversation.ID)
	assert.Equal(t, "tie first", snap.Message.Text)
	assert.Equal(t, 5, snap.Total)
	assert.Equal(t, 1, snap.MutedCount)
}

func TestNilConfigComputesCountsWithoutAlerts(t *testing.T) {
	f := newFixture(t, nil, Conversation{ID: "a", NoticeCount: 120, LastMessage: msgAt(1, "ann", "x")})
	snap := f.cycle(nil)
	assert.Equal(t, 120, snap.Total)
	assert.True(t, snap.Tray)
	assert.Equal(t, "120 new messages", snap.TrayLabel)
	assert.Equal(t, "99+", snap.BadgeLabel)
	assert.False(t, snap.Sound || snap.Popup || snap.TrayFlash)
}

func TestBusyUserSuppressesSoundOnly(t *testing.T) {
	testlog.Start(t)
	fake := clock.NewFake(epoch)
	src := newSource(Conversation{ID: "a", NoticeCount: 1, LastMessage: msgAt(1, "ann", "x")})
	e := New(Options{Config: DefaultConfig(), Clock: fake, Source: src, Window: &window{}, Busy: func() bool { return true }})
	e.Refresh()
	e.Flush()
	snap := e.Last()
	assert.False(t, snap.Sound)
	assert.True(t, snap.Popup)
	assert.False(t, e.Pending())
}

func TestPopupContent(t *testing.T) {
	cfg := DefaultConfig()
	f := newFixture(t, cfg, Conversation{ID: "g", Name: "ops", NoticeCount: 2, LastMessage: msgAt(1, "ann", " line one\nline two ")})
	snap := f.cycle(nil)
	require.NotNil(t, snap.Content)
	assert.Equal(t, "ann says in ops:", snap.Content.Title)
	assert.Equal(t, "line one line two", snap.Content.Body)

	cfg.SafeWindowNotification = true
	f.engine.Reset()
	snap = f.cycle(nil)
	require.NotNil(t, snap.Content)
	assert.Equal(t, "Received 2 new messages", snap.Content.Title)
	assert.Empty(t, snap.Content.Body)

	long := plainText(strings.Repeat("é", 300), popupBodyLimit)
	assert.Equal(t, popupBodyLimit, len([]rune(long)))
}

func TestSnapshotPublishedOnBus(t *testing.T) {
	testlog.Start(t)
	fake := clock.NewFake(epoch)
	bus := events.NewBus(fake)
	var got []Snapshot
	bus.On(events.EventNoticeUpdate, func(p any) { got = append(got, p.(Snapshot)) })
	e := New(Options{Clock: fake, Bus: bus, Source: newSource(Conversation{ID: "a", NoticeCount: 1})})
	e.Refresh()
	fake.Advance(DefaultDelay)
	require.Len(t, got, 1)
	assert.Equal(t, 1, got[0].Total)
	assert.Equal(t, epoch.Add(DefaultDelay), got[0].At)
}

func TestConfiguredDelay(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Delay = time.Second
	f := newFixture(t, cfg, Conversation{ID: "a", NoticeCount: 1})
	f.engine.Refresh()
	f.clock.Advance(DefaultDelay)
	assert.Empty(t, f.snaps)
	f.clock.Advance(time.Second - DefaultDelay)
	assert.Len(t, f.snaps, 1)
}

func TestMatchWindowCondition(t *testing.T) {
	testlog.Start(t)
	hidden := &window{open: false, focused: false}
	blurred := &window{open: true, focused: false}
	focused := &window{open: true, focused: true}
	cases := []struct {
		cond string
		w    Window
		want bool
	}{
		{OnWindowHide, hidden, true},
		{OnWindowHide, blurred, false},
		{OnWindowBlur, blurred, true},
		{OnWindowBlur, focused, false},
		{"", focused, true},
		{"always", focused, true},
		{OnWindowHide, nil, true},
	}
	for _, tc := range cases {
		if got := MatchWindowCondition(tc.cond, tc.w); got != tc.want {
			t.Fatalf("cond=%q got=%v want=%v", tc.cond, got, tc.want)
		}
	}
}
