package notice

import (
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/danmuck/chatlink/internal/clock"
	"github.com/danmuck/chatlink/internal/events"
	"github.com/danmuck/chatlink/internal/logging"
	"github.com/danmuck/chatlink/internal/observability"
	"github.com/rs/zerolog"
)

const popupBodyLimit = 255

// Source owns the conversations the engine scans.
type Source interface {
	Conversations() []Conversation
	ApplyPatches(Patches)
	ClearNotice(id string)
}

// Window reports UI state used by alert conditions.
type Window interface {
	IsWindowOpen() bool
	IsWindowFocused() bool
	ActiveConversation() string
}

// Sink receives every snapshot.
type Sink interface {
	UpdateNotice(Snapshot)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Snapshot)

func (f SinkFunc) UpdateNotice(s Snapshot) { f(s) }

type Options struct {
	Config *Config
	Clock  clock.Clock
	Bus    *events.Bus
	Source Source
	Window Window
	// Busy reports whether the signed-in user is marked busy.
	Busy  func() bool
	Sinks []Sink
}

// Engine debounces notice triggers and publishes one Snapshot per cycle.
type Engine struct {
	clock     clock.Clock
	bus       *events.Bus
	source    Source
	window    Window
	busy      func() bool
	log       zerolog.Logger
	debouncer *events.Debouncer[Patches]

	runMu sync.Mutex

	mu    sync.Mutex
	cfg   *Config
	sinks []Sink
	last  Snapshot
	cycle uint64
}

func New(opts Options) *Engine {
	e := &Engine{
		clock:  clock.OrReal(opts.Clock),
		bus:    opts.Bus,
		source: opts.Source,
		window: opts.Window,
		busy:   opts.Busy,
		cfg:    opts.Config,
		sinks:  append([]Sink(nil), opts.Sinks...),
		log:    logging.Component("notice"),
	}
	e.debouncer = events.NewDebouncer(e.clock, DefaultDelay, mergePatches, e.run)
	return e
}

// Config returns the active alert config, nil when alerts are disabled.
func (e *Engine) Config() *Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg
}

func (e *Engine) SetConfig(cfg *Config) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg = cfg
}

func (e *Engine) AddSink(s Sink) {
	if s == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sinks = append(e.sinks, s)
}

// Update schedules a cycle carrying a partial update for one conversation.
func (e *Engine) Update(id string, p Patch) {
	e.Trigger(Patches{id: p})
}

// Refresh schedules a cycle without changing any conversation.
func (e *Engine) Refresh() {
	e.Trigger(nil)
}

// Trigger schedules a cycle. Patches from every trigger inside the window
// are merged per conversation.
func (e *Engine) Trigger(p Patches) {
	e.debouncer.TriggerAfter(p, e.delay())
}

// Flush runs a pending cycle now.
func (e *Engine) Flush() {
	e.debouncer.Flush()
}

// Pending reports whether a cycle is scheduled.
func (e *Engine) Pending() bool {
	return e.debouncer.Pending()
}

// Stop drops any scheduled cycle.
func (e *Engine) Stop() {
	e.debouncer.Stop()
}

// Last returns the most recent snapshot.
func (e *Engine) Last() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.last
}

// Reset forgets the previous snapshot so the next increase alerts again.
func (e *Engine) Reset() {
	e.debouncer.Stop()
	e.mu.Lock()
	defer e.mu.Unlock()
	e.last = Snapshot{}
}

func (e *Engine) delay() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cfg != nil && e.cfg.Delay > 0 {
		return e.cfg.Delay
	}
	return DefaultDelay
}

func (e *Engine) run(patches Patches) {
	e.runMu.Lock()
	defer e.runMu.Unlock()

	if e.source == nil {
		return
	}
	if len(patches) > 0 {
		e.source.ApplyPatches(patches)
	}

	e.mu.Lock()
	prev := e.last
	cfg := e.cfg
	e.cycle++
	cycle := e.cycle
	e.mu.Unlock()

	busy := e.busy != nil && e.busy()
	snap, cleared := evaluate(prev, e.source.Conversations(), cfg, e.window, busy)
	snap.Cycle = cycle
	snap.At = e.clock.Now()
	for _, id := range cleared {
		e.source.ClearNotice(id)
	}

	e.mu.Lock()
	e.last = snap
	sinks := append([]Sink(nil), e.sinks...)
	e.mu.Unlock()

	observability.RecordNoticeCycle()
	for kind, on := range map[string]bool{"sound": snap.Sound, "popup": snap.Popup, "tray_flash": snap.TrayFlash} {
		if on {
			observability.RecordNoticeAlert(kind)
		}
	}
	e.log.Debug().
		Uint64("cycle", cycle).
		Int("patched", len(patches)).
		Int("total", snap.Total).
		Int("unmuted", snap.UnmutedCount).
		Int("cleared", len(cleared)).
		Bool("sound", snap.Sound).
		Bool("popup", snap.Popup).
		Bool("tray_flash", snap.TrayFlash).
		Msg("notice cycle")

	for _, s := range sinks {
		s.UpdateNotice(snap)
	}
	if e.bus != nil {
		e.bus.Emit(events.EventNoticeUpdate, snap)
	}
}

// evaluate scans conversations and derives the next snapshot from prev. It
// returns the ids whose notices were auto-cleared because they are being
// read.
func evaluate(prev Snapshot, convs []Conversation, cfg *Config, w Window, busy bool) (Snapshot, []string) {
	var (
		snap    Snapshot
		cleared []string
		rep     *Conversation
		active  string
		focused bool
	)
	if w != nil {
		active = w.ActiveConversation()
		focused = w.IsWindowFocused()
	}
	muteInactive := cfg != nil && cfg.MuteOnChatNotActive

	for i := range convs {
		c := convs[i]
		if c.NoticeCount <= 0 {
			continue
		}
		isActive := active != "" && c.ID == active
		if !isActive && muteInactive {
			continue
		}
		if isActive && focused {
			cleared = append(cleared, c.ID)
			continue
		}
		snap.Total += c.NoticeCount
		if c.MuteOrHidden() {
			snap.MutedCount += c.NoticeCount
			continue
		}
		snap.UnmutedCount += c.NoticeCount
		if c.Automated || c.LastMessage == nil {
			continue
		}
		if rep == nil || c.LastMessage.Date.After(rep.LastMessage.Date) {
			rep = &c
		}
	}
	if rep != nil {
		snap.Conversation = rep
		snap.Message = rep.LastMessage
	}
	snap.Tray = snap.Total > 0
	snap.TrayLabel = trayLabel(snap.Total)
	snap.BadgeLabel = badgeLabel(snap.UnmutedCount)

	if cfg == nil || snap.Total == 0 || snap.UnmutedCount == 0 {
		return snap, cleared
	}
	unmutedGrew := snap.UnmutedCount > prev.UnmutedCount
	grew := unmutedGrew && snap.Total > prev.Total

	if grew && cfg.EnableSound && !(cfg.MuteOnUserIsBusy && busy) && MatchWindowCondition(cfg.PlaySoundCondition, w) {
		snap.Sound = true
	}
	if grew && cfg.EnableWindowNotification && rep != nil && MatchWindowCondition(cfg.WindowNotificationCondition, w) {
		snap.Popup = true
		snap.Content = popupFor(rep, snap.Total, cfg.SafeWindowNotification)
	}
	if unmutedGrew && cfg.FlashTrayIcon && MatchWindowCondition(cfg.FlashTrayIconCondition, w) {
		snap.TrayFlash = true
	}
	return snap, cleared
}

func trayLabel(total int) string {
	switch {
	case total <= 0:
		return ""
	case total == 1:
		return "1 new message"
	default:
		return fmt.Sprintf("%d new messages", total)
	}
}

func badgeLabel(unmuted int) string {
	switch {
	case unmuted <= 0:
		return ""
	case unmuted > 99:
		return "99+"
	default:
		return fmt.Sprintf("%d", unmuted)
	}
}

func popupFor(c *Conversation, total int, safe bool) *Popup {
	p := &Popup{ConversationID: c.ID}
	if safe {
		p.Title = fmt.Sprintf("Received %s", trayLabel(total))
		return p
	}
	sender := c.LastMessage.SenderName
	if sender == "" {
		sender = "Someone"
	}
	if c.OneToOne {
		p.Title = sender + " says:"
	} else {
		p.Title = fmt.Sprintf("%s says in %s:", sender, c.Name)
	}
	p.Body = plainText(c.LastMessage.Text, popupBodyLimit)
	return p
}

// plainText flattens line breaks and caps the text at limit runes.
func plainText(s string, limit int) string {
	s = strings.TrimSpace(s)
	s = strings.NewReplacer("\r\n", " ", "\r", " ", "\n", " ").Replace(s)
	if limit > 0 && utf8.RuneCountInString(s) > limit {
		runes := []rune(s)
		s = string(runes[:limit])
	}
	return s
}
