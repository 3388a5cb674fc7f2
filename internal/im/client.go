package im

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/danmuck/chatlink/internal/chatcache"
	"github.com/danmuck/chatlink/internal/clock"
	"github.com/danmuck/chatlink/internal/dispatch"
	"github.com/danmuck/chatlink/internal/events"
	"github.com/danmuck/chatlink/internal/logging"
	"github.com/danmuck/chatlink/internal/notice"
	"github.com/danmuck/chatlink/internal/protocol/session"
	"github.com/danmuck/chatlink/internal/transport"
	"github.com/rs/zerolog"
)

// DefaultTempUserDelay batches on-demand member lookups.
const DefaultTempUserDelay = time.Second

type Options struct {
	Session       session.Config
	Notice        *notice.Config
	CacheTTL      time.Duration
	SettingsPath  string
	TempUserDelay time.Duration
	Clock         clock.Clock
	Dialer        transport.Dialer
	Sinks         []notice.Sink
}

// LoginEvent is the payload of events.EventUserLogin.
type LoginEvent struct {
	User *User
	Err  error
}

// LogoutEvent is the payload of events.EventUserLogout.
type LogoutEvent struct {
	User  *User
	Close session.CloseEvent
}

// Client is the context object shared by every chat component.
type Client struct {
	clock    clock.Clock
	bus      *events.Bus
	table    *dispatch.Table
	session  *session.Session
	ledger   *chatcache.Ledger
	notices  *notice.Engine
	members  *Members
	convs    *Conversations
	settings *SettingsStore
	log      zerolog.Logger

	tempUsers *events.Debouncer[[]int64]
	handles   []events.Handle

	mu            sync.Mutex
	user          *User
	windowOpen    bool
	windowFocused bool
}

// NewClient wires a client. Nothing connects until Login.
func NewClient(opts Options) *Client {
	c := clock.OrReal(opts.Clock)
	bus := events.NewBus(c)
	table := dispatch.NewTable(bus)
	cl := &Client{
		clock:      c,
		bus:        bus,
		table:      table,
		members:    NewMembers(),
		convs:      NewConversations(),
		ledger:     chatcache.NewLedger(c, opts.CacheTTL),
		log:        logging.Component("im"),
		windowOpen: true,
	}
	cl.session = session.New(session.Options{
		Config: opts.Session,
		Clock:  c,
		Bus:    bus,
		Table:  table,
		Dialer: opts.Dialer,
	})
	cl.notices = notice.New(notice.Options{
		Config: opts.Notice,
		Clock:  c,
		Bus:    bus,
		Source: cl.convs,
		Window: cl,
		Busy:   cl.userBusy,
		Sinks:  opts.Sinks,
	})
	cl.settings = NewSettingsStore(SettingsOptions{
		Path:        opts.SettingsPath,
		Clock:       c,
		Bus:         bus,
		UploadDelay: cl.session.Config().SettingsUploadDelay,
		Upload:      cl.uploadSettings,
	})
	delay := opts.TempUserDelay
	if delay <= 0 {
		delay = DefaultTempUserDelay
	}
	cl.tempUsers = events.NewDebouncer(c, delay, appendIDs, cl.fetchTempUsers)

	cl.session.SetBeforeLogout(func(ctx context.Context) {
		if err := cl.settings.Upload(ctx); err != nil {
			cl.log.Debug().Err(err).Msg("settings not uploaded before logout")
		}
	})
	cl.registerHandlers()
	cl.handles = append(cl.handles, bus.On(events.EventClose, cl.onClose))
	return cl
}

func appendIDs(acc, next []int64) []int64 {
	return append(acc, next...)
}

func (c *Client) Bus() *events.Bus              { return c.bus }
func (c *Client) Table() *dispatch.Table        { return c.table }
func (c *Client) Session() *session.Session     { return c.session }
func (c *Client) Ledger() *chatcache.Ledger     { return c.ledger }
func (c *Client) Notices() *notice.Engine       { return c.notices }
func (c *Client) Members() *Members             { return c.members }
func (c *Client) Conversations() *Conversations { return c.convs }
func (c *Client) Settings() *SettingsStore      { return c.settings }
func (c *Client) Clock() clock.Clock            { return c.clock }

// User returns the current principal, nil before the first login.
func (c *Client) User() *User {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.user
}

func (c *Client) userBusy() bool {
	u := c.User()
	return u != nil && u.IsBusy()
}

// Login signs u in. The whole attempt is bounded by the login timeout. A
// different user than the current one is swapped in first.
func (c *Client) Login(ctx context.Context, u *User) error {
	if u == nil {
		return session.ErrPrincipalRequired
	}
	if c.session.IsLoggingIn() || u.IsLogging() {
		return session.ErrBusyRelogin
	}
	if c.User() != u {
		c.SwapUser(u)
	}

	timeout := c.session.Config().LoginTimeout
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	u.beginLogin()
	err := c.session.Login(ctx, u)
	u.endLogin(err == nil)
	if err != nil && errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("%w: login exceeded %s", session.ErrTimeout, timeout)
	}

	log := c.log.With().Str("account", u.Identity().Account).Logger()
	if err != nil {
		log.Warn().Err(err).Str("code", session.ErrorCode(err)).Msg("login failed")
	} else {
		log.Info().Int64("id", u.ID()).Msg("user logged in")
	}
	c.bus.Emit(events.EventUserLogin, LoginEvent{User: u, Err: err})
	return err
}

// Logout re-evaluates notices, uploads settings and closes the session.
func (c *Client) Logout(ctx context.Context) error {
	c.notices.Refresh()
	err := c.session.Logout(ctx)
	if u := c.User(); u != nil {
		u.MarkUnverified()
	}
	return err
}

// SwapUser closes the current session and drops every per-user state.
func (c *Client) SwapUser(u *User) {
	prev := c.User()
	if c.session.State() != session.StateDisconnected {
		_ = c.session.Close(session.ReasonClose)
	}
	c.settings.Stop()
	c.tempUsers.Stop()
	c.ledger.Reset()
	c.members.Reset()
	c.convs.Reset()
	c.notices.Reset()
	c.setUser(u)
	if err := c.settings.Load(); err != nil {
		c.log.Warn().Err(err).Msg("load settings")
	}
	c.bus.Emit(events.EventUserSwap, u)
	if prev != nil {
		c.log.Info().Str("from", prev.Key()).Str("to", userKey(u)).Msg("user swapped")
	}
}

func userKey(u *User) string {
	if u == nil {
		return ""
	}
	return u.Key()
}

func (c *Client) setUser(u *User) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.user = u
}

// Close stops timers and detaches from the bus without logging out.
func (c *Client) Close() {
	c.notices.Stop()
	c.settings.Stop()
	c.tempUsers.Stop()
	c.bus.Off(c.handles...)
	c.session.Dispose()
}

func (c *Client) onClose(payload any) {
	ev, ok := payload.(session.CloseEvent)
	if !ok {
		return
	}
	c.notices.Refresh()
	u, ok := ev.Principal.(*User)
	if !ok {
		u = c.User()
	}
	c.bus.Emit(events.EventUserLogout, LogoutEvent{User: u, Close: ev})
}

// ActivateConversation focuses gid and clears its notices. It reports
// whether the conversation's cache entry had been cleaned.
func (c *Client) ActivateConversation(gid string) bool {
	restored := c.ledger.Focus(gid)
	if gid != "" {
		c.notices.Update(gid, notice.Patch{NoticeCount: notice.Int(0)})
	}
	return restored
}

// CachedConversations returns conversations whose UI state is still cached.
func (c *Client) CachedConversations() []string {
	return c.ledger.ActiveIDs()
}

// SetWindowState feeds window visibility into notice conditions. Regaining
// focus clears the focused conversation's notices.
func (c *Client) SetWindowState(open, focused bool) {
	c.mu.Lock()
	regained := focused && !c.windowFocused
	c.windowOpen = open
	c.windowFocused = focused
	c.mu.Unlock()

	if gid := c.ledger.Focused(); regained && gid != "" {
		c.notices.Update(gid, notice.Patch{NoticeCount: notice.Int(0)})
		return
	}
	c.notices.Refresh()
}

func (c *Client) IsWindowOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.windowOpen
}

func (c *Client) IsWindowFocused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.windowFocused
}

// ActiveConversation is the focused conversation id.
func (c *Client) ActiveConversation() string {
	return c.ledger.Focused()
}

// TryFetchTempUser asks the server for a member missing from the roster.
// Lookups inside the batch window go out as one request.
func (c *Client) TryFetchTempUser(id int64) {
	if id == 0 || c.members.Has(id) {
		return
	}
	c.tempUsers.Trigger([]int64{id})
}

func (c *Client) fetchTempUsers(ids []int64) {
	ids = uniqueIDs(ids)
	if len(ids) == 0 || !c.session.IsConnected() {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.session.Config().RequestTimeout)
		defer cancel()
		if _, err := c.session.FetchUserList(ctx, ids...); err != nil {
			c.log.Debug().Err(err).Int("count", len(ids)).Msg("temp user fetch")
		}
	}()
}

func uniqueIDs(ids []int64) []int64 {
	seen := make(map[int64]bool, len(ids))
	out := ids[:0]
	for _, id := range ids {
		if id == 0 || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// uploadSettings starts the settings request without waiting for the reply.
func (c *Client) uploadSettings(ctx context.Context, settings map[string]any) error {
	req, err := c.session.UploadSettings(ctx, settings)
	if err != nil {
		return err
	}
	go func() {
		if _, err := req.Wait(context.Background()); err != nil {
			c.log.Debug().Err(err).Msg("settings upload not acknowledged")
		}
	}()
	return nil
}
