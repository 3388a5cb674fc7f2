package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/danmuck/chatlink/internal/clock"
	"github.com/danmuck/chatlink/internal/dispatch"
	"github.com/danmuck/chatlink/internal/events"
	"github.com/danmuck/chatlink/internal/logging"
	"github.com/danmuck/chatlink/internal/observability"
	"github.com/danmuck/chatlink/internal/protocol"
	"github.com/danmuck/chatlink/internal/transport"
	"github.com/rs/zerolog"
)

// Identity is what the session needs to know about the signed-in user.
type Identity struct {
	ID            int64
	Account       string
	ServerName    string
	PasswordHash  string
	SocketURL     string
	ServerVersion string
	Token         string
	LDAP          bool
}

// Principal is the user a session logs in as.
type Principal interface {
	Identity() Identity
	IsOnline() bool
	MarkDisconnect()
	MarkUnverified()
}

// Options wires a Session. Bus and Table are created when nil.
type Options struct {
	Config Config
	Clock  clock.Clock
	Bus    *events.Bus
	Table  *dispatch.Table
	Dialer transport.Dialer
}

// Session owns one server connection and its login lifecycle.
type Session struct {
	cfg      Config
	clock    clock.Clock
	bus      *events.Bus
	table    *dispatch.Table
	dialer   transport.Dialer
	registry *Registry
	latency  *LatencyTracker
	log      zerolog.Logger
	inbound  events.Handle

	// inMu serializes inbound processing across connections.
	inMu sync.Mutex

	mu           sync.Mutex
	state        State
	gen          uint64
	conn         transport.Conn
	principal    Principal
	features     Features
	seq          *Sequencer
	lastData     time.Time
	pingTimer    *clock.Timer
	lastErr      error
	closeReason  string
	beforeLogout func(ctx context.Context)
}

func New(opts Options) *Session {
	cfg := opts.Config.withDefaults()
	c := clock.OrReal(opts.Clock)
	bus := opts.Bus
	if bus == nil {
		bus = events.NewBus(c)
	}
	table := opts.Table
	if table == nil {
		table = dispatch.NewTable(bus)
	}
	s := &Session{
		cfg:      cfg,
		clock:    c,
		bus:      bus,
		table:    table,
		dialer:   opts.Dialer,
		registry: NewRegistry(c, cfg.RequestTimeout),
		latency:  NewLatencyTracker(c, cfg.LatencyTTL),
		log:      logging.Component("session"),
	}
	s.inbound = bus.On(events.EventInbound, func(payload any) {
		if in, ok := payload.(dispatch.Inbound); ok {
			s.registry.Match(in.Message, in.Result)
		}
	})
	return s
}

func (s *Session) Config() Config           { return s.cfg }
func (s *Session) Bus() *events.Bus         { return s.bus }
func (s *Session) Table() *dispatch.Table   { return s.table }
func (s *Session) Registry() *Registry      { return s.registry }
func (s *Session) Latency() *LatencyTracker { return s.latency }
func (s *Session) Clock() clock.Clock       { return s.clock }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsConnected reports whether login completed and the socket is open.
func (s *Session) IsConnected() bool {
	return s.State() == StateConnected
}

// IsLoggingIn reports whether a login attempt is in flight.
func (s *Session) IsLoggingIn() bool {
	st := s.State()
	return st == StateConnecting || st == StateLoggingIn
}

func (s *Session) Principal() Principal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.principal
}

// Features returns capabilities of the server the session last logged in to.
func (s *Session) Features() Features {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.features
}

// LastError is the most recent login failure or forced close.
func (s *Session) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// SetBeforeLogout installs a hook that runs before the logout grace delay
// while the session is still connected.
func (s *Session) SetBeforeLogout(fn func(ctx context.Context)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.beforeLogout = fn
}

// Dispose detaches the session from the bus.
func (s *Session) Dispose() {
	s.bus.Off(s.inbound)
}

// Login connects and authenticates p. It returns once the login reply has
// been dispatched, which also requires the first user list to arrive.
func (s *Session) Login(ctx context.Context, p Principal) error {
	if p == nil {
		return ErrPrincipalRequired
	}
	id := p.Identity()
	if err := CheckServerVersion(id.ServerVersion, s.cfg.MinServerVersion); err != nil {
		return err
	}
	if s.dialer == nil {
		return fmt.Errorf("session: no dialer configured")
	}

	s.mu.Lock()
	if s.state == StateConnecting || s.state == StateLoggingIn {
		s.mu.Unlock()
		return ErrBusyRelogin
	}
	if stale := s.conn; stale != nil {
		// The old socket reports its close asynchronously and will be stale
		// by then, so settle its generation here.
		out := s.closeLocked(transport.CloseNormal, ReasonRelogin, true)
		s.mu.Unlock()
		s.settleClose(out)
		_ = stale.Close(transport.CloseNormal, ReasonRelogin)
		s.mu.Lock()
		if s.state == StateConnecting || s.state == StateLoggingIn {
			s.mu.Unlock()
			return ErrBusyRelogin
		}
	}
	s.detachLocked()
	var changes []StateChange
	changes = s.transitionLocked(changes, StateDisconnected)
	changes = s.transitionLocked(changes, StateConnecting)
	s.principal = p
	s.features = FeaturesFor(id.ServerVersion)
	s.lastErr = nil
	gen := s.gen
	s.mu.Unlock()
	s.publish(changes)

	log := s.log.With().Str("account", id.Account).Str("url", id.SocketURL).Logger()
	log.Info().Msg("connecting")

	conn, err := s.dialer.Dial(ctx, id.SocketURL, transport.Options{
		HandshakeTimeout: s.cfg.ConnectTimeout,
		WriteTimeout:     s.cfg.WriteTimeout,
		ReadLimit:        s.cfg.ReadLimit,
	}, &connHandler{s: s, gen: gen})
	if err != nil {
		s.failLogin(gen, err)
		return fmt.Errorf("session: connect: %w", err)
	}

	s.mu.Lock()
	if s.gen != gen {
		err := s.lastErr
		s.mu.Unlock()
		_ = conn.Close(transport.CloseNormal, ReasonLoginFailed)
		if err == nil {
			err = newDisconnectError(transport.CloseAbnormal, "closed while connecting")
		}
		return err
	}
	s.conn = conn
	s.lastData = s.clock.Now()
	s.seq = NewSequencer(s.table.Dispatch)
	changes = s.transitionLocked(nil, StateLoggingIn)
	s.mu.Unlock()
	s.publish(changes)

	rid := LoginRequestID(s.cfg.DeviceClass, id.Account)
	pending := s.registry.Listen(protocol.DefaultModule, "login", rid, s.cfg.RequestTimeout, nil)
	msg := protocol.New("login", id.ServerName, id.Account, id.PasswordHash, "online")
	msg.RID = rid
	if err := s.Send(ctx, msg); err != nil {
		s.registry.Cancel(pending, err)
		s.failLogin(gen, err)
		return fmt.Errorf("session: send login: %w", err)
	}

	if _, err := pending.Wait(ctx); err != nil {
		if errors.Is(err, ErrRequestRejected) {
			err = ErrLoginFailed
		}
		s.failLogin(gen, err)
		log.Warn().Err(err).Msg("login failed")
		return err
	}

	s.mu.Lock()
	if s.gen != gen {
		err := s.lastErr
		s.mu.Unlock()
		if err == nil {
			err = newDisconnectError(transport.CloseAbnormal, "closed during login")
		}
		return err
	}
	changes = s.transitionLocked(nil, StateConnected)
	s.startPingLocked(gen)
	s.mu.Unlock()
	s.publish(changes)
	log.Info().Msg("logged in")

	if req, err := s.SyncSettings(context.Background()); err != nil {
		log.Warn().Err(err).Msg("sync settings not sent")
	} else {
		go s.awaitBackground(req, "sync settings")
	}
	return nil
}

// Send encodes msg and writes it. It returns once the transport accepted the
// write.
func (s *Session) Send(ctx context.Context, msg *protocol.Message) error {
	s.mu.Lock()
	conn := s.conn
	p := s.principal
	s.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	s.stamp(msg, p)
	raw, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	s.latency.Sent(msg.RID)
	if err := conn.Write(ctx, raw); err != nil {
		return fmt.Errorf("session: write %s: %w", msg.Pathname(), err)
	}
	observability.RecordMessageSent(msg.Pathname())
	s.log.Debug().Str("pathname", msg.Pathname()).Str("rid", msg.RID).Msg("sent")
	return nil
}

// Request registers a listener for msg's reply and sends msg. A missing rid
// is generated. The returned request settles on the first matching reply or
// the request timeout.
func (s *Session) Request(ctx context.Context, msg *protocol.Message, check CheckFunc) (*PendingRequest, error) {
	if msg.Module == "" {
		msg.Module = protocol.DefaultModule
	}
	if msg.RID == "" {
		msg.RID = NewRequestID()
	}
	p := s.registry.Listen(msg.Module, msg.Method, msg.RID, s.cfg.RequestTimeout, check)
	if err := s.Send(ctx, msg); err != nil {
		s.registry.Cancel(p, err)
		return nil, err
	}
	return p, nil
}

// SendAndListen is Request followed by Wait.
func (s *Session) SendAndListen(ctx context.Context, msg *protocol.Message, check CheckFunc) (any, error) {
	p, err := s.Request(ctx, msg, check)
	if err != nil {
		return nil, err
	}
	return p.Wait(ctx)
}

// Logout uploads pending state when connected, waits the grace delay, then
// closes. Without a connection it closes immediately.
func (s *Session) Logout(ctx context.Context) error {
	s.mu.Lock()
	state := s.state
	conn := s.conn
	hook := s.beforeLogout
	s.mu.Unlock()

	if state != StateConnected || conn == nil {
		return s.shutdown(ReasonLogout)
	}
	if hook != nil {
		hook(ctx)
	}
	if s.cfg.LogoutGrace > 0 {
		select {
		case <-s.clock.After(s.cfg.LogoutGrace):
		case <-ctx.Done():
		}
	}
	s.mu.Lock()
	changes := s.transitionLocked(nil, StateClosing)
	s.closeReason = ReasonLogout
	s.mu.Unlock()
	s.publish(changes)

	sendCtx, cancel := context.WithTimeout(context.Background(), s.cfg.WriteTimeout)
	if err := s.Send(sendCtx, protocol.New("logout")); err != nil {
		s.log.Debug().Err(err).Msg("logout not sent")
	}
	cancel()
	return conn.Close(transport.CloseNormal, ReasonLogout)
}

// Close closes the connection with reason. Kickoff and explicit closes are
// graceful; anything else is treated as unexpected.
func (s *Session) Close(reason string) error {
	graceful := reason == ReasonClose || reason == ReasonKickoff || reason == ReasonLogout
	s.mu.Lock()
	conn := s.conn
	var changes []StateChange
	if graceful && conn != nil {
		changes = s.transitionLocked(nil, StateClosing)
		s.closeReason = reason
	}
	if reason == ReasonKickoff {
		s.lastErr = ErrKickoff
	}
	s.mu.Unlock()
	s.publish(changes)
	if conn == nil {
		if graceful {
			return s.shutdown(reason)
		}
		return nil
	}
	return conn.Close(transport.CloseNormal, reason)
}

// shutdown closes gracefully whether or not a connection exists.
func (s *Session) shutdown(reason string) error {
	s.mu.Lock()
	gen := s.gen
	conn := s.conn
	var changes []StateChange
	if conn != nil {
		changes = s.transitionLocked(nil, StateClosing)
		s.closeReason = reason
	}
	s.mu.Unlock()
	s.publish(changes)
	if conn != nil {
		return conn.Close(transport.CloseNormal, reason)
	}
	s.finishClose(gen, transport.CloseNormal, reason, true)
	return nil
}

// failLogin tears down a login attempt that did not reach Connected.
func (s *Session) failLogin(gen uint64, err error) {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	conn := s.detachLocked()
	s.lastErr = err
	changes := s.transitionLocked(nil, StateDisconnected)
	s.mu.Unlock()
	s.publish(changes)
	if conn != nil {
		_ = conn.Close(transport.CloseNormal, ReasonLoginFailed)
	}
}

func (s *Session) handleData(gen uint64, raw []byte) {
	s.inMu.Lock()
	defer s.inMu.Unlock()

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	s.lastData = s.clock.Now()
	s.mu.Unlock()

	decoded := protocol.DecodeReport(raw)
	observability.RecordDecodeDropped(decoded.Dropped)
	for _, msg := range decoded.Messages {
		if !s.current(gen) {
			return
		}
		s.handleMessage(msg)
	}
}

func (s *Session) current(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen == gen
}

func (s *Session) handleMessage(msg *protocol.Message) {
	pathname := msg.Pathname()
	observability.RecordMessageReceived(pathname)
	if d, ok := s.latency.Received(msg.RID); ok {
		observability.RecordRequestLatency(pathname, d)
		s.log.Debug().Str("pathname", pathname).Dur("rtt", d).Bool("ok", msg.IsSuccess()).Msg("reply")
	}

	s.mu.Lock()
	seq := s.seq
	s.mu.Unlock()
	if seq == nil {
		s.table.Dispatch(msg)
		return
	}
	if seq.Push(msg) {
		s.mu.Lock()
		if s.seq == seq {
			s.seq = nil
		}
		s.mu.Unlock()
	}
}

func (s *Session) handleClose(gen uint64, code int, reason string) {
	s.finishClose(gen, code, reason, false)
}

// closeOutcome is what a finished connection leaves to settle outside the
// lock.
type closeOutcome struct {
	changes   []StateChange
	principal Principal
	event     CloseEvent
}

// finishClose settles everything tied to connection gen. A close is
// unexpected unless the session was Closing or graceful is set.
func (s *Session) finishClose(gen uint64, code int, reason string, graceful bool) {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	out := s.closeLocked(code, reason, graceful)
	s.mu.Unlock()
	s.settleClose(out)
}

// closeLocked detaches the current connection and moves to Disconnected. A
// close the session already asked for keeps its original reason.
func (s *Session) closeLocked(code int, reason string, graceful bool) closeOutcome {
	prev := s.state
	if prev == StateClosing && s.closeReason != "" {
		reason = s.closeReason
	}
	s.detachLocked()
	unexpected := !graceful && prev != StateClosing
	duringLogin := prev == StateConnecting || prev == StateLoggingIn

	var err error
	switch {
	case reason == ReasonKickoff:
		err = ErrKickoff
		s.lastErr = err
	case duringLogin || unexpected:
		err = newDisconnectError(code, reason)
		if duringLogin {
			s.lastErr = err
		}
	default:
		err = fmt.Errorf("%w: %s", ErrClosed, reason)
	}
	return closeOutcome{
		changes:   s.transitionLocked(nil, StateDisconnected),
		principal: s.principal,
		event: CloseEvent{
			Code:        code,
			Reason:      reason,
			Unexpected:  unexpected,
			DuringLogin: duringLogin,
			Err:         err,
			Principal:   s.principal,
		},
	}
}

func (s *Session) settleClose(out closeOutcome) {
	s.publish(out.changes)
	ev := out.event
	rejected := s.registry.RejectAll(ev.Err)
	if p := out.principal; p != nil && p.IsOnline() {
		if ev.Unexpected {
			p.MarkDisconnect()
		} else {
			p.MarkUnverified()
		}
	}
	s.log.Info().
		Int("code", ev.Code).
		Str("reason", ev.Reason).
		Bool("unexpected", ev.Unexpected).
		Int("rejected", rejected).
		Msg("socket closed")
	s.bus.Emit(events.EventClose, ev)
}

// detachLocked drops the current connection and invalidates its callbacks.
func (s *Session) detachLocked() transport.Conn {
	conn := s.conn
	s.conn = nil
	s.seq = nil
	s.closeReason = ""
	s.stopPingLocked()
	s.gen++
	return conn
}

func (s *Session) transitionLocked(changes []StateChange, to State) []StateChange {
	from := s.state
	if from == to {
		return changes
	}
	if !CanTransition(from, to) {
		s.log.Error().Str("from", from.String()).Str("to", to.String()).Err(ErrInvalidTransition).Msg("state")
		return changes
	}
	s.state = to
	observability.RecordStateTransition(from.String(), to.String())
	return append(changes, StateChange{From: from, To: to})
}

func (s *Session) publish(changes []StateChange) {
	for _, c := range changes {
		s.bus.Emit(events.EventStateChange, c)
	}
}

func (s *Session) stamp(msg *protocol.Message, p Principal) {
	if msg.Module == "" {
		msg.Module = protocol.DefaultModule
	}
	if msg.Version == "" {
		msg.Version = s.cfg.ClientVersion
	}
	if msg.Lang == "" {
		msg.Lang = s.cfg.Lang
	}
	if msg.UserID == 0 && p != nil && msg.Pathname() != PathLogin {
		msg.UserID = p.Identity().ID
	}
}

func (s *Session) awaitBackground(p *PendingRequest, what string) {
	if _, err := p.Wait(context.Background()); err != nil {
		s.log.Debug().Err(err).Str("request", what).Msg("background request failed")
	}
}

type connHandler struct {
	s   *Session
	gen uint64
}

func (h *connHandler) OnData(raw []byte) { h.s.handleData(h.gen, raw) }

func (h *connHandler) OnClose(code int, reason string) { h.s.handleClose(h.gen, code, reason) }
