package im

import (
	"context"
	"errors"
	"math/rand"

	"github.com/danmuck/chatlink/internal/events"
	"github.com/danmuck/chatlink/internal/protocol/session"
)

// Supervise reconnects after unexpected closes until ctx ends. Kickoff,
// logout and a disabled user.autoReconnect setting stop reconnection for
// that close. Version and credential failures end supervision with the
// error.
func (c *Client) Supervise(ctx context.Context) error {
	closes := make(chan session.CloseEvent, 16)
	h := c.bus.On(events.EventClose, func(payload any) {
		ev, ok := payload.(session.CloseEvent)
		if !ok {
			return
		}
		select {
		case closes <- ev:
		default:
		}
	})
	defer c.bus.Off(h)

	rng := rand.New(rand.NewSource(c.clock.Now().UnixNano()))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-closes:
			if !c.shouldReconnect(ev) {
				continue
			}
			if err := c.reconnect(ctx, rng); err != nil {
				return err
			}
			drain(closes)
		}
	}
}

func (c *Client) shouldReconnect(ev session.CloseEvent) bool {
	if !ev.Unexpected || errors.Is(ev.Err, session.ErrKickoff) {
		return false
	}
	if c.User() == nil || !c.settings.Bool(SettingAutoReconnect, true) {
		return false
	}
	st := c.session.State()
	return st == session.StateDisconnected
}

func (c *Client) reconnect(ctx context.Context, rng *rand.Rand) error {
	cfg := c.session.Config().Backoff
	for attempt := 1; ; attempt++ {
		delay := cfg.Delay(attempt, rng)
		c.log.Info().Int("attempt", attempt).Dur("delay", delay).Msg("reconnecting")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.clock.After(delay):
		}
		u := c.User()
		if u == nil {
			return nil
		}
		err := c.Login(ctx, u)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, session.ErrVersionUnsupported),
			errors.Is(err, session.ErrVersionUnknown),
			errors.Is(err, session.ErrLoginFailed):
			return err
		case ctx.Err() != nil:
			return ctx.Err()
		}
		c.log.Warn().Err(err).Int("attempt", attempt).Msg("reconnect failed")
	}
}

func drain(ch chan session.CloseEvent) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}
