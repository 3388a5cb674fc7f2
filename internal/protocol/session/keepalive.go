package session

import (
	"context"

	"github.com/danmuck/chatlink/internal/protocol"
)

// startPingLocked schedules idle checks every half ping interval for
// connection gen.
func (s *Session) startPingLocked(gen uint64) {
	s.stopPingLocked()
	interval := s.cfg.PingInterval
	if interval <= 0 {
		return
	}
	s.pingTimer = s.clock.AfterFunc(interval/2, func() { s.pingTick(gen) })
}

func (s *Session) stopPingLocked() {
	if s.pingTimer != nil {
		s.pingTimer.Stop()
		s.pingTimer = nil
	}
}

func (s *Session) pingTick(gen uint64) {
	s.mu.Lock()
	if s.gen != gen || s.state != StateConnected {
		s.mu.Unlock()
		return
	}
	interval := s.cfg.PingInterval
	idle := s.clock.Now().Sub(s.lastData)
	p := s.principal
	if idle <= 2*interval {
		s.startPingLocked(gen)
	}
	s.mu.Unlock()

	switch {
	case idle > 2*interval:
		s.log.Warn().Dur("idle", idle).Msg("ping timeout")
		if p != nil {
			p.MarkDisconnect()
		}
		_ = s.Close(ReasonPingTimeout)
	case idle > interval:
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.WriteTimeout)
		defer cancel()
		if err := s.Send(ctx, protocol.New("ping")); err != nil {
			s.log.Debug().Err(err).Msg("ping not sent")
		}
	}
}
