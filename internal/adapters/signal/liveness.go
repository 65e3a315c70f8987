package signal

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/dkeye/syncroom/internal/core"
	"github.com/dkeye/syncroom/internal/metrics"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/pool"
)

const sweepWorkers = 16

// Pinger is a connection the liveness sweep can check.
type Pinger interface {
	ID() core.SessionID
	MarkAwaiting() bool
	Ping() error
	Terminate()
}

// Supervisor terminates connections that did not answer the previous
// transport ping and pings the rest.
type Supervisor struct {
	period  time.Duration
	conns   func() []Pinger
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

func NewSupervisor(period time.Duration, conns func() []Pinger, m *metrics.Metrics) *Supervisor {
	return &Supervisor{
		period:  period,
		conns:   conns,
		metrics: m,
		logger:  log.With().Str("module", "signal.liveness").Logger(),
	}
}

// Run sweeps every period until ctx is done.
func (s *Supervisor) Run(ctx context.Context) {
	ticker := time.NewTicker(s.period)
	defer ticker.Stop()
	s.logger.Info().Dur("period", s.period).Msg("liveness supervisor started")
	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("liveness supervisor stopped")
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// Sweep pings every connection once and returns how many were terminated.
func (s *Supervisor) Sweep() int {
	var terminated atomic.Int64
	p := pool.New().WithMaxGoroutines(sweepWorkers)
	for _, c := range s.conns() {
		p.Go(func() {
			if !c.MarkAwaiting() {
				s.logger.Info().Str("sid", string(c.ID())).Msg("no pong since last ping, terminating")
				c.Terminate()
				terminated.Add(1)
				return
			}
			if err := c.Ping(); err != nil {
				s.logger.Debug().Err(err).Str("sid", string(c.ID())).Msg("ping failed")
			}
		})
	}
	p.Wait()

	n := int(terminated.Load())
	s.metrics.Reaped(n)
	return n
}
