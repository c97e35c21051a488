// Package healthcheck implements the bounded probe loop shared by the
// Health Check step and rollbacks.
package healthcheck

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/yz4230/shipyard/internal/entity"
)

// Policy bounds the loop: at most Attempts probes, Interval apart.
type Policy struct {
	Interval time.Duration `yaml:"interval"`
	Attempts int           `yaml:"attempts"`
}

func (p Policy) Budget() time.Duration { return time.Duration(p.Attempts) * p.Interval }

// Probe reports whether the target is healthy. Errors count as unhealthy.
type Probe func(ctx context.Context) (bool, error)

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type Outcome struct {
	Healthy  bool
	Attempts int
	// Elapsed is the nominal wait, Attempts × Interval.
	Elapsed time.Duration
}

// Wait sleeps one interval before every probe and stops at the first healthy
// answer. It returns entity.ErrHealthCheckExhausted once the budget is spent.
func Wait(ctx context.Context, policy Policy, probe Probe, sleep SleepFunc) (Outcome, error) {
	log := zerolog.Ctx(ctx)
	if sleep == nil {
		sleep = Sleep
	}
	var out Outcome
	for i := 1; i <= policy.Attempts; i++ {
		if err := sleep(ctx, policy.Interval); err != nil {
			return out, err
		}
		out.Attempts = i
		out.Elapsed = time.Duration(i) * policy.Interval

		healthy, err := probe(ctx)
		if err != nil {
			log.Debug().Err(err).Int("attempt", i).Msg("health probe failed")
		}
		log.Debug().Int("attempt", i).Int("max", policy.Attempts).Bool("healthy", healthy).Msg("health check attempt")
		if healthy {
			out.Healthy = true
			return out, nil
		}
	}
	return out, fmt.Errorf("%w: no healthy response after %d attempts (%s)",
		entity.ErrHealthCheckExhausted, policy.Attempts, policy.Budget())
}
