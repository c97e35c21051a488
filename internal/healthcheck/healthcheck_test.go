package healthcheck

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yz4230/shipyard/internal/entity"
)

type fakeClock struct {
	slept time.Duration
	calls int
}

func (c *fakeClock) sleep(_ context.Context, d time.Duration) error {
	c.slept += d
	c.calls++
	return nil
}

func TestHealthyOnFifthAttempt(t *testing.T) {
	clock := &fakeClock{}
	probes := 0
	probe := func(context.Context) (bool, error) {
		probes++
		return probes == 5, nil
	}

	out, err := Wait(context.Background(), Policy{Interval: 10 * time.Second, Attempts: 12}, probe, clock.sleep)
	require.NoError(t, err)
	assert.True(t, out.Healthy)
	assert.Equal(t, 5, out.Attempts)
	assert.Equal(t, 50*time.Second, out.Elapsed)
	assert.Equal(t, 50*time.Second, clock.slept)
}

func TestExhaustedAfterMaxAttempts(t *testing.T) {
	clock := &fakeClock{}
	probes := 0
	probe := func(context.Context) (bool, error) {
		probes++
		if probes%2 == 0 {
			return false, errors.New("connection refused")
		}
		return false, nil
	}

	out, err := Wait(context.Background(), Policy{Interval: 10 * time.Second, Attempts: 12}, probe, clock.sleep)
	require.ErrorIs(t, err, entity.ErrHealthCheckExhausted)
	assert.False(t, out.Healthy)
	assert.Equal(t, 12, probes)
	assert.Equal(t, 12, out.Attempts)
	assert.Equal(t, 12, clock.calls)
}

func TestSleepHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Wait(ctx, Policy{Interval: time.Hour, Attempts: 3}, func(context.Context) (bool, error) {
		t.Fatal("probe must not run")
		return false, nil
	}, nil)
	assert.ErrorIs(t, err, context.Canceled)
}
