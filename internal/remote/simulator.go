package remote

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Simulator is an in-process Deployer for demos and tests without a host.
type Simulator struct {
	Delay time.Duration

	mu    sync.Mutex
	image string
}

var _ Deployer = (*Simulator)(nil)

func NewSimulator(delay time.Duration) *Simulator {
	return &Simulator{Delay: delay}
}

func (s *Simulator) wait(ctx context.Context) error {
	if s.Delay <= 0 {
		return nil
	}
	t := time.NewTimer(s.Delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (s *Simulator) switchTo(ctx context.Context, image string) (string, error) {
	if err := ValidateImage(image); err != nil {
		return "", err
	}
	if err := s.wait(ctx); err != nil {
		return "", err
	}
	s.mu.Lock()
	s.image = image
	s.mu.Unlock()
	return fmt.Sprintf("[simulated] container running %s", image), nil
}

func (s *Simulator) Deploy(ctx context.Context, image string) (string, error) {
	return s.switchTo(ctx, image)
}

func (s *Simulator) DeployWithImage(ctx context.Context, image, _ string) (string, error) {
	return s.switchTo(ctx, image)
}

func (s *Simulator) Rollback(ctx context.Context, image string) (string, error) {
	return s.switchTo(ctx, image)
}

func (s *Simulator) ImageExists(_ context.Context, image string) (bool, error) {
	return ValidateImage(image) == nil, nil
}

func (s *Simulator) HealthCheck(context.Context) (bool, error) { return true, nil }

func (s *Simulator) ContainerStatus(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.image == "" {
		return StatusNotRunning, nil
	}
	return "Up (simulated) " + s.image, nil
}

func (s *Simulator) Logs(_ context.Context, lines int) (string, error) {
	return fmt.Sprintf("[simulated] last %d log lines unavailable in simulate mode", lines), nil
}

func (s *Simulator) TestConnection(context.Context) (bool, error) { return true, nil }

func (s *Simulator) Upload(context.Context, string, string) error { return nil }

// Image returns the image the simulated container runs.
func (s *Simulator) Image() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.image
}
