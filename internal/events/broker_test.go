package events

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case e, ok := <-ch:
		require.True(t, ok, "channel closed")
		return e
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
	return Event{}
}

func TestBrokerRoutesByPipeline(t *testing.T) {
	b := NewBroker(zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx)

	all, unsubAll := b.Subscribe("")
	defer unsubAll()
	one, unsubOne := b.Subscribe("1")
	defer unsubOne()

	b.Publish(New(PipelineStarted, "2"))
	b.Publish(New(StepStarted, "1").WithOutput("cloning"))

	assert.Equal(t, PipelineStarted, receive(t, all).Name)
	assert.Equal(t, StepStarted, receive(t, all).Name)

	got := receive(t, one)
	assert.Equal(t, StepStarted, got.Name)
	assert.Equal(t, "cloning", got.Output)
	assert.NotEmpty(t, got.ID)
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := NewBroker(zerolog.Nop())
	ch, unsub := b.Subscribe("")
	unsub()
	unsub()

	_, ok := <-ch
	assert.False(t, ok)
}

func TestPublishNeverBlocks(t *testing.T) {
	b := NewBroker(zerolog.Nop())
	done := make(chan struct{})
	go func() {
		for i := 0; i < defaultQueueSize*2; i++ {
			b.Publish(New(StepCompleted, "1"))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full queue")
	}
}
