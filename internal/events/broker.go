package events

import (
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/yz4230/shipyard/internal/entity"
)

var droppedEvents = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "shipyard",
	Subsystem: "events",
	Name:      "dropped_total",
	Help:      "Events dropped because a queue was full.",
}, []string{"queue"})

const (
	defaultQueueSize      = 256
	defaultSubscriberSize = 64
)

// Broker decouples publishers from subscribers. Publishing never blocks: the
// orchestrator writes into a bounded queue and Run fans events out.
type Broker struct {
	queue chan Event
	log   zerolog.Logger

	mu     sync.RWMutex
	nextID int
	subs   map[int]*subscription
}

type subscription struct {
	pipelineID entity.ID
	ch         chan Event
}

func NewBroker(log zerolog.Logger) *Broker {
	return &Broker{
		queue: make(chan Event, defaultQueueSize),
		log:   log,
		subs:  make(map[int]*subscription),
	}
}

// Publish implements Publisher.
func (b *Broker) Publish(e Event) {
	select {
	case b.queue <- e:
	default:
		droppedEvents.WithLabelValues("outbound").Inc()
		b.log.Warn().Str("event", string(e.Name)).Str("pipeline_id", e.PipelineID.String()).Msg("event queue full, dropping event")
	}
}

// Subscribe registers a listener. An empty pipelineID receives every event.
// The returned function unsubscribes and closes the channel.
func (b *Broker) Subscribe(pipelineID entity.ID) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	sub := &subscription{pipelineID: pipelineID, ch: make(chan Event, defaultSubscriberSize)}
	b.subs[id] = sub

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs, id)
			close(sub.ch)
		})
	}
}

// Run drains the queue until ctx is done.
func (b *Broker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-b.queue:
			b.broadcast(e)
		}
	}
}

func (b *Broker) broadcast(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs {
		if sub.pipelineID != "" && sub.pipelineID != e.PipelineID {
			continue
		}
		select {
		case sub.ch <- e:
		default:
			droppedEvents.WithLabelValues("subscriber").Inc()
		}
	}
}
