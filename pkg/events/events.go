package events

import (
	"context"
	"sync"
	"time"

	"github.com/loft-sh/log"
)

const subscriberBufferCap = 128

type EventType string

const (
	EventTypeStarting              EventType = "STARTING"
	EventTypeRunning               EventType = "RUNNING"
	EventTypeStopping              EventType = "STOPPING"
	EventTypeStopped               EventType = "STOPPED"
	EventTypeError                 EventType = "ERROR"
	EventTypeSnapshotCreated       EventType = "SNAPSHOT_CREATED"
	EventTypeSnapshotCreationError EventType = "SNAPSHOT_CREATION_ERROR"
)

// WorkspaceStatusEvent is published whenever a workspace changes its status
type WorkspaceStatusEvent struct {
	EventType   EventType `json:"eventType"`
	WorkspaceID string    `json:"workspaceId"`
	Error       string    `json:"error,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Publisher publishes workspace status events
type Publisher interface {
	Publish(event WorkspaceStatusEvent)
}

// Bus fans out published events to all subscribers. Publishing never blocks,
// events are dropped for subscribers whose buffer is full.
type Bus struct {
	log log.Logger

	mu     sync.Mutex
	subs   map[uint64]chan WorkspaceStatusEvent
	nextID uint64
	closed bool
}

var _ Publisher = (*Bus)(nil)

func NewBus(logger log.Logger) *Bus {
	return &Bus{
		log:  logger,
		subs: map[uint64]chan WorkspaceStatusEvent{},
	}
}

func (b *Bus) Publish(event WorkspaceStatusEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}

	b.log.Debugf("publish %s event for workspace %s", event.EventType, event.WorkspaceID)
	for id, sub := range b.subs {
		select {
		case sub <- event:
		default:
			b.log.Debugf("drop %s event for slow subscriber %d", event.EventType, id)
		}
	}
}

// Subscribe returns a channel that receives all events published after the
// call. The channel is closed once ctx is done or the bus is closed.
func (b *Bus) Subscribe(ctx context.Context) <-chan WorkspaceStatusEvent {
	ch := make(chan WorkspaceStatusEvent, subscriberBufferCap)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.unsubscribe(id)
	}()
	return ch
}

// Close closes all subscriber channels, later publishes are ignored
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}

	b.closed = true
	for id, sub := range b.subs {
		delete(b.subs, id)
		close(sub)
	}
}

func (b *Bus) unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub, ok := b.subs[id]
	if ok {
		delete(b.subs, id)
		close(sub)
	}
}
