package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Sink ships domain events to systems outside this process.
type Sink interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// EnvelopeMeta is the metadata block of an integration message.
type EnvelopeMeta struct {
	ID             string    `json:"id"`
	Type           EventType `json:"type"`
	Source         string    `json:"source"`
	OccurredAt     time.Time `json:"occurred_at"`
	ConversationID int64     `json:"conversation_id,omitempty"`
	Actor          Actor     `json:"actor"`
}

// Envelope is the wire shape written to Kafka or RabbitMQ.
type Envelope struct {
	Meta EnvelopeMeta `json:"meta"`
	Data interface{}  `json:"data"`
}

// Encode wraps an event in an envelope and marshals it.
func Encode(source string, event Event) ([]byte, error) {
	return json.Marshal(Envelope{
		Meta: EnvelopeMeta{
			ID:             event.ID,
			Type:           event.Type,
			Source:         source,
			OccurredAt:     event.Timestamp,
			ConversationID: event.ConversationID,
			Actor:          event.Actor,
		},
		Data: event.Payload,
	})
}

// Forwarder copies every dispatched event onto a Sink from a background goroutine so slow
// brokers never hold up connection handling. Events are dropped, with a warning, when the
// buffer is full.
type Forwarder struct {
	sink    Sink
	logger  *zap.Logger
	queue   chan Event
	timeout time.Duration
	wg      sync.WaitGroup
	mu      sync.RWMutex
	closed  bool
}

// NewForwarder subscribes to every event type on d.
func NewForwarder(d Dispatcher, sink Sink, buffer int, logger *zap.Logger) *Forwarder {
	if buffer <= 0 {
		buffer = 1024
	}
	f := &Forwarder{
		sink:    sink,
		logger:  logger.Named("event-forwarder"),
		queue:   make(chan Event, buffer),
		timeout: 5 * time.Second,
	}
	SubscribeAll(d, f.enqueue)
	return f
}

func (f *Forwarder) enqueue(_ context.Context, event Event) error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return nil
	}
	select {
	case f.queue <- event:
	default:
		f.logger.Warn("event sink buffer full; dropping event",
			zap.String("event_type", string(event.Type)),
			zap.String("event_id", event.ID))
	}
	return nil
}

// Start runs the delivery loop until ctx is cancelled or Close is called.
func (f *Forwarder) Start(ctx context.Context) {
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-f.queue:
				if !ok {
					return
				}
				f.deliver(ctx, event)
			}
		}
	}()
}

func (f *Forwarder) deliver(ctx context.Context, event Event) {
	pubCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()
	if err := f.sink.Publish(pubCtx, event); err != nil {
		f.logger.Warn("publish to event sink failed",
			zap.String("event_type", string(event.Type)),
			zap.String("event_id", event.ID),
			zap.Error(err))
	}
}

// Close stops the loop and closes the sink.
func (f *Forwarder) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	close(f.queue)
	f.mu.Unlock()

	f.wg.Wait()
	return f.sink.Close()
}
