// Package messaging provides inbound event routing for stateful intake
// conversations.
package messaging

import (
	"context"
	"log/slog"
	"sync"

	"github.com/BTreeMap/IntakePipe/internal/models"
)

// userQueueBuffer sizes each per-user event queue. A burst beyond this from
// one user is dropped rather than stalling the intake loop.
const userQueueBuffer = 16

// EventSink consumes canonicalized inbound events. The intake engine
// implements it; the interface lives here to avoid a circular import.
type EventSink interface {
	OnTextEvent(ctx context.Context, ev models.TextEvent) error
	OnChoiceEvent(ctx context.Context, ev models.ChoiceEvent) error
}

// routedEvent is either a text or a choice event, never both.
type routedEvent struct {
	text   *models.TextEvent
	choice *models.ChoiceEvent
}

// EventRouter pumps inbound events from a messaging service into the sink.
// Events are fanned out to one ordered queue per user, so a single user's
// events are processed strictly in arrival order while distinct users
// proceed in parallel.
type EventRouter struct {
	svc  Service
	sink EventSink

	// queues holds one ordered queue per canonical sender. Entries are
	// never evicted; growth is bounded by the distinct-sender population.
	mu     sync.Mutex
	queues map[string]chan routedEvent
}

// NewEventRouter creates a router from the given service into the sink.
func NewEventRouter(svc Service, sink EventSink) *EventRouter {
	return &EventRouter{
		svc:    svc,
		sink:   sink,
		queues: make(map[string]chan routedEvent),
	}
}

// Start begins routing events until the context is cancelled or the service
// channels close.
func (r *EventRouter) Start(ctx context.Context) {
	slog.Info("EventRouter starting event processing")
	go func() {
		defer slog.Info("EventRouter stopped event processing")
		texts := r.svc.TextEvents()
		choices := r.svc.ChoiceEvents()
		for {
			select {
			case ev, ok := <-texts:
				if !ok {
					texts = nil
					if choices == nil {
						return
					}
					continue
				}
				r.route(ctx, ev.UserID, routedEvent{text: &ev})
			case ev, ok := <-choices:
				if !ok {
					choices = nil
					if texts == nil {
						return
					}
					continue
				}
				r.route(ctx, ev.UserID, routedEvent{choice: &ev})
			case <-ctx.Done():
				return
			}
		}
	}()
}

// route canonicalizes the sender and enqueues the event on their queue.
func (r *EventRouter) route(ctx context.Context, from string, ev routedEvent) {
	canonical, err := r.svc.ValidateAndCanonicalizeRecipient(from)
	if err != nil {
		slog.Warn("EventRouter dropping event with invalid sender", "error", err, "from", from)
		return
	}
	if ev.text != nil {
		ev.text.UserID = canonical
	}
	if ev.choice != nil {
		ev.choice.UserID = canonical
	}

	queue := r.queueFor(ctx, canonical)
	select {
	case queue <- ev:
	default:
		slog.Warn("EventRouter user queue full, dropping event", "userID", canonical)
	}
}

// queueFor returns the user's ordered queue, starting its worker on first
// use.
func (r *EventRouter) queueFor(ctx context.Context, userID string) chan routedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	queue, ok := r.queues[userID]
	if ok {
		return queue
	}
	queue = make(chan routedEvent, userQueueBuffer)
	r.queues[userID] = queue
	go r.drainQueue(ctx, userID, queue)
	slog.Debug("EventRouter started user queue", "userID", userID)
	return queue
}

// drainQueue processes one user's events in arrival order.
func (r *EventRouter) drainQueue(ctx context.Context, userID string, queue chan routedEvent) {
	for {
		select {
		case ev := <-queue:
			r.dispatch(ctx, userID, ev)
		case <-ctx.Done():
			return
		}
	}
}

// dispatch hands one event to the sink; sink errors are logged, never fatal.
func (r *EventRouter) dispatch(ctx context.Context, userID string, ev routedEvent) {
	var err error
	switch {
	case ev.text != nil:
		err = r.sink.OnTextEvent(ctx, *ev.text)
	case ev.choice != nil:
		err = r.sink.OnChoiceEvent(ctx, *ev.choice)
	}
	if err != nil {
		slog.Error("EventRouter sink failed to process event", "error", err, "userID", userID)
	}
}
