// Package eventbus provides the in-process bus that carries plan lifecycle events.
package eventbus

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/google/uuid"
)

// ChannelEventBus is an implementation of EventBus using Go channels
type ChannelEventBus struct {
	subscribers    map[EventType]map[string]EventHandler
	allSubscribers map[string]EventHandler

	eventChan chan queuedEvent
	done      chan struct{}
	closed    bool
	wg        sync.WaitGroup

	// mutex protects the subscriber maps and the closed flag
	mutex sync.RWMutex

	bufferSize    int
	workerCount   int
	maxRetries    int
	retryInterval time.Duration
	logger        *slog.Logger
}

type queuedEvent struct {
	ctx   context.Context
	event Event
}

// ChannelEventBusOption configures the channel-based event bus
type ChannelEventBusOption func(*ChannelEventBus)

// WithBufferSize sets the event channel buffer size
func WithBufferSize(size int) ChannelEventBusOption {
	return func(eb *ChannelEventBus) {
		eb.bufferSize = size
	}
}

// WithWorkerCount sets the number of event processing workers
func WithWorkerCount(count int) ChannelEventBusOption {
	return func(eb *ChannelEventBus) {
		eb.workerCount = count
	}
}

// WithRetries configures the retry behavior for event handlers
func WithRetries(maxRetries int, retryInterval time.Duration) ChannelEventBusOption {
	return func(eb *ChannelEventBus) {
		eb.maxRetries = maxRetries
		eb.retryInterval = retryInterval
	}
}

// WithLogger sets the logger used for handler failures
func WithLogger(logger *slog.Logger) ChannelEventBusOption {
	return func(eb *ChannelEventBus) {
		eb.logger = logger
	}
}

// NewChannelEventBus creates a bus and starts its workers
func NewChannelEventBus(options ...ChannelEventBusOption) *ChannelEventBus {
	eb := &ChannelEventBus{
		subscribers:    make(map[EventType]map[string]EventHandler),
		allSubscribers: make(map[string]EventHandler),
		done:           make(chan struct{}),
		bufferSize:     100,
		workerCount:    2,
		maxRetries:     1,
		retryInterval:  50 * time.Millisecond,
		logger:         slog.Default(),
	}
	for _, option := range options {
		option(eb)
	}
	if eb.workerCount < 1 {
		eb.workerCount = 1
	}

	eb.eventChan = make(chan queuedEvent, eb.bufferSize)
	for i := 0; i < eb.workerCount; i++ {
		eb.wg.Add(1)
		go eb.worker()
	}
	return eb
}

func (eb *ChannelEventBus) worker() {
	defer eb.wg.Done()
	for {
		select {
		case <-eb.done:
			return
		case evt := <-eb.eventChan:
			eb.dispatch(evt)
		}
	}
}

// dispatch copies the handler sets so handlers may (un)subscribe without deadlocking
func (eb *ChannelEventBus) dispatch(evt queuedEvent) {
	if evt.ctx.Err() != nil {
		return
	}

	eb.mutex.RLock()
	handlers := make([]EventHandler, 0, len(eb.subscribers[evt.event.Type()])+len(eb.allSubscribers))
	for _, h := range eb.subscribers[evt.event.Type()] {
		handlers = append(handlers, h)
	}
	for _, h := range eb.allSubscribers {
		handlers = append(handlers, h)
	}
	eb.mutex.RUnlock()

	for _, h := range handlers {
		eb.runHandler(evt.ctx, evt.event, h)
	}
}

func (eb *ChannelEventBus) runHandler(ctx context.Context, event Event, handler EventHandler) {
	var err error
	for attempt := 0; attempt <= eb.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return
		}
		if err = handler(ctx, event); err == nil {
			return
		}
		if attempt == eb.maxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return
		case <-eb.done:
			return
		case <-time.After(eb.retryInterval):
		}
	}
	eb.logger.Warn("event handler failed",
		"event_type", string(event.Type()),
		"retries", eb.maxRetries,
		"error", err)
}

func errClosed() error {
	return errbuilder.GenericErr("event bus is closed", nil)
}

// Publish queues an event; it blocks only while the buffer is full
func (eb *ChannelEventBus) Publish(ctx context.Context, event Event) error {
	eb.mutex.RLock()
	closed := eb.closed
	eb.mutex.RUnlock()
	if closed {
		return errClosed()
	}

	select {
	case <-ctx.Done():
		return errbuilder.WrapIfContextDone(ctx, ctx.Err())
	case <-eb.done:
		return errClosed()
	case eb.eventChan <- queuedEvent{ctx: ctx, event: event}:
		return nil
	}
}

// Subscribe registers a handler for specific event types
func (eb *ChannelEventBus) Subscribe(eventTypes []EventType, handler EventHandler) (string, error) {
	if handler == nil {
		return "", errbuilder.GenericErr("handler cannot be nil", nil)
	}
	if len(eventTypes) == 0 {
		return "", errbuilder.GenericErr("at least one event type is required", nil)
	}

	eb.mutex.Lock()
	defer eb.mutex.Unlock()
	if eb.closed {
		return "", errClosed()
	}

	id := uuid.New().String()
	for _, t := range eventTypes {
		if _, ok := eb.subscribers[t]; !ok {
			eb.subscribers[t] = make(map[string]EventHandler)
		}
		eb.subscribers[t][id] = handler
	}
	return id, nil
}

// SubscribeAll registers a handler for all event types
func (eb *ChannelEventBus) SubscribeAll(handler EventHandler) (string, error) {
	if handler == nil {
		return "", errbuilder.GenericErr("handler cannot be nil", nil)
	}

	eb.mutex.Lock()
	defer eb.mutex.Unlock()
	if eb.closed {
		return "", errClosed()
	}

	id := uuid.New().String()
	eb.allSubscribers[id] = handler
	return id, nil
}

// Unsubscribe removes a subscription by ID
func (eb *ChannelEventBus) Unsubscribe(subscriptionID string) error {
	eb.mutex.Lock()
	defer eb.mutex.Unlock()
	if eb.closed {
		return errClosed()
	}

	delete(eb.allSubscribers, subscriptionID)
	for _, subs := range eb.subscribers {
		delete(subs, subscriptionID)
	}
	return nil
}

// Close stops all workers. It is safe to call more than once.
func (eb *ChannelEventBus) Close() error {
	eb.mutex.Lock()
	if eb.closed {
		eb.mutex.Unlock()
		return nil
	}
	eb.closed = true
	eb.mutex.Unlock()

	close(eb.done)
	eb.wg.Wait()
	return nil
}
