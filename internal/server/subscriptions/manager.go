// Package subscriptions fans element change events out to standing
// subscriptions, delivered by webhook or WebSocket.
package subscriptions

import (
	"context"
	"log/slog"
	"maps"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/systemshift/reqgraph/internal/element"
	"github.com/systemshift/reqgraph/internal/logging"
)

const defaultQueueSize = 1000

// Manager handles subscription lifecycle and event processing
type Manager struct {
	logger   *slog.Logger
	notifier *Notifier
	queue    int

	mu            sync.RWMutex
	subscriptions map[string]*Subscription

	eventChan chan Event
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	stopOnce  sync.Once
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithQueueSize sets how many events may wait before new ones are dropped.
func WithQueueSize(n int) Option {
	return func(m *Manager) { m.queue = n }
}

// WithWebhookBackoff sets the delay before each webhook retry.
func WithWebhookBackoff(fn func(attempt int) time.Duration) Option {
	return func(m *Manager) { m.notifier.backoff = fn }
}

// NewManager creates a new subscription manager. Call Start before
// emitting events.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		logger:        logging.Discard(),
		queue:         defaultQueueSize,
		subscriptions: make(map[string]*Subscription),
	}
	m.notifier = NewNotifier(m.logger)
	for _, opt := range opts {
		opt(m)
	}
	m.notifier.logger = m.logger
	m.eventChan = make(chan Event, m.queue)
	return m
}

// Start begins processing events until ctx is cancelled or Stop is called.
func (m *Manager) Start(ctx context.Context) {
	m.ctx, m.cancel = context.WithCancel(ctx)
	m.wg.Add(1)
	go m.processEvents()
	m.logger.Info("subscription manager started")
}

// Stop halts event processing and waits for in-flight deliveries.
// Queued events are discarded.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		if m.cancel != nil {
			m.cancel()
		}
		m.wg.Wait()
		m.notifier.Close()
		m.logger.Info("subscription manager stopped")
	})
}

// Emit queues an event without blocking; the event is dropped when the
// queue is full.
func (m *Manager) Emit(event Event) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	select {
	case m.eventChan <- event:
	default:
		eventsDropped.Inc()
		m.logger.Warn("event queue full, dropping event", "event", event.ID, "type", event.Type)
	}
}

// Register adds a new subscription
func (m *Manager) Register(req CreateRequest) (Subscription, error) {
	if req.Name == "" {
		return Subscription{}, element.Invalid("subscription name is required",
			map[string]string{"name": "required"})
	}
	if req.Webhook == "" && !req.WebSocket {
		return Subscription{}, element.Invalid("subscription must have a webhook URL or websocket enabled",
			map[string]string{"webhook": "required_without=websocket"})
	}

	now := time.Now().UTC()
	sub := &Subscription{
		ID:          uuid.NewString(),
		Name:        req.Name,
		Description: req.Description,
		Pattern:     req.Pattern,
		Webhook:     req.Webhook,
		WebSocket:   req.WebSocket,
		Enabled:     true,
		Created:     now,
		Modified:    now,
	}

	m.mu.Lock()
	m.subscriptions[sub.ID] = sub
	out := clone(sub)
	m.mu.Unlock()

	m.logger.Info("subscription registered", "id", sub.ID, "name", sub.Name)
	return out, nil
}

// Unregister removes a subscription
func (m *Manager) Unregister(id string) error {
	m.mu.Lock()
	if _, exists := m.subscriptions[id]; !exists {
		m.mu.Unlock()
		return notFound(id)
	}
	delete(m.subscriptions, id)
	m.mu.Unlock()

	m.notifier.UnregisterWSClient(id, nil)
	m.logger.Info("subscription unregistered", "id", id)
	return nil
}

// Update modifies an existing subscription
func (m *Manager) Update(id string, req UpdateRequest) (Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sub, exists := m.subscriptions[id]
	if !exists {
		return Subscription{}, notFound(id)
	}

	next := clone(sub)
	if req.Name != nil {
		next.Name = *req.Name
	}
	if req.Description != nil {
		next.Description = *req.Description
	}
	if req.Pattern != nil {
		next.Pattern = *req.Pattern
	}
	if req.Webhook != nil {
		next.Webhook = *req.Webhook
	}
	if req.WebSocket != nil {
		next.WebSocket = *req.WebSocket
	}
	if req.Enabled != nil {
		next.Enabled = *req.Enabled
	}
	if next.Webhook == "" && !next.WebSocket {
		return Subscription{}, element.Invalid("subscription must have a webhook URL or websocket enabled",
			map[string]string{"webhook": "required_without=websocket"})
	}
	next.Modified = time.Now().UTC()

	*sub = next
	return clone(sub), nil
}

// Get returns a subscription by ID
func (m *Manager) Get(id string) (Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sub, exists := m.subscriptions[id]
	if !exists {
		return Subscription{}, notFound(id)
	}
	return clone(sub), nil
}

// List returns all subscriptions, oldest first
func (m *Manager) List() []Subscription {
	m.mu.RLock()
	result := make([]Subscription, 0, len(m.subscriptions))
	for _, sub := range m.subscriptions {
		result = append(result, clone(sub))
	}
	m.mu.RUnlock()

	slices.SortFunc(result, func(a, b Subscription) int {
		if c := a.Created.Compare(b.Created); c != 0 {
			return c
		}
		if a.ID < b.ID {
			return -1
		}
		if a.ID > b.ID {
			return 1
		}
		return 0
	})
	return result
}

// RegisterWSClient attaches a WebSocket connection to a subscription
func (m *Manager) RegisterWSClient(subID string, conn WSConn) error {
	m.mu.RLock()
	sub, exists := m.subscriptions[subID]
	websocket := exists && sub.WebSocket
	m.mu.RUnlock()

	if !exists {
		return notFound(subID)
	}
	if !websocket {
		return element.Invalid("subscription does not deliver over websocket",
			map[string]string{"websocket": "must be true"})
	}
	m.notifier.RegisterWSClient(subID, conn)
	return nil
}

// UnregisterWSClient detaches conn from a subscription
func (m *Manager) UnregisterWSClient(subID string, conn WSConn) {
	m.notifier.UnregisterWSClient(subID, conn)
}

// Connected reports whether a WebSocket is attached to the subscription.
func (m *Manager) Connected(subID string) bool {
	return m.notifier.HasWSClient(subID)
}

// processEvents is the main event processing loop
func (m *Manager) processEvents() {
	defer m.wg.Done()

	for {
		select {
		case <-m.ctx.Done():
			return
		case event := <-m.eventChan:
			m.handleEvent(event)
		}
	}
}

// handleEvent evaluates one event against every enabled subscription
func (m *Manager) handleEvent(event Event) {
	now := time.Now().UTC()

	m.mu.Lock()
	var fired []Subscription
	for _, sub := range m.subscriptions {
		if !sub.Enabled || !Match(event, sub.Pattern) {
			continue
		}
		sub.LastFired = &now
		sub.FireCount++
		fired = append(fired, clone(sub))
	}
	m.mu.Unlock()

	for _, sub := range fired {
		notificationsFired.Inc()
		notification := Notification{
			SubscriptionID:   sub.ID,
			SubscriptionName: sub.Name,
			Event:            event,
			MatchedAt:        now,
		}

		if sub.Webhook != "" {
			m.wg.Add(1)
			go func(url string) {
				defer m.wg.Done()
				if err := m.notifier.SendWebhook(m.ctx, url, notification); err != nil {
					m.logger.Error("webhook delivery failed", "subscription", sub.ID, "url", url, "error", err)
				}
			}(sub.Webhook)
		}
		if sub.WebSocket {
			m.notifier.SendWebSocket(sub.ID, notification)
		}
		m.logger.Debug("subscription fired", "subscription", sub.ID, "event", event.Type, "element", event.ElementID)
	}
}

func clone(sub *Subscription) Subscription {
	out := *sub
	out.Pattern.EventTypes = slices.Clone(sub.Pattern.EventTypes)
	out.Pattern.TypeTags = slices.Clone(sub.Pattern.TypeTags)
	out.Pattern.AttributeMatch = maps.Clone(sub.Pattern.AttributeMatch)
	if sub.LastFired != nil {
		t := *sub.LastFired
		out.LastFired = &t
	}
	return out
}

func notFound(id string) *element.Error {
	return &element.Error{
		Kind:   element.NotFoundFailure,
		Title:  "subscription not found",
		Detail: id,
		Status: http.StatusNotFound,
	}
}
