package subscriptions

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

const webhookAttempts = 3

// WSConn is the part of a WebSocket connection the notifier writes to.
// *websocket.Conn satisfies it.
type WSConn interface {
	WriteJSON(v any) error
	Close() error
}

// wsClient serializes writes; a WebSocket allows one writer at a time.
type wsClient struct {
	mu   sync.Mutex
	conn WSConn
}

// Notifier handles sending notifications via webhooks and WebSockets
type Notifier struct {
	httpClient *http.Client
	logger     *slog.Logger
	backoff    func(attempt int) time.Duration

	mu        sync.RWMutex
	wsClients map[string]*wsClient // subscription id -> connection
}

// NewNotifier creates a new notifier
func NewNotifier(logger *slog.Logger) *Notifier {
	return &Notifier{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
		backoff: func(attempt int) time.Duration {
			return time.Duration(attempt*attempt) * time.Second
		},
		wsClients: make(map[string]*wsClient),
	}
}

// Close closes all WebSocket connections
func (n *Notifier) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()

	for _, c := range n.wsClients {
		c.conn.Close()
	}
	n.wsClients = make(map[string]*wsClient)
}

// RegisterWSClient registers a WebSocket connection for a subscription,
// replacing any previous one.
func (n *Notifier) RegisterWSClient(subID string, conn WSConn) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if existing, ok := n.wsClients[subID]; ok {
		existing.conn.Close()
	}
	n.wsClients[subID] = &wsClient{conn: conn}
	n.logger.Debug("websocket client registered", "subscription", subID)
}

// UnregisterWSClient removes conn if it is still the registered client.
// A nil conn removes whatever is registered.
func (n *Notifier) UnregisterWSClient(subID string, conn WSConn) {
	n.mu.Lock()
	defer n.mu.Unlock()

	c, ok := n.wsClients[subID]
	if !ok || (conn != nil && c.conn != conn) {
		return
	}
	c.conn.Close()
	delete(n.wsClients, subID)
	n.logger.Debug("websocket client unregistered", "subscription", subID)
}

// HasWSClient checks if a subscription has an active WebSocket client
func (n *Notifier) HasWSClient(subID string) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	_, ok := n.wsClients[subID]
	return ok
}

// SendWebhook posts a notification, retrying with backoff.
func (n *Notifier) SendWebhook(ctx context.Context, url string, notification Notification) error {
	payload, err := json.Marshal(notification)
	if err != nil {
		return fmt.Errorf("encoding notification: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < webhookAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(n.backoff(attempt)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		lastErr = n.postOnce(ctx, url, payload, notification)
		if lastErr == nil {
			webhookDeliveries.WithLabelValues("delivered").Inc()
			return nil
		}
		n.logger.Warn("webhook delivery attempt failed", "url", url, "attempt", attempt+1, "error", lastErr)
	}

	webhookDeliveries.WithLabelValues("failed").Inc()
	return lastErr
}

func (n *Notifier) postOnce(ctx context.Context, url string, payload []byte, notification Notification) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Reqgraph-Event", notification.Event.Type)
	req.Header.Set("X-Reqgraph-Subscription", notification.SubscriptionID)

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &WebhookError{URL: url, StatusCode: resp.StatusCode}
	}
	return nil
}

// SendWebSocket pushes a notification to the subscription's socket, if
// one is connected. A failed write drops the connection.
func (n *Notifier) SendWebSocket(subID string, notification Notification) error {
	n.mu.RLock()
	c, ok := n.wsClients[subID]
	n.mu.RUnlock()
	if !ok {
		return nil
	}

	c.mu.Lock()
	err := c.conn.WriteJSON(notification)
	c.mu.Unlock()
	if err != nil {
		n.logger.Warn("websocket send failed", "subscription", subID, "error", err)
		n.UnregisterWSClient(subID, c.conn)
		return err
	}
	return nil
}

// WebhookError represents a webhook delivery failure
type WebhookError struct {
	URL        string
	StatusCode int
}

func (e *WebhookError) Error() string {
	return fmt.Sprintf("webhook %s returned status %d", e.URL, e.StatusCode)
}
