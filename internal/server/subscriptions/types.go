package subscriptions

import (
	"time"
)

// Event represents a change to an element that can trigger subscriptions
type Event struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"` // element.created, element.updated, element.deleted
	Timestamp time.Time `json:"timestamp"`

	ElementID string `json:"elementId"`
	TypeTag   string `json:"typeTag"`

	// Attributes after the change; empty for deletes.
	Attributes map[string]any `json:"attributes,omitempty"`
}

// Event type constants
const (
	EventElementCreated = "element.created"
	EventElementUpdated = "element.updated"
	EventElementDeleted = "element.deleted"
)

// Pattern defines what events a subscription matches. Empty fields match
// everything.
type Pattern struct {
	EventTypes     []string       `json:"eventTypes,omitempty" validate:"dive,oneof=element.created element.updated element.deleted"`
	TypeTags       []string       `json:"typeTags,omitempty" validate:"dive,alphanum"`
	AttributeMatch map[string]any `json:"attributeMatch,omitempty"`
}

// Subscription represents a standing pattern that fires when events match
type Subscription struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`

	Pattern Pattern `json:"pattern"`

	// How to notify
	Webhook   string `json:"webhook,omitempty"`   // URL to POST notifications
	WebSocket bool   `json:"websocket,omitempty"` // Push to the subscription's socket

	// State
	Enabled   bool       `json:"enabled"`
	Created   time.Time  `json:"created"`
	Modified  time.Time  `json:"modified"`
	LastFired *time.Time `json:"lastFired,omitempty"`
	FireCount int        `json:"fireCount"`
}

// Notification is sent when a subscription pattern matches
type Notification struct {
	SubscriptionID   string    `json:"subscriptionId"`
	SubscriptionName string    `json:"subscriptionName"`
	Event            Event     `json:"event"`
	MatchedAt        time.Time `json:"matchedAt"`
}

// CreateRequest is the API request to create a subscription
type CreateRequest struct {
	Name        string  `json:"name" validate:"required"`
	Description string  `json:"description,omitempty"`
	Pattern     Pattern `json:"pattern"`
	Webhook     string  `json:"webhook,omitempty" validate:"omitempty,url"`
	WebSocket   bool    `json:"websocket,omitempty"`
}

// UpdateRequest is the API request to update a subscription
type UpdateRequest struct {
	Name        *string  `json:"name,omitempty" validate:"omitempty,min=1"`
	Description *string  `json:"description,omitempty"`
	Pattern     *Pattern `json:"pattern,omitempty"`
	Webhook     *string  `json:"webhook,omitempty" validate:"omitempty,url"`
	WebSocket   *bool    `json:"websocket,omitempty"`
	Enabled     *bool    `json:"enabled,omitempty"`
}

// ListResponse is the API response for listing subscriptions
type ListResponse struct {
	Subscriptions []*Subscription `json:"subscriptions"`
	Count         int             `json:"count"`
}
