package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EventType represents the type of event.
type EventType string

const (
	// EventValentineCreated is emitted when a valentine is created
	EventValentineCreated EventType = "valentine.created"
	// EventPaymentAccepted is emitted when a payment submission passes validation
	EventPaymentAccepted EventType = "payment.accepted"
	// EventValentineAccepted is emitted when the recipient says yes
	EventValentineAccepted EventType = "valentine.accepted"
)

// Event represents an event in the system.
type Event struct {
	ID        string
	Type      EventType
	Timestamp time.Time
	Data      interface{}
}

// ValentineCreatedData contains data for valentine created events.
type ValentineCreatedData struct {
	Slug     string
	Template string
}

// PaymentAcceptedData contains data for payment accepted events. These feed
// the pending-verification review queue.
type PaymentAcceptedData struct {
	Slug   string
	Code   string
	Amount decimal.Decimal
}

// ValentineAcceptedData contains data for valentine accepted events.
type ValentineAcceptedData struct {
	Slug          string
	RecipientName string
}

// Handler is a function that handles events.
type Handler func(ctx context.Context, event Event) error

// Manager manages event handlers and event publishing.
type Manager struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
	enabled  bool
}

// NewManager creates a new event manager.
func NewManager(enabled bool) *Manager {
	return &Manager{
		handlers: make(map[EventType][]Handler),
		enabled:  enabled,
	}
}

// Subscribe subscribes a handler to a specific event type.
func (m *Manager) Subscribe(eventType EventType, handler Handler) {
	if !m.enabled {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.handlers[eventType] = append(m.handlers[eventType], handler)
}

// Publish publishes an event to all subscribed handlers. Handlers run
// asynchronously so publishing never blocks a request.
func (m *Manager) Publish(ctx context.Context, eventType EventType, data interface{}) {
	if !m.enabled {
		return
	}

	m.mu.RLock()
	handlers := m.handlers[eventType]
	m.mu.RUnlock()

	if len(handlers) == 0 {
		return
	}

	event := Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
	}

	for _, handler := range handlers {
		go func(h Handler) {
			_ = h(ctx, event)
		}(handler)
	}
}

// PublishValentineCreated publishes a valentine created event.
func (m *Manager) PublishValentineCreated(ctx context.Context, slug, template string) {
	m.Publish(ctx, EventValentineCreated, ValentineCreatedData{
		Slug:     slug,
		Template: template,
	})
}

// PublishPaymentAccepted publishes a payment accepted event.
func (m *Manager) PublishPaymentAccepted(ctx context.Context, slug, code string, amount decimal.Decimal) {
	m.Publish(ctx, EventPaymentAccepted, PaymentAcceptedData{
		Slug:   slug,
		Code:   code,
		Amount: amount,
	})
}

// PublishValentineAccepted publishes a valentine accepted event.
func (m *Manager) PublishValentineAccepted(ctx context.Context, slug, recipientName string) {
	m.Publish(ctx, EventValentineAccepted, ValentineAcceptedData{
		Slug:          slug,
		RecipientName: recipientName,
	})
}

// Shutdown shuts down the event manager.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.enabled = false
	m.handlers = make(map[EventType][]Handler)
}
