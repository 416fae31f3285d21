package events

import (
	"sync"
	"time"
)

// EventType represents different types of events in the system
type EventType string

const (
	EventEvaluationStarted   EventType = "EVALUATION_STARTED"
	EventEvaluationCompleted EventType = "EVALUATION_COMPLETED"
	EventTradeOpened         EventType = "TRADE_OPENED"
	EventTradeClosed         EventType = "TRADE_CLOSED"
	EventTradePartialClose   EventType = "TRADE_PARTIAL_CLOSE"
	EventStopAdjusted        EventType = "STOP_ADJUSTED"
	EventBotStarted          EventType = "BOT_STARTED"
	EventBotStopped          EventType = "BOT_STOPPED"
	EventOrphanDetected      EventType = "ORPHAN_DETECTED"
	EventRiskRejected        EventType = "RISK_REJECTED"
	EventCriticalAlert       EventType = "CRITICAL_ALERT"
	EventError               EventType = "ERROR"
)

// Event represents a system event
type Event struct {
	Type      EventType              `json:"type"`
	UserID    string                 `json:"user_id,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Subscriber is a function that handles events
type Subscriber func(Event)

// EventBus manages event publishing and subscriptions
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]Subscriber
	allSubs     []Subscriber
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[EventType][]Subscriber),
		allSubs:     make([]Subscriber, 0),
	}
}

// Subscribe registers a subscriber for a specific event type
func (eb *EventBus) Subscribe(eventType EventType, subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.subscribers[eventType] = append(eb.subscribers[eventType], subscriber)
}

// SubscribeAll registers a subscriber for all events
func (eb *EventBus) SubscribeAll(subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.allSubs = append(eb.allSubs, subscriber)
}

// Publish sends an event to all subscribers. Subscribers run in their own
// goroutines so a slow consumer never blocks the publisher.
func (eb *EventBus) Publish(event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	// Route user-scoped events to the websocket feed
	switch event.Type {
	case EventEvaluationStarted, EventEvaluationCompleted:
		BroadcastEvaluation(event.UserID, event)
	case EventTradeOpened, EventTradeClosed, EventTradePartialClose, EventStopAdjusted:
		BroadcastTrade(event.UserID, event)
	case EventCriticalAlert, EventRiskRejected:
		BroadcastAlert(event.UserID, event)
	}

	if subs, ok := eb.subscribers[event.Type]; ok {
		for _, sub := range subs {
			go sub(event)
		}
	}

	for _, sub := range eb.allSubs {
		go sub(event)
	}
}

// PublishEvaluationCompleted publishes an evaluation completed event
func (eb *EventBus) PublishEvaluationCompleted(userID, botID, evaluationID, decision, reason string) {
	eb.Publish(Event{
		Type:   EventEvaluationCompleted,
		UserID: userID,
		Data: map[string]interface{}{
			"bot_id":        botID,
			"evaluation_id": evaluationID,
			"decision":      decision,
			"reason":        reason,
		},
	})
}

// PublishTradeOpened publishes a trade opened event
func (eb *EventBus) PublishTradeOpened(userID, botID, symbol, direction string, entryPrice, quantity float64) {
	eb.Publish(Event{
		Type:   EventTradeOpened,
		UserID: userID,
		Data: map[string]interface{}{
			"bot_id":      botID,
			"symbol":      symbol,
			"direction":   direction,
			"entry_price": entryPrice,
			"quantity":    quantity,
		},
	})
}

// PublishTradeClosed publishes a trade closed event
func (eb *EventBus) PublishTradeClosed(userID, botID, symbol, reason string, entryPrice, exitPrice, quantity, pnl float64) {
	eb.Publish(Event{
		Type:   EventTradeClosed,
		UserID: userID,
		Data: map[string]interface{}{
			"bot_id":      botID,
			"symbol":      symbol,
			"reason":      reason,
			"entry_price": entryPrice,
			"exit_price":  exitPrice,
			"quantity":    quantity,
			"pnl":         pnl,
		},
	})
}

// PublishOrphanDetected publishes an orphan position event
func (eb *EventBus) PublishOrphanDetected(credentialID, dealID, symbol string) {
	eb.Publish(Event{
		Type: EventOrphanDetected,
		Data: map[string]interface{}{
			"credential_id": credentialID,
			"deal_id":       dealID,
			"symbol":        symbol,
		},
	})
}

// PublishCriticalAlert publishes a critical alert event
func (eb *EventBus) PublishCriticalAlert(userID, source, message string) {
	eb.Publish(Event{
		Type:   EventCriticalAlert,
		UserID: userID,
		Data: map[string]interface{}{
			"source":  source,
			"message": message,
		},
	})
}

// PublishError publishes an error event
func (eb *EventBus) PublishError(source, message string, err error) {
	data := map[string]interface{}{
		"source":  source,
		"message": message,
	}
	if err != nil {
		data["error"] = err.Error()
	}
	eb.Publish(Event{
		Type: EventError,
		Data: data,
	})
}

// BroadcastFunc is a callback for pushing events to a specific user's
// websocket clients. Wired by the api package at startup to avoid an
// import cycle with packages that publish.
type BroadcastFunc func(userID string, data interface{})

var (
	broadcastEvaluation BroadcastFunc
	broadcastTrade      BroadcastFunc
	broadcastAlert      BroadcastFunc
)

// SetBroadcastEvaluation sets the callback for evaluation broadcasts
func SetBroadcastEvaluation(fn BroadcastFunc) {
	broadcastEvaluation = fn
}

// SetBroadcastTrade sets the callback for trade broadcasts
func SetBroadcastTrade(fn BroadcastFunc) {
	broadcastTrade = fn
}

// SetBroadcastAlert sets the callback for alert broadcasts
func SetBroadcastAlert(fn BroadcastFunc) {
	broadcastAlert = fn
}

// BroadcastEvaluation pushes an evaluation update to a user
func BroadcastEvaluation(userID string, data interface{}) {
	if broadcastEvaluation != nil && userID != "" {
		go broadcastEvaluation(userID, data)
	}
}

// BroadcastTrade pushes a trade update to a user
func BroadcastTrade(userID string, data interface{}) {
	if broadcastTrade != nil && userID != "" {
		go broadcastTrade(userID, data)
	}
}

// BroadcastAlert pushes a critical alert to a user
func BroadcastAlert(userID string, data interface{}) {
	if broadcastAlert != nil && userID != "" {
		go broadcastAlert(userID, data)
	}
}
