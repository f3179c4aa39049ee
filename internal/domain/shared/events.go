package shared

import (
	"encoding/json"
	"time"
)

// EventType names a notification. Values are stable: they are sent to
// websocket clients and relayed between instances.
type EventType string

const (
	EventUserRegistered EventType = "user.registered"

	EventSessionLogged     EventType = "progression.session_logged"
	EventLevelUp           EventType = "progression.level_up"
	EventPrestigeAvailable EventType = "progression.prestige_available"
	EventPrestiged         EventType = "progression.prestiged"
	EventGoalComplete      EventType = "progression.goal_complete"
	EventAchievementUnlock EventType = "progression.achievement_unlocked"

	// Clan level-ups carry the clan id as aggregate; perk claims carry the user id.
	EventClanLevelUp     EventType = "clan.level_up"
	EventClanPerkClaimed EventType = "clan.perk_claimed"

	EventIntegrityViolation EventType = "system.integrity_violation"
)

// Event is anything the bus can carry.
type Event interface {
	EventType() EventType
	OccurredAt() time.Time
	AggregateID() string
	Payload() map[string]interface{}
}

// GenericEvent is the one concrete Event. Domain packages translate their
// own notification variants into it.
type GenericEvent struct {
	Type      EventType              `json:"type"`
	Aggregate string                 `json:"aggregate_id"`
	At        time.Time              `json:"occurred_at"`
	Data      map[string]interface{} `json:"data"`
}

func (e GenericEvent) EventType() EventType            { return e.Type }
func (e GenericEvent) OccurredAt() time.Time           { return e.At }
func (e GenericEvent) AggregateID() string             { return e.Aggregate }
func (e GenericEvent) Payload() map[string]interface{} { return e.Data }

// NewGenericEvent creates an event; a nil payload becomes an empty map.
func NewGenericEvent(eventType EventType, aggregateID string, at time.Time, data map[string]interface{}) GenericEvent {
	if data == nil {
		data = map[string]interface{}{}
	}
	return GenericEvent{Type: eventType, Aggregate: aggregateID, At: at, Data: data}
}

// ═══════════════════════════════════════════════════════════════════════════
// Envelope (relay between instances)
// ═══════════════════════════════════════════════════════════════════════════

// EventEnvelope is the wire form of an event. Origin identifies the
// publishing instance so it can skip its own messages; Sequence increases
// per origin.
type EventEnvelope struct {
	Origin      string                 `json:"origin"`
	Sequence    uint64                 `json:"sequence"`
	Type        EventType              `json:"type"`
	AggregateID string                 `json:"aggregate_id"`
	OccurredAt  time.Time              `json:"occurred_at"`
	Payload     map[string]interface{} `json:"payload"`
}

// Seal encodes an event for transport.
func Seal(origin string, seq uint64, event Event) ([]byte, error) {
	return json.Marshal(EventEnvelope{
		Origin:      origin,
		Sequence:    seq,
		Type:        event.EventType(),
		AggregateID: event.AggregateID(),
		OccurredAt:  event.OccurredAt(),
		Payload:     event.Payload(),
	})
}

// OpenEnvelope decodes a relayed message.
func OpenEnvelope(data []byte) (EventEnvelope, error) {
	var env EventEnvelope
	err := json.Unmarshal(data, &env)
	return env, err
}

// Event rebuilds the carried event.
func (e EventEnvelope) Event() GenericEvent {
	return NewGenericEvent(e.Type, e.AggregateID, e.OccurredAt, e.Payload)
}

// ═══════════════════════════════════════════════════════════════════════════
// Bus contracts
// ═══════════════════════════════════════════════════════════════════════════

// EventHandler handles one event. Errors are logged by the bus.
type EventHandler func(event Event) error

type EventPublisher interface {
	Publish(event Event) error
}

type EventSubscriber interface {
	Subscribe(eventType EventType, handler EventHandler) error
	SubscribeAll(handler EventHandler) error
}

type EventBus interface {
	EventPublisher
	EventSubscriber
}
