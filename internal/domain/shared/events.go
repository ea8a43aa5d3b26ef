// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages.
package shared

import (
	"encoding/json"
	"time"
)

// EventType represents the type of domain event.
type EventType string

// Domain event types.
const (
	// Learner events
	EventLearnerRegistered EventType = "learner.registered"

	// Fluency events
	EventFluencyInitialized  EventType = "fluency.initialized"
	EventFluencyLevelChanged EventType = "fluency.level_changed"

	// Certificate events
	EventCertificateIssued EventType = "certificate.issued"

	// System events
	EventBulkMigrationCompleted EventType = "system.bulk_migration_completed"
)

// Event is the base interface for all domain events.
type Event interface {
	// EventType returns the type of the event.
	EventType() EventType

	// OccurredAt returns when the event occurred.
	OccurredAt() time.Time

	// AggregateID returns the ID of the aggregate that produced this event.
	AggregateID() string

	// Payload returns the event data as a map for serialization.
	Payload() map[string]interface{}
}

// BaseEvent provides common event functionality.
type BaseEvent struct {
	Type          EventType `json:"type"`
	Timestamp     time.Time `json:"timestamp"`
	AggregateId   string    `json:"aggregate_id"`
	Version       int       `json:"version"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// EventType implements Event interface.
func (e BaseEvent) EventType() EventType {
	return e.Type
}

// OccurredAt implements Event interface.
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// AggregateID implements Event interface.
func (e BaseEvent) AggregateID() string {
	return e.AggregateId
}

// NewBaseEvent creates a new base event stamped with the given time.
func NewBaseEvent(eventType EventType, aggregateID string, at time.Time) BaseEvent {
	return BaseEvent{
		Type:        eventType,
		Timestamp:   at,
		AggregateId: aggregateID,
		Version:     1,
	}
}

// WithCorrelationID sets the correlation ID for tracing.
func (e BaseEvent) WithCorrelationID(id string) BaseEvent {
	e.CorrelationID = id
	return e
}

// ═══════════════════════════════════════════════════════════════════════════
// Learner Events
// ═══════════════════════════════════════════════════════════════════════════

// LearnerRegisteredEvent is emitted when a new account and profile are created.
type LearnerRegisteredEvent struct {
	BaseEvent
	Email string `json:"email"`
	Name  string `json:"name"`
	Role  string `json:"role"`
}

// Payload implements Event interface.
func (e LearnerRegisteredEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"email": e.Email,
		"name":  e.Name,
		"role":  e.Role,
	}
}

// NewLearnerRegisteredEvent creates a new LearnerRegisteredEvent.
func NewLearnerRegisteredEvent(userID, email, name, role string, at time.Time) LearnerRegisteredEvent {
	return LearnerRegisteredEvent{
		BaseEvent: NewBaseEvent(EventLearnerRegistered, userID, at),
		Email:     email,
		Name:      name,
		Role:      role,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Fluency Events
// ═══════════════════════════════════════════════════════════════════════════

// FluencyInitializedEvent is emitted when a profile receives its first level.
type FluencyInitializedEvent struct {
	BaseEvent
	Level     string `json:"level"`
	ChangedBy string `json:"changed_by"`
	Reason    string `json:"reason,omitempty"`
}

// Payload implements Event interface.
func (e FluencyInitializedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"level":      e.Level,
		"changed_by": e.ChangedBy,
		"reason":     e.Reason,
	}
}

// NewFluencyInitializedEvent creates a new FluencyInitializedEvent.
func NewFluencyInitializedEvent(userID, level, changedBy, reason string, at time.Time) FluencyInitializedEvent {
	return FluencyInitializedEvent{
		BaseEvent: NewBaseEvent(EventFluencyInitialized, userID, at),
		Level:     level,
		ChangedBy: changedBy,
		Reason:    reason,
	}
}

// FluencyLevelChangedEvent is emitted after an accepted one-step transition.
type FluencyLevelChangedEvent struct {
	BaseEvent
	PreviousLevel string `json:"previous_level"`
	NewLevel      string `json:"new_level"`
	ChangedBy     string `json:"changed_by"`
	ChangedByName string `json:"changed_by_name"`
	Upgrade       bool   `json:"upgrade"`
}

// Payload implements Event interface.
func (e FluencyLevelChangedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"previous_level":  e.PreviousLevel,
		"new_level":       e.NewLevel,
		"changed_by":      e.ChangedBy,
		"changed_by_name": e.ChangedByName,
		"upgrade":         e.Upgrade,
	}
}

// NewFluencyLevelChangedEvent creates a new FluencyLevelChangedEvent.
func NewFluencyLevelChangedEvent(userID, previous, next, changedBy, changedByName string, upgrade bool, at time.Time) FluencyLevelChangedEvent {
	return FluencyLevelChangedEvent{
		BaseEvent:     NewBaseEvent(EventFluencyLevelChanged, userID, at),
		PreviousLevel: previous,
		NewLevel:      next,
		ChangedBy:     changedBy,
		ChangedByName: changedByName,
		Upgrade:       upgrade,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Certificate Events
// ═══════════════════════════════════════════════════════════════════════════

// CertificateIssuedEvent is emitted once a certificate has been persisted.
type CertificateIssuedEvent struct {
	BaseEvent
	CertificateID     string `json:"certificate_id"`
	CertificateNumber string `json:"certificate_number"`
	Level             string `json:"level"`
	IssuedBy          string `json:"issued_by"`
}

// Payload implements Event interface.
func (e CertificateIssuedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"certificate_id":     e.CertificateID,
		"certificate_number": e.CertificateNumber,
		"level":              e.Level,
		"issued_by":          e.IssuedBy,
	}
}

// NewCertificateIssuedEvent creates a new CertificateIssuedEvent.
func NewCertificateIssuedEvent(userID, certificateID, number, level, issuedBy string, at time.Time) CertificateIssuedEvent {
	return CertificateIssuedEvent{
		BaseEvent:         NewBaseEvent(EventCertificateIssued, userID, at),
		CertificateID:     certificateID,
		CertificateNumber: number,
		Level:             level,
		IssuedBy:          issuedBy,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// System Events
// ═══════════════════════════════════════════════════════════════════════════

// BulkMigrationCompletedEvent is emitted after a bulk fluency migration run.
type BulkMigrationCompletedEvent struct {
	BaseEvent
	MigratedCount int `json:"migrated_count"`
	SkippedCount  int `json:"skipped_count"`
	FailedCount   int `json:"failed_count"`
}

// Payload implements Event interface.
func (e BulkMigrationCompletedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"migrated_count": e.MigratedCount,
		"skipped_count":  e.SkippedCount,
		"failed_count":   e.FailedCount,
	}
}

// NewBulkMigrationCompletedEvent creates a new BulkMigrationCompletedEvent.
// The aggregate is the administrator who ran the migration.
func NewBulkMigrationCompletedEvent(adminID string, migrated, skipped, failed int, at time.Time) BulkMigrationCompletedEvent {
	return BulkMigrationCompletedEvent{
		BaseEvent:     NewBaseEvent(EventBulkMigrationCompleted, adminID, at),
		MigratedCount: migrated,
		SkippedCount:  skipped,
		FailedCount:   failed,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Event Envelope (for serialization and transport)
// ═══════════════════════════════════════════════════════════════════════════

// EventEnvelope wraps an event for transport/storage.
type EventEnvelope struct {
	ID            string          `json:"id"`
	Type          EventType       `json:"type"`
	AggregateID   string          `json:"aggregate_id"`
	Timestamp     time.Time       `json:"timestamp"`
	Version       int             `json:"version"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

// EventHandler is a function that handles an event.
type EventHandler func(event Event) error

// EventPublisher defines the interface for publishing events.
type EventPublisher interface {
	// Publish sends an event to subscribers.
	Publish(event Event) error
}

// EventSubscriber defines the interface for subscribing to events.
type EventSubscriber interface {
	// Subscribe registers a handler for an event type.
	Subscribe(eventType EventType, handler EventHandler) error

	// SubscribeAll registers a handler for all events.
	SubscribeAll(handler EventHandler) error
}

// EventBus combines publishing and subscribing.
type EventBus interface {
	EventPublisher
	EventSubscriber
}

// NoopPublisher discards every event.
type NoopPublisher struct{}

// Publish implements EventPublisher.
func (NoopPublisher) Publish(Event) error { return nil }
