// Package eventhandler contains subscribers to domain events.
package eventhandler

import (
	"log/slog"
	"sync"

	"github.com/mauroLambrecht2/dutch-learning-app-sub002/internal/domain/shared"
)

// ═══════════════════════════════════════════════════════════════════════════
// AUDIT TRAIL HANDLER
// Writes one structured audit record per domain event and keeps per-type
// counters for /metrics.
// ═══════════════════════════════════════════════════════════════════════════

// AuditTrailHandler records domain events.
type AuditTrailHandler struct {
	logger *slog.Logger

	mu     sync.Mutex
	counts map[shared.EventType]int64
}

// NewAuditTrailHandler creates a new handler.
func NewAuditTrailHandler(logger *slog.Logger) *AuditTrailHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditTrailHandler{
		logger: logger.With("handler", "audit_trail"),
		counts: make(map[shared.EventType]int64),
	}
}

// Register subscribes the handler to every event.
func (h *AuditTrailHandler) Register(bus shared.EventSubscriber) error {
	return bus.SubscribeAll(h.Handle)
}

// Handle implements shared.EventHandler.
func (h *AuditTrailHandler) Handle(event shared.Event) error {
	h.mu.Lock()
	h.counts[event.EventType()]++
	h.mu.Unlock()

	attrs := []any{
		"event_type", event.EventType(),
		"aggregate_id", event.AggregateID(),
		"occurred_at", event.OccurredAt(),
	}

	switch e := event.(type) {
	case shared.FluencyLevelChangedEvent:
		attrs = append(attrs,
			"previous_level", e.PreviousLevel,
			"new_level", e.NewLevel,
			"changed_by", e.ChangedBy,
			"upgrade", e.Upgrade,
		)
	case shared.FluencyInitializedEvent:
		attrs = append(attrs, "level", e.Level, "changed_by", e.ChangedBy, "reason", e.Reason)
	case shared.CertificateIssuedEvent:
		attrs = append(attrs,
			"certificate_id", e.CertificateID,
			"certificate_number", e.CertificateNumber,
			"level", e.Level,
			"issued_by", e.IssuedBy,
		)
	case shared.BulkMigrationCompletedEvent:
		attrs = append(attrs,
			"migrated", e.MigratedCount,
			"skipped", e.SkippedCount,
			"failed", e.FailedCount,
		)
	default:
		attrs = append(attrs, "payload", event.Payload())
	}

	h.logger.Info("audit", attrs...)
	return nil
}

// Counts returns a copy of the per-type event counters.
func (h *AuditTrailHandler) Counts() map[string]int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(map[string]int64, len(h.counts))
	for t, n := range h.counts {
		out[string(t)] = n
	}
	return out
}
