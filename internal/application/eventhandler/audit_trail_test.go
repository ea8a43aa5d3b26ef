package eventhandler

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mauroLambrecht2/dutch-learning-app-sub002/internal/domain/shared"
	"github.com/mauroLambrecht2/dutch-learning-app-sub002/internal/infrastructure/messaging"
)

func TestAuditTrailHandler_RecordsEveryEvent(t *testing.T) {
	var buf bytes.Buffer
	h := NewAuditTrailHandler(slog.New(slog.NewJSONHandler(&buf, nil)))

	bus := messaging.NewInMemoryEventBus(messaging.InMemoryEventBusConfig{})
	defer bus.Close()
	require.NoError(t, h.Register(bus))

	at := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	require.NoError(t, bus.Publish(shared.NewFluencyLevelChangedEvent("u1", "A1", "A2", "t1", "Tess", true, at)))
	require.NoError(t, bus.Publish(shared.NewCertificateIssuedEvent("u1", "c1", "DLA-2025-A2-000001", "A2", "t1", at)))
	require.NoError(t, bus.Publish(shared.NewFluencyLevelChangedEvent("u1", "A2", "A1", "t1", "Tess", false, at)))

	assert.Equal(t, map[string]int64{
		string(shared.EventFluencyLevelChanged): 2,
		string(shared.EventCertificateIssued):   1,
	}, h.Counts())

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)

	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &rec))
	assert.Equal(t, "audit", rec["msg"])
	assert.Equal(t, "audit_trail", rec["handler"])
	assert.Equal(t, "DLA-2025-A2-000001", rec["certificate_number"])
	assert.Equal(t, "u1", rec["aggregate_id"])
}

func TestAuditTrailHandler_BulkMigration(t *testing.T) {
	var buf bytes.Buffer
	h := NewAuditTrailHandler(slog.New(slog.NewJSONHandler(&buf, nil)))

	require.NoError(t, h.Handle(shared.NewBulkMigrationCompletedEvent("t1", 3, 2, 1, time.Now())))

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.EqualValues(t, 3, rec["migrated"])
	assert.EqualValues(t, 2, rec["skipped"])
	assert.EqualValues(t, 1, rec["failed"])
}
