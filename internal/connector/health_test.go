package connector

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FastyBird/sonoff-connector-sub001/internal/infrastructure/mqtt"
)

func TestHealthReporterStatus(t *testing.T) {
	tests := []struct {
		name       string
		stats      HealthStats
		wantStatus HealthStatus
		wantReason string
	}{
		{"healthy", HealthStats{Running: true, Devices: 2, Connected: 2}, HealthHealthy, ""},
		{"not running", HealthStats{Devices: 2}, HealthDegraded, "client not running"},
		{"alert devices", HealthStats{Running: true, Devices: 2, Connected: 1, Alert: 1}, HealthDegraded, "devices need attention"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bus := newFakeBus()
			h := NewHealthReporter(HealthReporterConfig{
				Connector: "sonoff",
				Mode:      "lan",
				Publisher: bus,
				Stats:     func(context.Context) HealthStats { return tt.stats },
			})
			start := h.startTime
			h.now = func() time.Time { return start.Add(90 * time.Second) }

			require.NoError(t, h.PublishNow(context.Background()))

			var msg HealthMessage
			require.NoError(t, json.Unmarshal(bus.message(mqtt.Topics{}.ConnectorHealth("sonoff")), &msg))
			assert.Equal(t, tt.wantStatus, msg.Status)
			assert.Equal(t, tt.wantReason, msg.Reason)
			assert.Equal(t, int64(90), msg.UptimeSeconds)
			assert.Equal(t, tt.stats, msg.Statistics)
		})
	}
}

func TestHealthReporterDisconnectedBus(t *testing.T) {
	bus := newFakeBus()
	bus.connected = false

	h := NewHealthReporter(HealthReporterConfig{Connector: "sonoff", Publisher: bus})
	require.NoError(t, h.PublishNow(context.Background()))
	assert.Nil(t, bus.message(mqtt.Topics{}.ConnectorHealth("sonoff")))
}

func TestHealthReporterLifecycle(t *testing.T) {
	bus := newFakeBus()
	topic := mqtt.Topics{}.ConnectorHealth("sonoff")

	h := NewHealthReporter(HealthReporterConfig{
		Connector: "sonoff",
		Interval:  time.Millisecond,
		Publisher: bus,
		Stats:     func(context.Context) HealthStats { return HealthStats{Running: true} },
	})
	h.Start(context.Background())

	require.Eventually(t, func() bool { return bus.message(topic) != nil }, time.Second, time.Millisecond)

	h.Stop()
	h.Stop()

	var msg HealthMessage
	require.NoError(t, json.Unmarshal(bus.message(topic), &msg))
	assert.Equal(t, HealthStopping, msg.Status)
}
