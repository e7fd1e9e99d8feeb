package connector

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/FastyBird/sonoff-connector-sub001/internal/infrastructure/mqtt"
)

// DefaultHealthInterval is how often the health report is refreshed.
const DefaultHealthInterval = 30 * time.Second

// HealthStatus represents the operational status of the connector.
type HealthStatus string

const (
	// HealthHealthy indicates the connector is operating normally.
	HealthHealthy HealthStatus = "healthy"

	// HealthDegraded indicates the connector runs with issues.
	HealthDegraded HealthStatus = "degraded"

	// HealthStopping indicates the connector is shutting down.
	HealthStopping HealthStatus = "stopping"
)

// HealthStats is a snapshot of the connector's devices and queue.
type HealthStats struct {
	Running      bool `json:"running"`
	Devices      int  `json:"devices"`
	Connected    int  `json:"connected"`
	Disconnected int  `json:"disconnected"`
	Alert        int  `json:"alert"`
	QueueLength  int  `json:"queue_length"`
}

// HealthMessage is the retained health report.
type HealthMessage struct {
	Connector     string       `json:"connector"`
	Mode          string       `json:"mode"`
	Version       string       `json:"version"`
	Status        HealthStatus `json:"status"`
	Reason        string       `json:"reason,omitempty"`
	Timestamp     time.Time    `json:"timestamp"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	Statistics    HealthStats  `json:"statistics"`
}

// HealthPublisher is the interface for publishing health messages.
// *mqtt.Client implements it.
type HealthPublisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	IsConnected() bool
}

// HealthReporterConfig holds configuration for the health reporter.
type HealthReporterConfig struct {
	// Connector is the connector identifier used in the topic.
	Connector string
	Mode      string
	Version   string

	// Interval defaults to DefaultHealthInterval.
	Interval time.Duration

	Publisher HealthPublisher

	// Stats returns the current statistics.
	Stats func(ctx context.Context) HealthStats
}

// HealthReporter publishes the connector health at regular intervals.
type HealthReporter struct {
	cfg       HealthReporterConfig
	startTime time.Time
	now       func() time.Time

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	logger   Logger
	loggerMu sync.RWMutex
}

// NewHealthReporter creates a reporter. Call Start to begin reporting.
func NewHealthReporter(cfg HealthReporterConfig) *HealthReporter {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultHealthInterval
	}
	return &HealthReporter{
		cfg:       cfg,
		startTime: time.Now(),
		now:       time.Now,
		done:      make(chan struct{}),
	}
}

// SetLogger sets the logger for this reporter.
func (h *HealthReporter) SetLogger(logger Logger) {
	h.loggerMu.Lock()
	h.logger = logger
	h.loggerMu.Unlock()
}

// Start begins periodic reporting until ctx is cancelled or Stop is called.
func (h *HealthReporter) Start(ctx context.Context) {
	h.wg.Add(1)
	go h.reportLoop(ctx)
}

// Stop ends reporting and publishes a final "stopping" report.
// Safe to call multiple times.
func (h *HealthReporter) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.wg.Wait()

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := h.publish(ctx, HealthStopping, ""); err != nil {
			h.logError("failed to publish stopping health", err)
		}
	})
}

// PublishNow publishes the current health immediately.
func (h *HealthReporter) PublishNow(ctx context.Context) error {
	stats := h.stats(ctx)
	status, reason := h.determineStatus(stats)
	return h.publishStats(status, reason, stats)
}

func (h *HealthReporter) reportLoop(ctx context.Context) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.cfg.Interval)
	defer ticker.Stop()

	if err := h.PublishNow(ctx); err != nil {
		h.logError("failed to publish initial health", err)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case <-ticker.C:
			if err := h.PublishNow(ctx); err != nil {
				h.logError("failed to publish health", err)
			}
		}
	}
}

func (h *HealthReporter) stats(ctx context.Context) HealthStats {
	if h.cfg.Stats == nil {
		return HealthStats{}
	}
	return h.cfg.Stats(ctx)
}

// determineStatus evaluates the connector status.
func (h *HealthReporter) determineStatus(stats HealthStats) (HealthStatus, string) {
	switch {
	case !stats.Running:
		return HealthDegraded, "client not running"
	case stats.Alert > 0:
		return HealthDegraded, "devices need attention"
	}
	return HealthHealthy, ""
}

func (h *HealthReporter) publish(ctx context.Context, status HealthStatus, reason string) error {
	return h.publishStats(status, reason, h.stats(ctx))
}

func (h *HealthReporter) publishStats(status HealthStatus, reason string, stats HealthStats) error {
	if h.cfg.Publisher == nil || !h.cfg.Publisher.IsConnected() {
		return nil
	}

	now := h.now()
	payload, err := json.Marshal(HealthMessage{
		Connector:     h.cfg.Connector,
		Mode:          h.cfg.Mode,
		Version:       h.cfg.Version,
		Status:        status,
		Reason:        reason,
		Timestamp:     now.UTC(),
		UptimeSeconds: int64(now.Sub(h.startTime).Seconds()),
		Statistics:    stats,
	})
	if err != nil {
		return err
	}

	return h.cfg.Publisher.Publish(mqtt.Topics{}.ConnectorHealth(h.cfg.Connector), payload, 1, true)
}

func (h *HealthReporter) logError(msg string, err error) {
	h.loggerMu.RLock()
	logger := h.logger
	h.loggerMu.RUnlock()

	if logger != nil {
		logger.Error(msg, "error", err)
	}
}
