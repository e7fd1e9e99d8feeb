package api

import (
	"database/sql"
	"net/http"
	"runtime"
	"time"

	"github.com/FastyBird/sonoff-connector-sub001/internal/connector"
	"github.com/FastyBird/sonoff-connector-sub001/internal/infrastructure/influxdb"
)

// Metrics is the body of GET /api/v1/metrics.
type Metrics struct {
	Version   string                `json:"version"`
	Uptime    string                `json:"uptime"`
	Runtime   RuntimeMetrics        `json:"runtime"`
	Connector connector.HealthStats `json:"connector"`
	Database  *PoolMetrics          `json:"database,omitempty"`
	History   *influxdb.Stats       `json:"history,omitempty"`
}

type RuntimeMetrics struct {
	GoVersion  string `json:"go_version"`
	Goroutines int    `json:"goroutines"`
	HeapBytes  uint64 `json:"heap_bytes"`
	GCCycles   uint32 `json:"gc_cycles"`
}

// PoolMetrics is the subset of sql.DBStats worth watching with a single
// SQLite connection: waits mean consumers and the API contend.
type PoolMetrics struct {
	Open         int           `json:"open"`
	InUse        int           `json:"in_use"`
	WaitCount    int64         `json:"wait_count"`
	WaitDuration time.Duration `json:"wait_duration_ns"`
}

func poolMetrics(s sql.DBStats) *PoolMetrics {
	return &PoolMetrics{
		Open:         s.OpenConnections,
		InUse:        s.InUse,
		WaitCount:    s.WaitCount,
		WaitDuration: s.WaitDuration,
	}
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	m := Metrics{
		Version: s.version,
		Uptime:  time.Since(s.startTime).Truncate(time.Second).String(),
		Runtime: RuntimeMetrics{
			GoVersion:  runtime.Version(),
			Goroutines: runtime.NumGoroutine(),
			HeapBytes:  mem.HeapAlloc,
			GCCycles:   mem.NumGC,
		},
		Connector: s.connector.Stats(r.Context()),
	}
	if s.pool != nil {
		m.Database = poolMetrics(s.pool())
	}
	if s.history != nil {
		h := s.history()
		m.History = &h
	}

	writeJSON(w, http.StatusOK, m)
}
