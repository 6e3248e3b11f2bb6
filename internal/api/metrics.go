package api

import (
	"net/http"
	"runtime"
	"time"
)

// SystemMetrics represents the complete system metrics response.
type SystemMetrics struct {
	Timestamp     string         `json:"timestamp"`
	Version       string         `json:"version"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	Runtime       RuntimeMetrics `json:"runtime"`
	Outlets       OutletMetrics  `json:"outlets"`
	BridgeStatus  string         `json:"bridge_status,omitempty"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// OutletMetrics counts the exposed outlets.
type OutletMetrics struct {
	Total     int `json:"total"`
	Bound     int `json:"bound"`
	Metered   int `json:"metered"`
	Monitored int `json:"monitored"`
	On        int `json:"on"`
}

// handleMetrics returns runtime and outlet statistics.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	metrics := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
	}

	for _, a := range s.directory.Accessories() {
		snap := a.Snapshot()
		metrics.Outlets.Total++
		if snap.Bound {
			metrics.Outlets.Bound++
		}
		if snap.Metered {
			metrics.Outlets.Metered++
		}
		if snap.Monitored {
			metrics.Outlets.Monitored++
		}
		if snap.On {
			metrics.Outlets.On++
		}
	}

	if s.health != nil {
		metrics.BridgeStatus = string(s.health.Health().Status)
	}

	writeJSON(w, http.StatusOK, metrics)
}
