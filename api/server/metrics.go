// metrics.go - node health metrics for the /metrics endpoint
package server

import (
	"net/http"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
)

// NodeMetrics holds granular health metrics for the node.
type NodeMetrics struct {
	UptimeSeconds  int64   `json:"uptime_seconds"`
	BlockHeight    int     `json:"block_height"`
	PendingEvents  int     `json:"pending_events"`
	CPULoadPercent float64 `json:"cpu_load_percent"`
	MemoryMB       float64 `json:"memory_mb"`
	LastBlockTime  string  `json:"last_block_time"`
}

var startTime = time.Now()

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	metrics := NodeMetrics{
		UptimeSeconds: int64(time.Since(startTime).Seconds()),
		BlockHeight:   s.chainRef.Height(),
	}
	if s.pool != nil {
		metrics.PendingEvents = s.pool.Len()
	}
	if tip, ok := s.chainRef.Tip(); ok {
		metrics.LastBlockTime = time.UnixMilli(tip.Header.Timestamp).UTC().Format(time.RFC3339)
	}
	// Instantaneous sample; avoids blocking the handler for a measurement
	// window.
	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		metrics.CPULoadPercent = percents[0]
	}
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	metrics.MemoryMB = float64(mem.Alloc) / 1024.0 / 1024.0
	writeJSON(w, http.StatusOK, metrics)
}
