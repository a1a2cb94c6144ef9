package api

import (
	"net/http"
	"runtime"
	"time"

	consolebridge "github.com/nerrad567/gray-logic-xbox/internal/bridges/console"
)

// SystemMetrics represents the complete system metrics response.
type SystemMetrics struct {
	Timestamp     string                          `json:"timestamp"`
	Version       string                          `json:"version"`
	UptimeSeconds int64                           `json:"uptime_seconds"`
	Runtime       RuntimeMetrics                  `json:"runtime"`
	WebSocket     WSMetrics                       `json:"websocket"`
	MQTT          MQTTMetrics                     `json:"mqtt"`
	Bridge        *consolebridge.BridgeStatistics `json:"bridge,omitempty"`
	Consoles      ConsoleMetrics                  `json:"consoles"`
	Database      *DatabaseMetrics                `json:"database,omitempty"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// WSMetrics contains WebSocket hub statistics.
type WSMetrics struct {
	ConnectedClients int `json:"connected_clients"`
}

// MQTTMetrics contains MQTT client statistics.
type MQTTMetrics struct {
	Connected bool `json:"connected"`
}

// ConsoleMetrics counts consoles by session state.
type ConsoleMetrics struct {
	Total    int            `json:"total"`
	ByState  map[string]int `json:"by_state"`
	Terminal int            `json:"terminal"`
}

// DatabaseMetrics contains database connection pool statistics.
type DatabaseMetrics struct {
	OpenConnections int   `json:"open_connections"`
	InUse           int   `json:"in_use"`
	Idle            int   `json:"idle"`
	WaitCount       int64 `json:"wait_count"`
}

// handleMetrics returns process, bus and console metrics.
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
		WebSocket: WSMetrics{
			ConnectedClients: s.hub.ClientCount(),
		},
		Consoles: ConsoleMetrics{
			ByState: make(map[string]int),
		},
	}

	if s.mqtt != nil {
		metrics.MQTT.Connected = s.mqtt.IsConnected()
	}
	if s.bridge != nil {
		stats := s.bridge.Statistics()
		metrics.Bridge = &stats
	}

	for _, st := range s.consoles.List() {
		metrics.Consoles.Total++
		metrics.Consoles.ByState[st.State]++
		if st.Terminal {
			metrics.Consoles.Terminal++
		}
	}

	if s.db != nil {
		dbStats := s.db.Stats()
		metrics.Database = &DatabaseMetrics{
			OpenConnections: dbStats.OpenConnections,
			InUse:           dbStats.InUse,
			Idle:            dbStats.Idle,
			WaitCount:       dbStats.WaitCount,
		}
	}

	writeJSON(w, http.StatusOK, metrics)
}
