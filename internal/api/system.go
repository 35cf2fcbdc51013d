package api

import (
	"net/http"
	"runtime"
	"time"
)

// SystemStatus is the response of GET /system.
type SystemStatus struct {
	Timestamp     string         `json:"timestamp"`
	Version       string         `json:"version"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	Runtime       RuntimeMetrics `json:"runtime"`
	WebSocket     WSMetrics      `json:"websocket"`
	MQTT          MQTTMetrics    `json:"mqtt"`
	Telemetry     TelemetryStats `json:"telemetry"`
	Slots         SlotMetrics    `json:"slots"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// WSMetrics contains WebSocket hub statistics.
type WSMetrics struct {
	ConnectedClients int `json:"connected_clients"`
}

// MQTTMetrics reports the broker connection. Enabled is false when the
// server runs without MQTT.
type MQTTMetrics struct {
	Enabled       bool     `json:"enabled"`
	Connected     bool     `json:"connected"`
	Subscriptions []string `json:"subscriptions,omitempty"`
}

// TelemetryStats reports the InfluxDB sink. Enabled is false when the
// server runs without it.
type TelemetryStats struct {
	Enabled   bool   `json:"enabled"`
	Connected bool   `json:"connected"`
	Points    uint64 `json:"points"`
	Failures  uint64 `json:"failures"`
	LastError string `json:"last_error,omitempty"`
}

// SlotMetrics counts slots by state.
type SlotMetrics struct {
	Total    int `json:"total"`
	Active   int `json:"active"`
	Disabled int `json:"disabled"`
}

func (s *Server) handleSystem(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	status := SystemStatus{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		WebSocket: WSMetrics{ConnectedClients: s.hub.ClientCount()},
	}
	if s.mqtt != nil {
		status.MQTT = MQTTMetrics{
			Enabled:       true,
			Connected:     s.mqtt.IsConnected(),
			Subscriptions: s.mqtt.Subscriptions(),
		}
	}
	if s.influx != nil {
		stats := s.influx.Stats()
		status.Telemetry = TelemetryStats{
			Enabled:   true,
			Connected: s.influx.IsConnected(),
			Points:    stats.Points,
			Failures:  stats.Failures,
			LastError: stats.LastError,
		}
	}

	for _, info := range s.container.Slots() {
		status.Slots.Total++
		if info.Active != "" {
			status.Slots.Active++
		} else {
			status.Slots.Disabled++
		}
	}

	writeJSON(w, http.StatusOK, status)
}
