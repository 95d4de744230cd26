package monitoring

import (
	"encoding/json"
	"net/http"
	"runtime"
	"sync"
	"time"

	"ledger_scanner/metrics"
)

type HealthStatus struct {
	Status          string            `json:"status"`
	Uptime          string            `json:"uptime"`
	StartTime       time.Time         `json:"start_time"`
	MemoryUsage     uint64            `json:"memory_usage"`
	GoroutineCount  int               `json:"goroutine_count"`
	ProcessedIDs    uint64            `json:"processed_ids"`
	AccountsFound   uint64            `json:"accounts_found"`
	LastProcessed   *time.Time        `json:"last_processed,omitempty"`
	ComponentStatus map[string]string `json:"component_status"`
}

var (
	startTime    = time.Now()
	checksMu     sync.RWMutex
	healthChecks = make(map[string]func() bool)
)

func RegisterHealthCheck(name string, check func() bool) {
	checksMu.Lock()
	defer checksMu.Unlock()
	healthChecks[name] = check
}

func HealthCheckHandler(w http.ResponseWriter, r *http.Request) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	processed, found, _, last, _ := metrics.GetStats()
	status := HealthStatus{
		Status:          "ok",
		Uptime:          time.Since(startTime).String(),
		StartTime:       startTime,
		MemoryUsage:     m.Alloc,
		GoroutineCount:  runtime.NumGoroutine(),
		ProcessedIDs:    processed,
		AccountsFound:   found,
		ComponentStatus: make(map[string]string),
	}
	if !last.IsZero() {
		status.LastProcessed = &last
	}

	checksMu.RLock()
	for name, check := range healthChecks {
		if check() {
			status.ComponentStatus[name] = "healthy"
		} else {
			status.ComponentStatus[name] = "unhealthy"
			status.Status = "degraded"
		}
	}
	checksMu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	if status.Status != "ok" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(status)
}
