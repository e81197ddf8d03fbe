package gateway

import (
	"context"
	"encoding/json"
	"runtime"
	"time"
)

// Status is the periodic "status" envelope payload.
type Status struct {
	Health      string  `json:"health,omitempty"`
	Clients     int     `json:"clients"`
	Goroutines  int     `json:"goroutines"`
	HeapAllocMB float64 `json:"heap_alloc_mb"`
	SysMB       float64 `json:"sys_mb"`
	GCRuns      uint32  `json:"gc_runs"`
	UptimeSec   int64   `json:"uptime_sec"`
	TS          string  `json:"ts"`
}

// CollectStatus gathers process resource usage.
func CollectStatus(start time.Time) Status {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return Status{
		Goroutines:  runtime.NumGoroutine(),
		HeapAllocMB: float64(ms.HeapAlloc) / 1024 / 1024,
		SysMB:       float64(ms.Sys) / 1024 / 1024,
		GCRuns:      ms.NumGC,
		UptimeSec:   int64(time.Since(start).Seconds()),
		TS:          time.Now().UTC().Format(time.RFC3339Nano),
	}
}

// RunStatus broadcasts a status envelope every interval until ctx is done.
// health, if set, supplies the overall health string ("healthy", "degraded", ...).
func (h *Hub) RunStatus(ctx context.Context, start time.Time, every time.Duration, health func() string) {
	if every <= 0 {
		every = 5 * time.Second
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := CollectStatus(start)
			s.Clients = h.ClientCount()
			if health != nil {
				s.Health = health()
			}
			data, _ := json.Marshal(s)
			h.broadcast(TypeStatus, data)
		}
	}
}
