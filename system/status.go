package system

import (
	"encoding/json"
	"math"
	"net/http"
	"time"
)

func (s *System) StatusHandler(w http.ResponseWriter, r *http.Request) {
	// t1 is set once at startup; Hits goes through the lock
	stats := Stats{Hits: s.hits(), t1: s.Stats.t1}
	if !stats.t1.IsZero() {
		d := time.Since(stats.t1)
		stats.Uptime = d.Truncate(time.Second).Seconds()
		if stats.Uptime > 0 {
			stats.Average = math.Round(float64(stats.Hits)/stats.Uptime*100) / 100
		}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}
