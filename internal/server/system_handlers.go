package server

import (
	"net/http"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

// handleSystemHealth reports process, host and database health in one
// payload for the ops dashboard.
func (s *Server) handleSystemHealth(w http.ResponseWriter, r *http.Request) {
	payload := map[string]any{
		"status": "ok",
		"uptime": time.Since(s.startupTime).Round(time.Second).String(),
	}

	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		payload["cpu_percent"] = percents[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		payload["memory"] = map[string]any{
			"total":        vm.Total,
			"used":         vm.Used,
			"used_percent": vm.UsedPercent,
		}
	}
	if usage, err := disk.Usage(s.cfg.DataDir); err == nil {
		payload["disk"] = map[string]any{
			"total":        usage.Total,
			"free":         usage.Free,
			"used_percent": usage.UsedPercent,
		}
	}

	dbHealth := map[string]any{"healthy": true}
	if err := s.historyDB.HealthCheck(r.Context()); err != nil {
		payload["status"] = "degraded"
		dbHealth["healthy"] = false
		dbHealth["error"] = err.Error()
	}
	if stats, err := s.historyDB.GetStats(); err == nil {
		dbHealth["size_bytes"] = stats.SizeBytes
		dbHealth["wal_size_bytes"] = stats.WALSizeBytes
	}
	payload["history_db"] = dbHealth

	if info, err := s.store.GetInfo(); err == nil {
		payload["cache"] = info
	}

	status := http.StatusOK
	if payload["status"] == "degraded" {
		status = http.StatusServiceUnavailable
	}
	s.respondJSON(w, status, payload)
}
