package server

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/jihoon/wonfolio/internal/database"
	"github.com/jihoon/wonfolio/internal/scheduler"
)

// SystemHandlers handles system monitoring endpoints.
type SystemHandlers struct {
	log         zerolog.Logger
	startupTime time.Time
	portfolioDB *database.DB
	cacheDB     *database.DB
	coordinator *scheduler.Coordinator
}

// NewSystemHandlers creates a new system handlers instance.
func NewSystemHandlers(portfolioDB, cacheDB *database.DB, coordinator *scheduler.Coordinator, log zerolog.Logger) *SystemHandlers {
	return &SystemHandlers{
		log:         log.With().Str("component", "system_handlers").Logger(),
		startupTime: time.Now(),
		portfolioDB: portfolioDB,
		cacheDB:     cacheDB,
		coordinator: coordinator,
	}
}

// SystemStatusResponse represents the system status response.
type SystemStatusResponse struct {
	Status        string             `json:"status"`
	UptimeSeconds float64            `json:"uptime_seconds"`
	CPUPercent    float64            `json:"cpu_percent"`
	MemoryPercent float64            `json:"memory_percent"`
	RefreshState  string             `json:"refresh_state"`
	LastRefresh   string             `json:"last_refresh,omitempty"`
	Databases     map[string]DBState `json:"databases"`
}

// DBState describes a single database's size and connectivity.
type DBState struct {
	Healthy   bool  `json:"healthy"`
	SizeBytes int64 `json:"size_bytes"`
	PageCount int64 `json:"page_count"`
}

// handleStatus handles GET /api/system/status
func (h *SystemHandlers) handleStatus(w http.ResponseWriter, r *http.Request) {
	cpuPct, memPct := h.hostStats()

	resp := SystemStatusResponse{
		Status:        "ok",
		UptimeSeconds: time.Since(h.startupTime).Seconds(),
		CPUPercent:    cpuPct,
		MemoryPercent: memPct,
		RefreshState:  h.coordinator.State(),
		Databases: map[string]DBState{
			"portfolio": h.dbState(r, h.portfolioDB),
			"cache":     h.dbState(r, h.cacheDB),
		},
	}
	if lastRun := h.coordinator.LastRun(); !lastRun.IsZero() {
		resp.LastRefresh = lastRun.Format(time.RFC3339)
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *SystemHandlers) dbState(r *http.Request, db *database.DB) DBState {
	state := DBState{Healthy: db.HealthCheck(r.Context()) == nil}

	stats, err := db.GetStats()
	if err != nil {
		h.log.Warn().Err(err).Str("database", db.Name()).Msg("Failed to get database stats")
		return state
	}
	state.SizeBytes = stats.SizeBytes
	state.PageCount = stats.PageCount
	return state
}

func (h *SystemHandlers) hostStats() (float64, float64) {
	cpuUsage, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get CPU percentage")
		cpuUsage = []float64{0}
	}
	cpuAvg := 0.0
	if len(cpuUsage) > 0 {
		cpuAvg = cpuUsage[0]
	}

	memStat, err := mem.VirtualMemory()
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get memory statistics")
		return cpuAvg, 0
	}

	return cpuAvg, memStat.UsedPercent
}
