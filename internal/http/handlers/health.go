package handlers

import (
	"context"
	"os"
	"runtime"
	"sort"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/jmylchreest/compressarr/internal/workers"
	"github.com/jmylchreest/compressarr/pkg/httpclient"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
	"gorm.io/gorm"
)

// WorkerStater exposes the supervision state of the workflow loops.
type WorkerStater interface {
	States() []workers.WorkerState
}

// CircuitStatser exposes circuit breaker statistics for one upstream client.
type CircuitStatser interface {
	CircuitStats() httpclient.BreakerStats
}

// HealthHandler serves the health and probe endpoints.
type HealthHandler struct {
	version   string
	startTime time.Time
	db        *gorm.DB
	workers   WorkerStater
	breakers  map[string]CircuitStatser
}

// NewHealthHandler creates a handler reporting the given version string.
func NewHealthHandler(version string) *HealthHandler {
	return &HealthHandler{
		version:   version,
		startTime: time.Now(),
		breakers:  make(map[string]CircuitStatser),
	}
}

// WithDB wires the database whose pool and ping feed the health report.
func (h *HealthHandler) WithDB(db *gorm.DB) *HealthHandler {
	h.db = db
	return h
}

// WithWorkers sets the worker supervisor for health checks.
func (h *HealthHandler) WithWorkers(w WorkerStater) *HealthHandler {
	h.workers = w
	return h
}

// WithCircuitBreaker registers an upstream client's circuit breaker under the
// given name.
func (h *HealthHandler) WithCircuitBreaker(name string, c CircuitStatser) *HealthHandler {
	h.breakers[name] = c
	return h
}

// Register adds the health and probe operations to the API.
func (h *HealthHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getHealth",
		Method:      "GET",
		Path:        "/health",
		Summary:     "Health check",
		Description: "Returns the health status of the service including system metrics",
		Tags:        []string{"System"},
	}, h.GetHealth)

	huma.Register(api, huma.Operation{
		OperationID: "getLivez",
		Method:      "GET",
		Path:        "/livez",
		Summary:     "Liveness probe",
		Description: "Returns ok while the process is serving requests",
		Tags:        []string{"System"},
	}, h.GetLivez)

	huma.Register(api, huma.Operation{
		OperationID: "getReadyz",
		Method:      "GET",
		Path:        "/readyz",
		Summary:     "Readiness probe",
		Description: "Returns ready once the database answers pings",
		Tags:        []string{"System"},
	}, h.GetReadyz)
}

// HealthInput is the (empty) input of the health endpoint.
type HealthInput struct{}

// HealthOutput wraps the health report.
type HealthOutput struct {
	Body HealthResponse
}

// GetHealth assembles the full health report: system load, memory, database
// pool state, worker supervision and upstream circuit breakers.
func (h *HealthHandler) GetHealth(ctx context.Context, input *HealthInput) (*HealthOutput, error) {
	now := time.Now()
	uptime := now.Sub(h.startTime)

	cpuInfo := h.getCPUInfo()
	memInfo := h.getMemoryInfo()
	dbHealth := h.getDatabaseHealth(ctx)

	var workerStatuses []WorkerStatus
	if h.workers != nil {
		states := h.workers.States()
		workerStatuses = make([]WorkerStatus, 0, len(states))
		for _, s := range states {
			workerStatuses = append(workerStatuses, WorkerStatus{
				Name:                s.Name,
				Running:             s.Running,
				ConsecutiveFailures: s.ConsecutiveFailures,
				LastError:           s.LastError,
				LastPass:            s.LastPass,
			})
		}
	}

	var circuitBreakers []CircuitBreakerStatus
	if len(h.breakers) > 0 {
		names := make([]string, 0, len(h.breakers))
		for name := range h.breakers {
			names = append(names, name)
		}
		sort.Strings(names)

		circuitBreakers = make([]CircuitBreakerStatus, 0, len(names))
		for _, name := range names {
			stats := h.breakers[name].CircuitStats()
			circuitBreakers = append(circuitBreakers, CircuitBreakerStatus{
				Name:                name,
				State:               stats.State.String(),
				ConsecutiveFailures: stats.ConsecutiveFailures,
				TotalRequests:       stats.TotalRequests,
				TotalFailures:       stats.TotalFailures,
				FailureRate:         stats.FailureRate,
			})
		}
	}

	status := "healthy"
	if dbHealth.Status == "error" {
		status = "degraded"
	}

	checks := map[string]string{
		"database": dbHealth.Status,
	}
	if h.workers != nil {
		checks["workers"] = workersCheck(workerStatuses)
	}

	return &HealthOutput{
		Body: HealthResponse{
			Status:        status,
			Timestamp:     now.UTC().Format(time.RFC3339),
			Version:       h.version,
			Uptime:        uptime.Round(time.Second).String(),
			UptimeSeconds: uptime.Seconds(),
			SystemLoad:    cpuInfo.LoadPercentage1Min / 100,
			CPUInfo:       cpuInfo,
			Memory:        memInfo,
			Components: HealthComponents{
				Database:        dbHealth,
				Workers:         workerStatuses,
				CircuitBreakers: circuitBreakers,
			},
			Checks: checks,
		},
	}, nil
}

// LivezInput is the input for the liveness probe.
type LivezInput struct{}

// LivezOutput is the output for the liveness probe.
type LivezOutput struct {
	Body struct {
		Status string `json:"status"`
	}
}

// GetLivez reports process liveness.
func (h *HealthHandler) GetLivez(ctx context.Context, input *LivezInput) (*LivezOutput, error) {
	resp := &LivezOutput{}
	resp.Body.Status = "ok"
	return resp, nil
}

// ReadyzInput is the input for the readiness probe.
type ReadyzInput struct{}

// ReadyzOutput is the output for the readiness probe.
type ReadyzOutput struct {
	Body struct {
		Status     string            `json:"status"`
		Components map[string]string `json:"components"`
	}
}

// GetReadyz reports whether the service is ready to take traffic. Readiness
// is gated on the database; worker state is reported but does not block, a
// loop that exhausts its failure policy terminates the process instead.
func (h *HealthHandler) GetReadyz(ctx context.Context, input *ReadyzInput) (*ReadyzOutput, error) {
	components := make(map[string]string)
	ready := true

	if h.db == nil {
		components["database"] = "not_configured"
		ready = false
	} else if sqlDB, err := h.db.DB(); err != nil {
		components["database"] = "error"
		ready = false
	} else if err := sqlDB.PingContext(ctx); err != nil {
		components["database"] = "error"
		ready = false
	} else {
		components["database"] = "ok"
	}

	if h.workers == nil {
		components["workers"] = "not_configured"
	} else {
		states := h.workers.States()
		statuses := make([]WorkerStatus, 0, len(states))
		for _, s := range states {
			statuses = append(statuses, WorkerStatus{Running: s.Running})
		}
		components["workers"] = workersCheck(statuses)
	}

	resp := &ReadyzOutput{}
	resp.Body.Components = components
	if ready {
		resp.Body.Status = "ready"
	} else {
		resp.Body.Status = "not_ready"
	}
	return resp, nil
}

// workersCheck summarizes worker supervision states for the checks map.
func workersCheck(statuses []WorkerStatus) string {
	if len(statuses) == 0 {
		return "ok"
	}
	for _, s := range statuses {
		if !s.Running {
			return "degraded"
		}
	}
	return "ok"
}

// mb converts a byte count from gopsutil into megabytes.
func mb(bytes uint64) float64 {
	return float64(bytes) / 1024 / 1024
}

// getCPUInfo collects load averages. Collection failures leave the zero
// values; the endpoint stays up even when /proc is unreadable.
func (h *HealthHandler) getCPUInfo() CPUInfo {
	info := CPUInfo{Cores: runtime.NumCPU()}

	avg, err := load.Avg()
	if err != nil || avg == nil {
		return info
	}

	info.Load1Min = avg.Load1
	info.Load5Min = avg.Load5
	info.Load15Min = avg.Load15
	if info.Cores > 0 {
		info.LoadPercentage1Min = avg.Load1 / float64(info.Cores) * 100
	}
	return info
}

// getMemoryInfo collects system and swap usage plus this process tree.
func (h *HealthHandler) getMemoryInfo() MemoryInfo {
	var info MemoryInfo

	if vm, err := mem.VirtualMemory(); err == nil && vm != nil {
		info.TotalMemoryMB = mb(vm.Total)
		info.UsedMemoryMB = mb(vm.Used)
		info.FreeMemoryMB = mb(vm.Free)
		info.AvailableMemoryMB = mb(vm.Available)
	}

	if swap, err := mem.SwapMemory(); err == nil && swap != nil {
		info.SwapTotalMB = mb(swap.Total)
		info.SwapUsedMB = mb(swap.Used)
	}

	info.ProcessMemory = h.getProcessMemoryInfo(info.TotalMemoryMB)
	return info
}

// getProcessMemoryInfo measures this process and its children. The children
// are the transcoder's live ffmpeg runs, which dominate memory use during
// encodes.
func (h *HealthHandler) getProcessMemoryInfo(totalSystemMB float64) ProcessMemoryInfo {
	var info ProcessMemoryInfo

	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return info
	}

	if m, err := proc.MemoryInfo(); err == nil && m != nil {
		info.MainProcessMB = mb(m.RSS)
		info.TotalProcessTreeMB = info.MainProcessMB
		if totalSystemMB > 0 {
			info.PercentageOfSystem = info.MainProcessMB / totalSystemMB * 100
		}
	}

	children, err := proc.Children()
	if err != nil {
		return info
	}
	info.ChildProcessCount = len(children)
	for _, child := range children {
		m, err := child.MemoryInfo()
		if err != nil || m == nil {
			continue
		}
		info.ChildProcessesMB += mb(m.RSS)
		info.TotalProcessTreeMB += mb(m.RSS)
	}
	return info
}

// getDatabaseHealth returns connection pool numbers and ping timing.
func (h *HealthHandler) getDatabaseHealth(ctx context.Context) DatabaseHealth {
	health := DatabaseHealth{
		Status:             "ok",
		ResponseTimeStatus: "healthy",
	}

	if h.db == nil {
		health.Status = "unknown"
		return health
	}

	sqlDB, err := h.db.DB()
	if err != nil {
		health.Status = "error"
		return health
	}

	stats := sqlDB.Stats()
	health.ConnectionPoolSize = stats.MaxOpenConnections
	health.ActiveConnections = stats.InUse
	health.IdleConnections = stats.Idle

	if stats.MaxOpenConnections > 0 {
		health.PoolUtilizationPercent = float64(stats.InUse) / float64(stats.MaxOpenConnections) * 100
	}

	start := time.Now()
	err = sqlDB.PingContext(ctx)
	health.ResponseTimeMS = float64(time.Since(start).Microseconds()) / 1000

	if err != nil {
		health.Status = "error"
		health.ResponseTimeStatus = "error"
	} else if health.ResponseTimeMS > 100 {
		health.ResponseTimeStatus = "slow"
	}

	return health
}
