// Package handlers provides HTTP API handlers for compressarr.
package handlers

import (
	"time"

	"github.com/jmylchreest/compressarr/internal/models"
	"github.com/jmylchreest/compressarr/internal/workers"
)

// VideoResponse is the API representation of a video row.
type VideoResponse struct {
	ID            uint      `json:"id" doc:"Video ID"`
	Filename      string    `json:"filename" doc:"Basename of the source file"`
	Filepath      string    `json:"filepath" doc:"Absolute path of the source file"`
	OriginalSize  int64     `json:"original_size" doc:"Source size in bytes at discovery"`
	OriginalCodec string    `json:"original_codec,omitempty" doc:"Probed codec of the source"`
	FFprobeData   string    `json:"ffprobe_data,omitempty" doc:"Probe format JSON used for synthesis"`
	AICommand     string    `json:"ai_command,omitempty" doc:"Synthesized transcode command"`
	SystemInfo    string    `json:"system_info,omitempty" doc:"Host capability snapshot used for synthesis"`
	EstimatedSize int64     `json:"estimated_size,omitempty" doc:"Projected output size in bytes"`
	OptimizedSize int64     `json:"optimized_size,omitempty" doc:"Actual output size in bytes"`
	OptimizedPath string    `json:"optimized_path,omitempty" doc:"Absolute path of the transcoded output"`
	NewCodec      string    `json:"new_codec,omitempty" doc:"Probed codec of the output"`
	Status        string    `json:"status" doc:"Workflow status"`
	Progress      string    `json:"progress,omitempty" doc:"Last persisted transcoder progress line"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// VideoFromModel converts a video model to its API representation.
func VideoFromModel(m *models.Video) VideoResponse {
	return VideoResponse{
		ID:            m.ID,
		Filename:      m.Filename,
		Filepath:      m.Filepath,
		OriginalSize:  m.OriginalSize,
		OriginalCodec: m.OriginalCodec,
		FFprobeData:   m.FFprobeData,
		AICommand:     m.AICommand,
		SystemInfo:    m.SystemInfo,
		EstimatedSize: m.EstimatedSize,
		OptimizedSize: m.OptimizedSize,
		OptimizedPath: m.OptimizedPath,
		NewCodec:      m.NewCodec,
		Status:        m.Status.String(),
		Progress:      m.Progress,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

// StatusHistoryResponse is the API representation of one status history row.
type StatusHistoryResponse struct {
	ID        uint      `json:"id"`
	VideoID   uint      `json:"video_id"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// StatusHistoryFromModel converts a status history model to its API representation.
func StatusHistoryFromModel(m *models.StatusHistory) StatusHistoryResponse {
	return StatusHistoryResponse{
		ID:        m.ID,
		VideoID:   m.VideoID,
		Status:    m.Status.String(),
		CreatedAt: m.CreatedAt,
	}
}

// TranscodeProgressResponse is the live progress view for one video.
// State is "idle" when no transcode is tracked; the last persisted progress
// line from the row is returned so a poll between runs still sees something.
type TranscodeProgressResponse struct {
	VideoID        uint      `json:"video_id"`
	OperationID    string    `json:"operation_id,omitempty" doc:"ULID of the tracked transcode run"`
	Filename       string    `json:"filename,omitempty"`
	State          string    `json:"state" doc:"idle, running, completed, aborted or failed"`
	Frame          int64     `json:"frame,omitempty"`
	TimeSeconds    float64   `json:"time_seconds,omitempty"`
	SizeBytes      int64     `json:"size_bytes,omitempty"`
	EstimatedSize  int64     `json:"estimated_size,omitempty"`
	ReductionRatio float64   `json:"reduction_ratio,omitempty"`
	LastLine       string    `json:"last_line,omitempty"`
	StartedAt      time.Time `json:"started_at,omitzero"`
	UpdatedAt      time.Time `json:"updated_at,omitzero"`
}

// ProgressFromSnapshot converts a tracker snapshot to its API representation.
func ProgressFromSnapshot(s workers.Snapshot) TranscodeProgressResponse {
	return TranscodeProgressResponse{
		VideoID:        s.VideoID,
		OperationID:    s.OperationID,
		Filename:       s.Filename,
		State:          string(s.State),
		Frame:          s.Frame,
		TimeSeconds:    s.TimeSeconds,
		SizeBytes:      s.SizeBytes,
		EstimatedSize:  s.EstimatedSize,
		ReductionRatio: s.ReductionRatio,
		LastLine:       s.LastLine,
		StartedAt:      s.StartedAt,
		UpdatedAt:      s.UpdatedAt,
	}
}

// BackupResponse is the API representation of a backup archive.
type BackupResponse struct {
	Filename       string              `json:"filename"`
	CreatedAt      time.Time           `json:"created_at"`
	FileSize       int64               `json:"file_size" doc:"Compressed size on disk in bytes"`
	Checksum       string              `json:"checksum,omitempty" doc:"sha256 of the compressed archive"`
	Version        string              `json:"version,omitempty" doc:"compressarr version that created the backup"`
	DatabaseSize   int64               `json:"database_size,omitempty" doc:"Uncompressed database size in bytes"`
	CompressedSize int64               `json:"compressed_size,omitempty"`
	TableCounts    *models.TableCounts `json:"table_counts,omitempty"`
}

// BackupFromModel converts backup metadata to its API representation.
func BackupFromModel(m *models.BackupMetadata) BackupResponse {
	resp := BackupResponse{
		Filename:       m.Filename,
		CreatedAt:      m.CreatedAt,
		FileSize:       m.FileSize,
		Checksum:       m.Checksum,
		Version:        m.CompressarrVersion,
		DatabaseSize:   m.DatabaseSize,
		CompressedSize: m.CompressedSize,
	}
	if m.TableCounts != (models.TableCounts{}) {
		counts := m.TableCounts
		resp.TableCounts = &counts
	}
	return resp
}

// BackupScheduleResponse describes the scheduled backup configuration.
type BackupScheduleResponse struct {
	Enabled     bool   `json:"enabled"`
	Cron        string `json:"cron,omitempty"`
	Description string `json:"description,omitempty" doc:"Human-readable rendering of the cron expression"`
	Retention   int    `json:"retention" doc:"Number of backups kept by cleanup; 0 keeps all"`
	Directory   string `json:"directory"`
}

// HealthResponse is the full health check payload.
type HealthResponse struct {
	Status        string            `json:"status" doc:"healthy or degraded"`
	Timestamp     string            `json:"timestamp"`
	Version       string            `json:"version"`
	Uptime        string            `json:"uptime"`
	UptimeSeconds float64           `json:"uptime_seconds"`
	SystemLoad    float64           `json:"system_load" doc:"1 minute load normalized to 0-1 per core"`
	CPUInfo       CPUInfo           `json:"cpu_info"`
	Memory        MemoryInfo        `json:"memory"`
	Components    HealthComponents  `json:"components"`
	Checks        map[string]string `json:"checks"`
}

// CPUInfo holds CPU core count and load averages.
type CPUInfo struct {
	Cores              int     `json:"cores"`
	Load1Min           float64 `json:"load_1min"`
	Load5Min           float64 `json:"load_5min"`
	Load15Min          float64 `json:"load_15min"`
	LoadPercentage1Min float64 `json:"load_percentage_1min"`
}

// MemoryInfo holds system and process memory usage.
type MemoryInfo struct {
	TotalMemoryMB     float64           `json:"total_memory_mb"`
	UsedMemoryMB      float64           `json:"used_memory_mb"`
	FreeMemoryMB      float64           `json:"free_memory_mb"`
	AvailableMemoryMB float64           `json:"available_memory_mb"`
	SwapTotalMB       float64           `json:"swap_total_mb"`
	SwapUsedMB        float64           `json:"swap_used_mb"`
	ProcessMemory     ProcessMemoryInfo `json:"process_memory"`
}

// ProcessMemoryInfo holds memory usage of this process and its children.
// Children are the ffmpeg runs the transcoder has in flight.
type ProcessMemoryInfo struct {
	MainProcessMB      float64 `json:"main_process_mb"`
	ChildProcessesMB   float64 `json:"child_processes_mb"`
	TotalProcessTreeMB float64 `json:"total_process_tree_mb"`
	ChildProcessCount  int     `json:"child_process_count"`
	PercentageOfSystem float64 `json:"percentage_of_system"`
}

// DatabaseHealth holds connection pool numbers and ping timing.
type DatabaseHealth struct {
	Status                 string  `json:"status" doc:"ok, error or unknown"`
	ConnectionPoolSize     int     `json:"connection_pool_size"`
	ActiveConnections      int     `json:"active_connections"`
	IdleConnections        int     `json:"idle_connections"`
	PoolUtilizationPercent float64 `json:"pool_utilization_percent"`
	ResponseTimeMS         float64 `json:"response_time_ms"`
	ResponseTimeStatus     string  `json:"response_time_status" doc:"healthy, slow or error"`
}

// WorkerStatus is the API view of one workflow loop's supervision state.
type WorkerStatus struct {
	Name                string     `json:"name"`
	Running             bool       `json:"running"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	LastError           string     `json:"last_error,omitempty"`
	LastPass            *time.Time `json:"last_pass,omitempty"`
}

// CircuitBreakerStatus is the API view of one HTTP circuit breaker.
type CircuitBreakerStatus struct {
	Name                string  `json:"name"`
	State               string  `json:"state" doc:"closed, open or half-open"`
	ConsecutiveFailures int     `json:"consecutive_failures"`
	TotalRequests       int64   `json:"total_requests"`
	TotalFailures       int64   `json:"total_failures"`
	FailureRate         float64 `json:"failure_rate"`
}

// HealthComponents groups per-component health details.
type HealthComponents struct {
	Database        DatabaseHealth         `json:"database"`
	Workers         []WorkerStatus         `json:"workers,omitempty"`
	CircuitBreakers []CircuitBreakerStatus `json:"circuit_breakers,omitempty"`
}
