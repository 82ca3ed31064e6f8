// Package handlers provides HTTP API handlers for asciireel.
package handlers

import (
	"context"
	"os"
	"runtime"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"

	"github.com/jmylchreest/asciireel/internal/httpclient"
)

// Upstream is a remote reel source guarded by a circuit breaker.
type Upstream interface {
	BaseURL() string
	CircuitState() httpclient.CircuitState
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	version   string
	startTime time.Time
	sessions  *SessionRegistry
	upstream  Upstream
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(version string) *HealthHandler {
	return &HealthHandler{
		version:   version,
		startTime: time.Now(),
	}
}

// WithSessions reports live playback sessions in the health payload.
func (h *HealthHandler) WithSessions(sessions *SessionRegistry) *HealthHandler {
	h.sessions = sessions
	return h
}

// WithUpstream reports the remote reel source. An open circuit marks the
// service degraded.
func (h *HealthHandler) WithUpstream(u Upstream) *HealthHandler {
	h.upstream = u
	return h
}

// HealthInput is the input for the health check endpoint.
type HealthInput struct{}

// HealthOutput is the output for the health check endpoint.
type HealthOutput struct {
	Body HealthResponse
}

// HealthResponse reports service status and host load.
type HealthResponse struct {
	Status        string        `json:"status"`
	Timestamp     string        `json:"timestamp"`
	Version       string        `json:"version"`
	Uptime        string        `json:"uptime"`
	UptimeSeconds float64       `json:"uptime_seconds"`
	Sessions      int           `json:"sessions"`
	MaxSessions   int           `json:"max_sessions"`
	Upstream      *UpstreamInfo `json:"upstream,omitempty"`
	CPUInfo       CPUInfo       `json:"cpu_info"`
	Memory        MemoryInfo    `json:"memory"`
	Runtime       RuntimeInfo   `json:"runtime"`
}

// UpstreamInfo describes the remote reel source.
type UpstreamInfo struct {
	URL     string `json:"url"`
	Circuit string `json:"circuit" enum:"closed,open,half-open"`
}

// CPUInfo holds load averages.
type CPUInfo struct {
	Cores              int     `json:"cores"`
	Load1Min           float64 `json:"load_1min"`
	Load5Min           float64 `json:"load_5min"`
	Load15Min          float64 `json:"load_15min"`
	LoadPercentage1Min float64 `json:"load_percentage_1min"`
}

// MemoryInfo holds system and process memory figures in megabytes.
type MemoryInfo struct {
	TotalMemoryMB     float64 `json:"total_memory_mb"`
	UsedMemoryMB      float64 `json:"used_memory_mb"`
	AvailableMemoryMB float64 `json:"available_memory_mb"`
	ProcessMemoryMB   float64 `json:"process_memory_mb"`
}

// RuntimeInfo describes the Go runtime.
type RuntimeInfo struct {
	GoVersion  string `json:"go_version"`
	Goroutines int    `json:"goroutines"`
}

// Register registers the health routes with the API.
func (h *HealthHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getHealth",
		Method:      "GET",
		Path:        "/api/v1/health",
		Summary:     "Health check",
		Description: "Returns the health status of the service including host load and live sessions",
		Tags:        []string{"System"},
	}, h.GetHealth)
}

// GetHealth returns the health status of the service.
func (h *HealthHandler) GetHealth(ctx context.Context, _ *HealthInput) (*HealthOutput, error) {
	now := time.Now()
	uptime := now.Sub(h.startTime)

	resp := HealthResponse{
		Status:        "healthy",
		Timestamp:     now.UTC().Format(time.RFC3339),
		Version:       h.version,
		Uptime:        uptime.Round(time.Second).String(),
		UptimeSeconds: uptime.Seconds(),
		CPUInfo:       h.getCPUInfo(ctx),
		Memory:        h.getMemoryInfo(ctx),
		Runtime: RuntimeInfo{
			GoVersion:  runtime.Version(),
			Goroutines: runtime.NumGoroutine(),
		},
	}
	if h.sessions != nil {
		resp.Sessions = h.sessions.Len()
		resp.MaxSessions = h.sessions.Max()
	}
	if h.upstream != nil {
		state := h.upstream.CircuitState()
		resp.Upstream = &UpstreamInfo{URL: h.upstream.BaseURL(), Circuit: state.String()}
		if state == httpclient.CircuitOpen {
			resp.Status = "degraded"
		}
	}
	return &HealthOutput{Body: resp}, nil
}

func (h *HealthHandler) getCPUInfo(ctx context.Context) CPUInfo {
	cores := runtime.NumCPU()
	info := CPUInfo{Cores: cores}

	loadAvg, err := load.AvgWithContext(ctx)
	if err == nil && loadAvg != nil {
		info.Load1Min = loadAvg.Load1
		info.Load5Min = loadAvg.Load5
		info.Load15Min = loadAvg.Load15
		if cores > 0 {
			info.LoadPercentage1Min = (loadAvg.Load1 / float64(cores)) * 100
		}
	}
	return info
}

func (h *HealthHandler) getMemoryInfo(ctx context.Context) MemoryInfo {
	const mb = 1024 * 1024
	info := MemoryInfo{}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil && vm != nil {
		info.TotalMemoryMB = float64(vm.Total) / mb
		info.UsedMemoryMB = float64(vm.Used) / mb
		info.AvailableMemoryMB = float64(vm.Available) / mb
	}

	if proc, err := process.NewProcessWithContext(ctx, int32(os.Getpid())); err == nil {
		if pm, err := proc.MemoryInfoWithContext(ctx); err == nil && pm != nil {
			info.ProcessMemoryMB = float64(pm.RSS) / mb
		}
	}
	return info
}
