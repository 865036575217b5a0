package models

import "time"

type Host struct {
	ID        int64     `json:"id"`
	Hostname  string    `json:"hostname"`
	CreatedAt time.Time `json:"created_at"`
}

// APIKey authorizes snapshot ingestion. HostID is nil until the key is
// bound to a host, either at provisioning time or on first successful use.
type APIKey struct {
	ID        int64     `json:"id"`
	Key       string    `json:"key"`
	HostID    *int64    `json:"host_id"`
	Active    bool      `json:"active"`
	Note      string    `json:"note"`
	CreatedAt time.Time `json:"created_at"`
}

type Snapshot struct {
	ID         int64     `json:"id"`
	HostID     int64     `json:"host_id"`
	CapturedAt time.Time `json:"captured_at"`
	CreatedAt  time.Time `json:"created_at"`
}

// ProcessInfo is one process row as it appears on the wire, both in
// ingestion payloads and in the canonical snapshot representation.
type ProcessInfo struct {
	Pid           int     `json:"pid"`
	Ppid          int     `json:"ppid"`
	Name          string  `json:"name"`
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryRSS     int64   `json:"memory_rss"`
	MemoryPercent float64 `json:"memory_percent"`
}

type SystemInfo struct {
	OperatingSystem string  `json:"operating_system"`
	Processor       string  `json:"processor"`
	NumberOfCores   int     `json:"number_of_cores"`
	NumberOfThreads int     `json:"number_of_threads"`
	RAMTotalGB      float64 `json:"ram_total_gb"`
	RAMUsedGB       float64 `json:"ram_used_gb"`
	RAMAvailableGB  float64 `json:"ram_available_gb"`
	StorageTotalGB  float64 `json:"storage_total_gb"`
	StorageUsedGB   float64 `json:"storage_used_gb"`
	StorageFreeGB   float64 `json:"storage_free_gb"`
}

// Report is the payload an agent submits for one capture cycle.
type Report struct {
	Hostname      string        `json:"hostname"`
	CapturedAt    time.Time     `json:"captured_at"`
	Processes     []ProcessInfo `json:"processes"`
	SystemDetails SystemInfo    `json:"system_details"`
}

// SnapshotView is the canonical representation of a persisted snapshot,
// rebuilt from storage after commit. It is served by the query endpoints
// and published verbatim on the host's broadcast topic.
type SnapshotView struct {
	Hostname      string        `json:"hostname"`
	SnapshotID    int64         `json:"snapshot_id"`
	CapturedAt    time.Time     `json:"captured_at"`
	Processes     []ProcessInfo `json:"processes"`
	SystemDetails *SystemInfo   `json:"system_details"`
}

// SnapshotSummary is one row of the paginated snapshot index.
type SnapshotSummary struct {
	SnapshotID   int64     `json:"snapshot_id"`
	CapturedAt   time.Time `json:"captured_at"`
	ProcessCount int       `json:"process_count"`
}

type SnapshotPage struct {
	Count    int               `json:"count"`
	Page     int               `json:"page"`
	PageSize int               `json:"page_size"`
	Results  []SnapshotSummary `json:"results"`
}

// SeriesPoint is one chronological entry of the per-host aggregation
// series. RAMUsedGB is nil when the snapshot has no system details.
type SeriesPoint struct {
	SnapshotID      int64     `json:"snapshot_id"`
	CapturedAt      time.Time `json:"captured_at"`
	TotalCPUPercent float64   `json:"total_cpu_percent"`
	RAMUsedGB       *float64  `json:"ram_used_gb"`
}
