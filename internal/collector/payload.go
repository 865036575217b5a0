package collector

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/fleetsnap/fleetsnap/internal/models"
)

// ValidationError reports a malformed or incomplete ingestion payload.
// It is always raised before any storage access.
type ValidationError struct {
	Detail string
}

func (e *ValidationError) Error() string {
	return e.Detail
}

func validationErrorf(format string, args ...interface{}) error {
	return &ValidationError{Detail: fmt.Sprintf(format, args...)}
}

// Every field is required on the wire, so the input types use pointers to
// tell an absent field from a zero value. Unknown extra fields are ignored,
// matching what agents in the field already rely on.

type processInput struct {
	Pid           *int     `json:"pid"`
	Ppid          *int     `json:"ppid"`
	Name          *string  `json:"name"`
	CPUPercent    *float64 `json:"cpu_percent"`
	MemoryRSS     *int64   `json:"memory_rss"`
	MemoryPercent *float64 `json:"memory_percent"`
}

type systemInput struct {
	OperatingSystem *string  `json:"operating_system"`
	Processor       *string  `json:"processor"`
	NumberOfCores   *int     `json:"number_of_cores"`
	NumberOfThreads *int     `json:"number_of_threads"`
	RAMTotalGB      *float64 `json:"ram_total_gb"`
	RAMUsedGB       *float64 `json:"ram_used_gb"`
	RAMAvailableGB  *float64 `json:"ram_available_gb"`
	StorageTotalGB  *float64 `json:"storage_total_gb"`
	StorageUsedGB   *float64 `json:"storage_used_gb"`
	StorageFreeGB   *float64 `json:"storage_free_gb"`
}

type snapshotInput struct {
	Hostname      *string        `json:"hostname"`
	CapturedAt    *string        `json:"captured_at"`
	Processes     []processInput `json:"processes"`
	SystemDetails *systemInput   `json:"system_details"`
}

// decodeReport parses and validates one ingestion payload. On success the
// returned report carries only checked, dereferenced values.
func decodeReport(body io.Reader) (*models.Report, error) {
	var in snapshotInput
	if err := json.NewDecoder(body).Decode(&in); err != nil {
		return nil, validationErrorf("invalid JSON body: %v", err)
	}

	if in.Hostname == nil || *in.Hostname == "" {
		return nil, validationErrorf("hostname is required")
	}
	if in.CapturedAt == nil {
		return nil, validationErrorf("captured_at is required")
	}
	capturedAt, err := time.Parse(time.RFC3339Nano, *in.CapturedAt)
	if err != nil {
		return nil, validationErrorf("captured_at: invalid timestamp: %v", err)
	}
	if in.Processes == nil {
		return nil, validationErrorf("processes is required")
	}
	if in.SystemDetails == nil {
		return nil, validationErrorf("system_details is required")
	}

	r := &models.Report{
		Hostname:   *in.Hostname,
		CapturedAt: capturedAt,
		Processes:  make([]models.ProcessInfo, 0, len(in.Processes)),
	}

	for i, p := range in.Processes {
		proc, err := validateProcess(i, p)
		if err != nil {
			return nil, err
		}
		r.Processes = append(r.Processes, proc)
	}

	sd, err := validateSystemDetails(in.SystemDetails)
	if err != nil {
		return nil, err
	}
	r.SystemDetails = sd

	return r, nil
}

func validateProcess(i int, p processInput) (models.ProcessInfo, error) {
	var proc models.ProcessInfo

	switch {
	case p.Pid == nil:
		return proc, validationErrorf("processes[%d].pid is required", i)
	case p.Ppid == nil:
		return proc, validationErrorf("processes[%d].ppid is required", i)
	case p.Name == nil || *p.Name == "":
		return proc, validationErrorf("processes[%d].name is required", i)
	case p.CPUPercent == nil:
		return proc, validationErrorf("processes[%d].cpu_percent is required", i)
	case p.MemoryRSS == nil:
		return proc, validationErrorf("processes[%d].memory_rss is required", i)
	case p.MemoryPercent == nil:
		return proc, validationErrorf("processes[%d].memory_percent is required", i)
	}

	// -1 is the agent's sentinel for an unknown pid/ppid.
	if *p.Pid < -1 {
		return proc, validationErrorf("processes[%d].pid must be >= -1", i)
	}
	if *p.Ppid < -1 {
		return proc, validationErrorf("processes[%d].ppid must be >= -1", i)
	}
	if *p.MemoryRSS < 0 {
		return proc, validationErrorf("processes[%d].memory_rss must be >= 0", i)
	}
	// No upper bound on cpu_percent, multi-core usage exceeds 100.
	if *p.CPUPercent < 0 {
		return proc, validationErrorf("processes[%d].cpu_percent must be >= 0", i)
	}
	if *p.MemoryPercent < 0 {
		return proc, validationErrorf("processes[%d].memory_percent must be >= 0", i)
	}

	proc = models.ProcessInfo{
		Pid:           *p.Pid,
		Ppid:          *p.Ppid,
		Name:          *p.Name,
		CPUPercent:    *p.CPUPercent,
		MemoryRSS:     *p.MemoryRSS,
		MemoryPercent: *p.MemoryPercent,
	}
	return proc, nil
}

func validateSystemDetails(in *systemInput) (models.SystemInfo, error) {
	var sd models.SystemInfo

	required := []struct {
		name string
		ok   bool
	}{
		{"operating_system", in.OperatingSystem != nil},
		{"processor", in.Processor != nil},
		{"number_of_cores", in.NumberOfCores != nil},
		{"number_of_threads", in.NumberOfThreads != nil},
		{"ram_total_gb", in.RAMTotalGB != nil},
		{"ram_used_gb", in.RAMUsedGB != nil},
		{"ram_available_gb", in.RAMAvailableGB != nil},
		{"storage_total_gb", in.StorageTotalGB != nil},
		{"storage_used_gb", in.StorageUsedGB != nil},
		{"storage_free_gb", in.StorageFreeGB != nil},
	}
	for _, f := range required {
		if !f.ok {
			return sd, validationErrorf("system_details.%s is required", f.name)
		}
	}

	if *in.NumberOfCores < 0 || *in.NumberOfThreads < 0 {
		return sd, validationErrorf("system_details core/thread counts must be >= 0")
	}
	for _, f := range []struct {
		name  string
		value float64
	}{
		{"ram_total_gb", *in.RAMTotalGB},
		{"ram_used_gb", *in.RAMUsedGB},
		{"ram_available_gb", *in.RAMAvailableGB},
		{"storage_total_gb", *in.StorageTotalGB},
		{"storage_used_gb", *in.StorageUsedGB},
		{"storage_free_gb", *in.StorageFreeGB},
	} {
		if f.value < 0 {
			return sd, validationErrorf("system_details.%s must be >= 0", f.name)
		}
	}

	sd = models.SystemInfo{
		OperatingSystem: *in.OperatingSystem,
		Processor:       *in.Processor,
		NumberOfCores:   *in.NumberOfCores,
		NumberOfThreads: *in.NumberOfThreads,
		RAMTotalGB:      *in.RAMTotalGB,
		RAMUsedGB:       *in.RAMUsedGB,
		RAMAvailableGB:  *in.RAMAvailableGB,
		StorageTotalGB:  *in.StorageTotalGB,
		StorageUsedGB:   *in.StorageUsedGB,
		StorageFreeGB:   *in.StorageFreeGB,
	}
	return sd, nil
}
