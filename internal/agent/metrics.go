package agent

import (
	"fmt"
	"math"
	"os"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/fleetsnap/fleetsnap/internal/models"
)

const gb = 1024 * 1024 * 1024

// cpuSampleWindow is the delay between priming per-process CPU counters
// and reading them. Shorter windows underreport busy processes.
const cpuSampleWindow = 200 * time.Millisecond

type SnapshotCollector struct {
	hostname string
}

func NewSnapshotCollector() (*SnapshotCollector, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return nil, fmt.Errorf("get hostname: %w", err)
	}

	return &SnapshotCollector{hostname: hostname}, nil
}

// Collect builds one full snapshot report: every visible process plus the
// system totals, stamped with the capture time.
func (sc *SnapshotCollector) Collect() (*models.Report, error) {
	processes, err := sc.collectProcesses()
	if err != nil {
		return nil, fmt.Errorf("collect processes: %w", err)
	}

	details, err := sc.collectSystemDetails()
	if err != nil {
		return nil, fmt.Errorf("collect system details: %w", err)
	}

	return &models.Report{
		Hostname:      sc.hostname,
		CapturedAt:    time.Now().UTC(),
		Processes:     processes,
		SystemDetails: *details,
	}, nil
}

// collectProcesses samples CPU usage in two passes: prime every process
// counter, wait, then read. Processes that disappear or deny access
// between the passes are skipped, not fatal.
func (sc *SnapshotCollector) collectProcesses() ([]models.ProcessInfo, error) {
	procs, err := process.Processes()
	if err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}

	for _, p := range procs {
		p.CPUPercent()
	}

	time.Sleep(cpuSampleWindow)

	infos := make([]models.ProcessInfo, 0, len(procs))
	for _, p := range procs {
		info, err := readProcess(p)
		if err != nil {
			continue
		}
		infos = append(infos, info)
	}

	return infos, nil
}

func readProcess(p *process.Process) (models.ProcessInfo, error) {
	var info models.ProcessInfo

	name, err := p.Name()
	if err != nil || name == "" {
		name = "unknown"
	}

	ppid := int32(-1)
	if v, err := p.Ppid(); err == nil {
		ppid = v
	}

	cpuPct, err := p.CPUPercent()
	if err != nil {
		return info, err
	}

	var rss int64
	if memInfo, err := p.MemoryInfo(); err == nil && memInfo != nil {
		rss = int64(memInfo.RSS)
	}

	memPct, err := p.MemoryPercent()
	if err != nil {
		return info, err
	}

	info = models.ProcessInfo{
		Pid:           int(p.Pid),
		Ppid:          int(ppid),
		Name:          name,
		CPUPercent:    cpuPct,
		MemoryRSS:     rss,
		MemoryPercent: float64(memPct),
	}
	return info, nil
}

func (sc *SnapshotCollector) collectSystemDetails() (*models.SystemInfo, error) {
	hostInfo, err := host.Info()
	if err != nil {
		return nil, fmt.Errorf("get host info: %w", err)
	}

	processor := ""
	if cpuInfo, err := cpu.Info(); err == nil && len(cpuInfo) > 0 {
		processor = cpuInfo[0].ModelName
	}

	cores, err := cpu.Counts(false)
	if err != nil {
		return nil, fmt.Errorf("get core count: %w", err)
	}

	threads, err := cpu.Counts(true)
	if err != nil {
		return nil, fmt.Errorf("get thread count: %w", err)
	}

	memInfo, err := mem.VirtualMemory()
	if err != nil {
		return nil, fmt.Errorf("get memory info: %w", err)
	}

	diskInfo, err := disk.Usage("/")
	if err != nil {
		return nil, fmt.Errorf("get disk info: %w", err)
	}

	ramTotal := roundGB(memInfo.Total)
	ramAvailable := roundGB(memInfo.Available)
	storageTotal := roundGB(diskInfo.Total)
	storageFree := roundGB(diskInfo.Free)

	return &models.SystemInfo{
		OperatingSystem: hostInfo.OS,
		Processor:       processor,
		NumberOfCores:   cores,
		NumberOfThreads: threads,
		RAMTotalGB:      ramTotal,
		RAMUsedGB:       ramTotal - ramAvailable,
		RAMAvailableGB:  ramAvailable,
		StorageTotalGB:  storageTotal,
		StorageUsedGB:   storageTotal - storageFree,
		StorageFreeGB:   storageFree,
	}, nil
}

func roundGB(bytes uint64) float64 {
	return math.Round(float64(bytes)/gb*100) / 100
}
