package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/fleetsnap/fleetsnap/internal/models"
)

func FormatJSON(data interface{}) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

func FormatHostsTable(hostnames []string) error {
	if len(hostnames) == 0 {
		fmt.Println("No hosts registered")
		return nil
	}

	for _, h := range hostnames {
		fmt.Println(h)
	}
	return nil
}

func FormatSnapshotTable(view *models.SnapshotView) error {
	fmt.Printf("Host: %s\n", view.Hostname)
	fmt.Printf("Snapshot: %d\n", view.SnapshotID)
	fmt.Printf("Captured: %s\n", view.CapturedAt.Format("2006-01-02 15:04:05"))
	fmt.Printf("\n")

	if sd := view.SystemDetails; sd != nil {
		fmt.Printf("OS: %s\n", sd.OperatingSystem)
		fmt.Printf("Processor: %s\n", sd.Processor)
		fmt.Printf("Cores/Threads: %d/%d\n", sd.NumberOfCores, sd.NumberOfThreads)
		fmt.Printf("RAM: %.2f GB used of %.2f GB (%.2f GB available)\n",
			sd.RAMUsedGB, sd.RAMTotalGB, sd.RAMAvailableGB)
		fmt.Printf("Storage: %.2f GB used of %.2f GB (%.2f GB free)\n",
			sd.StorageUsedGB, sd.StorageTotalGB, sd.StorageFreeGB)
		fmt.Printf("\n")
	}

	fmt.Printf("Processes (%d):\n\n", len(view.Processes))

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PID\tPPID\tNAME\tCPU %\tRSS\tMEM %")
	for _, p := range view.Processes {
		fmt.Fprintf(w, "%d\t%d\t%s\t%.1f\t%s\t%.1f\n",
			p.Pid, p.Ppid, p.Name, p.CPUPercent, formatBytes(p.MemoryRSS), p.MemoryPercent)
	}

	return w.Flush()
}

func FormatSnapshotListTable(page *models.SnapshotPage) error {
	fmt.Printf("Snapshots %d of %d (page %d, page size %d):\n\n",
		len(page.Results), page.Count, page.Page, page.PageSize)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCAPTURED\tPROCESSES")
	for _, s := range page.Results {
		fmt.Fprintf(w, "%d\t%s\t%d\n",
			s.SnapshotID, s.CapturedAt.Format("2006-01-02 15:04:05"), s.ProcessCount)
	}

	return w.Flush()
}

func FormatSeriesTable(points []models.SeriesPoint) error {
	if len(points) == 0 {
		fmt.Println("No snapshots recorded")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCAPTURED\tTOTAL CPU %\tRAM USED GB")
	for _, p := range points {
		ramUsed := "-"
		if p.RAMUsedGB != nil {
			ramUsed = fmt.Sprintf("%.2f", *p.RAMUsedGB)
		}
		fmt.Fprintf(w, "%d\t%s\t%.1f\t%s\n",
			p.SnapshotID, p.CapturedAt.Format("2006-01-02 15:04:05"), p.TotalCPUPercent, ramUsed)
	}

	return w.Flush()
}

func formatBytes(bytes int64) string {
	value := float64(bytes)
	units := []string{"B", "KB", "MB", "GB", "TB"}
	i := 0
	for value >= 1024 && i < len(units)-1 {
		value /= 1024
		i++
	}

	return fmt.Sprintf("%.1f %s", value, units[i])
}
