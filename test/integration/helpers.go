package integration

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/fleetsnap/fleetsnap/internal/collector"
	"github.com/fleetsnap/fleetsnap/internal/models"
)

func startCollector(t *testing.T) (*httptest.Server, *collector.DB, *collector.Hub) {
	t.Helper()

	db, err := collector.NewDB(t.TempDir() + "/test.db")
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	hub := collector.NewHub()
	api := collector.NewAPI(db, hub)

	mux := http.NewServeMux()
	api.RegisterRoutes(mux)

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return server, db, hub
}

func issueKey(t *testing.T, db *collector.DB, key, hostname string) string {
	t.Helper()

	created, err := db.CreateAPIKey(key, hostname, "integration test")
	if err != nil {
		t.Fatalf("Failed to create API key: %v", err)
	}
	return created.Key
}

func reportFor(hostname string, capturedAt time.Time) *models.Report {
	return &models.Report{
		Hostname:   hostname,
		CapturedAt: capturedAt,
		Processes: []models.ProcessInfo{
			{Pid: 1, Ppid: 0, Name: "init", CPUPercent: 0.5, MemoryRSS: 1048576, MemoryPercent: 0.1},
			{Pid: 4321, Ppid: 1, Name: "worker", CPUPercent: 42.5, MemoryRSS: 268435456, MemoryPercent: 3.2},
		},
		SystemDetails: models.SystemInfo{
			OperatingSystem: "Linux",
			Processor:       "test-cpu",
			NumberOfCores:   4,
			NumberOfThreads: 8,
			RAMTotalGB:      16.0,
			RAMUsedGB:       4.25,
			RAMAvailableGB:  11.75,
			StorageTotalGB:  100.0,
			StorageUsedGB:   50.0,
			StorageFreeGB:   50.0,
		},
	}
}
