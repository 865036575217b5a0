package collector

import (
	"database/sql"
	"testing"
	"time"

	"github.com/fleetsnap/fleetsnap/internal/models"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := NewDB(t.TempDir() + "/test.db")
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	return db
}

func testReport(hostname string, capturedAt time.Time) *models.Report {
	return &models.Report{
		Hostname:   hostname,
		CapturedAt: capturedAt,
		Processes: []models.ProcessInfo{
			{Pid: 1, Ppid: 0, Name: "init", CPUPercent: 0.5, MemoryRSS: 1048576, MemoryPercent: 0.1},
			{Pid: 42, Ppid: 1, Name: "worker", CPUPercent: 120.5, MemoryRSS: 52428800, MemoryPercent: 2.4},
		},
		SystemDetails: models.SystemInfo{
			OperatingSystem: "linux",
			Processor:       "test cpu model",
			NumberOfCores:   4,
			NumberOfThreads: 8,
			RAMTotalGB:      16.0,
			RAMUsedGB:       4.25,
			RAMAvailableGB:  11.75,
			StorageTotalGB:  100.0,
			StorageUsedGB:   40.0,
			StorageFreeGB:   60.0,
		},
	}
}

func unboundKey(t *testing.T, db *DB) *models.APIKey {
	t.Helper()

	key, err := db.CreateAPIKey("test-key-"+t.Name(), "", "")
	if err != nil {
		t.Fatalf("Failed to create API key: %v", err)
	}
	return key
}

func TestNewDB(t *testing.T) {
	db := setupTestDB(t)

	if db.conn == nil {
		t.Fatal("Database connection is nil")
	}
}

func TestUpsertHost(t *testing.T) {
	db := setupTestDB(t)

	id, err := db.UpsertHost("host-a")
	if err != nil {
		t.Fatalf("Failed to insert host: %v", err)
	}
	if id == 0 {
		t.Fatal("Expected non-zero ID")
	}

	id2, err := db.UpsertHost("host-a")
	if err != nil {
		t.Fatalf("Failed to upsert host: %v", err)
	}
	if id != id2 {
		t.Errorf("Expected same ID after upsert, got %d and %d", id, id2)
	}

	id3, err := db.UpsertHost("host-b")
	if err != nil {
		t.Fatalf("Failed to insert second host: %v", err)
	}
	if id3 == id {
		t.Error("Expected distinct IDs for distinct hostnames")
	}
}

func TestIngestSnapshotRoundTrip(t *testing.T) {
	db := setupTestDB(t)
	key := unboundKey(t, db)

	report := testReport("host-a", time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC))
	snapshotID, err := db.IngestSnapshot(key, report)
	if err != nil {
		t.Fatalf("Failed to ingest snapshot: %v", err)
	}
	if snapshotID == 0 {
		t.Fatal("Expected non-zero snapshot ID")
	}

	view, err := db.GetSnapshotView(snapshotID)
	if err != nil {
		t.Fatalf("Failed to load snapshot view: %v", err)
	}

	if view.Hostname != "host-a" {
		t.Errorf("Expected hostname host-a, got %s", view.Hostname)
	}
	if !view.CapturedAt.Equal(report.CapturedAt) {
		t.Errorf("Expected captured_at %v, got %v", report.CapturedAt, view.CapturedAt)
	}
	if len(view.Processes) != len(report.Processes) {
		t.Fatalf("Expected %d processes, got %d", len(report.Processes), len(view.Processes))
	}
	for i, p := range report.Processes {
		if view.Processes[i] != p {
			t.Errorf("Process %d mismatch: expected %+v, got %+v", i, p, view.Processes[i])
		}
	}
	if view.SystemDetails == nil {
		t.Fatal("Expected system details")
	}
	if *view.SystemDetails != report.SystemDetails {
		t.Errorf("System details mismatch: expected %+v, got %+v",
			report.SystemDetails, *view.SystemDetails)
	}
}

func TestIngestSnapshotBindsUnboundKey(t *testing.T) {
	db := setupTestDB(t)
	key := unboundKey(t, db)

	if _, err := db.IngestSnapshot(key, testReport("host-c", time.Now().UTC())); err != nil {
		t.Fatalf("Failed to ingest with unbound key: %v", err)
	}

	if key.HostID == nil {
		t.Fatal("Expected key to be bound after first use")
	}

	stored, err := db.GetActiveKey(key.Key)
	if err != nil {
		t.Fatalf("Failed to reload key: %v", err)
	}
	if stored.HostID == nil || *stored.HostID != *key.HostID {
		t.Error("Expected stored key to carry the binding")
	}

	// Same key may not report for another host afterwards.
	_, err = db.IngestSnapshot(stored, testReport("host-d", time.Now().UTC()))
	if err != ErrHostNotAuthorized {
		t.Errorf("Expected ErrHostNotAuthorized, got %v", err)
	}

	var count int
	if err := db.conn.QueryRow(`SELECT COUNT(*) FROM snapshots s
	                            JOIN hosts h ON s.host_id = h.id
	                            WHERE h.hostname = 'host-d'`).Scan(&count); err != nil {
		t.Fatalf("Failed to count snapshots: %v", err)
	}
	if count != 0 {
		t.Errorf("Expected no snapshots for rejected host, got %d", count)
	}
}

func TestIngestSnapshotRejectsMismatchedBoundKey(t *testing.T) {
	db := setupTestDB(t)

	key, err := db.CreateAPIKey("bound-key", "host-a", "pre-bound")
	if err != nil {
		t.Fatalf("Failed to create pre-bound key: %v", err)
	}

	_, err = db.IngestSnapshot(key, testReport("host-b", time.Now().UTC()))
	if err != ErrHostNotAuthorized {
		t.Errorf("Expected ErrHostNotAuthorized, got %v", err)
	}

	if _, err := db.IngestSnapshot(key, testReport("host-a", time.Now().UTC())); err != nil {
		t.Errorf("Expected bound key to work for its own host: %v", err)
	}
}

func TestIngestSnapshotRollsBackAtomically(t *testing.T) {
	db := setupTestDB(t)

	key, err := db.CreateAPIKey("bound-key", "host-a", "")
	if err != nil {
		t.Fatalf("Failed to create key: %v", err)
	}

	// The rejection happens after the host upsert inside the transaction,
	// so the new host row must be rolled back with everything else.
	if _, err := db.IngestSnapshot(key, testReport("brand-new-host", time.Now().UTC())); err != ErrHostNotAuthorized {
		t.Fatalf("Expected ErrHostNotAuthorized, got %v", err)
	}

	if _, err := db.GetHost("brand-new-host"); err != sql.ErrNoRows {
		t.Errorf("Expected rolled-back host to be absent, got %v", err)
	}
}

func TestLatestSnapshotIDOrdering(t *testing.T) {
	db := setupTestDB(t)
	key := unboundKey(t, db)

	older := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	newer := time.Date(2026, 8, 30, 11, 0, 0, 0, time.UTC)

	if _, err := db.IngestSnapshot(key, testReport("host-a", newer)); err != nil {
		t.Fatalf("Failed to ingest: %v", err)
	}
	if _, err := db.IngestSnapshot(key, testReport("host-a", older)); err != nil {
		t.Fatalf("Failed to ingest: %v", err)
	}

	id, err := db.LatestSnapshotID("host-a")
	if err != nil {
		t.Fatalf("Failed to get latest snapshot: %v", err)
	}

	view, err := db.GetSnapshotView(id)
	if err != nil {
		t.Fatalf("Failed to load view: %v", err)
	}
	if !view.CapturedAt.Equal(newer) {
		t.Errorf("Expected latest captured_at %v, got %v", newer, view.CapturedAt)
	}
}

func TestLatestSnapshotIDTieBreaksOnID(t *testing.T) {
	db := setupTestDB(t)
	key := unboundKey(t, db)

	capturedAt := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

	first, err := db.IngestSnapshot(key, testReport("host-a", capturedAt))
	if err != nil {
		t.Fatalf("Failed to ingest: %v", err)
	}
	second, err := db.IngestSnapshot(key, testReport("host-a", capturedAt))
	if err != nil {
		t.Fatalf("Failed to ingest: %v", err)
	}
	if first == second {
		t.Fatal("Expected distinct snapshot IDs")
	}

	id, err := db.LatestSnapshotID("host-a")
	if err != nil {
		t.Fatalf("Failed to get latest snapshot: %v", err)
	}
	if id != second {
		t.Errorf("Expected id %d to win the captured_at tie, got %d", second, id)
	}
}

func TestLatestSnapshotIDNoSnapshots(t *testing.T) {
	db := setupTestDB(t)

	if _, err := db.UpsertHost("empty-host"); err != nil {
		t.Fatalf("Failed to create host: %v", err)
	}

	if _, err := db.LatestSnapshotID("empty-host"); err != sql.ErrNoRows {
		t.Errorf("Expected sql.ErrNoRows, got %v", err)
	}
}

func TestGetAllHostnamesSorted(t *testing.T) {
	db := setupTestDB(t)

	for _, h := range []string{"zeta", "alpha", "mike"} {
		if _, err := db.UpsertHost(h); err != nil {
			t.Fatalf("Failed to create host: %v", err)
		}
	}

	hostnames, err := db.GetAllHostnames()
	if err != nil {
		t.Fatalf("Failed to list hostnames: %v", err)
	}

	expected := []string{"alpha", "mike", "zeta"}
	if len(hostnames) != len(expected) {
		t.Fatalf("Expected %d hostnames, got %d", len(expected), len(hostnames))
	}
	for i, h := range expected {
		if hostnames[i] != h {
			t.Errorf("Expected hostnames[%d]=%s, got %s", i, h, hostnames[i])
		}
	}
}

func TestListSnapshotsPagination(t *testing.T) {
	db := setupTestDB(t)
	key := unboundKey(t, db)

	base := time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 7; i++ {
		if _, err := db.IngestSnapshot(key, testReport("host-a", base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("Failed to ingest: %v", err)
		}
	}

	page, err := db.ListSnapshots("host-a", 1, 3)
	if err != nil {
		t.Fatalf("Failed to list snapshots: %v", err)
	}

	if page.Count != 7 {
		t.Errorf("Expected count 7, got %d", page.Count)
	}
	if len(page.Results) != 3 {
		t.Fatalf("Expected 3 results, got %d", len(page.Results))
	}

	// Newest first.
	if !page.Results[0].CapturedAt.After(page.Results[1].CapturedAt) {
		t.Error("Expected newest-first ordering")
	}
	if page.Results[0].ProcessCount != 2 {
		t.Errorf("Expected process count 2, got %d", page.Results[0].ProcessCount)
	}

	lastPage, err := db.ListSnapshots("host-a", 3, 3)
	if err != nil {
		t.Fatalf("Failed to list last page: %v", err)
	}
	if len(lastPage.Results) != 1 {
		t.Errorf("Expected 1 result on last page, got %d", len(lastPage.Results))
	}
}

func TestGetSeries(t *testing.T) {
	db := setupTestDB(t)
	key := unboundKey(t, db)

	base := time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		if _, err := db.IngestSnapshot(key, testReport("host-a", base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("Failed to ingest: %v", err)
		}
	}

	points, err := db.GetSeries("host-a", 3)
	if err != nil {
		t.Fatalf("Failed to get series: %v", err)
	}

	if len(points) != 3 {
		t.Fatalf("Expected 3 points, got %d", len(points))
	}

	// Chronological order over the most recent window.
	for i := 1; i < len(points); i++ {
		if !points[i].CapturedAt.After(points[i-1].CapturedAt) {
			t.Error("Expected ascending captured_at order")
		}
	}
	if !points[2].CapturedAt.Equal(base.Add(4 * time.Minute)) {
		t.Errorf("Expected window to end at the newest snapshot, got %v", points[2].CapturedAt)
	}

	// 0.5 + 120.5 from the fixture processes.
	for _, p := range points {
		if p.TotalCPUPercent != 121.0 {
			t.Errorf("Expected total_cpu_percent 121.0, got %f", p.TotalCPUPercent)
		}
		if p.RAMUsedGB == nil || *p.RAMUsedGB != 4.25 {
			t.Errorf("Expected ram_used_gb 4.25, got %v", p.RAMUsedGB)
		}
	}
}

func TestGetSeriesEmptyHost(t *testing.T) {
	db := setupTestDB(t)

	points, err := db.GetSeries("nobody", 10)
	if err != nil {
		t.Fatalf("Expected no error for unknown host, got %v", err)
	}
	if len(points) != 0 {
		t.Errorf("Expected empty series, got %d points", len(points))
	}
}

func TestGetActiveKey(t *testing.T) {
	db := setupTestDB(t)

	if _, err := db.CreateAPIKey("live-key", "", "note text"); err != nil {
		t.Fatalf("Failed to create key: %v", err)
	}

	key, err := db.GetActiveKey("live-key")
	if err != nil {
		t.Fatalf("Failed to look up key: %v", err)
	}
	if key.Note != "note text" {
		t.Errorf("Expected note to round-trip, got %q", key.Note)
	}
	if key.HostID != nil {
		t.Error("Expected unbound key")
	}

	if _, err := db.GetActiveKey("no-such-key"); err != sql.ErrNoRows {
		t.Errorf("Expected sql.ErrNoRows for unknown key, got %v", err)
	}
}

func TestDeactivateAPIKey(t *testing.T) {
	db := setupTestDB(t)

	if _, err := db.CreateAPIKey("doomed-key", "", ""); err != nil {
		t.Fatalf("Failed to create key: %v", err)
	}

	if err := db.DeactivateAPIKey("doomed-key"); err != nil {
		t.Fatalf("Failed to deactivate key: %v", err)
	}

	// Deactivated keys are invisible to the auth lookup, same as unknown
	// ones.
	if _, err := db.GetActiveKey("doomed-key"); err != sql.ErrNoRows {
		t.Errorf("Expected sql.ErrNoRows for deactivated key, got %v", err)
	}

	// The row survives as a soft-flagged record.
	var count int
	if err := db.conn.QueryRow(`SELECT COUNT(*) FROM api_keys WHERE key = 'doomed-key'`).Scan(&count); err != nil {
		t.Fatalf("Failed to count keys: %v", err)
	}
	if count != 1 {
		t.Errorf("Expected key row to survive deactivation, got %d rows", count)
	}

	if err := db.DeactivateAPIKey("missing"); err != sql.ErrNoRows {
		t.Errorf("Expected sql.ErrNoRows for unknown key, got %v", err)
	}
}
