package cli

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/fleetsnap/fleetsnap/internal/models"
)

func TestListHosts(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/hosts/" {
			t.Errorf("Unexpected path: %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode([]string{"alpha", "zeta"})
	}))
	defer server.Close()

	client := NewClient(server.URL)
	hostnames, err := client.ListHosts()
	if err != nil {
		t.Fatalf("ListHosts failed: %v", err)
	}

	if len(hostnames) != 2 || hostnames[0] != "alpha" {
		t.Errorf("Unexpected hostnames: %v", hostnames)
	}
}

func TestLatestSnapshot(t *testing.T) {
	capturedAt := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/process-snapshots/latest/" {
			t.Errorf("Unexpected path: %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("hostname"); got != "host-a" {
			t.Errorf("Expected hostname host-a, got %s", got)
		}
		json.NewEncoder(w).Encode(models.SnapshotView{
			Hostname:   "host-a",
			SnapshotID: 7,
			CapturedAt: capturedAt,
			Processes:  []models.ProcessInfo{{Pid: 1, Name: "init"}},
		})
	}))
	defer server.Close()

	client := NewClient(server.URL)
	view, err := client.LatestSnapshot("host-a")
	if err != nil {
		t.Fatalf("LatestSnapshot failed: %v", err)
	}

	if view.SnapshotID != 7 || !view.CapturedAt.Equal(capturedAt) {
		t.Errorf("Unexpected view: %+v", view)
	}
	if view.SystemDetails != nil {
		t.Error("Expected nil system details")
	}
}

func TestGetSeries(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("limit"); got != "3" {
			t.Errorf("Expected limit 3, got %s", got)
		}
		ramUsed := 4.25
		json.NewEncoder(w).Encode([]models.SeriesPoint{
			{SnapshotID: 1, TotalCPUPercent: 12.5, RAMUsedGB: &ramUsed},
			{SnapshotID: 2, TotalCPUPercent: 14.0},
		})
	}))
	defer server.Close()

	client := NewClient(server.URL)
	points, err := client.GetSeries("host-a", 3)
	if err != nil {
		t.Fatalf("GetSeries failed: %v", err)
	}

	if len(points) != 2 {
		t.Fatalf("Expected 2 points, got %d", len(points))
	}
	if points[0].RAMUsedGB == nil || *points[0].RAMUsedGB != 4.25 {
		t.Errorf("Unexpected first point: %+v", points[0])
	}
	if points[1].RAMUsedGB != nil {
		t.Error("Expected nil ram_used_gb on second point")
	}
}

func TestGetErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"detail": "host not found"})
	}))
	defer server.Close()

	client := NewClient(server.URL)
	if _, err := client.LatestSnapshot("ghost"); err == nil {
		t.Error("Expected error for 404 response")
	}
}
