package collector

import (
	"database/sql"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/websocket"
)

const (
	defaultPageSize = 25
	maxPageSize     = 200
	defaultSeries   = 50
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type API struct {
	db  *DB
	hub *Hub
}

func NewAPI(db *DB, hub *Hub) *API {
	return &API{db: db, hub: hub}
}

func (api *API) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/process-snapshots/", api.handleSnapshots)
	mux.HandleFunc("/process-snapshots/latest/", api.handleLatestSnapshot)
	mux.HandleFunc("/process-snapshots/list/", api.handleSnapshotList)
	mux.HandleFunc("/process-snapshots/series/", api.handleSnapshotSeries)
	mux.HandleFunc("/hosts/", api.handleHosts)
	mux.HandleFunc("/ws/hosts/", api.handleHostSocket)
	mux.HandleFunc("/health", api.handleHealth)
}

// handleSnapshots serves POST /process-snapshots/ (ingestion) and
// GET /process-snapshots/{id}/ (detail by global id).
func (api *API) handleSnapshots(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/process-snapshots/" {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		api.ingestSnapshot(w, r)
		return
	}

	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	idStr := strings.Trim(r.URL.Path[len("/process-snapshots/"):], "/")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		respondDetail(w, http.StatusNotFound, "snapshot not found")
		return
	}

	view, err := api.db.GetSnapshotView(id)
	if err == sql.ErrNoRows {
		respondDetail(w, http.StatusNotFound, "snapshot not found")
		return
	}
	if err != nil {
		log.Printf("Error loading snapshot %d: %v", id, err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	respondJSON(w, http.StatusOK, view)
}

// ingestSnapshot is the write path: credential check, validation, one
// atomic transaction, then best-effort broadcast of the canonical view.
func (api *API) ingestSnapshot(w http.ResponseWriter, r *http.Request) {
	key := r.Header.Get("X-API-KEY")
	if key == "" {
		respondDetail(w, http.StatusUnauthorized, "invalid API key")
		return
	}

	apikey, err := api.db.GetActiveKey(key)
	if err == sql.ErrNoRows {
		// Unknown and deactivated keys get the same response.
		respondDetail(w, http.StatusUnauthorized, "invalid API key")
		return
	}
	if err != nil {
		log.Printf("Error looking up API key: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	report, err := decodeReport(r.Body)
	if err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			respondDetail(w, http.StatusBadRequest, verr.Detail)
			return
		}
		respondDetail(w, http.StatusBadRequest, err.Error())
		return
	}

	snapshotID, err := api.db.IngestSnapshot(apikey, report)
	if err == ErrHostNotAuthorized {
		respondDetail(w, http.StatusForbidden, "API key is not authorized for this host")
		return
	}
	if err != nil {
		log.Printf("Error ingesting snapshot for %s: %v", report.Hostname, err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	api.publishSnapshot(report.Hostname, snapshotID)

	respondJSON(w, http.StatusCreated, map[string]interface{}{
		"snapshot_id": snapshotID,
	})
}

// publishSnapshot re-reads the committed rows and fans the canonical view
// out to the host's topic. Failures here are logged and never surfaced to
// the ingesting agent.
func (api *API) publishSnapshot(hostname string, snapshotID int64) {
	view, err := api.db.GetSnapshotView(snapshotID)
	if err != nil {
		log.Printf("Error building broadcast view for snapshot %d: %v", snapshotID, err)
		return
	}

	event, err := json.Marshal(view)
	if err != nil {
		log.Printf("Error encoding broadcast event for snapshot %d: %v", snapshotID, err)
		return
	}

	api.hub.Publish(hostname, event)
}

func (api *API) handleHosts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	hostnames, err := api.db.GetAllHostnames()
	if err != nil {
		log.Printf("Error getting hosts: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	respondJSON(w, http.StatusOK, hostnames)
}

func (api *API) handleLatestSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	hostname := r.URL.Query().Get("hostname")
	if hostname == "" {
		respondDetail(w, http.StatusBadRequest, "hostname is required")
		return
	}

	if _, err := api.db.GetHost(hostname); err == sql.ErrNoRows {
		respondDetail(w, http.StatusNotFound, "host not found")
		return
	} else if err != nil {
		log.Printf("Error getting host %s: %v", hostname, err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	id, err := api.db.LatestSnapshotID(hostname)
	if err == sql.ErrNoRows {
		respondDetail(w, http.StatusNotFound, "no snapshots")
		return
	}
	if err != nil {
		log.Printf("Error getting latest snapshot for %s: %v", hostname, err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	view, err := api.db.GetSnapshotView(id)
	if err != nil {
		log.Printf("Error loading snapshot %d: %v", id, err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	respondJSON(w, http.StatusOK, view)
}

func (api *API) handleSnapshotList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	hostname := r.URL.Query().Get("hostname")
	if hostname == "" {
		respondDetail(w, http.StatusBadRequest, "hostname is required")
		return
	}

	page := 1
	if pageStr := r.URL.Query().Get("page"); pageStr != "" {
		if p, err := strconv.Atoi(pageStr); err == nil && p > 0 {
			page = p
		}
	}

	pageSize := defaultPageSize
	if sizeStr := r.URL.Query().Get("page_size"); sizeStr != "" {
		if s, err := strconv.Atoi(sizeStr); err == nil && s > 0 && s <= maxPageSize {
			pageSize = s
		}
	}

	result, err := api.db.ListSnapshots(hostname, page, pageSize)
	if err != nil {
		log.Printf("Error listing snapshots for %s: %v", hostname, err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	respondJSON(w, http.StatusOK, result)
}

func (api *API) handleSnapshotSeries(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	hostname := r.URL.Query().Get("hostname")
	if hostname == "" {
		respondDetail(w, http.StatusBadRequest, "hostname is required")
		return
	}

	limit := defaultSeries
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
			limit = l
		}
	}

	points, err := api.db.GetSeries(hostname, limit)
	if err != nil {
		log.Printf("Error getting series for %s: %v", hostname, err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	respondJSON(w, http.StatusOK, points)
}

// handleHostSocket upgrades the connection and subscribes it to the named
// host's topic for the lifetime of the connection. Live reads are open
// like the rest of the query surface, no key required.
func (api *API) handleHostSocket(w http.ResponseWriter, r *http.Request) {
	hostname := strings.Trim(r.URL.Path[len("/ws/hosts/"):], "/")
	if hostname == "" {
		respondDetail(w, http.StatusBadRequest, "hostname is required")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		return
	}

	sub := api.hub.Subscribe(hostname)

	go func() {
		// Exits when the hub closes the channel (slow-subscriber drop or
		// deregistration) or the peer goes away.
		for event := range sub.C {
			if err := conn.WriteMessage(websocket.TextMessage, event); err != nil {
				break
			}
		}
		conn.Close()
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	api.hub.Unsubscribe(sub)
	conn.Close()
}

func (api *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := api.db.Ping(); err != nil {
		http.Error(w, "Database unhealthy", http.StatusServiceUnavailable)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "healthy",
		"database": "connected",
	})
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("Error encoding JSON response: %v", err)
	}
}

func respondDetail(w http.ResponseWriter, status int, detail string) {
	respondJSON(w, status, map[string]string{"detail": detail})
}
