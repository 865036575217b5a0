package collector

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fleetsnap/fleetsnap/internal/models"
	_ "modernc.org/sqlite"
)

// ErrHostNotAuthorized is returned when a host-bound API key is used to
// ingest a snapshot for a different host.
var ErrHostNotAuthorized = errors.New("api key is not authorized for this host")

type DB struct {
	conn *sql.DB
}

func NewDB(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	return db, nil
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS hosts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		hostname TEXT NOT NULL UNIQUE,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_hosts_hostname ON hosts(hostname);

	CREATE TABLE IF NOT EXISTS api_keys (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		key TEXT NOT NULL UNIQUE,
		host_id INTEGER,
		active BOOLEAN NOT NULL DEFAULT 1,
		note TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (host_id) REFERENCES hosts(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_api_keys_key ON api_keys(key);

	CREATE TABLE IF NOT EXISTS snapshots (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		host_id INTEGER NOT NULL,
		captured_at TIMESTAMP NOT NULL,
		created_at TIMESTAMP NOT NULL,
		FOREIGN KEY (host_id) REFERENCES hosts(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_snapshots_host_captured ON snapshots(host_id, captured_at DESC);
	CREATE INDEX IF NOT EXISTS idx_snapshots_created ON snapshots(created_at DESC);

	CREATE TABLE IF NOT EXISTS processes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		snapshot_id INTEGER NOT NULL,
		pid INTEGER NOT NULL,
		ppid INTEGER NOT NULL,
		name TEXT NOT NULL,
		cpu_percent REAL NOT NULL,
		memory_rss INTEGER NOT NULL,
		memory_percent REAL NOT NULL,
		FOREIGN KEY (snapshot_id) REFERENCES snapshots(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_processes_snapshot_pid ON processes(snapshot_id, pid);
	CREATE INDEX IF NOT EXISTS idx_processes_snapshot_ppid ON processes(snapshot_id, ppid);

	CREATE TABLE IF NOT EXISTS system_details (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		snapshot_id INTEGER NOT NULL UNIQUE,
		operating_system TEXT NOT NULL,
		processor TEXT NOT NULL,
		number_of_cores INTEGER NOT NULL,
		number_of_threads INTEGER NOT NULL,
		ram_total_gb REAL NOT NULL,
		ram_used_gb REAL NOT NULL,
		ram_available_gb REAL NOT NULL,
		storage_total_gb REAL NOT NULL,
		storage_used_gb REAL NOT NULL,
		storage_free_gb REAL NOT NULL,
		FOREIGN KEY (snapshot_id) REFERENCES snapshots(id) ON DELETE CASCADE
	);
	`

	_, err := db.conn.Exec(schema)
	return err
}

func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) Ping() error {
	return db.conn.Ping()
}

// GetActiveKey looks up a presented credential among active keys. Unknown
// and inactive keys both come back as sql.ErrNoRows; callers are not
// expected to tell the two apart.
func (db *DB) GetActiveKey(key string) (*models.APIKey, error) {
	query := `SELECT id, key, host_id, active, note, created_at
	          FROM api_keys WHERE key = ? AND active = 1`

	var k models.APIKey
	var hostID sql.NullInt64
	err := db.conn.QueryRow(query, key).Scan(&k.ID, &k.Key, &hostID, &k.Active, &k.Note, &k.CreatedAt)
	if err != nil {
		return nil, err
	}
	if hostID.Valid {
		k.HostID = &hostID.Int64
	}
	return &k, nil
}

// CreateAPIKey inserts a new credential. A non-empty hostname pre-binds
// the key, creating the host row if it does not exist yet.
func (db *DB) CreateAPIKey(key, hostname, note string) (*models.APIKey, error) {
	k := &models.APIKey{Key: key, Active: true, Note: note, CreatedAt: time.Now().UTC()}

	if hostname != "" {
		hostID, err := db.UpsertHost(hostname)
		if err != nil {
			return nil, fmt.Errorf("upsert host: %w", err)
		}
		k.HostID = &hostID
	}

	var hostID interface{}
	if k.HostID != nil {
		hostID = *k.HostID
	}
	err := db.conn.QueryRow(`INSERT INTO api_keys (key, host_id, active, note, created_at)
	                         VALUES (?, ?, 1, ?, ?) RETURNING id`,
		k.Key, hostID, k.Note, k.CreatedAt).Scan(&k.ID)
	if err != nil {
		return nil, err
	}
	return k, nil
}

// DeactivateAPIKey flips the active flag. The key row itself is never
// deleted. Returns sql.ErrNoRows when no such key exists.
func (db *DB) DeactivateAPIKey(key string) error {
	res, err := db.conn.Exec(`UPDATE api_keys SET active = 0 WHERE key = ?`, key)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// UpsertHost resolves or creates the host row for a hostname and returns
// its id. The conflict clause makes the insert idempotent under races.
func (db *DB) UpsertHost(hostname string) (int64, error) {
	query := `
	INSERT INTO hosts (hostname, created_at)
	VALUES (?, ?)
	ON CONFLICT(hostname) DO UPDATE SET hostname = excluded.hostname
	RETURNING id
	`

	var id int64
	err := db.conn.QueryRow(query, hostname, time.Now().UTC()).Scan(&id)
	return id, err
}

// IngestSnapshot persists one validated report as a single transaction:
// host upsert, key binding check, snapshot row, system details, process
// rows. Nothing becomes visible until commit. Returns the new snapshot id.
//
// When the key is bound to a host other than the report's, the transaction
// rolls back and ErrHostNotAuthorized is returned. An unbound key is bound
// to the report's host within the same transaction; the binding never
// reverts.
func (db *DB) IngestSnapshot(key *models.APIKey, r *models.Report) (int64, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var hostID int64
	err = tx.QueryRow(`
		INSERT INTO hosts (hostname, created_at)
		VALUES (?, ?)
		ON CONFLICT(hostname) DO UPDATE SET hostname = excluded.hostname
		RETURNING id`,
		r.Hostname, time.Now().UTC()).Scan(&hostID)
	if err != nil {
		return 0, fmt.Errorf("upsert host: %w", err)
	}

	if key.HostID != nil {
		if *key.HostID != hostID {
			return 0, ErrHostNotAuthorized
		}
	} else {
		// First successful use binds the key to this host, permanently.
		// The IS NULL guard loses gracefully when a concurrent ingestion
		// bound the key first.
		res, err := tx.Exec(`UPDATE api_keys SET host_id = ? WHERE id = ? AND host_id IS NULL`,
			hostID, key.ID)
		if err != nil {
			return 0, fmt.Errorf("bind api key: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, err
		}
		if n == 0 {
			var bound sql.NullInt64
			if err := tx.QueryRow(`SELECT host_id FROM api_keys WHERE id = ?`, key.ID).Scan(&bound); err != nil {
				return 0, fmt.Errorf("reread api key: %w", err)
			}
			if !bound.Valid || bound.Int64 != hostID {
				return 0, ErrHostNotAuthorized
			}
		}
		key.HostID = &hostID
	}

	var snapshotID int64
	err = tx.QueryRow(`INSERT INTO snapshots (host_id, captured_at, created_at)
	                   VALUES (?, ?, ?) RETURNING id`,
		hostID, r.CapturedAt.UTC(), time.Now().UTC()).Scan(&snapshotID)
	if err != nil {
		return 0, fmt.Errorf("insert snapshot: %w", err)
	}

	sd := r.SystemDetails
	_, err = tx.Exec(`INSERT INTO system_details
		(snapshot_id, operating_system, processor, number_of_cores, number_of_threads,
		 ram_total_gb, ram_used_gb, ram_available_gb,
		 storage_total_gb, storage_used_gb, storage_free_gb)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		snapshotID, sd.OperatingSystem, sd.Processor, sd.NumberOfCores, sd.NumberOfThreads,
		sd.RAMTotalGB, sd.RAMUsedGB, sd.RAMAvailableGB,
		sd.StorageTotalGB, sd.StorageUsedGB, sd.StorageFreeGB)
	if err != nil {
		return 0, fmt.Errorf("insert system details: %w", err)
	}

	stmt, err := tx.Prepare(`INSERT INTO processes
		(snapshot_id, pid, ppid, name, cpu_percent, memory_rss, memory_percent)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("prepare process insert: %w", err)
	}
	defer stmt.Close()

	for _, p := range r.Processes {
		if _, err := stmt.Exec(snapshotID, p.Pid, p.Ppid, p.Name,
			p.CPUPercent, p.MemoryRSS, p.MemoryPercent); err != nil {
			return 0, fmt.Errorf("insert process: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit transaction: %w", err)
	}

	return snapshotID, nil
}

func (db *DB) GetAllHostnames() ([]string, error) {
	rows, err := db.conn.Query(`SELECT hostname FROM hosts ORDER BY hostname`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	hostnames := []string{}
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, err
		}
		hostnames = append(hostnames, h)
	}

	return hostnames, rows.Err()
}

func (db *DB) GetHost(hostname string) (*models.Host, error) {
	var h models.Host
	err := db.conn.QueryRow(`SELECT id, hostname, created_at FROM hosts WHERE hostname = ?`,
		hostname).Scan(&h.ID, &h.Hostname, &h.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &h, nil
}

// LatestSnapshotID returns the id of the newest snapshot for a host.
// Ordering by (captured_at, id) makes ties at identical capture times
// resolve deterministically to the later insert.
func (db *DB) LatestSnapshotID(hostname string) (int64, error) {
	query := `SELECT s.id FROM snapshots s
	          JOIN hosts h ON s.host_id = h.id
	          WHERE h.hostname = ?
	          ORDER BY s.captured_at DESC, s.id DESC
	          LIMIT 1`

	var id int64
	err := db.conn.QueryRow(query, hostname).Scan(&id)
	return id, err
}

// GetSnapshotView rebuilds the canonical representation of one snapshot
// from its persisted rows.
func (db *DB) GetSnapshotView(snapshotID int64) (*models.SnapshotView, error) {
	view := &models.SnapshotView{SnapshotID: snapshotID}

	err := db.conn.QueryRow(`SELECT h.hostname, s.captured_at
	                         FROM snapshots s JOIN hosts h ON s.host_id = h.id
	                         WHERE s.id = ?`, snapshotID).
		Scan(&view.Hostname, &view.CapturedAt)
	if err != nil {
		return nil, err
	}

	rows, err := db.conn.Query(`SELECT pid, ppid, name, cpu_percent, memory_rss, memory_percent
	                            FROM processes WHERE snapshot_id = ? ORDER BY id`, snapshotID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	view.Processes = []models.ProcessInfo{}
	for rows.Next() {
		var p models.ProcessInfo
		if err := rows.Scan(&p.Pid, &p.Ppid, &p.Name, &p.CPUPercent, &p.MemoryRSS, &p.MemoryPercent); err != nil {
			return nil, err
		}
		view.Processes = append(view.Processes, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var sd models.SystemInfo
	err = db.conn.QueryRow(`SELECT operating_system, processor, number_of_cores, number_of_threads,
	                        ram_total_gb, ram_used_gb, ram_available_gb,
	                        storage_total_gb, storage_used_gb, storage_free_gb
	                        FROM system_details WHERE snapshot_id = ?`, snapshotID).
		Scan(&sd.OperatingSystem, &sd.Processor, &sd.NumberOfCores, &sd.NumberOfThreads,
			&sd.RAMTotalGB, &sd.RAMUsedGB, &sd.RAMAvailableGB,
			&sd.StorageTotalGB, &sd.StorageUsedGB, &sd.StorageFreeGB)
	switch {
	case err == sql.ErrNoRows:
		view.SystemDetails = nil
	case err != nil:
		return nil, err
	default:
		view.SystemDetails = &sd
	}

	return view, nil
}

// ListSnapshots returns one page of the newest-first snapshot index for a
// host. Page numbering starts at 1.
func (db *DB) ListSnapshots(hostname string, page, pageSize int) (*models.SnapshotPage, error) {
	var count int
	err := db.conn.QueryRow(`SELECT COUNT(*) FROM snapshots s
	                         JOIN hosts h ON s.host_id = h.id
	                         WHERE h.hostname = ?`, hostname).Scan(&count)
	if err != nil {
		return nil, err
	}

	query := `SELECT s.id, s.captured_at, COUNT(p.id)
	          FROM snapshots s
	          JOIN hosts h ON s.host_id = h.id
	          LEFT JOIN processes p ON p.snapshot_id = s.id
	          WHERE h.hostname = ?
	          GROUP BY s.id, s.captured_at
	          ORDER BY s.captured_at DESC, s.id DESC
	          LIMIT ? OFFSET ?`

	rows, err := db.conn.Query(query, hostname, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := &models.SnapshotPage{
		Count:    count,
		Page:     page,
		PageSize: pageSize,
		Results:  []models.SnapshotSummary{},
	}
	for rows.Next() {
		var s models.SnapshotSummary
		if err := rows.Scan(&s.SnapshotID, &s.CapturedAt, &s.ProcessCount); err != nil {
			return nil, err
		}
		result.Results = append(result.Results, s)
	}

	return result, rows.Err()
}

// GetSeries returns the most recent limit snapshots for a host in
// chronological order, each with the summed process cpu_percent and the
// reported ram_used_gb (nil when the snapshot has no system details).
func (db *DB) GetSeries(hostname string, limit int) ([]models.SeriesPoint, error) {
	query := `SELECT s.id, s.captured_at,
	          COALESCE((SELECT SUM(cpu_percent) FROM processes WHERE snapshot_id = s.id), 0),
	          (SELECT ram_used_gb FROM system_details WHERE snapshot_id = s.id)
	          FROM snapshots s
	          JOIN hosts h ON s.host_id = h.id
	          WHERE h.hostname = ?
	          ORDER BY s.captured_at DESC, s.id DESC
	          LIMIT ?`

	rows, err := db.conn.Query(query, hostname, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	points := []models.SeriesPoint{}
	for rows.Next() {
		var p models.SeriesPoint
		var ramUsed sql.NullFloat64
		if err := rows.Scan(&p.SnapshotID, &p.CapturedAt, &p.TotalCPUPercent, &ramUsed); err != nil {
			return nil, err
		}
		if ramUsed.Valid {
			p.RAMUsedGB = &ramUsed.Float64
		}
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// The query runs newest-first so LIMIT picks the right window; the
	// series itself is served oldest-first.
	for i, j := 0, len(points)-1; i < j; i, j = i+1, j-1 {
		points[i], points[j] = points[j], points[i]
	}

	return points, nil
}
