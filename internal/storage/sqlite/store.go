// Package sqlite provides SQLite-backed persistence for colony memory.
//
// Every section of the aggregate gets its own table so the database can be
// inspected with plain SQL between ticks. Save replaces all rows inside one
// transaction; a crash mid-save leaves the previous tick intact.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	_ "modernc.org/sqlite"

	"github.com/ChuLiYu/colony/internal/memory"
	"github.com/ChuLiYu/colony/pkg/types"
)

var ErrIncompatibleVersion = fmt.Errorf("sqlite store: %w", memory.ErrSchemaMismatch)

// Store provides access to the colony SQLite database.
type Store struct {
	db *sql.DB
}

// New creates a new Store and runs migrations.
func New(dbPath string) (*Store, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate runs idempotent schema migrations.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		seq INTEGER NOT NULL,
		type TEXT NOT NULL,
		factory TEXT NOT NULL,
		room TEXT NOT NULL,
		priority INTEGER NOT NULL,
		data TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS creeps (
		name TEXT PRIMARY KEY,
		job_id TEXT,
		data TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS spawners (
		name TEXT PRIMARY KEY,
		job_id TEXT,
		data TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS rooms (
		name TEXT PRIMARY KEY,
		data TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS job_stats (
		job_type TEXT PRIMARY KEY,
		duration REAL NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_jobs_seq ON jobs(seq);
	CREATE INDEX IF NOT EXISTS idx_jobs_type ON jobs(type);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Load reads the aggregate. An empty database yields a fresh aggregate. A
// database written under another schema yields a fresh aggregate and
// ErrIncompatibleVersion.
func (s *Store) Load() (*memory.Memory, error) {
	ctx := context.Background()
	meta, err := s.meta(ctx)
	if err != nil {
		return nil, err
	}
	rawVer, ok := meta["schema_ver"]
	if !ok {
		return memory.New(), nil
	}
	ver, err := strconv.Atoi(rawVer)
	if err != nil || ver != memory.SchemaVersion {
		return memory.New(), fmt.Errorf("%w: got %q, want %d", ErrIncompatibleVersion, rawVer, memory.SchemaVersion)
	}

	mem := &memory.Memory{SchemaVer: ver}
	if t, ok := meta["tick"]; ok {
		if mem.Tick, err = strconv.ParseUint(t, 10, 64); err != nil {
			return nil, fmt.Errorf("parse tick: %w", err)
		}
	}
	mem.Normalize()

	if err := s.loadJobs(ctx, mem); err != nil {
		return nil, err
	}
	if err := loadNamed(ctx, s.db, "SELECT name, data FROM creeps", mem.Creeps); err != nil {
		return nil, fmt.Errorf("load creeps: %w", err)
	}
	if err := loadNamed(ctx, s.db, "SELECT name, data FROM spawners", mem.Spawners); err != nil {
		return nil, fmt.Errorf("load spawners: %w", err)
	}
	if err := loadNamed(ctx, s.db, "SELECT name, data FROM rooms", mem.Rooms); err != nil {
		return nil, fmt.Errorf("load rooms: %w", err)
	}
	if err := s.loadStats(ctx, mem); err != nil {
		return nil, err
	}
	return mem, nil
}

func (s *Store) meta(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT key, value FROM meta")
	if err != nil {
		return nil, fmt.Errorf("load meta: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("scan meta: %w", err)
		}
		out[k] = v
	}
	return out, rows.Err()
}

func (s *Store) loadJobs(ctx context.Context, mem *memory.Memory) error {
	rows, err := s.db.QueryContext(ctx, "SELECT data FROM jobs ORDER BY seq")
	if err != nil {
		return fmt.Errorf("load jobs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return fmt.Errorf("scan job: %w", err)
		}
		job := &types.Job{}
		if err := json.Unmarshal([]byte(data), job); err != nil {
			return fmt.Errorf("decode job: %w", err)
		}
		mem.Jobs = append(mem.Jobs, job)
	}
	return rows.Err()
}

func (s *Store) loadStats(ctx context.Context, mem *memory.Memory) error {
	rows, err := s.db.QueryContext(ctx, "SELECT job_type, duration FROM job_stats")
	if err != nil {
		return fmt.Errorf("load stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var jobType string
		var d float64
		if err := rows.Scan(&jobType, &d); err != nil {
			return fmt.Errorf("scan stats: %w", err)
		}
		mem.Stats[jobType] = d
	}
	return rows.Err()
}

// loadNamed decodes name/data rows into dst.
func loadNamed[T any](ctx context.Context, db *sql.DB, query string, dst map[string]*T) error {
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var name, data string
		if err := rows.Scan(&name, &data); err != nil {
			return err
		}
		v := new(T)
		if err := json.Unmarshal([]byte(data), v); err != nil {
			return fmt.Errorf("decode %s: %w", name, err)
		}
		dst[name] = v
	}
	return rows.Err()
}

// Save replaces the stored aggregate in one transaction.
func (s *Store) Save(mem *memory.Memory) (err error) {
	ctx := context.Background()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	for _, table := range []string{"jobs", "creeps", "spawners", "rooms", "job_stats", "meta"} {
		if _, err = tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}

	if _, err = tx.ExecContext(ctx, "INSERT INTO meta (key, value) VALUES ('schema_ver', ?), ('tick', ?)",
		strconv.Itoa(mem.SchemaVer), strconv.FormatUint(mem.Tick, 10)); err != nil {
		return fmt.Errorf("save meta: %w", err)
	}

	for i, job := range mem.Jobs {
		data, mErr := json.Marshal(job)
		if mErr != nil {
			return fmt.Errorf("encode job %s: %w", job.ID, mErr)
		}
		if _, err = tx.ExecContext(ctx,
			"INSERT INTO jobs (id, seq, type, factory, room, priority, data) VALUES (?, ?, ?, ?, ?, ?, ?)",
			string(job.ID), i, job.Type, job.Factory, job.Room, job.Priority, string(data)); err != nil {
			return fmt.Errorf("save job %s: %w", job.ID, err)
		}
	}

	for name, c := range mem.Creeps {
		if err = saveNamed(ctx, tx, "creeps", name, string(c.Job), c); err != nil {
			return err
		}
	}
	for name, sp := range mem.Spawners {
		if err = saveNamed(ctx, tx, "spawners", name, string(sp.Job), sp); err != nil {
			return err
		}
	}
	for name, r := range mem.Rooms {
		data, mErr := json.Marshal(r)
		if mErr != nil {
			return fmt.Errorf("encode room %s: %w", name, mErr)
		}
		if _, err = tx.ExecContext(ctx, "INSERT INTO rooms (name, data) VALUES (?, ?)", name, string(data)); err != nil {
			return fmt.Errorf("save room %s: %w", name, err)
		}
	}
	for jobType, d := range mem.Stats {
		if _, err = tx.ExecContext(ctx, "INSERT INTO job_stats (job_type, duration) VALUES (?, ?)", jobType, d); err != nil {
			return fmt.Errorf("save stats %s: %w", jobType, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func saveNamed(ctx context.Context, tx *sql.Tx, table, name, jobID string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s %s: %w", table, name, err)
	}
	var job sql.NullString
	if jobID != "" {
		job = sql.NullString{String: jobID, Valid: true}
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO "+table+" (name, job_id, data) VALUES (?, ?, ?)", name, job, string(data)); err != nil {
		return fmt.Errorf("save %s %s: %w", table, name, err)
	}
	return nil
}

// JobCounts returns the number of stored jobs per type without decoding the
// aggregate.
func (s *Store) JobCounts(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT type, COUNT(*) FROM jobs GROUP BY type")
	if err != nil {
		return nil, fmt.Errorf("count jobs: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var jobType string
		var n int
		if err := rows.Scan(&jobType, &n); err != nil {
			return nil, err
		}
		out[jobType] = n
	}
	return out, rows.Err()
}

// Bindings returns creep and spawner names bound to jobID.
func (s *Store) Bindings(ctx context.Context, jobID types.JobID) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT name FROM creeps WHERE job_id = ? UNION ALL SELECT name FROM spawners WHERE job_id = ? ORDER BY name",
		string(jobID), string(jobID))
	if err != nil {
		return nil, fmt.Errorf("bindings: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	if err := rows.Err(); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	return out, nil
}
