package strategy

import (
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// SQLiteCache persists plans across processes so a template rendered once
// by any instance gets its plan back without re-deriving it. Only plans are
// stored, never rendered output.
type SQLiteCache struct {
	db  *sql.DB
	ttl time.Duration
}

// OpenSQLiteCache opens (creating if needed) a plan database at path and
// runs schema migrations. ttl bounds how old a recorded plan may be before
// a lookup treats it as absent.
func OpenSQLiteCache(path string, ttl time.Duration) (*SQLiteCache, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open plan cache: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping plan cache: %w", err)
	}

	goose.SetBaseFS(embedMigrations)
	if err := goose.SetDialect("sqlite"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set migration dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate plan cache: %w", err)
	}

	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &SQLiteCache{db: db, ttl: ttl}, nil
}

// Lookup loads a fresh plan for key, if one was recorded.
func (c *SQLiteCache) Lookup(key string) (*Plan, bool) {
	var payload []byte
	var recorded int64
	err := c.db.QueryRow(
		`SELECT plan, recorded_at FROM render_plans WHERE cache_key = ?`, key,
	).Scan(&payload, &recorded)
	if err != nil {
		return nil, false
	}
	if time.Since(time.Unix(recorded, 0)) > c.ttl {
		return nil, false
	}
	var plan Plan
	if err := json.Unmarshal(payload, &plan); err != nil {
		return nil, false
	}
	return &plan, true
}

// Record upserts the plan for key. Storage failures are deliberately
// swallowed: the cache is an accelerator, never a correctness dependency.
func (c *SQLiteCache) Record(key string, plan *Plan) {
	payload, err := json.Marshal(plan)
	if err != nil {
		return
	}
	_, _ = c.db.Exec(
		`INSERT INTO render_plans (cache_key, plan, recorded_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT(cache_key) DO UPDATE SET plan = excluded.plan, recorded_at = excluded.recorded_at`,
		key, payload, time.Now().Unix())
}

// Prune deletes entries older than the TTL and returns how many were
// removed.
func (c *SQLiteCache) Prune() (int64, error) {
	cutoff := time.Now().Add(-c.ttl).Unix()
	res, err := c.db.Exec(`DELETE FROM render_plans WHERE recorded_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune plan cache: %w", err)
	}
	return res.RowsAffected()
}

// Close releases the underlying database.
func (c *SQLiteCache) Close() error { return c.db.Close() }
