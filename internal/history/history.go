// Package history keeps a local log of settled analyses in SQLite, with
// the analyzed page HTML stored as an lz4 block for later inspection. This
// is an append-only record; the ephemeral per-tab store stays the single
// source of truth for live tabs.
package history

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pierrec/lz4/v4"
	_ "modernc.org/sqlite"

	"github.com/sahir247/phishlens/internal/types"
)

// migration is a numbered schema change. Migrations are applied in order
// and tracked in the schema_migrations table so each runs exactly once.
type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "initial detections table",
		SQL: `
CREATE TABLE IF NOT EXISTS detections (
    id           INTEGER PRIMARY KEY,
    tab_id       INTEGER NOT NULL,
    url          TEXT NOT NULL,
    domain       TEXT DEFAULT '',
    risk_score   REAL NOT NULL,
    reasons_json TEXT NOT NULL DEFAULT '[]',
    detected_at  DATETIME DEFAULT CURRENT_TIMESTAMP
);`,
	},
	{
		Version:     2,
		Description: "store compressed page captures",
		SQL: `ALTER TABLE detections ADD COLUMN html_lz4 BLOB;
ALTER TABLE detections ADD COLUMN html_size INTEGER DEFAULT 0;`,
	},
}

// Detection is one logged analysis. HTMLSize is the uncompressed capture
// size; the capture itself is loaded separately via HTMLFor.
type Detection struct {
	ID         int64
	TabID      int
	URL        string
	Domain     string
	RiskScore  float64
	Reasons    []string
	DetectedAt time.Time
	HTMLSize   int
}

// OpenDB opens (or creates) the history database at the given path,
// creating parent directories, enabling foreign keys and WAL mode, and
// running pending migrations.
func OpenDB(path string) (*sql.DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return db, nil
}

func runMigrations(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version     INTEGER PRIMARY KEY,
		description TEXT NOT NULL,
		applied_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	)`)
	if err != nil {
		return fmt.Errorf("create schema_migrations table: %w", err)
	}

	for _, m := range migrations {
		var exists int
		err := db.QueryRow("SELECT COUNT(*) FROM schema_migrations WHERE version = ?", m.Version).Scan(&exists)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.Version, err)
		}
		if exists > 0 {
			continue
		}

		if _, err := db.Exec(m.SQL); err != nil {
			return fmt.Errorf("apply migration %d (%s): %w", m.Version, m.Description, err)
		}
		if _, err := db.Exec(
			"INSERT INTO schema_migrations (version, description) VALUES (?, ?)",
			m.Version, m.Description,
		); err != nil {
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}
	}
	return nil
}

// DefaultDBPath returns the default database file path:
// ~/.local/share/phishlens/phishlens.db
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", "phishlens", "phishlens.db"), nil
}

// Append logs one settled analysis with its page capture.
func Append(db *sql.DB, rec *types.AnalysisRecord, html string) error {
	reasons, err := json.Marshal(rec.Reasons)
	if err != nil {
		return fmt.Errorf("marshal reasons: %w", err)
	}

	blob, size := compress([]byte(html))
	_, err = db.Exec(
		`INSERT INTO detections (tab_id, url, domain, risk_score, reasons_json, html_lz4, html_size)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.TabID, rec.URL, rec.Meta.Domain, rec.RiskScore, string(reasons), blob, size,
	)
	if err != nil {
		return fmt.Errorf("insert detection: %w", err)
	}
	return nil
}

// List returns the most recent detections, newest first, without captures.
func List(db *sql.DB, limit int) ([]Detection, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(
		`SELECT id, tab_id, url, domain, risk_score, reasons_json, detected_at, html_size
		 FROM detections ORDER BY detected_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query detections: %w", err)
	}
	defer rows.Close()

	var result []Detection
	for rows.Next() {
		var d Detection
		var reasonsJSON string
		if err := rows.Scan(&d.ID, &d.TabID, &d.URL, &d.Domain, &d.RiskScore,
			&reasonsJSON, &d.DetectedAt, &d.HTMLSize); err != nil {
			return nil, fmt.Errorf("scan detection: %w", err)
		}
		if err := json.Unmarshal([]byte(reasonsJSON), &d.Reasons); err != nil {
			return nil, fmt.Errorf("decode reasons for detection %d: %w", d.ID, err)
		}
		result = append(result, d)
	}
	return result, rows.Err()
}

// HTMLFor loads and decompresses one detection's page capture.
func HTMLFor(db *sql.DB, id int64) (string, error) {
	var blob []byte
	var size int
	err := db.QueryRow("SELECT html_lz4, html_size FROM detections WHERE id = ?", id).Scan(&blob, &size)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("detection %d not found", id)
	}
	if err != nil {
		return "", fmt.Errorf("query capture: %w", err)
	}
	raw, err := decompress(blob, size)
	if err != nil {
		return "", fmt.Errorf("capture for detection %d: %w", id, err)
	}
	return string(raw), nil
}

// compress packs src into an lz4 block. Incompressible input is kept raw;
// the stored uncompressed size disambiguates (blob len == size means raw).
func compress(src []byte) ([]byte, int) {
	if len(src) == 0 {
		return nil, 0
	}
	dst := make([]byte, lz4.CompressBlockBound(len(src)))
	n, err := lz4.CompressBlock(src, dst, nil)
	if err != nil || n == 0 || n >= len(src) {
		raw := make([]byte, len(src))
		copy(raw, src)
		return raw, len(src)
	}
	return dst[:n], len(src)
}

func decompress(blob []byte, size int) ([]byte, error) {
	if size == 0 {
		return nil, nil
	}
	if len(blob) == size {
		return blob, nil
	}
	dst := make([]byte, size)
	n, err := lz4.UncompressBlock(blob, dst)
	if err != nil {
		return nil, fmt.Errorf("lz4 decompress: %w", err)
	}
	return dst[:n], nil
}
