// Package patternsql mirrors learned patterns to a relational database.
// SQLite (modernc), PostgreSQL (lib/pq) and MySQL (go-sql-driver) share one
// table layout; only the upsert dialect differs.
package patternsql

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/fyrsmithlabs/transitd/internal/learning"
)

// ErrUnsupportedDriver is returned for drivers other than sqlite, postgres
// and mysql.
var ErrUnsupportedDriver = errors.New("unsupported pattern store driver")

// Mirror implements learning.Mirror over database/sql.
type Mirror struct {
	db      *sql.DB
	dialect dialect
}

var _ learning.Mirror = (*Mirror)(nil)

// Open connects to driver ("sqlite", "postgres" or "mysql") at dsn and
// creates the table when missing. For sqlite, dsn is a file path.
func Open(ctx context.Context, driver, dsn string) (*Mirror, error) {
	d, ok := dialects[driver]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, driver)
	}

	source := dsn
	if driver == "sqlite" && dsn != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
		source = dsn + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open(d.driverName, source)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", driver, err)
	}
	if driver == "sqlite" {
		// SQLite allows one writer; an in-memory database exists per connection.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging %s: %w", driver, err)
	}

	m := &Mirror{db: db, dialect: d}
	if err := m.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return m, nil
}

// OpenMemory opens an in-memory SQLite mirror (useful for testing).
func OpenMemory(ctx context.Context) (*Mirror, error) {
	return Open(ctx, "sqlite", ":memory:")
}

func (m *Mirror) migrate(ctx context.Context) error {
	for _, stmt := range m.dialect.schema {
		if _, err := m.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// Upsert implements learning.Mirror. The stored frequency is the larger of
// the stored and incoming values; topic and success follow the newer update.
func (m *Mirror) Upsert(ctx context.Context, p learning.Pattern) error {
	if err := p.Validate(); err != nil {
		return err
	}
	keywords, err := json.Marshal(nonNil(p.Keywords))
	if err != nil {
		return fmt.Errorf("encoding keywords: %w", err)
	}
	updated := p.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}
	_, err = m.db.ExecContext(ctx, m.dialect.upsert,
		string(p.Kind), keyHash(p.Key), p.Key, p.Topic, p.Success, string(keywords), p.Frequency, updated.UnixMilli())
	if err != nil {
		return fmt.Errorf("upserting pattern: %w", err)
	}
	return nil
}

// LoadTop implements learning.Mirror.
func (m *Mirror) LoadTop(ctx context.Context, k int) ([]learning.Pattern, error) {
	if k <= 0 {
		k = 1000
	}
	rows, err := m.db.QueryContext(ctx, m.dialect.loadTop, k)
	if err != nil {
		return nil, fmt.Errorf("querying patterns: %w", err)
	}
	defer rows.Close()

	var out []learning.Pattern
	for rows.Next() {
		var (
			p        learning.Pattern
			kind     string
			keywords string
			updated  int64
		)
		if err := rows.Scan(&kind, &p.Key, &p.Topic, &p.Success, &keywords, &p.Frequency, &updated); err != nil {
			return nil, fmt.Errorf("scanning pattern: %w", err)
		}
		p.Kind = learning.Kind(kind)
		if keywords != "" {
			if err := json.Unmarshal([]byte(keywords), &p.Keywords); err != nil {
				return nil, fmt.Errorf("decoding keywords of %q: %w", p.Key, err)
			}
		}
		p.UpdatedAt = time.UnixMilli(updated).UTC()
		out = append(out, p)
	}
	return out, rows.Err()
}

// Ping checks the database connection.
func (m *Mirror) Ping(ctx context.Context) error {
	return m.db.PingContext(ctx)
}

// Close implements learning.Mirror.
func (m *Mirror) Close() error {
	return m.db.Close()
}

// keyHash is the indexed identity of a pattern key. Keys are whole
// utterances of any length, which an indexed VARCHAR cannot hold on MySQL.
func keyHash(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

type dialect struct {
	driverName string
	schema     []string
	upsert     string
	loadTop    string
}

const (
	columns       = "kind, pattern_key, topic, success, keywords, frequency, updated_at"
	insertColumns = "kind, key_hash, pattern_key, topic, success, keywords, frequency, updated_at"
)

var dialects = map[string]dialect{
	"sqlite": {
		driverName: "sqlite",
		schema: []string{`
CREATE TABLE IF NOT EXISTS learned_patterns (
    kind TEXT NOT NULL CHECK(kind IN ('exact','keywords')),
    key_hash TEXT NOT NULL,
    pattern_key TEXT NOT NULL,
    topic TEXT NOT NULL,
    success BOOLEAN NOT NULL DEFAULT 0,
    keywords TEXT NOT NULL DEFAULT '[]',
    frequency INTEGER NOT NULL DEFAULT 0,
    updated_at INTEGER NOT NULL,
    PRIMARY KEY (kind, key_hash)
)`,
			`CREATE INDEX IF NOT EXISTS idx_learned_patterns_frequency ON learned_patterns(frequency DESC)`,
		},
		upsert: `INSERT INTO learned_patterns (` + insertColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(kind, key_hash) DO UPDATE SET
    topic = CASE WHEN excluded.updated_at >= learned_patterns.updated_at THEN excluded.topic ELSE learned_patterns.topic END,
    success = CASE WHEN excluded.updated_at >= learned_patterns.updated_at THEN excluded.success ELSE learned_patterns.success END,
    keywords = CASE WHEN excluded.updated_at >= learned_patterns.updated_at AND excluded.keywords <> '[]' THEN excluded.keywords ELSE learned_patterns.keywords END,
    frequency = MAX(learned_patterns.frequency, excluded.frequency),
    updated_at = MAX(learned_patterns.updated_at, excluded.updated_at)`,
		loadTop: `SELECT ` + columns + ` FROM learned_patterns ORDER BY frequency DESC, updated_at DESC LIMIT ?`,
	},
	"postgres": {
		driverName: "postgres",
		schema: []string{`
CREATE TABLE IF NOT EXISTS learned_patterns (
    kind VARCHAR(16) NOT NULL CHECK (kind IN ('exact','keywords')),
    key_hash CHAR(64) NOT NULL,
    pattern_key TEXT NOT NULL,
    topic VARCHAR(128) NOT NULL,
    success BOOLEAN NOT NULL DEFAULT FALSE,
    keywords TEXT NOT NULL DEFAULT '[]',
    frequency INTEGER NOT NULL DEFAULT 0,
    updated_at BIGINT NOT NULL,
    PRIMARY KEY (kind, key_hash)
)`,
			`CREATE INDEX IF NOT EXISTS idx_learned_patterns_frequency ON learned_patterns(frequency DESC)`,
		},
		upsert: `INSERT INTO learned_patterns (` + insertColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (kind, key_hash) DO UPDATE SET
    topic = CASE WHEN EXCLUDED.updated_at >= learned_patterns.updated_at THEN EXCLUDED.topic ELSE learned_patterns.topic END,
    success = CASE WHEN EXCLUDED.updated_at >= learned_patterns.updated_at THEN EXCLUDED.success ELSE learned_patterns.success END,
    keywords = CASE WHEN EXCLUDED.updated_at >= learned_patterns.updated_at AND EXCLUDED.keywords <> '[]' THEN EXCLUDED.keywords ELSE learned_patterns.keywords END,
    frequency = GREATEST(learned_patterns.frequency, EXCLUDED.frequency),
    updated_at = GREATEST(learned_patterns.updated_at, EXCLUDED.updated_at)`,
		loadTop: `SELECT ` + columns + ` FROM learned_patterns ORDER BY frequency DESC, updated_at DESC LIMIT $1`,
	},
	"mysql": {
		driverName: "mysql",
		schema: []string{`
CREATE TABLE IF NOT EXISTS learned_patterns (
    kind VARCHAR(16) NOT NULL,
    key_hash CHAR(64) NOT NULL,
    pattern_key TEXT NOT NULL,
    topic VARCHAR(128) NOT NULL,
    success BOOLEAN NOT NULL DEFAULT FALSE,
    keywords TEXT NOT NULL,
    frequency INT NOT NULL DEFAULT 0,
    updated_at BIGINT NOT NULL,
    PRIMARY KEY (kind, key_hash),
    INDEX idx_learned_patterns_frequency (frequency)
) CHARACTER SET utf8mb4`,
		},
		// MySQL evaluates assignments left to right, so updated_at goes last.
		upsert: `INSERT INTO learned_patterns (` + insertColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE
    topic = IF(VALUES(updated_at) >= updated_at, VALUES(topic), topic),
    success = IF(VALUES(updated_at) >= updated_at, VALUES(success), success),
    keywords = IF(VALUES(updated_at) >= updated_at AND VALUES(keywords) <> '[]', VALUES(keywords), keywords),
    frequency = GREATEST(frequency, VALUES(frequency)),
    updated_at = GREATEST(updated_at, VALUES(updated_at))`,
		loadTop: `SELECT ` + columns + ` FROM learned_patterns ORDER BY frequency DESC, updated_at DESC LIMIT ?`,
	},
}

// Drivers lists the supported driver names.
func Drivers() []string {
	out := make([]string, 0, len(dialects))
	for name := range dialects {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
