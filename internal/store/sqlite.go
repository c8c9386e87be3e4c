// Package store keeps received beacons in SQLite.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"critline/fold"
)

//go:embed schema.sql
var schemaSQL string

//go:embed pragmas.sql
var pragmasSQL string

var (
	ErrNotFound    = errors.New("store: no beacon recorded")
	ErrEmptyBeacon = errors.New("store: beacon carries no results")
)

// Record is one stored beacon kind for a page.
type Record struct {
	ID          int64            `json:"id"`
	URL         string           `json:"url"`
	OptionsHash string           `json:"options_hash"`
	Nonce       string           `json:"nonce,omitempty"`
	Kind        string           `json:"kind"`
	Data        *fold.BeaconData `json:"data"`
	ReceivedAt  time.Time        `json:"received_at"`
}

// DB wraps the SQLite connection and a read cache in front of it.
type DB struct {
	conn   *sql.DB
	path   string
	now    func() time.Time
	cache  *resultCache
	policy Policy
}

// Open opens or creates the database at path.
func Open(path string, cacheTTL time.Duration) (*DB, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}
	for _, pragma := range strings.Split(pragmasSQL, "\n") {
		pragma = strings.TrimSpace(pragma)
		if pragma == "" || strings.HasPrefix(pragma, "--") {
			continue
		}
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("applying pragma %q: %w", pragma, err)
		}
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}
	return &DB{
		conn:  conn,
		path:  path,
		now:    time.Now,
		cache:  newResultCache(time.Now, cacheTTL),
		policy: DefaultPolicy(),
	}, nil
}

func (db *DB) Close() error {
	return db.conn.Close()
}

// Save stores one row per beacon kind carried by data and folds the
// reported keys into the support aggregate of each kind.
func (db *DB) Save(ctx context.Context, pageURL string, data *fold.BeaconData) ([]Record, error) {
	if data == nil || len(data.Kinds()) == 0 {
		return nil, ErrEmptyBeacon
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encoding beacon: %w", err)
	}
	received := db.now().UTC()
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var out []Record
	for _, kind := range data.Kinds() {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO beacons (url, options_hash, nonce, kind, data, received_at) VALUES (?, ?, ?, ?, ?, ?)`,
			pageURL, data.OptionsHash, data.Nonce, kind, string(raw), received.UnixMilli(),
		)
		if err != nil {
			return nil, fmt.Errorf("inserting beacon: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, fmt.Errorf("inserting beacon: %w", err)
		}
		if err := db.updateSupport(ctx, tx, pageURL, kind, supportKeys(data, kind)); err != nil {
			return nil, err
		}
		out = append(out, Record{
			ID:          id,
			URL:         pageURL,
			OptionsHash: data.OptionsHash,
			Nonce:       data.Nonce,
			Kind:        kind,
			Data:        data,
			ReceivedAt:  time.UnixMilli(received.UnixMilli()).UTC(),
		})
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	for _, r := range out {
		db.cache.Invalidate(pageURL, r.Kind)
	}
	return out, nil
}

// Latest returns the newest record of kind for pageURL.
func (db *DB) Latest(ctx context.Context, pageURL, kind string) (*Record, error) {
	if rec, ok := db.cache.Get(pageURL, kind); ok {
		return rec, nil
	}
	var (
		rec  Record
		raw  string
		msec int64
	)
	err := db.conn.QueryRowContext(ctx,
		`SELECT id, url, options_hash, nonce, kind, data, received_at
		   FROM beacons WHERE url = ? AND kind = ? ORDER BY id DESC LIMIT 1`,
		pageURL, kind,
	).Scan(&rec.ID, &rec.URL, &rec.OptionsHash, &rec.Nonce, &rec.Kind, &raw, &msec)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying beacon: %w", err)
	}
	rec.Data = &fold.BeaconData{}
	if err := json.Unmarshal([]byte(raw), rec.Data); err != nil {
		return nil, fmt.Errorf("decoding beacon %d: %w", rec.ID, err)
	}
	rec.ReceivedAt = time.UnixMilli(msec).UTC()
	db.cache.Put(&rec)
	return &rec, nil
}

// Count returns the number of stored rows.
func (db *DB) Count(ctx context.Context) (int, error) {
	var n int
	if err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM beacons`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting beacons: %w", err)
	}
	return n, nil
}
