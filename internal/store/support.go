package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"critline/fold"
)

// Policy tunes nonce expiry and how fast old beacon evidence fades.
type Policy struct {
	// SupportInterval is the support one beacon adds to each key it
	// reports. Existing support decays by SupportInterval/(SupportInterval+1)
	// per beacon, so a key stays above zero for roughly that many beacons
	// after it was last reported.
	SupportInterval int
	// NonceTTL bounds how long an issued nonce is accepted.
	NonceTTL time.Duration
}

// DefaultPolicy is the policy a freshly opened DB uses.
func DefaultPolicy() Policy {
	return Policy{SupportInterval: 10, NonceTTL: 5 * time.Minute}
}

// SetPolicy replaces the policy; zero fields keep their defaults.
func (db *DB) SetPolicy(p Policy) {
	def := DefaultPolicy()
	if p.SupportInterval <= 0 {
		p.SupportInterval = def.SupportInterval
	}
	if p.NonceTTL <= 0 {
		p.NonceTTL = def.NonceTTL
	}
	db.policy = p
}

// KeySupport is the accumulated evidence for one reported key.
type KeySupport struct {
	Key      string `json:"key"`
	Support  int    `json:"support"`
	Critical bool   `json:"critical"`
}

// Aggregate is the support-weighted view of every beacon of one kind
// received for a page.
type Aggregate struct {
	URL        string       `json:"url"`
	Kind       string       `json:"kind"`
	MaxSupport int          `json:"max_support"`
	Percentage int          `json:"percentage"`
	Keys       []KeySupport `json:"keys"`
	Critical   []string     `json:"critical"`
}

func supportKeys(data *fold.BeaconData, kind string) []string {
	switch kind {
	case fold.KeyCriticalCSS:
		return data.CriticalSelectors
	case fold.KeyCriticalImages:
		return data.CriticalImages
	case fold.KeyXPaths:
		out := make([]string, len(data.XPathPairs))
		for i, p := range data.XPathPairs {
			out[i] = p.String()
		}
		return out
	}
	return nil
}

// decay scales v by interval/(interval+1).
func decay(interval int, v int64) int64 {
	return v * int64(interval) / int64(interval+1)
}

func saturatingAdd(a, b int64) int64 {
	if a > math.MaxInt32-b {
		return math.MaxInt32
	}
	return a + b
}

// updateSupport decays the stored support of pageURL/kind, drops keys
// that fall to zero and adds one interval of support to every key in
// keys.
func (db *DB) updateSupport(ctx context.Context, tx *sql.Tx, pageURL, kind string, keys []string) error {
	interval := db.policy.SupportInterval
	rows, err := tx.QueryContext(ctx, `SELECT key, support FROM key_support WHERE url = ? AND kind = ?`, pageURL, kind)
	if err != nil {
		return fmt.Errorf("reading support: %w", err)
	}
	support := map[string]int64{}
	for rows.Next() {
		var (
			k string
			v int64
		)
		if err := rows.Scan(&k, &v); err != nil {
			rows.Close()
			return fmt.Errorf("reading support: %w", err)
		}
		support[k] = v
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("reading support: %w", err)
	}

	var maxSupport int64
	err = tx.QueryRowContext(ctx, `SELECT max_support FROM support_max WHERE url = ? AND kind = ?`, pageURL, kind).Scan(&maxSupport)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		maxSupport = 0
	case err != nil:
		return fmt.Errorf("reading max support: %w", err)
	default:
		maxSupport = decay(interval, maxSupport)
	}
	maxSupport = saturatingAdd(maxSupport, int64(interval))

	for k, v := range support {
		d := decay(interval, v)
		if d == 0 && v > 0 {
			delete(support, k)
			continue
		}
		support[k] = d
	}
	for _, k := range keys {
		if k != "" {
			support[k] = saturatingAdd(support[k], int64(interval))
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM key_support WHERE url = ? AND kind = ?`, pageURL, kind); err != nil {
		return fmt.Errorf("writing support: %w", err)
	}
	for k, v := range support {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO key_support (url, kind, key, support) VALUES (?, ?, ?, ?)`,
			pageURL, kind, k, v,
		); err != nil {
			return fmt.Errorf("writing support: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO support_max (url, kind, max_support) VALUES (?, ?, ?)
		 ON CONFLICT (url, kind) DO UPDATE SET max_support = excluded.max_support`,
		pageURL, kind, maxSupport,
	); err != nil {
		return fmt.Errorf("writing max support: %w", err)
	}
	return nil
}

// Support returns the aggregate for pageURL/kind. A key is critical when
// its support reaches percentage percent of the maximum a key reported
// by every beacon could have; percentage 0 marks every supported key.
func (db *DB) Support(ctx context.Context, pageURL, kind string, percentage int) (*Aggregate, error) {
	agg := &Aggregate{URL: pageURL, Kind: kind, Percentage: percentage}
	var maxSupport int64
	err := db.conn.QueryRowContext(ctx,
		`SELECT max_support FROM support_max WHERE url = ? AND kind = ?`, pageURL, kind,
	).Scan(&maxSupport)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading max support: %w", err)
	}
	agg.MaxSupport = int(maxSupport)

	threshold := int64(1)
	if percentage > 0 {
		threshold = int64(percentage) * maxSupport
	}
	rows, err := db.conn.QueryContext(ctx,
		`SELECT key, support FROM key_support WHERE url = ? AND kind = ?`, pageURL, kind)
	if err != nil {
		return nil, fmt.Errorf("reading support: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var ks KeySupport
		if err := rows.Scan(&ks.Key, &ks.Support); err != nil {
			return nil, fmt.Errorf("reading support: %w", err)
		}
		ks.Critical = int64(ks.Support)*100 >= threshold
		agg.Keys = append(agg.Keys, ks)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading support: %w", err)
	}
	sort.Slice(agg.Keys, func(i, j int) bool {
		if agg.Keys[i].Support != agg.Keys[j].Support {
			return agg.Keys[i].Support > agg.Keys[j].Support
		}
		return agg.Keys[i].Key < agg.Keys[j].Key
	})
	for _, ks := range agg.Keys {
		if ks.Critical {
			agg.Critical = append(agg.Critical, ks.Key)
		}
	}
	return agg, nil
}
