package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrInvalidNonce is returned for a nonce that was never issued for the
// page, has expired or was already used.
var ErrInvalidNonce = errors.New("store: unknown or expired nonce")

// IssueNonce records nonce as pending for pageURL and returns when it
// stops being accepted. Expired nonces of the page are dropped.
func (db *DB) IssueNonce(ctx context.Context, pageURL, nonce string) (time.Time, error) {
	if nonce == "" {
		return time.Time{}, fmt.Errorf("issuing nonce: %w", ErrInvalidNonce)
	}
	now := db.now().UTC()
	if err := db.expireNonces(ctx, pageURL, now); err != nil {
		return time.Time{}, err
	}
	if _, err := db.conn.ExecContext(ctx,
		`INSERT OR REPLACE INTO nonces (url, nonce, issued_at) VALUES (?, ?, ?)`,
		pageURL, nonce, now.UnixMilli(),
	); err != nil {
		return time.Time{}, fmt.Errorf("issuing nonce: %w", err)
	}
	return now.Add(db.policy.NonceTTL), nil
}

// ConsumeNonce accepts a pending nonce once. Anything else yields
// ErrInvalidNonce.
func (db *DB) ConsumeNonce(ctx context.Context, pageURL, nonce string) error {
	if nonce == "" {
		return ErrInvalidNonce
	}
	now := db.now().UTC()
	if err := db.expireNonces(ctx, pageURL, now); err != nil {
		return err
	}
	res, err := db.conn.ExecContext(ctx, `DELETE FROM nonces WHERE url = ? AND nonce = ?`, pageURL, nonce)
	if err != nil {
		return fmt.Errorf("consuming nonce: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("consuming nonce: %w", err)
	}
	if n == 0 {
		return ErrInvalidNonce
	}
	return nil
}

func (db *DB) expireNonces(ctx context.Context, pageURL string, now time.Time) error {
	cutoff := now.Add(-db.policy.NonceTTL).UnixMilli()
	if _, err := db.conn.ExecContext(ctx,
		`DELETE FROM nonces WHERE url = ? AND issued_at < ?`, pageURL, cutoff,
	); err != nil {
		return fmt.Errorf("expiring nonces: %w", err)
	}
	return nil
}
