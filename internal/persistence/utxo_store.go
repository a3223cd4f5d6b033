// Package persistence owns the durable audit state of the minter: which
// UTXOs have been claimed or ignored per account, which transfers are
// finalized, and the mint-intent records written around multi-leg ledger
// mutations.
package persistence

import (
	"context"
	"database/sql"
	"fmt"

	"boxmint/internal/chain"
)

// IgnoreReason explains why a UTXO was permanently excluded from minting.
type IgnoreReason string

const (
	IgnoreDust        IgnoreReason = "dust"
	IgnoreInscription IgnoreReason = "inscription"
)

// UtxoStore is the persisted record of UTXO dispositions. An outpoint, once
// claimed or ignored for an account, never comes back from
// NewUtxosForAccount. This is the sole double-mint defense and must hold
// across process restarts.
type UtxoStore interface {
	// NewUtxosForAccount filters observed down to outpoints with no recorded
	// disposition for the account, preserving the observed order.
	NewUtxosForAccount(ctx context.Context, observed []chain.Utxo, accountKey string) ([]chain.Utxo, error)

	// RecordClaim transitions an outpoint to claimed. Only called after the
	// corresponding ledger transfer succeeded, never speculatively.
	RecordClaim(ctx context.Context, utxo chain.Utxo, accountKey string, receiptID uint64, secondaryAsset bool) error

	// Ignore transitions an outpoint to ignored with the given reason.
	Ignore(ctx context.Context, utxo chain.Utxo, accountKey string, reason IgnoreReason) error

	// FinalizeClear drops stale finalized-set entries for the account before
	// a new scan, so one failed historical transfer cannot block future
	// deposits indefinitely.
	FinalizeClear(ctx context.Context, accountKey string) error

	// MarkFinalized records that an outpoint's ledger effects are fully
	// settled.
	MarkFinalized(ctx context.Context, outpoint string, accountKey string) error
}

// outpointKey is the stable string form used as the primary key component.
func outpointKey(u chain.Utxo) string {
	return fmt.Sprintf("%s:%d", u.OutPoint.Hash.String(), u.OutPoint.Index)
}

// PostgresUtxoStore implements UtxoStore on the minter schema.
type PostgresUtxoStore struct {
	db *sql.DB
}

func NewPostgresUtxoStore(db *sql.DB) *PostgresUtxoStore {
	return &PostgresUtxoStore{db: db}
}

func (s *PostgresUtxoStore) NewUtxosForAccount(ctx context.Context, observed []chain.Utxo, accountKey string) ([]chain.Utxo, error) {
	if len(observed) == 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT outpoint FROM minter.utxos WHERE account = $1`, accountKey)
	if err != nil {
		return nil, fmt.Errorf("query dispositions: %w", err)
	}
	defer rows.Close()

	seen := make(map[string]struct{})
	for rows.Next() {
		var op string
		if err := rows.Scan(&op); err != nil {
			return nil, fmt.Errorf("scan disposition: %w", err)
		}
		seen[op] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dispositions: %w", err)
	}

	var fresh []chain.Utxo
	for _, u := range observed {
		if _, dup := seen[outpointKey(u)]; !dup {
			fresh = append(fresh, u)
		}
	}
	return fresh, nil
}

func (s *PostgresUtxoStore) RecordClaim(ctx context.Context, utxo chain.Utxo, accountKey string, receiptID uint64, secondaryAsset bool) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO minter.utxos (outpoint, account, value, height, status, receipt_id, secondary_asset)
		VALUES ($1, $2, $3, $4, 'claimed', $5, $6)
		ON CONFLICT (outpoint, account) DO NOTHING`,
		outpointKey(utxo), accountKey, int64(utxo.Value), int64(utxo.Height), int64(receiptID), secondaryAsset,
	)
	if err != nil {
		return fmt.Errorf("record claim: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("outpoint %s already has a disposition for account %s", outpointKey(utxo), accountKey)
	}
	return nil
}

func (s *PostgresUtxoStore) Ignore(ctx context.Context, utxo chain.Utxo, accountKey string, reason IgnoreReason) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO minter.utxos (outpoint, account, value, height, status, ignore_reason)
		VALUES ($1, $2, $3, $4, 'ignored', $5)
		ON CONFLICT (outpoint, account) DO NOTHING`,
		outpointKey(utxo), accountKey, int64(utxo.Value), int64(utxo.Height), string(reason),
	)
	if err != nil {
		return fmt.Errorf("ignore utxo: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("outpoint %s already has a disposition for account %s", outpointKey(utxo), accountKey)
	}
	return nil
}

func (s *PostgresUtxoStore) FinalizeClear(ctx context.Context, accountKey string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM minter.finalized WHERE account = $1`, accountKey)
	if err != nil {
		return fmt.Errorf("clear finalized set: %w", err)
	}
	return nil
}

func (s *PostgresUtxoStore) MarkFinalized(ctx context.Context, outpoint string, accountKey string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO minter.finalized (outpoint, account)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING`,
		outpoint, accountKey,
	)
	if err != nil {
		return fmt.Errorf("mark finalized: %w", err)
	}
	return nil
}
