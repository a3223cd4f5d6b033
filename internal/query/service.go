// Package query provides read-only audit access to the minter's durable
// state: per-account UTXO dispositions and the mint-intent backlog.
package query

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Disposition is one recorded UTXO outcome for an account.
type Disposition struct {
	Outpoint       string    `json:"outpoint"`
	Value          uint64    `json:"value"`
	Height         uint32    `json:"height"`
	Status         string    `json:"status"`
	IgnoreReason   *string   `json:"ignore_reason,omitempty"`
	ReceiptID      *uint64   `json:"receipt_id,omitempty"`
	SecondaryAsset bool      `json:"secondary_asset"`
	RecordedAt     time.Time `json:"recorded_at"`
}

// Service answers audit queries from the minter schema.
type Service struct {
	db *sql.DB
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// Dispositions lists the recorded UTXO outcomes for an account, newest
// first.
func (s *Service) Dispositions(ctx context.Context, accountKey string, limit int) ([]Disposition, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT outpoint, value, height, status, ignore_reason, receipt_id, secondary_asset, created_at
		FROM minter.utxos
		WHERE account = $1
		ORDER BY created_at DESC
		LIMIT $2`, accountKey, limit)
	if err != nil {
		return nil, fmt.Errorf("query dispositions: %w", err)
	}
	defer rows.Close()

	var out []Disposition
	for rows.Next() {
		var d Disposition
		var value, height int64
		var receipt sql.NullInt64
		var reason sql.NullString
		if err := rows.Scan(&d.Outpoint, &value, &height, &d.Status, &reason, &receipt, &d.SecondaryAsset, &d.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan disposition: %w", err)
		}
		d.Value = uint64(value)
		d.Height = uint32(height)
		if reason.Valid {
			r := reason.String
			d.IgnoreReason = &r
		}
		if receipt.Valid {
			id := uint64(receipt.Int64)
			d.ReceiptID = &id
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
