// Package portfolio keeps each user's transaction ledger and favorite coins,
// and summarizes holdings against current prices.
package portfolio

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"coinfeed/internal/model"
	"coinfeed/internal/store/sqldb"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Ledger is the SQL-backed model.LedgerStore.
type Ledger struct {
	db  *sqldb.DB
	now func() time.Time
}

func NewLedger(db *sqldb.DB) *Ledger {
	return &Ledger{db: db, now: time.Now}
}

// Validate checks a client-supplied transaction before it is stored.
func Validate(tx *model.Transaction) error {
	if strings.TrimSpace(tx.CoinID) == "" {
		return &model.ValidationError{Field: "coin_id", Value: tx.CoinID}
	}
	if !tx.Type.Valid() {
		return &model.ValidationError{Field: "type", Value: string(tx.Type)}
	}
	if !tx.Amount.IsPositive() {
		return &model.ValidationError{Field: "amount", Value: tx.Amount.String()}
	}
	if !tx.PriceUSD.IsPositive() {
		return &model.ValidationError{Field: "price_usd", Value: tx.PriceUSD.String()}
	}
	if tx.Fee != nil && tx.Fee.IsNegative() {
		return &model.ValidationError{Field: "fee", Value: tx.Fee.String()}
	}
	return nil
}

// Create validates tx, assigns its id and timestamp and appends it.
func (l *Ledger) Create(ctx context.Context, tx *model.Transaction) error {
	if err := Validate(tx); err != nil {
		return err
	}
	tx.ID = uuid.NewString()
	tx.Timestamp = l.now().UTC().Truncate(time.Millisecond)

	var fee sql.NullString
	if tx.Fee != nil {
		fee = sql.NullString{String: tx.Fee.String(), Valid: true}
	}
	_, err := l.db.ExecContext(ctx, l.db.Rebind(`
		INSERT INTO transactions (id, user_id, coin_id, amount, price_usd, fee, tx_type, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		tx.ID, tx.UserID, tx.CoinID, tx.Amount.String(), tx.PriceUSD.String(), fee, string(tx.Type), tx.Timestamp.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

// ListByUser returns the user's transactions, oldest first.
func (l *Ledger) ListByUser(ctx context.Context, userID string) ([]model.Transaction, error) {
	rows, err := l.db.QueryContext(ctx, l.db.Rebind(`
		SELECT id, user_id, coin_id, amount, price_usd, fee, tx_type, ts
		FROM transactions WHERE user_id = ? ORDER BY ts, id`), userID)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer rows.Close()

	out := []model.Transaction{}
	for rows.Next() {
		var (
			tx                  model.Transaction
			amount, price, kind string
			fee                 sql.NullString
			ts                  int64
		)
		if err := rows.Scan(&tx.ID, &tx.UserID, &tx.CoinID, &amount, &price, &fee, &kind, &ts); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		if tx.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("transaction %s amount: %w", tx.ID, err)
		}
		if tx.PriceUSD, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("transaction %s price: %w", tx.ID, err)
		}
		if fee.Valid {
			f, err := decimal.NewFromString(fee.String)
			if err != nil {
				return nil, fmt.Errorf("transaction %s fee: %w", tx.ID, err)
			}
			tx.Fee = &f
		}
		tx.Type = model.TxType(kind)
		tx.Timestamp = time.UnixMilli(ts).UTC()
		out = append(out, tx)
	}
	return out, rows.Err()
}

// Delete removes one of the user's transactions.
func (l *Ledger) Delete(ctx context.Context, userID, id string) error {
	res, err := l.db.ExecContext(ctx, l.db.Rebind(`DELETE FROM transactions WHERE id = ? AND user_id = ?`), id, userID)
	if err != nil {
		return fmt.Errorf("delete transaction: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.ErrNotFound
	}
	return nil
}
