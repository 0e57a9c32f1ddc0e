package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// TxType is the kind of ledger movement.
type TxType string

const (
	TxBuy         TxType = "buy"
	TxSell        TxType = "sell"
	TxTransferIn  TxType = "transfer_in"
	TxTransferOut TxType = "transfer_out"
)

// Valid reports whether t is a known transaction type.
func (t TxType) Valid() bool {
	switch t {
	case TxBuy, TxSell, TxTransferIn, TxTransferOut:
		return true
	}
	return false
}

// Transaction is an append-only ledger record.
type Transaction struct {
	ID        string           `json:"id"`
	UserID    string           `json:"user_id"`
	CoinID    string           `json:"coin_id"` // provider slug, e.g. "bitcoin"
	Amount    decimal.Decimal  `json:"amount"`
	PriceUSD  decimal.Decimal  `json:"price_usd"`
	Fee       *decimal.Decimal `json:"fee,omitempty"`
	Type      TxType           `json:"type"`
	Timestamp time.Time        `json:"timestamp"`
}

// Favorite is a coin a user follows.
type Favorite struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	CoinID    string    `json:"coin_id"`
	CreatedAt time.Time `json:"created_at"`
}

// User is an authenticated identity.
type User struct {
	ID         string    `json:"id"`
	Username   string    `json:"username"`
	TOTPSecret string    `json:"-"`
	CreatedAt  time.Time `json:"created_at"`
}
