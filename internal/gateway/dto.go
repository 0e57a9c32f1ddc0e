package gateway

import (
	"coinfeed/internal/model"

	"github.com/shopspring/decimal"
)

// ErrorBody is the envelope every failed REST call answers with.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// RegisterRequest is the body of POST /auth/register.
type RegisterRequest struct {
	Username string `json:"username"`
}

// RegisterResponse carries the otpauth:// URL the user enrolls in an
// authenticator app. The secret is not returned any other way.
type RegisterResponse struct {
	User       *model.User `json:"user"`
	OTPAuthURL string      `json:"otpauth_url"`
}

// TransactionRequest is the body of POST /portfolio/transactions. Numbers may
// be sent as JSON numbers or strings. The timestamp is always set server-side.
type TransactionRequest struct {
	CoinID   string           `json:"coin_id"`
	Amount   decimal.Decimal  `json:"amount"`
	PriceUSD decimal.Decimal  `json:"price_usd"`
	Fee      *decimal.Decimal `json:"fee"`
	Type     model.TxType     `json:"type"`
}

// FavoriteRequest is the body of POST and DELETE /portfolio/favorites.
type FavoriteRequest struct {
	CoinID string `json:"coin_id"`
}

// ReconfigureMsg is what a streaming client sends to switch its series.
// An empty field keeps the current value.
type ReconfigureMsg struct {
	Interval string `json:"interval"`
	Kind     string `json:"kind"`
}
