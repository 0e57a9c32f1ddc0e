package model

// NotAvailable is the placeholder for optional detail fields the provider omitted.
const NotAvailable = "N/A"

// CoinSummary is one row of the market listing. Fields are passed through from
// the provider; nil marshals as null.
type CoinSummary struct {
	Name          *string  `json:"name"`
	Image         *string  `json:"image"`
	Symbol        *string  `json:"symbol"`
	CurrentPrice  *float64 `json:"current_price"`
	MarketCap     *float64 `json:"market_cap"`
	MarketCapRank *int     `json:"market_cap_rank"`
}

// CoinDetail is the flattened single-coin record. Values are either provider
// scalars (json.Number, string, bool), nil, or NotAvailable.
type CoinDetail struct {
	Name                     any `json:"name"`
	Image                    any `json:"image"`
	Symbol                   any `json:"symbol"`
	CurrentPrice             any `json:"current_price"`
	Rank                     any `json:"rank"`
	PriceChangePercentage24h any `json:"price_change_percentage_24h"`
	MarketCap                any `json:"market_cap"`
	TotalVolume              any `json:"total_volume"`
	TotalSupply              any `json:"total_supply"`
	MaxSupply                any `json:"max_supply"`
	CirculatingSupply        any `json:"circulating_supply"`
	FDV                      any `json:"fdv"`
	High24h                  any `json:"high_24h"`
	Low24h                   any `json:"low_24h"`
	ATH                      any `json:"ath"`
}
