package risk

import (
	"strings"
	"time"
)

// Asset categories used for market-hours decisions
const (
	CategoryCrypto      = "crypto"
	CategoryForex       = "forex"
	CategoryIndices     = "indices"
	CategoryStocks      = "stocks"
	CategoryCommodities = "commodities"
)

var cryptoBases = []string{"BTC", "ETH", "SOL", "XRP", "ADA", "DOGE", "DOT", "LTC", "LINK", "AVAX"}

var forexPairs = map[string]bool{
	"EURUSD": true, "GBPUSD": true, "USDJPY": true, "AUDUSD": true,
	"USDCAD": true, "USDCHF": true, "NZDUSD": true, "EURGBP": true,
	"EURJPY": true, "GBPJPY": true,
}

var indexSymbols = map[string]bool{
	"US500": true, "US100": true, "US30": true, "DE40": true,
	"UK100": true, "JP225": true, "SPX500": true, "NAS100": true,
}

var commoditySymbols = map[string]bool{
	"GOLD": true, "SILVER": true, "OIL_CRUDE": true, "OIL_BRENT": true,
	"NATURALGAS": true, "XAUUSD": true, "XAGUSD": true,
}

// Categorise classifies a symbol when no catalogue entry exists.
// Unknown symbols default to stocks, the most restrictive schedule.
func Categorise(symbol string) string {
	s := strings.ToUpper(symbol)
	for _, base := range cryptoBases {
		if strings.HasPrefix(s, base) {
			return CategoryCrypto
		}
	}
	if forexPairs[s] {
		return CategoryForex
	}
	if indexSymbols[s] {
		return CategoryIndices
	}
	if commoditySymbols[s] {
		return CategoryCommodities
	}
	return CategoryStocks
}

// MarketOpen reports whether the market for an asset category is open at
// the given instant. All boundaries are UTC:
//
//	crypto                          always
//	forex                           Mon-Fri, except Fri >= 22:00 and Sun < 22:00
//	indices/stocks/commodities      weekdays 08:00-22:00
func MarketOpen(category string, now time.Time) bool {
	now = now.UTC()
	weekday := now.Weekday()
	hour := now.Hour()

	switch category {
	case CategoryCrypto:
		return true
	case CategoryForex:
		switch weekday {
		case time.Saturday:
			return false
		case time.Sunday:
			return hour >= 22
		case time.Friday:
			return hour < 22
		default:
			return true
		}
	default:
		if weekday == time.Saturday || weekday == time.Sunday {
			return false
		}
		return hour >= 8 && hour < 22
	}
}
