package database

import (
	"context"
	"fmt"
)

// defaultPairs is the built-in instrument catalogue seeded on first start.
var defaultPairs = []TradingPair{
	{Symbol: "BTCUSD", DisplayName: "Bitcoin / USD", Category: "crypto", Popular: true},
	{Symbol: "ETHUSD", DisplayName: "Ethereum / USD", Category: "crypto", Popular: true},
	{Symbol: "SOLUSD", DisplayName: "Solana / USD", Category: "crypto", Popular: false},
	{Symbol: "XRPUSD", DisplayName: "Ripple / USD", Category: "crypto", Popular: false},
	{Symbol: "ADAUSD", DisplayName: "Cardano / USD", Category: "crypto", Popular: false},
	{Symbol: "DOGEUSD", DisplayName: "Dogecoin / USD", Category: "crypto", Popular: false},
	{Symbol: "EURUSD", DisplayName: "Euro / US Dollar", Category: "forex", Popular: true},
	{Symbol: "GBPUSD", DisplayName: "British Pound / US Dollar", Category: "forex", Popular: true},
	{Symbol: "USDJPY", DisplayName: "US Dollar / Japanese Yen", Category: "forex", Popular: true},
	{Symbol: "AUDUSD", DisplayName: "Australian Dollar / US Dollar", Category: "forex", Popular: false},
	{Symbol: "USDCAD", DisplayName: "US Dollar / Canadian Dollar", Category: "forex", Popular: false},
	{Symbol: "USDCHF", DisplayName: "US Dollar / Swiss Franc", Category: "forex", Popular: false},
	{Symbol: "NZDUSD", DisplayName: "New Zealand Dollar / US Dollar", Category: "forex", Popular: false},
	{Symbol: "EURGBP", DisplayName: "Euro / British Pound", Category: "forex", Popular: false},
	{Symbol: "US500", DisplayName: "S&P 500", Category: "indices", Popular: true},
	{Symbol: "US100", DisplayName: "Nasdaq 100", Category: "indices", Popular: true},
	{Symbol: "US30", DisplayName: "Dow Jones 30", Category: "indices", Popular: false},
	{Symbol: "DE40", DisplayName: "DAX 40", Category: "indices", Popular: false},
	{Symbol: "UK100", DisplayName: "FTSE 100", Category: "indices", Popular: false},
	{Symbol: "AAPL", DisplayName: "Apple Inc", Category: "stocks", Popular: true},
	{Symbol: "TSLA", DisplayName: "Tesla Inc", Category: "stocks", Popular: true},
	{Symbol: "MSFT", DisplayName: "Microsoft Corp", Category: "stocks", Popular: false},
	{Symbol: "AMZN", DisplayName: "Amazon.com Inc", Category: "stocks", Popular: false},
	{Symbol: "NVDA", DisplayName: "NVIDIA Corp", Category: "stocks", Popular: true},
	{Symbol: "GOLD", DisplayName: "Gold Spot", Category: "commodities", Popular: true},
	{Symbol: "SILVER", DisplayName: "Silver Spot", Category: "commodities", Popular: false},
	{Symbol: "OIL_CRUDE", DisplayName: "Crude Oil WTI", Category: "commodities", Popular: false},
	{Symbol: "NATURALGAS", DisplayName: "Natural Gas", Category: "commodities", Popular: false},
}

// SeedTradingPairs upserts the built-in instrument catalogue
func (r *Repository) SeedTradingPairs(ctx context.Context) error {
	for i := range defaultPairs {
		if err := r.UpsertTradingPair(ctx, &defaultPairs[i]); err != nil {
			return fmt.Errorf("seeding trading pair %s: %w", defaultPairs[i].Symbol, err)
		}
	}
	return nil
}
