package database

import (
	"strings"
	"testing"
)

func tradeColumnNames() []string {
	var names []string
	for _, col := range strings.Split(tradeColumns, ",") {
		names = append(names, strings.TrimSpace(col))
	}
	return names
}

func TestTradeScanDestMatchesColumns(t *testing.T) {
	cols := tradeColumnNames()
	dest := tradeScanDest(&Trade{})
	if len(dest) != len(cols) {
		t.Fatalf("tradeColumns has %d columns but tradeScanDest returns %d destinations", len(cols), len(dest))
	}
}

func TestTradeScanDestCurrentPricePosition(t *testing.T) {
	cols := tradeColumnNames()
	idx := -1
	for i, col := range cols {
		if col == "current_price" {
			idx = i
			break
		}
	}
	if idx < 0 {
		t.Fatal("current_price missing from tradeColumns")
	}

	tr := &Trade{}
	dest := tradeScanDest(tr)
	p, ok := dest[idx].(**float64)
	if !ok {
		t.Fatalf("destination %d for current_price is %T, want **float64", idx, dest[idx])
	}
	price := 1.2345
	*p = &price
	if tr.CurrentPrice == nil || *tr.CurrentPrice != price {
		t.Error("current_price destination does not write Trade.CurrentPrice")
	}
}
