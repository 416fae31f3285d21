package chart

import (
	"testing"
)

func TestNormalizeIndicatorsFromStrings(t *testing.T) {
	set := NormalizeIndicators([]string{"SMA", "rsi"})
	if _, ok := set["sma"]; !ok {
		t.Error("sma missing")
	}
	if _, ok := set["rsi"]; !ok {
		t.Error("rsi missing")
	}
}

func TestNormalizeIndicatorsSynonyms(t *testing.T) {
	set := NormalizeIndicators(map[string]interface{}{
		"EMA": map[string]interface{}{"window": 20},
	})
	params, ok := set["ema"]
	if !ok {
		t.Fatal("ema missing")
	}
	if params["period"] != 20 {
		t.Errorf("window should canonicalise to period, got %+v", params)
	}
	if _, ok := params["window"]; ok {
		t.Error("window key should be replaced, not kept")
	}
}

func TestNormalizeIndicatorsMACDSplit(t *testing.T) {
	set := NormalizeIndicators([]interface{}{
		map[string]interface{}{
			"type":   "MACD",
			"params": map[string]interface{}{"fastPeriod": 12, "slowPeriod": 26, "signalPeriod": 9},
		},
	})
	for _, series := range []string{"macd_line", "macd_signal", "macd_histogram"} {
		params, ok := set[series]
		if !ok {
			t.Fatalf("%s missing from MACD split", series)
		}
		if params["fast"] != 12 || params["slow"] != 26 || params["signal"] != 9 {
			t.Errorf("%s params not canonicalised: %+v", series, params)
		}
	}
	if _, ok := set["macd"]; ok {
		t.Error("raw macd entry should not survive the split")
	}
}

func TestNormalizeIndicatorsMixedList(t *testing.T) {
	set := NormalizeIndicators([]interface{}{
		"bollinger",
		map[string]interface{}{"type": "SMA", "params": map[string]interface{}{"length": 50}},
		map[string]interface{}{"params": map[string]interface{}{"period": 14}}, // no type: dropped
	})
	if len(set) != 2 {
		t.Errorf("expected 2 indicators, got %d: %+v", len(set), set)
	}
	if set["sma"]["period"] != 50 {
		t.Errorf("length should canonicalise to period, got %+v", set["sma"])
	}
}

func TestNormalizeIndicatorsNil(t *testing.T) {
	set := NormalizeIndicators(nil)
	if set == nil || len(set) != 0 {
		t.Errorf("nil spec should normalise to an empty set, got %+v", set)
	}
}
