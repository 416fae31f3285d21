package chart

import (
	"strings"
)

// IndicatorSet is the canonical renderer input: lowercase indicator type
// mapped to its parameters.
type IndicatorSet map[string]map[string]interface{}

// paramSynonyms reconciles the parameter spellings different clients send
var paramSynonyms = map[string]string{
	"window":       "period",
	"fastperiod":   "fast",
	"slowperiod":   "slow",
	"signalperiod": "signal",
	"stddev":       "stdDev",
	"length":       "period",
}

// NormalizeIndicators canonicalises an incoming indicator spec. Accepted
// shapes: []string of type names, []map with {type, params}, or a map of
// type -> params. MACD is always split into its three rendered series.
func NormalizeIndicators(spec interface{}) IndicatorSet {
	out := make(IndicatorSet)
	if spec == nil {
		return out
	}

	switch v := spec.(type) {
	case []string:
		for _, name := range v {
			addIndicator(out, name, nil)
		}
	case []interface{}:
		for _, item := range v {
			switch entry := item.(type) {
			case string:
				addIndicator(out, entry, nil)
			case map[string]interface{}:
				name, _ := entry["type"].(string)
				if name == "" {
					continue
				}
				params, _ := entry["params"].(map[string]interface{})
				addIndicator(out, name, params)
			}
		}
	case map[string]interface{}:
		for name, raw := range v {
			params, _ := raw.(map[string]interface{})
			addIndicator(out, name, params)
		}
	case IndicatorSet:
		for name, params := range v {
			p := make(map[string]interface{}, len(params))
			for k, val := range params {
				p[k] = val
			}
			addIndicator(out, name, p)
		}
	}
	return out
}

func addIndicator(out IndicatorSet, name string, params map[string]interface{}) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return
	}
	canonical := make(map[string]interface{}, len(params))
	for k, v := range params {
		if syn, ok := paramSynonyms[strings.ToLower(k)]; ok {
			k = syn
		}
		canonical[k] = v
	}

	// MACD renders as three separate series
	if key == "macd" {
		out["macd_line"] = canonical
		out["macd_signal"] = copyParams(canonical)
		out["macd_histogram"] = copyParams(canonical)
		return
	}
	out[key] = canonical
}

func copyParams(params map[string]interface{}) map[string]interface{} {
	dup := make(map[string]interface{}, len(params))
	for k, v := range params {
		dup[k] = v
	}
	return dup
}
