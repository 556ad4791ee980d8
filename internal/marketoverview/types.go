package marketoverview

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/mclima/stock-intel-service/internal/news"
)

// MarketIndex is one decoded row of the get_market_indices tool's result.
type MarketIndex struct {
	Name          string  `json:"name"`
	Symbol        string  `json:"symbol"`
	Value         float64 `json:"value"`
	Change        float64 `json:"change"`
	ChangePercent float64 `json:"change_percent"`
}

// SectorPerformance is one decoded row of the get_sector_performance tool's
// result (SPEC_FULL supplemented feature).
type SectorPerformance struct {
	Sector           string   `json:"sector"`
	ChangePercent    float64  `json:"change_percent"`
	TopPerformers    []string `json:"top_performers"`
	BottomPerformers []string `json:"bottom_performers"`
}

// Overview is the composite artifact GetOverview returns. Everything except
// SectorHeatmap is cached under market:overview.
type Overview struct {
	Headlines     []news.Article           `json:"headlines"`
	Sentiment     news.Sentiment           `json:"sentiment"`
	Trending      []news.TrendingTicker    `json:"trending"`
	Indices       []MarketIndex            `json:"indices"`
	SectorHeatmap []SectorPerformance      `json:"sector_heatmap,omitempty"`
	LastUpdated   string                   `json:"last_updated"`
}

func field(m map[string]any, keys ...string) (any, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func asString(m map[string]any, keys ...string) string {
	if v, ok := field(m, keys...); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func asFloat(m map[string]any, keys ...string) float64 {
	v, ok := field(m, keys...)
	if !ok {
		return 0
	}
	switch t := v.(type) {
	case float64:
		return t
	case json.Number:
		f, _ := t.Float64()
		return f
	default:
		return 0
	}
}

func asStringSlice(m map[string]any, keys ...string) []string {
	v, ok := field(m, keys...)
	if !ok {
		return nil
	}
	raw, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func decodeArray(data json.RawMessage) ([]map[string]any, error) {
	var arr []map[string]any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&arr); err != nil {
		return nil, fmt.Errorf("decode array: %w", err)
	}
	return arr, nil
}

// decodeMarketIndices translates a get_market_indices payload.
func decodeMarketIndices(data json.RawMessage) ([]MarketIndex, error) {
	arr, err := decodeArray(data)
	if err != nil {
		return nil, err
	}
	out := make([]MarketIndex, 0, len(arr))
	for _, m := range arr {
		out = append(out, MarketIndex{
			Name:          asString(m, "name"),
			Symbol:        asString(m, "symbol"),
			Value:         asFloat(m, "value"),
			Change:        asFloat(m, "change"),
			ChangePercent: asFloat(m, "change_percent", "changePercent"),
		})
	}
	return out, nil
}

// decodeSectorPerformance translates a get_sector_performance payload.
func decodeSectorPerformance(data json.RawMessage) ([]SectorPerformance, error) {
	arr, err := decodeArray(data)
	if err != nil {
		return nil, err
	}
	out := make([]SectorPerformance, 0, len(arr))
	for _, m := range arr {
		out = append(out, SectorPerformance{
			Sector:           asString(m, "sector"),
			ChangePercent:    asFloat(m, "change_percent", "changePercent"),
			TopPerformers:    asStringSlice(m, "top_performers", "topPerformers"),
			BottomPerformers: asStringSlice(m, "bottom_performers", "bottomPerformers"),
		})
	}
	return out, nil
}
