package news

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Article is one deduplicated, sentiment-annotated news item.
type Article struct {
	ID          string          `json:"id"`
	Headline    string          `json:"headline"`
	Source      string          `json:"source"`
	URL         string          `json:"url"`
	PublishedAt time.Time       `json:"published_at"`
	Summary     string          `json:"summary"`
	Sentiment   Sentiment       `json:"sentiment"`
}

// TrendingTicker is one row of the get_trending_tickers tool's result.
type TrendingTicker struct {
	Ticker        string          `json:"ticker"`
	CompanyName   string          `json:"company_name"`
	NewsCount     int64           `json:"news_count"`
	Reason        string          `json:"reason"`
	Price         decimal.Decimal `json:"price,omitempty"`
	ChangePercent decimal.Decimal `json:"change_percent,omitempty"`
	Volume        int64           `json:"volume,omitempty"`
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

func asInt64(m map[string]any, keys ...string) int64 {
	v, ok := field(m, keys...)
	if !ok {
		return 0
	}
	switch t := v.(type) {
	case float64:
		return int64(t)
	case json.Number:
		i, _ := t.Int64()
		return i
	default:
		return 0
	}
}

func asDecimal(m map[string]any, keys ...string) decimal.Decimal {
	v, ok := field(m, keys...)
	if !ok {
		return decimal.Zero
	}
	switch t := v.(type) {
	case float64:
		return decimal.NewFromFloat(t)
	case string:
		d, err := decimal.NewFromString(t)
		if err != nil {
			return decimal.Zero
		}
		return d
	case json.Number:
		d, err := decimal.NewFromString(t.String())
		if err != nil {
			return decimal.Zero
		}
		return d
	default:
		return decimal.Zero
	}
}

func asTime(m map[string]any, keys ...string) time.Time {
	s := asString(m, keys...)
	if s == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	return time.Time{}
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

// decodeArticles translates a get_stock_news/get_market_news payload.
// Sentiment is left zero-valued; it is attached after dedup.
func decodeArticles(data json.RawMessage) ([]Article, error) {
	arr, err := decodeArray(data)
	if err != nil {
		return nil, err
	}
	out := make([]Article, 0, len(arr))
	for _, m := range arr {
		out = append(out, Article{
			ID:          asString(m, "id"),
			Headline:    asString(m, "headline"),
			Source:      asString(m, "source"),
			URL:         asString(m, "url"),
			PublishedAt: asTime(m, "published_at", "publishedAt"),
			Summary:     asString(m, "summary"),
		})
	}
	return out, nil
}

// decodeTrendingTickers translates a get_trending_tickers payload.
func decodeTrendingTickers(data json.RawMessage) ([]TrendingTicker, error) {
	arr, err := decodeArray(data)
	if err != nil {
		return nil, err
	}
	out := make([]TrendingTicker, 0, len(arr))
	for _, m := range arr {
		out = append(out, TrendingTicker{
			Ticker:        asString(m, "ticker"),
			CompanyName:   asString(m, "company_name", "companyName"),
			NewsCount:     asInt64(m, "news_count", "newsCount"),
			Reason:        asString(m, "reason"),
			Price:         asDecimal(m, "price"),
			ChangePercent: asDecimal(m, "change_percent", "changePercent"),
			Volume:        asInt64(m, "volume"),
		})
	}
	return out, nil
}
