package stockdata

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/shopspring/decimal"
)

func bytesReader(data json.RawMessage) io.Reader { return bytes.NewReader(data) }

// Price is the decoded result of the get_stock_price tool.
type Price struct {
	Ticker        string          `json:"ticker"`
	Price         decimal.Decimal `json:"price"`
	Change        decimal.Decimal `json:"change"`
	ChangePercent decimal.Decimal `json:"change_percent"`
	Volume        int64           `json:"volume"`
	Timestamp     time.Time       `json:"timestamp"`
}

// HistoricalPoint is one row of the get_historical_data tool's result.
type HistoricalPoint struct {
	Date   time.Time       `json:"date"`
	Open   decimal.Decimal `json:"open"`
	High   decimal.Decimal `json:"high"`
	Low    decimal.Decimal `json:"low"`
	Close  decimal.Decimal `json:"close"`
	Volume int64           `json:"volume"`
}

// CompanyInfo is the decoded result of the get_company_info tool.
type CompanyInfo struct {
	Ticker      string          `json:"ticker"`
	Name        string          `json:"name"`
	Sector      string          `json:"sector"`
	Industry    string          `json:"industry"`
	MarketCap   decimal.Decimal `json:"market_cap"`
	Description string          `json:"description"`
}

// FinancialMetrics is the decoded result of the get_financial_metrics tool.
type FinancialMetrics struct {
	Ticker           string          `json:"ticker"`
	PERatio          decimal.Decimal `json:"pe_ratio"`
	EPS              decimal.Decimal `json:"eps"`
	DividendYield    decimal.Decimal `json:"dividend_yield"`
	Beta             decimal.Decimal `json:"beta"`
	FiftyTwoWeekHigh decimal.Decimal `json:"fifty_two_week_high"`
	FiftyTwoWeekLow  decimal.Decimal `json:"fifty_two_week_low"`
}

// SearchResult is one row of the search_stocks tool's result, re-ranked by
// relevance in the service before being returned to callers.
type SearchResult struct {
	Ticker         string  `json:"ticker"`
	CompanyName    string  `json:"company_name"`
	Exchange       string  `json:"exchange"`
	RelevanceScore float64 `json:"relevance_score"`
}

// field looks up the first present, non-null key among keys in a decoded
// JSON object — the mechanism behind every snake_case/camelCase alias pair
// the downstream tool servers may use.
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

func asTime(m map[string]any, keys ...string) time.Time {
	s := asString(m, keys...)
	if s == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t
	}
	return time.Time{}
}

func decodeObject(data json.RawMessage) (map[string]any, error) {
	var m map[string]any
	dec := json.NewDecoder(bytesReader(data))
	dec.UseNumber()
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("decode object: %w", err)
	}
	return m, nil
}

func decodeArray(data json.RawMessage) ([]map[string]any, error) {
	var arr []map[string]any
	dec := json.NewDecoder(bytesReader(data))
	dec.UseNumber()
	if err := dec.Decode(&arr); err != nil {
		return nil, fmt.Errorf("decode array: %w", err)
	}
	return arr, nil
}

// decodeStockPrice translates a get_stock_price payload, accepting either
// change_percent or changePercent.
func decodeStockPrice(data json.RawMessage) (Price, error) {
	m, err := decodeObject(data)
	if err != nil {
		return Price{}, err
	}
	return Price{
		Ticker:        asString(m, "ticker"),
		Price:         asDecimal(m, "price"),
		Change:        asDecimal(m, "change"),
		ChangePercent: asDecimal(m, "change_percent", "changePercent"),
		Volume:        asInt64(m, "volume"),
		Timestamp:     asTime(m, "timestamp"),
	}, nil
}

// decodeHistorical translates a get_historical_data payload.
func decodeHistorical(data json.RawMessage) ([]HistoricalPoint, error) {
	arr, err := decodeArray(data)
	if err != nil {
		return nil, err
	}
	out := make([]HistoricalPoint, 0, len(arr))
	for _, m := range arr {
		out = append(out, HistoricalPoint{
			Date:   asTime(m, "date"),
			Open:   asDecimal(m, "open"),
			High:   asDecimal(m, "high"),
			Low:    asDecimal(m, "low"),
			Close:  asDecimal(m, "close"),
			Volume: asInt64(m, "volume"),
		})
	}
	return out, nil
}

// decodeCompanyInfo translates a get_company_info payload.
func decodeCompanyInfo(data json.RawMessage) (CompanyInfo, error) {
	m, err := decodeObject(data)
	if err != nil {
		return CompanyInfo{}, err
	}
	return CompanyInfo{
		Ticker:      asString(m, "ticker"),
		Name:        asString(m, "name"),
		Sector:      asString(m, "sector"),
		Industry:    asString(m, "industry"),
		MarketCap:   asDecimal(m, "market_cap", "marketCap"),
		Description: asString(m, "description"),
	}, nil
}

// decodeFinancialMetrics translates a get_financial_metrics payload.
func decodeFinancialMetrics(data json.RawMessage) (FinancialMetrics, error) {
	m, err := decodeObject(data)
	if err != nil {
		return FinancialMetrics{}, err
	}
	return FinancialMetrics{
		Ticker:           asString(m, "ticker"),
		PERatio:          asDecimal(m, "pe_ratio", "peRatio"),
		EPS:              asDecimal(m, "eps"),
		DividendYield:    asDecimal(m, "dividend_yield", "dividendYield"),
		Beta:             asDecimal(m, "beta"),
		FiftyTwoWeekHigh: asDecimal(m, "fifty_two_week_high", "fiftyTwoWeekHigh"),
		FiftyTwoWeekLow:  asDecimal(m, "fifty_two_week_low", "fiftyTwoWeekLow"),
	}, nil
}

// decodeSearchResult translates a search_stocks payload. RelevanceScore is
// left zero; the caller re-ranks it.
func decodeSearchResult(data json.RawMessage) ([]SearchResult, error) {
	arr, err := decodeArray(data)
	if err != nil {
		return nil, err
	}
	out := make([]SearchResult, 0, len(arr))
	for _, m := range arr {
		out = append(out, SearchResult{
			Ticker:      asString(m, "ticker"),
			CompanyName: asString(m, "company_name", "companyName"),
			Exchange:    asString(m, "exchange"),
		})
	}
	return out, nil
}
