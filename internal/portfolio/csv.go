package portfolio

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mclima/stock-intel-service/internal/domain"
)

var csvHeader = []string{"ticker", "quantity", "purchase_price", "purchase_date", "position_id"}

// RowError records a single failed row during ImportCSV; the row number is
// 1-indexed over the data rows (the header itself is never counted).
type RowError struct {
	Row     int
	Message string
}

func (e RowError) Error() string { return fmt.Sprintf("row %d: %s", e.Row, e.Message) }

// ExportCSV writes userID's positions to w in the same column layout
// import_portfolio/export_portfolio of the original service use: ticker,
// quantity, purchase_price, purchase_date, position_id.
func (s *Service) ExportCSV(ctx context.Context, userID string, w io.Writer) error {
	_, positions, err := s.GetPortfolio(ctx, userID)
	if err != nil {
		return fmt.Errorf("op=portfolio.ExportCSV: %w", err)
	}

	out := csv.NewWriter(w)
	if err := out.Write(csvHeader); err != nil {
		return fmt.Errorf("op=portfolio.ExportCSV: %w", err)
	}
	for _, p := range positions {
		row := []string{
			p.Ticker,
			p.Quantity.String(),
			p.PurchasePrice.String(),
			p.PurchaseDate.Format("2006-01-02"),
			p.ID,
		}
		if err := out.Write(row); err != nil {
			return fmt.Errorf("op=portfolio.ExportCSV: %w", err)
		}
	}
	out.Flush()
	if err := out.Error(); err != nil {
		return fmt.Errorf("op=portfolio.ExportCSV: %w", err)
	}
	return nil
}

// ImportCSV reads rows of {ticker, quantity, purchase_price, purchase_date}
// from r and inserts a position per valid row. Each row is independent: a
// malformed or rejected row is recorded in errs and importing continues
// with the remaining rows, rather than aborting the whole import.
func (s *Service) ImportCSV(ctx context.Context, userID string, r io.Reader) (imported int, errs []RowError) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return 0, []RowError{{Row: 0, Message: "failed to read header: " + err.Error()}}
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, required := range []string{"ticker", "quantity", "purchase_price", "purchase_date"} {
		if _, ok := col[required]; !ok {
			return 0, []RowError{{Row: 0, Message: "missing required column: " + required}}
		}
	}

	rowNum := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		rowNum++
		if err != nil {
			errs = append(errs, RowError{Row: rowNum, Message: err.Error()})
			continue
		}

		p, perr := parseRow(record, col)
		if perr != nil {
			errs = append(errs, RowError{Row: rowNum, Message: perr.Error()})
			continue
		}

		if _, err := s.AddPosition(ctx, userID, p); err != nil {
			errs = append(errs, RowError{Row: rowNum, Message: err.Error()})
			continue
		}
		imported++
	}
	return imported, errs
}

func parseRow(record []string, col map[string]int) (domain.StockPosition, error) {
	get := func(name string) string {
		if i, ok := col[name]; ok && i < len(record) {
			return strings.TrimSpace(record[i])
		}
		return ""
	}

	ticker := get("ticker")
	if ticker == "" {
		return domain.StockPosition{}, fmt.Errorf("ticker is required")
	}

	quantity, err := decimal.NewFromString(get("quantity"))
	if err != nil {
		return domain.StockPosition{}, fmt.Errorf("invalid quantity: %w", err)
	}

	purchasePrice, err := decimal.NewFromString(get("purchase_price"))
	if err != nil {
		return domain.StockPosition{}, fmt.Errorf("invalid purchase_price: %w", err)
	}

	purchaseDate, err := time.Parse("2006-01-02", get("purchase_date"))
	if err != nil {
		return domain.StockPosition{}, fmt.Errorf("invalid purchase_date: %w", err)
	}

	return domain.StockPosition{
		Ticker:        ticker,
		Quantity:      quantity,
		PurchasePrice: purchasePrice,
		PurchaseDate:  purchaseDate,
	}, nil
}
