package portfolio

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mclima/stock-intel-service/internal/domain"
)

type fakeRepo struct {
	portfolios map[string]domain.Portfolio // keyed by userID
	positions  map[string]domain.StockPosition
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{portfolios: map[string]domain.Portfolio{}, positions: map[string]domain.StockPosition{}}
}

func (r *fakeRepo) GetOrCreateByUserID(_ context.Context, userID string) (domain.Portfolio, error) {
	if pf, ok := r.portfolios[userID]; ok {
		return pf, nil
	}
	pf := domain.Portfolio{ID: uuid.New().String(), UserID: userID, CreatedAt: time.Now()}
	r.portfolios[userID] = pf
	return pf, nil
}

func (r *fakeRepo) AddPosition(_ context.Context, portfolioID string, p domain.StockPosition) (string, error) {
	id := uuid.New().String()
	p.ID = id
	p.PortfolioID = portfolioID
	r.positions[id] = p
	return id, nil
}

func (r *fakeRepo) UpdatePosition(_ context.Context, p domain.StockPosition) error {
	if _, ok := r.positions[p.ID]; !ok {
		return domain.ErrNotFound
	}
	r.positions[p.ID] = p
	return nil
}

func (r *fakeRepo) DeletePosition(_ context.Context, positionID string) error {
	if _, ok := r.positions[positionID]; !ok {
		return domain.ErrNotFound
	}
	delete(r.positions, positionID)
	return nil
}

func (r *fakeRepo) GetPosition(_ context.Context, positionID string) (domain.StockPosition, error) {
	p, ok := r.positions[positionID]
	if !ok {
		return domain.StockPosition{}, domain.ErrNotFound
	}
	return p, nil
}

func (r *fakeRepo) ListPositions(_ context.Context, portfolioID string) ([]domain.StockPosition, error) {
	var out []domain.StockPosition
	for _, p := range r.positions {
		if p.PortfolioID == portfolioID {
			out = append(out, p)
		}
	}
	return out, nil
}

var _ domain.PortfolioRepository = (*fakeRepo)(nil)

func TestAddPosition_UppercasesTickerAndValidates(t *testing.T) {
	svc := New(newFakeRepo())
	p, err := svc.AddPosition(context.Background(), "user-1", domain.StockPosition{
		Ticker: "aapl", Quantity: decimal.NewFromInt(10), PurchasePrice: decimal.NewFromInt(150), PurchaseDate: time.Now().AddDate(0, 0, -5),
	})
	require.NoError(t, err)
	assert.Equal(t, "AAPL", p.Ticker)
	assert.NotEmpty(t, p.ID)
}

func TestAddPosition_RejectsInvalidTicker(t *testing.T) {
	svc := New(newFakeRepo())
	_, err := svc.AddPosition(context.Background(), "user-1", domain.StockPosition{
		Ticker: "toolongticker", Quantity: decimal.NewFromInt(1), PurchasePrice: decimal.NewFromInt(1), PurchaseDate: time.Now(),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestAddPosition_RejectsNonPositiveQuantity(t *testing.T) {
	svc := New(newFakeRepo())
	_, err := svc.AddPosition(context.Background(), "user-1", domain.StockPosition{
		Ticker: "AAPL", Quantity: decimal.Zero, PurchasePrice: decimal.NewFromInt(1), PurchaseDate: time.Now(),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestUpdatePosition_RejectsCrossUserOwnership(t *testing.T) {
	svc := New(newFakeRepo())
	ctx := context.Background()
	p, err := svc.AddPosition(ctx, "user-1", domain.StockPosition{
		Ticker: "AAPL", Quantity: decimal.NewFromInt(10), PurchasePrice: decimal.NewFromInt(100), PurchaseDate: time.Now(),
	})
	require.NoError(t, err)

	p.Quantity = decimal.NewFromInt(20)
	err = svc.UpdatePosition(ctx, "user-2", p)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDeletePosition_RemovesOwnedPosition(t *testing.T) {
	svc := New(newFakeRepo())
	ctx := context.Background()
	p, err := svc.AddPosition(ctx, "user-1", domain.StockPosition{
		Ticker: "MSFT", Quantity: decimal.NewFromInt(5), PurchasePrice: decimal.NewFromInt(300), PurchaseDate: time.Now(),
	})
	require.NoError(t, err)

	require.NoError(t, svc.DeletePosition(ctx, "user-1", p.ID))
	_, err = svc.repo.GetPosition(ctx, p.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestExportImportCSV_RoundTrips(t *testing.T) {
	svc := New(newFakeRepo())
	ctx := context.Background()
	_, err := svc.AddPosition(ctx, "user-1", domain.StockPosition{
		Ticker: "AAPL", Quantity: decimal.NewFromInt(10), PurchasePrice: decimal.NewFromFloat(150.25), PurchaseDate: time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	var buf strings.Builder
	require.NoError(t, svc.ExportCSV(ctx, "user-1", &buf))
	assert.Contains(t, buf.String(), "AAPL")
	assert.Contains(t, buf.String(), "150.25")

	imported, errs := svc.ImportCSV(ctx, "user-2", strings.NewReader(buf.String()))
	assert.Empty(t, errs)
	assert.Equal(t, 1, imported)

	_, positions, err := svc.GetPortfolio(ctx, "user-2")
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, "AAPL", positions[0].Ticker)
}

func TestImportCSV_AccumulatesPerRowErrors(t *testing.T) {
	svc := New(newFakeRepo())
	csvData := "ticker,quantity,purchase_price,purchase_date\n" +
		"AAPL,10,150.00,2025-01-15\n" +
		"BADTICKERTOOLONG,5,100.00,2025-01-10\n" +
		"MSFT,not-a-number,300.00,2025-01-12\n"

	imported, errs := svc.ImportCSV(context.Background(), "user-1", strings.NewReader(csvData))
	assert.Equal(t, 1, imported)
	require.Len(t, errs, 2)
	assert.Equal(t, 2, errs[0].Row)
	assert.Equal(t, 3, errs[1].Row)
}

func TestImportCSV_MissingRequiredColumn(t *testing.T) {
	svc := New(newFakeRepo())
	imported, errs := svc.ImportCSV(context.Background(), "user-1", strings.NewReader("ticker,quantity\nAAPL,10\n"))
	assert.Equal(t, 0, imported)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Message, "purchase_price")
}
