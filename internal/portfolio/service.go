// Package portfolio implements the PortfolioService component: position
// CRUD over a user's single Portfolio, plus CSV export/import.
package portfolio

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mclima/stock-intel-service/internal/domain"
)

var tickerPattern = regexp.MustCompile(`^[A-Z]{1,5}(\.[A-Z])?$`)

// Service implements the PortfolioService component wrapping
// domain.PortfolioRepository.
type Service struct {
	repo domain.PortfolioRepository
}

// New builds a Service.
func New(repo domain.PortfolioRepository) *Service {
	return &Service{repo: repo}
}

// GetPortfolio returns userID's portfolio and its positions, creating an
// empty portfolio on first access.
func (s *Service) GetPortfolio(ctx context.Context, userID string) (domain.Portfolio, []domain.StockPosition, error) {
	pf, err := s.repo.GetOrCreateByUserID(ctx, userID)
	if err != nil {
		return domain.Portfolio{}, nil, fmt.Errorf("op=portfolio.GetPortfolio: %w", err)
	}
	positions, err := s.repo.ListPositions(ctx, pf.ID)
	if err != nil {
		return domain.Portfolio{}, nil, fmt.Errorf("op=portfolio.GetPortfolio: %w", err)
	}
	return pf, positions, nil
}

// AddPosition validates and inserts a new position under userID's portfolio.
func (s *Service) AddPosition(ctx context.Context, userID string, p domain.StockPosition) (domain.StockPosition, error) {
	if err := validatePosition(p); err != nil {
		return domain.StockPosition{}, err
	}
	pf, err := s.repo.GetOrCreateByUserID(ctx, userID)
	if err != nil {
		return domain.StockPosition{}, fmt.Errorf("op=portfolio.AddPosition: %w", err)
	}
	p.Ticker = strings.ToUpper(strings.TrimSpace(p.Ticker))
	p.PortfolioID = pf.ID
	id, err := s.repo.AddPosition(ctx, pf.ID, p)
	if err != nil {
		return domain.StockPosition{}, fmt.Errorf("op=portfolio.AddPosition: %w", err)
	}
	p.ID = id
	return p, nil
}

// UpdatePosition validates and overwrites an existing position. Ownership is
// enforced by requiring the loaded position's portfolio to belong to userID.
func (s *Service) UpdatePosition(ctx context.Context, userID string, p domain.StockPosition) error {
	if err := validatePosition(p); err != nil {
		return err
	}
	if err := s.checkOwnership(ctx, userID, p.ID); err != nil {
		return err
	}
	p.Ticker = strings.ToUpper(strings.TrimSpace(p.Ticker))
	if err := s.repo.UpdatePosition(ctx, p); err != nil {
		return fmt.Errorf("op=portfolio.UpdatePosition: %w", err)
	}
	return nil
}

// DeletePosition removes positionID after confirming it belongs to userID.
func (s *Service) DeletePosition(ctx context.Context, userID, positionID string) error {
	if err := s.checkOwnership(ctx, userID, positionID); err != nil {
		return err
	}
	if err := s.repo.DeletePosition(ctx, positionID); err != nil {
		return fmt.Errorf("op=portfolio.DeletePosition: %w", err)
	}
	return nil
}

func (s *Service) checkOwnership(ctx context.Context, userID, positionID string) error {
	existing, err := s.repo.GetPosition(ctx, positionID)
	if err != nil {
		return fmt.Errorf("op=portfolio.checkOwnership: %w", err)
	}
	pf, err := s.repo.GetOrCreateByUserID(ctx, userID)
	if err != nil {
		return fmt.Errorf("op=portfolio.checkOwnership: %w", err)
	}
	if existing.PortfolioID != pf.ID {
		return domain.NewNotFoundError(fmt.Sprintf("op=portfolio.checkOwnership: position %s not found for user", positionID))
	}
	return nil
}

func validatePosition(p domain.StockPosition) error {
	ticker := strings.ToUpper(strings.TrimSpace(p.Ticker))
	if !tickerPattern.MatchString(ticker) {
		return domain.NewValidationError(fmt.Sprintf("op=portfolio.validatePosition: invalid ticker %q", p.Ticker))
	}
	if p.Quantity.LessThanOrEqual(decimal.Zero) {
		return domain.NewValidationError("op=portfolio.validatePosition: quantity must be positive")
	}
	if p.PurchasePrice.LessThan(decimal.Zero) {
		return domain.NewValidationError("op=portfolio.validatePosition: purchase_price must not be negative")
	}
	if p.PurchaseDate.After(time.Now().UTC().Add(24 * time.Hour)) {
		return domain.NewValidationError("op=portfolio.validatePosition: purchase_date in the future")
	}
	return nil
}
