// Package postgres provides PostgreSQL database adapters.
//
// It implements repository interfaces for data persistence.
// The package provides type-safe database operations with
// connection pooling and transaction support.
package postgres

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/mclima/stock-intel-service/internal/domain"
)

// PortfolioRepo persists and loads portfolios and positions using a minimal
// pgx pool. Each user owns at most one portfolio, created lazily.
type PortfolioRepo struct{ Pool PgxPool }

// NewPortfolioRepo constructs a PortfolioRepo with the given pool.
func NewPortfolioRepo(p PgxPool) *PortfolioRepo { return &PortfolioRepo{Pool: p} }

// GetOrCreateByUserID returns userID's portfolio, creating one with explicit
// transaction management if none exists yet.
func (r *PortfolioRepo) GetOrCreateByUserID(ctx domain.Context, userID string) (domain.Portfolio, error) {
	tracer := otel.Tracer("repo.portfolios")
	ctx, span := tracer.Start(ctx, "portfolios.GetOrCreateByUserID")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "portfolios"),
	)

	q := `SELECT id, user_id, created_at FROM portfolios WHERE user_id=$1`
	row := r.Pool.QueryRow(ctx, q, userID)
	var p domain.Portfolio
	err := row.Scan(&p.ID, &p.UserID, &p.CreatedAt)
	if err == nil {
		return p, nil
	}
	if err != pgx.ErrNoRows {
		return domain.Portfolio{}, fmt.Errorf("op=portfolio.get_or_create.select: %w", err)
	}

	tx, err := r.Pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return domain.Portfolio{}, fmt.Errorf("op=portfolio.get_or_create.begin_tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	id := uuid.New().String()
	createdAt := time.Now().UTC()
	insert := `INSERT INTO portfolios (id, user_id, created_at) VALUES ($1,$2,$3) ON CONFLICT (user_id) DO NOTHING`
	if _, err := tx.Exec(ctx, insert, id, userID, createdAt); err != nil {
		return domain.Portfolio{}, fmt.Errorf("op=portfolio.get_or_create.insert: %w", err)
	}

	row = tx.QueryRow(ctx, q, userID)
	if err := row.Scan(&p.ID, &p.UserID, &p.CreatedAt); err != nil {
		return domain.Portfolio{}, fmt.Errorf("op=portfolio.get_or_create.reselect: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Portfolio{}, fmt.Errorf("op=portfolio.get_or_create.commit: %w", err)
	}
	committed = true
	return p, nil
}

// AddPosition inserts a StockPosition under portfolioID and returns its id.
// Ticker is upper-cased per the domain invariant.
func (r *PortfolioRepo) AddPosition(ctx domain.Context, portfolioID string, p domain.StockPosition) (string, error) {
	tracer := otel.Tracer("repo.portfolios")
	ctx, span := tracer.Start(ctx, "portfolios.AddPosition")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.sql.table", "stock_positions"),
	)
	id := p.ID
	if id == "" {
		id = uuid.New().String()
	}
	now := time.Now().UTC()
	q := `INSERT INTO stock_positions (id, portfolio_id, ticker, quantity, purchase_price, purchase_date, created_at, updated_at)
	      VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`
	_, err := r.Pool.Exec(ctx, q, id, portfolioID, strings.ToUpper(p.Ticker), p.Quantity, p.PurchasePrice, p.PurchaseDate, now, now)
	if err != nil {
		return "", fmt.Errorf("op=portfolio.add_position: %w", err)
	}
	return id, nil
}

// UpdatePosition overwrites quantity/purchase fields for an existing position.
func (r *PortfolioRepo) UpdatePosition(ctx domain.Context, p domain.StockPosition) error {
	tracer := otel.Tracer("repo.portfolios")
	ctx, span := tracer.Start(ctx, "portfolios.UpdatePosition")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "UPDATE"),
		attribute.String("db.sql.table", "stock_positions"),
	)
	q := `UPDATE stock_positions SET ticker=$2, quantity=$3, purchase_price=$4, purchase_date=$5, updated_at=$6 WHERE id=$1`
	tag, err := r.Pool.Exec(ctx, q, p.ID, strings.ToUpper(p.Ticker), p.Quantity, p.PurchasePrice, p.PurchaseDate, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("op=portfolio.update_position: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=portfolio.update_position: %w", domain.ErrNotFound)
	}
	return nil
}

// DeletePosition removes a position by id.
func (r *PortfolioRepo) DeletePosition(ctx domain.Context, positionID string) error {
	tracer := otel.Tracer("repo.portfolios")
	ctx, span := tracer.Start(ctx, "portfolios.DeletePosition")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "DELETE"),
		attribute.String("db.sql.table", "stock_positions"),
	)
	q := `DELETE FROM stock_positions WHERE id=$1`
	tag, err := r.Pool.Exec(ctx, q, positionID)
	if err != nil {
		return fmt.Errorf("op=portfolio.delete_position: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=portfolio.delete_position: %w", domain.ErrNotFound)
	}
	return nil
}

// GetPosition loads a single position by id.
func (r *PortfolioRepo) GetPosition(ctx domain.Context, positionID string) (domain.StockPosition, error) {
	tracer := otel.Tracer("repo.portfolios")
	ctx, span := tracer.Start(ctx, "portfolios.GetPosition")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "stock_positions"),
	)
	q := `SELECT id, portfolio_id, ticker, quantity, purchase_price, purchase_date, created_at, updated_at FROM stock_positions WHERE id=$1`
	row := r.Pool.QueryRow(ctx, q, positionID)
	var p domain.StockPosition
	if err := row.Scan(&p.ID, &p.PortfolioID, &p.Ticker, &p.Quantity, &p.PurchasePrice, &p.PurchaseDate, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return domain.StockPosition{}, fmt.Errorf("op=portfolio.get_position: %w", domain.ErrNotFound)
		}
		return domain.StockPosition{}, fmt.Errorf("op=portfolio.get_position: %w", err)
	}
	return p, nil
}

// ListPositions returns every position under portfolioID, oldest first.
func (r *PortfolioRepo) ListPositions(ctx domain.Context, portfolioID string) ([]domain.StockPosition, error) {
	tracer := otel.Tracer("repo.portfolios")
	ctx, span := tracer.Start(ctx, "portfolios.ListPositions")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "stock_positions"),
	)
	q := `SELECT id, portfolio_id, ticker, quantity, purchase_price, purchase_date, created_at, updated_at
	      FROM stock_positions WHERE portfolio_id=$1 ORDER BY created_at ASC`
	rows, err := r.Pool.Query(ctx, q, portfolioID)
	if err != nil {
		return nil, fmt.Errorf("op=portfolio.list_positions: %w", err)
	}
	defer rows.Close()

	var positions []domain.StockPosition
	for rows.Next() {
		var p domain.StockPosition
		if err := rows.Scan(&p.ID, &p.PortfolioID, &p.Ticker, &p.Quantity, &p.PurchasePrice, &p.PurchaseDate, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("op=portfolio.list_positions_scan: %w", err)
		}
		positions = append(positions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=portfolio.list_positions_rows: %w", err)
	}
	return positions, nil
}

var _ domain.PortfolioRepository = (*PortfolioRepo)(nil)
