package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mclima/stock-intel-service/internal/adapter/repo/postgres"
	"github.com/mclima/stock-intel-service/internal/domain"
)

func TestUserRepo_Create_GetByID_GetByEmail(t *testing.T) {
	t.Parallel()
	m, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer m.Close()
	repo := postgres.NewUserRepo(m)
	ctx := context.Background()

	m.ExpectExec("INSERT INTO users").
		WithArgs(pgxmock.AnyArg(), "user@example.com", "hash", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	id, err := repo.Create(ctx, domain.User{Email: "user@example.com", PasswordHash: "hash"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	fixed := time.Now().UTC()
	rows := pgxmock.NewRows([]string{"id", "email", "password_hash", "created_at"}).
		AddRow(id, "user@example.com", "hash", fixed)
	m.ExpectQuery(`SELECT id, email, password_hash, created_at FROM users WHERE id=\$1`).
		WithArgs(id).WillReturnRows(rows)
	u, err := repo.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "user@example.com", u.Email)

	m.ExpectQuery(`SELECT id, email, password_hash, created_at FROM users WHERE id=\$1`).
		WithArgs("missing").WillReturnError(pgx.ErrNoRows)
	_, err = repo.GetByID(ctx, "missing")
	require.ErrorIs(t, err, domain.ErrNotFound)

	rows2 := pgxmock.NewRows([]string{"id", "email", "password_hash", "created_at"}).
		AddRow(id, "user@example.com", "hash", fixed)
	m.ExpectQuery(`SELECT id, email, password_hash, created_at FROM users WHERE email=\$1`).
		WithArgs("user@example.com").WillReturnRows(rows2)
	u2, err := repo.GetByEmail(ctx, "user@example.com")
	require.NoError(t, err)
	assert.Equal(t, id, u2.ID)

	require.NoError(t, m.ExpectationsWereMet())
}
