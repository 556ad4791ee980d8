// Package mocks provides lightweight testify-based fakes for pgx interfaces
// that are awkward to stand up against a real connection in unit tests.
package mocks

import "github.com/stretchr/testify/mock"

// MockRow fakes pgx.Row for tests that only need to control Scan's outcome.
type MockRow struct {
	mock.Mock
}

// Scan implements pgx.Row.
func (r *MockRow) Scan(dest ...any) error {
	args := r.Called(dest)
	return args.Error(0)
}
