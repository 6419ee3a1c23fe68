package service

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockExpiryPolicy — мок repository.ExpiryPolicy.
type mockExpiryPolicy struct {
	ensureFn func(ctx context.Context) error
	calls    int
}

func (m *mockExpiryPolicy) EnsureExpiry(ctx context.Context) error {
	m.calls++
	if m.ensureFn != nil {
		return m.ensureFn(ctx)
	}
	return nil
}

func TestEnsureExpiry(t *testing.T) {
	policy := &mockExpiryPolicy{}

	require.NoError(t, EnsureExpiry(context.Background(), policy, true, slog.Default()))
	assert.Equal(t, 1, policy.calls)
}

func TestEnsureExpiry_Disabled(t *testing.T) {
	policy := &mockExpiryPolicy{
		ensureFn: func(context.Context) error { return errors.New("не должен вызываться") },
	}

	require.NoError(t, EnsureExpiry(context.Background(), policy, false, slog.Default()))
	assert.Zero(t, policy.calls)
}

func TestEnsureExpiry_Failure(t *testing.T) {
	cause := errors.New("extension \"pg_cron\" is not available")
	policy := &mockExpiryPolicy{
		ensureFn: func(context.Context) error { return cause },
	}

	err := EnsureExpiry(context.Background(), policy, true, slog.Default())
	require.ErrorIs(t, err, ErrInfrastructure)
	assert.ErrorIs(t, err, cause, "исходная ошибка потеряна")
}
