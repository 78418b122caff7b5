package driver

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestIsRetryableError(t *testing.T) {
	t.Run("serialization failure", func(t *testing.T) {
		err := fmt.Errorf("reserve stock: %w", &pgconn.PgError{Code: "40001"})
		assert.True(t, IsRetryableError(err))
	})

	t.Run("deadlock", func(t *testing.T) {
		assert.True(t, IsRetryableError(&pgconn.PgError{Code: "40P01"}))
	})

	t.Run("unique violation", func(t *testing.T) {
		assert.False(t, IsRetryableError(&pgconn.PgError{Code: "23505"}))
	})

	t.Run("plain error", func(t *testing.T) {
		assert.False(t, IsRetryableError(errors.New("boom")))
	})
}

func TestUse_NilPool(t *testing.T) {
	assert.Nil(t, Use(nil, nil))
}

// stubTx records how the transaction ended. Unused pgx.Tx methods panic
// through the nil embedded interface.
type stubTx struct {
	pgx.Tx
	commitErr  error
	committed  bool
	rolledBack bool
}

func (s *stubTx) Commit(context.Context) error {
	if s.commitErr != nil {
		return s.commitErr
	}
	s.committed = true
	return nil
}

func (s *stubTx) Rollback(context.Context) error {
	s.rolledBack = true
	return nil
}

type stubPool struct {
	PostgresPool
	tx *stubTx
}

func (p *stubPool) BeginTx(context.Context, pgx.TxOptions) (pgx.Tx, error) {
	return p.tx, nil
}

func TestAfterCommit(t *testing.T) {
	ctx := context.Background()

	t.Run("runs after commit", func(t *testing.T) {
		tx := &stubTx{}
		tm := NewTransactionManager(&stubPool{tx: tx}, zap.NewNop())

		var ran bool
		err := tm.ExecuteTransaction(ctx, func(tx pgx.Tx) error {
			AfterCommit(tx, func() {
				ran = true
			})
			assert.False(t, ran)
			return nil
		})
		require.NoError(t, err)
		assert.True(t, ran)
		assert.True(t, tx.committed)
	})

	t.Run("dropped on rollback", func(t *testing.T) {
		tx := &stubTx{}
		tm := NewTransactionManager(&stubPool{tx: tx}, zap.NewNop())

		var ran bool
		err := tm.ExecuteTransaction(ctx, func(tx pgx.Tx) error {
			AfterCommit(tx, func() { ran = true })
			return errors.New("insufficient stock")
		})
		require.Error(t, err)
		assert.True(t, tx.rolledBack)
		assert.False(t, ran)
	})

	t.Run("dropped when commit fails", func(t *testing.T) {
		tx := &stubTx{commitErr: errors.New("connection reset")}
		tm := NewTransactionManager(&stubPool{tx: tx}, zap.NewNop())

		var ran bool
		err := tm.ExecuteTransaction(ctx, func(tx pgx.Tx) error {
			AfterCommit(tx, func() { ran = true })
			return nil
		})
		require.Error(t, err)
		assert.False(t, ran)
	})

	t.Run("no transaction runs immediately", func(t *testing.T) {
		var ran bool
		AfterCommit(nil, func() { ran = true })
		assert.True(t, ran)
	})
}
