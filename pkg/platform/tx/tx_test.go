package tx

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecutorFrom(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	assert.Equal(t, Executor(db), ExecutorFrom(ctx, db))

	mock.ExpectBegin()
	sqlTx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)

	txCtx := WithTx(ctx, sqlTx)
	got, ok := From(txCtx)
	require.True(t, ok)
	assert.Same(t, sqlTx, got)
	assert.Equal(t, Executor(sqlTx), ExecutorFrom(txCtx, db))

	assert.Equal(t, ctx, WithTx(ctx, nil))

	mock.ExpectRollback()
	require.NoError(t, sqlTx.Rollback())
	require.NoError(t, mock.ExpectationsWereMet())
}
