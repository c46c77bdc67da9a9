package db

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func upsertConfig() UpsertConfig {
	return UpsertConfig{
		Table:        "current_products",
		Columns:      []string{"business_key", "product_id", "aer_rate"},
		ConflictKeys: []string{"business_key"},
	}
}

func TestBulkUpsert(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE _tmp_upsert_current_products`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_current_products"},
		[]string{"business_key", "product_id", "aer_rate"}).
		WillReturnResult(2)
	mock.ExpectExec(`INSERT INTO current_products`).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()

	n, err := BulkUpsert(context.Background(), mock, upsertConfig(), [][]any{
		{"SANTANDER|easy_access|4.5", "p1", "4.5"},
		{"BARCLAYS|easy_access|4.2", "p2", "4.2"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkUpsertEmptyRowsIsNoOp(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	n, err := BulkUpsert(context.Background(), mock, upsertConfig(), nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkUpsertRequiresColumnsAndKeys(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	rows := [][]any{{"k", "p1", "4.5"}}

	cfg := upsertConfig()
	cfg.Columns = nil
	_, err = BulkUpsert(context.Background(), mock, cfg, rows)
	require.Error(t, err)

	cfg = upsertConfig()
	cfg.ConflictKeys = nil
	_, err = BulkUpsert(context.Background(), mock, cfg, rows)
	require.Error(t, err)
}

func TestBulkUpsertMergeFailureRollsBack(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE`).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_current_products"},
		[]string{"business_key", "product_id", "aer_rate"}).
		WillReturnResult(1)
	mock.ExpectExec(`INSERT INTO current_products`).
		WillReturnError(assert.AnError)
	mock.ExpectRollback()

	_, err = BulkUpsert(context.Background(), mock, upsertConfig(), [][]any{{"k", "p1", "4.5"}})
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
