package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rateledger/deposits-cli/internal/model"
)

func newMockPostgres(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return &PostgresStore{pool: mock}, mock
}

func TestPostgresCountByPartition(t *testing.T) {
	st, mock := newMockPostgres(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM raw_products WHERE source = \$1 AND method = \$2`).
		WithArgs("moneyfacts", "easy_access").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(3))

	n, err := st.CountByPartition(context.Background(), "moneyfacts", "easy_access")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresReplacePartition(t *testing.T) {
	st, mock := newMockPostgres(t)

	products := []model.Product{
		testProduct("mf-1", "Santander UK", 4.5),
		testProduct("mf-2", "Barclays", 4.2),
	}

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM raw_products WHERE source = \$1 AND method = \$2`).
		WithArgs("moneyfacts", "easy_access").
		WillReturnResult(pgxmock.NewResult("DELETE", 5))
	mock.ExpectCopyFrom(pgx.Identifier{"raw_products"}, rawProductColumns).
		WillReturnResult(2)
	mock.ExpectCommit()

	err := st.ReplacePartition(context.Background(), "moneyfacts", "easy_access", "batch-1", products)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresReplacePartitionEmptySkipsCopy(t *testing.T) {
	st, mock := newMockPostgres(t)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM raw_products`).
		WithArgs("moneyfacts", "easy_access").
		WillReturnResult(pgxmock.NewResult("DELETE", 2))
	mock.ExpectCommit()

	err := st.ReplacePartition(context.Background(), "moneyfacts", "easy_access", "batch-1", nil)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSetFRN(t *testing.T) {
	st, mock := newMockPostgres(t)

	frn := "106054"
	mock.ExpectExec(`UPDATE raw_products SET frn = \$1, confidence = \$2 WHERE id = \$3`).
		WithArgs(&frn, 0.95, "p1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, st.SetFRN(context.Background(), "p1", &frn, 0.95))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSetFRNUnknownProduct(t *testing.T) {
	st, mock := newMockPostgres(t)

	mock.ExpectExec(`UPDATE raw_products`).
		WithArgs((*string)(nil), 0.0, "nope").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := st.SetFRN(context.Background(), "nope", nil, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "product not found")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRawDedupAuditAbsent(t *testing.T) {
	st, mock := newMockPostgres(t)

	mock.ExpectQuery(`FROM dedup_audit WHERE batch_id = \$1`).
		WithArgs("no-such-batch").
		WillReturnError(pgx.ErrNoRows)

	raw, err := st.RawDedupAudit(context.Background(), "no-such-batch")
	require.NoError(t, err)
	assert.Nil(t, raw)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresPartitionCombinations(t *testing.T) {
	st, mock := newMockPostgres(t)

	mock.ExpectQuery(`SELECT source, method, COUNT\(\*\) FROM raw_products GROUP BY source, method`).
		WillReturnRows(pgxmock.NewRows([]string{"source", "method", "count"}).
			AddRow("moneyfacts", "easy_access", 2).
			AddRow("moneysavingexpert", "easy_access", 1))

	combos, err := st.PartitionCombinations(context.Background())
	require.NoError(t, err)
	require.Len(t, combos, 2)
	assert.Equal(t, model.PartitionCount{Source: "moneyfacts", Method: "easy_access", Count: 2}, combos[0])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresResearchQueueAllBatches(t *testing.T) {
	st, mock := newMockPostgres(t)

	now := time.Now().UTC()
	mock.ExpectQuery(`SELECT id, batch_id, product_id, bank_name, normalized_name, candidates, created_at FROM research_queue ORDER BY created_at, id`).
		WillReturnRows(pgxmock.NewRows([]string{"id", "batch_id", "product_id", "bank_name", "normalized_name", "candidates", "created_at"}).
			AddRow("r1", "batch-1", "p1", "Obscure Savings", "OBSCURE SAVINGS", []byte(`[]`), now))

	entries, err := st.ResearchQueue(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "Obscure Savings", entries[0].BankName)
	require.NoError(t, mock.ExpectationsWereMet())
}
