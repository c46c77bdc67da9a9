package store

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"

	"github.com/rateledger/deposits-cli/internal/db"
	"github.com/rateledger/deposits-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool db.Pool
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}
	pgxCfg.MaxConns = 10
	pgxCfg.MinConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: new pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS raw_products (
	id           TEXT PRIMARY KEY,
	batch_id     TEXT NOT NULL,
	source       TEXT NOT NULL,
	method       TEXT NOT NULL,
	product_key  TEXT NOT NULL,
	bank_name    TEXT NOT NULL,
	product_name TEXT,
	account_type TEXT NOT NULL,
	platform     TEXT,
	aer_rate     NUMERIC NOT NULL,
	gross_rate   NUMERIC,
	min_deposit  NUMERIC,
	max_deposit  NUMERIC,
	term_months  INTEGER NOT NULL DEFAULT 0,
	notice_days  INTEGER NOT NULL DEFAULT 0,
	frn          TEXT,
	confidence   DOUBLE PRECISION NOT NULL DEFAULT 0,
	first_seen   TIMESTAMPTZ NOT NULL,
	last_updated TIMESTAMPTZ NOT NULL,
	raw          JSONB,
	UNIQUE(source, method, product_key)
);

CREATE TABLE IF NOT EXISTS current_products (
	business_key TEXT PRIMARY KEY,
	product_id   TEXT NOT NULL,
	batch_id     TEXT NOT NULL,
	source       TEXT NOT NULL,
	platform     TEXT,
	bank_name    TEXT NOT NULL,
	product_name TEXT,
	account_type TEXT NOT NULL,
	aer_rate     NUMERIC NOT NULL,
	frn          TEXT,
	confidence   DOUBLE PRECISION NOT NULL DEFAULT 0,
	updated_at   TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS ingestion_audit (
	id                    TEXT PRIMARY KEY,
	batch_id              TEXT NOT NULL,
	source                TEXT NOT NULL,
	method                TEXT NOT NULL,
	product_key           TEXT NOT NULL,
	validation_status     TEXT NOT NULL,
	validation_details    JSONB NOT NULL,
	rejection_reasons     JSONB NOT NULL,
	normalization_applied JSONB NOT NULL,
	created_at            TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS matching_audit (
	id                  TEXT PRIMARY KEY,
	batch_id            TEXT NOT NULL,
	product_id          TEXT NOT NULL,
	original_name       TEXT NOT NULL,
	normalized_name     TEXT NOT NULL,
	normalization_steps JSONB NOT NULL,
	candidate_frns      JSONB NOT NULL,
	decision_routing    TEXT NOT NULL,
	final_frn           TEXT,
	final_confidence    DOUBLE PRECISION NOT NULL DEFAULT 0,
	query_method        TEXT,
	processing_time_ms  BIGINT NOT NULL DEFAULT 0,
	created_at          TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS dedup_audit (
	id                   TEXT PRIMARY KEY,
	batch_id             TEXT NOT NULL UNIQUE,
	input_products_count INTEGER NOT NULL,
	business_key_fields  JSONB NOT NULL,
	quality_score_dist   JSONB NOT NULL,
	selection_criteria   JSONB NOT NULL,
	fscs_violations      JSONB NOT NULL,
	grouping_ms          BIGINT NOT NULL DEFAULT 0,
	scoring_ms           BIGINT NOT NULL DEFAULT 0,
	selection_ms         BIGINT NOT NULL DEFAULT 0,
	persistence_ms       BIGINT NOT NULL DEFAULT 0,
	processing_time_ms   BIGINT NOT NULL DEFAULT 0,
	created_at           TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS dedup_groups (
	id                  TEXT PRIMARY KEY,
	batch_id            TEXT NOT NULL,
	business_key        TEXT NOT NULL,
	products_in_group   INTEGER NOT NULL,
	selected_product_id TEXT NOT NULL,
	selected_platform   TEXT,
	selected_source     TEXT NOT NULL,
	selection_reason    TEXT NOT NULL,
	platforms           JSONB NOT NULL,
	sources             JSONB NOT NULL,
	quality_scores      JSONB NOT NULL,
	rejected_products   JSONB NOT NULL,
	created_at          TIMESTAMPTZ NOT NULL,
	UNIQUE(batch_id, business_key)
);

CREATE TABLE IF NOT EXISTS research_queue (
	id              TEXT PRIMARY KEY,
	batch_id        TEXT NOT NULL,
	product_id      TEXT NOT NULL,
	bank_name       TEXT NOT NULL,
	normalized_name TEXT NOT NULL,
	candidates      JSONB NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_raw_products_partition ON raw_products(source, method);
CREATE INDEX IF NOT EXISTS idx_raw_products_batch ON raw_products(batch_id);
CREATE INDEX IF NOT EXISTS idx_ingestion_audit_batch ON ingestion_audit(batch_id);
CREATE INDEX IF NOT EXISTS idx_matching_audit_batch ON matching_audit(batch_id);
CREATE INDEX IF NOT EXISTS idx_dedup_groups_batch ON dedup_groups(batch_id);
CREATE INDEX IF NOT EXISTS idx_research_queue_batch ON research_queue(batch_id);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

var rawProductColumns = []string{
	"id", "batch_id", "source", "method", "product_key", "bank_name", "product_name", "account_type", "platform",
	"aer_rate", "gross_rate", "min_deposit", "max_deposit", "term_months", "notice_days",
	"frn", "confidence", "first_seen", "last_updated", "raw",
}

// ReplacePartition deletes and reloads one (source, method) partition in a
// single transaction, using COPY for the reload.
func (s *PostgresStore) ReplacePartition(ctx context.Context, source, method, batchID string, products []model.Product) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin replace partition")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx,
		`DELETE FROM raw_products WHERE source = $1 AND method = $2`, source, method,
	); err != nil {
		return eris.Wrapf(err, "postgres: clear partition %s/%s", source, method)
	}

	rows := make([][]any, 0, len(products))
	for _, p := range products {
		id := p.ID
		if id == "" {
			id = uuid.New().String()
		}
		rows = append(rows, []any{
			id, batchID, source, method, p.ProductKey, p.BankName, p.ProductName, p.AccountType, p.Platform,
			p.AERRate.String(), nullDecimal(p.GrossRate), nullDecimal(p.MinDeposit), nullDecimal(p.MaxDeposit),
			p.TermMonths, p.NoticeDays, nil, 0.0, p.FirstSeen.UTC(), p.LastUpdated.UTC(), p.Raw,
		})
	}
	if _, err := db.CopyFrom(ctx, tx, "raw_products", rawProductColumns, rows); err != nil {
		return eris.Wrapf(err, "postgres: COPY partition %s/%s", source, method)
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: commit replace partition")
}

func (s *PostgresStore) CountByMethod(ctx context.Context, method string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM raw_products WHERE method = $1`, method,
	).Scan(&n)
	return n, eris.Wrapf(err, "postgres: count by method %s", method)
}

func (s *PostgresStore) CountByPartition(ctx context.Context, source, method string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM raw_products WHERE source = $1 AND method = $2`, source, method,
	).Scan(&n)
	return n, eris.Wrapf(err, "postgres: count partition %s/%s", source, method)
}

func (s *PostgresStore) PartitionCombinations(ctx context.Context) ([]model.PartitionCount, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT source, method, COUNT(*) FROM raw_products GROUP BY source, method ORDER BY source, method`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: partition combinations")
	}
	defer rows.Close()

	var out []model.PartitionCount
	for rows.Next() {
		var pc model.PartitionCount
		if err := rows.Scan(&pc.Source, &pc.Method, &pc.Count); err != nil {
			return nil, eris.Wrap(err, "postgres: scan partition combination")
		}
		out = append(out, pc)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate partition combinations")
}

func (s *PostgresStore) ProductsByBatch(ctx context.Context, batchID string) ([]model.EnrichedProduct, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, source, method, product_key, bank_name, product_name,
		account_type, platform, aer_rate::TEXT, gross_rate::TEXT, min_deposit::TEXT, max_deposit::TEXT,
		term_months, notice_days, frn, confidence, first_seen, last_updated
		FROM raw_products WHERE batch_id = $1 ORDER BY product_key`, batchID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: products by batch %s", batchID)
	}
	defer rows.Close()

	var out []model.EnrichedProduct
	for rows.Next() {
		var (
			p                     model.EnrichedProduct
			productName, platform *string
			rate                  string
			gross, minDep, maxDep *string
		)
		if err := rows.Scan(&p.ID, &p.Source, &p.Method, &p.ProductKey, &p.BankName, &productName,
			&p.AccountType, &platform, &rate, &gross, &minDep, &maxDep,
			&p.TermMonths, &p.NoticeDays, &p.FRN, &p.Confidence, &p.FirstSeen, &p.LastUpdated,
		); err != nil {
			return nil, eris.Wrap(err, "postgres: scan product")
		}
		if productName != nil {
			p.ProductName = *productName
		}
		if platform != nil {
			p.Platform = *platform
		}
		if p.AERRate, err = decimal.NewFromString(rate); err != nil {
			return nil, eris.Wrapf(err, "postgres: parse aer_rate %q", rate)
		}
		if p.GrossRate, err = parseDecimalPtr(gross); err != nil {
			return nil, err
		}
		if p.MinDeposit, err = parseDecimalPtr(minDep); err != nil {
			return nil, err
		}
		if p.MaxDeposit, err = parseDecimalPtr(maxDep); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate products")
}

func (s *PostgresStore) SetFRN(ctx context.Context, productID string, frn *string, confidence float64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE raw_products SET frn = $1, confidence = $2 WHERE id = $3`,
		frn, confidence, productID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: set frn for %s", productID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("postgres: product not found: %s", productID)
	}
	return nil
}

func (s *PostgresStore) UpsertCurrentProducts(ctx context.Context, winners []model.CurrentProduct) error {
	rows := make([][]any, 0, len(winners))
	for _, w := range winners {
		rows = append(rows, []any{
			w.BusinessKey, w.ProductID, w.BatchID, w.Source, w.Platform, w.BankName, w.ProductName,
			w.AccountType, w.AERRate.String(), w.FRN, w.Confidence, w.UpdatedAt.UTC(),
		})
	}
	_, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table: "current_products",
		Columns: []string{
			"business_key", "product_id", "batch_id", "source", "platform", "bank_name", "product_name",
			"account_type", "aer_rate", "frn", "confidence", "updated_at",
		},
		ConflictKeys: []string{"business_key"},
	}, rows)
	return err
}

func (s *PostgresStore) CurrentProducts(ctx context.Context) ([]model.CurrentProduct, error) {
	rows, err := s.pool.Query(ctx, `SELECT business_key, product_id, batch_id, source, platform,
		bank_name, product_name, account_type, aer_rate::TEXT, frn, confidence, updated_at
		FROM current_products ORDER BY business_key`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: current products")
	}
	defer rows.Close()

	var out []model.CurrentProduct
	for rows.Next() {
		var (
			w              model.CurrentProduct
			platform, name *string
			rate           string
		)
		if err := rows.Scan(&w.BusinessKey, &w.ProductID, &w.BatchID, &w.Source, &platform,
			&w.BankName, &name, &w.AccountType, &rate, &w.FRN, &w.Confidence, &w.UpdatedAt,
		); err != nil {
			return nil, eris.Wrap(err, "postgres: scan current product")
		}
		if platform != nil {
			w.Platform = *platform
		}
		if name != nil {
			w.ProductName = *name
		}
		if w.AERRate, err = decimal.NewFromString(rate); err != nil {
			return nil, eris.Wrapf(err, "postgres: parse rate %q", rate)
		}
		out = append(out, w)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate current products")
}

func (s *PostgresStore) InsertIngestionAudit(ctx context.Context, a model.IngestionAudit) error {
	details, err := marshalArray(a.ValidationDetails)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal validation details")
	}
	reasons, err := marshalArray(a.RejectionReasons)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal rejection reasons")
	}
	norm, err := marshalObject(a.NormalizationApplied)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal normalization")
	}

	id := a.ID
	if id == "" {
		id = uuid.New().String()
	}
	_, err = s.pool.Exec(ctx, `INSERT INTO ingestion_audit
		(id, batch_id, source, method, product_key, validation_status, validation_details, rejection_reasons, normalization_applied, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		id, a.BatchID, a.Source, a.Method, a.ProductKey, string(a.ValidationStatus),
		details, reasons, norm, timeOrNow(a.CreatedAt),
	)
	return eris.Wrap(err, "postgres: insert ingestion audit")
}

func (s *PostgresStore) InsertMatchingAudit(ctx context.Context, a model.MatchingAudit) error {
	steps, err := marshalArray(a.NormalizationSteps)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal normalization steps")
	}
	candidates, err := marshalArray(a.CandidateFRNs)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal candidates")
	}

	id := a.ID
	if id == "" {
		id = uuid.New().String()
	}
	_, err = s.pool.Exec(ctx, `INSERT INTO matching_audit
		(id, batch_id, product_id, original_name, normalized_name, normalization_steps, candidate_frns,
		 decision_routing, final_frn, final_confidence, query_method, processing_time_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		id, a.BatchID, a.ProductID, a.OriginalName, a.NormalizedName, steps, candidates,
		string(a.DecisionRouting), a.FinalFRN, a.FinalConfidence, string(a.QueryMethod), a.ProcessingTimeMS,
		timeOrNow(a.CreatedAt),
	)
	return eris.Wrap(err, "postgres: insert matching audit")
}

func (s *PostgresStore) InsertDedupAudit(ctx context.Context, a model.DedupAudit) error {
	fields, err := marshalArray(a.BusinessKeyFields)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal key fields")
	}
	dist, err := json.Marshal(a.QualityScoreDist)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal score distribution")
	}
	criteria, err := json.Marshal(a.SelectionCriteria)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal selection criteria")
	}
	violations, err := marshalArray(a.FSCSViolations)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal fscs violations")
	}

	id := a.ID
	if id == "" {
		id = uuid.New().String()
	}
	_, err = s.pool.Exec(ctx, `INSERT INTO dedup_audit
		(id, batch_id, input_products_count, business_key_fields, quality_score_dist, selection_criteria,
		 fscs_violations, grouping_ms, scoring_ms, selection_ms, persistence_ms, processing_time_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		id, a.BatchID, a.InputProductsCount, fields, dist, criteria, violations,
		a.Timing.GroupingMS, a.Timing.ScoringMS, a.Timing.SelectionMS, a.Timing.PersistenceMS, a.Timing.TotalMS,
		timeOrNow(a.CreatedAt),
	)
	return eris.Wrap(err, "postgres: insert dedup audit")
}

func (s *PostgresStore) InsertDedupGroup(ctx context.Context, g model.DedupGroup) error {
	platforms, err := marshalArray(g.Platforms)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal platforms")
	}
	sources, err := marshalArray(g.Sources)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal sources")
	}
	scores, err := marshalObject(g.QualityScores)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal quality scores")
	}
	rejected, err := marshalArray(g.RejectedProducts)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal rejected products")
	}

	id := g.ID
	if id == "" {
		id = uuid.New().String()
	}
	_, err = s.pool.Exec(ctx, `INSERT INTO dedup_groups
		(id, batch_id, business_key, products_in_group, selected_product_id, selected_platform, selected_source,
		 selection_reason, platforms, sources, quality_scores, rejected_products, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		id, g.BatchID, g.BusinessKey, g.ProductsInGroup, g.SelectedProductID, g.SelectedPlatform, g.SelectedSource,
		string(g.SelectionReason), platforms, sources, scores, rejected, timeOrNow(g.CreatedAt),
	)
	return eris.Wrap(err, "postgres: insert dedup group")
}

func (s *PostgresStore) MatchingAuditsByBatch(ctx context.Context, batchID string) ([]model.MatchingAudit, error) {
	raws, err := s.RawMatchingAudits(ctx, batchID)
	if err != nil {
		return nil, err
	}

	out := make([]model.MatchingAudit, 0, len(raws))
	for _, r := range raws {
		a := model.MatchingAudit{
			ID:               r.ID,
			BatchID:          r.BatchID,
			ProductID:        r.ProductID,
			OriginalName:     r.OriginalName,
			NormalizedName:   r.NormalizedName,
			DecisionRouting:  model.DecisionRouting(r.DecisionRouting),
			FinalFRN:         r.FinalFRN,
			FinalConfidence:  r.FinalConfidence,
			QueryMethod:      model.MatchType(r.QueryMethod),
			ProcessingTimeMS: r.ProcessingTimeMS,
		}
		if err := json.Unmarshal(r.NormalizationSteps, &a.NormalizationSteps); err != nil {
			return nil, eris.Wrapf(err, "postgres: unmarshal normalization steps %s", r.ID)
		}
		if err := json.Unmarshal(r.CandidateFRNs, &a.CandidateFRNs); err != nil {
			return nil, eris.Wrapf(err, "postgres: unmarshal candidates %s", r.ID)
		}
		out = append(out, a)
	}
	return out, nil
}

func (s *PostgresStore) DedupGroupsByBatch(ctx context.Context, batchID string) ([]model.DedupGroup, error) {
	raws, err := s.RawDedupGroups(ctx, batchID)
	if err != nil {
		return nil, err
	}

	out := make([]model.DedupGroup, 0, len(raws))
	for _, r := range raws {
		g := model.DedupGroup{
			ID:                r.ID,
			BatchID:           r.BatchID,
			BusinessKey:       r.BusinessKey,
			ProductsInGroup:   r.ProductsInGroup,
			SelectedProductID: r.SelectedProductID,
			SelectionReason:   model.SelectionReason(r.SelectionReason),
		}
		if err := json.Unmarshal(r.Platforms, &g.Platforms); err != nil {
			return nil, eris.Wrapf(err, "postgres: unmarshal platforms %s", r.ID)
		}
		if err := json.Unmarshal(r.Sources, &g.Sources); err != nil {
			return nil, eris.Wrapf(err, "postgres: unmarshal sources %s", r.ID)
		}
		if err := json.Unmarshal(r.QualityScores, &g.QualityScores); err != nil {
			return nil, eris.Wrapf(err, "postgres: unmarshal quality scores %s", r.ID)
		}
		if err := json.Unmarshal(r.RejectedProducts, &g.RejectedProducts); err != nil {
			return nil, eris.Wrapf(err, "postgres: unmarshal rejected products %s", r.ID)
		}
		out = append(out, g)
	}
	return out, nil
}

func (s *PostgresStore) RawIngestionAudits(ctx context.Context, batchID string) ([]RawIngestionAudit, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, batch_id, source, method, product_key,
		validation_status, validation_details, rejection_reasons, normalization_applied
		FROM ingestion_audit WHERE batch_id = $1 ORDER BY created_at, id`, batchID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: raw ingestion audits %s", batchID)
	}
	defer rows.Close()

	var out []RawIngestionAudit
	for rows.Next() {
		var r RawIngestionAudit
		if err := rows.Scan(&r.ID, &r.BatchID, &r.Source, &r.Method, &r.ProductKey,
			&r.ValidationStatus, &r.ValidationDetails, &r.RejectionReasons, &r.NormalizationApplied,
		); err != nil {
			return nil, eris.Wrap(err, "postgres: scan raw ingestion audit")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate raw ingestion audits")
}

func (s *PostgresStore) RawMatchingAudits(ctx context.Context, batchID string) ([]RawMatchingAudit, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, batch_id, product_id, original_name, normalized_name,
		normalization_steps, candidate_frns, decision_routing, final_frn, final_confidence,
		COALESCE(query_method, ''), processing_time_ms
		FROM matching_audit WHERE batch_id = $1 ORDER BY created_at, id`, batchID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: raw matching audits %s", batchID)
	}
	defer rows.Close()

	var out []RawMatchingAudit
	for rows.Next() {
		var r RawMatchingAudit
		if err := rows.Scan(&r.ID, &r.BatchID, &r.ProductID, &r.OriginalName, &r.NormalizedName,
			&r.NormalizationSteps, &r.CandidateFRNs, &r.DecisionRouting, &r.FinalFRN, &r.FinalConfidence,
			&r.QueryMethod, &r.ProcessingTimeMS,
		); err != nil {
			return nil, eris.Wrap(err, "postgres: scan raw matching audit")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate raw matching audits")
}

func (s *PostgresStore) RawDedupAudit(ctx context.Context, batchID string) (*RawDedupAudit, error) {
	var r RawDedupAudit
	err := s.pool.QueryRow(ctx, `SELECT id, batch_id, input_products_count, business_key_fields,
		quality_score_dist, selection_criteria, fscs_violations,
		grouping_ms, scoring_ms, selection_ms, persistence_ms, processing_time_ms
		FROM dedup_audit WHERE batch_id = $1`, batchID,
	).Scan(&r.ID, &r.BatchID, &r.InputProductsCount, &r.BusinessKeyFields,
		&r.QualityScoreDist, &r.SelectionCriteria, &r.FSCSViolations,
		&r.GroupingMS, &r.ScoringMS, &r.SelectionMS, &r.PersistenceMS, &r.TotalMS)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: raw dedup audit %s", batchID)
	}
	return &r, nil
}

func (s *PostgresStore) RawDedupGroups(ctx context.Context, batchID string) ([]RawDedupGroup, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, batch_id, business_key, products_in_group,
		selected_product_id, selection_reason, platforms, sources, quality_scores, rejected_products
		FROM dedup_groups WHERE batch_id = $1 ORDER BY business_key`, batchID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: raw dedup groups %s", batchID)
	}
	defer rows.Close()

	var out []RawDedupGroup
	for rows.Next() {
		var r RawDedupGroup
		if err := rows.Scan(&r.ID, &r.BatchID, &r.BusinessKey, &r.ProductsInGroup,
			&r.SelectedProductID, &r.SelectionReason, &r.Platforms, &r.Sources, &r.QualityScores, &r.RejectedProducts,
		); err != nil {
			return nil, eris.Wrap(err, "postgres: scan raw dedup group")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate raw dedup groups")
}

func (s *PostgresStore) EnqueueResearch(ctx context.Context, e model.ResearchEntry) error {
	candidates, err := marshalArray(e.Candidates)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal research candidates")
	}

	id := e.ID
	if id == "" {
		id = uuid.New().String()
	}
	_, err = s.pool.Exec(ctx, `INSERT INTO research_queue
		(id, batch_id, product_id, bank_name, normalized_name, candidates, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		id, e.BatchID, e.ProductID, e.BankName, e.NormalizedName, candidates, timeOrNow(e.CreatedAt),
	)
	return eris.Wrap(err, "postgres: enqueue research")
}

func (s *PostgresStore) ResearchQueue(ctx context.Context, batchID string) ([]model.ResearchEntry, error) {
	query := `SELECT id, batch_id, product_id, bank_name, normalized_name, candidates, created_at FROM research_queue`
	var args []any
	if batchID != "" {
		query += ` WHERE batch_id = $1`
		args = append(args, batchID)
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: research queue")
	}
	defer rows.Close()

	var out []model.ResearchEntry
	for rows.Next() {
		var (
			e          model.ResearchEntry
			candidates []byte
		)
		if err := rows.Scan(&e.ID, &e.BatchID, &e.ProductID, &e.BankName, &e.NormalizedName, &candidates, &e.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan research entry")
		}
		if err := json.Unmarshal(candidates, &e.Candidates); err != nil {
			return nil, eris.Wrapf(err, "postgres: unmarshal research candidates %s", e.ID)
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate research queue")
}

func (s *PostgresStore) Batches(ctx context.Context, limit int) ([]model.BatchSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx, `SELECT i.batch_id, COUNT(*) AS ingested,
		(SELECT COUNT(*) FROM matching_audit m WHERE m.batch_id = i.batch_id),
		(SELECT COUNT(*) FROM dedup_groups g WHERE g.batch_id = i.batch_id),
		MIN(i.created_at)
		FROM ingestion_audit i GROUP BY i.batch_id ORDER BY MIN(i.created_at) DESC LIMIT $1`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: batches")
	}
	defer rows.Close()

	var out []model.BatchSummary
	for rows.Next() {
		var b model.BatchSummary
		if err := rows.Scan(&b.BatchID, &b.Ingested, &b.Matched, &b.DedupGroups, &b.StartedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan batch summary")
		}
		out = append(out, b)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate batches")
}

func parseDecimalPtr(s *string) (decimal.NullDecimal, error) {
	if s == nil || *s == "" {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(*s)
	if err != nil {
		return decimal.NullDecimal{}, eris.Wrapf(err, "postgres: parse decimal %q", *s)
	}
	return decimal.NullDecimal{Decimal: d, Valid: true}, nil
}
