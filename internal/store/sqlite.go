package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/rateledger/deposits-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
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
	aer_rate     TEXT NOT NULL,
	gross_rate   TEXT,
	min_deposit  TEXT,
	max_deposit  TEXT,
	term_months  INTEGER NOT NULL DEFAULT 0,
	notice_days  INTEGER NOT NULL DEFAULT 0,
	frn          TEXT,
	confidence   REAL NOT NULL DEFAULT 0,
	first_seen   DATETIME NOT NULL,
	last_updated DATETIME NOT NULL,
	raw          TEXT,
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
	aer_rate     TEXT NOT NULL,
	frn          TEXT,
	confidence   REAL NOT NULL DEFAULT 0,
	updated_at   DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS ingestion_audit (
	id                    TEXT PRIMARY KEY,
	batch_id              TEXT NOT NULL,
	source                TEXT NOT NULL,
	method                TEXT NOT NULL,
	product_key           TEXT NOT NULL,
	validation_status     TEXT NOT NULL,
	validation_details    TEXT NOT NULL,
	rejection_reasons     TEXT NOT NULL,
	normalization_applied TEXT NOT NULL,
	created_at            DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS matching_audit (
	id                  TEXT PRIMARY KEY,
	batch_id            TEXT NOT NULL,
	product_id          TEXT NOT NULL,
	original_name       TEXT NOT NULL,
	normalized_name     TEXT NOT NULL,
	normalization_steps TEXT NOT NULL,
	candidate_frns      TEXT NOT NULL,
	decision_routing    TEXT NOT NULL,
	final_frn           TEXT,
	final_confidence    REAL NOT NULL DEFAULT 0,
	query_method        TEXT,
	processing_time_ms  INTEGER NOT NULL DEFAULT 0,
	created_at          DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS dedup_audit (
	id                   TEXT PRIMARY KEY,
	batch_id             TEXT NOT NULL UNIQUE,
	input_products_count INTEGER NOT NULL,
	business_key_fields  TEXT NOT NULL,
	quality_score_dist   TEXT NOT NULL,
	selection_criteria   TEXT NOT NULL,
	fscs_violations      TEXT NOT NULL,
	grouping_ms          INTEGER NOT NULL DEFAULT 0,
	scoring_ms           INTEGER NOT NULL DEFAULT 0,
	selection_ms         INTEGER NOT NULL DEFAULT 0,
	persistence_ms       INTEGER NOT NULL DEFAULT 0,
	processing_time_ms   INTEGER NOT NULL DEFAULT 0,
	created_at           DATETIME NOT NULL
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
	platforms           TEXT NOT NULL,
	sources             TEXT NOT NULL,
	quality_scores      TEXT NOT NULL,
	rejected_products   TEXT NOT NULL,
	created_at          DATETIME NOT NULL,
	UNIQUE(batch_id, business_key)
);

CREATE TABLE IF NOT EXISTS research_queue (
	id              TEXT PRIMARY KEY,
	batch_id        TEXT NOT NULL,
	product_id      TEXT NOT NULL,
	bank_name       TEXT NOT NULL,
	normalized_name TEXT NOT NULL,
	candidates      TEXT NOT NULL,
	created_at      DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_raw_products_partition ON raw_products(source, method);
CREATE INDEX IF NOT EXISTS idx_raw_products_batch ON raw_products(batch_id);
CREATE INDEX IF NOT EXISTS idx_ingestion_audit_batch ON ingestion_audit(batch_id);
CREATE INDEX IF NOT EXISTS idx_matching_audit_batch ON matching_audit(batch_id);
CREATE INDEX IF NOT EXISTS idx_matching_audit_product ON matching_audit(product_id);
CREATE INDEX IF NOT EXISTS idx_dedup_groups_batch ON dedup_groups(batch_id);
CREATE INDEX IF NOT EXISTS idx_research_queue_batch ON research_queue(batch_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ReplacePartition replaces every row of one (source, method) partition
// inside a single transaction. Sibling partitions are never touched.
func (s *SQLiteStore) ReplacePartition(ctx context.Context, source, method, batchID string, products []model.Product) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin replace partition")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM raw_products WHERE source = ? AND method = ?`,
		source, method,
	); err != nil {
		return eris.Wrapf(err, "sqlite: clear partition %s/%s", source, method)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO raw_products
		(id, batch_id, source, method, product_key, bank_name, product_name, account_type, platform,
		 aer_rate, gross_rate, min_deposit, max_deposit, term_months, notice_days,
		 frn, confidence, first_seen, last_updated, raw)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL, 0, ?, ?, ?)`)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare partition insert")
	}
	defer stmt.Close()

	for _, p := range products {
		id := p.ID
		if id == "" {
			id = uuid.New().String()
		}
		if _, err := stmt.ExecContext(ctx,
			id, batchID, source, method, p.ProductKey, p.BankName, p.ProductName, p.AccountType, p.Platform,
			p.AERRate.String(), nullDecimal(p.GrossRate), nullDecimal(p.MinDeposit), nullDecimal(p.MaxDeposit),
			p.TermMonths, p.NoticeDays, p.FirstSeen.UTC(), p.LastUpdated.UTC(), string(p.Raw),
		); err != nil {
			return eris.Wrapf(err, "sqlite: insert product %s", p.ProductKey)
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit replace partition")
}

func (s *SQLiteStore) CountByMethod(ctx context.Context, method string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM raw_products WHERE method = ?`, method,
	).Scan(&n)
	return n, eris.Wrapf(err, "sqlite: count by method %s", method)
}

func (s *SQLiteStore) CountByPartition(ctx context.Context, source, method string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM raw_products WHERE source = ? AND method = ?`, source, method,
	).Scan(&n)
	return n, eris.Wrapf(err, "sqlite: count partition %s/%s", source, method)
}

func (s *SQLiteStore) PartitionCombinations(ctx context.Context) ([]model.PartitionCount, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT source, method, COUNT(*) FROM raw_products GROUP BY source, method ORDER BY source, method`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: partition combinations")
	}
	defer rows.Close()

	var out []model.PartitionCount
	for rows.Next() {
		var pc model.PartitionCount
		if err := rows.Scan(&pc.Source, &pc.Method, &pc.Count); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan partition combination")
		}
		out = append(out, pc)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate partition combinations")
}

const productColumns = `id, batch_id, source, method, product_key, bank_name, product_name, account_type, platform,
	aer_rate, gross_rate, min_deposit, max_deposit, term_months, notice_days,
	frn, confidence, first_seen, last_updated, raw`

func (s *SQLiteStore) ProductsByBatch(ctx context.Context, batchID string) ([]model.EnrichedProduct, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+productColumns+` FROM raw_products WHERE batch_id = ? ORDER BY product_key`, batchID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: products by batch %s", batchID)
	}
	defer rows.Close()

	var out []model.EnrichedProduct
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate products")
}

func (s *SQLiteStore) SetFRN(ctx context.Context, productID string, frn *string, confidence float64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE raw_products SET frn = ?, confidence = ? WHERE id = ?`,
		frn, confidence, productID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set frn for %s", productID)
	}
	return checkRowsAffected(res, "product", productID)
}

func (s *SQLiteStore) UpsertCurrentProducts(ctx context.Context, winners []model.CurrentProduct) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin current upsert")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO current_products
		(business_key, product_id, batch_id, source, platform, bank_name, product_name, account_type, aer_rate, frn, confidence, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(business_key) DO UPDATE SET
			product_id = excluded.product_id,
			batch_id = excluded.batch_id,
			source = excluded.source,
			platform = excluded.platform,
			bank_name = excluded.bank_name,
			product_name = excluded.product_name,
			account_type = excluded.account_type,
			aer_rate = excluded.aer_rate,
			frn = excluded.frn,
			confidence = excluded.confidence,
			updated_at = excluded.updated_at`)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare current upsert")
	}
	defer stmt.Close()

	for _, w := range winners {
		if _, err := stmt.ExecContext(ctx,
			w.BusinessKey, w.ProductID, w.BatchID, w.Source, w.Platform, w.BankName, w.ProductName,
			w.AccountType, w.AERRate.String(), w.FRN, w.Confidence, w.UpdatedAt.UTC(),
		); err != nil {
			return eris.Wrapf(err, "sqlite: upsert current %s", w.BusinessKey)
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit current upsert")
}

func (s *SQLiteStore) CurrentProducts(ctx context.Context) ([]model.CurrentProduct, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT business_key, product_id, batch_id, source, platform,
		bank_name, product_name, account_type, aer_rate, frn, confidence, updated_at
		FROM current_products ORDER BY business_key`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: current products")
	}
	defer rows.Close()

	var out []model.CurrentProduct
	for rows.Next() {
		var (
			w        model.CurrentProduct
			platform sql.NullString
			name     sql.NullString
			rate     string
		)
		if err := rows.Scan(&w.BusinessKey, &w.ProductID, &w.BatchID, &w.Source, &platform,
			&w.BankName, &name, &w.AccountType, &rate, &w.FRN, &w.Confidence, &w.UpdatedAt,
		); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan current product")
		}
		w.Platform = platform.String
		w.ProductName = name.String
		if w.AERRate, err = decimal.NewFromString(rate); err != nil {
			return nil, eris.Wrapf(err, "sqlite: parse rate %q", rate)
		}
		out = append(out, w)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate current products")
}

func (s *SQLiteStore) InsertIngestionAudit(ctx context.Context, a model.IngestionAudit) error {
	details, err := marshalArray(a.ValidationDetails)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal validation details")
	}
	reasons, err := marshalArray(a.RejectionReasons)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal rejection reasons")
	}
	norm, err := marshalObject(a.NormalizationApplied)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal normalization")
	}

	id := a.ID
	if id == "" {
		id = uuid.New().String()
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO ingestion_audit
		(id, batch_id, source, method, product_key, validation_status, validation_details, rejection_reasons, normalization_applied, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, a.BatchID, a.Source, a.Method, a.ProductKey, string(a.ValidationStatus),
		string(details), string(reasons), string(norm), timeOrNow(a.CreatedAt),
	)
	return eris.Wrap(err, "sqlite: insert ingestion audit")
}

func (s *SQLiteStore) InsertMatchingAudit(ctx context.Context, a model.MatchingAudit) error {
	steps, err := marshalArray(a.NormalizationSteps)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal normalization steps")
	}
	candidates, err := marshalArray(a.CandidateFRNs)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal candidates")
	}

	id := a.ID
	if id == "" {
		id = uuid.New().String()
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO matching_audit
		(id, batch_id, product_id, original_name, normalized_name, normalization_steps, candidate_frns,
		 decision_routing, final_frn, final_confidence, query_method, processing_time_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, a.BatchID, a.ProductID, a.OriginalName, a.NormalizedName, string(steps), string(candidates),
		string(a.DecisionRouting), a.FinalFRN, a.FinalConfidence, string(a.QueryMethod), a.ProcessingTimeMS,
		timeOrNow(a.CreatedAt),
	)
	return eris.Wrap(err, "sqlite: insert matching audit")
}

func (s *SQLiteStore) InsertDedupAudit(ctx context.Context, a model.DedupAudit) error {
	fields, err := marshalArray(a.BusinessKeyFields)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal key fields")
	}
	dist, err := json.Marshal(a.QualityScoreDist)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal score distribution")
	}
	criteria, err := json.Marshal(a.SelectionCriteria)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal selection criteria")
	}
	violations, err := marshalArray(a.FSCSViolations)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal fscs violations")
	}

	id := a.ID
	if id == "" {
		id = uuid.New().String()
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO dedup_audit
		(id, batch_id, input_products_count, business_key_fields, quality_score_dist, selection_criteria,
		 fscs_violations, grouping_ms, scoring_ms, selection_ms, persistence_ms, processing_time_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, a.BatchID, a.InputProductsCount, string(fields), string(dist), string(criteria), string(violations),
		a.Timing.GroupingMS, a.Timing.ScoringMS, a.Timing.SelectionMS, a.Timing.PersistenceMS, a.Timing.TotalMS,
		timeOrNow(a.CreatedAt),
	)
	return eris.Wrap(err, "sqlite: insert dedup audit")
}

func (s *SQLiteStore) InsertDedupGroup(ctx context.Context, g model.DedupGroup) error {
	platforms, err := marshalArray(g.Platforms)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal platforms")
	}
	sources, err := marshalArray(g.Sources)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal sources")
	}
	scores, err := marshalObject(g.QualityScores)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal quality scores")
	}
	rejected, err := marshalArray(g.RejectedProducts)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal rejected products")
	}

	id := g.ID
	if id == "" {
		id = uuid.New().String()
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO dedup_groups
		(id, batch_id, business_key, products_in_group, selected_product_id, selected_platform, selected_source,
		 selection_reason, platforms, sources, quality_scores, rejected_products, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, g.BatchID, g.BusinessKey, g.ProductsInGroup, g.SelectedProductID, g.SelectedPlatform, g.SelectedSource,
		string(g.SelectionReason), string(platforms), string(sources), string(scores), string(rejected),
		timeOrNow(g.CreatedAt),
	)
	return eris.Wrap(err, "sqlite: insert dedup group")
}

func (s *SQLiteStore) MatchingAuditsByBatch(ctx context.Context, batchID string) ([]model.MatchingAudit, error) {
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
			return nil, eris.Wrapf(err, "sqlite: unmarshal normalization steps %s", r.ID)
		}
		if err := json.Unmarshal(r.CandidateFRNs, &a.CandidateFRNs); err != nil {
			return nil, eris.Wrapf(err, "sqlite: unmarshal candidates %s", r.ID)
		}
		out = append(out, a)
	}
	return out, nil
}

func (s *SQLiteStore) DedupGroupsByBatch(ctx context.Context, batchID string) ([]model.DedupGroup, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, batch_id, business_key, products_in_group,
		selected_product_id, selected_platform, selected_source, selection_reason,
		platforms, sources, quality_scores, rejected_products, created_at
		FROM dedup_groups WHERE batch_id = ? ORDER BY business_key`, batchID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: dedup groups %s", batchID)
	}
	defer rows.Close()

	var out []model.DedupGroup
	for rows.Next() {
		var (
			g              model.DedupGroup
			platform       sql.NullString
			reason         string
			pl, so, qs, rp string
		)
		if err := rows.Scan(&g.ID, &g.BatchID, &g.BusinessKey, &g.ProductsInGroup,
			&g.SelectedProductID, &platform, &g.SelectedSource, &reason,
			&pl, &so, &qs, &rp, &g.CreatedAt,
		); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan dedup group")
		}
		g.SelectedPlatform = platform.String
		g.SelectionReason = model.SelectionReason(reason)
		if err := json.Unmarshal([]byte(pl), &g.Platforms); err != nil {
			return nil, eris.Wrapf(err, "sqlite: unmarshal platforms %s", g.ID)
		}
		if err := json.Unmarshal([]byte(so), &g.Sources); err != nil {
			return nil, eris.Wrapf(err, "sqlite: unmarshal sources %s", g.ID)
		}
		if err := json.Unmarshal([]byte(qs), &g.QualityScores); err != nil {
			return nil, eris.Wrapf(err, "sqlite: unmarshal quality scores %s", g.ID)
		}
		if err := json.Unmarshal([]byte(rp), &g.RejectedProducts); err != nil {
			return nil, eris.Wrapf(err, "sqlite: unmarshal rejected products %s", g.ID)
		}
		out = append(out, g)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate dedup groups")
}

func (s *SQLiteStore) RawIngestionAudits(ctx context.Context, batchID string) ([]RawIngestionAudit, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, batch_id, source, method, product_key,
		validation_status, validation_details, rejection_reasons, normalization_applied
		FROM ingestion_audit WHERE batch_id = ? ORDER BY created_at, id`, batchID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: raw ingestion audits %s", batchID)
	}
	defer rows.Close()

	var out []RawIngestionAudit
	for rows.Next() {
		var r RawIngestionAudit
		if err := rows.Scan(&r.ID, &r.BatchID, &r.Source, &r.Method, &r.ProductKey,
			&r.ValidationStatus, &r.ValidationDetails, &r.RejectionReasons, &r.NormalizationApplied,
		); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan raw ingestion audit")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate raw ingestion audits")
}

func (s *SQLiteStore) RawMatchingAudits(ctx context.Context, batchID string) ([]RawMatchingAudit, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, batch_id, product_id, original_name, normalized_name,
		normalization_steps, candidate_frns, decision_routing, final_frn, final_confidence,
		COALESCE(query_method, ''), processing_time_ms
		FROM matching_audit WHERE batch_id = ? ORDER BY created_at, id`, batchID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: raw matching audits %s", batchID)
	}
	defer rows.Close()

	var out []RawMatchingAudit
	for rows.Next() {
		var r RawMatchingAudit
		if err := rows.Scan(&r.ID, &r.BatchID, &r.ProductID, &r.OriginalName, &r.NormalizedName,
			&r.NormalizationSteps, &r.CandidateFRNs, &r.DecisionRouting, &r.FinalFRN, &r.FinalConfidence,
			&r.QueryMethod, &r.ProcessingTimeMS,
		); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan raw matching audit")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate raw matching audits")
}

func (s *SQLiteStore) RawDedupAudit(ctx context.Context, batchID string) (*RawDedupAudit, error) {
	var r RawDedupAudit
	err := s.db.QueryRowContext(ctx, `SELECT id, batch_id, input_products_count, business_key_fields,
		quality_score_dist, selection_criteria, fscs_violations,
		grouping_ms, scoring_ms, selection_ms, persistence_ms, processing_time_ms
		FROM dedup_audit WHERE batch_id = ?`, batchID,
	).Scan(&r.ID, &r.BatchID, &r.InputProductsCount, &r.BusinessKeyFields,
		&r.QualityScoreDist, &r.SelectionCriteria, &r.FSCSViolations,
		&r.GroupingMS, &r.ScoringMS, &r.SelectionMS, &r.PersistenceMS, &r.TotalMS)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: raw dedup audit %s", batchID)
	}
	return &r, nil
}

func (s *SQLiteStore) RawDedupGroups(ctx context.Context, batchID string) ([]RawDedupGroup, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, batch_id, business_key, products_in_group,
		selected_product_id, selection_reason, platforms, sources, quality_scores, rejected_products
		FROM dedup_groups WHERE batch_id = ? ORDER BY business_key`, batchID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: raw dedup groups %s", batchID)
	}
	defer rows.Close()

	var out []RawDedupGroup
	for rows.Next() {
		var r RawDedupGroup
		if err := rows.Scan(&r.ID, &r.BatchID, &r.BusinessKey, &r.ProductsInGroup,
			&r.SelectedProductID, &r.SelectionReason, &r.Platforms, &r.Sources, &r.QualityScores, &r.RejectedProducts,
		); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan raw dedup group")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate raw dedup groups")
}

func (s *SQLiteStore) EnqueueResearch(ctx context.Context, e model.ResearchEntry) error {
	candidates, err := marshalArray(e.Candidates)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal research candidates")
	}

	id := e.ID
	if id == "" {
		id = uuid.New().String()
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO research_queue
		(id, batch_id, product_id, bank_name, normalized_name, candidates, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, e.BatchID, e.ProductID, e.BankName, e.NormalizedName, string(candidates), timeOrNow(e.CreatedAt),
	)
	return eris.Wrap(err, "sqlite: enqueue research")
}

func (s *SQLiteStore) ResearchQueue(ctx context.Context, batchID string) ([]model.ResearchEntry, error) {
	query := `SELECT id, batch_id, product_id, bank_name, normalized_name, candidates, created_at FROM research_queue`
	var args []any
	if batchID != "" {
		query += ` WHERE batch_id = ?`
		args = append(args, batchID)
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: research queue")
	}
	defer rows.Close()

	var out []model.ResearchEntry
	for rows.Next() {
		var (
			e          model.ResearchEntry
			candidates string
		)
		if err := rows.Scan(&e.ID, &e.BatchID, &e.ProductID, &e.BankName, &e.NormalizedName, &candidates, &e.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan research entry")
		}
		if err := json.Unmarshal([]byte(candidates), &e.Candidates); err != nil {
			return nil, eris.Wrapf(err, "sqlite: unmarshal research candidates %s", e.ID)
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate research queue")
}

func (s *SQLiteStore) Batches(ctx context.Context, limit int) ([]model.BatchSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `SELECT i.batch_id, COUNT(*) AS ingested,
		(SELECT COUNT(*) FROM matching_audit m WHERE m.batch_id = i.batch_id),
		(SELECT COUNT(*) FROM dedup_groups g WHERE g.batch_id = i.batch_id),
		MIN(i.created_at)
		FROM ingestion_audit i GROUP BY i.batch_id ORDER BY MIN(i.created_at) DESC LIMIT ?`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: batches")
	}
	defer rows.Close()

	var out []model.BatchSummary
	for rows.Next() {
		var (
			b       model.BatchSummary
			started string
		)
		if err := rows.Scan(&b.BatchID, &b.Ingested, &b.Matched, &b.DedupGroups, &started); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan batch summary")
		}
		// MIN() strips the column's datetime affinity, so the driver
		// hands the timestamp back as text.
		if b.StartedAt, err = parseStoredTime(started); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate batches")
}

// parseStoredTime parses a timestamp read through an expression that
// lost column affinity. The driver stores time.Time values in Go's
// String() layout; the other layouts cover externally written rows.
func parseStoredTime(s string) (time.Time, error) {
	for _, layout := range []string{
		"2006-01-02 15:04:05.999999999 -0700 MST",
		"2006-01-02 15:04:05.999999999-07:00",
		time.RFC3339Nano,
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, eris.Errorf("sqlite: unparseable timestamp %q", s)
}

// --- helpers ---

type scannable interface {
	Scan(dest ...any) error
}

func scanProduct(row scannable) (*model.EnrichedProduct, error) {
	var (
		p                     model.EnrichedProduct
		batchID               string
		productName, platform sql.NullString
		gross, minDep, maxDep sql.NullString
		rate, raw             string
	)
	if err := row.Scan(&p.ID, &batchID, &p.Source, &p.Method, &p.ProductKey, &p.BankName,
		&productName, &p.AccountType, &platform,
		&rate, &gross, &minDep, &maxDep, &p.TermMonths, &p.NoticeDays,
		&p.FRN, &p.Confidence, &p.FirstSeen, &p.LastUpdated, &raw,
	); err != nil {
		return nil, eris.Wrap(err, "sqlite: scan product")
	}

	p.ProductName = productName.String
	p.Platform = platform.String
	if raw != "" {
		p.Raw = []byte(raw)
	}

	var err error
	if p.AERRate, err = decimal.NewFromString(rate); err != nil {
		return nil, eris.Wrapf(err, "sqlite: parse aer_rate %q", rate)
	}
	if p.GrossRate, err = parseNullDecimal(gross); err != nil {
		return nil, err
	}
	if p.MinDeposit, err = parseNullDecimal(minDep); err != nil {
		return nil, err
	}
	if p.MaxDeposit, err = parseNullDecimal(maxDep); err != nil {
		return nil, err
	}
	return &p, nil
}

func nullDecimal(d decimal.NullDecimal) any {
	if !d.Valid {
		return nil
	}
	return d.Decimal.String()
}

func parseNullDecimal(s sql.NullString) (decimal.NullDecimal, error) {
	if !s.Valid || s.String == "" {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(s.String)
	if err != nil {
		return decimal.NullDecimal{}, eris.Wrapf(err, "sqlite: parse decimal %q", s.String)
	}
	return decimal.NullDecimal{Decimal: d, Valid: true}, nil
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrapf(err, "sqlite: rows affected for %s %s", entity, id)
	}
	if n == 0 {
		return eris.Errorf("sqlite: %s not found: %s", entity, id)
	}
	return nil
}
