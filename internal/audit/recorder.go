// Package audit writes and independently re-validates the pipeline's
// audit trail.
package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rateledger/deposits-cli/internal/model"
	"github.com/rateledger/deposits-cli/internal/store"
)

// Recorder is the single ordered audit-write sink for one batch.
// Stages may parallelize their work internally, but every audit record
// passes through here so "exactly one record per input" stays provable
// and write order stays stable.
type Recorder struct {
	mu      sync.Mutex
	store   store.Store
	batchID string
	seq     int
}

// NewRecorder creates a Recorder bound to one batch.
func NewRecorder(st store.Store, batchID string) *Recorder {
	return &Recorder{store: st, batchID: batchID}
}

// BatchID returns the batch this recorder writes for.
func (r *Recorder) BatchID() string {
	return r.batchID
}

// Ingestion writes one ingestion-audit record.
func (r *Recorder) Ingestion(ctx context.Context, a model.IngestionAudit) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a.ID = uuid.New().String()
	a.BatchID = r.batchID
	a.CreatedAt = r.stamp()
	return r.store.InsertIngestionAudit(ctx, a)
}

// Matching writes one matching-audit record.
func (r *Recorder) Matching(ctx context.Context, a model.MatchingAudit) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a.ID = uuid.New().String()
	a.BatchID = r.batchID
	a.CreatedAt = r.stamp()
	return r.store.InsertMatchingAudit(ctx, a)
}

// stamp returns a strictly increasing timestamp within the batch, so
// audit order survives storage backends with coarse clock resolution.
func (r *Recorder) stamp() time.Time {
	r.seq++
	return time.Now().UTC().Add(time.Duration(r.seq) * time.Microsecond)
}
