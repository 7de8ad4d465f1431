package audit

import (
	"context"

	"github.com/agent-iam/iam/internal/core"
	"github.com/agent-iam/iam/internal/errs"
	"golang.org/x/sync/errgroup"
)

// GormStorage persists audit batches to the relational store. It is the
// default (and typically only configured) C10 backend.
type GormStorage struct {
	store core.AuditEventStore
	name  string
}

// NewGormStorage builds a GormStorage backend.
func NewGormStorage(store core.AuditEventStore) *GormStorage {
	return &GormStorage{store: store, name: "postgres"}
}

func (s *GormStorage) Name() string { return s.name }

func (s *GormStorage) WriteBatch(ctx context.Context, events []core.PersistedAuditEvent) error {
	if err := s.store.WriteBatch(ctx, events); err != nil {
		return errs.Wrap(errs.StoreError, "write audit batch", err)
	}
	return nil
}

// FanOut writes a batch to every configured backend in parallel. Per
// SPEC_FULL.md §4.5 / §9 Open Question 1, success requires only that at
// least one backend acknowledges; the original sequential implementation
// left parallel-vs-sequential open, and nothing in the spec forbids
// parallelizing it.
type FanOut struct {
	backends []core.AuditStorage
}

// NewFanOut builds a FanOut over one or more backends.
func NewFanOut(backends ...core.AuditStorage) *FanOut {
	return &FanOut{backends: backends}
}

func (f *FanOut) Name() string { return "fanout" }

func (f *FanOut) WriteBatch(ctx context.Context, events []core.PersistedAuditEvent) error {
	if len(f.backends) == 0 {
		return errs.New(errs.Internal, "no audit storage backends configured")
	}

	results := make([]error, len(f.backends))
	g, gctx := errgroup.WithContext(ctx)
	for i, backend := range f.backends {
		i, backend := i, backend
		g.Go(func() error {
			results[i] = backend.WriteBatch(gctx, events)
			return nil // never abort siblings: we want every result, not fail-fast
		})
	}
	_ = g.Wait()

	for _, err := range results {
		if err == nil {
			return nil // at least one backend acknowledged
		}
	}
	return errs.Wrap(errs.StoreError, "all audit storage backends failed", results[0])
}
