package memory

import (
	"context"
	"sort"
	"time"

	"go-lookflow/internal/core/ports"
	"go-lookflow/internal/domain"

	"github.com/google/uuid"
)

// lookTx stages look writes over a Store whose mutex is held by the caller.
type lookTx struct {
	s       *Store
	staged  map[uuid.UUID]domain.Look
	sources map[lookSource]uuid.UUID
}

var _ ports.LookStore = (*lookTx)(nil)

func (s *Store) begin() *lookTx {
	return &lookTx{
		s:       s,
		staged:  make(map[uuid.UUID]domain.Look),
		sources: make(map[lookSource]uuid.UUID),
	}
}

func (tx *lookTx) commit() {
	for id, look := range tx.staged {
		tx.s.looks[id] = look
	}
	for src, id := range tx.sources {
		tx.s.sources[src] = id
	}
}

func (tx *lookTx) get(id uuid.UUID) (domain.Look, bool) {
	if look, ok := tx.staged[id]; ok {
		return look, true
	}
	look, ok := tx.s.looks[id]
	return look, ok
}

func (tx *lookTx) CreatePendingLook(_ context.Context, look *domain.Look) (*domain.Look, error) {
	if look.SourceRunID != nil {
		src := lookSource{runID: *look.SourceRunID, position: look.Position}
		if id, ok := tx.s.sources[src]; ok {
			existing, _ := tx.get(id)
			return &existing, nil
		}
		tx.sources[src] = look.ID
	}
	stored := *look
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	stored.UpdatedAt = stored.CreatedAt
	tx.staged[stored.ID] = stored
	return &stored, nil
}

func (tx *lookTx) GetLook(_ context.Context, lookID uuid.UUID) (*domain.Look, error) {
	look, ok := tx.get(lookID)
	if !ok {
		return nil, domain.ErrLookNotFound
	}
	return &look, nil
}

func (tx *lookTx) ListLooksByRun(_ context.Context, runID uuid.UUID) ([]domain.Look, error) {
	var looks []domain.Look
	for _, look := range tx.s.looks {
		if look.SourceRunID != nil && *look.SourceRunID == runID {
			looks = append(looks, look)
		}
	}
	sort.Slice(looks, func(i, j int) bool { return looks[i].Position < looks[j].Position })
	return looks, nil
}

func (tx *lookTx) SetLookGenerating(_ context.Context, lookID uuid.UUID) error {
	return tx.update(lookID, func(l *domain.Look) {
		l.Status = domain.LookGenerating
	})
}

func (tx *lookTx) SetLookReady(_ context.Context, lookID uuid.UUID, assetRef string) error {
	return tx.update(lookID, func(l *domain.Look) {
		ref := assetRef
		l.Status = domain.LookReady
		l.ImageRef = &ref
		l.FailureReason = ""
	})
}

func (tx *lookTx) SetLookFailed(_ context.Context, lookID uuid.UUID, reason string) error {
	return tx.update(lookID, func(l *domain.Look) {
		l.Status = domain.LookGenerationFailed
		l.ImageRef = nil
		l.FailureReason = reason
	})
}

func (tx *lookTx) update(lookID uuid.UUID, fn func(*domain.Look)) error {
	look, ok := tx.get(lookID)
	if !ok {
		return domain.ErrLookNotFound
	}
	fn(&look)
	look.UpdatedAt = time.Now().UTC()
	tx.staged[lookID] = look
	return nil
}
