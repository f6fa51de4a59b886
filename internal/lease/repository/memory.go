package repository

import (
	"context"
	"slices"
	"sync"

	"github.com/rentledger/rentledger/internal/eventlog"
	"github.com/rentledger/rentledger/internal/lease/model"
)

// MemoryStore is an in-memory, thread-safe Store.
//
// Writers are serialised by wmu for the whole transaction, including any
// outbound transfer the caller performs inside it. The committed state is
// guarded by mu and only locked for writing while a stage is applied, so
// readers are never blocked by a slow transfer.
type MemoryStore struct {
	wmu sync.Mutex

	mu         sync.RWMutex
	agreements []*model.Agreement
	byLandlord map[model.Address][]uint64
	byTenant   map[model.Address][]uint64
	events     []*eventlog.Entry
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byLandlord: make(map[model.Address][]uint64),
		byTenant:   make(map[model.Address][]uint64),
	}
}

// Update implements Store.
func (s *MemoryStore) Update(ctx context.Context, fn func(tx Tx) error) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()

	tx := &memTx{s: s, dirty: make(map[uint64]*model.Agreement)}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.commit(tx)
	return nil
}

func (s *MemoryStore) commit(tx *memTx) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, a := range tx.dirty {
		if id < uint64(len(s.agreements)) {
			s.agreements[id] = a
		}
	}
	for _, a := range tx.created {
		if staged, ok := tx.dirty[a.ID]; ok {
			a = staged
		}
		s.agreements = append(s.agreements, a)
		s.byLandlord[a.Landlord] = append(s.byLandlord[a.Landlord], a.ID)
		s.byTenant[a.Tenant] = append(s.byTenant[a.Tenant], a.ID)
	}
	s.events = append(s.events, tx.events...)
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, id uint64) (*model.Agreement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if id >= uint64(len(s.agreements)) {
		return nil, notFound(id)
	}
	return s.agreements[id].Clone(), nil
}

// Count implements Store.
func (s *MemoryStore) Count(_ context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return uint64(len(s.agreements)), nil
}

// ByLandlord implements Store.
func (s *MemoryStore) ByLandlord(_ context.Context, addr model.Address) ([]uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneIDs(s.byLandlord[addr]), nil
}

// ByTenant implements Store.
func (s *MemoryStore) ByTenant(_ context.Context, addr model.Address) ([]uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneIDs(s.byTenant[addr]), nil
}

// Events implements Store.
func (s *MemoryStore) Events(_ context.Context, from uint64, limit int) ([]*eventlog.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if from >= uint64(len(s.events)) {
		return []*eventlog.Entry{}, nil
	}
	end := uint64(len(s.events))
	if limit > 0 && from+uint64(limit) < end {
		end = from + uint64(limit)
	}
	out := make([]*eventlog.Entry, 0, end-from)
	for _, e := range s.events[from:end] {
		cp := *e
		out = append(out, &cp)
	}
	return out, nil
}

// VerifyEvents implements Store.
func (s *MemoryStore) VerifyEvents(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return eventlog.Verify(s.events)
}

// EventsRoot implements Store.
func (s *MemoryStore) EventsRoot(_ context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return eventlog.Root(s.events), nil
}

func cloneIDs(ids []uint64) []uint64 {
	if ids == nil {
		return []uint64{}
	}
	return slices.Clone(ids)
}

// memTx stages writes on top of the committed state. The committed slices
// are read without mu because only the holder of wmu ever mutates them.
type memTx struct {
	s       *MemoryStore
	dirty   map[uint64]*model.Agreement
	created []*model.Agreement
	events  []*eventlog.Entry
}

func (tx *memTx) Get(_ context.Context, id uint64) (*model.Agreement, error) {
	if a, ok := tx.dirty[id]; ok {
		return a.Clone(), nil
	}
	committed := uint64(len(tx.s.agreements))
	if id < committed {
		return tx.s.agreements[id].Clone(), nil
	}
	if idx := id - committed; idx < uint64(len(tx.created)) {
		return tx.created[idx].Clone(), nil
	}
	return nil, notFound(id)
}

func (tx *memTx) Create(_ context.Context, a *model.Agreement) (uint64, error) {
	a.ID = uint64(len(tx.s.agreements) + len(tx.created))
	tx.created = append(tx.created, a.Clone())
	return a.ID, nil
}

func (tx *memTx) Save(ctx context.Context, a *model.Agreement) error {
	if _, err := tx.Get(ctx, a.ID); err != nil {
		return err
	}
	tx.dirty[a.ID] = a.Clone()
	return nil
}

func (tx *memTx) Append(_ context.Context, t int64, ev model.Event) (*eventlog.Entry, error) {
	var prev *eventlog.Entry
	if n := len(tx.events); n > 0 {
		prev = tx.events[n-1]
	} else if n := len(tx.s.events); n > 0 {
		prev = tx.s.events[n-1]
	}
	e, err := eventlog.Seal(prev, t, string(ev.EventType()), ev.Agreement(), ev)
	if err != nil {
		return nil, err
	}
	tx.events = append(tx.events, e)
	cp := *e
	return &cp, nil
}
