// Package repository stores agreements, the party indexes and the event
// chain. Two implementations of Store are provided:
//   - MemoryStore: in-process, for tests and single-node deployments.
//   - PostgresStore: durable, for production use.
package repository

import (
	"context"

	"github.com/rentledger/rentledger/internal/eventlog"
	"github.com/rentledger/rentledger/internal/lease/model"
)

// Tx is a staged read-write view of the store. Nothing written through a Tx
// is visible to readers until the enclosing Update commits.
type Tx interface {
	// Get returns a copy of the agreement as staged in this transaction.
	Get(ctx context.Context, id uint64) (*model.Agreement, error)

	// Create allocates the next identifier, assigns it to a.ID, stores the
	// agreement and indexes it under both parties.
	Create(ctx context.Context, a *model.Agreement) (uint64, error)

	// Save replaces the mutable fields of an existing agreement.
	Save(ctx context.Context, a *model.Agreement) error

	// Append chains ev onto the event log at logical time t.
	Append(ctx context.Context, t int64, ev model.Event) (*eventlog.Entry, error)
}

// Store is the persistence interface of the agreement ledger.
type Store interface {
	// Update runs fn in a transaction serialised against every other Update.
	// The staged writes commit as one unit when fn returns nil and are
	// discarded otherwise.
	Update(ctx context.Context, fn func(tx Tx) error) error

	// Get returns a copy of a committed agreement.
	Get(ctx context.Context, id uint64) (*model.Agreement, error)

	// Count returns the number of agreements, which is also the next identifier.
	Count(ctx context.Context) (uint64, error)

	// ByLandlord returns the agreement ids where addr is landlord, in creation order.
	ByLandlord(ctx context.Context, addr model.Address) ([]uint64, error)

	// ByTenant returns the agreement ids where addr is tenant, in creation order.
	ByTenant(ctx context.Context, addr model.Address) ([]uint64, error)

	// Events returns up to limit committed entries starting at sequence from.
	Events(ctx context.Context, from uint64, limit int) ([]*eventlog.Entry, error)

	// VerifyEvents walks the full event chain and checks hash consistency.
	VerifyEvents(ctx context.Context) error

	// EventsRoot returns the hash of the chain tip.
	EventsRoot(ctx context.Context) (string, error)
}

func notFound(id uint64) error {
	return model.Errorf(model.ErrNotFound, "agreement %d not found", id)
}
