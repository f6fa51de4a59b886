package transfer

import (
	"context"
	"fmt"
	"sync"

	"github.com/rentledger/rentledger/internal/lease/model"
)

// Book is an in-memory Gateway that credits balances per address and keeps
// every completed order. It is used for development deployments and tests.
type Book struct {
	mu       sync.Mutex
	balances map[model.Address]int64
	orders   []Order
	failFor  map[model.Address]error
	failNext error
}

// NewBook creates an empty Book.
func NewBook() *Book {
	return &Book{
		balances: make(map[model.Address]int64),
		failFor:  make(map[model.Address]error),
	}
}

// Transfer implements Gateway.
func (b *Book) Transfer(_ context.Context, o Order) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if o.Amount <= 0 {
		return fmt.Errorf("%w: non-positive amount %d", ErrRejected, o.Amount)
	}
	if err := b.failNext; err != nil {
		b.failNext = nil
		return err
	}
	if err, ok := b.failFor[o.To]; ok {
		return err
	}

	b.balances[o.To] += o.Amount
	b.orders = append(b.orders, o)
	return nil
}

// FailNext makes the next Transfer call fail with err.
func (b *Book) FailNext(err error) {
	b.mu.Lock()
	b.failNext = err
	b.mu.Unlock()
}

// FailFor makes every transfer to addr fail with err until Heal is called.
func (b *Book) FailFor(addr model.Address, err error) {
	b.mu.Lock()
	b.failFor[addr] = err
	b.mu.Unlock()
}

// Heal clears all injected failures.
func (b *Book) Heal() {
	b.mu.Lock()
	b.failNext = nil
	b.failFor = make(map[model.Address]error)
	b.mu.Unlock()
}

// Balance returns the total value received by addr.
func (b *Book) Balance(addr model.Address) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.balances[addr]
}

// Orders returns a copy of every completed order in execution order.
func (b *Book) Orders() []Order {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Order, len(b.orders))
	copy(out, b.orders)
	return out
}
