// Package transfer moves native value to party addresses on behalf of the
// agreement ledger. Transfers are synchronous and all-or-nothing: a nil
// error means the full amount reached the recipient.
package transfer

import (
	"context"
	"errors"

	"github.com/rentledger/rentledger/internal/lease/model"
)

// ErrRejected is returned when the payout side refuses a transfer.
var ErrRejected = errors.New("transfer rejected")

// Kind labels why value moved.
type Kind string

const (
	KindRent           Kind = "rent"
	KindDepositTenant  Kind = "deposit_refund"
	KindDepositForfeit Kind = "deposit_forfeit"
)

// Order describes a single outbound transfer.
type Order struct {
	// Reference uniquely identifies the transfer and doubles as the
	// idempotency key at the payout side.
	Reference   string        `json:"reference"`
	To          model.Address `json:"to"`
	Amount      int64         `json:"amount"`
	Kind        Kind          `json:"kind"`
	AgreementID uint64        `json:"agreement_id"`
}

// Gateway pushes value to an address.
type Gateway interface {
	Transfer(ctx context.Context, order Order) error
}
