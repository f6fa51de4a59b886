package service

import (
	"context"
	"math"

	"github.com/google/uuid"
	"github.com/rentledger/rentledger/internal/clock"
	"github.com/rentledger/rentledger/internal/eventlog"
	"github.com/rentledger/rentledger/internal/lease/model"
	"github.com/rentledger/rentledger/internal/lease/repository"
	"github.com/rentledger/rentledger/internal/transfer"
	"go.uber.org/zap"
)

// Operation names used in logs and metrics.
const (
	OpCreate    = "create"
	OpPayRent   = "pay_rent"
	OpTerminate = "terminate"
)

// Notifier receives every event entry after it has been committed.
// *webhooks.Dispatcher satisfies this interface.
type Notifier interface {
	Notify(ctx context.Context, e *eventlog.Entry)
}

// MetricsRecorder observes operation outcomes, committed events and
// committed transfers.
type MetricsRecorder interface {
	RecordOperation(op, code string)
	RecordEvent(typ string)
	RecordTransfer(kind string, amount int64)
}

// Ledger is the agreement state machine. It owns every agreement record and
// both party indexes through its Store, and is the only component that
// mutates them.
type Ledger struct {
	store    repository.Store
	gateway  transfer.Gateway
	clock    clock.Clock
	notifier Notifier        // nil = no event fan-out
	metrics  MetricsRecorder // nil = no metrics
	newRef   func() string
	logger   *zap.Logger
}

// NewLedger creates a Ledger.
func NewLedger(store repository.Store, gateway transfer.Gateway, clk clock.Clock, logger *zap.Logger) *Ledger {
	return &Ledger{
		store:   store,
		gateway: gateway,
		clock:   clk,
		newRef:  func() string { return uuid.NewString() },
		logger:  logger,
	}
}

// SetNotifier configures the receiver of committed events.
func (l *Ledger) SetNotifier(n Notifier) {
	l.notifier = n
}

// SetMetricsRecorder configures the metrics sink.
func (l *Ledger) SetMetricsRecorder(m MetricsRecorder) {
	l.metrics = m
}

// mutation collects what a single Update produced so it can be reported
// once the transaction outcome is known.
type mutation struct {
	entries []*eventlog.Entry
	orders  []transfer.Order
}

func (m *mutation) emit(ctx context.Context, tx repository.Tx, t int64, ev model.Event) error {
	e, err := tx.Append(ctx, t, ev)
	if err != nil {
		return err
	}
	m.entries = append(m.entries, e)
	return nil
}

// pay moves value through the gateway. It must be the last step before the
// transaction callback returns so no staged write can fail after money moved.
func (l *Ledger) pay(ctx context.Context, m *mutation, o transfer.Order) error {
	o.Reference = l.newRef()
	if err := l.gateway.Transfer(ctx, o); err != nil {
		return model.Wrapf(err, model.ErrTransferFailed,
			"transfer %d to %s for agreement %d", o.Amount, o.To, o.AgreementID)
	}
	m.orders = append(m.orders, o)
	return nil
}

// finish reports the outcome of an operation. On success it fans out the
// committed entries; when a transfer completed but the commit did not, the
// orders are logged for reconciliation.
func (l *Ledger) finish(ctx context.Context, op string, caller model.Address, m *mutation, err error) {
	if l.metrics != nil {
		code := "ok"
		if err != nil {
			code = model.Code(err)
		}
		l.metrics.RecordOperation(op, code)
	}

	if err != nil {
		if len(m.orders) > 0 {
			for _, o := range m.orders {
				l.logger.Error("transfer completed but ledger commit failed",
					zap.String("op", op),
					zap.String("reference", o.Reference),
					zap.Uint64("agreement_id", o.AgreementID),
					zap.String("to", o.To.String()),
					zap.Int64("amount", o.Amount),
					zap.Error(err),
				)
			}
			return
		}
		l.logger.Debug("ledger operation rejected",
			zap.String("op", op),
			zap.String("caller", caller.String()),
			zap.String("code", model.Code(err)),
			zap.Error(err),
		)
		return
	}

	if l.metrics != nil {
		for _, e := range m.entries {
			l.metrics.RecordEvent(e.Type)
		}
		for _, o := range m.orders {
			l.metrics.RecordTransfer(string(o.Kind), o.Amount)
		}
	}
	if l.notifier != nil {
		for _, e := range m.entries {
			l.notifier.Notify(ctx, e)
		}
	}
}

// CreateAgreement stores a new agreement with the caller as landlord.
// req.Value must equal the security deposit, which stays escrowed until
// termination.
func (l *Ledger) CreateAgreement(ctx context.Context, caller model.Address, req model.CreateRequest) (uint64, error) {
	var id uint64
	m := &mutation{}
	err := l.store.Update(ctx, func(tx repository.Tx) error {
		now := l.clock.Now()

		var v model.Violations
		// LastPaymentTime 0 means never paid, so no agreement may start at 0.
		v.Check(now > 0, "ledger time must be after the Unix epoch")
		v.Check(!caller.IsZero(), "caller must be a valid identity")
		v.Check(!req.Tenant.IsZero(), "tenant must be a valid identity")
		v.Check(req.Tenant != caller, "tenant must differ from landlord")
		v.Check(req.MonthlyRent > 0, "monthly rent must be positive")
		v.Check(req.SecurityDeposit > 0, "security deposit must be positive")
		v.Check(req.DurationDays > 0, "duration must be positive")
		v.Check(req.DurationDays <= 0 || req.DurationDays <= (math.MaxInt64-now)/model.Day, "duration is too large")
		v.Check(req.Value == req.SecurityDeposit, "transferred value must equal the security deposit")
		if err := v.Err(); err != nil {
			return err
		}

		a := &model.Agreement{
			Landlord:        caller,
			Tenant:          req.Tenant,
			MonthlyRent:     req.MonthlyRent,
			SecurityDeposit: req.SecurityDeposit,
			StartTime:       now,
			EndTime:         now + req.DurationDays*model.Day,
			Active:          true,
		}
		var err error
		if id, err = tx.Create(ctx, a); err != nil {
			return err
		}
		return m.emit(ctx, tx, now, model.AgreementCreated{
			ID:              id,
			Landlord:        a.Landlord,
			Tenant:          a.Tenant,
			MonthlyRent:     a.MonthlyRent,
			SecurityDeposit: a.SecurityDeposit,
		})
	})
	l.finish(ctx, OpCreate, caller, m, err)
	if err != nil {
		return 0, err
	}

	l.logger.Info("agreement created",
		zap.Uint64("agreement_id", id),
		zap.String("landlord", caller.String()),
		zap.String("tenant", req.Tenant.String()),
		zap.Int64("deposit", req.SecurityDeposit),
	)
	return id, nil
}

// PayRent records the current period's rent and forwards value to the
// landlord. Only one payment is accepted per period; skipped periods are not
// back-billed.
func (l *Ledger) PayRent(ctx context.Context, id uint64, caller model.Address, value int64) error {
	var paidAt int64
	m := &mutation{}
	err := l.store.Update(ctx, func(tx repository.Tx) error {
		a, err := tx.Get(ctx, id)
		if err != nil {
			return err
		}
		now := l.clock.Now()

		switch {
		case !a.Active:
			return model.Errorf(model.ErrInvalidState, "agreement %d is not active", id)
		case caller != a.Tenant:
			return model.Errorf(model.ErrUnauthorized, "only the tenant can pay rent on agreement %d", id)
		case a.Expired(now):
			return model.Errorf(model.ErrAgreementExpired, "agreement %d ended at %d", id, a.EndTime)
		case value != a.MonthlyRent:
			return model.Errorf(model.ErrInvalidArgument, "transferred value %d must equal monthly rent %d", value, a.MonthlyRent)
		case !a.RentOwed(now):
			return model.Errorf(model.ErrAlreadyPaid, "rent for period %d of agreement %d is already paid", a.PeriodAt(now), id)
		}

		a.LastPaymentTime = now
		if err := tx.Save(ctx, a); err != nil {
			return err
		}
		if err := m.emit(ctx, tx, now, model.RentPaid{ID: id, Tenant: a.Tenant, Amount: value, Time: now}); err != nil {
			return err
		}
		paidAt = now
		return l.pay(ctx, m, transfer.Order{
			To:          a.Landlord,
			Amount:      value,
			Kind:        transfer.KindRent,
			AgreementID: id,
		})
	})
	l.finish(ctx, OpPayRent, caller, m, err)
	if err != nil {
		return err
	}

	l.logger.Info("rent paid",
		zap.Uint64("agreement_id", id),
		zap.String("tenant", caller.String()),
		zap.Int64("amount", value),
		zap.Int64("time", paidAt),
	)
	return nil
}

// TerminateAgreement deactivates an agreement and settles the deposit.
// A tenant leaving before the end time forfeits the deposit to the landlord
// whatever returnDeposit says.
func (l *Ledger) TerminateAgreement(ctx context.Context, id uint64, caller model.Address, returnDeposit bool) (*model.AgreementTerminated, error) {
	var ev model.AgreementTerminated
	m := &mutation{}
	err := l.store.Update(ctx, func(tx repository.Tx) error {
		a, err := tx.Get(ctx, id)
		if err != nil {
			return err
		}
		now := l.clock.Now()

		if !a.Active {
			return model.Errorf(model.ErrInvalidState, "agreement %d is already terminated", id)
		}
		if !a.IsParty(caller) {
			return model.Errorf(model.ErrUnauthorized, "only the landlord or tenant can terminate agreement %d", id)
		}

		refund := returnDeposit
		if caller == a.Tenant && now < a.EndTime {
			refund = false
		}

		a.Active = false
		var order *transfer.Order
		if !a.DepositReturned {
			o := transfer.Order{Amount: a.SecurityDeposit, AgreementID: id}
			if refund {
				o.To, o.Kind = a.Tenant, transfer.KindDepositTenant
			} else {
				o.To, o.Kind = a.Landlord, transfer.KindDepositForfeit
			}
			a.DepositReturned = true
			order = &o
		}
		if err := tx.Save(ctx, a); err != nil {
			return err
		}

		ev = model.AgreementTerminated{ID: id, Initiator: caller, DepositReturnedToTenant: refund}
		if err := m.emit(ctx, tx, now, ev); err != nil {
			return err
		}
		if order == nil {
			return nil
		}
		return l.pay(ctx, m, *order)
	})
	l.finish(ctx, OpTerminate, caller, m, err)
	if err != nil {
		return nil, err
	}

	l.logger.Info("agreement terminated",
		zap.Uint64("agreement_id", id),
		zap.String("initiator", caller.String()),
		zap.Bool("deposit_to_tenant", ev.DepositReturnedToTenant),
	)
	return &ev, nil
}

// GetAgreement returns a copy of the agreement.
func (l *Ledger) GetAgreement(ctx context.Context, id uint64) (*model.Agreement, error) {
	return l.store.Get(ctx, id)
}

// LandlordAgreements returns the ids of agreements where addr is landlord.
// Unknown addresses yield an empty slice.
func (l *Ledger) LandlordAgreements(ctx context.Context, addr model.Address) ([]uint64, error) {
	return l.store.ByLandlord(ctx, addr)
}

// TenantAgreements returns the ids of agreements where addr is tenant.
func (l *Ledger) TenantAgreements(ctx context.Context, addr model.Address) ([]uint64, error) {
	return l.store.ByTenant(ctx, addr)
}

// IsRentDue reports whether a rent payment would currently be accepted on
// period grounds. Inactive and expired agreements never owe rent.
func (l *Ledger) IsRentDue(ctx context.Context, id uint64) (bool, error) {
	a, err := l.store.Get(ctx, id)
	if err != nil {
		return false, err
	}
	now := l.clock.Now()
	if !a.Active || a.Expired(now) {
		return false, nil
	}
	return a.RentOwed(now), nil
}

// Count returns the number of agreements created so far.
func (l *Ledger) Count(ctx context.Context) (uint64, error) {
	return l.store.Count(ctx)
}

// Events returns committed event entries starting at sequence from.
func (l *Ledger) Events(ctx context.Context, from uint64, limit int) ([]*eventlog.Entry, error) {
	return l.store.Events(ctx, from, limit)
}

// VerifyEvents checks the integrity of the event chain.
func (l *Ledger) VerifyEvents(ctx context.Context) error {
	return l.store.VerifyEvents(ctx)
}

// EventsRoot returns the hash of the latest committed event.
func (l *Ledger) EventsRoot(ctx context.Context) (string, error) {
	return l.store.EventsRoot(ctx)
}
