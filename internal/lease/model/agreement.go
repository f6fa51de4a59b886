package model

import "strings"

// Time constants are expressed in logical seconds.
const (
	Day int64 = 86_400

	// PeriodLength is the fixed billing window. At most one rent payment is
	// accepted per window; it is not a calendar month.
	PeriodLength = 30 * Day
)

// Address identifies a party to an agreement.
type Address string

// NormalizeAddress trims surrounding whitespace from a caller-supplied address.
func NormalizeAddress(s string) Address {
	return Address(strings.TrimSpace(s))
}

// IsZero reports whether the address is empty.
func (a Address) IsZero() bool { return a == "" }

func (a Address) String() string { return string(a) }

// Agreement is a single landlord–tenant rental contract.
type Agreement struct {
	ID              uint64  `json:"id"               db:"id"`
	Landlord        Address `json:"landlord"         db:"landlord"`
	Tenant          Address `json:"tenant"           db:"tenant"`
	MonthlyRent     int64   `json:"monthly_rent"     db:"monthly_rent"`
	SecurityDeposit int64   `json:"security_deposit" db:"security_deposit"`
	StartTime       int64   `json:"start_time"       db:"start_time"`
	EndTime         int64   `json:"end_time"         db:"end_time"`
	Active          bool    `json:"active"           db:"active"`
	// LastPaymentTime is 0 until the first rent payment.
	LastPaymentTime int64 `json:"last_payment_time" db:"last_payment_time"`
	DepositReturned bool  `json:"deposit_returned"  db:"deposit_returned"`
}

// Clone returns an independent copy of the agreement.
func (a *Agreement) Clone() *Agreement {
	cp := *a
	return &cp
}

// IsParty reports whether addr is the landlord or the tenant.
func (a *Agreement) IsParty(addr Address) bool {
	return addr == a.Landlord || addr == a.Tenant
}

// Expired reports whether now is past the agreement's end time.
func (a *Agreement) Expired(now int64) bool {
	return now > a.EndTime
}

// PeriodAt returns the zero-based billing period containing t.
func (a *Agreement) PeriodAt(t int64) int64 {
	return (t - a.StartTime) / PeriodLength
}

// LastPaidPeriod returns the period of the last payment, or -1 when rent
// has never been paid.
func (a *Agreement) LastPaidPeriod() int64 {
	if a.LastPaymentTime == 0 {
		return -1
	}
	return a.PeriodAt(a.LastPaymentTime)
}

// RentOwed reports whether the period containing now has not been paid yet.
// Periods skipped entirely are not carried forward.
func (a *Agreement) RentOwed(now int64) bool {
	return a.PeriodAt(now) > a.LastPaidPeriod()
}

// CreateRequest carries the terms of a new agreement. The caller becomes
// the landlord; Value is the amount the caller transferred with the call.
type CreateRequest struct {
	Tenant          Address `json:"tenant"           binding:"required"`
	MonthlyRent     int64   `json:"monthly_rent"`
	SecurityDeposit int64   `json:"security_deposit"`
	DurationDays    int64   `json:"duration_days"`
	Value           int64   `json:"value"`
}

// PayRequest is the payload of a rent payment.
type PayRequest struct {
	Value int64 `json:"value"`
}

// TerminateRequest is the payload of a termination.
type TerminateRequest struct {
	ReturnDeposit bool `json:"return_deposit"`
}
