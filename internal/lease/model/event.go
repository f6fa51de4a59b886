package model

// EventType names an event in the ledger's event stream.
type EventType string

const (
	EventAgreementCreated    EventType = "agreement.created"
	EventRentPaid            EventType = "rent.paid"
	EventAgreementTerminated EventType = "agreement.terminated"
)

// Event is a structured record of a committed mutation.
type Event interface {
	EventType() EventType
	Agreement() uint64
}

// AgreementCreated is emitted when a new agreement is stored.
type AgreementCreated struct {
	ID              uint64  `json:"id"`
	Landlord        Address `json:"landlord"`
	Tenant          Address `json:"tenant"`
	MonthlyRent     int64   `json:"monthly_rent"`
	SecurityDeposit int64   `json:"security_deposit"`
}

func (e AgreementCreated) EventType() EventType { return EventAgreementCreated }
func (e AgreementCreated) Agreement() uint64    { return e.ID }

// RentPaid is emitted when a rent payment has been forwarded to the landlord.
type RentPaid struct {
	ID     uint64  `json:"id"`
	Tenant Address `json:"tenant"`
	Amount int64   `json:"amount"`
	Time   int64   `json:"time"`
}

func (e RentPaid) EventType() EventType { return EventRentPaid }
func (e RentPaid) Agreement() uint64    { return e.ID }

// AgreementTerminated is emitted when an agreement becomes inactive.
type AgreementTerminated struct {
	ID                      uint64  `json:"id"`
	Initiator               Address `json:"initiator"`
	DepositReturnedToTenant bool    `json:"deposit_returned_to_tenant"`
}

func (e AgreementTerminated) EventType() EventType { return EventAgreementTerminated }
func (e AgreementTerminated) Agreement() uint64    { return e.ID }
