package model

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
)

// Error kinds. Every error returned by the ledger carries exactly one of
// these in its Unwrap chain and can be matched with errors.Is from either
// the standard library or github.com/cockroachdb/errors.
var (
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrNotFound         = errors.New("agreement not found")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrInvalidState     = errors.New("invalid state")
	ErrAgreementExpired = errors.New("agreement expired")
	ErrAlreadyPaid      = errors.New("rent already paid for current period")
	ErrTransferFailed   = errors.New("transfer failed")
)

const (
	CodeInvalidArgument  = "invalid_argument"
	CodeNotFound         = "not_found"
	CodeUnauthorized     = "unauthorized"
	CodeInvalidState     = "invalid_state"
	CodeAgreementExpired = "agreement_expired"
	CodeAlreadyPaid      = "already_paid"
	CodeTransferFailed   = "transfer_failed"
	CodeInternal         = "internal"
)

var codes = []struct {
	kind error
	code string
}{
	{ErrInvalidArgument, CodeInvalidArgument},
	{ErrNotFound, CodeNotFound},
	{ErrUnauthorized, CodeUnauthorized},
	{ErrInvalidState, CodeInvalidState},
	{ErrAgreementExpired, CodeAgreementExpired},
	{ErrAlreadyPaid, CodeAlreadyPaid},
	{ErrTransferFailed, CodeTransferFailed},
}

// Code returns the machine-readable code for err's kind, or CodeInternal
// when err carries no kind.
func Code(err error) string {
	for _, c := range codes {
		if errors.Is(err, c.kind) {
			return c.code
		}
	}
	return CodeInternal
}

// kindError is a ledger error of one kind, optionally caused by another error.
type kindError struct {
	kind  error
	msg   string
	cause error
}

func (e *kindError) Error() string {
	if e.cause == nil {
		return e.msg
	}
	return e.msg + ": " + e.cause.Error()
}

func (e *kindError) Unwrap() []error {
	if e.cause == nil {
		return []error{e.kind}
	}
	return []error{e.kind, e.cause}
}

// Errorf builds an error of the given kind.
func Errorf(kind error, format string, args ...any) error {
	return &kindError{kind: kind, msg: fmt.Sprintf(format, args...)}
}

// Wrapf builds an error of the given kind caused by cause. Both remain
// reachable through errors.Is and errors.As.
func Wrapf(cause, kind error, format string, args ...any) error {
	if cause == nil {
		return Errorf(kind, format, args...)
	}
	return &kindError{kind: kind, msg: fmt.Sprintf(format, args...), cause: cause}
}

// Violations collects the rules an input breaks.
type Violations []string

// Check records rule when ok is false.
func (v *Violations) Check(ok bool, rule string) {
	if !ok {
		*v = append(*v, rule)
	}
}

// Err returns an ErrInvalidArgument listing every violated rule, or nil.
func (v Violations) Err() error {
	if len(v) == 0 {
		return nil
	}
	return Errorf(ErrInvalidArgument, "%s", strings.Join(v, "; "))
}
