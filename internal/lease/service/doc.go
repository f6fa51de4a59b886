// Package service implements the agreement ledger: creation, rent
// settlement and termination with conditional deposit return.
//
// Every mutation runs inside a single store transaction. The state change
// and its event are staged first, the outbound transfer (if any) is made
// last, and the stage commits only when the transfer succeeded. A failed
// precondition or transfer leaves no trace.
package service
