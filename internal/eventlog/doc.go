// Package eventlog implements the hash-chained stream of committed ledger
// events.
//
// Every entry records the SHA-256 of its predecessor; the first entry chains
// from GenesisHash (64 hex zeros). Tampering with any stored entry is
// detectable with Verify or a Verifier fed entries in sequence order.
//
// The package only builds and checks entries. Persistence is the job of the
// agreement store, which appends entries in the same transaction as the state
// change they describe.
package eventlog
