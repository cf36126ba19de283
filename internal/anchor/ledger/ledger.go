//go:generate mockgen -source=ledger.go -destination=mocks/ledger_mock.go -package=mocks Ledger

// Package ledger defines the append-only ledger the batcher anchors epoch
// digests to, and an in-memory implementation for tests and local runs.
package ledger

import (
	"context"

	"veritas/internal/crypto/digest"
)

// TxRef identifies a ledger transaction.
type TxRef string

// Status is the confirmation state of a submitted transaction.
type Status int

const (
	StatusPending Status = iota
	StatusConfirmed
	StatusRejected
)

func (s Status) String() string {
	switch s {
	case StatusConfirmed:
		return "confirmed"
	case StatusRejected:
		return "rejected"
	default:
		return "pending"
	}
}

// Ledger is the only component allowed to talk to the external ledger.
// Submit is at-least-once: resubmitting a digest must be safe.
type Ledger interface {
	Submit(ctx context.Context, d digest.Digest) (TxRef, error)
	Confirm(ctx context.Context, ref TxRef) (Status, error)
}
