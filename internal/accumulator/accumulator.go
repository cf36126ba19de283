// Package accumulator maintains one revocation accumulator per issuer: a
// sparse Merkle tree over credential ids whose leaves are active or revoked.
//
// Each issuer's accumulator is owned by a single goroutine; mutations are
// sent to it as commands. Published epochs are immutable snapshots that
// readers access without locking.
package accumulator

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"veritas/internal/crypto/digest"
	id "veritas/pkg/domain"
	dErrors "veritas/pkg/domain-errors"
)

// DefaultRetention bounds how long published epochs stay queryable.
const DefaultRetention = 90 * 24 * time.Hour

var errStopped = dErrors.New(dErrors.CodeUnavailable, "accumulator stopped")

type snapshot struct {
	epoch      uint64
	tree       Tree
	anchoredAt time.Time
}

// history is replaced wholesale on every publish and never mutated.
type history struct {
	snapshots     []snapshot
	prunedThrough uint64
}

func (h *history) find(epoch uint64) (snapshot, bool) {
	lo, hi := 0, len(h.snapshots)
	for lo < hi {
		mid := (lo + hi) / 2
		if h.snapshots[mid].epoch < epoch {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo < len(h.snapshots) && h.snapshots[lo].epoch == epoch {
		return h.snapshots[lo], true
	}
	return snapshot{}, false
}

// Accumulator is a single issuer's revocation accumulator.
type Accumulator struct {
	issuer    id.IssuerID
	retention time.Duration
	now       func() time.Time
	logger    *slog.Logger
	metrics   *Metrics

	cmds chan func()
	quit chan struct{}
	done chan struct{}

	// owned by the actor goroutine
	committed      Tree
	staged         map[uint64]Delta
	stagedKeys     map[digest.Digest]uint64
	seq            uint64
	checkpoints    map[uint64]Tree
	lastCheckpoint uint64
	haltReason     error

	published atomic.Pointer[history]
	halted    atomic.Bool
}

// Option configures an Accumulator.
type Option func(*Accumulator)

// WithRetention sets the witness history window. Non-positive keeps the default.
func WithRetention(d time.Duration) Option {
	return func(a *Accumulator) {
		if d > 0 {
			a.retention = d
		}
	}
}

// WithClock overrides the time source used for retention.
func WithClock(now func() time.Time) Option {
	return func(a *Accumulator) {
		if now != nil {
			a.now = now
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(a *Accumulator) {
		a.logger = logger
	}
}

func WithMetrics(m *Metrics) Option {
	return func(a *Accumulator) {
		a.metrics = m
	}
}

// New creates an accumulator and starts its owning goroutine. Call Stop to
// release it.
func New(issuer id.IssuerID, opts ...Option) *Accumulator {
	a := &Accumulator{
		issuer:      issuer,
		retention:   DefaultRetention,
		now:         time.Now,
		logger:      slog.Default(),
		cmds:        make(chan func()),
		quit:        make(chan struct{}),
		done:        make(chan struct{}),
		staged:      make(map[uint64]Delta),
		stagedKeys:  make(map[digest.Digest]uint64),
		checkpoints: make(map[uint64]Tree),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.published.Store(&history{})
	go a.run()
	return a
}

func (a *Accumulator) run() {
	defer close(a.done)
	for {
		select {
		case fn := <-a.cmds:
			fn()
		case <-a.quit:
			return
		}
	}
}

// Stop terminates the owning goroutine. Published snapshots stay readable.
func (a *Accumulator) Stop() {
	select {
	case <-a.quit:
	default:
		close(a.quit)
	}
	<-a.done
}

// exec runs fn on the owning goroutine. Once accepted, fn always runs to
// completion, so staged state is never left half-applied by a cancelled ctx.
func (a *Accumulator) exec(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "accumulator command cancelled")
	}
	reply := make(chan error, 1)
	select {
	case a.cmds <- func() { reply <- fn() }:
	case <-ctx.Done():
		return dErrors.Wrap(ctx.Err(), dErrors.CodeTimeout, "accumulator command cancelled")
	case <-a.quit:
		return errStopped
	}
	return <-reply
}

// Issuer returns the owning issuer.
func (a *Accumulator) Issuer() id.IssuerID {
	return a.issuer
}

// AddCredential stages the addition of a credential id.
func (a *Accumulator) AddCredential(ctx context.Context, credentialID id.CredentialID) (Delta, error) {
	var d Delta
	err := a.exec(ctx, func() error {
		if err := a.writable(); err != nil {
			return err
		}
		key := KeyFor(credentialID)
		if _, pending := a.stagedKeys[key]; pending || a.committed.Get(key) != LeafEmpty {
			return dErrors.Wrap(dErrors.ErrDuplicateID, dErrors.CodeDuplicateID, "credential already in accumulator")
		}
		d = a.stage(credentialID, OpAdd, key, LeafActive)
		return nil
	})
	return d, err
}

// Revoke stages the revocation of a credential id. Revoking a revoked id
// yields an unchanged delta and leaves the accumulator as it is.
func (a *Accumulator) Revoke(ctx context.Context, credentialID id.CredentialID) (Delta, error) {
	var d Delta
	err := a.exec(ctx, func() error {
		if err := a.writable(); err != nil {
			return err
		}
		key := KeyFor(credentialID)
		if _, pending := a.stagedKeys[key]; pending {
			return dErrors.New(dErrors.CodeConflict, "credential has a pending accumulator change")
		}
		switch a.committed.Get(key) {
		case LeafEmpty:
			return dErrors.Wrap(dErrors.ErrNotFound, dErrors.CodeNotFound, "credential not in accumulator")
		case LeafRevoked:
			d = Delta{IssuerID: a.issuer, CredentialID: credentialID, Op: OpRevoke, key: key, status: LeafRevoked}
			return nil
		}
		d = a.stage(credentialID, OpRevoke, key, LeafRevoked)
		return nil
	})
	return d, err
}

func (a *Accumulator) stage(credentialID id.CredentialID, op Op, key digest.Digest, status LeafStatus) Delta {
	a.seq++
	d := Delta{
		IssuerID:     a.issuer,
		CredentialID: credentialID,
		Op:           op,
		Seq:          a.seq,
		Changed:      true,
		key:          key,
		status:       status,
	}
	a.staged[d.Seq] = d
	a.stagedKeys[key] = d.Seq
	return d
}

// Confirm applies a staged delta to the committed tree.
func (a *Accumulator) Confirm(ctx context.Context, d Delta) error {
	if !d.Changed {
		return nil
	}
	return a.exec(ctx, func() error {
		staged, ok := a.staged[d.Seq]
		if !ok || staged.key != d.key {
			return dErrors.New(dErrors.CodeInvariantViolation, "delta is not staged")
		}
		delete(a.staged, d.Seq)
		delete(a.stagedKeys, d.key)
		a.committed = a.committed.Set(d.key, d.status)
		a.metrics.observeApplied(a.issuer.String(), d.Op, a.committed.Len())
		return nil
	})
}

// Discard drops a staged delta without applying it.
func (a *Accumulator) Discard(ctx context.Context, d Delta) error {
	if !d.Changed {
		return nil
	}
	return a.exec(ctx, func() error {
		if staged, ok := a.staged[d.Seq]; ok {
			delete(a.staged, d.Seq)
			delete(a.stagedKeys, staged.key)
			a.metrics.incDiscarded()
		}
		return nil
	})
}

// Checkpoint freezes the committed tree as the candidate state of epoch and
// returns its root. Staged deltas are not included.
func (a *Accumulator) Checkpoint(ctx context.Context, epoch uint64) (digest.Digest, error) {
	var root digest.Digest
	err := a.exec(ctx, func() error {
		if epoch <= a.lastCheckpoint {
			return dErrors.New(dErrors.CodeInvariantViolation, "checkpoint epoch must increase")
		}
		a.checkpoints[epoch] = a.committed
		a.lastCheckpoint = epoch
		root = a.committed.Root()
		return nil
	})
	return root, err
}

// Publish makes a checkpointed epoch visible to witness queries. Earlier
// unpublished checkpoints are dropped.
func (a *Accumulator) Publish(ctx context.Context, epoch uint64, anchoredAt time.Time) error {
	return a.exec(ctx, func() error {
		tree, ok := a.checkpoints[epoch]
		if !ok {
			return dErrors.Wrap(dErrors.ErrNotFound, dErrors.CodeNotFound, "no checkpoint for epoch")
		}
		prev := a.published.Load()
		if n := len(prev.snapshots); n > 0 && prev.snapshots[n-1].epoch >= epoch {
			return dErrors.New(dErrors.CodeInvariantViolation, "published epochs must increase")
		}
		for e := range a.checkpoints {
			if e <= epoch {
				delete(a.checkpoints, e)
			}
		}
		next := &history{
			snapshots:     append(append([]snapshot(nil), prev.snapshots...), snapshot{epoch: epoch, tree: tree, anchoredAt: anchoredAt}),
			prunedThrough: prev.prunedThrough,
		}
		a.prune(next)
		a.published.Store(next)
		a.metrics.setRetained(a.issuer.String(), len(next.snapshots))
		return nil
	})
}

// Abandon drops the checkpoint of an epoch that will never be anchored. Its
// changes remain in the committed tree and roll into the next checkpoint.
func (a *Accumulator) Abandon(ctx context.Context, epoch uint64) error {
	return a.exec(ctx, func() error {
		delete(a.checkpoints, epoch)
		return nil
	})
}

// prune drops snapshots anchored before the retention window. The newest
// snapshot is always kept.
func (a *Accumulator) prune(h *history) {
	cutoff := a.now().Add(-a.retention)
	drop := 0
	for drop < len(h.snapshots)-1 && h.snapshots[drop].anchoredAt.Before(cutoff) {
		h.prunedThrough = h.snapshots[drop].epoch
		drop++
	}
	if drop > 0 {
		h.snapshots = h.snapshots[drop:]
		a.logger.Debug("pruned accumulator history", "issuer", a.issuer, "pruned_through", h.prunedThrough)
	}
}

// Prune applies the retention window without publishing.
func (a *Accumulator) Prune(ctx context.Context) error {
	return a.exec(ctx, func() error {
		prev := a.published.Load()
		next := &history{snapshots: append([]snapshot(nil), prev.snapshots...), prunedThrough: prev.prunedThrough}
		a.prune(next)
		a.published.Store(next)
		a.metrics.setRetained(a.issuer.String(), len(next.snapshots))
		return nil
	})
}

// CurrentEpoch is the latest published epoch, or 0 if none.
func (a *Accumulator) CurrentEpoch() uint64 {
	h := a.published.Load()
	if len(h.snapshots) == 0 {
		return 0
	}
	return h.snapshots[len(h.snapshots)-1].epoch
}

// Root returns the accumulator root published for epoch.
func (a *Accumulator) Root(epoch uint64) (digest.Digest, error) {
	snap, err := a.snapshotAt(epoch)
	if err != nil {
		return digest.Digest{}, err
	}
	return snap.tree.Root(), nil
}

// WitnessFor returns the credential's witness as of a published epoch. A
// revoked or never-added credential gets a non-membership witness.
func (a *Accumulator) WitnessFor(credentialID id.CredentialID, epoch uint64) (Witness, error) {
	snap, err := a.snapshotAt(epoch)
	if err != nil {
		return Witness{}, err
	}
	key := KeyFor(credentialID)
	return Witness{
		IssuerID:     a.issuer,
		CredentialID: credentialID,
		Epoch:        snap.epoch,
		Root:         snap.tree.Root(),
		Status:       snap.tree.Get(key),
		Path:         snap.tree.Prove(key),
	}, nil
}

func (a *Accumulator) snapshotAt(epoch uint64) (snapshot, error) {
	h := a.published.Load()
	if epoch <= h.prunedThrough {
		return snapshot{}, dErrors.Wrap(dErrors.ErrEpochTooOld, dErrors.CodeEpochTooOld, "epoch is outside the retained witness history")
	}
	snap, ok := h.find(epoch)
	if !ok {
		return snapshot{}, dErrors.Wrap(dErrors.ErrNotFound, dErrors.CodeNotFound, "epoch not published for issuer")
	}
	return snap, nil
}

// Halt refuses further mutations until Reconcile succeeds.
func (a *Accumulator) Halt(reason error) {
	if reason == nil {
		reason = errors.New("halted")
	}
	_ = a.exec(context.Background(), func() error {
		if a.haltReason == nil {
			a.metrics.incHalts()
		}
		a.haltReason = reason
		a.halted.Store(true)
		a.logger.Error("accumulator halted, manual reconciliation required",
			"issuer", a.issuer,
			"reason", reason.Error(),
		)
		return nil
	})
}

// Halted reports whether mutations are refused.
func (a *Accumulator) Halted() bool {
	return a.halted.Load()
}

// Reconcile rebuilds the committed tree from authoritative leaf statuses,
// drops staged deltas, and lifts a halt.
func (a *Accumulator) Reconcile(ctx context.Context, entries map[id.CredentialID]LeafStatus) (digest.Digest, error) {
	var root digest.Digest
	err := a.exec(ctx, func() error {
		var tree Tree
		for cid, status := range entries {
			tree = tree.Set(KeyFor(cid), status)
		}
		a.committed = tree
		a.staged = make(map[uint64]Delta)
		a.stagedKeys = make(map[digest.Digest]uint64)
		a.haltReason = nil
		a.halted.Store(false)
		root = tree.Root()
		a.logger.Info("accumulator reconciled", "issuer", a.issuer, "leaves", tree.Len())
		return nil
	})
	return root, err
}

// CommittedRoot returns the root of the committed, possibly unpublished, tree.
func (a *Accumulator) CommittedRoot(ctx context.Context) (digest.Digest, error) {
	var root digest.Digest
	err := a.exec(ctx, func() error {
		root = a.committed.Root()
		return nil
	})
	return root, err
}

func (a *Accumulator) writable() error {
	if a.haltReason != nil {
		return dErrors.Wrap(dErrors.ErrAccumulatorCorrupted, dErrors.CodeAccumulatorCorrupted, "issuer halted pending reconciliation")
	}
	return nil
}
