// Package batcher aggregates committed issuances and revocations into epochs
// and anchors each epoch's digest to the ledger.
//
// Producers enqueue items without blocking. A collector goroutine seals the
// buffer on a timer, when it reaches a size threshold, or on request; a
// single submitter goroutine anchors sealed epochs one at a time.
package batcher

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"veritas/internal/accumulator"
	"veritas/internal/anchor/ledger"
	"veritas/internal/anchor/models"
	anchorstore "veritas/internal/anchor/store"
	"veritas/internal/crypto/digest"
	"veritas/internal/events"
	id "veritas/pkg/domain"
	dErrors "veritas/pkg/domain-errors"
	"veritas/pkg/platform/circuit"
)

// maxTracked bounds how many finished epochs stay queryable through Status.
const maxTracked = 1024

// Config holds batching and retry settings.
type Config struct {
	// Interval is the seal period.
	Interval time.Duration
	// Threshold is the buffered item count that triggers an early seal.
	Threshold int
	// AttemptTimeout bounds one submit plus confirmation wait.
	AttemptTimeout time.Duration
	// PollInterval is the confirmation poll period.
	PollInterval   time.Duration
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// MaxAttempts per epoch before it is abandoned and its items roll forward.
	MaxAttempts int
	// FirstEpoch is the number given to the first sealed epoch.
	FirstEpoch uint64
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Interval:       30 * time.Second,
		Threshold:      500,
		AttemptTimeout: 2 * time.Minute,
		PollInterval:   2 * time.Second,
		InitialBackoff: time.Second,
		MaxBackoff:     time.Minute,
		MaxAttempts:    8,
		FirstEpoch:     1,
	}
}

// NextEpoch returns one past the highest epoch ever sealed or anchored for
// issuers. A restarted batcher starts there so no number is handed out twice,
// including numbers whose epoch was abandoned or still in flight at shutdown.
func NextEpoch(ctx context.Context, sealed anchorstore.EpochLog, records anchorstore.Store, issuers []id.IssuerID) (uint64, error) {
	var highest uint64
	if sealed != nil {
		n, err := sealed.LastSealed(ctx)
		if err != nil {
			return 0, dErrors.Wrap(err, dErrors.CodeUnavailable, "read last sealed epoch")
		}
		highest = n
	}
	for _, issuerID := range issuers {
		rec, err := records.Latest(ctx, issuerID)
		if dErrors.HasCode(err, dErrors.CodeNotFound) {
			continue
		}
		if err != nil {
			return 0, dErrors.Wrap(err, dErrors.CodeUnavailable, "read latest anchor record")
		}
		highest = max(highest, rec.Epoch)
	}
	return highest + 1, nil
}

// CredentialMarker records on stored credentials the epoch that anchored them.
type CredentialMarker interface {
	MarkAnchored(ctx context.Context, epoch uint64, issued, revoked []id.CredentialID) error
}

type sealResult struct {
	epoch uint64
	err   error
}

type sealRequest struct {
	reply chan sealResult
}

// Batcher is the single writer of epochs and anchor records.
type Batcher struct {
	ledger      ledger.Ledger
	accs        *accumulator.Registry
	records     anchorstore.Store
	credentials CredentialMarker
	sealedLog   anchorstore.EpochLog
	publisher   events.Publisher
	breaker     *circuit.Breaker
	cfg         Config
	now         func() time.Time
	logger      *slog.Logger
	metrics     *Metrics

	// admit is held shared by Commit and exclusively while an epoch takes the
	// buffer and checkpoints the accumulators.
	admit sync.RWMutex

	mu           sync.Mutex
	pending      []models.Item
	next         uint64
	epochs       map[uint64]*models.Epoch
	lastAnchored uint64
	// changed is closed and replaced on every epoch state change.
	changed chan struct{}

	full    chan struct{}
	sealReq chan sealRequest
	sealed  chan *models.Epoch

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started atomic.Bool
}

// Option configures the Batcher.
type Option func(*Batcher)

func WithConfig(cfg Config) Option {
	return func(b *Batcher) {
		b.cfg = cfg
	}
}

// WithPublisher sets where EpochAnchored events go.
func WithPublisher(p events.Publisher) Option {
	return func(b *Batcher) {
		b.publisher = p
	}
}

// WithEpochLog persists every sealed epoch number before it is used, so a
// restart can continue above numbers that were sealed but never anchored.
func WithEpochLog(log anchorstore.EpochLog) Option {
	return func(b *Batcher) {
		b.sealedLog = log
	}
}

// WithBreaker replaces the ledger circuit breaker.
func WithBreaker(br *circuit.Breaker) Option {
	return func(b *Batcher) {
		if br != nil {
			b.breaker = br
		}
	}
}

func WithMetrics(m *Metrics) Option {
	return func(b *Batcher) {
		b.metrics = m
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(b *Batcher) {
		if logger != nil {
			b.logger = logger
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(b *Batcher) {
		if now != nil {
			b.now = now
		}
	}
}

// New creates a batcher. Call Start to begin sealing and submitting.
func New(l ledger.Ledger, accs *accumulator.Registry, records anchorstore.Store, credentials CredentialMarker, opts ...Option) *Batcher {
	ctx, cancel := context.WithCancel(context.Background())
	b := &Batcher{
		ledger:      l,
		accs:        accs,
		records:     records,
		credentials: credentials,
		breaker:     circuit.New("ledger"),
		cfg:         DefaultConfig(),
		now:         time.Now,
		logger:      slog.Default(),
		epochs:      make(map[uint64]*models.Epoch),
		changed:     make(chan struct{}),
		full:        make(chan struct{}, 1),
		sealReq:     make(chan sealRequest),
		sealed:      make(chan *models.Epoch, 16),
		ctx:         ctx,
		cancel:      cancel,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.cfg.FirstEpoch == 0 {
		b.cfg.FirstEpoch = 1
	}
	if b.cfg.MaxAttempts < 1 {
		b.cfg.MaxAttempts = 1
	}
	b.next = b.cfg.FirstEpoch
	return b
}

// Start launches the collector and submitter goroutines.
func (b *Batcher) Start() {
	if !b.started.CompareAndSwap(false, true) {
		return
	}
	b.wg.Add(2)
	go b.collect()
	go b.submitLoop()
}

// Stop stops sealing. An in-flight ledger attempt is allowed to finish;
// epochs still queued get one attempt each.
func (b *Batcher) Stop(ctx context.Context) error {
	b.cancel()
	if !b.started.Load() {
		return nil
	}

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Enqueue adds a committed change to the collecting buffer. It never blocks.
func (b *Batcher) Enqueue(item models.Item) {
	if item.EnqueuedAt.IsZero() {
		item.EnqueuedAt = b.now()
	}
	b.mu.Lock()
	b.pending = append(b.pending, item)
	n := len(b.pending)
	b.mu.Unlock()

	b.metrics.setPending(n)
	b.signalIfFull(n)
}

// Commit runs apply and, if it succeeds, enqueues items before any epoch can
// seal. A change applied to an accumulator is therefore anchored by the epoch
// whose checkpoint first includes it. apply may be nil.
func (b *Batcher) Commit(apply func() error, items ...models.Item) error {
	b.admit.RLock()
	defer b.admit.RUnlock()
	if apply != nil {
		if err := apply(); err != nil {
			return err
		}
	}
	for _, item := range items {
		b.Enqueue(item)
	}
	return nil
}

func (b *Batcher) signalIfFull(n int) {
	if b.cfg.Threshold > 0 && n >= b.cfg.Threshold {
		select {
		case b.full <- struct{}{}:
		default:
		}
	}
}

// Seal forces the collecting epoch to seal, even if empty, and returns its
// number.
func (b *Batcher) Seal(ctx context.Context) (uint64, error) {
	if !b.started.Load() {
		return 0, dErrors.New(dErrors.CodeUnavailable, "batcher not started")
	}
	req := sealRequest{reply: make(chan sealResult, 1)}
	select {
	case b.sealReq <- req:
	case <-ctx.Done():
		return 0, dErrors.Wrap(ctx.Err(), dErrors.CodeTimeout, "seal request cancelled")
	case <-b.ctx.Done():
		return 0, dErrors.New(dErrors.CodeUnavailable, "batcher stopped")
	}
	select {
	case res := <-req.reply:
		return res.epoch, res.err
	case <-ctx.Done():
		return 0, dErrors.Wrap(ctx.Err(), dErrors.CodeTimeout, "seal request cancelled")
	}
}

// WaitAnchored blocks until epoch reaches a terminal state. An abandoned
// epoch yields LedgerTimeout; its items are anchored by a later epoch.
func (b *Batcher) WaitAnchored(ctx context.Context, epoch uint64) (models.Snapshot, error) {
	for {
		b.mu.Lock()
		ep, ok := b.epochs[epoch]
		var snap models.Snapshot
		if ok {
			snap = ep.Snapshot()
		}
		next, changed := b.next, b.changed
		b.mu.Unlock()

		switch {
		case ok && snap.State == models.EpochAnchored:
			return snap, nil
		case ok && snap.State == models.EpochAbandoned:
			return snap, dErrors.Wrap(dErrors.ErrLedgerTimeout, dErrors.CodeLedgerTimeout, "epoch abandoned, items rolled forward")
		case !ok && epoch < next:
			return models.Snapshot{}, dErrors.Wrap(dErrors.ErrNotFound, dErrors.CodeNotFound, "epoch is not tracked")
		}

		select {
		case <-changed:
		case <-ctx.Done():
			return models.Snapshot{}, dErrors.Wrap(ctx.Err(), dErrors.CodeTimeout, "wait for epoch anchoring")
		case <-b.ctx.Done():
			return models.Snapshot{}, dErrors.New(dErrors.CodeUnavailable, "batcher stopped")
		}
	}
}

// Status returns a tracked epoch.
func (b *Batcher) Status(epoch uint64) (models.Snapshot, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ep, ok := b.epochs[epoch]
	if !ok {
		return models.Snapshot{}, dErrors.Wrap(dErrors.ErrNotFound, dErrors.CodeNotFound, "epoch is not tracked")
	}
	return ep.Snapshot(), nil
}

// Pending is the number of items in the collecting buffer.
func (b *Batcher) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// LastAnchored is the highest anchored epoch, or 0.
func (b *Batcher) LastAnchored() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastAnchored
}

func (b *Batcher) collect() {
	defer b.wg.Done()
	defer close(b.sealed)

	ticker := time.NewTicker(b.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-b.ctx.Done():
			if n := b.Pending(); n > 0 {
				b.logger.Warn("batcher stopped with unsealed items", "pending", n)
			}
			return
		case <-ticker.C:
			b.sealAndHandOff(false)
		case <-b.full:
			b.sealAndHandOff(false)
		case req := <-b.sealReq:
			n, err := b.sealAndHandOff(true)
			req.reply <- sealResult{epoch: n, err: err}
		}
	}
}

func (b *Batcher) sealAndHandOff(force bool) (uint64, error) {
	ep, err := b.seal(b.ctx, force)
	if err != nil {
		b.logger.Error("failed to seal epoch", "error", err)
		return 0, err
	}
	if ep == nil {
		return 0, nil
	}
	select {
	case b.sealed <- ep:
		return ep.Number, nil
	case <-b.ctx.Done():
		return ep.Number, dErrors.New(dErrors.CodeUnavailable, "batcher stopping")
	}
}

// seal freezes the buffer into the next epoch and checkpoints every
// accumulator at that number. Returns nil when there is nothing to seal.
func (b *Batcher) seal(ctx context.Context, force bool) (*models.Epoch, error) {
	b.mu.Lock()
	if len(b.pending) == 0 && !force {
		b.mu.Unlock()
		return nil, nil
	}
	number := b.next
	b.next++
	b.mu.Unlock()

	if b.sealedLog != nil {
		if err := b.sealedLog.RecordSealed(ctx, number); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "record sealed epoch")
		}
	}

	ep, accs, roots, err := b.freeze(ctx, number)
	if err != nil {
		return nil, err
	}

	if err := b.update(ep, func(e *models.Epoch) error {
		return e.Seal(roots, b.now())
	}); err != nil {
		b.release(ep, accs)
		return nil, err
	}

	b.metrics.observeSealed(len(ep.Items))
	b.logger.Info("epoch sealed",
		"epoch", ep.Number,
		"items", len(ep.Items),
		"issuers", len(roots),
		"digest", ep.Digest.String(),
	)
	return ep, nil
}

// freeze moves the buffer into epoch number and checkpoints every accumulator
// at it, with no Commit in between.
func (b *Batcher) freeze(ctx context.Context, number uint64) (*models.Epoch, []*accumulator.Accumulator, map[id.IssuerID]digest.Digest, error) {
	b.admit.Lock()
	defer b.admit.Unlock()

	ep := models.NewEpoch(number)
	b.mu.Lock()
	ep.Items = b.pending
	b.pending = nil
	b.epochs[ep.Number] = ep
	b.mu.Unlock()
	b.metrics.setPending(0)

	for _, item := range ep.Items {
		b.accs.For(item.IssuerID)
	}
	accs := b.accs.All()
	roots := make(map[id.IssuerID]digest.Digest, len(accs))
	for _, acc := range accs {
		root, err := acc.Checkpoint(ctx, ep.Number)
		if err != nil {
			b.release(ep, accs)
			return nil, nil, nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "checkpoint accumulators")
		}
		roots[acc.Issuer()] = root
	}
	return ep, accs, roots, nil
}

// release undoes a seal that never completed. The number is not reused.
func (b *Batcher) release(ep *models.Epoch, accs []*accumulator.Accumulator) {
	for _, acc := range accs {
		_ = acc.Abandon(context.Background(), ep.Number)
	}
	b.mu.Lock()
	b.pending = append(append([]models.Item(nil), ep.Items...), b.pending...)
	delete(b.epochs, ep.Number)
	n := len(b.pending)
	b.notifyLocked()
	b.mu.Unlock()
	b.metrics.setPending(n)
}

func (b *Batcher) submitLoop() {
	defer b.wg.Done()
	for ep := range b.sealed {
		b.anchor(ep)
	}
}

// anchor drives one sealed epoch to Anchored, or abandons it once retries
// are exhausted.
func (b *Batcher) anchor(ep *models.Epoch) {
	confirmed := false
	err := backoff.RetryNotify(func() error {
		return b.attempt(ep, &confirmed)
	}, b.newBackOff(), func(err error, wait time.Duration) {
		b.logger.Warn("epoch anchoring attempt failed",
			"epoch", ep.Number,
			"retry_in", wait,
			"error", err,
		)
	})
	switch {
	case err == nil:
		b.finish(ep)
	case b.ctx.Err() != nil:
		b.logger.Warn("batcher stopped before epoch anchored",
			"epoch", ep.Number,
			"items", len(ep.Items),
			"error", err,
		)
	default:
		b.abandon(ep, err)
	}
}

func (b *Batcher) newBackOff() backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = b.cfg.InitialBackoff
	exp.MaxInterval = b.cfg.MaxBackoff
	exp.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(b.cfg.MaxAttempts-1)), b.ctx)
}

// attempt is one Submitting pass. The ledger call runs under its own
// timeout so shutdown never cuts a submission short. Once the ledger has
// confirmed, later attempts only retry persistence.
func (b *Batcher) attempt(ep *models.Epoch, confirmed *bool) error {
	if err := b.update(ep, func(e *models.Epoch) error {
		if err := e.Transition(models.EpochSubmitting); err != nil {
			return err
		}
		e.Attempts++
		return nil
	}); err != nil {
		return backoff.Permanent(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), b.cfg.AttemptTimeout)
	defer cancel()

	if !*confirmed {
		if err := b.breaker.Allow(); err != nil {
			b.metrics.incAttempt("breaker_open")
			return b.fail(ep, dErrors.Wrap(err, dErrors.CodeUnavailable, "ledger circuit open"))
		}
		ref, err := b.submitAndConfirm(ctx, ep.Digest)
		if err != nil {
			b.recordLedgerFailure()
			b.metrics.incAttempt(string(dErrors.CodeOf(err)))
			return b.fail(ep, err)
		}
		b.recordLedgerSuccess()
		b.metrics.incAttempt("confirmed")
		*confirmed = true
		_ = b.update(ep, func(e *models.Epoch) error {
			e.LedgerRef = string(ref)
			e.AnchoredAt = b.now().UTC().Truncate(time.Microsecond)
			return nil
		})
	}

	if err := b.persist(ctx, ep); err != nil {
		return b.fail(ep, err)
	}
	return nil
}

func (b *Batcher) submitAndConfirm(ctx context.Context, d digest.Digest) (ledger.TxRef, error) {
	ref, err := b.ledger.Submit(ctx, d)
	if err != nil {
		if ctx.Err() != nil {
			return "", dErrors.Wrap(ctx.Err(), dErrors.CodeLedgerTimeout, "ledger submit timed out")
		}
		return "", dErrors.Wrap(err, dErrors.CodeUnavailable, "ledger submit failed")
	}

	ticker := time.NewTicker(b.cfg.PollInterval)
	defer ticker.Stop()
	for {
		status, err := b.ledger.Confirm(ctx, ref)
		switch {
		case err != nil && ctx.Err() != nil:
			return ref, dErrors.Wrap(ctx.Err(), dErrors.CodeLedgerTimeout, "ledger did not confirm in time")
		case err != nil:
			return ref, dErrors.Wrap(err, dErrors.CodeUnavailable, "ledger confirm failed")
		case status == ledger.StatusConfirmed:
			return ref, nil
		case status == ledger.StatusRejected:
			return ref, dErrors.New(dErrors.CodeUnavailable, "ledger rejected transaction "+string(ref))
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ref, dErrors.Wrap(ctx.Err(), dErrors.CodeLedgerTimeout, "ledger did not confirm in time")
		}
	}
}

// persist makes a confirmed epoch visible: anchor records first, then
// accumulator snapshots, then the credential rows. Every step is idempotent.
func (b *Batcher) persist(ctx context.Context, ep *models.Epoch) error {
	b.mu.Lock()
	records := ep.Records()
	anchoredAt := ep.AnchoredAt
	b.mu.Unlock()

	for _, record := range records {
		if err := b.records.Save(ctx, record); err != nil {
			return dErrors.Wrap(err, dErrors.CodeUnavailable, "save anchor record")
		}
	}
	for _, record := range records {
		acc, ok := b.accs.Get(record.IssuerID)
		if !ok || acc.CurrentEpoch() >= ep.Number {
			continue
		}
		if err := acc.Publish(ctx, ep.Number, anchoredAt); err != nil {
			return dErrors.Wrap(err, dErrors.CodeUnavailable, "publish accumulator epoch")
		}
	}
	issued, revoked := ep.Split()
	if err := b.credentials.MarkAnchored(ctx, ep.Number, issued, revoked); err != nil {
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "mark credentials anchored")
	}
	return nil
}

func (b *Batcher) fail(ep *models.Epoch, err error) error {
	_ = b.update(ep, func(e *models.Epoch) error {
		e.LastError = err.Error()
		return e.Transition(models.EpochFailed)
	})
	return err
}

func (b *Batcher) finish(ep *models.Epoch) {
	var snap models.Snapshot
	if err := b.update(ep, func(e *models.Epoch) error {
		if err := e.Transition(models.EpochAnchored); err != nil {
			return err
		}
		e.LastError = ""
		if e.Number > b.lastAnchored {
			b.lastAnchored = e.Number
		}
		snap = e.Snapshot()
		b.forgetLocked()
		return nil
	}); err != nil {
		b.logger.Error("failed to finish anchored epoch", "epoch", ep.Number, "error", err)
		return
	}

	b.metrics.observeAnchored(snap.Number, snap.AnchoredAt.Sub(snap.SealedAt).Seconds())
	b.logger.Info("epoch anchored",
		"epoch", snap.Number,
		"ledger_ref", snap.LedgerRef,
		"items", snap.ItemCount,
		"attempts", snap.Attempts,
	)

	if b.publisher != nil {
		issuers := make([]string, 0, len(ep.AccumulatorRoots))
		for issuer := range ep.AccumulatorRoots {
			issuers = append(issuers, issuer.String())
		}
		sort.Strings(issuers)
		if err := b.publisher.Publish(b.ctx, events.NewEpochAnchored(snap, issuers)); err != nil {
			b.logger.Error("failed to publish epoch anchored event", "epoch", snap.Number, "error", err)
		}
	}
}

// abandon gives up on an epoch and puts its items at the front of the
// collecting buffer so a later epoch anchors them.
func (b *Batcher) abandon(ep *models.Epoch, cause error) {
	for issuer := range ep.AccumulatorRoots {
		if acc, ok := b.accs.Get(issuer); ok {
			_ = acc.Abandon(context.Background(), ep.Number)
		}
	}

	// requeue and transition together so waiters never observe an abandoned
	// epoch whose items are not yet back in the buffer
	b.mu.Lock()
	b.pending = append(append([]models.Item(nil), ep.Items...), b.pending...)
	n := len(b.pending)
	ep.LastError = cause.Error()
	err := ep.Transition(models.EpochAbandoned)
	if err != nil && ep.State != models.EpochFailed {
		if err = ep.Transition(models.EpochFailed); err == nil {
			err = ep.Transition(models.EpochAbandoned)
		}
	}
	b.forgetLocked()
	b.notifyLocked()
	b.mu.Unlock()

	if err != nil {
		b.logger.Error("invalid epoch state on abandon", "epoch", ep.Number, "state", ep.State, "error", err)
	}
	b.metrics.incAbandoned()
	b.metrics.setPending(n)
	b.logger.Error("epoch abandoned, items rolled forward",
		"epoch", ep.Number,
		"items", len(ep.Items),
		"attempts", ep.Attempts,
		"error", cause,
	)
	b.signalIfFull(n)
}

func (b *Batcher) recordLedgerFailure() {
	if change := b.breaker.RecordFailure(); change.Opened {
		b.metrics.setBreakerOpen(true)
		b.logger.Warn("ledger circuit opened")
	}
}

func (b *Batcher) recordLedgerSuccess() {
	if change := b.breaker.RecordSuccess(); change.Closed {
		b.metrics.setBreakerOpen(false)
		b.logger.Info("ledger circuit closed")
	}
}

// update mutates an epoch under the lock and wakes waiters.
func (b *Batcher) update(ep *models.Epoch, fn func(*models.Epoch) error) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	err := fn(ep)
	b.notifyLocked()
	return err
}

func (b *Batcher) notifyLocked() {
	close(b.changed)
	b.changed = make(chan struct{})
}

func (b *Batcher) forgetLocked() {
	for n, ep := range b.epochs {
		if ep.State.Terminal() && n+maxTracked < b.next {
			delete(b.epochs, n)
		}
	}
}
