package ledger

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"veritas/internal/crypto/digest"
)

// ErrUnavailable is returned by the in-memory ledger when failures are injected.
var ErrUnavailable = errors.New("ledger unavailable")

// Entry is a transaction recorded by the in-memory ledger.
type Entry struct {
	Ref         TxRef
	Digest      digest.Digest
	SubmittedAt time.Time
	Polls       int
	Status      Status
}

// Memory is an in-memory ledger. Submissions are deduplicated by digest.
// Failures, rejections and confirmation latency can be injected.
type Memory struct {
	mu           sync.Mutex
	byDigest     map[digest.Digest]TxRef
	entries      map[TxRef]*Entry
	order        []TxRef
	confirmAfter int
	failSubmits  int
	rejectNext   int
	submitDelay  time.Duration
	now          func() time.Time
}

// MemoryOption configures a Memory ledger.
type MemoryOption func(*Memory)

// WithConfirmAfter makes a transaction confirm on the n-th Confirm poll.
func WithConfirmAfter(polls int) MemoryOption {
	return func(m *Memory) {
		m.confirmAfter = polls
	}
}

// WithSubmitDelay simulates network latency on every Submit.
func WithSubmitDelay(d time.Duration) MemoryOption {
	return func(m *Memory) {
		m.submitDelay = d
	}
}

func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		byDigest: make(map[digest.Digest]TxRef),
		entries:  make(map[TxRef]*Entry),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// FailSubmits makes the next n Submit calls fail.
func (m *Memory) FailSubmits(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failSubmits = n
}

// RejectNext makes the next n new transactions end up rejected.
func (m *Memory) RejectNext(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejectNext = n
}

func (m *Memory) Submit(ctx context.Context, d digest.Digest) (TxRef, error) {
	if m.submitDelay > 0 {
		select {
		case <-time.After(m.submitDelay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSubmits > 0 {
		m.failSubmits--
		return "", ErrUnavailable
	}
	if ref, ok := m.byDigest[d]; ok {
		if e := m.entries[ref]; e.Status != StatusRejected {
			return ref, nil
		}
	}
	ref := TxRef("tx-" + strconv.Itoa(len(m.order)+1))
	e := &Entry{Ref: ref, Digest: d, SubmittedAt: m.now(), Status: StatusPending}
	if m.rejectNext > 0 {
		m.rejectNext--
		e.Status = StatusRejected
	}
	m.entries[ref] = e
	m.byDigest[d] = ref
	m.order = append(m.order, ref)
	return ref, nil
}

func (m *Memory) Confirm(_ context.Context, ref TxRef) (Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[ref]
	if !ok {
		return StatusRejected, nil
	}
	e.Polls++
	if e.Status == StatusPending && e.Polls >= m.confirmAfter {
		e.Status = StatusConfirmed
	}
	return e.Status, nil
}

// Confirmed returns the digests of confirmed transactions in submission order.
func (m *Memory) Confirmed() []digest.Digest {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []digest.Digest
	for _, ref := range m.order {
		if e := m.entries[ref]; e.Status == StatusConfirmed {
			out = append(out, e.Digest)
		}
	}
	return out
}

// Entries returns a copy of every recorded transaction.
func (m *Memory) Entries() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Entry, 0, len(m.order))
	for _, ref := range m.order {
		out = append(out, *m.entries[ref])
	}
	return out
}
