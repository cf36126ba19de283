package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"veritas/internal/credential/models"
	id "veritas/pkg/domain"
	dErrors "veritas/pkg/domain-errors"
)

// InMemoryStore is an in-memory Store for tests and local use. It is safe for
// concurrent access but does not persist across process restarts.
type InMemoryStore struct {
	mu          sync.RWMutex
	txMu        sync.Mutex
	credentials map[id.CredentialID]models.Credential
}

// NewInMemoryStore constructs an empty in-memory claim store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{credentials: make(map[id.CredentialID]models.Credential)}
}

func (s *InMemoryStore) Put(ctx context.Context, credential models.Credential) (id.CredentialID, error) {
	var out id.CredentialID
	err := s.RunInTx(ctx, func(ctx context.Context, tx Store) error {
		var err error
		out, err = tx.Put(ctx, credential)
		return err
	})
	return out, err
}

func (s *InMemoryStore) Get(_ context.Context, credentialID id.CredentialID) (models.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.credentials[credentialID]
	if !ok {
		return models.Credential{}, ErrNotFound
	}
	return cloneCredential(c), nil
}

func (s *InMemoryStore) MarkRevoked(ctx context.Context, credentialID id.CredentialID, reason models.RevocationReason, at time.Time) error {
	return s.RunInTx(ctx, func(ctx context.Context, tx Store) error {
		return tx.MarkRevoked(ctx, credentialID, reason, at)
	})
}

func (s *InMemoryStore) MarkAnchored(_ context.Context, epoch uint64, issued, revoked []id.CredentialID) error {
	// staged transactions hold copies; block them so their commit cannot
	// overwrite the epochs recorded here
	s.txMu.Lock()
	defer s.txMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, cid := range issued {
		if c, ok := s.credentials[cid]; ok && c.AnchoredEpoch == 0 {
			c.AnchoredEpoch = epoch
			s.credentials[cid] = c
		}
	}
	for _, cid := range revoked {
		if c, ok := s.credentials[cid]; ok && c.RevocationEpoch == 0 {
			c.RevocationEpoch = epoch
			s.credentials[cid] = c
		}
	}
	return nil
}

func (s *InMemoryStore) AsOf(ctx context.Context, credentialID id.CredentialID, epoch uint64) (models.StatusAt, error) {
	c, err := s.Get(ctx, credentialID)
	if err != nil {
		return models.StatusAt{}, err
	}
	return statusAt(c, epoch)
}

func (s *InMemoryStore) ListByIssuer(_ context.Context, issuerID id.IssuerID) ([]models.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Credential
	for _, c := range s.credentials {
		if c.IssuerID == issuerID {
			out = append(out, cloneCredential(c))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].IssuedAt.Equal(out[j].IssuedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].IssuedAt.Before(out[j].IssuedAt)
	})
	return out, nil
}

func (s *InMemoryStore) ListUnanchored(ctx context.Context, issuerID id.IssuerID) ([]models.Credential, error) {
	list, err := s.ListByIssuer(ctx, issuerID)
	if err != nil {
		return nil, err
	}
	return filterUnanchored(list), nil
}

// RunInTx stages writes in an overlay and applies them atomically when fn
// succeeds. Transactions are serialized.
func (s *InMemoryStore) RunInTx(ctx context.Context, fn func(ctx context.Context, store Store) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()

	tx := &memoryTx{base: s, staged: make(map[id.CredentialID]models.Credential)}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for cid, c := range tx.staged {
		s.credentials[cid] = c
	}
	return nil
}

type memoryTx struct {
	base   *InMemoryStore
	staged map[id.CredentialID]models.Credential
}

func (t *memoryTx) lookup(cid id.CredentialID) (models.Credential, bool) {
	if c, ok := t.staged[cid]; ok {
		return c, true
	}
	t.base.mu.RLock()
	defer t.base.mu.RUnlock()
	c, ok := t.base.credentials[cid]
	return c, ok
}

func (t *memoryTx) Put(_ context.Context, credential models.Credential) (id.CredentialID, error) {
	if _, exists := t.lookup(credential.ID); exists {
		return "", ErrDuplicateID
	}
	c := cloneCredential(credential)
	if c.Status == "" {
		c.Status = models.StatusActive
	}
	t.staged[c.ID] = c
	return c.ID, nil
}

func (t *memoryTx) Get(_ context.Context, credentialID id.CredentialID) (models.Credential, error) {
	c, ok := t.lookup(credentialID)
	if !ok {
		return models.Credential{}, ErrNotFound
	}
	return cloneCredential(c), nil
}

func (t *memoryTx) MarkRevoked(_ context.Context, credentialID id.CredentialID, reason models.RevocationReason, at time.Time) error {
	c, ok := t.lookup(credentialID)
	if !ok {
		return ErrNotFound
	}
	c = cloneCredential(c)
	if revoke(&c, reason, at) {
		t.staged[c.ID] = c
	}
	return nil
}

func (t *memoryTx) MarkAnchored(context.Context, uint64, []id.CredentialID, []id.CredentialID) error {
	return dErrors.New(dErrors.CodeInternal, "anchoring bookkeeping is not transactional")
}

func (t *memoryTx) AsOf(ctx context.Context, credentialID id.CredentialID, epoch uint64) (models.StatusAt, error) {
	c, err := t.Get(ctx, credentialID)
	if err != nil {
		return models.StatusAt{}, err
	}
	return statusAt(c, epoch)
}

func (t *memoryTx) ListByIssuer(ctx context.Context, issuerID id.IssuerID) ([]models.Credential, error) {
	list, err := t.base.ListByIssuer(ctx, issuerID)
	if err != nil {
		return nil, err
	}
	for i, c := range list {
		if staged, ok := t.staged[c.ID]; ok {
			list[i] = cloneCredential(staged)
		}
	}
	for cid, c := range t.staged {
		if c.IssuerID != issuerID {
			continue
		}
		if _, err := t.base.Get(ctx, cid); err != nil {
			list = append(list, cloneCredential(c))
		}
	}
	return list, nil
}

func (t *memoryTx) ListUnanchored(ctx context.Context, issuerID id.IssuerID) ([]models.Credential, error) {
	list, err := t.ListByIssuer(ctx, issuerID)
	if err != nil {
		return nil, err
	}
	return filterUnanchored(list), nil
}

func cloneCredential(c models.Credential) models.Credential {
	out := c
	if c.Claims != nil {
		out.Claims = make(models.Claims, len(c.Claims))
		for k, v := range c.Claims {
			out.Claims[k] = v
		}
	}
	out.Commitment = append([]byte(nil), c.Commitment...)
	out.Signature = append([]byte(nil), c.Signature...)
	if c.ExpiresAt != nil {
		exp := *c.ExpiresAt
		out.ExpiresAt = &exp
	}
	if c.Revocation != nil {
		rev := *c.Revocation
		out.Revocation = &rev
	}
	return out
}
