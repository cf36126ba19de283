// Package issuer holds issuer signing keys and the credential signature scheme.
package issuer

import (
	"crypto/ed25519"
	"crypto/rand"
	"sort"
	"sync"
	"time"

	id "veritas/pkg/domain"
	dErrors "veritas/pkg/domain-errors"
)

// KeyStatus is the lifecycle state of a signing key.
type KeyStatus string

const (
	KeyActive  KeyStatus = "active"
	KeyRevoked KeyStatus = "revoked"
)

// KeyInfo is the public view of a registered key.
type KeyInfo struct {
	IssuerID  id.IssuerID       `json:"issuer_id"`
	KeyID     id.KeyID          `json:"key_id"`
	PublicKey ed25519.PublicKey `json:"public_key"`
	Status    KeyStatus         `json:"status"`
	AddedAt   time.Time         `json:"added_at"`
	RevokedAt *time.Time        `json:"revoked_at,omitempty"`
}

type key struct {
	info    KeyInfo
	private ed25519.PrivateKey
}

// Registry is the set of issuers the engine signs for. Keys can be revoked
// but never removed, so historic signatures stay attributable.
type Registry struct {
	mu      sync.RWMutex
	issuers map[id.IssuerID]map[id.KeyID]*key
	now     func() time.Time
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithClock overrides the time source used for AddedAt.
func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) {
		r.now = now
	}
}

func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		issuers: make(map[id.IssuerID]map[id.KeyID]*key),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// AddKey registers an Ed25519 key derived from a 32-byte seed.
func (r *Registry) AddKey(issuerID id.IssuerID, keyID id.KeyID, seed []byte) (KeyInfo, error) {
	if issuerID.IsNil() || keyID.IsNil() {
		return KeyInfo{}, dErrors.New(dErrors.CodeInvalidInput, "issuer id and key id are required")
	}
	if len(seed) != ed25519.SeedSize {
		return KeyInfo{}, dErrors.New(dErrors.CodeInvalidInput, "signing key seed must be 32 bytes")
	}
	priv := ed25519.NewKeyFromSeed(seed)

	r.mu.Lock()
	defer r.mu.Unlock()
	keys, ok := r.issuers[issuerID]
	if !ok {
		keys = make(map[id.KeyID]*key)
		r.issuers[issuerID] = keys
	}
	if _, exists := keys[keyID]; exists {
		return KeyInfo{}, dErrors.New(dErrors.CodeConflict, "key already registered: "+keyID.String())
	}
	k := &key{
		info: KeyInfo{
			IssuerID:  issuerID,
			KeyID:     keyID,
			PublicKey: priv.Public().(ed25519.PublicKey),
			Status:    KeyActive,
			AddedAt:   r.now().UTC(),
		},
		private: priv,
	}
	keys[keyID] = k
	return k.info, nil
}

// GenerateKey registers a fresh random key and returns its seed so the
// operator can persist it.
func (r *Registry) GenerateKey(issuerID id.IssuerID, keyID id.KeyID) ([]byte, KeyInfo, error) {
	seed := make([]byte, ed25519.SeedSize)
	if _, err := rand.Read(seed); err != nil {
		return nil, KeyInfo{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to generate key seed")
	}
	info, err := r.AddKey(issuerID, keyID, seed)
	if err != nil {
		return nil, KeyInfo{}, err
	}
	return seed, info, nil
}

// RevokeKey retires a key. Revoking a revoked key is a no-op.
func (r *Registry) RevokeKey(issuerID id.IssuerID, keyID id.KeyID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k, err := r.lookupLocked(issuerID, keyID)
	if err != nil {
		return err
	}
	if k.info.Status == KeyRevoked {
		return nil
	}
	revokedAt := at.UTC()
	k.info.Status = KeyRevoked
	k.info.RevokedAt = &revokedAt
	return nil
}

// SigningKey returns the private key for an active key. Unknown issuers,
// unknown keys and revoked keys are all IssuerUnauthorized.
func (r *Registry) SigningKey(issuerID id.IssuerID, keyID id.KeyID) (ed25519.PrivateKey, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	k, err := r.lookupLocked(issuerID, keyID)
	if err != nil || k.info.Status != KeyActive {
		return nil, dErrors.Wrap(dErrors.ErrIssuerUnauthorized, dErrors.CodeIssuerUnauthorized, "issuer key is not active")
	}
	return k.private, nil
}

// VerificationKey returns the public key for an active key. A revoked key no
// longer vouches for anything it signed.
func (r *Registry) VerificationKey(issuerID id.IssuerID, keyID id.KeyID) (ed25519.PublicKey, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	k, err := r.lookupLocked(issuerID, keyID)
	if err != nil || k.info.Status != KeyActive {
		return nil, dErrors.Wrap(dErrors.ErrInvalidSignature, dErrors.CodeInvalidSignature, "issuer key is unknown or revoked")
	}
	return k.info.PublicKey, nil
}

// Known reports whether any key was ever registered for the issuer.
func (r *Registry) Known(issuerID id.IssuerID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.issuers[issuerID]
	return ok
}

// Issuers lists registered issuers in lexical order.
func (r *Registry) Issuers() []id.IssuerID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]id.IssuerID, 0, len(r.issuers))
	for issuerID := range r.issuers {
		out = append(out, issuerID)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Keys lists an issuer's keys ordered by key id.
func (r *Registry) Keys(issuerID id.IssuerID) []KeyInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := r.issuers[issuerID]
	out := make([]KeyInfo, 0, len(keys))
	for _, k := range keys {
		out = append(out, k.info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].KeyID < out[j].KeyID })
	return out
}

func (r *Registry) lookupLocked(issuerID id.IssuerID, keyID id.KeyID) (*key, error) {
	k, ok := r.issuers[issuerID][keyID]
	if !ok {
		return nil, dErrors.Wrap(dErrors.ErrNotFound, dErrors.CodeNotFound, "issuer key not found")
	}
	return k, nil
}
