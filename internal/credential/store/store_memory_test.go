package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"veritas/internal/credential/models"
	id "veritas/pkg/domain"
	dErrors "veritas/pkg/domain-errors"
	"veritas/pkg/testutil"
)

type InMemoryStoreSuite struct {
	suite.Suite
	store *InMemoryStore
	ctx   context.Context
	now   time.Time
}

func (s *InMemoryStoreSuite) SetupTest() {
	s.store = NewInMemoryStore()
	s.ctx = context.Background()
	s.now = time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
}

func TestInMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(InMemoryStoreSuite))
}

func (s *InMemoryStoreSuite) credential(issuer id.IssuerID) models.Credential {
	return models.Credential{
		ID:         id.NewCredentialID(),
		SubjectID:  "subject-1",
		IssuerID:   issuer,
		SchemaID:   "skill-v1",
		KeyID:      "k1",
		Claims:     models.Claims{"level": models.IntValue(4)},
		IssuedAt:   s.now,
		Commitment: []byte{1, 2, 3},
		Signature:  []byte{4, 5, 6},
	}
}

func (s *InMemoryStoreSuite) TestPutGet() {
	c := s.credential("issuer-1")
	got, err := s.store.Put(s.ctx, c)
	s.Require().NoError(err)
	s.Equal(c.ID, got)

	stored, err := s.store.Get(s.ctx, c.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusActive, stored.Status)
	s.Equal(c.Claims, stored.Claims)

	// returned records are copies
	stored.Claims["level"] = models.IntValue(9)
	again, err := s.store.Get(s.ctx, c.ID)
	s.Require().NoError(err)
	s.Equal(models.IntValue(4), again.Claims["level"])
}

func (s *InMemoryStoreSuite) TestPutDuplicate() {
	c := s.credential("issuer-1")
	_, err := s.store.Put(s.ctx, c)
	s.Require().NoError(err)

	_, err = s.store.Put(s.ctx, c)
	s.True(errors.Is(err, dErrors.ErrDuplicateID))
}

func (s *InMemoryStoreSuite) TestGetNotFound() {
	_, err := s.store.Get(s.ctx, id.NewCredentialID())
	s.True(errors.Is(err, dErrors.ErrNotFound))
}

func (s *InMemoryStoreSuite) TestMarkRevokedIsIdempotent() {
	c := s.credential("issuer-1")
	_, err := s.store.Put(s.ctx, c)
	s.Require().NoError(err)

	s.Require().NoError(s.store.MarkRevoked(s.ctx, c.ID, models.ReasonKeyCompromise, s.now))
	first, err := s.store.Get(s.ctx, c.ID)
	s.Require().NoError(err)

	s.Require().NoError(s.store.MarkRevoked(s.ctx, c.ID, models.ReasonUnspecified, s.now.Add(time.Hour)))
	second, err := s.store.Get(s.ctx, c.ID)
	s.Require().NoError(err)

	s.Equal(first, second)
	s.Equal(models.ReasonKeyCompromise, second.Revocation.Reason)

	err = s.store.MarkRevoked(s.ctx, id.NewCredentialID(), models.ReasonUnspecified, s.now)
	s.True(errors.Is(err, dErrors.ErrNotFound))
}

func (s *InMemoryStoreSuite) TestRunInTxRollsBackOnError() {
	c := s.credential("issuer-1")
	boom := errors.New("boom")

	err := s.store.RunInTx(s.ctx, func(ctx context.Context, tx Store) error {
		if _, err := tx.Put(ctx, c); err != nil {
			return err
		}
		// visible inside the transaction
		if _, err := tx.Get(ctx, c.ID); err != nil {
			return err
		}
		return boom
	})
	s.ErrorIs(err, boom)

	_, err = s.store.Get(s.ctx, c.ID)
	s.True(errors.Is(err, dErrors.ErrNotFound))
}

func (s *InMemoryStoreSuite) TestRunInTxHidesUncommittedWrites() {
	c := s.credential("issuer-1")
	err := s.store.RunInTx(s.ctx, func(ctx context.Context, tx Store) error {
		if _, err := tx.Put(ctx, c); err != nil {
			return err
		}
		_, err := s.store.Get(ctx, c.ID)
		s.True(errors.Is(err, dErrors.ErrNotFound), "uncommitted write leaked")
		return nil
	})
	s.Require().NoError(err)

	_, err = s.store.Get(s.ctx, c.ID)
	s.NoError(err)
}

func (s *InMemoryStoreSuite) TestAsOf() {
	c := s.credential("issuer-1")
	_, err := s.store.Put(s.ctx, c)
	s.Require().NoError(err)

	_, err = s.store.AsOf(s.ctx, c.ID, 1)
	s.True(errors.Is(err, dErrors.ErrNotFound), "pending credential has no anchored status")

	s.Require().NoError(s.store.MarkAnchored(s.ctx, 2, []id.CredentialID{c.ID}, nil))
	s.Require().NoError(s.store.MarkRevoked(s.ctx, c.ID, models.ReasonUnspecified, s.now))
	s.Require().NoError(s.store.MarkAnchored(s.ctx, 4, nil, []id.CredentialID{c.ID}))
	// re-marking keeps the first epoch
	s.Require().NoError(s.store.MarkAnchored(s.ctx, 5, []id.CredentialID{c.ID}, []id.CredentialID{c.ID}))

	_, err = s.store.AsOf(s.ctx, c.ID, 1)
	s.True(errors.Is(err, dErrors.ErrNotFound))

	at3, err := s.store.AsOf(s.ctx, c.ID, 3)
	s.Require().NoError(err)
	s.True(at3.Anchored)
	s.False(at3.Revoked)

	at4, err := s.store.AsOf(s.ctx, c.ID, 4)
	s.Require().NoError(err)
	s.True(at4.Revoked)
}

func (s *InMemoryStoreSuite) TestListByIssuer() {
	a := s.credential("issuer-1")
	b := s.credential("issuer-1")
	b.IssuedAt = s.now.Add(time.Minute)
	other := s.credential("issuer-2")
	for _, c := range []models.Credential{b, other, a} {
		_, err := s.store.Put(s.ctx, c)
		s.Require().NoError(err)
	}

	list, err := s.store.ListByIssuer(s.ctx, "issuer-1")
	s.Require().NoError(err)
	s.Require().Len(list, 2)
	s.Equal(a.ID, list[0].ID)
	s.Equal(b.ID, list[1].ID)
}

func (s *InMemoryStoreSuite) TestListUnanchored() {
	anchored := s.credential("issuer-1")
	fresh := s.credential("issuer-1")
	revokedLater := s.credential("issuer-1")
	other := s.credential("issuer-2")
	for _, c := range []models.Credential{anchored, fresh, revokedLater, other} {
		_, err := s.store.Put(s.ctx, c)
		s.Require().NoError(err)
	}
	s.Require().NoError(s.store.MarkAnchored(s.ctx, 1, []id.CredentialID{anchored.ID, revokedLater.ID}, nil))
	s.Require().NoError(s.store.MarkRevoked(s.ctx, revokedLater.ID, models.ReasonUnspecified, s.now))

	list, err := s.store.ListUnanchored(s.ctx, "issuer-1")
	s.Require().NoError(err)
	ids := make([]id.CredentialID, 0, len(list))
	for _, c := range list {
		ids = append(ids, c.ID)
	}
	s.ElementsMatch([]id.CredentialID{fresh.ID, revokedLater.ID}, ids)

	s.Require().NoError(s.store.MarkAnchored(s.ctx, 2, []id.CredentialID{fresh.ID}, []id.CredentialID{revokedLater.ID}))
	list, err = s.store.ListUnanchored(s.ctx, "issuer-1")
	s.Require().NoError(err)
	s.Empty(list)
}

func (s *InMemoryStoreSuite) TestConcurrentDuplicatePuts() {
	c := s.credential("issuer-1")
	result := testutil.RunConcurrent(20, func(int) error {
		_, err := s.store.Put(s.ctx, c)
		return err
	})
	s.Equal(int32(1), result.Successes)
	s.Equal(int32(19), result.Conflicts)
}
