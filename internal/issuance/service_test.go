package issuance

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"veritas/internal/accumulator"
	"veritas/internal/anchor/batcher"
	"veritas/internal/anchor/ledger"
	anchormodels "veritas/internal/anchor/models"
	anchorstore "veritas/internal/anchor/store"
	"veritas/internal/credential/commitment"
	"veritas/internal/credential/models"
	"veritas/internal/credential/schema"
	"veritas/internal/credential/store"
	"veritas/internal/events"
	"veritas/internal/issuer"
	id "veritas/pkg/domain"
	dErrors "veritas/pkg/domain-errors"
	"veritas/pkg/testutil"
)

type queue struct {
	mu    sync.Mutex
	items []anchormodels.Item
	// around, when set, wraps apply so a test can observe state on both sides.
	around func(apply func() error) error
}

func (q *queue) Commit(apply func() error, items ...anchormodels.Item) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if apply != nil {
		run := apply
		if q.around != nil {
			run = func() error { return q.around(apply) }
		}
		if err := run(); err != nil {
			return err
		}
	}
	q.items = append(q.items, items...)
	return nil
}

func (q *queue) Items() []anchormodels.Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]anchormodels.Item(nil), q.items...)
}

// failingStore commits nothing.
type failingStore struct {
	*store.InMemoryStore
}

func (f failingStore) RunInTx(context.Context, func(ctx context.Context, s store.Store) error) error {
	return dErrors.New(dErrors.CodeUnavailable, "database unavailable")
}

type ServiceSuite struct {
	suite.Suite
	ctx      context.Context
	now      time.Time
	schemas  *schema.Registry
	keys     *issuer.Registry
	store    *store.InMemoryStore
	accs     *accumulator.Registry
	queue    *queue
	recorder *events.Recorder
	service  *Service
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.ctx = context.Background()
	s.now = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	s.schemas = schema.NewRegistry()
	s.Require().NoError(s.schemas.Register(testutil.SkillSchema()))
	s.keys = issuer.NewRegistry()
	_, err := s.keys.AddKey(testutil.TestIDs.Issuer1, testutil.TestIDs.Key1, testutil.Seed(1))
	s.Require().NoError(err)
	_, err = s.keys.AddKey(testutil.TestIDs.Issuer2, testutil.TestIDs.Key1, testutil.Seed(2))
	s.Require().NoError(err)
	s.store = store.NewInMemoryStore()
	s.accs = accumulator.NewRegistry()
	s.queue = &queue{}
	s.recorder = events.NewRecorder()
	s.service = s.newService(s.store)
}

func (s *ServiceSuite) TearDownTest() {
	s.accs.Close()
}

func (s *ServiceSuite) newService(credentials store.TransactionalStore) *Service {
	return NewService(s.schemas, s.keys, credentials, s.accs, s.queue,
		WithPublisher(s.recorder),
		WithClock(func() time.Time { return s.now }),
	)
}

func (s *ServiceSuite) request(issuerID id.IssuerID) IssueRequest {
	return IssueRequest{
		IssuerID:  issuerID,
		KeyID:     testutil.TestIDs.Key1,
		SubjectID: testutil.TestIDs.Subject1.String(),
		SchemaID:  testutil.TestIDs.Schema,
		Claims:    testutil.SkillClaims(4, "Cognitive"),
	}
}

func (s *ServiceSuite) issue(issuerID id.IssuerID) models.Credential {
	issued, err := s.service.Issue(s.ctx, s.request(issuerID))
	s.Require().NoError(err)
	return issued.Credential
}

func (s *ServiceSuite) committedRoot(issuerID id.IssuerID) string {
	root, err := s.accs.For(issuerID).CommittedRoot(s.ctx)
	s.Require().NoError(err)
	return root.String()
}

func (s *ServiceSuite) TestIssue() {
	issued, err := s.service.Issue(s.ctx, s.request(testutil.TestIDs.Issuer1))
	s.Require().NoError(err)
	c := issued.Credential

	s.Equal(testutil.TestIDs.Issuer1, c.IssuerID)
	s.Equal(models.StatusActive, c.Status)
	s.Equal(s.now, c.IssuedAt)
	s.Equal(models.IntValue(4), c.Claims["level"])

	s.Run("blinding factor opens the commitment", func() {
		sch, err := s.schemas.Get(c.SchemaID)
		s.Require().NoError(err)
		s.True(commitment.ParamsFor(sch).Open(c.Commitment, c.Claims, issued.BlindingFactor))
	})

	s.Run("signature verifies under the issuer key", func() {
		s.NoError(s.keys.VerifyCredential(c))
	})

	s.Run("credential is stored", func() {
		stored, err := s.store.Get(s.ctx, c.ID)
		s.Require().NoError(err)
		s.Equal(c.Commitment, stored.Commitment)
	})

	s.Run("accumulator holds an active leaf", func() {
		acc := s.accs.For(c.IssuerID)
		_, err := acc.Checkpoint(s.ctx, 1)
		s.Require().NoError(err)
		s.Require().NoError(acc.Publish(s.ctx, 1, s.now))
		w, err := acc.WitnessFor(c.ID, 1)
		s.Require().NoError(err)
		s.True(w.Member())
	})

	s.Run("issuance is queued and announced", func() {
		items := s.queue.Items()
		s.Require().Len(items, 1)
		s.Equal(anchormodels.ItemIssuance, items[0].Kind)
		s.Equal(c.ID, items[0].CredentialID)
		s.Len(s.recorder.OfType(events.TypeCredentialIssued), 1)
	})
}

func (s *ServiceSuite) TestIssueValidation() {
	before := s.committedRoot(testutil.TestIDs.Issuer1)
	past := s.now.Add(-time.Hour)

	tests := []struct {
		name   string
		mutate func(r *IssueRequest)
		code   dErrors.Code
	}{
		{"unknown schema", func(r *IssueRequest) { r.SchemaID = "unknown-v1" }, dErrors.CodeSchemaViolation},
		{"missing attribute", func(r *IssueRequest) { delete(r.Claims, "level") }, dErrors.CodeSchemaViolation},
		{"wrong type", func(r *IssueRequest) { r.Claims["level"] = "four" }, dErrors.CodeSchemaViolation},
		{"schema checked before key", func(r *IssueRequest) {
			r.Claims["level"] = "four"
			r.KeyID = "missing"
		}, dErrors.CodeSchemaViolation},
		{"unknown key", func(r *IssueRequest) { r.KeyID = "missing" }, dErrors.CodeIssuerUnauthorized},
		{"unknown issuer", func(r *IssueRequest) { r.IssuerID = "did:example:stranger" }, dErrors.CodeIssuerUnauthorized},
		{"empty subject", func(r *IssueRequest) { r.SubjectID = "" }, dErrors.CodeInvalidInput},
		{"malformed subject", func(r *IssueRequest) { r.SubjectID = "has space" }, dErrors.CodeInvalidInput},
		{"expiry in the past", func(r *IssueRequest) { r.ExpiresAt = &past }, dErrors.CodeInvalidInput},
	}
	for _, tt := range tests {
		s.Run(tt.name, func() {
			req := s.request(testutil.TestIDs.Issuer1)
			tt.mutate(&req)
			_, err := s.service.Issue(s.ctx, req)
			s.True(dErrors.HasCode(err, tt.code), "got %v", err)
		})
	}

	s.Equal(before, s.committedRoot(testutil.TestIDs.Issuer1))
	s.Empty(s.queue.Items())
	s.Empty(s.recorder.Events())
}

func (s *ServiceSuite) TestRevokedKeyCannotIssue() {
	s.Require().NoError(s.keys.RevokeKey(testutil.TestIDs.Issuer1, testutil.TestIDs.Key1, s.now))

	_, err := s.service.Issue(s.ctx, s.request(testutil.TestIDs.Issuer1))
	s.ErrorIs(err, dErrors.ErrIssuerUnauthorized)
}

func (s *ServiceSuite) TestStoreFailureLeavesAccumulatorUntouched() {
	before := s.committedRoot(testutil.TestIDs.Issuer1)
	svc := s.newService(failingStore{s.store})

	_, err := svc.Issue(s.ctx, s.request(testutil.TestIDs.Issuer1))
	s.True(dErrors.HasCode(err, dErrors.CodeUnavailable))

	s.Equal(before, s.committedRoot(testutil.TestIDs.Issuer1))
	s.Empty(s.queue.Items())
	s.Empty(s.recorder.Events())

	// Nothing is left staged: a regular issuance still goes through.
	s.issue(testutil.TestIDs.Issuer1)
}

func (s *ServiceSuite) TestRevoke() {
	c := s.issue(testutil.TestIDs.Issuer1)

	revoked, err := s.service.Revoke(s.ctx, RevokeRequest{
		IssuerID:     c.IssuerID,
		KeyID:        testutil.TestIDs.Key1,
		CredentialID: c.ID,
		Reason:       models.ReasonKeyCompromise,
	})
	s.Require().NoError(err)
	s.True(revoked.IsRevoked())
	s.Equal(models.ReasonKeyCompromise, revoked.Revocation.Reason)

	stored, err := s.service.Get(s.ctx, c.ID)
	s.Require().NoError(err)
	s.True(stored.IsRevoked())

	rootAfterFirst := s.committedRoot(c.IssuerID)
	itemsAfterFirst := len(s.queue.Items())

	s.Run("second revocation changes nothing", func() {
		again, err := s.service.Revoke(s.ctx, RevokeRequest{
			IssuerID:     c.IssuerID,
			KeyID:        testutil.TestIDs.Key1,
			CredentialID: c.ID,
		})
		s.Require().NoError(err)
		s.Equal(models.ReasonKeyCompromise, again.Revocation.Reason)
		s.Equal(rootAfterFirst, s.committedRoot(c.IssuerID))
		s.Len(s.queue.Items(), itemsAfterFirst)
		s.Len(s.recorder.OfType(events.TypeCredentialRevoked), 1)
	})

	s.Run("revocation reaches the witness", func() {
		acc := s.accs.For(c.IssuerID)
		_, err := acc.Checkpoint(s.ctx, 1)
		s.Require().NoError(err)
		s.Require().NoError(acc.Publish(s.ctx, 1, s.now))
		w, err := acc.WitnessFor(c.ID, 1)
		s.Require().NoError(err)
		s.False(w.Member())
	})
}

func (s *ServiceSuite) TestConfirmAndQueueAreOneStep() {
	var before, after string
	s.queue.around = func(apply func() error) error {
		before = s.committedRoot(testutil.TestIDs.Issuer1)
		err := apply()
		after = s.committedRoot(testutil.TestIDs.Issuer1)
		return err
	}

	c := s.issue(testutil.TestIDs.Issuer1)
	s.NotEqual(before, after, "issuance is confirmed inside the queue commit")
	s.Len(s.queue.Items(), 1)

	_, err := s.service.Revoke(s.ctx, RevokeRequest{
		IssuerID:     c.IssuerID,
		KeyID:        testutil.TestIDs.Key1,
		CredentialID: c.ID,
	})
	s.Require().NoError(err)
	s.NotEqual(before, after, "revocation is confirmed inside the queue commit")
	items := s.queue.Items()
	s.Require().Len(items, 2)
	s.Equal(anchormodels.ItemRevocation, items[1].Kind)
}

func (s *ServiceSuite) TestRequeue() {
	anchored := s.issue(testutil.TestIDs.Issuer1)
	revoked := s.issue(testutil.TestIDs.Issuer1)
	_, err := s.service.Revoke(s.ctx, RevokeRequest{
		IssuerID:     revoked.IssuerID,
		KeyID:        testutil.TestIDs.Key1,
		CredentialID: revoked.ID,
	})
	s.Require().NoError(err)
	s.Require().NoError(s.store.MarkAnchored(s.ctx, 1, []id.CredentialID{anchored.ID}, nil))
	s.issue(testutil.TestIDs.Issuer2)

	fresh := &queue{}
	svc := NewService(s.schemas, s.keys, s.store, s.accs, fresh)
	n, err := svc.Requeue(s.ctx, testutil.TestIDs.Issuer1)
	s.Require().NoError(err)
	s.Equal(2, n)

	items := fresh.Items()
	s.Require().Len(items, 2)
	s.Equal(revoked.ID, items[0].CredentialID)
	s.Equal(anchormodels.ItemIssuance, items[0].Kind)
	s.Equal(revoked.Commitment, items[0].Commitment)
	s.Equal(revoked.ID, items[1].CredentialID)
	s.Equal(anchormodels.ItemRevocation, items[1].Kind)

	s.Run("nothing left once anchored", func() {
		s.Require().NoError(s.store.MarkAnchored(s.ctx, 2, []id.CredentialID{revoked.ID}, []id.CredentialID{revoked.ID}))
		again := &queue{}
		svc := NewService(s.schemas, s.keys, s.store, s.accs, again)
		n, err := svc.Requeue(s.ctx, testutil.TestIDs.Issuer1)
		s.Require().NoError(err)
		s.Zero(n)
		s.Empty(again.Items())
	})
}

func (s *ServiceSuite) TestRevokeAuthorization() {
	c := s.issue(testutil.TestIDs.Issuer1)

	_, err := s.service.Revoke(s.ctx, RevokeRequest{
		IssuerID:     testutil.TestIDs.Issuer2,
		KeyID:        testutil.TestIDs.Key1,
		CredentialID: c.ID,
	})
	s.ErrorIs(err, dErrors.ErrIssuerUnauthorized)

	_, err = s.service.Revoke(s.ctx, RevokeRequest{
		IssuerID:     testutil.TestIDs.Issuer1,
		KeyID:        "missing",
		CredentialID: c.ID,
	})
	s.ErrorIs(err, dErrors.ErrIssuerUnauthorized)

	_, err = s.service.Revoke(s.ctx, RevokeRequest{
		IssuerID:     testutil.TestIDs.Issuer1,
		KeyID:        testutil.TestIDs.Key1,
		CredentialID: id.NewCredentialID(),
	})
	s.ErrorIs(err, dErrors.ErrNotFound)

	stored, err := s.service.Get(s.ctx, c.ID)
	s.Require().NoError(err)
	s.False(stored.IsRevoked())
}

func (s *ServiceSuite) TestSupersession() {
	v1 := s.issue(testutil.TestIDs.Issuer1)

	req := s.request(testutil.TestIDs.Issuer1)
	req.Claims = testutil.SkillClaims(5, "Cognitive")
	req.Supersedes = v1.ID
	v2, err := s.service.Issue(s.ctx, req)
	s.Require().NoError(err)
	s.Equal(v1.ID, v2.Credential.Supersedes)

	prior, err := s.service.Get(s.ctx, v1.ID)
	s.Require().NoError(err)
	s.True(prior.IsRevoked())
	s.Equal(models.ReasonSuperseded, prior.Revocation.Reason)

	kinds := map[anchormodels.ItemKind]int{}
	for _, item := range s.queue.Items() {
		kinds[item.Kind]++
	}
	s.Equal(2, kinds[anchormodels.ItemIssuance])
	s.Equal(1, kinds[anchormodels.ItemRevocation])
	s.Len(s.recorder.OfType(events.TypeCredentialRevoked), 1)

	s.Run("another issuer cannot supersede", func() {
		foreign := s.request(testutil.TestIDs.Issuer2)
		foreign.Supersedes = v2.Credential.ID
		_, err := s.service.Issue(s.ctx, foreign)
		s.ErrorIs(err, dErrors.ErrIssuerUnauthorized)
	})

	s.Run("subject must match", func() {
		other := s.request(testutil.TestIDs.Issuer1)
		other.SubjectID = testutil.TestIDs.Subject2.String()
		other.Supersedes = v2.Credential.ID
		_, err := s.service.Issue(s.ctx, other)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})
}

func (s *ServiceSuite) TestHaltedIssuerRefusesWritesUntilReconciled() {
	c := s.issue(testutil.TestIDs.Issuer1)
	before := s.committedRoot(testutil.TestIDs.Issuer1)

	s.accs.For(testutil.TestIDs.Issuer1).Halt(errors.New("store and accumulator diverged"))

	_, err := s.service.Issue(s.ctx, s.request(testutil.TestIDs.Issuer1))
	s.ErrorIs(err, dErrors.ErrAccumulatorCorrupted)
	_, err = s.service.Revoke(s.ctx, RevokeRequest{
		IssuerID:     c.IssuerID,
		KeyID:        testutil.TestIDs.Key1,
		CredentialID: c.ID,
	})
	s.ErrorIs(err, dErrors.ErrAccumulatorCorrupted)

	// Other issuers are unaffected.
	s.issue(testutil.TestIDs.Issuer2)

	root, err := s.service.Reconcile(s.ctx, testutil.TestIDs.Issuer1)
	s.Require().NoError(err)
	s.Equal(before, root.String())
	s.issue(testutil.TestIDs.Issuer1)
}

func (s *ServiceSuite) TestStatusAsOf() {
	c := s.issue(testutil.TestIDs.Issuer1)

	_, err := s.service.Status(s.ctx, c.ID, 1)
	s.ErrorIs(err, dErrors.ErrNotFound)

	s.Require().NoError(s.store.MarkAnchored(s.ctx, 1, []id.CredentialID{c.ID}, nil))
	status, err := s.service.Status(s.ctx, c.ID, 1)
	s.Require().NoError(err)
	s.True(status.Anchored)
	s.False(status.Revoked)
}

func TestConcurrentIssuanceAcrossIssuers(t *testing.T) {
	schemas := schema.NewRegistry()
	require.NoError(t, schemas.Register(testutil.SkillSchema()))
	keys := issuer.NewRegistry()
	issuers := []id.IssuerID{testutil.TestIDs.Issuer1, testutil.TestIDs.Issuer2}
	for i, issuerID := range issuers {
		_, err := keys.AddKey(issuerID, testutil.TestIDs.Key1, testutil.Seed(byte(i+1)))
		require.NoError(t, err)
	}
	credentials := store.NewInMemoryStore()
	accs := accumulator.NewRegistry()
	defer accs.Close()
	q := &queue{}
	svc := NewService(schemas, keys, credentials, accs, q)

	const perIssuer = 20
	result := testutil.RunConcurrent(2*perIssuer, func(idx int) error {
		_, err := svc.Issue(context.Background(), IssueRequest{
			IssuerID:  issuers[idx%2],
			KeyID:     testutil.TestIDs.Key1,
			SubjectID: testutil.TestIDs.Subject1.String(),
			SchemaID:  testutil.TestIDs.Schema,
			Claims:    testutil.SkillClaims(uint64(idx), "Cognitive"),
		})
		return err
	})

	assert.Equal(t, int32(2*perIssuer), result.Successes)
	assert.Len(t, q.Items(), 2*perIssuer)
	for _, issuerID := range issuers {
		list, err := credentials.ListByIssuer(context.Background(), issuerID)
		require.NoError(t, err)
		assert.Len(t, list, perIssuer)

		// Each accumulator holds exactly its own issuer's credentials.
		want := make(map[id.CredentialID]accumulator.LeafStatus, len(list))
		for _, c := range list {
			want[c.ID] = accumulator.LeafActive
		}
		root, err := accs.For(issuerID).CommittedRoot(context.Background())
		require.NoError(t, err)
		var expected accumulator.Tree
		for cid, status := range want {
			expected = expected.Set(accumulator.KeyFor(cid), status)
		}
		assert.Equal(t, expected.Root(), root)
	}
}

// TestRestartAnchorsBufferedChanges stops the batcher while an issuance is
// still buffered, rebuilds the engine on the same stores and checks that the
// issuance is anchored by the next run.
func TestRestartAnchorsBufferedChanges(t *testing.T) {
	ctx := context.Background()
	schemas := schema.NewRegistry()
	require.NoError(t, schemas.Register(testutil.SkillSchema()))
	keys := issuer.NewRegistry()
	_, err := keys.AddKey(testutil.TestIDs.Issuer1, testutil.TestIDs.Key1, testutil.Seed(1))
	require.NoError(t, err)

	credentials := store.NewInMemoryStore()
	anchors := anchorstore.NewInMemoryStore()
	cfg := batcher.DefaultConfig()
	cfg.Interval = time.Hour
	cfg.Threshold = 0
	cfg.PollInterval = 2 * time.Millisecond
	cfg.InitialBackoff = time.Millisecond
	cfg.MaxBackoff = 5 * time.Millisecond

	boot := func() (*accumulator.Registry, *batcher.Batcher, *Service) {
		first, err := batcher.NextEpoch(ctx, anchors, anchors, keys.Issuers())
		require.NoError(t, err)
		c := cfg
		c.FirstEpoch = first
		accs := accumulator.NewRegistry()
		b := batcher.New(ledger.NewMemory(ledger.WithConfirmAfter(1)), accs, anchors, credentials,
			batcher.WithConfig(c), batcher.WithEpochLog(anchors))
		return accs, b, NewService(schemas, keys, credentials, accs, b)
	}

	accs, b, svc := boot()
	b.Start()
	issued, err := svc.Issue(ctx, IssueRequest{
		IssuerID:  testutil.TestIDs.Issuer1,
		KeyID:     testutil.TestIDs.Key1,
		SubjectID: testutil.TestIDs.Subject1.String(),
		SchemaID:  testutil.TestIDs.Schema,
		Claims:    testutil.SkillClaims(4, "Cognitive"),
	})
	require.NoError(t, err)
	require.Equal(t, 1, b.Pending())

	stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	require.NoError(t, b.Stop(stopCtx))
	accs.Close()

	accs, b, svc = boot()
	defer accs.Close()
	_, err = svc.Reconcile(ctx, testutil.TestIDs.Issuer1)
	require.NoError(t, err)
	n, err := svc.Requeue(ctx, testutil.TestIDs.Issuer1)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	b.Start()
	defer func() { _ = b.Stop(context.Background()) }()
	waitCtx, cancelWait := context.WithTimeout(ctx, 5*time.Second)
	defer cancelWait()
	epoch, err := b.Seal(waitCtx)
	require.NoError(t, err)
	_, err = b.WaitAnchored(waitCtx, epoch)
	require.NoError(t, err)

	stored, err := credentials.Get(ctx, issued.Credential.ID)
	require.NoError(t, err)
	assert.Equal(t, epoch, stored.AnchoredEpoch)

	status, err := svc.Status(ctx, issued.Credential.ID, epoch)
	require.NoError(t, err)
	assert.True(t, status.Anchored)
	assert.False(t, status.Revoked)

	w, err := accs.For(testutil.TestIDs.Issuer1).WitnessFor(issued.Credential.ID, epoch)
	require.NoError(t, err)
	assert.True(t, w.Member())
}
