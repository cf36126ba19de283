package e2e

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cucumber/godog"
)

// RegisterSteps registers all step definitions.
func RegisterSteps(ctx *godog.ScenarioContext, tc *TestContext) {
	ctx.Step(`^the verification service is running$`, tc.serviceIsRunning)

	ctx.Step(`^I issue a "([^"]*)" credential with claims:$`, tc.issueCredential)
	ctx.Step(`^I wait for the credential to be anchored$`, tc.waitForIssuanceAnchor)
	ctx.Step(`^I revoke the credential for "([^"]*)"$`, tc.revokeCredential)
	ctx.Step(`^I wait for the revocation to be anchored$`, tc.waitForRevocationAnchor)

	ctx.Step(`^I prove "([^"]*)" with nonce "([^"]*)"$`, tc.prove)
	ctx.Step(`^I keep the proof$`, tc.keepProof)
	ctx.Step(`^I verify the proof$`, tc.verifyLastProof)
	ctx.Step(`^I verify the kept proof requiring the revocation epoch$`, tc.verifyKeptProofAtRevocation)

	ctx.Step(`^the response status should be (\d+)$`, tc.responseStatusShouldBe)
	ctx.Step(`^the response field "([^"]*)" should equal "([^"]*)"$`, tc.responseFieldShouldEqual)
	ctx.Step(`^the verdict should be "([^"]*)"$`, tc.verdictShouldBe)
}

func (tc *TestContext) serviceIsRunning(context.Context) error {
	if err := tc.GET("/health/ready"); err != nil {
		return err
	}
	if tc.GetLastResponseStatus() != http.StatusOK {
		return fmt.Errorf("service not ready: %s", tc.LastResponseBody)
	}
	return nil
}

func (tc *TestContext) issueCredential(_ context.Context, schemaID string, claims *godog.DocString) error {
	var parsed map[string]any
	if err := json.Unmarshal([]byte(claims.Content), &parsed); err != nil {
		return fmt.Errorf("claims doc string: %w", err)
	}
	tc.SchemaID = schemaID
	if err := tc.POST("/v1/credentials", map[string]any{
		"issuer_id":  tc.IssuerID,
		"key_id":     tc.KeyID,
		"subject_id": "did:example:e2e-holder",
		"schema_id":  schemaID,
		"claims":     parsed,
	}); err != nil {
		return err
	}
	if tc.GetLastResponseStatus() != http.StatusCreated {
		return nil
	}

	var body struct {
		CredentialID   string `json:"credential_id"`
		BlindingFactor string `json:"blinding_factor"`
	}
	if err := json.Unmarshal(tc.LastResponseBody, &body); err != nil {
		return err
	}
	tc.CredentialID = body.CredentialID
	tc.BlindingFactor = body.BlindingFactor
	return nil
}

func (tc *TestContext) revokeCredential(_ context.Context, reason string) error {
	return tc.POST("/v1/credentials/"+tc.CredentialID+"/revoke", map[string]any{
		"issuer_id": tc.IssuerID,
		"key_id":    tc.KeyID,
		"reason":    reason,
	})
}

func (tc *TestContext) waitForIssuanceAnchor(context.Context) error {
	_, err := tc.waitForEpoch("anchored_epoch")
	return err
}

func (tc *TestContext) waitForRevocationAnchor(context.Context) error {
	_, err := tc.waitForEpoch("revocation_epoch")
	return err
}

// waitForEpoch polls the credential until field carries an epoch. The
// witness for that epoch is published once the anchor confirms.
func (tc *TestContext) waitForEpoch(field string) (uint64, error) {
	deadline := time.Now().Add(tc.AnchorTimeout)
	for time.Now().Before(deadline) {
		if err := tc.GET("/v1/credentials/" + tc.CredentialID); err != nil {
			return 0, err
		}
		if v, err := tc.GetResponseField(field); err == nil {
			if epoch, ok := v.(float64); ok && epoch > 0 {
				return uint64(epoch), nil
			}
		}
		time.Sleep(250 * time.Millisecond)
	}
	return 0, fmt.Errorf("credential %s has no %s after %s", tc.CredentialID, field, tc.AnchorTimeout)
}

func (tc *TestContext) prove(_ context.Context, predicate, nonce string) error {
	tc.Predicate = predicate
	if err := tc.POST("/v1/proofs", map[string]any{
		"credential_id":   tc.CredentialID,
		"blinding_factor": tc.BlindingFactor,
		"predicate":       predicate,
		"nonce":           nonce,
	}); err != nil {
		return err
	}
	tc.LastProof = nil
	if tc.GetLastResponseStatus() == http.StatusOK {
		tc.LastProof = append(json.RawMessage(nil), tc.LastResponseBody...)
	}
	return nil
}

func (tc *TestContext) keepProof(context.Context) error {
	if tc.LastProof == nil {
		return fmt.Errorf("no proof to keep")
	}
	tc.SavedProof = tc.LastProof
	return nil
}

func (tc *TestContext) verify(p json.RawMessage, minEpoch uint64) error {
	if p == nil {
		return fmt.Errorf("no proof to verify")
	}
	return tc.POST("/v1/verify", map[string]any{
		"proof":     p,
		"issuer_id": tc.IssuerID,
		"schema_id": tc.SchemaID,
		"min_epoch": minEpoch,
	})
}

func (tc *TestContext) verifyLastProof(context.Context) error {
	return tc.verify(tc.LastProof, 0)
}

func (tc *TestContext) verifyKeptProofAtRevocation(context.Context) error {
	epoch, err := tc.waitForEpoch("revocation_epoch")
	if err != nil {
		return err
	}
	return tc.verify(tc.SavedProof, epoch)
}

func (tc *TestContext) responseStatusShouldBe(_ context.Context, expected int) error {
	if got := tc.GetLastResponseStatus(); got != expected {
		return fmt.Errorf("expected status %d, got %d: %s", expected, got, tc.LastResponseBody)
	}
	return nil
}

func (tc *TestContext) responseFieldShouldEqual(_ context.Context, field, expected string) error {
	v, err := tc.GetResponseField(field)
	if err != nil {
		return err
	}
	if fmt.Sprint(v) != expected {
		return fmt.Errorf("expected %s to be %q, got %v", field, expected, v)
	}
	return nil
}

func (tc *TestContext) verdictShouldBe(ctx context.Context, expected string) error {
	if err := tc.responseStatusShouldBe(ctx, http.StatusOK); err != nil {
		return err
	}
	return tc.responseFieldShouldEqual(ctx, "verdict", expected)
}
