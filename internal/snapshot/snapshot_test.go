package snapshot

import (
	"testing"

	"github.com/ppiankov/flowguard/internal/authority"
	"github.com/ppiankov/flowguard/internal/execution"
	"github.com/ppiankov/flowguard/internal/graph"
	"github.com/ppiankov/flowguard/internal/label"
	"github.com/ppiankov/flowguard/internal/policy"
)

func attachToken(t *testing.T, e *execution.Execution, id string, expiresAt authority.Timestamp) {
	t.Helper()
	scope, _ := authority.NewScope("send_email")
	tok, err := authority.Mint(authority.MintRequest{
		ID:          id,
		Issuer:      "host",
		IssuerTrust: authority.HostTrusted,
		Subject:     "assistant",
		Capability:  "EmailSendCap",
		Scope:       scope,
		IssuedAt:    100,
		ExpiresAt:   expiresAt,
	})
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	e.AttachToken(tok)
}

func TestCaptureRestoreRoundTrip(t *testing.T) {
	e := execution.New(execution.Config{
		Clock: func() authority.Timestamp { return 200 },
	})
	attachToken(t, e, "tok-1", 500)

	secret, err := e.OnValueCreated(label.Trusted(), label.NewConfSet("secret.api_key"))
	if err != nil {
		t.Fatalf("OnValueCreated: %v", err)
	}
	derived, _ := e.OnValueCreated(label.Trusted(), label.NewConfSet(), secret.ID)

	st := Capture(e, "sha256:policy")
	data, err := Encode(st)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	decoded, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	restored, validation, err := Restore(decoded, execution.Config{
		Clock: func() authority.Timestamp { return 250 },
	})
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if restored.ID() != e.ID() {
		t.Fatalf("execution id must survive, got %s", restored.ID())
	}
	if len(validation.Effective) != 1 || validation.Effective[0].ID != "tok-1" {
		t.Fatalf("expected tok-1 effective after restore, got %v", validation.Effective)
	}

	v, err := restored.Graph().Value(derived.ID)
	if err != nil {
		t.Fatalf("Value: %v", err)
	}
	if len(v.Parents) != 1 || v.Parents[0] != secret.ID {
		t.Fatalf("restored edges lost: %v", v.Parents)
	}

	s, err := restored.Summarizer().Summarize(derived.ID)
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if !s.Conf.Contains("secret.api_key") {
		t.Fatal("confidentiality must survive the round trip")
	}
}

func TestRestoreStripsRevokedAndExpiredTokens(t *testing.T) {
	e := execution.New(execution.Config{
		Clock: func() authority.Timestamp { return 200 },
	})
	attachToken(t, e, "tok-live", 500)
	attachToken(t, e, "tok-short", 300)
	attachToken(t, e, "tok-revoked", 500)

	st := Capture(e, "")

	revocations := authority.NewRevocationIndex()
	revocations.Revoke("tok-revoked")

	// Restored well past tok-short's expiry.
	_, validation, err := Restore(st, execution.Config{
		Revocations: revocations,
		Clock:       func() authority.Timestamp { return 400 },
	})
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}

	if len(validation.Effective) != 1 || validation.Effective[0].ID != "tok-live" {
		t.Fatalf("expected only tok-live, got %v", validation.Effective)
	}

	reasons := map[string]authority.InvalidReason{}
	for _, inv := range validation.Invalid {
		reasons[inv.ID] = inv.Reason
	}
	if reasons["tok-short"] != authority.ReasonExpired {
		t.Fatalf("expected tok-short expired, got %v", reasons)
	}
	if reasons["tok-revoked"] != authority.ReasonRevoked {
		t.Fatalf("expected tok-revoked revoked, got %v", reasons)
	}
}

func TestRestoreRejectsCorruptGraph(t *testing.T) {
	corrupt := State{
		ExecutionID: "exec-x",
		Graph: graph.State{
			Mode:   "normal",
			NextID: 2,
			Values: []graph.ValueState{
				{ID: 1, Integrity: "trusted", Parents: []uint64{2}},
				{ID: 2, Integrity: "trusted", Parents: []uint64{1}},
			},
		},
	}
	if _, _, err := Restore(corrupt, execution.Config{}); err == nil {
		t.Fatal("expected restore failure for corrupt graph")
	}
}

func TestRestoreKeepsStrictMode(t *testing.T) {
	cfg := policy.Default()
	e := execution.New(execution.Config{
		Policy: cfg,
		Clock:  func() authority.Timestamp { return 200 },
	})
	cond, _ := e.OnValueCreated(label.Untrusted(), label.NewConfSet())
	if err := e.OnControlEnter(cond.ID); err != nil {
		t.Fatalf("OnControlEnter: %v", err)
	}

	st := Capture(e, "")
	restored, _, err := Restore(st, execution.Config{
		Policy: cfg,
		Clock:  func() authority.Timestamp { return 250 },
	})
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}

	// Values created after restore still pick up the suspended control
	// context in strict mode.
	v, err := restored.OnValueCreated(label.Trusted(), label.NewConfSet())
	if err != nil {
		t.Fatalf("OnValueCreated: %v", err)
	}
	if len(v.Parents) != 1 || v.Parents[0] != cond.ID {
		t.Fatalf("restored control stack not applied, parents=%v", v.Parents)
	}
}
