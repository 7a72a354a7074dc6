package authority

import (
	"errors"
	"testing"
)

func mustScope(t *testing.T, resources ...string) Scope {
	t.Helper()
	s, err := NewScope(resources...)
	if err != nil {
		t.Fatalf("NewScope: %v", err)
	}
	return s
}

func mintRoot(t *testing.T, scope Scope, issuedAt, expiresAt Timestamp) *Token {
	t.Helper()
	tok, err := Mint(MintRequest{
		ID:          "root-1",
		Issuer:      "host",
		IssuerTrust: HostTrusted,
		Subject:     "assistant",
		Capability:  "EmailSendCap",
		Scope:       scope,
		IssuedAt:    issuedAt,
		ExpiresAt:   expiresAt,
	})
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	return tok
}

func TestMintEndToEnd(t *testing.T) {
	tok := mintRoot(t, mustScope(t, "send_email"), 100, 500)

	if tok.Parent != "" {
		t.Fatalf("root token must have no parent, got %q", tok.Parent)
	}
	if !tok.Grants("assistant", "EmailSendCap", "send_email") {
		t.Fatal("minted token must grant its capability in scope")
	}
	if tok.Grants("assistant", "EmailSendCap", "read_contacts") {
		t.Fatal("token must not grant out-of-scope resources")
	}
	if tok.Grants("other", "EmailSendCap", "send_email") {
		t.Fatal("token must not grant other subjects")
	}
}

func TestMintErrors(t *testing.T) {
	scope := mustScope(t, "send_email")
	tests := []struct {
		name string
		req  MintRequest
		want error
	}{
		{
			name: "untrusted minter",
			req: MintRequest{
				ID: "t1", Issuer: "agent", IssuerTrust: UntrustedIssuer,
				Subject: "assistant", Capability: "EmailSendCap",
				Scope: scope, IssuedAt: 100, ExpiresAt: 500,
			},
			want: ErrUntrustedMinter,
		},
		{
			name: "empty subject",
			req: MintRequest{
				ID: "t1", Issuer: "host", IssuerTrust: HostTrusted,
				Capability: "EmailSendCap",
				Scope:      scope, IssuedAt: 100, ExpiresAt: 500,
			},
			want: ErrEmptyField,
		},
		{
			name: "empty scope",
			req: MintRequest{
				ID: "t1", Issuer: "host", IssuerTrust: HostTrusted,
				Subject: "assistant", Capability: "EmailSendCap",
				IssuedAt: 100, ExpiresAt: 500,
			},
			want: ErrEmptyField,
		},
		{
			name: "expiry equals issuance",
			req: MintRequest{
				ID: "t1", Issuer: "host", IssuerTrust: HostTrusted,
				Subject: "assistant", Capability: "EmailSendCap",
				Scope: scope, IssuedAt: 500, ExpiresAt: 500,
			},
			want: ErrInvalidTokenLifetime,
		},
		{
			name: "expiry before issuance",
			req: MintRequest{
				ID: "t1", Issuer: "host", IssuerTrust: HostTrusted,
				Subject: "assistant", Capability: "EmailSendCap",
				Scope: scope, IssuedAt: 500, ExpiresAt: 400,
			},
			want: ErrInvalidTokenLifetime,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Mint(tt.req)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestDelegateNarrowsScopeAndLifetime(t *testing.T) {
	parent := mintRoot(t, mustScope(t, "send_email", "read_contacts"), 100, 500)
	idx := NewRevocationIndex()

	child, err := Delegate(parent, DelegationRequest{
		ID:          "child-1",
		DelegatedBy: "assistant",
		Subject:     "email-subagent",
		Scope:       mustScope(t, "send_email"),
		DelegatedAt: 150,
		ExpiresAt:   400,
	}, idx)
	if err != nil {
		t.Fatalf("Delegate: %v", err)
	}

	if child.Capability != "EmailSendCap" {
		t.Fatalf("child must inherit capability, got %q", child.Capability)
	}
	if child.Parent != parent.ID {
		t.Fatalf("child must record lineage, got %q", child.Parent)
	}
	if child.Scope.Contains("read_contacts") {
		t.Fatal("child scope must not include dropped resources")
	}
}

func TestDelegateErrors(t *testing.T) {
	idx := NewRevocationIndex()
	parent := mintRoot(t, mustScope(t, "send_email", "read_contacts"), 100, 500)

	tests := []struct {
		name string
		req  DelegationRequest
		want error
	}{
		{
			// Equal scope with a shorter lifetime is still rejected: the
			// scope must strictly narrow, not merely not widen.
			name: "equal scope",
			req: DelegationRequest{
				ID: "c1", DelegatedBy: "assistant", Subject: "sub",
				Scope:       mustScope(t, "send_email", "read_contacts"),
				DelegatedAt: 150, ExpiresAt: 400,
			},
			want: ErrDelegationScopeNotStrictSubset,
		},
		{
			name: "disjoint scope",
			req: DelegationRequest{
				ID: "c1", DelegatedBy: "assistant", Subject: "sub",
				Scope:       mustScope(t, "delete_files"),
				DelegatedAt: 150, ExpiresAt: 400,
			},
			want: ErrDelegationScopeNotStrictSubset,
		},
		{
			name: "expiry equals parent expiry",
			req: DelegationRequest{
				ID: "c1", DelegatedBy: "assistant", Subject: "sub",
				Scope:       mustScope(t, "send_email"),
				DelegatedAt: 150, ExpiresAt: 500,
			},
			want: ErrDelegationLifetimeNotStrictSubset,
		},
		{
			name: "delegation before parent issuance",
			req: DelegationRequest{
				ID: "c1", DelegatedBy: "assistant", Subject: "sub",
				Scope:       mustScope(t, "send_email"),
				DelegatedAt: 50, ExpiresAt: 400,
			},
			want: ErrDelegationBeforeParentIssuance,
		},
		{
			name: "empty subject",
			req: DelegationRequest{
				ID: "c1", DelegatedBy: "assistant",
				Scope:       mustScope(t, "send_email"),
				DelegatedAt: 150, ExpiresAt: 400,
			},
			want: ErrEmptyField,
		},
		{
			name: "inverted lifetime",
			req: DelegationRequest{
				ID: "c1", DelegatedBy: "assistant", Subject: "sub",
				Scope:       mustScope(t, "send_email"),
				DelegatedAt: 300, ExpiresAt: 200,
			},
			want: ErrInvalidTokenLifetime,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Delegate(parent, tt.req, idx)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestDelegateRevokedParentFailsBeforeRequestChecks(t *testing.T) {
	parent := mintRoot(t, mustScope(t, "send_email", "read_contacts"), 100, 500)
	idx := NewRevocationIndex()
	idx.Revoke(parent.ID)

	// The request is deliberately malformed too; the parent check wins.
	_, err := Delegate(parent, DelegationRequest{}, idx)
	if !errors.Is(err, ErrInvalidParentToken) {
		t.Fatalf("expected ErrInvalidParentToken, got %v", err)
	}
}

func TestDelegateExpiredParent(t *testing.T) {
	parent := mintRoot(t, mustScope(t, "send_email", "read_contacts"), 100, 500)
	idx := NewRevocationIndex()

	_, err := Delegate(parent, DelegationRequest{
		ID: "c1", DelegatedBy: "assistant", Subject: "sub",
		Scope:       mustScope(t, "send_email"),
		DelegatedAt: 500, ExpiresAt: 600,
	}, idx)
	if !errors.Is(err, ErrInvalidParentToken) {
		t.Fatalf("expected ErrInvalidParentToken, got %v", err)
	}
}

func TestExpiryBoundaryIsInclusive(t *testing.T) {
	tok := mintRoot(t, mustScope(t, "send_email"), 100, 500)

	if tok.ExpiredAt(499) {
		t.Fatal("token must be live just before expiry")
	}
	if !tok.ExpiredAt(500) {
		t.Fatal("token must be expired exactly at expiry")
	}
	if !tok.PreIssuanceAt(99) {
		t.Fatal("token must be pre-issuance before issued_at")
	}
	if tok.PreIssuanceAt(100) {
		t.Fatal("token must be live at issued_at")
	}
}

func TestScopeStrictSubset(t *testing.T) {
	parent := mustScope(t, "a", "b", "c")
	tests := []struct {
		name  string
		child Scope
		want  bool
	}{
		{"proper subset", mustScope(t, "a"), true},
		{"equal", mustScope(t, "a", "b", "c"), false},
		{"overlapping but wider", mustScope(t, "a", "d"), false},
		{"disjoint", mustScope(t, "x"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.child.StrictSubsetOf(parent); got != tt.want {
				t.Fatalf("StrictSubsetOf = %v, want %v", got, tt.want)
			}
		})
	}
}
