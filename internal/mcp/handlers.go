package mcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ppiankov/flowguard/internal/authority"
	"github.com/ppiankov/flowguard/internal/label"
	"github.com/ppiankov/flowguard/internal/model"
)

// --- Input/Output types ---

// TrackInput defines parameters for the flowguard_track tool.
type TrackInput struct {
	Content   string   `json:"content,omitempty" jsonschema:"value content, stored host-side only"`
	Integrity string   `json:"integrity,omitempty" jsonschema:"untrusted (default) or trusted"`
	Conf      []string `json:"conf,omitempty" jsonschema:"confidentiality tags"`
	Parents   []uint64 `json:"parents,omitempty" jsonschema:"ids of values this one derives from"`
}

// TrackOutput returns the assigned value id and effective labels.
type TrackOutput struct {
	ValueID   uint64   `json:"value_id"`
	Integrity string   `json:"integrity"`
	Conf      []string `json:"conf,omitempty"`
}

// ControlInput defines parameters for the flowguard_control tool.
type ControlInput struct {
	Action  string `json:"action" jsonschema:"enter or exit"`
	ValueID uint64 `json:"value_id,omitempty" jsonschema:"condition value id, required for enter"`
}

// ControlOutput reports the resulting control depth.
type ControlOutput struct {
	Depth int `json:"depth"`
}

// VerifyInput defines parameters for the flowguard_verify tool.
type VerifyInput struct {
	Kind    string `json:"kind" jsonschema:"registered verifier kind"`
	ValueID uint64 `json:"value_id" jsonschema:"value to verify"`
}

// VerifyOutput returns the upgraded value or the rejection reason.
type VerifyOutput struct {
	ValueID   uint64 `json:"value_id,omitempty"`
	Integrity string `json:"integrity,omitempty"`
	Rejected  bool   `json:"rejected,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// CheckInput defines parameters for the flowguard_check tool.
type CheckInput struct {
	Tool         string            `json:"tool" jsonschema:"tool name as declared in policy"`
	Args         map[string]uint64 `json:"args,omitempty" jsonschema:"argument name to tracked value id"`
	PayloadBytes int               `json:"payload_bytes,omitempty" jsonschema:"outbound payload size in bytes"`
}

// CheckOutput contains the policy decision.
type CheckOutput struct {
	Decision    string   `json:"decision"`
	RuleID      string   `json:"rule_id,omitempty"`
	Reason      string   `json:"reason,omitempty"`
	DraftRef    string   `json:"draft_ref,omitempty"`
	WitnessHash string   `json:"witness_hash,omitempty"`
	WitnessPath []uint64 `json:"witness_path,omitempty"`
}

// MintInput defines parameters for the flowguard_mint tool.
type MintInput struct {
	Subject    string   `json:"subject" jsonschema:"principal the token is issued to"`
	Capability string   `json:"capability" jsonschema:"capability name, e.g. EmailSendCap"`
	Scope      []string `json:"scope" jsonschema:"resources the token covers"`
	TTLSeconds uint64   `json:"ttl_seconds" jsonschema:"lifetime from now in seconds"`
}

// MintOutput returns the minted token.
type MintOutput struct {
	TokenID   string   `json:"token_id"`
	Scope     []string `json:"scope"`
	ExpiresAt uint64   `json:"expires_at"`
}

// DelegateInput defines parameters for the flowguard_delegate tool.
type DelegateInput struct {
	ParentID   string   `json:"parent_id" jsonschema:"token to delegate from"`
	Subject    string   `json:"subject" jsonschema:"principal the child token is issued to"`
	Scope      []string `json:"scope" jsonschema:"strict subset of the parent scope"`
	TTLSeconds uint64   `json:"ttl_seconds" jsonschema:"lifetime from now, must end before the parent expiry"`
}

// DelegateOutput returns the delegated token.
type DelegateOutput struct {
	TokenID   string   `json:"token_id"`
	ParentID  string   `json:"parent_id"`
	Scope     []string `json:"scope"`
	ExpiresAt uint64   `json:"expires_at"`
}

// RevokeInput defines parameters for the flowguard_revoke tool.
type RevokeInput struct {
	TokenID string `json:"token_id" jsonschema:"token to revoke"`
}

// RevokeOutput confirms the revocation.
type RevokeOutput struct {
	TokenID string `json:"token_id"`
	Status  string `json:"status"`
}

// --- Handlers ---

func (s *Server) handleTrack(ctx context.Context, req *mcpsdk.CallToolRequest, input TrackInput) (*mcpsdk.CallToolResult, TrackOutput, error) {
	var integrity label.Integrity
	switch strings.ToLower(input.Integrity) {
	case "", "untrusted":
		integrity = label.Untrusted()
	case "trusted":
		integrity = label.Trusted()
	default:
		return nil, TrackOutput{}, fmt.Errorf("unknown integrity %q; verified labels come from flowguard_verify", input.Integrity)
	}

	parents := make([]model.ID, 0, len(input.Parents))
	for _, p := range input.Parents {
		parents = append(parents, model.ID(p))
	}

	s.mu.Lock()
	v, err := s.exec.OnValueCreated(integrity, label.NewConfSet(input.Conf...), parents...)
	if err == nil && input.Content != "" {
		s.contents[v.ID] = input.Content
	}
	s.mu.Unlock()
	if err != nil {
		return nil, TrackOutput{}, err
	}

	return nil, TrackOutput{
		ValueID:   uint64(v.ID),
		Integrity: label.EncodeIntegrity(v.Integrity),
		Conf:      v.Conf.Tags(),
	}, nil
}

func (s *Server) handleControl(ctx context.Context, req *mcpsdk.CallToolRequest, input ControlInput) (*mcpsdk.CallToolResult, ControlOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch input.Action {
	case "enter":
		if err := s.exec.OnControlEnter(model.ID(input.ValueID)); err != nil {
			return nil, ControlOutput{}, err
		}
	case "exit":
		if err := s.exec.OnControlExit(); err != nil {
			return nil, ControlOutput{}, err
		}
	default:
		return nil, ControlOutput{}, fmt.Errorf("unknown control action %q", input.Action)
	}

	return nil, ControlOutput{Depth: s.exec.Graph().ControlDepth()}, nil
}

func (s *Server) handleVerify(ctx context.Context, req *mcpsdk.CallToolRequest, input VerifyInput) (*mcpsdk.CallToolResult, VerifyOutput, error) {
	s.mu.Lock()
	v, err := s.exec.Verify(input.Kind, model.ID(input.ValueID), s.contents[model.ID(input.ValueID)])
	s.mu.Unlock()
	if err != nil {
		// A rejection is a normal outcome, not a transport error.
		out := VerifyOutput{Rejected: true, Reason: err.Error()}
		return &mcpsdk.CallToolResult{IsError: true}, out, nil
	}

	return nil, VerifyOutput{
		ValueID:   uint64(v.ID),
		Integrity: label.EncodeIntegrity(v.Integrity),
	}, nil
}

func (s *Server) handleCheck(ctx context.Context, req *mcpsdk.CallToolRequest, input CheckInput) (*mcpsdk.CallToolResult, CheckOutput, error) {
	args := make(map[string]model.ID, len(input.Args))
	for name, id := range input.Args {
		args[name] = model.ID(id)
	}

	s.mu.Lock()
	d, err := s.exec.OnExternalCall(input.Tool, args, input.PayloadBytes)
	s.mu.Unlock()
	if err != nil {
		return nil, CheckOutput{}, err
	}

	out := CheckOutput{
		Decision: string(d.Action),
		RuleID:   d.RuleID,
		Reason:   d.Reason,
		DraftRef: d.DraftRef,
	}
	if d.Witness != nil {
		out.WitnessHash = d.Witness.Hash()
		for _, id := range d.Witness.Path {
			out.WitnessPath = append(out.WitnessPath, uint64(id))
		}
	}

	var result *mcpsdk.CallToolResult
	if !d.Allowed() {
		result = &mcpsdk.CallToolResult{IsError: true}
	}
	return result, out, nil
}

func (s *Server) handleMint(ctx context.Context, req *mcpsdk.CallToolRequest, input MintInput) (*mcpsdk.CallToolResult, MintOutput, error) {
	scope, err := authority.NewScope(input.Scope...)
	if err != nil {
		return nil, MintOutput{}, err
	}

	now := wallClock()
	t, err := authority.Mint(authority.MintRequest{
		ID:          uuid.NewString(),
		Issuer:      "flowguard-gateway",
		IssuerTrust: authority.HostTrusted,
		Subject:     input.Subject,
		Capability:  input.Capability,
		Scope:       scope,
		IssuedAt:    now,
		ExpiresAt:   now + authority.Timestamp(input.TTLSeconds),
	})
	if err != nil {
		return nil, MintOutput{}, err
	}

	s.mu.Lock()
	err = s.arena.Add(t)
	if err == nil {
		s.exec.AttachToken(t)
	}
	s.mu.Unlock()
	if err != nil {
		return nil, MintOutput{}, err
	}

	return nil, MintOutput{
		TokenID:   t.ID,
		Scope:     t.Scope.Resources(),
		ExpiresAt: uint64(t.ExpiresAt),
	}, nil
}

func (s *Server) handleDelegate(ctx context.Context, req *mcpsdk.CallToolRequest, input DelegateInput) (*mcpsdk.CallToolResult, DelegateOutput, error) {
	scope, err := authority.NewScope(input.Scope...)
	if err != nil {
		return nil, DelegateOutput{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	parent, ok := s.arena.Get(input.ParentID)
	if !ok {
		return nil, DelegateOutput{}, fmt.Errorf("unknown token %q", input.ParentID)
	}

	now := wallClock()
	child, err := authority.Delegate(parent, authority.DelegationRequest{
		ID:          uuid.NewString(),
		DelegatedBy: parent.Subject,
		Subject:     input.Subject,
		Scope:       scope,
		DelegatedAt: now,
		ExpiresAt:   now + authority.Timestamp(input.TTLSeconds),
	}, s.revocations)
	if err != nil {
		return nil, DelegateOutput{}, err
	}

	if err := s.arena.Add(child); err != nil {
		return nil, DelegateOutput{}, err
	}
	s.exec.AttachToken(child)

	return nil, DelegateOutput{
		TokenID:   child.ID,
		ParentID:  parent.ID,
		Scope:     child.Scope.Resources(),
		ExpiresAt: uint64(child.ExpiresAt),
	}, nil
}

func (s *Server) handleRevoke(ctx context.Context, req *mcpsdk.CallToolRequest, input RevokeInput) (*mcpsdk.CallToolResult, RevokeOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.arena.Get(input.TokenID); !ok {
		return nil, RevokeOutput{}, fmt.Errorf("unknown token %q", input.TokenID)
	}
	s.revocations.Revoke(input.TokenID)

	return nil, RevokeOutput{TokenID: input.TokenID, Status: "revoked"}, nil
}
