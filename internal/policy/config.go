package policy

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ppiankov/flowguard/internal/label"
	"github.com/ppiankov/flowguard/internal/summary"
)

// SchemaVersion is the canonical policy schema version. Documents with any
// other version are rejected fail-closed; there is no best-effort parsing
// of unknown schemas.
const SchemaVersion = 1

// ErrUnsupportedSchemaVersion rejects non-canonical policy documents.
var ErrUnsupportedSchemaVersion = errors.New("policy: unsupported schema_version")

// SideEffectClass classifies a tool's external effect.
type SideEffectClass string

const (
	ExternalRead  SideEffectClass = "ExternalRead"
	ExternalWrite SideEffectClass = "ExternalWrite"
)

// ArgRule constrains one declared tool argument.
type ArgRule struct {
	Arg                    string   `yaml:"arg"`
	RequiresIntegrity      string   `yaml:"requires_integrity,omitempty"`
	ForbidsConfidentiality []string `yaml:"forbids_confidentiality,omitempty"`
}

// ContextRules constrains the ambient control context of a call.
type ContextRules struct {
	DenyIfContextIntegrityContains []string `yaml:"deny_if_context_integrity_contains,omitempty"`
}

// ToolPolicy is the declarative signature record for one tool.
type ToolPolicy struct {
	Tool              string          `yaml:"tool"`
	SideEffectClass   SideEffectClass `yaml:"side_effect_class"`
	RequiredAuthority []string        `yaml:"required_authority,omitempty"`
	MaxPayloadBytes   int             `yaml:"max_payload_bytes,omitempty"`
	ArgRules          []ArgRule       `yaml:"arg_rules,omitempty"`
	ContextRules      *ContextRules   `yaml:"context_rules,omitempty"`
	DefaultDecision   Action          `yaml:"default_decision"`
}

// Config is a validated policy document.
type Config struct {
	SchemaVersion int             `yaml:"schema_version"`
	PolicyName    string          `yaml:"policy_name"`
	DefaultAction Action          `yaml:"default_action"`
	StrictMode    bool            `yaml:"strict_mode"`
	Budgets       summary.Budgets `yaml:"budgets"`
	Tools         []ToolPolicy    `yaml:"tools"`
}

// Parse decodes and validates a policy document. Decoding is strict:
// unknown fields anywhere in the document are rejected, matching the
// fail-closed loader contract.
func Parse(data []byte) (*Config, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("policy: parse document: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Load reads and parses a policy document from disk, returning the config
// and the SHA-256 hash of the raw bytes for audit linkage.
func Load(path string) (*Config, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("policy: read %s: %w", path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, "", err
	}

	h := sha256.Sum256(data)
	return cfg, "sha256:" + hex.EncodeToString(h[:]), nil
}

func (c *Config) validate() error {
	if c.SchemaVersion != SchemaVersion {
		return fmt.Errorf("%w: found %d, expected %d", ErrUnsupportedSchemaVersion, c.SchemaVersion, SchemaVersion)
	}
	if c.PolicyName == "" {
		return fmt.Errorf("policy: policy_name must not be empty")
	}
	if !c.DefaultAction.valid() {
		return fmt.Errorf("policy: invalid default_action %q", c.DefaultAction)
	}
	if c.Budgets.MaxValues <= 0 || c.Budgets.MaxParentsPerValue <= 0 ||
		c.Budgets.MaxClosureSteps <= 0 || c.Budgets.MaxWitnessDepth <= 0 {
		return fmt.Errorf("policy: budgets must all be positive")
	}

	seen := make(map[string]bool, len(c.Tools))
	for i := range c.Tools {
		t := &c.Tools[i]
		if t.Tool == "" {
			return fmt.Errorf("policy: tools[%d]: tool must not be empty", i)
		}
		if seen[t.Tool] {
			return fmt.Errorf("policy: duplicate tool %q", t.Tool)
		}
		seen[t.Tool] = true
		if t.SideEffectClass != ExternalRead && t.SideEffectClass != ExternalWrite {
			return fmt.Errorf("policy: tool %q: invalid side_effect_class %q", t.Tool, t.SideEffectClass)
		}
		if !t.DefaultDecision.valid() {
			return fmt.Errorf("policy: tool %q: invalid default_decision %q", t.Tool, t.DefaultDecision)
		}
		for _, ar := range t.ArgRules {
			if ar.Arg == "" {
				return fmt.Errorf("policy: tool %q: arg rule with empty arg", t.Tool)
			}
			if ar.RequiresIntegrity != "" {
				if _, err := label.ParseRequirement(ar.RequiresIntegrity); err != nil {
					return fmt.Errorf("policy: tool %q arg %q: %w", t.Tool, ar.Arg, err)
				}
			}
		}
	}
	return nil
}

// Tool returns the signature record for a tool identifier, if declared.
func (c *Config) Tool(name string) (*ToolPolicy, bool) {
	for i := range c.Tools {
		if c.Tools[i].Tool == name {
			return &c.Tools[i], true
		}
	}
	return nil, false
}

// Default returns the built-in policy used when no document is supplied:
// strict propagation, deny by default, default budgets, no tools declared.
func Default() *Config {
	return &Config{
		SchemaVersion: SchemaVersion,
		PolicyName:    "flowguard_default",
		DefaultAction: ActionDeny,
		StrictMode:    true,
		Budgets:       summary.DefaultBudgets(),
	}
}

// DefaultYAML returns a commented starter policy for init-policy.
func DefaultYAML() string {
	return `# flowguard policy document
# Generated by: flowguard init-policy
#
# Evaluation order per call (cannot be changed):
#   1. Hard constraints (payload size)      -> deny
#   2. Required authority                   -> deny if missing
#   3. Per-argument integrity/confidentiality
#   4. Context rules (control-flow taint)
#   5. Confirmation / draft requirements
#   6. Tool default decision
# Any truncated summary forces deny or confirmation, never allow.

schema_version: 1
policy_name: personal_assistant_default
default_action: Deny
strict_mode: true

# Traversal budgets for dependency summarization. Checked in a fixed order:
# closure steps, then distinct values, then parents per value.
budgets:
  max_values: 100000
  max_parents_per_value: 64
  max_closure_steps: 10000
  max_witness_depth: 32

tools:
  - tool: send_email
    side_effect_class: ExternalWrite
    required_authority: [EmailSendCap]
    arg_rules:
      - arg: recipient
        requires_integrity: Verified(email_address)
      - arg: body
        forbids_confidentiality: [secret.api_key]
    context_rules:
      deny_if_context_integrity_contains: [Untrusted]
    default_decision: RequireConfirmation

  - tool: fetch_url
    side_effect_class: ExternalRead
    default_decision: Allow
`
}
