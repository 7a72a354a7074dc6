package scenario

import (
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/ppiankov/flowguard/internal/authority"
	"github.com/ppiankov/flowguard/internal/execution"
	"github.com/ppiankov/flowguard/internal/label"
	"github.com/ppiankov/flowguard/internal/model"
	"github.com/ppiankov/flowguard/internal/policy"
)

// Run evaluates all cases in a scenario against the given policy. Each case
// runs in a fresh execution with its own graph and token set.
func Run(s *Scenario, cfg *policy.Config, policyHash string) *RunResult {
	result := &RunResult{
		Name:  s.Name,
		Total: len(s.Cases),
	}

	for i, c := range s.Cases {
		cr := runCase(&c, cfg, policyHash)
		cr.Index = i + 1
		if cr.Passed {
			result.Passed++
		} else {
			result.Failed++
		}
		result.Cases = append(result.Cases, cr)
	}

	return result
}

func runCase(c *Case, cfg *policy.Config, policyHash string) CaseResult {
	cr := CaseResult{Name: c.Name, Passed: true}

	clock := c.Clock
	exec := execution.New(execution.Config{
		Policy:     cfg,
		PolicyHash: policyHash,
		Clock:      func() authority.Timestamp { return authority.Timestamp(clock) },
	})

	refs := map[string]model.ID{}
	// The engine tracks metadata only; step contents stay host-side so a
	// verify step can hand the payload back to the verifier.
	contents := map[string]string{}

	fail := func(format string, args ...any) CaseResult {
		cr.Passed = false
		cr.Error = fmt.Sprintf(format, args...)
		return cr
	}

	for si, step := range c.Steps {
		switch step.Op {
		case "create":
			if step.Ref == "" {
				return fail("step %d: create requires ref", si+1)
			}
			integrity, err := parseIntegrity(step.Integrity)
			if err != nil {
				return fail("step %d: %v", si+1, err)
			}
			parents, err := resolveRefs(refs, step.Parents)
			if err != nil {
				return fail("step %d: %v", si+1, err)
			}
			v, err := exec.OnValueCreated(integrity, label.NewConfSet(step.Conf...), parents...)
			if err != nil {
				return fail("step %d: create %s: %v", si+1, step.Ref, err)
			}
			refs[step.Ref] = v.ID
			contents[step.Ref] = step.Content

		case "enter_control":
			id, ok := refs[step.On]
			if !ok {
				return fail("step %d: unknown ref %q", si+1, step.On)
			}
			if err := exec.OnControlEnter(id); err != nil {
				return fail("step %d: enter_control: %v", si+1, err)
			}

		case "exit_control":
			if err := exec.OnControlExit(); err != nil {
				return fail("step %d: exit_control: %v", si+1, err)
			}

		case "verify":
			id, ok := refs[step.On]
			if !ok {
				return fail("step %d: unknown ref %q", si+1, step.On)
			}
			v, err := exec.Verify(step.Kind, id, contents[step.On])
			if err != nil {
				return fail("step %d: verify %s: %v", si+1, step.Kind, err)
			}
			if step.Ref != "" {
				refs[step.Ref] = v.ID
			}

		case "mint":
			scope, err := authority.NewScope(step.Scope...)
			if err != nil {
				return fail("step %d: mint: %v", si+1, err)
			}
			t, err := authority.Mint(authority.MintRequest{
				ID:          uuid.NewString(),
				Issuer:      "host",
				IssuerTrust: authority.HostTrusted,
				Subject:     step.Subject,
				Capability:  step.Capability,
				Scope:       scope,
				IssuedAt:    authority.Timestamp(step.IssuedAt),
				ExpiresAt:   authority.Timestamp(step.ExpiresAt),
			})
			if err != nil {
				return fail("step %d: mint: %v", si+1, err)
			}
			exec.AttachToken(t)

		case "call":
			args := map[string]model.ID{}
			for name, ref := range step.Args {
				id, ok := refs[ref]
				if !ok {
					return fail("step %d: unknown ref %q", si+1, ref)
				}
				args[name] = id
			}
			d, err := exec.OnExternalCall(step.Tool, args, step.PayloadBytes)
			if err != nil {
				return fail("step %d: call %s: %v", si+1, step.Tool, err)
			}
			call := CallResult{
				Tool:     step.Tool,
				Expected: step.Expect,
				Actual:   string(d.Action),
				RuleID:   d.RuleID,
				Reason:   d.Reason,
			}
			if strings.EqualFold(call.Actual, call.Expected) {
				call.Passed = true
			} else {
				cr.Passed = false
			}
			cr.Calls = append(cr.Calls, call)

		default:
			return fail("step %d: unknown op %q", si+1, step.Op)
		}
	}

	return cr
}

func parseIntegrity(s string) (label.Integrity, error) {
	switch strings.ToLower(s) {
	case "", "untrusted":
		return label.Untrusted(), nil
	case "trusted":
		return label.Trusted(), nil
	default:
		return label.Integrity{}, fmt.Errorf("scenario: unknown integrity %q (verified values come from a verify step)", s)
	}
}

func resolveRefs(refs map[string]model.ID, names []string) ([]model.ID, error) {
	out := make([]model.ID, 0, len(names))
	for _, n := range names {
		id, ok := refs[n]
		if !ok {
			return nil, fmt.Errorf("scenario: unknown ref %q", n)
		}
		out = append(out, id)
	}
	return out, nil
}

// LoadAndRun loads a scenario YAML file and a policy file, then runs all
// cases.
func LoadAndRun(path, policyPath string) (*RunResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario %s: %w", path, err)
	}

	var s Scenario
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse scenario %s: %w", path, err)
	}

	var cfg *policy.Config
	var hash string
	if policyPath != "" {
		cfg, hash, err = policy.Load(policyPath)
		if err != nil {
			return nil, fmt.Errorf("load policy: %w", err)
		}
	} else {
		cfg = policy.Default()
	}

	result := Run(&s, cfg, hash)
	result.File = path

	return result, nil
}
