package policy

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/ppiankov/flowguard/internal/authority"
	"github.com/ppiankov/flowguard/internal/label"
	"github.com/ppiankov/flowguard/internal/model"
	"github.com/ppiankov/flowguard/internal/summary"
)

// Explainer reconstructs redacted witnesses for non-Allow decisions. The
// summary engine's explain path satisfies this; a nil Explainer simply
// omits witnesses (dry runs).
type Explainer interface {
	Explain(id model.ID, pred func(*model.Tagged) bool) (summary.Witness, error)
}

// Request is one effect-boundary evaluation: the tool being called, the
// per-argument dependency summaries keyed by declared argument name, the
// ambient context summary, and the authority set already validated at this
// boundary.
type Request struct {
	Tool         string
	Args         map[string]model.DependencySummary
	PayloadBytes int
	Context      model.ContextSummary
	Subject      string
	Authority    []*authority.Token
}

// Engine gates every effectful call against a validated policy document.
type Engine struct {
	cfg     *Config
	explain Explainer
}

// NewEngine builds a decision engine over a validated config.
func NewEngine(cfg *Config, explain Explainer) *Engine {
	return &Engine{cfg: cfg, explain: explain}
}

// Config returns the policy document in use.
func (e *Engine) Config() *Config { return e.cfg }

// Check evaluates one external call in a fixed order, short-circuiting on
// the first applicable rule:
//
//  1. Hard constraints (payload size)
//  2. Required authority against the validated token set
//  3. Per-argument integrity and confidentiality rules
//  4. Context rules (control-flow taint)
//  5. Confirmation / draft requirements
//  6. Tool default decision
//
// Fail-closed: a truncated summary anywhere in steps 1-4 can never yield
// Allow. The returned error covers internal-consistency failures only;
// policy-relevant uncertainty folds into the decision.
func (e *Engine) Check(req Request) (Decision, error) {
	// Truncation pre-scan. A truncated summary means the provenance of an
	// argument or a control condition is unknown; no later step may conclude
	// Allow from it.
	for name, s := range req.Args {
		if s.Truncated {
			return e.withWitness(deny(
				fmt.Sprintf("tool.%s.arg.%s.truncated", req.Tool, name),
				fmt.Sprintf("argument %q provenance exceeded traversal budgets", name),
			), s.Value, func(*model.Tagged) bool { return false })
		}
	}
	if req.Context.Truncated {
		d := deny(
			fmt.Sprintf("tool.%s.context.truncated", req.Tool),
			"control context provenance exceeded traversal budgets",
		)
		if len(req.Context.ControlDeps) > 0 {
			last := req.Context.ControlDeps[len(req.Context.ControlDeps)-1]
			return e.withWitness(d, last, func(*model.Tagged) bool { return false })
		}
		return e.finish(d), nil
	}

	sig, declared := e.cfg.Tool(req.Tool)
	if !declared {
		if e.cfg.DefaultAction == ActionAllow {
			return allow(), nil
		}
		return e.finish(Decision{
			Action: e.cfg.DefaultAction,
			RuleID: "policy.default",
			Reason: fmt.Sprintf("tool %q is not declared by policy %q", req.Tool, e.cfg.PolicyName),
		}), nil
	}

	// Step 1: hard constraints.
	if sig.MaxPayloadBytes > 0 && req.PayloadBytes > sig.MaxPayloadBytes {
		return deny(
			fmt.Sprintf("tool.%s.payload_size", sig.Tool),
			fmt.Sprintf("payload %d bytes exceeds limit %d", req.PayloadBytes, sig.MaxPayloadBytes),
		), nil
	}

	// Step 2: required authority. Absent capability means Deny, never a
	// degraded grant.
	for _, cap := range sig.RequiredAuthority {
		if !e.authorityGrants(req, cap) {
			return deny(
				fmt.Sprintf("tool.%s.authority.%s", sig.Tool, cap),
				fmt.Sprintf("no effective token grants capability %q for %q", cap, sig.Tool),
			), nil
		}
	}

	// Step 3: per-argument rules.
	for _, rule := range sig.ArgRules {
		s, ok := req.Args[rule.Arg]
		if !ok {
			// Missing verification information is uncertainty, not an error.
			return deny(
				fmt.Sprintf("tool.%s.arg.%s.missing", sig.Tool, rule.Arg),
				fmt.Sprintf("no summary supplied for declared argument %q", rule.Arg),
			), nil
		}

		if rule.RequiresIntegrity != "" {
			requirement, err := label.ParseRequirement(rule.RequiresIntegrity)
			if err != nil {
				return Decision{}, err
			}
			if !requirement.SatisfiedBy(s.Integrity) {
				return e.withWitness(deny(
					fmt.Sprintf("tool.%s.arg.%s.integrity", sig.Tool, rule.Arg),
					fmt.Sprintf("argument %q carries %s, requires %s", rule.Arg, s.Integrity, requirement),
				), s.Value, func(v *model.Tagged) bool { return !requirement.SatisfiedBy(v.Integrity) })
			}
		}

		for _, tag := range rule.ForbidsConfidentiality {
			if s.Conf.Contains(tag) {
				tag := tag
				return e.withWitness(deny(
					fmt.Sprintf("tool.%s.arg.%s.confidentiality", sig.Tool, rule.Arg),
					fmt.Sprintf("argument %q carries forbidden confidentiality tag %q", rule.Arg, tag),
				), s.Value, func(v *model.Tagged) bool { return v.Conf.Contains(tag) })
			}
		}
	}

	// Step 4: context rules. Closes the channel where tainted data decides
	// whether the call happens without appearing in any argument.
	if sig.ContextRules != nil {
		for _, name := range sig.ContextRules.DenyIfContextIntegrityContains {
			if integrityMatches(req.Context.Integrity, name) {
				d := deny(
					fmt.Sprintf("tool.%s.context.integrity", sig.Tool),
					fmt.Sprintf("active control context integrity is %s", req.Context.Integrity),
				)
				if len(req.Context.ControlDeps) > 0 {
					last := req.Context.ControlDeps[len(req.Context.ControlDeps)-1]
					return e.withWitness(d, last, func(v *model.Tagged) bool {
						return integrityMatches(v.Integrity, name)
					})
				}
				return d, nil
			}
		}
	}

	// Steps 5-6: the tool's declared decision.
	switch sig.DefaultDecision {
	case ActionRequireConfirmation:
		return e.finish(Decision{
			Action:   ActionRequireConfirmation,
			RuleID:   fmt.Sprintf("tool.%s.confirmation", sig.Tool),
			Reason:   fmt.Sprintf("%q requires explicit confirmation before %s effects", sig.Tool, sig.SideEffectClass),
			DraftRef: newDraftRef(),
		}), nil
	case ActionRequireDraft:
		return e.finish(Decision{
			Action:   ActionRequireDraft,
			RuleID:   fmt.Sprintf("tool.%s.draft", sig.Tool),
			Reason:   fmt.Sprintf("%q produces a draft instead of direct execution", sig.Tool),
			DraftRef: newDraftRef(),
		}), nil
	case ActionDeny:
		return deny(
			fmt.Sprintf("tool.%s.default", sig.Tool),
			fmt.Sprintf("%q denies by default", sig.Tool),
		), nil
	default:
		return allow(), nil
	}
}

func (e *Engine) authorityGrants(req Request, capability string) bool {
	for _, t := range req.Authority {
		if t.Capability != capability || !t.Scope.Contains(req.Tool) {
			continue
		}
		if req.Subject != "" && t.Subject != req.Subject {
			continue
		}
		return true
	}
	return false
}

// withWitness attaches a redacted witness to a non-Allow decision via the
// explain path. Witness reconstruction failures are internal-consistency
// errors and propagate.
func (e *Engine) withWitness(d Decision, v model.ID, pred func(*model.Tagged) bool) (Decision, error) {
	d = e.finish(d)
	if e.explain == nil || v == 0 {
		return d, nil
	}
	w, err := e.explain.Explain(v, pred)
	if err != nil {
		return Decision{}, err
	}
	d.Witness = &w
	return d, nil
}

func (e *Engine) finish(d Decision) Decision {
	if (d.Action == ActionRequireConfirmation || d.Action == ActionRequireDraft) && d.DraftRef == "" {
		d.DraftRef = newDraftRef()
	}
	return d
}

func newDraftRef() string {
	return "draft-" + uuid.NewString()
}

// integrityMatches reports whether an integrity belongs to the named class.
// Accepted names: Untrusted, Trusted, Verified (any kind).
func integrityMatches(i label.Integrity, name string) bool {
	switch {
	case strings.EqualFold(name, "Untrusted"):
		return i.IsUntrusted()
	case strings.EqualFold(name, "Trusted"):
		return i.IsTrusted()
	case strings.EqualFold(name, "Verified"):
		return i.IsVerified()
	default:
		return false
	}
}
