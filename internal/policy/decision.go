package policy

import "github.com/ppiankov/flowguard/internal/summary"

// Action is a policy outcome class, in policy-document spelling.
type Action string

const (
	ActionAllow               Action = "Allow"
	ActionDeny                Action = "Deny"
	ActionRequireConfirmation Action = "RequireConfirmation"
	ActionRequireDraft        Action = "RequireDraft"
)

func (a Action) valid() bool {
	switch a {
	case ActionAllow, ActionDeny, ActionRequireConfirmation, ActionRequireDraft:
		return true
	}
	return false
}

// Decision is the outcome of one effect-boundary evaluation. Every
// non-Allow decision carries a machine-readable violated-rule identifier
// and a redacted witness: value identifiers and label names only, never
// raw untrusted text or secret content.
type Decision struct {
	Action Action `json:"action"`
	// RuleID identifies the violated rule, e.g. "tool.send_email.arg.recipient.integrity".
	RuleID string `json:"rule_id,omitempty"`
	// Reason is a redaction-safe explanation for the caller.
	Reason  string           `json:"reason,omitempty"`
	Witness *summary.Witness `json:"witness,omitempty"`
	// DraftRef identifies the draft produced in place of direct execution.
	DraftRef string `json:"draft_ref,omitempty"`
}

// Allowed reports whether the effect may proceed.
func (d Decision) Allowed() bool { return d.Action == ActionAllow }

func allow() Decision {
	return Decision{Action: ActionAllow}
}

func deny(ruleID, reason string) Decision {
	return Decision{Action: ActionDeny, RuleID: ruleID, Reason: reason}
}
