package policy

import "fmt"

// LLM sink calls are checked at two explicit points: a pre-dispatch policy
// check before any remote prompt emission, and a transport guard at the
// adapter just before the payload leaves the process. Both deny calls whose
// required redaction transforms were not applied.

// CallPath classifies an LLM sink call. Planner calls are trusted query
// decomposition; quarantined calls transform untrusted tool outputs.
type CallPath string

const (
	PathPlanner     CallPath = "planner"
	PathQuarantined CallPath = "quarantined"
)

// SinkRequest identifies one LLM-bound call at a sink checkpoint. The
// execution and call identifiers link the decision to its audit records.
type SinkRequest struct {
	ExecutionID      string
	CallID           string
	CallPath         CallPath
	RedactionApplied bool
}

// CheckSinkDispatch gates an LLM sink call before prompt emission. Calls
// without redaction applied are denied regardless of path.
func CheckSinkDispatch(req SinkRequest) Decision {
	if !req.RedactionApplied {
		return deny(
			"sink.redaction_required",
			fmt.Sprintf("call %s: payload redaction was not applied before LLM dispatch", req.CallID),
		)
	}
	return allow()
}

// GuardTransport re-checks redaction at the adapter boundary. This runs
// separately from the pre-dispatch check: the adapter is the last point
// before the payload crosses the process boundary.
func GuardTransport(req SinkRequest) Decision {
	if !req.RedactionApplied {
		return deny(
			"sink.transport_guard",
			fmt.Sprintf("call %s: payload blocked at transport, required redaction transforms missing", req.CallID),
		)
	}
	return allow()
}
