// Package execution wires the per-execution engine together: the
// dependency graph the interpreter drives, the summarizer, the policy
// decision engine, verifier invocation, and the authority set validated at
// every call boundary. One Execution serves one agent program run; nothing
// here is shared across executions except the host-owned revocation index
// threaded in through Config.
package execution

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/ppiankov/flowguard/internal/audit"
	"github.com/ppiankov/flowguard/internal/authority"
	"github.com/ppiankov/flowguard/internal/graph"
	"github.com/ppiankov/flowguard/internal/label"
	"github.com/ppiankov/flowguard/internal/model"
	"github.com/ppiankov/flowguard/internal/policy"
	"github.com/ppiankov/flowguard/internal/summary"
)

// Config assembles the host-owned collaborators for one execution.
type Config struct {
	Policy     *policy.Config
	PolicyHash string
	Verifiers  *label.Registry
	// Revocations is the host-owned revocation index. It is consulted at
	// every call boundary and on restore; results are never cached across
	// evaluation timestamps.
	Revocations *authority.RevocationIndex
	Subject     string
	// AuditLog receives one record per decision. Optional.
	AuditLog *audit.Log
	// Clock supplies lifecycle evaluation timestamps. Defaults to wall
	// clock seconds.
	Clock func() authority.Timestamp
}

// Execution owns all per-run engine state.
type Execution struct {
	id      string
	cfg     Config
	g       *graph.Graph
	sum     *summary.Summarizer
	eng     *policy.Engine
	tokens  []*authority.Token
	callSeq int
}

// New starts an execution under the given policy. Propagation mode follows
// the policy's strict_mode switch.
func New(cfg Config) *Execution {
	if cfg.Policy == nil {
		cfg.Policy = policy.Default()
	}
	if cfg.Verifiers == nil {
		cfg.Verifiers = label.NewRegistry()
	}
	if cfg.Revocations == nil {
		cfg.Revocations = authority.NewRevocationIndex()
	}
	if cfg.Clock == nil {
		cfg.Clock = func() authority.Timestamp {
			return authority.Timestamp(time.Now().Unix())
		}
	}

	mode := graph.ModeNormal
	if cfg.Policy.StrictMode {
		mode = graph.ModeStrict
	}
	g := graph.New(mode)
	sum := summary.New(g, cfg.Policy.Budgets)

	return &Execution{
		id:  "exec-" + uuid.NewString(),
		cfg: cfg,
		g:   g,
		sum: sum,
		eng: policy.NewEngine(cfg.Policy, sum),
	}
}

// Resume rebuilds an execution from restored graph state. The supplied
// token set is revalidated against the live revocation index at the restore
// timestamp: tokens revoked or expired during suspension are stripped, never
// optimistically retained. The returned validation reports what was kept.
func Resume(cfg Config, id string, g *graph.Graph, tokens []*authority.Token) (*Execution, authority.BoundaryValidation) {
	e := New(cfg)
	if id != "" {
		e.id = id
	}
	e.g = g
	e.sum = summary.New(g, e.cfg.Policy.Budgets)
	e.eng = policy.NewEngine(e.cfg.Policy, e.sum)

	validation := authority.RevalidateOnRestore(tokens, e.cfg.Revocations, e.cfg.Clock())
	e.tokens = validation.Effective
	return e, validation
}

// ID returns the execution identifier used in audit records.
func (e *Execution) ID() string { return e.id }

// Graph exposes the dependency graph for snapshots and tests.
func (e *Execution) Graph() *graph.Graph { return e.g }

// Summarizer exposes the summary engine.
func (e *Execution) Summarizer() *summary.Summarizer { return e.sum }

// Tokens returns the authority set attached to this execution.
func (e *Execution) Tokens() []*authority.Token {
	return append([]*authority.Token(nil), e.tokens...)
}

// AttachToken adds a capability token to the execution's authority set.
// Validity is not checked here; every call boundary re-validates the whole
// set against the live revocation index.
func (e *Execution) AttachToken(t *authority.Token) {
	e.tokens = append(e.tokens, t)
}

// OnValueCreated records a value the interpreter produced. Literals and
// user input arrive Trusted; tool output arrives Untrusted with whatever
// confidentiality tags its adapter classified. Only trust metadata is
// tracked; the host keeps the payload. Verified integrity is refused here:
// it can only be produced through Verify.
func (e *Execution) OnValueCreated(integrity label.Integrity, conf label.ConfSet, parents ...model.ID) (*model.Tagged, error) {
	return e.g.CreateValue(integrity, conf, nil, parents)
}

// OnControlEnter pushes a control condition as execution enters a guarded
// block.
func (e *Execution) OnControlEnter(condition model.ID) error {
	return e.g.EnterControl(condition)
}

// OnControlExit pops the control stack as execution leaves a guarded block.
func (e *Execution) OnControlExit() error {
	return e.g.ExitControl()
}

// Verify runs a registered verifier against a tracked value. On success the
// result is a new value carrying Verified(kind) integrity and depending on
// the input; this is the only trust-upgrade path in the engine. The source's
// full transitive confidentiality and authority state is summarized and
// sealed into the verified value, which later summarizations treat as a
// provenance boundary. A source whose provenance exceeds traversal budgets
// cannot be attested and is refused. Rejection is a typed error and leaves
// the input untouched. The graph never retains payloads, so the host hands
// the candidate content in at verification time.
func (e *Execution) Verify(kind string, id model.ID, content any) (*model.Tagged, error) {
	v, err := e.g.Value(id)
	if err != nil {
		return nil, err
	}

	s, err := e.sum.Summarize(id)
	if err != nil {
		return nil, err
	}
	if s.Truncated {
		return nil, fmt.Errorf("execution: cannot verify value %d: provenance exceeded traversal budgets", id)
	}

	verified, err := e.cfg.Verifiers.Verify(kind, content, v.Integrity, v.Conf)
	if err != nil {
		return nil, err
	}
	return e.g.AdoptVerified(id, verified, s.Conf, s.Authority)
}

// NewContainer, MutateContainer, and ReadContainer surface the versioned
// container rules to the interpreter.
func (e *Execution) NewContainer(initial model.ID) (model.ContainerID, error) {
	return e.g.NewContainer(initial)
}

func (e *Execution) MutateContainer(cid model.ContainerID, integrity label.Integrity, conf label.ConfSet, inputs ...model.ID) (*model.Tagged, error) {
	return e.g.MutateContainer(cid, integrity, conf, inputs)
}

func (e *Execution) ReadContainer(cid model.ContainerID) (*model.Tagged, error) {
	return e.g.ReadContainer(cid)
}

// OnExternalCall gates one effect-boundary call. It summarizes every
// argument, snapshots the control context, validates the authority set
// against the live revocation index at the current timestamp, and runs the
// policy decision engine. The decision is recorded to the audit log before
// being returned. Errors are internal-consistency failures; the host must
// abort the step on error rather than retry or approximate.
func (e *Execution) OnExternalCall(tool string, args map[string]model.ID, payloadBytes int) (policy.Decision, error) {
	e.callSeq++
	callID := fmt.Sprintf("call-%04d", e.callSeq)

	argSummaries := make(map[string]model.DependencySummary, len(args))
	var argRefs []uint64
	for name, id := range args {
		s, err := e.sum.Summarize(id)
		if err != nil {
			return policy.Decision{}, err
		}
		argSummaries[name] = s
		argRefs = append(argRefs, uint64(id))
	}
	sort.Slice(argRefs, func(i, j int) bool { return argRefs[i] < argRefs[j] })

	ctx, err := e.g.Context()
	if err != nil {
		return policy.Decision{}, err
	}
	// The graph's context joins only the conditions' intrinsic labels. A
	// condition branching on data derived from untrusted input must taint
	// the context the same way the input would, so each control dependency
	// is deepened with its full transitive summary before the policy check.
	for _, dep := range ctx.ControlDeps {
		s, err := e.sum.Summarize(dep)
		if err != nil {
			return policy.Decision{}, err
		}
		if s.Truncated {
			ctx.Truncated = true
		}
		ctx.Integrity = label.JoinIntegrity(ctx.Integrity, s.Integrity)
		ctx.Conf = ctx.Conf.Union(s.Conf)
	}

	validation := authority.ValidateAtBoundary(e.tokens, e.cfg.Revocations, e.cfg.Clock())

	decision, err := e.eng.Check(policy.Request{
		Tool:         tool,
		Args:         argSummaries,
		PayloadBytes: payloadBytes,
		Context:      ctx,
		Subject:      e.cfg.Subject,
		Authority:    validation.Effective,
	})
	if err != nil {
		return policy.Decision{}, err
	}

	if decision.Allowed() {
		// Effect counters feed side-channel-aware context checks on
		// later calls; only effects that actually proceed count.
		e.g.RecordEffect(tool)
	}

	if err := e.recordAudit(callID, tool, argRefs, ctx, decision); err != nil {
		return policy.Decision{}, err
	}
	return decision, nil
}

func (e *Execution) recordAudit(callID, tool string, argRefs []uint64, ctx model.ContextSummary, d policy.Decision) error {
	if e.cfg.AuditLog == nil {
		return nil
	}

	entry := audit.Entry{
		ExecutionID:      e.id,
		CallID:           callID,
		Tool:             tool,
		Decision:         string(d.Action),
		RuleID:           d.RuleID,
		ArgRefs:          argRefs,
		PolicyHash:       e.cfg.PolicyHash,
		RedactionApplied: d.Witness != nil,
	}
	if len(ctx.ControlDeps) > 0 {
		entry.ContextRef = uint64(ctx.ControlDeps[len(ctx.ControlDeps)-1])
	}
	if d.Witness != nil {
		entry.WitnessHash = d.Witness.Hash()
	}
	return e.cfg.AuditLog.Record(entry)
}

// OnSinkDispatch gates one LLM-bound call before prompt emission. It draws
// a call identifier from the same sequence as tool calls and records the
// decision to the audit log.
func (e *Execution) OnSinkDispatch(path policy.CallPath, redactionApplied bool) (string, policy.Decision, error) {
	e.callSeq++
	callID := fmt.Sprintf("call-%04d", e.callSeq)

	d := policy.CheckSinkDispatch(policy.SinkRequest{
		ExecutionID:      e.id,
		CallID:           callID,
		CallPath:         path,
		RedactionApplied: redactionApplied,
	})
	if err := e.recordSinkAudit(callID, "llm."+string(path), redactionApplied, d); err != nil {
		return "", policy.Decision{}, err
	}
	return callID, d, nil
}

// OnSinkTransport re-checks redaction at the adapter boundary for a call
// that already passed dispatch. The callID ties the transport record to the
// dispatch record in the audit log.
func (e *Execution) OnSinkTransport(callID string, redactionApplied bool) (policy.Decision, error) {
	d := policy.GuardTransport(policy.SinkRequest{
		ExecutionID:      e.id,
		CallID:           callID,
		RedactionApplied: redactionApplied,
	})
	if err := e.recordSinkAudit(callID, "llm.transport", redactionApplied, d); err != nil {
		return policy.Decision{}, err
	}
	return d, nil
}

func (e *Execution) recordSinkAudit(callID, tool string, redactionApplied bool, d policy.Decision) error {
	if e.cfg.AuditLog == nil {
		return nil
	}
	return e.cfg.AuditLog.Record(audit.Entry{
		ExecutionID:      e.id,
		CallID:           callID,
		Tool:             tool,
		Decision:         string(d.Action),
		RuleID:           d.RuleID,
		RedactionApplied: redactionApplied,
		PolicyHash:       e.cfg.PolicyHash,
	})
}
