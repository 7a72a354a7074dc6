package audit

// Entry is one line in the hash-chained JSONL decision log. All fields are
// structs and scalars (no map[string]any) to guarantee deterministic
// json.Marshal field order for reproducible hashing. Witness content is
// never stored here, only its hash: the log stays redaction-safe even if
// leaked.
type Entry struct {
	Timestamp   string `json:"ts"`
	ExecutionID string `json:"execution_id"`
	CallID      string `json:"call_id"`
	Tool        string `json:"tool"`
	Decision    string `json:"decision"`
	RuleID      string `json:"rule_id,omitempty"`
	// ArgRefs lists the value identifiers whose summaries fed the decision.
	ArgRefs []uint64 `json:"arg_refs,omitempty"`
	// ContextRef is the last active control-dependency identifier, 0 if none.
	ContextRef       uint64 `json:"context_ref,omitempty"`
	WitnessHash      string `json:"witness_hash,omitempty"`
	RedactionApplied bool   `json:"redaction_applied"`
	PolicyHash       string `json:"policy_hash,omitempty"`
	PrevHash         string `json:"prev_hash"`
}
