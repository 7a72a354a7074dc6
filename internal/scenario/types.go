package scenario

// Step is one operation in a scenario program. Exactly one field group is
// set per step, selected by Op.
type Step struct {
	Op string `yaml:"op"`

	// op: create
	Ref       string   `yaml:"ref,omitempty"`
	Content   string   `yaml:"content,omitempty"`
	Integrity string   `yaml:"integrity,omitempty"`
	Conf      []string `yaml:"conf,omitempty"`
	Parents   []string `yaml:"parents,omitempty"`

	// op: enter_control / verify
	On   string `yaml:"on,omitempty"`
	Kind string `yaml:"kind,omitempty"`

	// op: mint
	Subject    string   `yaml:"subject,omitempty"`
	Capability string   `yaml:"capability,omitempty"`
	Scope      []string `yaml:"scope,omitempty"`
	IssuedAt   uint64   `yaml:"issued_at,omitempty"`
	ExpiresAt  uint64   `yaml:"expires_at,omitempty"`

	// op: call
	Tool         string            `yaml:"tool,omitempty"`
	Args         map[string]string `yaml:"args,omitempty"`
	PayloadBytes int               `yaml:"payload_bytes,omitempty"`
	Expect       string            `yaml:"expect,omitempty"`
}

// Case is one independent program within a scenario. Each case runs in a
// fresh execution.
type Case struct {
	Name  string `yaml:"name"`
	Clock uint64 `yaml:"clock,omitempty"`
	Steps []Step `yaml:"steps"`
}

// Scenario is a named collection of cases evaluated against one policy.
type Scenario struct {
	Name  string `yaml:"name"`
	Cases []Case `yaml:"cases"`
}

// CallResult is the outcome of one call step.
type CallResult struct {
	Tool     string `json:"tool"`
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
	RuleID   string `json:"rule_id,omitempty"`
	Reason   string `json:"reason,omitempty"`
	Passed   bool   `json:"passed"`
}

// CaseResult is the outcome of evaluating one case.
type CaseResult struct {
	Index  int          `json:"index"`
	Name   string       `json:"name"`
	Passed bool         `json:"passed"`
	Error  string       `json:"error,omitempty"`
	Calls  []CallResult `json:"calls"`
}

// RunResult is the outcome of running all cases in one scenario file.
type RunResult struct {
	File   string       `json:"file"`
	Name   string       `json:"name"`
	Total  int          `json:"total"`
	Passed int          `json:"passed"`
	Failed int          `json:"failed"`
	Cases  []CaseResult `json:"cases"`
}
