package scenario

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/ppiankov/flowguard/internal/policy"
)

const scenarioPolicy = `
schema_version: 1
policy_name: scenario_test
default_action: Deny
strict_mode: true
budgets:
  max_values: 1000
  max_parents_per_value: 64
  max_closure_steps: 1000
  max_witness_depth: 16
tools:
  - tool: send_email
    side_effect_class: ExternalWrite
    required_authority: [EmailSendCap]
    context_rules:
      deny_if_context_integrity_contains: [Untrusted]
    default_decision: Allow
`

const scenarioDoc = `
name: control-context
cases:
  - name: clean call
    clock: 200
    steps:
      - op: mint
        subject: agent
        capability: EmailSendCap
        scope: [send_email]
        issued_at: 100
        expires_at: 500
      - op: create
        ref: body
        integrity: trusted
      - op: call
        tool: send_email
        args: {body: body}
        expect: Allow
  - name: untrusted branch
    clock: 200
    steps:
      - op: mint
        subject: agent
        capability: EmailSendCap
        scope: [send_email]
        issued_at: 100
        expires_at: 500
      - op: create
        ref: taint
        integrity: untrusted
      - op: enter_control
        on: taint
      - op: create
        ref: body
        integrity: trusted
      - op: call
        tool: send_email
        args: {body: body}
        expect: Deny
      - op: exit_control
  - name: undeclared tool
    steps:
      - op: create
        ref: x
        integrity: trusted
      - op: call
        tool: delete_files
        args: {victim: x}
        expect: Deny
`

func TestRunScenario(t *testing.T) {
	cfg, err := policy.Parse([]byte(scenarioPolicy))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	var s Scenario
	if err := yaml.Unmarshal([]byte(scenarioDoc), &s); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	result := Run(&s, cfg, "sha256:test")
	if result.Failed != 0 {
		t.Fatalf("expected all cases to pass, got %+v", result.Cases)
	}
	if result.Passed != 3 {
		t.Fatalf("expected 3 passing cases, got %d", result.Passed)
	}
}

func TestRunScenarioReportsMismatch(t *testing.T) {
	cfg, err := policy.Parse([]byte(scenarioPolicy))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	doc := strings.Replace(scenarioDoc, "expect: Allow", "expect: Deny", 1)
	var s Scenario
	if err := yaml.Unmarshal([]byte(doc), &s); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	result := Run(&s, cfg, "")
	if result.Failed != 1 {
		t.Fatalf("expected 1 failing case, got %d", result.Failed)
	}
}

func TestRunScenarioUnknownRefFailsCase(t *testing.T) {
	cfg := policy.Default()

	s := Scenario{
		Name: "bad-ref",
		Cases: []Case{{
			Name: "missing ref",
			Steps: []Step{
				{Op: "enter_control", On: "ghost"},
			},
		}},
	}

	result := Run(&s, cfg, "")
	if result.Failed != 1 || result.Cases[0].Error == "" {
		t.Fatalf("expected case error, got %+v", result.Cases)
	}
}

func TestLoadAndRun(t *testing.T) {
	dir := t.TempDir()
	policyPath := filepath.Join(dir, "policy.yaml")
	scenarioPath := filepath.Join(dir, "scenario.yaml")
	if err := os.WriteFile(policyPath, []byte(scenarioPolicy), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := os.WriteFile(scenarioPath, []byte(scenarioDoc), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	result, err := LoadAndRun(scenarioPath, policyPath)
	if err != nil {
		t.Fatalf("LoadAndRun: %v", err)
	}
	if result.File != scenarioPath || result.Failed != 0 {
		t.Fatalf("unexpected result: %+v", result)
	}
}
