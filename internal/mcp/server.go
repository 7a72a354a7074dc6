package mcp

import (
	"context"
	"fmt"
	"sync"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ppiankov/flowguard/internal/audit"
	"github.com/ppiankov/flowguard/internal/authority"
	"github.com/ppiankov/flowguard/internal/execution"
	"github.com/ppiankov/flowguard/internal/label"
	"github.com/ppiankov/flowguard/internal/model"
	"github.com/ppiankov/flowguard/internal/policy"
)

// Config holds MCP gateway configuration.
type Config struct {
	PolicyPath   string
	AuditLogPath string
	Subject      string
}

// Server wraps the MCP SDK server around one tracked execution. Agents call
// the flowguard_* tools to register values, mint and delegate tokens, and
// submit tool calls for a decision before dispatching them.
type Server struct {
	mcpServer   *mcpsdk.Server
	exec        *execution.Execution
	verifiers   *label.Registry
	revocations *authority.RevocationIndex
	arena       *authority.Arena
	auditLog    *audit.Log
	policyCfg   *policy.Config
	policyHash  string
	subject     string
	// contents holds tracked payloads on the gateway side; the engine
	// only ever sees trust metadata. Guarded by mu, keyed by value id.
	contents map[model.ID]string
	mu       sync.Mutex
}

// New creates an MCP gateway with a loaded policy and a fresh execution.
func New(cfg Config) (*Server, error) {
	var policyCfg *policy.Config
	var policyHash string
	var err error

	if cfg.PolicyPath != "" {
		policyCfg, policyHash, err = policy.Load(cfg.PolicyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load policy: %w", err)
		}
	} else {
		policyCfg = policy.Default()
	}

	var auditLog *audit.Log
	if cfg.AuditLogPath != "" {
		auditLog, err = audit.Open(cfg.AuditLogPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open audit log: %w", err)
		}
	}

	verifiers := label.NewRegistry()
	revocations := authority.NewRevocationIndex()

	s := &Server{
		exec: execution.New(execution.Config{
			Policy:      policyCfg,
			PolicyHash:  policyHash,
			Verifiers:   verifiers,
			Revocations: revocations,
			Subject:     cfg.Subject,
			AuditLog:    auditLog,
			Clock:       wallClock,
		}),
		verifiers:   verifiers,
		revocations: revocations,
		arena:       authority.NewArena(),
		auditLog:    auditLog,
		policyCfg:   policyCfg,
		policyHash:  policyHash,
		subject:     cfg.Subject,
		contents:    map[model.ID]string{},
	}

	s.mcpServer = mcpsdk.NewServer(
		&mcpsdk.Implementation{
			Name:    "flowguard",
			Version: "0.1.0",
		},
		nil,
	)

	s.registerTools()
	return s, nil
}

func wallClock() authority.Timestamp {
	return authority.Timestamp(time.Now().Unix())
}

// Run starts the MCP server on stdio transport. Blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	return s.mcpServer.Run(ctx, &mcpsdk.StdioTransport{})
}

// Close closes the audit log if configured.
func (s *Server) Close() error {
	if s.auditLog != nil {
		return s.auditLog.Close()
	}
	return nil
}

// SwapPolicy installs a new policy for subsequent executions. The current
// execution keeps the policy it started with; new values and calls go to a
// fresh execution so truncation budgets and rules stay consistent within one
// graph.
func (s *Server) SwapPolicy(cfg *policy.Config, hash string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.policyCfg = cfg
	s.policyHash = hash
	// Fresh execution means fresh value ids; stored payloads for the old
	// graph would alias them.
	s.contents = map[model.ID]string{}
	s.exec = execution.New(execution.Config{
		Policy:      cfg,
		PolicyHash:  hash,
		Verifiers:   s.verifiers,
		Revocations: s.revocations,
		Subject:     s.subject,
		AuditLog:    s.auditLog,
		Clock:       wallClock,
	})
}

// registerTools adds all flowguard tools to the MCP server.
func (s *Server) registerTools() {
	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "flowguard_track",
		Description: "Register a value in the taint graph and get back its value id. Derived values list their parents; labels propagate automatically.",
	}, s.handleTrack)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "flowguard_control",
		Description: "Enter or exit a control context guarded by a tracked value. In strict mode values created inside the context depend on the condition.",
	}, s.handleControl)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "flowguard_verify",
		Description: "Run a registered verifier over a tracked value. On success returns a new value id carrying the verified label.",
	}, s.handleVerify)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "flowguard_check",
		Description: "Submit a tool call for a policy decision before dispatching it. Args reference tracked value ids. Denials include the rule and reason.",
	}, s.handleCheck)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "flowguard_mint",
		Description: "Mint a root authority token. Only the host-trusted gateway issuer may mint.",
	}, s.handleMint)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "flowguard_delegate",
		Description: "Delegate a narrower token from an existing one. Scope must be a strict subset and expiry strictly earlier.",
	}, s.handleDelegate)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "flowguard_revoke",
		Description: "Revoke a token by id. Revoked tokens are stripped at the next call boundary.",
	}, s.handleRevoke)
}
