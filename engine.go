package entitlement

import (
	"context"
	"io"
	"log/slog"
	"time"

	cedar "github.com/cedar-policy/cedar-go"
)

// Engine evaluates content access and converts commerce events into durable
// grants. All operations take the tenant id explicitly; the engine holds no
// ambient tenant state.
type Engine struct {
	gw      TenantGateway
	config  *EngineConfig
	clock   func() time.Time
	log     *slog.Logger
	audit   AuditLogger
	metrics MetricsCollector
	// policies optionally extends the fail-closed access rules with
	// tenant-authored Cedar policies
	policies *cedar.PolicySet
}

// EngineConfig represents configuration options for the Engine.
//
// Example:
//
//	config := EngineConfig{
//		Gateway:     gw,
//		Logger:      slog.Default(),
//		AuditLogger: myAuditLogger,
//	}
type EngineConfig struct {
	// Gateway is the tenant data gateway all reads and writes go through
	Gateway TenantGateway
	// Clock supplies "now" for every temporal decision; defaults to time.Now
	Clock func() time.Time
	// Logger receives structured operational logs; defaults to a discard logger
	Logger *slog.Logger
	// AuditLogger optionally records access decisions and grant mutations
	AuditLogger AuditLogger
	// MetricsCollector optionally gathers engine statistics
	MetricsCollector MetricsCollector
	// AccessPolicies optionally holds tenant-authored Cedar policies consulted
	// after the built-in access rules have declined
	AccessPolicies *cedar.PolicySet
}

// EngineOption configures the Engine.
type EngineOption func(*EngineConfig)

// WithClock overrides the engine's time source. Tests use this to evaluate
// grants against a fixed instant.
func WithClock(clock func() time.Time) EngineOption {
	return func(config *EngineConfig) {
		config.Clock = clock
	}
}

// WithLogger sets the structured logger for operational events.
func WithLogger(logger *slog.Logger) EngineOption {
	return func(config *EngineConfig) {
		config.Logger = logger
	}
}

// WithAuditLogger sets the audit sink for access decisions and grant changes.
func WithAuditLogger(logger AuditLogger) EngineOption {
	return func(config *EngineConfig) {
		config.AuditLogger = logger
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(collector MetricsCollector) EngineOption {
	return func(config *EngineConfig) {
		config.MetricsCollector = collector
	}
}

// WithAccessPolicies installs tenant-authored Cedar policies. The policies
// can only add grants on top of the built-in rules; they are consulted after
// every built-in branch has declined and can never revoke access.
func WithAccessPolicies(policies *cedar.PolicySet) EngineOption {
	return func(config *EngineConfig) {
		config.AccessPolicies = policies
	}
}

// NewEngine creates an Engine backed by the given tenant data gateway.
//
// Example:
//
//	engine := NewEngine(gw,
//		WithLogger(slog.Default()),
//		WithAuditLogger(myAuditLogger),
//	)
func NewEngine(gw TenantGateway, opts ...EngineOption) *Engine {
	config := &EngineConfig{
		Gateway: gw,
		Clock:   time.Now,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, opt := range opts {
		opt(config)
	}

	return &Engine{
		gw:       config.Gateway,
		config:   config,
		clock:    config.Clock,
		log:      config.Logger,
		audit:    config.AuditLogger,
		metrics:  config.MetricsCollector,
		policies: config.AccessPolicies,
	}
}

func (e *Engine) now() time.Time {
	return e.clock()
}

func (e *Engine) auditAccess(ctx context.Context, decision AccessDecision) {
	if e.audit != nil {
		decision.Timestamp = e.now()
		e.audit.LogAccessDecision(ctx, decision)
	}
	if e.metrics != nil {
		e.metrics.IncrementAccessCount(decision.Allowed)
	}
}

func (e *Engine) auditGrant(ctx context.Context, operation string, grant Entitlement) {
	if e.audit != nil {
		e.audit.LogGrantChange(ctx, GrantChange{
			Operation:   operation,
			Entitlement: grant,
			Timestamp:   e.now(),
		})
	}
	if e.metrics != nil {
		e.metrics.IncrementGrantCount(operation)
	}
}
