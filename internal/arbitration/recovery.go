package arbitration

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/ace-labs/ace/internal/acerr"
	"github.com/ace-labs/ace/internal/model"
)

// HumanDecisionRequest is what ACE posts to the HumanGate when a cycle needs
// an operator decision (quorum failure, NeedsClarification).
type HumanDecisionRequest struct {
	TaskID             string
	WorkingSpecID      uuid.UUID
	Reason             string
	ConflictingFactors []string
}

// HumanDecision is the operator's override verdict.
type HumanDecision struct {
	Status     model.ArbiterStatus
	Confidence float64
	Rationale  string
}

// HumanGate is the §6 outbound collaborator carrying decision requests to a
// human operator. An error return means "no override; proceed as decided".
type HumanGate interface {
	Decide(ctx context.Context, req HumanDecisionRequest) (HumanDecision, error)
}

// RecoveryStrategy is one step of the §7 propagation policy. The Recovery
// Orchestrator is the only place that decides between them.
type RecoveryStrategy string

const (
	StrategyRetry               RecoveryStrategy = "Retry"
	StrategyFallback            RecoveryStrategy = "Fallback"
	StrategyGracefulDegradation RecoveryStrategy = "GracefulDegradation"
	StrategyFailover            RecoveryStrategy = "Failover"
	StrategyHumanIntervention   RecoveryStrategy = "HumanIntervention"
	StrategyAbort               RecoveryStrategy = "Abort"
)

// defaultStrategyOrder is the declared order strategies are consulted in.
var defaultStrategyOrder = []RecoveryStrategy{
	StrategyRetry,
	StrategyFallback,
	StrategyGracefulDegradation,
	StrategyFailover,
	StrategyHumanIntervention,
	StrategyAbort,
}

// PlanRecovery filters the declared strategy order down to the steps
// applicable to err's category. Retries are applied at the call site by
// resilience.WithRetry; the plan tells the controller what remains once the
// retry budget is exhausted. A Timeout never includes Retry (budget 0), and a
// QuorumFailure goes straight to HumanIntervention then Abort — there is no
// point re-asking the same judge set within one cycle.
func PlanRecovery(err error) []RecoveryStrategy {
	var qf *acerr.QuorumFailure
	switch {
	case errors.As(err, &qf):
		return []RecoveryStrategy{StrategyHumanIntervention, StrategyAbort}
	case errors.Is(err, acerr.ErrInvalidWorkerOutput):
		return []RecoveryStrategy{StrategyAbort}
	case errors.Is(err, acerr.ErrSecurityViolation):
		return []RecoveryStrategy{StrategyHumanIntervention, StrategyAbort}
	case errors.Is(err, acerr.ErrResourceExhaustion):
		return []RecoveryStrategy{StrategyGracefulDegradation, StrategyAbort}
	}

	switch acerr.Categorize(err) {
	case acerr.CategoryTimeout:
		return []RecoveryStrategy{StrategyFallback, StrategyAbort}
	case acerr.CategoryNetwork, acerr.CategoryExternalService:
		return []RecoveryStrategy{StrategyRetry, StrategyFallback, StrategyFailover, StrategyAbort}
	default:
		return []RecoveryStrategy{StrategyAbort}
	}
}

// StrategyOrder exposes the full declared order for health/diagnostic output.
func StrategyOrder() []RecoveryStrategy {
	out := make([]RecoveryStrategy, len(defaultStrategyOrder))
	copy(out, defaultStrategyOrder)
	return out
}
