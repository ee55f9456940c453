// Package judges implements C1, the Judge Pool: running a heterogeneous set
// of judges in parallel over a ReviewContext and collecting their
// JudgeContributions. Fan-out follows internal/conflicts's BackfillScoring
// pattern (errgroup.WithContext + SetLimit) from the teacher repo.
package judges

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ace-labs/ace/internal/model"
	"github.com/ace-labs/ace/internal/resilience"
)

// ReviewContext is everything a judge needs to review a change, per §4.1.
type ReviewContext struct {
	WorkingSpec      model.WorkingSpec
	PlanningMetadata map[string]string
	PreviousReviews  []string
	RiskTier         model.RiskTier
	SessionID        string
	Instructions     map[model.JudgeType]string
}

// Runner is the JudgeRunner outbound collaborator (§6): an external capability
// that evaluates one judge type against a ReviewContext.
type Runner interface {
	Run(ctx context.Context, judgeType model.JudgeType, review ReviewContext) (model.JudgeVerdict, error)
}

// Pool runs a fixed roster of judge types against a Runner.
type Pool struct {
	roster           []model.JudgeType
	runner           Runner
	breakers         map[model.JudgeType]*resilience.Breaker
	breakerCfg       resilience.BreakerConfig
	degradation      *resilience.DegradationManager
	defaultDeadline  time.Duration
	criticalDeadline time.Duration
	maxParallel      int
	log              *slog.Logger
}

// Option configures a Pool.
type Option func(*Pool)

func WithDeadlines(defaultDeadline, criticalDeadline time.Duration) Option {
	return func(p *Pool) { p.defaultDeadline = defaultDeadline; p.criticalDeadline = criticalDeadline }
}

func WithMaxParallel(n int) Option {
	return func(p *Pool) { p.maxParallel = n }
}

func WithDegradationManager(dm *resilience.DegradationManager) Option {
	return func(p *Pool) { p.degradation = dm }
}

// WithBreakerConfig overrides the per-judge circuit breaker settings.
func WithBreakerConfig(cfg resilience.BreakerConfig) Option {
	return func(p *Pool) { p.breakerCfg = cfg }
}

func WithLogger(logger *slog.Logger) Option {
	return func(p *Pool) { p.log = logger }
}

// New builds a Pool over the given roster and runner. Per-judge breakers are
// created up front so the map is read-only once Review fans out.
func New(roster []model.JudgeType, runner Runner, opts ...Option) *Pool {
	p := &Pool{
		roster:           roster,
		runner:           runner,
		breakers:         make(map[model.JudgeType]*resilience.Breaker, len(roster)),
		breakerCfg:       resilience.DefaultBreakerConfig(),
		defaultDeadline:  30 * time.Second,
		criticalDeadline: 60 * time.Second,
		maxParallel:      8,
		log:              slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	for _, jt := range roster {
		p.breakers[jt] = resilience.NewBreaker("judge-runner:"+string(jt), p.breakerCfg, p.log)
	}
	return p
}

func (p *Pool) breakerFor(jt model.JudgeType) *resilience.Breaker {
	return p.breakers[jt]
}

// Roster returns the configured judge types in invocation order.
func (p *Pool) Roster() []model.JudgeType {
	out := make([]model.JudgeType, len(p.roster))
	copy(out, p.roster)
	return out
}

// HasJudge reports whether the roster includes the given judge type.
func (p *Pool) HasJudge(jt model.JudgeType) bool {
	for _, t := range p.roster {
		if t == jt {
			return true
		}
	}
	return false
}

// BreakerStates snapshots every judge breaker's state for health reporting.
func (p *Pool) BreakerStates() map[string]string {
	out := make(map[string]string, len(p.breakers))
	for _, b := range p.breakers {
		out[b.Name()] = b.State()
	}
	return out
}

// JudgeOutcome is one roster slot's result: either a JudgeContribution or a
// recorded absence (timeout, failure, or skip) that does not by itself fail
// the review (§4.1: "A judge may fail, time out, or be skipped; its absence
// is recorded, not an error unless quorum fails").
type JudgeOutcome struct {
	JudgeType    model.JudgeType
	Contribution *model.JudgeContribution
	AbsenceReason string
}

// Review runs every roster judge type in parallel and returns one outcome
// per roster entry, preserving roster order for deterministic diagnostics.
func (p *Pool) Review(ctx context.Context, review ReviewContext) ([]JudgeOutcome, error) {
	deadline := p.defaultDeadline
	if review.RiskTier == model.RiskTierCritical {
		deadline = p.criticalDeadline
	}

	outcomes := make([]JudgeOutcome, len(p.roster))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.maxParallel)

	for i, jt := range p.roster {
		i, jt := i, jt
		g.Go(func() error {
			outcomes[i] = p.runOne(gctx, jt, review, deadline)
			return nil
		})
	}
	// Errors from individual judges never abort the group; runOne always
	// returns nil from the goroutine and records the outcome itself.
	_ = g.Wait()
	return outcomes, nil
}

func (p *Pool) runOne(ctx context.Context, jt model.JudgeType, review ReviewContext, deadline time.Duration) JudgeOutcome {
	callCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	if p.degradation != nil && p.degradation.Level(string(jt)) == resilience.LevelBypass {
		return JudgeOutcome{JudgeType: jt, AbsenceReason: "component degraded: bypass"}
	}

	start := time.Now()
	result, err := p.breakerFor(jt).Do(callCtx, func(ctx context.Context) (any, error) {
		return p.runner.Run(ctx, jt, review)
	})
	elapsed := time.Since(start)

	if err != nil {
		if p.degradation != nil {
			p.degradation.RecordFailure(string(jt), time.Now())
		}
		reason := "failed"
		if ctx.Err() != nil || callCtx.Err() != nil {
			reason = "timeout"
		}
		p.log.Warn("judges: judge did not return a verdict", "judge_type", jt, "reason", reason, "error", err)
		return JudgeOutcome{JudgeType: jt, AbsenceReason: reason}
	}
	if p.degradation != nil {
		p.degradation.RecordSuccess(string(jt))
	}

	verdict, ok := result.(model.JudgeVerdict)
	if !ok {
		return JudgeOutcome{JudgeType: jt, AbsenceReason: "invalid verdict type"}
	}
	if err := verdict.Validate(); err != nil {
		return JudgeOutcome{JudgeType: jt, AbsenceReason: "invalid verdict: " + err.Error()}
	}

	return JudgeOutcome{
		JudgeType: jt,
		Contribution: &model.JudgeContribution{
			JudgeID:        string(jt) + "-judge",
			JudgeType:      jt,
			Verdict:        verdict,
			ProcessingTime: elapsed,
		},
	}
}

// Contributions extracts the successful contributions from Review's outcomes.
func Contributions(outcomes []JudgeOutcome) []model.JudgeContribution {
	out := make([]model.JudgeContribution, 0, len(outcomes))
	for _, o := range outcomes {
		if o.Contribution != nil {
			out = append(out, *o.Contribution)
		}
	}
	return out
}
