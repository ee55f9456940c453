package arbitration

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ace-labs/ace/internal/acerr"
	"github.com/ace-labs/ace/internal/council"
	"github.com/ace-labs/ace/internal/judges"
	"github.com/ace-labs/ace/internal/model"
)

// DebateResult is the outcome of the bounded multi-round debate protocol.
type DebateResult struct {
	WinningOutputIndex   int
	Manifest             model.EvidenceManifest
	FactualAccuracyScore float64
	DebateRounds         int
}

// CritiqueGenerator produces the counter-argument appended to each losing
// output between debate rounds. The generator is an external collaborator;
// the built-in staticCritique is the deterministic fallback matching the
// original behavior of appending a fixed, bounded critique paragraph.
type CritiqueGenerator interface {
	Critique(ctx context.Context, losing model.WorkerOutput, winner model.EvidenceManifest) (string, error)
}

// maxCritiqueLen bounds the critique a generator may append per round, so a
// misbehaving generator cannot grow outputs without bound across rounds.
const maxCritiqueLen = 2000

type staticCritique struct{}

func (staticCritique) Critique(_ context.Context, _ model.WorkerOutput, winner model.EvidenceManifest) (string, error) {
	verified := 0
	for _, r := range winner.VerificationResults {
		if r.Status == model.StatusVerified {
			verified++
		}
	}
	return fmt.Sprintf(
		"Counter-argument: a competing output achieved factual accuracy %.2f with %d verified claims. Strengthen factual grounding and cite verifiable evidence for each assertion.",
		winner.FactualAccuracyScore, verified), nil
}

// debateCandidate tracks one competing output across rounds, including the
// per-round extraction latency used as the final tie-break.
type debateCandidate struct {
	output   model.WorkerOutput
	manifest model.EvidenceManifest
	latency  time.Duration
}

// OrchestrateDebate runs the §4.5 debate protocol over competing outputs:
// per round, extract a manifest per output, run the council, select the
// argmax by factual accuracy, and stop early once the winner clears
// MinVerdictConfidence. Exhausting MaxDebateRounds returns the argmax anyway.
func (c *Controller) OrchestrateDebate(ctx context.Context, spec model.WorkingSpec, outputs []model.WorkerOutput) (DebateResult, error) {
	if len(outputs) < 2 {
		return DebateResult{}, fmt.Errorf("%w: debate requires at least two competing outputs", acerr.ErrInvalidWorkerOutput)
	}
	if c.pipeline == nil {
		return DebateResult{}, fmt.Errorf("%w: debate requires claim extraction", acerr.ErrInvalidWorkerOutput)
	}

	candidates := make([]debateCandidate, len(outputs))
	for i, o := range outputs {
		candidates[i] = debateCandidate{output: o}
	}

	winner := 0
	for round := 1; round <= c.cfg.MaxDebateRounds; round++ {
		roundCtx, cancel := context.WithTimeout(ctx, c.cfg.DebateRoundTimeout)
		err := c.debateRound(roundCtx, spec, candidates, round)
		cancel()
		if err != nil {
			return DebateResult{}, err
		}

		winner = selectWinner(candidates)
		best := candidates[winner]
		c.log.Info("arbitration: debate round complete",
			"round", round,
			"winner_index", winner,
			"factual_accuracy", best.manifest.FactualAccuracyScore)

		if best.manifest.FactualAccuracyScore >= c.cfg.MinVerdictConfidence {
			return DebateResult{
				WinningOutputIndex:   winner,
				Manifest:             best.manifest,
				FactualAccuracyScore: best.manifest.FactualAccuracyScore,
				DebateRounds:         round,
			}, nil
		}

		if round < c.cfg.MaxDebateRounds {
			c.appendCritiques(ctx, candidates, winner)
		}
	}

	best := candidates[winner]
	return DebateResult{
		WinningOutputIndex:   winner,
		Manifest:             best.manifest,
		FactualAccuracyScore: best.manifest.FactualAccuracyScore,
		DebateRounds:         c.cfg.MaxDebateRounds,
	}, nil
}

// debateRound refreshes every candidate's manifest in parallel and runs the
// council over a context carrying all competing outputs.
func (c *Controller) debateRound(ctx context.Context, spec model.WorkingSpec, candidates []debateCandidate, round int) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.maxParallel)
	var mu sync.Mutex
	for i := range candidates {
		i := i
		g.Go(func() error {
			start := c.now()
			m := c.pipeline.Run(gctx, candidates[i].output, spec)
			elapsed := c.now().Sub(start)
			mu.Lock()
			candidates[i].manifest = m
			candidates[i].latency = elapsed
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	if ctx.Err() != nil {
		return ctx.Err()
	}

	// The council sees every competing output and its manifest; its verdict
	// informs logging and the losers' critiques, while winner selection stays
	// a pure function of the manifests.
	previous := make([]string, 0, len(candidates))
	for i, cand := range candidates {
		previous = append(previous, fmt.Sprintf(
			"output %d (worker %s): factual accuracy %.2f across %d claims",
			i, cand.output.WorkerID, cand.manifest.FactualAccuracyScore, len(cand.manifest.Claims)))
	}
	review := judges.ReviewContext{
		WorkingSpec:     spec,
		PreviousReviews: previous,
		RiskTier:        spec.RiskTier,
		SessionID:       fmt.Sprintf("debate-round-%d", round),
	}
	outcomes, err := c.judges.Review(ctx, review)
	if err != nil {
		return err
	}
	agg, err := council.Aggregate(judges.Contributions(outcomes), spec.Description, spec.RiskTier, c.cfg.Council)
	if err == nil {
		c.log.Debug("arbitration: debate council",
			"round", round,
			"decision", agg.CouncilDecision.Kind,
			"consensus", agg.ConsensusStrength)
	}
	return nil
}

// selectWinner is the argmax over factual accuracy; ties break on the higher
// compliance score, then the lower extraction latency, then the lower index
// so the selection is total and deterministic.
func selectWinner(candidates []debateCandidate) int {
	best := 0
	for i := 1; i < len(candidates); i++ {
		a, b := candidates[i], candidates[best]
		switch {
		case a.manifest.FactualAccuracyScore > b.manifest.FactualAccuracyScore:
			best = i
		case a.manifest.FactualAccuracyScore == b.manifest.FactualAccuracyScore:
			if a.manifest.CAWSComplianceScore > b.manifest.CAWSComplianceScore ||
				(a.manifest.CAWSComplianceScore == b.manifest.CAWSComplianceScore && a.latency < b.latency) {
				best = i
			}
		}
	}
	return best
}

// appendCritiques feeds each losing output a counter-argument for the next
// round. A generator failure degrades to the deterministic built-in critique
// rather than failing the debate.
func (c *Controller) appendCritiques(ctx context.Context, candidates []debateCandidate, winner int) {
	winnerManifest := candidates[winner].manifest
	for i := range candidates {
		if i == winner {
			continue
		}
		critique, err := c.critique.Critique(ctx, candidates[i].output, winnerManifest)
		if err != nil {
			critique, _ = staticCritique{}.Critique(ctx, candidates[i].output, winnerManifest)
		}
		if len(critique) > maxCritiqueLen {
			critique = critique[:maxCritiqueLen]
		}
		if !strings.HasSuffix(candidates[i].output.Content, critique) {
			candidates[i].output.Content += "\n\n" + critique
		}
	}
}
