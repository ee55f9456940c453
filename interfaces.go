package ace

import "context"

// JudgeRunner evaluates one judge type against a review request. This is the
// primary extension point: production deployments back it with an LLM call
// per judge specialization. Implementations must honor ctx cancellation and
// the per-call deadline it carries; a returned error records the judge as
// absent without failing the review.
type JudgeRunner interface {
	Run(ctx context.Context, judgeType JudgeType, review ReviewRequest) (JudgeVerdict, error)
}

// Embedder turns claim text into a vector for the historical-claim
// similarity index. When unset, a deterministic hash embedder keeps the
// pipeline total (not semantically meaningful — dev/test only).
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}

// CritiqueGenerator produces the counter-argument appended to losing outputs
// between debate rounds. When unset, a deterministic built-in critique is
// used. The returned string is truncated to a bounded length.
type CritiqueGenerator interface {
	Critique(ctx context.Context, losingContent string, winnerFactualAccuracy float64) (string, error)
}
