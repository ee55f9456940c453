package ace

import "log/slog"

// Option configures an App.
type Option func(*resolvedOptions)

// resolvedOptions holds all extension points after applying defaults.
// Unexported — callers use the With* functions.
type resolvedOptions struct {
	port        int
	databaseURL string
	logger      *slog.Logger
	version     string
	roster      []JudgeType
	judgeRunner JudgeRunner
	embedder    Embedder
	critique    CritiqueGenerator
	documents   []Document
}

// WithPort overrides the TCP port from config (ACE_PORT env var).
func WithPort(port int) Option {
	return func(o *resolvedOptions) { o.port = port }
}

// WithDatabaseURL overrides the database connection string from config
// (DATABASE_URL env var).
func WithDatabaseURL(url string) Option {
	return func(o *resolvedOptions) { o.databaseURL = url }
}

// WithLogger sets the structured logger for the App.
// If not set, the default slog logger is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithVersion sets the version string reported in the health endpoint and logs.
func WithVersion(version string) Option {
	return func(o *resolvedOptions) { o.version = version }
}

// WithJudgeRoster replaces the default eight-type judge roster. Note that
// T1/T2 adjudications raise a policy violation when the roster lacks a
// Compliance judge.
func WithJudgeRoster(roster []JudgeType) Option {
	return func(o *resolvedOptions) { o.roster = roster }
}

// WithJudgeRunner sets the collaborator that evaluates each judge type.
// Without one, a deterministic no-op runner approves everything at fixed
// confidence — suitable for development only, and logged loudly.
func WithJudgeRunner(r JudgeRunner) Option {
	return func(o *resolvedOptions) { o.judgeRunner = r }
}

// WithEmbedder replaces the deterministic hash embedder backing the
// historical-claim similarity index.
func WithEmbedder(e Embedder) Option {
	return func(o *resolvedOptions) { o.embedder = e }
}

// WithCritiqueGenerator replaces the built-in debate critique with a
// model-backed generator.
func WithCritiqueGenerator(g CritiqueGenerator) Option {
	return func(o *resolvedOptions) { o.critique = g }
}

// WithDocuments seeds the evidence corpus consulted by the claim
// verification lenses.
func WithDocuments(docs []Document) Option {
	return func(o *resolvedOptions) { o.documents = docs }
}
