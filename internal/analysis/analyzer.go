package analysis

import (
	"context"
	"time"

	"github.com/freeeve/pgn/v3"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/gamereview/api/internal/book"
	"github.com/gamereview/api/internal/eval"
	"github.com/gamereview/api/internal/game"
)

// AnalyzerConfig configures game analysis.
type AnalyzerConfig struct {
	Depth        int // engine search depth
	BookPlyLimit int // plies from the start still eligible for book labels
	Logger       zerolog.Logger
}

// Analyzer runs the full pipeline for one game: evaluate every
// position, then classify every ply. Alternative-move evaluations for
// brilliancy checks go through the same evaluator, so transpositions
// and repeat requests hit the cache.
type Analyzer struct {
	evaluator *eval.Evaluator
	book      *book.Database
	cfg       AnalyzerConfig
	log       zerolog.Logger
}

// ProgressEvent reports pipeline progress. During evaluation Done/Total
// count positions; during classification each completed ply rides along.
type ProgressEvent struct {
	State State        `json:"state"`
	Done  int          `json:"done"`
	Total int          `json:"total"`
	Ply   *PlyAnalysis `json:"ply,omitempty"`
}

// ProgressFunc receives progress events. May be nil. Calls are never
// concurrent, so sinks like a websocket connection need no locking.
type ProgressFunc func(ProgressEvent)

// Option adjusts a single analysis run.
type Option func(*runOptions)

type runOptions struct {
	depth int
}

// WithDepth overrides the configured search depth for one run. Values
// outside [1, 40] are ignored.
func WithDepth(depth int) Option {
	return func(o *runOptions) {
		if depth >= 1 && depth <= 40 {
			o.depth = depth
		}
	}
}

// NewAnalyzer creates an analyzer. bookDB may be nil to disable book
// labels.
func NewAnalyzer(evaluator *eval.Evaluator, bookDB *book.Database, cfg AnalyzerConfig) *Analyzer {
	if cfg.Depth == 0 {
		cfg.Depth = 12
	}
	if cfg.BookPlyLimit == 0 {
		cfg.BookPlyLimit = 10
	}
	return &Analyzer{
		evaluator: evaluator,
		book:      bookDB,
		cfg:       cfg,
		log:       cfg.Logger,
	}
}

// Analyze evaluates and classifies g. The returned analysis always has
// one PlyAnalysis per ply, in game order. Plies whose evaluations were
// unavailable stay unclassified; only a batch with no usable
// evaluations at all marks the analysis failed.
func (a *Analyzer) Analyze(ctx context.Context, g *game.Game, progress ProgressFunc, opts ...Option) (*GameAnalysis, error) {
	ro := runOptions{depth: a.cfg.Depth}
	for _, opt := range opts {
		opt(&ro)
	}

	start := time.Now()
	result := &GameAnalysis{
		ID:        uuid.New(),
		State:     StateReceived,
		White:     g.White(),
		Black:     g.Black(),
		Result:    g.Result(),
		Depth:     ro.depth,
		CreatedAt: start,
	}
	emit(progress, ProgressEvent{State: StateReceived, Total: len(g.Plies)})

	result.State = StateEvaluating
	budget := eval.Budget{Depth: ro.depth}
	evals, report, err := a.evaluator.EvaluateAll(ctx, g.Positions, budget, func(done, total int) {
		emit(progress, ProgressEvent{State: StateEvaluating, Done: done, Total: total})
	})
	if err != nil && ctx.Err() != nil {
		return nil, err
	}
	if err != nil {
		result.State = StateFailed
		result.Error = err.Error()
		result.Elapsed = time.Since(start)
		return result, err
	}
	result.FailedPlies = report.FailedPlies

	result.State = StateClassifying
	result.Moves = make([]PlyAnalysis, len(g.Plies))
	for i := range g.Plies {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		pa := a.classifyPly(ctx, g, evals, i, ro.depth)
		result.Moves[i] = pa
		emit(progress, ProgressEvent{State: StateClassifying, Done: i + 1, Total: len(g.Plies), Ply: &pa})
	}

	result.Opening = a.opening(g)
	result.tally()
	result.State = StateComplete
	result.Elapsed = time.Since(start)

	a.log.Info().
		Stringer("id", result.ID).
		Int("plies", len(g.Plies)).
		Int("failed", len(result.FailedPlies)).
		Dur("elapsed", result.Elapsed).
		Msg("analysis complete")

	return result, nil
}

// classifyPly builds the verdict for ply i from the batch evaluations,
// running the brilliancy look-ahead only for gated candidates.
func (a *Analyzer) classifyPly(ctx context.Context, g *game.Game, evals []eval.Result, i, depth int) PlyAnalysis {
	ply := g.Plies[i]
	before, after := evals[i], evals[i+1]
	sign := moverSign(i)

	pa := PlyAnalysis{
		Ply: i,
		SAN: ply.SAN,
		UCI: ply.UCI,
	}

	in := ClassifyInput{
		Forced: ply.LegalBefore == 1,
		InBook: i < a.cfg.BookPlyLimit && a.book.IsBook(g.Positions[i+1].Key),
	}
	pa.IsBook = in.InBook

	if !before.Unavailable && !after.Unavailable {
		in.HasEvals = true
		in.EvalBefore = sign * before.Normalized()
		in.EvalAfter = sign * after.Normalized()
		in.PlayedBest = before.BestMove != "" && before.BestMove == ply.UCI

		b := before.Normalized()
		aa := after.Normalized()
		pa.EvalBefore = &b
		pa.EvalAfter = &aa
	} else {
		pa.Unavailable = true
	}

	if a.brilliancyCandidate(in) {
		in.Sacrifice = a.isSacrifice(g, i)
		if in.Sacrifice {
			in.AltEvals, in.AltsComplete = a.alternativeEvals(ctx, g, i, sign, depth)
		}
	}

	pa.Quality = Classify(in)

	switch pa.Quality {
	case Inaccuracy, Mistake, Miss, Blunder:
		pa.BestMove = before.BestMove
	}
	return pa
}

// brilliancyCandidate gates the expensive look-ahead: only an
// accurate, non-book, non-forced move into a position the mover is not
// losing can be brilliant.
func (a *Analyzer) brilliancyCandidate(in ClassifyInput) bool {
	if in.Forced || in.InBook || !in.HasEvals {
		return false
	}
	if in.EvalAfter < 0 {
		return false
	}
	return in.EvalBefore-in.EvalAfter <= bestLoss
}

// isSacrifice replays ply i on a scratch board and checks the material
// exchange.
func (a *Analyzer) isSacrifice(g *game.Game, i int) bool {
	packed, err := pgn.ParsePackedPosition(g.Positions[i].Key)
	if err != nil {
		return false
	}
	pos := packed.Unpack()
	if pos == nil {
		return false
	}
	return IsSacrifice(pos, g.Plies[i].Move)
}

// alternativeEvals evaluates every legal move the mover did not play at
// ply i, returning mover-perspective evals. complete is false when any
// alternative could not be evaluated.
func (a *Analyzer) alternativeEvals(ctx context.Context, g *game.Game, i, sign, depth int) (altEvals []int, complete bool) {
	alts, err := g.Alternatives(i)
	if err != nil {
		a.log.Warn().Err(err).Int("ply", i).Msg("alternative generation failed")
		return nil, false
	}
	if len(alts) == 0 {
		return nil, false
	}

	positions := make([]game.Position, len(alts))
	for j, alt := range alts {
		positions[j] = alt.Position
	}

	results, report, err := a.evaluator.EvaluateAll(ctx, positions, eval.Budget{Depth: depth}, nil)
	if err != nil {
		return nil, false
	}

	altEvals = make([]int, len(results))
	for j, r := range results {
		altEvals[j] = sign * r.Normalized()
	}
	return altEvals, len(report.FailedPlies) == 0
}

// opening returns the deepest book hit within the book ply window.
func (a *Analyzer) opening(g *game.Game) *book.Opening {
	var found *book.Opening
	limit := a.cfg.BookPlyLimit
	if limit > len(g.Plies) {
		limit = len(g.Plies)
	}
	for i := 0; i < limit; i++ {
		if o := a.book.Lookup(g.Positions[i+1].Key); o != nil {
			found = o
		}
	}
	return found
}

// moverSign converts a white-perspective eval to the mover's
// perspective: white moves sit at even ply indexes.
func moverSign(i int) int {
	if i%2 == 0 {
		return 1
	}
	return -1
}

func emit(f ProgressFunc, ev ProgressEvent) {
	if f != nil {
		f(ev)
	}
}
