package analysis

// Centipawn-loss ladder bounds, inclusive.
const (
	bestLoss       = 20
	goodLoss       = 50
	inaccuracyLoss = 100
	mistakeLoss    = 300
)

// missThreshold is the mover-perspective eval marking a position as
// winning; throwing away a winning position without ending up lost is
// a miss rather than a plain mistake.
const missThreshold = 300

// brilliantMargin is how far (in centipawns) every alternative must
// fall below the best achievable eval for a sound sacrifice to count
// as brilliant.
const brilliantMargin = 150

// ClassifyInput carries everything Classify needs about one ply. All
// evaluations are centipawns from the mover's perspective.
type ClassifyInput struct {
	EvalBefore int  // best-play eval of the position the move was played from
	EvalAfter  int  // eval of the position the move produced
	HasEvals   bool // both evaluations are available

	Forced     bool // the mover had exactly one legal move
	InBook     bool // the position after the move lies on a book line
	PlayedBest bool // the played move matches the engine's best move
	Sacrifice  bool // the move leaves material en prise

	// AltEvals holds the mover-perspective evals reached by each legal
	// alternative to the played move. AltsComplete is true only when
	// every alternative was evaluated; brilliancy is never awarded from
	// partial knowledge.
	AltEvals     []int
	AltsComplete bool
}

// Classify assigns exactly one quality label to a ply. Forced and book
// moves are labeled before any eval math; a ply missing either
// evaluation stays unclassified.
func Classify(in ClassifyInput) Quality {
	if in.Forced {
		return Forced
	}
	if in.InBook {
		return Book
	}
	if !in.HasEvals {
		return Unclassified
	}

	loss := in.EvalBefore - in.EvalAfter
	if loss < 0 {
		loss = 0
	}

	if loss > inaccuracyLoss && in.EvalBefore >= missThreshold && in.EvalAfter > -missThreshold {
		return Miss
	}

	if loss <= bestLoss && in.Sacrifice && in.EvalAfter >= 0 && isOnlyGoodMove(in) {
		return Brilliant
	}

	switch {
	case loss <= bestLoss:
		if in.PlayedBest {
			return Best
		}
		return Excellent
	case loss <= goodLoss:
		return Good
	case loss <= inaccuracyLoss:
		return Inaccuracy
	case loss <= mistakeLoss:
		return Mistake
	default:
		return Blunder
	}
}

// isOnlyGoodMove reports whether every alternative falls well short of
// the best achievable eval. With the played move within the best band
// and all alternatives at least brilliantMargin below, the played move
// was the only move worth finding.
func isOnlyGoodMove(in ClassifyInput) bool {
	if !in.AltsComplete || len(in.AltEvals) == 0 {
		return false
	}
	for _, alt := range in.AltEvals {
		if alt > in.EvalBefore-brilliantMargin {
			return false
		}
	}
	return true
}
