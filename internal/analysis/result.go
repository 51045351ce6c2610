package analysis

import (
	"time"

	"github.com/google/uuid"

	"github.com/gamereview/api/internal/book"
)

// State tracks an analysis through its lifecycle.
type State string

const (
	StateReceived    State = "received"
	StateEvaluating  State = "evaluating"
	StateClassifying State = "classifying"
	StateComplete    State = "complete"
	StateFailed      State = "failed"
)

// PlyAnalysis is the verdict for one half-move.
type PlyAnalysis struct {
	Ply     int     `json:"ply" bson:"ply"`
	SAN     string  `json:"san" bson:"san"`
	UCI     string  `json:"uci" bson:"uci"`
	Quality Quality `json:"quality" bson:"quality"`
	IsBook  bool    `json:"is_book,omitempty" bson:"is_book,omitempty"`

	// Evaluations are centipawns from white's perspective; nil when the
	// underlying position could not be evaluated.
	EvalBefore *int `json:"eval_before,omitempty" bson:"eval_before,omitempty"`
	EvalAfter  *int `json:"eval_after,omitempty" bson:"eval_after,omitempty"`

	BestMove    string `json:"best_move,omitempty" bson:"best_move,omitempty"`
	Note        string `json:"note,omitempty" bson:"note,omitempty"`
	Unavailable bool   `json:"unavailable,omitempty" bson:"unavailable,omitempty"`
}

// Summary tallies move qualities for one color.
type Summary struct {
	Brilliant  int `json:"brilliant" bson:"brilliant"`
	Best       int `json:"best" bson:"best"`
	Excellent  int `json:"excellent" bson:"excellent"`
	Good       int `json:"good" bson:"good"`
	Book       int `json:"book" bson:"book"`
	Forced     int `json:"forced" bson:"forced"`
	Inaccuracy int `json:"inaccuracy" bson:"inaccuracy"`
	Mistake    int `json:"mistake" bson:"mistake"`
	Miss       int `json:"miss" bson:"miss"`
	Blunder    int `json:"blunder" bson:"blunder"`
}

func (s *Summary) add(q Quality) {
	switch q {
	case Brilliant:
		s.Brilliant++
	case Best:
		s.Best++
	case Excellent:
		s.Excellent++
	case Good:
		s.Good++
	case Book:
		s.Book++
	case Forced:
		s.Forced++
	case Inaccuracy:
		s.Inaccuracy++
	case Mistake:
		s.Mistake++
	case Miss:
		s.Miss++
	case Blunder:
		s.Blunder++
	}
}

// GameAnalysis is the complete result for one game: one PlyAnalysis per
// half-move, in game order, plus per-color tallies.
type GameAnalysis struct {
	ID      uuid.UUID     `json:"id" bson:"id"`
	State   State         `json:"state" bson:"state"`
	White   string        `json:"white,omitempty" bson:"white,omitempty"`
	Black   string        `json:"black,omitempty" bson:"black,omitempty"`
	Result  string        `json:"result,omitempty" bson:"result,omitempty"`
	Opening *book.Opening `json:"opening,omitempty" bson:"opening,omitempty"`

	Moves        []PlyAnalysis `json:"moves" bson:"moves"`
	WhiteSummary Summary       `json:"white_summary" bson:"white_summary"`
	BlackSummary Summary       `json:"black_summary" bson:"black_summary"`

	FailedPlies []int         `json:"failed_plies,omitempty" bson:"failed_plies,omitempty"`
	Error       string        `json:"error,omitempty" bson:"error,omitempty"`
	Depth       int           `json:"depth" bson:"depth"`
	Elapsed     time.Duration `json:"elapsed_ms" bson:"elapsed_ms"`
	CreatedAt   time.Time     `json:"created_at" bson:"created_at"`
}

// tally recomputes both summaries from Moves. White moves sit at even
// ply indexes.
func (a *GameAnalysis) tally() {
	a.WhiteSummary = Summary{}
	a.BlackSummary = Summary{}
	for _, m := range a.Moves {
		if m.Ply%2 == 0 {
			a.WhiteSummary.add(m.Quality)
		} else {
			a.BlackSummary.add(m.Quality)
		}
	}
}
