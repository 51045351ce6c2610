// Package eval drives engine evaluation of positions: a pool of UCI
// engine processes behind an Oracle interface, a coalescing cache keyed
// by position fingerprint, and a bounded-concurrency batch evaluator.
package eval

import (
	"context"
	"errors"
)

var (
	// ErrOracleUnavailable means the engine process could not be
	// started or has exceeded its restart budget.
	ErrOracleUnavailable = errors.New("oracle unavailable")
	// ErrOracleTimeout means a single evaluation exceeded its per-call
	// deadline.
	ErrOracleTimeout = errors.New("oracle timeout")
	// ErrMalformedPosition means the position failed basic validation
	// before reaching the engine.
	ErrMalformedPosition = errors.New("malformed position")
	// ErrAllPositionsFailed means no position in a batch could be
	// evaluated.
	ErrAllPositionsFailed = errors.New("all positions failed evaluation")
)

// mateScore is the centipawn magnitude a forced mate normalizes to,
// shrinking by one per ply of mate distance so shorter mates score higher.
const mateScore = 10000

// Budget is the search budget for one evaluation.
type Budget struct {
	Depth int
}

// Result is a single position evaluation, normalized to white's
// perspective. Mate is the signed mate distance when the engine reports
// a forced mate; CP carries the score otherwise. Unavailable marks a
// sentinel slot for a position that could not be evaluated.
type Result struct {
	CP          int    `json:"cp"`
	Mate        int    `json:"mate,omitempty"`
	BestMove    string `json:"best_move,omitempty"`
	Depth       int    `json:"depth,omitempty"`
	Unavailable bool   `json:"unavailable,omitempty"`
}

// Oracle evaluates a single position within a search budget. It is the
// seam between the pipeline and the engine: tests substitute fakes, and
// production wires an EnginePool.
type Oracle interface {
	Evaluate(ctx context.Context, fen string, b Budget) (Result, error)
}

// Normalized folds a mate distance into the centipawn scale so scores
// stay comparable across mate and non-mate evaluations.
func (r Result) Normalized() int {
	if r.Mate > 0 {
		return mateScore - r.Mate
	}
	if r.Mate < 0 {
		return -mateScore - r.Mate
	}
	return r.CP
}
