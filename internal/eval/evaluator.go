package eval

import (
	"context"
	"errors"
	"runtime"
	"sync"

	"github.com/rs/zerolog"

	"github.com/gamereview/api/internal/game"
)

// EvaluatorConfig configures batch evaluation.
type EvaluatorConfig struct {
	Workers int // Concurrent evaluations (default: NumCPU)
	Retries int // Extra attempts per position after the first
	Logger  zerolog.Logger
}

// Evaluator fans a batch of positions out to a bounded set of workers,
// each going through the coalescing cache, and collects results back in
// input order.
type Evaluator struct {
	oracle Oracle
	cache  *Cache
	cfg    EvaluatorConfig
	log    zerolog.Logger
}

// Report describes the gaps in a batch evaluation.
type Report struct {
	FailedPlies []int `json:"failed_plies,omitempty"`
}

// NewEvaluator creates an evaluator over oracle and cache.
func NewEvaluator(oracle Oracle, cache *Cache, cfg EvaluatorConfig) *Evaluator {
	if cfg.Workers == 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.Retries == 0 {
		cfg.Retries = 2
	}
	return &Evaluator{
		oracle: oracle,
		cache:  cache,
		cfg:    cfg,
		log:    cfg.Logger,
	}
}

// EvaluateAll evaluates every position, returning results in the same
// order as the input regardless of completion order. A position that
// keeps failing after retries gets an Unavailable sentinel and the
// batch continues; only a batch with no usable result at all returns
// ErrAllPositionsFailed. progress, if non-nil, is called after each
// completed slot; calls are serialized with a monotonic done count, so
// callbacks may write to unsynchronized sinks (a slice, a websocket).
func (e *Evaluator) EvaluateAll(ctx context.Context, positions []game.Position, b Budget, progress func(done, total int)) ([]Result, *Report, error) {
	results := make([]Result, len(positions))
	if len(positions) == 0 {
		return results, &Report{}, nil
	}

	workers := e.cfg.Workers
	if workers > len(positions) {
		workers = len(positions)
	}

	jobs := make(chan int, len(positions))
	for i := range positions {
		jobs <- i
	}
	close(jobs)

	var (
		wg         sync.WaitGroup
		progressMu sync.Mutex
		done       int
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				select {
				case <-ctx.Done():
					results[idx] = Result{Unavailable: true}
					continue
				default:
				}

				results[idx] = e.evaluateOne(ctx, positions[idx], b)

				if progress != nil {
					progressMu.Lock()
					done++
					progress(done, len(positions))
					progressMu.Unlock()
				}
			}
		}()
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	report := &Report{}
	for i, r := range results {
		if r.Unavailable {
			report.FailedPlies = append(report.FailedPlies, i)
		}
	}
	if len(report.FailedPlies) == len(positions) {
		return results, report, ErrAllPositionsFailed
	}
	return results, report, nil
}

// evaluateOne resolves a single position: terminal positions are scored
// without the oracle, everything else goes through the cache with
// bounded retries before falling back to a sentinel.
func (e *Evaluator) evaluateOne(ctx context.Context, p game.Position, b Budget) Result {
	// Game-over positions have a known score and engines refuse them.
	if p.Checkmate() {
		if p.WhiteToMove {
			return Result{CP: -mateScore}
		}
		return Result{CP: mateScore}
	}
	if p.Stalemate() {
		return Result{CP: 0}
	}

	if p.FEN == "" {
		e.log.Warn().Int("ply", p.Ply).Msg("position has no FEN, marking unavailable")
		return Result{Unavailable: true}
	}

	attempts := 1 + e.cfg.Retries
	for attempt := 0; attempt < attempts; attempt++ {
		r, err := e.cache.GetOrCompute(ctx, p.Key, func(ctx context.Context) (Result, error) {
			return e.oracle.Evaluate(ctx, p.FEN, b)
		})
		if err == nil {
			return r
		}
		if ctx.Err() != nil || errors.Is(err, ErrMalformedPosition) {
			break
		}
		e.log.Warn().Err(err).Int("ply", p.Ply).Int("attempt", attempt+1).Msg("evaluation attempt failed")
	}

	return Result{Unavailable: true}
}
