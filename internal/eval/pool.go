package eval

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"sync/atomic"
	"time"

	"github.com/freeeve/uci"
	"github.com/rs/zerolog"
)

// PoolConfig configures the engine pool.
type PoolConfig struct {
	StockfishPath string
	Logger        zerolog.Logger
	Workers       int           // Number of engine processes
	HashMB        int           // Hash table size per engine
	Threads       int           // Engine threads per process
	Nice          int           // Nice value for engine processes (0 = disabled)
	Timeout       time.Duration // Per-evaluation deadline
	MaxRestarts   int           // Consecutive failed spawns per slot before giving up
}

// EnginePool implements Oracle over a fixed set of UCI engine
// processes. Callers borrow an engine for the duration of one
// evaluation; a timed-out or cancelled evaluation kills the process and
// a fresh one is spawned on next use. Kills never consume the restart
// budget: only MaxRestarts consecutive failed spawns retire a slot, so
// routine disconnects and timeouts leave the pool fully usable.
type EnginePool struct {
	cfg     PoolConfig
	log     zerolog.Logger
	handles chan *engineHandle

	evaluated int64
	timeouts  int64
	restarts  int64
	failures  int64
}

type engineHandle struct {
	id           int
	engine       *uci.Engine
	spawns       int
	failedSpawns int
}

func (h *engineHandle) spawnFailed() {
	h.failedSpawns++
}

// spawnSucceeded clears the failure streak.
func (h *engineHandle) spawnSucceeded() {
	h.failedSpawns = 0
	h.spawns++
}

// available reports whether the slot may spawn another engine.
func (h *engineHandle) available(maxRestarts int) bool {
	return h.failedSpawns <= maxRestarts
}

// NewEnginePool creates a pool of Workers engine slots. Engine
// processes are spawned lazily on first use so a missing binary
// surfaces as ErrOracleUnavailable per call rather than at startup.
func NewEnginePool(cfg PoolConfig) (*EnginePool, error) {
	if cfg.StockfishPath == "" {
		return nil, fmt.Errorf("stockfish path required")
	}
	if cfg.Workers == 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.HashMB == 0 {
		cfg.HashMB = 64
	}
	if cfg.Threads == 0 {
		cfg.Threads = 1
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRestarts == 0 {
		cfg.MaxRestarts = 3
	}

	p := &EnginePool{
		cfg:     cfg,
		log:     cfg.Logger,
		handles: make(chan *engineHandle, cfg.Workers),
	}
	for i := 0; i < cfg.Workers; i++ {
		p.handles <- &engineHandle{id: i}
	}

	p.log.Info().
		Str("stockfish", cfg.StockfishPath).
		Int("workers", cfg.Workers).
		Int("threads", cfg.Threads).
		Int("hash_mb", cfg.HashMB).
		Dur("timeout", cfg.Timeout).
		Msg("engine pool ready")

	return p, nil
}

// Evaluate runs one engine search for fen, returning the score
// normalized to white's perspective.
func (p *EnginePool) Evaluate(ctx context.Context, fen string, b Budget) (Result, error) {
	if strings.TrimSpace(fen) == "" {
		return Result{}, ErrMalformedPosition
	}

	var h *engineHandle
	select {
	case h = <-p.handles:
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
	defer func() { p.handles <- h }()

	if err := p.ensureEngine(h); err != nil {
		atomic.AddInt64(&p.failures, 1)
		return Result{}, err
	}

	type goResult struct {
		results *uci.Results
		err     error
	}
	done := make(chan goResult, 1)
	go func() {
		if err := h.engine.SetFEN(fen); err != nil {
			done <- goResult{err: fmt.Errorf("set FEN: %w", err)}
			return
		}
		results, err := h.engine.GoDepth(b.Depth, uci.HighestDepthOnly)
		done <- goResult{results: results, err: err}
	}()

	timer := time.NewTimer(p.cfg.Timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		p.killEngine(h)
		return Result{}, ctx.Err()
	case <-timer.C:
		// Killing the process unblocks the search goroutine.
		p.killEngine(h)
		atomic.AddInt64(&p.timeouts, 1)
		p.log.Warn().Int("engine", h.id).Str("fen", fen).Msg("evaluation timed out")
		return Result{}, ErrOracleTimeout
	case r := <-done:
		if r.err != nil {
			p.killEngine(h)
			atomic.AddInt64(&p.failures, 1)
			return Result{}, fmt.Errorf("%w: %v", ErrOracleUnavailable, r.err)
		}
		res, err := p.toResult(fen, b, r.results)
		if err != nil {
			atomic.AddInt64(&p.failures, 1)
			return Result{}, err
		}
		atomic.AddInt64(&p.evaluated, 1)
		return res, nil
	}
}

func (p *EnginePool) toResult(fen string, b Budget, results *uci.Results) (Result, error) {
	if results == nil || len(results.Results) == 0 {
		return Result{}, fmt.Errorf("%w: no results from engine", ErrOracleUnavailable)
	}

	best := results.Results[0]
	for _, r := range results.Results {
		if r.Depth > best.Depth {
			best = r
		}
	}

	// Engine scores are from the side to move; normalize to white.
	blackToMove := strings.Contains(fen, " b ")
	score := best.Score
	if blackToMove {
		score = -score
	}

	res := Result{
		BestMove: results.BestMove,
		Depth:    best.Depth,
	}
	if best.Mate {
		res.Mate = score
	} else {
		res.CP = score
	}
	return res, nil
}

// ensureEngine spawns the slot's engine process if it is not running.
func (p *EnginePool) ensureEngine(h *engineHandle) error {
	if h.engine != nil {
		return nil
	}
	if !h.available(p.cfg.MaxRestarts) {
		return fmt.Errorf("%w: engine %d failed to spawn %d times", ErrOracleUnavailable, h.id, h.failedSpawns)
	}

	engine, err := uci.NewEngine(p.cfg.StockfishPath)
	if err != nil {
		h.spawnFailed()
		return fmt.Errorf("%w: %v", ErrOracleUnavailable, err)
	}

	opts := uci.Options{
		Hash:    p.cfg.HashMB,
		Threads: p.cfg.Threads,
		MultiPV: 1,
		Ponder:  false,
		OwnBook: false,
	}
	if err := engine.SetOptions(opts); err != nil {
		engine.Close()
		h.spawnFailed()
		return fmt.Errorf("%w: set options: %v", ErrOracleUnavailable, err)
	}

	if p.cfg.Nice > 0 {
		nice := p.cfg.Nice
		if nice > 19 {
			nice = 19
		}
		if err := engine.SetNice(nice); err != nil {
			p.log.Warn().Err(err).Int("nice", nice).Msg("failed to set nice value")
		}
	}

	h.engine = engine
	h.spawnSucceeded()
	if h.spawns > 1 {
		atomic.AddInt64(&p.restarts, 1)
	}
	p.log.Debug().Int("engine", h.id).Msg("engine started")
	return nil
}

func (p *EnginePool) killEngine(h *engineHandle) {
	if h.engine != nil {
		h.engine.Close()
		h.engine = nil
	}
}

// Close shuts down every engine process. No evaluations may be in
// flight when Close is called.
func (p *EnginePool) Close() {
	for i := 0; i < p.cfg.Workers; i++ {
		h := <-p.handles
		p.killEngine(h)
	}
	close(p.handles)
	p.log.Info().
		Int64("evaluated", atomic.LoadInt64(&p.evaluated)).
		Int64("timeouts", atomic.LoadInt64(&p.timeouts)).
		Msg("engine pool closed")
}

// PoolStats holds engine pool counters.
type PoolStats struct {
	Workers   int   `json:"workers"`
	Evaluated int64 `json:"evaluated"`
	Timeouts  int64 `json:"timeouts"`
	Restarts  int64 `json:"restarts"`
	Failures  int64 `json:"failures"`
}

// Stats returns current pool counters.
func (p *EnginePool) Stats() PoolStats {
	return PoolStats{
		Workers:   p.cfg.Workers,
		Evaluated: atomic.LoadInt64(&p.evaluated),
		Timeouts:  atomic.LoadInt64(&p.timeouts),
		Restarts:  atomic.LoadInt64(&p.restarts),
		Failures:  atomic.LoadInt64(&p.failures),
	}
}
