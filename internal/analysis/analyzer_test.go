package analysis

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/gamereview/api/internal/book"
	"github.com/gamereview/api/internal/eval"
	"github.com/gamereview/api/internal/game"
)

// scriptedOracle serves evals keyed by FEN, with a default for
// positions outside the script (alternative-move look-aheads).
type scriptedOracle struct {
	mu        sync.Mutex
	results   map[string]eval.Result
	deflt     *eval.Result
	fail      map[string]error
	lastDepth int
}

func (o *scriptedOracle) Evaluate(_ context.Context, fen string, b eval.Budget) (eval.Result, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.lastDepth = b.Depth
	if err, ok := o.fail[fen]; ok {
		return eval.Result{}, err
	}
	if r, ok := o.results[fen]; ok {
		return r, nil
	}
	if o.deflt != nil {
		return *o.deflt, nil
	}
	return eval.Result{}, eval.ErrOracleUnavailable
}

func newTestAnalyzer(oracle eval.Oracle, bookDB *book.Database) *Analyzer {
	ev := eval.NewEvaluator(oracle, eval.NewCache(1024, nil, zerolog.Nop()), eval.EvaluatorConfig{
		Workers: 4,
		Retries: 1,
		Logger:  zerolog.Nop(),
	})
	return NewAnalyzer(ev, bookDB, AnalyzerConfig{Depth: 12, Logger: zerolog.Nop()})
}

func mustParse(t *testing.T, pgnText string) *game.Game {
	t.Helper()
	g, err := game.Parse(pgnText)
	if err != nil {
		t.Fatal(err)
	}
	return g
}

// scriptEvals assigns cp to every mainline position, marking each
// played move as the engine's choice.
func scriptEvals(g *game.Game, cp int) map[string]eval.Result {
	m := make(map[string]eval.Result, len(g.Positions))
	for i, p := range g.Positions {
		r := eval.Result{CP: cp, Depth: 12}
		if i < len(g.Plies) {
			r.BestMove = g.Plies[i].UCI
		}
		m[p.FEN] = r
	}
	return m
}

func TestAnalyzeFlatGame(t *testing.T) {
	g := mustParse(t, "1. e4 e5 2. Nf3 Nc6")
	oracle := &scriptedOracle{results: scriptEvals(g, 30)}

	a := newTestAnalyzer(oracle, nil)
	result, err := a.Analyze(context.Background(), g, nil)
	if err != nil {
		t.Fatal(err)
	}

	if result.State != StateComplete {
		t.Errorf("state = %v", result.State)
	}
	if len(result.Moves) != 4 {
		t.Fatalf("moves = %d, want 4", len(result.Moves))
	}
	for i, m := range result.Moves {
		if m.Quality != Best {
			t.Errorf("ply %d (%s) = %v, want Best", i, m.SAN, m.Quality)
		}
		if m.Ply != i {
			t.Errorf("ply %d out of order: %d", i, m.Ply)
		}
		if m.EvalBefore == nil || *m.EvalBefore != 30 {
			t.Errorf("ply %d eval_before = %v", i, m.EvalBefore)
		}
	}
	if result.WhiteSummary.Best != 2 || result.BlackSummary.Best != 2 {
		t.Errorf("summaries = %+v / %+v", result.WhiteSummary, result.BlackSummary)
	}
	if result.White != "Unknown" || result.Result != "*" {
		t.Errorf("headers = %q %q", result.White, result.Result)
	}
}

func TestAnalyzeDepthOverride(t *testing.T) {
	g := mustParse(t, "1. e4 e5")
	oracle := &scriptedOracle{results: scriptEvals(g, 30)}

	a := newTestAnalyzer(oracle, nil)
	result, err := a.Analyze(context.Background(), g, nil, WithDepth(8))
	if err != nil {
		t.Fatal(err)
	}
	if result.Depth != 8 {
		t.Errorf("depth = %d, want 8", result.Depth)
	}
	oracle.mu.Lock()
	depth := oracle.lastDepth
	oracle.mu.Unlock()
	if depth != 8 {
		t.Errorf("oracle depth = %d, want 8", depth)
	}

	// Out-of-range overrides keep the configured depth.
	result, err = a.Analyze(context.Background(), g, nil, WithDepth(0))
	if err != nil {
		t.Fatal(err)
	}
	if result.Depth != 12 {
		t.Errorf("depth = %d, want 12", result.Depth)
	}
}

func TestAnalyzePerspectiveAndForced(t *testing.T) {
	g := mustParse(t, "1. e4 e5 2. Qh5 Nc6 3. Qxf7+ Kxf7")
	if len(g.Plies) != 6 {
		t.Fatalf("plies = %d", len(g.Plies))
	}

	// White-perspective evals per position. The queen grab at ply 4
	// hangs the queen; ply 5 is the forced recapture.
	cps := []int{30, 20, 20, 10, 200, -700, -700}
	results := make(map[string]eval.Result)
	for i, p := range g.Positions {
		r := eval.Result{CP: cps[i], Depth: 12}
		switch i {
		case 0:
			r.BestMove = g.Plies[0].UCI
		case 4:
			r.BestMove = "d2d4"
		}
		results[p.FEN] = r
	}

	a := newTestAnalyzer(&scriptedOracle{results: results}, nil)
	result, err := a.Analyze(context.Background(), g, nil)
	if err != nil {
		t.Fatal(err)
	}

	want := []Quality{Best, Excellent, Excellent, Mistake, Blunder, Forced}
	for i, m := range result.Moves {
		if m.Quality != want[i] {
			t.Errorf("ply %d (%s) = %v, want %v", i, m.SAN, m.Quality, want[i])
		}
	}

	// Loss is mover-perspective: black's slide from -10 to -200 at ply
	// 3 must read as black's mistake, not black's gain.
	if result.BlackSummary.Mistake != 1 {
		t.Errorf("black summary = %+v", result.BlackSummary)
	}
	if result.WhiteSummary.Blunder != 1 {
		t.Errorf("white summary = %+v", result.WhiteSummary)
	}
	if result.Moves[4].BestMove == "" {
		t.Error("blunder should carry the engine's best move")
	}
}

func TestAnalyzeUnavailablePly(t *testing.T) {
	g := mustParse(t, "1. e4 e5 2. Nf3 Nc6")
	oracle := &scriptedOracle{
		results: scriptEvals(g, 30),
		fail:    map[string]error{g.Positions[2].FEN: eval.ErrOracleTimeout},
	}

	a := newTestAnalyzer(oracle, nil)
	result, err := a.Analyze(context.Background(), g, nil)
	if err != nil {
		t.Fatal(err)
	}

	if len(result.FailedPlies) != 1 || result.FailedPlies[0] != 2 {
		t.Errorf("failed plies = %v, want [2]", result.FailedPlies)
	}
	// Both plies touching position 2 lose their evals.
	for _, i := range []int{1, 2} {
		if result.Moves[i].Quality != Unclassified || !result.Moves[i].Unavailable {
			t.Errorf("ply %d = %v unavailable=%v", i, result.Moves[i].Quality, result.Moves[i].Unavailable)
		}
	}
	for _, i := range []int{0, 3} {
		if result.Moves[i].Quality != Best {
			t.Errorf("ply %d = %v, want Best", i, result.Moves[i].Quality)
		}
	}
	if result.State != StateComplete {
		t.Errorf("state = %v", result.State)
	}
}

func TestAnalyzeAllFailed(t *testing.T) {
	g := mustParse(t, "1. e4 e5")
	a := newTestAnalyzer(&scriptedOracle{}, nil)

	result, err := a.Analyze(context.Background(), g, nil)
	if err == nil {
		t.Fatal("want error when nothing evaluates")
	}
	if result == nil || result.State != StateFailed || result.Error == "" {
		t.Errorf("result = %+v", result)
	}
}

func TestAnalyzeBookMoves(t *testing.T) {
	dir := t.TempDir()
	tsv := "eco\tname\tpgn\nC20\tKing's Pawn Game\t1. e4 e5\n"
	if err := os.WriteFile(filepath.Join(dir, "eco.tsv"), []byte(tsv), 0o644); err != nil {
		t.Fatal(err)
	}
	db := book.NewDatabase()
	if err := db.LoadDir(dir); err != nil {
		t.Fatal(err)
	}

	g := mustParse(t, "1. e4 e5 2. Nf3 Nc6")
	a := newTestAnalyzer(&scriptedOracle{results: scriptEvals(g, 30)}, db)

	result, err := a.Analyze(context.Background(), g, nil)
	if err != nil {
		t.Fatal(err)
	}

	want := []Quality{Book, Book, Best, Best}
	for i, m := range result.Moves {
		if m.Quality != want[i] {
			t.Errorf("ply %d (%s) = %v, want %v", i, m.SAN, m.Quality, want[i])
		}
	}
	if result.Opening == nil || result.Opening.ECO != "C20" {
		t.Errorf("opening = %+v, want C20", result.Opening)
	}
	if result.WhiteSummary.Book != 1 || result.BlackSummary.Book != 1 {
		t.Errorf("summaries = %+v / %+v", result.WhiteSummary, result.BlackSummary)
	}
}

func TestAnalyzeBrilliancy(t *testing.T) {
	// Qh5 hangs the queen to gxh5 while the script keeps the eval
	// intact and scores every alternative far worse.
	g := mustParse(t, "1. e4 g6 2. Qh5")
	deflt := eval.Result{CP: -100, Depth: 12}
	oracle := &scriptedOracle{results: scriptEvals(g, 100), deflt: &deflt}

	a := newTestAnalyzer(oracle, nil)
	result, err := a.Analyze(context.Background(), g, nil)
	if err != nil {
		t.Fatal(err)
	}

	if got := result.Moves[2].Quality; got != Brilliant {
		t.Errorf("Qh5 = %v, want Brilliant", got)
	}
	if result.WhiteSummary.Brilliant != 1 {
		t.Errorf("white summary = %+v", result.WhiteSummary)
	}
}

func TestAnalyzeProgressEvents(t *testing.T) {
	g := mustParse(t, "1. e4 e5")
	a := newTestAnalyzer(&scriptedOracle{results: scriptEvals(g, 30)}, nil)

	var events []ProgressEvent
	_, err := a.Analyze(context.Background(), g, func(ev ProgressEvent) {
		events = append(events, ev)
	})
	if err != nil {
		t.Fatal(err)
	}

	if len(events) == 0 || events[0].State != StateReceived {
		t.Fatalf("events = %+v", events)
	}
	var evaluating, classifying int
	for _, ev := range events {
		switch ev.State {
		case StateEvaluating:
			evaluating++
		case StateClassifying:
			classifying++
			if ev.Ply == nil {
				t.Error("classifying event missing ply")
			}
		}
	}
	if evaluating != len(g.Positions) {
		t.Errorf("evaluating events = %d, want %d", evaluating, len(g.Positions))
	}
	if classifying != len(g.Plies) {
		t.Errorf("classifying events = %d, want %d", classifying, len(g.Plies))
	}
}

func TestAnalyzeCancellation(t *testing.T) {
	g := mustParse(t, "1. e4 e5 2. Nf3 Nc6")
	a := newTestAnalyzer(&scriptedOracle{results: scriptEvals(g, 30)}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := a.Analyze(ctx, g, nil); err == nil {
		t.Fatal("want error on cancelled context")
	}
}
