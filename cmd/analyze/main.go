// Command analyze runs the analysis pipeline over a local PGN file and
// prints per-move verdicts.
package main

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/gamereview/api/internal/analysis"
	"github.com/gamereview/api/internal/book"
	"github.com/gamereview/api/internal/eval"
	"github.com/gamereview/api/internal/game"
	"github.com/gamereview/api/internal/logx"
)

func main() {
	defaultStockfish := "stockfish"
	if envPath := os.Getenv("STOCKFISH_PATH"); envPath != "" {
		defaultStockfish = envPath
	}

	var (
		inputPath     = flag.String("pgn", "", "Path to PGN file (supports .zst and .gz)")
		stockfishPath = flag.String("stockfish", defaultStockfish, "path to Stockfish executable")
		depth         = flag.Int("depth", 12, "engine search depth")
		workers       = flag.Int("workers", 0, "engine processes (0 = NumCPU)")
		bookDir       = flag.String("book-dir", "", "directory of opening TSV files (optional)")
		asJSON        = flag.Bool("json", false, "emit the full analysis as JSON")
		logLevel      = flag.String("log-level", "warn", "log level")
	)
	flag.Parse()

	if *inputPath == "" {
		fmt.Fprintln(os.Stderr, "Usage: analyze --pgn <file.pgn[.zst|.gz]> [options]")
		flag.PrintDefaults()
		os.Exit(1)
	}

	logger := logx.NewLogger(*logLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	pgnText, err := readPGN(*inputPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("read pgn")
	}
	g, err := game.Parse(pgnText)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse pgn")
	}

	pool, err := eval.NewEnginePool(eval.PoolConfig{
		StockfishPath: *stockfishPath,
		Logger:        logger,
		Workers:       *workers,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("create engine pool")
	}
	defer pool.Close()

	var bookDB *book.Database
	if *bookDir != "" {
		bookDB = book.NewDatabase()
		if err := bookDB.LoadDir(*bookDir); err != nil {
			logger.Warn().Err(err).Msg("failed to load opening book")
			bookDB = nil
		}
	}

	evaluator := eval.NewEvaluator(pool, eval.NewCache(100_000, nil, logger), eval.EvaluatorConfig{Logger: logger})
	analyzer := analysis.NewAnalyzer(evaluator, bookDB, analysis.AnalyzerConfig{
		Depth:  *depth,
		Logger: logger,
	})

	result, err := analyzer.Analyze(ctx, g, func(ev analysis.ProgressEvent) {
		if ev.State == analysis.StateEvaluating {
			fmt.Fprintf(os.Stderr, "\revaluating %d/%d", ev.Done, ev.Total)
		}
	})
	fmt.Fprintln(os.Stderr)
	if err != nil {
		logger.Fatal().Err(err).Msg("analyze")
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			logger.Fatal().Err(err).Msg("encode result")
		}
		return
	}

	printReport(g, result)
}

func readPGN(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var reader io.Reader = f
	if strings.HasSuffix(path, ".zst") {
		zr, err := zstd.NewReader(f, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return "", err
		}
		defer zr.Close()
		reader = zr
	} else if strings.HasSuffix(path, ".gz") {
		gr, err := gzip.NewReader(f)
		if err != nil {
			return "", err
		}
		defer gr.Close()
		reader = gr
	}

	raw, err := io.ReadAll(reader)
	return string(raw), err
}

func printReport(g *game.Game, result *analysis.GameAnalysis) {
	fmt.Printf("%s vs %s  %s\n", result.White, result.Black, result.Result)
	if result.Opening != nil {
		fmt.Printf("Opening: %s %s\n", result.Opening.ECO, result.Opening.Name)
	}
	fmt.Println()

	for _, m := range result.Moves {
		moveNo := m.Ply/2 + 1
		prefix := fmt.Sprintf("%d.", moveNo)
		if m.Ply%2 == 1 {
			prefix = fmt.Sprintf("%d...", moveNo)
		}

		line := fmt.Sprintf("%-7s %-8s %s", prefix, m.SAN, m.Quality)
		if m.EvalAfter != nil {
			line += fmt.Sprintf("  (%+.2f)", float64(*m.EvalAfter)/100)
		}
		if m.BestMove != "" {
			line += fmt.Sprintf("  best: %s", m.BestMove)
		}
		fmt.Println(line)
	}

	fmt.Println()
	fmt.Printf("White: %s\n", summaryLine(result.WhiteSummary))
	fmt.Printf("Black: %s\n", summaryLine(result.BlackSummary))
	if len(result.FailedPlies) > 0 {
		fmt.Printf("Unevaluated positions: %d\n", len(result.FailedPlies))
	}
	fmt.Printf("Elapsed: %s\n", result.Elapsed.Round(10*time.Millisecond))
}

func summaryLine(s analysis.Summary) string {
	parts := []string{}
	add := func(n int, label string) {
		if n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, label))
		}
	}
	add(s.Brilliant, "brilliant")
	add(s.Best, "best")
	add(s.Excellent, "excellent")
	add(s.Good, "good")
	add(s.Book, "book")
	add(s.Forced, "forced")
	add(s.Inaccuracy, "inaccuracies")
	add(s.Mistake, "mistakes")
	add(s.Miss, "misses")
	add(s.Blunder, "blunders")
	if len(parts) == 0 {
		return "no moves"
	}
	return strings.Join(parts, ", ")
}
