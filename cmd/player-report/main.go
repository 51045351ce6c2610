// Command player-report fetches a player's recent chess.com games,
// analyzes them concurrently, and prints a move-quality report for
// that player.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gamereview/api/internal/analysis"
	"github.com/gamereview/api/internal/book"
	"github.com/gamereview/api/internal/chesscom"
	"github.com/gamereview/api/internal/eval"
	"github.com/gamereview/api/internal/game"
	"github.com/gamereview/api/internal/logx"
)

type gameReport struct {
	game     chesscom.Game
	summary  analysis.Summary
	opponent string
	color    string
	err      error
}

func main() {
	defaultStockfish := "stockfish"
	if envPath := os.Getenv("STOCKFISH_PATH"); envPath != "" {
		defaultStockfish = envPath
	}

	var (
		username      = flag.String("user", "", "chess.com username")
		numGames      = flag.Int("games", 20, "number of recent games to analyze")
		stockfishPath = flag.String("stockfish", defaultStockfish, "path to Stockfish executable")
		depth         = flag.Int("depth", 12, "engine search depth")
		engineWorkers = flag.Int("workers", 0, "engine processes (0 = NumCPU)")
		concurrency   = flag.Int("concurrency", 2, "games analyzed in parallel")
		bookDir       = flag.String("book-dir", "", "directory of opening TSV files (optional)")
		logLevel      = flag.String("log-level", "warn", "log level")
	)
	flag.Parse()

	if *username == "" {
		fmt.Fprintln(os.Stderr, "Usage: player-report --user <username> [options]")
		flag.PrintDefaults()
		os.Exit(1)
	}

	logger := logx.NewLogger(*logLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	client := chesscom.NewClient("", logger)
	fmt.Fprintf(os.Stderr, "fetching games for %s...\n", *username)
	games, err := client.RecentGames(ctx, *username, *numGames)
	if err != nil {
		logger.Fatal().Err(err).Msg("fetch games")
	}
	if len(games) == 0 {
		fmt.Println("no games found")
		return
	}

	pool, err := eval.NewEnginePool(eval.PoolConfig{
		StockfishPath: *stockfishPath,
		Logger:        logger,
		Workers:       *engineWorkers,
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

	// One evaluator and cache shared by all games: transpositions
	// between a player's games are common in the opening.
	evaluator := eval.NewEvaluator(pool, eval.NewCache(500_000, nil, logger), eval.EvaluatorConfig{Logger: logger})
	analyzer := analysis.NewAnalyzer(evaluator, bookDB, analysis.AnalyzerConfig{
		Depth:  *depth,
		Logger: logger,
	})

	jobs := make(chan chesscom.Game, len(games))
	results := make(chan gameReport, len(games))
	for _, g := range games {
		jobs <- g
	}
	close(jobs)

	var wg sync.WaitGroup
	for w := 0; w < *concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for cg := range jobs {
				results <- analyzeOne(ctx, analyzer, cg, *username)
			}
		}()
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	var total analysis.Summary
	var analyzed, failed int
	done := 0
	for rep := range results {
		done++
		if rep.err != nil {
			failed++
			fmt.Fprintf(os.Stderr, "[%d/%d] vs %s: %v\n", done, len(games), rep.opponent, rep.err)
			continue
		}
		analyzed++
		addSummary(&total, rep.summary)
		fmt.Fprintf(os.Stderr, "[%d/%d] %s vs %s (%s): %s\n",
			done, len(games), gameDate(rep.game), rep.opponent, rep.color, shortSummary(rep.summary))
	}

	fmt.Println()
	fmt.Printf("%s - last %d games (%d analyzed, %d failed)\n", *username, len(games), analyzed, failed)
	fmt.Printf("  brilliant:  %d\n", total.Brilliant)
	fmt.Printf("  best:       %d\n", total.Best)
	fmt.Printf("  excellent:  %d\n", total.Excellent)
	fmt.Printf("  good:       %d\n", total.Good)
	fmt.Printf("  book:       %d\n", total.Book)
	fmt.Printf("  forced:     %d\n", total.Forced)
	fmt.Printf("  inaccuracy: %d\n", total.Inaccuracy)
	fmt.Printf("  mistake:    %d\n", total.Mistake)
	fmt.Printf("  miss:       %d\n", total.Miss)
	fmt.Printf("  blunder:    %d\n", total.Blunder)
}

// analyzeOne runs the pipeline for one archived game and extracts the
// player's side of the summary.
func analyzeOne(ctx context.Context, analyzer *analysis.Analyzer, cg chesscom.Game, username string) gameReport {
	rep := gameReport{game: cg}

	isWhite := strings.EqualFold(cg.White.Username, username)
	if isWhite {
		rep.color = "white"
		rep.opponent = cg.Black.Username
	} else {
		rep.color = "black"
		rep.opponent = cg.White.Username
	}

	g, err := game.Parse(cg.PGN)
	if err != nil {
		rep.err = fmt.Errorf("parse: %w", err)
		return rep
	}

	result, err := analyzer.Analyze(ctx, g, nil)
	if err != nil {
		rep.err = err
		return rep
	}

	if isWhite {
		rep.summary = result.WhiteSummary
	} else {
		rep.summary = result.BlackSummary
	}
	return rep
}

func addSummary(dst *analysis.Summary, s analysis.Summary) {
	dst.Brilliant += s.Brilliant
	dst.Best += s.Best
	dst.Excellent += s.Excellent
	dst.Good += s.Good
	dst.Book += s.Book
	dst.Forced += s.Forced
	dst.Inaccuracy += s.Inaccuracy
	dst.Mistake += s.Mistake
	dst.Miss += s.Miss
	dst.Blunder += s.Blunder
}

func shortSummary(s analysis.Summary) string {
	return fmt.Sprintf("%d brilliant, %d best, %d mistakes, %d blunders",
		s.Brilliant, s.Best, s.Mistake, s.Blunder)
}

func gameDate(g chesscom.Game) string {
	if g.EndTime == 0 {
		return "unknown"
	}
	return time.Unix(g.EndTime, 0).Format("2006-01-02")
}
