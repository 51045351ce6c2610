// Package book provides opening-book lookup backed by ECO
// (Encyclopedia of Chess Openings) TSV data.
package book

import (
	"bufio"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/freeeve/pgn/v3"
	"github.com/klauspost/compress/zstd"
)

// Opening names a known book line.
type Opening struct {
	ECO  string `json:"eco"`
	Name string `json:"name"`
}

// Database indexes opening lines by position fingerprint: a position is
// "in book" when any catalogued line passes through it, regardless of
// the move order that reached it.
type Database struct {
	byPosition map[string]Opening
	count      int
}

// NewDatabase creates an empty opening database.
func NewDatabase() *Database {
	return &Database{
		byPosition: make(map[string]Opening),
	}
}

// moveNumberRegex matches move numbers like "1." or "12..."
var moveNumberRegex = regexp.MustCompile(`\d+\.+\s*`)

// LoadDir loads every .tsv, .tsv.zst, and .tsv.gz file in dir.
func (db *Database) LoadDir(dir string) error {
	var files []string
	for _, pattern := range []string{"*.tsv", "*.tsv.zst", "*.tsv.gz"} {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return err
		}
		files = append(files, matches...)
	}
	if len(files) == 0 {
		return fmt.Errorf("no opening files found in %s", dir)
	}
	sort.Strings(files)

	for _, file := range files {
		if err := db.LoadFile(file); err != nil {
			return fmt.Errorf("load %s: %w", file, err)
		}
	}
	return nil
}

// LoadFile loads a single TSV file (eco\tname\tpgn per line; .zst and
// .gz compression supported).
func (db *Database) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var reader io.Reader = f
	if strings.HasSuffix(path, ".zst") {
		zr, err := zstd.NewReader(f, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return err
		}
		defer zr.Close()
		reader = zr
	} else if strings.HasSuffix(path, ".gz") {
		gr, err := gzip.NewReader(f)
		if err != nil {
			return err
		}
		defer gr.Close()
		reader = gr
	}

	scanner := bufio.NewScanner(reader)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := scanner.Text()

		// Skip header
		if lineNum == 1 && strings.HasPrefix(line, "eco\t") {
			continue
		}

		// Parse TSV: eco\tname\tpgn
		parts := strings.SplitN(line, "\t", 3)
		if len(parts) != 3 {
			continue
		}

		eco := parts[0]
		name := parts[1]
		pgnMoves := parts[2]

		// Index every position along the line, not just its tail: a
		// game is in book for as long as it stays on any known line.
		pos := pgn.NewStartingPosition()
		if err := db.indexLine(pos, pgnMoves, Opening{ECO: eco, Name: name}); err != nil {
			// Skip invalid lines silently
			continue
		}
		db.count++
	}

	return scanner.Err()
}

// indexLine applies SAN moves like "1. e4 e5 2. Nf3 Nc6" and records
// the opening under each position reached. A line's own final position
// always carries that line's name; intermediate positions keep the
// name of whichever line ends there.
func (db *Database) indexLine(pos *pgn.GameState, pgnMoves string, o Opening) error {
	cleaned := moveNumberRegex.ReplaceAllString(pgnMoves, "")
	moves := strings.Fields(cleaned)

	for i, san := range moves {
		if san == "" || san[0] == '$' || san[0] == '{' {
			continue
		}
		san = strings.TrimSuffix(san, "+")
		san = strings.TrimSuffix(san, "#")

		mv, err := pgn.ParseSAN(pos, san)
		if err != nil {
			return fmt.Errorf("parse %q: %w", san, err)
		}
		if err := pgn.ApplyMove(pos, mv); err != nil {
			return fmt.Errorf("apply %q: %w", san, err)
		}

		key := pos.Pack().String()
		if i == len(moves)-1 {
			db.byPosition[key] = o
		} else if _, ok := db.byPosition[key]; !ok {
			db.byPosition[key] = o
		}
	}
	return nil
}

// Lookup returns the opening for a position fingerprint, or nil when
// the position is out of book. Safe on a nil database.
func (db *Database) Lookup(key string) *Opening {
	if db == nil {
		return nil
	}
	if o, ok := db.byPosition[key]; ok {
		return &o
	}
	return nil
}

// IsBook reports whether the fingerprint lies on a catalogued line.
// Safe on a nil database.
func (db *Database) IsBook(key string) bool {
	return db.Lookup(key) != nil
}

// Count returns the number of opening lines loaded.
func (db *Database) Count() int {
	if db == nil {
		return 0
	}
	return db.count
}
