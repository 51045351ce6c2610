package game

import (
	"strings"
	"testing"
)

const italianPGN = `[Event "Test"]
[White "Alice"]
[Black "Bob"]
[Result "1-0"]

1. e4 e5 2. Nf3 Nc6 3. Bc4 1-0`

func TestParse(t *testing.T) {
	g, err := Parse(italianPGN)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if got := g.Tags["White"]; got != "Alice" {
		t.Errorf("White tag = %q, want Alice", got)
	}
	if got := g.Result(); got != "1-0" {
		t.Errorf("Result = %q, want 1-0", got)
	}

	if len(g.Plies) != 5 {
		t.Fatalf("plies = %d, want 5", len(g.Plies))
	}
	if len(g.Positions) != 6 {
		t.Fatalf("positions = %d, want 6", len(g.Positions))
	}

	wantSAN := []string{"e4", "e5", "Nf3", "Nc6", "Bc4"}
	for i, ply := range g.Plies {
		if ply.SAN != wantSAN[i] {
			t.Errorf("ply %d SAN = %q, want %q", i, ply.SAN, wantSAN[i])
		}
		if ply.Index != i {
			t.Errorf("ply %d Index = %d", i, ply.Index)
		}
	}

	if g.Plies[0].UCI != "e2e4" {
		t.Errorf("ply 0 UCI = %q, want e2e4", g.Plies[0].UCI)
	}

	// Starting position has 20 legal moves.
	if g.Positions[0].LegalCount != 20 {
		t.Errorf("start LegalCount = %d, want 20", g.Positions[0].LegalCount)
	}
	if !g.Positions[0].WhiteToMove {
		t.Error("start should be white to move")
	}
	if g.Positions[1].WhiteToMove {
		t.Error("after 1. e4 should be black to move")
	}

	// Ply indices on positions line up.
	for i, p := range g.Positions {
		if p.Ply != i {
			t.Errorf("position %d Ply = %d", i, p.Ply)
		}
		if p.Key == "" || p.FEN == "" {
			t.Errorf("position %d missing key or FEN", i)
		}
	}
}

func TestParseStripsAnnotations(t *testing.T) {
	pgn := `[Event "Annotated"]

1. e4 {a comment} 1... e5 $1 2. Nf3! (2. f4 {king's gambit} exf4) 2... Nc6?! 1/2-1/2`

	g, err := Parse(pgn)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(g.Plies) != 4 {
		t.Fatalf("plies = %d, want 4", len(g.Plies))
	}
	want := []string{"e4", "e5", "Nf3", "Nc6"}
	for i, ply := range g.Plies {
		if ply.SAN != want[i] {
			t.Errorf("ply %d = %q, want %q", i, ply.SAN, want[i])
		}
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"tags only", `[Event "x"]` + "\n\n*"},
		{"illegal move", "1. e4 e5 2. Ke3"},
		{"garbage san", "1. zz9"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse(tt.input); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestCheckmatePosition(t *testing.T) {
	// Fool's mate.
	g, err := Parse("1. f3 e5 2. g4 Qh4# 0-1")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	last := g.Positions[len(g.Positions)-1]
	if !last.Checkmate() {
		t.Errorf("final position should be checkmate (legal=%d check=%v)", last.LegalCount, last.InCheck)
	}
	if last.Stalemate() {
		t.Error("checkmate must not be stalemate")
	}
	if !strings.HasSuffix(g.Plies[3].SAN, "#") {
		t.Errorf("mating SAN = %q", g.Plies[3].SAN)
	}
}

func TestAlternatives(t *testing.T) {
	g, err := Parse("1. e4 e5")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	alts, err := g.Alternatives(0)
	if err != nil {
		t.Fatalf("Alternatives: %v", err)
	}
	// 20 legal first moves, one was played.
	if len(alts) != 19 {
		t.Fatalf("alternatives = %d, want 19", len(alts))
	}
	for _, alt := range alts {
		if alt.UCI == "e2e4" {
			t.Error("played move must not appear among alternatives")
		}
		if alt.Position.Ply != 1 {
			t.Errorf("alternative ply = %d, want 1", alt.Position.Ply)
		}
		if alt.Position.Key == "" {
			t.Error("alternative missing key")
		}
	}

	if _, err := g.Alternatives(99); err == nil {
		t.Error("out-of-range ply should error")
	}
}

func TestForcedDetectionData(t *testing.T) {
	// Back-rank check where the king has exactly one square.
	g, err := Parse("1. e4 e5 2. Nf3 Nc6 3. Bc4 Bc5")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	for i, ply := range g.Plies {
		if ply.LegalBefore != g.Positions[i].LegalCount {
			t.Errorf("ply %d LegalBefore = %d, position says %d", i, ply.LegalBefore, g.Positions[i].LegalCount)
		}
	}
}
