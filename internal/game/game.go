// Package game parses a PGN game into the ordered positions and plies
// the analysis pipeline consumes.
package game

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/freeeve/pgn/v3"
)

var (
	// ErrNoMoves is returned when the movetext contains no playable moves.
	ErrNoMoves = errors.New("game has no moves")
	// ErrMalformedPGN is returned when the movetext cannot be parsed.
	ErrMalformedPGN = errors.New("malformed pgn")
)

// Position is an immutable snapshot of the board at a given ply.
// Key is the packed-position fingerprint used as cache and oracle key.
type Position struct {
	Key         string
	FEN         string
	Ply         int
	WhiteToMove bool
	FullMove    int
	LegalCount  int
	InCheck     bool
}

// Checkmate reports whether the side to move has been mated.
func (p Position) Checkmate() bool {
	return p.LegalCount == 0 && p.InCheck
}

// Stalemate reports whether the side to move is stalemated.
func (p Position) Stalemate() bool {
	return p.LegalCount == 0 && !p.InCheck
}

// Ply is one played half-move: the transition between Positions[Index]
// and Positions[Index+1].
type Ply struct {
	Index       int
	SAN         string
	UCI         string
	Move        pgn.Mv
	LegalBefore int // legal moves at the pre-move position
	Capture     bool
	Promotion   bool
}

// Game is a fully parsed game. Positions has one more entry than Plies:
// Positions[0] is the pre-game starting position and Positions[i+1] is
// the board after Plies[i].
type Game struct {
	Tags      map[string]string
	Positions []Position
	Plies     []Ply
}

// White returns the White tag, or "Unknown".
func (g *Game) White() string { return g.tagOr("White", "Unknown") }

// Black returns the Black tag, or "Unknown".
func (g *Game) Black() string { return g.tagOr("Black", "Unknown") }

// Result returns the Result tag, or "*".
func (g *Game) Result() string { return g.tagOr("Result", "*") }

func (g *Game) tagOr(key, fallback string) string {
	if v, ok := g.Tags[key]; ok && v != "" {
		return v
	}
	return fallback
}

// Parse reads a single PGN game from a string: tag pairs followed by
// movetext. Comments, variations, NAGs, move numbers, and the result
// token are stripped; every remaining SAN token must parse and apply.
func Parse(input string) (*Game, error) {
	tags, movetext := splitTagsAndMovetext(input)

	sans := tokenizeMovetext(movetext)
	if len(sans) == 0 {
		return nil, ErrNoMoves
	}

	pos := pgn.NewStartingPosition()
	g := &Game{
		Tags:      tags,
		Positions: make([]Position, 0, len(sans)+1),
		Plies:     make([]Ply, 0, len(sans)),
	}
	g.Positions = append(g.Positions, snapshot(pos, 0))

	for i, san := range sans {
		mv, err := pgn.ParseSAN(pos, stripSANSuffix(san))
		if err != nil {
			return nil, fmt.Errorf("%w: ply %d %q: %v", ErrMalformedPGN, i, san, err)
		}

		capture := pos.PieceAt(mv.To) != 0 || isEnPassant(mv)
		if err := pgn.ApplyMove(pos, mv); err != nil {
			return nil, fmt.Errorf("%w: ply %d %q: %v", ErrMalformedPGN, i, san, err)
		}

		g.Plies = append(g.Plies, Ply{
			Index:       i,
			SAN:         san,
			UCI:         MoveToUCI(mv),
			Move:        mv,
			LegalBefore: g.Positions[i].LegalCount,
			Capture:     capture,
			Promotion:   mv.Promo != 0,
		})
		g.Positions = append(g.Positions, snapshot(pos, i+1))
	}

	return g, nil
}

// snapshot captures the current board as an immutable Position.
func snapshot(pos *pgn.GameState, ply int) Position {
	fen := pos.ToFEN()
	return Position{
		Key:         pos.Pack().String(),
		FEN:         fen,
		Ply:         ply,
		WhiteToMove: strings.Contains(fen, " w "),
		FullMove:    fullMoveNumber(fen),
		LegalCount:  len(pgn.GenerateLegalMoves(pos)),
		InCheck:     pos.IsInCheck(),
	}
}

// Alternative is a legal move not played at a ply, and the position it
// would have produced.
type Alternative struct {
	UCI      string
	SAN      string
	Position Position
}

// Alternatives returns the legal moves not played at ply i and the
// position each one leads to.
func (g *Game) Alternatives(i int) ([]Alternative, error) {
	if i < 0 || i >= len(g.Plies) {
		return nil, fmt.Errorf("ply %d out of range", i)
	}

	packed, err := pgn.ParsePackedPosition(g.Positions[i].Key)
	if err != nil {
		return nil, fmt.Errorf("unpack ply %d: %w", i, err)
	}
	pos := packed.Unpack()
	if pos == nil {
		return nil, fmt.Errorf("unpack ply %d: nil position", i)
	}

	played := g.Plies[i].Move
	moves := pgn.GenerateLegalMoves(pos)
	alts := make([]Alternative, 0, len(moves))

	for _, mv := range moves {
		if mv.From == played.From && mv.To == played.To && mv.Promo == played.Promo {
			continue
		}
		altPos := packed.Unpack()
		if altPos == nil {
			continue
		}
		san := MoveToSAN(pos, mv)
		if err := pgn.ApplyMove(altPos, mv); err != nil {
			continue
		}
		alts = append(alts, Alternative{
			UCI:      MoveToUCI(mv),
			SAN:      san,
			Position: snapshot(altPos, i+1),
		})
	}

	return alts, nil
}

// splitTagsAndMovetext separates `[Key "Value"]` header lines from the
// movetext body.
func splitTagsAndMovetext(input string) (map[string]string, string) {
	tags := make(map[string]string)
	var movetext strings.Builder

	for _, line := range strings.Split(input, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "[") && strings.HasSuffix(trimmed, "]") {
			if key, val, ok := parseTagPair(trimmed); ok {
				tags[key] = val
				continue
			}
		}
		movetext.WriteString(line)
		movetext.WriteByte('\n')
	}

	return tags, movetext.String()
}

func parseTagPair(line string) (string, string, bool) {
	inner := strings.TrimSuffix(strings.TrimPrefix(line, "["), "]")
	quote := strings.Index(inner, `"`)
	if quote < 0 {
		return "", "", false
	}
	key := strings.TrimSpace(inner[:quote])
	rest := inner[quote+1:]
	end := strings.LastIndex(rest, `"`)
	if key == "" || end < 0 {
		return "", "", false
	}
	return key, rest[:end], true
}

// tokenizeMovetext strips comments, variations, NAGs, move numbers, and
// the game result, leaving bare SAN tokens.
func tokenizeMovetext(movetext string) []string {
	var sans []string
	braceDepth := 0
	parenDepth := 0

	for _, tok := range strings.Fields(movetext) {
		for tok != "" {
			switch {
			case braceDepth > 0:
				if end := strings.IndexByte(tok, '}'); end >= 0 {
					braceDepth--
					tok = tok[end+1:]
				} else {
					tok = ""
				}
			case strings.HasPrefix(tok, "{"):
				braceDepth++
				tok = tok[1:]
			case parenDepth > 0:
				// Variations can nest and can contain comments.
				if open := strings.IndexByte(tok, '('); open >= 0 {
					parenDepth++
					tok = tok[open+1:]
					continue
				}
				if end := strings.IndexByte(tok, ')'); end >= 0 {
					parenDepth--
					tok = tok[end+1:]
				} else {
					tok = ""
				}
			case strings.HasPrefix(tok, "("):
				parenDepth++
				tok = tok[1:]
			default:
				san := cleanToken(tok)
				if san != "" {
					sans = append(sans, san)
				}
				tok = ""
			}
		}
	}

	return sans
}

// cleanToken filters a single movetext token down to its SAN, or ""
// if the token is not a move.
func cleanToken(tok string) string {
	switch tok {
	case "1-0", "0-1", "1/2-1/2", "*":
		return ""
	}
	if strings.HasPrefix(tok, "$") {
		return ""
	}

	// Strip a leading move number like "12." or "12..."
	if i := strings.IndexByte(tok, '.'); i > 0 && isDigits(tok[:i]) {
		tok = strings.TrimLeft(tok[i:], ".")
	} else if isDigits(tok) {
		return ""
	}

	// Annotation glyphs like "!?" attach directly to the SAN.
	tok = strings.TrimRight(tok, "!?")
	return tok
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// stripSANSuffix removes check/mate markers for the SAN parser.
func stripSANSuffix(san string) string {
	san = strings.TrimSuffix(san, "#")
	san = strings.TrimSuffix(san, "+")
	return san
}

func isEnPassant(mv pgn.Mv) bool {
	return mv.Flags == 2
}

func fullMoveNumber(fen string) int {
	fields := strings.Fields(fen)
	if len(fields) < 6 {
		return 0
	}
	n, err := strconv.Atoi(fields[5])
	if err != nil {
		return 0
	}
	return n
}
