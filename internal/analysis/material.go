package analysis

import (
	"strings"

	"github.com/freeeve/pgn/v3"
)

// Piece values in pawns. The king scores zero: it can be attacked but
// never won.
func pieceValue(piece byte) int {
	switch piece {
	case 'P', 'p':
		return 1
	case 'N', 'n', 'B', 'b':
		return 3
	case 'R', 'r':
		return 5
	case 'Q', 'q':
		return 9
	}
	return 0
}

// sacrificeThreshold is the minimum material (in pawns) left hanging
// for a move to count as a sacrifice. A minor piece qualifies, a pawn
// does not.
const sacrificeThreshold = 3

// Material sums piece values per side from a FEN placement field.
func Material(fen string) (white, black int) {
	placement, _, _ := strings.Cut(fen, " ")
	for i := 0; i < len(placement); i++ {
		c := placement[i]
		if c >= 'A' && c <= 'Z' {
			white += pieceValue(c)
		} else if c >= 'a' && c <= 'z' {
			black += pieceValue(c)
		}
	}
	return white, black
}

// IsSacrifice reports whether playing mv from pos deliberately leaves
// material en prise: after the move, the opponent has a capture that
// wins at least a minor piece even against the best immediate
// recapture. The exchange is only simulated one capture deep on each
// side, which is enough to tell a hung queen from a defended one.
func IsSacrifice(pos *pgn.GameState, mv pgn.Mv) bool {
	after := clonePosition(pos)
	if err := pgn.ApplyMove(after, mv); err != nil {
		return false
	}

	best := 0
	for _, reply := range pgn.GenerateLegalMoves(after) {
		victim := after.PieceAt(reply.To)
		if victim == 0 {
			attacker := after.PieceAt(reply.From)
			if (attacker == 'P' || attacker == 'p') && reply.Flags == 2 {
				victim = 'p' // en passant
			} else {
				continue
			}
		}

		gain := pieceValue(victim)
		next := clonePosition(after)
		if err := pgn.ApplyMove(next, reply); err != nil {
			continue
		}
		// A defended square discounts the attacker: the exchange only
		// nets the difference.
		for _, recapture := range pgn.GenerateLegalMoves(next) {
			if recapture.To == reply.To && next.PieceAt(recapture.To) != 0 {
				gain -= pieceValue(after.PieceAt(reply.From))
				break
			}
		}
		if gain > best {
			best = gain
		}
	}
	return best >= sacrificeThreshold
}

func clonePosition(pos *pgn.GameState) *pgn.GameState {
	return pos.Pack().Unpack()
}
