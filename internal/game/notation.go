package game

import "github.com/freeeve/pgn/v3"

const (
	fileChars = "abcdefgh"
	rankChars = "12345678"
)

func squareName(sq int) string {
	return string(fileChars[sq%8]) + string(rankChars[sq/8])
}

func promoSuffix(mv pgn.Mv, upper bool) string {
	letters := "qrbn"
	if upper {
		letters = "QRBN"
	}
	switch mv.Promo {
	case pgn.PromoQueen:
		return string(letters[0])
	case pgn.PromoRook:
		return string(letters[1])
	case pgn.PromoBishop:
		return string(letters[2])
	case pgn.PromoKnight:
		return string(letters[3])
	}
	return ""
}

func upperPiece(piece byte) byte {
	if piece >= 'a' && piece <= 'z' {
		return piece - 32
	}
	return piece
}

// MoveToUCI renders a move in UCI form ("e2e4", "e7e8q").
func MoveToUCI(mv pgn.Mv) string {
	return squareName(int(mv.From)) + squareName(int(mv.To)) + promoSuffix(mv, false)
}

// MoveToSAN renders a move in standard algebraic notation relative to
// pos, the position the move is played from. Handles castling,
// captures, promotions, file/rank disambiguation, and the +/# suffix.
func MoveToSAN(pos *pgn.GameState, mv pgn.Mv) string {
	// Flags 4 marks castling; the king always moves toward the rook.
	if mv.Flags == 4 {
		if mv.To > mv.From {
			return "O-O"
		}
		return "O-O-O"
	}

	fromSq := int(mv.From)
	toSq := int(mv.To)
	fromFile := fromSq % 8

	piece := pos.PieceAt(mv.From)
	isPawn := piece == 'P' || piece == 'p'
	// Flags 2 is en passant: the target square is empty but it is
	// still a capture.
	isCapture := pos.PieceAt(mv.To) != 0 || (isPawn && mv.Flags == 2)

	var san string
	if isPawn {
		if isCapture {
			san = string(fileChars[fromFile]) + "x" + squareName(toSq)
		} else {
			san = squareName(toSq)
		}
		if s := promoSuffix(mv, true); s != "" {
			san += "=" + s
		}
	} else {
		pieceChar := upperPiece(piece)
		san = string(pieceChar)
		san += disambiguation(pos, mv, pieceChar)
		if isCapture {
			san += "x"
		}
		san += squareName(toSq)
	}

	// Replay the move on a scratch board to pick the +/# suffix.
	scratch := pos.Pack().Unpack()
	if scratch != nil {
		_ = pgn.ApplyMove(scratch, mv)
		if scratch.IsInCheck() {
			if len(pgn.GenerateLegalMoves(scratch)) == 0 {
				san += "#"
			} else {
				san += "+"
			}
		}
	}

	return san
}

// disambiguation returns the file, rank, or both needed to single out
// mv when another piece of the same kind can also reach mv.To.
func disambiguation(pos *pgn.GameState, mv pgn.Mv, pieceChar byte) string {
	fromSq := int(mv.From)
	fromFile := fromSq % 8
	fromRank := fromSq / 8

	for _, other := range pgn.GenerateLegalMoves(pos) {
		if other.To != mv.To || other.From == mv.From {
			continue
		}
		if upperPiece(pos.PieceAt(other.From)) != pieceChar {
			continue
		}

		otherFile := int(other.From) % 8
		otherRank := int(other.From) / 8
		switch {
		case fromFile != otherFile:
			return string(fileChars[fromFile])
		case fromRank != otherRank:
			return string(rankChars[fromRank])
		default:
			return string(fileChars[fromFile]) + string(rankChars[fromRank])
		}
	}
	return ""
}
