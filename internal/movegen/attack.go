package movegen

import "github.com/Leonid-DD/Chess2/internal/board"

// IsSquareAttacked reports whether any piece opposing defending bears on sq.
// Every square is scanned; queries are bounded by the candidate moves of a
// single piece, so no attack tables are kept.
func (g *Generator) IsSquareAttacked(sq board.Square, b *board.Board, defending board.Color) bool {
	for _, p := range b.PiecesOf(defending.Opponent()) {
		if g.Attacks(b, p).Has(sq) {
			return true
		}
	}
	return false
}

// IsKingInCheck reports whether color's king is attacked. A missing king
// counts as in check.
func (g *Generator) IsKingInCheck(b *board.Board, color board.Color) bool {
	sq, ok := b.King(color)
	if !ok {
		return true
	}
	return g.IsSquareAttacked(sq, b, color)
}
