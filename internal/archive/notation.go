package archive

import (
	"fmt"
	"strings"
	"time"

	nchess "github.com/corentings/chess/v2"

	"github.com/Leonid-DD/Chess2/internal/board"
	"github.com/Leonid-DD/Chess2/internal/turn"
)

// Row is one journaled ply with squares in algebraic form.
type Row struct {
	SessionID  string
	Seq        uint64
	Mover      string
	Kind       string
	From       string
	To         string
	Captured   string
	RecordedAt time.Time
}

// SquareName converts a board square to its algebraic name ("e2").
// Row 7 is white's back rank, rank 1.
func SquareName(sq board.Square) string {
	if !sq.InBounds() {
		return "-"
	}
	return nchess.NewSquare(nchess.File(sq.Col), nchess.Rank(board.Size-1-sq.Row)).String()
}

// RowFor builds the journal row of a committed ply.
func RowFor(sessionID string, c turn.Committed, at time.Time) Row {
	row := Row{
		SessionID:  sessionID,
		Seq:        c.Seq,
		Mover:      string(c.Mover),
		Kind:       c.Piece.Kind.String(),
		From:       SquareName(c.Move.From),
		To:         SquareName(c.Move.To),
		RecordedAt: at.UTC(),
	}
	if c.Captured != nil {
		row.Captured = c.Captured.Kind.String()
	}
	return row
}

// Transcript renders rows as numbered move pairs, e.g.
// "1. PAWN e2-e4 PAWN d7-d5 2. ROOK_KNIGHT a1xa3".
func Transcript(rows []Row) string {
	var b strings.Builder
	for i, r := range rows {
		if i%2 == 0 {
			if i > 0 {
				b.WriteString(" ")
			}
			fmt.Fprintf(&b, "%d.", i/2+1)
		}
		sep := "-"
		if r.Captured != "" {
			sep = "x"
		}
		fmt.Fprintf(&b, " %s %s%s%s", sanitize(r.Kind), r.From, sep, r.To)
	}
	return b.String()
}

func sanitize(s string) string {
	s = strings.ReplaceAll(s, "\\", " ")
	s = strings.ReplaceAll(s, "\"", "'")
	return strings.TrimSpace(s)
}
