// Package movegen computes reachable squares for archetype and composite
// pieces, attack coverage, check detection and self-check filtering.
package movegen

import (
	"github.com/Leonid-DD/Chess2/internal/board"
	"github.com/Leonid-DD/Chess2/internal/rules"
)

// Generator resolves piece kinds through a contribution table. It holds no
// mutable state and is safe for concurrent use.
type Generator struct {
	table     *rules.Table
	selfCheck bool
}

type Option func(*Generator)

// WithSelfCheckFilter toggles removal of moves that leave the mover's king attacked.
func WithSelfCheckFilter(on bool) Option {
	return func(g *Generator) { g.selfCheck = on }
}

// New returns a generator over table. The self-check filter is on by default.
func New(table *rules.Table, opts ...Option) *Generator {
	g := &Generator{table: table, selfCheck: true}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Table exposes the contribution table the generator reads.
func (g *Generator) Table() *rules.Table { return g.table }

// MovesFor returns every reachable destination of p plus p's own square,
// which callers treat as "no move". last enables en passant.
func (g *Generator) MovesFor(b *board.Board, p board.Piece, last *board.Move) SquareSet {
	s := newScan(b, p.Square(), p.Color, false)
	g.run(s, p, last)
	s.out.Add(p.Square())
	return s.out
}

// Attacks returns the squares p bears on. The origin square is never included.
func (g *Generator) Attacks(b *board.Board, p board.Piece) SquareSet {
	s := newScan(b, p.Square(), p.Color, true)
	g.run(s, p, nil)
	delete(s.out, p.Square())
	return s.out
}

func (g *Generator) run(s *scan, p board.Piece, last *board.Move) {
	for _, c := range g.table.Contributions(p.Kind) {
		switch c.Archetype {
		case board.Pawn:
			s.pawnAdvance(c.Reach.Range, p.FirstMove)
			s.pawnCapture(c.Reach.Range)
			s.enPassant(p, last)
		case board.Rook:
			s.straight(c.Reach.Range)
		case board.Bishop:
			s.diagonal(c.Reach.Range)
		case board.Queen, board.King:
			s.straight(c.Reach.Range)
			s.diagonal(c.Reach.Range)
		case board.Knight:
			s.knight(c.Reach.Range, c.Reach.CaptureOnly)
		}
	}
}

// LegalMoves is MovesFor with the self-check filter applied when enabled.
// A side without a king has nothing to protect and is not filtered.
func (g *Generator) LegalMoves(b *board.Board, p board.Piece, last *board.Move) SquareSet {
	moves := g.MovesFor(b, p, last)
	if !g.selfCheck {
		return moves
	}
	if _, ok := b.King(p.Color); !ok {
		return moves
	}
	origin := p.Square()
	for dest := range moves {
		if dest == origin {
			continue
		}
		trial := b.Clone()
		Apply(trial, p, dest, last)
		if g.IsKingInCheck(trial, p.Color) {
			delete(moves, dest)
		}
	}
	return moves
}

// Apply performs the move of p to dest on b, including the en-passant
// removal when dest is the en-passant square. It returns the captured piece.
func Apply(b *board.Board, p board.Piece, dest board.Square, last *board.Move) *board.Piece {
	var epVictim *board.Piece
	if ep, victim, ok := EnPassant(b, p, last); ok && ep == dest {
		epVictim = b.Remove(victim)
	}
	captured := b.Move(p.Square(), dest)
	if captured == nil {
		captured = epVictim
	}
	return captured
}
