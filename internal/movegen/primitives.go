package movegen

import "github.com/Leonid-DD/Chess2/internal/board"

var (
	orthogonal = [4][2]int{{1, 0}, {-1, 0}, {0, 1}, {0, -1}}
	diagonal   = [4][2]int{{1, 1}, {1, -1}, {-1, 1}, {-1, -1}}
)

// scan accumulates destinations for one piece. In attack mode it reports
// the squares the piece bears on rather than the squares it may move to:
// rays include the first occupied square of either color, capture-only
// restrictions are lifted and non-capturing pawn moves are skipped.
type scan struct {
	b      *board.Board
	from   board.Square
	color  board.Color
	attack bool
	out    SquareSet
}

func newScan(b *board.Board, from board.Square, color board.Color, attack bool) *scan {
	return &scan{b: b, from: from, color: color, attack: attack, out: make(SquareSet)}
}

// target classifies sq: ok=false when off the board; occupied/enemy describe the occupant.
func (s *scan) target(sq board.Square) (ok, occupied, enemy bool) {
	if !sq.InBounds() {
		return false, false, false
	}
	p := s.b.At(sq)
	if p == nil {
		return true, false, false
	}
	return true, true, p.Color != s.color
}

func (s *scan) rays(dirs [4][2]int, rng int) {
	for _, d := range dirs {
		for i := 1; i <= rng; i++ {
			sq := s.from.Add(i*d[0], i*d[1])
			ok, occupied, enemy := s.target(sq)
			if !ok {
				break
			}
			if !occupied {
				s.out.Add(sq)
				continue
			}
			if enemy || s.attack {
				s.out.Add(sq)
			}
			break
		}
	}
}

func (s *scan) straight(rng int) { s.rays(orthogonal, rng) }

func (s *scan) diagonal(rng int) { s.rays(diagonal, rng) }

// knight grants the first `families` jump families in order front, up-mid,
// down-mid, back. captureOnly restricts front and up-mid to captures.
func (s *scan) knight(families int, captureOnly bool) {
	f := s.color.Forward()
	table := [4]struct {
		jumps      [2][2]int
		restricted bool
	}{
		{jumps: [2][2]int{{2 * f, 1}, {2 * f, -1}}, restricted: true},
		{jumps: [2][2]int{{f, 2}, {f, -2}}, restricted: true},
		{jumps: [2][2]int{{-f, 2}, {-f, -2}}},
		{jumps: [2][2]int{{-2 * f, 1}, {-2 * f, -1}}},
	}
	if families > len(table) {
		families = len(table)
	}
	if families < 0 {
		families = 0
	}
	for _, fam := range table[:families] {
		for _, j := range fam.jumps {
			sq := s.from.Add(j[0], j[1])
			ok, occupied, enemy := s.target(sq)
			if !ok {
				continue
			}
			if s.attack {
				s.out.Add(sq)
				continue
			}
			if captureOnly && fam.restricted {
				if enemy {
					s.out.Add(sq)
				}
				continue
			}
			if !occupied || enemy {
				s.out.Add(sq)
			}
		}
	}
}

// pawnAdvance walks forward onto empty squares. A piece that has never
// moved may take one extra step, and only when every square up to it is empty.
func (s *scan) pawnAdvance(maxSteps int, firstMove bool) {
	if s.attack {
		return
	}
	limit := maxSteps
	if firstMove {
		limit++
	}
	f := s.color.Forward()
	for i := 1; i <= limit; i++ {
		sq := s.from.Add(i*f, 0)
		ok, occupied, _ := s.target(sq)
		if !ok || occupied {
			return
		}
		s.out.Add(sq)
	}
}

// pawnCapture scans both forward diagonals up to rng; only the first
// occupied square of a direction can be captured.
func (s *scan) pawnCapture(rng int) {
	f := s.color.Forward()
	for _, dc := range [2]int{-1, 1} {
		for i := 1; i <= rng; i++ {
			sq := s.from.Add(i*f, i*dc)
			ok, occupied, enemy := s.target(sq)
			if !ok {
				break
			}
			if !occupied {
				if s.attack {
					s.out.Add(sq)
				}
				continue
			}
			if enemy || s.attack {
				s.out.Add(sq)
			}
			break
		}
	}
}

func (s *scan) enPassant(p board.Piece, last *board.Move) {
	if s.attack {
		return
	}
	if dest, _, ok := EnPassant(s.b, p, last); ok {
		s.out.Add(dest)
	}
}

// EnPassantRank is the row a pawn of color must stand on to capture en passant.
func EnPassantRank(color board.Color) int {
	if color == board.White {
		return 3
	}
	return 4
}

// EnPassant reports whether p may capture en passant given the last move.
// dest is the square passed over by the enemy pawn, victim the square it landed on.
func EnPassant(b *board.Board, p board.Piece, last *board.Move) (dest, victim board.Square, ok bool) {
	if last == nil || !p.Kind.Has(board.Pawn) || p.Row != EnPassantRank(p.Color) {
		return dest, victim, false
	}
	moved := b.At(last.To)
	if moved == nil || moved.Color == p.Color || !moved.Kind.Has(board.Pawn) {
		return dest, victim, false
	}
	if last.From.Col != last.To.Col || abs(last.From.Row-last.To.Row) != 2 {
		return dest, victim, false
	}
	if last.To.Row != p.Row || abs(last.To.Col-p.Col) != 1 {
		return dest, victim, false
	}
	dest = board.Sq((last.From.Row+last.To.Row)/2, last.To.Col)
	if b.Occupied(dest) {
		return dest, victim, false
	}
	return dest, last.To, true
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// StraightLine returns the orthogonal destinations of the piece on from, up to rng squares.
func StraightLine(b *board.Board, from board.Square, rng int) SquareSet {
	p := b.At(from)
	if p == nil {
		return SquareSet{}
	}
	s := newScan(b, from, p.Color, false)
	s.straight(rng)
	return s.out
}

// DiagonalLine is StraightLine over the diagonals.
func DiagonalLine(b *board.Board, from board.Square, rng int) SquareSet {
	p := b.At(from)
	if p == nil {
		return SquareSet{}
	}
	s := newScan(b, from, p.Color, false)
	s.diagonal(rng)
	return s.out
}

// KnightJumps returns the jump destinations of the first `families` families.
func KnightJumps(b *board.Board, from board.Square, color board.Color, families int, captureOnly bool) SquareSet {
	s := newScan(b, from, color, false)
	s.knight(families, captureOnly)
	return s.out
}

// PawnAdvance returns forward non-capturing destinations up to maxSteps.
func PawnAdvance(b *board.Board, from board.Square, color board.Color, maxSteps int) SquareSet {
	first := false
	if p := b.At(from); p != nil {
		first = p.FirstMove
	}
	s := newScan(b, from, color, false)
	s.pawnAdvance(maxSteps, first)
	return s.out
}

// PawnCapture returns forward-diagonal captures up to rng squares.
func PawnCapture(b *board.Board, from board.Square, color board.Color, rng int) SquareSet {
	s := newScan(b, from, color, false)
	s.pawnCapture(rng)
	return s.out
}
