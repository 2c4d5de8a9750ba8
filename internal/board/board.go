package board

import (
	"fmt"
	"strings"
)

// Board is an 8x8 grid of optional pieces. A stored piece's Row/Col always
// equal its grid index.
type Board struct {
	cells [Size][Size]*Piece
}

// New returns an empty board.
func New() *Board { return &Board{} }

// At returns a copy of the piece on sq, or nil when the square is empty or off the board.
func (b *Board) At(sq Square) *Piece {
	if !sq.InBounds() {
		return nil
	}
	p := b.cells[sq.Row][sq.Col]
	if p == nil {
		return nil
	}
	cp := *p
	return &cp
}

// Occupied reports whether sq holds a piece.
func (b *Board) Occupied(sq Square) bool {
	return sq.InBounds() && b.cells[sq.Row][sq.Col] != nil
}

// Place puts p on its own square.
func (b *Board) Place(p Piece) error {
	sq := p.Square()
	if !sq.InBounds() {
		return fmt.Errorf("%w: %s", ErrOutOfBounds, sq)
	}
	if b.cells[sq.Row][sq.Col] != nil {
		return fmt.Errorf("%w: %s", ErrOccupied, sq)
	}
	cp := p
	b.cells[sq.Row][sq.Col] = &cp
	return nil
}

// MustPlace is Place for positions built in code; a collision is a bug.
func (b *Board) MustPlace(p Piece) {
	if err := b.Place(p); err != nil {
		panic("board: " + err.Error())
	}
}

// Remove clears sq and returns what was there.
func (b *Board) Remove(sq Square) *Piece {
	if !sq.InBounds() {
		return nil
	}
	p := b.cells[sq.Row][sq.Col]
	b.cells[sq.Row][sq.Col] = nil
	return p
}

// Move relocates the piece on from to to, capturing whatever stands on to.
// The mover loses its FirstMove flag. Moving from an empty square panics.
func (b *Board) Move(from, to Square) (captured *Piece) {
	if !from.InBounds() || !to.InBounds() {
		panic(fmt.Sprintf("board: move out of bounds %s -> %s", from, to))
	}
	p := b.cells[from.Row][from.Col]
	if p == nil {
		panic(fmt.Sprintf("board: move from empty square %s", from))
	}
	captured = b.cells[to.Row][to.Col]
	b.cells[from.Row][from.Col] = nil
	p.Row, p.Col = to.Row, to.Col
	p.FirstMove = false
	b.cells[to.Row][to.Col] = p
	return captured
}

// Clone returns a deep copy.
func (b *Board) Clone() *Board {
	out := &Board{}
	for r := 0; r < Size; r++ {
		for c := 0; c < Size; c++ {
			if p := b.cells[r][c]; p != nil {
				cp := *p
				out.cells[r][c] = &cp
			}
		}
	}
	return out
}

// Equal compares two boards by value.
func (b *Board) Equal(o *Board) bool {
	if b == nil || o == nil {
		return b == o
	}
	for r := 0; r < Size; r++ {
		for c := 0; c < Size; c++ {
			x, y := b.cells[r][c], o.cells[r][c]
			if (x == nil) != (y == nil) {
				return false
			}
			if x != nil && *x != *y {
				return false
			}
		}
	}
	return true
}

// Pieces lists the occupied squares in row-major order.
func (b *Board) Pieces() []Piece {
	out := make([]Piece, 0, 32)
	for r := 0; r < Size; r++ {
		for c := 0; c < Size; c++ {
			if p := b.cells[r][c]; p != nil {
				out = append(out, *p)
			}
		}
	}
	return out
}

// PiecesOf lists the pieces of one color in row-major order.
func (b *Board) PiecesOf(color Color) []Piece {
	var out []Piece
	for _, p := range b.Pieces() {
		if p.Color == color {
			out = append(out, p)
		}
	}
	return out
}

// King locates the archetype king of color.
func (b *Board) King(color Color) (Square, bool) {
	king := Classic(King)
	for r := 0; r < Size; r++ {
		for c := 0; c < Size; c++ {
			if p := b.cells[r][c]; p != nil && p.Color == color && p.Kind == king {
				return Square{Row: r, Col: c}, true
			}
		}
	}
	return Square{}, false
}

// HasKings reports ErrKingMissing unless both sides have their king.
func (b *Board) HasKings() error {
	for _, c := range []Color{White, Black} {
		if _, ok := b.King(c); !ok {
			return fmt.Errorf("%w: %s", ErrKingMissing, c)
		}
	}
	return nil
}

// Validate checks the coordinate invariant of every stored piece.
func (b *Board) Validate() error {
	for r := 0; r < Size; r++ {
		for c := 0; c < Size; c++ {
			p := b.cells[r][c]
			if p == nil {
				continue
			}
			if p.Row != r || p.Col != c {
				return fmt.Errorf("%w: stored (%d,%d) at (%d,%d)", ErrCoordinates, p.Row, p.Col, r, c)
			}
			if !p.Color.Valid() || !p.Kind.Primary.Valid() {
				return fmt.Errorf("%w: at (%d,%d)", ErrUnknownKind, r, c)
			}
		}
	}
	return nil
}

// String renders the board with rank 8 on top, like a printed diagram.
func (b *Board) String() string {
	var sb strings.Builder
	for r := 0; r < Size; r++ {
		sb.WriteString(fmt.Sprintf("%d", Size-r))
		for c := 0; c < Size; c++ {
			p := b.cells[r][c]
			if p == nil {
				sb.WriteString("   .")
				continue
			}
			sb.WriteString(" ")
			sb.WriteString(glyph(*p))
		}
		sb.WriteString("\n")
	}
	sb.WriteString("    a   b   c   d   e   f   g   h")
	return sb.String()
}

func glyph(p Piece) string {
	side := "w"
	if p.Color == Black {
		side = "b"
	}
	code := letter(p.Kind.Primary)
	if p.Kind.IsComposite() {
		return side + code + strings.ToLower(letter(p.Kind.Secondary))
	}
	return side + code + " "
}

func letter(a Archetype) string {
	switch a {
	case Knight:
		return "N"
	case "":
		return "?"
	default:
		return string(a[0])
	}
}
