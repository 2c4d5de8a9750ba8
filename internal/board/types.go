package board

import (
	"fmt"
	"strings"
)

// Size is the board edge length.
const Size = 8

// Color identifies a side.
type Color string

const (
	White Color = "WHITE"
	Black Color = "BLACK"
)

// Opponent returns the other side.
func (c Color) Opponent() Color {
	if c == White {
		return Black
	}
	return White
}

// Forward is the row delta of one step toward the opponent. White starts on rows 6-7.
func (c Color) Forward() int {
	if c == White {
		return -1
	}
	return 1
}

func (c Color) Valid() bool { return c == White || c == Black }

// Archetype is one of the six classical piece types.
type Archetype string

const (
	Pawn   Archetype = "PAWN"
	Rook   Archetype = "ROOK"
	Knight Archetype = "KNIGHT"
	Bishop Archetype = "BISHOP"
	Queen  Archetype = "QUEEN"
	King   Archetype = "KING"
)

// Archetypes lists every archetype in declaration order.
var Archetypes = []Archetype{Pawn, Rook, Knight, Bishop, Queen, King}

func (a Archetype) Valid() bool {
	switch a {
	case Pawn, Rook, Knight, Bishop, Queen, King:
		return true
	}
	return false
}

// Kind is a piece kind: a single archetype, or a composite that fuses the
// movement of Primary and Secondary. Secondary is empty for archetype kinds.
type Kind struct {
	Primary   Archetype
	Secondary Archetype
}

// Classic returns the archetype kind a.
func Classic(a Archetype) Kind { return Kind{Primary: a} }

// Composite returns the composite kind a_b.
func Composite(a, b Archetype) Kind { return Kind{Primary: a, Secondary: b} }

func (k Kind) IsComposite() bool { return k.Secondary != "" }

// Has reports whether a contributes to the kind's movement.
func (k Kind) Has(a Archetype) bool { return k.Primary == a || k.Secondary == a }

func (k Kind) String() string {
	if !k.IsComposite() {
		return string(k.Primary)
	}
	return string(k.Primary) + "_" + string(k.Secondary)
}

// ParseKind accepts "ROOK" or "PAWN_ROOK" style names (case-insensitive).
func ParseKind(s string) (Kind, error) {
	parts := strings.Split(strings.ToUpper(strings.TrimSpace(s)), "_")
	switch len(parts) {
	case 1:
		a := Archetype(parts[0])
		if !a.Valid() {
			return Kind{}, fmt.Errorf("%w: %q", ErrUnknownKind, s)
		}
		return Classic(a), nil
	case 2:
		a, b := Archetype(parts[0]), Archetype(parts[1])
		if !a.Valid() || !b.Valid() || a == b {
			return Kind{}, fmt.Errorf("%w: %q", ErrUnknownKind, s)
		}
		return Composite(a, b), nil
	default:
		return Kind{}, fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
}

func (k Kind) MarshalText() ([]byte, error) {
	if !k.Primary.Valid() {
		return nil, fmt.Errorf("%w: empty kind", ErrUnknownKind)
	}
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(b []byte) error {
	v, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

// Square is a (row, col) coordinate; row 0 is black's back rank.
type Square struct {
	Row int `json:"row"`
	Col int `json:"col"`
}

func Sq(row, col int) Square { return Square{Row: row, Col: col} }

func (s Square) InBounds() bool {
	return s.Row >= 0 && s.Row < Size && s.Col >= 0 && s.Col < Size
}

func (s Square) Add(dr, dc int) Square { return Square{Row: s.Row + dr, Col: s.Col + dc} }

func (s Square) String() string { return fmt.Sprintf("(%d,%d)", s.Row, s.Col) }

// Move is a from/to pair. The last committed move drives en passant.
type Move struct {
	From Square `json:"from"`
	To   Square `json:"to"`
}

// Piece is a piece on the board. FirstMove stays true until the piece
// moves for the first time; on the wire it is the hasMoved field.
type Piece struct {
	Row       int
	Col       int
	Color     Color
	Kind      Kind
	FirstMove bool
}

// NewPiece returns an unmoved piece.
func NewPiece(sq Square, c Color, k Kind) Piece {
	return Piece{Row: sq.Row, Col: sq.Col, Color: c, Kind: k, FirstMove: true}
}

func (p Piece) Square() Square { return Square{Row: p.Row, Col: p.Col} }

// Mode selects the initial position.
type Mode string

const (
	ModeClassic Mode = "CLASSIC"
	ModeRandom  Mode = "RANDOM"
	ModeChess2  Mode = "CHESS2"
)

// ParseMode maps a textual mode to Mode. Unknown values fall back to CHESS2.
func ParseMode(s string) Mode {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "CLASSIC":
		return ModeClassic
	case "RANDOM":
		return ModeRandom
	default:
		return ModeChess2
	}
}

// Errors
var (
	ErrUnknownKind = errf("unknown piece kind")
	ErrOccupied    = errf("square already occupied")
	ErrOutOfBounds = errf("square out of bounds")
	ErrCoordinates = errf("piece coordinates do not match square")
	ErrKingMissing = errf("king missing")
)

type staticErr string

func (e staticErr) Error() string { return string(e) }
func errf(s string) error         { return staticErr(s) }
