package movegen

import (
	"sort"

	"github.com/Leonid-DD/Chess2/internal/board"
)

// SquareSet is a de-duplicated set of squares.
type SquareSet map[board.Square]struct{}

func NewSquareSet(sqs ...board.Square) SquareSet {
	s := make(SquareSet, len(sqs))
	for _, sq := range sqs {
		s.Add(sq)
	}
	return s
}

func (s SquareSet) Add(sq board.Square) { s[sq] = struct{}{} }

func (s SquareSet) Has(sq board.Square) bool {
	_, ok := s[sq]
	return ok
}

// Slice returns the squares in row-major order.
func (s SquareSet) Slice() []board.Square {
	out := make([]board.Square, 0, len(s))
	for sq := range s {
		out = append(out, sq)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Row != out[j].Row {
			return out[i].Row < out[j].Row
		}
		return out[i].Col < out[j].Col
	})
	return out
}
