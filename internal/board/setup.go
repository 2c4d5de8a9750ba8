package board

// backRank is the classical a..h order.
var backRank = [Size]Archetype{Rook, Knight, Bishop, Queen, King, Bishop, Knight, Rook}

// chess2Rank replaces rooks, knights and bishops with fixed composites.
var chess2Rank = [Size]Kind{
	Composite(Rook, Knight),
	Composite(Knight, Bishop),
	Composite(Bishop, Rook),
	Classic(Queen),
	Classic(King),
	Composite(Bishop, Rook),
	Composite(Knight, Bishop),
	Composite(Rook, Knight),
}

// Standard returns the classical starting position.
func Standard() *Board {
	var rank [Size]Kind
	for c, a := range backRank {
		rank[c] = Classic(a)
	}
	return fromRank(rank)
}

// Setup builds the initial position for mode. composites and intn are only
// consulted for ModeRandom: each back-rank square other than the queen and
// king receives composites[intn(len(composites))], identically for both sides.
func Setup(mode Mode, composites []Kind, intn func(n int) int) *Board {
	switch mode {
	case ModeClassic:
		return Standard()
	case ModeRandom:
		if len(composites) == 0 || intn == nil {
			return Standard()
		}
		var rank [Size]Kind
		for c, a := range backRank {
			if a == Queen || a == King {
				rank[c] = Classic(a)
				continue
			}
			rank[c] = composites[intn(len(composites))]
		}
		return fromRank(rank)
	default:
		return fromRank(chess2Rank)
	}
}

func fromRank(rank [Size]Kind) *Board {
	b := New()
	for c := 0; c < Size; c++ {
		b.MustPlace(NewPiece(Sq(0, c), Black, rank[c]))
		b.MustPlace(NewPiece(Sq(1, c), Black, Classic(Pawn)))
		b.MustPlace(NewPiece(Sq(6, c), White, Classic(Pawn)))
		b.MustPlace(NewPiece(Sq(7, c), White, rank[c]))
	}
	return b
}
