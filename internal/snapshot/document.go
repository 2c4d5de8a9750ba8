// Package snapshot is the wire form of a game session as stored in the
// remote document store. The board travels as a sparse list of pieces.
package snapshot

import (
	"encoding/json"
	"fmt"

	"github.com/Leonid-DD/Chess2/internal/board"
	"github.com/Leonid-DD/Chess2/internal/turn"
)

// Player is a participant record. Mode is empty for records written
// before a mode was chosen.
type Player struct {
	ID        string     `json:"id"`
	Searching bool       `json:"searching"`
	Mode      board.Mode `json:"mode,omitempty"`
}

// PieceDoc is one occupied square. HasMoved keeps the stored meaning:
// true until the piece makes its first move.
type PieceDoc struct {
	Row      int         `json:"row"`
	Col      int         `json:"col"`
	Color    board.Color `json:"color"`
	Kind     board.Kind  `json:"kind"`
	HasMoved bool        `json:"hasMoved"`
}

// Document is the full stored session. Seq, LastMove, Writer and
// WhiteToMove are absent from documents written by older clients.
type Document struct {
	SessionID   string      `json:"sessionId"`
	Pieces      []PieceDoc  `json:"pieces"`
	WhitePlayer *Player     `json:"whitePlayer"`
	BlackPlayer *Player     `json:"blackPlayer"`
	Seq         uint64      `json:"seq"`
	LastMove    *board.Move `json:"lastMove,omitempty"`
	Writer      string      `json:"writer,omitempty"`
	WhiteToMove *bool       `json:"whiteToMove,omitempty"`
}

// Field names usable with a partial update.
const (
	FieldWhitePlayer = "whitePlayer"
	FieldBlackPlayer = "blackPlayer"
	FieldPieces      = "pieces"
)

// Errors
var (
	ErrMalformed     = errf("malformed snapshot")
	ErrMissingPlayer = errf("snapshot lacks a player record")
)

type staticErr string

func (e staticErr) Error() string { return string(e) }
func errf(s string) error         { return staticErr(s) }

// New builds the document for st.
func New(sessionID string, white, black Player, st turn.State, writer string) *Document {
	w, b := white, black
	toMove := st.WhiteToMove
	var last *board.Move
	if st.LastMove != nil {
		mv := *st.LastMove
		last = &mv
	}
	return &Document{
		SessionID:   sessionID,
		Pieces:      FromBoard(st.Board),
		WhitePlayer: &w,
		BlackPlayer: &b,
		Seq:         st.Seq,
		LastMove:    last,
		Writer:      writer,
		WhiteToMove: &toMove,
	}
}

// Encode serializes d.
func Encode(d *Document) ([]byte, error) {
	if d == nil {
		return nil, fmt.Errorf("%w: nil document", ErrMalformed)
	}
	b, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return b, nil
}

// Decode parses and validates a stored document. Unparseable input and
// impossible boards wrap ErrMalformed; absent player records wrap
// ErrMissingPlayer.
func Decode(data []byte) (*Document, error) {
	var d Document
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return &d, nil
}

// Validate checks the player records and the piece list.
func (d *Document) Validate() error {
	if d.WhitePlayer == nil || d.WhitePlayer.ID == "" {
		return fmt.Errorf("%w: white", ErrMissingPlayer)
	}
	if d.BlackPlayer == nil || d.BlackPlayer.ID == "" {
		return fmt.Errorf("%w: black", ErrMissingPlayer)
	}
	_, err := ToBoard(d.Pieces)
	return err
}

// Turn reports whose move it is. Documents without the flag derive it
// from seq, white moving on even plies.
func (d *Document) Turn() bool {
	if d.WhiteToMove != nil {
		return *d.WhiteToMove
	}
	return d.Seq%2 == 0
}

// State rebuilds the dense board and turn state.
func (d *Document) State() (turn.State, error) {
	b, err := ToBoard(d.Pieces)
	if err != nil {
		return turn.State{}, err
	}
	st := turn.State{Board: b, WhiteToMove: d.Turn(), Seq: d.Seq}
	if d.LastMove != nil {
		mv := *d.LastMove
		st.LastMove = &mv
	}
	return st, nil
}

// Player finds the record of id and the color it plays.
func (d *Document) Player(id string) (*Player, board.Color, bool) {
	switch {
	case d.WhitePlayer != nil && d.WhitePlayer.ID == id:
		return d.WhitePlayer, board.White, true
	case d.BlackPlayer != nil && d.BlackPlayer.ID == id:
		return d.BlackPlayer, board.Black, true
	}
	return nil, "", false
}

// FromBoard lists the occupied squares of b in row-major order.
func FromBoard(b *board.Board) []PieceDoc {
	if b == nil {
		return []PieceDoc{}
	}
	pieces := b.Pieces()
	out := make([]PieceDoc, 0, len(pieces))
	for _, p := range pieces {
		out = append(out, PieceDoc{Row: p.Row, Col: p.Col, Color: p.Color, Kind: p.Kind, HasMoved: p.FirstMove})
	}
	return out
}

// ToBoard places every listed piece on an empty board. Off-board squares,
// unknown colors or kinds and two pieces on one square are malformed.
func ToBoard(pieces []PieceDoc) (*board.Board, error) {
	b := board.New()
	for i, pd := range pieces {
		if !pd.Color.Valid() || !pd.Kind.Primary.Valid() {
			return nil, fmt.Errorf("%w: piece %d has color %q kind %q", ErrMalformed, i, pd.Color, pd.Kind.String())
		}
		p := board.Piece{Row: pd.Row, Col: pd.Col, Color: pd.Color, Kind: pd.Kind, FirstMove: pd.HasMoved}
		if err := b.Place(p); err != nil {
			return nil, fmt.Errorf("%w: piece %d: %v", ErrMalformed, i, err)
		}
	}
	return b, nil
}
