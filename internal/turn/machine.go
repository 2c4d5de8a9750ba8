// Package turn holds the per-session selection and turn state: which side
// moves, which square is selected and which destinations are highlighted.
package turn

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/Leonid-DD/Chess2/internal/board"
	"github.com/Leonid-DD/Chess2/internal/movegen"
	"github.com/Leonid-DD/Chess2/internal/obslog"
)

// Outcome describes what a click did.
type Outcome int

const (
	Ignored  Outcome = iota // not the caller's turn, or nothing to select
	Selected                // a friendly piece is now selected
	Moved                   // the selected piece moved
	Rejected                // destination not highlighted; selection kept
)

func (o Outcome) String() string {
	switch o {
	case Selected:
		return "selected"
	case Moved:
		return "moved"
	case Rejected:
		return "rejected"
	default:
		return "ignored"
	}
}

// State is the part of the machine that is persisted and exchanged.
type State struct {
	Board       *board.Board
	WhiteToMove bool
	LastMove    *board.Move
	Seq         uint64
}

// Committed describes a ply that has just been applied locally.
type Committed struct {
	State
	Move     board.Move
	Mover    board.Color
	Piece    board.Piece // the piece as it stood before moving
	Captured *board.Piece
}

// Sink receives every committed ply in commit order. It runs with the
// machine locked and must not call back into the machine.
type Sink func(Committed)

// ApplyResult reports what ApplyRemote did with a snapshot.
type ApplyResult int

const (
	Stale     ApplyResult = iota // seq not newer than the local one
	Unchanged                    // newer seq, same board: seq advanced only
	Applied                      // board replaced
)

func (r ApplyResult) String() string {
	switch r {
	case Unchanged:
		return "unchanged"
	case Applied:
		return "applied"
	default:
		return "stale"
	}
}

// Machine is the turn state of one session. All methods are safe for
// concurrent use; remote replacement is atomic with Select and Commit.
type Machine struct {
	mu  sync.Mutex
	gen *movegen.Generator

	white, black string

	board       *board.Board
	whiteToMove bool
	selected    *board.Square
	highlighted movegen.SquareSet
	lastMove    *board.Move
	seq         uint64

	sink Sink
}

// New starts a machine on st. A board that breaks the coordinate invariant
// or lacks a king is a construction bug and panics.
func New(gen *movegen.Generator, whiteID, blackID string, st State) *Machine {
	if st.Board == nil {
		panic("turn: nil board")
	}
	if err := st.Board.Validate(); err != nil {
		panic("turn: " + err.Error())
	}
	if err := st.Board.HasKings(); err != nil {
		panic("turn: " + err.Error())
	}
	return &Machine{
		gen:         gen,
		white:       whiteID,
		black:       blackID,
		board:       st.Board.Clone(),
		whiteToMove: st.WhiteToMove,
		lastMove:    copyMove(st.LastMove),
		seq:         st.Seq,
	}
}

// SetSink installs the receiver of committed plies.
func (m *Machine) SetSink(s Sink) {
	m.mu.Lock()
	m.sink = s
	m.mu.Unlock()
}

// ColorOf infers the caller's color from its identity.
func (m *Machine) ColorOf(identity string) (board.Color, bool) {
	switch identity {
	case m.white:
		return board.White, true
	case m.black:
		return board.Black, true
	}
	return "", false
}

// Players returns the white and black player ids.
func (m *Machine) Players() (white, black string) { return m.white, m.black }

// IsTurn reports whether identity owns the current ply.
func (m *Machine) IsTurn(identity string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.isTurn(identity)
}

func (m *Machine) isTurn(identity string) bool {
	return (m.whiteToMove && identity == m.white) || (!m.whiteToMove && identity == m.black)
}

// Select selects the caller's piece on sq. It returns false and changes
// nothing when it is not the caller's turn or sq holds no friendly piece.
func (m *Machine) Select(identity string, sq board.Square) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.selectLocked(identity, sq)
}

func (m *Machine) selectLocked(identity string, sq board.Square) bool {
	if !m.isTurn(identity) {
		return false
	}
	color, _ := m.ColorOf(identity)
	p := m.board.At(sq)
	if p == nil || p.Color != color {
		return false
	}
	hl := m.gen.LegalMoves(m.board, *p, m.lastMove)
	for s := range hl {
		// kings are never captured, even with the self-check filter off
		if t := m.board.At(s); !s.InBounds() || (t != nil && t.Kind == board.Classic(board.King) && t.Color != color) {
			delete(hl, s)
		}
	}
	m.selected = &sq
	m.highlighted = hl
	return true
}

// Commit moves the selected piece to to. It returns false without any
// mutation when nothing is selected, it is not the caller's turn, to is
// the origin, or to is not highlighted.
func (m *Machine) Commit(identity string, to board.Square) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.commitLocked(identity, to)
}

func (m *Machine) commitLocked(identity string, to board.Square) bool {
	if m.selected == nil || !m.isTurn(identity) {
		return false
	}
	from := *m.selected
	if to == from || !m.highlighted.Has(to) {
		return false
	}
	p := m.board.At(from)
	if p == nil {
		panic(fmt.Sprintf("turn: selected square %s is empty", from))
	}
	captured := movegen.Apply(m.board, *p, to, m.lastMove)
	if err := m.board.Validate(); err != nil {
		panic("turn: " + err.Error())
	}
	mv := board.Move{From: from, To: to}
	m.lastMove = &mv
	m.selected = nil
	m.highlighted = nil
	m.whiteToMove = !m.whiteToMove
	m.seq++

	obslog.L().Debug("turn_commit",
		zap.Uint64("seq", m.seq),
		zap.String("from", from.String()),
		zap.String("to", to.String()),
		zap.String("kind", p.Kind.String()),
	)

	if m.sink != nil {
		m.sink(Committed{
			State:    m.stateLocked(),
			Move:     mv,
			Mover:    p.Color,
			Piece:    *p,
			Captured: captured,
		})
	}
	return true
}

// Click is the single entry point of a board click. A friendly piece is
// always (re)selected; any other square is a move attempt when a piece
// is already selected.
func (m *Machine) Click(identity string, sq board.Square) Outcome {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.isTurn(identity) {
		return Ignored
	}
	if m.selectLocked(identity, sq) {
		return Selected
	}
	if m.selected == nil {
		return Ignored
	}
	if m.commitLocked(identity, sq) {
		return Moved
	}
	return Rejected
}

// Deselect drops the current selection.
func (m *Machine) Deselect() {
	m.mu.Lock()
	m.selected = nil
	m.highlighted = nil
	m.mu.Unlock()
}

// Selection returns the selected square, if any.
func (m *Machine) Selection() (board.Square, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.selected == nil {
		return board.Square{}, false
	}
	return *m.selected, true
}

// Highlighted returns the highlight set in row-major order.
func (m *Machine) Highlighted() []board.Square {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.highlighted == nil {
		return nil
	}
	return m.highlighted.Slice()
}

// Snapshot returns a copy of the exchangeable state.
func (m *Machine) Snapshot() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stateLocked()
}

func (m *Machine) stateLocked() State {
	return State{
		Board:       m.board.Clone(),
		WhiteToMove: m.whiteToMove,
		LastMove:    copyMove(m.lastMove),
		Seq:         m.seq,
	}
}

// InCheck reports whether color's king is attacked on the current board.
func (m *Machine) InCheck(color board.Color) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gen.IsKingInCheck(m.board, color)
}

// Seq is the sequence number of the last ply produced or applied.
func (m *Machine) Seq() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.seq
}

// ApplyRemote reconciles a snapshot read from the store. Boards without
// both kings are refused like stale ones. Snapshots whose
// seq is not newer than the local one are echoes or duplicates and are
// dropped. A newer snapshot with an identical board only advances seq.
// Otherwise the board is replaced, the selection dropped and the turn
// flipped; when plies were missed in between, the snapshot's own turn
// flag is trusted instead.
func (m *Machine) ApplyRemote(st State) ApplyResult {
	if st.Board == nil || st.Board.HasKings() != nil {
		return Stale
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if st.Seq <= m.seq {
		return Stale
	}
	if m.board.Equal(st.Board) {
		m.seq = st.Seq
		return Unchanged
	}
	if st.Seq == m.seq+1 {
		m.whiteToMove = !m.whiteToMove
	} else {
		m.whiteToMove = st.WhiteToMove
	}
	m.board = st.Board.Clone()
	m.lastMove = copyMove(st.LastMove)
	m.seq = st.Seq
	m.selected = nil
	m.highlighted = nil
	return Applied
}

func copyMove(mv *board.Move) *board.Move {
	if mv == nil {
		return nil
	}
	cp := *mv
	return &cp
}
