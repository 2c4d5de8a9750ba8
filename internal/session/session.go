// Package session creates, joins and opens game sessions stored in the
// shared document store.
package session

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"

	"github.com/Leonid-DD/Chess2/internal/board"
	"github.com/Leonid-DD/Chess2/internal/movegen"
	"github.com/Leonid-DD/Chess2/internal/obslog"
	"github.com/Leonid-DD/Chess2/internal/snapshot"
	"github.com/Leonid-DD/Chess2/internal/store"
	"github.com/Leonid-DD/Chess2/internal/syncer"
	"github.com/Leonid-DD/Chess2/internal/turn"
)

// Errors
var (
	ErrInvalidArgs    = errf("invalid arguments")
	ErrExists         = errf("session already exists")
	ErrNotParticipant = errf("player is not part of this session")
)

type staticErr string

func (e staticErr) Error() string { return string(e) }
func errf(s string) error         { return staticErr(s) }

// CreateSessionID derives the session id from two player ids. The larger
// hash comes first, so both clients compute the same id independently.
func CreateSessionID(a, b string) string {
	ha, hb := xxhash.Sum64String(a), xxhash.Sum64String(b)
	if ha < hb || (ha == hb && a < b) {
		a, b = b, a
	}
	return a + "_" + b
}

// Initializer picks which of two directly configured players writes the
// initial document: the one whose id leads the session id.
func Initializer(a, b string) string {
	ha, hb := xxhash.Sum64String(a), xxhash.Sum64String(b)
	if ha < hb || (ha == hb && a < b) {
		return b
	}
	return a
}

// Manager builds sessions on top of a store.
type Manager struct {
	store store.Store
	gen   *movegen.Generator
	intn  func(n int) int
}

type Option func(*Manager)

// WithRand replaces the crypto/rand source used for colors and RANDOM setups.
func WithRand(intn func(n int) int) Option { return func(m *Manager) { m.intn = intn } }

func NewManager(st store.Store, gen *movegen.Generator, opts ...Option) *Manager {
	m := &Manager{store: st, gen: gen, intn: cryptoIntn}
	for _, o := range opts {
		o(m)
	}
	return m
}

func cryptoIntn(n int) int {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0
	}
	return int(v.Int64())
}

// Create is run by the initializing client only. It assigns colors at
// random, builds the initial position for self's mode and writes the
// document with seq 0. The opponent's record keeps its searching flag
// until it joins.
func (m *Manager) Create(ctx context.Context, self, opponent snapshot.Player) (*snapshot.Document, error) {
	self.ID, opponent.ID = strings.TrimSpace(self.ID), strings.TrimSpace(opponent.ID)
	if self.ID == "" || opponent.ID == "" || self.ID == opponent.ID {
		return nil, ErrInvalidArgs
	}
	id := CreateSessionID(self.ID, opponent.ID)

	mode := self.Mode
	if mode == "" {
		mode = board.ModeChess2
	}
	self.Searching = false
	white, black := self, opponent
	if m.intn(2) == 0 {
		white, black = opponent, self
	}
	b := board.Setup(mode, m.gen.Table().Composites(), m.intn)
	doc := snapshot.New(id, white, black, turn.State{Board: b, WhiteToMove: true}, "")
	raw, err := snapshot.Encode(doc)
	if err != nil {
		return nil, err
	}
	if err := m.store.Create(ctx, id, raw); err != nil {
		if errors.Is(err, store.ErrExists) {
			return nil, fmt.Errorf("%w: %s", ErrExists, id)
		}
		return nil, fmt.Errorf("create %s: %w", id, err)
	}
	obslog.With(id).Info("session_create",
		zap.String("white_id", white.ID),
		zap.String("black_id", black.ID),
		zap.String("mode", string(mode)),
	)
	return doc, nil
}

// Load reads and validates the stored document.
func (m *Manager) Load(ctx context.Context, id string) (*snapshot.Document, error) {
	raw, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return snapshot.Decode(raw)
}

// Join is run by the non-initializing client. It checks membership and
// clears its own searching flag with a single-field update.
func (m *Manager) Join(ctx context.Context, selfID, opponentID string) (*snapshot.Document, error) {
	if strings.TrimSpace(selfID) == "" || strings.TrimSpace(opponentID) == "" {
		return nil, ErrInvalidArgs
	}
	id := CreateSessionID(selfID, opponentID)
	doc, err := m.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	rec, color, ok := doc.Player(selfID)
	if !ok {
		return nil, fmt.Errorf("%w: %s in %s", ErrNotParticipant, selfID, id)
	}
	rec.Searching = false
	raw, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	field := snapshot.FieldWhitePlayer
	if color == board.Black {
		field = snapshot.FieldBlackPlayer
	}
	if err := m.store.Update(ctx, id, field, raw); err != nil {
		return nil, fmt.Errorf("join %s: %w", id, err)
	}
	obslog.With(id).Info("session_join", zap.String("player_id", selfID), zap.String("color", string(color)))
	return doc, nil
}

// Session is an open game: the local turn machine and its coordinator.
type Session struct {
	ID          string
	Self        string
	Color       board.Color
	Machine     *turn.Machine
	Coordinator *syncer.Coordinator
}

// Open starts playing doc as self. The coordinator is subscribed and
// caught up before Open returns.
func (m *Manager) Open(ctx context.Context, doc *snapshot.Document, self string, opts ...syncer.Option) (*Session, error) {
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	_, color, ok := doc.Player(self)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotParticipant, self)
	}
	st, err := doc.State()
	if err != nil {
		return nil, err
	}
	if err := st.Board.HasKings(); err != nil {
		return nil, fmt.Errorf("%w: %w", snapshot.ErrMalformed, err)
	}
	mach := turn.New(m.gen, doc.WhitePlayer.ID, doc.BlackPlayer.ID, st)
	coord := syncer.New(m.store, doc.SessionID, *doc.WhitePlayer, *doc.BlackPlayer, mach, opts...)
	if err := coord.Start(ctx); err != nil {
		_ = coord.Close()
		return nil, err
	}
	return &Session{ID: doc.SessionID, Self: self, Color: color, Machine: mach, Coordinator: coord}, nil
}

// Close tears down the change feed and flushes pending writes.
func (s *Session) Close() error {
	if s == nil || s.Coordinator == nil {
		return nil
	}
	return s.Coordinator.Close()
}
