package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/Leonid-DD/Chess2/internal/board"
	"github.com/Leonid-DD/Chess2/internal/movegen"
	"github.com/Leonid-DD/Chess2/internal/rules"
	"github.com/Leonid-DD/Chess2/internal/snapshot"
	"github.com/Leonid-DD/Chess2/internal/store"
	"github.com/Leonid-DD/Chess2/internal/syncer"
	"github.com/Leonid-DD/Chess2/internal/turn"
)

func TestCreateSessionIDIsOrderIndependent(t *testing.T) {
	for i := 0; i < 500; i++ {
		a, b := fmt.Sprintf("user-%d", i), fmt.Sprintf("uid:%d:x", i*7+3)
		ab, ba := CreateSessionID(a, b), CreateSessionID(b, a)
		if ab != ba {
			t.Fatalf("CreateSessionID(%q,%q)=%q but reversed=%q", a, b, ab, ba)
		}
		if ab != a+"_"+b && ab != b+"_"+a {
			t.Fatalf("id %q is not the joined pair", ab)
		}
		if init := Initializer(a, b); init != Initializer(b, a) || !strings.HasPrefix(ab, init+"_") {
			t.Fatalf("Initializer(%q,%q)=%q for id %q", a, b, init, ab)
		}
	}
}

// fixed returns the values in order, cycling.
func fixed(vals ...int) func(int) int {
	i := 0
	return func(n int) int {
		v := vals[i%len(vals)] % n
		i++
		return v
	}
}

func newManager(t *testing.T, st store.Store, intn func(int) int) *Manager {
	t.Helper()
	return NewManager(st, movegen.New(rules.MustDefault()), WithRand(intn))
}

func TestCreateAssignsColorsAndSetup(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		name      string
		coin      int
		mode      board.Mode
		wantWhite string
		corner    board.Kind
	}{
		{"opponent white classic", 0, board.ModeClassic, "bob", board.Classic(board.Rook)},
		{"self white chess2", 1, board.ModeChess2, "alice", board.Composite(board.Rook, board.Knight)},
		{"default mode", 1, "", "alice", board.Composite(board.Rook, board.Knight)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			st := store.NewMemoryStore()
			m := newManager(t, st, fixed(tc.coin))
			doc, err := m.Create(ctx,
				snapshot.Player{ID: "alice", Searching: true, Mode: tc.mode},
				snapshot.Player{ID: "bob", Searching: true, Mode: tc.mode})
			if err != nil {
				t.Fatalf("Create: %v", err)
			}
			if doc.WhitePlayer.ID != tc.wantWhite {
				t.Fatalf("white = %s, want %s", doc.WhitePlayer.ID, tc.wantWhite)
			}
			self, _, _ := doc.Player("alice")
			opp, _, _ := doc.Player("bob")
			if self.Searching || !opp.Searching {
				t.Fatalf("searching flags: self=%v opponent=%v", self.Searching, opp.Searching)
			}

			stored, err := m.Load(ctx, CreateSessionID("bob", "alice"))
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			s, _ := stored.State()
			if s.Seq != 0 || !s.WhiteToMove {
				t.Fatalf("initial turn state: %+v", s)
			}
			if p := s.Board.At(board.Sq(7, 0)); p == nil || p.Kind != tc.corner {
				t.Fatalf("corner = %+v, want %v", p, tc.corner)
			}
			if len(s.Board.Pieces()) != 32 {
				t.Fatalf("pieces = %d", len(s.Board.Pieces()))
			}

			if _, err := m.Create(ctx, snapshot.Player{ID: "bob"}, snapshot.Player{ID: "alice"}); !errors.Is(err, ErrExists) {
				t.Fatalf("second Create: %v", err)
			}
		})
	}
}

func TestCreateRejectsBadPlayers(t *testing.T) {
	m := newManager(t, store.NewMemoryStore(), fixed(0))
	for _, pair := range [][2]string{{"", "b"}, {"a", " "}, {"a", "a"}} {
		if _, err := m.Create(context.Background(), snapshot.Player{ID: pair[0]}, snapshot.Player{ID: pair[1]}); !errors.Is(err, ErrInvalidArgs) {
			t.Fatalf("Create(%q,%q) = %v", pair[0], pair[1], err)
		}
	}
}

func TestRandomModeIsMirrored(t *testing.T) {
	m := newManager(t, store.NewMemoryStore(), fixed(1, 3, 5, 7, 9, 11, 2))
	doc, err := m.Create(context.Background(),
		snapshot.Player{ID: "alice", Mode: board.ModeRandom},
		snapshot.Player{ID: "bob", Mode: board.ModeRandom})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	s, _ := doc.State()
	for c := 0; c < board.Size; c++ {
		w, b := s.Board.At(board.Sq(7, c)), s.Board.At(board.Sq(0, c))
		if w == nil || b == nil || w.Kind != b.Kind {
			t.Fatalf("column %d not mirrored: %+v vs %+v", c, w, b)
		}
		if c != 3 && c != 4 && !w.Kind.IsComposite() {
			t.Fatalf("column %d kept archetype %v", c, w.Kind)
		}
	}
}

func TestJoin(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	m := newManager(t, st, fixed(1))
	if _, err := m.Join(ctx, "bob", "alice"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("Join before Create: %v", err)
	}
	if _, err := m.Create(ctx, snapshot.Player{ID: "alice"}, snapshot.Player{ID: "bob", Searching: true}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	doc, err := m.Join(ctx, "bob", "alice")
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	if doc.BlackPlayer.Searching {
		t.Fatalf("returned record still searching")
	}
	stored, _ := m.Load(ctx, doc.SessionID)
	if stored.BlackPlayer.Searching || stored.BlackPlayer.ID != "bob" {
		t.Fatalf("stored record = %+v", stored.BlackPlayer)
	}
	if _, err := m.Join(ctx, "carol", "alice"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("Join to a missing pair: %v", err)
	}
}

func TestOpenAndPlayAcrossClients(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	m := newManager(t, st, fixed(1))
	created, err := m.Create(ctx, snapshot.Player{ID: "alice", Mode: board.ModeClassic}, snapshot.Player{ID: "bob", Mode: board.ModeClassic})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	joined, err := m.Join(ctx, "bob", "alice")
	if err != nil {
		t.Fatalf("Join: %v", err)
	}

	white, err := m.Open(ctx, created, "alice")
	if err != nil {
		t.Fatalf("Open white: %v", err)
	}
	defer white.Close()
	applied := make(chan turn.ApplyResult, 8)
	black, err := m.Open(ctx, joined, "bob", syncer.WithApplyHook(func(seq uint64, res turn.ApplyResult) {
		if seq > 0 {
			applied <- res
		}
	}))
	if err != nil {
		t.Fatalf("Open black: %v", err)
	}
	defer black.Close()

	if white.Color != board.White || black.Color != board.Black {
		t.Fatalf("colors: %s %s", white.Color, black.Color)
	}
	if white.Machine.Click("alice", board.Sq(6, 4)) != turn.Selected || white.Machine.Click("alice", board.Sq(4, 4)) != turn.Moved {
		t.Fatalf("white could not move")
	}
	select {
	case res := <-applied:
		if res != turn.Applied {
			t.Fatalf("black saw %v", res)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("black never saw white's move")
	}
	if !black.Machine.IsTurn("bob") {
		t.Fatalf("turn not handed to black")
	}

	if _, err := m.Open(ctx, created, "carol"); !errors.Is(err, ErrNotParticipant) {
		t.Fatalf("Open as stranger: %v", err)
	}
	if !strings.Contains(white.ID, "_") {
		t.Fatalf("session id %q", white.ID)
	}
}

type deafStore struct{ *store.MemoryStore }

func (deafStore) Subscribe(context.Context, string, store.ChangeFunc) (store.Subscription, error) {
	return nil, errors.New("pubsub: connection refused")
}

func TestOpenFailsFastWhenFeedIsDown(t *testing.T) {
	ctx := context.Background()
	st := deafStore{store.NewMemoryStore()}
	m := newManager(t, st, fixed(1))
	doc, err := m.Create(ctx, snapshot.Player{ID: "alice"}, snapshot.Player{ID: "bob"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		s, err := m.Open(ctx, doc, "alice")
		if s != nil {
			_ = s.Close()
		}
		done <- err
	}()
	select {
	case err := <-done:
		if !errors.Is(err, syncer.ErrFeed) {
			t.Fatalf("Open = %v, want ErrFeed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Open hung on a failed subscription")
	}
	if n := st.Subscribers(doc.SessionID); n != 0 {
		t.Fatalf("subscribers after failed Open = %d", n)
	}
}

func TestOpenRejectsKinglessDocument(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	m := newManager(t, st, fixed(1))
	doc, err := m.Create(ctx, snapshot.Player{ID: "alice", Mode: board.ModeClassic}, snapshot.Player{ID: "bob"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	kingless := board.Standard()
	kingless.Remove(board.Sq(0, 4))
	doc.Pieces = snapshot.FromBoard(kingless)
	if _, err := m.Open(ctx, doc, "alice"); !errors.Is(err, snapshot.ErrMalformed) || !errors.Is(err, board.ErrKingMissing) {
		t.Fatalf("Open kingless = %v", err)
	}
	if n := st.Subscribers(doc.SessionID); n != 0 {
		t.Fatalf("subscribers after rejected Open = %d", n)
	}
}

func TestConcurrentCreateHasOneWinner(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	a, b := newManager(t, st, fixed(0)), newManager(t, st, fixed(1))
	errs := make(chan error, 2)
	go func() {
		_, err := a.Create(ctx, snapshot.Player{ID: "alice"}, snapshot.Player{ID: "bob"})
		errs <- err
	}()
	go func() {
		_, err := b.Create(ctx, snapshot.Player{ID: "bob"}, snapshot.Player{ID: "alice"})
		errs <- err
	}()
	won := 0
	for i := 0; i < 2; i++ {
		switch err := <-errs; {
		case err == nil:
			won++
		case !errors.Is(err, ErrExists):
			t.Fatalf("Create: %v", err)
		}
	}
	if won != 1 {
		t.Fatalf("%d creators won", won)
	}
}
