package syncer

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/Leonid-DD/Chess2/internal/board"
	"github.com/Leonid-DD/Chess2/internal/movegen"
	"github.com/Leonid-DD/Chess2/internal/rules"
	"github.com/Leonid-DD/Chess2/internal/snapshot"
	"github.com/Leonid-DD/Chess2/internal/store"
	"github.com/Leonid-DD/Chess2/internal/turn"
)

const sessionID = "bob_alice"

var (
	whiteP = snapshot.Player{ID: "alice", Mode: board.ModeClassic}
	blackP = snapshot.Player{ID: "bob", Searching: true, Mode: board.ModeClassic}
)

type applied struct {
	seq uint64
	res turn.ApplyResult
}

type client struct {
	m       *turn.Machine
	c       *Coordinator
	applied chan applied
	persist chan error
	errs    chan error
}

func seed(t *testing.T, st store.Store) {
	t.Helper()
	raw, err := snapshot.Encode(snapshot.New(sessionID, whiteP, blackP, turn.State{Board: board.Standard(), WhiteToMove: true}, "init"))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if err := st.Set(context.Background(), sessionID, raw); err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func newClient(t *testing.T, st store.Store, opts ...Option) *client {
	t.Helper()
	gen := movegen.New(rules.MustDefault())
	cl := &client{
		m:       turn.New(gen, whiteP.ID, blackP.ID, turn.State{Board: board.Standard(), WhiteToMove: true}),
		applied: make(chan applied, 32),
		persist: make(chan error, 32),
		errs:    make(chan error, 32),
	}
	opts = append([]Option{
		WithApplyHook(func(seq uint64, res turn.ApplyResult) { cl.applied <- applied{seq, res} }),
		WithPersistHook(func(_ uint64, err error) { cl.persist <- err }),
		WithErrorHandler(func(err error) { cl.errs <- err }),
		WithTimeout(time.Second),
	}, opts...)
	cl.c = New(st, sessionID, whiteP, blackP, cl.m, opts...)
	if err := cl.c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = cl.c.Close() })
	// catch-up read of the seeded document
	cl.expectApplied(t, 0, turn.Stale)
	return cl
}

func (cl *client) expectApplied(t *testing.T, seq uint64, res turn.ApplyResult) {
	t.Helper()
	select {
	case a := <-cl.applied:
		if a.seq != seq || a.res != res {
			t.Fatalf("applied (%d, %v), want (%d, %v)", a.seq, a.res, seq, res)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no notification for seq %d", seq)
	}
}

func (cl *client) expectPersist(t *testing.T) error {
	t.Helper()
	select {
	case err := <-cl.persist:
		return err
	case <-time.After(2 * time.Second):
		t.Fatalf("no persist attempt")
		return nil
	}
}

func (cl *client) expectError(t *testing.T, target error) error {
	t.Helper()
	select {
	case err := <-cl.errs:
		if !errors.Is(err, target) {
			t.Fatalf("reported %v, want %v", err, target)
		}
		return err
	case <-time.After(2 * time.Second):
		t.Fatalf("no error reported, want %v", target)
		return nil
	}
}

func play(t *testing.T, m *turn.Machine, id string, from, to board.Square) {
	t.Helper()
	if !m.Select(id, from) || !m.Commit(id, to) {
		t.Fatalf("%s could not play %v->%v", id, from, to)
	}
}

func TestRemotePlyFlipsTurnAndEchoIsIgnored(t *testing.T) {
	st := store.NewMemoryStore()
	seed(t, st)
	a := newClient(t, st)
	b := newClient(t, st)

	play(t, a.m, "alice", board.Sq(6, 4), board.Sq(4, 4))
	if err := a.expectPersist(t); err != nil {
		t.Fatalf("persist: %v", err)
	}
	a.expectApplied(t, 1, turn.Stale)
	b.expectApplied(t, 1, turn.Applied)

	if a.m.IsTurn("alice") || !a.m.IsTurn("bob") {
		t.Fatalf("own echo flipped the writer's turn again")
	}
	if !b.m.IsTurn("bob") {
		t.Fatalf("remote ply did not hand the turn to black")
	}
	if !a.m.Snapshot().Board.Equal(b.m.Snapshot().Board) {
		t.Fatalf("boards diverged")
	}

	play(t, b.m, "bob", board.Sq(1, 3), board.Sq(3, 3))
	if err := b.expectPersist(t); err != nil {
		t.Fatalf("persist: %v", err)
	}
	a.expectApplied(t, 2, turn.Applied)
	if !a.m.IsTurn("alice") {
		t.Fatalf("white did not get the turn back")
	}
	if a.c.Pending() || b.c.Pending() {
		t.Fatalf("nothing should be pending")
	}
}

func TestIdenticalSnapshotIsNoop(t *testing.T) {
	st := store.NewMemoryStore()
	seed(t, st)
	a := newClient(t, st)
	b := newClient(t, st)

	play(t, a.m, "alice", board.Sq(6, 0), board.Sq(5, 0))
	a.expectPersist(t)
	b.expectApplied(t, 1, turn.Applied)
	before := b.m.Snapshot()

	raw, err := st.Get(context.Background(), sessionID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if err := st.Set(context.Background(), sessionID, raw); err != nil {
		t.Fatalf("Set: %v", err)
	}
	b.expectApplied(t, 1, turn.Stale)
	after := b.m.Snapshot()
	if !after.Board.Equal(before.Board) || after.WhiteToMove != before.WhiteToMove || after.Seq != before.Seq {
		t.Fatalf("duplicate notification mutated state: %+v -> %+v", before, after)
	}
}

func TestMalformedNotificationKeepsState(t *testing.T) {
	st := store.NewMemoryStore()
	seed(t, st)
	b := newClient(t, st)
	before := b.m.Snapshot()

	ctx := context.Background()
	_ = st.Set(ctx, sessionID, []byte(`{"pieces":`))
	b.expectError(t, ErrBadSnapshot)
	_ = st.Set(ctx, sessionID, []byte(`{"sessionId":"bob_alice","pieces":[],"whitePlayer":{"id":"alice"},"seq":9}`))
	err := b.expectError(t, ErrBadSnapshot)
	if !errors.Is(err, snapshot.ErrMissingPlayer) {
		t.Fatalf("missing player not surfaced: %v", err)
	}
	if after := b.m.Snapshot(); !after.Board.Equal(before.Board) || after.Seq != before.Seq {
		t.Fatalf("bad snapshot changed local state")
	}
}

type flakyStore struct {
	*store.MemoryStore
	fail atomic.Bool
}

func (f *flakyStore) Set(ctx context.Context, id string, doc []byte) error {
	if f.fail.Load() {
		return errors.New("connection refused")
	}
	return f.MemoryStore.Set(ctx, id, doc)
}

// brokenStore fails Subscribe or Get on demand.
type brokenStore struct {
	*store.MemoryStore
	noFeed bool
	noRead bool
}

func (b *brokenStore) Subscribe(ctx context.Context, id string, fn store.ChangeFunc) (store.Subscription, error) {
	if b.noFeed {
		return nil, errors.New("pubsub: connection refused")
	}
	return b.MemoryStore.Subscribe(ctx, id, fn)
}

func (b *brokenStore) Get(ctx context.Context, id string) ([]byte, error) {
	if b.noRead {
		return nil, errors.New("i/o timeout")
	}
	return b.MemoryStore.Get(ctx, id)
}

func closeWithin(t *testing.T, c *Coordinator, d time.Duration) {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- c.Close() }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Close: %v", err)
		}
	case <-time.After(d):
		t.Fatalf("Close blocked after a failed Start")
	}
}

func TestFailedStartLeavesNothingRunning(t *testing.T) {
	cases := map[string]*brokenStore{
		"subscribe": {MemoryStore: store.NewMemoryStore(), noFeed: true},
		"catch-up":  {MemoryStore: store.NewMemoryStore(), noRead: true},
	}
	for name, st := range cases {
		t.Run(name, func(t *testing.T) {
			seed(t, st)
			gen := movegen.New(rules.MustDefault())
			m := turn.New(gen, whiteP.ID, blackP.ID, turn.State{Board: board.Standard(), WhiteToMove: true})
			errs := make(chan error, 8)
			c := New(st, sessionID, whiteP, blackP, m, WithErrorHandler(func(err error) { errs <- err }))

			err := c.Start(context.Background())
			if !errors.Is(err, ErrFeed) {
				t.Fatalf("Start = %v, want ErrFeed", err)
			}
			select {
			case rep := <-errs:
				if !errors.Is(rep, ErrFeed) {
					t.Fatalf("reported %v", rep)
				}
			default:
				t.Fatalf("failure not reported")
			}
			if n := st.Subscribers(sessionID); n != 0 {
				t.Fatalf("subscribers after failed Start = %d", n)
			}

			// Start is retryable once the store recovers.
			st.noFeed, st.noRead = false, false
			if err := c.Start(context.Background()); err != nil {
				t.Fatalf("second Start: %v", err)
			}
			if n := st.Subscribers(sessionID); n != 1 {
				t.Fatalf("subscribers after second Start = %d", n)
			}
			closeWithin(t, c, 2*time.Second)
			if n := st.Subscribers(sessionID); n != 0 {
				t.Fatalf("subscribers after Close = %d", n)
			}
		})
	}
}

func TestCloseAfterFailedStart(t *testing.T) {
	st := &brokenStore{MemoryStore: store.NewMemoryStore(), noFeed: true}
	gen := movegen.New(rules.MustDefault())
	m := turn.New(gen, whiteP.ID, blackP.ID, turn.State{Board: board.Standard(), WhiteToMove: true})
	c := New(st, sessionID, whiteP, blackP, m)
	if err := c.Start(context.Background()); !errors.Is(err, ErrFeed) {
		t.Fatalf("Start = %v", err)
	}
	closeWithin(t, c, 2*time.Second)
	if err := c.Start(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("Start after Close: %v", err)
	}
}

func TestKinglessSnapshotIsIgnored(t *testing.T) {
	st := store.NewMemoryStore()
	seed(t, st)
	b := newClient(t, st)
	before := b.m.Snapshot()

	kingless := board.Standard()
	kingless.Remove(board.Sq(0, 4))
	raw, err := snapshot.Encode(snapshot.New(sessionID, whiteP, blackP, turn.State{Board: kingless, Seq: 4}, "mallory"))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if err := st.Set(context.Background(), sessionID, raw); err != nil {
		t.Fatalf("Set: %v", err)
	}
	err = b.expectError(t, ErrBadSnapshot)
	if !errors.Is(err, board.ErrKingMissing) {
		t.Fatalf("missing king not surfaced: %v", err)
	}
	if after := b.m.Snapshot(); !after.Board.Equal(before.Board) || after.Seq != before.Seq {
		t.Fatalf("kingless snapshot changed local state")
	}
}

type memJournal struct {
	mu   sync.Mutex
	seqs []uint64
}

func (j *memJournal) RecordPly(_ context.Context, sessionID string, c turn.Committed) error {
	j.mu.Lock()
	j.seqs = append(j.seqs, c.Seq)
	j.mu.Unlock()
	return nil
}

func (j *memJournal) recorded() []uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]uint64(nil), j.seqs...)
}

func TestPersistFailureIsReportedAndRetried(t *testing.T) {
	st := &flakyStore{MemoryStore: store.NewMemoryStore()}
	seed(t, st)
	j := &memJournal{}
	a := newClient(t, st, WithJournal(j))

	st.fail.Store(true)
	play(t, a.m, "alice", board.Sq(6, 4), board.Sq(4, 4))
	if err := a.expectPersist(t); err == nil {
		t.Fatalf("persist should have failed")
	}
	a.expectError(t, ErrPersist)
	if !a.c.Pending() {
		t.Fatalf("failed ply not pending")
	}
	if len(j.recorded()) != 0 {
		t.Fatalf("failed ply journaled")
	}
	raw, _ := st.Get(context.Background(), sessionID)
	doc, err := snapshot.Decode(raw)
	if err != nil || doc.Seq != 0 {
		t.Fatalf("store changed despite failure: %v seq=%d", err, doc.Seq)
	}
	if a.m.Seq() != 1 {
		t.Fatalf("local ply lost")
	}

	st.fail.Store(false)
	if err := a.c.Retry(context.Background()); err != nil {
		t.Fatalf("Retry: %v", err)
	}
	a.expectPersist(t)
	if a.c.Pending() {
		t.Fatalf("still pending after retry")
	}
	raw, _ = st.Get(context.Background(), sessionID)
	if doc, err = snapshot.Decode(raw); err != nil || doc.Seq != 1 || doc.Writer != a.c.Writer() {
		t.Fatalf("retried document wrong: %v %+v", err, doc)
	}
	if got := j.recorded(); len(got) != 1 || got[0] != 1 {
		t.Fatalf("journal = %v", got)
	}
	if err := a.c.Retry(context.Background()); err != nil {
		t.Fatalf("Retry with nothing pending: %v", err)
	}
}

func TestPlayerPatchIsCarriedIntoLaterWrites(t *testing.T) {
	st := store.NewMemoryStore()
	seed(t, st)
	a := newClient(t, st)

	if err := st.Update(context.Background(), sessionID, snapshot.FieldBlackPlayer, []byte(`{"id":"bob","searching":false,"mode":"CLASSIC"}`)); err != nil {
		t.Fatalf("Update: %v", err)
	}
	a.expectApplied(t, 0, turn.Stale)

	play(t, a.m, "alice", board.Sq(6, 4), board.Sq(5, 4))
	a.expectPersist(t)
	raw, _ := st.Get(context.Background(), sessionID)
	doc, err := snapshot.Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if doc.BlackPlayer.Searching {
		t.Fatalf("overwrite reverted the joined player's record")
	}
}

func TestSingleSubscription(t *testing.T) {
	st := store.NewMemoryStore()
	seed(t, st)
	a := newClient(t, st)
	if n := st.Subscribers(sessionID); n != 1 {
		t.Fatalf("subscribers = %d", n)
	}
	for i := 0; i < 3; i++ {
		if err := a.c.Resubscribe(context.Background()); err != nil {
			t.Fatalf("Resubscribe: %v", err)
		}
	}
	if n := st.Subscribers(sessionID); n != 1 {
		t.Fatalf("subscribers after resubscribe = %d", n)
	}
	if err := a.c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if n := st.Subscribers(sessionID); n != 0 {
		t.Fatalf("subscribers after close = %d", n)
	}
	if err := a.c.Start(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("Start after Close: %v", err)
	}
}

func TestRedisRoundTrip(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	st := store.NewRedisStore(rdb)
	seed(t, st)

	a := newClient(t, st)
	b := newClient(t, st)

	play(t, a.m, "alice", board.Sq(7, 6), board.Sq(5, 5))
	if err := a.expectPersist(t); err != nil {
		t.Fatalf("persist: %v", err)
	}
	b.expectApplied(t, 1, turn.Applied)
	a.expectApplied(t, 1, turn.Stale)
	if p := b.m.Snapshot().Board.At(board.Sq(5, 5)); p == nil || p.Kind != board.Classic(board.Knight) {
		t.Fatalf("remote knight missing: %+v", p)
	}
}
