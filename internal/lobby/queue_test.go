package lobby

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/Leonid-DD/Chess2/internal/board"
	"github.com/Leonid-DD/Chess2/internal/snapshot"
)

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	q := NewQueue(rdb)
	clock := time.Unix(1700000000, 0)
	q.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	return q
}

func TestPairTakesLongestWaitingOfSameMode(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()
	for _, p := range []snapshot.Player{
		{ID: "u1", Mode: board.ModeClassic},
		{ID: "u2", Mode: board.ModeChess2},
		{ID: "u3", Mode: board.ModeChess2},
		{ID: "u4", Mode: board.ModeChess2},
	} {
		if err := q.Enqueue(ctx, p); err != nil {
			t.Fatalf("Enqueue %s: %v", p.ID, err)
		}
	}

	self, opp, err := q.Pair(ctx, "u4")
	if err != nil {
		t.Fatalf("Pair: %v", err)
	}
	if self.ID != "u4" || opp.ID != "u2" {
		t.Fatalf("paired %s with %s, want u4 with u2", self.ID, opp.ID)
	}
	if self.Searching || opp.Searching {
		t.Fatalf("paired records still searching")
	}
	if partner, _ := q.Matched(ctx, "u2"); partner != "u4" {
		t.Fatalf("Matched(u2) = %q", partner)
	}

	left, err := q.Waiting(ctx, board.ModeChess2)
	if err != nil {
		t.Fatalf("Waiting: %v", err)
	}
	if len(left) != 1 || left[0].ID != "u3" || !left[0].Searching {
		t.Fatalf("waiting = %+v", left)
	}

	// u1 is alone in its mode
	self, opp, err = q.Pair(ctx, "u1")
	if err != nil || opp != nil || self != nil {
		t.Fatalf("lonely Pair = %v %v %v", self, opp, err)
	}
	if partner, _ := q.Matched(ctx, "u1"); partner != "" {
		t.Fatalf("u1 matched with %q", partner)
	}
}

func TestPairRequiresQueuedPlayer(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()
	if _, _, err := q.Pair(ctx, "ghost"); !errors.Is(err, ErrNotQueued) {
		t.Fatalf("Pair unknown: %v", err)
	}
	if _, _, err := q.Pair(ctx, " "); !errors.Is(err, ErrInvalidArgs) {
		t.Fatalf("Pair blank: %v", err)
	}
	if err := q.Enqueue(ctx, snapshot.Player{ID: "a"}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := q.Enqueue(ctx, snapshot.Player{ID: "b"}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := q.Cancel(ctx, "a"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if _, _, err := q.Pair(ctx, "a"); !errors.Is(err, ErrNotQueued) {
		t.Fatalf("Pair after Cancel: %v", err)
	}
	if err := q.Cancel(ctx, "a"); !errors.Is(err, ErrNotQueued) {
		t.Fatalf("second Cancel: %v", err)
	}
	left, _ := q.Waiting(ctx, board.ModeChess2)
	if len(left) != 1 || left[0].ID != "b" || left[0].Mode != board.ModeChess2 {
		t.Fatalf("waiting = %+v", left)
	}
}
