// Package lobby is the waiting queue that pairs searching players of the
// same game mode. The player who completes a pairing initializes the
// session; the partner learns of it through Matched and joins.
package lobby

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Leonid-DD/Chess2/internal/board"
	"github.com/Leonid-DD/Chess2/internal/obslog"
	"github.com/Leonid-DD/Chess2/internal/snapshot"
)

const (
	ttlQueue     = 30 * time.Minute
	pairAttempts = 5
)

// Errors
var (
	ErrInvalidArgs = errf("invalid arguments")
	ErrNotQueued   = errf("player is not in the queue")
	ErrContention  = errf("queue changed concurrently")
)

type staticErr string

func (e staticErr) Error() string { return string(e) }
func errf(s string) error         { return staticErr(s) }

// Queue keeps one sorted set per mode (score = enqueue time) plus a JSON
// record per player.
type Queue struct {
	rdb *redis.Client
	now func() time.Time
}

func NewQueue(rdb *redis.Client) *Queue { return &Queue{rdb: rdb, now: time.Now} }

func keyMode(m board.Mode) string { return "chess2:lobby:" + string(m) }
func keyPlayer(id string) string  { return "chess2:lobby:player:" + strings.TrimSpace(id) }
func keyMatch(id string) string   { return "chess2:lobby:match:" + strings.TrimSpace(id) }

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

// Enqueue marks p as searching in its mode. Enqueueing again refreshes
// the record and keeps the original position.
func (q *Queue) Enqueue(ctx context.Context, p snapshot.Player) error {
	p.ID = strings.TrimSpace(p.ID)
	if p.ID == "" {
		return ErrInvalidArgs
	}
	if p.Mode == "" {
		p.Mode = board.ModeChess2
	}
	p.Searching = true
	raw, err := json.Marshal(p)
	if err != nil {
		return err
	}
	_, err = q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, keyPlayer(p.ID), raw, ttlQueue)
		pipe.ZAddNX(ctx, keyMode(p.Mode), redis.Z{Score: float64(q.now().UnixNano()), Member: p.ID})
		pipe.Expire(ctx, keyMode(p.Mode), ttlQueue)
		pipe.Del(ctx, keyMatch(p.ID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", p.ID, err)
	}
	obslog.L().Info("lobby_enqueue", zap.String("player_id", p.ID), zap.String("mode", string(p.Mode)))
	return nil
}

// Cancel removes id from the queue.
func (q *Queue) Cancel(ctx context.Context, id string) error {
	p, err := q.record(ctx, q.rdb, id)
	if err != nil {
		return err
	}
	_, err = q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, keyMode(p.Mode), p.ID)
		pipe.Del(ctx, keyPlayer(p.ID))
		return nil
	})
	return err
}

func (q *Queue) record(ctx context.Context, c getter, id string) (*snapshot.Player, error) {
	raw, err := c.Get(ctx, keyPlayer(id)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotQueued
	}
	if err != nil {
		return nil, err
	}
	var p snapshot.Player
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("lobby record %s: %w", id, err)
	}
	return &p, nil
}

// Pair takes self and the longest-waiting other player of the same mode
// out of the queue in one transaction. It returns nil when nobody else is
// waiting. Both returned records have searching=false.
func (q *Queue) Pair(ctx context.Context, selfID string) (self, opponent *snapshot.Player, err error) {
	selfID = strings.TrimSpace(selfID)
	if selfID == "" {
		return nil, nil, ErrInvalidArgs
	}
	for i := 0; i < pairAttempts; i++ {
		self, opponent, err = q.tryPair(ctx, selfID)
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
	}
	if errors.Is(err, redis.TxFailedErr) {
		return nil, nil, ErrContention
	}
	if err != nil || opponent == nil {
		return nil, nil, err
	}
	obslog.L().Info("lobby_pair",
		zap.String("player_id", self.ID),
		zap.String("opponent_id", opponent.ID),
		zap.String("mode", string(self.Mode)),
	)
	return self, opponent, nil
}

func (q *Queue) tryPair(ctx context.Context, selfID string) (self, opponent *snapshot.Player, err error) {
	self, err = q.record(ctx, q.rdb, selfID)
	if err != nil {
		return nil, nil, err
	}
	modeKey := keyMode(self.Mode)
	err = q.rdb.Watch(ctx, func(tx *redis.Tx) error {
		ids, err := tx.ZRange(ctx, modeKey, 0, -1).Result()
		if err != nil {
			return err
		}
		in := false
		for _, id := range ids {
			if id == selfID {
				in = true
				continue
			}
			if opponent == nil {
				opponent, err = q.record(ctx, tx, id)
				if errors.Is(err, ErrNotQueued) {
					opponent = nil
					continue
				}
				if err != nil {
					return err
				}
			}
		}
		if !in {
			return ErrNotQueued
		}
		if opponent == nil {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.ZRem(ctx, modeKey, self.ID, opponent.ID)
			pipe.Del(ctx, keyPlayer(self.ID), keyPlayer(opponent.ID))
			pipe.Set(ctx, keyMatch(opponent.ID), self.ID, ttlQueue)
			return nil
		})
		return err
	}, modeKey, keyPlayer(selfID))
	if err != nil {
		return nil, nil, err
	}
	if opponent == nil {
		return self, nil, nil
	}
	self.Searching, opponent.Searching = false, false
	return self, opponent, nil
}

// Matched returns the id of the player who paired with id, or "" while
// id is still waiting.
func (q *Queue) Matched(ctx context.Context, id string) (string, error) {
	v, err := q.rdb.Get(ctx, keyMatch(id)).Result()
	if err == redis.Nil {
		return "", nil
	}
	return v, err
}

// Waiting lists the searching players of mode, longest-waiting first.
func (q *Queue) Waiting(ctx context.Context, mode board.Mode) ([]snapshot.Player, error) {
	ids, err := q.rdb.ZRange(ctx, keyMode(mode), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	var out []snapshot.Player
	for _, id := range ids {
		p, err := q.record(ctx, q.rdb, id)
		if err != nil {
			continue
		}
		out = append(out, *p)
	}
	return out, nil
}
