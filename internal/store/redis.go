package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Leonid-DD/Chess2/internal/obslog"
)

const (
	defaultTTL     = 24 * time.Hour
	updateAttempts = 5
	feedBackoff    = time.Second
)

// RedisStore keeps each document as JSON under chess2:game:<id> and
// publishes every write on chess2:game:<id>:changes.
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

type RedisOption func(*RedisStore)

// WithTTL sets the expiry refreshed on every write. Zero keeps documents forever.
func WithTTL(d time.Duration) RedisOption { return func(s *RedisStore) { s.ttl = d } }

func NewRedisStore(rdb *redis.Client, opts ...RedisOption) *RedisStore {
	s := &RedisStore{rdb: rdb, ttl: defaultTTL}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Dial connects to a redis:// or rediss:// URL and pings the server.
func Dial(ctx context.Context, redisURL string) (*redis.Client, error) {
	if strings.TrimSpace(redisURL) == "" {
		return nil, fmt.Errorf("%w: REDIS_URL required", ErrInvalidArgs)
	}
	opts, err := ParseRedisURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

// ParseRedisURL maps redis://[:password@]host:port[/db] to client options.
func ParseRedisURL(raw string) (*redis.Options, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, err
	}
	if u.Scheme != "redis" && u.Scheme != "rediss" {
		return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	db := 0
	if p := strings.TrimPrefix(u.Path, "/"); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("redis db %q: %w", p, err)
		}
		db = n
	}
	pass, _ := u.User.Password()
	return &redis.Options{Addr: u.Host, Password: pass, DB: db}, nil
}

func docKey(id string) string     { return "chess2:game:" + strings.TrimSpace(id) }
func changesKey(id string) string { return docKey(id) + ":changes" }

func (s *RedisStore) Get(ctx context.Context, id string) ([]byte, error) {
	if strings.TrimSpace(id) == "" {
		return nil, ErrInvalidArgs
	}
	raw, err := s.rdb.Get(ctx, docKey(id)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", id, err)
	}
	return raw, nil
}

// Set writes and publishes in one MULTI so subscribers never see a
// notification for a write that did not land.
func (s *RedisStore) Set(ctx context.Context, id string, doc []byte) error {
	if strings.TrimSpace(id) == "" || len(doc) == 0 {
		return ErrInvalidArgs
	}
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		s.write(ctx, pipe, id, doc)
		return nil
	})
	if err != nil {
		return fmt.Errorf("set %s: %w", id, err)
	}
	return nil
}

// Create claims the key with SETNX; only the winner publishes.
func (s *RedisStore) Create(ctx context.Context, id string, doc []byte) error {
	if strings.TrimSpace(id) == "" || len(doc) == 0 {
		return ErrInvalidArgs
	}
	ok, err := s.rdb.SetNX(ctx, docKey(id), doc, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("create %s: %w", id, err)
	}
	if !ok {
		return ErrExists
	}
	if err := s.rdb.Publish(ctx, changesKey(id), doc).Err(); err != nil {
		obslog.With(id).Warn("store_publish_error", zap.Error(err))
	}
	return nil
}

func (s *RedisStore) write(ctx context.Context, pipe redis.Pipeliner, id string, doc []byte) {
	pipe.Set(ctx, docKey(id), doc, s.ttl)
	pipe.Publish(ctx, changesKey(id), doc)
}

// Update patches one field with WATCH so a concurrent Set is never lost.
func (s *RedisStore) Update(ctx context.Context, id, field string, value []byte) error {
	if strings.TrimSpace(id) == "" || strings.TrimSpace(field) == "" || !json.Valid(value) {
		return ErrInvalidArgs
	}
	key := docKey(id)
	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if err == redis.Nil {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(raw, &fields); err != nil {
			return fmt.Errorf("stored document %s: %w", id, err)
		}
		fields[field] = json.RawMessage(value)
		doc, err := json.Marshal(fields)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			s.write(ctx, pipe, id, doc)
			return nil
		})
		return err
	}
	for i := 0; i < updateAttempts; i++ {
		err := s.rdb.Watch(ctx, txf, key)
		if err == nil {
			return nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if errors.Is(err, ErrNotFound) {
			return err
		}
		return fmt.Errorf("update %s.%s: %w", id, field, err)
	}
	return fmt.Errorf("update %s.%s: %w", id, field, ErrConflict)
}

// Subscribe returns once the server has confirmed the subscription, so a
// write issued after Subscribe returns is always delivered.
func (s *RedisStore) Subscribe(ctx context.Context, id string, fn ChangeFunc) (Subscription, error) {
	if strings.TrimSpace(id) == "" || fn == nil {
		return nil, ErrInvalidArgs
	}
	ps := s.rdb.Subscribe(ctx, changesKey(id))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", id, err)
	}
	loopCtx, cancel := context.WithCancel(context.Background())
	sub := &redisSub{id: id, ps: ps, cancel: cancel, done: make(chan struct{})}
	go sub.loop(loopCtx, fn)
	return sub, nil
}

type redisSub struct {
	id     string
	ps     *redis.PubSub
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
	err    error
}

func (r *redisSub) loop(ctx context.Context, fn ChangeFunc) {
	defer close(r.done)
	for {
		msg, err := r.ps.ReceiveMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, redis.ErrClosed) {
				return
			}
			obslog.With(r.id).Warn("store_feed_error", zap.Error(err))
			fn(nil, err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(feedBackoff):
			}
			continue
		}
		fn([]byte(msg.Payload), nil)
	}
}

func (r *redisSub) Unsubscribe() error {
	r.once.Do(func() {
		r.cancel()
		r.err = r.ps.Close()
		<-r.done
	})
	return r.err
}
