// Package syncer keeps a local turn.Machine and the shared document in
// the store consistent: local plies are written out in commit order and
// remote snapshots are applied only when their sequence number is newer.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Leonid-DD/Chess2/internal/obslog"
	"github.com/Leonid-DD/Chess2/internal/snapshot"
	"github.com/Leonid-DD/Chess2/internal/store"
	"github.com/Leonid-DD/Chess2/internal/turn"
)

const defaultTimeout = 5 * time.Second

// Errors reported through the error handler. Persist and feed failures
// are I/O errors; ErrBadSnapshot marks a notification that was ignored.
var (
	ErrPersist     = errf("persist failed")
	ErrFeed        = errf("change feed failed")
	ErrBadSnapshot = errf("remote snapshot ignored")
	ErrClosed      = errf("coordinator closed")
)

type staticErr string

func (e staticErr) Error() string { return string(e) }
func errf(s string) error         { return staticErr(s) }

// Journal records plies once they are persisted.
type Journal interface {
	RecordPly(ctx context.Context, sessionID string, c turn.Committed) error
}

type Option func(*Coordinator)

// WithErrorHandler receives every reported failure and warning.
func WithErrorHandler(fn func(error)) Option { return func(c *Coordinator) { c.onError = fn } }

// WithJournal records every persisted ply.
func WithJournal(j Journal) Option { return func(c *Coordinator) { c.journal = j } }

// WithTimeout bounds each store call.
func WithTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithPersistHook is called after every persist attempt of a local ply.
func WithPersistHook(fn func(seq uint64, err error)) Option {
	return func(c *Coordinator) { c.onPersist = fn }
}

// WithApplyHook is called after every remote snapshot handed to the machine.
func WithApplyHook(fn func(seq uint64, res turn.ApplyResult)) Option {
	return func(c *Coordinator) { c.onApply = fn }
}

// WithWriterID overrides the random writer id stamped on documents.
func WithWriterID(id string) Option { return func(c *Coordinator) { c.writer = id } }

// Coordinator owns the session's subscription and its ordered writer.
type Coordinator struct {
	store   store.Store
	session string
	machine *turn.Machine
	writer  string
	timeout time.Duration

	journal   Journal
	onError   func(error)
	onPersist func(uint64, error)
	onApply   func(uint64, turn.ApplyResult)
	log       *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	subMu sync.Mutex
	sub   store.Subscription

	mu          sync.Mutex
	white       snapshot.Player
	black       snapshot.Player
	queue       []turn.Committed
	unjournaled []turn.Committed
	latest      *turn.Committed
	acked       uint64
	closed      bool
	started     bool
	running     bool

	wake chan struct{}
	done chan struct{}
}

// New wires a coordinator to m and installs itself as m's sink.
func New(st store.Store, sessionID string, white, black snapshot.Player, m *turn.Machine, opts ...Option) *Coordinator {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		store:   st,
		session: sessionID,
		machine: m,
		writer:  uuid.NewString(),
		timeout: defaultTimeout,
		ctx:     ctx,
		cancel:  cancel,
		white:   white,
		black:   black,
		acked:   m.Seq(),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		log:     obslog.With(sessionID),
	}
	for _, o := range opts {
		o(c)
	}
	m.SetSink(c.enqueue)
	return c
}

// Writer is the id stamped on documents this client writes.
func (c *Coordinator) Writer() string { return c.writer }

// Start subscribes, applies the current stored document and starts the
// writer. On failure no feed is left open and Start may be called again.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.started {
		c.mu.Unlock()
		return nil
	}
	c.started = true
	c.mu.Unlock()

	if err := c.catchUp(ctx); err != nil {
		_ = c.dropFeed()
		c.mu.Lock()
		c.started = false
		c.mu.Unlock()
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = c.dropFeed()
		return ErrClosed
	}
	c.running = true
	c.mu.Unlock()
	go c.run()
	c.log.Info("sync_start",
		zap.String("writer", c.writer),
		zap.Uint64("seq", c.machine.Seq()),
	)
	return nil
}

func (c *Coordinator) catchUp(ctx context.Context) error {
	if err := c.Resubscribe(ctx); err != nil {
		return err
	}
	raw, err := c.store.Get(ctx, c.session)
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		err = fmt.Errorf("%w: catch-up read: %w", ErrFeed, err)
		c.report(err)
		return err
	default:
		c.handle(raw, nil)
	}
	return nil
}

func (c *Coordinator) dropFeed() error {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	if c.sub == nil {
		return nil
	}
	err := c.sub.Unsubscribe()
	c.sub = nil
	return err
}

// Resubscribe drops the current change feed, if any, and opens a new one.
// At most one feed is open at any time.
func (c *Coordinator) Resubscribe(ctx context.Context) error {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	return c.resubscribeLocked(ctx)
}

func (c *Coordinator) resubscribeLocked(ctx context.Context) error {
	if c.sub != nil {
		if err := c.sub.Unsubscribe(); err != nil {
			c.log.Warn("sync_unsubscribe_error", zap.Error(err))
		}
		c.sub = nil
	}
	sub, err := c.store.Subscribe(ctx, c.session, c.handle)
	if err != nil {
		err = fmt.Errorf("%w: subscribe: %w", ErrFeed, err)
		c.report(err)
		return err
	}
	c.sub = sub
	return nil
}

func (c *Coordinator) ensureSubscribed() {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	if c.sub != nil {
		return
	}
	ctx, cancel := context.WithTimeout(c.ctx, c.timeout)
	defer cancel()
	_ = c.resubscribeLocked(ctx)
}

// handle is the change feed callback.
func (c *Coordinator) handle(raw []byte, ferr error) {
	if ferr != nil {
		c.report(fmt.Errorf("%w: %w", ErrFeed, ferr))
		return
	}
	doc, err := snapshot.Decode(raw)
	if err == nil && doc.SessionID != "" && doc.SessionID != c.session {
		err = fmt.Errorf("%w: session %q", snapshot.ErrMalformed, doc.SessionID)
	}
	var st turn.State
	if err == nil {
		st, err = doc.State()
	}
	if err == nil {
		if kerr := st.Board.HasKings(); kerr != nil {
			err = fmt.Errorf("%w: %w", snapshot.ErrMalformed, kerr)
		}
	}
	if err != nil {
		c.log.Warn("sync_snapshot_ignored", zap.Error(err))
		c.report(fmt.Errorf("%w: %w", ErrBadSnapshot, err))
		return
	}

	c.mu.Lock()
	c.white, c.black = *doc.WhitePlayer, *doc.BlackPlayer
	c.mu.Unlock()

	res := c.machine.ApplyRemote(st)
	if res == turn.Applied {
		c.log.Info("sync_remote_applied",
			zap.Uint64("seq", st.Seq),
			zap.String("writer", doc.Writer),
		)
	} else {
		c.log.Debug("sync_remote_skipped",
			zap.Uint64("seq", doc.Seq),
			zap.Stringer("result", res),
		)
	}
	if c.onApply != nil {
		c.onApply(doc.Seq, res)
	}
}

// enqueue is the machine's sink. It only appends; the writer goroutine
// does the I/O so Commit returns immediately.
func (c *Coordinator) enqueue(cm turn.Committed) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.report(fmt.Errorf("%w (seq %d): %w", ErrPersist, cm.Seq, ErrClosed))
		return
	}
	c.queue = append(c.queue, cm)
	latest := cm
	c.latest = &latest
	c.mu.Unlock()
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *Coordinator) run() {
	defer close(c.done)
	for {
		c.mu.Lock()
		if len(c.queue) == 0 {
			closed := c.closed
			c.mu.Unlock()
			if closed {
				return
			}
			<-c.wake
			continue
		}
		next := c.queue[0]
		c.queue = c.queue[1:]
		c.mu.Unlock()
		_ = c.persist(next)
	}
}

// persist overwrites the remote document with cm's state.
func (c *Coordinator) persist(cm turn.Committed) error {
	c.mu.Lock()
	doc := snapshot.New(c.session, c.white, c.black, cm.State, c.writer)
	c.mu.Unlock()

	raw, err := snapshot.Encode(doc)
	if err == nil {
		ctx, cancel := context.WithTimeout(c.ctx, c.timeout)
		err = c.store.Set(ctx, c.session, raw)
		cancel()
	}
	if c.onPersist != nil {
		defer c.onPersist(cm.Seq, err)
	}
	if err != nil {
		c.mu.Lock()
		c.unjournaled = append(c.unjournaled, cm)
		c.mu.Unlock()
		c.log.Error("sync_persist_error",
			zap.Uint64("seq", cm.Seq),
			zap.Error(err),
		)
		err = fmt.Errorf("%w (seq %d): %w", ErrPersist, cm.Seq, err)
		c.report(err)
		return err
	}

	c.mu.Lock()
	if cm.Seq > c.acked {
		c.acked = cm.Seq
	}
	plies := append(c.unjournaled, cm)
	c.unjournaled = nil
	c.mu.Unlock()

	c.log.Debug("sync_persisted",
		zap.Uint64("seq", cm.Seq),
		zap.String("move", cm.Move.From.String()+"->"+cm.Move.To.String()),
	)
	c.record(plies)
	c.ensureSubscribed()
	return nil
}

func (c *Coordinator) record(plies []turn.Committed) {
	if c.journal == nil {
		return
	}
	for _, p := range plies {
		ctx, cancel := context.WithTimeout(c.ctx, c.timeout)
		err := c.journal.RecordPly(ctx, c.session, p)
		cancel()
		if err != nil {
			c.log.Warn("sync_journal_error",
				zap.Uint64("seq", p.Seq),
				zap.Error(err),
			)
		}
	}
}

// Pending reports whether the latest local ply has not been persisted.
func (c *Coordinator) Pending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.latest != nil && c.latest.Seq > c.acked
}

// Retry persists the latest local ply again after a reported failure.
// It is a no-op when nothing is pending.
func (c *Coordinator) Retry(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.latest == nil || c.latest.Seq <= c.acked {
		c.mu.Unlock()
		return nil
	}
	cm := *c.latest
	if n := len(c.unjournaled); n > 0 && c.unjournaled[n-1].Seq == cm.Seq {
		c.unjournaled = c.unjournaled[:n-1]
	}
	c.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.persist(cm)
}

// Close flushes queued plies, stops the writer and drops the change feed.
// It never blocks on a writer that was not started.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	running := c.running
	c.mu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
	if running {
		<-c.done
	}
	c.cancel()

	err := c.dropFeed()
	c.log.Info("sync_close")
	return err
}

func (c *Coordinator) report(err error) {
	if c.onError != nil {
		c.onError(err)
	}
}
