package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/Leonid-DD/Chess2/internal/archive"
	"github.com/Leonid-DD/Chess2/internal/bridge"
	appcfg "github.com/Leonid-DD/Chess2/internal/config"
	"github.com/Leonid-DD/Chess2/internal/lobby"
	"github.com/Leonid-DD/Chess2/internal/movegen"
	"github.com/Leonid-DD/Chess2/internal/obslog"
	"github.com/Leonid-DD/Chess2/internal/rules"
	"github.com/Leonid-DD/Chess2/internal/session"
	"github.com/Leonid-DD/Chess2/internal/snapshot"
	"github.com/Leonid-DD/Chess2/internal/store"
	"github.com/Leonid-DD/Chess2/internal/syncer"
)

const pollInterval = time.Second

func main() {
	if err := obslog.InitFromEnv(); err != nil {
		log.Printf("logger init error: %v", err)
	}
	logger := obslog.L()
	defer func() { _ = logger.Sync() }()

	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	// Shared store (Redis-backed)
	dctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	rdb, err := store.Dial(dctx, cfg.RedisURL)
	cancel()
	if err != nil {
		log.Fatalf("redis init error: %v", err)
	}
	defer func() { _ = rdb.Close() }()
	st := store.NewRedisStore(rdb, store.WithTTL(cfg.SessionTTL))

	table, err := rules.Load(cfg.RulesDir)
	if err != nil {
		log.Fatalf("rules init error: %v", err)
	}
	gen := movegen.New(table, movegen.WithSelfCheckFilter(cfg.SelfCheckFilter))
	mgr := session.NewManager(st, gen)

	// Optional ply journal
	var repo *archive.Repository
	if cfg.DatabaseURL != "" {
		repo, err = archive.NewRepository(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("archive init error: %v", err)
		}
		defer func() { _ = repo.Close() }()
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err = repo.EnsureSchema(sctx)
		cancel()
		if err != nil {
			log.Fatalf("archive schema error: %v", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	doc, err := resolveSession(ctx, cfg, mgr, lobby.NewQueue(rdb))
	if err != nil {
		logger.Error("session_resolve_error", zap.Error(err))
		os.Exit(1)
	}

	sessLog := obslog.With(doc.SessionID)
	opts := []syncer.Option{
		syncer.WithTimeout(cfg.PersistTimeout),
		syncer.WithErrorHandler(func(err error) {
			sessLog.Warn("sync_error", zap.Error(err))
		}),
	}
	if repo != nil {
		opts = append(opts, syncer.WithJournal(repo))
	}
	sess, err := mgr.Open(ctx, doc, cfg.PlayerID, opts...)
	if err != nil {
		sessLog.Error("session_open_error", zap.Error(err))
		os.Exit(1)
	}
	sessLog.Info("session_open",
		zap.String("player_id", sess.Self),
		zap.String("color", string(sess.Color)),
	)

	srv := bridge.NewServer(sess, bridge.WithRetryTimeout(cfg.PersistTimeout))
	go func() {
		logger.Info("bridge_listen", zap.String("addr", cfg.BridgeAddr))
		if err := srv.ListenAndServe(cfg.BridgeAddr); err != nil {
			logger.Error("bridge_error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = srv.Shutdown(shutdownCtx)
	if err := sess.Close(); err != nil {
		logger.Warn("session_close_error", zap.Error(err))
	}
	if repo != nil {
		logTranscript(shutdownCtx, repo, sess.ID, sessLog)
	}
}

// logTranscript writes the journaled game as one line once the writer has
// flushed.
func logTranscript(ctx context.Context, repo *archive.Repository, sessionID string, l *zap.Logger) {
	rows, err := repo.Plies(ctx, sessionID)
	if err != nil {
		l.Warn("session_transcript_error", zap.Error(err))
		return
	}
	l.Info("session_transcript",
		zap.Int("plies", len(rows)),
		zap.String("moves", archive.Transcript(rows)),
	)
}

// resolveSession produces the document this process plays. With an
// opponent configured, the player leading the session id initializes and
// the other waits for the document. Without one, the lobby pairs players
// of the same mode and whoever completes the pairing initializes.
func resolveSession(ctx context.Context, cfg *appcfg.AppConfig, mgr *session.Manager, q *lobby.Queue) (*snapshot.Document, error) {
	self := snapshot.Player{ID: cfg.PlayerID, Searching: true, Mode: cfg.Mode}
	if cfg.OpponentID != "" {
		if cfg.Initializer || session.Initializer(cfg.PlayerID, cfg.OpponentID) == cfg.PlayerID {
			opp := snapshot.Player{ID: cfg.OpponentID, Searching: true, Mode: cfg.Mode}
			doc, err := mgr.Create(ctx, self, opp)
			if !errors.Is(err, session.ErrExists) {
				return doc, err
			}
		}
		return waitAndJoin(ctx, mgr, cfg.PlayerID, cfg.OpponentID, cfg.MatchWait)
	}

	if err := q.Enqueue(ctx, self); err != nil {
		return nil, err
	}
	wctx, cancel := context.WithTimeout(ctx, cfg.MatchWait)
	defer cancel()
	t := time.NewTicker(pollInterval)
	defer t.Stop()
	for {
		me, opp, err := q.Pair(wctx, cfg.PlayerID)
		switch {
		case err == nil && opp != nil:
			return mgr.Create(ctx, *me, *opp)
		case errors.Is(err, lobby.ErrNotQueued):
			// someone else paired us
			partner, merr := q.Matched(wctx, cfg.PlayerID)
			if merr != nil {
				return nil, merr
			}
			if partner == "" {
				return nil, err
			}
			return waitAndJoin(ctx, mgr, cfg.PlayerID, partner, cfg.MatchWait)
		case err != nil && !errors.Is(err, lobby.ErrContention):
			return nil, err
		}
		select {
		case <-wctx.Done():
			_ = q.Cancel(context.Background(), cfg.PlayerID)
			return nil, fmt.Errorf("no opponent found: %w", wctx.Err())
		case <-t.C:
		}
	}
}

func waitAndJoin(ctx context.Context, mgr *session.Manager, selfID, opponentID string, wait time.Duration) (*snapshot.Document, error) {
	wctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	t := time.NewTicker(pollInterval)
	defer t.Stop()
	for {
		doc, err := mgr.Join(wctx, selfID, opponentID)
		if !errors.Is(err, store.ErrNotFound) {
			return doc, err
		}
		select {
		case <-wctx.Done():
			return nil, fmt.Errorf("session %s never initialized: %w", session.CreateSessionID(selfID, opponentID), wctx.Err())
		case <-t.C:
		}
	}
}
