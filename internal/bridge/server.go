// Package bridge exposes one open session to the local rendering front
// end over HTTP. The front end polls /state and forwards board clicks.
package bridge

import (
	"context"
	"encoding/json"
	"net"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/Leonid-DD/Chess2/internal/board"
	"github.com/Leonid-DD/Chess2/internal/obslog"
	"github.com/Leonid-DD/Chess2/internal/session"
	"github.com/Leonid-DD/Chess2/internal/turn"
	"github.com/Leonid-DD/Chess2/pkg/chessdto"
)

const (
	pathState    = "/state"
	pathClick    = "/click"
	pathSelect   = "/select"
	pathCommit   = "/commit"
	pathDeselect = "/deselect"
	pathRetry    = "/retry"
	pathHealth   = "/healthz"
)

type Server struct {
	sess *session.Session
	srv  *fasthttp.Server
	log  *zap.Logger

	retryTimeout time.Duration
}

type ServerOption func(*Server)

// WithRetryTimeout bounds a /retry call.
func WithRetryTimeout(d time.Duration) ServerOption {
	return func(s *Server) {
		if d > 0 {
			s.retryTimeout = d
		}
	}
}

func NewServer(sess *session.Session, opts ...ServerOption) *Server {
	s := &Server{sess: sess, log: obslog.With(sess.ID), retryTimeout: 5 * time.Second}
	for _, opt := range opts {
		opt(s)
	}
	s.srv = &fasthttp.Server{
		Handler:      s.Handler,
		Name:         "chess2-bridge",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) ListenAndServe(addr string) error { return s.srv.ListenAndServe(addr) }

func (s *Server) Serve(ln net.Listener) error { return s.srv.Serve(ln) }

func (s *Server) Shutdown(ctx context.Context) error { return s.srv.ShutdownWithContext(ctx) }

// Handler routes a request. It is exported so tests can drive it with a
// bare RequestCtx.
func (s *Server) Handler(ctx *fasthttp.RequestCtx) {
	path := string(ctx.Path())
	switch {
	case path == pathHealth:
		ctx.SetStatusCode(fasthttp.StatusNoContent)
	case path == pathState && ctx.IsGet():
		s.handleState(ctx)
	case path == pathClick && ctx.IsPost():
		s.handleClick(ctx, clickAny)
	case path == pathSelect && ctx.IsPost():
		s.handleClick(ctx, clickSelect)
	case path == pathCommit && ctx.IsPost():
		s.handleClick(ctx, clickCommit)
	case path == pathDeselect && ctx.IsPost():
		s.handleDeselect(ctx)
	case path == pathRetry && ctx.IsPost():
		s.handleRetry(ctx)
	case path == pathState || path == pathClick || path == pathSelect ||
		path == pathCommit || path == pathDeselect || path == pathRetry:
		writeError(ctx, fasthttp.StatusMethodNotAllowed, "method_not_allowed", "method not allowed", false)
	default:
		writeError(ctx, fasthttp.StatusNotFound, "not_found", "no such endpoint", false)
	}
}

func (s *Server) handleState(ctx *fasthttp.RequestCtx) {
	player := string(ctx.QueryArgs().Peek("player"))
	view, ok := s.View(player)
	if !ok {
		writeError(ctx, fasthttp.StatusForbidden, "not_participant", "player is not part of this session", false)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, view)
}

type clickKind int

const (
	clickAny clickKind = iota
	clickSelect
	clickCommit
)

func (s *Server) handleClick(ctx *fasthttp.RequestCtx, kind clickKind) {
	var req chessdto.ClickRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		writeError(ctx, fasthttp.StatusBadRequest, "bad_request", "invalid JSON body", false)
		return
	}
	if _, ok := s.sess.Machine.ColorOf(req.Player); !ok {
		writeError(ctx, fasthttp.StatusForbidden, "not_participant", "player is not part of this session", false)
		return
	}
	sq := board.Sq(req.Row, req.Col)
	if !sq.InBounds() {
		writeError(ctx, fasthttp.StatusBadRequest, "out_of_bounds", "square is off the board", false)
		return
	}

	m := s.sess.Machine
	var out turn.Outcome
	switch kind {
	case clickSelect:
		out = turn.Ignored
		if m.Select(req.Player, sq) {
			out = turn.Selected
		}
	case clickCommit:
		out = turn.Rejected
		if m.Commit(req.Player, sq) {
			out = turn.Moved
		}
	default:
		out = m.Click(req.Player, sq)
	}
	s.log.Debug("bridge_click",
		zap.String("player_id", req.Player),
		zap.String("square", sq.String()),
		zap.String("outcome", out.String()),
	)
	view, _ := s.View(req.Player)
	writeJSON(ctx, fasthttp.StatusOK, chessdto.ClickResponse{Outcome: out.String(), View: view})
}

func (s *Server) handleDeselect(ctx *fasthttp.RequestCtx) {
	var req chessdto.ClickRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		writeError(ctx, fasthttp.StatusBadRequest, "bad_request", "invalid JSON body", false)
		return
	}
	if _, ok := s.sess.Machine.ColorOf(req.Player); !ok {
		writeError(ctx, fasthttp.StatusForbidden, "not_participant", "player is not part of this session", false)
		return
	}
	s.sess.Machine.Deselect()
	view, _ := s.View(req.Player)
	writeJSON(ctx, fasthttp.StatusOK, view)
}

func (s *Server) handleRetry(ctx *fasthttp.RequestCtx) {
	rctx, cancel := context.WithTimeout(context.Background(), s.retryTimeout)
	defer cancel()
	if err := s.sess.Coordinator.Retry(rctx); err != nil {
		writeError(ctx, fasthttp.StatusServiceUnavailable, "persist_failed", err.Error(), true)
		return
	}
	ctx.SetStatusCode(fasthttp.StatusNoContent)
}

// View renders the session as player sees it. ok is false for strangers.
func (s *Server) View(player string) (*chessdto.SessionView, bool) {
	m := s.sess.Machine
	color, ok := m.ColorOf(player)
	if !ok {
		return nil, false
	}
	st := m.Snapshot()
	v := &chessdto.SessionView{
		SessionID:   s.sess.ID,
		Player:      player,
		Color:       string(color),
		Seq:         st.Seq,
		WhiteToMove: st.WhiteToMove,
		YourTurn:    st.WhiteToMove == (color == board.White),
		Board:       make([]chessdto.PieceView, 0, 32),
		Highlighted: []chessdto.SquareView{},
		InCheck:     m.InCheck(color),
		Pending:     s.sess.Coordinator.Pending(),
	}
	for _, p := range st.Board.Pieces() {
		v.Board = append(v.Board, chessdto.PieceView{
			Row:      p.Row,
			Col:      p.Col,
			Color:    string(p.Color),
			Kind:     p.Kind.String(),
			HasMoved: p.FirstMove,
		})
	}
	if v.YourTurn {
		if sq, ok := m.Selection(); ok {
			v.Selected = &chessdto.SquareView{Row: sq.Row, Col: sq.Col}
			for _, h := range m.Highlighted() {
				v.Highlighted = append(v.Highlighted, chessdto.SquareView{Row: h.Row, Col: h.Col})
			}
		}
	}
	if st.LastMove != nil {
		v.LastMove = &chessdto.MoveView{
			From: chessdto.SquareView{Row: st.LastMove.From.Row, Col: st.LastMove.From.Col},
			To:   chessdto.SquareView{Row: st.LastMove.To.Row, Col: st.LastMove.To.Col},
		}
	}
	return v, true
}

func writeJSON(ctx *fasthttp.RequestCtx, status int, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		obslog.L().Error("bridge_encode_error", zap.Error(err))
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
		return
	}
	ctx.SetContentType("application/json")
	ctx.SetStatusCode(status)
	ctx.SetBody(b)
}

func writeError(ctx *fasthttp.RequestCtx, status int, code, msg string, retryable bool) {
	writeJSON(ctx, status, chessdto.DomainError{Code: code, Message: msg, Retryable: retryable})
}
