package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/exam-gateway/internal/attempt"
	"github.com/stemsi/exam-gateway/internal/credential"
	"github.com/stemsi/exam-gateway/internal/middleware"
	"github.com/stemsi/exam-gateway/internal/model"
	"github.com/stemsi/exam-gateway/internal/response"
	"github.com/stemsi/exam-gateway/internal/service"
	ws "github.com/stemsi/exam-gateway/internal/websocket"
)

// tickInterval is the per-question timer resolution.
const tickInterval = time.Second

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler streams a running attempt: it owns the one-second timer and
// accepts navigation, selection and finalize actions.
type WSHandler struct {
	attempts     *service.AttemptService
	finalization *service.FinalizationService
	log          zerolog.Logger
	upgrader     websocket.Upgrader
	tick         time.Duration
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(attempts *service.AttemptService, finalization *service.FinalizationService, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		attempts:     attempts,
		finalization: finalization,
		log:          log.With().Str("component", "ws_handler").Logger(),
		upgrader:     buildUpgrader(allowedOrigins),
		tick:         tickInterval,
	}
}

// streamConn serializes writes; gorilla allows a single concurrent writer.
type streamConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (s *streamConn) write(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ws.WriteTyped(s.conn, v)
}

func (s *streamConn) fail(err error) error {
	_, code := classify(err)
	s.mu.Lock()
	defer s.mu.Unlock()
	return ws.WriteError(s.conn, string(code), response.GetMessage(code))
}

// AttemptStream godoc
// WS /ws/v1/attempts/:handle/stream?token=...
// Only one stream per attempt may be open; a second tab gets 409.
func (h *WSHandler) AttemptStream(c *gin.Context) {
	sc := middleware.GetSession(c)
	if sc == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	handle, err := service.ParseHandle(c.Param("handle"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}
	sess, err := h.attempts.Get(handle, sc.UserID)
	if err != nil {
		failWith(c, err)
		return
	}

	release, err := sess.AttachViewer()
	if err != nil {
		failWith(c, err)
		return
	}
	defer release()

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	wsLog := h.log.With().
		Str("user_id", sc.UserID).
		Str("handle", handle.String()).
		Logger()
	wsLog.Info().Msg("Attempt stream opened")

	sconn := &streamConn{conn: conn}
	snap := sess.Snapshot()
	if err := sconn.write(ws.StateResponse{Event: ws.EventState, Snapshot: &snap}); err != nil {
		return
	}

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	requests := make(chan ws.Request)
	go h.readLoop(ctx, conn, requests, wsLog)

	h.serve(ctx, sconn, sc, sess, requests, wsLog)
	wsLog.Info().Msg("Attempt stream closed")
}

func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, out chan<- ws.Request, log zerolog.Logger) {
	defer close(out)
	for {
		var req ws.Request
		if err := ws.ReadJSON(conn, &req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Msg("Unexpected close")
			} else {
				log.Debug().Msg("Connection closed")
			}
			return
		}
		select {
		case out <- req:
		case <-ctx.Done():
			return
		}
	}
}

// serve runs until the client leaves or the attempt reaches a terminal state.
func (h *WSHandler) serve(ctx context.Context, conn *streamConn, sc *credential.SessionContext, sess *attempt.Session, requests <-chan ws.Request, log zerolog.Logger) {
	ticker := time.NewTicker(h.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case req, ok := <-requests:
			if !ok {
				return
			}
			if done := h.handleRequest(ctx, conn, sc, sess, req, log); done {
				return
			}

		case <-ticker.C:
			if sess.Status() != attempt.StatusInProgress {
				continue
			}
			qid, err := sess.Tick(1)
			if err != nil {
				continue
			}
			q, _ := sess.Snapshot().Find(qid)
			if err := conn.write(ws.TickResponse{
				Event:            ws.EventTick,
				QuestionID:       qid.String(),
				ElapsedSeconds:   q.ElapsedSeconds,
				RemainingSeconds: sess.RemainingSeconds(),
			}); err != nil {
				return
			}
			if sess.Expired() {
				log.Info().Msg("Time budget exhausted, finalizing")
				if done := h.finalize(ctx, conn, sc, sess, true, log); done {
					return
				}
			}
		}
	}
}

func (h *WSHandler) handleRequest(ctx context.Context, conn *streamConn, sc *credential.SessionContext, sess *attempt.Session, req ws.Request, log zerolog.Logger) bool {
	var err error
	switch req.Action {
	case ws.ActionPing:
		return conn.write(ws.PongResponse{Event: ws.EventPong}) != nil
	case ws.ActionSelect:
		err = h.attempts.SelectOption(sc, sess, model.ID(req.QID), req.Option)
	case ws.ActionAdvance:
		_, err = h.attempts.Advance(sess)
	case ws.ActionRetreat:
		_, err = h.attempts.Retreat(sess)
	case ws.ActionFinalize:
		return h.finalize(ctx, conn, sc, sess, false, log)
	default:
		log.Warn().Str("action", string(req.Action)).Msg("Unknown action")
		return conn.write(ws.ErrorResponse{
			Event: ws.EventError,
			Code:  string(response.ErrInvalidPayload),
			Error: "unknown action: " + string(req.Action),
		}) != nil
	}

	if err != nil {
		return conn.fail(err) != nil
	}
	snap := sess.Snapshot()
	return conn.write(ws.StateResponse{Event: ws.EventState, Snapshot: &snap}) != nil
}

// finalize reports whether the stream should end.
func (h *WSHandler) finalize(ctx context.Context, conn *streamConn, sc *credential.SessionContext, sess *attempt.Session, auto bool, log zerolog.Logger) bool {
	// A client that disconnects mid-finalize must not cut the remote call short.
	attemptID, err := h.finalization.Finalize(context.WithoutCancel(ctx), sc, sess, auto)
	if err != nil {
		if errors.Is(err, attempt.ErrAlreadyFinalized) && sess.Status() == attempt.StatusFinalized {
			attemptID = sess.FinalAttemptID()
		} else {
			log.Warn().Err(err).Bool("auto", auto).Msg("Finalize from stream failed")
			return conn.fail(err) != nil
		}
	}

	_ = conn.write(ws.FinalizedResponse{
		Event:     ws.EventFinalized,
		AttemptID: attemptID.String(),
		Auto:      auto,
	})
	return true
}
