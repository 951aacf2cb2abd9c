package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"

	"github.com/arkmoor/arkmoor/internal/auth"
	"github.com/arkmoor/arkmoor/internal/broker"
	"github.com/arkmoor/arkmoor/internal/command"
	"github.com/arkmoor/arkmoor/internal/connection"
	"github.com/arkmoor/arkmoor/internal/game"
)

// sendQueueSize bounds the per-session outbound queue. A client that cannot
// keep up loses envelopes rather than stalling the publisher.
const sendQueueSize = 64

// wsTransport adapts a websocket connection to the session transport
// contract. Send never blocks: envelopes go through a bounded queue drained
// by a single writer goroutine.
type wsTransport struct {
	conn *websocket.Conn
	send chan broker.Envelope
	done chan struct{}
	once sync.Once
}

func newWSTransport(ctx context.Context, conn *websocket.Conn) *wsTransport {
	t := &wsTransport{
		conn: conn,
		send: make(chan broker.Envelope, sendQueueSize),
		done: make(chan struct{}),
	}
	go t.writeLoop(ctx)
	return t
}

func (t *wsTransport) Send(env broker.Envelope) error {
	select {
	case <-t.done:
		return errors.New("api: transport closed")
	case t.send <- env:
		return nil
	default:
		return errors.New("api: send queue full")
	}
}

func (t *wsTransport) Close(reason string) error {
	var err error
	t.once.Do(func() {
		close(t.done)
		err = t.conn.Close(websocket.StatusNormalClosure, reason)
	})
	return err
}

func (t *wsTransport) writeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.done:
			return
		case env := <-t.send:
			data, err := json.Marshal(env)
			if err != nil {
				slog.Error("api: marshal envelope", "subject", env.Subject, "err", err)
				continue
			}
			if err := t.conn.Write(ctx, websocket.MessageText, data); err != nil {
				slog.Debug("api: websocket write failed", "err", err)
				return
			}
		}
	}
}

// handleWS upgrades the connection, authenticates the session token, and
// runs the per-player read loop. The token arrives as a query parameter or
// a bearer header; path and identity come from the token, never the URL.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = bearerToken(r)
	}
	source := remoteHost(r)

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Debug("api: websocket accept failed", "err", err)
		return
	}

	ctx := r.Context()
	transport := newWSTransport(ctx, conn)

	res, err := s.game.Login(ctx, source, token, transport)
	if err != nil {
		status, reason := loginFailure(err)
		_ = conn.Close(status, reason)
		return
	}

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			reason := connection.ReasonTransient
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				reason = connection.ReasonLogout
			}
			// The request context may already be done; the disconnect still
			// has to land.
			s.game.HandleClose(context.WithoutCancel(ctx), res.SessionID, reason)
			return
		}

		out, err := s.game.HandleCommand(ctx, res.SessionID, string(data))
		env := commandEnvelope(out, err)
		if sendErr := transport.Send(env); sendErr != nil {
			slog.Debug("api: command result send failed",
				"session_id", res.SessionID, "err", sendErr)
		}
	}
}

// commandEnvelope wraps a command outcome for the client. Errors surface as
// a short message; internals never leak.
func commandEnvelope(res command.Result, err error) broker.Envelope {
	payload := map[string]any{}
	if err != nil {
		payload["error"] = err.Error()
	} else {
		payload["text"] = res.Text
		if len(res.Data) > 0 {
			payload["data"] = res.Data
		}
	}
	env, mErr := broker.NewEnvelope(broker.KindCommand, payload)
	if mErr != nil {
		env, _ = broker.NewEnvelope(broker.KindCommand, map[string]string{"error": "internal error"})
	}
	return env
}

// loginFailure maps a login error to a websocket close status and reason.
func loginFailure(err error) (websocket.StatusCode, string) {
	switch {
	case errors.Is(err, auth.ErrRateLimited), errors.Is(err, connection.ErrRateLimited):
		return websocket.StatusPolicyViolation, "rate_limited"
	case errors.Is(err, game.ErrNoCharacter):
		return websocket.StatusPolicyViolation, "no_character"
	default:
		return websocket.StatusPolicyViolation, "unauthenticated"
	}
}
