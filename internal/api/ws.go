package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"google.golang.org/grpc/codes"

	"github.com/victornm/arena/internal/arena"
	"github.com/victornm/arena/internal/broadcast"
	"github.com/victornm/arena/internal/domain"
	"github.com/victornm/arena/internal/errors"
	"github.com/victornm/arena/internal/telemetry"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

const (
	frameChat   = "chat"
	frameAnswer = "answer"
	frameLeave  = "leave"
	framePing   = "ping"
)

// Frame is a message sent by a websocket client.
type Frame struct {
	Type       string `json:"type"`
	Text       string `json:"text,omitempty"`
	QuestionID string `json:"question_id,omitempty"`
	Value      string `json:"value,omitempty"`
}

// conn is one participant's websocket connection to a room.
type conn struct {
	id          string
	api         *API
	ws          *websocket.Conn
	sub         *broadcast.Subscription
	participant domain.Participant
}

// serveWS joins the participant to the room for as long as the connection is open.
func (a *API) serveWS(c *gin.Context) {
	roomID := c.Param("room")

	p, err := a.participant(c)
	if err != nil {
		renderError(c, err)
		return
	}

	ws, err := a.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.WarnContext(c.Request.Context(), "api: websocket upgrade failed", "room", roomID, "error", err)
		return
	}

	ctx := context.WithoutCancel(c.Request.Context())
	cn := &conn{
		id:          uuid.NewString(),
		api:         a,
		ws:          ws,
		sub:         a.hub.Subscribe(roomID, p.ID),
		participant: p,
	}

	if _, err := a.arena.Join(ctx, arena.Join{RoomID: roomID, ParticipantID: p.ID, Handle: p.Handle}); err != nil {
		a.hub.Detach(cn.sub)
		cn.closeWith(websocket.ClosePolicyViolation, errors.Convert(err).Message)
		return
	}

	telemetry.Connections.Inc()
	slog.InfoContext(ctx, "api: websocket connected", "room", roomID, "participant", p.ID, "conn", cn.id)

	go cn.writePump()
	cn.readPump(ctx)
}

func (a *API) participant(c *gin.Context) (domain.Participant, error) {
	if a.jwt != nil {
		token := c.Query("token")
		if token == "" {
			return domain.Participant{}, errors.New(errors.CodeUnauthenticated, errors.WithMessagef("token is required"))
		}
		return a.jwt.Verify(token)
	}

	p, err := a.identity.Resolve(c.Request.Context(), c.Query("participant_id"))
	if err != nil {
		return domain.Participant{}, err
	}
	if h := c.Query("handle"); h != "" {
		p.Handle = h
	}

	return p, nil
}

// readPump applies the client's frames until the connection fails or the client leaves.
func (cn *conn) readPump(ctx context.Context) {
	defer cn.close(ctx)

	cn.ws.SetReadLimit(maxMessageSize)
	_ = cn.ws.SetReadDeadline(time.Now().Add(pongWait))
	cn.ws.SetPongHandler(func(string) error {
		return cn.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := cn.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.WarnContext(ctx, "api: websocket read failed", "conn", cn.id, "error", err)
			}
			return
		}

		var f Frame
		if err := json.Unmarshal(raw, &f); err != nil {
			cn.reply(ctx, arena.ErrorMessage(codes.InvalidArgument.String(), "malformed frame"))
			continue
		}

		if f.Type == frameLeave {
			return
		}

		cn.handle(ctx, f)
	}
}

func (cn *conn) handle(ctx context.Context, f Frame) {
	room, pid := cn.sub.RoomID, cn.participant.ID

	switch f.Type {
	case framePing:
		cn.reply(ctx, broadcast.Message{Type: broadcast.TypePong})

	case frameChat:
		if _, err := cn.api.arena.Chat(ctx, arena.Chat{RoomID: room, ParticipantID: pid, Text: f.Text}); err != nil {
			cn.replyError(ctx, err)
		}

	case frameAnswer:
		out, err := cn.api.arena.Answer(ctx, arena.Answer{RoomID: room, ParticipantID: pid, QuestionID: f.QuestionID, Value: f.Value})
		if err != nil {
			cn.replyError(ctx, err)
			return
		}
		if !out.Accepted {
			cn.reply(ctx, arena.ErrorMessage(codes.FailedPrecondition.String(), "answer rejected: "+string(out.Reason)))
		}

	default:
		cn.reply(ctx, arena.ErrorMessage(codes.InvalidArgument.String(), "unknown frame type: "+f.Type))
	}
}

func (cn *conn) reply(ctx context.Context, m broadcast.Message) {
	cn.api.hub.Send(ctx, cn.sub.RoomID, cn.participant.ID, m)
}

func (cn *conn) replyError(ctx context.Context, err error) {
	e := errors.Convert(err)
	cn.reply(ctx, arena.ErrorMessage(codes.Code(e.Code).String(), e.Message))
}

// writePump forwards room messages to the client and keeps the connection alive. It returns when
// the subscription is closed.
func (cn *conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = cn.ws.Close()
	}()

	for {
		select {
		case m, ok := <-cn.sub.C():
			_ = cn.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = cn.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}

			m.RoomID = cn.sub.RoomID
			if err := cn.ws.WriteJSON(m); err != nil {
				return
			}

		case <-ticker.C:
			_ = cn.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := cn.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// close leaves the room unless the participant has reconnected in the meantime.
func (cn *conn) close(ctx context.Context) {
	telemetry.Connections.Dec()

	if cn.api.hub.Detach(cn.sub) {
		if _, err := cn.api.arena.Leave(ctx, arena.Leave{RoomID: cn.sub.RoomID, ParticipantID: cn.participant.ID}); err != nil {
			slog.ErrorContext(ctx, "api: leave on disconnect failed", "conn", cn.id, "error", err)
		}
	}

	slog.InfoContext(ctx, "api: websocket disconnected", "room", cn.sub.RoomID, "participant", cn.participant.ID, "conn", cn.id)
}

func (cn *conn) closeWith(code int, text string) {
	_ = cn.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(writeWait))
	_ = cn.ws.Close()
}
