//go:build integration_test

package demo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/victornm/arena/internal/api"
	"github.com/victornm/arena/internal/arena"
	"github.com/victornm/arena/internal/broadcast"
	"github.com/victornm/arena/internal/domain"
)

const (
	httpAddr = "localhost:8080"
	grpcAddr = "localhost:9090"
)

type message struct {
	Type   broadcast.Type  `json:"type"`
	RoomID string          `json:"room_id"`
	Data   json.RawMessage `json:"data"`
}

// TestArena plays one round in a fresh room against a running server.
func TestArena(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var (
		room  = "demo-" + uuid.NewString()[:8]
		users = []string{"u1", "u2", "u3"}
		conns = make(map[string]*websocket.Conn)
	)

	for _, u := range users {
		conns[u] = dial(t, room, u)
	}

	var round api.StartRoundResponse
	invoke(ctx, t, "StartRound", &api.StartRoundRequest{RoomID: room, Count: 3}, &round)
	t.Logf("Round %d started with %d questions", round.Round.Sequence, len(round.Round.Questions))

	var eg errgroup.Group
	for _, u := range users {
		ws := conns[u]
		eg.Go(func() error {
			for _, q := range round.Round.Questions {
				f := api.Frame{Type: "answer", QuestionID: q.QuestionID, Value: answer(q)}
				if err := ws.WriteJSON(f); err != nil {
					return fmt.Errorf("user %q answer: %w", u, err)
				}
			}
			return nil
		})
	}
	require.NoError(t, eg.Wait())

	for _, u := range users {
		m := readUntil(t, conns[u], broadcast.TypeRoundResult)

		var data arena.RoundResultData
		require.NoError(t, json.Unmarshal(m.Data, &data))
		t.Logf("%s sees result: %v", u, data.Result.Scores)
	}

	var lb api.GetLeaderboardResponse
	invoke(ctx, t, "GetLeaderboard", &api.GetLeaderboardRequest{Window: string(domain.WindowDay), RoomID: room}, &lb)
	t.Logf("leaderboard:\n%s", formatLeaderboard(lb.Leaderboard))
}

func answer(q arena.QuestionView) string {
	if len(q.Options) > 0 {
		return q.Options[0]
	}
	return "A"
}

func dial(t *testing.T, room, participant string) *websocket.Conn {
	u := url.URL{
		Scheme:   "ws",
		Host:     httpAddr,
		Path:     "/arena/ws/" + room,
		RawQuery: url.Values{"participant_id": {participant}}.Encode(),
	}

	ws, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })

	return ws
}

func readUntil(t *testing.T, ws *websocket.Conn, typ broadcast.Type) message {
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(10*time.Second)))
	for {
		var m message
		require.NoError(t, ws.ReadJSON(&m))
		if m.Type == typ {
			return m
		}
	}
}

func invoke(ctx context.Context, t *testing.T, method string, req, resp any) {
	conn, err := grpc.NewClient(grpcAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()

	err = conn.Invoke(ctx, "/arena.v1.ArenaService/"+method, req, resp, grpc.CallContentSubtype(api.CodecName))
	require.NoError(t, err)
}

func formatLeaderboard(l domain.Leaderboard) string {
	var s string
	for _, e := range l.Entries {
		s += fmt.Sprintf("%d. %s: %d\n", e.Rank, e.ParticipantID, e.Score)
	}
	return s
}
