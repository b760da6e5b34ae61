package api

import (
	"context"
	"encoding/json"

	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"

	"github.com/victornm/arena/internal/arena"
	"github.com/victornm/arena/internal/domain"
	"github.com/victornm/arena/internal/errors"
	"github.com/victornm/arena/internal/leaderboard"
)

// The arena service exchanges JSON messages. Clients select the codec with
// grpc.CallContentSubtype(CodecName).
const CodecName = "json"

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)   { return json.Marshal(v) }
func (jsonCodec) Unmarshal(b []byte, v any) error { return json.Unmarshal(b, v) }
func (jsonCodec) Name() string                    { return CodecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

type (
	StartRoundRequest struct {
		RoomID     string `json:"room_id"`
		Topic      string `json:"topic"`
		Difficulty string `json:"difficulty"`
		Count      int    `json:"count"`
	}

	StartRoundResponse struct {
		Round arena.RoundStartedData `json:"round"`
	}

	ForceResolveRequest struct {
		RoomID string `json:"room_id"`
	}

	ForceResolveResponse struct {
		Result domain.RoundResult `json:"result"`
	}

	GetLeaderboardRequest struct {
		Window string `json:"window"`
		Topic  string `json:"topic"`
		RoomID string `json:"room_id"`
	}

	GetLeaderboardResponse struct {
		Leaderboard domain.Leaderboard `json:"leaderboard"`
	}
)

// ArenaServiceServer is the gRPC surface of the arena, served as arena.v1.ArenaService.
type ArenaServiceServer interface {
	StartRound(ctx context.Context, req *StartRoundRequest) (*StartRoundResponse, error)
	ForceResolve(ctx context.Context, req *ForceResolveRequest) (*ForceResolveResponse, error)
	GetLeaderboard(ctx context.Context, req *GetLeaderboardRequest) (*GetLeaderboardResponse, error)
}

const serviceName = "arena.v1.ArenaService"

var arenaServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*ArenaServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "StartRound", Handler: unary("StartRound", ArenaServiceServer.StartRound)},
		{MethodName: "ForceResolve", Handler: unary("ForceResolve", ArenaServiceServer.ForceResolve)},
		{MethodName: "GetLeaderboard", Handler: unary("GetLeaderboard", ArenaServiceServer.GetLeaderboard)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "arena/v1/arena",
}

func unary[Req, Resp any](method string, call func(ArenaServiceServer, context.Context, *Req) (*Resp, error)) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	fullMethod := "/" + serviceName + "/" + method

	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}

		if interceptor == nil {
			return call(srv.(ArenaServiceServer), ctx, in)
		}

		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(ArenaServiceServer), ctx, req.(*Req))
		}

		return interceptor(ctx, in, info, handler)
	}
}

func (a *API) StartRound(ctx context.Context, req *StartRoundRequest) (*StartRoundResponse, error) {
	r, err := a.arena.StartRound(ctx, req.RoomID, arena.RoundSpec{
		Topic:      req.Topic,
		Difficulty: req.Difficulty,
		Count:      req.Count,
	})
	if err != nil {
		return nil, errors.Convert(err)
	}

	return &StartRoundResponse{Round: arena.RoundView(*r)}, nil
}

func (a *API) ForceResolve(ctx context.Context, req *ForceResolveRequest) (*ForceResolveResponse, error) {
	res, err := a.arena.ForceResolve(ctx, req.RoomID)
	if err != nil {
		return nil, errors.Convert(err)
	}

	return &ForceResolveResponse{Result: res}, nil
}

func (a *API) GetLeaderboard(ctx context.Context, req *GetLeaderboardRequest) (*GetLeaderboardResponse, error) {
	w, err := domain.ParseWindow(req.Window)
	if err != nil {
		return nil, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("%s", err))
	}

	l, err := a.ls.GetLeaderboard(ctx, leaderboard.GetLeaderboardRequest{
		Window: w,
		Topic:  req.Topic,
		RoomID: req.RoomID,
	})
	if err != nil {
		return nil, errors.Convert(err)
	}

	return &GetLeaderboardResponse{Leaderboard: *l}, nil
}
