package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"google.golang.org/grpc"

	"github.com/victornm/arena/internal/arena"
	"github.com/victornm/arena/internal/broadcast"
	"github.com/victornm/arena/internal/domain"
	"github.com/victornm/arena/internal/event"
	"github.com/victornm/arena/internal/identity"
	"github.com/victornm/arena/internal/leaderboard"
	"github.com/victornm/arena/internal/question"
)

type Config struct {
	HTTP     *gin.Engine
	GRPC     *grpc.Server
	EventBus *event.Bus
	Arena    *arena.Coordinator
	// Hub holds the subscriptions of the connections served by this instance.
	Hub *broadcast.Hub
	// Broadcast publishes to every instance. It defaults to Hub.
	Broadcast   broadcast.Publisher
	Leaderboard *leaderboard.Service
	Questions   question.Source
	Identity    identity.Resolver
	// JWT is optional. When set websocket clients must present a token.
	JWT *identity.JWT
}

type API struct {
	arena     *arena.Coordinator
	hub       *broadcast.Hub
	broadcast broadcast.Publisher
	ls        *leaderboard.Service
	questions question.Source
	identity  identity.Resolver
	jwt       *identity.JWT
	upgrader  websocket.Upgrader
}

func New(c Config) *API {
	if c.Broadcast == nil {
		c.Broadcast = c.Hub
	}
	if c.Identity == nil {
		c.Identity = identity.Passthrough{}
	}

	a := &API{
		arena:     c.Arena,
		hub:       c.Hub,
		broadcast: c.Broadcast,
		ls:        c.Leaderboard,
		questions: c.Questions,
		identity:  c.Identity,
		jwt:       c.JWT,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}

	// HTTP APIs
	if c.HTTP != nil {
		a.routes(c.HTTP)
	}

	// gRPC APIs
	if c.GRPC != nil {
		c.GRPC.RegisterService(&arenaServiceDesc, a)
	}

	// Register event handlers
	c.EventBus.Subscribe(domain.EventNameStandingsUpdated, func(ctx context.Context, e event.Event) error {
		return a.PublishStandingsUpdated(ctx, e.(domain.EventStandingsUpdated))
	})

	return a
}

func (a *API) routes(e *gin.Engine) {
	g := e.Group("/arena")

	g.GET("/ws/:room", a.serveWS)
	g.GET("/rooms/:room", a.getRoom)
	g.POST("/rooms/:room/rounds", a.startRound)
	g.POST("/rooms/:room/resolve", a.forceResolve)
	g.GET("/rooms/:room/standings", a.getStandings)
	g.GET("/questions", a.getQuestions)
	g.POST("/submit", a.submit)
	g.GET("/leaderboard", a.getLeaderboard)
}
