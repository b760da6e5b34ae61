package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/victornm/arena/internal/api"
	"github.com/victornm/arena/internal/arena"
	"github.com/victornm/arena/internal/broadcast"
	"github.com/victornm/arena/internal/event"
	"github.com/victornm/arena/internal/identity"
	"github.com/victornm/arena/internal/leaderboard"
	"github.com/victornm/arena/internal/ledger"
	"github.com/victornm/arena/internal/migrations"
	"github.com/victornm/arena/internal/question"
	"github.com/victornm/arena/internal/registry"
	"github.com/victornm/arena/internal/result"
	"github.com/victornm/arena/internal/telemetry"
)

const (
	DriverMemory   = "memory"
	DriverBadger   = "badger"
	DriverPostgres = "postgres"
	DriverFile     = "file"
)

type Config struct {
	HTTP struct {
		Port int32
	}

	GRPC struct {
		Port int32
	}

	Arena struct {
		SubscriberBuffer int
		RoundTimeout     time.Duration
	}

	Redis struct {
		Standings struct {
			Addrs  []string
			Pass   string
			Prefix string
		}

		Pubsub struct {
			Enabled bool
			Addrs   []string
			Pass    string
			Prefix  string
		}
	}

	Postgres struct {
		Results struct {
			Addr string
			User string
			Pass string
			Name string
		}

		Questions struct {
			Addr string
			User string
			Pass string
			Name string
		}
	}

	Results struct {
		// Driver is one of memory, badger or postgres.
		Driver    string
		BadgerDir string
		// Async saves results through an asynq queue on the standings Redis.
		Async       bool
		Concurrency int
	}

	Questions struct {
		// Driver is one of file or postgres.
		Driver string
		File   string
	}

	Auth struct {
		JWTSecret string
		Issuer    string
	}
}

// DefaultConfig returns the values used when neither the config file nor the environment set them.
func DefaultConfig() Config {
	var c Config
	c.HTTP.Port = 8080
	c.GRPC.Port = 9090
	c.Arena.SubscriberBuffer = 64
	c.Redis.Standings.Prefix = "arena"
	c.Redis.Pubsub.Prefix = "arena"
	c.Results.Driver = DriverMemory
	c.Results.Concurrency = 4
	c.Questions.Driver = DriverFile
	c.Questions.File = "questions.yaml"
	return c
}

type Server struct {
	c Config

	eb *event.Bus

	infra struct {
		redis struct {
			standings redis.UniversalClient
			pubsub    redis.UniversalClient
		}

		postgres struct {
			results   *pgxpool.Pool
			questions *pgxpool.Pool
		}

		badger *badger.DB
	}

	service struct {
		hub         *broadcast.Hub
		relay       *broadcast.Relay
		arena       *arena.Coordinator
		questions   question.Source
		results     result.Store
		queue       *result.Queue
		worker      *result.Worker
		leaderboard *leaderboard.Service
	}

	health *health.Server
	http   *http.Server
	grpc   *grpc.Server
}

func Init(c Config) (*Server, error) {
	s := &Server{c: c}

	s.eb = event.NewBus()

	if err := s.initInfra(); err != nil {
		return nil, fmt.Errorf("server: init infra: %w", err)
	}

	if err := s.initService(); err != nil {
		return nil, fmt.Errorf("server: init service: %w", err)
	}

	s.initAPI()
	return s, nil
}

func (s *Server) initInfra() error {
	if err := s.initRedis(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}

	if err := s.initPostgres(); err != nil {
		return fmt.Errorf("postgres: %w", err)
	}

	if s.c.Results.Driver == DriverBadger {
		db, err := result.OpenBadger(s.c.Results.BadgerDir)
		if err != nil {
			return fmt.Errorf("badger: %w", err)
		}
		s.infra.badger = db
	}

	return nil
}

func (s *Server) initRedis() error {
	connect := func(addrs []string, pass string) (redis.UniversalClient, error) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		r := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    addrs,
			Password: pass,
		})

		if err := telemetry.MonitorRedis(r); err != nil {
			return nil, err
		}

		if err := r.Ping(ctx).Err(); err != nil {
			return nil, err
		}

		return r, nil
	}

	var err error
	s.infra.redis.standings, err = connect(s.c.Redis.Standings.Addrs, s.c.Redis.Standings.Pass)
	if err != nil {
		return fmt.Errorf("standings: %w", err)
	}

	if s.c.Redis.Pubsub.Enabled {
		s.infra.redis.pubsub, err = connect(s.c.Redis.Pubsub.Addrs, s.c.Redis.Pubsub.Pass)
		if err != nil {
			return fmt.Errorf("pubsub: %w", err)
		}
	}

	return nil
}

func (s *Server) initPostgres() (err error) {
	connect := func(addr, user, pass, name string) (*pgxpool.Pool, error) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		dsn := fmt.Sprintf("postgres://%s:%s@%s/%s", user, pass, addr, name)
		if err := migrations.Up(dsn + "?sslmode=disable"); err != nil {
			return nil, err
		}

		cc, err := pgxpool.ParseConfig(dsn)
		if err != nil {
			return nil, err
		}

		db, err := pgxpool.NewWithConfig(ctx, cc)
		if err != nil {
			return nil, err
		}

		if err := db.Ping(ctx); err != nil {
			return nil, err
		}

		return db, nil
	}

	if s.c.Results.Driver == DriverPostgres {
		pc := s.c.Postgres.Results
		s.infra.postgres.results, err = connect(pc.Addr, pc.User, pc.Pass, pc.Name)
		if err != nil {
			return fmt.Errorf("postgres: results: %w", err)
		}
	}

	if s.c.Questions.Driver == DriverPostgres {
		pc := s.c.Postgres.Questions
		s.infra.postgres.questions, err = connect(pc.Addr, pc.User, pc.Pass, pc.Name)
		if err != nil {
			return fmt.Errorf("postgres: questions: %w", err)
		}
	}

	return nil
}

func (s *Server) initService() error {
	switch s.c.Questions.Driver {
	case DriverPostgres:
		s.service.questions = question.NewPostgres(s.infra.postgres.questions)
	case DriverFile, "":
		bank, err := question.LoadBank(s.c.Questions.File)
		if err != nil {
			return err
		}
		s.service.questions = bank
	default:
		return fmt.Errorf("unknown questions driver %q", s.c.Questions.Driver)
	}

	switch s.c.Results.Driver {
	case DriverPostgres:
		s.service.results = result.NewPostgres(s.infra.postgres.results)
	case DriverBadger:
		s.service.results = result.NewBadger(s.infra.badger)
	case DriverMemory, "":
		s.service.results = result.NewMemory()
	default:
		return fmt.Errorf("unknown results driver %q", s.c.Results.Driver)
	}

	rc := result.RecorderConfig{
		EventBus: s.eb,
		Store:    s.service.results,
	}
	if s.c.Results.Async {
		if len(s.c.Redis.Standings.Addrs) == 0 {
			return fmt.Errorf("async results need a redis address")
		}
		opt := asynq.RedisClientOpt{
			Addr:     s.c.Redis.Standings.Addrs[0],
			Password: s.c.Redis.Standings.Pass,
		}
		s.service.queue = result.NewQueue(opt)
		s.service.worker = result.NewWorker(opt, s.service.results, s.c.Results.Concurrency)
		rc.Queue = s.service.queue
	}
	result.NewRecorder(rc)

	s.service.hub = broadcast.NewHub(
		broadcast.WithBufferSize(s.c.Arena.SubscriberBuffer),
		broadcast.WithDropHook(func(string, string) {
			telemetry.BroadcastDropped.Inc()
		}),
	)

	var publisher broadcast.Publisher = s.service.hub
	if s.infra.redis.pubsub != nil {
		s.service.relay = broadcast.NewRelay(broadcast.RelayConfig{
			Redis:  s.infra.redis.pubsub,
			Prefix: s.c.Redis.Pubsub.Prefix,
			Local:  s.service.hub,
		})
		publisher = s.service.relay
	}

	s.service.arena = arena.New(arena.Config{
		Registry:     registry.New(),
		Ledger:       ledger.New(),
		Broadcast:    publisher,
		Questions:    s.service.questions,
		EventBus:     s.eb,
		RoundTimeout: s.c.Arena.RoundTimeout,
	})

	s.service.leaderboard = leaderboard.NewService(leaderboard.Config{
		EventBus: s.eb,
		Results:  s.service.results,
		Redis:    s.infra.redis.standings,
		Prefix:   s.c.Redis.Standings.Prefix,
	})

	return nil
}

func (s *Server) initAPI() {
	e := gin.New()
	e.Use(gin.Recovery())
	e.GET("/metrics", gin.WrapH(promhttp.Handler()))
	e.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	pprof.Register(e, "/debug/pprof")

	s.grpc = grpc.NewServer(telemetry.GRPCServerInterceptor())
	s.health = health.NewServer()
	healthpb.RegisterHealthServer(s.grpc, s.health)

	var jwt *identity.JWT
	if s.c.Auth.JWTSecret != "" {
		jwt = identity.NewJWT(s.c.Auth.JWTSecret, s.c.Auth.Issuer)
	}

	var publisher broadcast.Publisher = s.service.hub
	if s.service.relay != nil {
		publisher = s.service.relay
	}

	api.New(api.Config{
		HTTP:        e,
		GRPC:        s.grpc,
		EventBus:    s.eb,
		Arena:       s.service.arena,
		Hub:         s.service.hub,
		Broadcast:   publisher,
		Leaderboard: s.service.leaderboard,
		Questions:   s.service.questions,
		Identity:    identity.Passthrough{},
		JWT:         jwt,
	})

	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.c.HTTP.Port),
		Handler:           e,
		ReadHeaderTimeout: 60 * time.Second,
	}
}

// Start serves until ctx is done or a component fails.
func (s *Server) Start(ctx context.Context) {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", s.c.GRPC.Port))
	if err != nil {
		slog.ErrorContext(ctx, "grpc server: listen failed", "error", err)
		panic(err)
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		slog.InfoContext(ctx, fmt.Sprintf("server: gRPC listening on port %d", s.c.GRPC.Port))
		return s.grpc.Serve(lis)
	})

	eg.Go(func() error {
		slog.InfoContext(ctx, fmt.Sprintf("server: HTTP listening on port %d", s.c.HTTP.Port))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if s.service.relay != nil {
		eg.Go(func() error {
			return s.service.relay.Run(ctx)
		})
	}

	if s.service.worker != nil {
		eg.Go(func() error {
			return s.service.worker.Run(ctx)
		})
	}

	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	err = eg.Wait()
	if err != nil {
		slog.ErrorContext(ctx, "server: shutdown with error", "error", err)
	}
}

func (s *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.health.Shutdown()
	s.grpc.GracefulStop()
	if err := s.http.Shutdown(ctx); err != nil {
		slog.ErrorContext(ctx, "server: shutdown HTTP failed", "error", err)
	}

	s.eb.Stop()
	s.service.hub.Close()

	if s.service.queue != nil {
		if err := s.service.queue.Close(); err != nil {
			slog.ErrorContext(ctx, "server: close queue failed", "error", err)
		}
	}

	if s.infra.badger != nil {
		if err := s.infra.badger.Close(); err != nil {
			slog.ErrorContext(ctx, "server: close badger failed", "error", err)
		}
	}

	for _, db := range []*pgxpool.Pool{s.infra.postgres.results, s.infra.postgres.questions} {
		if db != nil {
			db.Close()
		}
	}

	slog.InfoContext(ctx, "server: shutdown completed")
}
