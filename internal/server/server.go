// Package server wires the whole thing together: infrastructure clients,
// domain services, the HTTP surface and graceful teardown.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/hootlabs/hoot/internal/api"
	"github.com/hootlabs/hoot/internal/channel"
	"github.com/hootlabs/hoot/internal/event"
	"github.com/hootlabs/hoot/internal/gateway"
	"github.com/hootlabs/hoot/internal/leaderboard"
	"github.com/hootlabs/hoot/internal/roster"
	"github.com/hootlabs/hoot/internal/scoring"
	"github.com/hootlabs/hoot/internal/session"
	"github.com/hootlabs/hoot/internal/store"
	"github.com/hootlabs/hoot/internal/telemetry"
)

type Config struct {
	HTTP struct {
		Port int32
	}

	Redis struct {
		Leaderboard struct {
			Addrs  []string
			Pass   string
			Prefix string
		}

		Pubsub struct {
			Addrs  []string
			Pass   string
			Prefix string
		}
	}

	Postgres struct {
		Session struct {
			Addr string
			User string
			Pass string
			Name string
		}
	}

	Payout struct {
		TreasuryCut   float64
		Fractions     []float64
		PayZeroScores bool
	}
}

type Server struct {
	c Config

	eb *event.Bus

	infra struct {
		redis struct {
			leaderboard redis.UniversalClient
			pubsub      redis.UniversalClient
		}

		postgres *pgxpool.Pool
	}

	store   store.Store
	channel channel.Channel

	service struct {
		session     *session.Service
		roster      *roster.Service
		scoring     *scoring.Service
		leaderboard *leaderboard.Service
	}

	gateway *gateway.Manager
	http    *http.Server
}

func Init(c Config) (*Server, error) {
	s := &Server{c: c}

	s.eb = event.NewBus()

	if err := s.initInfra(); err != nil {
		return nil, fmt.Errorf("server: init infra: %w", err)
	}

	s.initService()
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
	s.infra.redis.leaderboard, err = connect(s.c.Redis.Leaderboard.Addrs, s.c.Redis.Leaderboard.Pass)
	if err != nil {
		return fmt.Errorf("leaderboard: %w", err)
	}

	s.infra.redis.pubsub, err = connect(s.c.Redis.Pubsub.Addrs, s.c.Redis.Pubsub.Pass)
	if err != nil {
		return fmt.Errorf("pubsub: %w", err)
	}

	s.channel = channel.NewRedis(s.infra.redis.pubsub)
	return nil
}

func (s *Server) initPostgres() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pg := s.c.Postgres.Session
	cc, err := pgxpool.ParseConfig(fmt.Sprintf("postgres://%s:%s@%s/%s", pg.User, pg.Pass, pg.Addr, pg.Name))
	if err != nil {
		return err
	}

	db, err := pgxpool.NewWithConfig(ctx, cc)
	if err != nil {
		return err
	}

	if err := db.Ping(ctx); err != nil {
		return err
	}

	s.infra.postgres = db
	s.store = store.NewPostgres(db)
	return nil
}

func (s *Server) initService() {
	prefix := s.c.Redis.Pubsub.Prefix

	s.service.session = session.NewService(session.Config{
		Store:       s.store,
		Channel:     s.channel,
		EventBus:    s.eb,
		TopicPrefix: prefix,
	})

	s.service.roster = roster.NewService(roster.Config{
		Store:       s.store,
		Channel:     s.channel,
		EventBus:    s.eb,
		TopicPrefix: prefix,
	})

	s.service.scoring = scoring.NewService(scoring.Config{
		Store:    s.store,
		EventBus: s.eb,
	})

	s.service.leaderboard = leaderboard.NewService(leaderboard.Config{
		EventBus: s.eb,
		Store:    s.store,
		Redis:    s.infra.redis.leaderboard,
		Prefix:   s.c.Redis.Leaderboard.Prefix,
		Schedule: s.payoutSchedule(),
	})

	s.gateway = gateway.NewManager(gateway.Config{
		Channel:     s.channel,
		TopicPrefix: prefix,
	})
}

func (s *Server) payoutSchedule() leaderboard.Schedule {
	if len(s.c.Payout.Fractions) == 0 {
		sched := leaderboard.DefaultSchedule()
		sched.PayZeroScores = s.c.Payout.PayZeroScores
		return sched
	}

	fractions := make([]decimal.Decimal, 0, len(s.c.Payout.Fractions))
	for _, f := range s.c.Payout.Fractions {
		fractions = append(fractions, decimal.NewFromFloat(f))
	}

	return leaderboard.Schedule{
		TreasuryCut:   decimal.NewFromFloat(s.c.Payout.TreasuryCut),
		Fractions:     fractions,
		PayZeroScores: s.c.Payout.PayZeroScores,
	}
}

func (s *Server) initAPI() {
	e := gin.New()
	e.GET("/metrics", gin.WrapH(promhttp.Handler()))
	pprof.Register(e, "/debug/pprof")
	e.Use(gin.Recovery())

	api.New(api.Config{
		Router:      e,
		EventBus:    s.eb,
		Session:     s.service.session,
		Roster:      s.service.roster,
		Scoring:     s.service.scoring,
		Leaderboard: s.service.leaderboard,
		Gateway:     s.gateway,
		Channel:     s.channel,
		TopicPrefix: s.c.Redis.Pubsub.Prefix,
	})

	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.c.HTTP.Port),
		Handler:           e,
		ReadHeaderTimeout: 60 * time.Second,
	}
}

func (s *Server) Start() {
	ctx := context.TODO()

	var eg errgroup.Group
	eg.Go(func() error {
		slog.InfoContext(ctx, fmt.Sprintf("server: HTTP listening on port %d", s.c.HTTP.Port))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if err := eg.Wait(); err != nil {
		slog.ErrorContext(ctx, "server: shutdown with error", "error", err)
	}
}

func (s *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.http.Shutdown(ctx); err != nil {
		slog.ErrorContext(ctx, "server: shutdown HTTP failed", "error", err)
	}

	// Websocket feeds first so no broadcast races the timer teardown.
	s.gateway.Close()
	s.service.session.Close()
	s.eb.Stop()

	s.infra.postgres.Close()
	if err := s.infra.redis.leaderboard.Close(); err != nil {
		slog.ErrorContext(ctx, "server: close redis leaderboard failed", "error", err)
	}
	if err := s.infra.redis.pubsub.Close(); err != nil {
		slog.ErrorContext(ctx, "server: close redis pubsub failed", "error", err)
	}

	slog.InfoContext(ctx, "server: shutdown completed")
}
