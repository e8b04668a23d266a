package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/time/rate"

	"github.com/and161185/duochat/internal/config"
	"github.com/and161185/duochat/internal/limiter"
	"github.com/and161185/duochat/internal/metrics"
	"github.com/and161185/duochat/internal/migrate"
	"github.com/and161185/duochat/internal/presence"
	"github.com/and161185/duochat/internal/repository"
	"github.com/and161185/duochat/internal/repository/memory"
	"github.com/and161185/duochat/internal/repository/postgres"
	"github.com/and161185/duochat/internal/security"
	grpcserver "github.com/and161185/duochat/internal/server/grpc"
	"github.com/and161185/duochat/internal/server/httpapi"
	"github.com/and161185/duochat/internal/server/ws"
	"github.com/and161185/duochat/internal/service"
)

func newLogger(c config.Log) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if c.Development {
		zc = zap.NewDevelopmentConfig()
	}
	lvl, err := zapcore.ParseLevel(c.Level)
	if err != nil {
		return nil, err
	}
	zc.Level = zap.NewAtomicLevelAt(lvl)
	return zc.Build()
}

// stores is the storage backend picked by config.
type stores struct {
	users    repository.UserRepository
	contacts repository.ContactRepository
	messages repository.MessageRepository
	limiter  limiter.Limiter
	ping     func(context.Context) error
	close    func()
}

func openStores(ctx context.Context, cfg *config.Config, log *zap.Logger) (*stores, error) {
	if cfg.Store == config.StoreMemory {
		log.Warn("using in-memory store, data is lost on restart")
		st := memory.NewStore()
		return &stores{
			users:    memory.NewUserRepo(st),
			contacts: memory.NewContactRepo(st),
			messages: memory.NewMessageRepo(st),
			limiter:  limiter.Noop{},
			close:    func() {},
		}, nil
	}

	if cfg.Database.Migrate {
		if err := runMigrations(ctx, cfg, log); err != nil {
			return nil, err
		}
	}
	db, err := postgres.New(ctx, cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return &stores{
		users:    postgres.NewUserRepo(db),
		contacts: postgres.NewContactRepo(db),
		messages: postgres.NewMessageRepo(db),
		limiter: limiter.NewPG(db.Pool, limiter.Config{
			Window:   cfg.Auth.LoginWindow,
			MaxFails: cfg.Auth.LoginMaxFails,
			BlockFor: cfg.Auth.LoginBlock,
		}),
		ping:  db.Ping,
		close: db.Close,
	}, nil
}

func runMigrations(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	if cfg.Store != config.StorePostgres {
		return fmt.Errorf("migrations need store %q", config.StorePostgres)
	}
	ver, err := migrate.Up(ctx, cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("migrate up: %w", err)
	}
	log.Info("schema ready", zap.Int64("version", ver))
	return nil
}

// originPatterns turns CORS origins into host patterns for the socket upgrade.
func originPatterns(origins []string) []string {
	var out []string
	for _, o := range origins {
		if o == "*" {
			return []string{"*"}
		}
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			out = append(out, u.Host)
			continue
		}
		out = append(out, o)
	}
	return out
}

func serve(parent context.Context, cfg *config.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	log, err := newLogger(cfg.Log)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	log.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("store", cfg.Store),
	)

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStores(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer st.close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(reg)

	tokens := service.NewTokenManager([]byte(cfg.Auth.JWTKey), cfg.Auth.AccessTTL)
	authSvc := service.NewAuthService(st.users, tokens, st.limiter)
	contactSvc := service.NewContactService(st.users, st.contacts)
	messageSvc := service.NewMessageService(st.messages, security.NewTextSanitizer())

	engine := presence.NewEngine(presence.NewDirectory(), st.contacts, messageSvc, log.Named("presence"), collector)

	wsCfg := ws.DefaultConfig()
	wsCfg.SendQueue = cfg.WS.SendQueue
	wsCfg.EventRate = rate.Limit(cfg.WS.EventRate)
	wsCfg.EventBurst = cfg.WS.EventBurst
	wsCfg.OriginPatterns = originPatterns(cfg.HTTP.CORSOrigins)

	rl := httpapi.NewRateLimiter(rate.Limit(cfg.HTTP.Rate), cfg.HTTP.Burst, 10*time.Minute)
	defer rl.Stop()

	router := httpapi.NewRouter(httpapi.RouterDeps{
		Handler:     httpapi.NewHandler(authSvc, contactSvc, messageSvc, engine, log.Named("http")),
		Tokens:      tokens,
		Realtime:    ws.NewHandler(engine, tokens, wsCfg, log.Named("ws")),
		Metrics:     metrics.Handler(reg),
		Status:      collector,
		RateLimiter: rl,
		CORSOrigins: cfg.HTTP.CORSOrigins,
		Ping:        st.ping,
		Log:         log.Named("http"),
	})

	httpSrv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 2)
	go func() {
		log.Info("http listening", zap.String("addr", cfg.HTTP.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http: %w", err)
		}
	}()

	var ops *grpcserver.Ops
	if cfg.Ops.Addr != "" {
		ops = grpcserver.NewOps(log.Named("ops"), cfg.Ops.Reflection, grpcserver.Probe(st.ping), 5*time.Second)
		lis, err := net.Listen("tcp", cfg.Ops.Addr)
		if err != nil {
			return fmt.Errorf("ops listen: %w", err)
		}
		go ops.Monitor(ctx)
		go func() {
			log.Info("ops listening", zap.String("addr", cfg.Ops.Addr))
			if err := ops.Serve(lis); err != nil {
				errCh <- fmt.Errorf("ops: %w", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
	case err := <-errCh:
		log.Error("server error", zap.Error(err))
		stop()
		shutdown(log, httpSrv, ops)
		return err
	}

	shutdown(log, httpSrv, ops)
	log.Info("shutdown complete")
	return nil
}

func shutdown(log *zap.Logger, httpSrv *http.Server, ops *grpcserver.Ops) {
	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(sctx); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}
	if ops == nil {
		return
	}
	done := make(chan struct{})
	go func() {
		ops.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-sctx.Done():
		ops.Stop()
	}
}
