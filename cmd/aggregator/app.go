package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"golang.org/x/sync/errgroup"

	"aggregator/internal/api"
	"aggregator/internal/config"
	"aggregator/internal/constants"
	"aggregator/internal/ingest"
	"aggregator/internal/logger"
	"aggregator/internal/processor"
	"aggregator/internal/store"
	"aggregator/pkg/bootstrap"
	"aggregator/pkg/cel"
	"aggregator/pkg/health"
	"aggregator/pkg/logging"
	"aggregator/pkg/metrics"
	"aggregator/pkg/middleware"
	"aggregator/pkg/ratelimit"
	"aggregator/pkg/tracing"
)

type App struct {
	*bootstrap.Base
	dbConnector    *bootstrap.DatabaseConnector
	conns          *bootstrap.Connections
	store          store.Store
	processor      *processor.Processor
	ingest         *ingest.Service
	limiter        *ratelimit.PerClient
	tracerProvider *tracing.Provider
	server         *http.Server
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	if sugaredLogger, ok := log.(*logger.SugaredLogger); ok {
		sugaredLogger.SetServiceName(constants.ServiceName)
	}
	return &App{
		Base:        bootstrap.NewBase(cfg, log),
		dbConnector: bootstrap.NewDatabaseConnector(cfg, log),
	}
}

func (a *App) Initialize(ctx context.Context) error {
	metrics.Register()

	tp, err := tracing.Init(a.Config.Tracing, constants.ServiceName)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.tracerProvider = tp

	conns, err := a.dbConnector.InitAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	a.conns = conns

	if err := a.initService(); err != nil {
		return fmt.Errorf("failed to initialize service: %w", err)
	}

	if err := a.InitConsumer(constants.ServiceName); err != nil {
		return fmt.Errorf("failed to initialize broker: %w", err)
	}

	a.initHTTPServer()
	return nil
}

func (a *App) initService() error {
	s, err := store.New(a.Config, store.Backends{
		Postgres: a.conns.Postgres,
		Mongo:    a.conns.MongoDatabase(a.Config.Database.MongoDB.Database),
		Redis:    a.conns.Redis,
	}, a.Logger)
	if err != nil {
		return err
	}
	a.store = s

	a.processor = processor.New(s, processor.OptionsFromConfig(a.Config.Processor), a.Logger)

	var filter *cel.Filter
	if expr := a.Config.Ingest.FilterExpression; expr != "" {
		evaluator, err := cel.NewEvaluator()
		if err != nil {
			return fmt.Errorf("failed to create CEL evaluator: %w", err)
		}
		filter, err = evaluator.NewFilter(expr)
		if err != nil {
			return fmt.Errorf("invalid ingest.filter_expression: %w", err)
		}
		a.Logger.Infow("Admission filter enabled", "expression", expr)
	}

	a.ingest = ingest.NewService(a.processor, filter, a.Logger)
	return nil
}

func (a *App) healthRegistry() *health.CheckerRegistry {
	registry := health.NewCheckerRegistry()
	registry.Register(health.NewProcessorChecker(a.processor))
	if a.conns.Postgres != nil {
		registry.Register(health.NewPostgreSQLChecker(a.conns.Postgres))
	}
	if a.conns.Mongo != nil {
		registry.Register(health.NewMongoDBChecker(a.conns.Mongo))
	}
	if a.conns.Redis != nil {
		registry.RegisterOptional(health.NewRedisChecker(a.conns.Redis))
	}
	return registry
}

func (a *App) initHTTPServer() {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	if a.Config.Tracing.Enabled {
		router.Use(tracing.GinMiddleware(constants.ServiceName))
	}

	router.Use(middleware.RecoveryMiddleware(a.Logger))
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.LoggerMiddleware(a.Logger))

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	var publishMiddleware []gin.HandlerFunc
	if a.Config.Ingest.RateLimit.Enabled {
		cfg := ratelimit.FromConfig(a.Config.Ingest.RateLimit)
		a.limiter = ratelimit.NewPerClient(cfg)
		publishMiddleware = append(publishMiddleware, a.limiter.Middleware())
		a.Logger.Infow("Rate limiting enabled for /publish", "rps", cfg.RPS, "burst", cfg.Burst)
	}

	handler := api.NewHandler(a.ingest, a.store, a.processor, a.healthRegistry(), a.Logger)
	handler.RegisterRoutes(router, publishMiddleware...)

	a.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler:      router,
		ReadTimeout:  a.Config.Server.ReadTimeout,
		WriteTimeout: a.Config.Server.WriteTimeout,
	}
}

// Run blocks until ctx is cancelled or a component fails. The processor
// loop runs on its own context so shutdown can drain it after intake stops.
func (a *App) Run(ctx context.Context) error {
	if err := a.processor.Start(context.Background()); err != nil {
		return err
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.InfowCtx(gCtx, "HTTP server starting", "port", a.Config.Server.Port)
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
		defer cancel()
		return a.server.Shutdown(shutdownCtx)
	})

	if a.limiter != nil {
		g.Go(func() error {
			a.limiter.RunCleanup(gCtx)
			return nil
		})
	}

	if a.Consumer != nil {
		inputTopic := a.Config.Broker.Kafka.InputTopic
		g.Go(func() error {
			consumeCtx := logging.WithServiceName(gCtx, constants.ServiceName)
			a.Logger.InfowCtx(consumeCtx, "Starting broker intake", "topic", inputTopic)
			return a.Consumer.Consume(gCtx, inputTopic, a.handleMessage)
		})
	}

	return g.Wait()
}

func (a *App) handleMessage(ctx context.Context, value []byte) error {
	_, err := a.ingest.SubmitRaw(ctx, ingest.TransportKafka, value)
	return err
}

// Shutdown stops intake first, then drains the processor, then releases
// tracing and connections.
func (a *App) Shutdown(ctx context.Context) error {
	shutdownCtx := logging.WithServiceName(ctx, constants.ServiceName)

	stopHTTP := func(ctx context.Context) []error {
		if a.server == nil {
			return nil
		}
		httpCtx, cancel := context.WithTimeout(ctx, constants.ShutdownTimeout)
		defer cancel()
		if err := a.server.Shutdown(httpCtx); err != nil && err != http.ErrServerClosed {
			return []error{fmt.Errorf("HTTP server shutdown error: %w", err)}
		}
		return nil
	}

	stopBroker := func(context.Context) []error {
		return a.ShutdownBroker()
	}

	drain := func(ctx context.Context) []error {
		if a.processor == nil {
			return nil
		}
		a.processor.Stop()
		if a.store != nil {
			if err := a.store.Close(ctx); err != nil {
				return []error{fmt.Errorf("store close error: %w", err)}
			}
		}
		return nil
	}

	stopTracing := func(ctx context.Context) []error {
		if a.tracerProvider == nil {
			return nil
		}
		if err := a.tracerProvider.Shutdown(ctx); err != nil {
			return []error{fmt.Errorf("tracer provider shutdown error: %w", err)}
		}
		return nil
	}

	closeDatabases := func(ctx context.Context) []error {
		return a.dbConnector.ShutdownDatabases(ctx, a.conns)
	}

	return a.Base.Shutdown(shutdownCtx, stopHTTP, stopBroker, drain, stopTracing, closeDatabases)
}
