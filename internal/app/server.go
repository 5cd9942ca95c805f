// internal/app/server.go
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"inspecto-service/internal/config"
	"inspecto-service/internal/db"
	"inspecto-service/internal/gateway"
	membershipHandler "inspecto-service/internal/handlers/membership"
	paymentHandler "inspecto-service/internal/handlers/payment"
	planHandler "inspecto-service/internal/handlers/plan"
	subscriberHandler "inspecto-service/internal/handlers/subscriber"
	wsHandler "inspecto-service/internal/handlers/websocket"
	"inspecto-service/internal/middleware"
	"inspecto-service/internal/observability"
	"inspecto-service/internal/pkg/idempotency"
	"inspecto-service/internal/pkg/jwt"
	"inspecto-service/internal/pkg/ratelimit"
	"inspecto-service/internal/repository/postgres"
	"inspecto-service/internal/service/billing"
	"inspecto-service/internal/service/catalog"
	"inspecto-service/internal/service/ledger"
	membershipUsecase "inspecto-service/internal/service/membership"
	"inspecto-service/internal/websocket"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

type Server struct {
	cfg    config.AppConfig
	logger *zap.Logger
}

func NewServer(cfg config.AppConfig, logger *zap.Logger) *Server {
	return &Server{cfg: cfg, logger: logger}
}

// Run starts the HTTP server, the websocket hub and the membership sweep,
// and blocks until ctx is cancelled or one of them fails.
func (s *Server) Run(ctx context.Context) error {
	// ----- PostgreSQL -----
	if s.cfg.AutoMigrate {
		if err := db.Migrate(ctx, s.cfg.DatabaseURL, s.logger); err != nil {
			return err
		}
	}

	pool, err := db.ConnectDB(ctx, s.cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	defer pool.Close()
	s.logger.Info("connected to PostgreSQL")

	// ----- Redis -----
	redisClient, err := db.NewRedisClient(ctx, db.RedisConfig{
		URL:      s.cfg.RedisURL,
		Address:  s.cfg.RedisAddr,
		Password: s.cfg.RedisPass,
		DB:       0,
		PoolSize: 10,
	})
	if err != nil {
		return err
	}
	defer redisClient.Close()
	s.logger.Info("connected to Redis", zap.String("addr", s.cfg.RedisAddr))

	// ----- JWT -----
	jwtManager, err := jwt.LoadAndBuild(s.cfg.JWT)
	if err != nil {
		return fmt.Errorf("failed to load JWT manager: %w", err)
	}

	// ----- Metrics -----
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(registry)

	// ----- Gateways -----
	gateways, err := s.buildGateways()
	if err != nil {
		return err
	}
	registryGW := gateway.NewRegistry(s.cfg.GatewayTimeout, gateways...)
	s.logger.Info("payment gateways enabled", zap.Strings("providers", registryGW.Names()))

	// ----- Repositories -----
	dbWrapper := postgres.NewDB(pool)
	planRepo := postgres.NewPlanRepository(pool)
	featureRepo := postgres.NewFeatureRepository(pool)
	subscriberRepo := postgres.NewSubscriberRepository(pool)
	membershipRepo := postgres.NewMembershipRepository(pool)
	paymentRepo := postgres.NewPaymentRepository(pool)

	// ----- WebSocket Hub -----
	hub := websocket.NewHub(jwtManager.Verifier, s.logger)

	// ----- Services -----
	membershipService := membershipUsecase.NewMembershipService(planRepo, subscriberRepo, membershipRepo, dbWrapper, s.logger)
	catalogService := catalog.NewCatalogService(planRepo, featureRepo, dbWrapper, s.logger)
	subscriberService := catalog.NewSubscriberService(subscriberRepo, s.logger)
	paymentLedger := ledger.NewLedger(paymentRepo, planRepo, subscriberRepo, membershipService, registryGW, dbWrapper, s.logger)
	billingService := billing.NewBillingService(billing.Config{
		Plans:           planRepo,
		Memberships:     membershipRepo,
		Ledger:          paymentLedger,
		Webhooks:        registryGW,
		Idempotency:     idempotency.NewStore(redisClient, s.cfg.IdempotencyTTL),
		Notifier:        hub,
		Metrics:         metrics,
		DefaultProvider: s.cfg.DefaultProvider,
		Logger:          s.logger,
	})

	hub.RegisterHandler(wsHandler.NewMembershipStatusHandler(membershipService))

	// ----- Router -----
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(
		middleware.RecoveryMiddleware(s.logger),
		middleware.LoggingMiddleware(s.logger),
		middleware.CORSMiddleware(s.cfg.CORSAllowedOrigins),
	)

	SetupRouter(engine, &Handlers{
		PaymentHandler:    paymentHandler.NewPaymentHandler(billingService, paymentLedger, s.logger),
		PlanHandler:       planHandler.NewPlanHandler(catalogService),
		MembershipHandler: membershipHandler.NewMembershipHandler(membershipService),
		SubscriberHandler: subscriberHandler.NewSubscriberHandler(subscriberService),
		WSHandler:         wsHandler.NewWebSocketHandler(hub, s.cfg.CORSAllowedOrigins, s.logger),
		AuthMiddleware:    middleware.NewAuthMiddleware(jwtManager.Verifier),
		InitiateLimit: middleware.RateLimit(
			ratelimit.NewLimiter(redisClient),
			"payments.initiate",
			s.cfg.InitiateRateLimit,
			s.cfg.InitiateRateWindow,
			s.logger,
		),
		Gatherer: registry,
		Metrics:  metrics,
	})

	srv := &http.Server{
		Addr:              s.cfg.HTTPAddr,
		Handler:           otelhttp.NewHandler(engine, "inspecto-api"),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return hub.Run(gctx)
	})

	if s.cfg.MembershipSweepCron != "" {
		sweeper := membershipUsecase.NewSweeper(membershipService, s.cfg.MembershipSweepCron, s.logger).
			OnExpired(metrics.ObserveExpired)
		g.Go(func() error {
			return sweeper.Run(gctx)
		})
	}

	g.Go(func() error {
		s.logger.Info("server running", zap.String("addr", s.cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		s.logger.Info("shutting down server")
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// buildGateways enables each provider whose credentials are configured.
func (s *Server) buildGateways() ([]gateway.Gateway, error) {
	var out []gateway.Gateway

	if s.cfg.StripeSecretKey != "" {
		out = append(out, gateway.NewStripe(gateway.StripeConfig{
			SecretKey:     s.cfg.StripeSecretKey,
			WebhookSecret: s.cfg.StripeWebhookSecret,
			SuccessURL:    s.cfg.CheckoutSuccessURL,
			CancelURL:     s.cfg.CheckoutCancelURL,
		}))
	}

	if s.cfg.PaddleAPIKey != "" {
		p, err := gateway.NewPaddle(gateway.PaddleConfig{
			APIKey:        s.cfg.PaddleAPIKey,
			WebhookSecret: s.cfg.PaddleWebhookSecret,
			Environment:   s.cfg.PaddleEnvironment,
			PriceIDs:      s.cfg.PaddlePriceIDs,
			SuccessURL:    s.cfg.CheckoutSuccessURL,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to configure paddle: %w", err)
		}
		out = append(out, p)
	}

	if s.cfg.ManualWebhookSecret != "" {
		out = append(out, gateway.NewManual(s.cfg.ManualWebhookSecret, s.cfg.ManualCheckoutURL))
	}

	if len(out) == 0 {
		return nil, errors.New("no payment gateway configured")
	}
	return out, nil
}
