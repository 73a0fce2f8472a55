package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/magotmarket/payment-service/internal/domain/order"
	"github.com/magotmarket/payment-service/internal/domain/payment"
	"github.com/magotmarket/payment-service/internal/gateway"
	"github.com/magotmarket/payment-service/internal/handler"
	"github.com/magotmarket/payment-service/internal/notify"
	"github.com/magotmarket/payment-service/internal/outbox"
	"github.com/magotmarket/payment-service/internal/reconciler"
	"github.com/magotmarket/payment-service/internal/storage/postgres"
	"github.com/magotmarket/payment-service/pkg/health"
	"github.com/magotmarket/payment-service/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server and the outbox
// dispatcher, and handles graceful shutdown. It is the single wiring point
// for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	// PostgreSQL pool + migrations.
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	// Health check service.
	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, func(ctx context.Context) error {
		return pool.Ping(ctx)
	})
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	// Repositories.
	orderRepo := postgres.NewOrderRepository(pool)
	productRepo := postgres.NewProductRepository(pool)
	outboxStore := postgres.NewOutboxStore(pool)

	// Gateway and messaging clients.
	gatewayClient := gateway.NewClient(
		&http.Client{Timeout: cfg.Gateway.Timeout},
		gateway.Config{
			SnapURL:     cfg.Gateway.SnapURL,
			CoreURL:     cfg.Gateway.CoreURL,
			ServerKey:   cfg.Gateway.ServerKey,
			CallbackURL: cfg.Gateway.CallbackURL,
		},
	)
	whatsapp := notify.NewWhatsAppClient(nil, cfg.WhatsApp.BaseURL, cfg.WhatsApp.Token)

	// Domain services.
	verifier := payment.NewVerifier(cfg.Gateway.ServerKey)
	reconcileSvc := reconciler.New(orderRepo, verifier)
	checkoutSvc := order.NewService(productRepo, orderRepo, gatewayClient)

	// Outbox dispatcher runs until shutdown; message delivery is eventually
	// consistent and never blocks a webhook response.
	dispatcher := outbox.NewDispatcher(outbox.DispatcherConfig{
		PollInterval: cfg.Outbox.PollInterval,
		BatchSize:    cfg.Outbox.BatchSize,
		Workers:      cfg.Outbox.Workers,
		SendTimeout:  cfg.Outbox.SendTimeout,
		MaxAttempts:  cfg.Outbox.MaxAttempts,
	}, outboxStore, whatsapp)
	go func() {
		if err := dispatcher.Run(zctx.Base(ctx, lg.Named("outbox"))); err != nil {
			lg.Error("Outbox dispatcher stopped", zap.Error(err))
		}
	}()

	// HTTP handlers.
	h := handler.New(reconcileSvc, checkoutSvc, orderRepo, gatewayClient)

	mux := http.NewServeMux()
	mux.HandleFunc("/livez", healthSvc.LiveEndpoint)
	mux.HandleFunc("/readyz", healthSvc.ReadyEndpoint)
	h.Register(mux)

	instrumented := otelhttp.NewHandler(mux, "payment-api",
		otelhttp.WithTracerProvider(m.TracerProvider()),
		otelhttp.WithMeterProvider(m.MeterProvider()),
	)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(instrumented,
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins:     cfg.CORS.Origins,
				AllowHeaders:     []string{"Content-Type", "Authorization"},
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.LogRequests(),
		),
	}

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}
