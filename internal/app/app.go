// Package app собирает сервис оформления заказов: хранилище, сервисы, HTTP API,
// воркеры outbox и идемпотентности, служебные эндпоинты.
package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/vladislavdragonenkov/foodorder/internal/health"
	"github.com/vladislavdragonenkov/foodorder/internal/metrics"
	"github.com/vladislavdragonenkov/foodorder/internal/service/cart"
	"github.com/vladislavdragonenkov/foodorder/internal/service/checkout"
	"github.com/vladislavdragonenkov/foodorder/internal/service/courier"
	"github.com/vladislavdragonenkov/foodorder/internal/service/httpapi"
	"github.com/vladislavdragonenkov/foodorder/internal/service/idempotency"
	"github.com/vladislavdragonenkov/foodorder/internal/service/inventory"
	"github.com/vladislavdragonenkov/foodorder/internal/service/ledger"
	"github.com/vladislavdragonenkov/foodorder/internal/service/outbox"
	"github.com/vladislavdragonenkov/foodorder/internal/version"
)

const (
	readHeaderTimeout = 5 * time.Second
	probeSyncInterval = 5 * time.Second
)

// Run запускает сервис и блокируется до отмены ctx или ошибки одного из серверов.
func Run(ctx context.Context, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger := log.WithField("component", "app")

	deps, err := initRuntimeDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.close(logger)

	if cfg.SeedDemo && deps.memStore != nil {
		if err := seedDemo(ctx, deps.txm, time.Now().UTC()); err != nil {
			return err
		}
		logger.Info("demo catalog and couriers seeded")
	}

	producer, _ := initKafkaProducer(cfg.KafkaBrokers, logger)
	defer closeKafka(producer, logger)
	cartCache, closeCache := initCartCache(ctx, cfg, logger)
	defer closeCache()

	healthHandler := health.NewHandler(version.GetVersion())
	healthHandler.Register(deps.storageChecker)

	selector := courier.NewSelector()
	orders := ledger.NewService(deps.txm, selector,
		ledger.WithMetrics(metrics.NewOrderMetrics()),
		ledger.WithLogger(log.WithField("component", "order-ledger")),
	)
	cartOpts := []cart.Option{}
	checkoutOpts := []checkout.Option{
		checkout.WithMetrics(metrics.NewCheckoutMetrics()),
		checkout.WithTimeout(cfg.CheckoutTimeout),
		checkout.WithRequireAcceptance(cfg.CheckoutRequireAcceptance),
	}
	if cartCache != nil {
		cartOpts = append(cartOpts, cart.WithCache(cartCache))
		checkoutOpts = append(checkoutOpts, checkout.WithCartCache(cartCache))
		healthHandler.Register(health.NewChecker("cart_cache", cartCache.Ping, health.Optional()))
	}
	carts := cart.NewService(deps.txm, cartOpts...)
	coordinator := checkout.NewCoordinator(deps.txm, inventory.NewGatekeeper(), selector, orders, checkoutOpts...)

	idempotencyMetrics := metrics.NewIdempotencyMetrics()
	api := httpapi.NewHandler(carts, coordinator, orders,
		httpapi.WithIdempotency(idempotency.NewGuard(deps.idempotencyRepo,
			idempotency.WithTTL(cfg.IdempotencyTTL),
			idempotency.WithGuardMetrics(idempotencyMetrics),
		)),
		httpapi.WithMetrics(metrics.NewHTTPMetrics()),
		httpapi.WithRequestTimeout(cfg.RequestTimeout),
	)

	events, dlq := outboxPublishers(producer, cfg)
	outboxWorker := outbox.NewWorker(deps.outboxRepo, events,
		outbox.WithDLQPublisher(dlq),
		outbox.WithMetrics(metrics.NewOutboxMetrics()),
		outbox.WithPollInterval(cfg.OutboxPollInterval),
		outbox.WithBatchSize(cfg.OutboxBatchSize),
		outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
		outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
	)
	cleanupWorker := idempotency.NewCleanupWorker(deps.idempotencyRepo,
		idempotency.WithInterval(cfg.IdempotencyCleanupInterval),
		idempotency.WithBatchSize(cfg.IdempotencyCleanupBatchSize),
		idempotency.WithCleanupMetrics(idempotencyMetrics),
	)

	apiLis, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		return err
	}
	opsLis, err := net.Listen("tcp", cfg.MetricsAddr)
	if err != nil {
		_ = apiLis.Close()
		return err
	}
	apiSrv := &http.Server{Handler: api.Routes(), ReadHeaderTimeout: readHeaderTimeout}
	opsSrv := &http.Server{Handler: opsMux(healthHandler), ReadHeaderTimeout: readHeaderTimeout}

	var probes *grpcProbes
	if cfg.GRPCHealthAddr != "" {
		probes, err = newGRPCProbes(cfg.GRPCHealthAddr)
		if err != nil {
			_ = apiLis.Close()
			_ = opsLis.Close()
			return err
		}
	}

	logger.WithFields(version.Fields()).WithFields(log.Fields{
		"http_addr":    apiLis.Addr().String(),
		"metrics_addr": opsLis.Addr().String(),
		"storage":      cfg.StorageDriver,
	}).Info("food service started")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return serveHTTP(apiSrv, apiLis) })
	g.Go(func() error { return serveHTTP(opsSrv, opsLis) })
	if probes != nil {
		g.Go(probes.serve)
		g.Go(func() error {
			probes.sync(gctx, healthHandler, probeSyncInterval)
			return nil
		})
	}
	g.Go(func() error {
		outboxWorker.Run(gctx)
		return nil
	})
	g.Go(func() error {
		cleanupWorker.Run(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		healthHandler.SetShuttingDown()
		probes.stop(cfg.ShutdownTimeout, logger)
		shutdownHTTP(apiSrv, cfg.ShutdownTimeout, logger)
		shutdownHTTP(opsSrv, cfg.ShutdownTimeout, logger)
		return nil
	})

	err = g.Wait()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// opsMux: служебные эндпоинты: метрики и пробы.
func opsMux(h *health.Handler) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", h)
	mux.HandleFunc("/livez", health.Live)
	mux.HandleFunc("/readyz", h.Ready)
	return mux
}

// serveHTTP обслуживает lis до Shutdown. Штатная остановка не считается ошибкой.
func serveHTTP(srv *http.Server, lis net.Listener) error {
	if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func shutdownHTTP(srv *http.Server, timeout time.Duration, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("http shutdown with error")
	}
}

// grpcProbes: gRPC-сервер со стандартным health-сервисом для оркестратора.
type grpcProbes struct {
	server *grpc.Server
	health *grpchealth.Server
	lis    net.Listener
}

func newGRPCProbes(addr string) (*grpcProbes, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	grpcMetrics := metrics.NewGRPCServerMetrics(prometheus.DefaultRegisterer)
	server := grpc.NewServer(grpc.ChainUnaryInterceptor(grpcMetrics.UnaryServerInterceptor()))
	hs := grpchealth.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(server, hs)
	reflection.Register(server)
	grpcMetrics.InitializeMetrics(server)
	return &grpcProbes{server: server, health: hs, lis: lis}, nil
}

func (p *grpcProbes) serve() error {
	if err := p.server.Serve(p.lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

// sync переносит результат health-проверок в статус gRPC health-сервиса до отмены ctx.
func (p *grpcProbes) sync(ctx context.Context, h *health.Handler, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		status := healthpb.HealthCheckResponse_SERVING
		if h.Run(ctx).Status == health.StatusUnhealthy {
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
		p.health.SetServingStatus("", status)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (p *grpcProbes) stop(timeout time.Duration, logger *log.Entry) {
	if p == nil {
		return
	}
	p.health.Shutdown()
	stopped := make(chan struct{})
	go func() {
		p.server.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(timeout):
		logger.Warn("grpc graceful stop timed out, forcing stop")
		p.server.Stop()
	}
}
