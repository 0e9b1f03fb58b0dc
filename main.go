package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/mn-ibiz/pos-sub020/audit"
	"github.com/mn-ibiz/pos-sub020/config"
	"github.com/mn-ibiz/pos-sub020/gateway"
	"github.com/mn-ibiz/pos-sub020/handlers"
	"github.com/mn-ibiz/pos-sub020/logging"
	"github.com/mn-ibiz/pos-sub020/monitoring"
	"github.com/mn-ibiz/pos-sub020/service"
	"github.com/mn-ibiz/pos-sub020/session"
	"github.com/mn-ibiz/pos-sub020/store"
	"github.com/mn-ibiz/pos-sub020/validator"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	// Initialize structured logging
	if err := logging.InitLogger(cfg.ServiceName, cfg.OTELEndpoint); err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer logging.Sync()
	defer func() {
		if err := logging.Shutdown(context.Background()); err != nil {
			logging.Error("Error shutting down logger provider", zap.Error(err))
		}
	}()

	// Initialize OpenTelemetry
	tp, tracer, err := monitoring.InitTracer(cfg.ServiceName, cfg.OTELEndpoint)
	if err != nil {
		logging.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			logging.Error("Error shutting down tracer provider", zap.Error(err))
		}
	}()

	mp, _, err := monitoring.InitMeter(cfg.ServiceName, cfg.OTELEndpoint, cfg.MetricsExporter)
	if err != nil {
		logging.Fatal("Failed to initialize meter", zap.Error(err))
	}
	defer func() {
		if err := mp.Shutdown(context.Background()); err != nil {
			logging.Error("Error shutting down meter provider", zap.Error(err))
		}
	}()

	gw := newGateway(cfg)

	v := validator.New(
		validator.PayeeFormat{
			CountryCode:      cfg.Payee.CountryCode,
			SubscriberLength: cfg.Payee.SubscriberLength,
			LeadingDigits:    cfg.Payee.LeadingDigits,
		},
		validator.AmountFormat{
			Scale: validator.DefaultAmountFormat().Scale,
			Max:   decimal.NewFromFloat(cfg.Payee.AmountMax),
		},
	)

	opts := []session.Option{
		session.WithTracer(tracer),
		session.WithObserver(audit.NewLogObserver()),
	}

	if cfg.Audit.NSQAddress != "" {
		publisher, err := audit.NewNSQPublisher(cfg.Audit.NSQAddress, cfg.Audit.NSQTopic)
		if err != nil {
			logging.Fatal("Failed to connect to NSQ", zap.Error(err), zap.String("address", cfg.Audit.NSQAddress))
		}
		defer publisher.Stop()
		opts = append(opts, session.WithObserver(publisher))
		logging.Info("Publishing transitions to NSQ", zap.String("topic", cfg.Audit.NSQTopic))
	}

	if cfg.Audit.MySQLDSN != "" {
		db, err := audit.OpenMySQL(cfg.Audit.MySQLDSN)
		if err != nil {
			logging.Fatal("Failed to connect to audit database", zap.Error(err))
		}
		defer db.Close()

		recorder := audit.NewMySQLRecorder(db)
		if err := recorder.EnsureSchema(context.Background()); err != nil {
			logging.Fatal("Failed to prepare audit schema", zap.Error(err))
		}
		opts = append(opts, session.WithObserver(recorder))
		logging.Info("Recording transitions to MySQL")
	}

	var results store.ResultStore = store.NewMemoryStore(cfg.Results.TTL)
	if cfg.Results.RedisAddr != "" {
		client, err := store.NewRedisClient(cfg.Results.RedisAddr, cfg.Results.RedisPassword, cfg.Results.RedisDB)
		if err != nil {
			logging.Fatal("Failed to connect to Redis", zap.Error(err), zap.String("addr", cfg.Results.RedisAddr))
		}
		defer client.Close()
		results = store.NewRedisStore(client, cfg.Results.TTL)
		logging.Info("Storing results in Redis", zap.String("addr", cfg.Results.RedisAddr))
	}

	manager := session.NewManager(gw, v, session.Config{
		PollInterval: cfg.Polling.Interval,
		PollBudget:   cfg.Polling.Budget,
		QueryTimeout: cfg.Polling.QueryTimeout,
	}, results, opts...)

	// Initialize service layer
	paymentService := service.NewPaymentService(tracer, manager)

	// Initialize handlers
	paymentHandler := handlers.NewPaymentHandler(paymentService)

	// Setup Gin router
	r := gin.Default()

	// OpenTelemetry middleware
	r.Use(otelgin.Middleware(cfg.ServiceName))
	r.Use(httpMetricsMiddleware())

	// Routes
	paymentHandler.Register(r)
	if cfg.MetricsExporter == "prometheus" {
		r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	go func() {
		logging.Info("Push payment service starting",
			zap.String("port", cfg.Port),
			zap.String("provider_mode", cfg.Provider.Mode),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logging.Info("Shutting down push payment service")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logging.Error("Error shutting down HTTP server", zap.Error(err))
	}
	if err := manager.Shutdown(ctx); err != nil {
		logging.Error("Active payment attempts did not finish", zap.Error(err))
	}
}

func newGateway(cfg *config.Config) gateway.Client {
	if cfg.Provider.Mode == "simulator" {
		logging.Warn("Using simulated payment provider")
		return gateway.NewSimulator(gateway.WithLatency(300 * time.Millisecond))
	}

	timeout := cfg.Polling.QueryTimeout
	if timeout <= 0 {
		timeout = cfg.Polling.Interval
	}
	return gateway.NewHTTPClient(cfg.Provider.URL, cfg.Provider.APIKey, cfg.Provider.Currency, timeout)
}

// httpMetricsMiddleware records HTTP request metrics
func httpMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		// Process request
		c.Next()

		// Record duration
		duration := float64(time.Since(start).Milliseconds())

		monitoring.HTTPServerDuration.Record(c.Request.Context(), duration,
			metric.WithAttributes(
				attribute.String("http_method", c.Request.Method),
				attribute.String("http_route", c.FullPath()),
				attribute.String("http_status_code", strconv.Itoa(c.Writer.Status())),
			),
		)
	}
}
