package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"shopbot-service/config"
	"shopbot-service/internal/api"
	"shopbot-service/internal/broker"
	"shopbot-service/internal/conversation"
	"shopbot-service/internal/ledger"
	"shopbot-service/internal/nlu"
	"shopbot-service/internal/notify"
	"shopbot-service/internal/payment"
	"shopbot-service/internal/redisclient"
	"shopbot-service/internal/service"
	"shopbot-service/internal/session"
	"shopbot-service/internal/store"
	"shopbot-service/internal/util"
	"shopbot-service/internal/worker"
)

// dataStore is what both the Postgres and the in-memory store provide
type dataStore interface {
	service.MenuRepository
	service.OrderRepository
	ledger.Repository
	ledger.RecipeSource
	Ping(ctx context.Context) error
	Close() error
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := util.InitLogger(cfg.Server.Env, cfg.Server.LogLevel); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting shopbot service", zap.String("env", cfg.Server.Env))

	if cfg.Observ.JaegerEndpoint != "" {
		tp, err := util.InitTracer(cfg.Observ.JaegerEndpoint, cfg.Observ.TraceSampleRatio)
		if err != nil {
			logger.Fatal("Failed to initialize tracer", zap.Error(err))
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tp.Shutdown(ctx); err != nil {
				logger.Error("Error shutting down tracer", zap.Error(err))
			}
		}()
	}

	readiness := map[string]api.Pinger{}

	var db dataStore
	if cfg.Database.Backend == config.StoreBackendMemory {
		db = store.NewMemoryStore()
		logger.Warn("Using in-memory store, data is lost on restart")
	} else {
		db, err = store.NewStore(cfg.Database.URL)
		if err != nil {
			logger.Fatal("Failed to connect to database", zap.Error(err))
		}
		logger.Info("Database connected")
	}
	defer db.Close()
	readiness["database"] = db

	var (
		sessions session.Store
		locker   session.Locker
	)
	if cfg.Redis.Backend == config.SessionBackendMemory {
		sessions = session.NewMemoryStore()
		locker = session.NewMemoryLocker()
		logger.Warn("Using in-memory sessions, a single instance only")
	} else {
		redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		defer redisClient.Close()
		sessions = session.NewRedisStore(redisClient)
		locker = session.NewRedisLocker(redisClient)
		readiness["redis"] = redisClient
		logger.Info("Redis connected")
	}

	kafkaEnabled := len(cfg.Kafka.Brokers) > 0
	var publisher service.EventPublisher
	if kafkaEnabled {
		producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrderEvents)
		defer producer.Close()
		publisher = broker.NewEventPublisher(producer)
		logger.Info("Kafka producer initialized", zap.Strings("brokers", cfg.Kafka.Brokers))
	} else {
		publisher = broker.NewLogPublisher()
		logger.Warn("No Kafka brokers configured, events are only logged")
	}

	retry := cfg.Business.Retry()
	ingredients := ledger.NewEngine(db, db, retry)

	var verifier payment.Verifier = payment.NoopVerifier{}
	if cfg.Business.OCREndpoint != "" {
		verifier = payment.NewTextVerifier(
			payment.NewHTTPOCR(cfg.Business.OCREndpoint, cfg.Business.OCRAPIKey, cfg.Business.VerificationTimeout))
	}

	cart := service.NewCartEngine(sessions, db, cfg.Business.SessionTTL, retry)
	orders := service.NewOrderService(sessions, locker, db, ingredients, db, publisher, service.OrderServiceConfig{
		SessionTTL: cfg.Business.SessionTTL,
		LockTTL:    cfg.Business.ConfirmLockTTL,
		Retry:      retry,
	})
	fulfillment := service.NewFulfillmentService(db, ingredients, locker, publisher, service.FulfillmentConfig{
		LockTTL: cfg.Business.ConfirmLockTTL,
		Retry:   retry,
	})
	payments := service.NewPaymentService(db, fulfillment, verifier, cfg.Business.VerificationTimeout)

	var fallback nlu.Classifier = nlu.NewKeywordClassifier()
	if cfg.Business.ClassifierEndpoint != "" {
		httpClassifier := nlu.NewHTTPClassifier(cfg.Business.ClassifierEndpoint, cfg.Business.ClassifierAPIKey,
			cfg.Business.ClassifierTimeout)
		defer httpClassifier.Close()
		fallback = httpClassifier
	}
	classifiers, err := nlu.NewProvider(db, fallback, cfg.Business.ClassifierTimeout, cfg.Business.ClientCacheSize)
	if err != nil {
		logger.Fatal("Failed to create classifier provider", zap.Error(err))
	}
	defer classifiers.Close()

	notifier, err := notify.NewPool(db, cfg.Line.APIBaseURL, cfg.Line.DefaultChannelToken, cfg.Business.ClientCacheSize)
	if err != nil {
		logger.Fatal("Failed to create notifier", zap.Error(err))
	}
	defer notifier.Close()

	chat := conversation.NewHandler(cart, orders, payments, classifiers, notifier, cfg.Business.ClassifierTimeout)

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(api.Deps{
		Chat:        chat,
		Notifier:    notifier,
		Orders:      orders,
		Fulfillment: fulfillment,
		Payments:    payments,
		Inventory:   ingredients,
		Readiness:   readiness,
	})
	handler.SetupRoutes(router, cfg.Server.CORSAllowedOrigins)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	if kafkaEnabled {
		notificationWorker := worker.NewNotificationWorker(
			broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrderEvents, cfg.Kafka.ConsumerGroup+"-notify"),
			notifier)
		paymentWorker := worker.NewPaymentWorker(
			broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicPaymentEvents, cfg.Kafka.ConsumerGroup+"-payment"),
			payments)

		g.Go(func() error { return ignoreCanceled(notificationWorker.Start(ctx)) })
		g.Go(func() error { return ignoreCanceled(paymentWorker.Start(ctx)) })
		g.Go(func() error {
			<-ctx.Done()
			return errors.Join(notificationWorker.Stop(), paymentWorker.Stop())
		})
	}

	g.Go(func() error {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Service terminated with error", zap.Error(err))
	}
	logger.Info("Server exited")
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
