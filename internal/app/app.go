package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/IBM/sarama"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"economy/internal/config"
	"economy/internal/handler"
	"economy/internal/infrastructure/cache"
	"economy/internal/infrastructure/database"
	"economy/internal/infrastructure/lock"
	"economy/internal/infrastructure/mq"
	"economy/internal/job"
	"economy/internal/ledger"
	"economy/internal/metrics"
	"economy/internal/repository"
	"economy/internal/service"
	"economy/internal/worker"
)

const (
	earnCooldownPrefix = "economy:earn:"
	localCooldownSize  = 100_000
)

// App 进程内所有组件
type App struct {
	cfg    *config.Config
	logger *zap.Logger

	db          *gorm.DB
	gateway     *repository.AccountRepository
	deadLetters *repository.DeadLetterRepository
	pool        *worker.Pool
	queue       *ledger.Queue
	ledger      *ledger.Ledger
	flusher     *job.BatchFlusher
	service     *service.EconomyService

	redis     *redis.Client
	publisher *mq.Publisher

	registry *prometheus.Registry
	router   *gin.Engine
	server   *http.Server
}

// Option 测试时替换外部依赖
type Option func(*options)

type options struct {
	producer sarama.SyncProducer
}

// WithKafkaProducer 使用给定的生产者，忽略 kafka.enabled
func WithKafkaProducer(p sarama.SyncProducer) Option {
	return func(o *options) { o.producer = p }
}

// New 按依赖顺序初始化；任何一步失败都会关闭已打开的资源
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts ...Option) (a *App, err error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	a = &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			err = multierr.Append(err, a.closeResources())
			a = nil
		}
	}()

	a.db, err = database.Open(cfg.Database, logger.Named("database"))
	if err != nil {
		return a, err
	}
	a.gateway = repository.NewAccountRepository(a.db)
	a.deadLetters = repository.NewDeadLetterRepository(a.db)

	schemaCtx, cancel := context.WithTimeout(ctx, cfg.Economy.LoadTimeout)
	defer cancel()
	if err = a.gateway.EnsureSchema(schemaCtx); err != nil {
		return a, fmt.Errorf("初始化表结构失败: %w", err)
	}

	a.pool = worker.NewPool(cfg.Economy.WorkerThreads, logger.Named("worker"))
	a.queue = ledger.NewQueue(cfg.Economy.MaxQueueSize)
	a.ledger = ledger.New(a.gateway, a.pool, a.queue, ledger.Options{
		LoadTimeout: cfg.Economy.LoadTimeout,
		Logger:      logger.Named("ledger"),
	})

	var listeners []job.CommitListener
	var cooldown service.Cooldown = lock.NewLocalCooldown(localCooldownSize, cfg.Economy.EarnCooldown)

	if cfg.Redis.Enabled {
		a.redis, err = cache.NewRedis(cfg.Redis)
		if err != nil {
			return a, err
		}
		listeners = append(listeners, cache.NewBalanceMirror(a.redis))
		cooldown = lock.NewRedisCooldown(a.redis, earnCooldownPrefix, cfg.Economy.EarnCooldown)
		logger.Info("Redis 连接成功")
	}

	producer := o.producer
	if producer == nil && cfg.Kafka.Enabled {
		producer, err = mq.NewProducer(cfg.Kafka)
		if err != nil {
			return a, err
		}
		logger.Info("Kafka 生产者创建成功")
	}
	if producer != nil {
		a.publisher = mq.NewPublisher(producer, cfg.Kafka.Topic)
		listeners = append(listeners, a.publisher)
	}

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	flusherMetrics := metrics.NewFlusher(a.registry, a.queue.Len)

	a.flusher = job.NewBatchFlusher(a.queue, a.gateway, a.pool, cfg.Economy,
		job.WithLogger(logger.Named("flusher")),
		job.WithMetrics(flusherMetrics),
		job.WithDeadLetterSink(a.deadLetters),
		job.WithCommitListeners(listeners...),
	)

	a.service = service.NewEconomyService(a.ledger, cooldown, a.deadLetters, cfg.Economy, logger.Named("service"))

	a.router = handler.SetupRouter(a.service, a.registry, a.health, logger.Named("http"))
	a.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           a.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return a, nil
}

func (a *App) health() gin.H {
	return gin.H{
		"queue_length":  a.queue.Len(),
		"flusher_state": a.flusher.State().String(),
		"loaded":        a.ledger.Cache().Len(),
	}
}

func (a *App) Ledger() *ledger.Ledger { return a.ledger }

func (a *App) Service() *service.EconomyService { return a.service }

func (a *App) Handler() http.Handler { return a.router }

// Start 启动落库任务和 HTTP 服务，不阻塞
func (a *App) Start(ctx context.Context) {
	go a.flusher.Start(ctx)

	go func() {
		a.logger.Info("服务启动", zap.Int("port", a.cfg.Server.Port))
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("服务启动失败", zap.Error(err))
		}
	}()
}

// Shutdown 停止顺序：HTTP -> 定时落库 -> 在途批次 -> 关闭队列 -> 清空队列 -> 工作池 -> 外部连接
func (a *App) Shutdown(ctx context.Context) error {
	var errs error

	if err := a.server.Shutdown(ctx); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("关闭 HTTP 服务: %w", err))
	}

	a.flusher.Stop()
	a.flusher.Wait()

	a.queue.Close()
	pending := a.queue.Len()
	if err := a.flusher.FlushAll(ctx); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("清空待落库队列: %w", err))
	}
	a.logger.Info("待落库队列已清空", zap.Int("flushed", pending-a.queue.Len()), zap.Int("left", a.queue.Len()))

	return multierr.Append(errs, a.closeResources())
}

func (a *App) closeResources() error {
	var errs error
	if a.pool != nil {
		a.pool.Close()
	}
	if a.gateway != nil {
		errs = multierr.Append(errs, a.gateway.Close())
	} else if a.db != nil {
		if sqlDB, err := a.db.DB(); err == nil {
			errs = multierr.Append(errs, sqlDB.Close())
		}
	}
	if a.publisher != nil {
		errs = multierr.Append(errs, a.publisher.Close())
	}
	if a.redis != nil {
		errs = multierr.Append(errs, a.redis.Close())
	}
	return errs
}

// Migrate 只执行建表
func Migrate(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	db, err := database.Open(cfg.Database, logger.Named("database"))
	if err != nil {
		return err
	}
	gateway := repository.NewAccountRepository(db)
	return multierr.Append(gateway.EnsureSchema(ctx), gateway.Close())
}
