package service

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/DEVa-26/Disaster/common/database"
	mqttcommon "github.com/DEVa-26/Disaster/common/mqtt"
	rediscommon "github.com/DEVa-26/Disaster/common/redis"
	"github.com/DEVa-26/Disaster/internal/config"
	"github.com/DEVa-26/Disaster/internal/consumer"
	"github.com/DEVa-26/Disaster/internal/engine"
	httpapi "github.com/DEVa-26/Disaster/internal/http"
	"github.com/DEVa-26/Disaster/internal/intake"
	"github.com/DEVa-26/Disaster/internal/inventory"
	"github.com/DEVa-26/Disaster/internal/ledger"
	"github.com/DEVa-26/Disaster/internal/notifier"
	"github.com/DEVa-26/Disaster/internal/policy"
	"github.com/DEVa-26/Disaster/internal/repository"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ReliefService 资源分配服务（整合各层）
type ReliefService struct {
	config      *config.Config
	db          *sql.DB
	redisClient *redis.Client
	mqttClient  *mqttcommon.Client
	logger      *zap.Logger

	// 各层组件
	engine         *engine.Engine
	journal        *repository.PostgresJournal
	streamConsumer *consumer.StreamConsumer
	mqttIntake     *consumer.MQTTIntake
	router         *httpapi.Router
	server         *Server

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	errCh   <-chan error
	addr    net.Addr
	stopped sync.Once
}

// NewReliefService 创建服务；DB/Redis/MQTT 按配置可选启用
func NewReliefService(cfg *config.Config, logger *zap.Logger) (*ReliefService, error) {
	s := &ReliefService{config: cfg, logger: logger}
	ctx := context.Background()

	// 1. 需求表
	table, err := policy.LoadFile(cfg.Allocation.PolicyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load policy table: %w", err)
	}

	// 2. 数据库（分配流水持久化）
	var journal engine.Journal
	if cfg.DBEnabled {
		db, err := database.NewPostgresDB(&cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to connect database: %w", err)
		}
		s.db = db
		s.journal = repository.NewPostgresJournal(db, logger)
		if err := s.journal.EnsureSchema(ctx); err != nil {
			s.closeClients()
			return nil, err
		}
		journal = s.journal
	}

	// 3. Redis / MQTT（通知与事件入口）
	var publishers notifier.Multi
	if cfg.RedisEnabled {
		s.redisClient = rediscommon.NewRedisClient(&cfg.Redis)
		if err := rediscommon.Ping(ctx, s.redisClient); err != nil {
			s.closeClients()
			return nil, fmt.Errorf("failed to ping redis: %w", err)
		}
		publishers = append(publishers, notifier.NewStreamPublisher(s.redisClient, cfg.Stream.Allocations, logger))
	}
	if cfg.MQTTEnabled {
		client, err := mqttcommon.NewClient(&cfg.MQTT, logger)
		if err != nil {
			s.closeClients()
			return nil, err
		}
		s.mqttClient = client
		publishers = append(publishers, notifier.NewMQTTPublisher(client, cfg.Topics.Notify, client.QoS(), logger))
	}
	var publisher engine.Publisher
	if len(publishers) > 0 {
		publisher = publishers
	}

	// 4. 分配引擎
	s.engine = engine.New(inventory.NewStore(logger), table, ledger.New(), engine.Options{
		DefaultRegion:    cfg.Allocation.DefaultRegion,
		RegionAliases:    cfg.Allocation.RegionAliases,
		LockTimeout:      cfg.Allocation.LockTimeout,
		MaxRetries:       cfg.Allocation.MaxRetries,
		RetryBackoff:     cfg.Allocation.RetryBackoff,
		OperationTimeout: cfg.Allocation.OperationTimeout,
		Journal:          journal,
		Publisher:        publisher,
	}, logger)

	// 5. 恢复库存与流水；库中无数据时按初始库存文件补货
	if err := s.restore(ctx); err != nil {
		s.closeClients()
		return nil, err
	}

	// 6. 事件入口
	if s.redisClient != nil {
		consumerName := cfg.Stream.Consumer
		if consumerName == "" {
			consumerName = "relief-allocator-" + uuid.NewString()[:8]
		}
		s.streamConsumer = consumer.NewStreamConsumer(consumer.StreamConfig{
			Stream:    cfg.Stream.Incidents,
			Group:     cfg.Stream.Group,
			Consumer:  consumerName,
			BatchSize: cfg.Stream.BatchSize,
			Block:     cfg.Stream.Block,
		}, s.redisClient, s.engine, logger)
	}
	if s.mqttClient != nil {
		s.mqttIntake = consumer.NewMQTTIntake(s.engine, cfg.Classifier.Timeout, logger)
	}

	// 7. HTTP
	var signals httpapi.SignalProcessor
	if cfg.Classifier.TextURL != "" || cfg.Classifier.ImageURL != "" {
		var text intake.TextClassifier
		var image intake.ImageClassifier
		if cfg.Classifier.TextURL != "" {
			text = intake.NewTextClient(cfg.Classifier.TextURL, cfg.Classifier.Timeout, logger)
		}
		if cfg.Classifier.ImageURL != "" {
			image = intake.NewImageClient(cfg.Classifier.ImageURL, cfg.Classifier.Timeout, logger)
		}
		signals = intake.NewPipeline(text, image, s.engine, logger)
	}
	s.router = httpapi.NewRouter(logger)
	s.router.RegisterHealthRoutes()
	s.router.RegisterAllocationRoutes(httpapi.NewAllocationHandler(s.engine, signals, logger))
	s.server = NewServer(cfg.HTTP.Addr, s.router, logger)

	return s, nil
}

func (s *ReliefService) restore(ctx context.Context) error {
	if s.journal != nil {
		entries, err := s.journal.LoadInventory(ctx)
		if err != nil {
			return err
		}
		if len(entries) > 0 {
			records, err := s.journal.LoadRecords(ctx)
			if err != nil {
				return err
			}
			if err := s.engine.Restore(entries, records); err != nil {
				return fmt.Errorf("failed to restore allocation state: %w", err)
			}
			s.logger.Info("Allocation state restored",
				zap.Int("inventory_entries", len(entries)),
				zap.Int("records", len(records)),
			)
			return nil
		}
	}

	if s.config.Allocation.InventoryFile == "" {
		s.logger.Warn("No initial inventory configured, every request will be rejected until provisioned")
		return nil
	}
	seed, err := inventory.LoadSeedFile(s.config.Allocation.InventoryFile)
	if err != nil {
		return err
	}
	if err := s.engine.ApplySeed(ctx, seed); err != nil {
		return fmt.Errorf("failed to apply initial inventory: %w", err)
	}
	s.logger.Info("Initial inventory applied",
		zap.String("file", s.config.Allocation.InventoryFile),
		zap.Int("regions", len(seed)),
	)
	return nil
}

// Engine 分配引擎
func (s *ReliefService) Engine() *engine.Engine {
	return s.engine
}

// Handler HTTP 路由
func (s *ReliefService) Handler() http.Handler {
	return s.router
}

// Addr HTTP 实际监听地址（Start 之后有效）
func (s *ReliefService) Addr() net.Addr {
	return s.addr
}

// Err HTTP 服务异常退出时返回错误
func (s *ReliefService) Err() <-chan error {
	return s.errCh
}

// Start 启动 HTTP 服务与事件入口（非阻塞）
func (s *ReliefService) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	addr, errCh, err := s.server.Listen()
	if err != nil {
		cancel()
		return fmt.Errorf("failed to start http server: %w", err)
	}
	s.addr = addr
	s.errCh = errCh

	if s.streamConsumer != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.streamConsumer.Start(ctx); err != nil {
				s.logger.Error("Incident stream consumer stopped", zap.Error(err))
			}
		}()
	}

	if s.mqttIntake != nil {
		if err := s.mqttClient.Subscribe(s.config.Topics.Intake, s.mqttClient.QoS(), s.mqttIntake.HandleMessage); err != nil {
			return err
		}
		s.logger.Info("MQTT intake subscribed", zap.String("topic", s.config.Topics.Intake))
	}

	s.logger.Info("Relief allocator started",
		zap.Bool("db_enabled", s.db != nil),
		zap.Bool("redis_enabled", s.redisClient != nil),
		zap.Bool("mqtt_enabled", s.mqttClient != nil),
	)
	return nil
}

// Stop 停止服务并释放连接
func (s *ReliefService) Stop(ctx context.Context) error {
	var stopErr error
	s.stopped.Do(func() {
		s.logger.Info("Stopping relief allocator")

		if s.cancel != nil {
			s.cancel()
			stopErr = s.server.Stop(ctx)
		}
		if s.mqttIntake != nil {
			if err := s.mqttClient.Unsubscribe(s.config.Topics.Intake); err != nil {
				s.logger.Warn("Failed to unsubscribe MQTT intake", zap.Error(err))
			}
		}
		s.wg.Wait()
		s.closeClients()
	})
	return stopErr
}

func (s *ReliefService) closeClients() {
	if s.mqttClient != nil {
		s.mqttClient.Disconnect()
	}
	if err := rediscommon.Close(s.redisClient); err != nil {
		s.logger.Error("Failed to close redis", zap.Error(err))
	}
	if err := database.Close(s.db); err != nil {
		s.logger.Error("Failed to close database", zap.Error(err))
	}
}
