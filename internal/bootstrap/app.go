package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/milvus-io/milvus/client/v2/milvusclient"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"studymate/internal/ai"
	"studymate/internal/app"
	"studymate/internal/cache"
	"studymate/internal/config"
	"studymate/internal/model"
	"studymate/internal/platform/gcs"
	"studymate/internal/platform/logger"
	milvusClient "studymate/internal/platform/milvus"
	mysqlClient "studymate/internal/platform/mysql"
	rabbitmqClient "studymate/internal/platform/rabbitmq"
	redisClient "studymate/internal/platform/redis"
	"studymate/internal/progress"
	"studymate/internal/repository"
	"studymate/internal/vectorstore"
	"studymate/internal/vision"
	"studymate/internal/worker"
)

// Services are the use cases the HTTP layer is built from.
type Services struct {
	Auth      *app.AuthService
	Quota     *app.QuotaService
	Ingest    *app.IngestService
	Documents *app.DocumentService
	Chat      *app.ChatService
	Quiz      *app.QuizService
	Podcast   *app.PodcastService
	Coach     *app.CoachService
	Describer app.ImageDescriber
}

type App struct {
	Config *config.Config
	Log    *logger.Logger

	MySQL  *gorm.DB
	Redis  *redis.Client
	MQConn *amqp.Connection
	Milvus *milvusclient.Client
	Bucket *gcs.Bucket

	Vectors       *vectorstore.MilvusStore
	Hub           *progress.Hub
	TurnPublisher *rabbitmqClient.TurnPublisher
	TurnWorker    *worker.TurnPersistWorker
	Services      Services

	StartedAt time.Time

	stopBridge  context.CancelFunc
	closeVision func() error
}

// Migrate creates or updates every table the service owns.
func Migrate(ctx context.Context, cfg *config.Config) error {
	db, err := mysqlClient.New(ctx, cfg.MySQLDSN())
	if err != nil {
		return err
	}
	defer func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}()
	if err := db.WithContext(ctx).AutoMigrate(model.All()...); err != nil {
		return fmt.Errorf("auto migrate tables failed: %w", err)
	}
	return nil
}

// New connects every dependency and builds the services. Whatever was opened
// before a failure is closed again.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	a := &App{Config: cfg, Log: log, StartedAt: time.Now()}
	if err := a.init(ctx); err != nil {
		if closeErr := a.Close(); closeErr != nil {
			log.Warn("close after failed bootstrap", "error", closeErr)
		}
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	cfg := a.Config
	var err error

	if a.MySQL, err = mysqlClient.New(ctx, cfg.MySQLDSN()); err != nil {
		return err
	}
	if err := a.MySQL.WithContext(ctx).AutoMigrate(model.All()...); err != nil {
		return fmt.Errorf("auto migrate tables failed: %w", err)
	}
	if a.Redis, err = redisClient.New(ctx, cfg.Redis); err != nil {
		return err
	}
	if a.MQConn, err = rabbitmqClient.New(ctx, cfg.RabbitMQ.URL, cfg.RabbitMQ.TurnPersistQueue); err != nil {
		return err
	}
	if a.Milvus, err = milvusClient.New(ctx, cfg.Milvus); err != nil {
		return err
	}
	a.Vectors = vectorstore.NewMilvusStore(a.Log, a.Milvus, cfg.Milvus.Collection, cfg.Embedding.Dimension)
	if err := a.Vectors.EnsureCollection(ctx); err != nil {
		return err
	}
	if a.Bucket, err = gcs.New(ctx, a.Log, cfg.Storage.Bucket); err != nil {
		return err
	}

	embedder, err := ai.NewEmbedder(ai.EmbeddingConfig{
		BaseURL:   cfg.Embedding.BaseURL,
		APIKey:    cfg.Embedding.APIKey,
		Model:     cfg.Embedding.Model,
		Dimension: cfg.Embedding.Dimension,
	})
	if err != nil {
		return err
	}
	completer := ai.NewOpenAICompatibleClient(ai.ChatConfig{
		BaseURL: cfg.LLM.BaseURL,
		APIKey:  cfg.LLM.APIKey,
		Model:   cfg.LLM.Model,
		Timeout: time.Duration(cfg.LLM.TimeoutSeconds) * time.Second,
	})
	speech := ai.NewSpeechClient(ai.SpeechConfig{
		BaseURL: cfg.Speech.BaseURL,
		APIKey:  cfg.Speech.APIKey,
		Model:   cfg.Speech.Model,
		Voice:   cfg.Speech.Voice,
	})
	describer, err := a.newDescriber(ctx)
	if err != nil {
		return err
	}

	// Progress events travel through redis so every replica's hub sees them.
	a.Hub = progress.NewHub(a.Log)
	bridge := progress.NewRedisBridge(a.Redis, cfg.Redis.ProgressChannel, a.Hub, a.Log)
	bridgeCtx, stop := context.WithCancel(context.WithoutCancel(ctx))
	a.stopBridge = stop
	go func() {
		if err := bridge.Run(bridgeCtx); err != nil && !errors.Is(err, context.Canceled) {
			a.Log.Error("progress bridge stopped", "error", err)
		}
	}()

	history := cache.NewHistoryCache(
		a.Redis,
		time.Duration(cfg.Redis.HistoryTTLSeconds)*time.Second,
		time.Duration(cfg.Redis.HistoryDirtyTTLSeconds)*time.Second,
	)

	userRepo := repository.NewUserRepository(a.MySQL)
	docRepo := repository.NewDocumentRepository(a.MySQL)
	turnRepo := repository.NewChatTurnRepository(a.MySQL)
	usageRepo := repository.NewUsageRepository(a.MySQL)
	resultRepo := repository.NewQuizResultRepository(a.MySQL)
	mistakeRepo := repository.NewMistakeRepository(a.MySQL)

	a.TurnPublisher = rabbitmqClient.NewTurnPublisher(a.MQConn, cfg.RabbitMQ.TurnPersistQueue)
	a.TurnWorker = worker.NewTurnPersistWorker(a.MQConn, turnRepo, history, cfg.RabbitMQ.TurnPersistQueue, a.Log)
	if err := a.TurnWorker.Start(ctx); err != nil {
		return fmt.Errorf("start turn persist worker failed: %w", err)
	}

	clock, err := app.NewClock(cfg.App.Timezone)
	if err != nil {
		return err
	}
	retry := app.RetryPolicy{
		Attempts: cfg.Ingestion.RetryAttempts,
		Delay:    time.Duration(cfg.Ingestion.RetryDelayMS) * time.Millisecond,
	}
	contextOpts := app.ContextOptions{
		MaxChars:       cfg.Retrieval.MaxContextChars,
		EndMarkers:     cfg.Retrieval.EndMarkers,
		TruncationMark: cfg.Retrieval.TruncationMark,
	}

	quota := app.NewQuotaService(usageRepo, app.QuotaLimits{
		DailyContentGeneration: cfg.Quota.DailyContentGeneration,
		DailyTutoringTurns:     cfg.Quota.DailyTutoringTurns,
		DailyCoachingMessages:  cfg.Quota.DailyCoachingMessages,
		LifetimeUploads:        cfg.Quota.LifetimeUploads,
	}, clock, a.Log)
	retriever := app.NewRetriever(embedder, a.Vectors, cfg.Embedding.Dimension, cfg.Retrieval.TopK, retry, a.Log)

	ingest, err := app.NewIngestService(docRepo, quota, embedder, a.Vectors, bridge, app.IngestConfig{
		ChunkSize:       cfg.Ingestion.ChunkSize,
		ChunkOverlap:    cfg.Ingestion.ChunkOverlap,
		EmbedBatchSize:  cfg.Ingestion.EmbedBatchSize,
		UpsertBatchSize: cfg.Ingestion.UpsertBatchSize,
		Dimension:       cfg.Embedding.Dimension,
		Retry:           retry,
		PoolSize:        cfg.Ingestion.PoolSize,
	}, a.Log)
	if err != nil {
		return err
	}

	a.Services = Services{
		Auth: app.NewAuthService(
			userRepo,
			cfg.Auth.JWTSecret,
			time.Duration(cfg.Auth.JWTExpireMinute)*time.Minute,
		),
		Quota:     quota,
		Ingest:    ingest,
		Documents: app.NewDocumentService(docRepo, turnRepo, resultRepo, mistakeRepo, a.Vectors, history, a.Log),
		Chat: app.NewChatService(turnRepo, a.TurnPublisher, history, retriever, quota, completer, describer, app.ChatConfig{
			HistoryTurns: cfg.LLM.HistoryTurns,
			Temperature:  cfg.LLM.AnswerTemperature,
			Context:      contextOpts,
			Retry:        retry,
		}, a.Log),
		Quiz: app.NewQuizService(retriever, quota, completer, resultRepo, mistakeRepo, app.QuizConfig{
			Temperature: cfg.LLM.QuizTemperature,
			Context:     contextOpts,
			Retry:       retry,
		}, a.Log),
		Podcast: app.NewPodcastService(a.Bucket, mistakeRepo, completer, speech, clock, app.PodcastConfig{
			KeyPrefix:      cfg.Podcast.KeyPrefix,
			TopTopics:      cfg.Podcast.TopTopics,
			MaxScriptChars: cfg.Podcast.MaxScriptChars,
			SignedURLTTL:   time.Duration(cfg.Storage.SignedURLSeconds) * time.Second,
			Temperature:    cfg.LLM.PodcastTemperature,
			Retry:          retry,
		}, a.Log),
		Coach: app.NewCoachService(quota, completer, resultRepo, mistakeRepo, app.CoachConfig{
			Temperature: cfg.LLM.AnswerTemperature,
			Retry:       retry,
		}, a.Log),
		Describer: describer,
	}
	return nil
}

func (a *App) newDescriber(ctx context.Context) (app.ImageDescriber, error) {
	v := a.Config.Vision
	switch v.Provider {
	case "", "gcp":
		d, err := vision.NewGCPDescriber(ctx, v.TopK, gcs.ClientOptionsFromEnv()...)
		if err != nil {
			return nil, err
		}
		a.closeVision = d.Close
		return d, nil
	case "onnx":
		d := vision.NewLocalDescriber(v.ModelPath, v.LabelsPath, v.ONNXSharedLibPath, v.TopK)
		a.closeVision = func() error {
			d.Close()
			return nil
		}
		return d, nil
	default:
		return nil, fmt.Errorf("unknown vision provider %q", v.Provider)
	}
}

// Close releases resources in reverse order of creation.
func (a *App) Close() error {
	var errs []error
	if a.TurnWorker != nil {
		a.TurnWorker.Close()
	}
	if a.TurnPublisher != nil {
		if err := a.TurnPublisher.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.Services.Ingest != nil {
		a.Services.Ingest.Close()
	}
	if a.stopBridge != nil {
		a.stopBridge()
	}
	if a.closeVision != nil {
		if err := a.closeVision(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.Bucket != nil {
		if err := a.Bucket.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.Vectors != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.Vectors.Close(ctx); err != nil {
			errs = append(errs, err)
		}
		cancel()
	}
	if a.MQConn != nil && !a.MQConn.IsClosed() {
		if err := a.MQConn.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.MySQL != nil {
		if sqlDB, err := a.MySQL.DB(); err == nil {
			if err := sqlDB.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
