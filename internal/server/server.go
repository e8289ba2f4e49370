package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	gormlogger "gorm.io/gorm/logger"

	"github.com/worship-room/internal/config"
	"github.com/worship-room/internal/history"
	"github.com/worship-room/internal/permission"
	"github.com/worship-room/internal/room"
	"github.com/worship-room/internal/ws"
	"github.com/worship-room/pkg/database"
	"github.com/worship-room/pkg/events"
	"github.com/worship-room/pkg/jwt"
	"github.com/worship-room/pkg/redis"
)

const (
	shutdownTimeout = 15 * time.Second
	devJWTSecret    = "worship-room-develop"
)

// consumer feeds broadcast events from a shared bus into the local hub.
type consumer interface {
	Consume(ctx context.Context, handler events.Handler) error
	Close() error
}

// RunHttp serves the API until SIGINT or SIGTERM.
func RunHttp(cfg *config.Config) error {
	ctx, cancel := signal.NotifyContext(setupLogger(cfg), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	logger := zerolog.Ctx(ctx)

	logger.Info().Str("env", cfg.App.Environment).Bool("isProduction", cfg.App.IsProduction()).Send()
	if cfg.App.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	hub := ws.NewHub(*logger)
	publisher, sub, err := newBroadcast(ctx, cfg, hub)
	if err != nil {
		return err
	}
	if sub != nil {
		defer sub.Close()
	}

	opts := []room.Option{
		room.WithLogger(*logger),
		room.WithSyncBuffer(cfg.Engine.SyncBuffer),
	}
	if cfg.Redis.Enabled() {
		client := goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		opts = append(opts,
			room.WithLocker(redis.NewRoomLocker(client, cfg.Engine.LockTTL)),
			room.WithPlaybackCache(redis.NewPlaybackCache(client, cfg.Redis.CacheTTL)),
		)
		logger.Info().Str("addr", cfg.Redis.Addr).Msg("using redis room locks and playback cache")
	}

	svc := room.NewService(db, permission.NewRoleGate(db), history.NewRecorder(db), publisher, opts...)
	router := NewRouter(cfg, *logger, svc, hub, newSigner(cfg))

	handler := http.Server{
		Handler:           router,
		Addr:              fmt.Sprintf(":%s", cfg.Server.Port),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("addr", handler.Addr).Msg("start http server")
		if err := handler.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	if sub != nil {
		g.Go(func() error {
			err := sub.Consume(gctx, hub.Deliver)
			if err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("event consumer: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return handler.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	logger.Info().Str("env", cfg.App.Environment).Msg("server shutdown")
	return err
}

// Migrate creates or updates the schema.
func Migrate(cfg *config.Config) error {
	ctx := setupLogger(cfg)
	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := database.AutoMigrate(db); err != nil {
		return err
	}
	zerolog.Ctx(ctx).Info().Str("driver", cfg.Database.Driver).Msg("schema migrated")
	return nil
}

// ExportHistory uploads the room's play history to MinIO and returns the
// object name.
func ExportHistory(cfg *config.Config, roomID uuid.UUID) (string, error) {
	ctx := setupLogger(cfg)
	db, err := openDB(cfg)
	if err != nil {
		return "", err
	}
	defer db.Close()

	store, err := minio.New(cfg.MinIO.URL, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinIO.AccessID, cfg.MinIO.Secret, ""),
		Secure: cfg.MinIO.Secure,
	})
	if err != nil {
		return "", fmt.Errorf("failed to create minio client: %w", err)
	}

	exists, err := store.BucketExists(ctx, cfg.MinIO.Bucket)
	if err != nil {
		return "", fmt.Errorf("failed to check bucket: %w", err)
	}
	if !exists {
		if err := store.MakeBucket(ctx, cfg.MinIO.Bucket, minio.MakeBucketOptions{}); err != nil {
			return "", fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return history.NewExporter(history.NewRecorder(db), store, cfg.MinIO.Bucket).Export(ctx, roomID)
}

// newBroadcast picks the publisher for room events. With a shared bus the
// returned consumer must run so that published events reach local sockets.
func newBroadcast(ctx context.Context, cfg *config.Config, hub *ws.Hub) (events.Publisher, consumer, error) {
	switch cfg.Broadcast.Driver {
	case "kafka":
		groupID := cfg.Kafka.GroupID
		if groupID == "" {
			// every instance needs every event, so each gets its own group
			groupID = "worship-room-" + uuid.NewString()
		}
		client := events.NewKafkaClient(cfg.Kafka.Brokers, cfg.Kafka.Topic, groupID)
		return client, client, nil
	case "amqp":
		conn, err := events.DialAMQP(ctx, events.AMQPConfig{
			Host:     cfg.RabbitMQ.Host,
			Port:     cfg.RabbitMQ.Port,
			User:     cfg.RabbitMQ.User,
			Pass:     cfg.RabbitMQ.Pass,
			Exchange: cfg.RabbitMQ.Exchange,
		})
		if err != nil {
			return nil, nil, err
		}
		client, err := events.NewAMQPClient(conn, cfg.RabbitMQ.Exchange)
		if err != nil {
			return nil, nil, err
		}
		return client, client, nil
	default:
		return hub, nil, nil
	}
}

func openDB(cfg *config.Config) (*database.DB, error) {
	logLevel := gormlogger.Warn
	if cfg.App.IsDevelop() {
		logLevel = gormlogger.Info
	}
	return database.Open(database.Config{
		Driver:          cfg.Database.Driver,
		DSN:             cfg.Database.DSN,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		LogLevel:        logLevel,
	})
}

func newSigner(cfg *config.Config) *jwt.Signer {
	secret := cfg.JWT.Secret
	if secret == "" {
		secret = devJWTSecret
	}
	return jwt.NewSigner(secret, cfg.JWT.TTL)
}

func setupLogger(cfg *config.Config) context.Context {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if cfg.App.IsDevelop() {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	return logger.WithContext(context.Background())
}
