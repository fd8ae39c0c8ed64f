// Package bootstrap assembles the API and worker processes from their
// parts: storage, queues, providers, services and handlers.
package bootstrap

import (
	"context"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"mailbridge/adapter/out/parser"
	"mailbridge/adapter/out/persistence"
	"mailbridge/adapter/out/provider"
	"mailbridge/adapter/out/storage"
	"mailbridge/config"
	"mailbridge/core/port/out"
	"mailbridge/core/service/account"
	"mailbridge/core/service/auth"
	"mailbridge/core/service/email"
	"mailbridge/core/service/mailsync"
	"mailbridge/core/service/search"
	"mailbridge/infra/database"
	"mailbridge/internal/stream"
	"mailbridge/pkg/crypto"
	"mailbridge/pkg/logger"
)

// consumerGroup names the queue consumer group shared by all workers.
const consumerGroup = "mailbridge-workers"

// Dependencies is the assembled object graph.
type Dependencies struct {
	Config *config.Config
	DB     *pgxpool.Pool
	SQLDB  *sqlx.DB
	Redis  *redis.Client

	Vault *crypto.Vault

	// Repositories
	UserRepo         out.UserRepository
	AccountRepo      out.AccountRepository
	MessageRepo      out.MessageRepository
	AttachmentRepo   out.AttachmentRepository
	RefreshTokenRepo out.RefreshTokenRepository

	// Providers
	IMAPDialer *provider.IMAPDialer
	Graph      *provider.GraphAdapter
	BlobStore  out.BlobStore

	// Queues
	Stream   *stream.RedisStream
	Producer *stream.Producer
	States   *stream.StateStore

	// Services
	AuthService    *auth.Service
	AccountService *account.Service
	EmailService   *email.Service
	SearchService  *search.Service
	Orchestrator   *mailsync.Orchestrator
	Scheduler      *mailsync.Scheduler
}

// NewDependencies connects every backend and wires the object graph. The
// returned cleanup closes connections in reverse order.
func NewDependencies(cfg *config.Config) (*Dependencies, func(), error) {
	deps := &Dependencies{Config: cfg}
	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	db, err := database.NewPostgres(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	deps.DB = db
	cleanups = append(cleanups, db.Close)

	sqlDB, err := database.NewSQLX(cfg.DatabaseURL)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	deps.SQLDB = sqlDB
	cleanups = append(cleanups, func() { _ = sqlDB.Close() })

	migrateCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	if err := persistence.RunMigrations(migrateCtx, sqlDB); err != nil {
		cleanup()
		return nil, nil, err
	}

	redisCfg := database.DefaultRedisConfig()
	redisCfg.Username = cfg.QueueUser
	redisCfg.Password = cfg.QueuePass
	redisClient, err := database.NewRedis(cfg.QueueURL, redisCfg)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	deps.Redis = redisClient
	cleanups = append(cleanups, func() { _ = redisClient.Close() })

	vault, err := crypto.NewVault(cfg.EncryptionKey)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	deps.Vault = vault

	// Repositories
	deps.UserRepo = persistence.NewUserRepository(sqlDB)
	deps.AccountRepo = persistence.NewAccountRepository(sqlDB)
	deps.MessageRepo = persistence.NewMessageRepository(sqlDB)
	deps.AttachmentRepo = persistence.NewAttachmentRepository(sqlDB)
	deps.RefreshTokenRepo = persistence.NewRefreshTokenRepository(sqlDB)

	// Providers
	deps.IMAPDialer = provider.NewIMAPDialer(cfg.CertsDir, cfg.TLSRejectUnauthorized)
	deps.Graph = provider.NewGraphAdapter(provider.GraphConfig{
		ClientID:     cfg.MSClientID,
		ClientSecret: cfg.MSClientSecret,
		TenantID:     cfg.MSTenantID,
		RedirectURL:  cfg.MSRedirectURL,
	})
	deps.BlobStore = storage.NewBlobStore(cfg.BlobSinkURL)

	// Queues
	deps.Stream = stream.NewRedisStream(redisClient, consumerGroup)
	deps.Producer = stream.NewProducer(deps.Stream)
	deps.States = stream.NewStateStore(redisClient)

	// Services
	deps.AuthService = auth.NewService(deps.UserRepo, deps.RefreshTokenRepo, cfg.JWTSecret, cfg.JWTExpiry)
	deps.AccountService = account.NewService(
		deps.AccountRepo, deps.IMAPDialer, deps.Graph, deps.Graph, deps.States, vault, deps.Producer)
	deps.EmailService = email.NewService(deps.MessageRepo, deps.AttachmentRepo)
	deps.SearchService = search.NewService(deps.MessageRepo)
	deps.Orchestrator = mailsync.NewOrchestrator(
		deps.AccountRepo, deps.MessageRepo, deps.IMAPDialer, deps.Graph, deps.Graph,
		vault, parser.New(), deps.Producer)
	deps.Scheduler = mailsync.NewScheduler(deps.AccountRepo, deps.Producer, cfg.SchedulerInterval)

	logger.Info("dependencies initialized")
	return deps, cleanup, nil
}

// newZerolog builds the zerolog logger used by the worker pool.
func newZerolog(cfg *config.Config) zerolog.Logger {
	level := zerolog.InfoLevel
	if cfg.IsDevelopment() {
		level = zerolog.DebugLevel
	}
	return zerolog.New(os.Stdout).Level(level).With().
		Timestamp().
		Str("service", "mailbridge-worker").
		Str("worker_id", cfg.WorkerID).
		Logger()
}
