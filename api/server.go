package api

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/alex-thorne/ConsensusBot-sub002/api/controllers"
	"github.com/alex-thorne/ConsensusBot-sub002/api/transport"
	"github.com/alex-thorne/ConsensusBot-sub002/decisions"
	"github.com/alex-thorne/ConsensusBot-sub002/events"
	"github.com/alex-thorne/ConsensusBot-sub002/lock"
	"github.com/alex-thorne/ConsensusBot-sub002/logging"
	"github.com/alex-thorne/ConsensusBot-sub002/notify"
	"github.com/alex-thorne/ConsensusBot-sub002/storage"
	lambdaevents "github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

const (
	reminderLockName = "reminder-pass"
	expireLockName   = "expire-pass"
)

type Server struct {
	config    *Config
	store     storage.DecisionStorage
	service   *decisions.Service
	publisher events.Publisher
	locker    lock.Locker
	closers   []func() error
}

// NewServer builds every backend named in the config. Nothing is contacted
// except the SQL database, which gorm opens eagerly.
func NewServer(ctx context.Context, config *Config) (*Server, error) {
	s := &Server{config: config}

	store, err := s.newStorage(ctx)
	if err != nil {
		return nil, err
	}
	s.store = store

	loc, err := time.LoadLocation(config.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", config.Timezone, err)
	}

	notifier, err := s.newNotifier()
	if err != nil {
		return nil, err
	}
	s.service = decisions.NewService(store, decisions.WithNotifier(notifier), decisions.WithLocation(loc))
	s.publisher = s.newPublisher()
	s.locker = s.newLocker()

	return s, nil
}

func (s *Server) newStorage(ctx context.Context) (storage.DecisionStorage, error) {
	switch s.config.Backend {
	case "dynamo":
		cfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			logging.Log.Errorf("failed to load AWS config: %v", err)
			return nil, fmt.Errorf("load AWS config: %w", err)
		}
		return &storage.DynamoDecisionStorage{
			Client:         dynamodb.NewFromConfig(cfg),
			DecisionsTable: s.config.TableNameDecisions,
			VotersTable:    s.config.TableNameVoters,
			VotesTable:     s.config.TableNameVotes,
		}, nil
	case "sql":
		db, err := storage.OpenSQL(s.config.SQLDriver, s.config.SQLDSN)
		if err != nil {
			return nil, err
		}
		if sqlDB, err := db.DB(); err == nil {
			s.closers = append(s.closers, sqlDB.Close)
		}
		return storage.NewGormDecisionStorage(db), nil
	case "memory":
		logging.Log.Warn("Using in-memory storage, decisions are lost on restart")
		return storage.NewMemoryDecisionStorage(), nil
	}
	return nil, fmt.Errorf("unknown storage backend %q", s.config.Backend)
}

func (s *Server) newNotifier() (decisions.Notifier, error) {
	if s.config.Token == "" {
		logging.Log.Info("No discord token configured, reminders are only logged")
		return decisions.LogNotifier{}, nil
	}
	session, err := notify.NewDiscordSession(s.config.Token)
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, session.Close)
	return notify.NewDiscordNotifier(session, s.config.RatePerSecond, s.config.Burst), nil
}

func (s *Server) newPublisher() events.Publisher {
	if len(s.config.Brokers) == 0 {
		return events.NoopPublisher{}
	}
	p := events.NewKafkaPublisher(s.config.Brokers, s.config.Topic)
	s.closers = append(s.closers, p.Close)
	return p
}

func (s *Server) newLocker() lock.Locker {
	if s.config.Address == "" {
		return lock.NewLocalLocker()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     s.config.Address,
		Password: s.config.Password,
		DB:       s.config.DB,
	})
	s.closers = append(s.closers, client.Close)
	return lock.NewRedisLocker(client, s.config.LockTTL)
}

// Close releases every backend connection opened by NewServer.
func (s *Server) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Migrate creates the relational schema. Only the sql backend has one.
func (s *Server) Migrate() error {
	gormStore, ok := s.store.(*storage.GormDecisionStorage)
	if !ok {
		return fmt.Errorf("storage backend %q has no schema to migrate", s.config.Backend)
	}
	if err := gormStore.AutoMigrate(); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	logging.Log.Info("Schema migrated")
	return nil
}

// RunReminderPass runs one reminder pass while holding the cluster-wide lock,
// so overlapping schedules never notify a voter twice.
func (s *Server) RunReminderPass(ctx context.Context) (*decisions.ReminderReport, error) {
	var report *decisions.ReminderReport
	err := s.locker.WithLock(ctx, reminderLockName, func(ctx context.Context) error {
		var err error
		report, err = s.service.RunReminderPass(ctx)
		return err
	})
	return report, err
}

func (s *Server) CloseExpired(ctx context.Context) (int, error) {
	var closed int
	err := s.locker.WithLock(ctx, expireLockName, func(ctx context.Context) error {
		var err error
		closed, err = s.service.CloseExpired(ctx)
		return err
	})
	return closed, err
}

func (s *Server) Router(ginMode string) *gin.Engine {
	r := transport.NewRouter(ginMode, s.config.AllowedOrigins)

	controllers.NewDecisionController(s.service, s.publisher, s.config.APIToken).RegisterRoutes(r)
	controllers.NewVoteController(s.service, s.publisher, s.config.APIToken).RegisterRoutes(r)
	controllers.NewReminderController(s, s.config.APIToken).RegisterRoutes(r)

	return r
}

func (s *Server) Start() {
	//Do not run lambda helper locally
	if os.Getenv("APP_ENV") == "local" {
		startLocal(s.Router(gin.DebugMode), s.config.Port)
	} else {
		startLambda(s.Router(gin.ReleaseMode))
	}
}

// StartReminderLambda serves the scheduled EventBridge rule that drives
// reminder passes.
func (s *Server) StartReminderLambda() {
	handler := func(ctx context.Context, ev lambdaevents.CloudWatchEvent) (*decisions.ReminderReport, error) {
		logging.Log.Infof("Reminder handler triggered by %s (%s)", ev.Source, ev.ID)
		return s.RunReminderPass(ctx)
	}

	logging.Log.Info("Starting reminder lambda")
	lambda.Start(handler)
}

func startLambda(engine *gin.Engine) {
	ginLambda := ginadapter.NewV2(engine)

	handler := func(ctx context.Context, req lambdaevents.APIGatewayV2HTTPRequest) (lambdaevents.APIGatewayV2HTTPResponse, error) {
		logging.Log.Infof("Lambda handler triggered on path: %s", req.RawPath)
		return ginLambda.ProxyWithContext(ctx, req)
	}

	logging.Log.Info("Starting lambda")
	lambda.Start(handler)
}

func startLocal(engine *gin.Engine, port int) {
	logging.Log.Info(fmt.Sprintf("Starting server on http://localhost:%d", port))

	if err := engine.Run(fmt.Sprintf(":%d", port)); err != nil {
		logging.Log.Fatalf("Failed to run server: %v", err)
	}
}
