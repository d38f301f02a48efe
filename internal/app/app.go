// Package app wires configuration into a running dispatch engine: store,
// cipher, transports, tracker, dispatcher, scheduler and control service.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/ignite/campaign-dispatch/internal/config"
	"github.com/ignite/campaign-dispatch/internal/mailing"
	"github.com/ignite/campaign-dispatch/internal/pkg/credentials"
	"github.com/ignite/campaign-dispatch/internal/pkg/distlock"
	"github.com/ignite/campaign-dispatch/internal/pkg/logger"
	"github.com/ignite/campaign-dispatch/internal/repository/memory"
	"github.com/ignite/campaign-dispatch/internal/repository/postgres"
	"github.com/ignite/campaign-dispatch/internal/service/campaign"
	"github.com/ignite/campaign-dispatch/internal/tracking"
	"github.com/ignite/campaign-dispatch/internal/worker"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
)

// Runtime holds the wired components. DB and Redis are nil when not configured.
type Runtime struct {
	Config     *config.Config
	DB         *sql.DB
	Redis      *redis.Client
	Store      campaign.Store
	Tracker    *mailing.Tracker
	Dispatcher *worker.Dispatcher
	Scheduler  *worker.CampaignScheduler
	Service    *campaign.Service
	Publisher  *tracking.Publisher
}

// ConfigureLogging applies the logging section to the package logger.
func ConfigureLogging(cfg config.LoggingConfig) {
	logger.SetOutput(os.Stdout)
	logger.SetLevel(logger.ParseLevel(cfg.Level))
	logger.SetRedactPII(cfg.Redact())
}

// Build validates cfg and wires every component. On error, anything
// already opened is closed.
func Build(ctx context.Context, cfg *config.Config) (_ *Runtime, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cipher, err := credentials.NewCipher([]byte(cfg.Security.EncryptionKey))
	if err != nil {
		return nil, err
	}

	rt := &Runtime{Config: cfg}
	defer func() {
		if err != nil {
			rt.Close()
		}
	}()

	switch cfg.Database.Driver {
	case "postgres":
		if rt.DB, err = openPostgres(ctx, cfg.Database); err != nil {
			return nil, err
		}
		rt.Store = postgres.NewStore(rt.DB)
	case "memory":
		log.Println("[app] Using in-memory store; data is lost on exit")
		rt.Store = memory.NewStore()
	}

	if cfg.Events.SQSQueueURL != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Events.AWSRegion))
		if err != nil {
			return nil, fmt.Errorf("aws config: %w", err)
		}
		rt.Publisher = tracking.NewPublisher(sqs.NewFromConfig(awsCfg), cfg.Events.SQSQueueURL)
		rt.Store = tracking.WithEventMirror(rt.Store, rt.Publisher)
		log.Printf("[app] Mirroring campaign events to %s", cfg.Events.SQSQueueURL)
	}

	rt.Tracker = mailing.NewTracker(rt.Store, cfg.Tracking.PublicBaseURL)
	if !rt.Tracker.Enabled() {
		log.Println("[app] tracking.public_base_url not set; open pixels and click links are disabled")
	}

	transports := mailing.DefaultTransportFactory{SMTPTimeout: cfg.Dispatch.SMTPTimeout()}
	rt.Dispatcher = worker.NewDispatcher(rt.Store, cipher, transports, rt.Tracker)
	rt.Dispatcher.SetRewriteLinks(cfg.Tracking.RewriteLinks)

	switch cfg.Dispatch.LockBackend {
	case "redis":
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		rt.Redis = redis.NewClient(opts)
		if err := rt.Redis.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		rt.Dispatcher.SetLockFactory(distlock.RedisFactory(rt.Redis, cfg.Dispatch.LockTTL()), cfg.Dispatch.LockTTL())
	case "postgres":
		rt.Dispatcher.SetLockFactory(distlock.PostgresFactory(rt.DB), 0)
	}

	rt.Scheduler = worker.NewCampaignScheduler(rt.Store.Campaigns(), rt.Dispatcher)
	rt.Scheduler.SetPollInterval(cfg.Scheduler.Interval())
	rt.Scheduler.SetBatch(cfg.Scheduler.BatchLimit)

	rt.Service = campaign.NewService(rt.Store.Campaigns(), rt.Dispatcher)
	return rt, nil
}

func openPostgres(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(1 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// StartScheduler starts the due-campaign poller. Without a cross-process
// lock backend, two processes polling the same database can both dispatch a
// campaign, so that setup is logged as a warning.
func (rt *Runtime) StartScheduler() error {
	if rt.Config.Dispatch.LockBackend == "none" {
		log.Println("[app] WARNING: scheduler running with dispatch.lock_backend=none; " +
			"run a single poller or set REDIS_URL / lock_backend=postgres")
	}
	return rt.Scheduler.Start()
}

// Shutdown stops the scheduler, then stops in-flight dispatch loops and
// waits for them until ctx expires.
func (rt *Runtime) Shutdown(ctx context.Context) error {
	if rt.Scheduler != nil {
		rt.Scheduler.Stop()
	}
	var err error
	if rt.Dispatcher != nil {
		err = rt.Dispatcher.Shutdown(ctx)
	}
	if rt.Publisher != nil {
		rt.Publisher.Wait()
	}
	return err
}

// Close releases connections. Call after Shutdown.
func (rt *Runtime) Close() {
	if rt.Redis != nil {
		rt.Redis.Close()
	}
	if rt.DB != nil {
		rt.DB.Close()
	}
}
