// Package bootstrap builds the store, transport and object store selected by
// configuration and the job components that run on top of them.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"

	"github.com/cuongbtq/quizjobs/internal/awsx"
	"github.com/cuongbtq/quizjobs/internal/backoff"
	"github.com/cuongbtq/quizjobs/internal/config"
	"github.com/cuongbtq/quizjobs/internal/handler"
	"github.com/cuongbtq/quizjobs/internal/objectstore"
	objmem "github.com/cuongbtq/quizjobs/internal/objectstore/memory"
	objs3 "github.com/cuongbtq/quizjobs/internal/objectstore/s3"
	"github.com/cuongbtq/quizjobs/internal/producer"
	"github.com/cuongbtq/quizjobs/internal/reconciler"
	"github.com/cuongbtq/quizjobs/internal/store"
	storemem "github.com/cuongbtq/quizjobs/internal/store/memory"
	"github.com/cuongbtq/quizjobs/internal/store/postgres"
	"github.com/cuongbtq/quizjobs/internal/transport"
	queuemem "github.com/cuongbtq/quizjobs/internal/transport/memory"
	rabbittransport "github.com/cuongbtq/quizjobs/internal/transport/rabbitmq"
	sqstransport "github.com/cuongbtq/quizjobs/internal/transport/sqs"
	"github.com/cuongbtq/quizjobs/internal/worker"
	"github.com/cuongbtq/quizjobs/shared/postgresql"
	"github.com/cuongbtq/quizjobs/shared/rabbitmq"
)

// Backends are the external resources a process talks to
type Backends struct {
	Records   store.Records
	Quizzes   store.Quizzes
	Transport transport.Transport
	// DeadLetter is nil when no dead-letter queue is configured
	DeadLetter transport.Transport
	// Objects is only opened when requested
	Objects objectstore.Store

	closers []func() error
	checks  []healthCheck
	aws     *aws.Config
}

type healthCheck struct {
	name  string
	probe func(ctx context.Context) error
}

// Options selects optional backends
type Options struct {
	ObjectStore bool
}

// Open connects every backend named in cfg. On error, anything already opened is closed.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts Options) (*Backends, error) {
	b := &Backends{}

	if err := b.openStore(ctx, cfg, logger); err != nil {
		return nil, errors.Join(err, b.Close())
	}
	if err := b.openTransport(ctx, cfg, logger); err != nil {
		return nil, errors.Join(err, b.Close())
	}
	if opts.ObjectStore {
		if err := b.openObjectStore(ctx, cfg, logger); err != nil {
			return nil, errors.Join(err, b.Close())
		}
	}
	return b, nil
}

// Health probes every networked backend and returns the failures keyed by backend name.
// An empty map means healthy.
func (b *Backends) Health(ctx context.Context) map[string]error {
	failed := make(map[string]error)
	for _, c := range b.checks {
		if err := c.probe(ctx); err != nil {
			failed[c.name] = err
		}
	}
	return failed
}

// Close releases connections in reverse order of opening
func (b *Backends) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	b.closers = nil
	return errors.Join(errs...)
}

func (b *Backends) openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	switch cfg.Store.Driver {
	case config.DriverMemory:
		st := storemem.New()
		b.Records, b.Quizzes = st, st
		logger.Warn("Using in-memory job store, records are lost on exit")
		return nil

	case config.DriverPostgres:
		client, err := postgresql.NewClient(PostgresConfig(cfg), logger)
		if err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}
		b.closers = append(b.closers, client.Close)
		b.checks = append(b.checks, healthCheck{name: "postgres", probe: client.HealthCheck})

		if cfg.Store.Migrate {
			if err := client.Migrate(ctx, postgres.Schema...); err != nil {
				return err
			}
		}

		st := postgres.NewStorage(client, logger)
		b.Records, b.Quizzes = st, st
		logger.Info("Database connection established", slog.Any("pool", client.Stats()))
		return nil

	default:
		return fmt.Errorf("unknown store driver: %q", cfg.Store.Driver)
	}
}

func (b *Backends) openTransport(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	switch cfg.Transport.Driver {
	case config.DriverMemory:
		dlq := queuemem.New("jobs-dlq")
		main := queuemem.New("jobs",
			queuemem.WithVisibilityTimeout(cfg.Transport.VisibilityTimeout),
			queuemem.WithRedrive(dlq, cfg.Transport.MaxReceiveCount),
		)
		b.Transport, b.DeadLetter = main, dlq
		b.closers = append(b.closers, main.Close, dlq.Close)
		return nil

	case config.DriverRabbitMQ:
		client, err := rabbitmq.NewClient(RabbitMQConfig(cfg), logger)
		if err != nil {
			return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
		}
		b.closers = append(b.closers, client.Close)
		b.checks = append(b.checks, healthCheck{name: "rabbitmq", probe: func(context.Context) error {
			if !client.IsConnected() {
				return rabbitmq.ErrNotConnected
			}
			return nil
		}})

		b.Transport = rabbittransport.NewMain(client, cfg.Transport.VisibilityTimeout, logger)
		if client.DeadLetterQueueName() != "" {
			b.DeadLetter = rabbittransport.NewDeadLetter(client, cfg.Transport.VisibilityTimeout, logger)
		}
		logger.Info("RabbitMQ connection established")
		return nil

	case config.DriverSQS:
		return b.openSQS(ctx, cfg, logger)

	default:
		return fmt.Errorf("unknown transport driver: %q", cfg.Transport.Driver)
	}
}

func (b *Backends) openSQS(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	awsCfg, err := b.awsConfig(ctx, cfg)
	if err != nil {
		return err
	}
	sqsCfg := cfg.AWS.SQS
	client := awsx.NewSQS(awsCfg, sqsCfg.Endpoint)

	mainURL, dlqURL := sqsCfg.QueueURL, sqsCfg.DLQURL
	if sqsCfg.CreateQueues {
		mainURL, dlqURL, err = sqstransport.EnsureQueues(ctx, client, sqstransport.QueueSpec{
			Name:              sqsCfg.QueueName,
			DeadLetterName:    sqsCfg.DLQName,
			VisibilityTimeout: cfg.Transport.VisibilityTimeout,
			MaxReceiveCount:   cfg.Transport.MaxReceiveCount,
		})
		if err != nil {
			return err
		}
	}

	if mainURL == "" {
		if mainURL, err = sqstransport.ResolveQueueURL(ctx, client, sqsCfg.QueueName); err != nil {
			return err
		}
	}
	if dlqURL == "" && sqsCfg.DLQName != "" {
		if dlqURL, err = sqstransport.ResolveQueueURL(ctx, client, sqsCfg.DLQName); err != nil {
			return err
		}
	}

	b.Transport = sqstransport.New(client, mainURL, logger)
	if dlqURL != "" {
		b.DeadLetter = sqstransport.New(client, dlqURL, logger)
	}
	logger.Info("SQS queue resolved", slog.String("queue_url", mainURL), slog.String("dlq_url", dlqURL))
	return nil
}

func (b *Backends) openObjectStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	switch cfg.ObjectStore.Driver {
	case config.DriverMemory:
		b.Objects = objmem.New()
		logger.Warn("Using in-memory object store, exports are lost on exit")
		return nil

	case config.DriverS3:
		awsCfg, err := b.awsConfig(ctx, cfg)
		if err != nil {
			return err
		}
		s3Cfg := cfg.AWS.S3
		b.Objects = objs3.New(awsx.NewS3(awsCfg, s3Cfg.Endpoint, s3Cfg.UsePathStyle), s3Cfg.Bucket, s3Cfg.Prefix, logger)
		return nil

	default:
		return fmt.Errorf("unknown object store driver: %q", cfg.ObjectStore.Driver)
	}
}

func (b *Backends) awsConfig(ctx context.Context, cfg *config.Config) (aws.Config, error) {
	if b.aws != nil {
		return *b.aws, nil
	}
	awsCfg, err := awsx.LoadConfig(ctx,
		awsx.WithRegion(cfg.AWS.Region),
		awsx.WithProfile(cfg.AWS.Profile),
		awsx.WithMaxAttempts(cfg.AWS.MaxAttempts),
	)
	if err != nil {
		return aws.Config{}, err
	}
	b.aws = &awsCfg
	return awsCfg, nil
}

// PostgresConfig maps the database section onto the client config. Connections
// are labelled with the application name so they can be told apart in pg_stat_activity.
func PostgresConfig(cfg *config.Config) *postgresql.Config {
	db := cfg.Database
	return &postgresql.Config{
		Host:            db.Host,
		Port:            db.Port,
		User:            db.User,
		Password:        db.Password,
		Database:        db.Database,
		SSLMode:         db.SSLMode,
		ApplicationName: cfg.App.Name,
		ConnectTimeout:  db.ConnectTimeout,
		MaxOpenConns:    db.MaxOpenConns,
		MaxIdleConns:    db.MaxIdleConns,
		ConnMaxLifetime: db.ConnMaxLifetime,
		ConnMaxIdleTime: db.ConnMaxIdleTime,
	}
}

// RabbitMQConfig maps the rabbitmq section onto the client config. The broker's
// delivery limit mirrors transport.max_receive_count when a dead-letter queue is set.
func RabbitMQConfig(cfg *config.Config) *rabbitmq.Config {
	rc := cfg.RabbitMQ
	out := &rabbitmq.Config{
		Host:               rc.Host,
		Port:               rc.Port,
		User:               rc.User,
		Password:           rc.Password,
		VHost:              rc.VHost,
		ExchangeName:       rc.Exchange.Name,
		ExchangeType:       rc.Exchange.Type,
		ExchangeDurable:    rc.Exchange.Durable,
		ExchangeAutoDelete: rc.Exchange.AutoDelete,
		QueueName:          rc.Queue.Name,
		QueueType:          rc.Queue.Type,
		QueueDurable:       rc.Queue.Durable,
		QueueAutoDelete:    rc.Queue.AutoDelete,
		QueueExclusive:     rc.Queue.Exclusive,
		RoutingKey:         rc.RoutingKey,
		DeadLetterExchange: rc.DeadLetter.Exchange,
		DeadLetterQueue:    rc.DeadLetter.Queue,
		RetryAttempts:      rc.Connection.RetryAttempts,
		RetryInterval:      rc.Connection.RetryInterval,
		Heartbeat:          rc.Connection.Heartbeat,
		ConnectionTimeout:  rc.Connection.ConnectionTimeout,
		PublishRetries:     rc.Publish.RetryAttempts,
		PublishRetryDelay:  rc.Publish.RetryInterval,
		PublishBackoffMult: rc.Publish.BackoffMultiplier,
	}
	if rc.DeadLetter.Queue != "" {
		out.DeliveryLimit = cfg.Transport.MaxReceiveCount
	}
	return out
}

// NewProducer builds the producer over b
func NewProducer(cfg *config.Config, b *Backends, logger *slog.Logger) *producer.Producer {
	pc := producer.Config{
		Records:         b.Records,
		Quizzes:         b.Quizzes,
		Transport:       b.Transport,
		Logger:          logger.With(slog.String("component", "producer")),
		EnqueueAttempts: cfg.Producer.EnqueueAttempts,
	}
	if cfg.Producer.RetryInitial > 0 {
		pc.Backoff = backoff.Exponential{Initial: cfg.Producer.RetryInitial, Max: cfg.Producer.RetryMax}
	}
	return producer.New(pc)
}

// NewRegistry builds the handler registry. b must have been opened with an object store.
func NewRegistry(b *Backends, logger *slog.Logger) *handler.Registry {
	return handler.NewRegistry(
		b.Records,
		handler.NewGrader(b.Quizzes),
		handler.NewExporter(b.Quizzes, b.Objects),
		logger.With(slog.String("component", "handler")),
	)
}

// NewReconciler builds the stale PENDING sweeper
func NewReconciler(cfg *config.Config, b *Backends, enqueuer reconciler.Enqueuer, logger *slog.Logger) *reconciler.Reconciler {
	rc := cfg.Reconciler
	return reconciler.New(reconciler.Config{
		Records:       b.Records,
		Enqueuer:      enqueuer,
		Logger:        logger,
		Interval:      rc.Interval,
		Threshold:     rc.Threshold,
		BatchSize:     rc.BatchSize,
		RatePerSecond: rc.RatePerSecond,
		MaxRequeues:   rc.MaxRequeues,
	})
}

// NewWorker builds the consumer loop over b. runner may be nil.
func NewWorker(cfg *config.Config, b *Backends, dispatcher worker.Dispatcher, runner worker.Runner, logger *slog.Logger) (*worker.Worker, error) {
	wc := cfg.Worker
	strategy := backoff.Default()
	if wc.Backoff.Initial > 0 {
		var err error
		strategy, err = backoff.New(wc.Backoff.Strategy, wc.Backoff.Initial, wc.Backoff.Max)
		if err != nil {
			return nil, err
		}
	}

	return worker.NewWorker(&worker.Config{
		Logger:          logger.With(slog.String("component", "worker")),
		Transport:       b.Transport,
		Dispatcher:      dispatcher,
		Reconciler:      runner,
		Concurrency:     wc.Concurrency,
		MaxMessages:     wc.MaxMessages,
		WaitTime:        wc.WaitTime,
		JobTimeout:      wc.JobTimeout,
		ShutdownTimeout: wc.ShutdownTimeout,
		Backoff:         strategy,
	}), nil
}
