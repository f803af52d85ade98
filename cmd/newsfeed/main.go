package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"reddot-watch/newsfeed/internal/classify"
	"reddot-watch/newsfeed/internal/config"
	"reddot-watch/newsfeed/internal/database"
	"reddot-watch/newsfeed/internal/fetch"
	"reddot-watch/newsfeed/internal/metrics"
	"reddot-watch/newsfeed/internal/mongostore"
	"reddot-watch/newsfeed/internal/process"
	"reddot-watch/newsfeed/internal/scheduler"
	"reddot-watch/newsfeed/internal/server"
	"reddot-watch/newsfeed/internal/store"
	"reddot-watch/newsfeed/internal/subscriptions"
)

func init() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "2006-01-02 15:04:05"})
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
}

const usage = `Usage: newsfeed [command] [options]
Commands: start, server, feeds

For command-specific options, use: newsfeed [command] -h`

func main() {
	if err := config.LoadDotEnv(".env"); err != nil {
		log.Warn().Err(err).Msg("Failed to load .env file")
	}

	cfg := config.DefaultConfig()
	var logLevelStr string

	startCmd := flag.NewFlagSet("start", flag.ExitOnError)
	storeFlags(startCmd, cfg)
	subscriptionFlags(startCmd, cfg)
	logLevelFlag(startCmd, &logLevelStr)

	startCmd.DurationVar(&cfg.Interval, "interval", config.GetEnvDuration("NEWSFEED_INTERVAL", cfg.Interval),
		"Interval between processing runs, 0 for one-shot mode (env: NEWSFEED_INTERVAL)")
	startCmd.StringVar(&cfg.Schedule, "schedule", config.GetEnvString("NEWSFEED_SCHEDULE", ""),
		"Cron expression for processing runs, takes precedence over -interval (env: NEWSFEED_SCHEDULE)")
	pipelineFlags(startCmd, cfg)

	serverCmd := flag.NewFlagSet("server", flag.ExitOnError)
	storeFlags(serverCmd, cfg)
	logLevelFlag(serverCmd, &logLevelStr)

	serverCmd.StringVar(&cfg.ServerHost, "host", config.GetEnvString("NEWSFEED_HOST", config.DefaultServerHost),
		"Host to bind the server to (env: NEWSFEED_HOST)")
	serverCmd.IntVar(&cfg.ServerPort, "port", config.GetEnvInt("NEWSFEED_PORT", config.DefaultServerPort),
		"Port to listen on (env: NEWSFEED_PORT)")
	serverCmd.BoolVar(&cfg.EnableTrigger, "trigger", config.GetEnvBool("NEWSFEED_ENABLE_TRIGGER", false),
		"Expose POST /v1/ingest to run the pipeline on demand (env: NEWSFEED_ENABLE_TRIGGER)")
	subscriptionFlags(serverCmd, cfg)
	pipelineFlags(serverCmd, cfg)

	feedsCmd := flag.NewFlagSet("feeds", flag.ExitOnError)
	subscriptionFlags(feedsCmd, cfg)
	logLevelFlag(feedsCmd, &logLevelStr)

	if len(os.Args) < 2 {
		fmt.Println(usage)
		os.Exit(1)
	}

	var run func(*config.Config) error
	switch os.Args[1] {
	case "start":
		startCmd.Parse(os.Args[2:])
		run = runStart

	case "server":
		serverCmd.Parse(os.Args[2:])
		run = runServer

	case "feeds":
		feedsCmd.Parse(os.Args[2:])
		run = runFeeds

	case "-h", "--help", "help":
		fmt.Println(usage)
		os.Exit(0)

	default:
		log.Error().Str("command", os.Args[1]).Msg("Unknown command")
		fmt.Println(usage)
		os.Exit(1)
	}

	// Handle log level parsing separately since it needs conversion
	if level, err := zerolog.ParseLevel(logLevelStr); err == nil {
		cfg.LogLevel = level
	}
	zerolog.SetGlobalLevel(cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		log.Error().Err(err).Msg("Invalid configuration")
		os.Exit(1)
	}

	if err := run(cfg); err != nil {
		log.Error().Err(err).Str("command", os.Args[1]).Msg("Command failed")
		os.Exit(1)
	}
}

func logLevelFlag(fs *flag.FlagSet, dst *string) {
	fs.StringVar(dst, "log-level", config.GetEnvString("NEWSFEED_LOG_LEVEL", config.DefaultLogLevel),
		"Log level: debug, info, warn, error (env: NEWSFEED_LOG_LEVEL)")
}

func storeFlags(fs *flag.FlagSet, cfg *config.Config) {
	fs.StringVar(&cfg.StoreDriver, "store", config.GetEnvString("NEWSFEED_STORE", config.DefaultStoreDriver),
		"Store backend: sqlite or mongo (env: NEWSFEED_STORE)")
	fs.StringVar(&cfg.DBPath, "db", config.GetEnvString("NEWSFEED_DB_PATH", config.DefaultDBPath),
		"Path to the SQLite database file (env: NEWSFEED_DB_PATH)")
	fs.StringVar(&cfg.MongoURI, "mongo-uri", config.GetEnvString("NEWSFEED_MONGO_URI", config.DefaultMongoURI),
		"MongoDB connection string (env: NEWSFEED_MONGO_URI)")
	fs.StringVar(&cfg.MongoDatabase, "mongo-db", config.GetEnvString("NEWSFEED_MONGO_DB", config.DefaultMongoDatabase),
		"MongoDB database name (env: NEWSFEED_MONGO_DB)")
}

func subscriptionFlags(fs *flag.FlagSet, cfg *config.Config) {
	fs.StringVar(&cfg.SubscriptionsPath, "subscriptions", config.GetEnvString("NEWSFEED_SUBSCRIPTIONS_PATH", config.DefaultSubscriptionsPath),
		"Path to the OPML subscription list (env: NEWSFEED_SUBSCRIPTIONS_PATH)")
}

func pipelineFlags(fs *flag.FlagSet, cfg *config.Config) {
	fs.IntVar(&cfg.WorkerCount, "workers", config.GetEnvInt("NEWSFEED_WORKER_COUNT", config.DefaultWorkerCount),
		"Number of concurrent feed fetches, 0 for CPU count (env: NEWSFEED_WORKER_COUNT)")
	fs.IntVar(&cfg.RetentionDays, "retention", config.GetEnvInt("NEWSFEED_RETENTION_DAYS", config.DefaultRetentionDays),
		"Number of days before a stored post expires (env: NEWSFEED_RETENTION_DAYS)")
	fs.StringVar(&cfg.FetchMode, "fetch-mode", config.GetEnvString("NEWSFEED_FETCH_MODE", config.DefaultFetchMode),
		"Feed parsing mode: normalized or raw (env: NEWSFEED_FETCH_MODE)")
	fs.DurationVar(&cfg.FeedTimeout, "feed-timeout", config.GetEnvDuration("NEWSFEED_FEED_TIMEOUT", cfg.FeedTimeout),
		"Time allowed for a single feed (env: NEWSFEED_FEED_TIMEOUT)")
	fs.DurationVar(&cfg.RunTimeout, "run-timeout", config.GetEnvDuration("NEWSFEED_RUN_TIMEOUT", cfg.RunTimeout),
		"Time allowed for a whole run (env: NEWSFEED_RUN_TIMEOUT)")
	fs.StringVar(&cfg.ClassifyModel, "model", config.GetEnvString("NEWSFEED_CLASSIFY_MODEL", config.DefaultClassifyModel),
		"Model used for classification (env: NEWSFEED_CLASSIFY_MODEL)")
	fs.IntVar(&cfg.ClassifyCeiling, "classify-ceiling", config.GetEnvInt("NEWSFEED_CLASSIFY_CEILING", config.DefaultClassifyCeiling),
		"Maximum number of items sent for classification per run (env: NEWSFEED_CLASSIFY_CEILING)")
	fs.StringVar(&cfg.PromptPath, "prompt", config.GetEnvString("NEWSFEED_PROMPT_PATH", ""),
		"YAML file overriding the embedded classification prompt (env: NEWSFEED_PROMPT_PATH)")
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-shutdown:
			log.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(shutdown)
	}()
	return ctx, cancel
}

// openStore connects the configured backend.
func openStore(ctx context.Context, cfg *config.Config, readOnly bool) (store.Store, error) {
	switch cfg.StoreDriver {
	case "mongo":
		s, err := mongostore.New(ctx, mongostore.Config{URI: cfg.MongoURI, Database: cfg.MongoDatabase})
		if err != nil {
			log.Error().Err(err).Str("database", cfg.MongoDatabase).Msg("Failed to connect to MongoDB")
			return nil, fmt.Errorf("failed to initialize mongo store: %w", err)
		}
		return s, nil

	default:
		dbCfg := database.NewConfig(cfg.DBPath)
		dbCfg.ReadOnly = readOnly
		db, err := database.NewDB(dbCfg)
		if err != nil {
			log.Error().Err(err).Str("path", cfg.DBPath).Msg("Failed to initialize database")
			return nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		return db, nil
	}
}

// newPipeline wires the ingestion stages. Without an API key the pipeline
// still runs and stores every item with no categories.
func newPipeline(cfg *config.Config, s store.Writer, m *metrics.Metrics) (*process.Pipeline, error) {
	source, err := fetch.NewSource(cfg.FetchMode, fetch.SourceConfig{})
	if err != nil {
		return nil, err
	}
	fetcher := fetch.NewFetcher(source, cfg.WorkerCount, cfg.FeedTimeout)

	var collaborator classify.Collaborator
	if cfg.AnthropicAPIKey != "" {
		prompt, err := classify.LoadPrompt(cfg.PromptPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load classification prompt: %w", err)
		}
		collaborator = classify.NewAnthropicClient(cfg.AnthropicAPIKey, cfg.ClassifyModel, prompt)
	} else {
		log.Warn().Msg("ANTHROPIC_API_KEY not set, classification disabled")
	}
	adapter := classify.NewAdapter(collaborator, cfg.ClassifyCeiling, cfg.ClassifyTimeout)

	loader := subscriptions.NewLoader(cfg.SubscriptionsPath, cfg.SubscriptionsURL)

	return process.NewPipeline(s, loader, fetcher, adapter, process.Options{
		Retention: cfg.Retention(),
		Metrics:   m,
	})
}

// runStart executes the pipeline either once or on a schedule.
func runStart(cfg *config.Config) error {
	ctx, cancel := signalContext()
	defer cancel()

	s, err := openStore(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer s.Close()

	pipeline, err := newPipeline(cfg, s, metrics.New())
	if err != nil {
		return fmt.Errorf("failed to initialize pipeline: %w", err)
	}

	sched, err := scheduler.New(pipeline, scheduler.Config{
		Interval:   cfg.Interval,
		Cron:       cfg.Schedule,
		RunTimeout: cfg.RunTimeout,
	})
	if err != nil {
		return err
	}
	if err := sched.Start(ctx); err != nil {
		return err
	}

	processed, duplicates := pipeline.Stats()
	log.Info().
		Int64("processed", processed).
		Int64("duplicates", duplicates).
		Msg("Processing stats")
	return nil
}

// runServer starts the HTTP API server with the provided configuration.
func runServer(cfg *config.Config) error {
	log.Debug().Msg("Starting server with debug logging enabled")

	ctx, cancel := signalContext()
	defer cancel()

	// The trigger writes, so the store is only read-only without it.
	s, err := openStore(ctx, cfg, !cfg.EnableTrigger)
	if err != nil {
		return err
	}
	defer s.Close()

	m := metrics.New()
	opts := server.Options{
		Store:      s,
		APIKey:     cfg.APIKey,
		RunTimeout: cfg.RunTimeout,
		Metrics:    m,
		Logger:     log.Logger,
	}
	if cfg.EnableTrigger {
		pipeline, err := newPipeline(cfg, s, m)
		if err != nil {
			return fmt.Errorf("failed to initialize pipeline: %w", err)
		}
		opts.Trigger = pipeline
	}

	return server.Run(ctx, server.NewHandler(opts), cfg.ListenAddr(), log.Logger)
}

// runFeeds prints the feeds the subscription list resolves to.
func runFeeds(cfg *config.Config) error {
	ctx, cancel := signalContext()
	defer cancel()

	loader := subscriptions.NewLoader(cfg.SubscriptionsPath, cfg.SubscriptionsURL)
	feeds, err := loader.Load(ctx)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	for _, f := range feeds {
		if err := enc.Encode(map[string]string{
			"group":        f.Group,
			"source_label": f.SourceLabel,
			"feed_url":     f.FeedURL,
		}); err != nil {
			return err
		}
	}
	log.Info().Int("feeds", len(feeds)).Str("path", cfg.SubscriptionsPath).Msg("Subscription list loaded")
	return nil
}
