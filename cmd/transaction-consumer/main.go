package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/trustguard/riskcore/configs"
	"github.com/trustguard/riskcore/internal/aggregator"
	"github.com/trustguard/riskcore/internal/consumer"
	"github.com/trustguard/riskcore/internal/contextstore"
	"github.com/trustguard/riskcore/internal/mlmodel"
	"github.com/trustguard/riskcore/internal/notifier"
	"github.com/trustguard/riskcore/internal/pipeline"
	"github.com/trustguard/riskcore/internal/policy"
	"github.com/trustguard/riskcore/internal/processors"
	"github.com/trustguard/riskcore/internal/queue"
	"github.com/trustguard/riskcore/internal/regional"
	"github.com/trustguard/riskcore/internal/repositories"
	"github.com/trustguard/riskcore/internal/rules"
)

// Exit codes: 0 graceful stop, 1 configuration error, 2 brokers unreachable,
// 3 fatal pipeline error.
const (
	exitOK     = 0
	exitConfig = 1
	exitBroker = 2
	exitFatal  = 3
)

var defaultTopics = []string{"iam.transaction.events"}

func main() {
	os.Exit(run())
}

func run() int {
	// Load .env file if exists
	_ = godotenv.Load()

	region := flag.String("region", "", "region scope (AO, BR, MZ, PT); empty consumes all regions")
	configPath := flag.String("config", "", "tenant registry file (overrides TENANT_REGISTRY)")
	flag.Parse()

	cfg := configs.Load()
	if *configPath != "" {
		cfg.Paths.TenantRegistry = *configPath
	}

	setupLogging(cfg.Server.Environment)

	log.Info().
		Str("environment", cfg.Server.Environment).
		Str("region", *region).
		Msg("Starting transaction consumer")

	// Regional analyzers and tenant registry
	regions := regional.NewRegistry()
	if cfg.Paths.RegionTables != "" {
		tables, err := regional.LoadTables(cfg.Paths.RegionTables)
		if err != nil {
			log.Error().Err(err).Str("path", cfg.Paths.RegionTables).Msg("Failed to load region tables")
			return exitConfig
		}
		regions = regional.NewRegistryFromTables(tables)
	}

	if *region != "" {
		if _, ok := regions.Get(*region); !ok {
			log.Error().Str("region", *region).Msg("Unknown region code")
			return exitConfig
		}
	}

	tenants, err := policy.NewRegistry(cfg.Paths.TenantRegistry, regions)
	if err != nil {
		log.Error().Err(err).Str("path", cfg.Paths.TenantRegistry).Msg("Failed to load tenant registry")
		return exitConfig
	}

	var ruleEngine *rules.Engine
	if cfg.Paths.RulesFile != "" {
		ruleSet, err := rules.LoadRules(cfg.Paths.RulesFile)
		if err != nil {
			log.Error().Err(err).Str("path", cfg.Paths.RulesFile).Msg("Failed to load rules")
			return exitConfig
		}
		ruleEngine = rules.NewEngine(ruleSet)
	}

	// Initialize database
	db, err := repositories.NewDatabase(cfg.Database)
	if err != nil {
		log.Error().Err(err).Msg("Failed to connect to database")
		return exitConfig
	}
	defer db.Close()

	// Initialize Redis: the cache client also backs the sliding
	// transaction window.
	cacheClient, err := queue.NewCacheClient(cfg.Redis)
	if err != nil {
		log.Error().Err(err).Msg("Failed to connect to Redis Cache")
		return exitConfig
	}
	defer cacheClient.Close()

	retryQueue, err := queue.NewAlertRetryQueue(cfg.Redis)
	if err != nil {
		log.Error().Err(err).Msg("Failed to connect to Redis Stream")
		return exitConfig
	}
	defer retryQueue.Close()

	// Context store backed by Postgres profiles
	store := contextstore.New(contextstore.Config{
		MemoryWindow:  cfg.Store.MemoryWindow,
		SweepInterval: cfg.Store.SweepInterval,
		TopK:          cfg.Store.TopK,
	}, repositories.NewProfileRepository(db))

	// Signal processors. Transactions skip the AR family: AR samples only
	// arrive on authentication events.
	registry := processors.NewRegistry(
		processors.NewIPReputationProcessor(),
		processors.NewGeoVelocityProcessor(),
		processors.NewDeviceAnalysisProcessor(),
		processors.NewBehavioralProcessor(),
		processors.NewTimePatternProcessor(),
		processors.NewCredentialAnomalyProcessor(nil),
	)

	var model mlmodel.Model = mlmodel.NewLogisticModel()
	if cfg.Connectors.MLEndpoint != "" {
		model = mlmodel.NewRemoteModel(cfg.Connectors.MLEndpoint, cfg.Connectors.MLAPIKey, cfg.Connectors.MLTimeout)
	}

	pipe := &pipeline.Pipeline{
		Tenants:    tenants,
		Store:      store,
		Processors: registry,
		Rules:      ruleEngine,
		Aggregator: aggregator.New(),
		Resolver:   policy.NewResolver(),
		Model:      model,
	}

	// Alert dispatch with retry worker
	dispatcher := notifier.NewDispatcher(
		notifier.NewHTTPGateway(cfg.Notifier),
		notifier.NewRedisCooldownStore(cacheClient),
		notifier.NewEscalationMatrix(),
		retryQueue,
		cfg.Notifier,
	)

	processor := &consumer.TransactionProcessor{
		Pipeline:   pipe,
		Store:      store,
		Regions:    regions,
		Dispatcher: dispatcher,
		Cache:      cacheClient,
		Region:     *region,
	}

	topics := cfg.Kafka.Topics
	if len(topics) == 0 {
		topics = defaultTopics
	}

	c := consumer.New(cfg.Kafka, cfg.Kafka.GroupID+"-transaction", topics, *region, consumer.NormalizeTransaction, processor)
	processor.BindAlertSink(c)

	if err := c.Init(); err != nil {
		var unreachable *consumer.ErrBrokerUnreachable
		if errors.As(err, &unreachable) {
			log.Error().Err(err).Msg("Kafka brokers unreachable")
			return exitBroker
		}
		log.Error().Err(err).Msg("Consumer initialization failed")
		return exitConfig
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store.StartSweeper(ctx)
	retryWorker := notifier.NewRetryWorker(retryQueue, dispatcher, "transaction-consumer")
	go retryWorker.Run(ctx)

	if err := c.Run(ctx); err != nil {
		log.Error().Err(err).Msg("Transaction consumer failed")
		return exitFatal
	}

	log.Info().Msg("Transaction consumer exited")
	return exitOK
}

func setupLogging(env string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	if env == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
