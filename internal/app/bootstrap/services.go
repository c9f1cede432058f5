// Package bootstrap wires the process: config in, a running service graph
// out. main stays thin; everything testable lives here.
package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/serviya/platform/internal/api/router"
	"github.com/serviya/platform/internal/availability"
	appconfig "github.com/serviya/platform/internal/config"
	"github.com/serviya/platform/internal/consent"
	"github.com/serviya/platform/internal/conversation"
	"github.com/serviya/platform/internal/flow"
	"github.com/serviya/platform/internal/http/handlers"
	"github.com/serviya/platform/internal/llm"
	"github.com/serviya/platform/internal/moderation"
	"github.com/serviya/platform/internal/nlp"
	"github.com/serviya/platform/internal/observability/metrics"
	"github.com/serviya/platform/internal/outbound"
	"github.com/serviya/platform/internal/profiles"
	"github.com/serviya/platform/internal/search"
	"github.com/serviya/platform/internal/sessions"
	"github.com/serviya/platform/internal/simulator"
	"github.com/serviya/platform/internal/storage"
	"github.com/serviya/platform/internal/whatsapp"
	"github.com/serviya/platform/pkg/logging"
)

// Services is the wired process graph. Build fills it; Shutdown tears it
// down in reverse order.
type Services struct {
	Config  *appconfig.Config
	Logger  *logging.Logger
	Metrics *metrics.BrokerMetrics

	Redis *redis.Client
	Pool  *pgxpool.Pool
	Repos storage.Repositories

	Flows      *flow.Store
	SessionLog *sessions.Log
	Profiles   *profiles.Cache

	LLM       llm.Client
	Extractor *nlp.Extractor
	Moderator *moderation.Moderator

	Search *search.Client
	Filter *search.AIFilter

	Transport   *availability.MQTTTransport
	States      *availability.StateStore
	Coordinator *availability.Coordinator

	Sender       whatsapp.Sender
	Messenger    *outbound.Messenger
	Pipeline     *conversation.Pipeline
	Orchestrator *conversation.Orchestrator

	Consent   *consent.Service
	Simulator *simulator.Handler

	metricsHandler http.Handler
}

// lazyProcessor defers the orchestrator lookup so the simulator (which the
// messenger may use as its sender) can be built before the orchestrator.
type lazyProcessor struct{ s *Services }

func (p lazyProcessor) Handle(ctx context.Context, msg conversation.Inbound) ([]outbound.Reply, error) {
	return p.s.Orchestrator.Handle(ctx, msg)
}

// Build wires every service from configuration. Nothing here opens the MQTT
// connection or hits the LLM; those are lazy, so Build succeeds without the
// external world.
func Build(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (*Services, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}

	s := &Services{Config: cfg, Logger: logger}

	registry := prometheus.NewRegistry()
	s.Metrics = metrics.NewBrokerMetrics(registry)
	s.metricsHandler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	s.Redis = buildRedis(ctx, cfg, logger)

	repos, pool, err := buildRepositories(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	s.Repos = repos
	s.Pool = pool

	s.Flows = flow.NewStore(s.Redis, cfg.FlowTTL, logger)
	s.SessionLog = sessions.NewLog(s.Redis, cfg.FlowTTL, logger)
	s.Profiles = profiles.NewCache(s.Redis, repos.Customers, repos.Providers, cfg.ProfileCacheTTL, logger)
	s.Consent = consent.NewService(s.Profiles, repos.Consents, logger)

	s.LLM = buildLLM(ctx, cfg, logger, s.Metrics)
	s.Extractor = nlp.NewExtractor(s.LLM, logger, nlp.WithExpansion(cfg.UseAIExpansion))

	moderationLLM := s.LLM
	if !cfg.ModerationEnabled {
		moderationLLM = nil
	}
	s.Moderator = moderation.New(s.Redis, moderationLLM, logger, s.Metrics)

	s.Search = search.NewClient(cfg.SearchAPIURL, cfg.SearchAPIKey, cfg.SearchTimeout, logger)
	s.Filter = search.NewAIFilter(s.LLM, logger)

	s.Transport = availability.NewMQTTTransport(availability.MQTTConfig{
		BrokerURL: cfg.BrokerAddr(),
		Username:  cfg.MQTTUsuario,
		Password:  cfg.MQTTPassword,
		QoS:       cfg.MQTTQoS,
	}, logger)
	s.States = availability.NewStateStore(s.Redis, cfg.AvailabilityStateTTL, logger)
	s.Coordinator = availability.NewCoordinator(availability.Config{
		RequestTopic:    cfg.MQTTTemaSolicitud,
		ResponseTopic:   cfg.MQTTTemaRespuesta,
		Timeout:         cfg.AvailabilityTimeout,
		AcceptGrace:     cfg.AvailabilityAcceptGrace,
		PollInterval:    cfg.AvailabilityPollInterval,
		PublishTimeout:  cfg.MQTTPublishTimeout,
		LogSamplingRate: cfg.LogSamplingRate,
	}, s.Transport, s.States, logger, s.Metrics)

	if cfg.SimulatorEnabled {
		s.Simulator = simulator.NewHandler(lazyProcessor{s}, logger)
	}
	s.Sender = buildSender(cfg, logger, s.Simulator)

	s.Messenger = outbound.NewMessenger(s.Sender, s.SessionLog, logger, s.Metrics)
	s.Pipeline = conversation.NewPipeline(s.Flows, s.Search, s.Filter, s.Coordinator, s.Messenger, logger, s.Metrics)
	s.Orchestrator = conversation.NewOrchestrator(conversation.Options{
		Flows:      s.Flows,
		SessionLog: s.SessionLog,
		Profiles:   s.Profiles,
		Consent:    s.Consent,
		Moderator:  s.Moderator,
		Extractor:  s.Extractor,
		Pipeline:   s.Pipeline,
		States:     s.States,
		Leads:      repos.Leads,
		Logger:     logger,
		Metrics:    s.Metrics,
	})

	return s, nil
}

// Router assembles the HTTP surface over the wired services.
func (s *Services) Router() http.Handler {
	cfg := &router.Config{
		Logger:         s.Logger,
		Conversation:   handlers.NewConversationHandler(s.Orchestrator, s.Flows, s.Logger),
		Sessions:       handlers.NewSessionsHandler(s.SessionLog, s.Logger),
		Health:         handlers.NewHealthHandler(s.Redis, "serviya-broker"),
		MetricsHandler: s.metricsHandler,
		AdminJWTSecret: s.Config.AdminJWTSecret,

		CORSAllowedOrigins: s.Config.CORSAllowedOrigins,
		WebhookRateLimit:   s.Config.WebhookRateLimit,
		WebhookBurst:       s.Config.WebhookBurst,
	}
	if s.Simulator != nil {
		cfg.Simulator = s.Simulator.Routes()
	}
	return router.New(cfg)
}

// Shutdown stops background work and closes connections.
func (s *Services) Shutdown(ctx context.Context) {
	if s.Coordinator != nil {
		s.Coordinator.Shutdown()
	}
	if s.Transport != nil {
		s.Transport.Close()
	}
	if s.Pool != nil {
		s.Pool.Close()
	}
	if s.Redis != nil {
		if err := s.Redis.Close(); err != nil {
			s.Logger.Warn("redis close failed", "error", err)
		}
	}
}

// buildRedis parses REDIS_URL and verifies connectivity. A dead Redis is
// not fatal: the flow store degrades to its in-memory fallback.
func buildRedis(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) *redis.Client {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Error("invalid REDIS_URL, continuing without redis", "error", err)
		return nil
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis unreachable at startup", "addr", opts.Addr, "error", err)
	}
	return client
}

// buildRepositories picks the relational backend: direct Postgres when
// DATABASE_URL is set, the Supabase REST API as second choice, in-memory
// maps for development.
func buildRepositories(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (storage.Repositories, *pgxpool.Pool, error) {
	if strings.TrimSpace(cfg.DatabaseURL) != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return storage.Repositories{}, nil, fmt.Errorf("bootstrap: connect postgres: %w", err)
		}
		logger.Info("storage backend: postgres")
		return storage.Repositories{
			Customers: storage.NewPostgresCustomerRepository(pool, logger),
			Providers: storage.NewPostgresProviderRepository(pool, logger),
			Consents:  storage.NewPostgresConsentRepository(pool, logger),
			Leads:     storage.NewPostgresLeadRepository(pool, logger),
		}, pool, nil
	}

	if cfg.SupabaseURL != "" && cfg.SupabaseServiceKey != "" {
		logger.Info("storage backend: supabase")
		return storage.NewSupabaseClient(cfg.SupabaseURL, cfg.SupabaseServiceKey, logger).Repositories(), nil, nil
	}

	logger.Warn("storage backend: in-memory (profiles and consents do not survive restarts)")
	return storage.NewMemoryRepositories(), nil, nil
}

// buildLLM assembles the completion client: OpenAI primary, Gemini fallback,
// both behind the concurrency gate. Either side may be absent; with neither,
// the engine runs on static extraction only.
func buildLLM(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, m *metrics.BrokerMetrics) llm.Client {
	var primary, secondary llm.Client

	if cfg.OpenAIAPIKey != "" {
		client, err := llm.NewOpenAIClient(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.OpenAIModel)
		if err != nil {
			logger.Warn("openai client unavailable", "error", err)
		} else {
			primary = llm.NewGate(client, "openai", cfg.MaxOpenAIConcurrency, cfg.OpenAITimeout, m)
		}
	}
	if cfg.GeminiAPIKey != "" {
		client, err := llm.NewGeminiClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModelID)
		if err != nil {
			logger.Warn("gemini client unavailable", "error", err)
		} else {
			secondary = llm.NewGate(client, "gemini", cfg.MaxOpenAIConcurrency, cfg.OpenAITimeout, m)
		}
	}

	switch {
	case primary != nil && secondary != nil:
		return llm.NewFallbackClient(primary, secondary, logger)
	case primary != nil:
		return primary
	case secondary != nil:
		return secondary
	default:
		logger.Warn("no LLM configured, extraction and moderation run static-only")
		return nil
	}
}

// buildSender picks the outbound delivery path: the WhatsApp adapter when
// configured, the simulator in dev, otherwise log-only.
func buildSender(cfg *appconfig.Config, logger *logging.Logger, sim *simulator.Handler) whatsapp.Sender {
	if cfg.WhatsAppClientesURL != "" {
		return whatsapp.NewClient(cfg.WhatsAppClientesURL, logger)
	}
	if sim != nil {
		logger.Info("outbound messages routed to the simulator")
		return sim
	}
	logger.Warn("no WhatsApp adapter configured, outbound pushes are log-only")
	return nil
}
