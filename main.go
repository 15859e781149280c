package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	orchestratorx "github.com/tanpawarit/booking-concierge/agent/agents/orchestrator"
	apix "github.com/tanpawarit/booking-concierge/agent/api"
	auditx "github.com/tanpawarit/booking-concierge/agent/audit"
	contractx "github.com/tanpawarit/booking-concierge/agent/contract"
	llmx "github.com/tanpawarit/booking-concierge/agent/llm"
	policyx "github.com/tanpawarit/booking-concierge/agent/policy"
	caldavx "github.com/tanpawarit/booking-concierge/agent/provider/caldav"
	localcalx "github.com/tanpawarit/booking-concierge/agent/provider/localcal"
	routerx "github.com/tanpawarit/booking-concierge/agent/provider/router"
	reasoningx "github.com/tanpawarit/booking-concierge/agent/reasoning"
	statex "github.com/tanpawarit/booking-concierge/agent/state"
	toolx "github.com/tanpawarit/booking-concierge/agent/tool"
	configx "github.com/tanpawarit/booking-concierge/pkg/config"
	_ "github.com/tanpawarit/booking-concierge/pkg/logger/autoload"
	openrouterx "github.com/tanpawarit/booking-concierge/pkg/openrouter"
	qstashx "github.com/tanpawarit/booking-concierge/pkg/qstash"
)

type AppConfig struct {
	Addr            string        `envconfig:"HTTP_ADDR" default:":8080"`
	PolicyFile      string        `envconfig:"POLICY_FILE"`
	ProviderTimeout time.Duration `envconfig:"PROVIDER_TIMEOUT" default:"10s"`
	Retention       int           `envconfig:"LEDGER_RETENTION" default:"50"`
	DefaultProvider string        `envconfig:"DEFAULT_PROVIDER" default:"custom"`
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	appCfg := configx.MustNew[AppConfig]("")
	policy := policyx.MustLoad(appCfg.PolicyFile)

	provider, closeProviders := mustProviders(policy, contractx.ProviderName(appCfg.DefaultProvider))
	defer closeProviders()
	registry := toolx.NewRegistry(policy, toolx.WithProviders(provider.Names()...))

	llmCfg := configx.MustNew[llmx.Config]("LLM")
	if err := llmCfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid llm config")
	}
	openRouterCfg := llmCfg.OpenRouter()
	if llmCfg.VerifyModel {
		if err := openrouterx.VerifyModel(ctx, openrouterx.NewClient(openRouterCfg), openRouterCfg.Model); err != nil {
			log.Fatal().Err(err).Str("model", openRouterCfg.Model).Msg("model check failed")
		}
	}
	chatModel, err := openrouterx.NewChatModel(ctx, openRouterCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize chat model")
	}
	reasoner, err := reasoningx.New(ctx, chatModel, toolx.ToolInfos(registry.Schemas()))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize reasoner")
	}

	audit, closeAudit := mustAudit(ctx)
	defer closeAudit()

	orchestrator, err := orchestratorx.New(orchestratorx.Dependencies{
		Policy:   policy,
		Registry: registry,
		Reasoner: reasoner,
		Provider: provider,
		Store:    mustStateStore(),
		Audit:    audit,
	}, orchestratorx.Config{
		ProviderTimeout: appCfg.ProviderTimeout,
		Retention:       appCfg.Retention,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize orchestrator")
	}

	server := &http.Server{
		Addr:              appCfg.Addr,
		Handler:           apix.NewServer(orchestrator),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("http shutdown")
		}
	}()

	log.Info().Str("addr", appCfg.Addr).Str("business", policy.Snapshot().BusinessName).Msg("booking concierge listening")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("http server stopped")
	}
}

// mustProviders routes "custom" bookings to the local SQLite calendar and
// "google" bookings to CalDAV when it is configured.
func mustProviders(policy *policyx.Store, fallback contractx.ProviderName) (*routerx.Router, func()) {
	localCfg := configx.MustNew[localcalx.Config]("LOCALCAL")
	local, err := localcalx.Open(localCfg.Path, localcalx.WithDurations(policy.ServiceDuration))
	if err != nil {
		log.Fatal().Err(err).Str("path", localCfg.Path).Msg("failed to open local calendar")
	}

	opts := []routerx.Option{routerx.WithBackend(contractx.ProviderCustom, local)}

	calCfg := configx.MustNew[caldavx.Config]("CALDAV")
	if calCfg.Enabled() {
		cal, err := caldavx.New(*calCfg, caldavx.WithDurations(policy.ServiceDuration))
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize caldav provider")
		}
		opts = append(opts, routerx.WithBackend(contractx.ProviderGoogle, cal))
	}

	router, err := routerx.New(fallback, opts...)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize provider router")
	}
	return router, func() {
		if err := local.Close(); err != nil {
			log.Error().Err(err).Msg("close local calendar")
		}
	}
}

func mustStateStore() statex.Store {
	cfg := configx.MustNew[statex.UpstashRedisConfig]("UPSTASH_REDIS")
	if !cfg.Enabled() {
		log.Info().Msg("upstash redis not configured, keeping conversation ledgers in memory")
		return statex.NewMemoryStore()
	}
	store, err := statex.NewUpstashRedisStore(*cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize upstash state store")
	}
	return store
}

func mustAudit(ctx context.Context) (contractx.AuditSink, func()) {
	sinks := auditx.MultiSink{auditx.LogSink{}}
	closeFn := func() {}

	qstashCfg := configx.MustNew[qstashx.Config]("QSTASH")
	if qstashCfg.Enabled() {
		sinks = append(sinks, auditx.NewQStashSink(qstashx.MustNew(*qstashCfg), qstashCfg.Destination))
	}

	pgCfg := configx.MustNew[auditx.PostgresConfig]("AUDIT_PG")
	if pgCfg.Enabled() {
		pg, err := auditx.NewPostgresSink(ctx, *pgCfg)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize postgres audit sink")
		}
		sinks = append(sinks, pg)
		closeFn = func() {
			if err := pg.Close(); err != nil {
				log.Error().Err(err).Msg("close postgres audit sink")
			}
		}
	}
	return sinks, closeFn
}
