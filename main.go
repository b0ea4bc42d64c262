package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	openaisdk "github.com/openai/openai-go"

	apix "github.com/verdantlabs/greencart/assistant/api"
	contractx "github.com/verdantlabs/greencart/assistant/contract"
	gatewayx "github.com/verdantlabs/greencart/assistant/gateway"
	"github.com/verdantlabs/greencart/assistant/handlers"
	"github.com/verdantlabs/greencart/assistant/order"
	registryx "github.com/verdantlabs/greencart/assistant/registry"
	routerx "github.com/verdantlabs/greencart/assistant/router"
	statex "github.com/verdantlabs/greencart/assistant/state"
	"github.com/verdantlabs/greencart/assistant/toolserver"
	workflowx "github.com/verdantlabs/greencart/assistant/workflow"
	configx "github.com/verdantlabs/greencart/pkg/config"
	logx "github.com/verdantlabs/greencart/pkg/logger"
	_ "github.com/verdantlabs/greencart/pkg/logger/autoload"
	openrouterx "github.com/verdantlabs/greencart/pkg/openrouter"
	webhookx "github.com/verdantlabs/greencart/pkg/webhook"
)

// AppConfig holds the process-level settings; component settings load
// under their own prefixes.
type AppConfig struct {
	ToolEndpoint      string        `split_words:"true" default:"http://localhost:8090/mcp"`
	HeartbeatInterval time.Duration `split_words:"true" default:"30s"`
	ShutdownTimeout   time.Duration `split_words:"true" default:"10s"`
}

func main() {
	log := logx.Component("main")

	appCfg := configx.MustNew[AppConfig]("GREENCART")
	toolCfg := configx.MustNew[toolserver.Config]("TOOLSERVER")
	apiCfg := configx.MustNew[apix.Config]("API")
	gatewayCfg := configx.MustNew[gatewayx.Config]("GATEWAY")
	redisCfg := configx.MustNew[statex.UpstashRedisConfig]("UPSTASH_REDIS")
	postgresCfg := configx.MustNew[order.PostgresConfig]("POSTGRES")
	webhookCfg := configx.MustNew[webhookx.Config]("WEBHOOK")
	openrouterCfg := configx.MustNew[openrouterx.Config]("OPENROUTER")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Session store: Upstash Redis when configured, in-process otherwise.
	var store statex.Store = statex.NewMemoryStore()
	if redisCfg.Enabled() {
		redisStore, err := statex.NewUpstashRedisStore(*redisCfg)
		if err != nil {
			log.Fatal().Err(err).Msg("init redis session store")
		}
		store = redisStore
		log.Info().Msg("session store: upstash redis")
	}
	sessions, err := statex.NewManager(store)
	if err != nil {
		log.Fatal().Err(err).Msg("init session manager")
	}

	// Order archive: Postgres when configured, in-memory otherwise.
	var archive order.Archive = order.NewMemoryArchive()
	if postgresCfg.Enabled() {
		pg, err := order.NewPostgresArchive(ctx, *postgresCfg)
		if err != nil {
			log.Fatal().Err(err).Msg("init postgres order archive")
		}
		defer pg.Close()
		archive = pg
		log.Info().Msg("order archive: postgres")
	}

	var publisher contractx.EventPublisher
	if webhookCfg.Enabled() {
		publisher = webhookx.MustNew(*webhookCfg)
		log.Info().Msg("order events: webhook publisher enabled")
	}

	var llmBuilder openrouterx.LLMBuilder
	var openaiClient *openaisdk.Client
	if openrouterCfg.Enabled() {
		llmBuilder = openrouterCfg
		openaiClient = openrouterx.NewClient(*openrouterCfg)
		log.Info().Str("model", openrouterCfg.Model).Msg("llm assists enabled")
	}

	// Tool endpoint first, so handlers have something to call.
	tools := toolserver.NewServer(*toolCfg)
	go func() {
		if err := tools.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("tool endpoint failed")
			stop()
		}
	}()

	gw := gatewayx.NewClient(*gatewayCfg)

	reg := registryx.New(registryx.WithHeartbeatInterval(appCfg.HeartbeatInterval))
	engine, err := workflowx.NewEngine(reg)
	if err != nil {
		log.Fatal().Err(err).Msg("init workflow engine")
	}

	endpoint := appCfg.ToolEndpoint
	taskHandlers := []contractx.Handler{
		handlers.NewSearchHandler(gw, endpoint),
		handlers.NewCartHandler(sessions, gw, endpoint),
		handlers.NewShippingHandler(sessions, gw, endpoint),
		handlers.NewCheckoutHandler(sessions, archive, publisher),
		handlers.NewCompareHandler(gw, endpoint, openaiClient, openrouterCfg.Model),
		handlers.NewGeneralHandler(llmBuilder),
	}
	for _, h := range taskHandlers {
		if err := reg.Register(h); err != nil {
			log.Fatal().Err(err).Str("handler", h.Name()).Msg("register handler")
		}
	}

	reg.StartSweeper(ctx, 0)
	go heartbeatLoop(ctx, reg, taskHandlers, appCfg.HeartbeatInterval)

	rt, err := routerx.New(routerx.NewClassifier(), reg, engine, sessions)
	if err != nil {
		log.Fatal().Err(err).Msg("init router")
	}

	apiServer, err := apix.NewServer(rt, reg)
	if err != nil {
		log.Fatal().Err(err).Msg("init api server")
	}
	httpServer := &http.Server{
		Addr:              apiCfg.Addr,
		Handler:           apiServer.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info().Str("addr", apiCfg.Addr).Msg("api listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("api server failed")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), appCfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("api shutdown")
	}
	if err := tools.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("tool endpoint shutdown")
	}
}

// heartbeatLoop keeps in-process handlers alive in the registry. Remote
// handlers would send their own heartbeats; these share the process, so
// one loop stands in for all of them.
func heartbeatLoop(ctx context.Context, reg contractx.Registry, taskHandlers []contractx.Handler, interval time.Duration) {
	if interval <= 0 {
		interval = registryx.DefaultHeartbeatInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log := logx.Component("heartbeat")
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, h := range taskHandlers {
				if err := reg.Heartbeat(h.Name()); err != nil {
					log.Warn().Err(err).Str("handler", h.Name()).Msg("heartbeat failed")
				}
			}
		}
	}
}
