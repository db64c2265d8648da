package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/armando3069/zottis/internal/accounts"
	"github.com/armando3069/zottis/internal/autoreply"
	"github.com/armando3069/zottis/internal/channel"
	"github.com/armando3069/zottis/internal/channel/adapters/telegram"
	"github.com/armando3069/zottis/internal/channel/adapters/whatsapp"
	"github.com/armando3069/zottis/internal/channel/inbound"
	"github.com/armando3069/zottis/internal/channel/polling"
	"github.com/armando3069/zottis/internal/config"
	"github.com/armando3069/zottis/internal/conversation"
	"github.com/armando3069/zottis/internal/db"
	"github.com/armando3069/zottis/internal/events"
	"github.com/armando3069/zottis/internal/handlers"
	channelchecker "github.com/armando3069/zottis/internal/healthcheck/checkers/channel"
	"github.com/armando3069/zottis/internal/knowledge"
	"github.com/armando3069/zottis/internal/logger"
	"github.com/armando3069/zottis/internal/message"
	"github.com/armando3069/zottis/internal/outbound"
	"github.com/armando3069/zottis/internal/realtime"
	"github.com/armando3069/zottis/internal/server"
)

func runServe() {
	fx.New(
		fx.Provide(
			loadConfig,
			provideLogger,
			provideDBConn,
			provideChannelRegistry,
			provideTelegramAdapter,
			provideAccountStore,
			provideAccountService,
			provideConversationStore,
			provideEventsPublisher,
			provideMessageService,
			realtime.NewHub,
			provideKnowledgeBase,
			provideCompleter,
			provideOrchestrator,
			provideAutoReplyState,
			provideScheduler,
			providePipeline,
			provideOutboundSender,
			providePoller,
			provideAutoReplyWorker,
			provideServerHandler(handlers.NewPingHandler),
			provideServerHandler(provideTelegramHandler),
			provideServerHandler(provideWhatsAppHandler),
			provideServerHandler(provideAccountsHandler),
			provideServerHandler(provideAssistantHandler),
			provideServerHandler(provideRealtimeHandler),
			provideServer,
		),
		fx.Invoke(
			startPoller,
			startAutoReplyWorker,
			stopRealtimeHub,
			startServer,
		),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With(slog.String("component", "fx"))}
		}),
	).Run()
}

func provideServerHandler(fn any) any {
	return fx.Annotate(
		fn,
		fx.As(new(server.Handler)),
		fx.ResultTags(`group:"server_handlers"`),
	)
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

func provideDBConn(lc fx.Lifecycle, cfg config.Config) (*pgxpool.Pool, error) {
	conn, err := db.Open(context.Background(), cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { conn.Close(); return nil }})
	return conn, nil
}

func provideTelegramAdapter(log *slog.Logger, cfg config.Config) *telegram.TelegramAdapter {
	return telegram.NewTelegramAdapter(log, telegram.Options{
		APIEndpoint:    cfg.Telegram.APIEndpoint,
		RequestTimeout: cfg.Telegram.RequestTimeout.Duration,
		PollTimeout:    cfg.Telegram.Polling.TimeoutSeconds,
		PollLimit:      cfg.Telegram.Polling.Limit,
	})
}

func provideChannelRegistry(log *slog.Logger, cfg config.Config, tgAdapter *telegram.TelegramAdapter) *channel.Registry {
	registry := channel.NewRegistry()
	registry.MustRegister(tgAdapter)
	registry.MustRegister(whatsapp.NewWhatsAppAdapter(log, whatsapp.Options{
		APIBase:        cfg.WhatsApp.APIBase,
		RequestTimeout: cfg.WhatsApp.RequestTimeout.Duration,
	}))
	return registry
}

func provideAccountStore(conn *pgxpool.Pool) *accounts.Store { return accounts.NewStore(conn) }

func provideAccountService(log *slog.Logger, cfg config.Config, store *accounts.Store, registry *channel.Registry) *accounts.Service {
	return accounts.NewService(log, store, registry, accounts.WebhookOptions{
		PublicURL: cfg.Server.PublicURL,
		Skip:      cfg.Telegram.SkipWebhookRegistration,
	})
}

func provideConversationStore(conn *pgxpool.Pool) *conversation.Store {
	return conversation.NewStore(conn)
}

// provideEventsPublisher returns nil when no broker is configured.
func provideEventsPublisher(lc fx.Lifecycle, log *slog.Logger, cfg config.Config) (*events.Publisher, error) {
	if strings.TrimSpace(cfg.Events.AMQPURL) == "" {
		return nil, nil
	}
	pub, err := events.NewPublisher(log, cfg.Events.AMQPURL, cfg.Events.Exchange)
	if err != nil {
		return nil, fmt.Errorf("events publisher: %w", err)
	}
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { return pub.Close() }})
	return pub, nil
}

func provideMessageService(log *slog.Logger, conn *pgxpool.Pool, pub *events.Publisher) *message.DBService {
	var publishers []message.Publisher
	if pub != nil {
		publishers = append(publishers, events.NewMessagePublisher(pub))
	}
	return message.NewService(log, conn, publishers...)
}

func provideKnowledgeBase(log *slog.Logger, cfg config.Config) autoreply.KnowledgeBase {
	if strings.TrimSpace(cfg.Knowledge.BaseURL) == "" {
		return knowledge.Nop{}
	}
	return knowledge.NewClient(log, cfg.Knowledge.BaseURL, cfg.Knowledge.RequestTimeout.Duration)
}

func provideCompleter(cfg config.Config) autoreply.Completer {
	return autoreply.NewOpenAICompleter(autoreply.CompleterOptions{
		BaseURL: cfg.Assistant.BaseURL,
		APIKey:  cfg.Assistant.APIKey,
		Model:   cfg.Assistant.Model,
		Timeout: cfg.Assistant.RequestTimeout.Duration,
	})
}

func provideOrchestrator(log *slog.Logger, cfg config.Config, registry *channel.Registry, completer autoreply.Completer, kb autoreply.KnowledgeBase, messages *message.DBService, hub *realtime.Hub) *autoreply.Orchestrator {
	return autoreply.NewOrchestrator(log, registry, completer, kb, messages, hub, autoreply.Options{
		SystemPrompt: cfg.Assistant.SystemPrompt,
		HistoryLimit: cfg.Assistant.HistoryLimit,
	})
}

func provideAutoReplyState(lc fx.Lifecycle, log *slog.Logger, cfg config.Config) (autoreply.State, error) {
	initial := cfg.Assistant.AutoReplyDefault
	if cfg.AutoReply.StateStore != config.StateStoreRedis {
		return autoreply.NewMemoryState(log, initial), nil
	}
	state, err := autoreply.NewRedisState(log, cfg.Redis.URL, initial)
	if err != nil {
		return nil, fmt.Errorf("auto-reply state: %w", err)
	}
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { return state.Close() }})
	return state, nil
}

func provideScheduler(lc fx.Lifecycle, log *slog.Logger, cfg config.Config, orchestrator *autoreply.Orchestrator) (autoreply.Scheduler, error) {
	timeout := cfg.AutoReplyJobTimeout()
	if cfg.AutoReply.Scheduler != config.SchedulerAsynq {
		inline := autoreply.NewInlineScheduler(log, orchestrator, timeout)
		lc.Append(fx.Hook{OnStop: func(ctx context.Context) error {
			done := make(chan struct{})
			go func() { inline.Wait(); close(done) }()
			select {
			case <-done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}})
		return inline, nil
	}
	scheduler, err := autoreply.NewAsynqScheduler(log, cfg.Redis.URL, timeout)
	if err != nil {
		return nil, fmt.Errorf("asynq scheduler: %w", err)
	}
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { return scheduler.Close() }})
	return scheduler, nil
}

func providePipeline(log *slog.Logger, accountService *accounts.Service, conversations *conversation.Store, messages *message.DBService, hub *realtime.Hub, state autoreply.State, scheduler autoreply.Scheduler) *inbound.Pipeline {
	return inbound.NewPipeline(log, accountService, conversations, messages, hub, state, scheduler)
}

func provideOutboundSender(log *slog.Logger, accountService *accounts.Service, conversations *conversation.Store, messages *message.DBService, registry *channel.Registry, hub *realtime.Hub) *outbound.Sender {
	return outbound.NewSender(log, accountService, conversations, messages, registry, hub)
}

// providePoller returns nil unless polling is enabled.
func providePoller(log *slog.Logger, cfg config.Config, accountService *accounts.Service, tgAdapter *telegram.TelegramAdapter, pipeline *inbound.Pipeline) *polling.Poller {
	if !cfg.Telegram.PollingEnabled() {
		return nil
	}
	return polling.NewPoller(log, accountService, tgAdapter, pipeline, cfg.Telegram.Polling.Interval.Duration)
}

// provideAutoReplyWorker returns nil unless the asynq scheduler is selected.
func provideAutoReplyWorker(log *slog.Logger, cfg config.Config, accountService *accounts.Service, conversations *conversation.Store, orchestrator *autoreply.Orchestrator) (*autoreply.Worker, error) {
	if cfg.AutoReply.Scheduler != config.SchedulerAsynq {
		return nil, nil
	}
	return autoreply.NewWorker(log, cfg.Redis.URL, cfg.AutoReply.AsynqConcurrency, accountService, conversations, orchestrator)
}

func provideTelegramHandler(log *slog.Logger, accountService *accounts.Service, conversations *conversation.Store, messages *message.DBService, sender *outbound.Sender, pipeline *inbound.Pipeline) *handlers.TelegramHandler {
	return handlers.NewTelegramHandler(log, accountService, conversations, messages, sender, pipeline)
}

func provideWhatsAppHandler(log *slog.Logger, cfg config.Config, accountService *accounts.Service, sender *outbound.Sender, pipeline *inbound.Pipeline) *handlers.WhatsAppHandler {
	return handlers.NewWhatsAppHandler(log, accountService, sender, pipeline, handlers.WhatsAppOptions{
		VerifyToken: cfg.WhatsApp.VerifyToken,
		AppSecret:   cfg.WhatsApp.AppSecret,
	})
}

func provideAccountsHandler(log *slog.Logger, cfg config.Config, accountService *accounts.Service, registry *channel.Registry) *handlers.PlatformAccountsHandler {
	return handlers.NewPlatformAccountsHandler(log, accountService,
		channelchecker.NewChecker(log, registry, cfg.Telegram.PollingEnabled()),
	)
}

func provideAssistantHandler(log *slog.Logger, orchestrator *autoreply.Orchestrator, state autoreply.State, conversations *conversation.Store, accountService *accounts.Service) *handlers.AssistantHandler {
	return handlers.NewAssistantHandler(log, orchestrator, state, conversations, accountService)
}

func provideRealtimeHandler(log *slog.Logger, cfg config.Config, hub *realtime.Hub, conversations *conversation.Store, messages *message.DBService) *realtime.Handler {
	return realtime.NewHandler(log, hub, conversations, messages, cfg.Auth.JWTSecret)
}

type serverParams struct {
	fx.In
	Logger         *slog.Logger
	Config         config.Config
	ServerHandlers []server.Handler `group:"server_handlers"`
}

func provideServer(params serverParams) *server.Server {
	return server.NewServer(params.Logger, params.Config.Server.Addr, params.Config.Auth.JWTSecret, handlers.NewValidator(), params.ServerHandlers...)
}

func startPoller(lc fx.Lifecycle, poller *polling.Poller) {
	if poller == nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error { return poller.Start(ctx) },
		OnStop:  func(stopCtx context.Context) error { cancel(); return poller.Stop(stopCtx) },
	})
}

func startAutoReplyWorker(lc fx.Lifecycle, worker *autoreply.Worker) {
	if worker == nil {
		return
	}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error { return worker.Start() },
		OnStop:  func(ctx context.Context) error { worker.Stop(); return nil },
	})
}

func stopRealtimeHub(lc fx.Lifecycle, hub *realtime.Hub) {
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { hub.Close(); return nil }})
}

func startServer(lc fx.Lifecycle, logger *slog.Logger, srv *server.Server, shutdowner fx.Shutdowner, cfg config.Config) {
	if strings.TrimSpace(cfg.Auth.JWTSecret) == "" {
		logger.Warn("auth.jwt_secret is empty, every authenticated route will reject requests")
	}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("server failed", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := srv.Stop(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server stop: %w", err)
			}
			return nil
		},
	})
}
