package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/begonlabs/unified-agent-pro-sub001/config"
	"github.com/begonlabs/unified-agent-pro-sub001/internal/adapters/gateway"
	"github.com/begonlabs/unified-agent-pro-sub001/internal/adapters/meta"
	"github.com/begonlabs/unified-agent-pro-sub001/internal/archive"
	"github.com/begonlabs/unified-agent-pro-sub001/internal/db"
	"github.com/begonlabs/unified-agent-pro-sub001/internal/events"
	"github.com/begonlabs/unified-agent-pro-sub001/internal/handlers"
	"github.com/begonlabs/unified-agent-pro-sub001/internal/inbound"
	"github.com/begonlabs/unified-agent-pro-sub001/internal/notify"
	"github.com/begonlabs/unified-agent-pro-sub001/internal/policy"
	"github.com/begonlabs/unified-agent-pro-sub001/internal/reply"
	"github.com/begonlabs/unified-agent-pro-sub001/internal/services"
	"github.com/begonlabs/unified-agent-pro-sub001/internal/store"
	"github.com/begonlabs/unified-agent-pro-sub001/pkg/httputil"
)

const shutdownTimeout = 15 * time.Second

func serveCmd() *cobra.Command {
	var skipMigrate bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, !skipMigrate)
		},
	}
	cmd.Flags().BoolVar(&skipMigrate, "skip-migrate", false, "do not run schema migrations on startup")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config, migrate bool) error {
	gdb, err := db.Open(cfg.DBDriver, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(gdb); err != nil {
			log.Warn().Err(err).Msg("Failed to close database")
		}
	}()
	if migrate {
		if err := db.Migrate(gdb); err != nil {
			return err
		}
	}
	st := store.New(gdb, store.WithChannelCacheTTL(cfg.ChannelCacheTTL))

	// Sends are never retried; a retried send can deliver twice.
	sendHTTP := httputil.NewRestyClient(15*time.Second, 0)
	lookupHTTP := httputil.NewRestyClient(5*time.Second, 2)

	gwHosts := gateway.Hosts{Default: cfg.GatewayDefaultHost, Alt: cfg.GatewayAltHost}
	metaHosts := meta.Hosts{Facebook: cfg.FacebookGraphHost, Instagram: cfg.InstagramGraphHost}

	senders := map[inbound.Channel]services.Sender{}
	fetchers := map[inbound.Channel]services.ProfileFetcher{}
	gwSender, err := gateway.NewClient(sendHTTP, gwHosts)
	if err != nil {
		return err
	}
	gwLookup, err := gateway.NewClient(lookupHTTP, gwHosts)
	if err != nil {
		return err
	}
	senders[inbound.WhatsApp], fetchers[inbound.WhatsApp] = gwSender, gwLookup
	for _, ch := range []inbound.Channel{inbound.Messenger, inbound.Instagram} {
		sender, err := meta.NewClient(sendHTTP, ch, metaHosts, cfg.MetaGraphVersion)
		if err != nil {
			return err
		}
		lookup, err := meta.NewClient(lookupHTTP, ch, metaHosts, cfg.MetaGraphVersion)
		if err != nil {
			return err
		}
		senders[ch], fetchers[ch] = sender, lookup
	}

	dispatcher, err := services.NewDispatcher(senders, cfg.OutboundRate)
	if err != nil {
		return err
	}

	var mailer services.Mailer
	if cfg.EmailAPIURL != "" && cfg.EmailAPIKey != "" {
		sender, err := notify.NewEmailSender(lookupHTTP, cfg.EmailAPIURL, cfg.EmailAPIKey, cfg.EmailFrom)
		if err != nil {
			return err
		}
		mailer = sender
	} else {
		log.Warn().Msg("EMAIL_API_URL or EMAIL_API_KEY not set, escalation emails disabled")
	}

	var publisher events.Publisher = events.Noop{}
	if cfg.RabbitMQURL != "" {
		rp, err := events.Dial(cfg.RabbitMQURL, cfg.RabbitMQQueuePrefix)
		if err != nil {
			// Events are best-effort; the pipeline runs without them.
			log.Error().Err(err).Msg("RabbitMQ unavailable, event publishing disabled")
		} else {
			publisher = rp
			defer func() {
				if err := rp.Close(); err != nil {
					log.Warn().Err(err).Msg("Failed to close RabbitMQ connection")
				}
			}()
		}
	} else {
		log.Info().Msg("RABBITMQ_URL is not set, event publishing disabled")
	}

	var archiver archive.Archiver = archive.Noop{}
	if cfg.S3.Enabled() {
		a, err := archive.NewS3Archive(cfg.S3)
		if err != nil {
			return err
		}
		archiver = a
	}

	pipeline, err := buildPipeline(cfg, st, dispatcher, fetchers, mailer, publisher)
	if err != nil {
		return err
	}

	webhooks, err := handlers.NewWebhooks(handlers.WebhookDeps{
		Processor:       pipeline,
		Archiver:        archiver,
		GatewaySecret:   cfg.GatewayWebhookSecret,
		MetaAppSecret:   cfg.MetaAppSecret,
		MetaVerifyToken: cfg.MetaVerifyToken,
	})
	if err != nil {
		return err
	}
	router := handlers.NewRouter(webhooks, handlers.Health(func(ctx context.Context) error {
		return db.Ping(ctx, gdb)
	}))

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("port", cfg.Port).Msg("Server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	if cfg.UsageResetCron != "" {
		sched, err := services.NewUsageResetScheduler(st, cfg.UsageResetCron)
		if err != nil {
			return err
		}
		g.Go(func() error { return sched.Run(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down server")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := srv.Shutdown(sctx)
		webhooks.Wait()
		log.Info().Msg("Waiting for in-flight replies")
		pipeline.Wait()
		return err
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info().Msg("Server stopped")
	return nil
}

func buildPipeline(cfg *config.Config, st *store.Store, dispatcher services.Sender, fetchers map[inbound.Channel]services.ProfileFetcher, mailer services.Mailer, publisher events.Publisher) (*services.Pipeline, error) {
	guard, err := services.NewGuard(st, cfg.EchoWindow, nil)
	if err != nil {
		return nil, err
	}
	identity, err := services.NewIdentityResolver(st, fetchers)
	if err != nil {
		return nil, err
	}
	debouncer, err := services.NewDebouncer(st, cfg.DebounceMin, cfg.DebounceMax, cfg.HistoryLimit)
	if err != nil {
		return nil, err
	}
	escalator, err := services.NewEscalator(st, mailer, cfg.DashboardURL)
	if err != nil {
		return nil, err
	}
	usage, err := services.NewUsageAccountant(st)
	if err != nil {
		return nil, err
	}
	return services.NewPipeline(services.PipelineDeps{
		Store:        st,
		Guard:        guard,
		Identity:     identity,
		Debouncer:    debouncer,
		Escalator:    escalator,
		Dispatcher:   dispatcher,
		Usage:        usage,
		Generator:    reply.NewHeuristic(),
		Policy:       policy.Engine{MinLength: cfg.MinMessageLength},
		Publisher:    publisher,
		ReplyTimeout: cfg.ReplyTimeout,
	})
}
