package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/homer-bot/homerbot/pkg/audit"
	"github.com/homer-bot/homerbot/pkg/cache"
	"github.com/homer-bot/homerbot/pkg/chat"
	"github.com/homer-bot/homerbot/pkg/completion"
	"github.com/homer-bot/homerbot/pkg/config"
	"github.com/homer-bot/homerbot/pkg/logging"
	"github.com/homer-bot/homerbot/pkg/metrics"
	"github.com/homer-bot/homerbot/pkg/persona"
	"github.com/homer-bot/homerbot/pkg/provider/openai"
	"github.com/homer-bot/homerbot/pkg/server"
	"github.com/homer-bot/homerbot/pkg/telemetry"
	"github.com/homer-bot/homerbot/pkg/tracing"
	"github.com/homer-bot/homerbot/pkg/tracker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the chat API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOrDefault(configPath, cmd.Flags().Changed("config"))
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}

			log, err := logging.New(cfg.Telemetry)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			defer func() { _ = log.Sync() }()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return serve(ctx, cfg, log)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to config file")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	tp, shutdown, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutCtx); err != nil {
			log.Warn("telemetry shutdown", zap.Error(err))
		}
	}()

	prompt, err := persona.Load(cfg.PersonaFile)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	var recorders []tracing.Recorder
	if cfg.Tracker.Enabled {
		tr, err := tracker.New(cfg.DBPath, cfg.Tracker.Retention)
		if err != nil {
			return fmt.Errorf("init tracker: %w", err)
		}
		defer func() { _ = tr.Close() }()
		recorders = append(recorders, tr)
	}
	if cfg.Audit.Enabled {
		al, err := audit.New(cfg.Audit)
		if err != nil {
			return fmt.Errorf("init audit: %w", err)
		}
		defer func() { _ = al.Close() }()
		recorders = append(recorders, al)
	}

	tracer := tracing.New(tracing.NewOTelSink(tp),
		tracing.WithLogger(log),
		tracing.WithMetrics(m),
		tracing.WithRecorders(recorders...),
		tracing.WithMLApp(cfg.Telemetry.MLApp),
	)
	// Recorders close after in-flight writes finish.
	defer tracer.Wait()

	p := openai.New(cfg.Provider.Name, cfg.Provider.BaseURL, cfg.Provider.APIKey, cfg.Provider.Timeout)
	opts := []chat.Option{chat.WithLogger(log), chat.WithMetrics(m)}
	srvOpts := []server.Option{server.WithLogger(log), server.WithGatherer(reg)}
	if cfg.Cache.Enabled {
		c, err := cache.New(cfg.Cache.Capacity, cfg.Cache.TTL)
		if err != nil {
			return fmt.Errorf("init cache: %w", err)
		}
		opts = append(opts, chat.WithCache(c))
		srvOpts = append(srvOpts, server.WithCache(c))
	}

	svc := chat.New(completion.NewInvoker(p), tracer, prompt, chat.Settings{
		Model:       cfg.Provider.Model,
		MaxTokens:   cfg.Provider.MaxTokens,
		Temperature: cfg.Provider.Temperature,
		Streaming:   cfg.Provider.Streaming,
	}, opts...)

	log.Info("starting homerbot",
		zap.String("model", cfg.Provider.Model),
		zap.Bool("streaming", cfg.Provider.Streaming),
		zap.Bool("cache", cfg.Cache.Enabled),
	)
	return server.New(cfg.Listen, cfg.Telemetry.Service, svc, srvOpts...).ListenAndServe(ctx)
}
