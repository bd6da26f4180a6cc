package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"zrelay/internal/bus"
	"zrelay/internal/channel"
	"zrelay/internal/config"
	"zrelay/internal/dispatch"
	"zrelay/internal/domain"
	"zrelay/internal/filter"
	"zrelay/internal/ledger"
	"zrelay/internal/metrics"
	"zrelay/internal/relay"
	"zrelay/internal/source"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:     "zrelay",
		Short:   "zrelay: chat-to-automation relay",
		Long:    "zrelay watches inbound chat messages and triggers a downstream automation pipeline once per qualifying message.",
		Version: version,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json (default: ~/.zrelay/config.json)")

	root.AddCommand(initCmd())
	root.AddCommand(relayCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(configCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

// loadConfig reads the config file when present, otherwise builds the
// configuration straight from the environment. Missing required values
// are fatal before any loop starts.
func loadConfig() (*config.Config, error) {
	cfgPath := resolveConfigPath()
	if _, err := os.Stat(config.ExpandPath(cfgPath)); err == nil {
		return config.Load(cfgPath)
	}

	logger.Info("no config file, reading configuration from environment", "path", cfgPath)
	cfg, err := config.Resolve(config.Defaults())
	if err != nil {
		return nil, fmt.Errorf("resolve config from environment: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// setupLogger replaces the bootstrap logger per config.
func setupLogger(cfg *config.Config) error {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.General.LogLevel)); err != nil {
		level = slog.LevelInfo
	}

	var w io.Writer = os.Stderr
	if cfg.General.LogFile != "" {
		f, err := os.OpenFile(cfg.General.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		w = io.MultiWriter(os.Stderr, f)
	}

	logger = slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
	return nil
}

// components bundles everything both drivers share.
type components struct {
	cfg      *config.Config
	src      *source.Client
	ledger   domain.Ledger
	pipeline *relay.Pipeline
	bus      *bus.InMemoryBus
}

func buildComponents(cfg *config.Config) (*components, error) {
	led, err := ledger.NewSQLite(cfg.Ledger.DBPath,
		time.Duration(cfg.Ledger.RetentionHours)*time.Hour, logger)
	if err != nil {
		return nil, fmt.Errorf("dedup ledger: %w", err)
	}

	flt, err := filter.New(cfg.Filter, logger)
	if err != nil {
		led.Close()
		return nil, fmt.Errorf("event filter: %w", err)
	}

	src := source.NewClient(cfg.Provider, logger)
	trg := dispatch.NewGitHub(cfg.Trigger, logger)
	messageBus := bus.New(100, logger)

	// Acknowledgement replies go back out through the provider client,
	// fire-and-forget.
	if cfg.Provider.AckEnabled && cfg.Provider.AckText != "" {
		messageBus.OnAck(func(ack domain.Ack) {
			ctx, cancel := context.WithTimeout(context.Background(),
				time.Duration(cfg.Provider.TimeoutSeconds)*time.Second)
			defer cancel()
			if err := src.SendText(ctx, ack.Recipient, ack.Text); err != nil {
				logger.Warn("ack send failed", "recipient", ack.Recipient, "err", err)
			}
		})
	}

	ackText := ""
	if cfg.Provider.AckEnabled {
		ackText = cfg.Provider.AckText
	}

	pipeline := relay.NewPipeline(relay.PipelineConfig{
		Filter:  flt,
		Ledger:  led,
		Trigger: trg,
		Bus:     messageBus,
		AckText: ackText,
		Logger:  logger,
		Stats:   metrics.Default,
	})

	return &components{
		cfg:      cfg,
		src:      src,
		ledger:   led,
		pipeline: pipeline,
		bus:      messageBus,
	}, nil
}

func (c *components) close() {
	c.bus.Close()
	if err := c.ledger.Close(); err != nil {
		logger.Warn("ledger close failed", "err", err)
	}
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			if err := config.Save(config.ExpandPath(cfgPath), config.Defaults()); err != nil {
				return err
			}
			logger.Info("initialized", "config", cfgPath)
			return nil
		},
	}
}

func relayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "relay",
		Short: "Run the pull-mode relay (poll the provider)",
		RunE:  runRelay,
	}
}

func runRelay(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := setupLogger(cfg); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	comps, err := buildComponents(cfg)
	if err != nil {
		return err
	}
	defer comps.close()

	go relay.NewHeartbeat(
		time.Duration(cfg.General.HeartbeatMinutes)*time.Minute,
		logger, metrics.Default,
	).Start(ctx)

	poller := relay.NewPoller(relay.PollerConfig{
		Source:   comps.src,
		Pipeline: comps.pipeline,
		Interval: time.Duration(cfg.General.PollIntervalSeconds) * time.Second,
		Logger:   logger,
		Stats:    metrics.Default,
	})

	logger.Info("relay started", "mode", "pull",
		"interval_s", cfg.General.PollIntervalSeconds,
		"event_type", cfg.Trigger.EventType,
	)

	// Blocks until shutdown; in-flight dispatch retries are abandoned.
	poller.Run(ctx)
	return nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the push-mode relay (webhook listener)",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := setupLogger(cfg); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	comps, err := buildComponents(cfg)
	if err != nil {
		return err
	}
	defer comps.close()

	consumer := relay.NewConsumer(comps.bus, comps.pipeline, 4, logger)
	go consumer.Run(ctx)

	go relay.NewHeartbeat(
		time.Duration(cfg.General.HeartbeatMinutes)*time.Minute,
		logger, metrics.Default,
	).Start(ctx)

	logger.Info("relay started", "mode", "push",
		"port", cfg.Webhook.Port,
		"event_type", cfg.Trigger.EventType,
	)

	webhook := channel.FromConfig(cfg, logger, metrics.Default)
	return webhook.Start(ctx, comps.bus)
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check provider reachability and ledger size",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			led, err := ledger.NewSQLite(cfg.Ledger.DBPath,
				time.Duration(cfg.Ledger.RetentionHours)*time.Hour, logger)
			if err != nil {
				return err
			}
			defer led.Close()

			count, err := led.Count(ctx)
			if err != nil {
				return err
			}
			logger.Info("ledger", "path", cfg.Ledger.DBPath, "relayed", count)

			src := source.NewClient(cfg.Provider, logger)
			events, err := src.Fetch(ctx)
			if err != nil {
				logger.Warn("provider", "reachable", false, "err", err)
				return nil
			}
			logger.Info("provider", "reachable", true, "pending_messages", len(events))
			return nil
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List the effective config (credentials masked)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			data, _ := json.MarshalIndent(config.Sanitize(cfg), "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(resolveConfigPath())
		},
	})

	return cmd
}
