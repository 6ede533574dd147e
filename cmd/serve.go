package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/bryan-buckman/feedwatch/internal/config"
	"github.com/bryan-buckman/feedwatch/internal/presenter"
	"github.com/bryan-buckman/feedwatch/internal/rss"
	"github.com/bryan-buckman/feedwatch/internal/server"
	"github.com/bryan-buckman/feedwatch/internal/state"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

func serveCmd() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the feedwatch API and run the refresh loop",
		Description: `Starts the HTTP API and the background refresh loop.

Feeds listed in the config file are submitted once at startup. Every
registered feed is fetched again on each refresh interval and new items
are appended to the collection.`,
		Flags: append([]cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to a TOML config file",
				EnvVars: []string{"FEEDWATCH_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "addr",
				Aliases: []string{"a"},
				Value:   config.Default().Addr,
				Usage:   "Address to listen on",
				EnvVars: []string{"FEEDWATCH_ADDR"},
			},
			&cli.DurationFlag{
				Name:    "refresh-interval",
				Value:   config.Default().RefreshInterval.Duration,
				Usage:   "Delay between refresh cycles",
				EnvVars: []string{"FEEDWATCH_REFRESH_INTERVAL"},
			},
			&cli.IntFlag{
				Name:    "concurrency",
				Value:   config.Default().Concurrency,
				Usage:   "Feeds fetched in parallel per cycle",
				EnvVars: []string{"FEEDWATCH_CONCURRENCY"},
			},
		}, fetchFlags()...),
		Action: func(ctx *cli.Context) error {
			cfg, err := loadConfig(ctx)
			if err != nil {
				return err
			}
			if err := setupLogging(cfg.LogLevel, cfg.LogJSON); err != nil {
				return err
			}

			fetcher, err := newFetcher(cfg, ctx.Uint64("retries"))
			if err != nil {
				return err
			}

			store := state.New(presenter.NewLogger(nil))
			ids := rss.NewIDs()
			opts := cfg.EngineOptions()
			submitter := rss.NewSubmitter(store, fetcher, ids, opts)
			poller := rss.NewPoller(store, fetcher, ids, opts)
			srv := server.New(store, submitter, poller)

			runCtx, stop := signal.NotifyContext(ctx.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			if len(cfg.Feeds) > 0 {
				go seed(runCtx, submitter, cfg.Feeds)
			}

			poller.Start(runCtx)
			defer poller.Stop()

			log.WithFields(log.Fields{
				"interval":    cfg.RefreshInterval.Duration,
				"concurrency": cfg.Concurrency,
				"proxy":       cfg.Proxy,
			}).Info("Refresh loop started")

			err = srv.Start(runCtx, cfg.Addr)
			log.Info("Gracefully shutting down...")
			return err
		},
	}
}

// loadConfig layers the config file, when given, under explicitly set flags.
func loadConfig(ctx *cli.Context) (config.Config, error) {
	cfg := config.Default()
	if path := ctx.String("config"); path != "" {
		var err error
		if cfg, err = config.LoadFile(path); err != nil {
			return config.Config{}, err
		}
	}

	if ctx.IsSet("addr") || cfg.Addr == "" {
		cfg.Addr = ctx.String("addr")
	}
	if ctx.IsSet("refresh-interval") {
		cfg.RefreshInterval.Duration = ctx.Duration("refresh-interval")
	}
	if ctx.IsSet("request-timeout") {
		cfg.RequestTimeout.Duration = ctx.Duration("request-timeout")
	}
	if ctx.IsSet("concurrency") {
		cfg.Concurrency = ctx.Int("concurrency")
	}
	if ctx.IsSet("proxy") {
		cfg.Proxy = ctx.String("proxy")
	}
	if ctx.IsSet("user-agent") {
		cfg.UserAgent = ctx.String("user-agent")
	}
	if ctx.IsSet("log-level") {
		cfg.LogLevel = ctx.String("log-level")
	}
	if ctx.IsSet("log-json") {
		cfg.LogJSON = ctx.Bool("log-json")
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func seed(ctx context.Context, submitter *rss.Submitter, feeds []string) {
	outcomes := submitter.SubmitAll(ctx, feeds)
	added := 0
	for _, o := range outcomes {
		if o.Feed != nil {
			added++
			continue
		}
		log.WithFields(log.Fields{
			"link":        o.Address,
			"message_key": o.MessageKey,
		}).Warn("Seed feed rejected")
	}
	log.Infof("Seeded %d of %d feeds", added, len(feeds))
}
