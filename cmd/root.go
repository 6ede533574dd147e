package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/bryan-buckman/feedwatch/internal/config"
	"github.com/bryan-buckman/feedwatch/internal/fetch"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

func RootApp() *cli.App {
	return &cli.App{
		Name:  "feedwatch",
		Usage: "Keep a local collection of RSS items in sync with its sources",
		Description: `Feedwatch registers RSS and Atom feeds, fetches them on a fixed
cadence and appends every item whose link it has not seen before.

Flags can generally be set via environment variables, e.g.:

--addr => FEEDWATCH_ADDR=:8080
--proxy => FEEDWATCH_PROXY=https://allorigins.hexlet.app
`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Value:   "info",
				Usage:   "Log level (debug, info, warn, error)",
				EnvVars: []string{"FEEDWATCH_LOG_LEVEL"},
			},
			&cli.BoolFlag{
				Name:    "log-json",
				Usage:   "Write logs as JSON",
				EnvVars: []string{"FEEDWATCH_LOG_JSON"},
			},
		},
		Before: func(ctx *cli.Context) error {
			return setupLogging(ctx.String("log-level"), ctx.Bool("log-json"))
		},
		Commands: []*cli.Command{
			serveCmd(),
			checkCmd(),
		},
		Action: func(ctx *cli.Context) error {
			return ctx.App.Run([]string{"", "help"})
		},
	}
}

// Execute runs the CLI with the process arguments.
func Execute() {
	if err := godotenv.Load(); err != nil {
		if _, statErr := os.Stat(".env"); statErr == nil {
			log.Warnf(".env file exists but couldn't be loaded: %v", err)
		}
	}
	if err := RootApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func setupLogging(level string, asJSON bool) error {
	lvl, err := log.ParseLevel(strings.ToLower(level))
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	log.SetLevel(lvl)
	if asJSON {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	return nil
}

// fetchFlags are shared by every command that reaches the network.
func fetchFlags() []cli.Flag {
	return []cli.Flag{
		&cli.DurationFlag{
			Name:    "request-timeout",
			Value:   config.Default().RequestTimeout.Duration,
			Usage:   "Timeout for each outbound request",
			EnvVars: []string{"FEEDWATCH_REQUEST_TIMEOUT"},
		},
		&cli.StringFlag{
			Name:    "proxy",
			Usage:   "Route fetches through an allorigins-style proxy at this base URL",
			EnvVars: []string{"FEEDWATCH_PROXY"},
		},
		&cli.StringFlag{
			Name:    "user-agent",
			Value:   config.Default().UserAgent,
			Usage:   "User-Agent header for outbound requests",
			EnvVars: []string{"FEEDWATCH_USER_AGENT"},
		},
		&cli.Uint64Flag{
			Name:    "retries",
			Value:   2,
			Usage:   "Extra attempts for transient fetch failures",
			EnvVars: []string{"FEEDWATCH_RETRIES"},
		},
	}
}

func newFetcher(cfg config.Config, retries uint64) (fetch.Fetcher, error) {
	opts := fetch.Options{
		Timeout:   cfg.RequestTimeout.Duration,
		UserAgent: cfg.UserAgent,
		Retries:   retries,
	}
	if cfg.Proxy == "" {
		return fetch.NewHTTP(opts), nil
	}
	p, err := fetch.NewProxy(cfg.Proxy, opts)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy: %w", err)
	}
	return p, nil
}
