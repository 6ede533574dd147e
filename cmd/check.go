package cmd

import (
	"encoding/json"
	"errors"
	"os"
	"strings"

	"github.com/bryan-buckman/feedwatch/internal/config"
	"github.com/bryan-buckman/feedwatch/internal/rss"
	"github.com/urfave/cli/v2"
)

func checkCmd() *cli.Command {
	return &cli.Command{
		Name:      "check",
		Usage:     "Fetch and parse one feed and print the result",
		ArgsUsage: "<url>",
		Description: `Fetches the document at <url>, parses it the same way a submission
would and prints the parsed feed as JSON on stdout. Nothing is stored.`,
		Flags: fetchFlags(),
		Action: func(ctx *cli.Context) error {
			address := strings.TrimSpace(ctx.Args().First())
			if address == "" {
				return errors.New("please specify a feed url")
			}

			cfg := config.Default()
			cfg.RequestTimeout.Duration = ctx.Duration("request-timeout")
			cfg.Proxy = ctx.String("proxy")
			cfg.UserAgent = ctx.String("user-agent")
			if err := cfg.Validate(); err != nil {
				return err
			}

			fetcher, err := newFetcher(cfg, ctx.Uint64("retries"))
			if err != nil {
				return err
			}
			parsed, err := rss.Check(ctx.Context, fetcher, address, cfg.RequestTimeout.Duration)
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(parsed)
		},
	}
}
