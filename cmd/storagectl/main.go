package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/andresuchdata/daaas-storage/internal/config"
	"github.com/andresuchdata/daaas-storage/pkg/logger"
)

func main() {
	cfg := config.Load()
	if cfg.Log.JSON {
		logger.UseJSON()
	}
	logger.SetLevel(cfg.Log.Level)

	if err := newApp(cfg).Run(os.Args); err != nil {
		logger.Log.Error().Err(err).Msg("storagectl failed")
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newApp(cfg *config.Config) *cli.App {
	return &cli.App{
		Name:  "storagectl",
		Usage: "Inspect notebook storage instances and stream objects into tables",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "secrets-dir",
				Usage:   "Directory holding one secret source per storage instance",
				Value:   cfg.Secrets.Dir,
				EnvVars: []string{"SECRETS_DIR"},
			},
			&cli.StringFlag{
				Name:    "staging-dir",
				Usage:   "Directory for temporary staging files",
				Value:   cfg.Ingest.StagingDir,
				EnvVars: []string{"STAGING_DIR"},
			},
		},
		Commands: []*cli.Command{
			instancesCommand(cfg),
			ensureBucketCommand(cfg),
			uploadCommand(cfg),
			findCommand(cfg),
			fetchCommand(cfg),
			selectCommand(cfg),
			fetchMatchingCommand(cfg),
			downloadCommand(cfg),
		},
	}
}
