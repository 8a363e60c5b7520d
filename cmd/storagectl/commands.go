package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/andresuchdata/daaas-storage/internal/config"
	"github.com/andresuchdata/daaas-storage/internal/ingest"
	"github.com/andresuchdata/daaas-storage/internal/registry"
	"github.com/andresuchdata/daaas-storage/internal/secrets"
	"github.com/andresuchdata/daaas-storage/internal/service"
	"github.com/andresuchdata/daaas-storage/internal/storage"
	"github.com/andresuchdata/daaas-storage/internal/table"
)

type runtime struct {
	registry *registry.Registry
	service  *service.FetchService
}

func newRuntime(c *cli.Context, cfg *config.Config) *runtime {
	resolver := secrets.NewResolver(secrets.Options{
		Dir:         c.String("secrets-dir"),
		StripScheme: cfg.Secrets.StripScheme,
	})
	reg := registry.New(resolver, registry.StorageFactory(storage.Options{
		Region:    cfg.Storage.Region,
		ChunkSize: cfg.Ingest.ChunkSize,
	}), nil)
	pipeline := ingest.New(ingest.Options{StagingDir: c.String("staging-dir")})

	return &runtime{
		registry: reg,
		service:  service.NewFetchService(reg, pipeline, cfg.Ingest.Concurrency),
	}
}

func instanceFlag() *cli.StringFlag {
	return &cli.StringFlag{
		Name:     "instance",
		Aliases:  []string{"i"},
		Usage:    "Storage instance name, e.g. minio-standard or minio_standard",
		Required: true,
		EnvVars:  []string{"STORAGE_INSTANCE"},
	}
}

func bucketFlag() *cli.StringFlag {
	return &cli.StringFlag{
		Name:     "bucket",
		Aliases:  []string{"b"},
		Usage:    "Bucket name",
		Required: true,
		EnvVars:  []string{"STORAGE_BUCKET"},
	}
}

func decoderFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "format",
			Usage: "Object format: json (one record per line) or csv",
			Value: "json",
		},
		&cli.StringFlag{
			Name:  "form",
			Usage: "Table layout: frame (rows) or columns",
			Value: "frame",
		},
		&cli.BoolFlag{
			Name:  "header",
			Usage: "Treat the first CSV row as column names",
		},
	}
}

func decoderFromFlags(c *cli.Context) (table.Decoder, error) {
	form, err := table.ParseForm(c.String("form"))
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(c.String("format")) {
	case "json", "jsonl", "json-lines":
		return table.JSONLines(form), nil
	case "csv":
		if c.Bool("header") {
			return table.CSV(form, table.WithHeader()), nil
		}
		return table.CSV(form), nil
	default:
		return nil, fmt.Errorf("unknown format %q", c.String("format"))
	}
}

func printShape(c *cli.Context, key string, tbl table.Table) {
	rows, cols := tbl.Shape()
	fmt.Fprintf(c.App.Writer, "%s\t%d\t%d\n", key, rows, cols)
}

func instancesCommand(cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:  "instances",
		Usage: "List storage instances found in the secrets directory",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "check",
				Usage: "Resolve credentials and connect every instance",
			},
		},
		Action: func(c *cli.Context) error {
			rt := newRuntime(c, cfg)
			names, err := rt.registry.List()
			if err != nil {
				return err
			}
			if !c.Bool("check") {
				for _, name := range names {
					fmt.Fprintf(c.App.Writer, "%s\t%s\n", name, registry.FriendlyName(name))
				}
				return nil
			}

			_, failures, err := rt.registry.Build(c.Context)
			if err != nil {
				return err
			}
			sort.Strings(names)
			for _, name := range names {
				status := "ok"
				if ferr, ok := failures[name]; ok {
					status = ferr.Error()
				}
				fmt.Fprintf(c.App.Writer, "%s\t%s\n", name, status)
			}
			return nil
		},
	}
}

func ensureBucketCommand(cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:  "ensure-bucket",
		Usage: "Create a bucket if it does not exist",
		Flags: []cli.Flag{instanceFlag(), bucketFlag()},
		Action: func(c *cli.Context) error {
			client, err := newRuntime(c, cfg).registry.Lookup(c.Context, c.String("instance"))
			if err != nil {
				return err
			}
			return client.EnsureBucket(c.Context, c.String("bucket"))
		},
	}
}

func uploadCommand(cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:      "upload",
		Usage:     "Copy a local file into a bucket, overwriting the destination",
		ArgsUsage: "SOURCE",
		Flags: []cli.Flag{
			instanceFlag(),
			bucketFlag(),
			&cli.StringFlag{
				Name:     "dest",
				Usage:    "Destination object key",
				Required: true,
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return cli.Exit("upload needs exactly one SOURCE file", 2)
			}
			return newRuntime(c, cfg).service.Upload(c.Context,
				c.String("instance"), c.String("bucket"), c.String("dest"), c.Args().First())
		},
	}
}

func listFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:     "pattern",
			Usage:    "Regular expression matched against the start of each key",
			Required: true,
		},
		&cli.StringFlag{
			Name:  "prefix",
			Usage: "Only list keys under this prefix",
		},
		&cli.BoolFlag{
			Name:  "recursive",
			Usage: "List nested keys",
			Value: true,
		},
	}
}

func listOptions(c *cli.Context) []storage.ListOption {
	return []storage.ListOption{
		storage.WithPrefix(c.String("prefix")),
		storage.WithRecursive(c.Bool("recursive")),
	}
}

func findCommand(cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:  "find",
		Usage: "List keys whose beginning matches a regular expression",
		Flags: append([]cli.Flag{instanceFlag(), bucketFlag()}, listFlags()...),
		Action: func(c *cli.Context) error {
			keys, err := newRuntime(c, cfg).service.Find(c.Context,
				c.String("instance"), c.String("bucket"), c.String("pattern"), listOptions(c)...)
			if err != nil {
				return err
			}
			for _, key := range keys {
				fmt.Fprintln(c.App.Writer, key)
			}
			return nil
		},
	}
}

func fetchCommand(cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:  "fetch",
		Usage: "Stream one object into a table and print its shape",
		Flags: append([]cli.Flag{
			instanceFlag(),
			bucketFlag(),
			&cli.StringFlag{Name: "key", Aliases: []string{"k"}, Usage: "Object key", Required: true},
		}, decoderFlags()...),
		Action: func(c *cli.Context) error {
			dec, err := decoderFromFlags(c)
			if err != nil {
				return err
			}
			tbl, err := newRuntime(c, cfg).service.FetchTable(c.Context, service.FetchRequest{
				Instance: c.String("instance"),
				Bucket:   c.String("bucket"),
				Key:      c.String("key"),
				Decoder:  dec,
			})
			if err != nil {
				return err
			}
			printShape(c, c.String("key"), tbl)
			return nil
		},
	}
}

func selectCommand(cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:  "select",
		Usage: "Run an S3 Select query against one object and print the result shape",
		Flags: append([]cli.Flag{
			instanceFlag(),
			bucketFlag(),
			&cli.StringFlag{Name: "key", Aliases: []string{"k"}, Usage: "Object key", Required: true},
			&cli.StringFlag{Name: "query", Aliases: []string{"q"}, Usage: "SQL expression", Value: "SELECT * FROM S3Object"},
		}, decoderFlags()...),
		Action: func(c *cli.Context) error {
			form, err := table.ParseForm(c.String("form"))
			if err != nil {
				return err
			}
			query := storage.SelectQuery{Expression: c.String("query")}
			// select output never carries a CSV header row
			var dec table.Decoder = table.JSONLines(form)
			if strings.ToLower(c.String("format")) == "csv" {
				query.Format = storage.FormatCSV
				query.CSVHeader = c.Bool("header")
				dec = table.CSV(form)
			}

			tbl, err := newRuntime(c, cfg).service.FetchTable(c.Context, service.FetchRequest{
				Instance: c.String("instance"),
				Bucket:   c.String("bucket"),
				Key:      c.String("key"),
				Decoder:  dec,
				Query:    &query,
			})
			if err != nil {
				return err
			}
			printShape(c, c.String("key"), tbl)
			return nil
		},
	}
}

func fetchMatchingCommand(cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:  "fetch-matching",
		Usage: "Stream every object whose key matches a pattern and print each shape",
		Flags: append(append([]cli.Flag{instanceFlag(), bucketFlag()}, listFlags()...), decoderFlags()...),
		Action: func(c *cli.Context) error {
			dec, err := decoderFromFlags(c)
			if err != nil {
				return err
			}
			tables, err := newRuntime(c, cfg).service.FetchMatching(c.Context,
				c.String("instance"), c.String("bucket"), c.String("pattern"), dec, listOptions(c)...)
			if err != nil {
				return err
			}

			keys := make([]string, 0, len(tables))
			for key := range tables {
				keys = append(keys, key)
			}
			sort.Strings(keys)
			for _, key := range keys {
				printShape(c, key, tables[key])
			}
			return nil
		},
	}
}

func downloadCommand(cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:  "download",
		Usage: "Copy every object whose key matches a pattern into a local directory",
		Flags: append([]cli.Flag{
			instanceFlag(),
			bucketFlag(),
			&cli.StringFlag{
				Name:  "dir",
				Usage: "Local directory to download into",
				Value: ".",
			},
		}, listFlags()...),
		Action: func(c *cli.Context) error {
			paths, err := newRuntime(c, cfg).service.DownloadMatching(c.Context,
				c.String("instance"), c.String("bucket"), c.String("pattern"), c.String("dir"), listOptions(c)...)
			if err != nil {
				return err
			}
			for _, p := range paths {
				fmt.Fprintln(c.App.Writer, p)
			}
			return nil
		},
	}
}
