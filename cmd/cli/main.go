package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/glizzus/delay-relay/internal/config"
	"github.com/glizzus/delay-relay/internal/datalayer"
	"github.com/glizzus/delay-relay/internal/presenters"
	"github.com/glizzus/delay-relay/internal/recording"
	"github.com/glizzus/delay-relay/internal/repository"
	"github.com/glizzus/delay-relay/internal/voice"
	"github.com/glizzus/delay-relay/internal/worker"
	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v2"
)

func openRepository(ctx context.Context) (*repository.PostgresEventRepository, func(), error) {
	cfg, err := config.NewPostgresConfigFromEnv()
	if err != nil {
		return nil, nil, err
	}
	if !cfg.Enabled() {
		return nil, nil, errors.New("POSTGRES_HOST is not set")
	}
	pool, err := datalayer.NewPostgresPool(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	if err := datalayer.MigratePostgres(pool); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to migrate postgres: %w", err)
	}
	return repository.NewPostgresEventRepository(pool), pool.Close, nil
}

func openIgnoreList(ctx context.Context) (*worker.RedisIgnoreList, func(), error) {
	cfg, err := config.NewRedisConfigFromEnv()
	if err != nil {
		return nil, nil, err
	}
	if !cfg.Enabled() {
		return nil, nil, errors.New("REDIS_ADDR is not set")
	}
	rdb := redis.NewClient(cfg.Options())
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	closeFn := func() { _ = rdb.Close() }
	return worker.NewRedisIgnoreList(rdb), closeFn, nil
}

func oneArg(c *cli.Context, name string) (string, error) {
	if c.NArg() != 1 {
		return "", cli.Exit(fmt.Sprintf("Expected exactly one argument: <%s>", name), 1)
	}
	return c.Args().First(), nil
}

var eventsCommand = &cli.Command{
	Name:  "events",
	Usage: "Inspect stored relay events",
	Subcommands: []*cli.Command{
		{
			Name:  "list",
			Usage: "List recent events, newest first",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "speaker", Usage: "Only events for this speaker"},
				&cli.StringFlag{Name: "mimic-id", Usage: "Only events for this mimic"},
				&cli.DurationFlag{Name: "since", Usage: "Only events newer than this, e.g. 1h"},
				&cli.IntFlag{Name: "limit", Value: repository.DefaultListLimit, Usage: "Maximum number of events"},
			},
			Action: func(c *cli.Context) error {
				repo, closeRepo, err := openRepository(c.Context)
				if err != nil {
					return cli.Exit("Failed to open event store: "+err.Error(), 1)
				}
				defer closeRepo()

				filter := repository.EventFilter{
					SpeakerName: c.String("speaker"),
					MimicID:     c.String("mimic-id"),
					Limit:       c.Int("limit"),
				}
				if since := c.Duration("since"); since > 0 {
					filter.Since = time.Now().Add(-since)
				}

				events, err := repo.List(c.Context, filter)
				if err != nil {
					return cli.Exit("Failed to list events: "+err.Error(), 1)
				}
				if len(events) == 0 {
					log.Println("No events found.")
					return nil
				}
				for _, e := range events {
					fmt.Fprintln(c.App.Writer, presenters.EventLine(e))
				}
				return nil
			},
		},
	},
}

var ignoreCommand = &cli.Command{
	Name:  "ignore",
	Usage: "Manage speakers that are never mimicked",
	Subcommands: []*cli.Command{
		{
			Name:      "add",
			Usage:     "Stop mimicking a speaker",
			ArgsUsage: "<name>",
			Action: func(c *cli.Context) error {
				name, err := oneArg(c, "name")
				if err != nil {
					return err
				}
				list, closeList, err := openIgnoreList(c.Context)
				if err != nil {
					return cli.Exit(err.Error(), 1)
				}
				defer closeList()
				if err := list.AddToIgnoreList(c.Context, name); err != nil {
					return cli.Exit(err.Error(), 1)
				}
				log.Printf("%s will no longer be mimicked.", name)
				return nil
			},
		},
		{
			Name:      "remove",
			Usage:     "Mimic a previously ignored speaker again",
			ArgsUsage: "<name>",
			Action: func(c *cli.Context) error {
				name, err := oneArg(c, "name")
				if err != nil {
					return err
				}
				list, closeList, err := openIgnoreList(c.Context)
				if err != nil {
					return cli.Exit(err.Error(), 1)
				}
				defer closeList()
				if err := list.RemoveFromIgnoreList(c.Context, name); err != nil {
					return cli.Exit(err.Error(), 1)
				}
				return nil
			},
		},
		{
			Name:  "list",
			Usage: "Show the shared ignore list",
			Action: func(c *cli.Context) error {
				list, closeList, err := openIgnoreList(c.Context)
				if err != nil {
					return cli.Exit(err.Error(), 1)
				}
				defer closeList()
				names, err := list.ListIgnored(c.Context)
				if err != nil {
					return cli.Exit(err.Error(), 1)
				}
				for _, name := range names {
					fmt.Fprintln(c.App.Writer, name)
				}
				return nil
			},
		},
	},
}

var varintCommand = &cli.Command{
	Name:  "varint",
	Usage: "Encode and decode the voice protocol's variable-length integers",
	Subcommands: []*cli.Command{
		{
			Name:      "decode",
			Usage:     "Decode a hex-encoded varint",
			ArgsUsage: "<hex>",
			Action: func(c *cli.Context) error {
				arg, err := oneArg(c, "hex")
				if err != nil {
					return err
				}
				buf, err := hex.DecodeString(strings.ReplaceAll(arg, " ", ""))
				if err != nil {
					return cli.Exit("Invalid hex: "+err.Error(), 1)
				}
				v, n, err := voice.DecodeVarint(buf, 0)
				if err != nil {
					return cli.Exit(err.Error(), 1)
				}
				fmt.Fprintf(c.App.Writer, "%d (%d bytes)\n", v, n)
				if n < len(buf) {
					fmt.Fprintf(c.App.Writer, "trailing: %x\n", buf[n:])
				}
				return nil
			},
		},
		{
			Name:      "encode",
			Usage:     "Encode an integer",
			ArgsUsage: "<int>",
			Action: func(c *cli.Context) error {
				arg, err := oneArg(c, "int")
				if err != nil {
					return err
				}
				v, err := strconv.ParseInt(arg, 10, 64)
				if err != nil {
					return cli.Exit("Invalid integer: "+err.Error(), 1)
				}
				fmt.Fprintf(c.App.Writer, "%x\n", voice.EncodeVarint(v))
				return nil
			},
		},
	},
}

var recordingCommand = &cli.Command{
	Name:  "recording",
	Usage: "Inspect mimic recordings",
	Subcommands: []*cli.Command{
		{
			Name:      "dump",
			Usage:     "Summarize a recording from a file, or from the bucket with --key",
			ArgsUsage: "[file.ogg]",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "key", Usage: "Object key in the recordings bucket"},
				&cli.BoolFlag{Name: "frames", Usage: "Print every frame size"},
			},
			Action: func(c *cli.Context) error {
				var src io.ReadCloser
				if key := c.String("key"); key != "" {
					storage, err := datalayer.NewMinioStorageFromEnv()
					if err != nil {
						return cli.Exit("Failed to open storage: "+err.Error(), 1)
					}
					src, err = storage.Get(c.Context, key)
					if err != nil {
						return cli.Exit("Failed to fetch recording: "+err.Error(), 1)
					}
				} else {
					path, err := oneArg(c, "file.ogg")
					if err != nil {
						return err
					}
					src, err = os.Open(path)
					if err != nil {
						return cli.Exit(err.Error(), 1)
					}
				}
				defer src.Close()

				summary, err := recording.Read(src, nil)
				if err != nil {
					return cli.Exit("Failed to read recording: "+err.Error(), 1)
				}
				fmt.Fprintf(c.App.Writer, "codec: %s\nframes: %d\nbytes: %d\n", summary.Codec, summary.Frames, summary.Bytes)
				if c.Bool("frames") {
					for i, size := range summary.Sizes {
						fmt.Fprintf(c.App.Writer, "%6d  %d\n", i, size)
					}
				}
				return nil
			},
		},
	},
}

func newApp() *cli.App {
	return &cli.App{
		Name:        "delay-relay-cli",
		Description: "A development CLI for inspecting a running delay relay",
		Commands: []*cli.Command{
			eventsCommand,
			ignoreCommand,
			varintCommand,
			recordingCommand,
		},
	}
}

func main() {
	if err := config.LoadEnv(); err != nil && !os.IsNotExist(err) {
		log.Fatalf("Failed to load .env file: %v", err)
	}

	if err := newApp().Run(os.Args); err != nil {
		log.Fatalf("Error running CLI: %v", err)
	}
}
