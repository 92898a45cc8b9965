package main

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/binflow/binflow"
	"github.com/binflow/binflow/internal/config"
	"github.com/binflow/binflow/processor"
	"github.com/binflow/binflow/source"
)

func newRootCmd() *cobra.Command {
	var configPath string
	var logLevel string

	cmd := &cobra.Command{
		Use:   "binflow",
		Short: "Accumulate items into bins and merge each completed bin",
		Long: `binflow pulls items from the configured source, groups them into bins
by the configured attribute, and writes each completed bin's merged payload
to stdout. With the default in-memory source, items are read line by line
from stdin.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), configPath, logLevel)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to YAML config file")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "log level (overrides config)")

	return cmd
}

func run(ctx context.Context, configPath, logLevel string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	lvl, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zl := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(lvl).
		With().
		Timestamp().
		Logger()
	logger := binflow.NewZerologLogger(zl)

	policy, err := cfg.Policy()
	if err != nil {
		return err
	}
	yield, err := cfg.YieldDuration()
	if err != nil {
		return err
	}

	factory, closeSource, err := buildSource(cfg)
	if err != nil {
		return err
	}
	defer closeSource()

	groupFn := binflow.SingleGroup()
	if cfg.GroupBy != "" {
		groupFn = binflow.GroupByAttribute(cfg.GroupBy)
	}

	merged := make(chan []byte, 16)
	proc := processor.WrapWithLogging(&processor.Concat{
		Output:    merged,
		Separator: []byte("\n"),
	}, logger, "concat")

	stats := binflow.NewBasicStatsCollector()
	eng, err := binflow.New(policy, factory, groupFn, proc)
	if err != nil {
		return err
	}
	eng.WithLogger(logger).WithStats(stats)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	if store, ok := factory.(*source.Memory); ok {
		g.Go(func() error {
			return feedStdin(ctx, store)
		})
	}

	g.Go(func() error {
		defer close(merged)
		err := binflow.NewRunner(eng, yield).WithLogger(logger).Run(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		out := bufio.NewWriter(os.Stdout)
		defer out.Flush()
		for payload := range merged {
			if _, err := out.Write(payload); err != nil {
				return err
			}
			if err := out.WriteByte('\n'); err != nil {
				return err
			}
		}
		return nil
	})

	err = g.Wait()

	s := stats.GetStats()
	zl.Info().
		Uint64("items_binned", s.ItemsBinned).
		Uint64("items_failed", s.ItemsFailed).
		Uint64("bins_processed", s.BinsProcessed).
		Uint64("bins_evicted", s.BinsEvicted).
		Uint64("bytes_processed", s.BytesProcessed).
		Msg("shutdown")

	return err
}

// feedStdin enqueues each stdin line as an item in the in-memory store.
func feedStdin(ctx context.Context, store *source.Memory) error {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		line := make([]byte, len(scanner.Bytes()))
		copy(line, scanner.Bytes())
		store.Put(line, int64(len(line)), nil)
	}
	return scanner.Err()
}

func buildSource(cfg *config.Config) (binflow.SessionFactory, func(), error) {
	switch cfg.Source.Kind {
	case "", "memory":
		return source.NewMemory(), func() {}, nil

	case "kafka":
		src, err := source.NewKafka(source.KafkaConfig{
			Brokers:       cfg.Source.Kafka.Brokers,
			Topic:         cfg.Source.Kafka.Topic,
			GroupID:       cfg.Source.Kafka.GroupID,
			OriginalTopic: cfg.Source.Kafka.OriginalTopic,
			FailureTopic:  cfg.Source.Kafka.FailureTopic,
		})
		if err != nil {
			return nil, nil, err
		}
		return src, func() { _ = src.Close() }, nil

	case "redis":
		src, err := source.NewRedis(source.RedisConfig{
			Addr: cfg.Source.Redis.Addr,
			Key:  cfg.Source.Redis.Key,
		})
		if err != nil {
			return nil, nil, err
		}
		return src, func() { _ = src.Close() }, nil

	case "postgres":
		db, err := sql.Open("postgres", cfg.Source.Postgres.DSN)
		if err != nil {
			return nil, nil, err
		}
		src, err := source.NewPostgres(source.PostgresConfig{
			DB:    db,
			Table: cfg.Source.Postgres.Table,
		})
		if err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		return src, func() { _ = db.Close() }, nil

	default:
		return nil, nil, fmt.Errorf("unknown source kind %q", cfg.Source.Kind)
	}
}
