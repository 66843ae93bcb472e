package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	pyroscope "github.com/grafana/pyroscope-go"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"main/internal/core"
	"main/internal/feed"
	"main/internal/ops"
	"main/internal/persist"
	"main/pkg/conn"
)

func main() {
	if err := run(); err != nil {
		logs.Errorf("trader: %v", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "config.json", "Path to JSON config")
	duration := flag.Duration("duration", 0, "Stop after this long (0=run until signal)")
	pyroscopeAddr := flag.String("pyroscope", "", "Pyroscope server address (empty=disabled)")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if *duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *duration)
		defer cancel()
	}

	loaded, err := ops.Load(*configPath)
	if err != nil {
		return errors.Wrap(err, "load config")
	}

	if *pyroscopeAddr != "" {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: "paper/trader",
			ServerAddress:   *pyroscopeAddr,
			Tags: map[string]string{
				"symbol": loaded.Symbol.Name,
			},
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocObjects,
				pyroscope.ProfileAllocSpace,
				pyroscope.ProfileInuseObjects,
				pyroscope.ProfileInuseSpace,
			},
		})
		if err != nil {
			return errors.Wrap(err, "start pyroscope")
		}
		defer func() {
			_ = profiler.Stop()
		}()
	}

	src, err := buildFeed(ctx, loaded)
	if err != nil {
		return err
	}

	sink, closers, err := buildSink(ctx, loaded)
	if err != nil {
		return err
	}
	defer func() {
		for _, closeFn := range closers {
			closeFn()
		}
	}()

	container := core.New(loaded, src, sink)
	if err := container.Start(ctx); err != nil {
		return errors.Wrap(err, "start container")
	}

	logs.Infof("trader started, symbol: %s, feed: %s, tick interval: %s",
		loaded.Symbol.Name, loaded.FeedSource, loaded.TickInterval)

	<-ctx.Done()
	container.Stop()

	report := container.Report(time.Now().UnixNano())
	logs.Infof("trader stopped, position: %d, realized pnl: %d, equity: %d, filled: %d",
		report.PositionQty, report.RealizedPnl, report.Equity, report.OrdersFilled)
	return nil
}

func buildFeed(ctx context.Context, loaded ops.Loaded) (feed.Feed, error) {
	switch loaded.FeedSource {
	case "binance":
		return feed.NewBinance(ctx), nil
	case "synthetic":
		src, err := feed.NewSynthetic(loaded.Synthetic)
		if err != nil {
			return nil, errors.Wrap(err, "synthetic feed")
		}
		return src, nil
	default:
		return nil, errors.Errorf("unknown feed source: %s", loaded.FeedSource)
	}
}

// buildSink assembles the event sinks. Returned closers release resources
// that outlive the sink itself, in the order they should run.
func buildSink(ctx context.Context, loaded ops.Loaded) (persist.Sink, []func(), error) {
	var (
		sinks   []persist.Sink
		closers []func()
	)

	if loaded.Features.EnableJournal && loaded.Journal.Dir != "" {
		journal, err := persist.NewJournal(loaded.Journal)
		if err != nil {
			return nil, closers, errors.Wrap(err, "journal sink")
		}
		sinks = append(sinks, journal)
	}

	if loaded.Postgres.Enabled() {
		client, err := conn.Open(ctx, conn.Option{
			Host:     loaded.Postgres.Host,
			Port:     loaded.Postgres.Port,
			User:     loaded.Postgres.User,
			Password: loaded.Postgres.Password,
			Database: loaded.Postgres.Database,
		})
		if err != nil {
			return nil, closers, errors.Wrap(err, "postgres connect")
		}
		closers = append(closers, func() {
			if err := client.Close(); err != nil {
				logs.Errorf("close postgres: %v", err)
			}
		})
		pg, err := persist.NewPGSink(client.DB(), persist.PGSinkConfig{})
		if err != nil {
			return nil, closers, errors.Wrap(err, "postgres sink")
		}
		sinks = append(sinks, pg)
	}

	if len(sinks) == 0 {
		return persist.Nop{}, closers, nil
	}
	return persist.NewMulti(sinks...), closers, nil
}
