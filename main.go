package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/paulbir/TokenTraderPublic-sub001/config"
	"github.com/paulbir/TokenTraderPublic-sub001/domain"
	"github.com/paulbir/TokenTraderPublic-sub001/infrastructure/logger"
	promclient "github.com/paulbir/TokenTraderPublic-sub001/infrastructure/prometheus"
	"github.com/paulbir/TokenTraderPublic-sub001/provider"
	"github.com/paulbir/TokenTraderPublic-sub001/provider/stream"
	"github.com/paulbir/TokenTraderPublic-sub001/rpc"
	"github.com/paulbir/TokenTraderPublic-sub001/usecase"
	"go.uber.org/zap"
)

func main() {
	envFile := flag.String("env", ".env", "dotenv file loaded before the config")
	configFile := flag.String("config", "", "yaml config file, ./config.yaml when empty")
	flag.Parse()

	conf, err := config.Load(*envFile, *configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %s\n", err)
		os.Exit(1)
	}

	log, err := logger.New(conf.DebugMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error building logger: %s\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(conf, log); err != nil {
		log.Error("bookbridge stopped with error", zap.Error(err))
		os.Exit(1)
	}
}

func run(conf *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics := promclient.NewBookMetrics()
	go func() {
		if err := promclient.StartPromClientServer(ctx, conf.MetricsAddr, metrics, log); err != nil {
			log.Error("prometheus server failed", zap.Error(err))
			stop()
		}
	}()

	feeds := provider.NewFeedRegistry[string]()
	for _, feedConf := range conf.Feeds {
		client := stream.NewStreamClient(stream.StreamClientConfig{
			Endpoint:         feedConf.Endpoint,
			HandshakeTimeout: feedConf.HandshakeTimeout,
			KeepAliveTimeout: feedConf.KeepAliveTimeout,
			Logger:           log.With(zap.String("venue", feedConf.Venue)),
		})
		if err := client.Connect(); err != nil {
			return fmt.Errorf("connect to %s: %w", feedConf.Venue, err)
		}
		defer client.Close()

		feeds.Register(feedConf.Venue, stream.NewStreamAPI[string](feedConf.Venue, client, log))
	}

	// assigned before the first book is started
	setBookStatus := func(domain.BookKey, bool) {}

	snapshots := usecase.NewBookSnapshotUseCase[string](feeds,
		usecase.BookSettings{
			UseMatching:           conf.Book.UseMatching,
			ErrorWindow:           conf.Book.ErrorWindow,
			ErrorQueueCapacity:    conf.Book.ErrorQueueCapacity,
			ErrorThreshold:        conf.Book.ErrorThreshold,
			CheckCross:            conf.Book.CheckCross,
			OutOfSequenceLimit:    conf.Book.OutOfSequenceLimit,
			MatchedLevelsWarnSize: conf.Book.MatchedLevelsWarnSize,
			ResyncDelay:           conf.Book.ResyncDelay,
		},
		usecase.WithMetrics[string](metrics),
		usecase.WithLogger[string](log),
		usecase.WithStatusListener[string](func(key domain.BookKey, live bool) {
			setBookStatus(key, live)
		}),
	)
	defer snapshots.Close()

	server := rpc.NewServer(snapshots, &rpc.ValidationServiceConfig{AvailableVenues: conf.Venues()}, log)
	setBookStatus = server.SetBookStatus

	for _, feedConf := range conf.Feeds {
		for _, isin := range feedConf.Isins {
			key, err := domain.NewBookKey(feedConf.Venue, isin)
			if err != nil {
				return fmt.Errorf("feed %s: %w", feedConf.Venue, err)
			}
			if err := snapshots.StartBook(*key); err != nil {
				return err
			}
		}
	}

	lis, err := net.Listen("tcp", conf.RpcAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", conf.RpcAddr, err)
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.Serve(lis)
	}()

	log.Info("bookbridge started",
		zap.Strings("venues", feeds.Venues()),
		zap.String("rpc_addr", conf.RpcAddr),
		zap.String("metrics_addr", conf.MetricsAddr))

	select {
	case <-ctx.Done():
		log.Info("shutting down")
		server.GracefulStop()
		return nil
	case err := <-serveErr:
		return err
	}
}
