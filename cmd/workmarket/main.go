package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/and161185/workmarket/internal/cache"
	"github.com/and161185/workmarket/internal/config"
	"github.com/and161185/workmarket/internal/deps"
	"github.com/and161185/workmarket/internal/lifecycle"
	"github.com/and161185/workmarket/internal/matching"
	"github.com/and161185/workmarket/internal/notify"
	"github.com/and161185/workmarket/internal/pricing"
	"github.com/and161185/workmarket/internal/server"
	"github.com/and161185/workmarket/internal/stats"
	"github.com/and161185/workmarket/internal/storage"
)

const (
	statsQueueSize    = 64
	statsQueueWorkers = 2
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	config := config.NewConfig()
	deps := deps.NewDependencies(config.Key, config.Logger)

	store, err := storage.NewPostgresStorage(ctx, config.DatabaseURI)
	if err != nil {
		config.Logger.Fatal(err)
	}
	defer store.Close()

	pricer := pricing.NewEngine(store, cache.NewMemory(), deps.Logger)
	sink := notify.NewSink(config.NotifyAddress, deps.Logger)

	aggregator := stats.NewAggregator(store, deps.Logger)
	queue := stats.NewQueue(statsQueueSize, deps.Logger)
	queue.Run(ctx, aggregator, statsQueueWorkers)

	orders := lifecycle.NewService(store, pricer, sink, queue, deps.Logger)
	matcher := matching.NewService(store)

	srv := server.NewServer(store, pricer, orders, matcher, aggregator, sink, config, deps)
	if err := srv.Run(ctx); err != nil {
		config.Logger.Fatal(err)
	}
}
