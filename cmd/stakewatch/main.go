package main

import (
	"context"
	"io"

	"github.com/mtessaro/stakewatch/internal/chainstream"
	"github.com/mtessaro/stakewatch/internal/config"
	"github.com/mtessaro/stakewatch/internal/correlate"
	"github.com/mtessaro/stakewatch/internal/handlers/cli"
	ledgerrpc "github.com/mtessaro/stakewatch/internal/infra/ledger/rpc"
	redisstorage "github.com/mtessaro/stakewatch/internal/infra/storage/redis"
	"github.com/mtessaro/stakewatch/internal/notify"
	"github.com/mtessaro/stakewatch/internal/pipeline"
	"github.com/mtessaro/stakewatch/internal/pkg/logger"
	"github.com/mtessaro/stakewatch/internal/pkg/resilience/retry"
	"github.com/mtessaro/stakewatch/internal/pkg/telemetry"
	transporthttp "github.com/mtessaro/stakewatch/internal/pkg/transport/http"
	"github.com/mtessaro/stakewatch/internal/pkg/transport/jsonrpc"
	"github.com/mtessaro/stakewatch/internal/waiter"
)

const serviceName = "stakewatch"

// stores bundles the persistence backends, redis or in-memory.
type stores struct {
	checkpoint chainstream.CheckpointStorage
	rates      notify.RateStore
	closer     io.Closer
}

// newStores wires redis-backed persistence when an address is configured and
// falls back to in-memory stores otherwise.
func newStores(ctx context.Context, cfg config.Config) (stores, error) {
	if cfg.RedisAddr == "" {
		logger.Warn(ctx, "redis not configured, using in-memory stores")
		return stores{rates: notify.NewMemoryRateStore()}, nil
	}

	rc, err := redisstorage.NewClient(ctx, cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return stores{}, err
	}
	return stores{checkpoint: rc, rates: rc, closer: rc}, nil
}

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	shutdownTelemetry, err := telemetry.Init(ctx, serviceName)
	if err != nil {
		panic(err)
	}
	defer shutdownTelemetry(ctx)

	if err := logger.Init(logger.WithLevel(cfg.LogLevel)); err != nil {
		panic(err)
	}
	defer logger.Sync()

	st, err := newStores(ctx, cfg)
	if err != nil {
		logger.Fatal(ctx, "failed to connect to redis", "error", err)
	}
	if st.closer != nil {
		defer st.closer.Close()
	}

	httpClient := transporthttp.NewClient()
	rpcConn := jsonrpc.NewClient(httpClient.StandardClient(), cfg.NodeRPCEndpoint)
	node := ledgerrpc.NewClient(rpcConn, cfg.NodeWSEndpoint,
		ledgerrpc.WithFallbackRetry(retry.New(
			retry.WithAttempts(cfg.FallbackAttempts),
			retry.WithDelay(cfg.FallbackDelay),
			retry.WithFixedDelay(),
		)),
	)

	registry := waiter.New(waiter.WithTTL(cfg.WaiterTTL))
	correlator := correlate.New(registry, node)
	classifier := notify.NewClassifier(
		notify.LogNotifier{},
		st.rates,
		notify.WithDebounceWindow(cfg.DebounceWindow),
	)

	streamOpts := []chainstream.Option{
		chainstream.WithReconnectPause(cfg.ReconnectPause),
	}
	if st.checkpoint != nil {
		streamOpts = append(streamOpts, chainstream.WithCheckpointStorage(st.checkpoint))
	}

	p := pipeline.New(node, registry, correlator, classifier,
		pipeline.WithPruneInterval(cfg.PruneInterval),
		pipeline.WithMaxConcurrentCorrelations(cfg.MaxConcurrentCorrelations),
		pipeline.WithStreamOptions(streamOpts...),
	)

	if err := cli.Run(ctx, p, node); err != nil {
		logger.Fatal(ctx, "stakewatch exited with an error", "error", err)
	}
}
