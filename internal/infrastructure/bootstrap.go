package infrastructure

import (
	"context"
	"log/slog"

	"agentfin/internal/config"
	"agentfin/internal/onchain"
	"agentfin/internal/repository"
	"agentfin/internal/scheduler"
	"agentfin/internal/service"
	transportHTTP "agentfin/internal/transport/http"
	"agentfin/internal/webhook"
	"agentfin/internal/worker"
)

// Bootstrap initialises all dependencies from config and wires up the
// application. Returns the App, a cleanup function, or an error.
func Bootstrap(ctx context.Context) (*App, func(), error) {
	cfg, err := config.New()
	if err != nil {
		return nil, nil, err
	}

	db, err := connectPostgres(cfg.DSN())
	if err != nil {
		return nil, nil, err
	}
	var cleanupFns []func()
	cleanupFns = append(cleanupFns, db.Close)

	rdb, err := connectRedis(cfg.RedisAddr())
	if err != nil {
		return nil, runCleanup(cleanupFns), err
	}
	if rdb != nil {
		cleanupFns = append(cleanupFns, func() { _ = rdb.Close() })
	} else {
		slog.Info("redis not configured, balance caching disabled")
	}

	nc, err := connectNats(cfg.NatsAddr())
	if err != nil {
		return nil, runCleanup(cleanupFns), err
	}
	cleanupFns = append(cleanupFns, nc.Close)

	store := repository.NewStore(db)
	allowances := service.NewAllowanceEngine(store, nc)
	ledger := service.NewLedger(store, allowances, nc)
	biller := service.NewBiller(store, ledger, nc)

	notifier := webhook.NewNotifier()
	chain := onchain.NewClient(cfg.RPCURL, cfg.TokenContract, rdb)

	servers := []Server{
		worker.NewNotifyWorker(notifier, nc),
		scheduler.New(biller, cfg.BillingSchedule),
	}
	if addr, apiErr := cfg.ApiAddr(); apiErr == nil {
		h := transportHTTP.NewHandler(allowances, ledger, biller, notifier, chain)
		servers = append(servers, transportHTTP.NewServer(addr, h))
	} else {
		slog.Info("http api disabled")
	}

	return NewApp(servers), runCleanup(cleanupFns), nil
}

// runCleanup returns a single function that calls all cleanup functions in
// reverse order.
func runCleanup(fns []func()) func() {
	return func() {
		for i := len(fns) - 1; i >= 0; i-- {
			fns[i]()
		}
	}
}
