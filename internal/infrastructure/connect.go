package infrastructure

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/sethvargo/go-retry"
)

const (
	connectTimeout  = 30 * time.Second
	connectAttempts = 5
)

// backoff retries with exponential delay starting at 500ms.
func backoff() retry.Backoff {
	return retry.WithMaxRetries(connectAttempts, retry.NewExponential(500*time.Millisecond))
}

func connectPostgres(dsn string) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	db, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}

	if err := retry.Do(ctx, backoff(), func(ctx context.Context) error {
		return retry.RetryableError(db.Ping(ctx))
	}); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// connectRedis returns nil when addr is empty; Redis is optional.
func connectRedis(addr string) (*redis.Client, error) {
	if addr == "" {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := retry.Do(ctx, backoff(), func(ctx context.Context) error {
		return retry.RetryableError(rdb.Ping(ctx).Err())
	}); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return rdb, nil
}

func connectNats(url string) (*nats.Conn, error) {
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	var nc *nats.Conn
	err := retry.Do(ctx, backoff(), func(ctx context.Context) error {
		var err error
		nc, err = nats.Connect(url)
		return retry.RetryableError(err)
	})
	if err != nil {
		return nil, err
	}
	return nc, nil
}
