// Package redis provides Redis client initialization and health checking for
// the job-queue engine's persistent backend.
//
// It wraps the go-redis client with URL validation, exponential-backoff retry
// logic, and a ping-verified handshake, so that by the time Connect returns
// the client is known to be usable as a queue store backend.
//
// # Key Features
//
//   - Connect: creates a Redis client, retrying with exponential backoff until
//     Redis answers a ping or the attempts are exhausted
//   - Healthcheck: returns a probe function for liveness/readiness endpoints
//
// # Configuration
//
// All configuration is handled through the Config struct with environment
// variable mapping:
//
//	type Config struct {
//		ConnectionURL  string        `env:"REDIS_URL,required" envDefault:"redis://localhost:6379/0"`
//		RetryAttempts  int           `env:"REDIS_RETRY_ATTEMPTS" envDefault:"3"`
//		RetryInterval  time.Duration `env:"REDIS_RETRY_INTERVAL" envDefault:"5s"`
//		ConnectTimeout time.Duration `env:"REDIS_CONNECT_TIMEOUT" envDefault:"30s"`
//		ScanBatchSize  int           `env:"REDIS_SCAN_BATCH_SIZE" envDefault:"1000"`
//	}
//
// Both redis:// and rediss:// (TLS) URL schemes are supported. Load the struct
// with the core/config package or populate it directly.
//
// # Usage Example
//
// The typical consumer is the queue engine: connect once, hand the client to
// the Redis-backed store, and give the store to the manager.
//
//	package main
//
//	import (
//		"context"
//		"log"
//		"time"
//
//		"github.com/dmitrymomot/jobq/core/config"
//		"github.com/dmitrymomot/jobq/core/queue"
//		"github.com/dmitrymomot/jobq/integration/database/redis"
//	)
//
//	func main() {
//		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
//		defer cancel()
//
//		var cfg redis.Config
//		if err := config.Load(&cfg); err != nil {
//			log.Fatal(err)
//		}
//
//		client, err := redis.Connect(ctx, cfg)
//		if err != nil {
//			log.Fatal("failed to connect to redis:", err)
//		}
//		defer client.Close()
//
//		store, err := queue.NewRedisStore(client)
//		if err != nil {
//			log.Fatal(err)
//		}
//
//		manager, err := queue.NewManager(store)
//		if err != nil {
//			log.Fatal(err)
//		}
//		defer manager.Close()
//	}
//
// # Health Checking
//
// Healthcheck returns a function suitable for Kubernetes probes or HTTP
// health endpoints:
//
//	probe := redis.Healthcheck(client)
//	if err := probe(ctx); err != nil {
//		// report unavailable
//	}
//
// The probe is a single ping; it verifies connectivity without touching queue
// data.
//
// # Error Handling
//
// The package defines sentinel errors checkable with errors.Is():
//
//   - ErrEmptyConnectionURL: no connection URL was provided
//   - ErrFailedToParseRedisConnString: the URL is malformed
//   - ErrRedisNotReady: Redis did not answer within the retry budget
//   - ErrHealthcheckFailed: a health probe ping failed
//
// Sentinels wrap the underlying go-redis errors, so the original cause stays
// inspectable while callers branch on stable types.
//
// # Retry Logic and Timeouts
//
// Connection establishment retries with exponential backoff: RetryInterval,
// then 2x, 4x, and so on, up to RetryAttempts tries. The whole handshake is
// bounded by ConnectTimeout and respects context cancellation, so a dead
// Redis fails fast instead of blocking engine startup indefinitely.
package redis
