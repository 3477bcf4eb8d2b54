// Package config loads typed configuration structs from environment
// variables, with .env autoloading and per-type caching.
//
// Parsing is delegated to the caarlos0/env library, so struct fields opt in
// with `env` tags. The first Load call in a process also runs godotenv, which
// makes local development pick up a .env file without extra wiring; missing
// files are ignored because production platforms inject real variables.
//
// Basic usage:
//
//	import "github.com/dmitrymomot/jobq/core/config"
//
//	type WorkerConfig struct {
//		Queue       string        `env:"WORKER_QUEUE" envDefault:"default"`
//		Concurrency int           `env:"WORKER_CONCURRENCY" envDefault:"5"`
//		RedisURL    string        `env:"REDIS_URL,required"`
//		PollEvery   time.Duration `env:"WORKER_POLL_INTERVAL" envDefault:"1s"`
//	}
//
//	func main() {
//		var cfg WorkerConfig
//
//		// Load with error handling
//		if err := config.Load(&cfg); err != nil {
//			log.Fatal(err)
//		}
//
//		// Or panic on failure during startup
//		config.MustLoad(&cfg)
//	}
//
// # Caching Behavior
//
// Each configuration type is parsed once per process and cached, so repeated
// loads of the same type are cheap and always agree:
//
//	var a WorkerConfig
//	config.Load(&a) // parses the environment
//
//	var b WorkerConfig
//	config.Load(&b) // returns the cached value, a == b
//
// Distinct types cache independently. The engine's own config structs all
// carry env tags, so one MustLoad per struct at startup wires the whole
// stack:
//
//	config.MustLoad(&queueCfg)  // queue.Config: defaults and retention
//	config.MustLoad(&redisCfg)  // redis.Config: store backend connection
//	config.MustLoad(&alerts)    // queue.AlertThresholds: monitoring ceilings
//
// The cache never expires; configuration is read at startup and treated as
// immutable for the life of the process.
package config
