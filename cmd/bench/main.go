// Command bench runs a synthetic workload against the manager and exposes
// optional pprof/Prometheus endpoints.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	_ "net/http/pprof" // registers /debug/pprof/* on DefaultServeMux
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/docker/go-units"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/IvanBrykalov/asyncmem/cache"
	"github.com/IvanBrykalov/asyncmem/config"
	pmet "github.com/IvanBrykalov/asyncmem/metrics/prom"
	"github.com/IvanBrykalov/asyncmem/predict/average"
	"github.com/IvanBrykalov/asyncmem/predict/static"
)

type flags struct {
	cfgFile  string
	logLevel string

	capacity string
	shards   int

	store     string
	dir       string
	redisAddr string
	compress  bool
	resilient bool
	predictor string

	workers  int
	duration time.Duration
	live     int
	readPct  int
	payload  string
	flows    int
	seed     int64

	pprofAddr   string
	metricsAddr string
}

func main() {
	var f flags

	rootCmd := &cobra.Command{
		Use:   "bench",
		Short: "Synthetic workload for the asyncmem manager",
		Long: `bench creates objects on several flows, keeps a window of live async
handles per worker and reads them at random, so payloads move between memory
and the selected store while the capacity bound is enforced.`,
		SilenceUsage: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			setupLogging(f.logLevel)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return run(ctx, cmd, f)
		},
	}

	fl := rootCmd.Flags()
	rootCmd.PersistentFlags().StringVar(&f.logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	fl.StringVarP(&f.cfgFile, "config", "c", "", "YAML or JSON manager config; flags below override it")
	fl.StringVar(&f.capacity, "capacity", "64MB", "capacity of resident payloads")
	fl.IntVar(&f.shards, "shards", 0, "number of candles (0 = GOMAXPROCS)")

	fl.StringVar(&f.store, "store", "mem", "durable tier: mem | file | redis")
	fl.StringVar(&f.dir, "dir", "", "directory for --store=file (empty = in-memory filesystem)")
	fl.StringVar(&f.redisAddr, "redis-addr", "localhost:6379", "address for --store=redis")
	fl.BoolVar(&f.compress, "compress", false, "zstd-compress payloads at rest")
	fl.BoolVar(&f.resilient, "resilient", false, "wrap the store with retries and a circuit breaker")
	fl.StringVar(&f.predictor, "predictor", "average", "wait predictor: static | average")

	fl.IntVar(&f.workers, "workers", 2*runtime.GOMAXPROCS(0), "number of worker goroutines")
	fl.DurationVar(&f.duration, "duration", 10*time.Second, "benchmark duration")
	fl.IntVar(&f.live, "live", 256, "live handles per worker")
	fl.IntVar(&f.readPct, "reads", 90, "read percentage [0..100]")
	fl.StringVar(&f.payload, "payload", "4KB", "payload size")
	fl.IntVar(&f.flows, "flows", 4, "number of distinct flow keys")
	fl.Int64Var(&f.seed, "seed", time.Now().UnixNano(), "random seed")

	fl.StringVar(&f.pprofAddr, "pprof", "", "serve pprof at addr (e.g. :6060); empty = disabled")
	fl.StringVar(&f.metricsAddr, "http", ":8080", "serve Prometheus metrics at addr; empty = disabled")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupLogging(level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
}

// managerConfig loads the config file, if any, and applies flag overrides.
func managerConfig(cmd *cobra.Command, f flags) (cache.Config, error) {
	var cfg cache.Config
	if f.cfgFile != "" {
		var err error
		if cfg, err = config.Load(f.cfgFile); err != nil {
			return cfg, err
		}
	}
	if f.cfgFile == "" || cmd.Flags().Changed("capacity") {
		n, err := units.RAMInBytes(f.capacity)
		if err != nil {
			return cfg, fmt.Errorf("--capacity: %w", err)
		}
		cfg.Capacity = n
	}
	if cmd.Flags().Changed("shards") || cfg.Shards == 0 {
		cfg.Shards = f.shards
	}
	return cfg, cfg.Validate()
}

func newPredictor(name string) (cache.Predictor, error) {
	switch name {
	case "static":
		return static.Predictor{}, nil
	case "average":
		return average.New(average.Options{})
	default:
		return nil, fmt.Errorf("unknown predictor %q (use static or average)", name)
	}
}

func serve(name, addr string) {
	go func() {
		log.Info().Str("addr", addr).Msgf("%s: serving", name)
		if err := http.ListenAndServe(addr, nil); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msgf("%s: server stopped", name)
		}
	}()
}

func run(ctx context.Context, cmd *cobra.Command, f flags) error {
	cfg, err := managerConfig(cmd, f)
	if err != nil {
		return err
	}
	payload, err := units.RAMInBytes(f.payload)
	if err != nil {
		return fmt.Errorf("--payload: %w", err)
	}
	pred, err := newPredictor(f.predictor)
	if err != nil {
		return err
	}
	st, closeStore, err := newStore(f)
	if err != nil {
		return err
	}
	defer closeStore()

	if f.pprofAddr != "" {
		serve("pprof", f.pprofAddr)
	}
	var metrics cache.Metrics = cache.NoopMetrics{}
	if f.metricsAddr != "" {
		metrics = pmet.New(nil, "asyncmem", "bench", nil)
		http.Handle("/metrics", promhttp.Handler())
		serve("metrics", f.metricsAddr)
	}

	logger := log.Logger
	m, err := cache.New(cache.Options{
		Config:    cfg,
		Predictor: pred,
		Store:     st,
		Metrics:   metrics,
		Logger:    &logger,
	})
	if err != nil {
		return err
	}

	w := workload{
		workers: max(f.workers, 1),
		live:    max(f.live, 1),
		readPct: f.readPct,
		payload: int(payload),
		flows:   max(f.flows, 1),
		seed:    f.seed,
	}
	log.Info().
		Str("capacity", units.BytesSize(float64(m.Config().Capacity))).
		Int("shards", m.Config().Shards).
		Str("store", f.store).
		Str("predictor", f.predictor).
		Int("workers", w.workers).
		Dur("duration", f.duration).
		Int64("seed", f.seed).
		Msg("starting")

	runCtx, cancel := context.WithTimeout(ctx, f.duration)
	defer cancel()
	res, err := w.run(runCtx, m)
	if err != nil {
		log.Error().Err(err).Msg("workload")
	}
	stats := m.Stats()

	closeCtx, cancelClose := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelClose()
	if cerr := m.Close(closeCtx); cerr != nil {
		log.Warn().Err(cerr).Msg("close manager")
	}

	res.print(os.Stdout, stats)
	return err
}
