package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Sternrassler/legacy-adapter/pkg/adapter"
	"github.com/Sternrassler/legacy-adapter/pkg/breaker"
	"github.com/Sternrassler/legacy-adapter/pkg/client"
	"github.com/Sternrassler/legacy-adapter/pkg/config"
	"github.com/Sternrassler/legacy-adapter/pkg/events"
	"github.com/Sternrassler/legacy-adapter/pkg/logging"
	"github.com/Sternrassler/legacy-adapter/pkg/transform"
)

// Version information (set via ldflags during build)
var version = "dev"

const shutdownTimeout = 10 * time.Second

func main() {
	versionFlag := flag.Bool("version", false, "Print version information and exit")
	configPath := flag.String("config", "", "Path to config file (default: search ./config and .)")
	flag.Parse()

	if *versionFlag {
		fmt.Printf("legacy-proxy %s\n", version)
		os.Exit(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath); err != nil {
		log.Error().Err(err).Msg("legacy-proxy failed")
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string) error {
	var (
		cfg *config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}

	logCfg := cfg.LoggingConfig()
	logCfg.Service = "legacy-proxy"
	logging.Setup(logCfg)
	logger := logging.NewLogger("legacy-proxy")

	svc, err := newServices(cfg)
	if err != nil {
		return err
	}
	defer svc.transitions.Close()

	sub := svc.transitions.Subscribe(64, events.PolicyDropOldest)
	go logTransitions(sub, logger)

	server := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           newRouter(svc),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info().
			Str("address", cfg.Server.Address).
			Str("environment", cfg.Server.Environment).
			Str("upstream", cfg.Upstream.BaseURL).
			Str("version", version).
			Msg("Starting legacy proxy")
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	logger.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// services holds everything the routes need. Built once at startup.
type services struct {
	customers   *adapter.Adapter[transform.LegacyCustomer, transform.Customer]
	payments    *adapter.Adapter[transform.LegacyPayment, transform.Payment]
	breakers    *breaker.Registry
	transitions *events.Bus[breaker.Transition]

	customerTTL time.Duration
	paymentTTL  time.Duration
	listTTL     time.Duration
}

func newServices(cfg *config.Config) (*services, error) {
	upstream, err := client.New(cfg.ClientConfig())
	if err != nil {
		return nil, fmt.Errorf("upstream client: %w", err)
	}

	retrier, err := client.NewRetrier(cfg.RetryPolicy())
	if err != nil {
		return nil, err
	}

	transitions := events.NewBus[breaker.Transition]("breaker")
	breakers, err := breaker.NewRegistry(cfg.BreakerConfig(), breaker.WithEvents(transitions))
	if err != nil {
		return nil, fmt.Errorf("breaker registry: %w", err)
	}

	customerTTL, paymentTTL, listTTL, staleTTL := cfg.TTLs()
	var opts []adapter.Option
	if staleTTL > 0 {
		opts = append(opts, adapter.WithStaleOnOpen(staleTTL))
	}

	customers, err := adapter.New(adapter.Config[transform.LegacyCustomer, transform.Customer]{
		Name:        "customers",
		Resource:    "customers",
		ItemPath:    "/customers/{id}",
		ListPath:    "/customers",
		DefaultTTL:  customerTTL,
		Transform:   transform.CustomerFromLegacy,
		KeyOf:       func(c transform.Customer) string { return c.ID },
		Client:      upstream,
		Retrier:     retrier,
		Breaker:     breakers.Get("customers"),
		Pagination:  cfg.PaginationConfig(),
		CacheShards: cfg.Cache.Shards,
	}, opts...)
	if err != nil {
		return nil, err
	}

	payments, err := adapter.New(adapter.Config[transform.LegacyPayment, transform.Payment]{
		Name:        "payments",
		Resource:    "payments",
		ItemPath:    "/payments/{id}",
		ListPath:    "/payments",
		DefaultTTL:  paymentTTL,
		Transform:   transform.PaymentFromLegacy,
		KeyOf:       func(p transform.Payment) string { return p.ID },
		Client:      upstream,
		Retrier:     retrier,
		Breaker:     breakers.Get("payments"),
		Pagination:  cfg.PaginationConfig(),
		CacheShards: cfg.Cache.Shards,
	}, opts...)
	if err != nil {
		return nil, err
	}

	return &services{
		customers:   customers,
		payments:    payments,
		breakers:    breakers,
		transitions: transitions,
		customerTTL: customerTTL,
		paymentTTL:  paymentTTL,
		listTTL:     listTTL,
	}, nil
}

// logTransitions logs breaker transitions until the bus is closed.
func logTransitions(sub *events.Subscription[breaker.Transition], logger zerolog.Logger) {
	for t := range sub.C() {
		event := logger.Info()
		if t.To == breaker.StateOpen {
			event = logger.Warn()
		}
		event.
			Str("breaker", t.Name).
			Str("from", t.From.String()).
			Str("to", t.To.String()).
			Int("consecutive_failures", t.Failures).
			Time("at", t.At).
			Uint64("dropped", sub.Dropped()).
			Msg("Breaker transition")
	}
}
