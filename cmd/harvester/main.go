package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/bobby-s-dev/airquality-harvester/internal/api"
	"github.com/bobby-s-dev/airquality-harvester/internal/config"
	"github.com/bobby-s-dev/airquality-harvester/internal/models"
	"github.com/bobby-s-dev/airquality-harvester/internal/scheduler"
	"github.com/bobby-s-dev/airquality-harvester/internal/services"
	"github.com/bobby-s-dev/airquality-harvester/internal/stations"
	"github.com/bobby-s-dev/airquality-harvester/pkg/client"
	"github.com/bobby-s-dev/airquality-harvester/pkg/logging"
	"github.com/bobby-s-dev/airquality-harvester/pkg/metrics"
)

func main() {
	// Parse command-line flags
	service := flag.String("service", "", "FIWARE service (tenant)")
	servicePath := flag.String("service-path", "", "FIWARE service path")
	endpoint := flag.String("endpoint", "", "Context broker endpoint")
	latest := flag.Bool("latest", false, "Publish only the latest observation per station")
	t0 := flag.String("t0", "", "Repeat period in seconds; 0 runs a single cycle")
	statusPort := flag.String("status-port", "", "Port for the status API; empty disables it")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] [station ...]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	// Bootstrap logger until the configured one exists
	bootstrap, _ := zap.NewProduction()
	zap.ReplaceGlobals(bootstrap)

	cfg, err := config.LoadConfig()
	if err != nil {
		bootstrap.Fatal("Failed to load configuration", zap.Error(err))
	}

	// Flags override the environment
	if stationArgs := flag.Args(); len(stationArgs) > 0 {
		cfg.Harvest.Stations = stationArgs
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "service":
			cfg.Broker.Service = *service
		case "service-path":
			cfg.Broker.ServicePath = *servicePath
		case "endpoint":
			cfg.Broker.Endpoint = *endpoint
		case "latest":
			cfg.Harvest.OnlyLatest = *latest
		case "t0":
			interval, err := config.ParseInterval(*t0)
			if err != nil {
				bootstrap.Fatal("Invalid --t0", zap.Error(err))
			}
			cfg.Harvest.Interval = interval
		case "status-port":
			cfg.Server.Port = *statusPort
		}
	})

	if err := cfg.Validate(); err != nil {
		bootstrap.Fatal("Invalid configuration", zap.Error(err))
	}

	logger, err := logging.New(logging.Options{Level: cfg.Log.Level, File: cfg.Log.File})
	if err != nil {
		bootstrap.Fatal("Failed to initialize logger", zap.Error(err))
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	logger.Info("Starting Madrid air quality harvester",
		zap.String("endpoint", cfg.Broker.Endpoint),
		zap.String("service", cfg.Broker.Service),
		zap.String("service_path", cfg.Broker.ServicePath),
		zap.Bool("only_latest", cfg.Harvest.OnlyLatest),
		zap.Duration("interval", cfg.Harvest.Interval),
		zap.Strings("stations", cfg.Harvest.Stations))

	registry, err := stations.Load(cfg.Feed.StationsFile, logger)
	if err != nil {
		logger.Fatal("Failed to load station registry", zap.Error(err))
	}

	httpClient, err := client.NewBaseClient("madrid-open-data", client.ClientConfig{
		Timeout:         cfg.HTTP.Timeout,
		CABundle:        cfg.HTTP.CABundle,
		BreakerFailures: uint32(cfg.CircuitBreaker.Failures),
		BreakerTimeout:  cfg.CircuitBreaker.Timeout,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to initialize HTTP client", zap.Error(err))
	}

	metricsCollector := metrics.NewCollector("airquality_harvester")

	feed := client.NewFeedClient(httpClient, cfg.Feed.URL)
	broker := client.NewContextBrokerClient(httpClient, cfg.Broker.Endpoint, cfg.Tenant())

	cache := services.NewObservationCache(cfg.Cache.Duration, cfg.Cache.MaxSize, logger)
	defer cache.Stop()

	harvester := services.NewHarvester(
		feed,
		services.NewBuilder(registry, models.Magnitudes, cfg.Feed.Delimiter, logger),
		services.NewPublisher(broker, logger, metricsCollector),
		cache,
		services.HarvesterOptions{Stations: cfg.Harvest.Stations, OnlyLatest: cfg.Harvest.OnlyLatest},
		logger,
		metricsCollector,
	)

	if !cfg.Loop() {
		code := runOnce(harvester, logger)
		cache.Stop()
		_ = logger.Sync()
		os.Exit(code)
	}

	harvestScheduler := scheduler.NewScheduler(harvester, cfg.Harvest.Interval, cfg.Harvest.Interval, logger)

	var app *fiber.App
	if cfg.Server.Port != "" {
		app = fiber.New(fiber.Config{
			ReadTimeout:           cfg.Server.ReadTimeout,
			WriteTimeout:          cfg.Server.WriteTimeout,
			ErrorHandler:          api.ErrorHandler,
			DisableStartupMessage: true,
		})
		handler := api.NewHandler(harvester, registry, cache, feed, harvestScheduler, logger)
		api.SetupRoutes(app, handler, metricsCollector, logger)

		go func() {
			addr := ":" + cfg.Server.Port
			logger.Info("Starting status server", zap.String("address", addr))

			if err := app.Listen(addr); err != nil {
				logger.Fatal("Failed to start status server", zap.Error(err))
			}
		}()
	}

	harvestScheduler.Start()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down harvester...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if app != nil {
		if err := app.ShutdownWithContext(ctx); err != nil {
			logger.Error("Status server shutdown failed", zap.Error(err))
		}
	}

	// Waits for a running cycle
	harvestScheduler.Stop()

	logger.Info("Harvester stopped")
}

// runOnce runs a single cycle and prints its summary. The exit code is 1 when
// the dataset could not be fetched or any station failed to publish.
func runOnce(harvester *services.Harvester, logger *zap.Logger) int {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	summary, err := harvester.RunCycle(ctx)

	out, _ := json.MarshalIndent(summary, "", "  ")
	fmt.Println(string(out))

	if err != nil {
		logger.Error("Harvesting cycle failed", zap.Error(err))
		return 1
	}
	if summary.InError > 0 {
		return 1
	}
	return 0
}
