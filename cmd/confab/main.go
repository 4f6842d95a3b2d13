package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/confab-dev/confab/pkg/api"
	"github.com/confab-dev/confab/pkg/config"
	"github.com/confab-dev/confab/pkg/mediaworker"
	"github.com/confab-dev/confab/pkg/profiling"
	"github.com/confab-dev/confab/pkg/registry"
	"github.com/confab-dev/confab/pkg/routing"
	"github.com/confab-dev/confab/pkg/signaling"
	"github.com/confab-dev/confab/pkg/telemetry"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const shutdownGrace = 10 * time.Second

func main() {
	var (
		configFilePath = flag.String("config", "config.yaml", "configuration file path")
		cpuProfile     = flag.String("cpuProfile", "", "write CPU profile to `file`")
		memProfile     = flag.String("memProfile", "", "write memory profile to `file`")
	)
	flag.Parse()

	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, ForceColors: true})

	deferredFunctions := []func(){}
	if *cpuProfile != "" {
		deferredFunctions = append(deferredFunctions, profiling.InitCPUProfiling(*cpuProfile))
	}
	if *memProfile != "" {
		deferredFunctions = append(deferredFunctions, profiling.InitMemoryProfiling(*memProfile))
	}
	defer func() {
		for _, function := range deferredFunctions {
			function()
		}
	}()

	cfg, err := config.LoadConfig(*configFilePath)
	if err != nil {
		logrus.WithError(err).Fatal("could not load config")
		return
	}
	setLogLevel(cfg.LogLevel)

	if cfg.Telemetry.Enabled() {
		provider, err := telemetry.Setup(cfg.Telemetry)
		if err != nil {
			logrus.WithError(err).Fatal("could not set up telemetry")
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
			defer cancel()
			_ = provider.Shutdown(ctx)
		}()
	}

	redisClient := registry.NewClient(cfg.Redis)
	defer func() { _ = redisClient.Close() }()
	store := registry.NewRedisStore(redisClient, logrus.WithField("component", "registry"))

	pool := mediaworker.NewPool(cfg.Media)
	defer pool.Close()

	dispatcher := routing.NewDispatcher(cfg.Meeting, pool, store, logrus.NewEntry(logrus.StandardLogger()))
	gateway := signaling.NewGateway(cfg.Signaling, dispatcher, logrus.NewEntry(logrus.StandardLogger()))

	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: api.NewHandler(cfg.API, dispatcher, gateway, logrus.NewEntry(logrus.StandardLogger())),
	}

	group, ctx := errgroup.WithContext(context.Background())

	group.Go(func() error {
		logrus.WithField("addr", cfg.ListenAddr).Info("server listening")
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	group.Go(func() error {
		signals := make(chan os.Signal, 2)
		signal.Notify(signals, os.Interrupt, syscall.SIGTERM)

		select {
		case received := <-signals:
			logrus.WithField("signal", received).Info("shutting down")
		case <-ctx.Done():
			return nil
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		dispatcher.Close(shutdownCtx)
		return server.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		logrus.WithError(err).Fatal("server failed")
	}
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		logrus.SetLevel(logrus.DebugLevel)
	case "info":
		logrus.SetLevel(logrus.InfoLevel)
	case "warn":
		logrus.SetLevel(logrus.WarnLevel)
	case "error":
		logrus.SetLevel(logrus.ErrorLevel)
	case "fatal":
		logrus.SetLevel(logrus.FatalLevel)
	case "panic":
		logrus.SetLevel(logrus.PanicLevel)
	default:
		logrus.SetLevel(logrus.InfoLevel)
	}
}
