package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"example.com/backstage/services/gateway/internal/api"
	"example.com/backstage/services/gateway/internal/core"
	"example.com/backstage/services/gateway/internal/infrastructure"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Starts the MQTT gateway",
	Long:  `Launches the embedded MQTT broker with device authorization, message routing and command relay.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServer() error {
	logger.Info("Initializing MQTT Gateway Service...")

	// --- Infrastructure Setup ---
	var mirror core.SnapshotMirror
	if cfg.Redis.Enabled {
		logger.Info("Connecting to registry mirror...")
		m, err := infrastructure.NewRegistryMirror(cfg.Redis)
		if err != nil {
			logger.WithError(err).Warn("Registry mirror unavailable, continuing without it")
		} else {
			mirror = m
			defer m.Close()
		}
	}

	var journal core.CommandStore
	if cfg.Database.DSN != "" {
		logger.Info("Connecting to command journal...")
		db, err := infrastructure.NewDatabase(cfg.Database)
		if err != nil {
			logger.WithError(err).Warn("Command journal unavailable, continuing without it")
		} else {
			journal = core.NewCommandStore(db.DB)
			defer db.Close()
		}
	}

	logger.Info("Connecting to backend integration bus...")
	backend, err := infrastructure.NewServiceBusBackend(cfg.ServiceBus, logger)
	if err != nil {
		return fmt.Errorf("backend bus connection failed: %w", err)
	}
	defer backend.Close()

	var provider core.DeviceInfoProvider
	var groups core.GroupDirectory
	if cfg.Directory.BaseURL != "" {
		directory := infrastructure.NewDirectoryClient(cfg.Directory)
		provider = directory
		groups = directory
	}

	// --- Gateway Core ---
	topics := core.ResolveTopics(core.TopicConfig{
		DataTopic:         cfg.Gateway.DataTopic,
		CommandTopic:      cfg.Gateway.CommandTopic,
		GroupMessageTopic: cfg.Gateway.GroupMessageTopic,
		AuthorizedTopics:  cfg.Gateway.AuthorizedTopics,
	})

	registry := core.NewRegistry(core.RegistryConfig{
		Provider:      provider,
		Mirror:        mirror,
		LookupTimeout: cfg.Gateway.LookupTimeout,
		Logger:        logger,
	})

	broker := infrastructure.NewBroker(cfg.MQTT, logger)

	authorizer := core.NewAuthorizer(core.AuthorizerConfig{
		Registry: registry,
		Topics:   topics,
		Backend:  backend,
		User:     cfg.MQTT.User,
		Password: cfg.MQTT.Password,
		Logger:   logger,
	})

	router := core.NewRouter(core.RouterConfig{
		Topics:       topics,
		Backend:      backend,
		Publisher:    broker,
		QoS:          cfg.MQTT.QoS,
		DeviceField:  cfg.Gateway.DeviceField,
		MessageField: cfg.Gateway.MessageField,
		GroupField:   cfg.Gateway.GroupField,
		Logger:       logger,
	})

	relay := core.NewRelay(core.RelayConfig{
		Publisher: broker,
		Backend:   backend,
		Groups:    groups,
		Journal:   journal,
		QoS:       cfg.MQTT.QoS,
		Logger:    logger,
	})

	gateway := core.NewGateway(registry, authorizer, router, relay, logger)

	// --- Broker Engine ---
	hook := infrastructure.NewGatewayHook(gateway, backend, logger)
	if err := broker.AddHook(hook, nil); err != nil {
		return fmt.Errorf("failed to attach gateway hook: %w", err)
	}

	// A bind failure is fatal: no retry, non-zero exit.
	brokerErr, err := broker.Start()
	if err != nil {
		return err
	}

	// --- Backend Event Loop ---
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		for ev := range backend.Events(ctx) {
			gateway.HandleEvent(ctx, ev)
		}
	}()

	// --- Ops API ---
	gin.SetMode(gin.ReleaseMode)
	opsRouter := gin.New()
	opsRouter.Use(gin.Recovery())
	api.SetupRoutes(opsRouter, api.NewHandlers(gateway, journal, logger))

	opsServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Ops.Port),
		Handler:      opsRouter,
		ReadTimeout:  cfg.Ops.ReadTimeout,
		WriteTimeout: cfg.Ops.WriteTimeout,
	}
	go func() {
		if err := opsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("Ops server failed")
		}
	}()

	logger.WithField("port", cfg.MQTT.Port).Info("Gateway started successfully")

	// --- Graceful Shutdown ---
	shutdownChan := make(chan os.Signal, 1)
	signal.Notify(shutdownChan, os.Interrupt, syscall.SIGTERM)

	var fatal error
	select {
	case <-shutdownChan:
		logger.Warn("Shutdown signal received, initiating graceful shutdown...")
	case fatal = <-brokerErr:
		logger.WithError(fatal).Error("MQTT broker failed")
	case <-gateway.Done():
		logger.Info("Close requested by backend, initiating graceful shutdown...")
	}

	cancel()
	shutdownBroker(broker)

	opsCtx, opsCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer opsCancel()
	if err := opsServer.Shutdown(opsCtx); err != nil {
		logger.WithError(err).Error("Ops server shutdown failed")
	}

	if fatal != nil {
		return fmt.Errorf("broker terminated: %w", fatal)
	}
	logger.Info("MQTT Gateway Service shutdown complete")
	return nil
}

// shutdownBroker closes the broker, waiting at most the configured grace
// period before giving up and letting the process exit.
func shutdownBroker(broker *infrastructure.Broker) {
	done := make(chan struct{})
	go func() {
		if err := broker.Close(); err != nil {
			logger.WithError(err).Error("Broker close failed")
		}
		close(done)
	}()

	select {
	case <-done:
		logger.Info("Broker stopped gracefully")
	case <-time.After(cfg.MQTT.GracePeriod):
		logger.Error("Graceful shutdown timed out, forcing exit")
	}
}
