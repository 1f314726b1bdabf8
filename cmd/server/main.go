package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	env "github.com/caarlos0/env/v11"
	"github.com/cbodonnell/rally/pkg/api"
	"github.com/cbodonnell/rally/pkg/auth/providers"
	"github.com/cbodonnell/rally/pkg/log"
	"github.com/cbodonnell/rally/pkg/network"
	"github.com/cbodonnell/rally/pkg/notify"
	"github.com/cbodonnell/rally/pkg/scheduler"
	"github.com/cbodonnell/rally/pkg/sessions"
	"github.com/cbodonnell/rally/pkg/version"
	"golang.org/x/sync/errgroup"
)

type envConfig struct {
	// APISecret authorizes the orchestrator's administrative requests
	APISecret string `env:"RALLY_API_SECRET,required"`
	// TokenSecret verifies participant connection tokens signed by the orchestrator
	TokenSecret string `env:"RALLY_TOKEN_SECRET,required"`
	// SessionFinishedURL receives terminal session outcome reports
	SessionFinishedURL string `env:"RALLY_SESSION_FINISHED_URL"`
	// PresenceChangedURL receives participant presence change reports
	PresenceChangedURL string `env:"RALLY_PRESENCE_CHANGED_URL"`
}

func main() {
	wsPort := flag.Int("ws-port", 8888, "WebSocket port to listen on")
	apiPort := flag.Int("api-port", 8889, "Administrative API port to listen on")
	tickInterval := flag.Duration("tick-interval", 50*time.Millisecond, "Simulation tick interval")
	graceWindow := flag.Duration("grace-window", 30*time.Second, "Reconnection grace window")
	tlsCertFile := flag.String("tls-cert", "", "TLS certificate file")
	tlsKeyFile := flag.String("tls-key", "", "TLS key file")
	logLevel := flag.String("log-level", "info", "Log level")
	flag.Parse()

	parsedLogLevel, err := log.ParseLogLevel(*logLevel)
	if err != nil {
		panic(fmt.Sprintf("Failed to parse log level: %v", err))
	}

	logger := log.New(os.Stdout, "", log.DefaultLoggerFlag, parsedLogLevel)
	log.SetDefaultLogger(logger)
	log.Info("Log level set to %s", parsedLogLevel)

	log.Info("Starting server version %s", version.Get())

	cfg := envConfig{}
	if err := env.Parse(&cfg); err != nil {
		panic(fmt.Sprintf("Failed to parse environment: %v", err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	notifier := notify.NewNotifier(notify.NewNotifierOptions{
		SessionFinishedURL: cfg.SessionFinishedURL,
		PresenceChangedURL: cfg.PresenceChangedURL,
	})

	sched := scheduler.NewScheduler(*tickInterval)

	registry := sessions.NewRegistry(sessions.NewRegistryOptions{
		Scheduler:   sched,
		Notifier:    notifier,
		GraceWindow: *graceWindow,
	})

	authProvider, err := providers.NewHMACAuthProvider(cfg.TokenSecret)
	if err != nil {
		panic(fmt.Sprintf("Failed to create auth provider: %v", err))
	}

	var gatewayTLS *network.TLSConfig
	var apiTLS *api.TLSConfig
	if *tlsCertFile != "" && *tlsKeyFile != "" {
		gatewayTLS = &network.TLSConfig{CertFile: *tlsCertFile, KeyFile: *tlsKeyFile}
		apiTLS = &api.TLSConfig{CertFile: *tlsCertFile, KeyFile: *tlsKeyFile}
	}

	gateway := network.NewGateway(network.NewGatewayOptions{
		Port:         *wsPort,
		TLS:          gatewayTLS,
		Registry:     registry,
		AuthProvider: authProvider,
	})

	apiServer := api.NewAPIServer(api.NewAPIServerOptions{
		Port:     *apiPort,
		TLS:      apiTLS,
		Secret:   cfg.APISecret,
		Registry: registry,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sched.Run(gctx)
	})
	g.Go(func() error {
		return notifier.Start(gctx)
	})
	g.Go(func() error {
		return gateway.Start(gctx)
	})
	g.Go(func() error {
		return apiServer.Start(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		registry.EndAll("server shutdown")
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error("Server exited with error: %v", err)
		os.Exit(1)
	}
	log.Info("Server exited")
}
