package main

import (
	"context"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"reefchain/core/events"
	"reefchain/native/oracle"
	"reefchain/observability/logging"
	telemetry "reefchain/observability/otel"
	"reefchain/services/oracled/config"
	"reefchain/services/oracled/recorder"
	"reefchain/services/oracled/server"
	"reefchain/services/oracled/sources"
	auditstore "reefchain/services/oracled/storage"
	"reefchain/state"
	coredb "reefchain/storage"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/oracled/config.yaml", "path to oracled configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("REEF_ENV"))
	logger := logging.Setup("oracled", env)
	otlpEndpoint := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	otlpHeaders := telemetry.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS"))
	insecure := true
	if value := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE")); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			insecure = parsed
		}
	}
	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "oracled",
		Environment: env,
		Endpoint:    otlpEndpoint,
		Insecure:    insecure,
		Headers:     otlpHeaders,
		Metrics:     true,
		Traces:      true,
	})
	if err != nil {
		log.Fatalf("init telemetry: %v", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("oracled: load config: %v", err)
	}

	stateDB, err := coredb.NewLevelDB(cfg.StatePath)
	if err != nil {
		log.Fatalf("oracled: open state database: %v", err)
	}
	defer stateDB.Close()
	manager := state.NewManager(stateDB)

	adminCaller := serviceAddress("oracled/admin")
	recorderCaller := serviceAddress("oracled/recorder")
	if err := manager.GrantRole(oracle.RoleOracleAdmin, adminCaller[:]); err != nil {
		log.Fatalf("oracled: grant admin role: %v", err)
	}
	if err := manager.GrantRole(oracle.RoleOracleRecorder, recorderCaller[:]); err != nil {
		log.Fatalf("oracled: grant recorder role: %v", err)
	}

	dsn, err := auditstore.FileDSN(cfg.AuditPath)
	if err != nil {
		log.Fatalf("oracled: resolve audit DSN: %v", err)
	}
	audit, err := auditstore.Open(dsn)
	if err != nil {
		log.Fatalf("oracled: open audit storage: %v", err)
	}
	defer audit.Close()

	emitter := &logEmitter{logger: logger}
	registry := oracle.NewRegistry(manager)
	registry.SetEmitter(emitter)
	admin := oracle.NewAdmin(manager)
	admin.SetEmitter(emitter)
	if tokens, feedIDs := cfg.FeedIDs(); len(tokens) > 0 {
		if err := admin.SetFeedIDBatch(adminCaller, tokens, feedIDs); err != nil {
			log.Fatalf("oracled: seed feed ids: %v", err)
		}
	}
	history := oracle.NewHistory(manager)
	history.SetEmitter(emitter)

	sourceRegistry := sources.NewRegistry()
	adapters := make([]oracle.SourceAdapter, 0, len(cfg.Sources))
	for _, src := range cfg.Sources {
		built, err := sourceRegistry.Build(manager, history, src.Type, src.Endpoint, src.APIKey)
		if err != nil {
			log.Fatalf("oracled: build source %s: %v", src.Name, err)
		}
		adapters = append(adapters, built)
		logger.Info("configured source",
			"source", src.Name,
			"kind", src.Type,
			logging.MaskField("endpoint", src.Endpoint),
			logging.MaskField("api_key", src.APIKey))
	}
	engineParams := cfg.EngineParams()
	if path := strings.TrimSpace(cfg.Engine.ParamsFile); path != "" {
		engineParams, err = oracle.LoadConfig(path)
		if err != nil {
			log.Fatalf("oracled: load engine params: %v", err)
		}
	}
	resolver := oracle.NewResolver(manager, registry, adapters, engineParams)

	pairs := make([]oracle.Pair, 0, len(cfg.Pairs))
	for _, entry := range cfg.Pairs {
		pair, err := oracle.NewPair(entry.Base, entry.Quote)
		if err != nil {
			log.Fatalf("oracled: invalid pair %s/%s: %v", entry.Base, entry.Quote, err)
		}
		pairs = append(pairs, pair)
	}

	keeper, err := recorder.New(resolver, history, audit, pairs, recorderCaller, cfg.Recorder.Interval.Duration,
		recorder.WithLogger(logger))
	if err != nil {
		log.Fatalf("oracled: recorder: %v", err)
	}

	authenticator, err := server.NewAuthenticator(server.AuthConfig{
		BearerToken: cfg.AdminToken,
		AllowMTLS:   strings.TrimSpace(cfg.TLS.ClientCAPath) != "",
	})
	if err != nil {
		log.Fatalf("oracled: configure admin auth: %v", err)
	}

	tlsDisabled := strings.TrimSpace(cfg.TLS.CertPath) == ""
	var tlsConfig *tls.Config
	if !tlsDisabled {
		tlsConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		if caPath := strings.TrimSpace(cfg.TLS.ClientCAPath); caPath != "" {
			caData, err := os.ReadFile(caPath)
			if err != nil {
				log.Fatalf("oracled: load client CA: %v", err)
			}
			pool := x509.NewCertPool()
			if !pool.AppendCertsFromPEM(caData) {
				log.Fatalf("oracled: parse client CA: %s", caPath)
			}
			tlsConfig.ClientCAs = pool
			tlsConfig.ClientAuth = tls.RequireAndVerifyClientCert
		}
	}

	srv, err := server.New(server.Config{
		ListenAddress: cfg.ListenAddress,
		AdminCaller:   adminCaller,
		TwapPeriod:    cfg.Engine.TwapPeriod.Duration,
		RateLimit: server.RateLimit{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		},
		TLS: server.TLSConfig{
			Disabled: tlsDisabled,
			CertFile: cfg.TLS.CertPath,
			KeyFile:  cfg.TLS.KeyPath,
			Config:   tlsConfig,
		},
	}, server.Engine{
		Resolver: resolver,
		History:  history,
		Registry: registry,
		Admin:    admin,
	}, audit, authenticator, logger)
	if err != nil {
		log.Fatalf("oracled: server: %v", err)
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := keeper.Run(rootCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("recorder exited", "error", err)
			stop()
		}
	}()

	if err := srv.Run(rootCtx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("http server error", "error", err)
		os.Exit(1)
	}
}

// serviceAddress derives a stable caller address for the daemon's internal
// identities.
func serviceAddress(name string) [20]byte {
	digest := sha256.Sum256([]byte(name))
	var addr [20]byte
	copy(addr[:], digest[:20])
	return addr
}

// logEmitter forwards engine events to the structured log.
type logEmitter struct {
	logger *slog.Logger
}

func (e *logEmitter) Emit(evt events.Event) {
	if e == nil || e.logger == nil || evt == nil {
		return
	}
	args := []any{"type", evt.EventType()}
	if attributed, ok := evt.(interface{ Attributes() map[string]string }); ok {
		for key, value := range attributed.Attributes() {
			args = append(args, key, value)
		}
	}
	e.logger.Info("engine event", args...)
}
