package main

import (
	"context"
	"database/sql"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"skylink.org/internal/audit"
	"skylink.org/internal/auth"
	"skylink.org/internal/config"
	"skylink.org/internal/httpapi"
	"skylink.org/internal/keys"
	"skylink.org/internal/mtls"
	"skylink.org/internal/obs"
	"skylink.org/internal/proxy"
	"skylink.org/internal/ratelimit"
	"skylink.org/internal/rbac"
)

var version = "1.0.0"

func main() {
	configPath := flag.String("config", os.Getenv("SKYLINK_CONFIG"), "path to YAML configuration")
	flag.Parse()

	obs.Init()
	log := obs.Logger()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("load configuration")
	}
	obs.SetLevel(cfg.LogLevel)

	store := keys.NewStore(cfg.JWT.PrivateKey, cfg.JWT.PublicKey)
	// Fail at startup, not on the first request, when keys are unloadable.
	if _, err := store.Private(); err != nil {
		log.Fatal().Err(err).Msg("load signing key")
	}
	if _, err := store.Public(); err != nil {
		log.Fatal().Err(err).Msg("load verification key")
	}

	issuer := auth.NewIssuer(store, cfg.JWT.Audience, cfg.JWT.TTL)
	verifier := auth.NewVerifier(store, cfg.JWT.Audience)

	limiter := ratelimit.New(
		cfg.RateLimit.PerIdentityPerMinute,
		time.Minute,
		ratelimit.WithGlobalLimit(cfg.RateLimit.GlobalPerSecond, cfg.RateLimit.GlobalBurst),
	)
	janitorCtx, janitorCancel := context.WithCancel(context.Background())
	defer janitorCancel()
	go limiter.StartJanitor(janitorCtx, time.Minute)

	// Audit trail: stdout always, Postgres additionally when configured.
	sinks := audit.MultiSink{audit.NewLogSink(os.Stdout)}
	var db *sql.DB
	if dsn := cfg.Audit.PostgresDSN; dsn != "" {
		db, err = sql.Open("pgx", dsn)
		if err != nil {
			log.Fatal().Err(err).Msg("open audit db")
		}
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(30 * time.Minute)
		schemaCtx, schemaCancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := audit.EnsureSchema(schemaCtx, db); err != nil {
			schemaCancel()
			log.Fatal().Err(err).Msg("ensure audit schema")
		}
		schemaCancel()
		pgSink, err := audit.NewPGSink(db)
		if err != nil {
			log.Fatal().Err(err).Msg("build audit db sink")
		}
		sinks = append(sinks, pgSink)
	}
	recorder := audit.NewRecorder("skylink-gateway", sinks)

	weather, err := proxy.NewHTTPForwarder(cfg.Upstreams.Weather)
	if err != nil {
		log.Fatal().Err(err).Msg("weather upstream")
	}
	contacts, err := proxy.NewHTTPForwarder(cfg.Upstreams.Contacts)
	if err != nil {
		log.Fatal().Err(err).Msg("contacts upstream")
	}
	telemetry, err := proxy.NewHTTPForwarder(cfg.Upstreams.Telemetry)
	if err != nil {
		log.Fatal().Err(err).Msg("telemetry upstream")
	}

	api := httpapi.New(httpapi.Options{
		Issuer:           issuer,
		Verifier:         verifier,
		RBAC:             rbac.NewEvaluator(),
		Limiter:          limiter,
		Recorder:         recorder,
		Weather:          weather,
		Contacts:         contacts,
		Telemetry:        telemetry,
		ReadyProbe:       httpapi.ReadyProbe{DB: db},
		Version:          version,
		LimitDescription: strconv.Itoa(cfg.RateLimit.PerIdentityPerMinute) + "/min",
	})

	tlsConfig, err := mtls.ServerTLSConfig(mtls.Config{
		Enabled:  cfg.MTLS.Enabled,
		CertFile: cfg.MTLS.CertFile,
		KeyFile:  cfg.MTLS.KeyFile,
		CAFile:   cfg.MTLS.CAFile,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("build mTLS configuration")
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.Handler(),
		TLSConfig:         tlsConfig,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	recorder.ServiceStarted(context.Background(), version)
	log.Info().Str("addr", cfg.ListenAddr).Bool("mtls", cfg.MTLS.Enabled).Str("version", version).Msg("starting skylink-gateway")

	go func() {
		var err error
		if tlsConfig != nil {
			err = srv.ListenAndServeTLS("", "")
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("listen")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Info().Msg("shutting down")
	recorder.ServiceStopped(context.Background(), "signal")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
	if db != nil {
		_ = db.Close()
	}
	log.Info().Msg("stopped")
}
