// cmd/integration-gateway/main.go
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"integrationgw/internal/gateway"
	"integrationgw/pkg/accesstoken"
	"integrationgw/pkg/authtoken"
	"integrationgw/pkg/cache"
	"integrationgw/pkg/config"
	"integrationgw/pkg/db"
	"integrationgw/pkg/integration"
	"integrationgw/pkg/iobundle"
	"integrationgw/pkg/jwks"
	"integrationgw/pkg/logger"
	"integrationgw/pkg/middleware"
	"integrationgw/pkg/policy"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg.Env, cfg.LogLevel)
	if err := cfg.Validate(); err != nil {
		log.Fatalw("config", "err", err)
	}

	traced := middleware.InitTracing("integration-gateway", log)
	bundle := iobundle.New(iobundle.Options{
		Workers: cfg.ExecutorWorkers,
		Traced:  traced,
		Log:     logger.Named(log, "iobundle"),
	})
	metrics := cache.NewMetrics(prometheus.DefaultRegisterer)

	keys := jwks.New(bundle, jwks.Options{
		Scheme:  cfg.Scheme(),
		Domain:  cfg.AppDomain,
		Refresh: cfg.KeyRefresh,
		Metrics: metrics,
		Log:     logger.Named(log, "jwks"),
	})
	tokens := accesstoken.New(bundle, accesstoken.Credentials{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Audience:     cfg.JWTAudience,
		TokenURL:     cfg.JWTTokenURL,
	}, accesstoken.Options{
		Refresh: cfg.TokenRefresh,
		Metrics: metrics,
		Log:     logger.Named(log, "accesstoken"),
	})
	// Request paths never wait on the first exchange.
	warmCtx, cancelWarm := context.WithTimeout(context.Background(), 15*time.Second)
	if err := tokens.Warm(warmCtx); err != nil {
		log.Fatalw("access token warm-up", "err", err)
	}
	cancelWarm()

	intOpts := integration.Options{
		Scheme:     cfg.Scheme(),
		Domain:     cfg.AppDomain,
		ClientID:   cfg.ClientID,
		TTL:        cfg.IntegrationTTL,
		MaxEntries: cfg.IntegrationMaxLen,
		Metrics:    metrics,
		Log:        logger.Named(log, "integration"),
	}
	if cfg.ConfigPolicyFile != "" {
		cp, err := policy.LoadFile(context.Background(), cfg.ConfigPolicyFile)
		if err != nil {
			log.Fatalw("config policy", "file", cfg.ConfigPolicyFile, "err", err)
		}
		intOpts.Checker = cp
		log.Infow("config policy loaded", "file", cfg.ConfigPolicyFile)
	}
	integrations := integration.New(bundle, tokens, intOpts)

	opts := []gateway.Option{}
	if rdb := db.MustRedis(cfg, log); rdb != nil {
		opts = append(opts, gateway.WithReplayGuard(db.NewRedisReplayGuard(rdb)))
		defer rdb.Close()
	}
	app := gateway.New(logger.Named(log, "gateway"), gateway.Config{
		IntegrationName: cfg.IntegrationName,
		ClientID:        cfg.ClientID,
		ClientSecret:    cfg.ClientSecret,
		AccessKeyIssuer: cfg.AccessKeyIssuer,
		FrameSrc:        cfg.FrameSrc,
	}, authtoken.NewVerifier(keys), integrations, opts...)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: app.Handler(), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		log.Infow("integration-gateway listening", "addr", cfg.HTTPAddr, "domain", cfg.AppDomain, "integration", cfg.IntegrationName)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalw("ListenAndServe", "err", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
	integrations.Close()
	tokens.Close()
	keys.Close()
	_ = bundle.Close()
	_ = middleware.ShutdownTracing(ctx)
	_ = log.Sync()
	fmt.Println("integration-gateway stopped")
}
