package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"maktab.org/internal/auth"
	"maktab.org/internal/httpapi"
	"maktab.org/internal/obs"
	"maktab.org/internal/store/pg"
)

var (
	version = "0.3.0"
	commit  = "dev"
)

func main() {
	_ = godotenv.Load()

	obs.Init()
	obs.InitBuildInfo(version, commit)

	dsn := os.Getenv("MAKTAB_PG_DSN")
	if dsn == "" {
		log.Fatal("MAKTAB_PG_DSN is required")
	}
	secret := os.Getenv("MAKTAB_AUTH_SECRET")
	if secret == "" {
		log.Fatal("MAKTAB_AUTH_SECRET is required")
	}

	store, err := pg.Open(dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer store.Close()

	var svcOpts []auth.ServiceOption
	if issuer := os.Getenv("MAKTAB_TOKEN_ISSUER"); issuer != "" {
		svcOpts = append(svcOpts, auth.WithIssuer(issuer))
	}
	if ttl := envDuration("MAKTAB_ACCESS_TTL"); ttl > 0 {
		svcOpts = append(svcOpts, auth.WithAccessTTL(ttl))
	}
	if ttl := envDuration("MAKTAB_REFRESH_TTL"); ttl > 0 {
		svcOpts = append(svcOpts, auth.WithRefreshTTL(ttl))
	}

	authSvc, err := auth.NewService(store, secret, svcOpts...)
	if err != nil {
		log.Fatalf("auth service: %v", err)
	}

	var mfaOpts []auth.MFAOption
	if issuer := os.Getenv("MAKTAB_MFA_ISSUER"); issuer != "" {
		mfaOpts = append(mfaOpts, auth.WithMFAIssuer(issuer))
	}
	mfaSvc, err := auth.NewMFAService(store, mfaOpts...)
	if err != nil {
		log.Fatalf("mfa service: %v", err)
	}
	rbacSvc, err := auth.NewRBACService(store)
	if err != nil {
		log.Fatalf("rbac service: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	if err := authSvc.EnsureBuiltins(ctx); err != nil {
		cancel()
		log.Fatalf("ensure permission catalog: %v", err)
	}
	cancel()

	api := httpapi.New(httpapi.ReadyProbe{DB: store.DB()}, version, authSvc, mfaSvc, rbacSvc)

	addr := os.Getenv("MAKTAB_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting maktab-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	_ = srv.Shutdown(shutdownCtx)
	log.Println("Stopped")
}

func envDuration(name string) time.Duration {
	raw := os.Getenv(name)
	if raw == "" {
		return 0
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		log.Fatalf("%s: %v", name, err)
	}
	return d
}
