package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	v1 "domainpilot/api/v1"
	"domainpilot/internal/acme"
	"domainpilot/internal/auth"
	"domainpilot/internal/cache"
	"domainpilot/internal/certs"
	"domainpilot/internal/config"
	"domainpilot/internal/db"
	"domainpilot/internal/lifecycle"
	"domainpilot/internal/registry"
	"domainpilot/internal/verify"
	"domainpilot/internal/ws"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	log.Println("✓ Configuration loaded")

	// 2. Initialize MySQL
	if err := db.InitMySQL(cfg.MySQL.DSN); err != nil {
		log.Fatalf("Failed to initialize MySQL: %v", err)
	}
	defer db.Close()

	if cfg.Migrate {
		if err := db.Migrate(db.GetDB()); err != nil {
			log.Fatalf("Failed to migrate database: %v", err)
		}
	}

	// 3. Locking: Redis when configured, in-process otherwise
	var locker cache.Locker
	if cfg.Redis.Addr != "" {
		if err := cache.InitRedis(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB); err != nil {
			log.Fatalf("Failed to initialize Redis: %v", err)
		}
		defer cache.Close()
		locker = cache.NewRedisLocker(cache.Client)
	} else {
		log.Println("Redis not configured, using in-process locks")
		locker = cache.NewMemoryLocker()
	}

	// 4. Auth and status push
	auth.InitJWT(cfg.JWT.Secret)
	if err := ws.InitServer(); err != nil {
		log.Fatalf("Failed to initialize WebSocket server: %v", err)
	}
	defer ws.Close()

	// 5. Domain lifecycle wiring
	gdb := db.GetDB()
	logger := logrus.NewEntry(logrus.StandardLogger())

	reg := registry.New(gdb, cfg.PlatformApex)
	resolver := lifecycle.NewResolver(gdb)
	orch := lifecycle.New(reg, resolver, ws.NewPublisher(ws.Server), logger)

	verifyWorker := verify.NewWorker(reg, orch, resolver, locker, verify.WorkerConfig{
		Enabled:            cfg.VerifyWorker.Enabled,
		IntervalSec:        cfg.VerifyWorker.IntervalSec,
		BatchSize:          cfg.VerifyWorker.BatchSize,
		BackoffBaseSec:     cfg.VerifyWorker.BackoffBaseSec,
		BackoffCapSec:      cfg.VerifyWorker.BackoffCapSec,
		VerifyTimeoutHours: cfg.VerifyWorker.VerifyTimeoutHours,
	}, logger)

	certManager := certs.NewManager(reg, orch, resolver, locker, acme.NewIssuer(gdb), certs.ManagerConfig{
		Enabled:        cfg.CertWorker.Enabled,
		IntervalSec:    cfg.CertWorker.IntervalSec,
		BatchSize:      cfg.CertWorker.BatchSize,
		MaxAttempts:    cfg.CertWorker.MaxAttempts,
		RetryBaseSec:   cfg.CertWorker.RetryBaseSec,
		BackoffBaseSec: cfg.CertWorker.BackoffBaseSec,
		BackoffCapSec:  cfg.CertWorker.BackoffCapSec,
	}, logger)

	renewScanner := certs.NewRenewScanner(reg, orch, certManager, resolver, locker, certs.ScannerConfig{
		Enabled:         cfg.RenewScanner.Enabled,
		IntervalSec:     cfg.RenewScanner.IntervalSec,
		BatchSize:       cfg.RenewScanner.BatchSize,
		RenewBeforeDays: cfg.RenewScanner.RenewBeforeDays,
	}, logger)

	verifyWorker.Start()
	defer verifyWorker.Stop()
	certManager.Start()
	defer certManager.Stop()
	renewScanner.Start()
	defer renewScanner.Stop()

	// 6. HTTP server
	gin.SetMode(gin.ReleaseMode)
	r := gin.Default()

	v1.SetupRouter(r, gdb, cfg, reg, orch)

	wsHandler := ws.WrapWithAuth(ws.Server)
	r.GET("/ws/socket.io/*any", gin.WrapH(wsHandler))
	r.POST("/ws/socket.io/*any", gin.WrapH(wsHandler))

	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	go func() {
		log.Printf("✓ Server starting on %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Workers stop via the deferred Stops once the HTTP server drains
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("Forced shutdown: %v", err)
	}
}
