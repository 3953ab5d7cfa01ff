package main

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"regexp"
	"strings"
	"sync"
	"syscall"
	"time"

	"riskrun/internal/api"
	"riskrun/internal/config"
	"riskrun/internal/logging"
	"riskrun/internal/orchestrator"
	"riskrun/internal/pricer"
	"riskrun/internal/repository"
	"riskrun/internal/worker"

	"go.uber.org/zap"
)

// BuildCommit is set at build time via -ldflags.
var BuildCommit = "dev"

func main() {
	log := logging.New()
	defer log.Sync()

	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatal("invalid configuration", zap.Error(err))
	}

	log.Info("starting riskrun",
		zap.String("commit", BuildCommit),
		zap.String("db", redactDatabaseURL(cfg.DatabaseURL)),
		zap.Int("api_port", cfg.APIPort),
		zap.Int("worker_count", cfg.WorkerCount))

	repo, err := repository.NewRepository(cfg.DatabaseURL)
	if err != nil {
		log.Fatal("failed to connect to database", zap.Error(err))
	}
	defer repo.Close()

	if os.Getenv("SKIP_MIGRATION") == "true" {
		log.Info("database migration skipped")
	} else {
		schemaPath := os.Getenv("SCHEMA_PATH")
		if schemaPath == "" {
			schemaPath = "schema.sql"
		}
		if err := repo.Migrate(schemaPath); err != nil {
			log.Fatal("migration failed", zap.Error(err))
		}
		log.Info("database migration complete")
	}

	// Pricer bootstrap: explicit, once, before any worker starts.
	registry := pricer.NewRegistry()
	pricer.RegisterBuiltins(registry)

	orch := orchestrator.New(repo, orchestrator.Config{
		DefaultHashMod: cfg.RunTaskHashMod,
		MaxAttempts:    cfg.MaxAttempts,
		PositionsPath:  cfg.PositionsSnapshotPath,
	}, logging.Named(log, "orchestrator"))

	apiServer := api.NewServer(repo, orch, cfg.APIPort, logging.Named(log, "api"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup

	// Workers. Each is single-threaded; scale comes from WORKER_COUNT or
	// more processes pointing at the same database.
	if os.Getenv("ENABLE_WORKER") != "false" {
		for i := 0; i < cfg.WorkerCount; i++ {
			workerID := cfg.WorkerID
			if cfg.WorkerCount > 1 {
				workerID = fmt.Sprintf("%s-%d", cfg.WorkerID, i+1)
			}
			w := worker.New(repo, registry, worker.Config{
				WorkerID:     workerID,
				LeaseSeconds: cfg.WorkerLeaseSeconds,
				PollInterval: time.Duration(cfg.WorkerPollMillis) * time.Millisecond,
			}, logging.Named(log, "worker"))

			wg.Add(1)
			go func() {
				defer wg.Done()
				w.Run(ctx)
			}()
		}
	} else {
		log.Info("workers disabled (ENABLE_WORKER=false)")
	}

	// Reaper: dead-letters expired leases with no attempts left so runs
	// cannot hang on a crashed worker's last retry.
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(time.Duration(cfg.WorkerLeaseSeconds) * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n, err := repo.ReapExpiredLeases(ctx); err != nil {
					log.Warn("lease reap failed", zap.Error(err))
				} else if n > 0 {
					log.Info("reaped expired leases", zap.Int64("count", n))
				}
			}
		}
	}()

	go func() {
		if err := apiServer.Start(); err != nil && err != http.ErrServerClosed {
			log.Fatal("api server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("api shutdown error", zap.Error(err))
	}
	cancel()
	wg.Wait()
}

func redactDatabaseURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	u, err := url.Parse(raw)
	if err == nil && u.Scheme != "" {
		if u.User != nil {
			user := u.User.Username()
			if user == "" {
				user = "user"
			}
			u.User = url.UserPassword(user, "****")
		}
		u.RawQuery = ""
		return u.String()
	}

	re := regexp.MustCompile(`(?i)(postgres(?:ql)?://[^:/?#]+):([^@]+)@`)
	if re.MatchString(raw) {
		return re.ReplaceAllString(raw, `$1:****@`)
	}
	re = regexp.MustCompile(`(?i)(password=)(\S+)`)
	return re.ReplaceAllString(raw, `$1****`)
}
