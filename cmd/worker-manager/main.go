// cmd/worker-manager/main.go
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/camunda/zeebe/clients/go/v8/pkg/zbc"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"restaurant-recommender/internal/common/camunda"
	"restaurant-recommender/internal/common/catalog"
	"restaurant-recommender/internal/common/config"
	"restaurant-recommender/internal/common/database"
	"restaurant-recommender/internal/common/genai"
	"restaurant-recommender/internal/common/logger"
	"restaurant-recommender/internal/common/observability"

	ef "restaurant-recommender/internal/workers/recommendation/extract-facets"
	jr "restaurant-recommender/internal/workers/recommendation/judge-recommendations"
	mc "restaurant-recommender/internal/workers/recommendation/merge-candidates"
	rs "restaurant-recommender/internal/workers/recommendation/rank-shortlist"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	zapLog := logger.New("info", "console")
	defer zapLog.Sync()

	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting worker manager...")

	cfg, err := config.Load()
	if err != nil {
		zapLog.Fatal("config load failed", zap.Error(err))
	}

	obs := observability.New("worker-manager")
	defer obs.Shutdown()

	ctx := context.Background()

	// --- Init Zeebe Client with retry ---
	var camundaClient *camunda.Client
	err = retryWithBackoff(func() error {
		var err error
		camundaClient, err = camunda.NewClient(cfg.Camunda.BrokerAddress)
		return err
	}, 10, 2*time.Second, zapLog, "Zeebe client initialization")

	if err != nil {
		zapLog.Fatal("zeebe client failed after retries", zap.Error(err))
	}
	zeebeClient := camundaClient.GetClient()
	zapLog.Info("Zeebe client connected successfully")

	// --- Init Redis with retry ---
	var redis *database.RedisClient
	err = retryWithBackoff(func() error {
		var err error
		redis, err = database.NewRedis(cfg.Database.Redis)
		if err != nil {
			return err
		}
		return redis.Ping(ctx)
	}, 10, 2*time.Second, zapLog, "Redis connection")

	if err != nil {
		zapLog.Fatal("redis failed after retries", zap.Error(err))
	}
	defer redis.Close()
	zapLog.Info("Redis connected successfully")

	// --- Init External Service Clients ---
	oracle := genai.NewClient(cfg.APIs.GenAI, 2, &genaiLoggerAdapter{log})
	catalogClient := catalog.NewClient(cfg.APIs.Catalog, cfg.APIs.Geocode, 2, &catalogLoggerAdapter{log})

	zapLog.Info("All external service clients initialized")

	// --- Register Stage Workers ---
	var workers []*camunda.CamundaWorker

	if cfg.Workers[ef.TaskType].Enabled {
		handler := ef.NewHandler(
			&ef.Config{
				Timeout:      time.Duration(cfg.Workers[ef.TaskType].Timeout) * time.Millisecond,
				MaxRetries:   cfg.Workers[ef.TaskType].MaxRetries,
				SearchRadius: cfg.Pipeline.SearchRadiusMeters,
				CacheTTL:     time.Duration(cfg.Pipeline.CandidateCacheTTL) * time.Second,
			},
			oracle, catalogClient, redis.Client, &extractFacetsLoggerAdapter{log},
		)
		workers = append(workers, startWorker(zeebeClient, ef.TaskType, cfg.Workers[ef.TaskType], handler, zapLog))
	}

	if cfg.Workers[mc.TaskType].Enabled {
		handler := mc.NewHandler(
			&mc.Config{
				Timeout: time.Duration(cfg.Workers[mc.TaskType].Timeout) * time.Millisecond,
			},
			&mergeCandidatesLoggerAdapter{log},
		)
		workers = append(workers, startWorker(zeebeClient, mc.TaskType, cfg.Workers[mc.TaskType], handler, zapLog))
	}

	if cfg.Workers[rs.TaskType].Enabled {
		handler := rs.NewHandler(
			&rs.Config{
				Timeout:       time.Duration(cfg.Workers[rs.TaskType].Timeout) * time.Millisecond,
				ShortlistSize: cfg.Pipeline.ShortlistSize,
			},
			catalogClient, &rankShortlistLoggerAdapter{log},
		)
		workers = append(workers, startWorker(zeebeClient, rs.TaskType, cfg.Workers[rs.TaskType], handler, zapLog))
	}

	if cfg.Workers[jr.TaskType].Enabled {
		handler := jr.NewHandler(
			&jr.Config{
				Timeout:            time.Duration(cfg.Workers[jr.TaskType].Timeout) * time.Millisecond,
				RecommendationSize: cfg.Pipeline.RecommendationSize,
				ExcerptRunes:       500,
			},
			oracle, catalogClient, &judgeRecommendationsLoggerAdapter{log},
		)
		workers = append(workers, startWorker(zeebeClient, jr.TaskType, cfg.Workers[jr.TaskType], handler, zapLog))
	}

	zapLog.Info("All stage workers registered successfully")

	// --- Health & Metrics Server ---
	go func() {
		http.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			json.NewEncoder(w).Encode(map[string]string{
				"status": "healthy",
				"time":   time.Now().Format(time.RFC3339),
			})
		})
		http.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			json.NewEncoder(w).Encode(map[string]string{
				"status": "ready",
				"time":   time.Now().Format(time.RFC3339),
			})
		})
		http.Handle("/metrics", promhttp.Handler())
		zapLog.Info("Health/Metrics server listening on :8080")
		if err := http.ListenAndServe(":8080", nil); err != nil {
			zapLog.Error("Health/Metrics server failed", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	zapLog.Info("Shutdown signal received, stopping workers...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, w := range workers {
		if w != nil {
			w.Stop(shutdownCtx)
		}
	}

	if err := camundaClient.Close(); err != nil {
		zapLog.Error("Error closing Zeebe client", zap.Error(err))
	}

	zapLog.Info("Worker manager stopped gracefully")
}

// Logger adapters for packages that declare their own Logger interfaces
type extractFacetsLoggerAdapter struct {
	logger.Logger
}

func (a *extractFacetsLoggerAdapter) With(fields map[string]interface{}) ef.Logger {
	return &extractFacetsLoggerAdapter{a.Logger.With(fields)}
}

type mergeCandidatesLoggerAdapter struct {
	logger.Logger
}

func (a *mergeCandidatesLoggerAdapter) With(fields map[string]interface{}) mc.Logger {
	return &mergeCandidatesLoggerAdapter{a.Logger.With(fields)}
}

type rankShortlistLoggerAdapter struct {
	logger.Logger
}

func (a *rankShortlistLoggerAdapter) With(fields map[string]interface{}) rs.Logger {
	return &rankShortlistLoggerAdapter{a.Logger.With(fields)}
}

type judgeRecommendationsLoggerAdapter struct {
	logger.Logger
}

func (a *judgeRecommendationsLoggerAdapter) With(fields map[string]interface{}) jr.Logger {
	return &judgeRecommendationsLoggerAdapter{a.Logger.With(fields)}
}

type genaiLoggerAdapter struct {
	logger.Logger
}

func (a *genaiLoggerAdapter) With(fields map[string]interface{}) genai.Logger {
	return &genaiLoggerAdapter{a.Logger.With(fields)}
}

type catalogLoggerAdapter struct {
	logger.Logger
}

func (a *catalogLoggerAdapter) With(fields map[string]interface{}) catalog.Logger {
	return &catalogLoggerAdapter{a.Logger.With(fields)}
}

func startWorker(client zbc.Client, taskType string, wcfg config.WorkerConfig, handler camunda.JobHandler, log *zap.Logger) *camunda.CamundaWorker {
	if !wcfg.Enabled {
		log.Info("worker disabled", zap.String("taskType", taskType))
		return nil
	}

	return camunda.NewWorker(
		client,
		taskType,
		wcfg.MaxJobsActive,
		time.Duration(wcfg.Timeout)*time.Millisecond,
		handler,
		log,
	)
}
