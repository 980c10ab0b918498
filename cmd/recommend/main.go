// cmd/recommend/main.go
//
// One-shot CLI that runs the recommendation pipeline in-process, without a
// workflow engine. Useful for local runs and for re-entering a stored run at
// a later stage.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"restaurant-recommender/internal/common/catalog"
	"restaurant-recommender/internal/common/config"
	"restaurant-recommender/internal/common/database"
	"restaurant-recommender/internal/common/genai"
	"restaurant-recommender/internal/common/logger"
	"restaurant-recommender/internal/common/observability"
	"restaurant-recommender/internal/history"
	"restaurant-recommender/internal/pipeline"
	"restaurant-recommender/internal/statestore"
	ef "restaurant-recommender/internal/workers/recommendation/extract-facets"
	jr "restaurant-recommender/internal/workers/recommendation/judge-recommendations"
	mc "restaurant-recommender/internal/workers/recommendation/merge-candidates"
	rs "restaurant-recommender/internal/workers/recommendation/rank-shortlist"
)

func main() {
	var (
		text      = flag.String("text", "", "free-text restaurant request")
		requestID = flag.String("request-id", "", "request id (generated when empty; required with -from)")
		fromStage = flag.String("from", "", "re-enter a stored run at this stage (Merging, Ranking, Judging)")
		timeout   = flag.Duration("timeout", 3*time.Minute, "overall run timeout")
	)
	flag.Parse()

	if *text == "" && *fromStage == "" {
		fmt.Fprintln(os.Stderr, "usage: recommend -text \"...\" | recommend -request-id ID -from STAGE")
		os.Exit(2)
	}
	if *fromStage != "" && *requestID == "" {
		fmt.Fprintln(os.Stderr, "-from requires -request-id")
		os.Exit(2)
	}

	zapLog := logger.New("info", "console")
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	cfg, err := config.Load()
	if err != nil {
		zapLog.Fatal("config load failed", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	// Redis and Postgres are optional here: without them the run still works,
	// it just cannot snapshot state or record history.
	var states *statestore.Store
	redisClient, err := database.NewRedis(cfg.Database.Redis)
	if err == nil && redisClient.Ping(ctx) == nil {
		states = statestore.New(redisClient.Client, time.Duration(cfg.Pipeline.StateTTL)*time.Second)
		defer redisClient.Close()
	} else {
		zapLog.Warn("redis unavailable, state snapshots disabled")
		redisClient = nil
	}

	var hist *history.Store
	pg, err := database.NewPostgres(cfg.Database.Postgres)
	if err == nil && pg.Ping(ctx) == nil {
		hist = history.New(pg.DB)
		defer pg.Close()
	} else {
		zapLog.Warn("postgres unavailable, run history disabled")
	}

	oracle := genai.NewClient(cfg.APIs.GenAI, 2, &genaiLoggerAdapter{log})
	catalogClient := catalog.NewClient(cfg.APIs.Catalog, cfg.APIs.Geocode, 2, &catalogLoggerAdapter{log})

	extractor := ef.NewHandler(
		&ef.Config{
			Timeout:      *timeout,
			MaxRetries:   2,
			SearchRadius: cfg.Pipeline.SearchRadiusMeters,
			CacheTTL:     time.Duration(cfg.Pipeline.CandidateCacheTTL) * time.Second,
		},
		oracle, catalogClient, rawRedis(redisClient), &extractFacetsLoggerAdapter{log},
	)
	merger := mc.NewHandler(mc.LoadConfig(), &mergeCandidatesLoggerAdapter{log})
	ranker := rs.NewHandler(
		&rs.Config{Timeout: *timeout, ShortlistSize: cfg.Pipeline.ShortlistSize},
		catalogClient, &rankShortlistLoggerAdapter{log},
	)
	judge := jr.NewHandler(
		&jr.Config{Timeout: *timeout, RecommendationSize: cfg.Pipeline.RecommendationSize, ExcerptRunes: 500},
		oracle, catalogClient, &judgeRecommendationsLoggerAdapter{log},
	)

	orchestrator := pipeline.NewOrchestrator(extractor, merger, ranker, judge, states, hist, &pipelineLoggerAdapter{log})

	obs := observability.New("recommend")
	defer obs.Shutdown()

	start := time.Now()
	var state *pipeline.State
	if *fromStage != "" {
		state, err = orchestrator.Resume(ctx, *requestID, pipeline.Stage(*fromStage))
	} else {
		state, err = orchestrator.Run(ctx, *requestID, *text)
	}
	if err != nil {
		obs.RecordRun(ctx, "failed")
		zapLog.Fatal("pipeline run failed", zap.Error(err))
	}
	obs.RecordRun(ctx, string(state.Stage))
	obs.RecordRunDuration(ctx, time.Since(start), string(state.Stage))

	out, _ := json.MarshalIndent(struct {
		RequestID       string      `json:"requestId"`
		Stage           string      `json:"stage"`
		ErrorMessage    string      `json:"errorMessage,omitempty"`
		Recommendations interface{} `json:"recommendations,omitempty"`
	}{
		RequestID:       state.RequestID,
		Stage:           string(state.Stage),
		ErrorMessage:    state.ErrorMessage,
		Recommendations: state.Recommendations,
	}, "", "  ")
	fmt.Println(string(out))
}

func rawRedis(c *database.RedisClient) *redis.Client {
	if c == nil {
		return nil
	}
	return c.Client
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

type pipelineLoggerAdapter struct {
	logger.Logger
}

func (a *pipelineLoggerAdapter) With(fields map[string]interface{}) pipeline.Logger {
	return &pipelineLoggerAdapter{a.Logger.With(fields)}
}
