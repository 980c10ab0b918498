// Package extractfacets decomposes a free-text restaurant request into its
// three facets and resolves each facet to a candidate set from the catalog.
package extractfacets

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
	"github.com/redis/go-redis/v9"

	"restaurant-recommender/internal/common/catalog"
	"restaurant-recommender/internal/common/errors"
	"restaurant-recommender/internal/common/genai"
	"restaurant-recommender/internal/common/metrics"
	"restaurant-recommender/internal/models"
)

const (
	TaskType = "extract-facets"
)

type Logger interface {
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
	With(fields map[string]interface{}) Logger
}

type Handler struct {
	config       *Config
	oracle       *genai.Client
	catalog      *catalog.Client
	redisClient  *redis.Client
	errorHandler *errors.ErrorHandler
	logger       Logger
}

func NewHandler(config *Config, oracle *genai.Client, cat *catalog.Client, redisClient *redis.Client, log Logger) *Handler {
	l := log.With(map[string]interface{}{
		"taskType": TaskType,
	})
	return &Handler{
		config:       config,
		oracle:       oracle,
		catalog:      cat,
		redisClient:  redisClient,
		errorHandler: errors.NewErrorHandler(l),
		logger:       l,
	}
}

func (h *Handler) Handle(client worker.JobClient, job entities.Job) {
	h.logger.Info("processing job", map[string]interface{}{
		"jobKey":      job.Key,
		"workflowKey": job.ProcessInstanceKey,
	})

	var input Input
	if err := json.Unmarshal([]byte(job.Variables), &input); err != nil {
		h.errorHandler.HandleJobError(context.Background(), client, job, fmt.Errorf("parse input: %w", err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	start := time.Now()
	output, err := h.execute(ctx, &input)
	if err != nil {
		metrics.WorkerJobsFailed.WithLabelValues(TaskType, errorCode(err)).Inc()
		h.errorHandler.HandleJobError(ctx, client, job, err)
		return
	}
	metrics.WorkerJobsCompleted.WithLabelValues(TaskType).Inc()
	metrics.WorkerJobDuration.WithLabelValues(TaskType).Observe(time.Since(start).Seconds())

	h.completeJob(client, job, output)
}

func (h *Handler) execute(ctx context.Context, input *Input) (*Output, error) {
	facets, err := h.extractFacets(ctx, input.UserText)
	if err != nil {
		return nil, err
	}

	if facets.LocationText == "" {
		return nil, errors.NewLocationNotFoundError(input.UserText)
	}

	coords, err := h.catalog.Geocode(ctx, facets.LocationText)
	if err != nil {
		return nil, errors.NewGeocodingFailedError(facets.LocationText, err)
	}

	output := &Output{
		Facets:      *facets,
		Coordinates: *coords,
	}

	if err := h.fetchCandidates(ctx, facets, coords, output); err != nil {
		return nil, err
	}

	metrics.CandidateSetSize.WithLabelValues("location").Observe(float64(len(output.LocationCandidates)))
	metrics.CandidateSetSize.WithLabelValues("menu").Observe(float64(len(output.MenuIDs)))
	metrics.CandidateSetSize.WithLabelValues("context").Observe(float64(len(output.ContextIDs)))

	h.logger.Info("facets extracted", map[string]interface{}{
		"location":           facets.LocationText,
		"menuKeywords":       facets.MenuKeywords,
		"contextKeywords":    facets.ContextKeywords,
		"locationCandidates": len(output.LocationCandidates),
		"menuCandidates":     len(output.MenuIDs),
		"contextCandidates":  len(output.ContextIDs),
	})

	return output, nil
}

// extractFacets runs the three oracle calls concurrently. Keyword calls
// soft-fail to empty lists; only the location call can fail the stage.
func (h *Handler) extractFacets(ctx context.Context, userText string) (*models.Facets, error) {
	var wg sync.WaitGroup
	var mu sync.Mutex
	facets := &models.Facets{
		MenuKeywords:    []string{},
		ContextKeywords: []string{},
	}
	var locationErr error

	wg.Add(3)

	go func() {
		defer wg.Done()
		location, err := h.oracle.ExtractLocation(ctx, userText)
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			locationErr = errors.NewFacetExtractionFailedError("location", err)
			return
		}
		facets.LocationText = location
	}()

	go func() {
		defer wg.Done()
		keywords, err := h.oracle.ExtractKeywords(ctx, userText, genai.KindMenu)
		if err != nil {
			h.logger.Warn("menu keyword extraction failed, continuing without menu facet", map[string]interface{}{
				"error": err.Error(),
			})
			return
		}
		mu.Lock()
		facets.MenuKeywords = keywords
		mu.Unlock()
	}()

	go func() {
		defer wg.Done()
		keywords, err := h.oracle.ExtractKeywords(ctx, userText, genai.KindContext)
		if err != nil {
			h.logger.Warn("context keyword extraction failed, continuing without context facet", map[string]interface{}{
				"error": err.Error(),
			})
			return
		}
		mu.Lock()
		facets.ContextKeywords = keywords
		mu.Unlock()
	}()

	wg.Wait()

	if locationErr != nil {
		return nil, locationErr
	}
	return facets, nil
}

// fetchCandidates resolves each non-empty facet to catalog place ids. The
// location set always loads; menu and context load only when keywords exist.
func (h *Handler) fetchCandidates(ctx context.Context, facets *models.Facets, coords *models.Coordinates, output *Output) error {
	var wg sync.WaitGroup
	var mu sync.Mutex
	errChan := make(chan error, 3)

	wg.Add(1)
	go func() {
		defer wg.Done()
		cacheKey := fmt.Sprintf("candidates:nearby:%f:%f:%d", coords.Latitude, coords.Longitude, h.config.SearchRadius)
		var summaries []models.RestaurantSummary
		if h.cacheGet(ctx, cacheKey, &summaries) {
			mu.Lock()
			output.LocationCandidates = summaries
			mu.Unlock()
			return
		}
		summaries, err := h.catalog.Nearby(ctx, coords.Latitude, coords.Longitude, h.config.SearchRadius)
		if err != nil {
			errChan <- errors.NewCatalogQueryFailedError("nearby", err)
			return
		}
		h.cacheSet(ctx, cacheKey, summaries)
		mu.Lock()
		output.LocationCandidates = summaries
		mu.Unlock()
	}()

	if len(facets.MenuKeywords) > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cacheKey := "candidates:menu:" + strings.Join(facets.MenuKeywords, ",")
			var summaries []models.RestaurantSummary
			if !h.cacheGet(ctx, cacheKey, &summaries) {
				var err error
				summaries, err = h.catalog.FilterByMenu(ctx, facets.MenuKeywords)
				if err != nil {
					errChan <- errors.NewCatalogQueryFailedError("filterByMenu", err)
					return
				}
				h.cacheSet(ctx, cacheKey, summaries)
			}
			mu.Lock()
			output.MenuIDs = placeIDs(summaries)
			mu.Unlock()
		}()
	}

	if len(facets.ContextKeywords) > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cacheKey := "candidates:context:" + strings.Join(facets.ContextKeywords, ",")
			var summaries []models.RestaurantSummary
			if !h.cacheGet(ctx, cacheKey, &summaries) {
				var err error
				summaries, err = h.catalog.FilterByContext(ctx, facets.ContextKeywords)
				if err != nil {
					errChan <- errors.NewCatalogQueryFailedError("filterByContext", err)
					return
				}
				h.cacheSet(ctx, cacheKey, summaries)
			}
			mu.Lock()
			output.ContextIDs = placeIDs(summaries)
			mu.Unlock()
		}()
	}

	go func() {
		wg.Wait()
		close(errChan)
	}()

	for err := range errChan {
		return err
	}
	return nil
}

func (h *Handler) cacheGet(ctx context.Context, key string, dst interface{}) bool {
	if h.redisClient == nil {
		return false
	}
	val, err := h.redisClient.Get(ctx, key).Result()
	if err != nil {
		return false
	}
	return json.Unmarshal([]byte(val), dst) == nil
}

func (h *Handler) cacheSet(ctx context.Context, key string, value interface{}) {
	if h.redisClient == nil {
		return
	}
	data, err := json.Marshal(value)
	if err != nil {
		return
	}
	h.redisClient.Set(ctx, key, data, h.config.CacheTTL)
}

func placeIDs(summaries []models.RestaurantSummary) []int64 {
	ids := make([]int64, 0, len(summaries))
	for _, s := range summaries {
		ids = append(ids, s.PlaceID)
	}
	return ids
}

func errorCode(err error) string {
	if stdErr, ok := err.(*errors.StandardError); ok {
		return string(stdErr.Code)
	}
	return string(errors.ErrCodeInternal)
}

func (h *Handler) completeJob(client worker.JobClient, job entities.Job, output *Output) {
	cmd, err := client.NewCompleteJobCommand().
		JobKey(job.Key).
		VariablesFromObject(output)

	if err != nil {
		h.logger.Error("Failed to create complete job command", map[string]interface{}{
			"jobKey": job.Key,
			"error":  err.Error(),
		})
		return
	}

	_, err = cmd.Send(context.Background())
	if err != nil {
		h.logger.Error("Failed to send complete job command", map[string]interface{}{
			"jobKey": job.Key,
			"error":  err.Error(),
		})
	}
}

func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	return h.execute(ctx, input)
}
