// Package rankshortlist scores merged candidates by a composite of rating
// and log-damped review volume and truncates to a bounded shortlist.
package rankshortlist

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"

	"restaurant-recommender/internal/common/catalog"
	"restaurant-recommender/internal/common/errors"
	"restaurant-recommender/internal/common/metrics"
	"restaurant-recommender/internal/models"
)

const (
	TaskType = "rank-shortlist"

	// Fixed design constants for the composite score. Rating carries more
	// weight; review volume is log-damped so popular places cannot drown
	// out quality entirely.
	ratingWeight = 0.6
	volumeWeight = 0.4
)

type Logger interface {
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
	With(fields map[string]interface{}) Logger
}

type Handler struct {
	config       *Config
	catalog      *catalog.Client
	errorHandler *errors.ErrorHandler
	logger       Logger
}

func NewHandler(config *Config, cat *catalog.Client, log Logger) *Handler {
	l := log.With(map[string]interface{}{
		"taskType": TaskType,
	})
	return &Handler{
		config:       config,
		catalog:      cat,
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
	if len(input.MergedIDs) == 0 {
		return &Output{ShortlistIDs: []int64{}, Ranked: []models.RatedCandidate{}}, nil
	}

	ratings, err := h.catalog.RatingAndCount(ctx, input.MergedIDs)
	if err != nil {
		return nil, errors.NewCatalogQueryFailedError("ratingAndCount", err)
	}

	ranked := Rank(ratings, h.config.ShortlistSize)

	ids := make([]int64, 0, len(ranked))
	for _, r := range ranked {
		ids = append(ids, r.PlaceID)
	}

	h.logger.Info("shortlist ranked", map[string]interface{}{
		"candidateCount": len(input.MergedIDs),
		"shortlistCount": len(ids),
	})

	return &Output{ShortlistIDs: ids, Ranked: ranked}, nil
}

// Rank filters out candidates without review signal, scores the rest, and
// returns the top limit entries sorted by score descending. A candidate with
// a rating or count the catalog sent in an unusable shape keeps rank with
// score 0 rather than dropping out: malformed upstream data degrades rank,
// not availability.
func Rank(ratings []models.RatingInfo, limit int) []models.RatedCandidate {
	candidates := make([]models.RatedCandidate, 0, len(ratings))

	for _, info := range ratings {
		count, countOK := parseInt(info.ReviewCount)
		if countOK && count < 1 {
			continue
		}

		rating, ratingOK := parseFloat(info.Rating)

		c := models.RatedCandidate{
			PlaceID:     info.PlaceID,
			Rating:      rating,
			ReviewCount: count,
		}
		if countOK && ratingOK {
			c.Score = ratingWeight*rating + volumeWeight*math.Log(float64(count)+1)
		}
		candidates = append(candidates, c)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})

	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates
}

// parseFloat accepts both bare numbers and quoted numeric strings.
func parseFloat(raw json.RawMessage) (float64, bool) {
	if len(raw) == 0 {
		return 0, false
	}
	s := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func parseInt(raw json.RawMessage) (int, bool) {
	v, ok := parseFloat(raw)
	if !ok {
		return 0, false
	}
	return int(v), true
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
