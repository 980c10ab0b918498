// Package mergecandidates combines the per-facet candidate sets with a
// degrading intersection policy: strict agreement first, then pairwise
// agreement, then the location set alone. The policy degrades toward recall
// since location is the only facet guaranteed relevant.
package mergecandidates

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"

	"restaurant-recommender/internal/common/errors"
	"restaurant-recommender/internal/common/metrics"
	"restaurant-recommender/internal/models"
)

const (
	TaskType = "merge-candidates"

	// A filtered set smaller than this is considered too thin to recommend
	// from, and the policy falls through to the next branch.
	minMergeSize = 3
)

// Merge strategies reported in the output for observability.
const (
	StrategyThreeWay = "three-way-intersection"
	StrategyPairwise = "pairwise-union"
	StrategyLocation = "location-only"
)

type Logger interface {
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
	With(fields map[string]interface{}) Logger
}

type Handler struct {
	config       *Config
	errorHandler *errors.ErrorHandler
	logger       Logger
}

func NewHandler(config *Config, log Logger) *Handler {
	l := log.With(map[string]interface{}{
		"taskType": TaskType,
	})
	return &Handler{
		config:       config,
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
	output := h.execute(&input)
	metrics.WorkerJobsCompleted.WithLabelValues(TaskType).Inc()
	metrics.WorkerJobDuration.WithLabelValues(TaskType).Observe(time.Since(start).Seconds())

	h.completeJob(ctx, client, job, output)
}

func (h *Handler) execute(input *Input) *Output {
	merged, strategy := Merge(
		placeIDs(input.LocationCandidates),
		input.MenuIDs,
		input.ContextIDs,
		len(input.Facets.MenuKeywords) > 0,
		len(input.Facets.ContextKeywords) > 0,
	)

	h.logger.Info("candidates merged", map[string]interface{}{
		"strategy":    strategy,
		"mergedCount": len(merged),
	})

	return &Output{MergedIDs: merged, Strategy: strategy}
}

// Merge applies the degrading intersection policy. A facet that contributed
// no keywords acts as a no-op filter, equal to the location set, so an absent
// filter never shrinks the intersection. When location itself is empty the
// result is empty; callers treat that as the terminal branch upstream.
func Merge(locationIDs, menuIDs, contextIDs []int64, hasMenuKeywords, hasContextKeywords bool) ([]int64, string) {
	location := toSet(locationIDs)

	menu := toSet(menuIDs)
	if !hasMenuKeywords {
		menu = location
	}
	context := toSet(contextIDs)
	if !hasContextKeywords {
		context = location
	}

	threeWay := intersect(intersect(location, menu), context)
	if len(threeWay) >= minMergeSize {
		return sortedIDs(threeWay), StrategyThreeWay
	}

	pairwise := union(intersect(location, menu), intersect(location, context))
	if len(pairwise) >= minMergeSize {
		return sortedIDs(pairwise), StrategyPairwise
	}

	return sortedIDs(location), StrategyLocation
}

func toSet(ids []int64) map[int64]struct{} {
	set := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

func intersect(a, b map[int64]struct{}) map[int64]struct{} {
	if len(b) < len(a) {
		a, b = b, a
	}
	out := make(map[int64]struct{})
	for id := range a {
		if _, ok := b[id]; ok {
			out[id] = struct{}{}
		}
	}
	return out
}

func union(a, b map[int64]struct{}) map[int64]struct{} {
	out := make(map[int64]struct{}, len(a)+len(b))
	for id := range a {
		out[id] = struct{}{}
	}
	for id := range b {
		out[id] = struct{}{}
	}
	return out
}

func sortedIDs(set map[int64]struct{}) []int64 {
	ids := make([]int64, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func placeIDs(summaries []models.RestaurantSummary) []int64 {
	ids := make([]int64, 0, len(summaries))
	for _, s := range summaries {
		ids = append(ids, s.PlaceID)
	}
	return ids
}

func (h *Handler) completeJob(ctx context.Context, client worker.JobClient, job entities.Job, output *Output) {
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

	_, err = cmd.Send(ctx)
	if err != nil {
		h.logger.Error("Failed to send complete job command", map[string]interface{}{
			"jobKey": job.Key,
			"error":  err.Error(),
		})
	}
}

func (h *Handler) Execute(_ context.Context, input *Input) (*Output, error) {
	return h.execute(input), nil
}
