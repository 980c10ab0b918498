// Package judgerecommendations asks the completion API to pick and explain
// the final recommendations from the shortlist. The judge returns full
// structured records; the response is lenient-parsed and schema-checked, and
// malformed output degrades to a single error-marker record instead of a
// stage failure.
package judgerecommendations

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
	"github.com/xeipuuv/gojsonschema"

	"restaurant-recommender/internal/common/catalog"
	"restaurant-recommender/internal/common/errors"
	"restaurant-recommender/internal/common/genai"
	"restaurant-recommender/internal/common/jsonx"
	"restaurant-recommender/internal/common/metrics"
	"restaurant-recommender/internal/models"
)

const (
	TaskType = "judge-recommendations"
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
	errorHandler *errors.ErrorHandler
	logger       Logger
}

func NewHandler(config *Config, oracle *genai.Client, cat *catalog.Client, log Logger) *Handler {
	l := log.With(map[string]interface{}{
		"taskType": TaskType,
	})
	return &Handler{
		config:       config,
		oracle:       oracle,
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
	if len(input.ShortlistIDs) == 0 {
		return &Output{Recommendations: []models.RecommendationRecord{}}, nil
	}

	detailed, err := h.catalog.Detail(ctx, input.ShortlistIDs)
	if err != nil {
		return nil, errors.NewCatalogQueryFailedError("detail", err)
	}

	records := h.Judge(ctx, detailed, input.UserText)

	h.logger.Info("recommendations judged", map[string]interface{}{
		"candidateCount":      len(detailed),
		"recommendationCount": len(records),
	})

	return &Output{Recommendations: records}, nil
}

// Judge runs the final completion and parses its output. It never returns an
// error: any failure is reported in-band as a single error-marker record so
// callers always receive a uniform list of records.
func (h *Handler) Judge(ctx context.Context, candidates []models.DetailedCandidate, userText string) []models.RecommendationRecord {
	prompt := h.buildPrompt(candidates, userText)

	raw, err := h.oracle.Complete(ctx, prompt)
	if err != nil {
		h.logger.Error("judge completion failed", map[string]interface{}{
			"error": err.Error(),
		})
		return errorRecord(fmt.Sprintf("failed to generate recommendations: %v", err))
	}

	var parsed []models.RecommendationRecord
	if err := jsonx.ExtractArray(raw, &parsed); err != nil {
		h.logger.Warn("judge response not parseable", map[string]interface{}{
			"error": err.Error(),
		})
		return errorRecord("failed to generate recommendations: response was not valid JSON")
	}

	records := make([]models.RecommendationRecord, 0, len(parsed))
	for _, r := range parsed {
		if err := validateRecord(&r); err != nil {
			h.logger.Warn("dropping malformed recommendation record", map[string]interface{}{
				"placeId": r.PlaceID,
				"error":   err.Error(),
			})
			continue
		}
		records = append(records, r)
	}

	if len(records) == 0 {
		return errorRecord("failed to generate recommendations: no usable records in response")
	}

	if len(records) > h.config.RecommendationSize {
		records = records[:h.config.RecommendationSize]
	}
	return records
}

const judgePromptHeader = `You are a helpful AI assistant that provides restaurant recommendations in a structured JSON format.
Based on the user's request and the provided analysis for several restaurants, generate a JSON array of up to %d recommended restaurants.

[User Request]
%s

[Analyzed Restaurant Details]
%s

RULES:
- The output MUST be a valid JSON array. Each object in the array represents one restaurant.
- Each JSON object must contain the following keys: "placeId", "name", "description", "aiRating", "actualRating", "url".
- The "description" should be a friendly and comprehensive paragraph explaining why the restaurant is a good match, based on the analysis.
- The "aiRating" and "actualRating" should be string values (e.g., "4.5").
- Do not include any text, explanations, or markdown formatting outside of the final JSON array.`

func (h *Handler) buildPrompt(candidates []models.DetailedCandidate, userText string) string {
	blocks := make([]string, 0, len(candidates))
	for _, c := range candidates {
		reviewTexts := make([]string, 0, len(c.Reviews))
		for _, r := range c.Reviews {
			reviewTexts = append(reviewTexts, r.Text)
		}
		excerpt := truncateRunes(strings.Join(reviewTexts, "\n"), h.config.ExcerptRunes)

		block := fmt.Sprintf("placeId: %d\nname: %s\nurl: %s\nactualRating: %g\nreviewCount: %d\nreviews: %s...",
			c.PlaceID, c.Name, c.URL, c.Rating, c.ReviewCount, excerpt)
		blocks = append(blocks, block)
	}

	return fmt.Sprintf(judgePromptHeader, h.config.RecommendationSize, userText, strings.Join(blocks, "\n\n---\n\n"))
}

// truncateRunes bounds s to n runes, not bytes, so multibyte review text is
// never cut mid-character.
func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

var recordSchema = map[string]interface{}{
	"type":     "object",
	"required": []interface{}{"placeId", "name", "description"},
	"properties": map[string]interface{}{
		"placeId":     map[string]interface{}{"type": "integer"},
		"name":        map[string]interface{}{"type": "string", "minLength": 1},
		"description": map[string]interface{}{"type": "string", "minLength": 1},
	},
}

func validateRecord(r *models.RecommendationRecord) error {
	doc := map[string]interface{}{
		"placeId":     r.PlaceID,
		"name":        r.Name,
		"description": r.Description,
	}

	result, err := gojsonschema.Validate(gojsonschema.NewGoLoader(recordSchema), gojsonschema.NewGoLoader(doc))
	if err != nil {
		return fmt.Errorf("validation error: %w", err)
	}
	if !result.Valid() {
		errs := make([]string, len(result.Errors()))
		for i, desc := range result.Errors() {
			errs[i] = desc.String()
		}
		return fmt.Errorf("record validation failed: %v", errs)
	}
	return nil
}

func errorRecord(msg string) []models.RecommendationRecord {
	return []models.RecommendationRecord{{Error: msg}}
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
