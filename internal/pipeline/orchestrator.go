// Package pipeline wires the recommendation stages into a small state
// machine: Extracting, Merging, Ranking, Judging, with one conditional
// branch into Terminated when location resolution fails. The orchestrator is
// single-shot per request; retries are a caller concern.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"restaurant-recommender/internal/common/errors"
	"restaurant-recommender/internal/common/metrics"
	"restaurant-recommender/internal/history"
	"restaurant-recommender/internal/statestore"
	extractfacets "restaurant-recommender/internal/workers/recommendation/extract-facets"
	judgerecommendations "restaurant-recommender/internal/workers/recommendation/judge-recommendations"
	mergecandidates "restaurant-recommender/internal/workers/recommendation/merge-candidates"
	rankshortlist "restaurant-recommender/internal/workers/recommendation/rank-shortlist"
)

type Logger interface {
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
	With(fields map[string]interface{}) Logger
}

// Stage executors. The worker handlers satisfy these.
type FacetExtractor interface {
	Execute(ctx context.Context, input *extractfacets.Input) (*extractfacets.Output, error)
}

type CandidateMerger interface {
	Execute(ctx context.Context, input *mergecandidates.Input) (*mergecandidates.Output, error)
}

type ShortlistRanker interface {
	Execute(ctx context.Context, input *rankshortlist.Input) (*rankshortlist.Output, error)
}

type RecommendationJudge interface {
	Execute(ctx context.Context, input *judgerecommendations.Input) (*judgerecommendations.Output, error)
}

// Orchestrator drives one request through the stage graph. The state store
// and history store are optional; without them snapshots and run records are
// skipped.
type Orchestrator struct {
	extractor FacetExtractor
	merger    CandidateMerger
	ranker    ShortlistRanker
	judge     RecommendationJudge
	states    *statestore.Store
	history   *history.Store
	logger    Logger
}

func NewOrchestrator(
	extractor FacetExtractor,
	merger CandidateMerger,
	ranker ShortlistRanker,
	judge RecommendationJudge,
	states *statestore.Store,
	hist *history.Store,
	log Logger,
) *Orchestrator {
	return &Orchestrator{
		extractor: extractor,
		merger:    merger,
		ranker:    ranker,
		judge:     judge,
		states:    states,
		history:   hist,
		logger: log.With(map[string]interface{}{
			"component": "pipeline",
		}),
	}
}

// Run executes a fresh request end to end. A Terminated run is a graceful
// outcome, not an error: the returned state carries the user-facing message.
func (o *Orchestrator) Run(ctx context.Context, requestID, userText string) (*State, error) {
	if requestID == "" {
		requestID = uuid.NewString()
	}

	state := &State{
		RequestID: requestID,
		UserText:  userText,
		Stage:     StageExtracting,
		StartedAt: time.Now().UTC(),
	}
	return o.run(ctx, state)
}

// RunFrom re-enters the graph at an intermediate stage using prior state,
// so a caller can refine a previous request without redoing extraction.
func (o *Orchestrator) RunFrom(ctx context.Context, prior *State, stage Stage) (*State, error) {
	if !stage.resumable() {
		return nil, fmt.Errorf("cannot resume at stage %s", stage)
	}
	if len(prior.LocationCandidates) == 0 {
		return nil, fmt.Errorf("prior state has no location candidates to resume from")
	}

	state := *prior
	state.Stage = stage
	return o.run(ctx, &state)
}

// Resume loads the stored snapshot for requestID and re-enters at stage.
func (o *Orchestrator) Resume(ctx context.Context, requestID string, stage Stage) (*State, error) {
	if o.states == nil {
		return nil, errors.NewStateNotFoundError(requestID)
	}

	var prior State
	if err := o.states.Load(ctx, requestID, &prior); err != nil {
		return nil, err
	}
	return o.RunFrom(ctx, &prior, stage)
}

func (o *Orchestrator) run(ctx context.Context, state *State) (*State, error) {
	log := o.logger.With(map[string]interface{}{
		"requestId": state.RequestID,
	})

	for !state.Stage.Terminal() {
		stage := state.Stage
		start := time.Now()

		if err := o.step(ctx, state); err != nil {
			if terminal, msg := isTerminalBranch(err); terminal {
				state.Stage = StageTerminated
				state.ErrorMessage = msg
				metrics.PipelineTerminated.WithLabelValues(errorCode(err)).Inc()
				log.Info("pipeline terminated", map[string]interface{}{
					"stage":  string(stage),
					"reason": msg,
				})
				break
			}

			metrics.PipelineStageFailed.WithLabelValues(string(stage), errorCode(err)).Inc()
			log.Error("pipeline stage failed", map[string]interface{}{
				"stage": string(stage),
				"error": err.Error(),
			})
			return state, err
		}

		metrics.PipelineStageCompleted.WithLabelValues(string(stage)).Inc()
		metrics.PipelineStageDuration.WithLabelValues(string(stage)).Observe(time.Since(start).Seconds())
		state.UpdatedAt = time.Now().UTC()
		o.snapshot(ctx, state, log)
	}

	state.UpdatedAt = time.Now().UTC()
	o.snapshot(ctx, state, log)
	o.recordRun(ctx, state, log)

	log.Info("pipeline finished", map[string]interface{}{
		"stage":           string(state.Stage),
		"recommendations": len(state.Recommendations),
	})
	return state, nil
}

// step executes the current stage and advances the state machine.
func (o *Orchestrator) step(ctx context.Context, state *State) error {
	switch state.Stage {
	case StageExtracting:
		out, err := o.extractor.Execute(ctx, &extractfacets.Input{
			UserText:  state.UserText,
			RequestID: state.RequestID,
		})
		if err != nil {
			return err
		}
		state.Facets = out.Facets
		state.Coordinates = &out.Coordinates
		state.LocationCandidates = out.LocationCandidates
		state.MenuIDs = out.MenuIDs
		state.ContextIDs = out.ContextIDs

		// An empty location candidate set is the fatal branch even when
		// extraction itself succeeded.
		if len(state.LocationCandidates) == 0 {
			return errors.NewLocationNotFoundError(state.UserText)
		}
		state.Stage = StageMerging

	case StageMerging:
		out, err := o.merger.Execute(ctx, &mergecandidates.Input{
			Facets:             state.Facets,
			LocationCandidates: state.LocationCandidates,
			MenuIDs:            state.MenuIDs,
			ContextIDs:         state.ContextIDs,
		})
		if err != nil {
			return err
		}
		state.MergedIDs = out.MergedIDs
		state.MergeStrategy = out.Strategy
		state.Stage = StageRanking

	case StageRanking:
		out, err := o.ranker.Execute(ctx, &rankshortlist.Input{
			MergedIDs: state.MergedIDs,
		})
		if err != nil {
			return err
		}
		state.ShortlistIDs = out.ShortlistIDs
		state.Ranked = out.Ranked
		state.Stage = StageJudging

	case StageJudging:
		out, err := o.judge.Execute(ctx, &judgerecommendations.Input{
			UserText:     state.UserText,
			ShortlistIDs: state.ShortlistIDs,
		})
		if err != nil {
			return err
		}
		state.Recommendations = out.Recommendations
		state.Stage = StageDone

	default:
		return fmt.Errorf("unexpected pipeline stage %s", state.Stage)
	}
	return nil
}

// isTerminalBranch reports whether err maps to the graceful Terminated
// outcome rather than a stage failure.
func isTerminalBranch(err error) (bool, string) {
	stdErr, ok := err.(*errors.StandardError)
	if !ok {
		return false, ""
	}
	switch stdErr.Code {
	case errors.ErrCodeLocationNotFound:
		return true, "location not recognized in request"
	case errors.ErrCodeGeocodingFailed:
		return true, "location could not be resolved to coordinates"
	}
	return false, ""
}

func (o *Orchestrator) snapshot(ctx context.Context, state *State, log Logger) {
	if o.states == nil {
		return
	}
	if err := o.states.Save(ctx, state.RequestID, state); err != nil {
		log.Warn("state snapshot failed", map[string]interface{}{
			"stage": string(state.Stage),
			"error": err.Error(),
		})
	}
}

func (o *Orchestrator) recordRun(ctx context.Context, state *State, log Logger) {
	if o.history == nil {
		return
	}

	status := "done"
	if state.Stage == StageTerminated {
		status = "terminated"
	}

	err := o.history.RecordRun(ctx, history.Run{
		RequestID:           state.RequestID,
		UserText:            state.UserText,
		Status:              status,
		Stage:               string(state.Stage),
		MergeStrategy:       state.MergeStrategy,
		RecommendationCount: len(state.Recommendations),
		ErrorMessage:        state.ErrorMessage,
	})
	if err != nil {
		log.Warn("run history write failed", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

func errorCode(err error) string {
	if stdErr, ok := err.(*errors.StandardError); ok {
		return string(stdErr.Code)
	}
	return string(errors.ErrCodeInternal)
}
