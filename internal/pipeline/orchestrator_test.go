package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"restaurant-recommender/internal/common/errors"
	"restaurant-recommender/internal/models"
	"restaurant-recommender/internal/statestore"
	extractfacets "restaurant-recommender/internal/workers/recommendation/extract-facets"
	judgerecommendations "restaurant-recommender/internal/workers/recommendation/judge-recommendations"
	mergecandidates "restaurant-recommender/internal/workers/recommendation/merge-candidates"
	rankshortlist "restaurant-recommender/internal/workers/recommendation/rank-shortlist"
)

// ==========================
// Test Logger Implementation
// ==========================

type TestLogger struct {
	t *testing.T
}

func NewTestLogger(t *testing.T) *TestLogger {
	return &TestLogger{t: t}
}

func (l *TestLogger) Info(msg string, fields map[string]interface{}) { l.t.Logf("INFO: %s %v", msg, fields) }
func (l *TestLogger) Warn(msg string, fields map[string]interface{}) { l.t.Logf("WARN: %s %v", msg, fields) }
func (l *TestLogger) Error(msg string, fields map[string]interface{}) { l.t.Logf("ERROR: %s %v", msg, fields) }
func (l *TestLogger) With(fields map[string]interface{}) Logger { return l }

// ==========================
// Fake Stage Executors
// ==========================

type fakeExtractor struct {
	calls  int
	output *extractfacets.Output
	err    error
}

func (f *fakeExtractor) Execute(_ context.Context, _ *extractfacets.Input) (*extractfacets.Output, error) {
	f.calls++
	return f.output, f.err
}

type fakeMerger struct {
	calls  int
	output *mergecandidates.Output
	err    error
}

func (f *fakeMerger) Execute(_ context.Context, _ *mergecandidates.Input) (*mergecandidates.Output, error) {
	f.calls++
	return f.output, f.err
}

type fakeRanker struct {
	calls  int
	output *rankshortlist.Output
	err    error
}

func (f *fakeRanker) Execute(_ context.Context, _ *rankshortlist.Input) (*rankshortlist.Output, error) {
	f.calls++
	return f.output, f.err
}

type fakeJudge struct {
	calls  int
	input  *judgerecommendations.Input
	output *judgerecommendations.Output
	err    error
}

func (f *fakeJudge) Execute(_ context.Context, input *judgerecommendations.Input) (*judgerecommendations.Output, error) {
	f.calls++
	f.input = input
	return f.output, f.err
}

// ==========================
// Test Fixtures
// ==========================

func happyPathStages() (*fakeExtractor, *fakeMerger, *fakeRanker, *fakeJudge) {
	extractor := &fakeExtractor{output: &extractfacets.Output{
		Facets: models.Facets{
			LocationText: "Gangnam Station",
			MenuKeywords: []string{"sushi"},
		},
		Coordinates: models.Coordinates{Latitude: 37.498, Longitude: 127.027},
		LocationCandidates: []models.RestaurantSummary{
			{PlaceID: 1}, {PlaceID: 2}, {PlaceID: 3},
		},
		MenuIDs: []int64{1, 2},
	}}
	merger := &fakeMerger{output: &mergecandidates.Output{
		MergedIDs: []int64{1, 2},
		Strategy:  mergecandidates.StrategyPairwise,
	}}
	ranker := &fakeRanker{output: &rankshortlist.Output{
		ShortlistIDs: []int64{2, 1},
		Ranked: []models.RatedCandidate{
			{PlaceID: 2, Score: 4.3},
			{PlaceID: 1, Score: 3.9},
		},
	}}
	judge := &fakeJudge{output: &judgerecommendations.Output{
		Recommendations: []models.RecommendationRecord{
			{PlaceID: 2, Name: "Sushi Tetsu", Description: "A great match."},
		},
	}}
	return extractor, merger, ranker, judge
}

func newOrchestrator(t *testing.T, e FacetExtractor, m CandidateMerger, r ShortlistRanker, j RecommendationJudge, states *statestore.Store) *Orchestrator {
	return NewOrchestrator(e, m, r, j, states, nil, NewTestLogger(t))
}

// ==========================
// Run Tests
// ==========================

func TestRun_HappyPath(t *testing.T) {
	extractor, merger, ranker, judge := happyPathStages()
	orch := newOrchestrator(t, extractor, merger, ranker, judge, nil)

	state, err := orch.Run(context.Background(), "req-1", "sushi near Gangnam Station")
	require.NoError(t, err)

	assert.Equal(t, StageDone, state.Stage)
	assert.Equal(t, "req-1", state.RequestID)
	assert.Equal(t, "Gangnam Station", state.Facets.LocationText)
	assert.Equal(t, []int64{1, 2}, state.MergedIDs)
	assert.Equal(t, mergecandidates.StrategyPairwise, state.MergeStrategy)
	assert.Equal(t, []int64{2, 1}, state.ShortlistIDs)
	require.Len(t, state.Recommendations, 1)
	assert.Equal(t, "Sushi Tetsu", state.Recommendations[0].Name)
	assert.Empty(t, state.ErrorMessage)

	assert.Equal(t, 1, extractor.calls)
	assert.Equal(t, 1, merger.calls)
	assert.Equal(t, 1, ranker.calls)
	assert.Equal(t, 1, judge.calls)

	// The judge sees the user text and the ranked shortlist.
	assert.Equal(t, "sushi near Gangnam Station", judge.input.UserText)
	assert.Equal(t, []int64{2, 1}, judge.input.ShortlistIDs)
}

func TestRun_GeneratesRequestID(t *testing.T) {
	extractor, merger, ranker, judge := happyPathStages()
	orch := newOrchestrator(t, extractor, merger, ranker, judge, nil)

	state, err := orch.Run(context.Background(), "", "sushi near Gangnam Station")
	require.NoError(t, err)

	assert.NotEmpty(t, state.RequestID)
}

func TestRun_TerminatesWhenLocationNotFound(t *testing.T) {
	extractor := &fakeExtractor{err: errors.NewLocationNotFoundError("some good sushi")}
	merger, ranker, judge := &fakeMerger{}, &fakeRanker{}, &fakeJudge{}
	orch := newOrchestrator(t, extractor, merger, ranker, judge, nil)

	state, err := orch.Run(context.Background(), "req-2", "some good sushi")
	require.NoError(t, err)

	assert.Equal(t, StageTerminated, state.Stage)
	assert.Equal(t, "location not recognized in request", state.ErrorMessage)
	assert.Empty(t, state.Recommendations)

	// Nothing downstream of extraction runs.
	assert.Zero(t, merger.calls)
	assert.Zero(t, ranker.calls)
	assert.Zero(t, judge.calls)
}

func TestRun_TerminatesWhenGeocodingFails(t *testing.T) {
	extractor := &fakeExtractor{err: errors.NewGeocodingFailedError("Atlantis Plaza", assert.AnError)}
	merger, ranker, judge := &fakeMerger{}, &fakeRanker{}, &fakeJudge{}
	orch := newOrchestrator(t, extractor, merger, ranker, judge, nil)

	state, err := orch.Run(context.Background(), "req-3", "dinner near Atlantis Plaza")
	require.NoError(t, err)

	assert.Equal(t, StageTerminated, state.Stage)
	assert.Equal(t, "location could not be resolved to coordinates", state.ErrorMessage)
	assert.Zero(t, merger.calls)
}

func TestRun_TerminatesWhenNoLocationCandidates(t *testing.T) {
	// Extraction succeeded but the area has no restaurants at all.
	extractor := &fakeExtractor{output: &extractfacets.Output{
		Facets:             models.Facets{LocationText: "Remote Lighthouse"},
		Coordinates:        models.Coordinates{Latitude: 59.0, Longitude: 10.5},
		LocationCandidates: nil,
	}}
	merger, ranker, judge := &fakeMerger{}, &fakeRanker{}, &fakeJudge{}
	orch := newOrchestrator(t, extractor, merger, ranker, judge, nil)

	state, err := orch.Run(context.Background(), "req-4", "dinner near Remote Lighthouse")
	require.NoError(t, err)

	assert.Equal(t, StageTerminated, state.Stage)
	assert.Zero(t, merger.calls)
	assert.Zero(t, ranker.calls)
	assert.Zero(t, judge.calls)
}

func TestRun_StageFailurePropagates(t *testing.T) {
	extractor, _, _, judge := happyPathStages()
	merger := &fakeMerger{}
	ranker := &fakeRanker{err: errors.NewCatalogQueryFailedError("ratingAndCount", assert.AnError)}
	merger.output = &mergecandidates.Output{MergedIDs: []int64{1, 2}, Strategy: mergecandidates.StrategyThreeWay}
	orch := newOrchestrator(t, extractor, merger, ranker, judge, nil)

	state, err := orch.Run(context.Background(), "req-5", "sushi near Gangnam Station")
	require.Error(t, err)

	// The state is returned alongside the error so callers can inspect how
	// far the run got.
	assert.Equal(t, StageRanking, state.Stage)
	assert.Zero(t, judge.calls)
}

func TestRun_JudgeErrorRecordStillCompletes(t *testing.T) {
	// The judge signals failure in-band with an error record; the run still
	// finishes in Done and the caller inspects the records themselves.
	extractor, merger, ranker, _ := happyPathStages()
	judge := &fakeJudge{output: &judgerecommendations.Output{
		Recommendations: []models.RecommendationRecord{
			{Error: "failed to generate recommendations: response was not valid JSON"},
		},
	}}
	orch := newOrchestrator(t, extractor, merger, ranker, judge, nil)

	state, err := orch.Run(context.Background(), "req-11", "sushi near Gangnam Station")
	require.NoError(t, err)

	assert.Equal(t, StageDone, state.Stage)
	require.Len(t, state.Recommendations, 1)
	assert.True(t, state.Recommendations[0].IsError())
}

// ==========================
// RunFrom / Resume Tests
// ==========================

func TestRunFrom_SkipsEarlierStages(t *testing.T) {
	extractor, merger, ranker, judge := happyPathStages()
	orch := newOrchestrator(t, extractor, merger, ranker, judge, nil)

	prior := &State{
		RequestID: "req-6",
		UserText:  "sushi near Gangnam Station",
		Stage:     StageDone,
		LocationCandidates: []models.RestaurantSummary{
			{PlaceID: 1}, {PlaceID: 2}, {PlaceID: 3},
		},
		MergedIDs: []int64{1, 2, 3},
	}

	state, err := orch.RunFrom(context.Background(), prior, StageRanking)
	require.NoError(t, err)

	assert.Equal(t, StageDone, state.Stage)
	assert.Zero(t, extractor.calls)
	assert.Zero(t, merger.calls)
	assert.Equal(t, 1, ranker.calls)
	assert.Equal(t, 1, judge.calls)

	// The prior state is copied, not mutated.
	assert.Equal(t, StageDone, prior.Stage)
	assert.Empty(t, prior.ShortlistIDs)
}

func TestRunFrom_RejectsNonResumableStages(t *testing.T) {
	extractor, merger, ranker, judge := happyPathStages()
	orch := newOrchestrator(t, extractor, merger, ranker, judge, nil)

	prior := &State{
		RequestID:          "req-7",
		LocationCandidates: []models.RestaurantSummary{{PlaceID: 1}},
	}

	for _, stage := range []Stage{StageExtracting, StageDone, StageTerminated} {
		_, err := orch.RunFrom(context.Background(), prior, stage)
		assert.Error(t, err, "stage %s must not be resumable", stage)
	}
	assert.Zero(t, extractor.calls)
}

func TestRunFrom_RejectsPriorWithoutCandidates(t *testing.T) {
	extractor, merger, ranker, judge := happyPathStages()
	orch := newOrchestrator(t, extractor, merger, ranker, judge, nil)

	_, err := orch.RunFrom(context.Background(), &State{RequestID: "req-8"}, StageMerging)
	assert.Error(t, err)
}

func TestResume_LoadsSnapshotFromStateStore(t *testing.T) {
	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer redisClient.Close()
	states := statestore.New(redisClient, time.Hour)

	extractor, merger, ranker, judge := happyPathStages()
	orch := newOrchestrator(t, extractor, merger, ranker, judge, states)

	// First run persists snapshots.
	first, err := orch.Run(context.Background(), "req-9", "sushi near Gangnam Station")
	require.NoError(t, err)
	require.Equal(t, StageDone, first.Stage)

	// Resuming at Merging reuses the stored candidates without re-extracting.
	resumed, err := orch.Resume(context.Background(), "req-9", StageMerging)
	require.NoError(t, err)

	assert.Equal(t, StageDone, resumed.Stage)
	assert.Equal(t, 1, extractor.calls)
	assert.Equal(t, 2, merger.calls)
	assert.Equal(t, 2, ranker.calls)
	assert.Equal(t, 2, judge.calls)
}

func TestResume_UnknownRequestID(t *testing.T) {
	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer redisClient.Close()
	states := statestore.New(redisClient, time.Hour)

	extractor, merger, ranker, judge := happyPathStages()
	orch := newOrchestrator(t, extractor, merger, ranker, judge, states)

	_, err := orch.Resume(context.Background(), "never-ran", StageMerging)
	require.Error(t, err)

	stdErr, ok := err.(*errors.StandardError)
	require.True(t, ok)
	assert.Equal(t, errors.ErrCodeStateNotFound, stdErr.Code)
}

func TestResume_WithoutStateStore(t *testing.T) {
	extractor, merger, ranker, judge := happyPathStages()
	orch := newOrchestrator(t, extractor, merger, ranker, judge, nil)

	_, err := orch.Resume(context.Background(), "req-10", StageMerging)
	assert.Error(t, err)
}
