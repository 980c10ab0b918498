package rankshortlist

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"restaurant-recommender/internal/common/catalog"
	"restaurant-recommender/internal/common/config"
	"restaurant-recommender/internal/models"
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

type catalogTestLogger struct {
	t *testing.T
}

func (l *catalogTestLogger) Info(msg string, fields map[string]interface{}) { l.t.Logf("INFO: %s %v", msg, fields) }
func (l *catalogTestLogger) Warn(msg string, fields map[string]interface{}) { l.t.Logf("WARN: %s %v", msg, fields) }
func (l *catalogTestLogger) Error(msg string, fields map[string]interface{}) { l.t.Logf("ERROR: %s %v", msg, fields) }
func (l *catalogTestLogger) With(fields map[string]interface{}) catalog.Logger { return l }

func rawNum(v string) json.RawMessage { return json.RawMessage(v) }

// ==========================
// Rank Tests
// ==========================

func TestRank_ScoreFormula(t *testing.T) {
	ratings := []models.RatingInfo{
		{PlaceID: 1, Rating: rawNum("4.5"), ReviewCount: rawNum("200")},
	}

	ranked := Rank(ratings, 10)
	require.Len(t, ranked, 1)

	expected := 0.6*4.5 + 0.4*math.Log(201)
	assert.InDelta(t, expected, ranked[0].Score, 1e-9)
	assert.Equal(t, 4.5, ranked[0].Rating)
	assert.Equal(t, 200, ranked[0].ReviewCount)
}

func TestRank_DropsCandidatesWithoutReviews(t *testing.T) {
	ratings := []models.RatingInfo{
		{PlaceID: 1, Rating: rawNum("4.9"), ReviewCount: rawNum("0")},
		{PlaceID: 2, Rating: rawNum("3.0"), ReviewCount: rawNum("12")},
		{PlaceID: 3, Rating: rawNum("5.0"), ReviewCount: rawNum("-1")},
	}

	ranked := Rank(ratings, 10)

	require.Len(t, ranked, 1)
	assert.Equal(t, int64(2), ranked[0].PlaceID)
}

func TestRank_QuotedNumericStringsAccepted(t *testing.T) {
	// The catalog sometimes serializes numbers as strings. Those candidates
	// must score the same as ones with bare numbers.
	bare := []models.RatingInfo{
		{PlaceID: 1, Rating: rawNum("4.2"), ReviewCount: rawNum("30")},
	}
	quoted := []models.RatingInfo{
		{PlaceID: 1, Rating: rawNum(`"4.2"`), ReviewCount: rawNum(`"30"`)},
	}

	a := Rank(bare, 10)
	b := Rank(quoted, 10)

	require.Len(t, a, 1)
	require.Len(t, b, 1)
	assert.Equal(t, a[0].Score, b[0].Score)
}

func TestRank_MalformedDataKeepsCandidateAtScoreZero(t *testing.T) {
	ratings := []models.RatingInfo{
		{PlaceID: 1, Rating: rawNum(`"N/A"`), ReviewCount: rawNum("50")},
		{PlaceID: 2, Rating: rawNum("4.0"), ReviewCount: rawNum(`"unknown"`)},
		{PlaceID: 3, Rating: rawNum("4.0"), ReviewCount: rawNum("50")},
	}

	ranked := Rank(ratings, 10)

	require.Len(t, ranked, 3)
	// The well-formed candidate outranks the malformed ones.
	assert.Equal(t, int64(3), ranked[0].PlaceID)
	assert.Zero(t, ranked[1].Score)
	assert.Zero(t, ranked[2].Score)
}

func TestRank_SortedDescendingAndTruncated(t *testing.T) {
	ratings := make([]models.RatingInfo, 0, 15)
	for i := 1; i <= 15; i++ {
		ratings = append(ratings, models.RatingInfo{
			PlaceID:     int64(i),
			Rating:      rawNum(fmt.Sprintf("%.1f", float64(i)*0.3)),
			ReviewCount: rawNum("10"),
		})
	}

	ranked := Rank(ratings, 10)

	require.Len(t, ranked, 10)
	for i := 1; i < len(ranked); i++ {
		assert.GreaterOrEqual(t, ranked[i-1].Score, ranked[i].Score)
	}
	// Highest rating wins the top slot.
	assert.Equal(t, int64(15), ranked[0].PlaceID)
}

func TestRank_StableForEqualScores(t *testing.T) {
	ratings := []models.RatingInfo{
		{PlaceID: 7, Rating: rawNum("4.0"), ReviewCount: rawNum("10")},
		{PlaceID: 3, Rating: rawNum("4.0"), ReviewCount: rawNum("10")},
	}

	ranked := Rank(ratings, 10)

	require.Len(t, ranked, 2)
	assert.Equal(t, int64(7), ranked[0].PlaceID)
	assert.Equal(t, int64(3), ranked[1].PlaceID)
}

// ==========================
// Handler Tests
// ==========================

func newTestCatalog(t *testing.T, baseURL string) *catalog.Client {
	return catalog.NewClient(
		config.CatalogConfig{BaseURL: baseURL, Token: "test-token", Timeout: 5000},
		config.GeocodeConfig{},
		1,
		&catalogTestLogger{t: t},
	)
}

func TestHandler_Execute(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/restaurants/ratingAndCount", r.URL.Path)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))

		var ids []int64
		require.NoError(t, json.NewDecoder(r.Body).Decode(&ids))
		assert.Equal(t, []int64{1, 2, 3}, ids)

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `[
			{"placeId": 1, "rating": 4.1, "reviewCount": 120},
			{"placeId": 2, "rating": "4.8", "reviewCount": "35"},
			{"placeId": 3, "rating": 2.0, "reviewCount": 0}
		]`)
	}))
	defer server.Close()

	handler := NewHandler(LoadConfig(), newTestCatalog(t, server.URL), NewTestLogger(t))

	output, err := handler.Execute(context.Background(), &Input{MergedIDs: []int64{1, 2, 3}})
	require.NoError(t, err)

	// Place 3 has no reviews and drops out. Place 1's review volume edges
	// out place 2's higher rating under the log-damped composite.
	assert.Equal(t, []int64{1, 2}, output.ShortlistIDs)
	require.Len(t, output.Ranked, 2)
	assert.Equal(t, int64(1), output.Ranked[0].PlaceID)
}

func TestHandler_Execute_EmptyInput(t *testing.T) {
	handler := NewHandler(LoadConfig(), nil, NewTestLogger(t))

	output, err := handler.Execute(context.Background(), &Input{MergedIDs: nil})
	require.NoError(t, err)

	assert.Empty(t, output.ShortlistIDs)
	assert.Empty(t, output.Ranked)
}

func TestHandler_Execute_CatalogFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	handler := NewHandler(LoadConfig(), newTestCatalog(t, server.URL), NewTestLogger(t))

	_, err := handler.Execute(context.Background(), &Input{MergedIDs: []int64{1}})
	assert.Error(t, err)
}
