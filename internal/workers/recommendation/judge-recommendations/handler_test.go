package judgerecommendations

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"restaurant-recommender/internal/common/catalog"
	"restaurant-recommender/internal/common/config"
	"restaurant-recommender/internal/common/genai"
	"restaurant-recommender/internal/common/jsonx"
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

type genaiTestLogger struct {
	t *testing.T
}

func (l *genaiTestLogger) Info(msg string, fields map[string]interface{}) { l.t.Logf("INFO: %s %v", msg, fields) }
func (l *genaiTestLogger) Warn(msg string, fields map[string]interface{}) { l.t.Logf("WARN: %s %v", msg, fields) }
func (l *genaiTestLogger) Error(msg string, fields map[string]interface{}) { l.t.Logf("ERROR: %s %v", msg, fields) }
func (l *genaiTestLogger) With(fields map[string]interface{}) genai.Logger { return l }

type catalogTestLogger struct {
	t *testing.T
}

func (l *catalogTestLogger) Info(msg string, fields map[string]interface{}) { l.t.Logf("INFO: %s %v", msg, fields) }
func (l *catalogTestLogger) Warn(msg string, fields map[string]interface{}) { l.t.Logf("WARN: %s %v", msg, fields) }
func (l *catalogTestLogger) Error(msg string, fields map[string]interface{}) { l.t.Logf("ERROR: %s %v", msg, fields) }
func (l *catalogTestLogger) With(fields map[string]interface{}) catalog.Logger { return l }

// ==========================
// Test Helpers
// ==========================

// newOracleServer answers every completion request with the given text and
// captures the prompt it was sent.
func newOracleServer(t *testing.T, responseText string, capturedPrompt *string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/ai/complete", r.URL.Path)

		var body struct {
			Prompt string `json:"prompt"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if capturedPrompt != nil {
			*capturedPrompt = body.Prompt
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"text": responseText})
	}))
}

func newTestOracle(t *testing.T, baseURL string) *genai.Client {
	return genai.NewClient(
		config.GenAIConfig{BaseURL: baseURL, Timeout: 5000, MaxTokens: 2048, Temperature: 0.2},
		0,
		&genaiTestLogger{t: t},
	)
}

func newTestHandler(t *testing.T, oracleURL string) *Handler {
	return NewHandler(LoadConfig(), newTestOracle(t, oracleURL), nil, NewTestLogger(t))
}

func sampleCandidates() []models.DetailedCandidate {
	return []models.DetailedCandidate{
		{
			PlaceID:     101,
			Name:        "Sushi Tetsu",
			URL:         "https://maps.example.com/101",
			Rating:      4.6,
			ReviewCount: 320,
			Reviews:     []models.Review{{Text: "Great omakase, worth the wait."}},
		},
		{
			PlaceID:     102,
			Name:        "Noodle Bar",
			URL:         "https://maps.example.com/102",
			Rating:      4.2,
			ReviewCount: 88,
			Reviews:     []models.Review{{Text: "Rich broth, quick service."}},
		},
	}
}

// ==========================
// Judge Tests
// ==========================

func TestJudge_ParsesArrayWrappedInProse(t *testing.T) {
	response := `Sure! Here are my picks:
` + "```json" + `
[{"placeId": 101, "name": "Sushi Tetsu", "description": "Excellent omakase near the station.", "aiRating": "4.7", "actualRating": "4.6", "url": "https://maps.example.com/101"}]
` + "```" + `
Enjoy your meal!`

	server := newOracleServer(t, response, nil)
	defer server.Close()

	handler := newTestHandler(t, server.URL)
	records := handler.Judge(context.Background(), sampleCandidates(), "sushi near the station")

	require.Len(t, records, 1)
	assert.False(t, records[0].IsError())
	assert.Equal(t, int64(101), records[0].PlaceID)
	assert.Equal(t, "4.7", records[0].AIRating)
}

func TestJudge_GarbageResponseBecomesErrorRecord(t *testing.T) {
	server := newOracleServer(t, "I could not find anything matching your request, sorry.", nil)
	defer server.Close()

	handler := newTestHandler(t, server.URL)
	records := handler.Judge(context.Background(), sampleCandidates(), "sushi")

	require.Len(t, records, 1)
	assert.True(t, records[0].IsError())
	assert.Contains(t, records[0].Error, "failed to generate recommendations")
}

func TestJudge_OracleFailureBecomesErrorRecord(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	handler := newTestHandler(t, server.URL)
	records := handler.Judge(context.Background(), sampleCandidates(), "sushi")

	require.Len(t, records, 1)
	assert.True(t, records[0].IsError())
}

func TestJudge_TruncatesToRecommendationSize(t *testing.T) {
	var items []string
	for i := 1; i <= 8; i++ {
		items = append(items, fmt.Sprintf(
			`{"placeId": %d, "name": "Place %d", "description": "Good pick number %d."}`, i, i, i))
	}
	server := newOracleServer(t, "["+strings.Join(items, ",")+"]", nil)
	defer server.Close()

	handler := newTestHandler(t, server.URL)
	records := handler.Judge(context.Background(), sampleCandidates(), "anything good")

	require.Len(t, records, 5)
	assert.Equal(t, int64(1), records[0].PlaceID)
	assert.Equal(t, int64(5), records[4].PlaceID)
}

func TestJudge_DropsRecordsMissingRequiredFields(t *testing.T) {
	response := `[
		{"placeId": 101, "name": "Sushi Tetsu", "description": "A fine choice."},
		{"placeId": 102, "name": "", "description": "Missing its name."},
		{"placeId": 103, "name": "Noodle Bar", "description": ""}
	]`
	server := newOracleServer(t, response, nil)
	defer server.Close()

	handler := newTestHandler(t, server.URL)
	records := handler.Judge(context.Background(), sampleCandidates(), "sushi")

	require.Len(t, records, 1)
	assert.Equal(t, int64(101), records[0].PlaceID)
}

func TestJudge_AllRecordsInvalidBecomesErrorRecord(t *testing.T) {
	response := `[{"placeId": 101, "name": "", "description": ""}]`
	server := newOracleServer(t, response, nil)
	defer server.Close()

	handler := newTestHandler(t, server.URL)
	records := handler.Judge(context.Background(), sampleCandidates(), "sushi")

	require.Len(t, records, 1)
	assert.True(t, records[0].IsError())
}

func TestJudge_OutputSurvivesRoundTrip(t *testing.T) {
	response := `[{"placeId": 101, "name": "Sushi Tetsu", "description": "Excellent omakase.", "aiRating": "4.7", "actualRating": "4.6", "url": "https://maps.example.com/101"}]`
	server := newOracleServer(t, response, nil)
	defer server.Close()

	handler := newTestHandler(t, server.URL)
	records := handler.Judge(context.Background(), sampleCandidates(), "sushi")
	require.Len(t, records, 1)

	// Serializing the records and lenient-parsing them again must yield the
	// same result, so downstream consumers can re-read stored output.
	encoded, err := json.Marshal(records)
	require.NoError(t, err)

	var reparsed []models.RecommendationRecord
	require.NoError(t, jsonx.ExtractArray(string(encoded), &reparsed))
	assert.Equal(t, records, reparsed)
}

func TestBuildPrompt_IncludesCandidateBlocksAndExcerpt(t *testing.T) {
	var prompt string
	server := newOracleServer(t, "[]", &prompt)
	defer server.Close()

	handler := newTestHandler(t, server.URL)

	long := strings.Repeat("한", 600)
	candidates := []models.DetailedCandidate{
		{
			PlaceID:     7,
			Name:        "Bulgogi House",
			URL:         "https://maps.example.com/7",
			Rating:      4.3,
			ReviewCount: 41,
			Reviews:     []models.Review{{Text: long}},
		},
	}

	handler.Judge(context.Background(), candidates, "korean bbq for a team dinner")

	assert.Contains(t, prompt, "korean bbq for a team dinner")
	assert.Contains(t, prompt, "placeId: 7")
	assert.Contains(t, prompt, "name: Bulgogi House")
	assert.Contains(t, prompt, "actualRating: 4.3")
	// Review text is excerpted to a fixed number of runes, not bytes.
	assert.Contains(t, prompt, strings.Repeat("한", 500)+"...")
	assert.NotContains(t, prompt, strings.Repeat("한", 501))
}

// ==========================
// Handler Tests
// ==========================

func TestHandler_Execute(t *testing.T) {
	detailServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/restaurants/restaurants", r.URL.Path)

		var ids []int64
		require.NoError(t, json.NewDecoder(r.Body).Decode(&ids))
		assert.Equal(t, []int64{101, 102}, ids)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(sampleCandidates())
	}))
	defer detailServer.Close()

	oracleServer := newOracleServer(t,
		`[{"placeId": 101, "name": "Sushi Tetsu", "description": "Best match for the request."}]`, nil)
	defer oracleServer.Close()

	cat := catalog.NewClient(
		config.CatalogConfig{BaseURL: detailServer.URL, Token: "test-token", Timeout: 5000},
		config.GeocodeConfig{},
		1,
		&catalogTestLogger{t: t},
	)
	handler := NewHandler(LoadConfig(), newTestOracle(t, oracleServer.URL), cat, NewTestLogger(t))

	output, err := handler.Execute(context.Background(), &Input{
		UserText:     "sushi near the station",
		ShortlistIDs: []int64{101, 102},
	})
	require.NoError(t, err)

	require.Len(t, output.Recommendations, 1)
	assert.Equal(t, "Sushi Tetsu", output.Recommendations[0].Name)
}

func TestHandler_Execute_EmptyShortlist(t *testing.T) {
	handler := NewHandler(LoadConfig(), nil, nil, NewTestLogger(t))

	output, err := handler.Execute(context.Background(), &Input{ShortlistIDs: nil})
	require.NoError(t, err)

	assert.Empty(t, output.Recommendations)
}
