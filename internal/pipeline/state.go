package pipeline

import (
	"time"

	"restaurant-recommender/internal/models"
)

// Stage identifies a position in the recommendation pipeline.
type Stage string

const (
	StageExtracting Stage = "Extracting"
	StageMerging    Stage = "Merging"
	StageRanking    Stage = "Ranking"
	StageJudging    Stage = "Judging"
	StageDone       Stage = "Done"
	StageTerminated Stage = "Terminated"
)

// Terminal reports whether the stage is absorbing.
func (s Stage) Terminal() bool {
	return s == StageDone || s == StageTerminated
}

// resumable stages for RunFrom. Extraction always starts a fresh run, and
// the terminal stages cannot be entered directly.
func (s Stage) resumable() bool {
	switch s {
	case StageMerging, StageRanking, StageJudging:
		return true
	}
	return false
}

// State is the request-scoped record carried through the pipeline. Each
// stage writes only its own slots; a snapshot is persisted after every
// transition so later requests can re-enter mid-graph.
type State struct {
	RequestID string `json:"requestId"`
	UserText  string `json:"userText"`
	Stage     Stage  `json:"stage"`

	Facets             models.Facets              `json:"facets"`
	Coordinates        *models.Coordinates        `json:"coordinates,omitempty"`
	LocationCandidates []models.RestaurantSummary `json:"locationCandidates,omitempty"`
	MenuIDs            []int64                    `json:"menuIds,omitempty"`
	ContextIDs         []int64                    `json:"contextIds,omitempty"`

	MergedIDs     []int64 `json:"mergedIds,omitempty"`
	MergeStrategy string  `json:"mergeStrategy,omitempty"`

	ShortlistIDs []int64                 `json:"shortlistIds,omitempty"`
	Ranked       []models.RatedCandidate `json:"ranked,omitempty"`

	Recommendations []models.RecommendationRecord `json:"recommendations,omitempty"`

	// ErrorMessage carries the user-facing message for Terminated runs.
	ErrorMessage string `json:"errorMessage,omitempty"`

	StartedAt time.Time `json:"startedAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
