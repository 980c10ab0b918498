package rankshortlist

import "restaurant-recommender/internal/models"

type Input struct {
	MergedIDs []int64 `json:"mergedIds"`
}

type Output struct {
	ShortlistIDs []int64                 `json:"shortlistIds"`
	Ranked       []models.RatedCandidate `json:"ranked"`
}
