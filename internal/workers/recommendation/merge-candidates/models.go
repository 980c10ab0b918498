package mergecandidates

import "restaurant-recommender/internal/models"

type Input struct {
	Facets             models.Facets              `json:"facets"`
	LocationCandidates []models.RestaurantSummary `json:"locationCandidates"`
	MenuIDs            []int64                    `json:"menuIds"`
	ContextIDs         []int64                    `json:"contextIds"`
}

type Output struct {
	MergedIDs []int64 `json:"mergedIds"`
	Strategy  string  `json:"mergeStrategy"`
}
