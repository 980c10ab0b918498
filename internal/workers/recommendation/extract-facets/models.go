package extractfacets

import "restaurant-recommender/internal/models"

type Input struct {
	UserText  string `json:"userText"`
	RequestID string `json:"requestId"`
}

type Output struct {
	Facets             models.Facets              `json:"facets"`
	Coordinates        models.Coordinates         `json:"coordinates"`
	LocationCandidates []models.RestaurantSummary `json:"locationCandidates"`
	MenuIDs            []int64                    `json:"menuIds"`
	ContextIDs         []int64                    `json:"contextIds"`
}
