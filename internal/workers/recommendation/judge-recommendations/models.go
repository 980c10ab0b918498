package judgerecommendations

import "restaurant-recommender/internal/models"

type Input struct {
	UserText     string  `json:"userText"`
	ShortlistIDs []int64 `json:"shortlistIds"`
}

type Output struct {
	Recommendations []models.RecommendationRecord `json:"recommendations"`
}
