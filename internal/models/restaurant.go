// internal/models/restaurant.go
package models

import "encoding/json"

// Facets holds the three filter dimensions extracted from one user request.
// Empty keyword lists mean "no restriction", not "match nothing".
type Facets struct {
	LocationText    string   `json:"locationText"`
	MenuKeywords    []string `json:"menuKeywords"`
	ContextKeywords []string `json:"contextKeywords"`
}

// Coordinates is a geocoded location.
type Coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// RestaurantSummary is the per-restaurant record returned by the catalog's
// nearby search.
type RestaurantSummary struct {
	PlaceID     int64   `json:"placeId"`
	Name        string  `json:"name"`
	Rating      float64 `json:"rating"`
	ReviewCount int     `json:"reviewCount"`
}

// RatingInfo carries the quality signal for one candidate. Rating and
// ReviewCount are raw JSON because the catalog has been observed to return
// them as either numbers or strings; the ranker decides how to degrade.
type RatingInfo struct {
	PlaceID     int64           `json:"placeId"`
	Rating      json.RawMessage `json:"rating"`
	ReviewCount json.RawMessage `json:"reviewCount"`
}

// RatedCandidate is a candidate with its computed shortlist score.
type RatedCandidate struct {
	PlaceID     int64   `json:"placeId"`
	Rating      float64 `json:"rating"`
	ReviewCount int     `json:"reviewCount"`
	Score       float64 `json:"score"`
}

// Review is a single review text attached to a detailed candidate.
type Review struct {
	Text string `json:"text"`
}

// DetailedCandidate is the full catalog record for one shortlisted
// restaurant, fetched only for the candidates that survive ranking.
type DetailedCandidate struct {
	PlaceID     int64    `json:"placeId"`
	Name        string   `json:"name"`
	Address     string   `json:"address"`
	URL         string   `json:"url"`
	Rating      float64  `json:"rating"`
	ReviewCount int      `json:"reviewCount"`
	Reviews     []Review `json:"reviews"`
	Menus       []string `json:"menus"`
}

// RecommendationRecord is the unit returned to the caller. A judge parse
// failure is signalled by a single record whose Error field is set; callers
// check the marker instead of handling a separate error path.
type RecommendationRecord struct {
	PlaceID      int64  `json:"placeId,omitempty"`
	Name         string `json:"name,omitempty"`
	Description  string `json:"description,omitempty"`
	AIRating     string `json:"aiRating,omitempty"`
	ActualRating string `json:"actualRating,omitempty"`
	URL          string `json:"url,omitempty"`
	Error        string `json:"error,omitempty"`
}

// IsError reports whether the record is the judge's failure marker.
func (r RecommendationRecord) IsError() bool {
	return r.Error != ""
}
