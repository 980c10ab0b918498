// Package catalog is the HTTP client for the restaurant catalog service and
// the geocoding API that resolves place names to coordinates.
package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"restaurant-recommender/internal/common/config"
	"restaurant-recommender/internal/models"
)

var (
	ErrCatalogQueryFailed = errors.New("CATALOG_QUERY_FAILED")
	ErrCatalogTimeout     = errors.New("CATALOG_TIMEOUT")
	ErrCatalogAuthFailed  = errors.New("CATALOG_AUTH_FAILED")
	ErrGeocodingFailed    = errors.New("GEOCODING_FAILED")
)

type Logger interface {
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
	With(fields map[string]interface{}) Logger
}

// Client calls the catalog service. The bearer token is an explicit client
// field, not ambient process state, so separate clients can carry separate
// credentials.
type Client struct {
	config     config.CatalogConfig
	geocode    config.GeocodeConfig
	token      string
	client     *http.Client
	maxRetries int
	logger     Logger
}

func NewClient(cfg config.CatalogConfig, geo config.GeocodeConfig, maxRetries int, log Logger) *Client {
	timeout := time.Duration(cfg.Timeout) * time.Millisecond
	return &Client{
		config:     cfg,
		geocode:    geo,
		token:      cfg.Token,
		client:     &http.Client{Timeout: timeout},
		maxRetries: maxRetries,
		logger: log.With(map[string]interface{}{
			"component": "catalog",
		}),
	}
}

// Nearby returns restaurants within radius meters of the coordinates.
func (c *Client) Nearby(ctx context.Context, lat, lng float64, radius int) ([]models.RestaurantSummary, error) {
	q := url.Values{}
	q.Set("lat", strconv.FormatFloat(lat, 'f', -1, 64))
	q.Set("lng", strconv.FormatFloat(lng, 'f', -1, 64))
	q.Set("radius", strconv.Itoa(radius))

	var out []models.RestaurantSummary
	if err := c.do(ctx, "GET", "/api/restaurants?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// FilterByMenu returns restaurants whose menus match any keyword.
func (c *Client) FilterByMenu(ctx context.Context, keywords []string) ([]models.RestaurantSummary, error) {
	body := map[string]interface{}{"keywords": keywords}
	var out []models.RestaurantSummary
	if err := c.do(ctx, "POST", "/api/restaurants/filter/menu", body, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// FilterByContext returns restaurants whose reviews match any context keyword.
func (c *Client) FilterByContext(ctx context.Context, keywords []string) ([]models.RestaurantSummary, error) {
	body := map[string]interface{}{"keywords": keywords}
	var out []models.RestaurantSummary
	if err := c.do(ctx, "POST", "/api/restaurants/filter/context", body, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// RatingAndCount returns rating data for the given place ids. Rating and
// review count come back as raw JSON since the catalog is not strict about
// string versus number fields.
func (c *Client) RatingAndCount(ctx context.Context, placeIDs []int64) ([]models.RatingInfo, error) {
	var out []models.RatingInfo
	if err := c.do(ctx, "POST", "/api/restaurants/ratingAndCount", placeIDs, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Detail returns full records, reviews and menus included, for the ids.
func (c *Client) Detail(ctx context.Context, placeIDs []int64) ([]models.DetailedCandidate, error) {
	var out []models.DetailedCandidate
	if err := c.do(ctx, "POST", "/api/restaurants/restaurants", placeIDs, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Geocode resolves a place name to coordinates via the geocoding API.
func (c *Client) Geocode(ctx context.Context, location string) (*models.Coordinates, error) {
	q := url.Values{}
	q.Set("address", location)
	if c.geocode.APIKey != "" {
		q.Set("key", c.geocode.APIKey)
	}

	req, err := http.NewRequestWithContext(ctx, "GET", c.geocode.BaseURL+"/maps/api/geocode/json?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGeocodingFailed, err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGeocodingFailed, err)
	}
	defer resp.Body.Close()

	var apiResponse struct {
		Status  string `json:"status"`
		Results []struct {
			Geometry struct {
				Location struct {
					Lat float64 `json:"lat"`
					Lng float64 `json:"lng"`
				} `json:"location"`
			} `json:"geometry"`
		} `json:"results"`
		ErrorMessage string `json:"error_message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiResponse); err != nil {
		return nil, fmt.Errorf("%w: decode error: %v", ErrGeocodingFailed, err)
	}

	if apiResponse.Status != "OK" || len(apiResponse.Results) == 0 {
		return nil, fmt.Errorf("%w: status %s %s", ErrGeocodingFailed, apiResponse.Status, apiResponse.ErrorMessage)
	}

	loc := apiResponse.Results[0].Geometry.Location
	return &models.Coordinates{Latitude: loc.Lat, Longitude: loc.Lng}, nil
}

// do runs one catalog request with retries and decodes the JSON body into out.
func (c *Client) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var payload []byte
	if body != nil {
		payload, _ = json.Marshal(body)
	}

	var resp *http.Response
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {

		if attempt > 0 {
			backoff := time.Duration(100*(1<<(attempt-1))) * time.Millisecond
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ErrCatalogTimeout
			}
		}

		var reader *bytes.Buffer
		if payload != nil {
			reader = bytes.NewBuffer(payload)
		} else {
			reader = bytes.NewBuffer(nil)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+path, reader)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrCatalogQueryFailed, err)
		}
		req.Header.Set("Content-Type", "application/json")
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}

		resp, lastErr = c.client.Do(req)

		if ctx.Err() != nil ||
			errors.Is(lastErr, context.DeadlineExceeded) ||
			errors.Is(lastErr, context.Canceled) {

			return ErrCatalogTimeout
		}

		if lastErr == nil {
			if resp.StatusCode == http.StatusOK {
				break
			}
			status := resp.StatusCode
			resp.Body.Close()
			resp = nil

			// Expired or invalid tokens never recover on retry.
			if status == http.StatusUnauthorized {
				return fmt.Errorf("%w: status 401", ErrCatalogAuthFailed)
			}
			lastErr = fmt.Errorf("status %d", status)
		}
	}

	if lastErr != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return ErrCatalogTimeout
		}
		return fmt.Errorf("%w: %v", ErrCatalogQueryFailed, lastErr)
	}

	if resp == nil {
		return fmt.Errorf("%w: no successful response after retries", ErrCatalogQueryFailed)
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode error: %v", ErrCatalogQueryFailed, err)
	}

	return nil
}
