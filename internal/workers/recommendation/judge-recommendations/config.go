package judgerecommendations

import "time"

type Config struct {
	Timeout            time.Duration
	RecommendationSize int
	ExcerptRunes       int
}

func LoadConfig() *Config {
	return &Config{
		Timeout:            90 * time.Second,
		RecommendationSize: 5,
		ExcerptRunes:       500,
	}
}
