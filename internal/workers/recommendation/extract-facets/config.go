package extractfacets

import "time"

type Config struct {
	Timeout      time.Duration
	MaxRetries   int
	SearchRadius int
	CacheTTL     time.Duration
}

func LoadConfig() *Config {
	return &Config{
		Timeout:      60 * time.Second,
		MaxRetries:   3,
		SearchRadius: 500,
		CacheTTL:     5 * time.Minute,
	}
}
