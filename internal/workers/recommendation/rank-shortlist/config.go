package rankshortlist

import "time"

type Config struct {
	Timeout       time.Duration
	ShortlistSize int
}

func LoadConfig() *Config {
	return &Config{
		Timeout:       30 * time.Second,
		ShortlistSize: 10,
	}
}
