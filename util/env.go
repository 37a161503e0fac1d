package util

import (
	"os"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"
)

func EnvOrDefault(key string, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func EnvOrDefaultInt(key string, fallback int) int {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		log.Warnf("Ignoring %s=%q: %v", key, v, err)
		return fallback
	}
	return i
}

func EnvOrDefaultDuration(key string, fallback time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Warnf("Ignoring %s=%q: %v", key, v, err)
		return fallback
	}
	return d
}

// Location is the zone used to decide what "today" is. Falls back to UTC.
func Location() *time.Location {
	loc, err := time.LoadLocation(EnvOrDefault("TZ", "UTC"))
	if err != nil {
		log.Warnf("Bad location configured %v, using UTC", err)
		return time.UTC
	}
	return loc
}

// Today returns the current date as YYYY-MM-DD.
func Today() string {
	return time.Now().In(Location()).Format("2006-01-02")
}
