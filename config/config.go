package config

import (
	"os"
	"strconv"
	"time"
)

// Config carries everything read from the environment at startup.
type Config struct {
	Port            string
	PostgresURL     string
	AllowedOrigins  string
	GinMode         string
	Debug           bool
	RoomIdleTimeout time.Duration
	DisconnectGrace time.Duration
}

func Load() Config {
	return Config{
		Port:            getEnv("PORT", "5000"),
		PostgresURL:     os.Getenv("POSTGRES_URL"),
		AllowedOrigins:  getEnv("ALLOWED_ORIGINS", "http://localhost:3000"),
		GinMode:         getEnv("GIN_MODE", "debug"),
		Debug:           getBool("DEBUG", false),
		RoomIdleTimeout: getDuration("ROOM_IDLE_TIMEOUT", 5*time.Second),
		DisconnectGrace: getDuration("DISCONNECT_GRACE", 30*time.Second),
	}
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
