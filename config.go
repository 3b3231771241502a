package netsync

import (
	"os"
	"strconv"
)

type Config struct {
	ListenAddress string
	HTTPAddress   string
	TLSCertPath   string
	TLSKeyPath    string
	RedisAddress  string
	RedisPassword string
	StatsdAddress string
	TickRate      int
	MaxStrikes    int
	MaxDesyncs    int
}

func GetConfig() Config {
	return Config{
		ListenAddress: getEnv("NETSYNC_LISTEN_ADDRESS", "localhost:26842"),
		HTTPAddress:   getEnv("NETSYNC_HTTP_ADDRESS", "localhost:26843"),
		TLSCertPath:   getEnv("NETSYNC_TLS_CERT", ""),
		TLSKeyPath:    getEnv("NETSYNC_TLS_KEY", ""),
		RedisAddress:  getEnv("REDIS_ADDRESS", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		StatsdAddress: getEnv("NETSYNC_STATSD_ADDRESS", ""),
		TickRate:      getEnvInt("NETSYNC_TICK_RATE", 20),
		MaxStrikes:    getEnvInt("NETSYNC_MAX_STRIKES", 5),
		MaxDesyncs:    getEnvInt("NETSYNC_MAX_DESYNCS", 30),
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return n
}
