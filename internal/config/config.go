package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds service configuration.
type Config struct {
	ServerAddr string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	StreamPrefix   string
	InboundStreams []string
	StreamMaxLen   int64

	TickInterval    time.Duration
	DrainPerTick    int
	PublishInterval time.Duration
	MaxBatchBytes   int
	CleanupDelay    time.Duration
	TimeCheckEvery  time.Duration

	HashSalt string

	MetadataBaseURL string
	MetadataAPIKey  string
	MetadataTimeout time.Duration
}

// Load reads configuration from environment.
func Load() (*Config, error) {
	return &Config{
		ServerAddr: getenv("SERVER_ADDR", "0.0.0.0:8080"),

		RedisAddr:     getenv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       parseInt(os.Getenv("REDIS_DB"), 0),

		StreamPrefix:   getenv("STREAM_PREFIX", "session-events:"),
		InboundStreams: splitCSV(getenv("INBOUND_STREAMS", "agent-events")),
		StreamMaxLen:   int64(parseInt(os.Getenv("STREAM_MAX_LEN"), 10000)),

		TickInterval:    parseDuration(getenv("TICK_INTERVAL", "50ms"), 50*time.Millisecond),
		DrainPerTick:    parseInt(os.Getenv("DRAIN_PER_TICK"), 1),
		PublishInterval: parseDuration(getenv("PUBLISH_INTERVAL", "500ms"), 500*time.Millisecond),
		MaxBatchBytes:   parseInt(os.Getenv("MAX_BATCH_BYTES"), 1<<20),
		CleanupDelay:    parseDuration(getenv("CLEANUP_DELAY", "10s"), 10*time.Second),
		TimeCheckEvery:  parseDuration(getenv("TIME_CHECK_EVERY", "1s"), time.Second),

		HashSalt: getenv("PARTICIPANT_HASH_SALT", "session-hub"),

		MetadataBaseURL: getenv("METADATA_BASE_URL", "http://localhost:9090"),
		MetadataAPIKey:  os.Getenv("METADATA_API_KEY"),
		MetadataTimeout: parseDuration(getenv("METADATA_TIMEOUT", "10s"), 10*time.Second),
	}, nil
}

func getenv(key, def string) string {
	val := os.Getenv(key)
	if val == "" {
		return def
	}
	return val
}

func parseDuration(val string, def time.Duration) time.Duration {
	if val == "" {
		return def
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return def
	}
	return d
}

func parseInt(val string, def int) int {
	if val == "" {
		return def
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return def
	}
	return n
}

func splitCSV(val string) []string {
	var out []string
	for _, part := range strings.Split(val, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
