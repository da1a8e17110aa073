// Package envconfig reads dlnet settings from the environment.
package envconfig

import (
	"fmt"
	"log/slog"
	"math"
	"net"
	"os"
	"strconv"
	"strings"
)

const defaultPort = "11500"

// Host returns the address the server binds to.
// Configurable via DLNET_HOST. Default: 127.0.0.1:11500.
func Host() string {
	s := Var("DLNET_HOST")
	if s == "" {
		return net.JoinHostPort("127.0.0.1", defaultPort)
	}
	_, hostport, ok := strings.Cut(s, "://")
	if !ok {
		hostport = s
	}
	host, port, err := net.SplitHostPort(hostport)
	if err != nil {
		host, port = strings.Trim(hostport, "[]"), defaultPort
	}
	if n, err := strconv.ParseInt(port, 10, 32); err != nil || n < 0 || n > 65535 {
		slog.Warn("invalid port, using default", "port", port, "default", defaultPort)
		port = defaultPort
	}
	return net.JoinHostPort(host, port)
}

// AllowedOrigins returns the CORS origins the server accepts.
// Configurable via DLNET_ORIGINS (comma separated); localhost is always allowed.
func AllowedOrigins() (origins []string) {
	if s := Var("DLNET_ORIGINS"); s != "" {
		origins = strings.Split(s, ",")
	}
	for _, origin := range []string{"localhost", "127.0.0.1", "0.0.0.0"} {
		origins = append(origins,
			fmt.Sprintf("http://%s", origin),
			fmt.Sprintf("https://%s", origin),
			fmt.Sprintf("http://%s", net.JoinHostPort(origin, "*")),
			fmt.Sprintf("https://%s", net.JoinHostPort(origin, "*")),
		)
	}
	return origins
}

// Models returns the directory whose exports the server loads at startup.
// Configurable via DLNET_MODELS. Empty means no preloading.
func Models() string {
	return Var("DLNET_MODELS")
}

// LogLevel returns the log level.
// Configurable via DLNET_DEBUG: true or 1 for debug, 2 for trace.
func LogLevel() slog.Level {
	level := slog.LevelInfo
	if s := Var("DLNET_DEBUG"); s != "" {
		if b, _ := strconv.ParseBool(s); b {
			level = slog.LevelDebug
		} else if i, _ := strconv.ParseInt(s, 10, 64); i != 0 {
			level = slog.Level(i * -4)
		}
	}
	return level
}

// MaxBatchSize caps the batch size accepted by Execute. Zero means no cap.
// Configurable via DLNET_MAX_BATCH.
var MaxBatchSize = Uint("DLNET_MAX_BATCH", 0)

// LoadConcurrency bounds how many exports the server loads in parallel.
// Configurable via DLNET_LOAD_CONCURRENCY.
var LoadConcurrency = Uint("DLNET_LOAD_CONCURRENCY", 4)

// Uint returns a func reading key as an unsigned integer, or defaultValue
// when unset or invalid.
func Uint(key string, defaultValue uint) func() uint {
	return func() uint {
		if s := Var(key); s != "" {
			if n, err := strconv.ParseUint(s, 10, 64); err != nil || n > math.MaxUint32 {
				slog.Warn("invalid environment variable, using default", "key", key, "value", s, "default", defaultValue)
			} else {
				return uint(n)
			}
		}
		return defaultValue
	}
}

// Var returns an environment variable stripped of quotes and spaces.
func Var(key string) string {
	return strings.Trim(strings.TrimSpace(os.Getenv(key)), "\"'")
}

// EnvVar describes one setting.
type EnvVar struct {
	Name        string
	Value       any
	Description string
}

// AsMap returns every setting with its effective value.
func AsMap() map[string]EnvVar {
	return map[string]EnvVar{
		"DLNET_DEBUG":            {"DLNET_DEBUG", LogLevel(), "Show additional debug information (e.g. DLNET_DEBUG=1)"},
		"DLNET_HOST":             {"DLNET_HOST", Host(), "Address for the dlnet server (default 127.0.0.1:11500)"},
		"DLNET_LOAD_CONCURRENCY": {"DLNET_LOAD_CONCURRENCY", LoadConcurrency(), "Exports loaded in parallel at startup (default 4)"},
		"DLNET_MAX_BATCH":        {"DLNET_MAX_BATCH", MaxBatchSize(), "Largest accepted batch size (default unlimited)"},
		"DLNET_MODELS":           {"DLNET_MODELS", Models(), "Directory of exports to load at startup"},
		"DLNET_ORIGINS":          {"DLNET_ORIGINS", AllowedOrigins(), "A comma separated list of allowed origins"},
	}
}

// Values returns the effective settings as strings.
func Values() map[string]string {
	vals := make(map[string]string)
	for k, v := range AsMap() {
		vals[k] = fmt.Sprintf("%v", v.Value)
	}
	return vals
}
