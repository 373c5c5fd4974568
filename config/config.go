// Package config loads and validates server configuration from a
// KEY=value file, one pair per line.
package config

import (
	"fmt"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/regiscop/decuma/core"
)

// Config holds every setting the server needs to start.
type Config struct {
	Path                 string        // directory holding the register and segment files
	Port                 int           // TCP listen port
	MaxSegmentSize       int           // bytes, per segment, before a split is triggered
	MaxSegmentsInMemory  int           // resident cap enforced by the memory manager
	MaxClients           int           // OS-level TCP listen backlog, not a concurrency cap
	LoggingLevel         string        // one of debug, info, warn, error
	Patience             time.Duration // idle time before an opportunistic flush tick
}

const (
	defaultMaxSegmentSize      = 1 << 20
	defaultMaxSegmentsInMemory = 256
	defaultMaxClients          = 64
	defaultLoggingLevel        = "info"
	defaultPatience            = 100 * time.Millisecond
)

// Load reads the KEY=value file at path with godotenv and parses it into
// a Config, applying defaults for any key left unset. A malformed value
// is reported as an InvalidArgument error naming the offending key.
func Load(path string) (Config, error) {
	vals, err := godotenv.Read(path)
	if err != nil {
		return Config{}, &core.Error{Kind: core.IOFailure, Msg: fmt.Sprintf("config: read %s: %v", path, err)}
	}

	cfg := Config{
		Path:         vals["path"],
		LoggingLevel: strOr(vals, "logging_level", defaultLoggingLevel),
	}
	if cfg.Path == "" {
		return Config{}, &core.Error{Kind: core.InvalidArgument, Msg: "config: \"path\" is required"}
	}

	var errs []string

	cfg.Port, errs = collectInt(vals, "port", 9090, errs)
	cfg.MaxSegmentSize, errs = collectInt(vals, "max_segment_size", defaultMaxSegmentSize, errs)
	cfg.MaxSegmentsInMemory, errs = collectInt(vals, "max_segments_in_memory", defaultMaxSegmentsInMemory, errs)
	cfg.MaxClients, errs = collectInt(vals, "max_clients", defaultMaxClients, errs)
	cfg.Patience, errs = collectDuration(vals, "patience", defaultPatience, errs)

	if len(errs) > 0 {
		msg := "config: invalid values:"
		for _, e := range errs {
			msg += "\n  " + e
		}
		return Config{}, &core.Error{Kind: core.InvalidArgument, Msg: msg}
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch {
	case c.Port < 1 || c.Port > 65535:
		return &core.Error{Kind: core.InvalidArgument, Msg: "config: \"port\" must be between 1 and 65535"}
	case c.MaxSegmentSize <= 0:
		return &core.Error{Kind: core.InvalidArgument, Msg: "config: \"max_segment_size\" must be positive"}
	case c.MaxSegmentsInMemory <= 0:
		return &core.Error{Kind: core.InvalidArgument, Msg: "config: \"max_segments_in_memory\" must be positive"}
	case c.MaxClients <= 0:
		return &core.Error{Kind: core.InvalidArgument, Msg: "config: \"max_clients\" must be positive"}
	case c.Patience <= 0:
		return &core.Error{Kind: core.InvalidArgument, Msg: "config: \"patience\" must be positive"}
	case !validLoggingLevel(c.LoggingLevel):
		return &core.Error{Kind: core.InvalidArgument, Msg: fmt.Sprintf("config: \"logging_level\" %q is not one of debug, info, warn, error", c.LoggingLevel)}
	}
	return nil
}

func validLoggingLevel(level string) bool {
	switch level {
	case "debug", "info", "warn", "error":
		return true
	default:
		return false
	}
}

func strOr(vals map[string]string, key, fallback string) string {
	if v, ok := vals[key]; ok && v != "" {
		return v
	}
	return fallback
}

func collectInt(vals map[string]string, key string, fallback int, errs []string) (int, []string) {
	v, ok := vals[key]
	if !ok || v == "" {
		return fallback, errs
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback, append(errs, fmt.Sprintf("%s=%q is not a valid integer", key, v))
	}
	return n, errs
}

func collectDuration(vals map[string]string, key string, fallback time.Duration, errs []string) (time.Duration, []string) {
	v, ok := vals[key]
	if !ok || v == "" {
		return fallback, errs
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback, append(errs, fmt.Sprintf("%s=%q is not a valid duration", key, v))
	}
	return d, errs
}
