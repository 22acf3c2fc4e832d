// Package config loads server settings from the environment, optionally
// seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const defaultSystemPrompt = "You are a friendly voice assistant. Keep answers short and conversational. " +
	"When the user asks to schedule or cancel a meeting, use the meeting tools."

// Config is the full process configuration.
type Config struct {
	Host string
	Port int

	APIKey   string
	Model    string
	Voice    string
	Language string
	Prompt   string

	StartTimeout    time.Duration
	WriteTimeout    time.Duration
	MaxMessageBytes int64

	RecordingsDir       string
	// RecordingsBitrate only takes effect in binaries built with -tags opus;
	// the default build writes uncompressed WAV.
	RecordingsBitrate   int
	RecordingsRetention time.Duration
	RecordingsMaxFiles  int

	MCPEnabled bool
	LogLevel   string
}

// Addr is the listen address.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Load reads envFiles (missing files are ignored) and then the environment.
// Values already present in the environment win over .env entries.
func Load(envFiles ...string) (Config, error) {
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("config: load %s: %w", f, err)
		}
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from a lookup function.
func FromEnv(getenv func(string) string) (Config, error) {
	r := reader{get: getenv}
	c := Config{
		Host:                r.str("HOST", "0.0.0.0"),
		Port:                r.int("PORT", 8081),
		APIKey:              r.str("GEMINI_API_KEY", getenv("AISTUDIO_API_KEY")),
		Model:               r.str("GEMINI_MODEL", "gemini-2.0-flash-exp"),
		Voice:               r.str("GEMINI_VOICE", "Aoede"),
		Language:            r.str("GEMINI_LANGUAGE", "hi-IN"),
		Prompt:              r.str("LIVE_SYSTEM_PROMPT", defaultSystemPrompt),
		StartTimeout:        r.duration("LIVE_START_TIMEOUT", 30*time.Second),
		WriteTimeout:        r.duration("LIVE_WRITE_TIMEOUT", 5*time.Second),
		MaxMessageBytes:     int64(r.int("LIVE_MAX_MESSAGE_BYTES", 1<<20)),
		RecordingsDir:       r.str("RECORDINGS_DIR", "recordings"),
		RecordingsBitrate:   r.int("RECORDINGS_BITRATE", 96000),
		RecordingsRetention: r.duration("RECORDINGS_RETENTION", 0),
		RecordingsMaxFiles:  r.int("RECORDINGS_MAX_FILES", 0),
		MCPEnabled:          r.bool("MCP_ENABLED", false),
		LogLevel:            r.str("LOG_LEVEL", "info"),
	}
	if len(r.errs) > 0 {
		return Config{}, errors.Join(r.errs...)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks ranges. A missing API key is not an error here; the model
// dial reports it per session.
func (c Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("config: PORT out of range: %d", c.Port))
	}
	if c.StartTimeout <= 0 {
		errs = append(errs, errors.New("config: LIVE_START_TIMEOUT must be positive"))
	}
	if c.WriteTimeout <= 0 {
		errs = append(errs, errors.New("config: LIVE_WRITE_TIMEOUT must be positive"))
	}
	if c.MaxMessageBytes <= 0 {
		errs = append(errs, errors.New("config: LIVE_MAX_MESSAGE_BYTES must be positive"))
	}
	if c.RecordingsBitrate <= 0 {
		errs = append(errs, errors.New("config: RECORDINGS_BITRATE must be positive"))
	}
	if c.RecordingsRetention < 0 || c.RecordingsMaxFiles < 0 {
		errs = append(errs, errors.New("config: recording retention limits must not be negative"))
	}
	return errors.Join(errs...)
}

type reader struct {
	get  func(string) string
	errs []error
}

func (r *reader) str(key, def string) string {
	if v := strings.TrimSpace(r.get(key)); v != "" {
		return v
	}
	return def
}

func (r *reader) int(key string, def int) int {
	v := strings.TrimSpace(r.get(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("config: %s: %w", key, err))
		return def
	}
	return n
}

// duration accepts Go duration strings and bare integers as seconds.
func (r *reader) duration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(r.get(key))
	if v == "" {
		return def
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("config: %s: %w", key, err))
		return def
	}
	return d
}

func (r *reader) bool(key string, def bool) bool {
	v := strings.TrimSpace(r.get(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("config: %s: %w", key, err))
		return def
	}
	return b
}
