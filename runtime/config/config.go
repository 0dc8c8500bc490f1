// Package config loads the environment-variable surface named in spec §6:
// the handful of knobs transport/http and cmd/server need to start a
// process, independent of any XpertGraph or middleware configuration (which
// is per-Xpert, not per-process). Grounded on
// Jint8888-Pocket-Omega/internal/web/server.go's WEB_PORT/WEB_HOST
// os.Getenv-with-default pattern.
package config

import (
	"fmt"
	"os"
	"strings"
)

// LogLevel is one of the values §6 allows for LOG_LEVEL.
type LogLevel string

const (
	LogLevelError   LogLevel = "error"
	LogLevelWarn    LogLevel = "warn"
	LogLevelLog     LogLevel = "log"
	LogLevelDebug   LogLevel = "debug"
	LogLevelVerbose LogLevel = "verbose"
)

// Config is the process-level configuration read from the environment.
type Config struct {
	// Port the HTTP transport listens on.
	Port string
	// LogLevel is the parsed LOG_LEVEL value. cmd/server does not pass it to
	// the logger, so it does not filter telemetry.Logger calls.
	LogLevel LogLevel
	// Plugins lists plugin identifiers to load, split on comma or semicolon.
	Plugins []string
	// CORSAllowOrigins lists origins transport/http's CORS middleware allows;
	// empty means same-origin only.
	CORSAllowOrigins []string
	// SessionSecret is the parsed EXPRESS_SESSION_SECRET value. Client
	// secrets issued by POST /chatkit/sessions are random tokens and are not
	// signed with it.
	SessionSecret string
}

const defaultPort = "8080"

// Load reads Config from the process environment, applying the same
// defaults a developer running the binary locally would expect.
func Load() (Config, error) {
	cfg := Config{
		Port:             firstNonEmpty(os.Getenv("PORT"), defaultPort),
		LogLevel:         LogLevel(firstNonEmpty(os.Getenv("LOG_LEVEL"), string(LogLevelLog))),
		Plugins:          splitList(os.Getenv("PLUGINS")),
		CORSAllowOrigins: splitList(os.Getenv("CORS_ALLOW_ORIGINS")),
		SessionSecret:    os.Getenv("EXPRESS_SESSION_SECRET"),
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.LogLevel {
	case LogLevelError, LogLevelWarn, LogLevelLog, LogLevelDebug, LogLevelVerbose:
	default:
		return fmt.Errorf("config: invalid LOG_LEVEL %q", c.LogLevel)
	}
	return nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// splitList splits a comma- or semicolon-delimited environment value,
// trimming whitespace and dropping empty entries.
func splitList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	fields := strings.FieldsFunc(raw, func(r rune) bool { return r == ',' || r == ';' })
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}
