// Package logging configures the process-wide zerolog logger once,
// with env overrides for level and output shape.
package logging

import (
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	EnvLogLevel   = "GATESQL_LOG_LEVEL"
	EnvLogNoColor = "GATESQL_LOG_NOCOLOR"
	EnvLogJSON    = "GATESQL_LOG_JSON"
)

type Profile int

const (
	ProfileRuntime Profile = iota
	ProfileTest
)

var configureOnce sync.Once

func ConfigureRuntime(logFile string) {
	Configure(ProfileRuntime, logFile)
}

func ConfigureTests() {
	Configure(ProfileTest, "")
}

// Configure initializes the global logger. With a logFile the console
// stream is duplicated into it; the file is opened in append mode so
// external rotation (logrotate and friends) keeps working.
func Configure(profile Profile, logFile string) {
	configureOnce.Do(func() {
		level := zerolog.InfoLevel
		if profile == ProfileTest {
			level = zerolog.DebugLevel
		}
		if lvl, ok := parseLevel(os.Getenv(EnvLogLevel)); ok {
			level = lvl
		}

		var out io.Writer
		if jsonOut, _ := parseBool(os.Getenv(EnvLogJSON)); jsonOut {
			out = os.Stdout
		} else {
			noColor, _ := parseBool(os.Getenv(EnvLogNoColor))
			out = zerolog.ConsoleWriter{
				Out:        os.Stdout,
				TimeFormat: time.RFC3339,
				NoColor:    noColor,
			}
		}
		if logFile != "" {
			f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			if err == nil {
				out = zerolog.MultiLevelWriter(out, f)
			}
		}

		log.Logger = zerolog.New(out).Level(level).With().
			Timestamp().Str("app", "gatesql").Logger()
	})
}

func parseLevel(raw string) (zerolog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return zerolog.InfoLevel, false
	case "trace":
		return zerolog.TraceLevel, true
	case "debug":
		return zerolog.DebugLevel, true
	case "info":
		return zerolog.InfoLevel, true
	case "warn", "warning":
		return zerolog.WarnLevel, true
	case "error":
		return zerolog.ErrorLevel, true
	default:
		return zerolog.InfoLevel, false
	}
}

func parseBool(raw string) (bool, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return v, true
}
