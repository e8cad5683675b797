// Package sysutil holds process bootstrap helpers used by cmd/labsyncd:
// global log level and output, and small env parsing utilities.
package sysutil

import (
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// SetLogLevel sets the global zerolog level from a name such as "debug" or
// "WARN" ("warning" is accepted too) and returns it. Blank or unknown
// names mean info.
func SetLogLevel(name string) zerolog.Level {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "warning" {
		name = "warn"
	}
	level, err := zerolog.ParseLevel(name)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	return level
}

// ConfigureLogger replaces the global log.Logger. With pretty set, output is
// a zerolog.ConsoleWriter (uncolored when NO_COLOR is truthy); otherwise JSON.
// Every event carries the service name. A nil w means os.Stderr.
func ConfigureLogger(w io.Writer, pretty bool, service string) zerolog.Logger {
	if w == nil {
		w = os.Stderr
	}
	zerolog.TimeFieldFormat = time.RFC3339Nano
	out := w
	if pretty {
		out = zerolog.ConsoleWriter{
			Out:        w,
			TimeFormat: time.RFC3339,
			NoColor:    IsTruthy(os.Getenv("NO_COLOR")),
		}
	}
	l := zerolog.New(out).With().
		Timestamp().
		Str("service", FirstNonEmpty(service, "labsyncd")).
		Logger()
	log.Logger = l
	return l
}

// IsTruthy reports whether an env value means "on": anything
// strconv.ParseBool accepts as true, plus yes, y and on.
func IsTruthy(v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	switch v {
	case "yes", "y", "on":
		return true
	}
	b, err := strconv.ParseBool(v)
	return err == nil && b
}

// FirstNonEmpty returns the first non-blank value unchanged, or "".
func FirstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
