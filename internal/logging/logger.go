package logging

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// Log is the package-global logger configured by Init.
var Log = zerolog.New(os.Stdout).With().Timestamp().Logger()

// Init sets the global log level and (re)builds the root logger.
// level can be "debug", "info", "warn", "error".
func Init(level string) {
	l := zerolog.InfoLevel
	switch strings.ToLower(level) {
	case "debug":
		l = zerolog.DebugLevel
	case "info":
		l = zerolog.InfoLevel
	case "warn":
		l = zerolog.WarnLevel
	case "error":
		l = zerolog.ErrorLevel
	}
	zerolog.SetGlobalLevel(l)
	Log = zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// Component returns a child logger tagged with a component name.
func Component(name string) zerolog.Logger {
	return Log.With().Str("component", name).Logger()
}
