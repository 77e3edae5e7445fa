package utils

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// NewLogger returns a stdout logger tagged with the component name.
func NewLogger(component string) zerolog.Logger {
	return zerolog.New(os.Stdout).With().Timestamp().Str("component", component).Logger()
}

// SetLogLevel sets the global zerolog level from a name such as "debug" or
// "warn". Unknown names fall back to info.
func SetLogLevel(name string) {
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(name)))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}
