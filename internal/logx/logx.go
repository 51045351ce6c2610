package logx

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// NewLogger returns a zerolog logger configured for console output.
// level accepts the usual zerolog names (debug, info, warn, error);
// anything unparseable falls back to info.
func NewLogger(level string) zerolog.Logger {
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	zerolog.CallerMarshalFunc = func(pc uintptr, file string, line int) string {
		// Extract just the filename, not the full path
		short := file
		for i := len(file) - 1; i > 0; i-- {
			if file[i] == '/' {
				short = file[i+1:]
				break
			}
		}
		// Pad to 28 characters for alignment
		return fmt.Sprintf("%-28s", fmt.Sprintf("%s:%d", short, line))
	}

	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}

	logger := zerolog.New(output).Level(lvl).With().Timestamp().Caller().Logger()
	return logger
}
