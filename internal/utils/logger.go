package utils

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// InitLogger points the global logger at an append-only file. stdout is
// reserved for the messaging channel, so an empty path falls back to stderr.
// The returned closer releases the file.
func InitLogger(path string, debug bool) (io.Closer, error) {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	if path == "" {
		SetLogOutput(os.Stderr)
		return nopCloser{}, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("error creating log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("error opening log file: %w", err)
	}
	log.Logger = zerolog.New(f).With().Timestamp().Logger()
	return f, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func GetLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

func SetLogOutput(w io.Writer) {
	output := zerolog.ConsoleWriter{
		Out:        w,
		NoColor:    true,
		TimeFormat: time.DateTime,
	}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
}
