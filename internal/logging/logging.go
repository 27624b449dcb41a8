package logging

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init points the global logger at path, or at stderr when path is empty.
// The returned closer releases the log file.
func Init(level zerolog.Level, path string) io.Closer {
	var out io.Writer = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}
	var closer io.Closer = io.NopCloser(nil)

	if path != "" {
		logFile, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			panic(fmt.Errorf("failed to open log file: %w", err))
		}
		out = logFile
		closer = logFile
	}

	multi := zerolog.MultiLevelWriter(out)

	logger := zerolog.New(multi).Level(level).With().Timestamp().Logger()
	log.Logger = logger

	if level == zerolog.DebugLevel {
		log.Debug().Msg("Log level set to DEBUG")
	}
	return closer
}
