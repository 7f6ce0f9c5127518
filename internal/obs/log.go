package obs

import (
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

var (
	loggerOnce sync.Once
	rootLogger zerolog.Logger
)

// InitLogger configures the process-wide root logger. Level strings follow
// zerolog conventions; unknown values fall back to info.
func InitLogger(level string) {
	loggerOnce.Do(func() {
		lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
		if err != nil || lvl == zerolog.NoLevel {
			lvl = zerolog.InfoLevel
		}
		rootLogger = zerolog.New(os.Stdout).Level(lvl).With().Timestamp().Logger()
	})
}

// Logger returns the shared root logger. InitLogger must run first; if it
// did not, a default info-level logger is installed.
func Logger() zerolog.Logger {
	InitLogger("info")
	return rootLogger
}

// Component derives a child logger tagged with a component name.
func Component(name string) zerolog.Logger {
	return Logger().With().Str("component", name).Logger()
}
