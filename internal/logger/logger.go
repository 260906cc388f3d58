// Package logger builds the console logger shared by the service.
package logger

import (
	"io"
	"os"

	"github.com/charmbracelet/log"
)

// New returns a logger writing to stderr. Debug lowers the level to debug.
func New(debug bool) *log.Logger {
	return NewWithWriter(os.Stderr, debug)
}

func NewWithWriter(w io.Writer, debug bool) *log.Logger {
	level := log.InfoLevel
	if debug {
		level = log.DebugLevel
	}
	return log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		Level:           level,
	})
}
