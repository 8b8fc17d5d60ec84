// Package logging provides the default application.Logger used by
// cmd/tiddlysyncd: a thin wrapper over the standard log package.
package logging

import (
	"log"

	"tiddlysync/application"
)

// StdLogger writes through the standard library's default logger.
type StdLogger struct{}

// NewStdLogger returns an application.Logger backed by the standard
// log package, so every sync core component shares one timestamp/prefix
// configuration controlled from cmd/tiddlysyncd's main.
func NewStdLogger() application.Logger {
	return StdLogger{}
}

func (StdLogger) Printf(format string, v ...any) {
	log.Printf(format, v...)
}
