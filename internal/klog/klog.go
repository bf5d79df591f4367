// Package klog routes the kernel's go-logging loggers to hal loggers.
package klog

import (
	"fmt"

	"github.com/op/go-logging"

	"nanokern/hal"
)

// Format is the line layout of every log record.
const Format = "%{time:15:04:05.000} %{level:.4s} %{module}: %{message}"

type lineBackend struct {
	l hal.Logger
}

func (b lineBackend) Log(level logging.Level, calldepth int, rec *logging.Record) error {
	b.l.WriteLineString(rec.Formatted(calldepth + 1))
	return nil
}

// Setup sends every log record at level or above to each of loggers.
func Setup(level string, loggers ...hal.Logger) error {
	lvl, err := logging.LogLevel(level)
	if err != nil {
		return fmt.Errorf("log level %q: %w", level, err)
	}
	if len(loggers) == 0 {
		return fmt.Errorf("no loggers")
	}
	format := logging.MustStringFormatter(Format)
	backends := make([]logging.Backend, 0, len(loggers))
	for _, l := range loggers {
		backends = append(backends, logging.NewBackendFormatter(lineBackend{l: l}, format))
	}
	leveled := logging.SetBackend(backends...)
	leveled.SetLevel(lvl, "")
	return nil
}
