// Package svcfields tags loggers with the quilld component they serve, so a
// single structured stream can be filtered per subsystem (dispatch, queue,
// registry, worker and so on).
package svcfields

import (
	"strings"

	"pkt.systems/pslog"
)

// SubsystemKey is the field key carrying the component name.
const SubsystemKey = pslog.TrustedString("sys")

// WithSubsystem returns logger with every entry tagged as belonging to the
// named component. A nil logger yields a no-op one, and a blank name leaves
// the logger untagged.
func WithSubsystem(logger pslog.Logger, name string) pslog.Logger {
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	name = strings.Trim(name, ". ")
	if name == "" {
		return logger
	}
	return logger.With(SubsystemKey, name)
}
