package store

import (
	"time"

	"go.uber.org/zap"
)

// badgerLogger routes badger's logging to zap. Badger is chatty at info
// level, so its info messages are logged at debug.
type badgerLogger struct {
	*zap.SugaredLogger
}

func (l badgerLogger) Warningf(format string, args ...interface{}) {
	l.Warnf(format, args...)
}

func (l badgerLogger) Infof(format string, args ...interface{}) {
	l.Debugf(format, args...)
}

func unixNano(ns int64) time.Time {
	return time.Unix(0, ns).UTC()
}
