// Package logtest builds utils.Logger instances for tests.
package logtest

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"trajtrack-core/utils"
)

// New returns a logger that writes every level through tb.
func New(tb testing.TB) *utils.Logger {
	logger, _ := NewObserved(tb)
	return logger
}

// NewObserved is New plus an observer recording every entry.
func NewObserved(tb testing.TB) (*utils.Logger, *observer.ObservedLogs) {
	level := zap.NewAtomicLevelAt(utils.TRACE.ZapLevel())
	observed, logs := observer.New(level)
	base := zaptest.NewLogger(tb, zaptest.Level(level)).Core()
	return utils.NewCoreLogger(zapcore.NewTee(base, observed), level), logs
}
