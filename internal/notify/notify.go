// Package notify is the best-effort alert side channel. Alerters never return
// errors and never block the caller on delivery.
package notify

import (
	"context"
	"strings"

	"digishop-be/internal/logger"

	"go.uber.org/zap"
)

type Severity int

const (
	SeverityWarning Severity = iota
	SeverityError
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityWarning:
		return "WARNING"
	case SeverityError:
		return "ERROR"
	case SeverityCritical:
		return "CRITICAL"
	}
	return "UNKNOWN"
}

func (s Severity) prefix() string {
	switch s {
	case SeverityWarning:
		return "⚠️[WARNING]⚠️\n"
	case SeverityError:
		return "❗️[ERROR]❗️\n"
	case SeverityCritical:
		return "☠️[CRITICAL]☠️\n"
	}
	return ""
}

type Alerter interface {
	Alert(ctx context.Context, severity Severity, msg string)
}

// Nop drops every alert.
type Nop struct{}

func (Nop) Alert(context.Context, Severity, string) {}

// Log writes alerts to the process logger; used outside production in place
// of a real messenger.
type Log struct{}

func (Log) Alert(ctx context.Context, severity Severity, msg string) {
	logger.FromCtx(ctx).Warn("[MESSENGER LOG]",
		zap.String("severity", severity.String()),
		zap.String("message", strings.TrimSpace(msg)),
	)
}
