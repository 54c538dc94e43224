// Package zapadapter adapts a *zap.Logger to the gateway's logger.Logger
// interface. It lives in its own package so the core gateway module does
// not require go.uber.org/zap to compile; callers who want structured
// production logging (as jordigilh-kubernaut standardizes on) import this
// package explicitly and pass the result to gateway configuration.
package zapadapter

import (
	"go.uber.org/zap"

	"github.com/penserai/acteon/pkg/logger"
)

// Adapter wraps a *zap.Logger as a logger.ComponentAwareLogger.
type Adapter struct {
	z *zap.Logger
}

// New wraps z. A nil z uses zap.NewNop().
func New(z *zap.Logger) *Adapter {
	if z == nil {
		z = zap.NewNop()
	}
	return &Adapter{z: z}
}

func fieldsToZap(fields map[string]interface{}) []zap.Field {
	zf := make([]zap.Field, 0, len(fields))
	for k, v := range fields {
		zf = append(zf, zap.Any(k, v))
	}
	return zf
}

func (a *Adapter) Debug(msg string, fields map[string]interface{}) {
	a.z.Debug(msg, fieldsToZap(fields)...)
}

func (a *Adapter) Info(msg string, fields map[string]interface{}) {
	a.z.Info(msg, fieldsToZap(fields)...)
}

func (a *Adapter) Warn(msg string, fields map[string]interface{}) {
	a.z.Warn(msg, fieldsToZap(fields)...)
}

func (a *Adapter) Error(msg string, fields map[string]interface{}) {
	a.z.Error(msg, fieldsToZap(fields)...)
}

func (a *Adapter) WithComponent(component string) logger.Logger {
	return &Adapter{z: a.z.With(zap.String("component", component))}
}

var _ logger.ComponentAwareLogger = (*Adapter)(nil)
