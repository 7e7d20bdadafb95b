package telemetry

import "go.uber.org/zap"

// zapLogger adapts *zap.Logger to the Logger interface.
type zapLogger struct {
	z *zap.Logger
}

// NewZapLogger wraps z as a Logger. Pass zap.NewProduction() or
// zap.NewDevelopment() (or any configured *zap.Logger) from the caller;
// this package never constructs its own zap config so callers keep
// control of sinks, sampling, and encoding.
func NewZapLogger(z *zap.Logger) Logger {
	return &zapLogger{z: z}
}

// Trace maps to zap's Debug level with a distinguishing field, since
// zap has no lower level of its own.
func (l *zapLogger) Trace(msg string, fields ...Field) {
	l.z.Debug(msg, append(toZapFields(fields), zap.Bool("trace", true))...)
}

func (l *zapLogger) Debug(msg string, fields ...Field) { l.z.Debug(msg, toZapFields(fields)...) }
func (l *zapLogger) Info(msg string, fields ...Field)  { l.z.Info(msg, toZapFields(fields)...) }
func (l *zapLogger) Warn(msg string, fields ...Field)  { l.z.Warn(msg, toZapFields(fields)...) }
func (l *zapLogger) Error(msg string, fields ...Field) { l.z.Error(msg, toZapFields(fields)...) }

func (l *zapLogger) With(fields ...Field) Logger {
	return &zapLogger{z: l.z.With(toZapFields(fields)...)}
}

func toZapFields(fields []Field) []zap.Field {
	out := make([]zap.Field, len(fields))
	for i, f := range fields {
		out[i] = zap.Any(f.Key, f.Value)
	}
	return out
}
