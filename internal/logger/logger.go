package logger

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/edgewatch/edgewatch/internal/config"
)

// Logger wraps the sugared zap logger with an OpenTelemetry bridge so log
// lines correlate with any active span. It is constructed once in the root
// command and passed explicitly into every parser, engine, and manager;
// there is no package-level logging state.
type Logger struct {
	*zap.SugaredLogger
	tracer     trace.Tracer
	baseLogger *zap.Logger
}

func New(cfg config.LoggerConfig) (*Logger, error) {
	var zapConfig zap.Config

	if cfg.Format == "console" {
		zapConfig = zap.NewDevelopmentConfig()
		zapConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zapConfig.EncoderConfig.TimeKey = "timestamp"
		zapConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	} else {
		zapConfig = zap.NewProductionConfig()
		zapConfig.EncoderConfig.TimeKey = "timestamp"
		zapConfig.EncoderConfig.EncodeTime = zapcore.RFC3339TimeEncoder
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	zapConfig.Level = zap.NewAtomicLevelAt(level)

	if len(cfg.OutputPaths) > 0 {
		zapConfig.OutputPaths = cfg.OutputPaths
	}

	zapConfig.InitialFields = map[string]interface{}{
		"service": "edgewatch",
	}

	baseLogger, err := zapConfig.Build(
		zap.AddCallerSkip(1),
		zap.AddStacktrace(zapcore.ErrorLevel),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	otelCore := otelzap.NewCore("edgewatch",
		otelzap.WithAttributes(
			attribute.String("service", "edgewatch"),
		),
	)

	core := zapcore.NewTee(baseLogger.Core(), otelCore)
	enhanced := zap.New(core, zap.AddCallerSkip(1), zap.AddStacktrace(zapcore.ErrorLevel))

	return &Logger{
		SugaredLogger: enhanced.Sugar(),
		tracer:        otel.Tracer("edgewatch/logger"),
		baseLogger:    enhanced,
	}, nil
}

// NewNop returns a logger that discards everything. Test helper.
func NewNop() *Logger {
	nop := zap.NewNop()
	return &Logger{
		SugaredLogger: nop.Sugar(),
		tracer:        otel.Tracer("edgewatch/logger"),
		baseLogger:    nop,
	}
}

func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{
		SugaredLogger: l.With("component", component),
		tracer:        l.tracer,
		baseLogger:    l.baseLogger,
	}
}

func (l *Logger) WithFields(fields ...interface{}) *Logger {
	return &Logger{
		SugaredLogger: l.With(fields...),
		tracer:        l.tracer,
		baseLogger:    l.baseLogger,
	}
}

// WithContext attaches trace/span ids when a span is recording.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		spanCtx := span.SpanContext()
		return &Logger{
			SugaredLogger: l.With(
				"trace_id", spanCtx.TraceID().String(),
				"span_id", spanCtx.SpanID().String(),
			),
			tracer:     l.tracer,
			baseLogger: l.baseLogger,
		}
	}
	return l
}

// LogError records err against the named operation.
func (l *Logger) LogError(ctx context.Context, err error, operation string, fields ...interface{}) {
	all := append([]interface{}{"operation", operation, "error", err}, fields...)
	l.WithContext(ctx).Errorw("operation failed", all...)
}

// LogDuration records the elapsed time of the named operation.
func (l *Logger) LogDuration(ctx context.Context, operation string, start time.Time, fields ...interface{}) {
	all := append([]interface{}{
		"operation", operation,
		"duration_ms", time.Since(start).Milliseconds(),
	}, fields...)
	l.WithContext(ctx).Debugw("operation finished", all...)
}

func (l *Logger) Sync() error {
	return l.baseLogger.Sync()
}
