// Package main is the entry point for the doni service.
package main

import (
	"context"
	"log/slog"
	"os"
	"strings"

	"github.com/go-logr/logr"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel/trace"
	ctrl "sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/chameleoncloud/doni/cmd/doni/app"
	"github.com/chameleoncloud/doni/internal/config"
)

var logLevels = map[string]slog.Level{
	"":        slog.LevelInfo,
	"debug":   slog.LevelDebug,
	"info":    slog.LevelInfo,
	"warn":    slog.LevelWarn,
	"warning": slog.LevelWarn,
	"error":   slog.LevelError,
}

// logLevel reads DONI_LOG_LEVEL, or LOG_LEVEL when that is unset.
func logLevel() slog.Level {
	v := viper.New()
	v.SetEnvPrefix(config.EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	name := v.GetString("log_level")
	if name == "" {
		name = os.Getenv("LOG_LEVEL")
	}
	level, ok := logLevels[strings.ToLower(name)]
	if !ok {
		slog.Warn("Unknown log level, defaulting to info", "log_level", name)
		return slog.LevelInfo
	}
	return level
}

// spanHandler adds trace_id and span_id to records logged inside a span.
type spanHandler struct {
	slog.Handler
}

func (h spanHandler) Handle(ctx context.Context, r slog.Record) error {
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		r.AddAttrs(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return h.Handler.Handle(ctx, r)
}

func (h spanHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return spanHandler{h.Handler.WithAttrs(attrs)}
}

func (h spanHandler) WithGroup(name string) slog.Handler {
	return spanHandler{h.Handler.WithGroup(name)}
}

func main() {
	// stdout is reserved for command output such as exports
	handler := spanHandler{slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel()})}
	slog.SetDefault(slog.New(handler))
	ctrl.SetLogger(logr.FromSlogHandler(handler))

	if err := app.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
