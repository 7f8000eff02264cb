package monitoring

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewZapLogger builds the production zap logger used by the CLI. When debug is
// set the level drops to Debug and Debugf is routed to it as well.
func NewZapLogger(debug bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.DisableStacktrace = true
	if debug {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build zap logger: %w", err)
	}
	return logger, nil
}

// UseZap routes Logf (info) and Debugf (debug) through the given logger.
func UseZap(logger *zap.Logger) {
	if logger == nil {
		SetLogger(nil)
		SetDebugLogger(nil)
		return
	}
	sugar := logger.WithOptions(zap.AddCallerSkip(1)).Sugar()
	SetLogger(sugar.Infof)
	SetDebugLogger(sugar.Debugf)
}
