package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// DevelopmentConfig returns a logging configuration with reasonable
// defaults for running the bridge interactively. Time is encoded in
// ISO8601 format and level is encoded in capital letters.
func DevelopmentConfig(level zapcore.Level) func(*zap.Config) {
	return func(config *zap.Config) {
		config.Level = zap.NewAtomicLevelAt(level)
		config.Development = true
		config.DisableCaller = false
		config.DisableStacktrace = false
		config.Encoding = "console"
		config.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		config.EncoderConfig.EncodeDuration = zapcore.StringDurationEncoder
	}
}

// ProductionConfig returns a JSON logging configuration for deployed
// environments.
func ProductionConfig(level zapcore.Level) func(*zap.Config) {
	return func(config *zap.Config) {
		config.Level = zap.NewAtomicLevelAt(level)
		config.Development = false
		config.Encoding = "json"
		config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
}
