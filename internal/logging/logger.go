package logging

import (
	"go.uber.org/zap"
)

// NewLogger builds a production ready structured logger.
func NewLogger() (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "timestamp"
	return cfg.Build()
}

// WithOperation enriches the logger with operation and submission identifiers.
func WithOperation(logger *zap.Logger, operation, kycID string) *zap.Logger {
	fields := []zap.Field{zap.String("operation", operation)}
	if kycID != "" {
		fields = append(fields, zap.String("kyc_id", kycID))
	}
	return logger.With(fields...)
}
