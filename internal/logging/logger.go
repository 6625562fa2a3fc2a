// Package logging builds the zap loggers shared by every command.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/JakeFAU/boatrace-ingest/internal/race"
)

// New builds a zap.Logger configured for development or production.
func New(development bool) (*zap.Logger, error) {
	if development {
		cfg := zap.NewDevelopmentConfig()
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		logger, err := cfg.Build()
		if err != nil {
			return nil, fmt.Errorf("build dev logger: %w", err)
		}
		return logger, nil
	}
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build prod logger: %w", err)
	}
	return logger, nil
}

// RaceFields returns the structured fields identifying a race.
func RaceFields(key race.Key) []zap.Field {
	return []zap.Field{
		zap.String("venue", key.Venue),
		zap.String("date", key.Date),
		zap.Int("race_no", key.RaceNo),
	}
}

// ForRace returns a child logger tagged with the race key.
func ForRace(logger *zap.Logger, key race.Key) *zap.Logger {
	return logger.With(RaceFields(key)...)
}

// Warnings logs every field warning of a race at Warn level.
func Warnings(logger *zap.Logger, warnings []race.FieldWarning) {
	for _, w := range warnings {
		logger.Warn("field warning",
			zap.String("kind", string(w.Kind)),
			zap.Int("lane", w.Lane),
			zap.String("field", w.Field),
			zap.String("text", w.Text),
		)
	}
}
