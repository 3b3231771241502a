// Package log holds structured diagnostic helpers for the replication
// engine, built on zerolog event builders.
package log

import (
	"github.com/rs/zerolog"

	"github.com/driftline/netsync/replica"
	"github.com/driftline/netsync/types"
)

func loadEntityIntoArrayLogger(e replica.EntityInfo, arrayLogger *zerolog.Array) *zerolog.Array {
	dictLogger := zerolog.Dict()
	dictLogger = dictLogger.Int("entity_id", int(e.ID))
	dictLogger = dictLogger.Int("generation", int(e.Generation))
	dictLogger = dictLogger.Bool("enabled", e.Enabled)
	dictLogger = dictLogger.Strs("components", e.Components)
	return arrayLogger.Dict(dictLogger)
}

// World logs every tracked entity with its generation and component set.
func World(logger *zerolog.Logger, info replica.WorldInfo, level zerolog.Level) {
	zeroLoggerEvent := logger.WithLevel(level)
	zeroLoggerEvent.Uint64("state_id", uint64(info.StateID))
	zeroLoggerEvent.Int("total_entities", len(info.Entities))
	arrayLogger := zerolog.Arr()
	for _, e := range info.Entities {
		arrayLogger = loadEntityIntoArrayLogger(e, arrayLogger)
	}
	zeroLoggerEvent.Array("entities", arrayLogger).Send()
}

// Flush logs the outcome of one delta snapshot flush.
func Flush(logger *zerolog.Logger, level zerolog.Level, tick types.Tick, reliableBytes, unreliableBytes int) {
	logger.WithLevel(level).
		Uint64("tick", uint64(tick)).
		Int("reliable_bytes", reliableBytes).
		Int("unreliable_bytes", unreliableBytes).
		Send()
}

// CreateSystemLogger creates a sub logger with the entry {"system": systemName}.
func CreateSystemLogger(logger *zerolog.Logger, systemName string) *zerolog.Logger {
	newLogger := logger.With().Str("system", systemName).Logger()
	return &newLogger
}

// CreateSessionLogger creates a sub logger tagged with a peer session id.
// Using a single id you can follow one connection through the logs.
func CreateSessionLogger(logger *zerolog.Logger, sessionID string) *zerolog.Logger {
	newLogger := logger.With().Str("session_id", sessionID).Logger()
	return &newLogger
}
