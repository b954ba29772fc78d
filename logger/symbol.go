package logger

import "go.uber.org/zap"

// Segment symbols tag log lines by subsystem so they can be filtered
// without parsing messages.
const (
	SymPulse      = "꩜" // scheduler ticks and dispatch
	SymPulseOpen  = "✿" // startup and recovery
	SymPulseClose = "❀" // graceful shutdown
	SymDB         = "⊔" // storage
	SymCircuit    = "⏚" // transport circuit transitions
	SymResolve    = "⌚" // temporal resolution
	SymAM         = "≡" // configuration
)

// AddPulseSymbol wraps a logger with the Pulse symbol
func AddPulseSymbol(l *zap.SugaredLogger) *zap.SugaredLogger {
	return l.With(FieldSymbol, SymPulse)
}

// AddPulseOpenSymbol wraps a logger with the PulseOpen symbol
func AddPulseOpenSymbol(l *zap.SugaredLogger) *zap.SugaredLogger {
	return l.With(FieldSymbol, SymPulseOpen)
}

// AddPulseCloseSymbol wraps a logger with the PulseClose symbol
func AddPulseCloseSymbol(l *zap.SugaredLogger) *zap.SugaredLogger {
	return l.With(FieldSymbol, SymPulseClose)
}

// AddDBSymbol wraps a logger with the DB symbol
func AddDBSymbol(l *zap.SugaredLogger) *zap.SugaredLogger {
	return l.With(FieldSymbol, SymDB)
}

// AddCircuitSymbol wraps a logger with the circuit symbol
func AddCircuitSymbol(l *zap.SugaredLogger) *zap.SugaredLogger {
	return l.With(FieldSymbol, SymCircuit)
}

// AddResolveSymbol wraps a logger with the resolve symbol
func AddResolveSymbol(l *zap.SugaredLogger) *zap.SugaredLogger {
	return l.With(FieldSymbol, SymResolve)
}
