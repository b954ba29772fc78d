package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestInitialize(t *testing.T) {
	tests := []struct {
		name       string
		jsonOutput bool
	}{
		{name: "JSON output mode", jsonOutput: true},
		{name: "Console output mode", jsonOutput: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prev := Logger
			defer func() { Logger = prev }()

			require.NoError(t, Initialize(tt.jsonOutput, VerbosityInfo))
			require.NotNil(t, Logger)
			assert.Equal(t, tt.jsonOutput, JSONOutput)
			Cleanup()
		})
	}
}

func TestInitializeRespectsEnvLevel(t *testing.T) {
	t.Setenv("YOMAN_LOG_LEVEL", "debug")
	prev := Logger
	defer func() { Logger = prev }()

	require.NoError(t, Initialize(true, VerbosityUser))
	assert.True(t, Logger.Desugar().Core().Enabled(zapcore.DebugLevel))
}

func TestVerbosityToLevel(t *testing.T) {
	assert.Equal(t, zapcore.WarnLevel, VerbosityToLevel(0))
	assert.Equal(t, zapcore.InfoLevel, VerbosityToLevel(1))
	assert.Equal(t, zapcore.DebugLevel, VerbosityToLevel(2))
	assert.Equal(t, zapcore.DebugLevel, VerbosityToLevel(7))
	assert.Equal(t, "Info (-v)", LevelName(1))
}

func TestFromContextCarriesFields(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	base := zap.New(core).Sugar()

	ctx := WithJobID(context.Background(), "job-1")
	ctx = WithUserID(ctx, "972501234567")
	FromContext(ctx, base).Infow("dispatched")

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "job-1", fields[FieldJobID])
	assert.Equal(t, "972501234567", fields[FieldUserID])
	assert.NotContains(t, fields, FieldRequestID)
}

func TestSymbolWrappers(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	base := zap.New(core).Sugar()

	AddCircuitSymbol(base).Infow("circuit opened")
	AddPulseSymbol(base).Infow("tick")

	require.Equal(t, 2, logs.Len())
	assert.Equal(t, SymCircuit, logs.All()[0].ContextMap()[FieldSymbol])
	assert.Equal(t, SymPulse, logs.All()[1].ContextMap()[FieldSymbol])
}

func TestPackageFunctionsWithNopLogger(t *testing.T) {
	prev := Logger
	defer func() { Logger = prev }()
	Logger = zap.NewNop().Sugar()

	Infow("test", "key", "value")
	Warnw("test", "key", "value")
	Errorw("test", "key", "value")
	Debugw("test", "key", "value")
	assert.NotNil(t, ComponentLogger("pulse"))
}
