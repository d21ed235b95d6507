package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newEnabledLoggerProvider(t *testing.T) *LoggerProvider {
	ctx := context.Background()
	// the exporter buffers until a collector is reachable
	lp, err := NewLoggerProvider(ctx, LogsConfig{
		Enabled:           true,
		CollectorEndpoint: "localhost:19999",
		ServiceName:       "afp-integration-test",
		Insecure:          true,
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = lp.Shutdown(ctx) })
	return lp
}

func TestNewLoggerProvider_Disabled(t *testing.T) {
	ctx := context.Background()

	provider, err := NewLoggerProvider(ctx, LogsConfig{Enabled: false}, nil)
	require.NoError(t, err)
	assert.False(t, provider.IsEnabled())
	assert.Equal(t, TracerName, provider.GetConfig().ServiceName)

	assert.NoError(t, provider.ForceFlush(ctx))
	assert.NoError(t, provider.Shutdown(ctx))
}

func TestNewLoggerProvider_EnabledWithoutCollector(t *testing.T) {
	provider := newEnabledLoggerProvider(t)

	assert.True(t, provider.IsEnabled())
	assert.Equal(t, "afp-integration-test", provider.GetConfig().ServiceName)
}

func TestNewZapOTELCore(t *testing.T) {
	disabled, err := NewLoggerProvider(context.Background(), LogsConfig{}, nil)
	require.NoError(t, err)
	enabled := newEnabledLoggerProvider(t)

	tests := []struct {
		name         string
		provider     *LoggerProvider
		level        zapcore.Level
		wantFiltered bool
		enabledAt    []zapcore.Level
		disabledAt   []zapcore.Level
	}{
		{
			name:       "nil provider",
			level:      zapcore.InfoLevel,
			disabledAt: []zapcore.Level{zapcore.InfoLevel, zapcore.ErrorLevel},
		},
		{
			name:       "disabled provider",
			provider:   disabled,
			level:      zapcore.InfoLevel,
			disabledAt: []zapcore.Level{zapcore.InfoLevel},
		},
		{
			name:      "debug level is unfiltered",
			provider:  enabled,
			level:     zapcore.DebugLevel,
			enabledAt: []zapcore.Level{zapcore.DebugLevel, zapcore.InfoLevel, zapcore.ErrorLevel},
		},
		{
			name:         "warn level filters below warn",
			provider:     enabled,
			level:        zapcore.WarnLevel,
			wantFiltered: true,
			enabledAt:    []zapcore.Level{zapcore.WarnLevel, zapcore.ErrorLevel},
			disabledAt:   []zapcore.Level{zapcore.DebugLevel, zapcore.InfoLevel},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			core := NewZapOTELCore(ZapBridgeConfig{
				ServiceName:    "afp-integration-test",
				LoggerProvider: tt.provider,
				Level:          tt.level,
			})
			require.NotNil(t, core)

			_, filtered := core.(*levelFilterCore)
			assert.Equal(t, tt.wantFiltered, filtered)
			for _, lvl := range tt.enabledAt {
				assert.True(t, core.Enabled(lvl), lvl.String())
			}
			for _, lvl := range tt.disabledAt {
				assert.False(t, core.Enabled(lvl), lvl.String())
			}
		})
	}
}

func TestLevelFilterCore_With(t *testing.T) {
	observed, logs := observer.New(zapcore.DebugLevel)
	filtered := &levelFilterCore{Core: observed, minLevel: zapcore.WarnLevel}

	child := filtered.With([]zapcore.Field{zap.String("run_id", "r-1")})
	lf, ok := child.(*levelFilterCore)
	require.True(t, ok)
	assert.Equal(t, zapcore.WarnLevel, lf.minLevel)

	log := zap.New(child)
	log.Info("dropped")
	log.Warn("kept")

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "kept", entries[0].Message)
	assert.Equal(t, "r-1", entries[0].ContextMap()["run_id"])
}

func TestTeeLogger(t *testing.T) {
	observed, logs := observer.New(zapcore.InfoLevel)
	base := zap.New(observed)

	t.Run("disabled returns base", func(t *testing.T) {
		assert.Same(t, base, TeeLogger(base, nil, zapcore.InfoLevel))
	})

	t.Run("enabled keeps writing to base", func(t *testing.T) {
		tee := TeeLogger(base, newEnabledLoggerProvider(t), zapcore.InfoLevel)
		require.NotSame(t, base, tee)

		tee.Info("import run finished", zap.String("status", "succeeded"))
		require.Equal(t, 1, logs.FilterMessage("import run finished").Len())
	})
}
