package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestBuild(t *testing.T) {
	testCases := []struct {
		name  string
		debug bool
		json  bool
	}{
		{"Production Console", false, false},
		{"Production JSON", false, true},
		{"Debug Console", true, false},
		{"Debug JSON", true, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			l, err := Build(tc.debug, tc.json)
			require.NoError(t, err)
			require.NotNil(t, l)
			assert.Equal(t, tc.debug, l.Core().Enabled(zapcore.DebugLevel))
		})
	}
}

func TestLogDefaultsToNop(t *testing.T) {
	assert.NotNil(t, Log)
}
